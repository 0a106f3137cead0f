package routes

import (
	"net/url"

	"github.com/campusdesk/portal/internal/models"
)

const (
	Root             = "/"
	Landing          = "/landing"
	Login            = "/login"
	Register         = "/register"
	Logout           = "/logout"
	AdminDashboard   = "/admin/dashboard"
	FacultyDashboard = "/faculty/dashboard"
	StudentDashboard = "/student/dashboard"
	Assignments      = "/assignments"
	AssignmentCreate = "/faculty/assignments/create"
	Activities       = "/activities"
	Queries          = "/queries"
	Calendar         = "/calendar"
	Profile          = "/profile"
	Notifications    = "/notifications"
	AdminUsers       = "/admin/users"
)

// LoginRedirect is where a freshly signed-in user lands
func LoginRedirect(role models.Role) string {
	switch role {
	case models.RoleAdmin:
		return AdminDashboard
	case models.RoleFaculty:
		return FacultyDashboard
	case models.RoleStudent:
		return StudentDashboard
	default:
		return Landing
	}
}

// Assignment returns the assignment detail route
func Assignment(id string) string {
	return Assignments + "/" + url.PathEscape(id)
}

// AssignmentEvaluate returns the faculty evaluation route
func AssignmentEvaluate(id string) string {
	return "/faculty/assignments/evaluate/" + url.PathEscape(id)
}

// Query returns the query thread route
func Query(id string) string {
	return Queries + "/" + url.PathEscape(id)
}

// AdminUser returns the admin view of one account
func AdminUser(id string) string {
	return AdminUsers + "/" + url.PathEscape(id)
}

// CalendarMonth returns the calendar page for month (YYYY-MM)
func CalendarMonth(month string) string {
	return Calendar + "?month=" + url.QueryEscape(month)
}
