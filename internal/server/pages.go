package server

import (
	"fmt"
	"net/http"

	"github.com/gin-gonic/gin"

	"github.com/campusdesk/portal/internal/session"
)

// pageHandlers maps a request method to the handler serving it for one page
type pageHandlers map[string]gin.HandlerFunc

func (p pageHandlers) handler(method string) (gin.HandlerFunc, bool) {
	if h, ok := p[method]; ok {
		return h, true
	}
	if method == http.MethodHead {
		h, ok := p[http.MethodGet]
		return h, ok
	}
	return nil, false
}

// pageTable binds every page named in the route table to its handlers
func (s *Server) pageTable() map[string]pageHandlers {
	return map[string]pageHandlers{
		"landing":  {http.MethodGet: s.landingPage},
		"login":    {http.MethodGet: s.loginPage, http.MethodPost: s.loginSubmit},
		"register": {http.MethodGet: s.registerPage, http.MethodPost: s.registerSubmit},
		"logout":   {http.MethodGet: s.logout, http.MethodPost: s.logout},

		"admin_dashboard":   {http.MethodGet: s.adminDashboard},
		"faculty_dashboard": {http.MethodGet: s.facultyDashboard},
		"student_dashboard": {http.MethodGet: s.studentDashboard},

		"assignments":         {http.MethodGet: s.listAssignments},
		"assignment":          {http.MethodGet: s.getAssignment},
		"assignment_submit":   {http.MethodGet: s.getAssignment, http.MethodPost: s.submitAssignment},
		"assignment_create":   {http.MethodGet: s.assignmentForm, http.MethodPost: s.createAssignment},
		"assignment_evaluate": {http.MethodGet: s.listSubmissions, http.MethodPost: s.evaluateSubmission},

		"activities":      {http.MethodGet: s.listActivities, http.MethodPost: s.logActivity},
		"activity_review": {http.MethodPost: s.reviewActivity},

		"queries":       {http.MethodGet: s.listQueries, http.MethodPost: s.openQuery},
		"query":         {http.MethodGet: s.getQuery},
		"query_respond": {http.MethodPost: s.respondToQuery},
		"query_close":   {http.MethodPost: s.closeQuery},

		"calendar":      {http.MethodGet: s.calendarMonth, http.MethodPost: s.addCalendarNote},
		"calendar_note": {http.MethodDelete: s.deleteCalendarNote, http.MethodPost: s.deleteCalendarNote},

		"profile": {http.MethodGet: s.profilePage, http.MethodPost: s.updateProfile},

		"notifications":        {http.MethodGet: s.listNotifications, http.MethodPost: s.markAllNotificationsRead},
		"notifications_stream": {http.MethodGet: s.notificationStream},
		"notification_read":    {http.MethodPost: s.markNotificationRead},

		"admin_users": {http.MethodGet: s.listUsers, http.MethodPost: s.createUser},
		"admin_user":  {http.MethodGet: s.getUser, http.MethodPost: s.changeUserRole, http.MethodDelete: s.deleteUser},
	}
}

// registerPages mounts every route table path once. The gate picks the
// page per request, so one gin route serves a path in both subtrees.
func (s *Server) registerPages() error {
	s.pages = s.pageTable()

	mounted := make(map[string]bool)
	for _, route := range s.routes.Routes() {
		if _, ok := s.pages[route.Page]; !ok {
			return fmt.Errorf("route %s: no handler for page %q", route.Path, route.Page)
		}
		if mounted[route.Path] {
			continue
		}
		mounted[route.Path] = true
		s.router.Any(route.Path, s.sessionMiddleware(), s.gate())
	}
	return nil
}

// pagePayload is the JSON rendering of a page
type pagePayload struct {
	Page    string            `json:"page"`
	Params  map[string]string `json:"params,omitempty"`
	Session session.State     `json:"session"`
	Data    any               `json:"data,omitempty"`
}

func (s *Server) render(c *gin.Context, data any) {
	decision := decisionFrom(c)
	c.JSON(http.StatusOK, pagePayload{
		Page:    decision.Page,
		Params:  decision.Params,
		Session: stateFrom(c),
		Data:    data,
	})
}

// param reads a path parameter captured by the route table match
func param(c *gin.Context, name string) string {
	if v := decisionFrom(c).Params[name]; v != "" {
		return v
	}
	return c.Param(name)
}
