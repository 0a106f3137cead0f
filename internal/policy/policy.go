// Package policy holds the row-level read policies every domain query runs
// under, expressed as gorm scopes.
package policy

import (
	"gorm.io/gorm"

	"github.com/campusdesk/portal/internal/models"
)

// Viewer is the caller a policy is evaluated for
type Viewer struct {
	UserID string
	Role   models.Role
}

// Is reports whether the viewer holds one of roles
func (v Viewer) Is(roles ...models.Role) bool {
	if v.UserID == "" {
		return false
	}
	for _, role := range roles {
		if v.Role == role {
			return true
		}
	}
	return false
}

func none(db *gorm.DB) *gorm.DB {
	return db.Where("1 = 0")
}

// Assignments: readable by every signed-in role
func Assignments(v Viewer) func(*gorm.DB) *gorm.DB {
	return func(db *gorm.DB) *gorm.DB {
		if !v.Is(models.Roles...) {
			return none(db)
		}
		return db
	}
}

// Submissions: students see their own, faculty see submissions to
// assignments they created, admins see everything
func Submissions(v Viewer) func(*gorm.DB) *gorm.DB {
	return func(db *gorm.DB) *gorm.DB {
		switch {
		case v.Is(models.RoleAdmin):
			return db
		case v.Is(models.RoleStudent):
			return db.Where("submissions.student_id = ?", v.UserID)
		case v.Is(models.RoleFaculty):
			return db.Where("submissions.assignment_id IN (SELECT id FROM assignments WHERE created_by_id = ?)", v.UserID)
		default:
			return none(db)
		}
	}
}

// Activities: students see their own, reviewers see everything
func Activities(v Viewer) func(*gorm.DB) *gorm.DB {
	return func(db *gorm.DB) *gorm.DB {
		switch {
		case v.Is(models.RoleFaculty, models.RoleAdmin):
			return db
		case v.Is(models.RoleStudent):
			return db.Where("activities.student_id = ?", v.UserID)
		default:
			return none(db)
		}
	}
}

// Queries: students see tickets they opened, faculty see tickets addressed
// to them, admins see everything
func Queries(v Viewer) func(*gorm.DB) *gorm.DB {
	return func(db *gorm.DB) *gorm.DB {
		switch {
		case v.Is(models.RoleAdmin):
			return db
		case v.Is(models.RoleStudent):
			return db.Where("queries.student_id = ?", v.UserID)
		case v.Is(models.RoleFaculty):
			return db.Where("queries.faculty_id = ?", v.UserID)
		default:
			return none(db)
		}
	}
}

// Notifications: owner only
func Notifications(v Viewer) func(*gorm.DB) *gorm.DB {
	return ownedBy("notifications", v)
}

// CalendarNotes: owner only
func CalendarNotes(v Viewer) func(*gorm.DB) *gorm.DB {
	return ownedBy("calendar_notes", v)
}

// ownedBy allows rows whose user_id is the viewer, for any signed-in viewer
// including one whose profile failed to load.
func ownedBy(table string, v Viewer) func(*gorm.DB) *gorm.DB {
	return func(db *gorm.DB) *gorm.DB {
		if v.UserID == "" {
			return none(db)
		}
		return db.Where(table+".user_id = ?", v.UserID)
	}
}
