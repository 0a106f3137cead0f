// Package dashboard aggregates the per-role landing dashboards.
package dashboard

import (
	"context"
	"fmt"
	"time"

	"gorm.io/gorm"

	"github.com/campusdesk/portal/internal/activities"
	"github.com/campusdesk/portal/internal/apperr"
	"github.com/campusdesk/portal/internal/assignments"
	"github.com/campusdesk/portal/internal/calendar"
	"github.com/campusdesk/portal/internal/models"
	"github.com/campusdesk/portal/internal/notifications"
	"github.com/campusdesk/portal/internal/policy"
	"github.com/campusdesk/portal/internal/queries"
	"github.com/campusdesk/portal/internal/users"
)

// UpcomingDays is how far ahead the student dashboard lists notes
const UpcomingDays = 7

type Service struct {
	db            *gorm.DB
	assignments   *assignments.Service
	activities    *activities.Service
	queries       *queries.Service
	calendar      *calendar.Service
	notifications *notifications.Service
	users         *users.Service
	now           func() time.Time
}

type Deps struct {
	DB            *gorm.DB
	Assignments   *assignments.Service
	Activities    *activities.Service
	Queries       *queries.Service
	Calendar      *calendar.Service
	Notifications *notifications.Service
	Users         *users.Service
}

type Student struct {
	PendingAssignments  int64                 `json:"pending_assignments"`
	ApprovedPoints      int                   `json:"approved_points"`
	UnreadNotifications int64                 `json:"unread_notifications"`
	UpcomingNotes       []models.CalendarNote `json:"upcoming_notes"`
}

type Faculty struct {
	Assignments         []models.Assignment `json:"assignments"`
	AwaitingEvaluation  int64               `json:"awaiting_evaluation"`
	OpenQueries         int64               `json:"open_queries"`
	PendingActivities   int64               `json:"pending_activities"`
	UnreadNotifications int64               `json:"unread_notifications"`
}

type Admin struct {
	Users             map[models.Role]int64 `json:"users"`
	Assignments       int64                 `json:"assignments"`
	Submissions       int64                 `json:"submissions"`
	Activities        int64                 `json:"activities"`
	PendingActivities int64                 `json:"pending_activities"`
}

func NewService(deps Deps) *Service {
	return &Service{
		db:            deps.DB,
		assignments:   deps.Assignments,
		activities:    deps.Activities,
		queries:       deps.Queries,
		calendar:      deps.Calendar,
		notifications: deps.Notifications,
		users:         deps.Users,
		now:           time.Now,
	}
}

func (s *Service) Student(ctx context.Context, viewer policy.Viewer) (*Student, error) {
	if !viewer.Is(models.RoleStudent) {
		return nil, apperr.Forbidden("student dashboard")
	}
	var out Student
	var err error
	if out.PendingAssignments, err = s.assignments.PendingCount(ctx, viewer); err != nil {
		return nil, err
	}
	if out.ApprovedPoints, err = s.activities.TotalPoints(ctx, viewer, viewer.UserID); err != nil {
		return nil, err
	}
	if out.UnreadNotifications, err = s.notifications.Unread(ctx, viewer); err != nil {
		return nil, err
	}
	if out.UpcomingNotes, err = s.calendar.Upcoming(ctx, viewer, s.now(), UpcomingDays); err != nil {
		return nil, err
	}
	return &out, nil
}

func (s *Service) Faculty(ctx context.Context, viewer policy.Viewer) (*Faculty, error) {
	if !viewer.Is(models.RoleFaculty) {
		return nil, apperr.Forbidden("faculty dashboard")
	}
	var out Faculty
	var err error
	if out.Assignments, err = s.assignments.List(ctx, viewer, assignments.ListFilter{CreatedByID: viewer.UserID}); err != nil {
		return nil, err
	}
	if out.AwaitingEvaluation, err = s.assignments.AwaitingEvaluation(ctx, viewer); err != nil {
		return nil, err
	}
	if out.OpenQueries, err = s.queries.OpenCount(ctx, viewer); err != nil {
		return nil, err
	}
	if out.PendingActivities, err = s.activities.PendingCount(ctx, viewer); err != nil {
		return nil, err
	}
	if out.UnreadNotifications, err = s.notifications.Unread(ctx, viewer); err != nil {
		return nil, err
	}
	return &out, nil
}

func (s *Service) Admin(ctx context.Context, viewer policy.Viewer) (*Admin, error) {
	if !viewer.Is(models.RoleAdmin) {
		return nil, apperr.Forbidden("admin dashboard")
	}
	var out Admin
	var err error
	if out.Users, err = s.users.CountByRole(ctx); err != nil {
		return nil, err
	}
	for _, c := range []struct {
		model any
		dest  *int64
	}{
		{&models.Assignment{}, &out.Assignments},
		{&models.Submission{}, &out.Submissions},
		{&models.Activity{}, &out.Activities},
	} {
		if err := s.db.WithContext(ctx).Model(c.model).Count(c.dest).Error; err != nil {
			return nil, fmt.Errorf("failed to count totals: %w", err)
		}
	}
	if out.PendingActivities, err = s.activities.PendingCount(ctx, viewer); err != nil {
		return nil, err
	}
	return &out, nil
}
