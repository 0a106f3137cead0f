package workers

import (
	"context"
	"errors"
	"fmt"
	"strings"

	"github.com/hibiken/asynq"
	"github.com/rs/zerolog"
	"gorm.io/gorm"

	"github.com/campusdesk/portal/internal/calendar"
	"github.com/campusdesk/portal/internal/models"
	"github.com/campusdesk/portal/internal/notifications"
	"github.com/campusdesk/portal/internal/routes"
	"github.com/campusdesk/portal/internal/tasks"
)

// Handlers turns queued events into notifications
type Handlers struct {
	db            *gorm.DB
	notifications *notifications.Service
	calendar      *calendar.Service
	logger        zerolog.Logger
}

func NewHandlers(db *gorm.DB, notifications *notifications.Service, calendar *calendar.Service, logger zerolog.Logger) *Handlers {
	return &Handlers{
		db:            db,
		notifications: notifications,
		calendar:      calendar,
		logger:        logger.With().Str("component", "workers").Logger(),
	}
}

// Register wires every handler into mux
func (h *Handlers) Register(mux *asynq.ServeMux) {
	mux.HandleFunc(tasks.TypeNotifyAssignmentCreated, h.HandleAssignmentCreated)
	mux.HandleFunc(tasks.TypeNotifySubmissionEvaluated, h.HandleSubmissionEvaluated)
	mux.HandleFunc(tasks.TypeNotifyQueryResponded, h.HandleQueryResponded)
	mux.HandleFunc(tasks.TypeNotifyActivityReviewed, h.HandleActivityReviewed)
	mux.HandleFunc(tasks.TypeCalendarDigest, h.HandleCalendarDigest)
}

// HandleAssignmentCreated notifies every student of a new assignment
func (h *Handlers) HandleAssignmentCreated(ctx context.Context, t *asynq.Task) error {
	payload, err := tasks.ParseTaskPayload(t)
	if err != nil {
		return fmt.Errorf("failed to parse payload: %w", err)
	}

	var assignment models.Assignment
	if err := h.db.WithContext(ctx).Where("id = ?", payload.AssignmentID).First(&assignment).Error; err != nil {
		return h.missing(err, "assignment", payload.AssignmentID)
	}

	var studentIDs []string
	if err := h.db.WithContext(ctx).Model(&models.User{}).Where("role = ?", models.RoleStudent).Pluck("id", &studentIDs).Error; err != nil {
		return fmt.Errorf("failed to list students: %w", err)
	}

	count, err := h.notifications.NotifyMany(ctx, studentIDs, notifications.Params{
		Title:   "New assignment: " + assignment.Title,
		Message: "Due " + assignment.DueAt.Format("Mon, 02 Jan 2006 15:04 MST"),
		Link:    routes.Assignment(assignment.ID),
	})
	if err != nil {
		return err
	}

	h.logger.Info().Str("assignment_id", assignment.ID).Int("students", count).Msg("Notified students of new assignment")
	return nil
}

// HandleSubmissionEvaluated notifies the student of their marks
func (h *Handlers) HandleSubmissionEvaluated(ctx context.Context, t *asynq.Task) error {
	payload, err := tasks.ParseTaskPayload(t)
	if err != nil {
		return fmt.Errorf("failed to parse payload: %w", err)
	}

	var sub models.Submission
	if err := h.db.WithContext(ctx).Preload("Assignment").Where("id = ?", payload.SubmissionID).First(&sub).Error; err != nil {
		return h.missing(err, "submission", payload.SubmissionID)
	}
	if sub.Status != models.SubmissionEvaluated || sub.Marks == nil {
		h.logger.Warn().Str("submission_id", sub.ID).Msg("Submission is not evaluated, skipping notification")
		return nil
	}

	message := fmt.Sprintf("%d / %d", *sub.Marks, sub.Assignment.MaxMarks)
	if sub.Feedback != "" {
		message += ": " + sub.Feedback
	}
	_, err = h.notifications.Notify(ctx, sub.StudentID, notifications.Params{
		Title:   "Evaluated: " + sub.Assignment.Title,
		Message: message,
		Link:    routes.Assignment(sub.AssignmentID),
	})
	return err
}

// HandleQueryResponded notifies the participant who did not write the reply
func (h *Handlers) HandleQueryResponded(ctx context.Context, t *asynq.Task) error {
	payload, err := tasks.ParseTaskPayload(t)
	if err != nil {
		return fmt.Errorf("failed to parse payload: %w", err)
	}

	var response models.QueryResponse
	if err := h.db.WithContext(ctx).Preload("Author").Where("id = ? AND query_id = ?", payload.ResponseID, payload.QueryID).First(&response).Error; err != nil {
		return h.missing(err, "query response", payload.ResponseID)
	}
	var query models.Query
	if err := h.db.WithContext(ctx).Where("id = ?", payload.QueryID).First(&query).Error; err != nil {
		return h.missing(err, "query", payload.QueryID)
	}

	recipient := query.FacultyID
	if response.AuthorID == query.FacultyID {
		recipient = query.StudentID
	}

	author := "Someone"
	if response.Author != nil {
		author = response.Author.FullName
		if author == "" {
			author = response.Author.Email
		}
	}
	_, err = h.notifications.Notify(ctx, recipient, notifications.Params{
		Title:   "New reply: " + query.Subject,
		Message: author + " replied to your query",
		Link:    routes.Query(query.ID),
	})
	return err
}

// HandleActivityReviewed notifies the student of the review outcome
func (h *Handlers) HandleActivityReviewed(ctx context.Context, t *asynq.Task) error {
	payload, err := tasks.ParseTaskPayload(t)
	if err != nil {
		return fmt.Errorf("failed to parse payload: %w", err)
	}

	var activity models.Activity
	if err := h.db.WithContext(ctx).Where("id = ?", payload.ActivityID).First(&activity).Error; err != nil {
		return h.missing(err, "activity", payload.ActivityID)
	}

	message := "Your activity was not approved"
	if activity.Status == models.ActivityApproved {
		message = fmt.Sprintf("You earned %d points", activity.Points)
	}
	_, err = h.notifications.Notify(ctx, activity.StudentID, notifications.Params{
		Title:   "Activity " + activity.Status + ": " + activity.Title,
		Message: message,
		Link:    routes.Activities,
	})
	return err
}

// HandleCalendarDigest reminds every user of their notes on a day
func (h *Handlers) HandleCalendarDigest(ctx context.Context, t *asynq.Task) error {
	payload, err := tasks.ParseTaskPayload(t)
	if err != nil {
		return fmt.Errorf("failed to parse payload: %w", err)
	}
	day, err := calendar.ParseDay(payload.Date)
	if err != nil {
		return fmt.Errorf("invalid digest date %q: %w", payload.Date, asynq.SkipRetry)
	}

	userIDs, err := h.calendar.UsersWithNotesOn(ctx, payload.Date)
	if err != nil {
		return err
	}

	// A retried task skips users the earlier attempt already reached
	link := routes.Calendar + "?month=" + day.Format(calendar.MonthLayout) + "&day=" + payload.Date
	sent := 0
	for _, userID := range userIDs {
		done, err := h.notifications.Sent(ctx, userID, link)
		if err != nil {
			return err
		}
		if done {
			continue
		}
		titles, err := h.calendar.NoteTitlesOn(ctx, userID, payload.Date)
		if err != nil {
			return err
		}
		if len(titles) == 0 {
			continue
		}
		title := "1 note today"
		if len(titles) > 1 {
			title = fmt.Sprintf("%d notes today", len(titles))
		}
		_, err = h.notifications.Notify(ctx, userID, notifications.Params{
			Title:   title,
			Message: strings.Join(titles, ", "),
			Link:    link,
		})
		if err != nil {
			return err
		}
		sent++
	}

	h.logger.Info().Str("date", payload.Date).Int("users", sent).Msg("Sent calendar digest")
	return nil
}

// missing drops tasks whose record was deleted since enqueue
func (h *Handlers) missing(err error, what, id string) error {
	if errors.Is(err, gorm.ErrRecordNotFound) {
		h.logger.Warn().Str("id", id).Msgf("%s no longer exists, skipping", what)
		return nil
	}
	return fmt.Errorf("failed to load %s: %w", what, err)
}
