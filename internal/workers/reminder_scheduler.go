package workers

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/hibiken/asynq"
	"github.com/robfig/cron/v3"
	"github.com/rs/zerolog"

	"github.com/campusdesk/portal/internal/calendar"
	"github.com/campusdesk/portal/internal/tasks"
)

// ReminderScheduler enqueues the calendar digest on a cron schedule
type ReminderScheduler struct {
	schedule cron.Schedule
	enqueuer tasks.Enqueuer
	logger   zerolog.Logger
	next     time.Time
}

// NewReminderScheduler parses a standard 5-field cron expression
func NewReminderScheduler(expr string, enqueuer tasks.Enqueuer, logger zerolog.Logger) (*ReminderScheduler, error) {
	schedule, err := cron.ParseStandard(expr)
	if err != nil {
		return nil, fmt.Errorf("invalid reminder schedule %q: %w", expr, err)
	}
	return &ReminderScheduler{
		schedule: schedule,
		enqueuer: enqueuer,
		logger:   logger.With().Str("component", "reminder_scheduler").Logger(),
	}, nil
}

// Run checks every minute until ctx is done
func (s *ReminderScheduler) Run(ctx context.Context) {
	ticker := time.NewTicker(1 * time.Minute)
	defer ticker.Stop()

	s.Tick(ctx, time.Now())
	for {
		select {
		case <-ctx.Done():
			return
		case now := <-ticker.C:
			s.Tick(ctx, now)
		}
	}
}

// Tick enqueues the digest when the schedule is due at now. It reports
// whether a digest was enqueued.
func (s *ReminderScheduler) Tick(ctx context.Context, now time.Time) bool {
	if s.next.IsZero() {
		s.next = s.schedule.Next(now)
		s.logger.Info().Time("next_run_at", s.next).Msg("Reminder schedule armed")
		return false
	}
	if now.Before(s.next) {
		return false
	}

	due := s.next
	s.next = s.schedule.Next(now)

	date := due.Format(calendar.DayLayout)
	task, err := tasks.NewCalendarDigestTask(date)
	if err != nil {
		s.logger.Error().Err(err).Msg("Failed to create digest task")
		return false
	}

	// The task id keeps several workers from sending the same day's digest
	_, err = s.enqueuer.EnqueueContext(ctx, task, asynq.TaskID("calendar-digest:"+date), asynq.Retention(24*time.Hour))
	if err != nil && !errors.Is(err, asynq.ErrTaskIDConflict) {
		s.logger.Error().Err(err).Str("date", date).Msg("Failed to enqueue digest task")
		return false
	}

	s.logger.Info().Str("date", date).Time("next_run_at", s.next).Msg("Calendar digest enqueued")
	return true
}
