package tasks

import (
	"context"

	"github.com/hibiken/asynq"
	"github.com/rs/zerolog"
)

// Dispatcher enqueues follow-up tasks on behalf of a request. Failures are
// logged and never returned; a nil Dispatcher or Enqueuer drops tasks.
type Dispatcher struct {
	enqueuer Enqueuer
	logger   zerolog.Logger
}

// NewDispatcher wraps enqueuer
func NewDispatcher(enqueuer Enqueuer, logger zerolog.Logger) *Dispatcher {
	return &Dispatcher{
		enqueuer: enqueuer,
		logger:   logger.With().Str("component", "dispatcher").Logger(),
	}
}

func (d *Dispatcher) dispatch(ctx context.Context, task *asynq.Task, err error) {
	if d == nil || d.enqueuer == nil {
		return
	}
	if err != nil {
		d.logger.Error().Err(err).Msg("Failed to build task")
		return
	}
	// Enqueue outlives the request that triggered it
	info, err := d.enqueuer.EnqueueContext(context.WithoutCancel(ctx), task, asynq.MaxRetry(5))
	if err != nil {
		d.logger.Error().Err(err).Str("type", task.Type()).Msg("Failed to enqueue task")
		return
	}
	d.logger.Debug().Str("type", task.Type()).Str("task_id", info.ID).Msg("Enqueued task")
}

func (d *Dispatcher) AssignmentCreated(ctx context.Context, assignmentID string) {
	task, err := NewAssignmentCreatedTask(assignmentID)
	d.dispatch(ctx, task, err)
}

func (d *Dispatcher) SubmissionEvaluated(ctx context.Context, submissionID string) {
	task, err := NewSubmissionEvaluatedTask(submissionID)
	d.dispatch(ctx, task, err)
}

func (d *Dispatcher) QueryResponded(ctx context.Context, queryID, responseID string) {
	task, err := NewQueryRespondedTask(queryID, responseID)
	d.dispatch(ctx, task, err)
}

func (d *Dispatcher) ActivityReviewed(ctx context.Context, activityID string) {
	task, err := NewActivityReviewedTask(activityID)
	d.dispatch(ctx, task, err)
}
