package tasks

import (
	"context"
	"encoding/json"
	"fmt"

	"github.com/hibiken/asynq"
)

// Task type constants
const (
	// Notification fan-out
	TypeNotifyAssignmentCreated   = "notify:assignment_created"
	TypeNotifySubmissionEvaluated = "notify:submission_evaluated"
	TypeNotifyQueryResponded      = "notify:query_responded"
	TypeNotifyActivityReviewed    = "notify:activity_reviewed"

	// Scheduled
	TypeCalendarDigest = "reminder:calendar_digest"
)

// TaskPayload is the common payload for all tasks
type TaskPayload struct {
	AssignmentID string `json:"assignment_id,omitempty"`
	SubmissionID string `json:"submission_id,omitempty"`
	QueryID      string `json:"query_id,omitempty"`
	ResponseID   string `json:"response_id,omitempty"`
	ActivityID   string `json:"activity_id,omitempty"`
	Date         string `json:"date,omitempty"` // YYYY-MM-DD
}

// Enqueuer is satisfied by *asynq.Client
type Enqueuer interface {
	EnqueueContext(ctx context.Context, task *asynq.Task, opts ...asynq.Option) (*asynq.TaskInfo, error)
}

func newTask(taskType string, payload TaskPayload) (*asynq.Task, error) {
	data, err := json.Marshal(payload)
	if err != nil {
		return nil, fmt.Errorf("failed to marshal payload: %w", err)
	}
	return asynq.NewTask(taskType, data), nil
}

// NewAssignmentCreatedTask notifies every student of a new assignment
func NewAssignmentCreatedTask(assignmentID string) (*asynq.Task, error) {
	return newTask(TypeNotifyAssignmentCreated, TaskPayload{AssignmentID: assignmentID})
}

// NewSubmissionEvaluatedTask notifies the student whose submission was graded
func NewSubmissionEvaluatedTask(submissionID string) (*asynq.Task, error) {
	return newTask(TypeNotifySubmissionEvaluated, TaskPayload{SubmissionID: submissionID})
}

// NewQueryRespondedTask notifies the other participant of a query thread
func NewQueryRespondedTask(queryID, responseID string) (*asynq.Task, error) {
	return newTask(TypeNotifyQueryResponded, TaskPayload{QueryID: queryID, ResponseID: responseID})
}

// NewActivityReviewedTask notifies the student whose activity was reviewed
func NewActivityReviewedTask(activityID string) (*asynq.Task, error) {
	return newTask(TypeNotifyActivityReviewed, TaskPayload{ActivityID: activityID})
}

// NewCalendarDigestTask sends the day's note digest for date
func NewCalendarDigestTask(date string) (*asynq.Task, error) {
	return newTask(TypeCalendarDigest, TaskPayload{Date: date})
}

// ParseTaskPayload parses task payload from Asynq task
func ParseTaskPayload(task *asynq.Task) (TaskPayload, error) {
	var payload TaskPayload
	if err := json.Unmarshal(task.Payload(), &payload); err != nil {
		return payload, fmt.Errorf("failed to unmarshal payload: %w", err)
	}
	return payload, nil
}
