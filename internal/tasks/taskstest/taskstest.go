// Package taskstest records enqueued tasks in tests.
package taskstest

import (
	"context"
	"errors"
	"sync"

	"github.com/hibiken/asynq"

	"github.com/campusdesk/portal/internal/tasks"
)

// Recorder is an in-memory tasks.Enqueuer
type Recorder struct {
	mu    sync.Mutex
	tasks []*asynq.Task
	Fail  bool
}

func (r *Recorder) EnqueueContext(_ context.Context, task *asynq.Task, _ ...asynq.Option) (*asynq.TaskInfo, error) {
	if r.Fail {
		return nil, errors.New("redis unavailable")
	}
	r.mu.Lock()
	defer r.mu.Unlock()
	r.tasks = append(r.tasks, task)
	return &asynq.TaskInfo{ID: task.Type(), Type: task.Type()}, nil
}

// Types returns the enqueued task types in order
func (r *Recorder) Types() []string {
	r.mu.Lock()
	defer r.mu.Unlock()
	out := make([]string, 0, len(r.tasks))
	for _, t := range r.tasks {
		out = append(out, t.Type())
	}
	return out
}

// Payloads returns the decoded payloads in order
func (r *Recorder) Payloads() []tasks.TaskPayload {
	r.mu.Lock()
	defer r.mu.Unlock()
	out := make([]tasks.TaskPayload, 0, len(r.tasks))
	for _, t := range r.tasks {
		p, _ := tasks.ParseTaskPayload(t)
		out = append(out, p)
	}
	return out
}
