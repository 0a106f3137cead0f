// Package realtime delivers row insert notifications to subscribers of a
// table, in-process or across instances.
package realtime

import (
	"context"
	"time"
)

// Operations carried by a Change
const (
	OpInsert = "INSERT"
)

// Change is one row event on a table
type Change struct {
	Table  string         `json:"table"`
	Op     string         `json:"op"`
	Record map[string]any `json:"record"`
	At     time.Time      `json:"at"`
}

// Str returns a string column of the record, or ""
func (c Change) Str(column string) string {
	v, _ := c.Record[column].(string)
	return v
}

// Hub fans changes out to subscribers of a table
type Hub interface {
	Publish(ctx context.Context, change Change) error
	// Subscribe returns a channel of changes on table. The returned func
	// closes the channel and must be called exactly once.
	Subscribe(table string) (<-chan Change, func())
	Close() error
}

// subscriberBuffer is the per-subscriber channel depth. Changes published
// while a subscriber's buffer is full are dropped for that subscriber.
const subscriberBuffer = 32
