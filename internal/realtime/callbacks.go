package realtime

import (
	"context"
	"reflect"
	"sync"
	"time"

	"github.com/rs/zerolog"
	"gorm.io/gorm"
	"gorm.io/gorm/schema"
)

const callbackName = "realtime:publish_insert"

// RegisterCallbacks publishes an insert Change to hub for every row created
// in one of tables. Columns tagged json:"-" are left out of the record.
// Inserts inside a caller's transaction are published at insert time unless
// the context comes from Hold.
func RegisterCallbacks(db *gorm.DB, hub Hub, logger zerolog.Logger, tables ...string) error {
	watched := make(map[string]bool, len(tables))
	for _, table := range tables {
		watched[table] = true
	}
	logger = logger.With().Str("component", "realtime_callbacks").Logger()

	publish := func(ctx context.Context, change Change) {
		if err := hub.Publish(ctx, change); err != nil {
			logger.Error().Err(err).Str("table", change.Table).Msg("Failed to publish insert")
		}
	}

	return db.Callback().Create().
		After("gorm:commit_or_rollback_transaction").
		Register(callbackName, func(tx *gorm.DB) {
			if tx.Error != nil || tx.Statement.Schema == nil || !watched[tx.Statement.Table] {
				return
			}
			ctx := tx.Statement.Context
			h := heldFrom(ctx)
			if !inCallerTransaction(tx) {
				h = nil
			}
			for _, record := range records(tx) {
				change := Change{Table: tx.Statement.Table, Op: OpInsert, Record: record, At: time.Now()}
				if h != nil {
					h.add(change, publish)
					continue
				}
				publish(ctx, change)
			}
		})
}

// inCallerTransaction reports whether the statement still runs on a
// transaction after gorm's own commit step, i.e. one the caller opened
func inCallerTransaction(tx *gorm.DB) bool {
	_, ok := tx.Statement.ConnPool.(gorm.TxCommitter)
	return ok
}

type heldKey struct{}

type held struct {
	mu      sync.Mutex
	pending []func(context.Context)
}

func (h *held) add(change Change, publish func(context.Context, Change)) {
	h.mu.Lock()
	defer h.mu.Unlock()
	h.pending = append(h.pending, func(ctx context.Context) { publish(ctx, change) })
}

func heldFrom(ctx context.Context) *held {
	if ctx == nil {
		return nil
	}
	h, _ := ctx.Value(heldKey{}).(*held)
	return h
}

// Hold returns a context under which inserts made inside a caller's
// transaction are kept back, and a release func that publishes them. Call
// release once the transaction has committed and drop it on rollback.
func Hold(ctx context.Context) (context.Context, func(context.Context)) {
	h := &held{}
	release := func(ctx context.Context) {
		h.mu.Lock()
		pending := h.pending
		h.pending = nil
		h.mu.Unlock()
		for _, publish := range pending {
			publish(ctx)
		}
	}
	return context.WithValue(ctx, heldKey{}, h), release
}

func records(tx *gorm.DB) []map[string]any {
	stmt := tx.Statement
	value := stmt.ReflectValue

	switch value.Kind() {
	case reflect.Slice, reflect.Array:
		out := make([]map[string]any, 0, value.Len())
		for i := 0; i < value.Len(); i++ {
			out = append(out, record(tx, stmt.Schema, reflect.Indirect(value.Index(i))))
		}
		return out
	case reflect.Struct:
		return []map[string]any{record(tx, stmt.Schema, value)}
	default:
		return nil
	}
}

func record(tx *gorm.DB, s *schema.Schema, value reflect.Value) map[string]any {
	out := make(map[string]any, len(s.Fields))
	for _, field := range s.Fields {
		if field.DBName == "" || field.Tag.Get("json") == "-" {
			continue
		}
		out[field.DBName], _ = field.ValueOf(tx.Statement.Context, value)
	}
	return out
}
