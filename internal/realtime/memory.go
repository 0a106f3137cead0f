package realtime

import (
	"context"
	"sync"

	"github.com/rs/zerolog"
)

// MemoryHub is an in-process Hub
type MemoryHub struct {
	logger zerolog.Logger

	mu     sync.RWMutex
	subs   map[string]map[int]chan Change
	nextID int
	closed bool

	// OnSubscribersChanged, when set, is called with the table and its new
	// subscriber count.
	OnSubscribersChanged func(table string, count int)
}

// NewMemoryHub creates an empty hub
func NewMemoryHub(logger zerolog.Logger) *MemoryHub {
	return &MemoryHub{
		logger: logger.With().Str("component", "realtime").Logger(),
		subs:   make(map[string]map[int]chan Change),
	}
}

// Publish delivers change to every subscriber of its table without blocking
func (h *MemoryHub) Publish(_ context.Context, change Change) error {
	h.deliver(change)
	return nil
}

func (h *MemoryHub) deliver(change Change) {
	h.mu.RLock()
	defer h.mu.RUnlock()

	for id, ch := range h.subs[change.Table] {
		select {
		case ch <- change:
		default:
			h.logger.Warn().Str("table", change.Table).Int("subscriber", id).Msg("Dropping change for slow subscriber")
		}
	}
}

// Subscribe registers a subscriber for table
func (h *MemoryHub) Subscribe(table string) (<-chan Change, func()) {
	ch := make(chan Change, subscriberBuffer)

	h.mu.Lock()
	if h.closed {
		h.mu.Unlock()
		close(ch)
		return ch, func() {}
	}
	id := h.nextID
	h.nextID++
	if h.subs[table] == nil {
		h.subs[table] = make(map[int]chan Change)
	}
	h.subs[table][id] = ch
	count := len(h.subs[table])
	h.mu.Unlock()
	h.notifyCount(table, count)

	var once sync.Once
	return ch, func() {
		once.Do(func() {
			h.mu.Lock()
			if _, ok := h.subs[table][id]; !ok {
				h.mu.Unlock()
				return
			}
			delete(h.subs[table], id)
			count := len(h.subs[table])
			close(ch)
			h.mu.Unlock()
			h.notifyCount(table, count)
		})
	}
}

// Close closes every subscriber channel
func (h *MemoryHub) Close() error {
	h.mu.Lock()
	defer h.mu.Unlock()
	if h.closed {
		return nil
	}
	h.closed = true
	for table, subs := range h.subs {
		for _, ch := range subs {
			close(ch)
		}
		delete(h.subs, table)
	}
	return nil
}

func (h *MemoryHub) notifyCount(table string, count int) {
	if h.OnSubscribersChanged != nil {
		h.OnSubscribersChanged(table, count)
	}
}
