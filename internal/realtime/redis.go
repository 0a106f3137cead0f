package realtime

import (
	"context"
	"encoding/json"
	"fmt"
	"strings"
	"sync"

	"github.com/redis/go-redis/v9"
	"github.com/rs/zerolog"
)

// DefaultRedisPrefix namespaces realtime channels in Redis
const DefaultRedisPrefix = "portal:realtime:"

// RedisHub publishes changes on Redis pub/sub so every portal instance sees
// them. Local delivery goes through an embedded MemoryHub fed by a single
// pattern subscription.
type RedisHub struct {
	client *redis.Client
	prefix string
	local  *MemoryHub
	logger zerolog.Logger

	pubsub *redis.PubSub
	cancel context.CancelFunc
	done   chan struct{}
	once   sync.Once
}

// NewRedisHub subscribes to prefix* and starts forwarding into local
func NewRedisHub(ctx context.Context, client *redis.Client, prefix string, local *MemoryHub, logger zerolog.Logger) (*RedisHub, error) {
	if prefix == "" {
		prefix = DefaultRedisPrefix
	}
	pubsub := client.PSubscribe(ctx, prefix+"*")
	// Receive the subscription confirmation so errors surface here
	if _, err := pubsub.Receive(ctx); err != nil {
		_ = pubsub.Close()
		return nil, fmt.Errorf("failed to subscribe to realtime channels: %w", err)
	}

	runCtx, cancel := context.WithCancel(context.Background())
	h := &RedisHub{
		client: client,
		prefix: prefix,
		local:  local,
		logger: logger.With().Str("component", "realtime_redis").Logger(),
		pubsub: pubsub,
		cancel: cancel,
		done:   make(chan struct{}),
	}
	go h.forward(runCtx)
	return h, nil
}

// Publish sends change to the table's Redis channel
func (h *RedisHub) Publish(ctx context.Context, change Change) error {
	payload, err := json.Marshal(change)
	if err != nil {
		return fmt.Errorf("failed to encode change: %w", err)
	}
	if err := h.client.Publish(ctx, h.prefix+change.Table, payload).Err(); err != nil {
		return fmt.Errorf("failed to publish change: %w", err)
	}
	return nil
}

// Subscribe registers a local subscriber
func (h *RedisHub) Subscribe(table string) (<-chan Change, func()) {
	return h.local.Subscribe(table)
}

// Close stops forwarding and closes local subscribers
func (h *RedisHub) Close() error {
	var err error
	h.once.Do(func() {
		h.cancel()
		err = h.pubsub.Close()
		<-h.done
		_ = h.local.Close()
	})
	return err
}

func (h *RedisHub) forward(ctx context.Context) {
	defer close(h.done)

	ch := h.pubsub.Channel()
	for {
		select {
		case <-ctx.Done():
			return
		case msg, ok := <-ch:
			if !ok {
				return
			}
			var change Change
			if err := json.Unmarshal([]byte(msg.Payload), &change); err != nil {
				h.logger.Warn().Err(err).Str("channel", msg.Channel).Msg("Ignoring malformed change")
				continue
			}
			if change.Table == "" {
				change.Table = strings.TrimPrefix(msg.Channel, h.prefix)
			}
			h.local.deliver(change)
		}
	}
}
