package realtime

import (
	"context"
	"fmt"
	"sync"

	"github.com/redis/go-redis/v9"
	"github.com/rs/zerolog"

	"github.com/campusdesk/portal/internal/config"
)

// FromConfig builds the hub selected by the realtime backend. The returned
// MemoryHub is the local delivery side, shared by both backends.
func FromConfig(ctx context.Context, cfg *config.Config, logger zerolog.Logger) (Hub, *MemoryHub, error) {
	local := NewMemoryHub(logger)

	switch cfg.Realtime.Backend {
	case "", "memory":
		return local, local, nil
	case "redis":
		client := redis.NewClient(&redis.Options{Addr: cfg.Redis.Address})
		if err := client.Ping(ctx).Err(); err != nil {
			_ = client.Close()
			return nil, nil, fmt.Errorf("failed to connect to redis for realtime: %w", err)
		}
		hub, err := NewRedisHub(ctx, client, DefaultRedisPrefix, local, logger)
		if err != nil {
			_ = client.Close()
			return nil, nil, err
		}
		return &ownedRedisHub{RedisHub: hub, client: client}, local, nil
	default:
		return nil, nil, fmt.Errorf("unknown realtime backend %q", cfg.Realtime.Backend)
	}
}

// RequireShared rejects backends whose changes stay inside this process.
// Processes that only write, like the worker, need it so inserts reach the
// server's subscribers.
func RequireShared(cfg *config.Config) error {
	if cfg.Realtime.Backend != "redis" {
		return fmt.Errorf("realtime backend %q does not reach other processes, set REALTIME_BACKEND=redis", cfg.Realtime.Backend)
	}
	return nil
}

// ownedRedisHub closes the client it was built with
type ownedRedisHub struct {
	*RedisHub
	client *redis.Client
	once   sync.Once
}

func (h *ownedRedisHub) Close() error {
	var err error
	h.once.Do(func() {
		err = h.RedisHub.Close()
		if cerr := h.client.Close(); err == nil {
			err = cerr
		}
	})
	return err
}
