package realtime

import (
	"context"
	"encoding/json"
	"fmt"
	"time"

	"github.com/lib/pq"
	"github.com/rs/zerolog"
)

// PGListener forwards Postgres NOTIFY payloads into a hub. Each payload is a
// JSON Change, typically emitted by a row trigger calling pg_notify.
type PGListener struct {
	listener *pq.Listener
	hub      Hub
	channel  string
	logger   zerolog.Logger
}

// NewPGListener connects to Postgres and listens on channel
func NewPGListener(connectionString, channel string, hub Hub, logger zerolog.Logger) (*PGListener, error) {
	logger = logger.With().Str("component", "realtime_pg").Str("channel", channel).Logger()

	listener := pq.NewListener(connectionString, 2*time.Second, time.Minute, func(ev pq.ListenerEventType, err error) {
		if err != nil {
			logger.Warn().Err(err).Int("event", int(ev)).Msg("Postgres listener event")
		}
	})
	if err := listener.Listen(channel); err != nil {
		_ = listener.Close()
		return nil, fmt.Errorf("failed to listen on %s: %w", channel, err)
	}

	return &PGListener{listener: listener, hub: hub, channel: channel, logger: logger}, nil
}

// Run forwards notifications until ctx is done
func (l *PGListener) Run(ctx context.Context) error {
	defer l.listener.Close()

	l.logger.Info().Msg("Listening for database changes")
	for {
		select {
		case <-ctx.Done():
			return nil
		case n := <-l.listener.Notify:
			// nil after a reconnect
			if n == nil {
				continue
			}
			change, err := DecodeNotification(n.Extra)
			if err != nil {
				l.logger.Warn().Err(err).Msg("Ignoring malformed notification")
				continue
			}
			if err := l.hub.Publish(ctx, change); err != nil {
				l.logger.Error().Err(err).Str("table", change.Table).Msg("Failed to forward change")
			}
		case <-time.After(90 * time.Second):
			if err := l.listener.Ping(); err != nil {
				l.logger.Warn().Err(err).Msg("Postgres listener ping failed")
			}
		}
	}
}

// DecodeNotification parses a NOTIFY payload
func DecodeNotification(payload string) (Change, error) {
	var change Change
	if err := json.Unmarshal([]byte(payload), &change); err != nil {
		return change, fmt.Errorf("failed to decode notification: %w", err)
	}
	if change.Table == "" {
		return change, fmt.Errorf("notification has no table")
	}
	if change.Op == "" {
		change.Op = OpInsert
	}
	if change.At.IsZero() {
		change.At = time.Now()
	}
	return change, nil
}
