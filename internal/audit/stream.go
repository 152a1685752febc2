package audit

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"sync"
	"time"

	"github.com/redis/go-redis/v9"
)

const (
	// StreamKey is the Redis stream for audit events.
	StreamKey = "stream:auth_events"

	// MaxStreamLen is the approximate max length of the stream.
	MaxStreamLen = 100000

	// PublishTimeout is the max time to wait for Redis publish.
	PublishTimeout = 250 * time.Millisecond
)

// Stream appends events to a capped Redis stream for downstream consumers.
type Stream struct {
	redis   *redis.Client
	logger  *slog.Logger
	timeout time.Duration
	pending sync.WaitGroup
}

// NewStream creates a Stream publisher.
func NewStream(client *redis.Client, logger *slog.Logger) *Stream {
	if logger == nil {
		logger = slog.Default()
	}
	return &Stream{
		redis:   client,
		logger:  logger.With("component", "audit.stream"),
		timeout: PublishTimeout,
	}
}

// Publish validates e and adds it to the stream synchronously.
func (s *Stream) Publish(ctx context.Context, e Event) (string, error) {
	if err := e.Validate(); err != nil {
		return "", fmt.Errorf("invalid event: %w", err)
	}

	data, err := json.Marshal(e)
	if err != nil {
		return "", fmt.Errorf("marshal event: %w", err)
	}

	id, err := s.redis.XAdd(ctx, &redis.XAddArgs{
		Stream: StreamKey,
		MaxLen: MaxStreamLen,
		Approx: true,
		ID:     "*",
		Values: map[string]interface{}{
			"type":    string(e.Type),
			"payload": string(data),
		},
	}).Result()
	if err != nil {
		return "", fmt.Errorf("xadd: %w", err)
	}
	return id, nil
}

// Record publishes without blocking the caller. Failures are logged and
// the event is dropped.
func (s *Stream) Record(ctx context.Context, e Event) {
	ctx = context.WithoutCancel(ctx)

	s.pending.Add(1)
	go func() {
		defer s.pending.Done()

		ctx, cancel := context.WithTimeout(ctx, s.timeout)
		defer cancel()

		streamID, err := s.Publish(ctx, e)
		if err != nil {
			s.logger.Warn("failed to publish audit event",
				"type", string(e.Type),
				"error", err,
			)
			return
		}

		s.logger.Debug("audit event published",
			"type", string(e.Type),
			"stream_id", streamID,
		)
	}()
}

// Wait blocks until in-flight publishes finish.
func (s *Stream) Wait() {
	s.pending.Wait()
}
