// Package audit records security-relevant account events: registrations,
// logins, logouts and API key lifecycle changes.
package audit

import (
	"context"
	"crypto/sha256"
	"encoding/hex"
	"fmt"
	"log/slog"
	"sync"
	"time"

	"github.com/calebmills99/guardrV6/internal/model"
)

// Type names an event.
type Type string

// Event types.
const (
	TypeRegistered     Type = "user.registered"
	TypeLoginSucceeded Type = "login.succeeded"
	TypeLoginFailed    Type = "login.failed"
	TypeLoggedOut      Type = "user.logged_out"
	TypeAPIKeyCreated  Type = "api_key.created"
	TypeAPIKeyRevoked  Type = "api_key.revoked"
)

const subjectHashLength = 16

// Event is the compact record written to a Sink. Raw emails and secrets
// never appear in an event.
type Event struct {
	Type    Type   `json:"type"`
	UserID  string `json:"uid,omitempty"`
	KeyID   string `json:"kid,omitempty"`
	Subject string `json:"sub,omitempty"` // SubjectHash, set when no user is known
	At      int64  `json:"t"`             // Unix milliseconds
}

// NewEvent stamps an event of type t at at.
func NewEvent(t Type, at time.Time) Event {
	return Event{Type: t, At: at.UnixMilli()}
}

// Validate checks the event fields.
func (e Event) Validate() error {
	switch e.Type {
	case TypeRegistered, TypeLoginSucceeded, TypeLoggedOut:
		if e.UserID == "" {
			return fmt.Errorf("%s requires user_id", e.Type)
		}
	case TypeLoginFailed:
		if e.UserID == "" && e.Subject == "" {
			return fmt.Errorf("%s requires user_id or subject", e.Type)
		}
	case TypeAPIKeyCreated, TypeAPIKeyRevoked:
		if e.UserID == "" || e.KeyID == "" {
			return fmt.Errorf("%s requires user_id and key_id", e.Type)
		}
	default:
		return fmt.Errorf("unknown event type %q", e.Type)
	}
	if e.Subject != "" && (len(e.Subject) != subjectHashLength || !isHex(e.Subject)) {
		return fmt.Errorf("subject must be %d hex chars", subjectHashLength)
	}
	if e.At <= 0 {
		return fmt.Errorf("timestamp must be set")
	}
	return nil
}

// SubjectHash identifies a submitted email without storing it.
// Uses SHA256(normalized email + daily salt) truncated to 16 hex chars, so
// failures against one address correlate within a day only.
func SubjectHash(email string, at time.Time) string {
	dailySalt := "guardr:" + at.UTC().Format("2006-01-02")
	sum := sha256.Sum256([]byte(model.NormalizeEmail(email) + dailySalt))
	return hex.EncodeToString(sum[:])[:subjectHashLength]
}

// Sink accepts events. Record must not block the caller on I/O and never
// fails; delivery problems are the sink's to report.
type Sink interface {
	Record(ctx context.Context, e Event)
}

// Nop discards events.
type Nop struct{}

// Record implements Sink.
func (Nop) Record(context.Context, Event) {}

// LogSink writes events to a structured logger. It suits single-instance
// deployments without Redis.
type LogSink struct {
	logger *slog.Logger
}

// NewLogSink creates a LogSink.
func NewLogSink(logger *slog.Logger) *LogSink {
	if logger == nil {
		logger = slog.Default()
	}
	return &LogSink{logger: logger.With("component", "audit")}
}

// Record implements Sink.
func (s *LogSink) Record(ctx context.Context, e Event) {
	s.logger.LogAttrs(ctx, slog.LevelInfo, "audit event",
		slog.String("type", string(e.Type)),
		slog.String("user_id", e.UserID),
		slog.String("key_id", e.KeyID),
		slog.String("subject", e.Subject),
		slog.Int64("at", e.At),
	)
}

// Memory keeps events in order. Used in tests.
type Memory struct {
	mu     sync.Mutex
	events []Event
}

// Record implements Sink.
func (m *Memory) Record(_ context.Context, e Event) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.events = append(m.events, e)
}

// Events returns a copy of the recorded events.
func (m *Memory) Events() []Event {
	m.mu.Lock()
	defer m.mu.Unlock()
	out := make([]Event, len(m.events))
	copy(out, m.events)
	return out
}

// Types returns the recorded event types in order.
func (m *Memory) Types() []Type {
	events := m.Events()
	out := make([]Type, len(events))
	for i, e := range events {
		out[i] = e.Type
	}
	return out
}

func isHex(value string) bool {
	for i := 0; i < len(value); i++ {
		ch := value[i]
		if (ch >= '0' && ch <= '9') || (ch >= 'a' && ch <= 'f') || (ch >= 'A' && ch <= 'F') {
			continue
		}
		return false
	}
	return true
}
