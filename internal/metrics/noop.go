package metrics

import "time"

// NoopRecorder implements Recorder with no-op methods.
type NoopRecorder struct{}

// NewNoop returns a Recorder that discards all metrics.
func NewNoop() Recorder {
	return &NoopRecorder{}
}

// IncAuthAttempt is a no-op.
func (n *NoopRecorder) IncAuthAttempt(method, result string) {}

// IncLogin is a no-op.
func (n *NoopRecorder) IncLogin(result string) {}

// ObserveHashDuration is a no-op.
func (n *NoopRecorder) ObserveHashDuration(duration time.Duration) {}

// IncTokenIssued is a no-op.
func (n *NoopRecorder) IncTokenIssued() {}

// IncTokenRevoked is a no-op.
func (n *NoopRecorder) IncTokenRevoked() {}

// IncAPIKeyCreated is a no-op.
func (n *NoopRecorder) IncAPIKeyCreated() {}

// IncAPIKeyRevoked is a no-op.
func (n *NoopRecorder) IncAPIKeyRevoked() {}

// IncAdmission is a no-op.
func (n *NoopRecorder) IncAdmission(scope, result string) {}

// ObserveRequest is a no-op.
func (n *NoopRecorder) ObserveRequest(method string, status int, duration time.Duration) {}
