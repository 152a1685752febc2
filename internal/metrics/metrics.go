// Package metrics provides lightweight hooks for instrumentation.
package metrics

import "time"

// Label values shared by recorders.
const (
	MethodToken  = "token"
	MethodAPIKey = "api_key"

	ResultSuccess = "success"
	ResultFailure = "failure"

	ScopeIP   = "ip"
	ScopeUser = "user"

	AdmissionAllowed = "allowed"
	AdmissionDenied  = "denied"
	AdmissionError   = "error"
)

// Recorder captures metric events for the application.
// Implementations can expose these to Prometheus, StatsD, etc.
type Recorder interface {
	// Authentication metrics
	IncAuthAttempt(method, result string) // method: "token" or "api_key"
	IncLogin(result string)
	ObserveHashDuration(duration time.Duration)

	// Token lifecycle metrics
	IncTokenIssued()
	IncTokenRevoked()

	// API key lifecycle metrics
	IncAPIKeyCreated()
	IncAPIKeyRevoked()

	// Admission control metrics
	IncAdmission(scope, result string) // scope: "ip" or "user"

	// HTTP metrics
	ObserveRequest(method string, status int, duration time.Duration)
}

// Snapshotter exposes a snapshot of current metrics.
type Snapshotter interface {
	Snapshot() Snapshot
}
