package metrics

import (
	"sync"
	"sync/atomic"
	"time"
)

// Snapshot captures current in-memory counters.
type Snapshot struct {
	// AuthAttempts is keyed by "method/result".
	AuthAttempts map[string]uint64
	// Logins is keyed by result.
	Logins map[string]uint64
	// Admissions is keyed by "scope/result".
	Admissions map[string]uint64

	HashCount   uint64
	HashTotalNs int64

	TokensIssued   uint64
	TokensRevoked  uint64
	APIKeysCreated uint64
	APIKeysRevoked uint64

	RequestCount   uint64
	RequestTotalNs int64
}

// InMemoryRecorder stores metrics in memory for tests.
type InMemoryRecorder struct {
	mu           sync.Mutex
	authAttempts map[string]uint64
	logins       map[string]uint64
	admissions   map[string]uint64

	hashCount      uint64
	hashTotalNs    int64
	tokensIssued   uint64
	tokensRevoked  uint64
	apiKeysCreated uint64
	apiKeysRevoked uint64
	requestCount   uint64
	requestTotalNs int64
}

// NewInMemory returns a Recorder that stores counters in memory.
func NewInMemory() *InMemoryRecorder {
	return &InMemoryRecorder{
		authAttempts: make(map[string]uint64),
		logins:       make(map[string]uint64),
		admissions:   make(map[string]uint64),
	}
}

// Snapshot returns a copy of the counters.
func (m *InMemoryRecorder) Snapshot() Snapshot {
	m.mu.Lock()
	s := Snapshot{
		AuthAttempts: copyCounts(m.authAttempts),
		Logins:       copyCounts(m.logins),
		Admissions:   copyCounts(m.admissions),
	}
	m.mu.Unlock()

	s.HashCount = atomic.LoadUint64(&m.hashCount)
	s.HashTotalNs = atomic.LoadInt64(&m.hashTotalNs)
	s.TokensIssued = atomic.LoadUint64(&m.tokensIssued)
	s.TokensRevoked = atomic.LoadUint64(&m.tokensRevoked)
	s.APIKeysCreated = atomic.LoadUint64(&m.apiKeysCreated)
	s.APIKeysRevoked = atomic.LoadUint64(&m.apiKeysRevoked)
	s.RequestCount = atomic.LoadUint64(&m.requestCount)
	s.RequestTotalNs = atomic.LoadInt64(&m.requestTotalNs)
	return s
}

// IncAuthAttempt increments the auth attempt counter for method and result.
func (m *InMemoryRecorder) IncAuthAttempt(method, result string) {
	m.inc(m.authAttempts, method+"/"+result)
}

// IncLogin increments the login counter for result.
func (m *InMemoryRecorder) IncLogin(result string) {
	m.inc(m.logins, result)
}

// ObserveHashDuration records password hashing duration.
func (m *InMemoryRecorder) ObserveHashDuration(duration time.Duration) {
	atomic.AddUint64(&m.hashCount, 1)
	atomic.AddInt64(&m.hashTotalNs, duration.Nanoseconds())
}

// IncTokenIssued increments token issued counter.
func (m *InMemoryRecorder) IncTokenIssued() {
	atomic.AddUint64(&m.tokensIssued, 1)
}

// IncTokenRevoked increments token revoked counter.
func (m *InMemoryRecorder) IncTokenRevoked() {
	atomic.AddUint64(&m.tokensRevoked, 1)
}

// IncAPIKeyCreated increments API key created counter.
func (m *InMemoryRecorder) IncAPIKeyCreated() {
	atomic.AddUint64(&m.apiKeysCreated, 1)
}

// IncAPIKeyRevoked increments API key revoked counter.
func (m *InMemoryRecorder) IncAPIKeyRevoked() {
	atomic.AddUint64(&m.apiKeysRevoked, 1)
}

// IncAdmission increments the admission counter for scope and result.
func (m *InMemoryRecorder) IncAdmission(scope, result string) {
	m.inc(m.admissions, scope+"/"+result)
}

// ObserveRequest records an HTTP request.
func (m *InMemoryRecorder) ObserveRequest(method string, status int, duration time.Duration) {
	atomic.AddUint64(&m.requestCount, 1)
	atomic.AddInt64(&m.requestTotalNs, duration.Nanoseconds())
}

func (m *InMemoryRecorder) inc(counts map[string]uint64, key string) {
	m.mu.Lock()
	counts[key]++
	m.mu.Unlock()
}

func copyCounts(src map[string]uint64) map[string]uint64 {
	dst := make(map[string]uint64, len(src))
	for k, v := range src {
		dst[k] = v
	}
	return dst
}
