package metrics

import (
	"net/http"
	"strconv"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

// PrometheusRecorder implements Recorder with Prometheus collectors.
type PrometheusRecorder struct {
	registry *prometheus.Registry

	authAttempts    *prometheus.CounterVec
	logins          *prometheus.CounterVec
	hashDuration    prometheus.Histogram
	tokensIssued    prometheus.Counter
	tokensRevoked   prometheus.Counter
	apiKeysCreated  prometheus.Counter
	apiKeysRevoked  prometheus.Counter
	admissions      *prometheus.CounterVec
	requestDuration *prometheus.HistogramVec
}

// NewPrometheus creates a PrometheusRecorder and registers its collectors.
// A nil registry gets a fresh one.
func NewPrometheus(registry *prometheus.Registry) *PrometheusRecorder {
	if registry == nil {
		registry = prometheus.NewRegistry()
	}

	p := &PrometheusRecorder{
		registry: registry,
		authAttempts: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Name: "guardr_auth_attempts_total",
				Help: "Total number of authentication attempts",
			},
			[]string{"method", "result"},
		),
		logins: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Name: "guardr_logins_total",
				Help: "Total number of password logins",
			},
			[]string{"result"},
		),
		hashDuration: prometheus.NewHistogram(
			prometheus.HistogramOpts{
				Name:    "guardr_password_hash_duration_seconds",
				Help:    "Password hashing duration in seconds",
				Buckets: []float64{0.01, 0.025, 0.05, 0.1, 0.25, 0.5, 1, 2.5},
			},
		),
		tokensIssued: prometheus.NewCounter(prometheus.CounterOpts{
			Name: "guardr_tokens_issued_total",
			Help: "Total number of token pairs issued",
		}),
		tokensRevoked: prometheus.NewCounter(prometheus.CounterOpts{
			Name: "guardr_tokens_revoked_total",
			Help: "Total number of tokens revoked",
		}),
		apiKeysCreated: prometheus.NewCounter(prometheus.CounterOpts{
			Name: "guardr_api_keys_created_total",
			Help: "Total number of API keys created",
		}),
		apiKeysRevoked: prometheus.NewCounter(prometheus.CounterOpts{
			Name: "guardr_api_keys_revoked_total",
			Help: "Total number of API keys revoked",
		}),
		admissions: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Name: "guardr_admission_decisions_total",
				Help: "Total number of admission control decisions",
			},
			[]string{"scope", "result"},
		),
		requestDuration: prometheus.NewHistogramVec(
			prometheus.HistogramOpts{
				Name:    "guardr_http_request_duration_seconds",
				Help:    "HTTP request duration in seconds",
				Buckets: prometheus.DefBuckets,
			},
			[]string{"method", "status"},
		),
	}

	registry.MustRegister(
		p.authAttempts,
		p.logins,
		p.hashDuration,
		p.tokensIssued,
		p.tokensRevoked,
		p.apiKeysCreated,
		p.apiKeysRevoked,
		p.admissions,
		p.requestDuration,
	)

	return p
}

// Handler returns the scrape handler for the recorder's registry.
func (p *PrometheusRecorder) Handler() http.Handler {
	return promhttp.HandlerFor(p.registry, promhttp.HandlerOpts{})
}

// IncAuthAttempt increments the auth attempt counter.
func (p *PrometheusRecorder) IncAuthAttempt(method, result string) {
	p.authAttempts.WithLabelValues(method, result).Inc()
}

// IncLogin increments the login counter.
func (p *PrometheusRecorder) IncLogin(result string) {
	p.logins.WithLabelValues(result).Inc()
}

// ObserveHashDuration records password hashing duration.
func (p *PrometheusRecorder) ObserveHashDuration(duration time.Duration) {
	p.hashDuration.Observe(duration.Seconds())
}

// IncTokenIssued increments the token issued counter.
func (p *PrometheusRecorder) IncTokenIssued() {
	p.tokensIssued.Inc()
}

// IncTokenRevoked increments the token revoked counter.
func (p *PrometheusRecorder) IncTokenRevoked() {
	p.tokensRevoked.Inc()
}

// IncAPIKeyCreated increments the API key created counter.
func (p *PrometheusRecorder) IncAPIKeyCreated() {
	p.apiKeysCreated.Inc()
}

// IncAPIKeyRevoked increments the API key revoked counter.
func (p *PrometheusRecorder) IncAPIKeyRevoked() {
	p.apiKeysRevoked.Inc()
}

// IncAdmission increments the admission decision counter.
func (p *PrometheusRecorder) IncAdmission(scope, result string) {
	p.admissions.WithLabelValues(scope, result).Inc()
}

// ObserveRequest records HTTP request duration.
func (p *PrometheusRecorder) ObserveRequest(method string, status int, duration time.Duration) {
	p.requestDuration.WithLabelValues(method, strconv.Itoa(status)).Observe(duration.Seconds())
}
