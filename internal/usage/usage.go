// Package usage counts authenticated requests per user, endpoint and
// calendar month.
package usage

import (
	"cmp"
	"context"
	"fmt"
	"log/slog"
	"slices"
	"sync"
	"time"

	"github.com/calebmills99/guardrV6/internal/model"
)

// RecordTimeout bounds a single background increment.
const RecordTimeout = 500 * time.Millisecond

// Store persists monthly counters. period is a "2006-01" month in UTC.
type Store interface {
	IncrUsage(ctx context.Context, userID, period, endpoint string) error
	Usage(ctx context.Context, userID, period string) (map[string]int64, error)
}

// EndpointUsage is the request count for one route.
type EndpointUsage struct {
	Endpoint string `json:"endpoint"`
	Requests int64  `json:"requests"`
}

// Stats summarises a user's usage for the current month.
type Stats struct {
	CurrentMonth      string          `json:"current_month"`
	MonthlyLimit      int64           `json:"monthly_limit"`
	RequestsUsed      int64           `json:"requests_used"`
	RequestsRemaining int64           `json:"requests_remaining"`
	ResetDate         time.Time       `json:"reset_date"`
	ByEndpoint        []EndpointUsage `json:"usage_by_endpoint"`
}

// Period returns the counter period containing t.
func Period(t time.Time) string {
	return t.UTC().Format("2006-01")
}

// ResetDate returns the first instant of the month after t, in UTC.
func ResetDate(t time.Time) time.Time {
	t = t.UTC()
	return time.Date(t.Year(), t.Month()+1, 1, 0, 0, 0, 0, time.UTC)
}

// Option configures a Tracker.
type Option func(*Tracker)

// WithClock overrides the time source.
func WithClock(now func() time.Time) Option {
	return func(t *Tracker) {
		t.now = now
	}
}

// Tracker records usage off the request path and reports monthly stats.
type Tracker struct {
	store  Store
	logger *slog.Logger
	now    func() time.Time
	wg     sync.WaitGroup
}

// NewTracker creates a Tracker over store.
func NewTracker(store Store, logger *slog.Logger, opts ...Option) *Tracker {
	if logger == nil {
		logger = slog.Default()
	}
	t := &Tracker{
		store:  store,
		logger: logger.With("component", "usage"),
		now:    time.Now,
	}
	for _, opt := range opts {
		opt(t)
	}
	return t
}

// Record counts one request to endpoint by userID in the background.
// Failures are logged and never reach the caller.
func (t *Tracker) Record(ctx context.Context, userID, endpoint string) {
	period := Period(t.now())
	ctx = context.WithoutCancel(ctx)

	t.wg.Add(1)
	go func() {
		defer t.wg.Done()

		ctx, cancel := context.WithTimeout(ctx, RecordTimeout)
		defer cancel()

		if err := t.store.IncrUsage(ctx, userID, period, endpoint); err != nil {
			t.logger.Warn("failed to track api usage",
				slog.String("user_id", userID),
				slog.String("endpoint", endpoint),
				slog.String("error", err.Error()),
			)
		}
	}()
}

// Wait blocks until pending records finish.
func (t *Tracker) Wait() {
	t.wg.Wait()
}

// Stats returns the current month's usage for userID against the monthly
// allowance of tier. Endpoints are ordered by request count, busiest first.
func (t *Tracker) Stats(ctx context.Context, userID string, tier model.Tier) (*Stats, error) {
	now := t.now()
	period := Period(now)

	counts, err := t.store.Usage(ctx, userID, period)
	if err != nil {
		return nil, fmt.Errorf("load usage: %w", err)
	}

	stats := &Stats{
		CurrentMonth: period,
		MonthlyLimit: tier.Limits().MonthlyRequests,
		ResetDate:    ResetDate(now),
		ByEndpoint:   make([]EndpointUsage, 0, len(counts)),
	}
	for endpoint, n := range counts {
		stats.RequestsUsed += n
		stats.ByEndpoint = append(stats.ByEndpoint, EndpointUsage{Endpoint: endpoint, Requests: n})
	}
	stats.RequestsRemaining = max(stats.MonthlyLimit-stats.RequestsUsed, 0)

	slices.SortFunc(stats.ByEndpoint, func(a, b EndpointUsage) int {
		if c := cmp.Compare(b.Requests, a.Requests); c != 0 {
			return c
		}
		return cmp.Compare(a.Endpoint, b.Endpoint)
	})
	return stats, nil
}
