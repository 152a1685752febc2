package ratelimit

import (
	"context"
	"hash/fnv"
	"sync"
	"time"

	"golang.org/x/time/rate"
)

const shardCount = 32

// Defaults.
const (
	DefaultIdleTTL       = 10 * time.Minute
	DefaultSweepInterval = time.Minute
)

// DefaultQuota is 60 requests per minute with a burst of 10.
var DefaultQuota = Quota{Capacity: 10, RefillPerMinute: 60}

// Config configures a Controller.
type Config struct {
	// Quota applies to Check.
	Quota Quota
	// IdleTTL is how long an untouched bucket is kept.
	IdleTTL time.Duration
	// SweepInterval is how often Run sweeps idle buckets.
	SweepInterval time.Duration
}

// Option configures a Controller.
type Option func(*Controller)

// WithClock overrides the time source.
func WithClock(now func() time.Time) Option {
	return func(c *Controller) {
		c.now = now
	}
}

type bucket struct {
	limiter  *rate.Limiter
	quota    Quota
	lastSeen time.Time
}

type shard struct {
	mu      sync.Mutex
	buckets map[string]*bucket
}

// Controller is an in-process token-bucket admission controller.
// Buckets are spread across shards so that unrelated keys rarely contend.
type Controller struct {
	cfg    Config
	now    func() time.Time
	shards [shardCount]shard
}

// NewController creates a Controller. Zero config fields take defaults.
func NewController(cfg Config, opts ...Option) *Controller {
	if !cfg.Quota.Valid() {
		cfg.Quota = DefaultQuota
	}
	if cfg.IdleTTL <= 0 {
		cfg.IdleTTL = DefaultIdleTTL
	}
	if cfg.SweepInterval <= 0 {
		cfg.SweepInterval = DefaultSweepInterval
	}

	c := &Controller{cfg: cfg, now: time.Now}
	for i := range c.shards {
		c.shards[i].buckets = make(map[string]*bucket)
	}
	for _, opt := range opts {
		opt(c)
	}
	return c
}

// Quota returns the default quota.
func (c *Controller) Quota() Quota {
	return c.cfg.Quota
}

// Check consumes one token from key's bucket under the default quota.
func (c *Controller) Check(key string) Decision {
	return c.CheckWithQuota(key, c.cfg.Quota)
}

// CheckWithQuota consumes one token from key's bucket under q.
// A bucket seen before with a different quota is re-tuned in place and
// keeps its current token count.
func (c *Controller) CheckWithQuota(key string, q Quota) Decision {
	now := c.now()
	if !q.Valid() {
		return Decision{Allowed: false, Limit: q.Capacity}
	}

	s := c.shardFor(key)
	s.mu.Lock()
	defer s.mu.Unlock()

	b, ok := s.buckets[key]
	if !ok {
		b = &bucket{
			limiter: rate.NewLimiter(rate.Limit(q.perSecond()), q.Capacity),
			quota:   q,
		}
		s.buckets[key] = b
	} else if b.quota != q {
		b.limiter.SetLimitAt(now, rate.Limit(q.perSecond()))
		b.limiter.SetBurstAt(now, q.Capacity)
		b.quota = q
	}
	b.lastSeen = now

	allowed := b.limiter.AllowN(now, 1)
	return Decide(allowed, q, b.limiter.TokensAt(now), now)
}

// Admit implements Admitter.
func (c *Controller) Admit(_ context.Context, key string, q Quota) (Decision, error) {
	return c.CheckWithQuota(key, q), nil
}

// Sweep drops buckets idle for at least IdleTTL and returns how many were removed.
func (c *Controller) Sweep(now time.Time) int {
	cutoff := now.Add(-c.cfg.IdleTTL)
	removed := 0
	for i := range c.shards {
		s := &c.shards[i]
		s.mu.Lock()
		for key, b := range s.buckets {
			if !b.lastSeen.After(cutoff) {
				delete(s.buckets, key)
				removed++
			}
		}
		s.mu.Unlock()
	}
	return removed
}

// Run sweeps idle buckets every SweepInterval until ctx is done.
func (c *Controller) Run(ctx context.Context) {
	ticker := time.NewTicker(c.cfg.SweepInterval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			c.Sweep(c.now())
		}
	}
}

// Len returns the number of live buckets.
func (c *Controller) Len() int {
	n := 0
	for i := range c.shards {
		s := &c.shards[i]
		s.mu.Lock()
		n += len(s.buckets)
		s.mu.Unlock()
	}
	return n
}

func (c *Controller) shardFor(key string) *shard {
	h := fnv.New32a()
	_, _ = h.Write([]byte(key))
	return &c.shards[h.Sum32()%shardCount]
}
