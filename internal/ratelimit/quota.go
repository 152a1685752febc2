// Package ratelimit implements per-client admission control with token buckets.
package ratelimit

import (
	"context"
	"math"
	"time"

	"github.com/calebmills99/guardrV6/internal/model"
)

// Quota describes a token bucket: Capacity tokens, refilled continuously
// at RefillPerMinute tokens per minute.
type Quota struct {
	Capacity        int
	RefillPerMinute float64
}

// Valid reports whether q can admit any request.
func (q Quota) Valid() bool {
	return q.Capacity > 0 && q.RefillPerMinute > 0
}

// perSecond returns the refill rate in tokens per second.
func (q Quota) perSecond() float64 {
	return q.RefillPerMinute / 60
}

// QuotaForTier scales base by the tier's rate multiplier.
func QuotaForTier(base Quota, tier model.Tier) Quota {
	m := tier.Limits().RateMultiplier
	if m < 1 {
		m = 1
	}
	return Quota{
		Capacity:        base.Capacity * m,
		RefillPerMinute: base.RefillPerMinute * float64(m),
	}
}

// Decision is the outcome of one admission check.
type Decision struct {
	Allowed bool
	// Limit is the bucket capacity.
	Limit int
	// Remaining is the whole number of tokens left after this check.
	Remaining int
	// RetryAfter is how long until one token is available. Zero when allowed.
	RetryAfter time.Duration
	// ResetAt is when the bucket will be full again.
	ResetAt time.Time
}

// Admitter decides whether a request identified by key may proceed.
type Admitter interface {
	Admit(ctx context.Context, key string, q Quota) (Decision, error)
}

// Decide builds a Decision from the token count observed after a check.
func Decide(allowed bool, q Quota, tokens float64, now time.Time) Decision {
	if tokens < 0 {
		tokens = 0
	}
	d := Decision{
		Allowed:   allowed,
		Limit:     q.Capacity,
		Remaining: int(math.Floor(tokens)),
	}
	rate := q.perSecond()
	if rate <= 0 {
		return d
	}
	if missing := float64(q.Capacity) - tokens; missing > 0 {
		d.ResetAt = now.Add(secondsToDuration(missing / rate))
	} else {
		d.ResetAt = now
	}
	if !allowed {
		d.RetryAfter = secondsToDuration((1 - tokens) / rate)
	}
	return d
}

func secondsToDuration(s float64) time.Duration {
	return time.Duration(math.Ceil(s * float64(time.Second)))
}
