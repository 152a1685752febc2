package ratelimit

import (
	"context"
	"fmt"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/calebmills99/guardrV6/internal/model"
)

type fakeClock struct {
	mu  sync.Mutex
	now time.Time
}

func newFakeClock() *fakeClock {
	return &fakeClock{now: time.Date(2026, 3, 1, 12, 0, 0, 0, time.UTC)}
}

func (c *fakeClock) Now() time.Time {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.now
}

func (c *fakeClock) Advance(d time.Duration) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.now = c.now.Add(d)
}

func TestController_CapacityAndRefill(t *testing.T) {
	t.Parallel()

	clock := newFakeClock()
	c := NewController(Config{Quota: Quota{Capacity: 5, RefillPerMinute: 5}}, WithClock(clock.Now))

	for i := 0; i < 5; i++ {
		d := c.Check("ip:203.0.113.7")
		require.True(t, d.Allowed, "request %d should be allowed", i+1)
		assert.Equal(t, 5, d.Limit)
		assert.Equal(t, 4-i, d.Remaining)
		assert.Zero(t, d.RetryAfter)
	}

	denied := c.Check("ip:203.0.113.7")
	assert.False(t, denied.Allowed, "6th request should be denied")
	assert.Equal(t, 0, denied.Remaining)
	assert.InDelta(t, float64(12*time.Second), float64(denied.RetryAfter), float64(time.Millisecond))
	assert.WithinDuration(t, clock.Now().Add(time.Minute), denied.ResetAt, time.Millisecond)

	// One token refills every 12s.
	clock.Advance(13 * time.Second)
	assert.True(t, c.Check("ip:203.0.113.7").Allowed, "request after refill should be allowed")
	assert.False(t, c.Check("ip:203.0.113.7").Allowed)
}

func TestController_DenyDoesNotConsume(t *testing.T) {
	t.Parallel()

	clock := newFakeClock()
	c := NewController(Config{Quota: Quota{Capacity: 1, RefillPerMinute: 6}}, WithClock(clock.Now))

	require.True(t, c.Check("k").Allowed)
	for i := 0; i < 10; i++ {
		require.False(t, c.Check("k").Allowed)
	}

	// Denials must not push the refill further out.
	clock.Advance(10*time.Second + time.Millisecond)
	assert.True(t, c.Check("k").Allowed)
}

func TestController_KeysAreIndependent(t *testing.T) {
	t.Parallel()

	clock := newFakeClock()
	c := NewController(Config{Quota: Quota{Capacity: 1, RefillPerMinute: 1}}, WithClock(clock.Now))

	assert.True(t, c.Check("a").Allowed)
	assert.False(t, c.Check("a").Allowed)
	assert.True(t, c.Check("b").Allowed)
}

func TestController_QuotaOverrideRetunesBucket(t *testing.T) {
	t.Parallel()

	clock := newFakeClock()
	base := Quota{Capacity: 2, RefillPerMinute: 2}
	c := NewController(Config{Quota: base}, WithClock(clock.Now))

	require.True(t, c.Check("user:1").Allowed)
	require.True(t, c.Check("user:1").Allowed)
	require.False(t, c.Check("user:1").Allowed)

	// Upgrade: larger quota applies to the same bucket without resetting it.
	pro := QuotaForTier(base, model.TierPro)
	d := c.CheckWithQuota("user:1", pro)
	assert.False(t, d.Allowed, "retuning keeps the drained token count")
	assert.Equal(t, 10, d.Limit)
	assert.Equal(t, 1, c.Len())

	clock.Advance(2 * time.Minute)
	for i := 0; i < 10; i++ {
		require.True(t, c.CheckWithQuota("user:1", pro).Allowed, "request %d", i+1)
	}
}

func TestController_InvalidQuotaDenies(t *testing.T) {
	t.Parallel()

	c := NewController(Config{})
	assert.Equal(t, DefaultQuota, c.Quota())

	d := c.CheckWithQuota("k", Quota{})
	assert.False(t, d.Allowed)
	assert.Equal(t, 0, c.Len())
}

func TestController_Sweep(t *testing.T) {
	t.Parallel()

	clock := newFakeClock()
	c := NewController(Config{IdleTTL: time.Minute}, WithClock(clock.Now))

	c.Check("old")
	clock.Advance(30 * time.Second)
	c.Check("new")
	require.Equal(t, 2, c.Len())

	assert.Equal(t, 0, c.Sweep(clock.Now()))

	clock.Advance(30 * time.Second)
	assert.Equal(t, 1, c.Sweep(clock.Now()))
	assert.Equal(t, 1, c.Len())

	clock.Advance(time.Minute)
	assert.Equal(t, 1, c.Sweep(clock.Now()))
	assert.Equal(t, 0, c.Len())
}

func TestController_RunStopsOnCancel(t *testing.T) {
	t.Parallel()

	c := NewController(Config{SweepInterval: time.Millisecond})
	ctx, cancel := context.WithCancel(context.Background())

	done := make(chan struct{})
	go func() {
		c.Run(ctx)
		close(done)
	}()

	cancel()
	select {
	case <-done:
	case <-time.After(time.Second):
		t.Fatal("Run did not stop after cancel")
	}
}

func TestController_ConcurrentNeverOveradmits(t *testing.T) {
	t.Parallel()

	clock := newFakeClock()
	c := NewController(Config{Quota: Quota{Capacity: 50, RefillPerMinute: 1}}, WithClock(clock.Now))

	var admitted atomic.Int64
	var wg sync.WaitGroup
	for i := 0; i < 20; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			for j := 0; j < 10; j++ {
				if c.Check("shared").Allowed {
					admitted.Add(1)
				}
			}
		}()
	}
	wg.Wait()

	assert.Equal(t, int64(50), admitted.Load())
}

func TestController_ConcurrentManyKeys(t *testing.T) {
	t.Parallel()

	c := NewController(Config{Quota: Quota{Capacity: 3, RefillPerMinute: 1}})

	var wg sync.WaitGroup
	for i := 0; i < 64; i++ {
		wg.Add(1)
		go func(i int) {
			defer wg.Done()
			key := fmt.Sprintf("ip:10.0.0.%d", i)
			for j := 0; j < 3; j++ {
				if !c.Check(key).Allowed {
					t.Errorf("key %s request %d unexpectedly denied", key, j)
				}
			}
		}(i)
	}
	wg.Wait()

	assert.Equal(t, 64, c.Len())
}

func TestController_Admit(t *testing.T) {
	t.Parallel()

	var a Admitter = NewController(Config{})
	d, err := a.Admit(context.Background(), "k", Quota{Capacity: 1, RefillPerMinute: 1})
	require.NoError(t, err)
	assert.True(t, d.Allowed)
}

func TestQuotaForTier(t *testing.T) {
	t.Parallel()

	base := Quota{Capacity: 10, RefillPerMinute: 60}

	assert.Equal(t, base, QuotaForTier(base, model.TierFree))
	assert.Equal(t, Quota{Capacity: 50, RefillPerMinute: 300}, QuotaForTier(base, model.TierPro))
	assert.Equal(t, Quota{Capacity: 200, RefillPerMinute: 1200}, QuotaForTier(base, model.TierEnterprise))
	assert.Equal(t, base, QuotaForTier(base, model.Tier("unknown")))
}
