package segregator

import (
	"context"
	"errors"
	"sync"
	"testing"
	"time"

	"github.com/source-build/ojp/internal/ojperr"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func baseConfig() Config {
	return Config{
		Enabled:                 true,
		SlowSlotPercentage:      20,
		IdleTimeout:             10 * time.Second,
		SlowSlotTimeout:         200 * time.Millisecond,
		FastSlotTimeout:         50 * time.Millisecond,
		UpdateGlobalAvgInterval: time.Minute,
	}
}

func TestNew_SlotSplit(t *testing.T) {
	s := New(baseConfig(), 5, "")
	assert.Equal(t, 1, cap(s.slow.slots))
	assert.Equal(t, 4, cap(s.fast.slots))
}

// Scenario D (spec.md §8): fastSlotCount=4, slowSlotCount=1. Launch 5 fast
// queries each blocking for 2x fastSlotTimeout -> one returns
// DeadlineExceeded/Timeout, others complete.
func TestAcquire_ScenarioD(t *testing.T) {
	cfg := baseConfig()
	cfg.FastSlotTimeout = 30 * time.Millisecond
	s := New(cfg, 5, "") // 4 fast, 1 slow

	var wg sync.WaitGroup
	var timeouts, successes int32
	var mu sync.Mutex

	for i := 0; i < 5; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			release, _, err := s.Acquire(context.Background(), "unseen-fingerprint")
			mu.Lock()
			defer mu.Unlock()
			if err != nil {
				require.True(t, errors.Is(err, ojperr.Timeout))
				timeouts++
				return
			}
			successes++
			time.Sleep(2 * cfg.FastSlotTimeout)
			release()
		}()
	}
	wg.Wait()

	assert.Equal(t, int32(1), timeouts)
	assert.Equal(t, int32(4), successes)
}

func TestClassifySlow_CachedFingerprintRoutesSlow(t *testing.T) {
	s := New(baseConfig(), 10, "")

	// Feed a short duration to establish a low average, then a much longer
	// one for this fingerprint so it is classified slow.
	s.Complete("fp-fast", 1*time.Millisecond)
	s.avg.flush()
	s.Complete("fp-slow", 100*time.Millisecond)

	release, useSlow, err := s.Acquire(context.Background(), "fp-slow")
	require.NoError(t, err)
	assert.True(t, useSlow)
	release()

	release, useSlow, err = s.Acquire(context.Background(), "fp-fast")
	require.NoError(t, err)
	assert.False(t, useSlow)
	release()
}

func TestRollingAverage_FlushFromAccumulator(t *testing.T) {
	r := &rollingAverage{}
	r.observe(10 * time.Millisecond)
	r.observe(20 * time.Millisecond)
	assert.Equal(t, time.Duration(0), r.current(), "average must not change until flush")

	r.flush()
	assert.Equal(t, 15*time.Millisecond, r.current())
}

func TestFingerprintCache_BoundedLRU(t *testing.T) {
	c := newFingerprintCache(2)
	c.set("a", true)
	c.set("b", false)
	c.set("c", true) // evicts "a"

	_, ok := c.get("a")
	assert.False(t, ok)

	v, ok := c.get("b")
	require.True(t, ok)
	assert.False(t, v)
}
