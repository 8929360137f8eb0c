// Package segregator implements the slow-query segregator (spec.md §4.7):
// fast/slow lane admission control over a pool's slots, a rolling
// global-average execution time used to classify queries, and a bounded
// per-fingerprint classification cache so repeat queries skip straight to
// the right lane.
//
// Grounded on SPEC_FULL.md §9's design note: "Rolling average for
// slow-query classification should be a lock-free accumulator (count + sum
// since last recompute) flushed by a periodic tick" — the hot path here
// only ever does an atomic add, never takes the average's lock.
package segregator

import (
	"context"
	"sync"
	"sync/atomic"
	"time"

	sentinel "github.com/alibaba/sentinel-golang/api"
	"github.com/alibaba/sentinel-golang/core/base"
	"github.com/alibaba/sentinel-golang/core/config"
	"github.com/alibaba/sentinel-golang/core/flow"
	"github.com/source-build/ojp/internal/ojperr"
)

var sentinelInitOnce sync.Once
var sentinelInitErr error

// initSentinel brings up sentinel-golang's global rule engine exactly once
// per process, grounded on the teacher's fit.InitSentinel (sentinel.go):
// every Segregator in the process shares the same sentinel runtime, only
// each one's flow.Rule resource name differs.
func initSentinel() error {
	sentinelInitOnce.Do(func() {
		conf := config.NewDefaultConfig()
		conf.Sentinel.App.Name = "ojp"
		sentinelInitErr = sentinel.InitWithConfig(conf)
	})
	return sentinelInitErr
}

// registerFlowGuard loads a Direct+Reject QPS-style flow.Rule capping
// admission to a resource at slowSlots, mirroring the teacher's
// sentinelFlow example (flow.Rule{TokenCalculateStrategy: flow.Direct,
// ControlBehavior: flow.Reject}). Here the threshold counts concurrent slow
// lane occupancy rather than QPS, giving the slow lane a second, independent
// admission gate ahead of its slot channel.
func registerFlowGuard(resource string, slowSlots int) error {
	_, err := flow.LoadRules([]*flow.Rule{{
		Resource:               resource,
		Threshold:              float64(slowSlots),
		TokenCalculateStrategy: flow.Direct,
		ControlBehavior:        flow.Reject,
		StatIntervalInMs:       1000,
	}})
	return err
}

// Config mirrors the slowQuerySegregation.* keys in spec.md §6.
type Config struct {
	Enabled                 bool
	SlowSlotPercentage      int
	IdleTimeout             time.Duration
	SlowSlotTimeout         time.Duration
	FastSlotTimeout         time.Duration
	UpdateGlobalAvgInterval time.Duration
	SlowThresholdMultiplier float64 // k in "d > mu*k"; Open Question in spec.md §9, defaulted per SPEC_FULL.md §6
	FingerprintCacheSize    int
}

const DefaultSlowThresholdMultiplier = 2.0
const DefaultFingerprintCacheSize = 4096

// lane is one of the two slot pools (spec.md §3 SegregationState).
type lane struct {
	slots   chan struct{}
	timeout time.Duration
}

func newLane(count int, timeout time.Duration) *lane {
	l := &lane{slots: make(chan struct{}, count), timeout: timeout}
	for i := 0; i < count; i++ {
		l.slots <- struct{}{}
	}
	return l
}

func (l *lane) acquire(ctx context.Context) (func(), error) {
	ctx, cancel := context.WithTimeout(ctx, l.timeout)
	defer cancel()
	select {
	case <-l.slots:
		return func() { l.slots <- struct{}{} }, nil
	case <-ctx.Done():
		return nil, ojperr.New(ojperr.Timeout, "segregator slot acquire timed out")
	}
}

// rollingAverage is the lock-free accumulator SPEC_FULL.md §9 calls for:
// durations land in sum/count via atomic add on the hot path, and a
// periodic tick flushes them into mu.
type rollingAverage struct {
	mu        sync.RWMutex
	published float64 // current published average, read by the hot path under RLock
	sum       int64   // nanoseconds, accumulated since last flush
	count     int64
}

func (r *rollingAverage) observe(d time.Duration) {
	atomic.AddInt64(&r.sum, int64(d))
	atomic.AddInt64(&r.count, 1)
}

func (r *rollingAverage) flush() {
	sum := atomic.SwapInt64(&r.sum, 0)
	count := atomic.SwapInt64(&r.count, 0)
	if count == 0 {
		return
	}
	avg := time.Duration(sum / count)

	r.mu.Lock()
	r.published = float64(avg)
	r.mu.Unlock()
}

func (r *rollingAverage) current() time.Duration {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return time.Duration(r.published)
}

// fingerprintCache is a bounded LRU mapping a query fingerprint to whether
// its last observed execution was classified slow (spec.md §4.7).
type fingerprintCache struct {
	mu       sync.Mutex
	capacity int
	order    []string
	slow     map[string]bool
}

func newFingerprintCache(capacity int) *fingerprintCache {
	if capacity < 1 {
		capacity = DefaultFingerprintCacheSize
	}
	return &fingerprintCache{capacity: capacity, slow: make(map[string]bool)}
}

func (c *fingerprintCache) get(fp string) (bool, bool) {
	c.mu.Lock()
	defer c.mu.Unlock()
	v, ok := c.slow[fp]
	if ok {
		c.touchLocked(fp)
	}
	return v, ok
}

// touchLocked moves fp to the most-recently-used end of order.
func (c *fingerprintCache) touchLocked(fp string) {
	for i, k := range c.order {
		if k == fp {
			c.order = append(append(c.order[:i:i], c.order[i+1:]...), fp)
			return
		}
	}
}

func (c *fingerprintCache) set(fp string, slow bool) {
	c.mu.Lock()
	defer c.mu.Unlock()
	if _, exists := c.slow[fp]; exists {
		c.touchLocked(fp)
	} else {
		if len(c.order) >= c.capacity {
			oldest := c.order[0]
			c.order = c.order[1:]
			delete(c.slow, oldest)
		}
		c.order = append(c.order, fp)
	}
	c.slow[fp] = slow
}

// Segregator is the slow-query segregator component (spec.md §4.7).
type Segregator struct {
	cfg  Config
	fast *lane
	slow *lane
	avg  *rollingAverage
	fps  *fingerprintCache

	flowResource string

	stopOnce sync.Once
	stopCh   chan struct{}
}

// New builds a Segregator for a pool of totalSlots, sized per spec.md §3:
// slowSlotCount = floor(totalSlots*slowPct/100), fastSlotCount = remainder.
//
// resourceName identifies this pool's slow lane as a sentinel-golang
// flow.Rule resource (empty disables the guard, e.g. in tests that don't
// bootstrap sentinel). Failing to initialize sentinel or register the rule
// only disables this second gate — the slot channel below remains the
// authoritative admission control, so a sentinel outage never blocks
// traffic the spec's slot-based algorithm would otherwise admit.
func New(cfg Config, totalSlots int, resourceName string) *Segregator {
	if cfg.SlowThresholdMultiplier <= 0 {
		cfg.SlowThresholdMultiplier = DefaultSlowThresholdMultiplier
	}
	if cfg.FingerprintCacheSize <= 0 {
		cfg.FingerprintCacheSize = DefaultFingerprintCacheSize
	}

	slowCount := totalSlots * cfg.SlowSlotPercentage / 100
	fastCount := totalSlots - slowCount
	if fastCount < 0 {
		fastCount = 0
	}

	s := &Segregator{
		cfg:    cfg,
		fast:   newLane(fastCount, cfg.FastSlotTimeout),
		slow:   newLane(slowCount, cfg.SlowSlotTimeout),
		avg:    &rollingAverage{},
		fps:    newFingerprintCache(cfg.FingerprintCacheSize),
		stopCh: make(chan struct{}),
	}

	if resourceName != "" && slowCount > 0 {
		if err := initSentinel(); err == nil {
			if err := registerFlowGuard(resourceName, slowCount); err == nil {
				s.flowResource = resourceName
			}
		}
	}

	return s
}

// RunAverageFlusher runs until ctx is cancelled, periodically flushing the
// rolling-average accumulator at cfg.UpdateGlobalAvgInterval so the hot
// path never contends on the published average's lock.
func (s *Segregator) RunAverageFlusher(ctx context.Context) {
	interval := s.cfg.UpdateGlobalAvgInterval
	if interval <= 0 {
		interval = 5 * time.Minute
	}
	ticker := time.NewTicker(interval)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			return
		case <-s.stopCh:
			return
		case <-ticker.C:
			s.avg.flush()
		}
	}
}

func (s *Segregator) Stop() {
	s.stopOnce.Do(func() { close(s.stopCh) })
}

// classifySlow decides, ahead of execution, whether fingerprint should be
// routed to the slow lane: only a cached slow classification for this
// fingerprint routes slow; every other call goes to the fast lane. The
// mu*k threshold is applied only at completion (Complete); no cost
// estimate is made at admission.
func (s *Segregator) classifySlow(fingerprint string) bool {
	if slow, ok := s.fps.get(fingerprint); ok && slow {
		return true
	}
	return false
}

// Acquire implements spec.md §4.7's admission algorithm: a fresh call first
// attempts a fast slot; if the fingerprint was previously classified slow,
// it is routed straight to the slow lane instead. The returned release
// function must be called exactly once by the caller when the slot is
// done being used.
func (s *Segregator) Acquire(ctx context.Context, fingerprint string) (release func(), useSlow bool, err error) {
	useSlow = s.classifySlow(fingerprint)

	l := s.fast
	if useSlow {
		l = s.slow
	}

	var flowEntry *base.SentinelEntry
	if useSlow && s.flowResource != "" {
		entry, blockErr := sentinel.Entry(s.flowResource)
		if blockErr != nil {
			return nil, useSlow, ojperr.New(ojperr.Overloaded, "slow lane flow guard rejected admission")
		}
		flowEntry = entry
	}

	release, err = l.acquire(ctx)
	if err != nil {
		if flowEntry != nil {
			flowEntry.Exit()
		}
		if useSlow {
			return nil, useSlow, ojperr.New(ojperr.Overloaded, "slow lane queue full")
		}
		return nil, useSlow, err
	}

	if flowEntry != nil {
		innerRelease := release
		release = func() {
			innerRelease()
			flowEntry.Exit()
		}
	}
	return release, useSlow, nil
}

// Complete feeds a call's observed duration into the rolling average and
// updates the fingerprint's classification for next time (spec.md §4.7:
// "A query is classified slow if d > mu*k at completion, and that
// classification is cached by fingerprint").
func (s *Segregator) Complete(fingerprint string, d time.Duration) {
	s.avg.observe(d)
	mu := s.avg.current()
	slow := mu > 0 && float64(d) > float64(mu)*s.cfg.SlowThresholdMultiplier
	s.fps.set(fingerprint, slow)
}

// CurrentAverage exposes the published rolling average, for tests and
// diagnostics.
func (s *Segregator) CurrentAverage() time.Duration {
	return s.avg.current()
}
