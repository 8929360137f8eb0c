// Package breaker implements the circuit breaker component (spec.md §4.6):
// a per-key CLOSED/OPEN/HALF_OPEN state machine with a timed reset. The
// admission decision is hand-rolled rather than delegated to
// alibaba/sentinel-golang's circuitbreaker engine because spec.md §8
// invariant 2 requires HALF_OPEN to admit exactly one synchronous probe,
// a guarantee sentinel's async/statistic-window breaker does not expose.
// sentinel's StateChangeListener interface is still implemented and driven
// from every real transition, so transitions surface on the same
// observability path the teacher wires sentinel dashboards through
// (SPEC_FULL.md §6).
package breaker

import (
	"sync"
	"time"

	"github.com/alibaba/sentinel-golang/core/circuitbreaker"
	"github.com/source-build/ojp/internal/ojperr"
	"go.uber.org/zap"
)

type State int

const (
	Closed State = iota
	Open
	HalfOpen
)

func (s State) String() string {
	switch s {
	case Open:
		return "OPEN"
	case HalfOpen:
		return "HALF_OPEN"
	default:
		return "CLOSED"
	}
}

// sentinelState maps our State to sentinel-golang's own State enum so the
// StateChangeListener shim can report through sentinel's vocabulary.
func (s State) sentinelState() circuitbreaker.State {
	switch s {
	case Open:
		return circuitbreaker.Open
	case HalfOpen:
		return circuitbreaker.HalfOpen
	default:
		return circuitbreaker.Closed
	}
}

type keyState struct {
	mu                 sync.Mutex
	state              State
	consecutiveFailures int
	openedAt           time.Time
	halfOpenProbeSpent bool
}

// Breaker is the per-key circuit breaker (spec.md §4.6). FailureThreshold N
// and OpenTimeout T are shared across all keys; per-key state is
// independent and transitions are serialized per key via that key's mutex.
type Breaker struct {
	failureThreshold int
	openTimeout      time.Duration

	mu    sync.Mutex
	keys  map[string]*keyState

	listenersMu sync.Mutex
	listeners   []circuitbreaker.StateChangeListener

	now func() time.Time
}

func New(failureThreshold int, openTimeout time.Duration) *Breaker {
	if failureThreshold < 1 {
		failureThreshold = 1
	}
	return &Breaker{
		failureThreshold: failureThreshold,
		openTimeout:      openTimeout,
		keys:             make(map[string]*keyState),
		now:              time.Now,
	}
}

// RegisterListener wires a sentinel-golang StateChangeListener so its
// transitions are observable via the same path the teacher's sentinel
// dashboard wiring uses (circuitbreaker.RegisterStateChangeListeners is not
// called here — this breaker does not run sentinel's rule engine — but the
// listener's callbacks fire on every real transition this state machine
// makes).
func (b *Breaker) RegisterListener(l circuitbreaker.StateChangeListener) {
	b.listenersMu.Lock()
	defer b.listenersMu.Unlock()
	b.listeners = append(b.listeners, l)
}

func (b *Breaker) notify(prev, next State) {
	b.listenersMu.Lock()
	ls := append([]circuitbreaker.StateChangeListener(nil), b.listeners...)
	b.listenersMu.Unlock()

	for _, l := range ls {
		switch next {
		case Closed:
			l.OnTransformToClosed(prev.sentinelState(), nil)
		case Open:
			l.OnTransformToOpen(prev.sentinelState(), nil, nil)
		case HalfOpen:
			l.OnTransformToHalfOpen(prev.sentinelState(), nil)
		}
	}
}

func (b *Breaker) stateFor(key string) *keyState {
	b.mu.Lock()
	defer b.mu.Unlock()
	ks, ok := b.keys[key]
	if !ok {
		ks = &keyState{state: Closed}
		b.keys[key] = ks
	}
	return ks
}

// Admit implements spec.md §4.6's admission check: CLOSED admits; OPEN
// rejects with CircuitOpen until openTimeout has elapsed, then transitions
// to HALF_OPEN and admits exactly one probe; a HALF_OPEN key with its probe
// already spent rejects subsequent admissions until the probe resolves.
func (b *Breaker) Admit(key string) error {
	ks := b.stateFor(key)
	ks.mu.Lock()
	defer ks.mu.Unlock()

	switch ks.state {
	case Closed:
		return nil
	case Open:
		if b.now().Sub(ks.openedAt) >= b.openTimeout {
			prev := ks.state
			ks.state = HalfOpen
			ks.halfOpenProbeSpent = true
			b.notify(prev, HalfOpen)
			return nil
		}
		return ojperr.New(ojperr.CircuitOpen, "circuit open for "+key)
	case HalfOpen:
		if !ks.halfOpenProbeSpent {
			ks.halfOpenProbeSpent = true
			return nil
		}
		return ojperr.New(ojperr.CircuitOpen, "circuit half-open probe in flight for "+key)
	default:
		return nil
	}
}

// RecordSuccess implements the CLOSED/HALF_OPEN success transitions: any
// success in CLOSED resets the failure counter to 0; a HALF_OPEN success
// closes the circuit.
func (b *Breaker) RecordSuccess(key string) {
	ks := b.stateFor(key)
	ks.mu.Lock()
	defer ks.mu.Unlock()

	switch ks.state {
	case Closed:
		ks.consecutiveFailures = 0
	case HalfOpen:
		prev := ks.state
		ks.state = Closed
		ks.consecutiveFailures = 0
		ks.halfOpenProbeSpent = false
		b.notify(prev, Closed)
	}
}

// RecordFailure implements the CLOSED/HALF_OPEN failure transitions: a
// CLOSED key increments its counter and opens once it reaches
// failureThreshold; a HALF_OPEN failure reopens immediately with a fresh
// openedAt. Only failures classified via ojperr.CountsAsBreakerFailure
// should reach this call — the dispatcher filters before calling it.
func (b *Breaker) RecordFailure(key string) {
	ks := b.stateFor(key)
	ks.mu.Lock()
	defer ks.mu.Unlock()

	switch ks.state {
	case Closed:
		ks.consecutiveFailures++
		if ks.consecutiveFailures >= b.failureThreshold {
			prev := ks.state
			ks.state = Open
			ks.openedAt = b.now()
			b.notify(prev, Open)
		}
	case HalfOpen:
		prev := ks.state
		ks.state = Open
		ks.openedAt = b.now()
		ks.halfOpenProbeSpent = false
		ks.consecutiveFailures = b.failureThreshold
		b.notify(prev, Open)
	}
}

// StateOf reports the current state for a key, for tests and diagnostics.
func (b *Breaker) StateOf(key string) State {
	ks := b.stateFor(key)
	ks.mu.Lock()
	defer ks.mu.Unlock()
	return ks.state
}

// SetClock overrides the breaker's time source; used by tests to advance
// time deterministically instead of sleeping.
func (b *Breaker) SetClock(now func() time.Time) {
	b.now = now
}

// ZapListener is a circuitbreaker.StateChangeListener that logs every
// transition through obslog's zap facade, grounded on the teacher's own
// sentinelBreaker example (BreakerStatus, which fmt.Println'd each
// transition) — the only change here is logging through the process's real
// logger instead of stdout. cmd/ojp-server registers one at startup so the
// hand-rolled state machine's transitions are observable the same way the
// teacher's sentinel dashboard wiring expects.
type ZapListener struct {
	log *zap.Logger
}

func NewZapListener(log *zap.Logger) *ZapListener {
	return &ZapListener{log: log}
}

func (l *ZapListener) OnTransformToClosed(prev circuitbreaker.State, rule circuitbreaker.Rule) {
	l.log.Info("breaker: transitioned to CLOSED", zap.Any("prev", prev))
}

func (l *ZapListener) OnTransformToOpen(prev circuitbreaker.State, rule circuitbreaker.Rule, snapshot interface{}) {
	l.log.Warn("breaker: transitioned to OPEN", zap.Any("prev", prev))
}

func (l *ZapListener) OnTransformToHalfOpen(prev circuitbreaker.State, rule circuitbreaker.Rule) {
	l.log.Info("breaker: transitioned to HALF_OPEN", zap.Any("prev", prev))
}
