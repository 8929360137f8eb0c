package breaker

import (
	"errors"
	"testing"
	"time"

	"github.com/source-build/ojp/internal/ojperr"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

// Scenario C (spec.md §8): threshold=3, timeout=60s. 3 failures -> 4th
// admission is CircuitOpen. Advance 60s -> next admission is a probe;
// succeed it -> CLOSED, further admissions allowed.
func TestBreaker_ScenarioC(t *testing.T) {
	b := New(3, 60*time.Second)
	clock := time.Now()
	b.SetClock(func() time.Time { return clock })

	require.NoError(t, b.Admit("K"))
	b.RecordFailure("K")
	require.NoError(t, b.Admit("K"))
	b.RecordFailure("K")
	require.NoError(t, b.Admit("K"))
	b.RecordFailure("K")

	err := b.Admit("K")
	require.Error(t, err)
	assert.True(t, errors.Is(err, ojperr.CircuitOpen))
	assert.Equal(t, Open, b.StateOf("K"))

	clock = clock.Add(60 * time.Second)

	err = b.Admit("K")
	require.NoError(t, err, "at t0+T exactly one probe must be admitted")
	assert.Equal(t, HalfOpen, b.StateOf("K"))

	b.RecordSuccess("K")
	assert.Equal(t, Closed, b.StateOf("K"))

	require.NoError(t, b.Admit("K"))
}

// Invariant 2 (spec.md §8): once OPEN at t0, every admission in
// [t0, t0+T) returns CircuitOpen.
func TestBreaker_RejectsThroughoutOpenWindow(t *testing.T) {
	b := New(1, 10*time.Second)
	clock := time.Now()
	b.SetClock(func() time.Time { return clock })

	b.RecordFailure("K")
	assert.Equal(t, Open, b.StateOf("K"))

	for i := 0; i < 5; i++ {
		clock = clock.Add(time.Second)
		err := b.Admit("K")
		require.Error(t, err)
		assert.True(t, errors.Is(err, ojperr.CircuitOpen))
	}
}

func TestBreaker_HalfOpenAdmitsExactlyOneProbe(t *testing.T) {
	b := New(1, time.Second)
	clock := time.Now()
	b.SetClock(func() time.Time { return clock })

	b.RecordFailure("K")
	clock = clock.Add(time.Second)

	require.NoError(t, b.Admit("K"))
	err := b.Admit("K")
	require.Error(t, err, "a second concurrent admission while the probe is outstanding must be rejected")
}

func TestBreaker_HalfOpenFailureReopens(t *testing.T) {
	b := New(1, time.Second)
	clock := time.Now()
	b.SetClock(func() time.Time { return clock })

	b.RecordFailure("K")
	clock = clock.Add(time.Second)
	require.NoError(t, b.Admit("K"))

	b.RecordFailure("K")
	assert.Equal(t, Open, b.StateOf("K"))

	err := b.Admit("K")
	require.Error(t, err)
}

func TestBreaker_SuccessInClosedResetsCounter(t *testing.T) {
	b := New(2, time.Second)
	b.RecordFailure("K")
	b.RecordSuccess("K")
	b.RecordFailure("K")
	assert.Equal(t, Closed, b.StateOf("K"), "counter must have reset after the intervening success")
}

func TestBreaker_KeysAreIndependent(t *testing.T) {
	b := New(1, time.Second)
	b.RecordFailure("A")
	assert.Equal(t, Open, b.StateOf("A"))
	assert.Equal(t, Closed, b.StateOf("B"))
}
