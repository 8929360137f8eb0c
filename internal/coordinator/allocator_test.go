package coordinator

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestPoolAllocator_SingleNodeWhenNoEndpoints(t *testing.T) {
	a := NewPoolAllocator()
	alloc := a.CalculatePoolSizes("k1", 30, 10, nil)
	assert.Equal(t, 1, alloc.TotalServers)
	assert.Equal(t, 1, alloc.HealthyServers)
	assert.Equal(t, 30, alloc.CurrentMax)
	assert.Equal(t, 10, alloc.CurrentMinIdle)
}

// Scenario B (spec.md §8): three-node cluster, originalMax=30, all up ->
// currentMax=10 each; one node down -> healthy=2, currentMax=15; restore ->
// currentMax=10.
func TestPoolAllocator_ScenarioB(t *testing.T) {
	a := NewPoolAllocator()
	endpoints := []string{"n1", "n2", "n3"}

	alloc := a.CalculatePoolSizes("ds1", 30, 0, endpoints)
	assert.Equal(t, 3, alloc.TotalServers)
	assert.Equal(t, 10, alloc.CurrentMax)

	alloc, ok := a.UpdateHealthyServers("ds1", 2)
	require.True(t, ok)
	assert.Equal(t, 2, alloc.HealthyServers)
	assert.Equal(t, 15, alloc.CurrentMax)

	alloc, ok = a.UpdateHealthyServers("ds1", 3)
	require.True(t, ok)
	assert.Equal(t, 10, alloc.CurrentMax)
}

func TestPoolAllocator_HealthyClampedToOne(t *testing.T) {
	a := NewPoolAllocator()
	a.CalculatePoolSizes("k1", 30, 10, []string{"n1", "n2", "n3"})

	alloc, ok := a.UpdateHealthyServers("k1", 0)
	require.True(t, ok)
	assert.Equal(t, 1, alloc.HealthyServers, "healthyServers must clamp to 1, never 0")
	assert.Equal(t, 30, alloc.CurrentMax)
}

func TestPoolAllocator_HealthyClampedToTotal(t *testing.T) {
	a := NewPoolAllocator()
	a.CalculatePoolSizes("k1", 30, 10, []string{"n1", "n2", "n3"})

	alloc, ok := a.UpdateHealthyServers("k1", 99)
	require.True(t, ok)
	assert.Equal(t, 3, alloc.HealthyServers)
}

// Invariant 1 (spec.md §8): currentMax*healthyServers >= originalMax.
func TestPoolAllocator_CeilDivPreservesCapacitySum(t *testing.T) {
	a := NewPoolAllocator()
	endpoints := []string{"n1", "n2", "n3", "n4", "n5", "n6", "n7"}
	alloc := a.CalculatePoolSizes("k1", 100, 0, endpoints)
	assert.GreaterOrEqual(t, alloc.CurrentMax*alloc.HealthyServers, alloc.OriginalMax)

	for h := 1; h <= 7; h++ {
		alloc, _ = a.UpdateHealthyServers("k1", h)
		assert.GreaterOrEqual(t, alloc.CurrentMax*alloc.HealthyServers, alloc.OriginalMax)
		assert.GreaterOrEqual(t, alloc.HealthyServers, 1)
		assert.LessOrEqual(t, alloc.HealthyServers, alloc.TotalServers)
	}
}

// Spec.md §4.3: XA coordinator falls back to originalMaxTransactions when
// healthyServers==0, not to a clamped-1 division.
func TestXAAllocator_ZeroHealthyFallsBackToOriginal(t *testing.T) {
	a := NewXAAllocator()
	a.CalculatePoolSizes("xk1", 40, 0, []string{"n1", "n2"})

	alloc, ok := a.UpdateHealthyServers("xk1", 0)
	require.True(t, ok)
	assert.Equal(t, 0, alloc.HealthyServers)
	assert.Equal(t, 40, alloc.CurrentMax, "zero healthy members must fall back to originalMax, not divide by a clamped 1")
}

func TestAllocator_UnknownKeyUpdateIsNoop(t *testing.T) {
	a := NewPoolAllocator()
	_, ok := a.UpdateHealthyServers("nope", 2)
	assert.False(t, ok)
}

func TestRegistry_OnClusterHealthChangeUpdatesBothAllocators(t *testing.T) {
	r := NewRegistry()
	r.Pool.CalculatePoolSizes(PoolKey("conn-a"), 30, 0, []string{"n1", "n2", "n3"})
	r.XA.CalculatePoolSizes(XAKey("conn-a"), 40, 0, []string{"n1", "n2"})

	r.OnClusterHealthChange("conn-a", 2)

	poolAlloc, ok := r.Pool.CurrentAllocation(PoolKey("conn-a"))
	require.True(t, ok)
	assert.Equal(t, 2, poolAlloc.HealthyServers)

	xaAlloc, ok := r.XA.CurrentAllocation(XAKey("conn-a"))
	require.True(t, ok)
	assert.Equal(t, 2, xaAlloc.HealthyServers)
}
