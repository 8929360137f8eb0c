package cluster

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestCountHealthy(t *testing.T) {
	assert.Equal(t, 2, CountHealthy("node1=up,node2=down,node3=up"))
	assert.Equal(t, 0, CountHealthy(""))
	assert.Equal(t, 0, CountHealthy("  "))
	assert.Equal(t, 1, CountHealthy("node1=up, malformed, node2=down"))
}

func TestHasHealthChanged_SameBlobNoCallback(t *testing.T) {
	tr := NewTracker()
	calls := 0
	tr.OnChange(func(connHash string, healthy int) { calls++ })

	changed := tr.HasHealthChanged("conn-a", "node1=up,node2=up")
	require.True(t, changed)
	assert.Equal(t, 1, calls)

	changed = tr.HasHealthChanged("conn-a", "node1=up,node2=up")
	assert.False(t, changed)
	assert.Equal(t, 1, calls)

	changed = tr.HasHealthChanged("conn-a", "  node1=up,node2=up  ")
	assert.False(t, changed, "canonicalization must treat surrounding whitespace as equal")
	assert.Equal(t, 1, calls)
}

func TestHasHealthChanged_ChangedBlobFiresOnce(t *testing.T) {
	tr := NewTracker()
	var gotHealthy int
	var gotHash string
	tr.OnChange(func(connHash string, healthy int) {
		gotHash = connHash
		gotHealthy = healthy
	})

	tr.HasHealthChanged("conn-b", "node1=up")
	changed := tr.HasHealthChanged("conn-b", "node1=up,node2=up")
	require.True(t, changed)
	assert.Equal(t, "conn-b", gotHash)
	assert.Equal(t, 2, gotHealthy)
}

func TestHasHealthChanged_IndependentPerConnHash(t *testing.T) {
	tr := NewTracker()
	tr.HasHealthChanged("conn-a", "node1=up")
	changedB := tr.HasHealthChanged("conn-b", "node1=up")
	assert.True(t, changedB, "first observation for a distinct connHash is always a change")
}
