package ipwhitelist

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestParse_AllowAll(t *testing.T) {
	l, err := Parse("*")
	require.NoError(t, err)
	assert.True(t, l.Allowed("1.2.3.4"))
	assert.True(t, l.Allowed(""))
}

func TestParse_ExactAndCIDR(t *testing.T) {
	l, err := Parse("10.0.0.5, 192.168.1.0/24")
	require.NoError(t, err)
	assert.True(t, l.Allowed("10.0.0.5"))
	assert.True(t, l.Allowed("192.168.1.42:54321"))
	assert.False(t, l.Allowed("8.8.8.8"))
}

func TestParse_InvalidEntryErrors(t *testing.T) {
	_, err := Parse("10.0.0.5, not-an-ip")
	require.Error(t, err)
	assert.Contains(t, err.Error(), "not-an-ip")
}
