package datasource

import (
	"testing"
	"time"

	"github.com/source-build/ojp/internal/coordinator"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestResolveConfig_Defaults(t *testing.T) {
	cfg, err := ResolveConfig(map[string]string{"dataSourceName": "jdbc:mysql://host/db"})
	require.NoError(t, err)
	assert.Equal(t, DefaultMaximumPoolSize, cfg.MaximumPoolSize)
	assert.Equal(t, DefaultMinimumIdle, cfg.MinimumIdle)
	assert.Equal(t, DefaultConnectionTimeout, cfg.ConnectionTimeout)
}

func TestResolveConfig_Overrides(t *testing.T) {
	cfg, err := ResolveConfig(map[string]string{
		"dataSourceName":    "jdbc:mysql://host/db",
		"maximumPoolSize":   "30",
		"minimumIdle":       "5",
		"idleTimeout":       "10000",
		"connectionTimeout": "2000",
	})
	require.NoError(t, err)
	assert.Equal(t, 30, cfg.MaximumPoolSize)
	assert.Equal(t, 5, cfg.MinimumIdle)
	assert.Equal(t, 10*time.Second, cfg.IdleTimeout)
	assert.Equal(t, 2*time.Second, cfg.ConnectionTimeout)
}

func TestResolveConfig_MissingDataSourceNameInvalid(t *testing.T) {
	_, err := ResolveConfig(map[string]string{})
	require.Error(t, err)
}

func TestConfigure_NamesPoolWithEpochMillis(t *testing.T) {
	cfg, err := ResolveConfig(map[string]string{"dataSourceName": "mydb"})
	require.NoError(t, err)

	spec := Configure("conn-a", cfg, coordinator.Allocation{}, false, func() int64 { return 1700000000000 })
	assert.Equal(t, "OJP-Pool-mydb-1700000000000", spec.Name)
	assert.True(t, spec.PreparedStatementCache)
	assert.Equal(t, LeakDetectionThreshold, spec.LeakDetectionThreshold)
}

func TestConfigure_MergesCoordinatorAllocation(t *testing.T) {
	cfg, err := ResolveConfig(map[string]string{"dataSourceName": "mydb", "maximumPoolSize": "30", "minimumIdle": "10"})
	require.NoError(t, err)

	alloc := coordinator.Allocation{CurrentMax: 15, CurrentMinIdle: 5}
	spec := Configure("conn-a", cfg, alloc, true, func() int64 { return 1 })
	assert.Equal(t, 15, spec.MaximumPoolSize)
	assert.Equal(t, 5, spec.MinimumIdle)
}
