// Package datasource implements the Datasource-config manager and Pool
// configurer (spec.md §4.5): resolving per-datasource pool parameters from
// client-supplied properties, merging in the coordinator's allocation, and
// producing the resolved configuration a backend.Pool is built from.
package datasource

import (
	"fmt"
	"strconv"
	"time"

	"github.com/go-playground/validator/v10"
	"github.com/source-build/ojp/internal/coordinator"
	"github.com/source-build/ojp/internal/ojperr"
)

// Config is the concrete DatasourceConfig shape implied, but not named, by
// spec.md §4.5 (SPEC_FULL.md §5 supplement).
type Config struct {
	DataSourceName    string        `validate:"required"`
	MaximumPoolSize   int           `validate:"required,min=1"`
	MinimumIdle       int           `validate:"min=0"`
	IdleTimeout       time.Duration `validate:"min=0"`
	MaxLifetime       time.Duration `validate:"min=0"`
	ConnectionTimeout time.Duration `validate:"required,min=1"`
}

// defaults mirror HikariCP-style sane fallbacks referenced in spec.md §4.5
// ("documented defaults"); these are the values used when a client-supplied
// property is absent.
const (
	DefaultMaximumPoolSize   = 10
	DefaultMinimumIdle       = 10
	DefaultIdleTimeout       = 10 * time.Minute
	DefaultMaxLifetime       = 30 * time.Minute
	DefaultConnectionTimeout = 30 * time.Second
)

var validate = validator.New()

// ResolveConfig builds a Config from client-supplied properties (as decoded
// by transport.DecodeProperties), applying defaults for anything absent,
// then validates the result.
func ResolveConfig(props map[string]string) (Config, error) {
	cfg := Config{
		DataSourceName:    props["dataSourceName"],
		MaximumPoolSize:   intProp(props, "maximumPoolSize", DefaultMaximumPoolSize),
		MinimumIdle:       intProp(props, "minimumIdle", DefaultMinimumIdle),
		IdleTimeout:       durationMsProp(props, "idleTimeout", DefaultIdleTimeout),
		MaxLifetime:       durationMsProp(props, "maxLifetime", DefaultMaxLifetime),
		ConnectionTimeout: durationMsProp(props, "connectionTimeout", DefaultConnectionTimeout),
	}

	if err := validate.Struct(cfg); err != nil {
		return Config{}, ojperr.Wrap(ojperr.InvalidArgument, err)
	}
	return cfg, nil
}

func intProp(props map[string]string, key string, def int) int {
	v, ok := props[key]
	if !ok || v == "" {
		return def
	}
	n, err := strconv.Atoi(v)
	if err != nil {
		return def
	}
	return n
}

func durationMsProp(props map[string]string, key string, def time.Duration) time.Duration {
	v, ok := props[key]
	if !ok || v == "" {
		return def
	}
	n, err := strconv.Atoi(v)
	if err != nil {
		return def
	}
	return time.Duration(n) * time.Millisecond
}

// Fixed operational defaults the pool configurer installs unconditionally,
// regardless of client-supplied properties (spec.md §4.5).
const (
	PreparedStatementCacheEnabled = true
	LeakDetectionThreshold        = 60 * time.Second
	ValidationTimeout             = 5 * time.Second
	InitializationFailTimeout     = 10 * time.Second
)

// PoolSpec is the fully resolved configuration a backend.Pool is
// constructed from: client-requested parameters merged with the
// coordinator's currently advertised allocation and the fixed operational
// defaults above.
type PoolSpec struct {
	Name                   string
	DataSourceName         string
	MaximumPoolSize        int
	MinimumIdle            int
	IdleTimeout            time.Duration
	MaxLifetime            time.Duration
	ConnectionTimeout      time.Duration
	PreparedStatementCache bool
	LeakDetectionThreshold time.Duration
	ValidationTimeout      time.Duration
	InitFailTimeout        time.Duration
}

// nowMillis is injected rather than read from time.Now directly so
// Configure's naming is deterministically testable; production callers
// pass time.Now().UnixMilli().
type EpochMillisFunc func() int64

// Configure merges a resolved datasource Config with the coordinator's
// current allocation for connHash, producing the PoolSpec the backend pool
// layer is built from. If the coordinator has no allocation yet for this
// key (first time this datasource is seen), cfg's own values stand as the
// single-node allocation.
func Configure(connHash string, cfg Config, alloc coordinator.Allocation, hasAlloc bool, nowMillis EpochMillisFunc) PoolSpec {
	maxSize := cfg.MaximumPoolSize
	minIdle := cfg.MinimumIdle
	if hasAlloc {
		maxSize = alloc.CurrentMax
		minIdle = alloc.CurrentMinIdle
	}

	return PoolSpec{
		Name:                   fmt.Sprintf("OJP-Pool-%s-%d", cfg.DataSourceName, nowMillis()),
		DataSourceName:         cfg.DataSourceName,
		MaximumPoolSize:        maxSize,
		MinimumIdle:            minIdle,
		IdleTimeout:            cfg.IdleTimeout,
		MaxLifetime:            cfg.MaxLifetime,
		ConnectionTimeout:      cfg.ConnectionTimeout,
		PreparedStatementCache: PreparedStatementCacheEnabled,
		LeakDetectionThreshold: LeakDetectionThreshold,
		ValidationTimeout:      ValidationTimeout,
		InitFailTimeout:        InitializationFailTimeout,
	}
}
