// Package config loads OJP's immutable process-wide settings (spec.md §6).
// It is grounded on the teacher toolkit's viper.go (NewReadInConfig): viper
// remains the engine, but OJP additionally binds every recognized key to its
// environment-variable name (dot -> underscore, upper-case) so every config
// surface key in spec.md §6 is readable from either source.
//
// viper's own precedence (Set > Flag > Env > Config file > KV > Default) is
// fixed and cannot be changed by registration order or by calling BindEnv
// first: AutomaticEnv always outranks a loaded config file, the opposite of
// spec.md §6's "process-wide config wins" rule. Load works around this by
// reading the file into its own viper instance with no env binding at all,
// then re-applying every key that file actually set via v.Set, which does
// outrank env, making the file authoritative the way the spec requires.
package config

import (
	"fmt"
	"strings"
	"time"

	"github.com/spf13/viper"
)

// Config is the resolved, immutable snapshot of process settings. Nothing
// mutates it after Load returns; components needing change-over-time
// (coordinator allocations, breaker state, ...) hold their own mutable
// state seeded from this snapshot, not a live pointer into it.
type Config struct {
	ServerPort                int
	PrometheusPort            int
	OpenTelemetryEnabled      bool
	OpenTelemetryEndpoint     string
	ThreadPoolSize            int
	MaxRequestSize            int
	LogLevel                  string
	AllowedIPs                []string
	ConnectionIdleTimeout     time.Duration
	PrometheusAllowedIPs      []string
	CircuitBreakerTimeout     time.Duration
	CircuitBreakerThreshold   int
	SlowQuerySegregation      SlowQuerySegregationConfig
	AuthJWTSecret             string
	AuthJWTRequired           bool
	ClusterMembersEtcdEndpts  []string
}

type SlowQuerySegregationConfig struct {
	Enabled                  bool
	SlowSlotPercentage        int
	IdleTimeout               time.Duration
	SlowSlotTimeout            time.Duration
	FastSlotTimeout            time.Duration
	UpdateGlobalAvgInterval   time.Duration
	SlowThresholdMultiplier   float64
	FingerprintCacheSize       int
}

// keyDefault pairs a dotted config key with its documented default. Order
// matters only for readability; viper resolves keys independently.
type keyDefault struct {
	key string
	def interface{}
}

var defaults = []keyDefault{
	{"server.port", 1407},
	{"prometheus.port", 9159},
	{"opentelemetry.enabled", true},
	{"opentelemetry.endpoint", ""},
	{"threadPoolSize", 200},
	{"maxRequestSize", 4 * 1024 * 1024},
	{"logLevel", "INFO"},
	{"allowedIps", "*"},
	{"connectionIdleTimeout", 30000},
	{"prometheusAllowedIps", "*"},
	{"circuitBreakerTimeout", 60000},
	{"circuitBreakerThreshold", 3},
	{"slowQuerySegregation.enabled", true},
	{"slowQuerySegregation.slowSlotPercentage", 20},
	{"slowQuerySegregation.idleTimeout", 10000},
	{"slowQuerySegregation.slowSlotTimeout", 120000},
	{"slowQuerySegregation.fastSlotTimeout", 60000},
	{"slowQuerySegregation.updateGlobalAvgInterval", 300},
	{"slowQuerySegregation.slowThresholdMultiplier", 2.0},
	{"slowQuerySegregation.fingerprintCacheSize", 4096},
	{"auth.jwtSecret", ""},
	{"auth.jwtRequired", false},
	{"clusterMembers.etcdEndpoints", ""},
}

// Load resolves Config from an optional file plus the process environment,
// with the file winning on any key it sets explicitly.
//
// file may be "" to skip file loading entirely (environment + defaults
// only), matching the teacher's NewReadInConfig's tolerance for an absent
// config file in lightweight deployments.
func Load(file string) (*Config, error) {
	v := viper.New()
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	v.AutomaticEnv()

	for _, kd := range defaults {
		v.SetDefault(kd.key, kd.def)
		_ = v.BindEnv(kd.key)
	}

	if file != "" {
		// Read the file into a dedicated instance with no AutomaticEnv/BindEnv
		// of its own, so fileV.IsSet only ever reflects what the file itself
		// set (never an environment fallback). Every key the file sets is
		// then pushed into v via Set, which outranks v's own AutomaticEnv
		// read — the only way to make "config file wins over environment"
		// hold given viper's fixed precedence order.
		fileV := viper.New()
		fileV.SetConfigFile(file)
		if err := fileV.ReadInConfig(); err != nil {
			return nil, fmt.Errorf("config: read %s: %w", file, err)
		}
		for _, kd := range defaults {
			if fileV.IsSet(kd.key) {
				v.Set(kd.key, fileV.Get(kd.key))
			}
		}
	}

	cfg := &Config{
		ServerPort:              v.GetInt("server.port"),
		PrometheusPort:          v.GetInt("prometheus.port"),
		OpenTelemetryEnabled:    v.GetBool("opentelemetry.enabled"),
		OpenTelemetryEndpoint:   v.GetString("opentelemetry.endpoint"),
		ThreadPoolSize:          v.GetInt("threadPoolSize"),
		MaxRequestSize:          v.GetInt("maxRequestSize"),
		LogLevel:                v.GetString("logLevel"),
		AllowedIPs:              splitCSV(v.GetString("allowedIps")),
		ConnectionIdleTimeout:   time.Duration(v.GetInt64("connectionIdleTimeout")) * time.Millisecond,
		PrometheusAllowedIPs:    splitCSV(v.GetString("prometheusAllowedIps")),
		CircuitBreakerTimeout:   time.Duration(v.GetInt64("circuitBreakerTimeout")) * time.Millisecond,
		CircuitBreakerThreshold: v.GetInt("circuitBreakerThreshold"),
		SlowQuerySegregation: SlowQuerySegregationConfig{
			Enabled:                 v.GetBool("slowQuerySegregation.enabled"),
			SlowSlotPercentage:      v.GetInt("slowQuerySegregation.slowSlotPercentage"),
			IdleTimeout:             time.Duration(v.GetInt64("slowQuerySegregation.idleTimeout")) * time.Millisecond,
			SlowSlotTimeout:         time.Duration(v.GetInt64("slowQuerySegregation.slowSlotTimeout")) * time.Millisecond,
			FastSlotTimeout:         time.Duration(v.GetInt64("slowQuerySegregation.fastSlotTimeout")) * time.Millisecond,
			UpdateGlobalAvgInterval: time.Duration(v.GetInt64("slowQuerySegregation.updateGlobalAvgInterval")) * time.Second,
			SlowThresholdMultiplier: v.GetFloat64("slowQuerySegregation.slowThresholdMultiplier"),
			FingerprintCacheSize:    v.GetInt("slowQuerySegregation.fingerprintCacheSize"),
		},
		AuthJWTSecret:            v.GetString("auth.jwtSecret"),
		AuthJWTRequired:          v.GetBool("auth.jwtRequired"),
		ClusterMembersEtcdEndpts: splitCSV(v.GetString("clusterMembers.etcdEndpoints")),
	}

	return cfg, nil
}

func splitCSV(s string) []string {
	s = strings.TrimSpace(s)
	if s == "" {
		return nil
	}
	parts := strings.Split(s, ",")
	out := make([]string, 0, len(parts))
	for _, p := range parts {
		p = strings.TrimSpace(p)
		if p != "" {
			out = append(out, p)
		}
	}
	return out
}
