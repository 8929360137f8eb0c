// Package health implements the per-service serving-status registry
// spec.md §6 exposes (OJP_SERVER, OPENTELEMETRY_SERVICE, ...), plus a
// background host-resource watcher grounded on the teacher's monitor.go
// (shirou/gopsutil) that degrades OJP_SERVER to NOT_SERVING under host
// memory/CPU exhaustion (SPEC_FULL.md §6, domain-stack addition).
package health

import (
	"context"
	"sync"
	"time"

	"github.com/shirou/gopsutil/v3/cpu"
	"github.com/shirou/gopsutil/v3/mem"
	"go.uber.org/zap"
)

// Status is one of {SERVING, NOT_SERVING, UNKNOWN} per spec.md §6.
type Status int

const (
	Unknown Status = iota
	Serving
	NotServing
)

func (s Status) String() string {
	switch s {
	case Serving:
		return "SERVING"
	case NotServing:
		return "NOT_SERVING"
	default:
		return "UNKNOWN"
	}
}

const (
	ServiceOJPServer    = "OJP_SERVER"
	ServiceOpenTelemetry = "OPENTELEMETRY_SERVICE"
)

// Registry is the explicit lifecycle object spec.md §9's design notes call
// for in place of a process-wide health singleton: created once at startup
// and passed by reference into every component that reports status.
type Registry struct {
	mu       sync.RWMutex
	statuses map[string]Status
}

func NewRegistry() *Registry {
	return &Registry{statuses: map[string]Status{
		ServiceOJPServer:     Unknown,
		ServiceOpenTelemetry: Unknown,
	}}
}

func (r *Registry) Set(service string, status Status) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.statuses[service] = status
}

func (r *Registry) Get(service string) Status {
	r.mu.RLock()
	defer r.mu.RUnlock()
	if s, ok := r.statuses[service]; ok {
		return s
	}
	return Unknown
}

// ResourceWatchConfig tunes the optional background watcher that degrades
// OJP_SERVER when the host is under memory/CPU pressure.
type ResourceWatchConfig struct {
	Interval        time.Duration
	MemoryThreshold float64 // percent used, 0..100
	CPUThreshold    float64 // percent used, 0..100
}

// WatchHostResources runs until ctx is cancelled, sampling host memory and
// CPU usage (github.com/shirou/gopsutil/v3, teacher monitor.go) and setting
// OJP_SERVER to NOT_SERVING when either threshold is breached, SERVING
// otherwise. It never sets Unknown once started — Unknown is reserved for
// services no watcher has reported on yet.
func (r *Registry) WatchHostResources(ctx context.Context, cfg ResourceWatchConfig, log *zap.Logger) {
	if cfg.Interval <= 0 {
		cfg.Interval = 15 * time.Second
	}
	if cfg.MemoryThreshold <= 0 {
		cfg.MemoryThreshold = 95
	}
	if cfg.CPUThreshold <= 0 {
		cfg.CPUThreshold = 95
	}

	ticker := time.NewTicker(cfg.Interval)
	defer ticker.Stop()

	r.Set(ServiceOJPServer, Serving)

	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			healthy := true

			if vm, err := mem.VirtualMemory(); err == nil {
				healthy = healthy && vm.UsedPercent < cfg.MemoryThreshold
			} else {
				log.Warn("health: memory sample failed", zap.Error(err))
			}

			if pct, err := cpu.Percent(0, false); err == nil && len(pct) > 0 {
				healthy = healthy && pct[0] < cfg.CPUThreshold
			} else if err != nil {
				log.Warn("health: cpu sample failed", zap.Error(err))
			}

			if healthy {
				r.Set(ServiceOJPServer, Serving)
			} else {
				r.Set(ServiceOJPServer, NotServing)
				log.Warn("health: host resource pressure, serving status degraded")
			}
		}
	}
}
