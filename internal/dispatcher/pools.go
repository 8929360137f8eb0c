package dispatcher

import (
	"context"
	"sync"
	"time"

	"github.com/source-build/ojp/internal/backend"
	"github.com/source-build/ojp/internal/coordinator"
	"github.com/source-build/ojp/internal/datasource"
	"github.com/source-build/ojp/internal/segregator"
	"go.uber.org/zap"
	"golang.org/x/sync/singleflight"
)

// connEntry bundles everything keyed by ConnectionHash: the backend pool,
// its slow-query segregator, and the resolved datasource Config used to
// build them (spec.md §4.5 Pool configurer's output).
type connEntry struct {
	pool       *backend.Pool
	segregator *segregator.Segregator
	cfg        datasource.Config
}

// poolRegistry lazily builds one connEntry per ConnectionHash, the first
// time a session is opened against it, and reuses it for every subsequent
// session sharing that connHash.
type poolRegistry struct {
	mu      sync.Mutex
	entries map[string]*connEntry

	// open deduplicates concurrent first-opens of the same ConnectionHash,
	// adapted from the teacher's singleflight.go wrapper around
	// golang.org/x/sync/singleflight: several sessions racing to open the
	// same datasource collapse onto one backend.Open call instead of each
	// taking the double-checked-locking slow path.
	open singleflight.Group

	coordinators *coordinator.Registry
	segCfg       segregator.Config
	log          *zap.Logger
}

func newPoolRegistry(coord *coordinator.Registry, segCfg segregator.Config, log *zap.Logger) *poolRegistry {
	return &poolRegistry{
		entries:      make(map[string]*connEntry),
		coordinators: coord,
		segCfg:       segCfg,
		log:          log,
	}
}

func (r *poolRegistry) get(connHash string) (*connEntry, bool) {
	r.mu.Lock()
	defer r.mu.Unlock()
	e, ok := r.entries[connHash]
	return e, ok
}

// getOrOpen resolves datasource properties into a Config, asks the pool
// coordinator for the current allocation (spec.md §4.2), builds the merged
// PoolSpec (spec.md §4.5), and opens a backend.Pool + Segregator for it.
// endpoints is the cluster roster this connHash should be divided across
// (empty for single-node).
func (r *poolRegistry) getOrOpen(connHash string, props map[string]string, endpoints []string) (*connEntry, error) {
	r.mu.Lock()
	if e, ok := r.entries[connHash]; ok {
		r.mu.Unlock()
		return e, nil
	}
	r.mu.Unlock()

	v, err, _ := r.open.Do(connHash, func() (interface{}, error) {
		r.mu.Lock()
		if e, ok := r.entries[connHash]; ok {
			r.mu.Unlock()
			return e, nil
		}
		r.mu.Unlock()

		cfg, err := datasource.ResolveConfig(props)
		if err != nil {
			return nil, err
		}

		alloc := r.coordinators.Pool.CalculatePoolSizes(coordinator.PoolKey(connHash), cfg.MaximumPoolSize, cfg.MinimumIdle, endpoints)
		spec := datasource.Configure(connHash, cfg, alloc, true, func() int64 { return time.Now().UnixMilli() })

		pool, err := backend.Open(spec, r.log)
		if err != nil {
			return nil, err
		}

		seg := segregator.New(r.segCfg, spec.MaximumPoolSize, connHash)
		go seg.RunAverageFlusher(context.Background())
		e := &connEntry{pool: pool, segregator: seg, cfg: cfg}

		r.mu.Lock()
		r.entries[connHash] = e
		r.mu.Unlock()

		return e, nil
	})
	if err != nil {
		return nil, err
	}
	return v.(*connEntry), nil
}

func (r *poolRegistry) closeAll() {
	r.mu.Lock()
	defer r.mu.Unlock()
	for _, e := range r.entries {
		e.segregator.Stop()
		_ = e.pool.Close()
	}
}
