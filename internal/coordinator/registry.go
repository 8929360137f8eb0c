package coordinator

// Registry bundles the pool and XA allocators that a cluster.Tracker calls
// back into on health change (spec.md §4.4: "the tracker calls back into
// pool and XA coordinators with the new healthy count"). It exists so
// cmd/ojp-server has one object to build and register with the tracker
// instead of wiring two separate callbacks by hand at every call site.
type Registry struct {
	Pool *Allocator[PoolKey]
	XA   *Allocator[XAKey]
}

func NewRegistry() *Registry {
	return &Registry{
		Pool: NewPoolAllocator(),
		XA:   NewXAAllocator(),
	}
}

// OnClusterHealthChange is the callback shape cluster.Tracker.OnChange
// expects: (connHash string, healthyCount int). It forwards the new count
// to both allocators under the connHash's pool/XA keys, a no-op for any
// key the coordinator hasn't seen a CalculatePoolSizes call for yet (a
// health update for a datasource nothing has requested a pool on does not
// create phantom allocations).
func (r *Registry) OnClusterHealthChange(connHash string, healthyCount int) {
	r.Pool.UpdateHealthyServers(PoolKey(connHash), healthyCount)
	r.XA.UpdateHealthyServers(XAKey(connHash), healthyCount)
}
