// Package clustermembers maintains the etcd-backed roster of peer OJP
// instances (SPEC_FULL.md §3/§8 domain-stack addition): each instance
// registers itself under a leased key and watches the same prefix to learn
// about peers, independent of the client-reported ClusterHealth blob
// (spec.md §4.4) which is a per-connection health signal, not a peer
// roster.
//
// Adapted from the teacher's register.go (RegisterService: lease +
// keep-alive + re-register-on-expiry) and etcd.go (raw client helpers),
// rewritten for a watched roster instead of a single push-and-forget
// registration, and logging exclusively through obslog's zap facade
// instead of register.go's logger-or-Printf fallback.
package clustermembers

import (
	"context"
	"encoding/json"
	"fmt"
	"strings"
	"sync"
	"time"

	"github.com/avast/retry-go/v4"
	clientv3 "go.etcd.io/etcd/client/v3"
	"go.uber.org/zap"
)

// Member is one peer OJP instance's advertised address.
type Member struct {
	Addr      string `json:"addr"`
	Timestamp int64  `json:"timestamp"`
}

// Options configures the roster. Prefix namespaces registrations so
// multiple OJP clusters can share one etcd (e.g. "/ojp/members/").
type Options struct {
	Prefix           string
	SelfAddr         string
	LeaseTTLSeconds  int64
	Logger           *zap.Logger
}

// Roster watches Prefix for peer member keys and keeps a local snapshot,
// while also registering (and keeping alive) this instance's own key under
// the same prefix.
type Roster struct {
	opt    Options
	client *clientv3.Client

	mu      sync.RWMutex
	members map[string]Member // key -> Member

	selfKey string
	leaseID clientv3.LeaseID

	closeCh chan struct{}
}

func NewRoster(client *clientv3.Client, opt Options) *Roster {
	if opt.Prefix == "" {
		opt.Prefix = "/ojp/members/"
	}
	if !strings.HasSuffix(opt.Prefix, "/") {
		opt.Prefix += "/"
	}
	if opt.LeaseTTLSeconds < 1 {
		opt.LeaseTTLSeconds = 10
	}
	if opt.Logger == nil {
		opt.Logger = zap.NewNop()
	}
	return &Roster{
		opt:     opt,
		client:  client,
		members: make(map[string]Member),
		closeCh: make(chan struct{}),
	}
}

// Start registers this instance under a leased key, begins the keep-alive
// loop, loads the current roster snapshot, and starts watching for
// changes. Call Stop to unregister and halt watching.
func (r *Roster) Start(ctx context.Context) error {
	if r.opt.SelfAddr != "" {
		if err := r.register(ctx); err != nil {
			return err
		}
		go r.keepAlive(ctx)
	}

	if err := r.loadSnapshot(ctx); err != nil {
		return err
	}
	go r.watch(ctx)
	return nil
}

func (r *Roster) register(ctx context.Context) error {
	grantCtx, cancel := context.WithTimeout(ctx, 10*time.Second)
	defer cancel()

	lease, err := r.client.Grant(grantCtx, r.opt.LeaseTTLSeconds)
	if err != nil {
		return err
	}
	r.leaseID = lease.ID
	r.selfKey = fmt.Sprintf("%s%d", r.opt.Prefix, lease.ID)

	val, err := json.Marshal(Member{Addr: r.opt.SelfAddr, Timestamp: time.Now().Unix()})
	if err != nil {
		return err
	}

	putCtx, cancel2 := context.WithTimeout(ctx, 10*time.Second)
	defer cancel2()
	_, err = r.client.Put(putCtx, r.selfKey, string(val), clientv3.WithLease(r.leaseID))
	return err
}

// keepAlive re-registers on lease expiry, using the same retry-go backoff
// the teacher's GrpcDialContext drives its reconnects with (internal/xa's
// manager bootstrap is grounded on the same call). retry.Attempts(0) means
// retry forever: a roster member simply keeps trying, since cluster
// membership recovering eventually is preferable to the instance exiting.
func (r *Roster) keepAlive(ctx context.Context) {
	keepAliveCh, err := r.client.KeepAlive(ctx, r.leaseID)
	if err != nil {
		r.opt.Logger.Warn("clustermembers: keepalive setup failed", zap.Error(err))
		keepAliveCh = nil
	}

	for {
		select {
		case <-r.closeCh:
			return
		case <-ctx.Done():
			return
		case resp, ok := <-orNilChan(keepAliveCh):
			if ok && resp != nil {
				continue
			}
			r.opt.Logger.Warn("clustermembers: lease keepalive lost, re-registering")

			err := retry.Do(
				func() error { return r.register(ctx) },
				retry.Attempts(0),
				retry.Context(ctx),
				retry.MaxDelay(50*time.Second),
				retry.OnRetry(func(n uint, err error) {
					r.opt.Logger.Warn("clustermembers: re-registration attempt failed",
						zap.Uint("attempt", n), zap.Error(err))
				}),
			)
			if err != nil {
				// Only reachable via ctx cancellation, since Attempts(0) retries
				// forever otherwise.
				return
			}

			keepAliveCh, err = r.client.KeepAlive(ctx, r.leaseID)
			if err != nil {
				r.opt.Logger.Error("clustermembers: keepalive restart failed", zap.Error(err))
				keepAliveCh = nil
			}
		}
	}
}

func orNilChan(ch <-chan *clientv3.LeaseKeepAliveResponse) <-chan *clientv3.LeaseKeepAliveResponse {
	if ch == nil {
		return make(chan *clientv3.LeaseKeepAliveResponse)
	}
	return ch
}

func (r *Roster) loadSnapshot(ctx context.Context) error {
	getCtx, cancel := context.WithTimeout(ctx, 10*time.Second)
	defer cancel()
	resp, err := r.client.Get(getCtx, r.opt.Prefix, clientv3.WithPrefix())
	if err != nil {
		return err
	}

	snapshot := make(map[string]Member, len(resp.Kvs))
	for _, kv := range resp.Kvs {
		var m Member
		if err := json.Unmarshal(kv.Value, &m); err == nil {
			snapshot[string(kv.Key)] = m
		}
	}

	r.mu.Lock()
	r.members = snapshot
	r.mu.Unlock()
	return nil
}

func (r *Roster) watch(ctx context.Context) {
	watchCh := r.client.Watch(ctx, r.opt.Prefix, clientv3.WithPrefix())
	for {
		select {
		case <-r.closeCh:
			return
		case <-ctx.Done():
			return
		case resp := <-watchCh:
			for _, ev := range resp.Events {
				key := string(ev.Kv.Key)
				r.mu.Lock()
				if ev.Type == clientv3.EventTypeDelete {
					delete(r.members, key)
				} else {
					var m Member
					if err := json.Unmarshal(ev.Kv.Value, &m); err == nil {
						r.members[key] = m
					}
				}
				r.mu.Unlock()
			}
		}
	}
}

// Endpoints returns the current roster's advertised addresses, the shape
// the multinode coordinator's CalculatePoolSizes expects (spec.md §4.2).
func (r *Roster) Endpoints() []string {
	r.mu.RLock()
	defer r.mu.RUnlock()
	out := make([]string, 0, len(r.members))
	for _, m := range r.members {
		out = append(out, m.Addr)
	}
	return out
}

func (r *Roster) Stop(ctx context.Context) {
	close(r.closeCh)
	if r.selfKey != "" {
		delCtx, cancel := context.WithTimeout(ctx, 10*time.Second)
		defer cancel()
		_, _ = r.client.Delete(delCtx, r.selfKey)
	}
	if r.leaseID != 0 {
		revCtx, cancel := context.WithTimeout(ctx, 5*time.Second)
		defer cancel()
		_, _ = r.client.Revoke(revCtx, r.leaseID)
	}
}
