// Package dispatcher implements the per-RPC entry point (spec.md §4.8):
// auth/IP check, cluster-health forwarding, session resolution,
// circuit-breaker and segregator admission, backend execution, and error
// classification — tying every other component together.
package dispatcher

import (
	"context"
	"database/sql"
	"time"

	"github.com/source-build/ojp/internal/breaker"
	"github.com/source-build/ojp/internal/cluster"
	"github.com/source-build/ojp/internal/coordinator"
	"github.com/source-build/ojp/internal/health"
	"github.com/source-build/ojp/internal/ipwhitelist"
	"github.com/source-build/ojp/internal/ojperr"
	"github.com/source-build/ojp/internal/rpcwire"
	"github.com/source-build/ojp/internal/segregator"
	"github.com/source-build/ojp/internal/session"
	"github.com/source-build/ojp/internal/transport"
	"github.com/source-build/ojp/internal/xa"
	"go.uber.org/zap"
	"google.golang.org/grpc/peer"
)

// Options wires every collaborator a Dispatcher needs. Everything here is
// built once at startup by cmd/ojp-server and shared across RPCs.
type Options struct {
	Whitelist        ipwhitelist.List
	JWTSecret        string
	Cluster          *cluster.Tracker
	Coordinators     *coordinator.Registry
	Sessions         *session.Manager
	Breaker          *breaker.Breaker
	SegregatorConfig segregator.Config
	XA               *xa.Manager
	Health           *health.Registry
	Log              *zap.Logger
	// Endpoints returns the current cluster roster for a datasource, used
	// by the pool coordinator to divide capacity (spec.md §4.2). Returning
	// nil/empty means single-node semantics.
	Endpoints func(connHash string) []string
}

// Dispatcher implements rpcwire.StatementServer and rpcwire.HealthServer.
type Dispatcher struct {
	opt   Options
	pools *poolRegistry
}

func New(opt Options) *Dispatcher {
	if opt.Endpoints == nil {
		opt.Endpoints = func(string) []string { return nil }
	}
	return &Dispatcher{
		opt:   opt,
		pools: newPoolRegistry(opt.Coordinators, opt.SegregatorConfig, opt.Log),
	}
}

// authAndIPCheck implements spec.md §4.8 step 1 plus the domain-stack JWT
// addition ahead of it (SPEC_FULL.md §6.4.8): JWT first (no-op if
// unconfigured), then IP whitelist.
func (d *Dispatcher) authAndIPCheck(ctx context.Context, bearerToken string) error {
	if err := verifyJWT(d.opt.JWTSecret, bearerToken); err != nil {
		return err
	}

	p, ok := peer.FromContext(ctx)
	if !ok || p.Addr == nil {
		return ojperr.New(ojperr.PermissionDenied, "unable to determine remote address")
	}
	if !d.opt.Whitelist.Allowed(p.Addr.String()) {
		return ojperr.New(ojperr.PermissionDenied, "remote address not permitted: "+p.Addr.String())
	}
	return nil
}

// forwardClusterHealth implements spec.md §4.8 step 2: parse the
// piggy-backed blob and, on change, the tracker itself notifies the
// coordinators (cluster.Tracker.OnChange was registered with
// coordinator.Registry.OnClusterHealthChange at startup).
func (d *Dispatcher) forwardClusterHealth(connHash, blob string) {
	if blob == "" {
		return
	}
	d.opt.Cluster.HasHealthChanged(connHash, blob)
}

func descriptorOf(s *session.Session) rpcwire.SessionDescriptor {
	return rpcwire.SessionDescriptor{
		ConnectionHash: s.ConnectionHash,
		ClientID:       s.ClientID,
		SessionID:      s.SessionID,
		IsXA:           s.IsXA,
	}
}

// OpenSession implements spec.md §6 StatementService's session-open
// operation. It resolves or creates a Session (spec.md §4.1), binding a
// freshly acquired backend connection (or XA pair) on creation.
func (d *Dispatcher) OpenSession(ctx context.Context, req *rpcwire.OpenSessionRequest) (*rpcwire.OpenSessionResponse, error) {
	if err := d.authAndIPCheck(ctx, ""); err != nil {
		return nil, rpcwire.ToStatus(err)
	}

	props := transport.DecodeProperties(req.Properties)
	connHash := connectionHash(req.DataSourceName, props)
	d.forwardClusterHealth(connHash, req.ClusterHealth.Blob)

	entry, err := d.pools.getOrOpen(connHash, props, d.opt.Endpoints(connHash))
	if err != nil {
		return nil, rpcwire.ToStatus(err)
	}

	sess, created := d.opt.Sessions.Open(req.ClientID, connHash, req.IsXA)
	if created {
		if req.IsXA {
			res, err := d.opt.XA.Open(ctx, entry.pool, entry.cfg.ConnectionTimeout)
			if err != nil {
				d.opt.Sessions.Close(sess.SessionID, nil)
				return nil, rpcwire.ToStatus(err)
			}
			sess.BindXA(res.Physical, res.Logical, res.ID)
		} else {
			conn, err := entry.pool.Acquire(ctx, entry.cfg.ConnectionTimeout)
			if err != nil {
				d.opt.Sessions.Close(sess.SessionID, nil)
				return nil, rpcwire.ToStatus(err)
			}
			sess.BindConnection(conn)
		}
	}

	return &rpcwire.OpenSessionResponse{Session: descriptorOf(sess)}, nil
}

// CloseSession implements spec.md §4.1's close(sessionId) over the wire.
// Idempotent per spec.md invariant (i): closing an unknown or already
// closed sessionId still succeeds.
func (d *Dispatcher) CloseSession(ctx context.Context, req *rpcwire.CloseSessionRequest) (*rpcwire.CloseSessionResponse, error) {
	if err := d.authAndIPCheck(ctx, ""); err != nil {
		return nil, rpcwire.ToStatus(err)
	}
	d.forwardClusterHealth(req.Session.ConnectionHash, req.ClusterHealth.Blob)

	entry, _ := d.pools.get(req.Session.ConnectionHash)
	d.opt.Sessions.Close(req.Session.SessionID, func(s *session.Session) {
		if entry != nil {
			s.Terminate(entry.pool)
		} else {
			s.Terminate(nil)
		}
	})
	return &rpcwire.CloseSessionResponse{}, nil
}

// resolveSession implements spec.md §4.8 step 3 for every RPC after
// OpenSession: look up by sessionId, SessionNotFound if absent, SessionClosed
// if closed. A resolved session is marked active for idle reaping.
func (d *Dispatcher) resolveSession(sessionID string) (*session.Session, error) {
	sess, err := d.opt.Sessions.Get(sessionID)
	if err != nil {
		return nil, err
	}
	if sess.IsClosed() {
		return nil, ojperr.New(ojperr.SessionClosed, "session "+sessionID+" is closed")
	}
	sess.Touch()
	return sess, nil
}

// Execute implements spec.md §4.8's steps 3-7 for a single statement
// execution: resolve session, admit via breaker, admit via segregator,
// execute, classify outcome, release on every exit path.
func (d *Dispatcher) Execute(ctx context.Context, req *rpcwire.ExecuteRequest) (*rpcwire.ExecuteResponse, error) {
	if err := d.authAndIPCheck(ctx, ""); err != nil {
		return nil, rpcwire.ToStatus(err)
	}
	d.forwardClusterHealth(req.Session.ConnectionHash, req.ClusterHealth.Blob)

	sess, err := d.resolveSession(req.Session.SessionID)
	if err != nil {
		return nil, rpcwire.ToStatus(err)
	}

	connHash := sess.ConnectionHash
	if err := d.opt.Breaker.Admit(connHash); err != nil {
		return nil, rpcwire.ToStatus(err)
	}

	entry, ok := d.pools.get(connHash)
	if !ok {
		return nil, rpcwire.ToStatus(ojperr.New(ojperr.FailedPrecond, "no pool for connHash "+connHash))
	}

	release, _, err := entry.segregator.Acquire(ctx, req.Fingerprint)
	if err != nil {
		return nil, rpcwire.ToStatus(err)
	}
	defer release()

	unlock, err := sess.Lock()
	if err != nil {
		return nil, rpcwire.ToStatus(err)
	}
	defer unlock()

	start := time.Now()
	resp, execErr := d.executeOnConnection(ctx, sess, req)
	elapsed := time.Since(start)
	entry.segregator.Complete(req.Fingerprint, elapsed)

	if execErr != nil {
		kind := ojperr.KindOf(execErr)
		if ojperr.CountsAsBreakerFailure(kind) {
			d.opt.Breaker.RecordFailure(connHash)
		}
		if kind == ojperr.BackendFailure {
			// Only logged: the session keeps its connection, and nothing
			// here releases or evicts it from the pool.
			d.log().Warn("dispatcher: backend failure, connection may be evicted", zap.String("connHash", connHash), zap.Error(execErr))
		}
		return nil, rpcwire.ToStatus(execErr)
	}

	d.opt.Breaker.RecordSuccess(connHash)
	return resp, nil
}

func (d *Dispatcher) log() *zap.Logger {
	if d.opt.Log == nil {
		return zap.NewNop()
	}
	return d.opt.Log
}

// executeOnConnection runs the actual SQL. req.Kind is not consulted: SQL
// that starts with SELECT opens a cursor via QueryContext, registered in the
// session's cursor table for subsequent FetchNext calls; any other SQL goes
// through database/sql's ExecContext.
func (d *Dispatcher) executeOnConnection(ctx context.Context, sess *session.Session, req *rpcwire.ExecuteRequest) (*rpcwire.ExecuteResponse, error) {
	handle := sess.RawConn()
	if handle == nil {
		return nil, ojperr.New(ojperr.FailedPrecond, "session has no bound connection")
	}
	conn := handle.Raw()

	args := paramsToArgs(req.Params)

	if looksLikeQuery(req.SQL) {
		rows, err := conn.QueryContext(ctx, req.SQL, args...)
		if err != nil {
			return nil, classifyBackendErr(ctx, err)
		}
		cursorID, err := sess.AddCursor(session.CursorResultSet, rows, func() error { return rows.Close() })
		if err != nil {
			_ = rows.Close()
			return nil, err
		}
		return &rpcwire.ExecuteResponse{ResultSetCursorID: cursorID}, nil
	}

	result, err := conn.ExecContext(ctx, req.SQL, args...)
	if err != nil {
		return nil, classifyBackendErr(ctx, err)
	}
	updateCount, _ := result.RowsAffected()
	return &rpcwire.ExecuteResponse{UpdateCount: updateCount}, nil
}

func classifyBackendErr(ctx context.Context, err error) error {
	if ctx.Err() == context.Canceled {
		return ojperr.Wrap(ojperr.Cancelled, err)
	}
	if ctx.Err() == context.DeadlineExceeded {
		return ojperr.Wrap(ojperr.Timeout, err)
	}
	return ojperr.Wrap(ojperr.BackendFailure, err)
}

func paramsToArgs(params []transport.Value) []interface{} {
	args := make([]interface{}, len(params))
	for i, p := range params {
		args[i] = valueToDriverArg(p)
	}
	return args
}

func valueToDriverArg(v transport.Value) interface{} {
	switch v.Kind {
	case transport.KindNum:
		return v.Num
	case transport.KindStr:
		return v.Str
	case transport.KindBool:
		return v.Bool
	case transport.KindNil:
		return nil
	default:
		return v.Str
	}
}

func looksLikeQuery(sql string) bool {
	for i := 0; i < len(sql); i++ {
		switch sql[i] {
		case ' ', '\t', '\n', '\r':
			continue
		default:
			return (sql[i] == 'S' || sql[i] == 's') && len(sql) >= i+6 &&
				(sql[i:i+6] == "SELECT" || sql[i:i+6] == "select" || sql[i:i+6] == "Select")
		}
	}
	return false
}

// FetchNext implements spec.md §6's fetch-next-batch streaming RPC,
// yielding between batches so cancellation is observable (spec.md §5).
func (d *Dispatcher) FetchNext(req *rpcwire.FetchRequest, stream rpcwire.StatementFetchNextServer) error {
	sess, err := d.resolveSession(req.Session.SessionID)
	if err != nil {
		return rpcwire.ToStatus(err)
	}

	cur, err := sess.GetCursor(req.CursorID)
	if err != nil {
		return rpcwire.ToStatus(err)
	}
	rows, ok := cur.Handle.(*sql.Rows)
	if !ok {
		return rpcwire.ToStatus(ojperr.New(ojperr.InvalidArgument, "cursor is not a result set"))
	}

	cols, err := rows.Columns()
	if err != nil {
		return rpcwire.ToStatus(classifyBackendErr(stream.Context(), err))
	}

	batchSize := req.BatchSize
	if batchSize <= 0 {
		batchSize = 100
	}

	for {
		select {
		case <-stream.Context().Done():
			return rpcwire.ToStatus(ojperr.Wrap(ojperr.Cancelled, stream.Context().Err()))
		default:
		}

		batch := make([][]transport.Value, 0, batchSize)
		for len(batch) < batchSize && rows.Next() {
			row, err := scanRow(rows, len(cols))
			if err != nil {
				return rpcwire.ToStatus(classifyBackendErr(stream.Context(), err))
			}
			batch = append(batch, row)
		}

		hasMore := len(batch) == batchSize
		if err := stream.Send(&rpcwire.FetchResponse{Rows: batch, HasMore: hasMore}); err != nil {
			return err
		}
		if !hasMore {
			return nil
		}
	}
}

func scanRow(rows *sql.Rows, numCols int) ([]transport.Value, error) {
	dest := make([]interface{}, numCols)
	for i := range dest {
		dest[i] = new(interface{})
	}
	if err := rows.Scan(dest...); err != nil {
		return nil, err
	}
	out := make([]transport.Value, numCols)
	for i, d := range dest {
		out[i] = driverValueToValue(*(d.(*interface{})))
	}
	return out, nil
}

func driverValueToValue(v interface{}) transport.Value {
	switch t := v.(type) {
	case nil:
		return transport.NewNil()
	case int64:
		return transport.NewNum(float64(t))
	case float64:
		return transport.NewNum(t)
	case bool:
		return transport.NewBool(t)
	case []byte:
		return transport.NewStr(string(t))
	case string:
		return transport.NewStr(t)
	default:
		return transport.NewStr("")
	}
}

// XAControl implements spec.md §6's XA start/end/prepare/commit/rollback/
// recover verbs, dispatching each to the matching method on the session's
// bound xa.Resource (internal/xa) and classifying failures the same way as
// Execute: a BackendFailure/Timeout counts against the breaker, everything
// else (InvalidArgument, Cancelled, ...) does not.
func (d *Dispatcher) XAControl(ctx context.Context, req *rpcwire.XARequest) (*rpcwire.XAResponse, error) {
	if err := d.authAndIPCheck(ctx, ""); err != nil {
		return nil, rpcwire.ToStatus(err)
	}
	d.forwardClusterHealth(req.Session.ConnectionHash, req.ClusterHealth.Blob)

	sess, err := d.resolveSession(req.Session.SessionID)
	if err != nil {
		return nil, rpcwire.ToStatus(err)
	}
	if !sess.IsXA {
		return nil, rpcwire.ToStatus(ojperr.New(ojperr.FailedPrecond, "session is not an XA session"))
	}

	res := sess.XAResource()
	if res == nil {
		return nil, rpcwire.ToStatus(ojperr.New(ojperr.FailedPrecond, "session has no bound XA resource"))
	}

	unlock, err := sess.Lock()
	if err != nil {
		return nil, rpcwire.ToStatus(err)
	}
	defer unlock()

	// XA verbs bypass the slow-query segregator entirely (Open Question in
	// spec.md §9, resolved in DESIGN.md): they operate on an
	// already-established transaction branch rather than arbitrary client
	// SQL, so fast/slow lane classification doesn't apply. They are still
	// admitted through the circuit breaker like any other backend call on
	// connHash, since a failing XA verb is exactly the kind of backend
	// distress the breaker exists to detect.
	connHash := sess.ConnectionHash
	if err := d.opt.Breaker.Admit(connHash); err != nil {
		return nil, rpcwire.ToStatus(err)
	}

	resp, execErr := d.executeXAVerb(ctx, res, req)
	if execErr != nil {
		kind := ojperr.KindOf(execErr)
		if ojperr.CountsAsBreakerFailure(kind) {
			d.opt.Breaker.RecordFailure(connHash)
		}
		return nil, rpcwire.ToStatus(execErr)
	}

	d.opt.Breaker.RecordSuccess(connHash)
	return resp, nil
}

// executeXAVerb performs the single 2PC verb req.Verb names against res.
func (d *Dispatcher) executeXAVerb(ctx context.Context, res *xa.Resource, req *rpcwire.XARequest) (*rpcwire.XAResponse, error) {
	switch req.Verb {
	case rpcwire.XAStart:
		if err := res.Start(ctx, req.XID); err != nil {
			return nil, err
		}
		return &rpcwire.XAResponse{}, nil
	case rpcwire.XAEnd:
		if err := res.End(ctx, req.XID); err != nil {
			return nil, err
		}
		return &rpcwire.XAResponse{}, nil
	case rpcwire.XAPrepare:
		if err := res.Prepare(ctx, req.XID); err != nil {
			return nil, err
		}
		return &rpcwire.XAResponse{}, nil
	case rpcwire.XACommit:
		if err := res.Commit(ctx, req.XID, req.OnePhase); err != nil {
			return nil, err
		}
		return &rpcwire.XAResponse{}, nil
	case rpcwire.XARollback:
		if err := res.Rollback(ctx, req.XID); err != nil {
			return nil, err
		}
		return &rpcwire.XAResponse{}, nil
	case rpcwire.XARecover:
		recovered, err := res.Recover(ctx)
		if err != nil {
			return nil, err
		}
		return &rpcwire.XAResponse{Recovered: recovered}, nil
	default:
		return nil, ojperr.New(ojperr.InvalidArgument, "unknown XA verb")
	}
}

// LOBRead/LOBWrite implement spec.md §6's large-object transfer RPCs over
// a session's LOB cursor table.
func (d *Dispatcher) LOBRead(ctx context.Context, req *rpcwire.LOBReadRequest) (*rpcwire.LOBReadResponse, error) {
	sess, err := d.resolveSession(req.Session.SessionID)
	if err != nil {
		return nil, rpcwire.ToStatus(err)
	}
	cur, err := sess.GetCursor(req.CursorID)
	if err != nil {
		return nil, rpcwire.ToStatus(err)
	}
	data, _ := cur.Handle.([]byte)
	end := req.Offset + int64(req.Length)
	if end > int64(len(data)) {
		end = int64(len(data))
	}
	if req.Offset >= int64(len(data)) {
		return &rpcwire.LOBReadResponse{Data: []byte{}}, nil
	}
	return &rpcwire.LOBReadResponse{Data: data[req.Offset:end]}, nil
}

func (d *Dispatcher) LOBWrite(ctx context.Context, req *rpcwire.LOBWriteRequest) (*rpcwire.LOBWriteResponse, error) {
	sess, err := d.resolveSession(req.Session.SessionID)
	if err != nil {
		return nil, rpcwire.ToStatus(err)
	}
	cur, err := sess.GetCursor(req.CursorID)
	if err != nil {
		return nil, rpcwire.ToStatus(err)
	}
	data, _ := cur.Handle.([]byte)
	needed := req.Offset + int64(len(req.Data))
	if needed > int64(len(data)) {
		grown := make([]byte, needed)
		copy(grown, data)
		data = grown
	}
	copy(data[req.Offset:], req.Data)
	cur.Handle = data
	return &rpcwire.LOBWriteResponse{BytesWritten: len(req.Data)}, nil
}

// ReapIdleSessions implements spec.md §4.1's reap(now): idle sessions are
// terminated and their connections released back to the correct pool.
func (d *Dispatcher) ReapIdleSessions(now time.Time) []string {
	return d.opt.Sessions.Reap(now, func(s *session.Session) {
		entry, _ := d.pools.get(s.ConnectionHash)
		if entry != nil {
			s.Terminate(entry.pool)
		} else {
			s.Terminate(nil)
		}
	})
}

// Shutdown closes every pool this dispatcher opened, for use during server
// graceful shutdown.
func (d *Dispatcher) Shutdown() {
	d.pools.closeAll()
}

// Check implements HealthService (spec.md §6).
func (d *Dispatcher) Check(ctx context.Context, req *rpcwire.HealthCheckRequest) (*rpcwire.HealthCheckResponse, error) {
	status := d.opt.Health.Get(req.Service)
	return &rpcwire.HealthCheckResponse{Status: status.String()}, nil
}

func connectionHash(dataSourceName string, props map[string]string) string {
	return dataSourceName + "|" + props["user"]
}
