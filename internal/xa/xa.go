// Package xa implements the XA manager and XA resource wrapper (spec.md
// §3/§7): distributed (two-phase-commit) transaction support layered over
// backend.Pool. Initialization failure is non-fatal to the server (spec.md
// §7: "logged, server continues"); it only prevents subsequent XA session
// opens, which fail with FailedPrecondition.
//
// Retry/backoff during manager bootstrap is grounded on the teacher's
// grpc.go GrpcDialContext retry.Do usage (avast/retry-go/v4).
package xa

import (
	"context"
	"strings"
	"sync"
	"time"

	"github.com/avast/retry-go/v4"
	"github.com/google/uuid"
	"github.com/source-build/ojp/internal/backend"
	"github.com/source-build/ojp/internal/ojperr"
	"go.uber.org/zap"
)

// Resource wraps one XA-capable backend connection pair: a physical
// connection the XA protocol operates on, and a logical connection the
// application issues statements against. Session owns the pair; Resource
// only knows how to drive XA verbs against the physical side.
type Resource struct {
	ID         string
	Physical   *backend.Conn
	Logical    *backend.Conn
}

// Manager is the XA manager (spec.md §3/§7). It is created once at startup;
// if initialization fails, Available() reports false and every subsequent
// Open call fails with FailedPrecondition, but the server keeps running.
type Manager struct {
	mu        sync.Mutex
	available bool
	initErr   error
	log       *zap.Logger
}

// Init attempts XA manager bootstrap via connect, retrying per retryAttempts
// with retry-go's backoff. Failure is logged and recorded, not returned as
// a fatal error to the caller — the caller is expected to continue server
// startup regardless (spec.md §7).
func Init(ctx context.Context, retryAttempts uint, connect func(context.Context) error, log *zap.Logger) *Manager {
	m := &Manager{log: log}

	err := retry.Do(
		func() error { return connect(ctx) },
		retry.Attempts(retryAttempts),
		retry.Context(ctx),
	)
	if err != nil {
		m.initErr = err
		log.Error("xa: manager initialization failed, XA sessions will be unavailable", zap.Error(err))
		return m
	}

	m.available = true
	return m
}

func (m *Manager) Available() bool {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.available
}

// Open creates a new XA Resource bound to a physical/logical connection
// pair acquired from pool. Fails with FailedPrecondition carrying a clear
// reason if the manager never initialized successfully (spec.md §7).
func (m *Manager) Open(ctx context.Context, pool *backend.Pool, timeout time.Duration) (*Resource, error) {
	if !m.Available() {
		return nil, ojperr.New(ojperr.FailedPrecond, "xa manager unavailable: "+m.initErrString())
	}

	physical, err := pool.Acquire(ctx, timeout)
	if err != nil {
		return nil, err
	}
	logical, err := pool.Acquire(ctx, timeout)
	if err != nil {
		_ = pool.Release(physical, false)
		return nil, err
	}

	return &Resource{
		ID:       uuid.NewString(),
		Physical: physical,
		Logical:  logical,
	}, nil
}

func (m *Manager) initErrString() string {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.initErr == nil {
		return "unknown reason"
	}
	return m.initErr.Error()
}

// Close releases only the physical connection of an XA resource (spec.md
// §3 invariant ii) — the logical connection's lifecycle belongs to the
// Session, not the Resource, and closing it here would toggle autocommit
// state the Resource does not own.
func (r *Resource) Close(pool *backend.Pool) error {
	if r.Physical == nil {
		return nil
	}
	return pool.Release(r.Physical, false)
}

// The six two-phase-commit verbs spec.md §6 lists (XA start/end/prepare/
// commit/rollback/recover) are driven as literal "XA ..." SQL statements
// issued on the physical connection, the same mechanism MySQL's own XA
// support exposes on the wire (there is no driver-level XA API in
// database/sql to call instead). Xid values are client-supplied and are
// quoted, not interpolated unescaped, before reaching the backend.

func (r *Resource) physicalConn() (*backend.Conn, error) {
	if r.Physical == nil {
		return nil, ojperr.New(ojperr.FailedPrecond, "xa resource has no physical connection")
	}
	return r.Physical, nil
}

func (r *Resource) exec(ctx context.Context, stmt string) error {
	conn, err := r.physicalConn()
	if err != nil {
		return err
	}
	_, err = conn.Raw().ExecContext(ctx, stmt)
	if err != nil {
		return classifyExecErr(ctx, err)
	}
	return nil
}

// Start issues XA START, beginning a branch of the distributed transaction
// identified by xid on this resource's physical connection.
func (r *Resource) Start(ctx context.Context, xid string) error {
	return r.exec(ctx, "XA START "+quoteXID(xid))
}

// End issues XA END, closing the active branch for xid prior to prepare.
func (r *Resource) End(ctx context.Context, xid string) error {
	return r.exec(ctx, "XA END "+quoteXID(xid))
}

// Prepare issues XA PREPARE, the first phase of two-phase commit.
func (r *Resource) Prepare(ctx context.Context, xid string) error {
	return r.exec(ctx, "XA PREPARE "+quoteXID(xid))
}

// Commit issues XA COMMIT, optionally with ONE PHASE when the transaction
// manager chose to skip prepare for a single-resource transaction.
func (r *Resource) Commit(ctx context.Context, xid string, onePhase bool) error {
	stmt := "XA COMMIT " + quoteXID(xid)
	if onePhase {
		stmt += " ONE PHASE"
	}
	return r.exec(ctx, stmt)
}

// Rollback issues XA ROLLBACK, discarding xid's branch.
func (r *Resource) Rollback(ctx context.Context, xid string) error {
	return r.exec(ctx, "XA ROLLBACK "+quoteXID(xid))
}

// Recover issues XA RECOVER and returns the xid of every in-doubt
// transaction the backend currently holds prepared, for crash-recovery
// sweeps (spec.md §6's "recover" verb).
func (r *Resource) Recover(ctx context.Context) ([]string, error) {
	conn, err := r.physicalConn()
	if err != nil {
		return nil, err
	}
	rows, err := conn.Raw().QueryContext(ctx, "XA RECOVER")
	if err != nil {
		return nil, classifyExecErr(ctx, err)
	}
	defer rows.Close()

	var recovered []string
	for rows.Next() {
		var formatID, gtridLen, bqualLen int64
		var data []byte
		if err := rows.Scan(&formatID, &gtridLen, &bqualLen, &data); err != nil {
			return nil, classifyExecErr(ctx, err)
		}
		recovered = append(recovered, string(data))
	}
	if err := rows.Err(); err != nil {
		return nil, classifyExecErr(ctx, err)
	}
	return recovered, nil
}

// quoteXID wraps an xid in single quotes for inclusion in an XA SQL
// statement, escaping any embedded quote so a client-chosen xid cannot
// break out of the literal.
func quoteXID(xid string) string {
	return "'" + strings.ReplaceAll(xid, "'", "''") + "'"
}

// classifyExecErr mirrors the dispatcher's own backend-error classification
// (internal/dispatcher.classifyBackendErr) for the 2PC verbs, which run
// outside the dispatcher's executeOnConnection path: cancellation and
// deadline expiry are distinguished from a genuine backend fault so the
// dispatcher's breaker accounting (spec.md §7) stays correct once it
// classifies the error this function returns.
func classifyExecErr(ctx context.Context, err error) error {
	if ctx.Err() == context.Canceled {
		return ojperr.Wrap(ojperr.Cancelled, err)
	}
	if ctx.Err() == context.DeadlineExceeded {
		return ojperr.Wrap(ojperr.Timeout, err)
	}
	return ojperr.Wrap(ojperr.BackendFailure, err)
}
