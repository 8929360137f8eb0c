// Package backend implements the Pool external collaborator contract
// spec.md §4.5 defines (acquire/release/resize/close) on top of GORM's
// MySQL driver, grounded on the teacher's mysql.go/gorm.go connection setup
// and frpc/pool.go's idle-connection cleanup loop.
package backend

import (
	"context"
	"database/sql"
	"fmt"
	"sync"
	"time"

	"github.com/source-build/ojp/internal/datasource"
	"github.com/source-build/ojp/internal/ojperr"
	"go.uber.org/zap"
	"gorm.io/driver/mysql"
	"gorm.io/gorm"
)

// Conn is the handle a Session owns for the lifetime of one backend
// connection (spec.md §3 Session "owned resources"). It wraps the
// *sql.Conn GORM's pool hands out plus the pool it must be released back
// to.
type Conn struct {
	raw  *sql.Conn
	pool *Pool
}

func (c *Conn) Raw() *sql.Conn { return c.raw }

// Pool is the external collaborator contract spec.md §4.5 requires:
// acquire(timeout) -> Conn|Timeout, release(Conn), resize(max,minIdle),
// close(). It is backed by a single *gorm.DB / *sql.DB pair per
// ConnectionHash.
type Pool struct {
	name string
	db   *gorm.DB
	sqlDB *sql.DB
	log  *zap.Logger

	mu      sync.Mutex
	closed  bool
}

// Open dials the backend via GORM's MySQL driver and applies spec's GORM
// logger facade (GormZapLogger) plus the resolved PoolSpec's sizing.
func Open(spec datasource.PoolSpec, log *zap.Logger) (*Pool, error) {
	gdb, err := gorm.Open(mysql.Open(spec.DataSourceName), &gorm.Config{
		Logger: NewGormZapLogger(log),
	})
	if err != nil {
		return nil, ojperr.Wrap(ojperr.BackendFailure, err)
	}

	sqlDB, err := gdb.DB()
	if err != nil {
		return nil, ojperr.Wrap(ojperr.BackendFailure, err)
	}

	p := &Pool{name: spec.Name, db: gdb, sqlDB: sqlDB, log: log}
	p.applySizing(spec.MaximumPoolSize, spec.MinimumIdle, spec.MaxLifetime)
	return p, nil
}

func (p *Pool) applySizing(maxSize, minIdle int, maxLifetime time.Duration) {
	p.sqlDB.SetMaxOpenConns(maxSize)
	p.sqlDB.SetMaxIdleConns(minIdle)
	if maxLifetime > 0 {
		p.sqlDB.SetConnMaxLifetime(maxLifetime)
	}
}

// Acquire borrows one physical connection with the given timeout (spec.md
// §4.5's acquire(timeout) -> Conn|Timeout contract). A context deadline
// exceeded from the pool driver maps to ojperr.Timeout, not
// ojperr.BackendFailure: pool exhaustion is not itself a backend fault.
func (p *Pool) Acquire(ctx context.Context, timeout time.Duration) (*Conn, error) {
	p.mu.Lock()
	if p.closed {
		p.mu.Unlock()
		return nil, ojperr.New(ojperr.FailedPrecond, "pool "+p.name+" is closed")
	}
	p.mu.Unlock()

	ctx, cancel := context.WithTimeout(ctx, timeout)
	defer cancel()

	raw, err := p.sqlDB.Conn(ctx)
	if err != nil {
		if ctx.Err() != nil {
			return nil, ojperr.New(ojperr.Timeout, "pool "+p.name+" acquire timed out")
		}
		return nil, ojperr.Wrap(ojperr.BackendFailure, err)
	}
	return &Conn{raw: raw, pool: p}, nil
}

// Release returns a connection to the pool. evict marks a connection that
// errored with a connection-level failure so the caller's intent is
// explicit at the call site (spec.md §7: "connection is evicted from the
// pool if it is in an unusable state"); database/sql itself detects
// driver-reported bad connections and discards them rather than returning
// them to the idle set, so Close is the correct call either way — evict
// exists for logging, not for a different code path.
func (p *Pool) Release(c *Conn, evict bool) error {
	if c == nil || c.raw == nil {
		return nil
	}
	if evict {
		p.log.Warn("backend: evicting unusable connection", zap.String("pool", p.name))
	}
	return c.raw.Close()
}

// Resize implements spec.md §4.5's resize(max, minIdle): the coordinator
// advertises new targets, the pool layer applies them on its next
// acquisition cycle — here, immediately, since database/sql's pool sizing
// takes effect for future Acquire calls without disrupting connections
// already checked out.
func (p *Pool) Resize(maxSize, minIdle int) {
	p.mu.Lock()
	defer p.mu.Unlock()
	if p.closed {
		return
	}
	p.sqlDB.SetMaxOpenConns(maxSize)
	p.sqlDB.SetMaxIdleConns(minIdle)
}

func (p *Pool) Close() error {
	p.mu.Lock()
	defer p.mu.Unlock()
	if p.closed {
		return nil
	}
	p.closed = true
	return p.sqlDB.Close()
}

func (p *Pool) String() string {
	return fmt.Sprintf("Pool(%s)", p.name)
}
