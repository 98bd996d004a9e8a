package reset

import (
	"context"
	"database/sql"
	"database/sql/driver"
	"errors"
	"fmt"
	"time"

	"db_respawn/internal/db"
)

// Conn is what Reset needs from a connection. *sql.DB and *sql.Conn satisfy
// it.
type Conn interface {
	db.Querier
	BeginTx(ctx context.Context, opts *sql.TxOptions) (*sql.Tx, error)
}

// pool is implemented by *sql.DB. Each transaction is run on a connection
// pinned from the pool so its session can be cleaned up before release.
type pool interface {
	Conn(ctx context.Context) (*sql.Conn, error)
}

type step struct {
	stage Stage
	sql   string
}

// Reset empties every table of the plan through conn.
//
// System versioning, when checked, is turned off in its own transaction
// first. The deletes and the reseed then share one transaction, so a failure
// leaves every row in place. Versioning is turned back on in a third
// transaction whenever it was turned off, even if the delete failed or ctx
// was cancelled; a failure there is joined to the returned error.
func (p *Plan) Reset(ctx context.Context, conn Conn) (err error) {
	log := p.opts.logger()
	started := time.Now()

	temporal, err := p.temporalTables(ctx, conn)
	if err != nil {
		return err
	}

	if len(temporal) > 0 {
		off, on, rerr := p.versioning(temporal)
		if rerr != nil {
			return rerr
		}
		if rerr := p.runTx(ctx, conn, step{StageVersioningOff, off}); rerr != nil {
			return rerr
		}
		defer func() {
			if rerr := p.runTx(context.WithoutCancel(ctx), conn, step{StageVersioningOn, on}); rerr != nil {
				log.Error("restore system versioning", "error", rerr)
				err = errors.Join(err, rerr)
			}
		}()
	}

	steps := []step{{StageDelete, p.DeleteSQL}}
	if p.ReseedSQL != "" {
		steps = append(steps, step{StageReseed, p.ReseedSQL})
	}
	if err := p.runTx(ctx, conn, steps...); err != nil {
		log.Error("reset failed", "provider", p.Dialect.Provider(), "error", err)
		return err
	}

	log.Info("reset completed",
		"provider", p.Dialect.Provider(),
		"tables", len(p.Tables),
		"temporal_tables", len(temporal),
		"duration", time.Since(started),
	)
	return nil
}

// ResetDSN opens dsn, resets it and closes the connection. Only plans built
// for Postgres can be replayed this way.
func (p *Plan) ResetDSN(ctx context.Context, dsn string) error {
	if err := requirePostgres(p.Dialect); err != nil {
		return err
	}
	conn, _, err := db.Open(db.ProviderPostgres, dsn)
	if err != nil {
		return err
	}
	defer conn.Close()
	return p.Reset(ctx, conn)
}

func (p *Plan) temporalTables(ctx context.Context, conn Conn) ([]db.TemporalTable, error) {
	if !p.opts.CheckTemporalTables {
		return nil, nil
	}
	var out []db.TemporalTable
	err := withTimeout(ctx, p.opts.CommandTimeout, func(ctx context.Context) (err error) {
		out, err = p.Dialect.ListTemporalTables(ctx, conn, p.opts.Filter)
		return err
	})
	if err != nil {
		return nil, fmt.Errorf("list temporal tables: %w", err)
	}
	return out, nil
}

func (p *Plan) versioning(temporal []db.TemporalTable) (off, on string, err error) {
	if off, err = p.Dialect.RenderVersioning(temporal, false); err != nil {
		return "", "", fmt.Errorf("render versioning: %w", err)
	}
	if on, err = p.Dialect.RenderVersioning(temporal, true); err != nil {
		return "", "", fmt.Errorf("render versioning: %w", err)
	}
	return off, on, nil
}

// runTx executes the steps statement by statement in one transaction.
//
// When a statement fails the transaction is rolled back and session state
// the dialect changed outside it is restored. When the commit itself fails
// the connection may still hold the open transaction, so a pinned connection
// is discarded instead of going back to the pool.
func (p *Plan) runTx(ctx context.Context, conn Conn, steps ...step) error {
	first, last := steps[0].stage, steps[len(steps)-1].stage

	pinned := false
	if pl, ok := conn.(pool); ok {
		c, err := pl.Conn(ctx)
		if err != nil {
			return &ExecutionError{Stage: first, Err: err}
		}
		defer c.Close() // nolint:errcheck
		conn, pinned = c, true
	}

	tx, err := conn.BeginTx(ctx, nil)
	if err != nil {
		return &ExecutionError{Stage: first, Err: err}
	}
	for _, s := range steps {
		for _, stmt := range db.SplitStatements(s.sql) {
			err := withTimeout(ctx, p.opts.CommandTimeout, func(ctx context.Context) error {
				_, err := tx.ExecContext(ctx, stmt)
				return err
			})
			if err != nil {
				tx.Rollback() // nolint:errcheck
				p.restoreSession(ctx, conn, pinned)
				return &ExecutionError{Stage: s.stage, Statement: stmt, Err: err}
			}
		}
	}
	if err := tx.Commit(); err != nil {
		if pinned {
			p.discard(conn)
		} else {
			p.restoreSession(ctx, conn, pinned)
		}
		return &ExecutionError{Stage: last, Err: err}
	}
	return nil
}

// restoreSession runs the dialect's session cleanup on a connection that
// failed mid-script. It only applies to a single connection; on a pool the
// session the script ran in is not reachable any more.
func (p *Plan) restoreSession(ctx context.Context, conn Conn, pinned bool) {
	restorer, ok := p.Dialect.(db.SessionRestorer)
	if !ok {
		return
	}
	c, ok := conn.(*sql.Conn)
	if !ok {
		return
	}
	ctx = context.WithoutCancel(ctx)
	for _, stmt := range restorer.RestoreSession() {
		err := withTimeout(ctx, p.opts.CommandTimeout, func(ctx context.Context) error {
			_, err := c.ExecContext(ctx, stmt)
			return err
		})
		if err != nil {
			p.opts.logger().Error("restore session", "provider", p.Dialect.Provider(), "statement", stmt, "error", err)
			if pinned {
				p.discard(c)
			}
			return
		}
	}
}

// discard closes the driver connection under c so the pool never hands it
// out again.
func (p *Plan) discard(conn Conn) {
	c, ok := conn.(*sql.Conn)
	if !ok {
		return
	}
	p.opts.logger().Error("discarding connection", "provider", p.Dialect.Provider())
	c.Raw(func(any) error { return driver.ErrBadConn }) // nolint:errcheck
}
