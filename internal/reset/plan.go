// Package reset builds a deletion plan for a database once and replays it to
// empty the database between test runs.
package reset

import (
	"context"
	"fmt"
	"log/slog"
	"time"

	"db_respawn/internal/db"
	"db_respawn/internal/graph"
)

// Logger is the subset of *slog.Logger used here.
type Logger interface {
	Info(msg string, args ...any)
	Error(msg string, args ...any)
}

// Options configures Build.
type Options struct {
	Dialect db.Dialect
	Filter  db.Filter

	// WithReseed resets identity and auto-increment counters after deleting.
	WithReseed bool
	// CheckTemporalTables suspends system versioning around the delete.
	CheckTemporalTables bool
	// CommandTimeout bounds every query and statement. Zero means no bound
	// beyond the caller's context.
	CommandTimeout time.Duration

	FormatDeleteStatement func(graph.Table) string
	Logger                Logger
}

func (o Options) logger() Logger {
	if o.Logger == nil {
		return slog.New(slog.DiscardHandler)
	}
	return o.Logger
}

// Plan is the reusable result of Build. It is not modified by Reset and can
// be replayed any number of times.
type Plan struct {
	Dialect db.Dialect
	Graph   *graph.Graph
	// Tables lists every table in the order it is emptied.
	Tables        []graph.Table
	Relationships []graph.Relationship
	DeleteSQL     string
	ReseedSQL     string

	opts Options
}

// Build discovers the tables and foreign keys reachable through conn and
// renders the statements that empty them.
func Build(ctx context.Context, conn db.Querier, opts Options) (*Plan, error) {
	if err := checkOptions(opts); err != nil {
		return nil, err
	}
	d := opts.Dialect

	var tables []graph.Table
	err := withTimeout(ctx, opts.CommandTimeout, func(ctx context.Context) (err error) {
		tables, err = d.ListTables(ctx, conn, opts.Filter)
		return err
	})
	if err != nil {
		return nil, fmt.Errorf("list tables: %w", err)
	}
	if len(tables) == 0 {
		return nil, &NoTablesFoundError{Provider: d.Provider(), Filter: opts.Filter}
	}

	var rels []graph.Relationship
	err = withTimeout(ctx, opts.CommandTimeout, func(ctx context.Context) (err error) {
		rels, err = d.ListRelationships(ctx, conn, opts.Filter)
		return err
	})
	if err != nil {
		return nil, fmt.Errorf("list relationships: %w", err)
	}

	g := graph.Build(tables, rels)
	p := &Plan{
		Dialect:       d,
		Graph:         g,
		Tables:        g.AllTables(),
		Relationships: rels,
		DeleteSQL:     d.RenderDelete(g, db.DeleteOptions{FormatDeleteStatement: opts.FormatDeleteStatement}),
		opts:          opts,
	}
	if opts.WithReseed {
		if p.ReseedSQL, err = d.RenderReseed(p.Tables); err != nil {
			return nil, fmt.Errorf("render reseed: %w", err)
		}
	}

	opts.logger().Info("reset plan built",
		"provider", d.Provider(),
		"tables", len(p.Tables),
		"cyclical_tables", len(g.CyclicalTables),
		"relationships", len(rels),
	)
	return p, nil
}

// BuildDSN opens dsn with the default Postgres dialect, builds a plan and
// closes the connection. Any other dialect is a configuration error.
func BuildDSN(ctx context.Context, dsn string, opts Options) (*Plan, error) {
	if opts.Dialect == nil {
		opts.Dialect = db.Postgres
	}
	if err := requirePostgres(opts.Dialect); err != nil {
		return nil, err
	}
	if err := checkOptions(opts); err != nil {
		return nil, err
	}

	conn, _, err := db.Open(db.ProviderPostgres, dsn)
	if err != nil {
		return nil, err
	}
	defer conn.Close()
	return Build(ctx, conn, opts)
}

func checkOptions(opts Options) error {
	if opts.Dialect == nil {
		return &ConfigurationError{Reason: "no dialect"}
	}
	if opts.CommandTimeout < 0 {
		return &ConfigurationError{Reason: "negative command timeout"}
	}
	if opts.WithReseed && !opts.Dialect.SupportsReseed() {
		return &UnsupportedCapabilityError{Provider: opts.Dialect.Provider(), Capability: "reseed"}
	}
	if opts.CheckTemporalTables && !opts.Dialect.SupportsTemporalTables() {
		return &UnsupportedCapabilityError{Provider: opts.Dialect.Provider(), Capability: "temporal tables"}
	}
	return nil
}

func requirePostgres(d db.Dialect) error {
	if d.Provider() != db.ProviderPostgres {
		return &ConfigurationError{
			Reason: fmt.Sprintf("connection string entry points only support %s, got %s", db.ProviderPostgres, d.Provider()),
		}
	}
	return nil
}

func withTimeout(ctx context.Context, d time.Duration, fn func(context.Context) error) error {
	if d > 0 {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(ctx, d)
		defer cancel()
	}
	return fn(ctx)
}
