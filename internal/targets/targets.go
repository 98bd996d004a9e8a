// Package targets holds the configured databases, their cached reset plans
// and the bookkeeping for individual reset runs.
package targets

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"log/slog"
	"sync"
	"time"

	"github.com/google/uuid"
	"golang.org/x/sync/errgroup"

	"db_respawn/internal/config"
	"db_respawn/internal/db"
	"db_respawn/internal/reset"
)

var ErrUnknownTarget = errors.New("unknown target")

const (
	RunSucceeded = "succeeded"
	RunFailed    = "failed"
)

// Run records one reset of one target.
type Run struct {
	ID         uuid.UUID     `json:"id"`
	Target     string        `json:"target"`
	Status     string        `json:"status"`
	Tables     int           `json:"tables"`
	StartedAt  time.Time     `json:"started_at"`
	FinishedAt time.Time     `json:"finished_at"`
	Duration   time.Duration `json:"duration_ns"`
	Error      string        `json:"error,omitempty"`
}

// Target is a connected database with a lazily built plan. Resets of the same
// target are serialized.
type Target struct {
	cfg     config.Target
	conn    *sql.DB
	dialect db.Dialect
	logger  *slog.Logger

	mu      sync.Mutex
	plan    *reset.Plan
	lastRun *Run
}

func New(cfg config.Target, conn *sql.DB, dialect db.Dialect, logger *slog.Logger) *Target {
	return &Target{
		cfg:     cfg,
		conn:    conn,
		dialect: dialect,
		logger:  logger.With("target", cfg.Name),
	}
}

func (t *Target) Name() string { return t.cfg.Name }

func (t *Target) Provider() string { return t.dialect.Provider() }

func (t *Target) Schedule() string { return t.cfg.Schedule }

// Plan returns the cached plan, building it on first use.
func (t *Target) Plan(ctx context.Context) (*reset.Plan, error) {
	t.mu.Lock()
	defer t.mu.Unlock()
	return t.planLocked(ctx)
}

func (t *Target) planLocked(ctx context.Context) (*reset.Plan, error) {
	if t.plan != nil {
		return t.plan, nil
	}
	plan, err := reset.Build(ctx, t.conn, t.options())
	if err != nil {
		return nil, fmt.Errorf("build plan for %s: %w", t.cfg.Name, err)
	}
	t.plan = plan
	return plan, nil
}

// Invalidate drops the cached plan, typically after a schema migration.
func (t *Target) Invalidate() {
	t.mu.Lock()
	t.plan = nil
	t.mu.Unlock()
	t.logger.Info("plan invalidated")
}

// Reset empties the target. The returned Run is filled in even on failure.
func (t *Target) Reset(ctx context.Context) (Run, error) {
	t.mu.Lock()
	defer t.mu.Unlock()

	run := Run{ID: uuid.New(), Target: t.cfg.Name, StartedAt: time.Now().UTC()}
	log := t.logger.With("run_id", run.ID.String())

	err := t.resetLocked(ctx, &run)
	run.FinishedAt = time.Now().UTC()
	run.Duration = run.FinishedAt.Sub(run.StartedAt)
	if err != nil {
		run.Status = RunFailed
		run.Error = err.Error()
		log.Error("reset run failed", "error", err)
	} else {
		run.Status = RunSucceeded
		log.Info("reset run finished", "tables", run.Tables, "duration_ms", run.Duration.Milliseconds())
	}
	t.lastRun = &run
	return run, err
}

func (t *Target) resetLocked(ctx context.Context, run *Run) error {
	plan, err := t.planLocked(ctx)
	if err != nil {
		return err
	}
	run.Tables = len(plan.Tables)
	return plan.Reset(ctx, t.conn)
}

// LastRun returns the most recent run, if any.
func (t *Target) LastRun() (Run, bool) {
	t.mu.Lock()
	defer t.mu.Unlock()
	if t.lastRun == nil {
		return Run{}, false
	}
	return *t.lastRun, true
}

func (t *Target) Ping(ctx context.Context) error {
	return t.conn.PingContext(ctx)
}

func (t *Target) Close() error {
	return t.conn.Close()
}

func (t *Target) options() reset.Options {
	return reset.Options{
		Dialect:             t.dialect,
		Filter:              t.cfg.Filter(),
		WithReseed:          t.cfg.WithReseed,
		CheckTemporalTables: t.cfg.CheckTemporalTables,
		CommandTimeout:      t.cfg.CommandTimeout,
		Logger:              t.logger,
	}
}

// Set is the collection of configured targets.
type Set struct {
	targets     map[string]*Target
	order       []string
	parallelism int
}

// Open connects every configured target. Connections are opened lazily by
// database/sql, so no network I/O happens here.
func Open(cfg config.Config, logger *slog.Logger) (*Set, error) {
	set := NewSet(cfg.Parallelism)
	for _, tc := range cfg.Targets {
		conn, dialect, err := db.Open(tc.Provider, tc.DSN)
		if err != nil {
			set.Close() // nolint:errcheck
			return nil, fmt.Errorf("open target %s: %w", tc.Name, err)
		}
		set.Add(New(tc, conn, dialect, logger))
	}
	return set, nil
}

func NewSet(parallelism int) *Set {
	if parallelism < 1 {
		parallelism = 1
	}
	return &Set{targets: make(map[string]*Target), parallelism: parallelism}
}

func (s *Set) Add(t *Target) {
	if _, ok := s.targets[t.Name()]; !ok {
		s.order = append(s.order, t.Name())
	}
	s.targets[t.Name()] = t
}

func (s *Set) Get(name string) (*Target, bool) {
	t, ok := s.targets[name]
	return t, ok
}

// Names lists targets in configuration order.
func (s *Set) Names() []string {
	return append([]string(nil), s.order...)
}

func (s *Set) All() []*Target {
	out := make([]*Target, 0, len(s.order))
	for _, name := range s.order {
		out = append(out, s.targets[name])
	}
	return out
}

// ResetMany resets the named targets, at most parallelism at a time. A failed
// target does not stop the others; all failures are joined.
func (s *Set) ResetMany(ctx context.Context, names []string) ([]Run, error) {
	targets := make([]*Target, 0, len(names))
	for _, name := range names {
		t, ok := s.Get(name)
		if !ok {
			return nil, fmt.Errorf("%w: %s", ErrUnknownTarget, name)
		}
		targets = append(targets, t)
	}

	runs := make([]Run, len(targets))
	errs := make([]error, len(targets))
	var g errgroup.Group
	g.SetLimit(s.parallelism)
	for i, t := range targets {
		g.Go(func() error {
			runs[i], errs[i] = t.Reset(ctx)
			return nil
		})
	}
	g.Wait() // nolint:errcheck
	return runs, errors.Join(errs...)
}

func (s *Set) Close() error {
	var errs []error
	for _, t := range s.targets {
		if err := t.Close(); err != nil {
			errs = append(errs, err)
		}
	}
	return errors.Join(errs...)
}
