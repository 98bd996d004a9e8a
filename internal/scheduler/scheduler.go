package scheduler

import (
	"context"
	"log/slog"
	"sync"

	"github.com/robfig/cron/v3"

	"db_respawn/internal/targets"
)

// Resetter is the part of a target the scheduler drives.
type Resetter interface {
	Name() string
	Schedule() string
	Reset(ctx context.Context) (targets.Run, error)
}

// Scheduler resets targets on their cron schedules.
type Scheduler struct {
	cron    *cron.Cron
	logger  *slog.Logger
	mu      sync.Mutex
	entries map[string]cron.EntryID // target name → cron entry
}

func New(logger *slog.Logger) *Scheduler {
	return &Scheduler{
		cron:    cron.New(),
		logger:  logger,
		entries: make(map[string]cron.EntryID),
	}
}

// Register schedules every resetter that has a schedule and returns the
// number of scheduled targets. Every reset runs with ctx; pass a context
// that is not cancelled on shutdown to let Stop wait for running resets.
func (s *Scheduler) Register(ctx context.Context, resetters ...Resetter) int {
	s.mu.Lock()
	defer s.mu.Unlock()

	for _, r := range resetters {
		spec := r.Schedule()
		if spec == "" {
			continue
		}
		if id, ok := s.entries[r.Name()]; ok {
			s.cron.Remove(id)
		}

		entryID, err := s.cron.AddFunc(spec, func() {
			if _, err := r.Reset(ctx); err != nil {
				s.logger.Warn("scheduled reset failed", "target", r.Name(), "error", err)
			}
		})
		if err != nil {
			s.logger.Warn("invalid cron schedule", "target", r.Name(), "schedule", spec, "error", err)
			continue
		}
		s.entries[r.Name()] = entryID
		s.logger.Info("scheduled reset", "target", r.Name(), "schedule", spec)
	}
	return len(s.entries)
}

func (s *Scheduler) Start() {
	s.cron.Start()
	s.logger.Info("reset scheduler started")
}

// Stop stops scheduling and waits for running resets to finish.
func (s *Scheduler) Stop() {
	<-s.cron.Stop().Done()
	s.logger.Info("reset scheduler stopped")
}

// scheduled returns the scheduled target names and their cron entries.
func (s *Scheduler) scheduled() map[string]cron.Entry {
	s.mu.Lock()
	defer s.mu.Unlock()
	out := make(map[string]cron.Entry, len(s.entries))
	for name, id := range s.entries {
		out[name] = s.cron.Entry(id)
	}
	return out
}
