package counter_stores

import (
	"context"
	"fmt"
	"log/slog"
	"sync"
	"time"

	"github.com/robfig/cron/v3"
)

// DefaultSweepSchedule runs the sweeper once a minute.
const DefaultSweepSchedule = "@every 1m"

// Sweepable is implemented by stores that need expired counters removed
// periodically.
type Sweepable interface {
	Sweep(ctx context.Context, now time.Time) (int, error)
}

// Sweeper runs Sweep on a set of stores on a cron schedule.
type Sweeper struct {
	stores   []Sweepable
	schedule string
	now      func() time.Time
	cron     *cron.Cron
	mu       sync.Mutex
	logger   *slog.Logger
	running  bool
}

// NewSweeper creates a sweeper. An empty schedule uses DefaultSweepSchedule.
func NewSweeper(schedule string, stores ...Sweepable) *Sweeper {
	if schedule == "" {
		schedule = DefaultSweepSchedule
	}
	return &Sweeper{
		stores:   stores,
		schedule: schedule,
		now:      time.Now,
		logger:   slog.Default().With("component", "ratelimit.sweeper"),
	}
}

// Start schedules the sweeps. They stop when ctx is cancelled or Stop is
// called.
//
// Accepted schedules include standard five field cron expressions and
// descriptors such as "@every 30s" or "@hourly".
func (s *Sweeper) Start(ctx context.Context) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if s.running {
		return nil
	}
	if len(s.stores) == 0 {
		s.logger.Debug("no sweepable stores, skipping sweeper")
		return nil
	}

	if _, err := cron.ParseStandard(s.schedule); err != nil {
		return fmt.Errorf("invalid sweep schedule %q: %w", s.schedule, err)
	}
	// a fresh scheduler per run, so a restart never schedules the job twice
	c := cron.New()
	if _, err := c.AddFunc(s.schedule, func() { s.SweepOnce(ctx) }); err != nil {
		return fmt.Errorf("failed to schedule sweep: %w", err)
	}

	c.Start()
	s.cron = c
	s.running = true
	s.logger.Info("counter sweeper started", "schedule", s.schedule, "stores", len(s.stores))

	go func() {
		<-ctx.Done()
		s.mu.Lock()
		defer s.mu.Unlock()
		if s.cron == c {
			s.stopLocked()
		}
	}()

	return nil
}

// SweepOnce sweeps every store immediately and returns the number of
// counters removed.
func (s *Sweeper) SweepOnce(ctx context.Context) int {
	now := s.now()
	total := 0
	for _, store := range s.stores {
		n, err := store.Sweep(ctx, now)
		if err != nil {
			s.logger.Error("sweep failed", "error", err)
			continue
		}
		total += n
	}

	if total > 0 {
		s.logger.Debug("swept expired counters", "removed", total)
	}
	return total
}

// Stop stops the schedule and waits for a running sweep to finish.
func (s *Sweeper) Stop() {
	s.mu.Lock()
	defer s.mu.Unlock()

	s.stopLocked()
}

func (s *Sweeper) stopLocked() {
	if !s.running {
		return
	}
	<-s.cron.Stop().Done()
	s.cron = nil
	s.running = false
	s.logger.Info("counter sweeper stopped")
}

// IsRunning reports whether sweeps are scheduled.
func (s *Sweeper) IsRunning() bool {
	s.mu.Lock()
	defer s.mu.Unlock()

	return s.running
}
