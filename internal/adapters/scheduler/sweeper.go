// Package scheduler runs the periodic maintenance jobs of the API process.
package scheduler

import (
	"log/slog"
	"time"

	"github.com/go-co-op/gocron"
)

// IdleSweeper removes sessions that have been idle for too long.
type IdleSweeper interface {
	SweepIdle(now time.Time) int
}

// Sweeper periodically evicts idle sessions.
type Sweeper struct {
	scheduler *gocron.Scheduler
	target    IdleSweeper
	interval  time.Duration
	now       func() time.Time
}

// NewSweeper creates a Sweeper. A non-positive interval defaults to one minute.
func NewSweeper(target IdleSweeper, interval time.Duration) *Sweeper {
	if interval <= 0 {
		interval = time.Minute
	}
	return &Sweeper{
		scheduler: gocron.NewScheduler(time.UTC),
		target:    target,
		interval:  interval,
		now:       time.Now,
	}
}

// Start schedules the sweep and starts the underlying scheduler.
// The first sweep runs one interval after Start.
func (s *Sweeper) Start() error {
	_, err := s.scheduler.Every(s.interval).WaitForSchedule().SingletonMode().Do(s.run)
	if err != nil {
		return err
	}
	s.scheduler.StartAsync()
	slog.Info("session sweeper started", "interval", s.interval.String())
	return nil
}

func (s *Sweeper) run() {
	removed := s.target.SweepIdle(s.now())
	slog.Debug("session sweep finished", "removed", removed)
}

// Stop stops the scheduler and cancels any future sweeps.
func (s *Sweeper) Stop() {
	if s.scheduler != nil {
		s.scheduler.Stop()
	}
}
