package scheduler

import (
	"context"
	"fmt"
	"log/slog"
	"math/rand"
	"sort"
	"sync"
	"time"

	"github.com/mattjoyce/chronicle/internal/config"
	"github.com/mattjoyce/chronicle/internal/events"
	"github.com/mattjoyce/chronicle/internal/history"
	"github.com/mattjoyce/chronicle/internal/retention"
)

// Recorder persists sweep outcomes and answers when a target was last swept.
type Recorder interface {
	Record(ctx context.Context, e history.Entry) (string, error)
	LastSweep(ctx context.Context, target string) (*history.Entry, error)
}

// Scheduler runs retention sweeps for configured targets on their schedules.
type Scheduler struct {
	cfg      *config.Config
	sweepers map[string]*retention.Sweeper
	recorder Recorder
	events   *events.Hub
	logger   *slog.Logger
	stopCh   chan struct{}
	wg       sync.WaitGroup
	now      func() time.Time

	mu      sync.Mutex
	lastRun map[string]time.Time
}

// New creates a Scheduler. sweepers must hold one entry per configured target.
func New(cfg *config.Config, sweepers map[string]*retention.Sweeper, recorder Recorder, hub *events.Hub, logger *slog.Logger) *Scheduler {
	if hub == nil {
		hub = events.NewHub(128)
	}
	return &Scheduler{
		cfg:      cfg,
		sweepers: sweepers,
		recorder: recorder,
		events:   hub,
		logger:   logger.With("component", "scheduler"),
		stopCh:   make(chan struct{}),
		now:      time.Now,
		lastRun:  make(map[string]time.Time),
	}
}

// Start seeds last-run times from sweep history and begins the tick loop.
func (s *Scheduler) Start(ctx context.Context) error {
	s.logger.Info("Starting scheduler", "targets", len(s.cfg.Targets))

	if err := s.seedLastRuns(ctx); err != nil {
		return fmt.Errorf("seed sweep schedule from history: %w", err)
	}

	s.wg.Add(1)
	go s.tickLoop(ctx)

	return nil
}

// Stop gracefully stops the scheduler.
func (s *Scheduler) Stop() {
	s.logger.Info("Stopping scheduler")
	close(s.stopCh)
	s.wg.Wait()
	s.logger.Info("Scheduler stopped")
}

// seedLastRuns restores per-target last sweep times so a restart does not
// immediately re-sweep everything.
func (s *Scheduler) seedLastRuns(ctx context.Context) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	for name := range s.cfg.Targets {
		last, err := s.recorder.LastSweep(ctx, name)
		if err != nil {
			return err
		}
		if last != nil {
			s.lastRun[name] = last.StartedAt
		}
	}
	return nil
}

func (s *Scheduler) tickLoop(ctx context.Context) {
	defer s.wg.Done()

	// Initial tick immediately
	s.tick(ctx)

	ticker := time.NewTicker(s.cfg.Service.TickInterval)
	defer ticker.Stop()

	for {
		select {
		case <-ticker.C:
			s.tick(ctx)
		case <-s.stopCh:
			return
		case <-ctx.Done():
			s.logger.Warn("Scheduler context cancelled, stopping tick loop")
			return
		}
	}
}

// tick performs a single scheduling pass.
func (s *Scheduler) tick(ctx context.Context) {
	s.logger.Debug("Scheduler tick")
	s.events.Publish(events.TypeSchedulerTick, map[string]any{
		"at": s.now().UTC(),
	})

	// Sort target names for deterministic iteration (critical for testing)
	var names []string
	for name := range s.cfg.Targets {
		names = append(names, name)
	}
	sort.Strings(names)

	for _, name := range names {
		target := s.cfg.Targets[name]
		if target.Sweep == nil {
			continue
		}

		due, err := s.sweepDue(name, target)
		if err != nil {
			s.logger.Error("Invalid sweep schedule for target", "target", name, "error", err)
			continue
		}
		if !due {
			continue
		}

		if _, err := s.RunTarget(ctx, name, "", history.TriggerSchedule); err != nil {
			s.logger.Error("Scheduled sweep failed to run", "target", name, "error", err)
		}
	}
}

func (s *Scheduler) sweepDue(name string, target config.TargetConf) (bool, error) {
	base, err := config.ParseInterval(target.Sweep.Every)
	if err != nil {
		return false, err
	}
	interval := calculateJitteredInterval(base, target.Sweep.Jitter)

	s.mu.Lock()
	last, ran := s.lastRun[name]
	s.mu.Unlock()

	if !ran {
		return true, nil
	}
	return !s.now().Before(last.Add(interval)), nil
}

// RunTarget sweeps one target now, records the outcome and publishes events.
// patternOverride, when non-empty, replaces the target's configured sweep
// pattern for this run only. The sweep itself is best-effort; RunTarget
// returns an error only when the target is unknown.
func (s *Scheduler) RunTarget(ctx context.Context, name, patternOverride, trigger string) (*history.Entry, error) {
	target, ok := s.cfg.Targets[name]
	if !ok {
		return nil, fmt.Errorf("unknown target %q", name)
	}
	sweeper, ok := s.sweepers[name]
	if !ok {
		return nil, fmt.Errorf("no sweeper for target %q", name)
	}

	pattern := patternOverride
	if pattern == "" && target.Sweep != nil {
		pattern = target.Sweep.Pattern
	}

	s.events.Publish(events.TypeSweepStarted, map[string]any{
		"target":  name,
		"pattern": pattern,
		"trigger": trigger,
	})

	started := s.now()
	report := sweeper.Sweep(pattern)
	finished := s.now()

	s.mu.Lock()
	s.lastRun[name] = started
	s.mu.Unlock()

	entry := history.Entry{
		Target:     name,
		Dir:        target.Dir,
		Pattern:    pattern,
		Trigger:    trigger,
		StartedAt:  started,
		FinishedAt: finished,
		Examined:   report.Examined,
		Deleted:    report.Deleted,
		Failed:     report.Failed,
		Skipped:    report.Skipped,
		Disabled:   report.Disabled,
	}

	id, err := s.recorder.Record(ctx, entry)
	if err != nil {
		// History is diagnostic; a write failure must not fail the sweep.
		s.logger.Error("Failed to record sweep outcome", "target", name, "error", err)
	} else {
		entry.ID = id
	}

	s.events.Publish(events.TypeSweepCompleted, map[string]any{
		"sweep_id": entry.ID,
		"target":   name,
		"deleted":  report.Deleted,
		"failed":   report.Failed,
		"disabled": report.Disabled,
		"trigger":  trigger,
	})
	s.logger.Info("Sweep completed",
		"target", name,
		"trigger", trigger,
		"deleted", report.Deleted,
		"failed", report.Failed,
		"disabled", report.Disabled,
	)

	return &entry, nil
}

// calculateJitteredInterval adds a random jitter to the base interval.
func calculateJitteredInterval(baseInterval time.Duration, jitter time.Duration) time.Duration {
	if jitter <= 0 {
		return baseInterval
	}
	randomJitter := time.Duration(rand.Int63n(jitter.Nanoseconds()))
	return baseInterval + randomJitter
}
