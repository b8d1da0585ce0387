package scheduler

import (
	"bytes"
	"context"
	"log/slog"
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/golang/mock/gomock"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/mattjoyce/chronicle/internal/config"
	"github.com/mattjoyce/chronicle/internal/events"
	"github.com/mattjoyce/chronicle/internal/history"
	"github.com/mattjoyce/chronicle/internal/retention"
	"github.com/mattjoyce/chronicle/internal/scheduler/mocks"
)

// NewTestSlogger creates a *slog.Logger that writes to a buffer.
func NewTestSlogger() (*slog.Logger, *bytes.Buffer) {
	var buf bytes.Buffer
	handler := slog.NewJSONHandler(&buf, &slog.HandlerOptions{Level: slog.LevelDebug})
	return slog.New(handler), &buf
}

func intPtr(v int) *int { return &v }

func testConfig(dir string) *config.Config {
	cfg := config.Defaults()
	cfg.Targets = map[string]config.TargetConf{
		"app": {
			Dir:            dir,
			FileNameFormat: "Log%d%m%y.log",
			LineTimeFormat: "%H:%M:%S ",
			RetentionDays:  intPtr(7),
			Sweep:          &config.SweepConfig{Every: "daily"},
		},
	}
	return cfg
}

func testSweepers(cfg *config.Config, logger *slog.Logger) map[string]*retention.Sweeper {
	sweepers := make(map[string]*retention.Sweeper, len(cfg.Targets))
	for name, target := range cfg.Targets {
		sweepers[name] = retention.NewSweeper(target.Dir, target.RetentionDays, logger)
	}
	return sweepers
}

func writeAged(t *testing.T, dir, name string, age time.Duration) string {
	t.Helper()
	path := filepath.Join(dir, name)
	require.NoError(t, os.WriteFile(path, []byte("x\n"), 0o644))
	stamp := time.Now().Add(-age)
	require.NoError(t, os.Chtimes(path, stamp, stamp))
	return path
}

func TestCalculateJitteredInterval(t *testing.T) {
	tests := []struct {
		name         string
		baseInterval time.Duration
		jitter       time.Duration
	}{
		{name: "No Jitter", baseInterval: 1 * time.Minute, jitter: 0},
		{name: "Positive Jitter", baseInterval: 5 * time.Minute, jitter: 30 * time.Second},
		{name: "Large Jitter", baseInterval: 1 * time.Hour, jitter: 15 * time.Minute},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			for i := 0; i < 100; i++ {
				jittered := calculateJitteredInterval(tt.baseInterval, tt.jitter)
				if tt.jitter == 0 {
					assert.Equal(t, tt.baseInterval, jittered)
				} else {
					assert.GreaterOrEqual(t, jittered, tt.baseInterval)
					assert.LessOrEqual(t, jittered, tt.baseInterval+tt.jitter)
				}
			}
		})
	}
}

func TestRunTargetRecordsOutcome(t *testing.T) {
	ctrl := gomock.NewController(t)
	defer ctrl.Finish()

	dir := t.TempDir()
	stale := writeAged(t, dir, "old.log", 10*24*time.Hour+time.Hour)
	writeAged(t, dir, "fresh.log", time.Hour)

	logger, _ := NewTestSlogger()
	cfg := testConfig(dir)
	rec := mocks.NewMockRecorder(ctrl)

	var recorded history.Entry
	rec.EXPECT().Record(gomock.Any(), gomock.Any()).DoAndReturn(
		func(_ context.Context, e history.Entry) (string, error) {
			recorded = e
			return "sweep-1", nil
		})

	s := New(cfg, testSweepers(cfg, logger), rec, events.NewHub(8), logger)

	entry, err := s.RunTarget(context.Background(), "app", "", history.TriggerCLI)
	require.NoError(t, err)

	assert.Equal(t, "sweep-1", entry.ID)
	assert.Equal(t, 1, entry.Deleted)
	assert.Equal(t, history.TriggerCLI, entry.Trigger)
	assert.Equal(t, "app", recorded.Target)
	assert.Equal(t, dir, recorded.Dir)
	assert.NoFileExists(t, stale)
}

func TestRunTargetUnknownTarget(t *testing.T) {
	ctrl := gomock.NewController(t)
	defer ctrl.Finish()

	logger, _ := NewTestSlogger()
	cfg := testConfig(t.TempDir())
	s := New(cfg, testSweepers(cfg, logger), mocks.NewMockRecorder(ctrl), nil, logger)

	_, err := s.RunTarget(context.Background(), "nope", "", history.TriggerAPI)
	assert.ErrorContains(t, err, "unknown target")
}

func TestRunTargetSurvivesRecordFailure(t *testing.T) {
	ctrl := gomock.NewController(t)
	defer ctrl.Finish()

	dir := t.TempDir()
	stale := writeAged(t, dir, "old.log", 10*24*time.Hour+time.Hour)

	logger, logBuf := NewTestSlogger()
	cfg := testConfig(dir)
	rec := mocks.NewMockRecorder(ctrl)
	rec.EXPECT().Record(gomock.Any(), gomock.Any()).Return("", assert.AnError)

	s := New(cfg, testSweepers(cfg, logger), rec, events.NewHub(8), logger)

	entry, err := s.RunTarget(context.Background(), "app", "", history.TriggerAPI)
	require.NoError(t, err, "history write failure must not fail the sweep")
	assert.Equal(t, 1, entry.Deleted)
	assert.NoFileExists(t, stale)
	assert.Contains(t, logBuf.String(), "Failed to record sweep outcome")
}

func TestRunTargetPatternOverride(t *testing.T) {
	ctrl := gomock.NewController(t)
	defer ctrl.Finish()

	dir := t.TempDir()
	app := writeAged(t, dir, "app.log", 30*24*time.Hour)
	web := writeAged(t, dir, "web.log", 30*24*time.Hour)

	logger, _ := NewTestSlogger()
	cfg := testConfig(dir)
	rec := mocks.NewMockRecorder(ctrl)
	rec.EXPECT().Record(gomock.Any(), gomock.Any()).Return("sweep-1", nil)

	s := New(cfg, testSweepers(cfg, logger), rec, nil, logger)

	_, err := s.RunTarget(context.Background(), "app", `^web`, history.TriggerAPI)
	require.NoError(t, err)

	assert.FileExists(t, app)
	assert.NoFileExists(t, web)
}

func TestSweepDueUsesLastRun(t *testing.T) {
	ctrl := gomock.NewController(t)
	defer ctrl.Finish()

	logger, _ := NewTestSlogger()
	cfg := testConfig(t.TempDir())
	s := New(cfg, testSweepers(cfg, logger), mocks.NewMockRecorder(ctrl), nil, logger)

	now := time.Date(2024, 3, 1, 12, 0, 0, 0, time.UTC)
	s.now = func() time.Time { return now }

	target := cfg.Targets["app"]

	due, err := s.sweepDue("app", target)
	require.NoError(t, err)
	assert.True(t, due, "never-swept target is due")

	s.lastRun["app"] = now.Add(-2 * time.Hour)
	due, err = s.sweepDue("app", target)
	require.NoError(t, err)
	assert.False(t, due, "swept two hours ago on a daily schedule")

	s.lastRun["app"] = now.Add(-25 * time.Hour)
	due, err = s.sweepDue("app", target)
	require.NoError(t, err)
	assert.True(t, due, "daily schedule elapsed")
}

func TestStartSeedsFromHistory(t *testing.T) {
	ctrl := gomock.NewController(t)
	defer ctrl.Finish()

	logger, _ := NewTestSlogger()
	cfg := testConfig(t.TempDir())
	cfg.Service.TickInterval = time.Hour // keep the loop quiet during the test

	lastStart := time.Now().Add(-30 * time.Minute)
	rec := mocks.NewMockRecorder(ctrl)
	rec.EXPECT().LastSweep(gomock.Any(), "app").Return(&history.Entry{
		Target:    "app",
		StartedAt: lastStart,
	}, nil)

	s := New(cfg, testSweepers(cfg, logger), rec, nil, logger)

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	require.NoError(t, s.Start(ctx))
	defer s.Stop()

	s.mu.Lock()
	got := s.lastRun["app"]
	s.mu.Unlock()
	assert.True(t, got.Equal(lastStart))
}

func TestTickRunsDueSweeps(t *testing.T) {
	ctrl := gomock.NewController(t)
	defer ctrl.Finish()

	dir := t.TempDir()
	stale := writeAged(t, dir, "old.log", 10*24*time.Hour+time.Hour)

	logger, _ := NewTestSlogger()
	cfg := testConfig(dir)
	rec := mocks.NewMockRecorder(ctrl)
	rec.EXPECT().Record(gomock.Any(), gomock.Any()).Return("sweep-1", nil)

	hub := events.NewHub(16)
	s := New(cfg, testSweepers(cfg, logger), rec, hub, logger)

	s.tick(context.Background())

	assert.NoFileExists(t, stale)

	var types []string
	for _, ev := range hub.SnapshotSince(0) {
		types = append(types, ev.Type)
	}
	assert.Contains(t, types, events.TypeSweepStarted)
	assert.Contains(t, types, events.TypeSweepCompleted)
}

func TestTickSkipsTargetsWithoutSchedule(t *testing.T) {
	ctrl := gomock.NewController(t)
	defer ctrl.Finish()

	dir := t.TempDir()
	stale := writeAged(t, dir, "old.log", 10*24*time.Hour+time.Hour)

	logger, _ := NewTestSlogger()
	cfg := testConfig(dir)
	target := cfg.Targets["app"]
	target.Sweep = nil
	cfg.Targets["app"] = target

	// No Record expectation: nothing may run.
	s := New(cfg, testSweepers(cfg, logger), mocks.NewMockRecorder(ctrl), nil, logger)
	s.tick(context.Background())

	assert.FileExists(t, stale)
}
