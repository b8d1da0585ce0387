package retention

import (
	"errors"
	"log/slog"
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func testLogger() *slog.Logger {
	return slog.New(slog.NewTextHandler(os.Stderr, &slog.HandlerOptions{Level: slog.LevelError}))
}

func intPtr(v int) *int { return &v }

// writeAged creates a file in dir and backdates its modification time so the
// file appears `age` old relative to now.
func writeAged(t *testing.T, dir, name string, age time.Duration) string {
	t.Helper()
	path := filepath.Join(dir, name)
	require.NoError(t, os.WriteFile(path, []byte("entry\n"), 0o644))
	stamp := time.Now().Add(-age)
	require.NoError(t, os.Chtimes(path, stamp, stamp))
	return path
}

func dirNames(t *testing.T, dir string) []string {
	t.Helper()
	entries, err := os.ReadDir(dir)
	require.NoError(t, err)
	names := make([]string, 0, len(entries))
	for _, e := range entries {
		names = append(names, e.Name())
	}
	return names
}

const day = 24 * time.Hour

func TestSweepDisabledRetentionNeverDeletes(t *testing.T) {
	dir := t.TempDir()
	writeAged(t, dir, "fresh.log", 0)
	writeAged(t, dir, "old.log", 10*day+time.Hour)
	writeAged(t, dir, "ancient.log", 1000*day+time.Hour)

	s := NewSweeper(dir, nil, testLogger())

	report := s.Sweep("")
	assert.True(t, report.Disabled)
	assert.Zero(t, report.Deleted)
	assert.ElementsMatch(t, []string{"fresh.log", "old.log", "ancient.log"}, dirNames(t, dir))

	// Guard runs before pattern logic: a pattern changes nothing.
	report = s.Sweep(`.*\.log`)
	assert.True(t, report.Disabled)
	assert.Len(t, dirNames(t, dir), 3)
}

func TestSweepThresholdIsStrict(t *testing.T) {
	dir := t.TempDir()
	// Exactly at the threshold: 5 whole days old.
	writeAged(t, dir, "at.log", 5*day)
	// Over the threshold: 6 whole days old.
	writeAged(t, dir, "over.log", 6*day+time.Hour)

	s := NewSweeper(dir, intPtr(5), testLogger())
	report := s.Sweep("")

	assert.Equal(t, 1, report.Deleted)
	assert.ElementsMatch(t, []string{"at.log"}, dirNames(t, dir))
}

func TestSweepZeroDaysDeletesAnythingNotFromToday(t *testing.T) {
	dir := t.TempDir()
	writeAged(t, dir, "today.log", time.Hour)
	writeAged(t, dir, "yesterday.log", 25*time.Hour)

	s := NewSweeper(dir, intPtr(0), testLogger())
	report := s.Sweep("")

	assert.Equal(t, 1, report.Deleted)
	assert.ElementsMatch(t, []string{"today.log"}, dirNames(t, dir))
}

func TestSweepPatternGatesBeforeAge(t *testing.T) {
	dir := t.TempDir()
	writeAged(t, dir, "app.log", 10*day+time.Hour)
	writeAged(t, dir, "web.log", 10*day+time.Hour)

	s := NewSweeper(dir, intPtr(7), testLogger())
	report := s.Sweep(`^web`)

	assert.Equal(t, 1, report.Deleted)
	assert.Equal(t, 1, report.Skipped, "non-matching name must be skipped, not examined")
	assert.ElementsMatch(t, []string{"app.log"}, dirNames(t, dir))
}

func TestSweepContinuesPastDeletionFailure(t *testing.T) {
	dir := t.TempDir()
	writeAged(t, dir, "locked.log", 10*day+time.Hour)
	writeAged(t, dir, "stale-a.log", 10*day+time.Hour)
	writeAged(t, dir, "stale-b.log", 10*day+time.Hour)

	s := NewSweeper(dir, intPtr(7), testLogger())
	s.remove = func(path string) error {
		if filepath.Base(path) == "locked.log" {
			return errors.New("file is locked")
		}
		return os.Remove(path)
	}

	report := s.Sweep("")

	assert.Equal(t, 2, report.Deleted)
	assert.Equal(t, 1, report.Failed)
	assert.ElementsMatch(t, []string{"locked.log"}, dirNames(t, dir))
}

func TestSweepIsNonRecursive(t *testing.T) {
	dir := t.TempDir()
	sub := filepath.Join(dir, "nested")
	require.NoError(t, os.Mkdir(sub, 0o755))
	inner := writeAged(t, sub, "stale.log", 30*day+time.Hour)
	// Backdate the subdirectory itself too; it still must not be deleted.
	stamp := time.Now().Add(-30 * day)
	require.NoError(t, os.Chtimes(sub, stamp, stamp))

	s := NewSweeper(dir, intPtr(7), testLogger())
	report := s.Sweep(`.*`)

	assert.Zero(t, report.Deleted)
	assert.FileExists(t, inner)
	assert.DirExists(t, sub)
}

func TestSweepSkipsSymlinkToDirectory(t *testing.T) {
	dir := t.TempDir()
	targetDir := t.TempDir()
	link := filepath.Join(dir, "linked")
	require.NoError(t, os.Symlink(targetDir, link))
	stamp := time.Now().Add(-30 * day)
	_ = os.Chtimes(link, stamp, stamp)

	s := NewSweeper(dir, intPtr(7), testLogger())
	report := s.Sweep("")

	assert.Zero(t, report.Deleted)
	assert.DirExists(t, targetDir)
}

func TestSweepEmptyDirectory(t *testing.T) {
	dir := t.TempDir()
	s := NewSweeper(dir, intPtr(7), testLogger())

	report := s.Sweep("")
	assert.Zero(t, report.Examined)
	assert.Zero(t, report.Deleted)
}

func TestSweepNoMatchesIsNoop(t *testing.T) {
	dir := t.TempDir()
	writeAged(t, dir, "app.log", 30*day+time.Hour)

	s := NewSweeper(dir, intPtr(7), testLogger())
	report := s.Sweep(`^nothing-matches-this$`)

	assert.Zero(t, report.Deleted)
	assert.Len(t, dirNames(t, dir), 1)
}

func TestSweepAllTooYoung(t *testing.T) {
	dir := t.TempDir()
	writeAged(t, dir, "a.log", time.Hour)
	writeAged(t, dir, "b.log", 2*day)

	s := NewSweeper(dir, intPtr(7), testLogger())
	report := s.Sweep("")

	assert.Equal(t, 2, report.Examined)
	assert.Zero(t, report.Deleted)
}

func TestSweepInvalidPatternDeletesNothing(t *testing.T) {
	dir := t.TempDir()
	writeAged(t, dir, "stale.log", 30*day+time.Hour)

	s := NewSweeper(dir, intPtr(7), testLogger())
	report := s.Sweep(`([`)

	assert.Zero(t, report.Deleted)
	assert.Len(t, dirNames(t, dir), 1)
}

func TestSweepMissingDirectoryIsBestEffort(t *testing.T) {
	s := NewSweeper(filepath.Join(t.TempDir(), "gone"), intPtr(7), testLogger())
	report := s.Sweep("")
	assert.Zero(t, report.Deleted)
}

func TestSweepScenarios(t *testing.T) {
	setup := func(t *testing.T) string {
		dir := t.TempDir()
		writeAged(t, dir, "Log010124.log", 10*day+time.Hour)
		writeAged(t, dir, "Log020124.log", 3*day+time.Hour)
		return dir
	}

	t.Run("threshold seven deletes only the ten day old file", func(t *testing.T) {
		dir := setup(t)
		NewSweeper(dir, intPtr(7), testLogger()).Sweep("")
		assert.ElementsMatch(t, []string{"Log020124.log"}, dirNames(t, dir))
	})

	t.Run("unset retention deletes neither", func(t *testing.T) {
		dir := setup(t)
		NewSweeper(dir, nil, testLogger()).Sweep("")
		assert.Len(t, dirNames(t, dir), 2)
	})

	t.Run("pattern excludes the stale file and the young one survives on age", func(t *testing.T) {
		dir := setup(t)
		NewSweeper(dir, intPtr(7), testLogger()).Sweep(`Log02.*`)
		assert.Len(t, dirNames(t, dir), 2)
	})
}

func TestAgeInDays(t *testing.T) {
	now := time.Date(2024, 1, 15, 12, 0, 0, 0, time.UTC)
	tests := []struct {
		name string
		mod  time.Time
		want int
	}{
		{"just written", now.Add(-time.Minute), 0},
		{"23 hours", now.Add(-23 * time.Hour), 0},
		{"25 hours", now.Add(-25 * time.Hour), 1},
		{"exactly 7 days", now.Add(-7 * day), 7},
		{"7 days and change", now.Add(-7*day - time.Minute), 7},
		{"8 days", now.Add(-8*day - time.Hour), 8},
		{"future mtime", now.Add(time.Hour), 0},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			assert.Equal(t, tt.want, ageInDays(now, tt.mod))
		})
	}
}
