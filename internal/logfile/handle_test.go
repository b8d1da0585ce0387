package logfile

import (
	"log/slog"
	"os"
	"path/filepath"
	"strings"
	"testing"
	"time"

	"github.com/ncruces/go-strftime"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func testLogger() *slog.Logger {
	return slog.New(slog.NewTextHandler(os.Stderr, &slog.HandlerOptions{Level: slog.LevelError}))
}

func intPtr(v int) *int { return &v }

func TestNewFailsWhenDirectoryMissing(t *testing.T) {
	_, err := New(filepath.Join(t.TempDir(), "nope"), "Log%d%m%y.log", "%H:%M:%S ", nil, testLogger())
	require.Error(t, err)
	assert.ErrorIs(t, err, os.ErrNotExist)
}

func TestNewFailsWhenPathIsAFile(t *testing.T) {
	dir := t.TempDir()
	file := filepath.Join(dir, "notadir")
	require.NoError(t, os.WriteFile(file, nil, 0o644))

	_, err := New(file, "Log%d%m%y.log", "%H:%M:%S ", nil, testLogger())
	assert.Error(t, err)
}

func TestNewFailsWhenDirectoryNotWritable(t *testing.T) {
	if os.Getuid() == 0 {
		t.Skip("root ignores directory permissions")
	}
	dir := t.TempDir()
	require.NoError(t, os.Chmod(dir, 0o555))
	t.Cleanup(func() { _ = os.Chmod(dir, 0o755) })

	_, err := New(dir, "Log%d%m%y.log", "%H:%M:%S ", nil, testLogger())
	require.Error(t, err)
	assert.ErrorIs(t, err, os.ErrPermission)
}

func TestNewProbesTodaysFile(t *testing.T) {
	dir := t.TempDir()
	h, err := New(dir, "Log%d%m%y.log", "%H:%M:%S ", nil, testLogger())
	require.NoError(t, err)

	want := strftime.Format("Log%d%m%y.log", h.now())
	assert.FileExists(t, filepath.Join(dir, want))
}

func TestAppendWritesStampedLine(t *testing.T) {
	dir := t.TempDir()
	h, err := New(dir, "app-%Y%m%d.log", "%Y-%m-%d %H:%M:%S ", intPtr(7), testLogger())
	require.NoError(t, err)

	fixed := time.Date(2024, 1, 2, 15, 4, 5, 0, time.Local)
	h.now = func() time.Time { return fixed }

	require.True(t, h.Append("hello world"))
	require.True(t, h.Append("second line"))

	data, err := os.ReadFile(filepath.Join(dir, "app-20240102.log"))
	require.NoError(t, err)

	lines := strings.Split(strings.TrimRight(string(data), "\n"), "\n")
	require.Len(t, lines, 2)
	assert.Equal(t, "2024-01-02 15:04:05 hello world", lines[0])
	assert.Equal(t, "2024-01-02 15:04:05 second line", lines[1])
}

func TestAppendRollsToNewFileWithDate(t *testing.T) {
	dir := t.TempDir()
	h, err := New(dir, "app-%Y%m%d.log", "%H:%M:%S ", nil, testLogger())
	require.NoError(t, err)

	day1 := time.Date(2024, 1, 2, 23, 59, 0, 0, time.Local)
	h.now = func() time.Time { return day1 }
	require.True(t, h.Append("last of day one"))

	day2 := day1.Add(2 * time.Minute)
	h.now = func() time.Time { return day2 }
	require.True(t, h.Append("first of day two"))

	assert.FileExists(t, filepath.Join(dir, "app-20240102.log"))
	assert.FileExists(t, filepath.Join(dir, "app-20240103.log"))
}

func TestAppendReturnsFalseOnFailure(t *testing.T) {
	if os.Getuid() == 0 {
		t.Skip("root ignores directory permissions")
	}
	dir := t.TempDir()
	h, err := New(dir, "app.log", "%H:%M:%S ", nil, testLogger())
	require.NoError(t, err)

	require.NoError(t, os.Remove(filepath.Join(dir, "app.log")))
	require.NoError(t, os.Chmod(dir, 0o555))
	t.Cleanup(func() { _ = os.Chmod(dir, 0o755) })

	assert.False(t, h.Append("no home for this line"))
}

func TestCleanDelegatesToSweeper(t *testing.T) {
	dir := t.TempDir()
	h, err := New(dir, "app.log", "%H:%M:%S ", intPtr(7), testLogger())
	require.NoError(t, err)

	stale := filepath.Join(dir, "old.log")
	require.NoError(t, os.WriteFile(stale, []byte("x\n"), 0o644))
	stamp := time.Now().Add(-10*24*time.Hour - time.Hour)
	require.NoError(t, os.Chtimes(stale, stamp, stamp))

	report := h.Clean("")
	assert.Equal(t, 1, report.Deleted)
	assert.NoFileExists(t, stale)
}

func TestCleanWithoutRetentionIsNoop(t *testing.T) {
	dir := t.TempDir()
	h, err := New(dir, "app.log", "%H:%M:%S ", nil, testLogger())
	require.NoError(t, err)

	stale := filepath.Join(dir, "old.log")
	require.NoError(t, os.WriteFile(stale, []byte("x\n"), 0o644))
	stamp := time.Now().Add(-100 * 24 * time.Hour)
	require.NoError(t, os.Chtimes(stale, stamp, stamp))

	report := h.Clean("")
	assert.True(t, report.Disabled)
	assert.FileExists(t, stale)
	assert.False(t, h.RetentionEnabled())
}
