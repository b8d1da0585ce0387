// Package logfile appends timestamped lines to dated log files.
//
// Filenames and line timestamps are rendered from strftime-style patterns
// (e.g. "Log%d%m%y.log", "%Y-%m-%d %H:%M:%S"), so one handle writes into a new
// file whenever the rendered filename changes with the date.
package logfile

import (
	"fmt"
	"log/slog"
	"os"
	"path/filepath"
	"time"

	"github.com/ncruces/go-strftime"

	"github.com/mattjoyce/chronicle/internal/retention"
)

// Handle holds the validated, immutable configuration for one log target: a
// directory, the filename and line timestamp patterns, and an optional
// retention threshold in days. A nil retention disables Clean for the
// lifetime of the handle.
type Handle struct {
	dir            string
	fileNameFormat string
	lineTimeFormat string
	retentionDays  *int
	sweeper        *retention.Sweeper
	logger         *slog.Logger
	now            func() time.Time
}

// New validates that dir exists and is writable by probing an append to
// today's log file, and returns a ready Handle. On any failure the error
// wraps the underlying I/O error and no usable handle is produced.
func New(dir, fileNameFormat, lineTimeFormat string, retentionDays *int, logger *slog.Logger) (*Handle, error) {
	info, err := os.Stat(dir)
	if err != nil {
		return nil, fmt.Errorf("log directory %q is not accessible: %w", dir, err)
	}
	if !info.IsDir() {
		return nil, fmt.Errorf("log path %q is not a directory", dir)
	}

	h := &Handle{
		dir:            dir,
		fileNameFormat: fileNameFormat,
		lineTimeFormat: lineTimeFormat,
		retentionDays:  retentionDays,
		sweeper:        retention.NewSweeper(dir, retentionDays, logger),
		logger:         logger.With("component", "logfile"),
		now:            time.Now,
	}

	// Probe write. Opens (and creates if needed) today's file so permission
	// and disk problems surface at construction instead of on the first
	// Append.
	f, err := os.OpenFile(h.currentPath(h.now()), os.O_APPEND|os.O_CREATE|os.O_WRONLY, 0o644)
	if err != nil {
		return nil, fmt.Errorf("log directory %q is not writable: %w", dir, err)
	}
	if _, err := f.WriteString("\n"); err != nil {
		_ = f.Close()
		return nil, fmt.Errorf("probe write to %q failed: %w", dir, err)
	}
	if err := f.Close(); err != nil {
		return nil, fmt.Errorf("probe write to %q failed: %w", dir, err)
	}

	return h, nil
}

// Append stamps line with the current time and appends it, newline-terminated,
// to the file named by the current date. It reports success only; the cause of
// a failure is logged, not returned.
func (h *Handle) Append(line string) bool {
	now := h.now()
	stamp := strftime.Format(h.lineTimeFormat, now)
	path := h.currentPath(now)

	f, err := os.OpenFile(path, os.O_APPEND|os.O_CREATE|os.O_WRONLY, 0o644)
	if err != nil {
		h.logger.Warn("Could not open log file", "file", path, "error", err)
		return false
	}

	if _, err := fmt.Fprintf(f, "%s%s\n", stamp, line); err != nil {
		h.logger.Warn("Could not write log line", "file", path, "error", err)
		_ = f.Close()
		return false
	}
	if err := f.Close(); err != nil {
		h.logger.Warn("Could not close log file", "file", path, "error", err)
		return false
	}
	return true
}

// Clean sweeps the handle's directory using its configured retention.
// pattern, when non-empty, restricts the sweep to matching filenames. The
// sweep is best-effort; the returned report is diagnostic only and safe to
// ignore.
func (h *Handle) Clean(pattern string) retention.Report {
	return h.sweeper.Sweep(pattern)
}

// Dir returns the handle's log directory.
func (h *Handle) Dir() string { return h.dir }

// RetentionEnabled reports whether Clean can ever delete anything.
func (h *Handle) RetentionEnabled() bool { return h.retentionDays != nil }

func (h *Handle) currentPath(now time.Time) string {
	return filepath.Join(h.dir, strftime.Format(h.fileNameFormat, now))
}
