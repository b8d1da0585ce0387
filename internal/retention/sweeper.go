// Package retention deletes stale log files from a directory once they age
// past a configured day threshold.
//
// Age is computed from filesystem modification time, not from any date embedded
// in the filename. A file that is touched without being renamed is considered
// fresh again.
package retention

import (
	"log/slog"
	"os"
	"path/filepath"
	"regexp"
	"time"
)

// Sweeper removes files older than a retention threshold from a single
// directory. The directory is an external shared resource: other processes may
// create or delete files mid-sweep, so every per-file failure is logged and
// skipped rather than surfaced.
type Sweeper struct {
	dir    string
	days   *int // nil permanently disables sweeping; 0 still permits deletion
	logger *slog.Logger
	now    func() time.Time
	remove func(string) error
}

// Report summarizes one sweep. It is purely diagnostic; callers are free to
// ignore it.
type Report struct {
	// Examined counts candidates whose age was actually checked.
	Examined int
	// Deleted counts files removed.
	Deleted int
	// Failed counts deletions that errored and were skipped.
	Failed int
	// Skipped counts entries ruled out before the age check (pattern
	// mismatches, directories, unreadable metadata).
	Skipped int
	// Disabled is true when the sweeper has no retention configured and the
	// call was a no-op.
	Disabled bool
}

// NewSweeper creates a Sweeper for dir. A nil days pointer disables sweeping
// for the lifetime of the Sweeper.
func NewSweeper(dir string, days *int, logger *slog.Logger) *Sweeper {
	return &Sweeper{
		dir:    dir,
		days:   days,
		logger: logger.With("component", "retention"),
		now:    time.Now,
		remove: os.Remove,
	}
}

// Sweep deletes files in the sweeper's directory whose age in whole days is
// strictly greater than the retention threshold. A file exactly at the
// threshold is kept.
//
// pattern, when non-empty, is a regular expression matched against bare
// filenames; entries that do not match are never examined. The sweep is
// best-effort throughout: it never returns an error, and a failure on one
// file does not stop processing of the rest.
func (s *Sweeper) Sweep(pattern string) Report {
	if s.days == nil {
		s.logger.Debug("Retention disabled, skipping sweep", "dir", s.dir)
		return Report{Disabled: true}
	}

	var nameFilter *regexp.Regexp
	if pattern != "" {
		re, err := regexp.Compile(pattern)
		if err != nil {
			s.logger.Error("Invalid sweep pattern, nothing deleted", "pattern", pattern, "error", err)
			return Report{}
		}
		nameFilter = re
	}

	entries, err := os.ReadDir(s.dir)
	if err != nil {
		s.logger.Error("Could not read log directory", "dir", s.dir, "error", err)
		return Report{}
	}

	// One reference time for the whole sweep so every candidate is classified
	// against the same clock.
	now := s.now()
	threshold := *s.days

	var report Report
	for _, entry := range entries {
		name := entry.Name()

		if nameFilter != nil && !nameFilter.MatchString(name) {
			report.Skipped++
			continue
		}
		if entry.IsDir() {
			report.Skipped++
			continue
		}

		path := filepath.Join(s.dir, name)

		// Stat follows symlinks, so a link to a directory is skipped here
		// rather than deleted.
		info, err := os.Stat(path)
		if err != nil {
			s.logger.Warn("Could not stat candidate, skipping", "file", name, "error", err)
			report.Skipped++
			continue
		}
		if info.IsDir() {
			report.Skipped++
			continue
		}

		report.Examined++

		if ageInDays(now, info.ModTime()) <= threshold {
			continue
		}

		if err := s.remove(path); err != nil {
			s.logger.Warn("Could not delete stale log file", "file", name, "error", err)
			report.Failed++
			continue
		}
		report.Deleted++
		s.logger.Info("Deleted stale log file", "file", name, "dir", s.dir)
	}

	if report.Deleted > 0 || report.Failed > 0 {
		s.logger.Info("Sweep finished",
			"dir", s.dir,
			"examined", report.Examined,
			"deleted", report.Deleted,
			"failed", report.Failed,
			"skipped", report.Skipped,
		)
	}
	return report
}

// ageInDays returns the age of a file in whole days relative to now. A file
// modified 23 hours ago is 0 days old; 25 hours ago is 1 day old.
func ageInDays(now, modTime time.Time) int {
	return int(now.Sub(modTime) / (24 * time.Hour))
}
