// Package doctor validates chronicle configuration against the filesystem.
package doctor

import (
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"regexp"
	"strings"
	"time"

	"github.com/ncruces/go-strftime"

	"github.com/mattjoyce/chronicle/internal/config"
)

// Result holds the outcome of a validation run.
type Result struct {
	Valid    bool    `json:"valid"`
	Errors   []Issue `json:"errors,omitempty"`
	Warnings []Issue `json:"warnings,omitempty"`
}

// Issue describes a single validation error or warning.
type Issue struct {
	Category string `json:"category"`
	Message  string `json:"message"`
	Field    string `json:"field,omitempty"`
}

// Doctor validates a loaded configuration.
type Doctor struct {
	cfg *config.Config
}

// New creates a Doctor from a loaded config.
func New(cfg *config.Config) *Doctor {
	return &Doctor{cfg: cfg}
}

// Validate runs all checks and returns a result.
func (d *Doctor) Validate() *Result {
	r := &Result{Valid: true}

	d.validateServiceConfig(r)
	d.validateAPIConfig(r)
	d.validateTargets(r)

	r.Valid = len(r.Errors) == 0
	return r
}

func (d *Doctor) addError(r *Result, category, field, msg string) {
	r.Errors = append(r.Errors, Issue{Category: category, Field: field, Message: msg})
}

func (d *Doctor) addWarning(r *Result, category, field, msg string) {
	r.Warnings = append(r.Warnings, Issue{Category: category, Field: field, Message: msg})
}

// validateServiceConfig checks required service fields.
func (d *Doctor) validateServiceConfig(r *Result) {
	if d.cfg.State.Path == "" {
		d.addError(r, "service", "state.path", "state.path is required")
	}
	if d.cfg.Service.TickInterval <= 0 {
		d.addError(r, "service", "service.tick_interval", "tick_interval must be positive")
	}
	if len(d.cfg.Targets) == 0 {
		d.addWarning(r, "service", "targets", "no targets configured; the service will have nothing to do")
	}
}

// validateAPIConfig checks API server settings.
func (d *Doctor) validateAPIConfig(r *Result) {
	if !d.cfg.API.Enabled {
		return
	}
	if d.cfg.API.Listen == "" {
		d.addError(r, "api", "api.listen", "api.listen is required when the API is enabled")
	}
	if d.cfg.API.Auth.APIKey == "" {
		d.addError(r, "api", "api.auth.api_key", "api.auth.api_key is required when the API is enabled")
	} else if len(d.cfg.API.Auth.APIKey) < 16 {
		d.addWarning(r, "api", "api.auth.api_key", "api key is shorter than 16 characters")
	}
}

// validateTargets checks each target's directory, formats and sweep settings.
func (d *Doctor) validateTargets(r *Result) {
	for name, target := range d.cfg.Targets {
		field := fmt.Sprintf("targets.%s", name)

		d.checkDirectory(r, field, target.Dir)
		d.checkFileNameFormat(r, field, target.FileNameFormat)

		if target.RetentionDays == nil {
			d.addWarning(r, "retention", field+".retention_days",
				fmt.Sprintf("target %q has no retention_days; sweeps will never delete anything", name))
		} else if *target.RetentionDays == 0 {
			d.addWarning(r, "retention", field+".retention_days",
				fmt.Sprintf("target %q keeps only today's files (retention_days: 0)", name))
		}

		if target.Sweep != nil {
			if _, err := config.ParseInterval(target.Sweep.Every); err != nil {
				d.addError(r, "sweep", field+".sweep.every", err.Error())
			}
			if target.Sweep.Pattern != "" {
				if _, err := regexp.Compile(target.Sweep.Pattern); err != nil {
					d.addError(r, "sweep", field+".sweep.pattern",
						fmt.Sprintf("pattern does not compile: %v", err))
				}
			}
		} else if target.RetentionDays != nil {
			d.addWarning(r, "sweep", field+".sweep",
				fmt.Sprintf("target %q has retention_days but no sweep schedule; files are only deleted on manual sweeps", name))
		}
	}
}

func (d *Doctor) checkDirectory(r *Result, field, dir string) {
	if dir == "" {
		d.addError(r, "target", field+".dir", "dir is required")
		return
	}

	info, err := os.Stat(dir)
	if err != nil {
		d.addError(r, "target", field+".dir", fmt.Sprintf("directory %q is not accessible: %v", dir, err))
		return
	}
	if !info.IsDir() {
		d.addError(r, "target", field+".dir", fmt.Sprintf("path %q is not a directory", dir))
		return
	}

	// Probe writability the same way handle construction does.
	probe := filepath.Join(dir, ".chronicle-doctor-probe")
	f, err := os.OpenFile(probe, os.O_CREATE|os.O_WRONLY, 0o644)
	if err != nil {
		d.addError(r, "target", field+".dir", fmt.Sprintf("directory %q is not writable: %v", dir, err))
		return
	}
	_ = f.Close()
	_ = os.Remove(probe)
}

func (d *Doctor) checkFileNameFormat(r *Result, field, format string) {
	if format == "" {
		d.addError(r, "target", field+".file_name_format", "file_name_format is required")
		return
	}

	rendered := strftime.Format(format, time.Now())
	if strings.TrimSpace(rendered) == "" {
		d.addError(r, "target", field+".file_name_format",
			fmt.Sprintf("format %q renders to an empty filename", format))
		return
	}
	if strings.ContainsAny(rendered, "/\\") {
		d.addError(r, "target", field+".file_name_format",
			fmt.Sprintf("format %q renders a filename with path separators (%q)", format, rendered))
	}
	if rendered == format && strings.Contains(format, "%") {
		d.addWarning(r, "target", field+".file_name_format",
			fmt.Sprintf("format %q contains %% but renders unchanged; check the strftime directives", format))
	}
}

// FormatHuman renders a result for terminal output.
func FormatHuman(r *Result) string {
	var b strings.Builder

	if r.Valid && len(r.Warnings) == 0 {
		b.WriteString("Configuration valid.\n")
		return b.String()
	}

	if r.Valid {
		fmt.Fprintf(&b, "Configuration valid (%d warning(s))\n", len(r.Warnings))
	} else {
		fmt.Fprintf(&b, "Configuration invalid (%d error(s), %d warning(s))\n", len(r.Errors), len(r.Warnings))
	}

	for _, e := range r.Errors {
		if e.Field != "" {
			fmt.Fprintf(&b, "  ERROR [%s] %s: %s\n", e.Category, e.Field, e.Message)
		} else {
			fmt.Fprintf(&b, "  ERROR [%s] %s\n", e.Category, e.Message)
		}
	}
	for _, w := range r.Warnings {
		if w.Field != "" {
			fmt.Fprintf(&b, "  WARN  [%s] %s: %s\n", w.Category, w.Field, w.Message)
		} else {
			fmt.Fprintf(&b, "  WARN  [%s] %s\n", w.Category, w.Message)
		}
	}

	return b.String()
}

// FormatJSON returns the result as indented JSON.
func FormatJSON(r *Result) (string, error) {
	data, err := json.MarshalIndent(r, "", "  ")
	if err != nil {
		return "", err
	}
	return string(data), nil
}
