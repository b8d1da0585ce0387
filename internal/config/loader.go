package config

import (
	"fmt"
	"os"
	"path/filepath"
	"regexp"
	"strconv"
	"strings"
	"time"

	"gopkg.in/yaml.v3"
)

var envVarPattern = regexp.MustCompile(`\$\{([A-Za-z_][A-Za-z0-9_]*)\}`)

// Load reads, interpolates, verifies and validates configuration from a file.
// A directory path is accepted and resolved to config.yaml inside it.
func Load(configPath string) (*Config, error) {
	absPath, err := ResolveConfigFile(configPath)
	if err != nil {
		return nil, err
	}

	data, err := os.ReadFile(absPath)
	if err != nil {
		return nil, fmt.Errorf("read config %q: %w", absPath, err)
	}

	cfg := Defaults()
	if err := yaml.Unmarshal([]byte(interpolateEnv(string(data))), cfg); err != nil {
		return nil, fmt.Errorf("parse config %q: %w", absPath, err)
	}

	// Integrity check is enforced only once a manifest has been written with
	// `chronicle config lock`.
	if err := VerifyChecksums(absPath); err != nil {
		return nil, err
	}

	for name, target := range cfg.Targets {
		cfg.Targets[name] = mergeTargetDefaults(target)
	}

	if err := validate(cfg); err != nil {
		return nil, fmt.Errorf("invalid configuration: %w", err)
	}

	return cfg, nil
}

// ResolveConfigFile turns a file or directory path into the absolute path of
// the config file to load.
func ResolveConfigFile(configPath string) (string, error) {
	absPath, err := filepath.Abs(configPath)
	if err != nil {
		return "", fmt.Errorf("failed to resolve config path %q: %w", configPath, err)
	}

	info, err := os.Stat(absPath)
	if err != nil {
		return "", fmt.Errorf("config file not found: %s\n"+
			"Hint: Check the path or run with --config flag", absPath)
	}

	if info.IsDir() {
		absPath = filepath.Join(absPath, "config.yaml")
		if _, err := os.Stat(absPath); err != nil {
			return "", fmt.Errorf("directory provided but config.yaml not found: %s", absPath)
		}
	}
	return absPath, nil
}

// DiscoverConfigPath finds the config file by checking standard locations.
// Priority order: $CHRONICLE_CONFIG, ~/.config/chronicle, /etc/chronicle, ./config.yaml
func DiscoverConfigPath() (string, error) {
	if path := os.Getenv("CHRONICLE_CONFIG"); path != "" {
		if _, err := os.Stat(path); err == nil {
			return path, nil
		}
	}

	if homeDir, err := os.UserHomeDir(); err == nil {
		userConfigDir := filepath.Join(homeDir, ".config", "chronicle")
		if _, err := os.Stat(userConfigDir); err == nil {
			return userConfigDir, nil
		}
	}

	systemConfigDir := "/etc/chronicle"
	if _, err := os.Stat(systemConfigDir); err == nil {
		return systemConfigDir, nil
	}

	legacyConfigPath := "./config.yaml"
	if _, err := os.Stat(legacyConfigPath); err == nil {
		return legacyConfigPath, nil
	}

	return "", fmt.Errorf("no config found (checked: $CHRONICLE_CONFIG, ~/.config/chronicle, /etc/chronicle, ./config.yaml)")
}

func interpolateEnv(s string) string {
	return envVarPattern.ReplaceAllStringFunc(s, func(match string) string {
		name := envVarPattern.FindStringSubmatch(match)[1]
		if val, ok := os.LookupEnv(name); ok {
			return val
		}
		return match
	})
}

func mergeTargetDefaults(target TargetConf) TargetConf {
	defaults := DefaultTargetConf()
	if target.FileNameFormat == "" {
		target.FileNameFormat = defaults.FileNameFormat
	}
	if target.LineTimeFormat == "" {
		target.LineTimeFormat = defaults.LineTimeFormat
	}
	if target.Sweep == nil {
		target.Sweep = defaults.Sweep
	} else if target.Sweep.Every == "" {
		target.Sweep.Every = defaults.Sweep.Every
	}
	return target
}

func validate(cfg *Config) error {
	if cfg.Service.Name == "" {
		return fmt.Errorf("service.name is required")
	}
	if cfg.Service.TickInterval <= 0 {
		return fmt.Errorf("service.tick_interval must be positive")
	}
	if cfg.State.Path == "" {
		return fmt.Errorf("state.path is required")
	}
	if cfg.API.Enabled && cfg.API.Listen == "" {
		return fmt.Errorf("api.listen is required when the API is enabled")
	}

	for name, target := range cfg.Targets {
		if strings.ContainsAny(name, "/\\") || strings.TrimSpace(name) == "" {
			return fmt.Errorf("target name %q is invalid", name)
		}
		if target.Dir == "" {
			return fmt.Errorf("targets.%s.dir is required", name)
		}
		if target.RetentionDays != nil && *target.RetentionDays < 0 {
			return fmt.Errorf("targets.%s.retention_days must be non-negative", name)
		}
		if target.Sweep != nil {
			if _, err := ParseInterval(target.Sweep.Every); err != nil {
				return fmt.Errorf("targets.%s.sweep.every: %w", name, err)
			}
			if target.Sweep.Pattern != "" {
				if _, err := regexp.Compile(target.Sweep.Pattern); err != nil {
					return fmt.Errorf("targets.%s.sweep.pattern is not a valid regexp: %w", name, err)
				}
			}
			if target.Sweep.Jitter < 0 {
				return fmt.Errorf("targets.%s.sweep.jitter must be non-negative", name)
			}
		}
	}

	return nil
}

// ParseInterval converts a schedule string to a duration. It accepts Go
// duration syntax ("30m", "6h"), day/week shorthand ("3d", "2w"), and the
// names "hourly", "daily" and "weekly".
func ParseInterval(interval string) (time.Duration, error) {
	switch interval {
	case "hourly":
		return time.Hour, nil
	case "daily":
		return 24 * time.Hour, nil
	case "weekly":
		return 7 * 24 * time.Hour, nil
	}

	if n, ok := strings.CutSuffix(interval, "d"); ok {
		if days, err := strconv.Atoi(n); err == nil && days > 0 {
			return time.Duration(days) * 24 * time.Hour, nil
		}
	}
	if n, ok := strings.CutSuffix(interval, "w"); ok {
		if weeks, err := strconv.Atoi(n); err == nil && weeks > 0 {
			return time.Duration(weeks) * 7 * 24 * time.Hour, nil
		}
	}

	d, err := time.ParseDuration(interval)
	if err != nil {
		return 0, fmt.Errorf("invalid schedule interval %q: %w", interval, err)
	}
	if d <= 0 {
		return 0, fmt.Errorf("schedule interval must be positive: %q", interval)
	}
	return d, nil
}
