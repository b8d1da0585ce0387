package config

import "time"

// Config represents the complete chronicle configuration.
type Config struct {
	Service ServiceConfig         `yaml:"service"`
	State   StateConfig           `yaml:"state"`
	API     APIConfig             `yaml:"api,omitempty"`
	Targets map[string]TargetConf `yaml:"targets"`
}

// ServiceConfig defines core service settings.
type ServiceConfig struct {
	Name         string        `yaml:"name"`
	TickInterval time.Duration `yaml:"tick_interval"`
	LogLevel     string        `yaml:"log_level"`
	LockPath     string        `yaml:"lock_path"`
}

// StateConfig defines where sweep history is stored.
type StateConfig struct {
	Path string `yaml:"path"`
}

// APIConfig defines HTTP API server settings.
type APIConfig struct {
	Enabled bool          `yaml:"enabled"`
	Listen  string        `yaml:"listen"`
	Auth    APIAuthConfig `yaml:"auth"`
}

// APIAuthConfig defines API authentication settings.
type APIAuthConfig struct {
	APIKey string `yaml:"api_key"`
}

// TargetConf defines one log target: a directory of dated log files plus its
// retention policy.
type TargetConf struct {
	Dir            string       `yaml:"dir"`
	FileNameFormat string       `yaml:"file_name_format"`
	LineTimeFormat string       `yaml:"line_time_format"`
	RetentionDays  *int         `yaml:"retention_days,omitempty"`
	Sweep          *SweepConfig `yaml:"sweep,omitempty"`
}

// SweepConfig defines when and how a target is swept.
type SweepConfig struct {
	Every   string        `yaml:"every"` // e.g. "6h", "hourly", "daily"
	Pattern string        `yaml:"pattern,omitempty"`
	Jitter  time.Duration `yaml:"jitter,omitempty"`
}

// Defaults returns a Config with sensible defaults.
func Defaults() *Config {
	return &Config{
		Service: ServiceConfig{
			Name:         "chronicle",
			TickInterval: 60 * time.Second,
			LogLevel:     "info",
			LockPath:     "./data/chronicle.pid",
		},
		State: StateConfig{
			Path: "./data/chronicle.db",
		},
		API: APIConfig{
			Enabled: false,
			Listen:  "127.0.0.1:8080",
			Auth: APIAuthConfig{
				APIKey: "",
			},
		},
		Targets: make(map[string]TargetConf),
	}
}

// DefaultTargetConf returns default target configuration.
func DefaultTargetConf() TargetConf {
	return TargetConf{
		FileNameFormat: "Log%d%m%y.log",
		LineTimeFormat: "%Y-%m-%d %H:%M:%S ",
		Sweep: &SweepConfig{
			Every: "daily",
		},
	}
}
