package config

import "time"

// Config represents the complete launchpad configuration.
type Config struct {
	Service ServiceConfig `yaml:"service"`
	API     APIConfig     `yaml:"api"`
	Worker  WorkerConfig  `yaml:"worker"`
	Batch   BatchConfig   `yaml:"batch"`
	State   StateConfig   `yaml:"state"`

	// SourcePath is the absolute path the config was loaded from, empty for Defaults.
	SourcePath string `yaml:"-"`
}

// ServiceConfig defines core service settings.
type ServiceConfig struct {
	Name            string        `yaml:"name"`
	LogLevel        string        `yaml:"log_level"`
	LogFormat       string        `yaml:"log_format"`
	ShutdownTimeout time.Duration `yaml:"shutdown_timeout"`
}

// APIConfig defines HTTP API server settings.
type APIConfig struct {
	Listen      string   `yaml:"listen"`
	APIKey      string   `yaml:"api_key"`
	CORSOrigins []string `yaml:"cors_origins,omitempty"`
	// EventBacklog is the number of lifecycle events kept for /events replay.
	EventBacklog int `yaml:"event_backlog"`
	// SubmitRate caps POST /crawl at this many jobs per second; 0 is unlimited.
	SubmitRate  float64 `yaml:"submit_rate,omitempty"`
	SubmitBurst int     `yaml:"submit_burst,omitempty"`
}

// WorkerConfig describes the external research worker.
type WorkerConfig struct {
	// Command is the executable plus fixed leading arguments,
	// e.g. [node, stock-guardian.js].
	Command        []string      `yaml:"command"`
	Dir            string        `yaml:"dir,omitempty"`
	Env            []string      `yaml:"env,omitempty"`
	Timeout        time.Duration `yaml:"timeout"`
	GracePeriod    time.Duration `yaml:"grace_period"`
	RequireSummary bool          `yaml:"require_summary"`
}

// BatchConfig holds defaults for `launchpad run`.
type BatchConfig struct {
	Mode        string `yaml:"mode"`
	MaxParallel int    `yaml:"max_parallel"`
	BasePort    int    `yaml:"base_port"`
	// Timeout overrides worker.timeout for batch runs when set.
	Timeout time.Duration `yaml:"timeout,omitempty"`
}

// StateConfig defines on-disk state.
type StateConfig struct {
	// Path is the SQLite job history database. Empty disables history.
	Path     string `yaml:"path"`
	LockPath string `yaml:"lock_path"`
}

// Defaults returns a Config with the stock worker and local-only listen address.
func Defaults() *Config {
	return &Config{
		Service: ServiceConfig{
			Name:            "launchpad",
			LogLevel:        "info",
			LogFormat:       "json",
			ShutdownTimeout: 30 * time.Second,
		},
		API: APIConfig{
			Listen:       "127.0.0.1:5000",
			EventBacklog: 256,
		},
		Worker: WorkerConfig{
			Command:        []string{"node", "stock-guardian.js"},
			Timeout:        10 * time.Minute,
			GracePeriod:    5 * time.Second,
			RequireSummary: true,
		},
		Batch: BatchConfig{
			Mode: "parallel",
		},
		State: StateConfig{
			Path:     "./data/history.db",
			LockPath: "./data/launchpad.lock",
		},
	}
}
