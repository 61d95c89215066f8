package config

import (
	"bytes"
	"errors"
	"fmt"
	"io"
	"os"
	"path/filepath"
	"regexp"
	"strings"

	"gopkg.in/yaml.v3"
)

var envVarPattern = regexp.MustCompile(`\$\{([A-Za-z_][A-Za-z0-9_]*)\}`)

// ErrUnresolvedEnv marks a ${VAR} placeholder whose variable is unset.
var ErrUnresolvedEnv = errors.New("unresolved environment variable")

// Load reads configuration from path on top of Defaults. Unknown keys are
// rejected. When a sidecar "<path>.b3" exists the file must match it.
func Load(path string) (*Config, error) {
	absPath, err := filepath.Abs(path)
	if err != nil {
		return nil, fmt.Errorf("failed to resolve config path %q: %w", path, err)
	}

	data, err := os.ReadFile(absPath)
	if err != nil {
		if os.IsNotExist(err) {
			return nil, fmt.Errorf("config file not found: %s\n"+
				"Hint: Check the path or run with --config flag", absPath)
		}
		return nil, fmt.Errorf("read config: %w", err)
	}

	if err := VerifySidecar(absPath); err != nil {
		return nil, err
	}

	cfg, err := Parse(data)
	if err != nil {
		return nil, fmt.Errorf("%s: %w", absPath, err)
	}
	cfg.SourcePath = absPath

	if dir := cfg.Worker.Dir; dir != "" && !filepath.IsAbs(dir) {
		cfg.Worker.Dir = filepath.Join(filepath.Dir(absPath), dir)
	}

	if err := Validate(cfg); err != nil {
		return nil, fmt.Errorf("invalid configuration: %w", err)
	}
	return cfg, nil
}

// Parse decodes YAML bytes over Defaults after ${VAR} interpolation.
// It does not validate.
func Parse(data []byte) (*Config, error) {
	cfg := Defaults()

	dec := yaml.NewDecoder(bytes.NewReader([]byte(interpolateEnv(string(data)))))
	dec.KnownFields(true)
	if err := dec.Decode(cfg); err != nil && !errors.Is(err, io.EOF) {
		return nil, fmt.Errorf("failed to parse YAML: %w", err)
	}
	return cfg, nil
}

func interpolateEnv(input string) string {
	return envVarPattern.ReplaceAllStringFunc(input, func(match string) string {
		varName := envVarPattern.FindStringSubmatch(match)[1]
		if value, exists := os.LookupEnv(varName); exists {
			return value
		}
		// Left in place so validation can name it.
		return match
	})
}

// Validate checks the settings every command depends on.
func Validate(cfg *Config) error {
	validLogLevels := map[string]bool{"debug": true, "info": true, "warn": true, "error": true}
	if !validLogLevels[strings.ToLower(cfg.Service.LogLevel)] {
		return fmt.Errorf("service.log_level must be one of: debug, info, warn, error (got %q)", cfg.Service.LogLevel)
	}
	switch strings.ToLower(cfg.Service.LogFormat) {
	case "json", "text":
	default:
		return fmt.Errorf("service.log_format must be json or text (got %q)", cfg.Service.LogFormat)
	}
	if cfg.Service.ShutdownTimeout <= 0 {
		return fmt.Errorf("service.shutdown_timeout must be positive")
	}

	if cfg.API.Listen == "" {
		return fmt.Errorf("api.listen is required")
	}
	if m := envVarPattern.FindStringSubmatch(cfg.API.APIKey); m != nil {
		return fmt.Errorf("api.api_key: %w: %s", ErrUnresolvedEnv, m[1])
	}
	if cfg.API.SubmitRate < 0 || cfg.API.SubmitBurst < 0 {
		return fmt.Errorf("api.submit_rate and api.submit_burst must not be negative")
	}

	if len(cfg.Worker.Command) == 0 || strings.TrimSpace(cfg.Worker.Command[0]) == "" {
		return fmt.Errorf("worker.command is required")
	}
	for i, arg := range cfg.Worker.Command {
		if m := envVarPattern.FindStringSubmatch(arg); m != nil {
			return fmt.Errorf("worker.command[%d]: %w: %s", i, ErrUnresolvedEnv, m[1])
		}
	}
	if cfg.Worker.Timeout <= 0 {
		return fmt.Errorf("worker.timeout must be positive")
	}
	if cfg.Worker.GracePeriod < 0 {
		return fmt.Errorf("worker.grace_period must not be negative")
	}

	switch strings.ToLower(cfg.Batch.Mode) {
	case "", "parallel", "sequential":
	default:
		return fmt.Errorf("batch.mode must be parallel or sequential (got %q)", cfg.Batch.Mode)
	}
	if cfg.Batch.MaxParallel < 0 {
		return fmt.Errorf("batch.max_parallel must not be negative")
	}
	if cfg.Batch.BasePort < 0 || cfg.Batch.BasePort > 65535 {
		return fmt.Errorf("batch.base_port must be between 0 and 65535")
	}
	if cfg.Batch.Timeout < 0 {
		return fmt.Errorf("batch.timeout must not be negative")
	}

	return nil
}
