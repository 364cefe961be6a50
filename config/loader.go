package config

import (
	"fmt"
	"os"
	"strconv"
	"time"

	"gopkg.in/yaml.v3"
)

// EnvPrefix is the prefix of environment variables that override file
// values.
const EnvPrefix = "BERU"

// Load builds the configuration from defaults, the optional YAML file at
// path (empty path skips the file), and environment overrides, then
// validates the result.
func Load(path string) (*Config, error) {
	cfg := Default()

	if path != "" {
		data, err := os.ReadFile(path)
		if err != nil {
			return nil, fmt.Errorf("read config file: %w", err)
		}
		if err := yaml.Unmarshal(data, cfg); err != nil {
			return nil, fmt.Errorf("parse config file: %w", err)
		}
	}

	if err := applyEnv(cfg); err != nil {
		return nil, err
	}
	if err := cfg.Validate(); err != nil {
		return nil, fmt.Errorf("invalid configuration: %w", err)
	}
	return cfg, nil
}

// applyEnv overlays BERU_* environment variables onto the configuration.
func applyEnv(cfg *Config) error {
	if v, ok := lookup("ENGINE_MAX_PARALLEL"); ok {
		n, err := strconv.Atoi(v)
		if err != nil {
			return fmt.Errorf("%s_ENGINE_MAX_PARALLEL: %w", EnvPrefix, err)
		}
		cfg.Engine.MaxParallel = n
	}
	if v, ok := lookup("ENGINE_DEFAULT_TASK_TIMEOUT"); ok {
		d, err := time.ParseDuration(v)
		if err != nil {
			return fmt.Errorf("%s_ENGINE_DEFAULT_TASK_TIMEOUT: %w", EnvPrefix, err)
		}
		cfg.Engine.DefaultTaskTimeout = Duration(d)
	}
	if v, ok := lookup("LOG_LEVEL"); ok {
		cfg.Log.Level = v
	}
	if v, ok := lookup("LOG_FORMAT"); ok {
		cfg.Log.Format = v
	}
	if v, ok := lookup("SAFETY_AUDIT_LOG"); ok {
		b, err := strconv.ParseBool(v)
		if err != nil {
			return fmt.Errorf("%s_SAFETY_AUDIT_LOG: %w", EnvPrefix, err)
		}
		cfg.Safety.AuditLog = b
	}
	if v, ok := lookup("SAFETY_AUDIT_LOG_PATH"); ok {
		cfg.Safety.AuditLogPath = v
	}
	if v, ok := lookup("SAFETY_HOME"); ok {
		cfg.Safety.Home = v
	}
	return nil
}

func lookup(key string) (string, bool) {
	return os.LookupEnv(EnvPrefix + "_" + key)
}
