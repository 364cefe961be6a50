package config

import (
	"fmt"
	"time"

	"go.uber.org/zap"
	"gopkg.in/yaml.v3"

	"github.com/beruhq/beru/safety"
)

// Duration is a time.Duration that unmarshals from YAML strings like "30s"
// or from plain integers interpreted as seconds.
type Duration time.Duration

// UnmarshalYAML implements yaml.Unmarshaler.
func (d *Duration) UnmarshalYAML(node *yaml.Node) error {
	var asInt int64
	if err := node.Decode(&asInt); err == nil {
		*d = Duration(time.Duration(asInt) * time.Second)
		return nil
	}
	var asString string
	if err := node.Decode(&asString); err != nil {
		return fmt.Errorf("duration must be a string or integer seconds: %w", err)
	}
	parsed, err := time.ParseDuration(asString)
	if err != nil {
		return fmt.Errorf("invalid duration %q: %w", asString, err)
	}
	*d = Duration(parsed)
	return nil
}

// Std returns the value as a time.Duration.
func (d Duration) Std() time.Duration { return time.Duration(d) }

// Config is the complete engine configuration.
type Config struct {
	// Engine configures the workflow executor.
	Engine EngineConfig `yaml:"engine"`
	// Agents configures per-agent dispatch limits.
	Agents []AgentConfig `yaml:"agents"`
	// Safety configures the side-effect policy rule tables.
	Safety SafetyConfig `yaml:"safety"`
	// Log configures structured logging.
	Log LogConfig `yaml:"log"`
}

// EngineConfig configures the workflow executor.
type EngineConfig struct {
	// MaxParallel is the workflow-level fan-out.
	MaxParallel int `yaml:"max_parallel"`
	// DefaultTaskTimeout applies to tasks that do not declare their own.
	DefaultTaskTimeout Duration `yaml:"default_task_timeout"`
}

// AgentConfig configures dispatch limits for one agent name.
type AgentConfig struct {
	Name          string  `yaml:"name"`
	MaxConcurrent int     `yaml:"max_concurrent"`
	RatePerSecond float64 `yaml:"rate_per_second"`
	Burst         int     `yaml:"burst"`
}

// SafetyConfig configures the safety policy.
type SafetyConfig struct {
	ForbiddenCommands []string `yaml:"forbidden_commands"`
	ForbiddenPrefixes []string `yaml:"forbidden_prefixes"`
	AllowedRoots      []string `yaml:"allowed_roots"`
	ForbiddenPaths    []string `yaml:"forbidden_paths"`
	Home              string   `yaml:"home"`
	AuditLog          bool     `yaml:"audit_log"`
	AuditLogPath      string   `yaml:"audit_log_path"`
}

// Rules converts the section into safety policy rule tables.
func (s SafetyConfig) Rules() safety.Rules {
	return safety.Rules{
		ForbiddenCommands: s.ForbiddenCommands,
		ForbiddenPrefixes: s.ForbiddenPrefixes,
		AllowedRoots:      s.AllowedRoots,
		ForbiddenPaths:    s.ForbiddenPaths,
		Home:              s.Home,
	}
}

// LogConfig configures structured logging.
type LogConfig struct {
	// Level is one of debug, info, warn, error.
	Level string `yaml:"level"`
	// Format is json or console.
	Format string `yaml:"format"`
}

// BuildLogger constructs a zap logger from the section.
func (l LogConfig) BuildLogger() (*zap.Logger, error) {
	level, err := zap.ParseAtomicLevel(l.Level)
	if err != nil {
		return nil, fmt.Errorf("invalid log level %q: %w", l.Level, err)
	}
	cfg := zap.NewProductionConfig()
	cfg.Level = level
	cfg.Encoding = l.Format
	if l.Format == "console" {
		cfg = zap.NewDevelopmentConfig()
		cfg.Level = level
	}
	return cfg.Build()
}

// Default returns the built-in configuration: fan-out of five, five-minute
// task timeout, default safety rule tables, JSON logging at info.
func Default() *Config {
	defaults := safety.DefaultRules()
	return &Config{
		Engine: EngineConfig{
			MaxParallel:        5,
			DefaultTaskTimeout: Duration(5 * time.Minute),
		},
		Safety: SafetyConfig{
			ForbiddenCommands: defaults.ForbiddenCommands,
			ForbiddenPrefixes: defaults.ForbiddenPrefixes,
			AuditLog:          true,
		},
		Log: LogConfig{
			Level:  "info",
			Format: "json",
		},
	}
}

// Validate rejects configurations the engine cannot run with.
func (c *Config) Validate() error {
	if c.Engine.MaxParallel < 1 {
		return fmt.Errorf("engine.max_parallel must be at least 1, got %d", c.Engine.MaxParallel)
	}
	if c.Engine.DefaultTaskTimeout < 0 {
		return fmt.Errorf("engine.default_task_timeout must not be negative")
	}
	seen := make(map[string]bool, len(c.Agents))
	for _, a := range c.Agents {
		if a.Name == "" {
			return fmt.Errorf("agents: name is required")
		}
		if seen[a.Name] {
			return fmt.Errorf("agents: duplicate agent %q", a.Name)
		}
		seen[a.Name] = true
		if a.MaxConcurrent < 1 {
			return fmt.Errorf("agent %q: max_concurrent must be at least 1, got %d", a.Name, a.MaxConcurrent)
		}
		if a.RatePerSecond < 0 {
			return fmt.Errorf("agent %q: rate_per_second must not be negative", a.Name)
		}
		if a.RatePerSecond > 0 && a.Burst < 1 {
			return fmt.Errorf("agent %q: burst must be at least 1 when rate limited", a.Name)
		}
	}
	switch c.Log.Level {
	case "debug", "info", "warn", "error":
	default:
		return fmt.Errorf("log.level must be one of debug, info, warn, error; got %q", c.Log.Level)
	}
	switch c.Log.Format {
	case "json", "console":
	default:
		return fmt.Errorf("log.format must be json or console; got %q", c.Log.Format)
	}
	return nil
}
