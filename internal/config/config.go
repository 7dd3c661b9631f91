// Package config loads hive runtime configuration from YAML with
// environment overrides.
package config

import (
	"fmt"
	"os"
	"path/filepath"
	"strconv"
	"time"

	"gopkg.in/yaml.v3"

	"github.com/roach88/hivelang/internal/engine"
	"github.com/roach88/hivelang/internal/runtime"
)

// Environment variables that override file values.
const (
	EnvDatabase = "HIVE_DB"
	EnvListen   = "HIVE_ADDR"
	EnvMaxSteps = "HIVE_MAX_STEPS"
)

// Config holds all hive runtime settings.
type Config struct {
	Database string         `yaml:"database"`
	Listen   string         `yaml:"listen"`
	Cache    CacheConfig    `yaml:"cache"`
	Sandbox  SandboxConfig  `yaml:"sandbox"`
	Engine   EngineConfig   `yaml:"engine"`
	Compiler CompilerConfig `yaml:"compiler"`
	Logging  LoggingConfig  `yaml:"logging"`
}

// CacheConfig sizes the runtime cache.
type CacheConfig struct {
	Capacity int    `yaml:"capacity"`
	Policy   string `yaml:"policy"` // insertion, lru
}

// SandboxConfig configures outbound HTTP.
type SandboxConfig struct {
	DefaultTimeout string `yaml:"default_timeout"`
	AllowLoopback  bool   `yaml:"allow_loopback"`
	MaxBodyBytes   int64  `yaml:"max_body_bytes"`
	UserAgent      string `yaml:"user_agent"`
}

// EngineConfig bounds capability execution.
type EngineConfig struct {
	MaxSteps      int `yaml:"max_steps"`
	MaxValueBytes int `yaml:"max_value_bytes"`
}

// CompilerConfig controls source loading.
type CompilerConfig struct {
	StrictDuplicates bool `yaml:"strict_duplicates"`
}

// LoggingConfig selects the slog handler.
type LoggingConfig struct {
	Level  string `yaml:"level"`  // debug, info, warn, error
	Format string `yaml:"format"` // json, text
}

// DefaultConfig returns the default configuration.
func DefaultConfig() *Config {
	c := &Config{}
	c.applyDefaults()
	// Loopback is only defaulted on for a fresh config; an explicit false
	// in a file is kept.
	c.Sandbox.AllowLoopback = true
	return c
}

// Load reads configuration from a YAML file, fills unset fields with
// defaults, applies environment overrides and validates the result.
// A missing file yields the defaults.
func Load(path string) (*Config, error) {
	cfg := DefaultConfig()

	if path != "" {
		data, err := os.ReadFile(path)
		switch {
		case os.IsNotExist(err):
		case err != nil:
			return nil, fmt.Errorf("read config: %w", err)
		default:
			if err := yaml.Unmarshal(data, cfg); err != nil {
				return nil, fmt.Errorf("parse config %s: %w", path, err)
			}
		}
	}

	cfg.applyDefaults()
	if err := cfg.applyEnvOverrides(); err != nil {
		return nil, err
	}
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return cfg, nil
}

// Save writes the configuration as YAML, creating parent directories.
func (c *Config) Save(path string) error {
	if err := os.MkdirAll(filepath.Dir(path), 0o755); err != nil {
		return fmt.Errorf("create config directory: %w", err)
	}
	data, err := yaml.Marshal(c)
	if err != nil {
		return fmt.Errorf("marshal config: %w", err)
	}
	if err := os.WriteFile(path, data, 0o644); err != nil {
		return fmt.Errorf("write config: %w", err)
	}
	return nil
}

func (c *Config) applyDefaults() {
	if c.Database == "" {
		c.Database = "hive.db"
	}
	if c.Listen == "" {
		c.Listen = "127.0.0.1:8080"
	}
	if c.Cache.Capacity <= 0 {
		c.Cache.Capacity = runtime.DefaultCacheCapacity
	}
	if c.Cache.Policy == "" {
		c.Cache.Policy = string(runtime.PolicyInsertion)
	}
	if c.Sandbox.DefaultTimeout == "" {
		c.Sandbox.DefaultTimeout = "30s"
	}
	if c.Sandbox.MaxBodyBytes <= 0 {
		c.Sandbox.MaxBodyBytes = 10 << 20
	}
	if c.Sandbox.UserAgent == "" {
		c.Sandbox.UserAgent = "hive-runtime/1"
	}
	if c.Engine.MaxSteps <= 0 {
		c.Engine.MaxSteps = engine.DefaultMaxSteps
	}
	if c.Engine.MaxValueBytes <= 0 {
		c.Engine.MaxValueBytes = engine.DefaultMaxValueBytes
	}
	if c.Logging.Level == "" {
		c.Logging.Level = "info"
	}
	if c.Logging.Format == "" {
		c.Logging.Format = "text"
	}
}

func (c *Config) applyEnvOverrides() error {
	if v := os.Getenv(EnvDatabase); v != "" {
		c.Database = v
	}
	if v := os.Getenv(EnvListen); v != "" {
		c.Listen = v
	}
	if v := os.Getenv(EnvMaxSteps); v != "" {
		n, err := strconv.Atoi(v)
		if err != nil {
			return fmt.Errorf("%s: %w", EnvMaxSteps, err)
		}
		c.Engine.MaxSteps = n
	}
	return nil
}

// Validate checks that every field holds a usable value.
func (c *Config) Validate() error {
	if _, err := runtime.ParsePolicy(c.Cache.Policy); err != nil {
		return fmt.Errorf("cache.policy: %w", err)
	}
	if c.Cache.Capacity <= 0 {
		return fmt.Errorf("cache.capacity must be positive, got %d", c.Cache.Capacity)
	}
	d, err := time.ParseDuration(c.Sandbox.DefaultTimeout)
	if err != nil {
		return fmt.Errorf("sandbox.default_timeout: %w", err)
	}
	if d <= 0 {
		return fmt.Errorf("sandbox.default_timeout must be positive, got %s", d)
	}
	if c.Engine.MaxSteps <= 0 {
		return fmt.Errorf("engine.max_steps must be positive, got %d", c.Engine.MaxSteps)
	}
	if c.Engine.MaxValueBytes <= 0 {
		return fmt.Errorf("engine.max_value_bytes must be positive, got %d", c.Engine.MaxValueBytes)
	}
	switch c.Logging.Level {
	case "debug", "info", "warn", "error":
	default:
		return fmt.Errorf("logging.level: unknown level %q", c.Logging.Level)
	}
	switch c.Logging.Format {
	case "text", "json":
	default:
		return fmt.Errorf("logging.format: unknown format %q", c.Logging.Format)
	}
	return nil
}

// SandboxTimeout returns the parsed default sandbox timeout.
// Call only on a validated Config.
func (c *Config) SandboxTimeout() time.Duration {
	d, _ := time.ParseDuration(c.Sandbox.DefaultTimeout)
	return d
}

// CachePolicy returns the parsed cache policy.
// Call only on a validated Config.
func (c *Config) CachePolicy() runtime.Policy {
	p, _ := runtime.ParsePolicy(c.Cache.Policy)
	return p
}
