package config

import (
	"fmt"
	"os"
	"time"

	"gopkg.in/yaml.v3"
)

// Config holds all artkit configuration.
type Config struct {
	Cache     CacheConfig      `yaml:"cache"`
	Log       LogConfig        `yaml:"log"`
	Retry     RetryConfig      `yaml:"retry"`
	Providers []ProviderConfig `yaml:"providers"`
	Router    RouterConfig     `yaml:"router"`
}

// RouterConfig defines model aliases and their fallback chains.
type RouterConfig struct {
	Routes []RouteConfig `yaml:"routes"`
}

// RouteConfig maps a model alias to an ordered list of targets.
type RouteConfig struct {
	Model   string        `yaml:"model"`
	Targets []RouteTarget `yaml:"targets"`
}

// RouteTarget identifies a specific provider and model in a fallback chain.
type RouteTarget struct {
	Provider string `yaml:"provider"`
	Model    string `yaml:"model"`
}

// ProviderConfig defines an upstream model provider.
// Type is "openai" (default), "groq", "anthropic" or "gemini". APIKeyEnv names the
// environment variable holding the key; the key itself is never stored.
type ProviderConfig struct {
	Name      string         `yaml:"name"`
	Type      string         `yaml:"type"`
	URL       string         `yaml:"url"`
	APIKeyEnv string         `yaml:"api_key_env"`
	Params    map[string]any `yaml:"params"`
}

// CacheConfig controls the response cache.
type CacheConfig struct {
	Enabled   bool            `yaml:"enabled"`
	DBPath    string          `yaml:"db_path"`
	Retention RetentionConfig `yaml:"retention"`
}

// RetentionConfig controls background eviction. Zero durations disable
// the corresponding rule; with both zero no sweeper runs.
type RetentionConfig struct {
	MaxAge   time.Duration `yaml:"max_age"`
	MaxIdle  time.Duration `yaml:"max_idle"`
	Interval time.Duration `yaml:"interval"`
}

// LogConfig controls the process logger.
type LogConfig struct {
	Level       string   `yaml:"level"`
	Format      string   `yaml:"format"`
	OutputPaths []string `yaml:"output_paths"`
}

// RetryConfig controls rate limit retries and client-side throttling.
type RetryConfig struct {
	MaxAttempts       int           `yaml:"max_attempts"`
	InitialDelay      time.Duration `yaml:"initial_delay"`
	ExponentialBase   float64       `yaml:"exponential_base"`
	Jitter            bool          `yaml:"jitter"`
	RequestsPerSecond float64       `yaml:"requests_per_second"`
}

// Default returns a Config with sensible defaults.
func Default() *Config {
	return &Config{
		Cache: CacheConfig{
			Enabled: true,
			DBPath:  "artkit-cache.db",
			Retention: RetentionConfig{
				Interval: time.Hour,
			},
		},
		Log: LogConfig{
			Level:  "info",
			Format: "console",
		},
		Retry: RetryConfig{
			MaxAttempts:     5,
			InitialDelay:    time.Second,
			ExponentialBase: 2,
			Jitter:          true,
		},
	}
}

// Load reads a YAML config file and expands environment variables.
func Load(path string) (*Config, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("read config: %w", err)
	}

	expanded := os.ExpandEnv(string(data))

	cfg := Default()
	if err := yaml.Unmarshal([]byte(expanded), cfg); err != nil {
		return nil, fmt.Errorf("parse config: %w", err)
	}

	return cfg, nil
}
