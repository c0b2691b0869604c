// Package config loads codemie-sync settings: defaults, then
// ~/.codemie/sync.yaml, then environment variables.
package config

import (
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"strconv"
	"time"

	"gopkg.in/yaml.v3"
)

const (
	EnvHome                = "CODEMIE_HOME"
	EnvDebug               = "CODEMIE_DEBUG"
	EnvDisableMetrics      = "CODEMIE_DISABLE_METRICS"
	EnvCorrelationAttempts = "CODEMIE_CORRELATION_ATTEMPTS"
	EnvSessionID           = "CODEMIE_SESSION_ID"
	DirName                = ".codemie"
	FileName               = "sync.yaml"
)

// Defaults
const (
	DefaultAttempts       = 8
	DefaultInitialDelay   = 500 * time.Millisecond
	DefaultMaxDelay       = 32 * time.Second
	DefaultLockStaleAfter = 30 * time.Second
	DefaultSyncInterval   = 30 * time.Second
	DefaultDebounce       = time.Second
)

// CorrelationConfig is the transcript discovery retry schedule
type CorrelationConfig struct {
	Attempts     int           `yaml:"attempts"`
	InitialDelay time.Duration `yaml:"initial_delay"`
	MaxDelay     time.Duration `yaml:"max_delay"`
}

// ProviderConfig holds per-provider switches
type ProviderConfig struct {
	Enabled *bool `yaml:"enabled,omitempty"`
}

// Config holds the resolved configuration
type Config struct {
	// Home is the codemie data directory. Not read from the file.
	Home string `yaml:"-"`

	Debug          bool                      `yaml:"debug"`
	DisableMetrics bool                      `yaml:"disable_metrics"`
	Correlation    CorrelationConfig         `yaml:"correlation"`
	LockStaleAfter time.Duration             `yaml:"lock_stale_after"`
	SyncInterval   time.Duration             `yaml:"sync_interval"`
	Debounce       time.Duration             `yaml:"debounce"`
	MetricsFile    string                    `yaml:"metrics_textfile,omitempty"`
	Providers      map[string]ProviderConfig `yaml:"providers,omitempty"`
}

// Default returns the built-in configuration rooted at home
func Default(home string) *Config {
	return &Config{
		Home: home,
		Correlation: CorrelationConfig{
			Attempts:     DefaultAttempts,
			InitialDelay: DefaultInitialDelay,
			MaxDelay:     DefaultMaxDelay,
		},
		LockStaleAfter: DefaultLockStaleAfter,
		SyncInterval:   DefaultSyncInterval,
		Debounce:       DefaultDebounce,
	}
}

// HomeDir returns the codemie data directory
func HomeDir() (string, error) {
	if home := os.Getenv(EnvHome); home != "" {
		return home, nil
	}
	userHome, err := os.UserHomeDir()
	if err != nil {
		return "", fmt.Errorf("failed to get home directory: %w", err)
	}
	return filepath.Join(userHome, DirName), nil
}

// Load resolves the configuration from defaults, file and environment
func Load() (*Config, error) {
	home, err := HomeDir()
	if err != nil {
		return nil, err
	}
	cfg := Default(home)
	if err := loadConfigFile(cfg.Path(), cfg); err != nil {
		return nil, err
	}
	loadConfigFromEnv(cfg)
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return cfg, nil
}

func loadConfigFile(path string, cfg *Config) error {
	data, err := os.ReadFile(path)
	if err != nil {
		if errors.Is(err, os.ErrNotExist) {
			return nil
		}
		return fmt.Errorf("read config: %w", err)
	}
	if err := yaml.Unmarshal(data, cfg); err != nil {
		return fmt.Errorf("parse config %s: %w", path, err)
	}
	return nil
}

func loadConfigFromEnv(cfg *Config) {
	if isTrue(os.Getenv(EnvDebug)) {
		cfg.Debug = true
	}
	if isTrue(os.Getenv(EnvDisableMetrics)) {
		cfg.DisableMetrics = true
	}
	if v := os.Getenv(EnvCorrelationAttempts); v != "" {
		if n, err := strconv.Atoi(v); err == nil && n >= 0 {
			cfg.Correlation.Attempts = n
		}
	}
}

func isTrue(v string) bool {
	return v == "1" || v == "true"
}

// Validate rejects settings the pipeline cannot run with
func (c *Config) Validate() error {
	if c.Correlation.Attempts < 0 {
		return errors.New("correlation.attempts must not be negative")
	}
	if c.Correlation.InitialDelay <= 0 {
		return errors.New("correlation.initial_delay must be positive")
	}
	if c.Correlation.MaxDelay < c.Correlation.InitialDelay {
		return errors.New("correlation.max_delay must not be below initial_delay")
	}
	if c.LockStaleAfter <= 0 {
		return errors.New("lock_stale_after must be positive")
	}
	if c.SyncInterval < 0 || c.Debounce < 0 {
		return errors.New("sync_interval and debounce must not be negative")
	}
	return nil
}

// Path returns the config file location
func (c *Config) Path() string {
	return filepath.Join(c.Home, FileName)
}

// SessionsDir holds session documents, locks, conversations and outboxes
func (c *Config) SessionsDir() string {
	return filepath.Join(c.Home, "sessions")
}

// LogsDir holds the daily log files
func (c *Config) LogsDir() string {
	return filepath.Join(c.Home, "logs")
}

// ProviderEnabled reports whether the sync pipeline runs for a provider
func (c *Config) ProviderEnabled(name string) bool {
	if c.DisableMetrics {
		return false
	}
	if p, ok := c.Providers[name]; ok && p.Enabled != nil {
		return *p.Enabled
	}
	return true
}

// Marshal renders the configuration as YAML
func (c *Config) Marshal() ([]byte, error) {
	return yaml.Marshal(c)
}
