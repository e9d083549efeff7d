package config

import (
	"fmt"
	"os"
	"path/filepath"
	"time"

	"gopkg.in/yaml.v3"
)

// Config models specloom.yml.
type Config struct {
	Specs struct {
		Root string `yaml:"root"`
	} `yaml:"specs"`
	Worktrees struct {
		Repo    string `yaml:"repo"`
		BaseDir string `yaml:"base_dir"`
	} `yaml:"worktrees"`
	Storage struct {
		Backend string `yaml:"backend"`
	} `yaml:"storage"`
	Lock struct {
		Attempts          int `yaml:"attempts"`
		DelayMillis       int `yaml:"delay_ms"`
		StaleAfterMinutes int `yaml:"stale_after_minutes"`
	} `yaml:"lock"`
	StrictPhases bool `yaml:"strict_phases"`
}

// Validate ensures the config meets required structure.
func (c *Config) Validate() error {
	switch c.Storage.Backend {
	case "file", "sqlite":
	default:
		return fmt.Errorf("config.storage.backend must be file or sqlite, got %q", c.Storage.Backend)
	}
	if c.Lock.Attempts <= 0 {
		return fmt.Errorf("config.lock.attempts must be positive")
	}
	if c.Lock.DelayMillis <= 0 {
		return fmt.Errorf("config.lock.delay_ms must be positive")
	}
	if c.Lock.StaleAfterMinutes <= 0 {
		return fmt.Errorf("config.lock.stale_after_minutes must be positive")
	}
	return nil
}

// LockDelay returns the configured polling delay.
func (c *Config) LockDelay() time.Duration {
	return time.Duration(c.Lock.DelayMillis) * time.Millisecond
}

// LockStaleAfter returns the configured staleness threshold.
func (c *Config) LockStaleAfter() time.Duration {
	return time.Duration(c.Lock.StaleAfterMinutes) * time.Minute
}

// Path returns the config file path for a workspace.
func Path(workspace string) string {
	if workspace == "" {
		workspace = "."
	}
	return filepath.Join(workspace, "specloom.yml")
}

// Default returns the built-in configuration.
func Default() *Config {
	var cfg Config
	cfg.Specs.Root = "specs"
	cfg.Worktrees.Repo = "."
	cfg.Worktrees.BaseDir = ".worktrees"
	cfg.Storage.Backend = "file"
	cfg.Lock.Attempts = 60
	cfg.Lock.DelayMillis = 500
	cfg.Lock.StaleAfterMinutes = 5
	return &cfg
}

// Load reads specloom.yml from the workspace, falling back to defaults when
// the file does not exist.
func Load(workspace string) (*Config, error) {
	data, err := os.ReadFile(Path(workspace))
	if err != nil {
		if os.IsNotExist(err) {
			return Default(), nil
		}
		return nil, err
	}
	return FromYAML(data)
}

// FromYAML parses and validates config over the defaults.
func FromYAML(data []byte) (*Config, error) {
	cfg := Default()
	if err := yaml.Unmarshal(data, cfg); err != nil {
		return nil, fmt.Errorf("invalid config yaml: %w", err)
	}
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return cfg, nil
}
