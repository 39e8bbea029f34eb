package config

import (
	"errors"
	"fmt"
	"io/fs"
	"os"
	"path/filepath"
	"strings"

	"gopkg.in/yaml.v3"
)

// Config represents the complete adbsync configuration
type Config struct {
	ADB  ADBConfig  `yaml:"adb"`
	Sync SyncConfig `yaml:"sync"`
	Log  LogConfig  `yaml:"log"`
}

// ADBConfig configures how the adb tool is invoked
type ADBConfig struct {
	Binary string `yaml:"binary"`
	Serial string `yaml:"serial"`
}

// SyncConfig holds the defaults for every sync run
type SyncConfig struct {
	SetTimes    bool     `yaml:"set_times"`
	DeleteIfDNE bool     `yaml:"delete_if_dne"`
	IgnoreDirs  []string `yaml:"ignore_dirs"`
}

// LogConfig configures log output
type LogConfig struct {
	Level  string `yaml:"level"`
	Format string `yaml:"format"`
}

// DefaultPath returns $HOME/.config/adbsync/config.yaml, or "" when the home
// directory is unknown.
func DefaultPath() string {
	home, err := os.UserHomeDir()
	if err != nil {
		return ""
	}
	return filepath.Join(home, ".config", "adbsync", "config.yaml")
}

// Default returns the built-in configuration
func Default() *Config {
	cfg := &Config{}
	cfg.applyDefaults()
	return cfg
}

// Load reads and parses the configuration file
func Load(path string) (*Config, error) {
	// Expand environment variables in path
	path = os.ExpandEnv(path)

	// Read file
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("failed to read config file: %w", err)
	}

	// Parse YAML
	var cfg Config
	if err := yaml.Unmarshal(data, &cfg); err != nil {
		return nil, fmt.Errorf("failed to parse config file: %w", err)
	}

	cfg.expandEnv()
	cfg.applyDefaults()

	if err := cfg.Validate(); err != nil {
		return nil, fmt.Errorf("invalid configuration: %w", err)
	}

	return &cfg, nil
}

// LoadOptional is Load for a path that may not exist, in which case the
// built-in configuration is returned.
func LoadOptional(path string) (*Config, error) {
	if path == "" {
		return Default(), nil
	}
	cfg, err := Load(path)
	if errors.Is(err, fs.ErrNotExist) {
		return Default(), nil
	}
	return cfg, err
}

// expandEnv expands environment variables in all string fields
func (c *Config) expandEnv() {
	c.ADB.Binary = os.ExpandEnv(c.ADB.Binary)
	c.ADB.Serial = os.ExpandEnv(c.ADB.Serial)
	for i, dir := range c.Sync.IgnoreDirs {
		c.Sync.IgnoreDirs[i] = os.ExpandEnv(dir)
	}
}

// applyDefaults fills in zero-value fields with sensible defaults.
func (c *Config) applyDefaults() {
	if c.ADB.Binary == "" {
		c.ADB.Binary = "adb"
	}
	if c.Log.Level == "" {
		c.Log.Level = "info"
	}
	if c.Log.Format == "" {
		c.Log.Format = "text"
	}
}

// Validate checks the configuration for errors
func (c *Config) Validate() error {
	for i, dir := range c.Sync.IgnoreDirs {
		if strings.TrimSpace(dir) == "" {
			return fmt.Errorf("sync.ignore_dirs[%d] must not be empty", i)
		}
	}

	switch strings.ToLower(c.Log.Level) {
	case "debug", "info", "warn", "error":
		// valid
	default:
		return fmt.Errorf("invalid log.level: %s (must be debug, info, warn, or error)", c.Log.Level)
	}

	switch c.Log.Format {
	case "text", "json":
		// valid
	default:
		return fmt.Errorf("invalid log.format: %s (must be text or json)", c.Log.Format)
	}

	return nil
}
