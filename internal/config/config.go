// Package config provides YAML-based configuration loading for labassist.
package config

import (
	"fmt"
	"os"
	"path/filepath"
	"strings"

	"github.com/RichardoC/labassist/internal/llm"
	"gopkg.in/yaml.v3"
)

// Environment overrides, read after an optional .env file is loaded.
const (
	EnvModel = "LABASSIST_MODEL"
	EnvDB    = "LABASSIST_DB"
)

// Config is the top-level configuration, loaded from labassist.yaml.
type Config struct {
	Model     string          `yaml:"model"`
	Database  string          `yaml:"database"`
	Log       LogConfig       `yaml:"log"`
	Telemetry TelemetryConfig `yaml:"telemetry"`
	Server    ServerConfig    `yaml:"server"`
}

// LogConfig controls the rotated zap log file.
type LogConfig struct {
	File       string `yaml:"file"`
	Level      string `yaml:"level"`
	MaxSizeMB  int    `yaml:"max_size_mb"`
	MaxBackups int    `yaml:"max_backups"`
	MaxAgeDays int    `yaml:"max_age_days"`
	Console    bool   `yaml:"console"`
}

// TelemetryConfig enables the OpenTelemetry file exporters.
type TelemetryConfig struct {
	Enabled bool   `yaml:"enabled"`
	Dir     string `yaml:"dir"`
}

// ServerConfig holds the loopback HTTP surface settings.
type ServerConfig struct {
	Addr   string `yaml:"addr"`
	WebDir string `yaml:"web_dir"`
}

var validLevels = map[string]bool{"debug": true, "info": true, "warn": true, "error": true}

// Default returns the configuration used when no file is given.
func Default() *Config {
	cfg := &Config{}
	cfg.applyDefaults()
	return cfg
}

// Load reads a YAML config file from path and returns a validated Config.
func Load(path string) (*Config, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("config: read %s: %w", path, err)
	}
	return Parse(data)
}

// Parse unmarshals YAML bytes into a validated Config.
func Parse(data []byte) (*Config, error) {
	var cfg Config
	if err := yaml.Unmarshal(data, &cfg); err != nil {
		return nil, fmt.Errorf("config: parse: %w", err)
	}
	cfg.applyDefaults()
	if err := cfg.validate(); err != nil {
		return nil, err
	}
	return &cfg, nil
}

// ApplyEnv overrides fields from the environment. lookup is os.LookupEnv in
// production.
func (c *Config) ApplyEnv(lookup func(string) (string, bool)) {
	if v, ok := lookup(EnvModel); ok && v != "" {
		c.Model = v
	}
	if v, ok := lookup(EnvDB); ok && v != "" {
		c.Database = v
	}
}

// applyDefaults fills in derived and default values.
func (c *Config) applyDefaults() {
	if c.Model == "" {
		c.Model = llm.DefaultModel
	}
	if c.Database == "" {
		c.Database = defaultDatabasePath()
	}
	if c.Log.File == "" {
		c.Log.File = filepath.Join("logs", "labassist.log")
	}
	if c.Log.Level == "" {
		c.Log.Level = "info"
	}
	c.Log.Level = strings.ToLower(c.Log.Level)
	if c.Log.MaxSizeMB == 0 {
		c.Log.MaxSizeMB = 10
	}
	if c.Log.MaxBackups == 0 {
		c.Log.MaxBackups = 3
	}
	if c.Log.MaxAgeDays == 0 {
		c.Log.MaxAgeDays = 28
	}
	if c.Telemetry.Dir == "" {
		c.Telemetry.Dir = "logs"
	}
	if c.Server.Addr == "" {
		c.Server.Addr = "127.0.0.1:8100"
	}
}

func defaultDatabasePath() string {
	home, err := os.UserHomeDir()
	if err != nil || home == "" {
		return "labassist.db"
	}
	return filepath.Join(home, ".labassist", "labassist.db")
}

// validate checks that all required fields are present and consistent.
func (c *Config) validate() error {
	var errs []string
	if !validLevels[c.Log.Level] {
		errs = append(errs, fmt.Sprintf("log.level %q must be one of debug, info, warn, error", c.Log.Level))
	}
	if c.Log.MaxSizeMB < 0 {
		errs = append(errs, "log.max_size_mb must not be negative")
	}
	if c.Log.MaxBackups < 0 {
		errs = append(errs, "log.max_backups must not be negative")
	}
	if c.Log.MaxAgeDays < 0 {
		errs = append(errs, "log.max_age_days must not be negative")
	}
	if !strings.Contains(c.Server.Addr, ":") {
		errs = append(errs, fmt.Sprintf("server.addr %q must be host:port", c.Server.Addr))
	}
	if len(errs) > 0 {
		return fmt.Errorf("config: validation failed: %s", strings.Join(errs, "; "))
	}
	return nil
}
