// Package config loads the YAML configuration file and serves the provider
// list through a short-lived cache.
package config

import (
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"time"

	"gopkg.in/yaml.v3"

	"github.com/router-for-me/UsageDeck/internal/provider"
	"github.com/router-for-me/UsageDeck/internal/util"
)

// DefaultConfigFileName is used when no explicit path is given.
const DefaultConfigFileName = "config.yaml"

// Config is the full daemon configuration.
type Config struct {
	Database  Database          `yaml:"database"`
	Server    Server            `yaml:"server"`
	Log       Log               `yaml:"log"`
	Refresh   Refresh           `yaml:"refresh"`
	Retention Retention         `yaml:"retention"`
	Reset     Reset             `yaml:"reset"`
	Providers []provider.Config `yaml:"providers"`
}

// Database selects the backing store.
type Database struct {
	// DSN is a SQLite path/file: URL or a postgres:// DSN.
	DSN string `yaml:"dsn"`
}

// Server configures the local HTTP API.
type Server struct {
	Addr string `yaml:"addr"`
}

// Log configures logging output.
type Log struct {
	// File enables rotated file output when set; empty logs to stderr.
	File       string `yaml:"file"`
	MaxSizeMB  int    `yaml:"max_size_mb"`
	MaxBackups int    `yaml:"max_backups"`
	Debug      bool   `yaml:"debug"`
}

// Refresh configures the orchestrator's schedule and fan-out.
type Refresh struct {
	IntervalSeconds    int `yaml:"interval_seconds"`
	QuietPeriodSeconds int `yaml:"quiet_period_seconds"`
	MaxConcurrency     int `yaml:"max_concurrency"`
}

// Interval returns the poll interval with the default applied.
func (r Refresh) Interval() time.Duration {
	if r.IntervalSeconds <= 0 {
		return 5 * time.Minute
	}
	return time.Duration(r.IntervalSeconds) * time.Second
}

// QuietPeriod returns the startup quiet period with the default applied.
func (r Refresh) QuietPeriod() time.Duration {
	if r.QuietPeriodSeconds < 0 {
		return 0
	}
	if r.QuietPeriodSeconds == 0 {
		return 30 * time.Second
	}
	return time.Duration(r.QuietPeriodSeconds) * time.Second
}

// Retention configures the raw snapshot TTL.
type Retention struct {
	RawDays int `yaml:"raw_days"`
}

// RawWindow returns the raw snapshot retention window with the default
// applied.
func (r Retention) RawWindow() time.Duration {
	days := r.RawDays
	if days <= 0 {
		days = 14
	}
	return time.Duration(days) * 24 * time.Hour
}

// Reset overrides the detector thresholds. Zero values keep the defaults.
type Reset struct {
	ScheduleBufferSeconds int     `yaml:"schedule_buffer_seconds"`
	QuotaPrevMinPercent   float64 `yaml:"quota_prev_min_percent"`
	QuotaDropRatio        float64 `yaml:"quota_drop_ratio"`
	UsageDropRatio        float64 `yaml:"usage_drop_ratio"`
}

// ResolveConfigPath picks the configuration file path: the explicit value,
// then the USAGEDECK_CONFIG environment variable, then config.yaml next to
// the writable path or working directory.
func ResolveConfigPath(explicit string) string {
	if trimmed := strings.TrimSpace(explicit); trimmed != "" {
		return filepath.Clean(trimmed)
	}
	if env := strings.TrimSpace(os.Getenv("USAGEDECK_CONFIG")); env != "" {
		return filepath.Clean(env)
	}
	if writable := util.WritablePath(); writable != "" {
		return filepath.Join(writable, DefaultConfigFileName)
	}
	cwd, errCwd := os.Getwd()
	if errCwd != nil {
		return DefaultConfigFileName
	}
	return filepath.Join(cwd, DefaultConfigFileName)
}

// Load reads and parses the configuration file.
func Load(path string) (*Config, error) {
	data, errRead := os.ReadFile(path)
	if errRead != nil {
		return nil, fmt.Errorf("config: read %s: %w", path, errRead)
	}
	var cfg Config
	if errUnmarshal := yaml.Unmarshal(data, &cfg); errUnmarshal != nil {
		return nil, fmt.Errorf("config: parse %s: %w", path, errUnmarshal)
	}
	cfg.applyDefaults(path)
	return &cfg, nil
}

func (c *Config) applyDefaults(path string) {
	if strings.TrimSpace(c.Database.DSN) == "" {
		c.Database.DSN = filepath.Join(filepath.Dir(path), "usagedeck.db")
	}
	if strings.TrimSpace(c.Server.Addr) == "" {
		c.Server.Addr = "127.0.0.1:8217"
	}
}
