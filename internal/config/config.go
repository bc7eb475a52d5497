// Package config loads the server configuration from a YAML file.
package config

import (
	"os"
	"time"

	pkgerrors "github.com/pkg/errors"
	"sigs.k8s.io/yaml"
)

// Config is the full server configuration. Zero values fall back to the
// defaults below; an empty MySQL DSN selects the in-memory store.
type Config struct {
	ListenAddr string `json:"listenAddr"`
	MySQLDSN   string `json:"mysqlDSN"`
	RedisAddr  string `json:"redisAddr"`

	RateLimitRPS   float64 `json:"rateLimitRPS"`
	RateLimitBurst int     `json:"rateLimitBurst"`

	AuditRetentionDays int `json:"auditRetentionDays"`

	LogFile       string `json:"logFile"`
	LogMaxSizeMB  int    `json:"logMaxSizeMB"`
	LogMaxBackups int    `json:"logMaxBackups"`
}

// Default returns the configuration used when no file is given.
func Default() *Config {
	return &Config{
		ListenAddr:         ":8080",
		RateLimitRPS:       50,
		RateLimitBurst:     100,
		AuditRetentionDays: 365,
		LogMaxSizeMB:       100,
		LogMaxBackups:      5,
	}
}

// Load reads and merges a YAML config file over the defaults.
func Load(path string) (*Config, error) {
	cfg := Default()
	if path == "" {
		return cfg, nil
	}
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, pkgerrors.Wrap(err, "read config file")
	}
	if err := yaml.Unmarshal(data, cfg); err != nil {
		return nil, pkgerrors.Wrap(err, "parse config file")
	}
	if cfg.ListenAddr == "" {
		cfg.ListenAddr = ":8080"
	}
	if cfg.AuditRetentionDays < 1 {
		cfg.AuditRetentionDays = 365
	}
	return cfg, nil
}

// AuditRetention returns the retention window as a duration.
func (c *Config) AuditRetention() time.Duration {
	return time.Duration(c.AuditRetentionDays) * 24 * time.Hour
}
