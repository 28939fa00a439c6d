// Package config loads forge configuration from file and environment.
//
// Settings come from a yaml config file (forge.yaml in ~/.forge or the
// working directory) with FORGE_-prefixed environment variables taking
// precedence; both are handled by viper.
package config

import (
	"fmt"
	"time"

	"github.com/spf13/viper"

	"github.com/forgebuild/forge/internal/db/driver"
)

// Config is the full forge configuration.
type Config struct {
	Database DatabaseConfig
	Janitor  JanitorConfig
	Log      LogConfig
}

// DatabaseConfig selects the engine and where the store lives.
type DatabaseConfig struct {
	// Dialect is "sqlite" or "postgres".
	Dialect string
	// DSN is the SQLite file path or PostgreSQL connection string.
	// Empty means the default SQLite path (~/.forge/forge.db).
	DSN string
}

// JanitorConfig controls retention pruning.
type JanitorConfig struct {
	// Schedule is a cron expression (robfig/cron syntax).
	Schedule string
	// Horizon is how long build data is kept after a build completes.
	Horizon time.Duration
}

// LogConfig controls logging output.
type LogConfig struct {
	// Level is debug, info, warn or error.
	Level string
}

// SetDefaults registers default values on v.
func SetDefaults(v *viper.Viper) {
	v.SetDefault("database.dialect", "sqlite")
	v.SetDefault("database.dsn", "")
	v.SetDefault("janitor.schedule", "@daily")
	v.SetDefault("janitor.horizon", 28*24*time.Hour)
	v.SetDefault("log.level", "info")
}

// Load reads the configuration out of v and validates it.
func Load(v *viper.Viper) (*Config, error) {
	SetDefaults(v)

	cfg := &Config{
		Database: DatabaseConfig{
			Dialect: v.GetString("database.dialect"),
			DSN:     v.GetString("database.dsn"),
		},
		Janitor: JanitorConfig{
			Schedule: v.GetString("janitor.schedule"),
			Horizon:  v.GetDuration("janitor.horizon"),
		},
		Log: LogConfig{
			Level: v.GetString("log.level"),
		},
	}

	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return cfg, nil
}

// Validate checks the configuration for obvious mistakes.
func (c *Config) Validate() error {
	dialect, err := driver.ParseDialect(c.Database.Dialect)
	if err != nil {
		return fmt.Errorf("database.dialect: %w", err)
	}
	if dialect != driver.DialectSQLite && c.Database.DSN == "" {
		return fmt.Errorf("database.dsn is required for dialect %s", c.Database.Dialect)
	}
	if c.Janitor.Horizon <= 0 {
		return fmt.Errorf("janitor.horizon must be positive, got %s", c.Janitor.Horizon)
	}
	switch c.Log.Level {
	case "debug", "info", "warn", "error":
	default:
		return fmt.Errorf("log.level: unknown level %q", c.Log.Level)
	}
	return nil
}

// Dialect returns the parsed database dialect.
func (c *Config) Dialect() driver.Dialect {
	d, _ := driver.ParseDialect(c.Database.Dialect)
	return d
}
