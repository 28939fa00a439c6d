package config

import (
	"testing"
	"time"

	"github.com/spf13/viper"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/forgebuild/forge/internal/db/driver"
)

func TestLoad_Defaults(t *testing.T) {
	v := viper.New()

	cfg, err := Load(v)
	require.NoError(t, err)

	assert.Equal(t, "sqlite", cfg.Database.Dialect)
	assert.Empty(t, cfg.Database.DSN)
	assert.Equal(t, "@daily", cfg.Janitor.Schedule)
	assert.Equal(t, 28*24*time.Hour, cfg.Janitor.Horizon)
	assert.Equal(t, "info", cfg.Log.Level)
	assert.Equal(t, driver.DialectSQLite, cfg.Dialect())
}

func TestLoad_Overrides(t *testing.T) {
	v := viper.New()
	v.Set("database.dialect", "postgres")
	v.Set("database.dsn", "postgres://forge@localhost/forge")
	v.Set("janitor.horizon", "168h")
	v.Set("log.level", "debug")

	cfg, err := Load(v)
	require.NoError(t, err)

	assert.Equal(t, driver.DialectPostgres, cfg.Dialect())
	assert.Equal(t, 7*24*time.Hour, cfg.Janitor.Horizon)
	assert.Equal(t, "debug", cfg.Log.Level)
}

func TestLoad_BadDialect(t *testing.T) {
	v := viper.New()
	v.Set("database.dialect", "mysql")

	_, err := Load(v)
	require.Error(t, err)
	assert.Contains(t, err.Error(), "database.dialect")
}

func TestLoad_PostgresRequiresDSN(t *testing.T) {
	v := viper.New()
	v.Set("database.dialect", "postgres")

	_, err := Load(v)
	require.Error(t, err)
	assert.Contains(t, err.Error(), "database.dsn is required")
}

func TestLoad_BadHorizon(t *testing.T) {
	v := viper.New()
	v.Set("janitor.horizon", "-1h")

	_, err := Load(v)
	require.Error(t, err)
	assert.Contains(t, err.Error(), "janitor.horizon")
}

func TestLoad_BadLogLevel(t *testing.T) {
	v := viper.New()
	v.Set("log.level", "loud")

	_, err := Load(v)
	require.Error(t, err)
	assert.Contains(t, err.Error(), "log.level")
}
