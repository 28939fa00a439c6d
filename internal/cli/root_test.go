package cli

import (
	"testing"
	"time"

	"github.com/spf13/viper"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestInitConfig_EnvOverrides(t *testing.T) {
	t.Cleanup(viper.Reset)
	t.Setenv("FORGE_DATABASE_DIALECT", "postgres")
	t.Setenv("FORGE_DATABASE_DSN", "postgres://forge@localhost/forge")
	t.Setenv("FORGE_JANITOR_HORIZON", "72h")

	initConfig()

	cfg, err := loadConfig()
	require.NoError(t, err)
	assert.Equal(t, "postgres", cfg.Database.Dialect)
	assert.Equal(t, "postgres://forge@localhost/forge", cfg.Database.DSN)
	assert.Equal(t, 72*time.Hour, cfg.Janitor.Horizon)
}

func TestInitConfig_EnvDefaultsIntact(t *testing.T) {
	t.Cleanup(viper.Reset)

	initConfig()

	cfg, err := loadConfig()
	require.NoError(t, err)
	assert.Equal(t, "sqlite", cfg.Database.Dialect)
	assert.Equal(t, "@daily", cfg.Janitor.Schedule)
}
