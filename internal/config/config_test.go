package config

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestLoad_Defaults(t *testing.T) {
	cfg, err := Load()
	require.NoError(t, err)

	assert.Equal(t, "postgres", cfg.Store.Driver)
	assert.Equal(t, 500, cfg.Load.BatchSize)
	assert.Equal(t, time.Second, cfg.Load.BatchDelay())
	assert.Equal(t, 3, cfg.Load.RetryMax)
	assert.Equal(t, 2*time.Second, cfg.Load.RetryBackoff())
	assert.Equal(t, "merge", cfg.Load.Policy)
	assert.Equal(t, "info", cfg.Log.Level)
	assert.Equal(t, "json", cfg.Log.Format)
}

func TestLoad_EnvOverride(t *testing.T) {
	t.Setenv("REGISTRY_STORE_DRIVER", "sqlite")
	t.Setenv("REGISTRY_LOAD_BATCH_SIZE", "25")
	t.Setenv("REGISTRY_LOAD_POLICY", "insert-only")

	cfg, err := Load()
	require.NoError(t, err)
	assert.Equal(t, "sqlite", cfg.Store.Driver)
	assert.Equal(t, 25, cfg.Load.BatchSize)
	assert.Equal(t, "insert-only", cfg.Load.Policy)
}

func TestInitLogger_InvalidLevel(t *testing.T) {
	err := InitLogger(LogConfig{Level: "shouting", Format: "json"})
	require.Error(t, err)
}

func TestInitLogger_Console(t *testing.T) {
	require.NoError(t, InitLogger(LogConfig{Level: "debug", Format: "console"}))
}
