package config

import (
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestLoadFromEnv(t *testing.T) {
	t.Run("Defaults", func(t *testing.T) {
		cfg := LoadFromEnv()
		assert.Equal(t, "localhost", cfg.Host)
		assert.Equal(t, 8000, cfg.Port)
		assert.Equal(t, 60, cfg.DefaultTimeoutThreshold)
		assert.Equal(t, 120, cfg.DefaultEvictionThreshold)
		assert.Equal(t, "INFO", cfg.LogLevel)
		require.NotNil(t, cfg.Database)
		assert.Equal(t, "agent_mesh_registry.db", cfg.Database.DatabaseURL)
	})

	t.Run("Overrides", func(t *testing.T) {
		t.Setenv("PORT", "9000")
		t.Setenv("DEFAULT_TIMEOUT_THRESHOLD", "30")
		t.Setenv("DEFAULT_EVICTION_THRESHOLD", "90")
		t.Setenv("AGENT_MESH_LOG_LEVEL", "DEBUG")
		t.Setenv("DATABASE_URL", "postgres://localhost/mesh")

		cfg := LoadFromEnv()
		assert.Equal(t, 9000, cfg.Port)
		assert.Equal(t, 30, cfg.DefaultTimeoutThreshold)
		assert.Equal(t, 90, cfg.DefaultEvictionThreshold)
		assert.True(t, cfg.IsDebugMode())
		assert.Equal(t, "postgres://localhost/mesh", cfg.Database.DatabaseURL)
	})
}

func TestValidate(t *testing.T) {
	valid := func() *Config {
		cfg := LoadFromEnv()
		return cfg
	}

	t.Run("DefaultsAreValid", func(t *testing.T) {
		assert.NoError(t, valid().Validate())
	})

	t.Run("BadPort", func(t *testing.T) {
		cfg := valid()
		cfg.Port = 0
		assert.Error(t, cfg.Validate())

		cfg.Port = 70000
		assert.Error(t, cfg.Validate())
	})

	t.Run("EvictionMustExceedTimeout", func(t *testing.T) {
		cfg := valid()
		cfg.DefaultTimeoutThreshold = 60
		cfg.DefaultEvictionThreshold = 60
		assert.Error(t, cfg.Validate())
	})

	t.Run("BadLogLevel", func(t *testing.T) {
		cfg := valid()
		cfg.LogLevel = "LOUD"
		assert.Error(t, cfg.Validate())
	})

	t.Run("DebugModeForcesDebugLevel", func(t *testing.T) {
		cfg := valid()
		cfg.DebugMode = true
		require.NoError(t, cfg.Validate())
		assert.Equal(t, "DEBUG", cfg.LogLevel)
	})
}

func TestMergeFile(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "registry.yaml")
	content := []byte(`
host: 0.0.0.0
port: 9100
default_timeout_threshold: 45
database:
  database_url: /var/lib/mesh/registry.db
`)
	require.NoError(t, os.WriteFile(path, content, 0o644))

	cfg := LoadFromEnv()
	require.NoError(t, cfg.MergeFile(path))

	assert.Equal(t, "0.0.0.0", cfg.Host)
	assert.Equal(t, 9100, cfg.Port)
	assert.Equal(t, 45, cfg.DefaultTimeoutThreshold)
	assert.Equal(t, "/var/lib/mesh/registry.db", cfg.Database.DatabaseURL)
	// Untouched keys keep their env defaults.
	assert.Equal(t, 120, cfg.DefaultEvictionThreshold)
	assert.Equal(t, "INFO", cfg.LogLevel)
}

func TestMergeFileMissing(t *testing.T) {
	cfg := LoadFromEnv()
	assert.Error(t, cfg.MergeFile("/nonexistent/registry.yaml"))
}

func TestShouldLogAtLevel(t *testing.T) {
	cfg := LoadFromEnv()
	cfg.LogLevel = "WARNING"

	assert.False(t, cfg.ShouldLogAtLevel("DEBUG"))
	assert.False(t, cfg.ShouldLogAtLevel("INFO"))
	assert.True(t, cfg.ShouldLogAtLevel("WARNING"))
	assert.True(t, cfg.ShouldLogAtLevel("ERROR"))
}
