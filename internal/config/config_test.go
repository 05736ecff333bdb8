package config_test

import (
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/finsync/sync-core/internal/config"
)

func TestLoad_Defaults(t *testing.T) {
	cfg, err := config.Load()
	require.NoError(t, err)
	assert.Equal(t, "sandbox", cfg.DefaultEnv)
	assert.Equal(t, "info", cfg.LogLevel)
	assert.Empty(t, cfg.DatabaseURL)
	assert.NotNil(t, cfg.Integrations)
}

func TestLoad_FileThenEnvOverride(t *testing.T) {
	path := filepath.Join(t.TempDir(), "sync.yaml")
	require.NoError(t, os.WriteFile(path, []byte(`
databaseUrl: postgres://file/db
defaultEnv: production
logLevel: debug
syncTimeoutSecs: 120
integrations:
  brick:
    apiUrl: https://api.example
    secrets:
      sandbox: pub-sand
`), 0o644))

	t.Setenv("SYNC_CONFIG_FILE", path)
	t.Setenv("SYNC_DATABASE_URL", "postgres://env/db")

	cfg, err := config.Load()
	require.NoError(t, err)
	assert.Equal(t, "postgres://env/db", cfg.DatabaseURL, "environment wins over the file")
	assert.Equal(t, "production", cfg.DefaultEnv)
	assert.Equal(t, "debug", cfg.LogLevel)
	assert.Equal(t, 120, cfg.SyncTimeoutSecs)

	brick := cfg.Integrations["brick"]
	require.NotNil(t, brick)
	assert.Equal(t, "https://api.example", brick["apiUrl"])
}

func TestLoad_MissingFileErrors(t *testing.T) {
	t.Setenv("SYNC_CONFIG_FILE", filepath.Join(t.TempDir(), "absent.yaml"))
	_, err := config.Load()
	require.Error(t, err)
}

func TestLoad_MalformedFileErrors(t *testing.T) {
	path := filepath.Join(t.TempDir(), "bad.yaml")
	require.NoError(t, os.WriteFile(path, []byte("integrations: [not, a, map]"), 0o644))
	t.Setenv("SYNC_CONFIG_FILE", path)
	_, err := config.Load()
	require.Error(t, err)
}
