package config

import (
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestLoadDefaults(t *testing.T) {
	cfg, err := Load("")
	require.NoError(t, err)

	assert.Equal(t, "127.0.0.1", cfg.Server.Host)
	assert.Equal(t, 8080, cfg.Server.Port)
	assert.Equal(t, "127.0.0.1:8080", cfg.Addr())
	assert.Equal(t, BackendBadger, cfg.Storage.Backend)
	assert.Equal(t, 30*time.Second, cfg.Storage.IOTimeout)
	assert.True(t, cfg.Storage.SyncWrites)
	assert.Equal(t, "info", cfg.LogLevel)
}

func TestLoadFileAndEnv(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "config.json")
	body := `{
		"server": {"port": 9090, "read_timeout": "5s"},
		"storage": {"backend": "sqlite", "max_open_repos": 4},
		"log_level": "debug"
	}`
	require.NoError(t, os.WriteFile(path, []byte(body), 0644))

	t.Setenv("TIMELINE_SERVER_HOST", "0.0.0.0")
	t.Setenv("TIMELINE_STORAGE_IO_TIMEOUT", "2s")

	cfg, err := Load(path)
	require.NoError(t, err)

	assert.Equal(t, "0.0.0.0", cfg.Server.Host)
	assert.Equal(t, 9090, cfg.Server.Port)
	assert.Equal(t, 5*time.Second, cfg.Server.ReadTimeout)
	assert.Equal(t, BackendSQLite, cfg.Storage.Backend)
	assert.Equal(t, 4, cfg.Storage.MaxOpenRepos)
	assert.Equal(t, 2*time.Second, cfg.Storage.IOTimeout)
	assert.Equal(t, "debug", cfg.LogLevel)
}

func TestLoadMissingFile(t *testing.T) {
	_, err := Load(filepath.Join(t.TempDir(), "nope.json"))
	assert.Error(t, err)
}

func TestLoadRejectsUnknownBackend(t *testing.T) {
	t.Setenv("TIMELINE_STORAGE_BACKEND", "rocksdb")

	_, err := Load("")
	require.Error(t, err)
	assert.Contains(t, err.Error(), "unknown storage backend")
}

func TestLoadRejectsCompressionLevel(t *testing.T) {
	t.Setenv("TIMELINE_STORAGE_COMPRESSION_LEVEL", "9")

	_, err := Load("")
	require.Error(t, err)
	assert.Contains(t, err.Error(), "compression.level")
}

func TestDefaultPath(t *testing.T) {
	t.Setenv("TIMELINE_ENV", "production")
	assert.Equal(t, "config/config.production.json", DefaultPath())
}
