package config

import (
	"os"
	"path/filepath"
	"strings"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func clearEnv(t *testing.T) {
	t.Helper()
	for _, key := range []string{
		"PORT", "DATA_DIR", "LOG_DIR", "DEBUG_MODE", "CONTENT_FILE", "STORAGE_BACKEND",
		"DB_SQLITE_PATH", "DB_POSTGRES_DSN", "DATABASE_URL",
		"AUTO_ADVANCE_DELAY", "REVEAL_DELAY", "SAVE_DEBOUNCE", "SESSION_TTL",
	} {
		t.Setenv(key, "")
		os.Unsetenv(key)
	}
}

func TestLoadDefaults(t *testing.T) {
	clearEnv(t)
	t.Chdir(t.TempDir())

	cfg, err := Load()
	require.NoError(t, err)
	assert.Equal(t, "8080", cfg.Port)
	assert.Equal(t, BackendFile, cfg.StorageBackend)
	assert.True(t, cfg.DebugMode)
	assert.True(t, cfg.StrictContent())
	assert.Equal(t, 3*time.Second, cfg.AutoAdvanceDelay)
	assert.Equal(t, 1500*time.Millisecond, cfg.RevealDelay)
	assert.Equal(t, filepath.Join("data", "saves.sqlite"), cfg.SQLitePath)
}

func TestLoadOverrides(t *testing.T) {
	clearEnv(t)
	t.Chdir(t.TempDir())
	t.Setenv("PORT", "9090")
	t.Setenv("STORAGE_BACKEND", "SQLite")
	t.Setenv("REVEAL_DELAY", "250ms")
	t.Setenv("DEBUG_MODE", "false")

	cfg, err := Load()
	require.NoError(t, err)
	assert.Equal(t, "9090", cfg.Port)
	assert.Equal(t, BackendSQLite, cfg.StorageBackend)
	assert.Equal(t, 250*time.Millisecond, cfg.RevealDelay)
	assert.False(t, cfg.StrictContent())
}

func TestLoadErrors(t *testing.T) {
	clearEnv(t)
	t.Chdir(t.TempDir())

	t.Setenv("STORAGE_BACKEND", "postgres")
	_, err := Load()
	require.Error(t, err)
	assert.Contains(t, err.Error(), "requires DB_POSTGRES_DSN or DATABASE_URL")

	t.Setenv("DATABASE_URL", "postgres://localhost/weaver")
	cfg, err := Load()
	require.NoError(t, err)
	assert.Equal(t, "postgres://localhost/weaver", cfg.PostgresDSN)

	t.Setenv("STORAGE_BACKEND", "bogus")
	_, err = Load()
	require.Error(t, err)
	assert.Contains(t, err.Error(), "unsupported STORAGE_BACKEND")

	t.Setenv("STORAGE_BACKEND", "file")
	t.Setenv("REVEAL_DELAY", "soon")
	_, err = Load()
	require.Error(t, err)
	assert.True(t, strings.HasPrefix(err.Error(), "parse env:"))
}

func TestInitConfigMergesSavedPacing(t *testing.T) {
	clearEnv(t)
	t.Chdir(t.TempDir())
	dataDir := t.TempDir()

	saved := `{"port": "1", "auto_advance_delay": 7000000000, "reveal_delay": 0}`
	require.NoError(t, os.WriteFile(filepath.Join(dataDir, "config.json"), []byte(saved), 0644))

	require.NoError(t, InitConfig(dataDir))
	cfg := GetCurrentConfig()
	assert.Equal(t, "8080", cfg.Port, "port follows the environment")
	assert.Equal(t, 7*time.Second, cfg.AutoAdvanceDelay)
	assert.Equal(t, time.Duration(0), cfg.RevealDelay, "a saved zero reveal delay holds")
	assert.Equal(t, 500*time.Millisecond, cfg.SaveDebounce, "absent keys keep the environment value")

	require.NoError(t, UpdatePacing(time.Second, 2*time.Second))
	require.NoError(t, InitConfig(dataDir))
	cfg = GetCurrentConfig()
	assert.Equal(t, time.Second, cfg.AutoAdvanceDelay)
	assert.Equal(t, 2*time.Second, cfg.RevealDelay)

	assert.Error(t, UpdatePacing(-time.Second, 0))
}

func TestInitConfigEnvironmentWinsOverSavedPacing(t *testing.T) {
	clearEnv(t)
	t.Chdir(t.TempDir())
	dataDir := t.TempDir()

	require.NoError(t, InitConfig(dataDir))
	assert.Equal(t, 3*time.Second, GetCurrentConfig().AutoAdvanceDelay)

	t.Setenv("AUTO_ADVANCE_DELAY", "1s")
	t.Setenv("SESSION_TTL", "2h")
	require.NoError(t, InitConfig(dataDir))
	cfg := GetCurrentConfig()
	assert.Equal(t, time.Second, cfg.AutoAdvanceDelay)
	assert.Equal(t, 2*time.Hour, cfg.SessionTTL)
	assert.Equal(t, 1500*time.Millisecond, cfg.RevealDelay)

	require.NoError(t, UpdatePacing(5*time.Second, 0))
	require.NoError(t, InitConfig(dataDir))
	cfg = GetCurrentConfig()
	assert.Equal(t, time.Second, cfg.AutoAdvanceDelay, "explicit env still wins")
	assert.Equal(t, time.Duration(0), cfg.RevealDelay, "saved value applies where env is unset")
}

func TestInitConfigIgnoresCorruptFile(t *testing.T) {
	clearEnv(t)
	t.Chdir(t.TempDir())
	dataDir := t.TempDir()
	require.NoError(t, os.WriteFile(filepath.Join(dataDir, "config.json"), []byte("{not json"), 0644))

	require.NoError(t, InitConfig(dataDir))
	assert.Equal(t, 3*time.Second, GetCurrentConfig().AutoAdvanceDelay)
}
