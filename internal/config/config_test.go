package config_test

import (
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/require"

	"kanimedia/internal/config"
)

func TestLoadDefaults(t *testing.T) {
	cfg, err := config.Load()
	require.NoError(t, err)

	require.Equal(t, 80, cfg.Port)
	require.Equal(t, "/data", cfg.AssetRoot)
	require.Equal(t, int64(256<<20), cfg.CacheBytes)
	require.Equal(t, 2*time.Second, cfg.GateWaitTimeout)
	require.Equal(t, 82, cfg.DefaultQuality)
	require.Positive(t, cfg.MaxConcurrentTranscodes)
	require.Equal(t, "dir", cfg.StoreMode())
	require.True(t, cfg.IsUploadPublic())
}

func TestLoadFromEnv(t *testing.T) {
	t.Setenv("PORT", "8080")
	t.Setenv("CACHE_BYTES", "64MiB")
	t.Setenv("GATE_WAIT_TIMEOUT", "250ms")
	t.Setenv("MAX_CONCURRENT_TRANSCODES", "3")
	t.Setenv("UPLOAD_TOKEN", "sekrit")

	cfg, err := config.Load()
	require.NoError(t, err)

	require.Equal(t, 8080, cfg.Port)
	require.Equal(t, int64(64<<20), cfg.CacheBytes)
	require.Equal(t, 250*time.Millisecond, cfg.GateWaitTimeout)
	require.Equal(t, 3, cfg.MaxConcurrentTranscodes)
	require.False(t, cfg.IsUploadPublic())
}

func TestLoadUnparsableValueFallsBack(t *testing.T) {
	t.Setenv("PORT", "not-a-number")
	t.Setenv("CACHE_BYTES", "several")

	cfg, err := config.Load()
	require.NoError(t, err)

	require.Equal(t, 80, cfg.Port)
	require.Equal(t, int64(256<<20), cfg.CacheBytes)
}

func TestLoadFromFile(t *testing.T) {
	path := filepath.Join(t.TempDir(), "kanimedia.yaml")
	require.NoError(t, os.WriteFile(path, []byte(
		"port: 9090\n"+
			"cache_bytes: 1GiB\n"+
			"asset_origin: https://origin.example.com/posters\n"+
			"log_level: debug\n"), 0644))

	t.Setenv("CONFIG_FILE", path)

	cfg, err := config.Load()
	require.NoError(t, err)

	require.Equal(t, 9090, cfg.Port)
	require.Equal(t, int64(1<<30), cfg.CacheBytes)
	require.Equal(t, "https://origin.example.com/posters", cfg.AssetOrigin)
	require.Equal(t, "debug", cfg.LogLevel)
	require.Equal(t, "origin", cfg.StoreMode())
}

func TestEnvOverridesFile(t *testing.T) {
	path := filepath.Join(t.TempDir(), "kanimedia.yaml")
	require.NoError(t, os.WriteFile(path, []byte("port: 9090\n"), 0644))

	t.Setenv("CONFIG_FILE", path)
	t.Setenv("PORT", "7070")

	cfg, err := config.Load()
	require.NoError(t, err)
	require.Equal(t, 7070, cfg.Port)
}

func TestLoadMissingConfigFile(t *testing.T) {
	t.Setenv("CONFIG_FILE", filepath.Join(t.TempDir(), "nope.yaml"))

	_, err := config.Load()
	require.Error(t, err)
}

func TestStoreModePrecedence(t *testing.T) {
	t.Setenv("ASSET_S3_BUCKET", "posters")
	t.Setenv("ASSET_ORIGIN", "https://origin.example.com")

	cfg, err := config.Load()
	require.NoError(t, err)
	require.Equal(t, "s3", cfg.StoreMode())
}

func TestLoadRejectsBadQuality(t *testing.T) {
	t.Setenv("DEFAULT_QUALITY", "101")

	_, err := config.Load()
	require.Error(t, err)
}
