package config

import (
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestLoadDefaultsWhenFileMissing(t *testing.T) {
	t.Setenv("GAMESYNC_HOME", t.TempDir())

	cfg, err := Load("")
	require.NoError(t, err)
	assert.Equal(t, "release", cfg.Branch)
	assert.Equal(t, 30*time.Minute, cfg.VersionCacheTTL)
	assert.Equal(t, filepath.Join(DataDir(), "instances"), cfg.InstanceRoot)
}

func TestLoadFromFile(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "custom.yaml")
	content := "branch: pre-release\nversion_cache_ttl: 5m\nprobe_retries: 7\nlaunch_args:\n  - --windowed\n"
	require.NoError(t, os.WriteFile(path, []byte(content), 0644))

	cfg, err := Load(path)
	require.NoError(t, err)
	assert.Equal(t, "pre-release", cfg.Branch)
	assert.Equal(t, 5*time.Minute, cfg.VersionCacheTTL)
	assert.Equal(t, 7, cfg.ProbeRetries)
	assert.Equal(t, []string{"--windowed"}, cfg.LaunchArgs)
}

func TestEnvOverridesFile(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "gamesync.yaml")
	require.NoError(t, os.WriteFile(path, []byte("branch: release\n"), 0644))
	t.Setenv("GAMESYNC_BRANCH", "beta")

	cfg, err := Load(path)
	require.NoError(t, err)
	assert.Equal(t, "beta", cfg.Branch)
}

func TestSaveToRoundTrip(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "nested", "gamesync.yaml")

	cfg := Default()
	cfg.Branch = "pre-release"
	cfg.InstanceRoot = filepath.Join(dir, "games")
	require.NoError(t, SaveTo(cfg, path))

	loaded, err := Load(path)
	require.NoError(t, err)
	assert.Equal(t, "pre-release", loaded.Branch)
	assert.Equal(t, cfg.InstanceRoot, loaded.InstanceRoot)
}
