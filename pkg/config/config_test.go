package config

import (
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestDefault(t *testing.T) {
	cfg := Default()
	require.NoError(t, cfg.Validate())
	assert.Equal(t, uint32(1024), cfg.MaxLoadedSegments)
	assert.Equal(t, 4, cfg.MaxEventsAndAgentsThreads)
	assert.False(t, cfg.Clear)
}

func TestLoadFromFile(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "scmem.yaml")
	require.NoError(t, os.WriteFile(path, []byte(
		"repo_path: /data/kb\n"+
			"max_loaded_segments: 16\n"+
			"save_period: 1m\n"), 0o644))

	cfg, err := LoadFromFile(path)
	require.NoError(t, err)
	assert.Equal(t, "/data/kb", cfg.RepoPath)
	assert.Equal(t, uint32(16), cfg.MaxLoadedSegments)
	assert.Equal(t, time.Minute, cfg.SavePeriod)
	// Untouched fields keep defaults.
	assert.Equal(t, 4, cfg.MaxEventsAndAgentsThreads)
}

func TestLoadFromFile_Missing(t *testing.T) {
	cfg, err := LoadFromFile(filepath.Join(t.TempDir(), "absent.yaml"))
	require.NoError(t, err)
	assert.Equal(t, Default().RepoPath, cfg.RepoPath)
}

func TestLoadFromFile_Invalid(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "scmem.yaml")
	require.NoError(t, os.WriteFile(path, []byte("max_loaded_segments: [oops\n"), 0o644))

	_, err := LoadFromFile(path)
	require.Error(t, err)
}

func TestEnvOverrides(t *testing.T) {
	t.Setenv("SCMEM_REPO_PATH", "/env/repo")
	t.Setenv("SCMEM_MAX_LOADED_SEGMENTS", "8")
	t.Setenv("SCMEM_CLEAR", "true")
	t.Setenv("SCMEM_SAVE_PERIOD", "90s")

	cfg, err := LoadFromEnv()
	require.NoError(t, err)
	assert.Equal(t, "/env/repo", cfg.RepoPath)
	assert.Equal(t, uint32(8), cfg.MaxLoadedSegments)
	assert.True(t, cfg.Clear)
	assert.Equal(t, 90*time.Second, cfg.SavePeriod)
}

func TestValidate(t *testing.T) {
	cases := []struct {
		name   string
		mutate func(*Config)
	}{
		{"empty repo", func(c *Config) { c.RepoPath = "" }},
		{"zero segments", func(c *Config) { c.MaxLoadedSegments = 0 }},
		{"zero event threads", func(c *Config) { c.MaxEventsAndAgentsThreads = 0 }},
		{"negative period", func(c *Config) { c.SavePeriod = -time.Second }},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			cfg := Default()
			tc.mutate(cfg)
			assert.Error(t, cfg.Validate())
		})
	}
}
