package config

import (
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestLoad_DefaultsOnly(t *testing.T) {
	cfg, err := Load(nil, Overrides{})
	require.NoError(t, err)
	assert.Equal(t, "badger", cfg.Store.Backend)
	assert.Equal(t, "sequential", cfg.Scheduler.Mode)
	assert.True(t, cfg.Recurse)
}

func TestLoad_FileOverridesDefault(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "compute.toml")
	require.NoError(t, os.WriteFile(path, []byte(`
check_params = true

[store]
backend = "sqlite"

[scheduler]
mode = "parallel"
workers = 8
`), 0o644))

	cfg, err := Load([]string{path}, Overrides{})
	require.NoError(t, err)
	assert.True(t, cfg.CheckParams)
	assert.Equal(t, "sqlite", cfg.Store.Backend)
	assert.Equal(t, "parallel", cfg.Scheduler.Mode)
	assert.Equal(t, 8, cfg.Scheduler.Workers)
}

func TestLoad_LaterFileOverridesEarlier(t *testing.T) {
	dir := t.TempDir()
	base := filepath.Join(dir, "base.toml")
	override := filepath.Join(dir, "override.toml")
	require.NoError(t, os.WriteFile(base, []byte(`
[scheduler]
mode = "parallel"
workers = 2
`), 0o644))
	require.NoError(t, os.WriteFile(override, []byte(`
[scheduler]
workers = 16
`), 0o644))

	cfg, err := Load([]string{base, override}, Overrides{})
	require.NoError(t, err)
	assert.Equal(t, "parallel", cfg.Scheduler.Mode, "untouched field from base survives")
	assert.Equal(t, 16, cfg.Scheduler.Workers, "override file wins")
}

func TestLoad_EnvOverridesFile(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "compute.toml")
	require.NoError(t, os.WriteFile(path, []byte(`
[store]
backend = "sqlite"
`), 0o644))

	t.Setenv("COMPUTE_STORE_BACKEND", "badger")

	cfg, err := Load([]string{path}, Overrides{})
	require.NoError(t, err)
	assert.Equal(t, "badger", cfg.Store.Backend)
}

func TestLoad_CLIOverridesEnv(t *testing.T) {
	t.Setenv("COMPUTE_SCHEDULER_MODE", "parallel")

	cfg, err := Load(nil, Overrides{Mode: "new_process"})
	require.NoError(t, err)
	assert.Equal(t, "new_process", cfg.Scheduler.Mode)
}

func TestLoad_MissingFileErrors(t *testing.T) {
	_, err := Load([]string{"/nonexistent/compute.toml"}, Overrides{})
	assert.Error(t, err)
}
