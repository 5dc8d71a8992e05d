package config

import (
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestLoadDefaults(t *testing.T) {
	cfg, err := Load(DefaultPath)
	require.NoError(t, err)

	assert.Equal(t, "/.shred", cfg.DFSShredRoot)
	assert.Equal(t, ".shred", cfg.LocalShredSubdir)
	assert.Equal(t, 5, cfg.WorkerSleepMinutes)
	assert.Equal(t, 3, cfg.ShredPasses)
}

func TestLoadFile(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "config.yaml")
	content := `
namenode_address: nn1.example.com:8020
dfs_shred_root: /compliance/.shred
lease_store_hosts:
  - zk1.example.com:2181
  - zk2.example.com:2181
worker_sleep_minutes: 10
shred_passes: 7
worker_id: 10.0.0.42
`
	require.NoError(t, os.WriteFile(path, []byte(content), 0644))

	cfg, err := Load(path)
	require.NoError(t, err)

	assert.Equal(t, "nn1.example.com:8020", cfg.NamenodeAddress)
	assert.Equal(t, "/compliance/.shred", cfg.DFSShredRoot)
	assert.Equal(t, []string{"zk1.example.com:2181", "zk2.example.com:2181"}, cfg.LeaseStoreHosts)
	assert.Equal(t, 10, cfg.WorkerSleepMinutes)
	assert.Equal(t, 7, cfg.ShredPasses)

	id, err := cfg.ResolveWorkerID()
	require.NoError(t, err)
	assert.Equal(t, "10.0.0.42", id)
}

func TestLoadMissingExplicitFile(t *testing.T) {
	_, err := Load(filepath.Join(t.TempDir(), "nope.yaml"))
	assert.Error(t, err)
}

func TestEnvOverrides(t *testing.T) {
	t.Setenv("BLOCKSHRED_DFS_SHRED_ROOT", "/env/.shred")
	t.Setenv("BLOCKSHRED_WORKER_SLEEP_MINUTES", "15")
	t.Setenv("BLOCKSHRED_LEASE_STORE_HOSTS", "a:2181,b:2181")

	cfg, err := Load(DefaultPath)
	require.NoError(t, err)

	assert.Equal(t, "/env/.shred", cfg.DFSShredRoot)
	assert.Equal(t, 15, cfg.WorkerSleepMinutes)
	assert.Equal(t, []string{"a:2181", "b:2181"}, cfg.LeaseStoreHosts)
}

func TestValidate(t *testing.T) {
	tests := []struct {
		name   string
		mutate func(*Config)
	}{
		{"relative shred root", func(c *Config) { c.DFSShredRoot = "shred" }},
		{"no lease hosts", func(c *Config) { c.LeaseStoreHosts = nil }},
		{"nested shred subdir", func(c *Config) { c.LocalShredSubdir = "a/b" }},
		{"zero sleep", func(c *Config) { c.WorkerSleepMinutes = 0 }},
		{"zero passes", func(c *Config) { c.ShredPasses = 0 }},
		{"empty namenode", func(c *Config) { c.NamenodeAddress = "" }},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			cfg := Default()
			tt.mutate(cfg)
			assert.Error(t, cfg.Validate())
		})
	}

	assert.NoError(t, Default().Validate())
}

func TestDerivedDurations(t *testing.T) {
	cfg := Default()
	cfg.WorkerSleepMinutes = 5

	assert.Equal(t, "5m0s", cfg.WorkerSleep().String())
	assert.Equal(t, "10m0s", cfg.StallThreshold().String())
}
