package config

import (
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestLoadDefaults(t *testing.T) {
	t.Chdir(t.TempDir())

	cfg, err := Load("")
	require.NoError(t, err)
	assert.Equal(t, DriverSQLite, cfg.Store.Driver)
	assert.Equal(t, ".vcgraph/store.db", cfg.Store.Path)
	assert.Equal(t, 4096, cfg.Store.CacheSize)
	assert.Equal(t, 16, cfg.Diff.MaxConcurrentLoads)
	assert.Equal(t, "warn", cfg.Log.Level)
	assert.True(t, cfg.Log.Pretty)
	assert.Equal(t, "master", cfg.Branch.Default)
}

func TestLoadLayers(t *testing.T) {
	dir := t.TempDir()
	t.Chdir(dir)
	content := "store:\n  driver: memory\n  cache_size: 10\nlog:\n  level: debug\n"
	require.NoError(t, os.WriteFile(filepath.Join(dir, DefaultFile), []byte(content), 0o644))
	t.Setenv("VCGRAPH_STORE_CACHE_SIZE", "20")
	t.Setenv("VCGRAPH_LOG_PRETTY", "false")
	t.Setenv("VCGRAPH_BRANCH_DEFAULT", "main")

	cfg, err := Load("")
	require.NoError(t, err)
	assert.Equal(t, DriverMemory, cfg.Store.Driver)
	assert.Equal(t, 20, cfg.Store.CacheSize)
	assert.Equal(t, "debug", cfg.Log.Level)
	assert.False(t, cfg.Log.Pretty)
	assert.Equal(t, "main", cfg.Branch.Default)
}

func TestLoadMissingExplicitFile(t *testing.T) {
	_, err := Load(filepath.Join(t.TempDir(), "absent.yaml"))
	assert.Error(t, err)
}

func TestValidate(t *testing.T) {
	tests := []struct {
		name    string
		cfg     Config
		wantErr []string
	}{
		{
			name: "Valid",
			cfg:  Config{Store: StoreConfig{Driver: DriverMemory}, Log: LogConfig{Level: "info"}},
		},
		{
			name: "Every problem is reported",
			cfg: Config{
				Store: StoreConfig{Driver: DriverSQLite, CacheSize: -1},
				Diff:  DiffConfig{MaxConcurrentLoads: -2},
				Log:   LogConfig{Level: "loud"},
			},
			wantErr: []string{"store.path", "store.cache_size", "diff.max_concurrent_loads", "log.level"},
		},
		{
			name:    "Unknown driver",
			cfg:     Config{Store: StoreConfig{Driver: "bolt"}, Log: LogConfig{Level: "info"}},
			wantErr: []string{`unknown store.driver "bolt"`},
		},
	}

	for _, tc := range tests {
		t.Run(tc.name, func(t *testing.T) {
			err := tc.cfg.Validate()
			if len(tc.wantErr) == 0 {
				assert.NoError(t, err)
				return
			}
			require.Error(t, err)
			for _, want := range tc.wantErr {
				assert.Contains(t, err.Error(), want)
			}
		})
	}
}
