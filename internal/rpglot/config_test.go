package rpglot

import (
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestNewConfigMissingFile(t *testing.T) {
	config, err := NewConfig(filepath.Join(t.TempDir(), "nope.yaml"))
	require.NoError(t, err)
	require.NoError(t, config.Validate())

	assert.Equal(t, defaultListenAddress, config.ListenAddress)
	assert.Equal(t, defaultStorageDir, config.StorageDir)
	assert.Equal(t, defaultTickInterval, config.TickInterval)
	assert.Equal(t, "/proc", config.ProcPath)
}

func TestNewConfigFromYaml(t *testing.T) {
	path := filepath.Join(t.TempDir(), "rpglot.yaml")
	content := `
listen_address: "0.0.0.0:9999"
storage_dir: /data/rpglot
tick_interval: 30s
max_total_size: 2GB
max_retention_days: 14
no_postgres: true
force_cgroup: true
`
	require.NoError(t, os.WriteFile(path, []byte(content), 0o644))

	config, err := NewConfig(path)
	require.NoError(t, err)
	require.NoError(t, config.Validate())

	assert.Equal(t, "0.0.0.0:9999", config.ListenAddress)
	assert.Equal(t, "/data/rpglot", config.StorageDir)
	assert.Equal(t, 30*time.Second, config.TickInterval)
	assert.True(t, config.NoPostgres)
	assert.True(t, config.ForceCgroup)

	rotation := config.Rotation()
	assert.Equal(t, uint64(2)<<30, rotation.MaxTotalSize)
	assert.Equal(t, 14, rotation.MaxRetentionDays)
}

func TestConfigValidateRejectsBadValues(t *testing.T) {
	config := &Config{TickInterval: 100 * time.Millisecond}
	assert.Error(t, config.Validate())

	config = &Config{MaxTotalSize: "not a size"}
	assert.Error(t, config.Validate())

	config = &Config{MaxRetentionDays: -1}
	assert.Error(t, config.Validate())
}

func TestConfigRotationDefaults(t *testing.T) {
	config := &Config{}
	require.NoError(t, config.Validate())

	rotation := config.Rotation()
	assert.Equal(t, uint64(1)<<30, rotation.MaxTotalSize)
	assert.Equal(t, 7, rotation.MaxRetentionDays)
}
