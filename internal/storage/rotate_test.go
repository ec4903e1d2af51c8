package storage

import (
	"fmt"
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func chunkName(daysAgo int, hour int) string {
	d := time.Now().UTC().AddDate(0, 0, -daysAgo)
	return fmt.Sprintf("rpglot_%s_%02d.zst", d.Format("2006-01-02"), hour)
}

func TestRotateByAge(t *testing.T) {
	dir := t.TempDir()
	m, err := NewManager(dir)
	require.NoError(t, err)
	defer func() { _ = m.Close() }()

	oldFile := filepath.Join(dir, chunkName(10, 12))
	recentFile := filepath.Join(dir, chunkName(3, 12))
	require.NoError(t, os.WriteFile(oldFile, []byte("old data"), 0o644))
	require.NoError(t, os.WriteFile(HeatmapPath(oldFile), []byte("HM04"), 0o644))
	require.NoError(t, os.WriteFile(recentFile, []byte("recent data"), 0o644))

	result, err := m.Rotate(RotationConfig{MaxTotalSize: 1 << 30, MaxRetentionDays: 7})
	require.NoError(t, err)

	assert.Equal(t, 1, result.FilesRemovedByAge)
	assert.Equal(t, 0, result.FilesRemovedBySize)
	assert.Equal(t, 1, result.FilesRemaining)
	assert.NoFileExists(t, oldFile)
	assert.NoFileExists(t, HeatmapPath(oldFile))
	assert.FileExists(t, recentFile)
}

func TestRotateBySize(t *testing.T) {
	dir := t.TempDir()
	m, err := NewManager(dir)
	require.NoError(t, err)
	defer func() { _ = m.Close() }()

	f1 := filepath.Join(dir, chunkName(3, 10))
	f2 := filepath.Join(dir, chunkName(2, 10))
	f3 := filepath.Join(dir, chunkName(1, 10))
	for _, f := range []string{f1, f2, f3} {
		require.NoError(t, os.WriteFile(f, make([]byte, 500), 0o644))
	}

	result, err := m.Rotate(RotationConfig{MaxTotalSize: 1000, MaxRetentionDays: 365})
	require.NoError(t, err)

	assert.Equal(t, 1, result.FilesRemovedBySize)
	assert.Equal(t, 2, result.FilesRemaining)
	assert.Equal(t, uint64(1000), result.TotalSizeAfter)
	assert.NoFileExists(t, f1) // oldest removed first
	assert.FileExists(t, f2)
	assert.FileExists(t, f3)
}

func TestRotateEmptyDirectory(t *testing.T) {
	m, err := NewManager(t.TempDir())
	require.NoError(t, err)
	defer func() { _ = m.Close() }()

	result, err := m.Rotate(DefaultRotationConfig())
	require.NoError(t, err)
	assert.Zero(t, result.FilesRemovedByAge)
	assert.Zero(t, result.FilesRemovedBySize)
	assert.Zero(t, result.BytesFreed)
	assert.Zero(t, result.FilesRemaining)
}

func TestDefaultRotationConfig(t *testing.T) {
	config := DefaultRotationConfig()
	assert.Equal(t, uint64(1_073_741_824), config.MaxTotalSize)
	assert.Equal(t, 7, config.MaxRetentionDays)
}
