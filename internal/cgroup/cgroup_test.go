package cgroup

import (
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/vadv/rpglot/internal/model"
)

func writeFile(t *testing.T, dir, name, content string) {
	t.Helper()
	require.NoError(t, os.WriteFile(filepath.Join(dir, name), []byte(content), 0o644))
}

func TestCollectFull(t *testing.T) {
	dir := t.TempDir()
	writeFile(t, dir, "cpu.stat", "usage_usec 1234567\nuser_usec 1000000\nsystem_usec 234567\nnr_periods 100\nnr_throttled 5\nthrottled_usec 42000\n")
	writeFile(t, dir, "cpu.max", "200000 100000\n")
	writeFile(t, dir, "memory.current", "536870912\n")
	writeFile(t, dir, "memory.max", "1073741824\n")
	writeFile(t, dir, "memory.swap.current", "0\n")
	writeFile(t, dir, "memory.swap.max", "max\n")
	writeFile(t, dir, "pids.current", "17\n")
	writeFile(t, dir, "pids.max", "max\n")

	info := New(dir).Collect()
	require.NotNil(t, info)

	require.NotNil(t, info.CPU)
	assert.Equal(t, uint64(1234567), info.CPU.UsageUsec)
	assert.Equal(t, uint64(5), info.CPU.NrThrottled)
	assert.Equal(t, int64(200000), info.CPU.Quota)
	assert.Equal(t, uint64(100000), info.CPU.Period)

	require.NotNil(t, info.Memory)
	assert.Equal(t, uint64(536870912), info.Memory.Current)
	assert.Equal(t, uint64(1073741824), info.Memory.Max)
	assert.Equal(t, model.CgroupNoLimit, info.Memory.SwapMax)

	require.NotNil(t, info.Pids)
	assert.Equal(t, uint64(17), info.Pids.Current)
	assert.Equal(t, model.CgroupNoLimit, info.Pids.Max)
}

func TestCollectMaxSentinel(t *testing.T) {
	dir := t.TempDir()
	writeFile(t, dir, "cpu.stat", "usage_usec 100\n")
	writeFile(t, dir, "cpu.max", "max 100000\n")
	writeFile(t, dir, "memory.current", "1024\n")
	writeFile(t, dir, "memory.max", "max\n")

	info := New(dir).Collect()
	require.NotNil(t, info)

	assert.Equal(t, int64(-1), info.CPU.Quota)
	assert.Equal(t, model.CgroupNoLimit, info.Memory.Max)
	assert.Nil(t, info.Pids)
}

func TestCollectEmptyDir(t *testing.T) {
	info := New(t.TempDir()).Collect()
	assert.Nil(t, info)
}
