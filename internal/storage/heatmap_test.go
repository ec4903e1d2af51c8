package storage

import (
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/vadv/rpglot/internal/intern"
	"github.com/vadv/rpglot/internal/model"
)

func TestHeatmapRoundTrip(t *testing.T) {
	entries := []HeatmapEntry{
		{ActiveSessions: 5, CPUPctX10: 450, CgroupCPUPctX10: 300, CgroupMemPctX10: 750, ErrorsCritical: 2, ErrorsWarning: 5, ErrorsInfo: 10, CheckpointCount: 1, AutovacuumCount: 2, SlowQueryCount: 4, HealthScore: 85},
		{HealthScore: 100},
		{ActiveSessions: 100, CPUPctX10: 999, CgroupCPUPctX10: 500, CgroupMemPctX10: 950, ErrorsCritical: 1, ErrorsWarning: 20, ErrorsInfo: 200, CheckpointCount: 3, AutovacuumCount: 7, SlowQueryCount: 16, HealthScore: 30},
	}

	path := filepath.Join(t.TempDir(), "test.heatmap")
	require.NoError(t, WriteHeatmap(path, entries))

	loaded, err := ReadHeatmap(path)
	require.NoError(t, err)
	assert.Equal(t, entries, loaded)
}

func TestHeatmapRejectsBadMagic(t *testing.T) {
	path := filepath.Join(t.TempDir(), "bad.heatmap")
	require.NoError(t, os.WriteFile(path, []byte("XX"), 0o644))
	_, err := ReadHeatmap(path)
	assert.Error(t, err)

	require.NoError(t, os.WriteFile(path, []byte("NOPE"), 0o644))
	_, err = ReadHeatmap(path)
	assert.Error(t, err)
}

func TestHeatmapRejectsBadSize(t *testing.T) {
	path := filepath.Join(t.TempDir(), "bad.heatmap")
	// magic + 7 bytes, not a multiple of the entry size
	require.NoError(t, os.WriteFile(path, append([]byte(heatmapMagic), 1, 2, 3, 4, 5, 6, 7), 0o644))
	_, err := ReadHeatmap(path)
	assert.Error(t, err)
}

func TestHeatmapPath(t *testing.T) {
	assert.Equal(t, "/data/rpglot_2026-02-07_17.heatmap", HeatmapPath("/data/rpglot_2026-02-07_17.zst"))
}

func TestHeatmapBucketing(t *testing.T) {
	entries := []HeatmapEntry{
		{ActiveSessions: 3, CPUPctX10: 200, CheckpointCount: 1, HealthScore: 90},
		{ActiveSessions: 10, CPUPctX10: 700, CheckpointCount: 1, HealthScore: 60},
		{ActiveSessions: 1, CPUPctX10: 100, CheckpointCount: 1, HealthScore: 95},
	}
	timestamps := []int64{100, 150, 200}

	buckets := BucketHeatmap(entries, timestamps, 100, 200, 2)
	require.Len(t, buckets, 2)

	// bucket 0 covers [100, 150): gets the ts=100 entry
	assert.Equal(t, uint16(3), buckets[0].Active)
	assert.Equal(t, uint16(200), buckets[0].CPU)
	// bucket 1 covers [150, 200]: max of the ts=150 and ts=200 entries
	assert.Equal(t, uint16(10), buckets[1].Active)
	assert.Equal(t, uint16(700), buckets[1].CPU)
	// events sum within buckets, health takes the minimum
	assert.Equal(t, uint8(1), buckets[0].Checkpoints)
	assert.Equal(t, uint8(2), buckets[1].Checkpoints)
	assert.Equal(t, uint8(90), buckets[0].Health)
	assert.Equal(t, uint8(60), buckets[1].Health)
}

func TestHeatmapBucketingEdgeCases(t *testing.T) {
	assert.Nil(t, BucketHeatmap(nil, nil, 0, 100, 4))
	assert.Nil(t, BucketHeatmap([]HeatmapEntry{{}}, []int64{10}, 100, 100, 4))
	assert.Nil(t, BucketHeatmap([]HeatmapEntry{{}}, []int64{10}, 100, 50, 4))
}

func TestHeatmapBuilderCPUDeltas(t *testing.T) {
	in := intern.New()
	activeHash := in.Intern("active")
	idle := in.Intern("idle")

	makeSnapshot := func(ts int64, user, idleTicks uint64) *model.Snapshot {
		return &model.Snapshot{
			Timestamp: ts,
			Blocks: []model.DataBlock{
				model.SystemCPUBlock{{CPUID: -1, User: user, Idle: idleTicks}},
				model.PgStatActivityBlock{
					{Pid: 1, StateHash: activeHash},
					{Pid: 2, StateHash: idle},
					{Pid: 3, StateHash: activeHash},
				},
			},
		}
	}

	builder := NewHeatmapBuilder()

	// first snapshot of a chunk has zero CPU values by construction
	e0 := builder.Add(makeSnapshot(100, 1000, 9000))
	assert.Equal(t, uint16(0), e0.CPUPctX10)
	assert.Equal(t, uint16(2), e0.ActiveSessions)

	// 500 busy + 500 idle over the interval → 50.0% → 500 x10
	e1 := builder.Add(makeSnapshot(110, 1500, 9500))
	assert.Equal(t, uint16(500), e1.CPUPctX10)
}

func TestHealthScoreBounds(t *testing.T) {
	healthy := computeHealthScore(&HeatmapEntry{})
	assert.Equal(t, uint8(100), healthy)

	sick := computeHealthScore(&HeatmapEntry{
		CPUPctX10:       1000,
		CgroupMemPctX10: 1000,
		ErrorsCritical:  255,
		ErrorsWarning:   255,
		SlowQueryCount:  255,
	})
	assert.Equal(t, uint8(0), sick)
}
