package storage

import (
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/vadv/rpglot/internal/intern"
	"github.com/vadv/rpglot/internal/model"
)

func loadSnapshot(in *intern.Interner, ts int64) *model.Snapshot {
	return &model.Snapshot{
		Timestamp: ts,
		Blocks: []model.DataBlock{
			model.SystemLoadBlock{SystemLoadInfo: model.SystemLoadInfo{Lavg1: float32(ts) / 100}},
			model.ProcessesBlock{{Pid: 1, NameHash: in.Intern("systemd"), CmdlineHash: in.Intern("/sbin/init"), UserHash: in.Intern("root")}},
		},
	}
}

func TestManagerFlushByCount(t *testing.T) {
	dir := t.TempDir()
	m, err := NewManager(dir)
	require.NoError(t, err)
	defer func() { _ = m.Close() }()
	m.SetChunkSizeLimit(2)

	in := intern.New()
	now := time.Date(2026, 2, 7, 17, 30, 0, 0, time.UTC)

	flushed, err := m.AddSnapshotAt(loadSnapshot(in, 100), now, in)
	require.NoError(t, err)
	assert.False(t, flushed)

	flushed, err = m.AddSnapshotAt(loadSnapshot(in, 110), now.Add(10*time.Second), in)
	require.NoError(t, err)
	assert.True(t, flushed)
	assert.Equal(t, 0, m.CurrentChunkSize())

	paths, err := m.ChunkPaths()
	require.NoError(t, err)
	require.Len(t, paths, 1)
	assert.Equal(t, "rpglot_2026-02-07_17.zst", filepath.Base(paths[0]))

	reader, err := OpenChunk(paths[0])
	require.NoError(t, err)
	defer reader.Close()
	assert.Equal(t, 2, reader.SnapshotCount())

	s0, err := reader.ReadSnapshot(0)
	require.NoError(t, err)
	assert.Equal(t, int64(100), s0.Timestamp)
}

func TestManagerFlushOnHourBoundary(t *testing.T) {
	dir := t.TempDir()
	m, err := NewManager(dir)
	require.NoError(t, err)
	defer func() { _ = m.Close() }()

	in := intern.New()
	t0 := time.Date(2026, 2, 7, 17, 59, 55, 0, time.UTC)

	_, err = m.AddSnapshotAt(loadSnapshot(in, 100), t0, in)
	require.NoError(t, err)

	// next tick crosses into hour 18: the hour-17 chunk is flushed first,
	// the new snapshot lands in the already-truncated WAL
	flushed, err := m.AddSnapshotAt(loadSnapshot(in, 110), t0.Add(10*time.Second), in)
	require.NoError(t, err)
	assert.True(t, flushed)
	assert.Equal(t, 1, m.CurrentChunkSize())

	paths, err := m.ChunkPaths()
	require.NoError(t, err)
	require.Len(t, paths, 1)
	assert.Equal(t, "rpglot_2026-02-07_17.zst", filepath.Base(paths[0]))
}

func TestManagerWalRecovery(t *testing.T) {
	dir := t.TempDir()
	in := intern.New()
	now := time.Date(2026, 2, 7, 12, 0, 0, 0, time.UTC)

	{
		m, err := NewManager(dir)
		require.NoError(t, err)
		for i := 0; i < 3; i++ {
			_, err = m.AddSnapshotAt(loadSnapshot(in, int64(100+i*10)), now.Add(time.Duration(i)*10*time.Second), in)
			require.NoError(t, err)
		}
		// drop the manager without flushing — simulated crash
		require.NoError(t, m.Close())
	}

	m, err := NewManager(dir)
	require.NoError(t, err)
	defer func() { _ = m.Close() }()
	assert.Equal(t, 3, m.CurrentChunkSize())

	snapshots, interner, err := m.LoadAllSnapshots()
	require.NoError(t, err)
	require.Len(t, snapshots, 3)
	assert.Equal(t, int64(100), snapshots[0].Timestamp)
	assert.Equal(t, int64(110), snapshots[1].Timestamp)
	assert.Equal(t, int64(120), snapshots[2].Timestamp)

	for _, s := range snapshots {
		for h := range s.CollectHashes() {
			_, ok := interner.Resolve(h)
			assert.True(t, ok)
		}
	}
}

func TestManagerWalTruncatesTrailingGarbage(t *testing.T) {
	dir := t.TempDir()
	in := intern.New()
	now := time.Date(2026, 2, 7, 12, 0, 0, 0, time.UTC)

	{
		m, err := NewManager(dir)
		require.NoError(t, err)
		_, err = m.AddSnapshotAt(loadSnapshot(in, 100), now, in)
		require.NoError(t, err)
		_, err = m.AddSnapshotAt(loadSnapshot(in, 110), now.Add(10*time.Second), in)
		require.NoError(t, err)
		require.NoError(t, m.Close())
	}

	// append garbage to simulate a torn write under SIGKILL
	walPath := filepath.Join(dir, WalFileName)
	f, err := os.OpenFile(walPath, os.O_APPEND|os.O_WRONLY, 0o644)
	require.NoError(t, err)
	_, err = f.Write([]byte{0xde, 0xad, 0xbe, 0xef, 0x01})
	require.NoError(t, err)
	require.NoError(t, f.Close())

	m, err := NewManager(dir)
	require.NoError(t, err)
	defer func() { _ = m.Close() }()
	assert.Equal(t, 2, m.CurrentChunkSize())

	snapshots, _, err := m.LoadAllSnapshots()
	require.NoError(t, err)
	assert.Len(t, snapshots, 2)
}

func TestManagerCombinesChunksAndWal(t *testing.T) {
	dir := t.TempDir()
	m, err := NewManager(dir)
	require.NoError(t, err)
	defer func() { _ = m.Close() }()
	m.SetChunkSizeLimit(2)

	in := intern.New()
	now := time.Date(2026, 2, 7, 9, 0, 0, 0, time.UTC)

	_, err = m.AddSnapshotAt(loadSnapshot(in, 100), now, in)
	require.NoError(t, err)
	_, err = m.AddSnapshotAt(loadSnapshot(in, 200), now.Add(10*time.Second), in)
	require.NoError(t, err) // flush happens here
	_, err = m.AddSnapshotAt(loadSnapshot(in, 300), now.Add(20*time.Second), in)
	require.NoError(t, err) // stays in WAL

	snapshots, _, err := m.LoadAllSnapshots()
	require.NoError(t, err)
	require.Len(t, snapshots, 3)
	assert.Equal(t, int64(100), snapshots[0].Timestamp)
	assert.Equal(t, int64(200), snapshots[1].Timestamp)
	assert.Equal(t, int64(300), snapshots[2].Timestamp)
}

func TestManagerWritesHeatmapSidecar(t *testing.T) {
	dir := t.TempDir()
	m, err := NewManager(dir)
	require.NoError(t, err)
	defer func() { _ = m.Close() }()
	m.SetChunkSizeLimit(3)

	in := intern.New()
	now := time.Date(2026, 2, 7, 9, 0, 0, 0, time.UTC)
	for i := 0; i < 3; i++ {
		_, err = m.AddSnapshotAt(loadSnapshot(in, int64(100+10*i)), now.Add(time.Duration(i)*10*time.Second), in)
		require.NoError(t, err)
	}

	paths, err := m.ChunkPaths()
	require.NoError(t, err)
	require.Len(t, paths, 1)

	entries, err := ReadHeatmap(HeatmapPath(paths[0]))
	require.NoError(t, err)

	reader, err := OpenChunk(paths[0])
	require.NoError(t, err)
	defer reader.Close()
	// invariant: heatmap length equals chunk snapshot count
	assert.Equal(t, reader.SnapshotCount(), len(entries))
}

func TestManagerStartupRemovesTmpFiles(t *testing.T) {
	dir := t.TempDir()
	tmp := filepath.Join(dir, "rpglot_2026-02-07_11.zst.tmp")
	require.NoError(t, os.WriteFile(tmp, []byte("partial"), 0o644))

	m, err := NewManager(dir)
	require.NoError(t, err)
	defer func() { _ = m.Close() }()

	_, err = os.Stat(tmp)
	assert.True(t, os.IsNotExist(err))
}

func TestScanWalMetadataAndPointRead(t *testing.T) {
	dir := t.TempDir()
	m, err := NewManager(dir)
	require.NoError(t, err)
	defer func() { _ = m.Close() }()

	in := intern.New()
	now := time.Date(2026, 2, 7, 9, 0, 0, 0, time.UTC)
	for i := 0; i < 3; i++ {
		_, err = m.AddSnapshotAt(loadSnapshot(in, int64(500+10*i)), now.Add(time.Duration(i)*10*time.Second), in)
		require.NoError(t, err)
	}

	metas, err := ScanWalMetadata(m.WalPath())
	require.NoError(t, err)
	require.Len(t, metas, 3)
	assert.Equal(t, int64(500), metas[0].Timestamp)
	assert.Equal(t, int64(520), metas[2].Timestamp)

	// single-entry load via seek+read
	snapshot, interner, err := LoadWalEntryAt(m.WalPath(), metas[1].Offset, metas[1].Length)
	require.NoError(t, err)
	assert.Equal(t, int64(510), snapshot.Timestamp)
	for h := range snapshot.CollectHashes() {
		_, ok := interner.Resolve(h)
		assert.True(t, ok)
	}
}

func TestScanWalMetadataMissingFile(t *testing.T) {
	metas, err := ScanWalMetadata(filepath.Join(t.TempDir(), "nope.log"))
	require.NoError(t, err)
	assert.Empty(t, metas)
}

func TestParseChunkDate(t *testing.T) {
	d, ok := ParseChunkDate("rpglot_2026-02-07_17.zst")
	require.True(t, ok)
	assert.Equal(t, "2026-02-07", d.Format("2006-01-02"))

	d, ok = ParseChunkDate("rpglot_2026-02-07_17_123456789.zst")
	require.True(t, ok)
	assert.Equal(t, "2026-02-07", d.Format("2006-01-02"))

	_, ok = ParseChunkDate("chunk_1234567890.zst")
	assert.False(t, ok)
	_, ok = ParseChunkDate("wal.log")
	assert.False(t, ok)
}
