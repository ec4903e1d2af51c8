package storage

import (
	"fmt"
	"os"
	"path/filepath"
	"sort"
	"strings"
	"time"

	"github.com/vadv/rpglot/internal/intern"
	"github.com/vadv/rpglot/internal/log"
	"github.com/vadv/rpglot/internal/model"
)

// DefaultChunkSizeLimit caps WAL entries per chunk: roughly one hour of
// snapshots at 10-second ticks.
const DefaultChunkSizeLimit = 360

const chunkFilePrefix = "rpglot_"

// Manager owns the storage root: the WAL, chunk flushing with hourly
// segmentation, and the boundary guarantee that a snapshot lives either in
// a chunk or in the WAL, never both.
type Manager struct {
	basePath       string
	chunkSizeLimit int
	wal            *Wal
	currentHour    int
	currentDate    string // YYYY-MM-DD of the hour being accumulated
	hasHour        bool
}

// NewManager opens (creating if needed) a storage directory, removes
// leftover .tmp files from crashed flushes, and recovers the WAL.
func NewManager(basePath string) (*Manager, error) {
	if err := os.MkdirAll(basePath, 0o755); err != nil {
		return nil, err
	}

	// A .tmp file can only be a partially written chunk from a crash.
	entries, err := os.ReadDir(basePath)
	if err != nil {
		return nil, err
	}
	for _, entry := range entries {
		if strings.HasSuffix(entry.Name(), ".tmp") {
			_ = os.Remove(filepath.Join(basePath, entry.Name()))
		}
	}

	wal, err := OpenWal(basePath)
	if err != nil {
		return nil, err
	}

	return &Manager{
		basePath:       basePath,
		chunkSizeLimit: DefaultChunkSizeLimit,
		wal:            wal,
	}, nil
}

// BasePath returns the storage root directory.
func (m *Manager) BasePath() string {
	return m.basePath
}

// SetChunkSizeLimit overrides the per-chunk snapshot ceiling.
func (m *Manager) SetChunkSizeLimit(n int) {
	m.chunkSizeLimit = n
}

// CurrentChunkSize returns the number of unflushed WAL entries.
func (m *Manager) CurrentChunkSize() int {
	return m.wal.Entries()
}

// Close closes the WAL handle. Unflushed records stay on disk and are
// recovered on the next startup.
func (m *Manager) Close() error {
	return m.wal.Close()
}

// AddSnapshot appends a snapshot using the current wall clock for hour
// tracking. Returns true when a chunk was flushed.
func (m *Manager) AddSnapshot(snapshot *model.Snapshot, interner *intern.Interner) (bool, error) {
	return m.AddSnapshotAt(snapshot, time.Now().UTC(), interner)
}

// AddSnapshotAt appends a snapshot with an explicit time (testing, replay).
// The entry carries a filtered interner containing exactly the hashes the
// snapshot references. A flush happens when the hour changes or the entry
// ceiling is reached.
func (m *Manager) AddSnapshotAt(snapshot *model.Snapshot, now time.Time, interner *intern.Interner) (bool, error) {
	date := now.Format("2006-01-02")
	hour := now.Hour()
	flushed := false

	if m.hasHour && (m.currentHour != hour || m.currentDate != date) && m.wal.Entries() > 0 {
		if err := m.flushChunkAt(m.currentDate, m.currentHour, now); err != nil {
			log.Errorf("hourly chunk flush failed: %s", err)
		} else {
			flushed = true
		}
	}

	m.currentHour = hour
	m.currentDate = date
	m.hasHour = true

	entry := &WalEntry{
		Snapshot: snapshot,
		Interner: interner.Filter(snapshot.CollectHashes()),
	}
	if err := m.wal.Append(entry); err != nil {
		return flushed, fmt.Errorf("WAL append failed: %w", err)
	}

	if m.wal.Entries() >= m.chunkSizeLimit {
		if err := m.flushChunkAt(date, hour, now); err != nil {
			return flushed, err
		}
		flushed = true
	}

	return flushed, nil
}

// Flush forces the current WAL contents into a chunk.
func (m *Manager) Flush() error {
	now := time.Now().UTC()
	date, hour := now.Format("2006-01-02"), now.Hour()
	if m.hasHour {
		date, hour = m.currentDate, m.currentHour
	}
	return m.flushChunkAt(date, hour, now)
}

// flushChunkAt copies all WAL records into a new chunk file named after the
// given date and hour, writes the heatmap sidecar, then truncates the WAL.
func (m *Manager) flushChunkAt(date string, hour int, now time.Time) error {
	if m.wal.Entries() == 0 {
		return fmt.Errorf("empty WAL")
	}

	snapshots, interner, err := m.wal.LoadAll()
	if err != nil {
		return fmt.Errorf("load WAL snapshots failed: %w", err)
	}
	if len(snapshots) == 0 {
		return fmt.Errorf("no snapshots in WAL")
	}

	// Keep only the hashes actually referenced across the chunk.
	used := make(map[uint64]struct{})
	for _, s := range snapshots {
		for h := range s.CollectHashes() {
			used[h] = struct{}{}
		}
	}
	filtered := interner.Filter(used)

	path := filepath.Join(m.basePath, fmt.Sprintf("%s%s_%02d.zst", chunkFilePrefix, date, hour))
	if _, err := os.Stat(path); err == nil {
		// Same hour written twice (crash recovery): fall back to a unique name.
		path = filepath.Join(m.basePath, fmt.Sprintf("%s%s_%02d_%d.zst", chunkFilePrefix, date, hour, now.UnixNano()))
	}

	if err := WriteChunk(path, snapshots, filtered); err != nil {
		return fmt.Errorf("write chunk failed: %w", err)
	}

	if err := WriteHeatmap(HeatmapPath(path), BuildHeatmapFromSnapshots(snapshots)); err != nil {
		log.Warnf("write chunk heatmap failed: %s", err)
	}

	if err := m.wal.Truncate(); err != nil {
		return fmt.Errorf("truncate WAL after flush failed: %w", err)
	}

	log.Infof("flushed %d snapshots to %s", len(snapshots), filepath.Base(path))
	return nil
}

// ChunkPaths returns all chunk files in the storage root, sorted by name
// (which sorts chronologically given the naming scheme).
func (m *Manager) ChunkPaths() ([]string, error) {
	entries, err := os.ReadDir(m.basePath)
	if err != nil {
		return nil, err
	}
	var paths []string
	for _, entry := range entries {
		if strings.HasSuffix(entry.Name(), ".zst") {
			paths = append(paths, filepath.Join(m.basePath, entry.Name()))
		}
	}
	sort.Strings(paths)
	return paths, nil
}

// WalPath returns the path of the WAL file.
func (m *Manager) WalPath() string {
	return filepath.Join(m.basePath, WalFileName)
}

// LoadAllSnapshots reads every chunk plus the unflushed WAL and returns
// snapshots in chronological order with a merged interner covering all of
// them. Duplicate timestamps are dropped.
func (m *Manager) LoadAllSnapshots() ([]*model.Snapshot, *intern.Interner, error) {
	paths, err := m.ChunkPaths()
	if err != nil {
		return nil, nil, err
	}

	merged := intern.New()
	var snapshots []*model.Snapshot

	for _, path := range paths {
		reader, err := OpenChunk(path)
		if err != nil {
			log.Warnf("open chunk %s failed: %s; skip", filepath.Base(path), err)
			continue
		}
		chunkInterner, err := reader.ReadInterner()
		if err != nil {
			reader.Close()
			return nil, nil, err
		}
		if err := merged.Merge(chunkInterner); err != nil {
			reader.Close()
			return nil, nil, err
		}
		for i := 0; i < reader.SnapshotCount(); i++ {
			s, err := reader.ReadSnapshot(i)
			if err != nil {
				reader.Close()
				return nil, nil, err
			}
			snapshots = append(snapshots, s)
		}
		reader.Close()
	}

	walSnapshots, walInterner, err := m.wal.LoadAll()
	if err != nil {
		return nil, nil, err
	}
	if err := merged.Merge(walInterner); err != nil {
		return nil, nil, err
	}
	snapshots = append(snapshots, walSnapshots...)

	sort.SliceStable(snapshots, func(a, b int) bool {
		return snapshots[a].Timestamp < snapshots[b].Timestamp
	})
	dedup := snapshots[:0]
	var lastTs int64 = -1 << 62
	for _, s := range snapshots {
		if s.Timestamp == lastTs {
			continue
		}
		dedup = append(dedup, s)
		lastTs = s.Timestamp
	}

	return dedup, merged, nil
}

// ParseChunkDate extracts the YYYY-MM-DD date from a chunk filename
// (rpglot_2026-02-07_17.zst, optionally with a collision suffix).
func ParseChunkDate(filename string) (time.Time, bool) {
	name := strings.TrimPrefix(filename, chunkFilePrefix)
	if name == filename || !strings.HasSuffix(name, ".zst") {
		return time.Time{}, false
	}
	parts := strings.Split(strings.TrimSuffix(name, ".zst"), "_")
	if len(parts) == 0 {
		return time.Time{}, false
	}
	t, err := time.Parse("2006-01-02", parts[0])
	if err != nil {
		return time.Time{}, false
	}
	return t, true
}
