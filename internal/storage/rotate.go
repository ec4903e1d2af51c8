package storage

import (
	"os"
	"path/filepath"
	"sort"
	"time"

	"github.com/c2h5oh/datasize"

	"github.com/vadv/rpglot/internal/log"
)

// RotationConfig bounds the on-disk history. Deletes are per-file unlink;
// there is no background compaction.
type RotationConfig struct {
	// MaxTotalSize is the byte budget for all chunk files.
	MaxTotalSize uint64
	// MaxRetentionDays caps file age.
	MaxRetentionDays int
}

// DefaultRotationConfig is 1 GiB and 7 days.
func DefaultRotationConfig() RotationConfig {
	return RotationConfig{
		MaxTotalSize:     uint64(datasize.GB),
		MaxRetentionDays: 7,
	}
}

// RotationResult summarizes one rotation pass.
type RotationResult struct {
	FilesRemovedByAge  int
	FilesRemovedBySize int
	BytesFreed         uint64
	TotalSizeAfter     uint64
	FilesRemaining     int
}

type chunkFileInfo struct {
	path string
	size uint64
	date time.Time
	ok   bool
}

// Rotate enumerates chunk files and deletes first those older than the
// retention limit, then the oldest until the size budget is respected.
// Sidecars are removed together with their chunks. An empty directory is a
// no-op returning zero counts.
func (m *Manager) Rotate(config RotationConfig) (RotationResult, error) {
	var result RotationResult

	paths, err := m.ChunkPaths()
	if err != nil {
		return result, err
	}

	files := make([]chunkFileInfo, 0, len(paths))
	for _, path := range paths {
		stat, err := os.Stat(path)
		if err != nil {
			continue
		}
		date, ok := ParseChunkDate(filepath.Base(path))
		files = append(files, chunkFileInfo{
			path: path,
			size: uint64(stat.Size()),
			date: date,
			ok:   ok,
		})
	}

	sort.Slice(files, func(a, b int) bool { return files[a].date.Before(files[b].date) })

	retentionLimit := time.Now().UTC().AddDate(0, 0, -config.MaxRetentionDays)

	remaining := files[:0]
	for _, f := range files {
		if f.ok && f.date.Before(retentionLimit) {
			if err := removeChunkWithSidecar(f.path); err != nil {
				return result, err
			}
			result.FilesRemovedByAge++
			result.BytesFreed += f.size
			continue
		}
		remaining = append(remaining, f)
	}

	var totalSize uint64
	for _, f := range remaining {
		totalSize += f.size
	}

	for totalSize > config.MaxTotalSize && len(remaining) > 0 {
		f := remaining[0]
		remaining = remaining[1:]
		if err := removeChunkWithSidecar(f.path); err != nil {
			return result, err
		}
		result.FilesRemovedBySize++
		result.BytesFreed += f.size
		totalSize -= f.size
	}

	result.TotalSizeAfter = totalSize
	result.FilesRemaining = len(remaining)

	if result.FilesRemovedByAge > 0 || result.FilesRemovedBySize > 0 {
		log.Infof("rotation removed %d files by age, %d by size, freed %s",
			result.FilesRemovedByAge, result.FilesRemovedBySize, datasize.ByteSize(result.BytesFreed).HumanReadable())
	}

	return result, nil
}

func removeChunkWithSidecar(path string) error {
	if err := os.Remove(path); err != nil {
		return err
	}
	// Sidecar may be legitimately missing (heatmap write once failed).
	if err := os.Remove(HeatmapPath(path)); err != nil && !os.IsNotExist(err) {
		return err
	}
	return nil
}
