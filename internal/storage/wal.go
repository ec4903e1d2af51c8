package storage

import (
	"fmt"
	"os"
	"path/filepath"

	"github.com/vadv/rpglot/internal/intern"
	"github.com/vadv/rpglot/internal/log"
	"github.com/vadv/rpglot/internal/model"
)

// WalFileName is the append-only log file inside the storage root.
const WalFileName = "wal.log"

// WalEntry is one self-contained WAL record: a snapshot plus the interner
// subset resolving every hash that snapshot references. Self-containment is
// what makes recovery safe under SIGKILL.
type WalEntry struct {
	Snapshot *model.Snapshot
	Interner *intern.Interner
}

// WalEntryMeta locates one entry inside the WAL file.
type WalEntryMeta struct {
	Offset    uint64
	Length    uint64
	Timestamp int64
}

// Wal is the append-only write-ahead log. Writes are append + fsync per
// record; a single ticker owns the handle.
type Wal struct {
	path    string
	file    *os.File
	entries int
}

// OpenWal opens (creating if needed) the WAL in dir and recovers its entry
// count. Trailing garbage after the last decodable record is truncated.
func OpenWal(dir string) (*Wal, error) {
	path := filepath.Join(dir, WalFileName)
	file, err := os.OpenFile(filepath.Clean(path), os.O_CREATE|os.O_APPEND|os.O_RDWR, 0o644)
	if err != nil {
		return nil, err
	}

	w := &Wal{path: path, file: file}
	if err := w.recover(); err != nil {
		_ = file.Close()
		return nil, err
	}
	return w, nil
}

// recover counts valid records and truncates trailing garbage.
func (w *Wal) recover() error {
	data, err := os.ReadFile(filepath.Clean(w.path))
	if err != nil {
		return err
	}
	if len(data) == 0 {
		return nil
	}

	validEnd := 0
	count := 0
	for validEnd < len(data) {
		_, _, n, err := decodeWalEntry(data[validEnd:])
		if err != nil {
			break
		}
		validEnd += n
		count++
	}
	w.entries = count

	if validEnd < len(data) {
		garbage := len(data) - validEnd
		log.Warnf("WAL corruption detected: %d garbage bytes after %d valid records, truncating", garbage, count)
		if err := w.file.Truncate(int64(validEnd)); err != nil {
			return fmt.Errorf("truncate WAL failed: %w", err)
		}
	}

	return nil
}

func encodeWalEntry(buf []byte, entry *WalEntry) ([]byte, error) {
	buf, err := EncodeSnapshot(buf, entry.Snapshot)
	if err != nil {
		return nil, err
	}
	return EncodeInterner(buf, entry.Interner), nil
}

func decodeWalEntry(data []byte) (*model.Snapshot, *intern.Interner, int, error) {
	snapshot, n, err := DecodeSnapshot(data)
	if err != nil {
		return nil, nil, 0, err
	}
	interner, m, err := DecodeInterner(data[n:])
	if err != nil {
		return nil, nil, 0, err
	}
	return snapshot, interner, n + m, nil
}

// Append serializes the entry, appends it and fsyncs before returning.
func (w *Wal) Append(entry *WalEntry) error {
	buf, err := encodeWalEntry(nil, entry)
	if err != nil {
		return err
	}
	if _, err := w.file.Write(buf); err != nil {
		return err
	}
	if err := w.file.Sync(); err != nil {
		return err
	}
	w.entries++
	return nil
}

// Entries returns the number of unflushed records.
func (w *Wal) Entries() int {
	return w.entries
}

// Truncate drops all records. Called by the chunk flusher after the chunk
// file has been renamed into place.
func (w *Wal) Truncate() error {
	if err := w.file.Truncate(0); err != nil {
		return err
	}
	if _, err := w.file.Seek(0, 0); err != nil {
		return err
	}
	if err := w.file.Sync(); err != nil {
		return err
	}
	w.entries = 0
	return nil
}

// Close closes the file handle.
func (w *Wal) Close() error {
	return w.file.Close()
}

// LoadAll reads every record, returning snapshots in append order and the
// union of their interners.
func (w *Wal) LoadAll() ([]*model.Snapshot, *intern.Interner, error) {
	data, err := os.ReadFile(filepath.Clean(w.path))
	if err != nil {
		return nil, nil, err
	}

	merged := intern.New()
	var snapshots []*model.Snapshot
	off := 0
	for off < len(data) {
		snapshot, interner, n, err := decodeWalEntry(data[off:])
		if err != nil {
			break // trailing garbage is recovery territory, not an error here
		}
		if err := merged.Merge(interner); err != nil {
			return nil, nil, err
		}
		snapshots = append(snapshots, snapshot)
		off += n
	}

	return snapshots, merged, nil
}

// ScanWalMetadata sequentially scans a WAL file and returns
// (offset, length, timestamp) for each entry without retaining the decoded
// entries. A missing file yields an empty slice.
func ScanWalMetadata(path string) ([]WalEntryMeta, error) {
	data, err := os.ReadFile(filepath.Clean(path))
	if err != nil {
		if os.IsNotExist(err) {
			return nil, nil
		}
		return nil, err
	}

	var metas []WalEntryMeta
	off := 0
	for off < len(data) {
		snapshot, _, n, err := decodeWalEntry(data[off:])
		if err != nil {
			break
		}
		metas = append(metas, WalEntryMeta{
			Offset:    uint64(off),
			Length:    uint64(n),
			Timestamp: snapshot.Timestamp,
		})
		off += n
	}
	return metas, nil
}

// LoadWalEntryAt loads a single entry via seek+read at a byte range
// previously obtained from ScanWalMetadata, avoiding a full-file read.
func LoadWalEntryAt(path string, offset, length uint64) (*model.Snapshot, *intern.Interner, error) {
	f, err := os.Open(filepath.Clean(path))
	if err != nil {
		return nil, nil, err
	}
	defer func() { _ = f.Close() }()

	buf := make([]byte, length)
	if _, err := f.ReadAt(buf, int64(offset)); err != nil {
		return nil, nil, err
	}

	snapshot, interner, _, err := decodeWalEntry(buf)
	return snapshot, interner, err
}
