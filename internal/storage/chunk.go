package storage

import (
	"encoding/binary"
	"fmt"
	"io"
	"os"
	"path/filepath"

	"github.com/klauspost/compress/dict"
	"github.com/klauspost/compress/zstd"

	"github.com/vadv/rpglot/internal/intern"
	"github.com/vadv/rpglot/internal/log"
	"github.com/vadv/rpglot/internal/model"
)

// Chunk file layout, all little-endian:
//
//	header (48 bytes): magic "RPG6", version u16, snapshot count u16,
//	  interner offset u64, interner compressed len u64,
//	  dict offset u64, dict len u64, 8 reserved bytes
//	index table: snapshot count × 28 bytes
//	  (offset u64, compressed len u64, timestamp i64, uncompressed len u32)
//	dictionary (raw bytes, not compressed)
//	snapshot frames, each an independent zstd frame using the dictionary
//	interner frame, one zstd frame without the dictionary
const (
	chunkMagic      = "RPG6"
	chunkVersion    = 6
	headerSize      = 48
	indexEntrySize  = 28
	dictMaxSize     = 112 * 1024
	maxChunkEntries = 65535
)

// ChunkIndexEntry locates one snapshot frame inside a chunk file.
type ChunkIndexEntry struct {
	Offset          uint64
	CompressedLen   uint64
	Timestamp       int64
	UncompressedLen uint32
}

// ChunkMetadata is the cheap header+index view of a chunk: reading it costs
// ~10 KB of I/O instead of the whole file. Used by retention and time-range
// queries.
type ChunkMetadata struct {
	SnapshotCount int
	Timestamps    []int64
}

// ReadChunkMetadata reads only the header and index table of a chunk file.
func ReadChunkMetadata(path string) (*ChunkMetadata, error) {
	f, err := os.Open(filepath.Clean(path))
	if err != nil {
		return nil, err
	}
	defer func() { _ = f.Close() }()

	header := make([]byte, headerSize)
	if _, err := io.ReadFull(f, header); err != nil {
		return nil, fmt.Errorf("read chunk header failed: %w", err)
	}

	count, _, _, _, _, err := parseHeader(header)
	if err != nil {
		return nil, err
	}

	index := make([]byte, count*indexEntrySize)
	if _, err := io.ReadFull(f, index); err != nil {
		return nil, fmt.Errorf("read chunk index failed: %w", err)
	}

	md := &ChunkMetadata{SnapshotCount: count, Timestamps: make([]int64, 0, count)}
	for i := 0; i < count; i++ {
		base := i * indexEntrySize
		md.Timestamps = append(md.Timestamps, int64(binary.LittleEndian.Uint64(index[base+16:])))
	}
	return md, nil
}

func parseHeader(header []byte) (count int, internerOffset, internerLen, dictOffset, dictLen uint64, err error) {
	if len(header) < headerSize {
		return 0, 0, 0, 0, 0, fmt.Errorf("file too small for header")
	}
	if string(header[0:4]) != chunkMagic {
		return 0, 0, 0, 0, 0, fmt.Errorf("invalid magic: expected %s, got %q", chunkMagic, header[0:4])
	}
	if v := binary.LittleEndian.Uint16(header[4:6]); v != chunkVersion {
		return 0, 0, 0, 0, 0, fmt.Errorf("unsupported chunk version: %d", v)
	}
	count = int(binary.LittleEndian.Uint16(header[6:8]))
	internerOffset = binary.LittleEndian.Uint64(header[8:16])
	internerLen = binary.LittleEndian.Uint64(header[16:24])
	dictOffset = binary.LittleEndian.Uint64(header[24:32])
	dictLen = binary.LittleEndian.Uint64(header[32:40])
	return count, internerOffset, internerLen, dictOffset, dictLen, nil
}

// ChunkReader provides O(1) random access to snapshots of one chunk file.
// Opening loads header, index and dictionary; snapshot frames decompress on
// demand.
type ChunkReader struct {
	index         []ChunkIndexEntry
	internerOff   uint64
	internerLen   uint64
	data          []byte
	dictDecoder   *zstd.Decoder
	nodictDecoder *zstd.Decoder
}

// OpenChunk opens a chunk file and prepares its dictionary decoder.
func OpenChunk(path string) (*ChunkReader, error) {
	data, err := os.ReadFile(filepath.Clean(path))
	if err != nil {
		return nil, err
	}

	count, internerOff, internerLen, dictOff, dictLen, err := parseHeader(data)
	if err != nil {
		return nil, err
	}

	indexEnd := headerSize + count*indexEntrySize
	if len(data) < indexEnd {
		return nil, fmt.Errorf("file too small for index")
	}

	index := make([]ChunkIndexEntry, 0, count)
	for i := 0; i < count; i++ {
		base := headerSize + i*indexEntrySize
		index = append(index, ChunkIndexEntry{
			Offset:          binary.LittleEndian.Uint64(data[base:]),
			CompressedLen:   binary.LittleEndian.Uint64(data[base+8:]),
			Timestamp:       int64(binary.LittleEndian.Uint64(data[base+16:])),
			UncompressedLen: binary.LittleEndian.Uint32(data[base+24:]),
		})
	}

	if dictOff+dictLen > uint64(len(data)) {
		return nil, fmt.Errorf("dictionary extends past end of file")
	}
	dictionary := data[dictOff : dictOff+dictLen]

	nodict, err := zstd.NewReader(nil, zstd.WithDecoderConcurrency(1))
	if err != nil {
		return nil, err
	}

	dictDecoder := nodict
	if len(dictionary) > 0 {
		dictDecoder, err = zstd.NewReader(nil, zstd.WithDecoderConcurrency(1), zstd.WithDecoderDicts(dictionary))
		if err != nil {
			nodict.Close()
			return nil, fmt.Errorf("prepare dictionary decoder failed: %w", err)
		}
	}

	return &ChunkReader{
		index:         index,
		internerOff:   internerOff,
		internerLen:   internerLen,
		data:          data,
		dictDecoder:   dictDecoder,
		nodictDecoder: nodict,
	}, nil
}

// Close releases the decoders.
func (r *ChunkReader) Close() {
	if r.dictDecoder != r.nodictDecoder {
		r.dictDecoder.Close()
	}
	r.nodictDecoder.Close()
}

// SnapshotCount returns the number of snapshots in this chunk.
func (r *ChunkReader) SnapshotCount() int {
	return len(r.index)
}

// Timestamps returns per-snapshot timestamps from the index table.
func (r *ChunkReader) Timestamps() []int64 {
	out := make([]int64, 0, len(r.index))
	for _, e := range r.index {
		out = append(out, e.Timestamp)
	}
	return out
}

// ReadSnapshot decompresses and decodes the snapshot at index i.
func (r *ChunkReader) ReadSnapshot(i int) (*model.Snapshot, error) {
	if i < 0 || i >= len(r.index) {
		return nil, fmt.Errorf("snapshot index %d out of range (count=%d)", i, len(r.index))
	}

	entry := r.index[i]
	start := entry.Offset
	end := start + entry.CompressedLen
	if end > uint64(len(r.data)) {
		return nil, fmt.Errorf("snapshot frame extends past end of file")
	}

	raw, err := r.dictDecoder.DecodeAll(r.data[start:end], make([]byte, 0, entry.UncompressedLen))
	if err != nil {
		return nil, fmt.Errorf("decompress snapshot %d failed: %w", i, err)
	}

	snapshot, _, err := DecodeSnapshot(raw)
	if err != nil {
		return nil, fmt.Errorf("decode snapshot %d failed: %w", i, err)
	}
	return snapshot, nil
}

// ReadInterner decompresses and decodes the chunk interner frame.
func (r *ChunkReader) ReadInterner() (*intern.Interner, error) {
	end := r.internerOff + r.internerLen
	if end > uint64(len(r.data)) {
		return nil, fmt.Errorf("interner frame extends past end of file")
	}

	raw, err := r.nodictDecoder.DecodeAll(r.data[r.internerOff:end], nil)
	if err != nil {
		return nil, fmt.Errorf("decompress interner failed: %w", err)
	}

	in, _, err := DecodeInterner(raw)
	if err != nil {
		return nil, fmt.Errorf("decode interner failed: %w", err)
	}
	return in, nil
}

// TrainDictionary trains a zstd dictionary over serialized snapshot samples.
// Training failures degrade to an empty dictionary (plain per-frame
// compression) instead of failing the flush.
func TrainDictionary(samples [][]byte) []byte {
	if len(samples) < 8 {
		return nil
	}
	d, err := dict.BuildZstdDict(samples, dict.Options{
		MaxDictSize: dictMaxSize,
		HashBytes:   6,
	})
	if err != nil {
		log.Debugf("dictionary training failed: %s; fall back to plain compression", err)
		return nil
	}
	return d
}

// WriteChunk serializes snapshots, trains a dictionary across them and
// writes the chunk file atomically.
func WriteChunk(path string, snapshots []*model.Snapshot, interner *intern.Interner) error {
	if len(snapshots) == 0 {
		return fmt.Errorf("cannot write empty chunk")
	}

	raw := make([][]byte, 0, len(snapshots))
	for _, s := range snapshots {
		buf, err := EncodeSnapshot(nil, s)
		if err != nil {
			return err
		}
		raw = append(raw, buf)
	}

	dictionary := TrainDictionary(raw)

	return writeChunkInner(path, len(snapshots), dictionary, func(i int) ([]byte, int64, error) {
		return raw[i], snapshots[i].Timestamp, nil
	}, interner)
}

// WriteChunkWithTrainedDict writes a chunk using a pre-trained dictionary
// and a callback producing snapshots by index, so the flusher never holds
// all snapshots in memory at once.
func WriteChunkWithTrainedDict(path string, snapshotCount int, dictionary []byte, load func(i int) (*model.Snapshot, error), interner *intern.Interner) error {
	return writeChunkInner(path, snapshotCount, dictionary, func(i int) ([]byte, int64, error) {
		s, err := load(i)
		if err != nil {
			return nil, 0, err
		}
		buf, err := EncodeSnapshot(nil, s)
		if err != nil {
			return nil, 0, err
		}
		return buf, s.Timestamp, nil
	}, interner)
}

func writeChunkInner(path string, count int, dictionary []byte, nextRaw func(i int) ([]byte, int64, error), interner *intern.Interner) error {
	if count == 0 {
		return fmt.Errorf("cannot write empty chunk")
	}
	if count > maxChunkEntries {
		return fmt.Errorf("too many snapshots for chunk format: %d", count)
	}

	tmpPath := path + ".tmp"
	f, err := os.Create(filepath.Clean(tmpPath))
	if err != nil {
		return err
	}
	defer func() {
		if f != nil {
			_ = f.Close()
			_ = os.Remove(tmpPath)
		}
	}()

	// Placeholder header + index; real values are written after the frames
	// once their offsets are known.
	if _, err := f.Write(make([]byte, headerSize+count*indexEntrySize)); err != nil {
		return err
	}

	dictOffset := uint64(headerSize + count*indexEntrySize)
	if _, err := f.Write(dictionary); err != nil {
		return err
	}

	encOpts := []zstd.EOption{zstd.WithEncoderLevel(zstd.SpeedDefault), zstd.WithEncoderConcurrency(1)}
	if len(dictionary) > 0 {
		encOpts = append(encOpts, zstd.WithEncoderDict(dictionary))
	}
	frameEncoder, err := zstd.NewWriter(nil, encOpts...)
	if err != nil {
		return err
	}
	defer frameEncoder.Close()

	offset := dictOffset + uint64(len(dictionary))
	index := make([]ChunkIndexEntry, 0, count)
	for i := 0; i < count; i++ {
		raw, timestamp, err := nextRaw(i)
		if err != nil {
			return err
		}
		compressed := frameEncoder.EncodeAll(raw, nil)
		if _, err := f.Write(compressed); err != nil {
			return err
		}
		index = append(index, ChunkIndexEntry{
			Offset:          offset,
			CompressedLen:   uint64(len(compressed)),
			Timestamp:       timestamp,
			UncompressedLen: uint32(len(raw)),
		})
		offset += uint64(len(compressed))
	}

	// Interner frame is compressed without the dictionary: its layout does
	// not share redundancy with snapshot payloads.
	plainEncoder, err := zstd.NewWriter(nil, zstd.WithEncoderLevel(zstd.SpeedDefault), zstd.WithEncoderConcurrency(1))
	if err != nil {
		return err
	}
	compressedInterner := plainEncoder.EncodeAll(EncodeInterner(nil, interner), nil)
	plainEncoder.Close()

	internerOffset := offset
	if _, err := f.Write(compressedInterner); err != nil {
		return err
	}

	header := make([]byte, headerSize)
	copy(header[0:4], chunkMagic)
	binary.LittleEndian.PutUint16(header[4:6], chunkVersion)
	binary.LittleEndian.PutUint16(header[6:8], uint16(count))
	binary.LittleEndian.PutUint64(header[8:16], internerOffset)
	binary.LittleEndian.PutUint64(header[16:24], uint64(len(compressedInterner)))
	binary.LittleEndian.PutUint64(header[24:32], dictOffset)
	binary.LittleEndian.PutUint64(header[32:40], uint64(len(dictionary)))
	if _, err := f.WriteAt(header, 0); err != nil {
		return err
	}

	indexBuf := make([]byte, count*indexEntrySize)
	for i, e := range index {
		base := i * indexEntrySize
		binary.LittleEndian.PutUint64(indexBuf[base:], e.Offset)
		binary.LittleEndian.PutUint64(indexBuf[base+8:], e.CompressedLen)
		binary.LittleEndian.PutUint64(indexBuf[base+16:], uint64(e.Timestamp))
		binary.LittleEndian.PutUint32(indexBuf[base+24:], e.UncompressedLen)
	}
	if _, err := f.WriteAt(indexBuf, headerSize); err != nil {
		return err
	}

	if err := f.Sync(); err != nil {
		return err
	}
	if err := f.Close(); err != nil {
		f = nil
		return err
	}
	f = nil

	return os.Rename(tmpPath, path)
}
