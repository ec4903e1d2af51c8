package storage

import (
	"encoding/binary"
	"fmt"
	"os"
	"path/filepath"
	"strings"

	"github.com/vadv/rpglot/internal/intern"
	"github.com/vadv/rpglot/internal/model"
)

// Heatmap sidecar format: 4-byte magic "HM04" followed by fixed-width
// 15-byte little-endian entries, one per snapshot of the adjacent chunk.
const (
	heatmapMagic     = "HM04"
	heatmapEntrySize = 15
)

// HeatmapEntry is the per-snapshot aggregate record. Percentages are stored
// ×10 (0..1000); event counters saturate at 255.
type HeatmapEntry struct {
	ActiveSessions  uint16
	CPUPctX10       uint16
	CgroupCPUPctX10 uint16
	CgroupMemPctX10 uint16
	ErrorsCritical  uint8
	ErrorsWarning   uint8
	ErrorsInfo      uint8
	CheckpointCount uint8
	AutovacuumCount uint8
	SlowQueryCount  uint8
	HealthScore     uint8
}

// HeatmapBucket is one aggregated display bucket: max for gauges, sum for
// event counters, min for health.
type HeatmapBucket struct {
	Ts             int64
	Active         uint16
	CPU            uint16
	CgroupCPU      uint16
	CgroupMem      uint16
	ErrorsCritical uint8
	ErrorsWarning  uint8
	ErrorsInfo     uint8
	Checkpoints    uint8
	Autovacuums    uint8
	SlowQueries    uint8
	Health         uint8
}

// HeatmapPath derives the sidecar path from a chunk path:
// "x.zst" → "x.heatmap".
func HeatmapPath(chunkPath string) string {
	return strings.TrimSuffix(chunkPath, filepath.Ext(chunkPath)) + ".heatmap"
}

// WriteHeatmap writes entries to a sidecar file.
func WriteHeatmap(path string, entries []HeatmapEntry) error {
	buf := make([]byte, 0, 4+len(entries)*heatmapEntrySize)
	buf = append(buf, heatmapMagic...)
	for _, e := range entries {
		buf = binary.LittleEndian.AppendUint16(buf, e.ActiveSessions)
		buf = binary.LittleEndian.AppendUint16(buf, e.CPUPctX10)
		buf = binary.LittleEndian.AppendUint16(buf, e.CgroupCPUPctX10)
		buf = binary.LittleEndian.AppendUint16(buf, e.CgroupMemPctX10)
		buf = append(buf, e.ErrorsCritical, e.ErrorsWarning, e.ErrorsInfo,
			e.CheckpointCount, e.AutovacuumCount, e.SlowQueryCount, e.HealthScore)
	}
	return os.WriteFile(filepath.Clean(path), buf, 0o644)
}

// ReadHeatmap reads all entries from a sidecar file.
func ReadHeatmap(path string) ([]HeatmapEntry, error) {
	data, err := os.ReadFile(filepath.Clean(path))
	if err != nil {
		return nil, err
	}

	if len(data) < 4 || string(data[0:4]) != heatmapMagic {
		return nil, fmt.Errorf("invalid heatmap file magic")
	}
	payload := data[4:]
	if len(payload)%heatmapEntrySize != 0 {
		return nil, fmt.Errorf("invalid heatmap file size: %d payload bytes", len(payload))
	}

	entries := make([]HeatmapEntry, 0, len(payload)/heatmapEntrySize)
	for off := 0; off < len(payload); off += heatmapEntrySize {
		entries = append(entries, HeatmapEntry{
			ActiveSessions:  binary.LittleEndian.Uint16(payload[off:]),
			CPUPctX10:       binary.LittleEndian.Uint16(payload[off+2:]),
			CgroupCPUPctX10: binary.LittleEndian.Uint16(payload[off+4:]),
			CgroupMemPctX10: binary.LittleEndian.Uint16(payload[off+6:]),
			ErrorsCritical:  payload[off+8],
			ErrorsWarning:   payload[off+9],
			ErrorsInfo:      payload[off+10],
			CheckpointCount: payload[off+11],
			AutovacuumCount: payload[off+12],
			SlowQueryCount:  payload[off+13],
			HealthScore:     payload[off+14],
		})
	}
	return entries, nil
}

// HeatmapBuilder derives entries from a snapshot stream. CPU percentages
// require deltas across consecutive snapshots, so the builder keeps only the
// previous CPU/cgroup-CPU samples and the previous timestamp in memory — it
// never holds the snapshots themselves. The first snapshot of a chunk gets
// zero CPU values by construction.
type HeatmapBuilder struct {
	prevCPU       *model.SystemCPUInfo
	prevCgroupCPU *model.CgroupCPUInfo
	prevTimestamp int64
	hasPrev       bool
}

// NewHeatmapBuilder creates a builder for one chunk's snapshot sequence.
func NewHeatmapBuilder() *HeatmapBuilder {
	return &HeatmapBuilder{}
}

// Add derives the heatmap entry for the next snapshot in order.
func (b *HeatmapBuilder) Add(s *model.Snapshot) HeatmapEntry {
	entry := HeatmapEntry{
		ActiveSessions: countActiveSessions(s),
	}

	currCPU := extractAggregateCPU(s)
	if b.hasPrev && b.prevCPU != nil && currCPU != nil {
		entry.CPUPctX10 = computeCPUPct(b.prevCPU, currCPU)
	}

	var dt float64
	if b.hasPrev {
		dt = float64(s.Timestamp - b.prevTimestamp)
	}
	currCgroupCPU := extractCgroupCPU(s)
	if b.hasPrev && b.prevCgroupCPU != nil && currCgroupCPU != nil {
		entry.CgroupCPUPctX10 = computeCgroupCPUPct(b.prevCgroupCPU, currCgroupCPU, dt)
	}

	if mem := extractCgroupMemory(s); mem != nil {
		entry.CgroupMemPctX10 = computeCgroupMemPct(mem)
	}

	entry.ErrorsCritical, entry.ErrorsWarning, entry.ErrorsInfo = countErrorsBySeverity(s)
	entry.CheckpointCount = countEvents(s, model.EventCheckpointStarting, model.EventCheckpointComplete)
	entry.AutovacuumCount = countEvents(s, model.EventAutovacuum, model.EventAutoanalyze)
	entry.SlowQueryCount = countEvents(s, model.EventSlowQuery)
	entry.HealthScore = computeHealthScore(&entry)

	b.prevCPU = currCPU
	b.prevCgroupCPU = currCgroupCPU
	b.prevTimestamp = s.Timestamp
	b.hasPrev = true

	return entry
}

// BuildHeatmapFromSnapshots derives entries for an in-memory snapshot slice.
func BuildHeatmapFromSnapshots(snapshots []*model.Snapshot) []HeatmapEntry {
	builder := NewHeatmapBuilder()
	entries := make([]HeatmapEntry, 0, len(snapshots))
	for _, s := range snapshots {
		entries = append(entries, builder.Add(s))
	}
	return entries
}

// BucketHeatmap aggregates (timestamp, entry) pairs over [startTs, endTs)
// into numBuckets buckets.
func BucketHeatmap(entries []HeatmapEntry, timestamps []int64, startTs, endTs int64, numBuckets int) []HeatmapBucket {
	if len(entries) == 0 || len(entries) != len(timestamps) || numBuckets <= 0 || endTs <= startTs {
		return nil
	}

	rangeSecs := float64(endTs - startTs)
	buckets := make([]HeatmapBucket, numBuckets)
	for i := range buckets {
		buckets[i].Ts = startTs + int64(rangeSecs*float64(i)/float64(numBuckets))
		buckets[i].Health = 100
	}

	for i, entry := range entries {
		ts := timestamps[i]
		if ts < startTs || ts > endTs {
			continue
		}
		idx := int(float64(ts-startTs) / rangeSecs * float64(numBuckets))
		if idx >= numBuckets {
			idx = numBuckets - 1
		}
		b := &buckets[idx]
		b.Active = maxU16(b.Active, entry.ActiveSessions)
		b.CPU = maxU16(b.CPU, entry.CPUPctX10)
		b.CgroupCPU = maxU16(b.CgroupCPU, entry.CgroupCPUPctX10)
		b.CgroupMem = maxU16(b.CgroupMem, entry.CgroupMemPctX10)
		b.ErrorsCritical = maxU8(b.ErrorsCritical, entry.ErrorsCritical)
		b.ErrorsWarning = maxU8(b.ErrorsWarning, entry.ErrorsWarning)
		b.ErrorsInfo = maxU8(b.ErrorsInfo, entry.ErrorsInfo)
		b.Checkpoints = addSatU8(b.Checkpoints, entry.CheckpointCount)
		b.Autovacuums = addSatU8(b.Autovacuums, entry.AutovacuumCount)
		b.SlowQueries = addSatU8(b.SlowQueries, entry.SlowQueryCount)
		if entry.HealthScore < b.Health {
			b.Health = entry.HealthScore
		}
	}

	return buckets
}

func maxU16(a, b uint16) uint16 {
	if a > b {
		return a
	}
	return b
}

func maxU8(a, b uint8) uint8 {
	if a > b {
		return a
	}
	return b
}

func addSatU8(a, b uint8) uint8 {
	s := uint16(a) + uint16(b)
	if s > 255 {
		return 255
	}
	return uint8(s)
}

func satU8(v int) uint8 {
	if v > 255 {
		return 255
	}
	if v < 0 {
		return 0
	}
	return uint8(v)
}

var idleHash = intern.Hash("idle")

func countActiveSessions(s *model.Snapshot) uint16 {
	block, ok := s.Block(model.TagPgStatActivity).(model.PgStatActivityBlock)
	if !ok {
		return 0
	}
	count := 0
	for _, a := range block {
		if a.StateHash != idleHash {
			count++
		}
	}
	if count > 65535 {
		count = 65535
	}
	return uint16(count)
}

func extractAggregateCPU(s *model.Snapshot) *model.SystemCPUInfo {
	block, ok := s.Block(model.TagSystemCPU).(model.SystemCPUBlock)
	if !ok {
		return nil
	}
	for i := range block {
		if block[i].CPUID == -1 {
			cpu := block[i]
			return &cpu
		}
	}
	return nil
}

func extractCgroupCPU(s *model.Snapshot) *model.CgroupCPUInfo {
	block, ok := s.Block(model.TagCgroup).(model.CgroupBlock)
	if !ok || block.CPU == nil {
		return nil
	}
	cpu := *block.CPU
	return &cpu
}

func extractCgroupMemory(s *model.Snapshot) *model.CgroupMemoryInfo {
	block, ok := s.Block(model.TagCgroup).(model.CgroupBlock)
	if !ok || block.Memory == nil {
		return nil
	}
	mem := *block.Memory
	return &mem
}

func computeCPUPct(prev, curr *model.SystemCPUInfo) uint16 {
	prevTotal := prev.Total()
	currTotal := curr.Total()
	if currTotal <= prevTotal {
		return 0
	}
	totalDelta := currTotal - prevTotal

	var idleDelta uint64
	if curr.Idle > prev.Idle {
		idleDelta = curr.Idle - prev.Idle
	}
	busyDelta := totalDelta - idleDelta
	pct := uint64(float64(busyDelta) / float64(totalDelta) * 1000.0)
	if pct > 1000 {
		pct = 1000
	}
	return uint16(pct)
}

func computeCgroupCPUPct(prev, curr *model.CgroupCPUInfo, dtSecs float64) uint16 {
	if dtSecs <= 0 || curr.Quota <= 0 || curr.Period == 0 {
		return 0
	}
	limitCores := float64(curr.Quota) / float64(curr.Period)
	if limitCores <= 0 {
		return 0
	}
	var dUsage float64
	if curr.UsageUsec > prev.UsageUsec {
		dUsage = float64(curr.UsageUsec-prev.UsageUsec) / 1e6
	}
	pct := dUsage / dtSecs / limitCores * 1000.0
	if pct > 1000 {
		pct = 1000
	}
	if pct < 0 {
		pct = 0
	}
	return uint16(pct)
}

func computeCgroupMemPct(mem *model.CgroupMemoryInfo) uint16 {
	if mem.Max == 0 || mem.Max == model.CgroupNoLimit {
		return 0
	}
	pct := float64(mem.Current) / float64(mem.Max) * 1000.0
	if pct > 1000 {
		pct = 1000
	}
	return uint16(pct)
}

func countErrorsBySeverity(s *model.Snapshot) (critical, warning, info uint8) {
	block, ok := s.Block(model.TagPgLogErrors).(model.PgLogErrorsBlock)
	if !ok {
		return 0, 0, 0
	}
	var c, w, i int
	for _, e := range block {
		switch e.Category {
		case model.CategoryResource, model.CategoryDataCorruption, model.CategorySystem:
			c += int(e.Count)
		case model.CategoryLock, model.CategoryConstraint, model.CategorySerialization:
			i += int(e.Count)
		default:
			w += int(e.Count)
		}
	}
	return satU8(c), satU8(w), satU8(i)
}

func countEvents(s *model.Snapshot, types ...model.PgLogEventType) uint8 {
	// Detailed events are the source of truth; the legacy counter block is
	// the fallback for snapshots written before detailed parsing existed.
	if block, ok := s.Block(model.TagPgLogDetailedEvents).(model.PgLogDetailedEventsBlock); ok {
		count := 0
		for _, ev := range block {
			for _, t := range types {
				if ev.EventType == t {
					count++
					break
				}
			}
		}
		return satU8(count)
	}

	if block, ok := s.Block(model.TagPgLogEvents).(model.PgLogEventsBlock); ok {
		switch types[0] {
		case model.EventCheckpointStarting, model.EventCheckpointComplete:
			return satU8(int(block.CheckpointCount))
		case model.EventAutovacuum, model.EventAutoanalyze:
			return satU8(int(block.AutovacuumCount))
		case model.EventSlowQuery:
			return satU8(int(block.SlowQueryCount))
		}
	}
	return 0
}

// computeHealthScore folds the entry's gauges into a 0..100 score where 100
// is perfectly healthy. Penalties are capped so no single dimension can zero
// the score on its own.
func computeHealthScore(e *HeatmapEntry) uint8 {
	score := 100

	// Host CPU above 70% starts costing up to 25 points.
	if e.CPUPctX10 > 700 {
		score -= int(e.CPUPctX10-700) * 25 / 300
	}
	// Cgroup memory above 80% costs up to 25 points.
	if e.CgroupMemPctX10 > 800 {
		score -= int(e.CgroupMemPctX10-800) * 25 / 200
	}
	// Errors: critical 10 points each (cap 40), warnings 2 each (cap 10).
	c := int(e.ErrorsCritical) * 10
	if c > 40 {
		c = 40
	}
	score -= c
	w := int(e.ErrorsWarning) * 2
	if w > 10 {
		w = 10
	}
	score -= w
	// Slow queries cost 3 each, cap 15.
	sq := int(e.SlowQueryCount) * 3
	if sq > 15 {
		sq = 15
	}
	score -= sq

	if score < 0 {
		score = 0
	}
	return uint8(score)
}
