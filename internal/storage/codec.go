// Package storage implements the persistence pipeline: a write-ahead log of
// self-contained snapshot records, hourly dictionary-compressed chunk files
// with O(1) random access, heatmap sidecars and retention.
//
// This file is the compact binary codec shared by WAL records and chunk
// frames. Everything is little-endian; strings are u32-length-prefixed
// UTF-8; slices are u32-count-prefixed. Records carry no per-record length
// prefix — the encoding is self-delimiting, which is what WAL recovery
// relies on to find the truncation point.
package storage

import (
	"encoding/binary"
	"fmt"
	"math"

	"github.com/vadv/rpglot/internal/intern"
	"github.com/vadv/rpglot/internal/model"
)

type encoder struct {
	buf []byte
}

func (e *encoder) u8(v uint8)   { e.buf = append(e.buf, v) }
func (e *encoder) u16(v uint16) { e.buf = binary.LittleEndian.AppendUint16(e.buf, v) }
func (e *encoder) u32(v uint32) { e.buf = binary.LittleEndian.AppendUint32(e.buf, v) }
func (e *encoder) u64(v uint64) { e.buf = binary.LittleEndian.AppendUint64(e.buf, v) }
func (e *encoder) i16(v int16)  { e.u16(uint16(v)) }
func (e *encoder) i32(v int32)  { e.u32(uint32(v)) }
func (e *encoder) i64(v int64)  { e.u64(uint64(v)) }
func (e *encoder) f32(v float32) { e.u32(math.Float32bits(v)) }
func (e *encoder) f64(v float64) { e.u64(math.Float64bits(v)) }

func (e *encoder) bool(v bool) {
	if v {
		e.u8(1)
		return
	}
	e.u8(0)
}

func (e *encoder) str(s string) {
	e.u32(uint32(len(s)))
	e.buf = append(e.buf, s...)
}

type decoder struct {
	data []byte
	off  int
	err  error
}

func (d *decoder) fail(what string) {
	if d.err == nil {
		d.err = fmt.Errorf("decode %s: truncated at offset %d", what, d.off)
	}
}

func (d *decoder) u8() uint8 {
	if d.err != nil || d.off+1 > len(d.data) {
		d.fail("u8")
		return 0
	}
	v := d.data[d.off]
	d.off++
	return v
}

func (d *decoder) bool() bool { return d.u8() != 0 }

func (d *decoder) u16() uint16 {
	if d.err != nil || d.off+2 > len(d.data) {
		d.fail("u16")
		return 0
	}
	v := binary.LittleEndian.Uint16(d.data[d.off:])
	d.off += 2
	return v
}

func (d *decoder) u32() uint32 {
	if d.err != nil || d.off+4 > len(d.data) {
		d.fail("u32")
		return 0
	}
	v := binary.LittleEndian.Uint32(d.data[d.off:])
	d.off += 4
	return v
}

func (d *decoder) u64() uint64 {
	if d.err != nil || d.off+8 > len(d.data) {
		d.fail("u64")
		return 0
	}
	v := binary.LittleEndian.Uint64(d.data[d.off:])
	d.off += 8
	return v
}

func (d *decoder) i16() int16   { return int16(d.u16()) }
func (d *decoder) i32() int32   { return int32(d.u32()) }
func (d *decoder) i64() int64   { return int64(d.u64()) }
func (d *decoder) f32() float32 { return math.Float32frombits(d.u32()) }
func (d *decoder) f64() float64 { return math.Float64frombits(d.u64()) }

func (d *decoder) str() string {
	n := int(d.u32())
	if d.err != nil {
		return ""
	}
	if n < 0 || d.off+n > len(d.data) {
		d.fail("string")
		return ""
	}
	s := string(d.data[d.off : d.off+n])
	d.off += n
	return s
}

// sliceLen validates a decoded element count against the remaining input so
// corrupt counts cannot trigger huge allocations. minElemSize is the
// smallest possible encoded element.
func (d *decoder) sliceLen(minElemSize int) int {
	n := int(d.u32())
	if d.err != nil {
		return 0
	}
	if minElemSize > 0 && n > (len(d.data)-d.off)/minElemSize {
		d.fail("slice length")
		return 0
	}
	return n
}

// EncodeSnapshot appends the serialized snapshot to buf and returns the
// extended slice.
func EncodeSnapshot(buf []byte, s *model.Snapshot) ([]byte, error) {
	e := &encoder{buf: buf}
	e.i64(s.Timestamp)
	e.u8(uint8(len(s.Blocks)))
	for _, b := range s.Blocks {
		e.u8(uint8(b.Tag()))
		if err := encodeBlock(e, b); err != nil {
			return nil, err
		}
	}
	return e.buf, nil
}

// DecodeSnapshot decodes one snapshot from data and returns it along with
// the number of bytes consumed.
func DecodeSnapshot(data []byte) (*model.Snapshot, int, error) {
	d := &decoder{data: data}
	s := &model.Snapshot{}
	s.Timestamp = d.i64()
	n := int(d.u8())
	for i := 0; i < n && d.err == nil; i++ {
		tag := model.BlockTag(d.u8())
		block := decodeBlock(d, tag)
		if d.err != nil {
			break
		}
		s.Blocks = append(s.Blocks, block)
	}
	if d.err != nil {
		return nil, 0, d.err
	}
	return s, d.off, nil
}

// EncodeInterner appends the serialized interner (sorted by hash) to buf.
func EncodeInterner(buf []byte, in *intern.Interner) []byte {
	e := &encoder{buf: buf}
	hashes := in.Hashes()
	e.u32(uint32(len(hashes)))
	for _, h := range hashes {
		s, _ := in.Resolve(h)
		e.u64(h)
		e.str(s)
	}
	return e.buf
}

// DecodeInterner decodes an interner from data and returns the number of
// bytes consumed.
func DecodeInterner(data []byte) (*intern.Interner, int, error) {
	d := &decoder{data: data}
	n := d.sliceLen(12)
	out := intern.New()
	for i := 0; i < n && d.err == nil; i++ {
		h := d.u64()
		s := d.str()
		if d.err != nil {
			break
		}
		if got := out.Intern(s); got != h {
			return nil, 0, fmt.Errorf("interner entry %d: stored hash %d does not match %q", i, h, s)
		}
	}
	if d.err != nil {
		return nil, 0, d.err
	}
	return out, d.off, nil
}

func encodeBlock(e *encoder, block model.DataBlock) error {
	switch b := block.(type) {
	case model.ProcessesBlock:
		e.u32(uint32(len(b)))
		for i := range b {
			encodeProcess(e, &b[i])
		}
	case model.SystemCPUBlock:
		e.u32(uint32(len(b)))
		for i := range b {
			encodeSystemCPU(e, &b[i])
		}
	case model.SystemLoadBlock:
		e.f32(b.Lavg1)
		e.f32(b.Lavg5)
		e.f32(b.Lavg15)
		e.u32(b.NrRunning)
		e.u32(b.NrThreads)
	case model.SystemMemBlock:
		for _, v := range []uint64{b.Total, b.Free, b.Available, b.Buffers, b.Cached, b.Slab, b.SReclaimable, b.SUnreclaim, b.SwapTotal, b.SwapFree, b.Dirty, b.Writeback} {
			e.u64(v)
		}
	case model.SystemNetBlock:
		e.u32(uint32(len(b)))
		for _, n := range b {
			e.u64(n.NameHash)
			for _, v := range []uint64{n.RxBytes, n.RxPackets, n.RxErrs, n.RxDrop, n.TxBytes, n.TxPackets, n.TxErrs, n.TxDrop} {
				e.u64(v)
			}
		}
	case model.SystemDiskBlock:
		e.u32(uint32(len(b)))
		for _, disk := range b {
			e.u64(disk.DeviceHash)
			e.u32(disk.Major)
			e.u32(disk.Minor)
			for _, v := range []uint64{disk.Rio, disk.RMerged, disk.Rsz, disk.ReadTime, disk.Wio, disk.WMerged, disk.Wsz, disk.WriteTime, disk.IoInProgress, disk.IoMs, disk.Qusz} {
				e.u64(v)
			}
		}
	case model.SystemPsiBlock:
		e.u32(uint32(len(b)))
		for _, p := range b {
			e.u8(p.Resource)
			e.f32(p.SomeAvg10)
			e.f32(p.SomeAvg60)
			e.f32(p.SomeAvg300)
			e.u64(p.SomeTotal)
			e.f32(p.FullAvg10)
			e.f32(p.FullAvg60)
			e.f32(p.FullAvg300)
			e.u64(p.FullTotal)
		}
	case model.SystemVmstatBlock:
		for _, v := range []uint64{b.Pgfault, b.Pgmajfault, b.Pgpgin, b.Pgpgout, b.Pswpin, b.Pswpout, b.PgstealKswapd, b.PgstealDirect, b.PgscanKswapd, b.PgscanDirect, b.OomKill} {
			e.u64(v)
		}
	case model.SystemStatBlock:
		e.u64(b.Ctxt)
		e.u64(b.Processes)
		e.u32(b.ProcsRunning)
		e.u32(b.ProcsBlocked)
		e.u64(b.Btime)
	case model.SystemNetSnmpBlock:
		for _, v := range []uint64{
			b.TcpActiveOpens, b.TcpPassiveOpens, b.TcpAttemptFails, b.TcpEstabResets, b.TcpCurrEstab,
			b.TcpInSegs, b.TcpOutSegs, b.TcpRetransSegs, b.TcpInErrs, b.TcpOutRsts,
			b.UdpInDatagrams, b.UdpOutDatagrams, b.UdpInErrors, b.UdpNoPorts,
			b.ListenOverflows, b.ListenDrops, b.TcpTimeouts, b.TcpFastRetrans, b.TcpSlowStartRetrans, b.TcpOfoQueue, b.TcpSynRetrans,
		} {
			e.u64(v)
		}
	case model.CgroupBlock:
		e.bool(b.CPU != nil)
		if b.CPU != nil {
			e.u64(b.CPU.UsageUsec)
			e.u64(b.CPU.UserUsec)
			e.u64(b.CPU.SystemUsec)
			e.u64(b.CPU.NrPeriods)
			e.u64(b.CPU.NrThrottled)
			e.u64(b.CPU.ThrottledUsec)
			e.i64(b.CPU.Quota)
			e.u64(b.CPU.Period)
		}
		e.bool(b.Memory != nil)
		if b.Memory != nil {
			e.u64(b.Memory.Current)
			e.u64(b.Memory.Max)
			e.u64(b.Memory.SwapCurrent)
			e.u64(b.Memory.SwapMax)
		}
		e.bool(b.Pids != nil)
		if b.Pids != nil {
			e.u64(b.Pids.Current)
			e.u64(b.Pids.Max)
		}
	case model.PgStatActivityBlock:
		e.u32(uint32(len(b)))
		for _, a := range b {
			e.i32(a.Pid)
			e.u64(a.DatnameHash)
			e.u64(a.UsenameHash)
			e.u64(a.ApplicationNameHash)
			e.str(a.ClientAddr)
			e.u64(a.StateHash)
			e.u64(a.QueryHash)
			e.i64(a.QueryID)
			e.u64(a.WaitEventTypeHash)
			e.u64(a.WaitEventHash)
			e.u64(a.BackendTypeHash)
			e.i64(a.BackendStart)
			e.i64(a.XactStart)
			e.i64(a.QueryStart)
		}
	case model.PgStatStatementsBlock:
		e.u32(uint32(len(b)))
		for _, s := range b {
			e.u32(s.UserID)
			e.u32(s.DBID)
			e.i64(s.QueryID)
			e.u64(s.DatnameHash)
			e.u64(s.UsenameHash)
			e.u64(s.QueryHash)
			e.i64(s.Calls)
			e.f64(s.TotalExecTime)
			e.f64(s.MeanExecTime)
			e.f64(s.MinExecTime)
			e.f64(s.MaxExecTime)
			e.f64(s.StddevExecTime)
			e.i64(s.Rows)
			e.i64(s.SharedBlksRead)
			e.i64(s.SharedBlksHit)
			e.i64(s.SharedBlksWritten)
			e.i64(s.SharedBlksDirtied)
			e.i64(s.LocalBlksRead)
			e.i64(s.LocalBlksWritten)
			e.i64(s.TempBlksRead)
			e.i64(s.TempBlksWritten)
			e.i64(s.WalRecords)
			e.i64(s.WalBytes)
			e.f64(s.TotalPlanTime)
			e.i64(s.CollectedAt)
		}
	case model.PgStorePlansBlock:
		e.u32(uint32(len(b)))
		for _, p := range b {
			e.i64(p.StmtQueryID)
			e.i64(p.PlanID)
			e.u64(p.PlanHash)
			e.u32(p.UserID)
			e.u32(p.DBID)
			e.u64(p.DatnameHash)
			e.u64(p.UsenameHash)
			e.i64(p.Calls)
			e.f64(p.TotalTime)
			e.f64(p.MeanTime)
			e.f64(p.MinTime)
			e.f64(p.MaxTime)
			e.f64(p.StddevTime)
			e.i64(p.Rows)
			e.i64(p.SharedBlksHit)
			e.i64(p.SharedBlksRead)
			e.i64(p.SharedBlksDirtied)
			e.i64(p.SharedBlksWritten)
			e.i64(p.LocalBlksRead)
			e.i64(p.LocalBlksWritten)
			e.i64(p.TempBlksRead)
			e.i64(p.TempBlksWritten)
			e.f64(p.BlkReadTime)
			e.f64(p.BlkWriteTime)
			e.i64(p.FirstCall)
			e.i64(p.LastCall)
			e.i64(p.CollectedAt)
		}
	case model.PgStatDatabaseBlock:
		e.u32(uint32(len(b)))
		for _, db := range b {
			e.u32(db.DatID)
			e.u64(db.DatnameHash)
			for _, v := range []int64{db.XactCommit, db.XactRollback, db.BlksRead, db.BlksHit, db.TupReturned, db.TupFetched, db.TupInserted, db.TupUpdated, db.TupDeleted, db.Conflicts, db.TempFiles, db.TempBytes, db.Deadlocks, db.ChecksumFailures} {
				e.i64(v)
			}
			e.f64(db.BlkReadTime)
			e.f64(db.BlkWriteTime)
			e.f64(db.SessionTime)
			e.f64(db.ActiveTime)
			e.f64(db.IdleInTransactionTime)
			e.i64(db.Sessions)
			e.i64(db.SessionsAbandoned)
			e.i64(db.SessionsFatal)
			e.i64(db.SessionsKilled)
		}
	case model.PgStatBgwriterBlock:
		e.i64(b.CheckpointsTimed)
		e.i64(b.CheckpointsReq)
		e.f64(b.CheckpointWriteTime)
		e.f64(b.CheckpointSyncTime)
		e.i64(b.BuffersCheckpoint)
		e.i64(b.BuffersClean)
		e.i64(b.MaxwrittenClean)
		e.i64(b.BuffersBackend)
		e.i64(b.BuffersBackendFsync)
		e.i64(b.BuffersAlloc)
	case model.PgStatUserTablesBlock:
		e.u32(uint32(len(b)))
		for _, t := range b {
			e.u32(t.RelID)
			e.u64(t.DatnameHash)
			e.u64(t.SchemanameHash)
			e.u64(t.RelnameHash)
			for _, v := range []int64{
				t.SeqScan, t.SeqTupRead, t.IdxScan, t.IdxTupFetch, t.NTupIns, t.NTupUpd, t.NTupDel, t.NTupHotUpd,
				t.NLiveTup, t.NDeadTup, t.VacuumCount, t.AutovacuumCount, t.AnalyzeCount, t.AutoanalyzeCount,
				t.LastVacuum, t.LastAutovacuum, t.LastAnalyze, t.LastAutoanalyze, t.SizeBytes,
				t.HeapBlksRead, t.HeapBlksHit, t.IdxBlksRead, t.IdxBlksHit, t.ToastBlksRead, t.ToastBlksHit, t.TidxBlksRead, t.TidxBlksHit,
				t.CollectedAt,
			} {
				e.i64(v)
			}
		}
	case model.PgStatUserIndexesBlock:
		e.u32(uint32(len(b)))
		for _, i := range b {
			e.u32(i.IndexRelID)
			e.u32(i.RelID)
			e.u64(i.DatnameHash)
			e.u64(i.SchemanameHash)
			e.u64(i.RelnameHash)
			e.u64(i.IndexnameHash)
			for _, v := range []int64{i.IdxScan, i.IdxTupRead, i.IdxTupFetch, i.SizeBytes, i.IdxBlksRead, i.IdxBlksHit, i.CollectedAt} {
				e.i64(v)
			}
		}
	case model.PgLockTreeBlock:
		e.u32(uint32(len(b)))
		for _, n := range b {
			e.i32(n.Pid)
			e.i32(n.Depth)
			e.i32(n.RootPid)
			for _, h := range []uint64{n.DatnameHash, n.UsenameHash, n.StateHash, n.WaitEventTypeHash, n.WaitEventHash, n.QueryHash, n.ApplicationNameHash, n.BackendTypeHash} {
				e.u64(h)
			}
			e.i64(n.XactStart)
			e.i64(n.QueryStart)
			e.i64(n.StateChange)
			e.u64(n.LockTypeHash)
			e.u64(n.LockModeHash)
			e.bool(n.LockGranted)
			e.u64(n.LockTargetHash)
		}
	case model.PgLogErrorsBlock:
		e.u32(uint32(len(b)))
		for _, entry := range b {
			e.u64(entry.PatternHash)
			e.u8(uint8(entry.Severity))
			e.u32(entry.Count)
			e.u64(entry.SampleHash)
			e.u64(entry.StatementHash)
			e.u8(uint8(entry.Category))
		}
	case model.PgLogEventsBlock:
		e.u16(b.CheckpointCount)
		e.u16(b.AutovacuumCount)
		e.u16(b.SlowQueryCount)
	case model.PgLogDetailedEventsBlock:
		e.u32(uint32(len(b)))
		for _, ev := range b {
			e.u8(uint8(ev.EventType))
			e.str(ev.Message)
			e.str(ev.TableName)
			e.f64(ev.ElapsedS)
			e.i64(ev.ExtraNum1)
			e.i64(ev.ExtraNum2)
			e.i64(ev.BufferHits)
			e.i64(ev.BufferMisses)
			e.i64(ev.BufferDirtied)
			e.f64(ev.AvgReadRateMbs)
			e.f64(ev.AvgWriteRateMbs)
			e.f64(ev.CPUUserS)
			e.f64(ev.CPUSystemS)
			e.i64(ev.WalRecords)
			e.i64(ev.WalFpi)
			e.i64(ev.WalBytes)
			e.i64(ev.ExtraNum3)
			e.u16(ev.Count)
		}
	case model.PgSettingsBlock:
		e.u32(uint32(len(b)))
		for _, s := range b {
			e.str(s.Name)
			e.str(s.Setting)
			e.str(s.Unit)
		}
	case model.ReplicationStatusBlock:
		e.bool(b.IsInRecovery)
		e.i64(b.ReplayLagS)
		e.u32(b.ConnectedReplicas)
		e.u32(uint32(len(b.Replicas)))
		for _, r := range b.Replicas {
			e.str(r.ClientAddr)
			e.str(r.ApplicationName)
			e.str(r.State)
			e.str(r.SyncState)
			e.i64(r.ReplayLagBytes)
		}
	case model.PgStatProgressVacuumBlock:
		e.u32(uint32(len(b)))
		for _, v := range b {
			e.i32(v.Pid)
			e.u64(v.DatnameHash)
			e.i64(v.RelID)
			e.u64(v.PhaseHash)
			for _, n := range []int64{v.HeapBlksTotal, v.HeapBlksScanned, v.HeapBlksVacuumed, v.IndexVacuumCount, v.MaxDeadTuples, v.NumDeadTuples, v.DeadTupleBytes, v.IndexesTotal, v.IndexesProcessed} {
				e.i64(n)
			}
		}
	default:
		return fmt.Errorf("encode: unknown block tag %d", block.Tag())
	}
	return nil
}

func decodeBlock(d *decoder, tag model.BlockTag) model.DataBlock {
	switch tag {
	case model.TagProcesses:
		n := d.sliceLen(32)
		out := make(model.ProcessesBlock, 0, n)
		for i := 0; i < n && d.err == nil; i++ {
			out = append(out, decodeProcess(d))
		}
		return out
	case model.TagSystemCPU:
		n := d.sliceLen(32)
		out := make(model.SystemCPUBlock, 0, n)
		for i := 0; i < n && d.err == nil; i++ {
			out = append(out, decodeSystemCPU(d))
		}
		return out
	case model.TagSystemLoad:
		var b model.SystemLoadBlock
		b.Lavg1 = d.f32()
		b.Lavg5 = d.f32()
		b.Lavg15 = d.f32()
		b.NrRunning = d.u32()
		b.NrThreads = d.u32()
		return b
	case model.TagSystemMem:
		var b model.SystemMemBlock
		for _, p := range []*uint64{&b.Total, &b.Free, &b.Available, &b.Buffers, &b.Cached, &b.Slab, &b.SReclaimable, &b.SUnreclaim, &b.SwapTotal, &b.SwapFree, &b.Dirty, &b.Writeback} {
			*p = d.u64()
		}
		return b
	case model.TagSystemNet:
		n := d.sliceLen(72)
		out := make(model.SystemNetBlock, 0, n)
		for i := 0; i < n && d.err == nil; i++ {
			var net model.SystemNetInfo
			net.NameHash = d.u64()
			for _, p := range []*uint64{&net.RxBytes, &net.RxPackets, &net.RxErrs, &net.RxDrop, &net.TxBytes, &net.TxPackets, &net.TxErrs, &net.TxDrop} {
				*p = d.u64()
			}
			out = append(out, net)
		}
		return out
	case model.TagSystemDisk:
		n := d.sliceLen(104)
		out := make(model.SystemDiskBlock, 0, n)
		for i := 0; i < n && d.err == nil; i++ {
			var disk model.SystemDiskInfo
			disk.DeviceHash = d.u64()
			disk.Major = d.u32()
			disk.Minor = d.u32()
			for _, p := range []*uint64{&disk.Rio, &disk.RMerged, &disk.Rsz, &disk.ReadTime, &disk.Wio, &disk.WMerged, &disk.Wsz, &disk.WriteTime, &disk.IoInProgress, &disk.IoMs, &disk.Qusz} {
				*p = d.u64()
			}
			out = append(out, disk)
		}
		return out
	case model.TagSystemPsi:
		n := d.sliceLen(41)
		out := make(model.SystemPsiBlock, 0, n)
		for i := 0; i < n && d.err == nil; i++ {
			var p model.SystemPsiInfo
			p.Resource = d.u8()
			p.SomeAvg10 = d.f32()
			p.SomeAvg60 = d.f32()
			p.SomeAvg300 = d.f32()
			p.SomeTotal = d.u64()
			p.FullAvg10 = d.f32()
			p.FullAvg60 = d.f32()
			p.FullAvg300 = d.f32()
			p.FullTotal = d.u64()
			out = append(out, p)
		}
		return out
	case model.TagSystemVmstat:
		var b model.SystemVmstatBlock
		for _, p := range []*uint64{&b.Pgfault, &b.Pgmajfault, &b.Pgpgin, &b.Pgpgout, &b.Pswpin, &b.Pswpout, &b.PgstealKswapd, &b.PgstealDirect, &b.PgscanKswapd, &b.PgscanDirect, &b.OomKill} {
			*p = d.u64()
		}
		return b
	case model.TagSystemStat:
		var b model.SystemStatBlock
		b.Ctxt = d.u64()
		b.Processes = d.u64()
		b.ProcsRunning = d.u32()
		b.ProcsBlocked = d.u32()
		b.Btime = d.u64()
		return b
	case model.TagSystemNetSnmp:
		var b model.SystemNetSnmpBlock
		for _, p := range []*uint64{
			&b.TcpActiveOpens, &b.TcpPassiveOpens, &b.TcpAttemptFails, &b.TcpEstabResets, &b.TcpCurrEstab,
			&b.TcpInSegs, &b.TcpOutSegs, &b.TcpRetransSegs, &b.TcpInErrs, &b.TcpOutRsts,
			&b.UdpInDatagrams, &b.UdpOutDatagrams, &b.UdpInErrors, &b.UdpNoPorts,
			&b.ListenOverflows, &b.ListenDrops, &b.TcpTimeouts, &b.TcpFastRetrans, &b.TcpSlowStartRetrans, &b.TcpOfoQueue, &b.TcpSynRetrans,
		} {
			*p = d.u64()
		}
		return b
	case model.TagCgroup:
		var b model.CgroupBlock
		if d.bool() {
			cpu := &model.CgroupCPUInfo{}
			cpu.UsageUsec = d.u64()
			cpu.UserUsec = d.u64()
			cpu.SystemUsec = d.u64()
			cpu.NrPeriods = d.u64()
			cpu.NrThrottled = d.u64()
			cpu.ThrottledUsec = d.u64()
			cpu.Quota = d.i64()
			cpu.Period = d.u64()
			b.CPU = cpu
		}
		if d.bool() {
			mem := &model.CgroupMemoryInfo{}
			mem.Current = d.u64()
			mem.Max = d.u64()
			mem.SwapCurrent = d.u64()
			mem.SwapMax = d.u64()
			b.Memory = mem
		}
		if d.bool() {
			pids := &model.CgroupPidsInfo{}
			pids.Current = d.u64()
			pids.Max = d.u64()
			b.Pids = pids
		}
		return b
	case model.TagPgStatActivity:
		n := d.sliceLen(90)
		out := make(model.PgStatActivityBlock, 0, n)
		for i := 0; i < n && d.err == nil; i++ {
			var a model.PgStatActivityInfo
			a.Pid = d.i32()
			a.DatnameHash = d.u64()
			a.UsenameHash = d.u64()
			a.ApplicationNameHash = d.u64()
			a.ClientAddr = d.str()
			a.StateHash = d.u64()
			a.QueryHash = d.u64()
			a.QueryID = d.i64()
			a.WaitEventTypeHash = d.u64()
			a.WaitEventHash = d.u64()
			a.BackendTypeHash = d.u64()
			a.BackendStart = d.i64()
			a.XactStart = d.i64()
			a.QueryStart = d.i64()
			out = append(out, a)
		}
		return out
	case model.TagPgStatStatements:
		n := d.sliceLen(180)
		out := make(model.PgStatStatementsBlock, 0, n)
		for i := 0; i < n && d.err == nil; i++ {
			var s model.PgStatStatementsInfo
			s.UserID = d.u32()
			s.DBID = d.u32()
			s.QueryID = d.i64()
			s.DatnameHash = d.u64()
			s.UsenameHash = d.u64()
			s.QueryHash = d.u64()
			s.Calls = d.i64()
			s.TotalExecTime = d.f64()
			s.MeanExecTime = d.f64()
			s.MinExecTime = d.f64()
			s.MaxExecTime = d.f64()
			s.StddevExecTime = d.f64()
			s.Rows = d.i64()
			s.SharedBlksRead = d.i64()
			s.SharedBlksHit = d.i64()
			s.SharedBlksWritten = d.i64()
			s.SharedBlksDirtied = d.i64()
			s.LocalBlksRead = d.i64()
			s.LocalBlksWritten = d.i64()
			s.TempBlksRead = d.i64()
			s.TempBlksWritten = d.i64()
			s.WalRecords = d.i64()
			s.WalBytes = d.i64()
			s.TotalPlanTime = d.f64()
			s.CollectedAt = d.i64()
			out = append(out, s)
		}
		return out
	case model.TagPgStorePlans:
		n := d.sliceLen(200)
		out := make(model.PgStorePlansBlock, 0, n)
		for i := 0; i < n && d.err == nil; i++ {
			var p model.PgStorePlansInfo
			p.StmtQueryID = d.i64()
			p.PlanID = d.i64()
			p.PlanHash = d.u64()
			p.UserID = d.u32()
			p.DBID = d.u32()
			p.DatnameHash = d.u64()
			p.UsenameHash = d.u64()
			p.Calls = d.i64()
			p.TotalTime = d.f64()
			p.MeanTime = d.f64()
			p.MinTime = d.f64()
			p.MaxTime = d.f64()
			p.StddevTime = d.f64()
			p.Rows = d.i64()
			p.SharedBlksHit = d.i64()
			p.SharedBlksRead = d.i64()
			p.SharedBlksDirtied = d.i64()
			p.SharedBlksWritten = d.i64()
			p.LocalBlksRead = d.i64()
			p.LocalBlksWritten = d.i64()
			p.TempBlksRead = d.i64()
			p.TempBlksWritten = d.i64()
			p.BlkReadTime = d.f64()
			p.BlkWriteTime = d.f64()
			p.FirstCall = d.i64()
			p.LastCall = d.i64()
			p.CollectedAt = d.i64()
			out = append(out, p)
		}
		return out
	case model.TagPgStatDatabase:
		n := d.sliceLen(190)
		out := make(model.PgStatDatabaseBlock, 0, n)
		for i := 0; i < n && d.err == nil; i++ {
			var db model.PgStatDatabaseInfo
			db.DatID = d.u32()
			db.DatnameHash = d.u64()
			for _, p := range []*int64{&db.XactCommit, &db.XactRollback, &db.BlksRead, &db.BlksHit, &db.TupReturned, &db.TupFetched, &db.TupInserted, &db.TupUpdated, &db.TupDeleted, &db.Conflicts, &db.TempFiles, &db.TempBytes, &db.Deadlocks, &db.ChecksumFailures} {
				*p = d.i64()
			}
			db.BlkReadTime = d.f64()
			db.BlkWriteTime = d.f64()
			db.SessionTime = d.f64()
			db.ActiveTime = d.f64()
			db.IdleInTransactionTime = d.f64()
			db.Sessions = d.i64()
			db.SessionsAbandoned = d.i64()
			db.SessionsFatal = d.i64()
			db.SessionsKilled = d.i64()
			out = append(out, db)
		}
		return out
	case model.TagPgStatBgwriter:
		var b model.PgStatBgwriterBlock
		b.CheckpointsTimed = d.i64()
		b.CheckpointsReq = d.i64()
		b.CheckpointWriteTime = d.f64()
		b.CheckpointSyncTime = d.f64()
		b.BuffersCheckpoint = d.i64()
		b.BuffersClean = d.i64()
		b.MaxwrittenClean = d.i64()
		b.BuffersBackend = d.i64()
		b.BuffersBackendFsync = d.i64()
		b.BuffersAlloc = d.i64()
		return b
	case model.TagPgStatUserTables:
		n := d.sliceLen(250)
		out := make(model.PgStatUserTablesBlock, 0, n)
		for i := 0; i < n && d.err == nil; i++ {
			var t model.PgStatUserTablesInfo
			t.RelID = d.u32()
			t.DatnameHash = d.u64()
			t.SchemanameHash = d.u64()
			t.RelnameHash = d.u64()
			for _, p := range []*int64{
				&t.SeqScan, &t.SeqTupRead, &t.IdxScan, &t.IdxTupFetch, &t.NTupIns, &t.NTupUpd, &t.NTupDel, &t.NTupHotUpd,
				&t.NLiveTup, &t.NDeadTup, &t.VacuumCount, &t.AutovacuumCount, &t.AnalyzeCount, &t.AutoanalyzeCount,
				&t.LastVacuum, &t.LastAutovacuum, &t.LastAnalyze, &t.LastAutoanalyze, &t.SizeBytes,
				&t.HeapBlksRead, &t.HeapBlksHit, &t.IdxBlksRead, &t.IdxBlksHit, &t.ToastBlksRead, &t.ToastBlksHit, &t.TidxBlksRead, &t.TidxBlksHit,
				&t.CollectedAt,
			} {
				*p = d.i64()
			}
			out = append(out, t)
		}
		return out
	case model.TagPgStatUserIndexes:
		n := d.sliceLen(96)
		out := make(model.PgStatUserIndexesBlock, 0, n)
		for i := 0; i < n && d.err == nil; i++ {
			var idx model.PgStatUserIndexesInfo
			idx.IndexRelID = d.u32()
			idx.RelID = d.u32()
			idx.DatnameHash = d.u64()
			idx.SchemanameHash = d.u64()
			idx.RelnameHash = d.u64()
			idx.IndexnameHash = d.u64()
			for _, p := range []*int64{&idx.IdxScan, &idx.IdxTupRead, &idx.IdxTupFetch, &idx.SizeBytes, &idx.IdxBlksRead, &idx.IdxBlksHit, &idx.CollectedAt} {
				*p = d.i64()
			}
			out = append(out, idx)
		}
		return out
	case model.TagPgLockTree:
		n := d.sliceLen(125)
		out := make(model.PgLockTreeBlock, 0, n)
		for i := 0; i < n && d.err == nil; i++ {
			var node model.PgLockTreeNode
			node.Pid = d.i32()
			node.Depth = d.i32()
			node.RootPid = d.i32()
			for _, p := range []*uint64{&node.DatnameHash, &node.UsenameHash, &node.StateHash, &node.WaitEventTypeHash, &node.WaitEventHash, &node.QueryHash, &node.ApplicationNameHash, &node.BackendTypeHash} {
				*p = d.u64()
			}
			node.XactStart = d.i64()
			node.QueryStart = d.i64()
			node.StateChange = d.i64()
			node.LockTypeHash = d.u64()
			node.LockModeHash = d.u64()
			node.LockGranted = d.bool()
			node.LockTargetHash = d.u64()
			out = append(out, node)
		}
		return out
	case model.TagPgLogErrors:
		n := d.sliceLen(30)
		out := make(model.PgLogErrorsBlock, 0, n)
		for i := 0; i < n && d.err == nil; i++ {
			var entry model.PgLogEntry
			entry.PatternHash = d.u64()
			entry.Severity = model.PgLogSeverity(d.u8())
			entry.Count = d.u32()
			entry.SampleHash = d.u64()
			entry.StatementHash = d.u64()
			entry.Category = model.ErrorCategory(d.u8())
			out = append(out, entry)
		}
		return out
	case model.TagPgLogEvents:
		var b model.PgLogEventsBlock
		b.CheckpointCount = d.u16()
		b.AutovacuumCount = d.u16()
		b.SlowQueryCount = d.u16()
		return b
	case model.TagPgLogDetailedEvents:
		n := d.sliceLen(120)
		out := make(model.PgLogDetailedEventsBlock, 0, n)
		for i := 0; i < n && d.err == nil; i++ {
			var ev model.PgLogEventEntry
			ev.EventType = model.PgLogEventType(d.u8())
			ev.Message = d.str()
			ev.TableName = d.str()
			ev.ElapsedS = d.f64()
			ev.ExtraNum1 = d.i64()
			ev.ExtraNum2 = d.i64()
			ev.BufferHits = d.i64()
			ev.BufferMisses = d.i64()
			ev.BufferDirtied = d.i64()
			ev.AvgReadRateMbs = d.f64()
			ev.AvgWriteRateMbs = d.f64()
			ev.CPUUserS = d.f64()
			ev.CPUSystemS = d.f64()
			ev.WalRecords = d.i64()
			ev.WalFpi = d.i64()
			ev.WalBytes = d.i64()
			ev.ExtraNum3 = d.i64()
			ev.Count = d.u16()
			out = append(out, ev)
		}
		return out
	case model.TagPgSettings:
		n := d.sliceLen(12)
		out := make(model.PgSettingsBlock, 0, n)
		for i := 0; i < n && d.err == nil; i++ {
			var s model.PgSettingEntry
			s.Name = d.str()
			s.Setting = d.str()
			s.Unit = d.str()
			out = append(out, s)
		}
		return out
	case model.TagReplicationStatus:
		var b model.ReplicationStatusBlock
		b.IsInRecovery = d.bool()
		b.ReplayLagS = d.i64()
		b.ConnectedReplicas = d.u32()
		n := d.sliceLen(24)
		for i := 0; i < n && d.err == nil; i++ {
			var r model.ReplicaInfo
			r.ClientAddr = d.str()
			r.ApplicationName = d.str()
			r.State = d.str()
			r.SyncState = d.str()
			r.ReplayLagBytes = d.i64()
			b.Replicas = append(b.Replicas, r)
		}
		return b
	case model.TagPgStatProgressVacuum:
		n := d.sliceLen(96)
		out := make(model.PgStatProgressVacuumBlock, 0, n)
		for i := 0; i < n && d.err == nil; i++ {
			var v model.PgStatProgressVacuumInfo
			v.Pid = d.i32()
			v.DatnameHash = d.u64()
			v.RelID = d.i64()
			v.PhaseHash = d.u64()
			for _, p := range []*int64{&v.HeapBlksTotal, &v.HeapBlksScanned, &v.HeapBlksVacuumed, &v.IndexVacuumCount, &v.MaxDeadTuples, &v.NumDeadTuples, &v.DeadTupleBytes, &v.IndexesTotal, &v.IndexesProcessed} {
				*p = d.i64()
			}
			out = append(out, v)
		}
		return out
	}
	d.fail(fmt.Sprintf("unknown block tag %d", tag))
	return nil
}

func encodeProcess(e *encoder, p *model.ProcessInfo) {
	e.u32(p.Pid)
	e.u32(p.Ppid)
	e.u8(p.State)
	e.u32(p.UID)
	e.u32(p.EUID)
	e.u64(p.NameHash)
	e.u64(p.CmdlineHash)
	e.u64(p.UserHash)
	e.u64(p.Utime)
	e.u64(p.Stime)
	e.i64(p.StartTime)
	e.i32(p.Priority)
	e.i32(p.Nice)
	e.i32(p.NumThreads)
	e.i32(p.Processor)
	e.u64(p.VmSize)
	e.u64(p.VmRSS)
	e.u64(p.VmSwap)
	e.u64(p.VmData)
	e.u64(p.Minflt)
	e.u64(p.Majflt)
	e.u64(p.Rchar)
	e.u64(p.Wchar)
	e.u64(p.ReadBytes)
	e.u64(p.WriteBytes)
	e.u64(p.VoluntaryCtxtSwitches)
	e.u64(p.NonvoluntaryCtxtSwitches)
}

func decodeProcess(d *decoder) model.ProcessInfo {
	var p model.ProcessInfo
	p.Pid = d.u32()
	p.Ppid = d.u32()
	p.State = d.u8()
	p.UID = d.u32()
	p.EUID = d.u32()
	p.NameHash = d.u64()
	p.CmdlineHash = d.u64()
	p.UserHash = d.u64()
	p.Utime = d.u64()
	p.Stime = d.u64()
	p.StartTime = d.i64()
	p.Priority = d.i32()
	p.Nice = d.i32()
	p.NumThreads = d.i32()
	p.Processor = d.i32()
	p.VmSize = d.u64()
	p.VmRSS = d.u64()
	p.VmSwap = d.u64()
	p.VmData = d.u64()
	p.Minflt = d.u64()
	p.Majflt = d.u64()
	p.Rchar = d.u64()
	p.Wchar = d.u64()
	p.ReadBytes = d.u64()
	p.WriteBytes = d.u64()
	p.VoluntaryCtxtSwitches = d.u64()
	p.NonvoluntaryCtxtSwitches = d.u64()
	return p
}

func encodeSystemCPU(e *encoder, c *model.SystemCPUInfo) {
	e.i16(c.CPUID)
	e.u64(c.User)
	e.u64(c.Nice)
	e.u64(c.System)
	e.u64(c.Idle)
	e.u64(c.Iowait)
	e.u64(c.Irq)
	e.u64(c.Softirq)
	e.u64(c.Steal)
	e.u64(c.Guest)
	e.u64(c.GuestNice)
}

func decodeSystemCPU(d *decoder) model.SystemCPUInfo {
	var c model.SystemCPUInfo
	c.CPUID = d.i16()
	c.User = d.u64()
	c.Nice = d.u64()
	c.System = d.u64()
	c.Idle = d.u64()
	c.Iowait = d.u64()
	c.Irq = d.u64()
	c.Softirq = d.u64()
	c.Steal = d.u64()
	c.Guest = d.u64()
	c.GuestNice = d.u64()
	return c
}
