package storage

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/vadv/rpglot/internal/intern"
	"github.com/vadv/rpglot/internal/model"
)

func sampleSnapshot(in *intern.Interner, ts int64) *model.Snapshot {
	return &model.Snapshot{
		Timestamp: ts,
		Blocks: []model.DataBlock{
			model.ProcessesBlock{
				{Pid: 1, Ppid: 0, State: 'S', NameHash: in.Intern("systemd"), CmdlineHash: in.Intern("/sbin/init"), UserHash: in.Intern("root"), Utime: 100, Stime: 50, VmRSS: 1024},
				{Pid: 1234, Ppid: 1, State: 'R', NameHash: in.Intern("postgres"), CmdlineHash: in.Intern("postgres: walwriter"), UserHash: in.Intern("postgres"), Utime: 5000, Stime: 1000, NumThreads: 1},
			},
			model.SystemCPUBlock{
				{CPUID: -1, User: 270166, Nice: 4553, System: 67236, Idle: 15101309, Iowait: 28474},
				{CPUID: 0, User: 66276, Nice: 1161, System: 17176, Idle: 3774453},
			},
			model.SystemLoadBlock{SystemLoadInfo: model.SystemLoadInfo{Lavg1: 0.5, Lavg5: 0.4, Lavg15: 0.3, NrRunning: 2, NrThreads: 900}},
			model.SystemMemBlock{SystemMemInfo: model.SystemMemInfo{Total: 16284344, Free: 2028672, Available: 8915028}},
			model.SystemNetBlock{{NameHash: in.Intern("eth0"), RxBytes: 1000, TxBytes: 2000}},
			model.SystemDiskBlock{{DeviceHash: in.Intern("sda"), Major: 8, Minor: 0, Rio: 166502, Wio: 90198}},
			model.SystemPsiBlock{{Resource: model.PsiMemory, SomeAvg10: 0.12, SomeTotal: 123456, FullAvg10: 0.01, FullTotal: 789}},
			model.SystemVmstatBlock{SystemVmstatInfo: model.SystemVmstatInfo{Pgfault: 123456, Pgmajfault: 42}},
			model.SystemStatBlock{SystemStatInfo: model.SystemStatInfo{Ctxt: 74773485, Btime: 1758124455, Processes: 92575, ProcsRunning: 3, ProcsBlocked: 1}},
			model.SystemNetSnmpBlock{SystemNetSnmpInfo: model.SystemNetSnmpInfo{TcpActiveOpens: 337, TcpCurrEstab: 17, UdpInDatagrams: 8514, TcpTimeouts: 42}},
			model.CgroupBlock{CgroupInfo: model.CgroupInfo{
				CPU:    &model.CgroupCPUInfo{UsageUsec: 1234567, Quota: 200000, Period: 100000},
				Memory: &model.CgroupMemoryInfo{Current: 1 << 29, Max: 1 << 30, SwapMax: model.CgroupNoLimit},
				Pids:   &model.CgroupPidsInfo{Current: 17, Max: model.CgroupNoLimit},
			}},
			model.PgStatActivityBlock{{
				Pid: 4242, DatnameHash: in.Intern("app"), UsenameHash: in.Intern("app_rw"),
				ApplicationNameHash: in.Intern("psql"), ClientAddr: "10.0.0.5",
				StateHash: in.Intern("active"), QueryHash: in.Intern("SELECT 1"), QueryID: 987,
				WaitEventTypeHash: in.Intern(""), WaitEventHash: in.Intern(""),
				BackendTypeHash: in.Intern("client backend"), BackendStart: 1700000000, QueryStart: 1700000100,
			}},
			model.PgStatStatementsBlock{{
				UserID: 10, DBID: 16384, QueryID: -321, DatnameHash: in.Intern("app"),
				UsenameHash: in.Intern("app_rw"), QueryHash: in.Intern("SELECT * FROM users WHERE id = $1"),
				Calls: 100, TotalExecTime: 1234.5, MeanExecTime: 12.3, Rows: 100,
				SharedBlksRead: 10, SharedBlksHit: 990, WalBytes: 4242, CollectedAt: ts,
			}},
			model.PgStorePlansBlock{{StmtQueryID: -321, PlanID: 777, PlanHash: in.Intern("Seq Scan on users"), Calls: 10, TotalTime: 99.9, CollectedAt: ts}},
			model.PgStatDatabaseBlock{{DatID: 16384, DatnameHash: in.Intern("app"), XactCommit: 1000, BlksHit: 99999, TempBytes: 8192, SessionTime: 123.4, Sessions: 7}},
			model.PgStatBgwriterBlock{PgStatBgwriterInfo: model.PgStatBgwriterInfo{CheckpointsTimed: 12, CheckpointsReq: 1, CheckpointWriteTime: 4567.8, BuffersCheckpoint: 2345, BuffersAlloc: 999}},
			model.PgStatUserTablesBlock{{RelID: 24576, DatnameHash: in.Intern("app"), SchemanameHash: in.Intern("public"), RelnameHash: in.Intern("users"), SeqScan: 10, IdxScan: 90, NLiveTup: 5000, NDeadTup: 60, HeapBlksHit: 900, CollectedAt: ts}},
			model.PgStatUserIndexesBlock{{IndexRelID: 24580, RelID: 24576, DatnameHash: in.Intern("app"), SchemanameHash: in.Intern("public"), RelnameHash: in.Intern("users"), IndexnameHash: in.Intern("users_pkey"), IdxScan: 90, SizeBytes: 81920, CollectedAt: ts}},
			model.PgLockTreeBlock{{
				Pid: 5001, Depth: 1, RootPid: 5001,
				DatnameHash: in.Intern("app"), UsenameHash: in.Intern("app_rw"), StateHash: in.Intern("idle in transaction"),
				QueryHash: in.Intern("UPDATE users SET name = $1"), LockTypeHash: in.Intern("relation"),
				LockModeHash: in.Intern("RowExclusiveLock"), LockGranted: true, LockTargetHash: in.Intern("public.users"),
			}},
			model.PgLogErrorsBlock{{PatternHash: in.Intern("relation ... does not exist"), Severity: model.SeverityError, Count: 2, SampleHash: in.Intern("relation \"users\" does not exist"), Category: model.CategorySyntax}},
			model.PgLogEventsBlock{PgLogEventsInfo: model.PgLogEventsInfo{CheckpointCount: 1, AutovacuumCount: 2, SlowQueryCount: 3}},
			model.PgLogDetailedEventsBlock{{EventType: model.EventCheckpointComplete, Message: "checkpoint complete: wrote 100 buffers", ElapsedS: 12.5, ExtraNum1: 100, ExtraNum2: 2048}},
			model.PgSettingsBlock{{Name: "shared_buffers", Setting: "16384", Unit: "8kB"}, {Name: "work_mem", Setting: "4096", Unit: "kB"}},
			model.ReplicationStatusBlock{ReplicationStatus: model.ReplicationStatus{IsInRecovery: false, ReplayLagS: -1, ConnectedReplicas: 1, Replicas: []model.ReplicaInfo{{ClientAddr: "10.0.0.6", State: "streaming", SyncState: "async", ReplayLagBytes: 1024}}}},
			model.PgStatProgressVacuumBlock{{Pid: 6001, DatnameHash: in.Intern("app"), RelID: 24576, PhaseHash: in.Intern("scanning heap"), HeapBlksTotal: 1000, HeapBlksScanned: 500}},
		},
	}
}

func TestSnapshotRoundTrip(t *testing.T) {
	in := intern.New()
	original := sampleSnapshot(in, 1700000000)

	buf, err := EncodeSnapshot(nil, original)
	require.NoError(t, err)

	decoded, n, err := DecodeSnapshot(buf)
	require.NoError(t, err)
	assert.Equal(t, len(buf), n)
	assert.Equal(t, original, decoded)
}

func TestSnapshotDecodeConsumesExactly(t *testing.T) {
	in := intern.New()
	s1 := sampleSnapshot(in, 100)
	s2 := sampleSnapshot(in, 110)

	buf, err := EncodeSnapshot(nil, s1)
	require.NoError(t, err)
	buf, err = EncodeSnapshot(buf, s2)
	require.NoError(t, err)

	d1, n1, err := DecodeSnapshot(buf)
	require.NoError(t, err)
	assert.Equal(t, int64(100), d1.Timestamp)

	d2, _, err := DecodeSnapshot(buf[n1:])
	require.NoError(t, err)
	assert.Equal(t, int64(110), d2.Timestamp)
}

func TestSnapshotDecodeTruncated(t *testing.T) {
	in := intern.New()
	buf, err := EncodeSnapshot(nil, sampleSnapshot(in, 100))
	require.NoError(t, err)

	for _, cut := range []int{1, len(buf) / 2, len(buf) - 1} {
		_, _, err := DecodeSnapshot(buf[:cut])
		assert.Error(t, err, "cut at %d", cut)
	}
}

func TestInternerRoundTrip(t *testing.T) {
	in := intern.New()
	h1 := in.Intern("postgres")
	h2 := in.Intern("SELECT * FROM pg_stat_activity")

	buf := EncodeInterner(nil, in)
	decoded, n, err := DecodeInterner(buf)
	require.NoError(t, err)
	assert.Equal(t, len(buf), n)

	s, ok := decoded.Resolve(h1)
	assert.True(t, ok)
	assert.Equal(t, "postgres", s)
	s, ok = decoded.Resolve(h2)
	assert.True(t, ok)
	assert.Equal(t, "SELECT * FROM pg_stat_activity", s)
}

func TestWalEntryRoundTrip(t *testing.T) {
	in := intern.New()
	snapshot := sampleSnapshot(in, 1700000042)
	entry := &WalEntry{Snapshot: snapshot, Interner: in.Filter(snapshot.CollectHashes())}

	buf, err := encodeWalEntry(nil, entry)
	require.NoError(t, err)

	decoded, interner, n, err := decodeWalEntry(buf)
	require.NoError(t, err)
	assert.Equal(t, len(buf), n)
	assert.Equal(t, snapshot, decoded)

	// every hash referenced by the snapshot resolves in the entry interner
	for h := range decoded.CollectHashes() {
		_, ok := interner.Resolve(h)
		assert.True(t, ok, "hash %d must resolve", h)
	}
}
