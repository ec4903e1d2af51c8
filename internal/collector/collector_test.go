package collector

import (
	"context"
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/vadv/rpglot/internal/model"
)

// fakeProc builds a minimal procfs tree with one process.
func fakeProc(t *testing.T) string {
	t.Helper()
	dir := t.TempDir()

	write := func(name, content string) {
		path := filepath.Join(dir, name)
		require.NoError(t, os.MkdirAll(filepath.Dir(path), 0o755))
		require.NoError(t, os.WriteFile(path, []byte(content), 0o644))
	}

	write("stat", `cpu  270166 4553 67236 15101309 28474 0 2344 0 0 0
cpu0 66276 1161 17176 3774453 7198 0 1161 0 0 0
ctxt 74773485
btime 1758124455
processes 92575
procs_running 3
procs_blocked 1
`)
	write("meminfo", "MemTotal:       16284344 kB\nMemFree:         2028672 kB\nMemAvailable:    8915028 kB\n")
	write("loadavg", "0.55 0.42 0.38 2/1234 56789\n")
	write("vmstat", "pgfault 123456\npgmajfault 42\n")
	write("diskstats", "   8       0 sda 166502 12569 10349632 37372 90198 88057 9302712 63767 0 67998 103347 0 0 0 0\n")
	write("net/dev", `Inter-|   Receive                                                |  Transmit
 face |bytes    packets errs drop fifo frame compressed multicast|bytes    packets errs drop fifo colls carrier compressed
    lo: 4724621   22707    0    0    0     0          0         0  4724621   22707    0    0    0     0       0          0
`)
	write("net/snmp", `Tcp: RtoAlgorithm RtoMin RtoMax MaxConn ActiveOpens PassiveOpens AttemptFails EstabResets CurrEstab InSegs OutSegs RetransSegs InErrs OutRsts
Tcp: 1 200 120000 -1 337 33 2 5 17 55942 48029 11 1 1337
Udp: InDatagrams NoPorts InErrors OutDatagrams
Udp: 8514 12 3 8230
`)
	write("pressure/cpu", "some avg10=0.12 avg60=0.25 avg300=0.10 total=123456\n")
	write("pressure/memory", "some avg10=0.00 avg60=0.00 avg300=0.00 total=0\nfull avg10=0.00 avg60=0.00 avg300=0.00 total=0\n")
	write("pressure/io", "some avg10=1.00 avg60=0.50 avg300=0.20 total=99999\nfull avg10=0.10 avg60=0.05 avg300=0.02 total=1234\n")

	write("123/stat", "123 (postgres) S 1 123 123 0 -1 4194304 1000 0 5 0 700 300 0 0 20 0 1 0 100000 396288000 4593 18446744073709551615 0 0 0 0 0 0 0 0 0 0 0 0 17 1 0 0 0 0 0")
	write("123/status", "Name:\tpostgres\nPid:\t123\nPPid:\t1\nUid:\t26\t26\t26\t26\nGid:\t26\t26\t26\t26\nVmSize:\t  386996 kB\nVmRSS:\t   18372 kB\nVmSwap:\t       0 kB\nvoluntary_ctxt_switches:\t10\nnonvoluntary_ctxt_switches:\t2\n")
	write("123/io", "rchar: 100\nwchar: 200\nread_bytes: 300\nwrite_bytes: 400\n")
	write("123/cmdline", "postgres: checkpointer\x00")

	return dir
}

func TestCollectSnapshotHostOnly(t *testing.T) {
	c := New(fakeProc(t))

	snapshot := c.CollectSnapshot(context.Background())
	require.NotNil(t, snapshot)
	assert.Greater(t, snapshot.Timestamp, int64(0))

	// at most one block per tag
	seen := map[model.BlockTag]bool{}
	for _, b := range snapshot.Blocks {
		assert.False(t, seen[b.Tag()], "duplicate block tag %d", b.Tag())
		seen[b.Tag()] = true
	}

	procs, ok := snapshot.Block(model.TagProcesses).(model.ProcessesBlock)
	require.True(t, ok)
	require.Len(t, procs, 1)
	assert.Equal(t, uint32(123), procs[0].Pid)
	assert.Equal(t, uint32(26), procs[0].UID)
	assert.Equal(t, uint64(700), procs[0].Utime)
	assert.Equal(t, uint64(18372), procs[0].VmRSS)

	// every hash the snapshot references resolves in the live interner
	for h := range snapshot.CollectHashes() {
		_, ok := c.Interner().Resolve(h)
		assert.True(t, ok, "hash %d must resolve", h)
	}

	cpus, ok := snapshot.Block(model.TagSystemCPU).(model.SystemCPUBlock)
	require.True(t, ok)
	assert.Equal(t, int16(-1), cpus[0].CPUID)

	stat, ok := snapshot.Block(model.TagSystemStat).(model.SystemStatBlock)
	require.True(t, ok)
	assert.Equal(t, uint64(1758124455), stat.Btime)

	psi, ok := snapshot.Block(model.TagSystemPsi).(model.SystemPsiBlock)
	require.True(t, ok)
	assert.Len(t, psi, 3)

	name, okResolve := c.Interner().Resolve(procs[0].NameHash)
	assert.True(t, okResolve)
	assert.Equal(t, "postgres", name)

	timing := c.LastTiming()
	assert.Greater(t, timing.Total, time.Duration(0))
}

func TestCollectSnapshotMissingSourcesAreAbsentBlocks(t *testing.T) {
	// empty proc tree: no sources, no blocks, no error
	c := New(t.TempDir())

	snapshot := c.CollectSnapshot(context.Background())
	require.NotNil(t, snapshot)
	assert.Nil(t, snapshot.Block(model.TagSystemMem))
	assert.Nil(t, snapshot.Block(model.TagSystemCPU))
	assert.Nil(t, snapshot.Block(model.TagSystemPsi))
}

func TestInternerPersistsAcrossTicks(t *testing.T) {
	c := New(fakeProc(t))

	s1 := c.CollectSnapshot(context.Background())
	s2 := c.CollectSnapshot(context.Background())

	p1, ok := s1.Block(model.TagProcesses).(model.ProcessesBlock)
	require.True(t, ok)
	p2, ok := s2.Block(model.TagProcesses).(model.ProcessesBlock)
	require.True(t, ok)

	// same process name, same hash across ticks within one WAL segment
	assert.Equal(t, p1[0].NameHash, p2[0].NameHash)
}
