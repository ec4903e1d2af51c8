package procfs

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/vadv/rpglot/internal/model"
)

func TestParseMeminfo(t *testing.T) {
	input := `MemTotal:       16284344 kB
MemFree:         2028672 kB
MemAvailable:    8915028 kB
Buffers:          742856 kB
Cached:          5345784 kB
SwapCached:            0 kB
SwapTotal:       2097148 kB
SwapFree:        2097148 kB
Dirty:               368 kB
Writeback:             0 kB
Slab:             721ucks kB
SReclaimable:     483604 kB
SUnreclaim:       128232 kB
`

	m, err := ParseMeminfo(input)
	require.NoError(t, err)

	assert.Equal(t, uint64(16284344), m.Total)
	assert.Equal(t, uint64(2028672), m.Free)
	assert.Equal(t, uint64(8915028), m.Available)
	assert.Equal(t, uint64(742856), m.Buffers)
	assert.Equal(t, uint64(5345784), m.Cached)
	assert.Equal(t, uint64(2097148), m.SwapTotal)
	assert.Equal(t, uint64(368), m.Dirty)
	// malformed Slab value is ignored, not errored
	assert.Equal(t, uint64(0), m.Slab)
	assert.Equal(t, uint64(483604), m.SReclaimable)
}

func TestParseLoadavg(t *testing.T) {
	l, err := ParseLoadavg("0.55 0.42 0.38 2/1234 56789\n")
	require.NoError(t, err)

	assert.InDelta(t, 0.55, l.Lavg1, 0.001)
	assert.InDelta(t, 0.42, l.Lavg5, 0.001)
	assert.InDelta(t, 0.38, l.Lavg15, 0.001)
	assert.Equal(t, uint32(2), l.NrRunning)
	assert.Equal(t, uint32(1234), l.NrThreads)
}

func TestParseLoadavgInvalid(t *testing.T) {
	_, err := ParseLoadavg("0.55 0.42\n")
	assert.Error(t, err)
}

func TestParseGlobalStat(t *testing.T) {
	input := `cpu  270166 4553 67236 15101309 28474 0 2344 0 0 0
cpu0 66276 1161 17176 3774453 7198 0 1161 0 0 0
cpu1 68339 1120 16314 3775370 7112 0 501 0 0 0
intr 29031433 9 0 0
ctxt 74773485
btime 1758124455
processes 92575
procs_running 3
procs_blocked 1
softirq 16174405 3 5429409
`

	s, err := ParseGlobalStat(input)
	require.NoError(t, err)

	require.Len(t, s.CPUs, 3)
	assert.Equal(t, int16(-1), s.CPUs[0].CPUID)
	assert.Equal(t, uint64(270166), s.CPUs[0].User)
	assert.Equal(t, uint64(15101309), s.CPUs[0].Idle)
	assert.Equal(t, int16(0), s.CPUs[1].CPUID)
	assert.Equal(t, int16(1), s.CPUs[2].CPUID)

	assert.Equal(t, uint64(74773485), s.Stat.Ctxt)
	assert.Equal(t, uint64(1758124455), s.Stat.Btime)
	assert.Equal(t, uint64(92575), s.Stat.Processes)
	assert.Equal(t, uint32(3), s.Stat.ProcsRunning)
	assert.Equal(t, uint32(1), s.Stat.ProcsBlocked)
}

func TestParseGlobalStatEmpty(t *testing.T) {
	_, err := ParseGlobalStat("intr 1 2 3\n")
	assert.Error(t, err)
}

func TestParseVmstat(t *testing.T) {
	input := `nr_free_pages 507168
pgpgin 1234567
pgpgout 7654321
pswpin 10
pswpout 20
pgfault 123456789
pgmajfault 4242
pgsteal_kswapd 1111
pgsteal_direct 22
pgscan_kswapd 3333
pgscan_direct 44
oom_kill 1
`

	v, err := ParseVmstat(input)
	require.NoError(t, err)

	assert.Equal(t, uint64(123456789), v.Pgfault)
	assert.Equal(t, uint64(4242), v.Pgmajfault)
	assert.Equal(t, uint64(1234567), v.Pgpgin)
	assert.Equal(t, uint64(7654321), v.Pgpgout)
	assert.Equal(t, uint64(10), v.Pswpin)
	assert.Equal(t, uint64(20), v.Pswpout)
	assert.Equal(t, uint64(1111), v.PgstealKswapd)
	assert.Equal(t, uint64(1), v.OomKill)
}

func TestParseDiskstats(t *testing.T) {
	input := `   8       0 sda 166502 12569 10349632 37372 90198 88057 9302712 63767 0 67998 103347 0 0 0 0
   8       1 sda1 165 0 10529 31 2 0 2 0 0 57 31 0 0 0 0
 259       0 nvme0n1 7890 12 567890 890 4567 890 234567 1234 2 4567 2345 0 0 0 0
bad line
`

	entries, err := ParseDiskstats(input)
	require.NoError(t, err)
	require.Len(t, entries, 3)

	sda := entries[0]
	assert.Equal(t, "sda", sda.Device)
	assert.Equal(t, uint32(8), sda.Major)
	assert.Equal(t, uint32(0), sda.Minor)
	assert.Equal(t, uint64(166502), sda.Stat.Rio)
	assert.Equal(t, uint64(10349632), sda.Stat.Rsz)
	assert.Equal(t, uint64(90198), sda.Stat.Wio)
	assert.Equal(t, uint64(63767), sda.Stat.WriteTime)
	assert.Equal(t, uint64(67998), sda.Stat.IoMs)

	assert.Equal(t, "nvme0n1", entries[2].Device)
}

func TestParseNetdev(t *testing.T) {
	input := `Inter-|   Receive                                                |  Transmit
 face |bytes    packets errs drop fifo frame compressed multicast|bytes    packets errs drop fifo colls carrier compressed
    lo: 4724621   22707    0    0    0     0          0         0  4724621   22707    0    0    0     0       0          0
  eth0: 61247231   90002    1    2    0     0          0         0 12345678   56789    3    4    0     0       0          0
`

	entries, err := ParseNetdev(input)
	require.NoError(t, err)
	require.Len(t, entries, 2)

	assert.Equal(t, "lo", entries[0].Name)
	eth := entries[1]
	assert.Equal(t, "eth0", eth.Name)
	assert.Equal(t, uint64(61247231), eth.Stat.RxBytes)
	assert.Equal(t, uint64(90002), eth.Stat.RxPackets)
	assert.Equal(t, uint64(1), eth.Stat.RxErrs)
	assert.Equal(t, uint64(2), eth.Stat.RxDrop)
	assert.Equal(t, uint64(12345678), eth.Stat.TxBytes)
	assert.Equal(t, uint64(3), eth.Stat.TxErrs)
}

func TestParseNetSnmpAndNetstat(t *testing.T) {
	snmp := `Ip: Forwarding DefaultTTL
Ip: 1 64
Tcp: RtoAlgorithm RtoMin RtoMax MaxConn ActiveOpens PassiveOpens AttemptFails EstabResets CurrEstab InSegs OutSegs RetransSegs InErrs OutRsts InCsumErrors
Tcp: 1 200 120000 -1 337 33 2 5 17 55942 48029 11 1 1337 0
Udp: InDatagrams NoPorts InErrors OutDatagrams RcvbufErrors SndbufErrors
Udp: 8514 12 3 8230 0 0
`

	info, err := ParseNetSnmp(snmp)
	require.NoError(t, err)

	assert.Equal(t, uint64(337), info.TcpActiveOpens)
	assert.Equal(t, uint64(33), info.TcpPassiveOpens)
	assert.Equal(t, uint64(17), info.TcpCurrEstab)
	assert.Equal(t, uint64(11), info.TcpRetransSegs)
	assert.Equal(t, uint64(1337), info.TcpOutRsts)
	assert.Equal(t, uint64(8514), info.UdpInDatagrams)
	assert.Equal(t, uint64(12), info.UdpNoPorts)

	netstat := `TcpExt: SyncookiesSent ListenOverflows ListenDrops TCPTimeouts TCPFastRetrans TCPSlowStartRetrans TCPOFOQueue TCPSynRetrans
TcpExt: 0 7 8 42 10 11 12 13
`
	MergeNetstat(&info, netstat)
	assert.Equal(t, uint64(7), info.ListenOverflows)
	assert.Equal(t, uint64(8), info.ListenDrops)
	assert.Equal(t, uint64(42), info.TcpTimeouts)
	assert.Equal(t, uint64(13), info.TcpSynRetrans)
}

func TestParsePsi(t *testing.T) {
	input := `some avg10=0.12 avg60=1.25 avg300=0.66 total=123456
full avg10=0.00 avg60=0.13 avg300=0.06 total=7890
`

	p, err := ParsePsi(input, model.PsiMemory)
	require.NoError(t, err)

	assert.Equal(t, model.PsiMemory, p.Resource)
	assert.InDelta(t, 0.12, p.SomeAvg10, 0.001)
	assert.InDelta(t, 1.25, p.SomeAvg60, 0.001)
	assert.Equal(t, uint64(123456), p.SomeTotal)
	assert.InDelta(t, 0.13, p.FullAvg60, 0.001)
	assert.Equal(t, uint64(7890), p.FullTotal)
}

func TestParsePsiCPUWithoutFullLine(t *testing.T) {
	p, err := ParsePsi("some avg10=3.50 avg60=2.10 avg300=1.00 total=999\n", model.PsiCPU)
	require.NoError(t, err)

	assert.InDelta(t, 3.5, p.SomeAvg10, 0.001)
	assert.Equal(t, uint64(999), p.SomeTotal)
	// full fields default to zero without error
	assert.Zero(t, p.FullAvg10)
	assert.Zero(t, p.FullTotal)
}

func TestParseMountinfoDeviceIDs(t *testing.T) {
	input := `22 27 0:21 / /sys rw,nosuid shared:7 - sysfs sysfs rw
27 0 253:0 / / rw,relatime shared:1 - ext4 /dev/mapper/root rw
33 27 8:1 / /boot rw,relatime shared:13 - ext4 /dev/sda1 rw
`

	devices := ParseMountinfoDeviceIDs(input)
	assert.Len(t, devices, 2)
	assert.Contains(t, devices, DeviceID{Major: 253, Minor: 0})
	assert.Contains(t, devices, DeviceID{Major: 8, Minor: 1})
	// pseudo filesystems (major 0) excluded
	assert.NotContains(t, devices, DeviceID{Major: 0, Minor: 21})
}
