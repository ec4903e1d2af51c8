package procfs

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestParseProcStat(t *testing.T) {
	input := "5000 (Web Content) S 4999 5000 4999 0 -1 4194304 100000 0 500 0 5000 1000 0 0 20 0 20 0 500000 2000000000 50000 18446744073709551615 0 0 0 0 0 0 0 0 0 0 0 0 17 3 0 0 0 0 0"

	s, err := ParseProcStat(input)
	require.NoError(t, err)

	assert.Equal(t, uint32(5000), s.Pid)
	assert.Equal(t, "Web Content", s.Comm)
	assert.Equal(t, byte('S'), s.State)
	assert.Equal(t, uint32(4999), s.Ppid)
	assert.Equal(t, uint64(5000), s.Utime)
	assert.Equal(t, uint64(1000), s.Stime)
	assert.Equal(t, uint64(500000), s.Starttime)
	assert.Equal(t, uint64(2000000000), s.Vsize)
	assert.Equal(t, int64(50000), s.Rss)
	// rsslim overflows int64 — must parse as unsigned
	assert.Equal(t, uint64(18446744073709551615), s.Rsslim)
}

func TestParseProcStatParenthesesInComm(t *testing.T) {
	input := "42 (weird) name (v2)) R 1 42 42 0 -1 0 0 0 0 0 7 3 0 0 20 0 1 0 100 1000 10 0 0 0 0 0 0 0 0 0 0 0 0 0 0 0 0 0 0 0 0 0"

	s, err := ParseProcStat(input)
	require.NoError(t, err)
	assert.Equal(t, "weird) name (v2)", s.Comm)
	assert.Equal(t, byte('R'), s.State)
	assert.Equal(t, uint64(7), s.Utime)
}

func TestParseProcStatTooFewFields(t *testing.T) {
	_, err := ParseProcStat("1 (init) S 0 1 1 0 -1")
	require.Error(t, err)
	assert.Contains(t, err.Error(), "not enough fields")
}

func TestParseProcStatMissingParens(t *testing.T) {
	_, err := ParseProcStat("1 init S 0 1")
	assert.Error(t, err)
}

func TestParseProcStatus(t *testing.T) {
	input := `Name:	postgres
Pid:	1234
PPid:	1
Uid:	26	26	26	26
Gid:	26	26	26	26
VmPeak:	  398244 kB
VmSize:	  396128 kB
VmRSS:	   18372 kB
VmData:	    3744 kB
VmSwap:	       0 kB
voluntary_ctxt_switches:	187
nonvoluntary_ctxt_switches:	2
`

	s, err := ParseProcStatus(input)
	require.NoError(t, err)

	assert.Equal(t, "postgres", s.Name)
	assert.Equal(t, uint32(1234), s.Pid)
	assert.Equal(t, uint32(1), s.Ppid)
	assert.Equal(t, uint32(26), s.UID)
	assert.Equal(t, uint32(26), s.EUID)
	assert.Equal(t, uint64(396128), s.VmSize)
	assert.Equal(t, uint64(18372), s.VmRSS)
	assert.Equal(t, uint64(187), s.VoluntaryCtxtSwitches)
	assert.Equal(t, uint64(2), s.NonvoluntaryCtxtSwitches)
}

func TestParseProcIo(t *testing.T) {
	input := `rchar: 323934931
wchar: 323929600
syscr: 632687
syscw: 632675
read_bytes: 12345
write_bytes: 323932160
cancelled_write_bytes: 876
`

	io, err := ParseProcIo(input)
	require.NoError(t, err)
	assert.Equal(t, uint64(323934931), io.Rchar)
	assert.Equal(t, uint64(12345), io.ReadBytes)
	assert.Equal(t, uint64(323932160), io.WriteBytes)
	assert.Equal(t, uint64(876), io.CancelledWriteBytes)
}

func TestParsePasswd(t *testing.T) {
	input := `root:x:0:0:root:/root:/bin/bash
# comment line
daemon:x:1:1:daemon:/usr/sbin:/usr/sbin/nologin
postgres:x:26:26:PostgreSQL Server:/var/lib/pgsql:/bin/bash
broken line without colons
`

	users := ParsePasswd(input)
	assert.Equal(t, "root", users[0])
	assert.Equal(t, "postgres", users[26])
	assert.Len(t, users, 3)
}

func TestUserResolver(t *testing.T) {
	r := NewUserResolver()
	r.LoadFromContent("postgres:x:26:26::/var/lib/pgsql:/bin/bash\n")

	assert.Equal(t, "postgres", r.Resolve(26))
	assert.Equal(t, "999", r.Resolve(999))
}
