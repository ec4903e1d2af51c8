// Package procfs parses /proc and related text files into typed records.
// Parsers are pure functions over strings; all file I/O lives in the
// collectors (collector.go) so parsers stay trivially testable.
package procfs

import (
	"fmt"
	"strconv"
	"strings"
)

// ParseError reports a malformed source file or record.
type ParseError struct {
	Message string
}

func (e *ParseError) Error() string {
	return "parse error: " + e.Message
}

func parseErrorf(format string, v ...interface{}) *ParseError {
	return &ParseError{Message: fmt.Sprintf(format, v...)}
}

// ProcStat holds the fields of /proc/[pid]/stat the agent uses.
type ProcStat struct {
	Pid                 uint32
	Comm                string
	State               byte
	Ppid                uint32
	Pgrp                int32
	Session             int32
	TtyNr               int32
	Tpgid               int32
	Flags               uint32
	Minflt              uint64
	Cminflt             uint64
	Majflt              uint64
	Cmajflt             uint64
	Utime               uint64
	Stime               uint64
	Cutime              int64
	Cstime              int64
	Priority            int32
	Nice                int32
	NumThreads          int32
	Starttime           uint64
	Vsize               uint64
	Rss                 int64
	Rsslim              uint64
	Processor           int32
	DelayacctBlkioTicks uint64
}

// ParseProcStat parses /proc/[pid]/stat content.
//
// The comm field may contain spaces and parentheses, so the parser locates
// the last ')' to delimit it and splits the remainder by whitespace. At
// least 42 trailing fields are required.
func ParseProcStat(content string) (ProcStat, error) {
	content = strings.TrimSpace(content)

	open := strings.IndexByte(content, '(')
	if open < 0 {
		return ProcStat{}, parseErrorf("missing '(' in stat")
	}
	closing := strings.LastIndexByte(content, ')')
	if closing < 0 {
		return ProcStat{}, parseErrorf("missing ')' in stat")
	}
	if closing <= open {
		return ProcStat{}, parseErrorf("invalid parentheses in stat")
	}

	pid, err := strconv.ParseUint(strings.TrimSpace(content[:open]), 10, 32)
	if err != nil {
		return ProcStat{}, parseErrorf("invalid pid: %s", err)
	}

	comm := content[open+1 : closing]
	fields := strings.Fields(content[closing+1:])
	if len(fields) < 42 {
		return ProcStat{}, parseErrorf("not enough fields in stat: expected 42+, got %d", len(fields))
	}

	s := ProcStat{Pid: uint32(pid), Comm: comm}

	// Numeric fields tolerate overflow-looking values (rsslim is often
	// close to the u64 maximum), hence 64-bit parsing for every field,
	// unsigned where the kernel field is unsigned.
	u64 := func(idx int, name string) (uint64, error) {
		v, err := strconv.ParseUint(fields[idx], 10, 64)
		if err != nil {
			return 0, parseErrorf("invalid %s: %s", name, err)
		}
		return v, nil
	}
	i64 := func(idx int, name string) (int64, error) {
		v, err := strconv.ParseInt(fields[idx], 10, 64)
		if err != nil {
			return 0, parseErrorf("invalid %s: %s", name, err)
		}
		return v, nil
	}

	if len(fields[0]) > 0 {
		s.State = fields[0][0]
	} else {
		s.State = '?'
	}

	var v uint64
	var iv int64
	if v, err = u64(1, "ppid"); err != nil {
		return ProcStat{}, err
	}
	s.Ppid = uint32(v)
	if iv, err = i64(2, "pgrp"); err != nil {
		return ProcStat{}, err
	}
	s.Pgrp = int32(iv)
	if iv, err = i64(3, "session"); err != nil {
		return ProcStat{}, err
	}
	s.Session = int32(iv)
	if iv, err = i64(4, "tty_nr"); err != nil {
		return ProcStat{}, err
	}
	s.TtyNr = int32(iv)
	if iv, err = i64(5, "tpgid"); err != nil {
		return ProcStat{}, err
	}
	s.Tpgid = int32(iv)
	if v, err = u64(6, "flags"); err != nil {
		return ProcStat{}, err
	}
	s.Flags = uint32(v)
	if s.Minflt, err = u64(7, "minflt"); err != nil {
		return ProcStat{}, err
	}
	if s.Cminflt, err = u64(8, "cminflt"); err != nil {
		return ProcStat{}, err
	}
	if s.Majflt, err = u64(9, "majflt"); err != nil {
		return ProcStat{}, err
	}
	if s.Cmajflt, err = u64(10, "cmajflt"); err != nil {
		return ProcStat{}, err
	}
	if s.Utime, err = u64(11, "utime"); err != nil {
		return ProcStat{}, err
	}
	if s.Stime, err = u64(12, "stime"); err != nil {
		return ProcStat{}, err
	}
	if s.Cutime, err = i64(13, "cutime"); err != nil {
		return ProcStat{}, err
	}
	if s.Cstime, err = i64(14, "cstime"); err != nil {
		return ProcStat{}, err
	}
	if iv, err = i64(15, "priority"); err != nil {
		return ProcStat{}, err
	}
	s.Priority = int32(iv)
	if iv, err = i64(16, "nice"); err != nil {
		return ProcStat{}, err
	}
	s.Nice = int32(iv)
	if iv, err = i64(17, "num_threads"); err != nil {
		return ProcStat{}, err
	}
	s.NumThreads = int32(iv)
	if s.Starttime, err = u64(19, "starttime"); err != nil {
		return ProcStat{}, err
	}
	if s.Vsize, err = u64(20, "vsize"); err != nil {
		return ProcStat{}, err
	}
	if s.Rss, err = i64(21, "rss"); err != nil {
		return ProcStat{}, err
	}
	if s.Rsslim, err = u64(22, "rsslim"); err != nil {
		return ProcStat{}, err
	}

	// Trailing fields appeared in later kernels; default to zero.
	if len(fields) > 36 {
		if n, err := strconv.ParseInt(fields[36], 10, 32); err == nil {
			s.Processor = int32(n)
		}
	}
	if len(fields) > 39 {
		if n, err := strconv.ParseUint(fields[39], 10, 64); err == nil {
			s.DelayacctBlkioTicks = n
		}
	}

	return s, nil
}

// ProcStatus holds the fields of /proc/[pid]/status the agent uses.
// Memory values are kilobytes.
type ProcStatus struct {
	Name                     string
	Pid                      uint32
	Ppid                     uint32
	UID                      uint32
	EUID                     uint32
	GID                      uint32
	EGID                     uint32
	VmPeak                   uint64
	VmSize                   uint64
	VmRSS                    uint64
	VmData                   uint64
	VmStk                    uint64
	VmLib                    uint64
	VmSwap                   uint64
	VmLck                    uint64
	VoluntaryCtxtSwitches    uint64
	NonvoluntaryCtxtSwitches uint64
}

// ParseProcStatus parses /proc/[pid]/status content (key:\tvalue lines).
// Unknown keys are ignored. Memory values carry a trailing " kB"; only the
// first whitespace-delimited token is taken.
func ParseProcStatus(content string) (ProcStatus, error) {
	fields := map[string]string{}
	for _, line := range strings.Split(content, "\n") {
		if key, value, ok := strings.Cut(line, ":"); ok {
			fields[strings.TrimSpace(key)] = strings.TrimSpace(value)
		}
	}

	var st ProcStatus
	st.Name = fields["Name"]
	st.Pid = parseUint32Field(fields["Pid"])
	st.Ppid = parseUint32Field(fields["PPid"])

	// Uid/Gid lines have format: real effective saved fs
	if parts := strings.Fields(fields["Uid"]); len(parts) >= 2 {
		st.UID = parseUint32Field(parts[0])
		st.EUID = parseUint32Field(parts[1])
	}
	if parts := strings.Fields(fields["Gid"]); len(parts) >= 2 {
		st.GID = parseUint32Field(parts[0])
		st.EGID = parseUint32Field(parts[1])
	}

	kb := func(key string) uint64 {
		parts := strings.Fields(fields[key])
		if len(parts) == 0 {
			return 0
		}
		v, _ := strconv.ParseUint(parts[0], 10, 64)
		return v
	}

	st.VmPeak = kb("VmPeak")
	st.VmSize = kb("VmSize")
	st.VmRSS = kb("VmRSS")
	st.VmData = kb("VmData")
	st.VmStk = kb("VmStk")
	st.VmLib = kb("VmLib")
	st.VmSwap = kb("VmSwap")
	st.VmLck = kb("VmLck")

	st.VoluntaryCtxtSwitches, _ = strconv.ParseUint(fields["voluntary_ctxt_switches"], 10, 64)
	st.NonvoluntaryCtxtSwitches, _ = strconv.ParseUint(fields["nonvoluntary_ctxt_switches"], 10, 64)

	return st, nil
}

func parseUint32Field(s string) uint32 {
	v, _ := strconv.ParseUint(s, 10, 32)
	return uint32(v)
}

// ProcIo holds /proc/[pid]/io counters.
type ProcIo struct {
	Rchar                uint64
	Wchar                uint64
	Syscr                uint64
	Syscw                uint64
	ReadBytes            uint64
	WriteBytes           uint64
	CancelledWriteBytes  uint64
}

// ParseProcIo parses /proc/[pid]/io content.
func ParseProcIo(content string) (ProcIo, error) {
	var io ProcIo
	for _, line := range strings.Split(content, "\n") {
		key, value, ok := strings.Cut(line, ":")
		if !ok {
			continue
		}
		v, _ := strconv.ParseUint(strings.TrimSpace(value), 10, 64)
		switch strings.TrimSpace(key) {
		case "rchar":
			io.Rchar = v
		case "wchar":
			io.Wchar = v
		case "syscr":
			io.Syscr = v
		case "syscw":
			io.Syscw = v
		case "read_bytes":
			io.ReadBytes = v
		case "write_bytes":
			io.WriteBytes = v
		case "cancelled_write_bytes":
			io.CancelledWriteBytes = v
		}
	}
	return io, nil
}

// ParsePasswd parses /etc/passwd content and returns a UID → username map.
// Malformed lines and comments are skipped.
func ParsePasswd(content string) map[uint32]string {
	users := map[uint32]string{}
	for _, line := range strings.Split(content, "\n") {
		line = strings.TrimSpace(line)
		if line == "" || strings.HasPrefix(line, "#") {
			continue
		}
		parts := strings.Split(line, ":")
		if len(parts) < 3 {
			continue
		}
		uid, err := strconv.ParseUint(parts[2], 10, 32)
		if err != nil {
			continue
		}
		users[uint32(uid)] = parts[0]
	}
	return users
}

// UserResolver caches the UID → username mapping parsed from /etc/passwd.
type UserResolver struct {
	uidToName map[uint32]string
}

// NewUserResolver creates an empty resolver.
func NewUserResolver() *UserResolver {
	return &UserResolver{uidToName: map[uint32]string{}}
}

// LoadFromContent replaces the mapping with one parsed from passwd content.
func (r *UserResolver) LoadFromContent(content string) {
	r.uidToName = ParsePasswd(content)
}

// Resolve returns the username for uid, or the numeric uid when unknown.
func (r *UserResolver) Resolve(uid uint32) string {
	if name, ok := r.uidToName[uid]; ok {
		return name
	}
	return strconv.FormatUint(uint64(uid), 10)
}
