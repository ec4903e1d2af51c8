package model

// ProcessInfo is one row of the processes block, assembled from
// /proc/[pid]/{stat,status,io}. Counter fields are cumulative.
type ProcessInfo struct {
	Pid   uint32
	Ppid  uint32
	State byte
	UID   uint32
	EUID  uint32

	NameHash    uint64
	CmdlineHash uint64
	UserHash    uint64

	// CPU time in jiffies from /proc/[pid]/stat.
	Utime uint64
	Stime uint64
	// StartTime is epoch seconds, derived from starttime jiffies + boot time.
	StartTime  int64
	Priority   int32
	Nice       int32
	NumThreads int32
	Processor  int32

	// Memory, kB from /proc/[pid]/status (VmSize/VmRSS/VmSwap/VmData).
	VmSize uint64
	VmRSS  uint64
	VmSwap uint64
	VmData uint64

	Minflt uint64
	Majflt uint64

	// I/O counters from /proc/[pid]/io. Zero when unreadable (permissions).
	Rchar      uint64
	Wchar      uint64
	ReadBytes  uint64
	WriteBytes uint64

	VoluntaryCtxtSwitches    uint64
	NonvoluntaryCtxtSwitches uint64
}
