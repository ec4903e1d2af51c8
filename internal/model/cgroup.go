package model

// Limit sentinel stored when a cgroup interface file reports "max".
const CgroupNoLimit = ^uint64(0)

// CgroupCPUInfo holds cpu.stat counters and the cpu.max limit.
type CgroupCPUInfo struct {
	UsageUsec     uint64
	UserUsec      uint64
	SystemUsec    uint64
	NrPeriods     uint64
	NrThrottled   uint64
	ThrottledUsec uint64
	// Quota is microseconds per period; -1 when unlimited ("max").
	Quota  int64
	Period uint64
}

// CgroupMemoryInfo holds memory.current/max and swap counters.
// Max is CgroupNoLimit when the controller reports "max".
type CgroupMemoryInfo struct {
	Current     uint64
	Max         uint64
	SwapCurrent uint64
	SwapMax     uint64
}

// CgroupPidsInfo holds pids.current/max.
type CgroupPidsInfo struct {
	Current uint64
	Max     uint64
}

// CgroupInfo is the cgroup v2 block collected inside containers.
// Nil sub-structs mean the controller files were absent.
type CgroupInfo struct {
	CPU    *CgroupCPUInfo
	Memory *CgroupMemoryInfo
	Pids   *CgroupPidsInfo
}
