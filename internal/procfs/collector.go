package procfs

import (
	"fmt"
	"os"
	"os/exec"
	"path/filepath"
	"strconv"
	"strings"

	"github.com/vadv/rpglot/internal/intern"
	"github.com/vadv/rpglot/internal/log"
	"github.com/vadv/rpglot/internal/model"
)

// SystemCollector reads system-wide /proc files and runs the parsers.
type SystemCollector struct {
	procPath string
}

// NewSystemCollector creates a collector rooted at procPath (usually "/proc").
func NewSystemCollector(procPath string) *SystemCollector {
	return &SystemCollector{procPath: procPath}
}

func (c *SystemCollector) read(name string) (string, error) {
	content, err := os.ReadFile(filepath.Clean(filepath.Join(c.procPath, name)))
	if err != nil {
		return "", err
	}
	return string(content), nil
}

// CollectStat reads and parses /proc/stat.
func (c *SystemCollector) CollectStat() (GlobalStat, error) {
	content, err := c.read("stat")
	if err != nil {
		return GlobalStat{}, err
	}
	return ParseGlobalStat(content)
}

// CollectMeminfo reads and parses /proc/meminfo.
func (c *SystemCollector) CollectMeminfo() (model.SystemMemInfo, error) {
	content, err := c.read("meminfo")
	if err != nil {
		return model.SystemMemInfo{}, err
	}
	return ParseMeminfo(content)
}

// CollectLoadavg reads and parses /proc/loadavg.
func (c *SystemCollector) CollectLoadavg() (model.SystemLoadInfo, error) {
	content, err := c.read("loadavg")
	if err != nil {
		return model.SystemLoadInfo{}, err
	}
	return ParseLoadavg(content)
}

// CollectVmstat reads and parses /proc/vmstat.
func (c *SystemCollector) CollectVmstat() (model.SystemVmstatInfo, error) {
	content, err := c.read("vmstat")
	if err != nil {
		return model.SystemVmstatInfo{}, err
	}
	return ParseVmstat(content)
}

// CollectDiskstats reads /proc/diskstats and interns device names. When
// filter is non-nil only devices present in the set are reported (container
// mode, devices restricted via mountinfo).
func (c *SystemCollector) CollectDiskstats(interner *intern.Interner, filter map[DeviceID]struct{}) ([]model.SystemDiskInfo, error) {
	content, err := c.read("diskstats")
	if err != nil {
		return nil, err
	}
	entries, err := ParseDiskstats(content)
	if err != nil {
		return nil, err
	}

	disks := make([]model.SystemDiskInfo, 0, len(entries))
	for _, e := range entries {
		if filter != nil {
			if _, ok := filter[DeviceID{Major: e.Major, Minor: e.Minor}]; !ok {
				continue
			}
		}
		stat := e.Stat
		stat.DeviceHash = interner.Intern(e.Device)
		disks = append(disks, stat)
	}
	return disks, nil
}

// CollectNetdev reads /proc/net/dev and interns interface names.
func (c *SystemCollector) CollectNetdev(interner *intern.Interner) ([]model.SystemNetInfo, error) {
	content, err := c.read("net/dev")
	if err != nil {
		return nil, err
	}
	entries, err := ParseNetdev(content)
	if err != nil {
		return nil, err
	}

	nets := make([]model.SystemNetInfo, 0, len(entries))
	for _, e := range entries {
		stat := e.Stat
		stat.NameHash = interner.Intern(e.Name)
		nets = append(nets, stat)
	}
	return nets, nil
}

// CollectPsi reads /proc/pressure/{cpu,memory,io}. Hosts without PSI
// support (pre-4.20 kernels) yield an empty slice, not an error.
func (c *SystemCollector) CollectPsi() ([]model.SystemPsiInfo, error) {
	sources := []struct {
		name     string
		resource uint8
	}{
		{"pressure/cpu", model.PsiCPU},
		{"pressure/memory", model.PsiMemory},
		{"pressure/io", model.PsiIO},
	}

	var out []model.SystemPsiInfo
	for _, src := range sources {
		content, err := c.read(src.name)
		if err != nil {
			continue
		}
		info, err := ParsePsi(content, src.resource)
		if err != nil {
			log.Debugf("parse %s failed: %s; skip", src.name, err)
			continue
		}
		out = append(out, info)
	}
	return out, nil
}

// CollectNetSnmp reads /proc/net/snmp and merges TcpExt counters from
// /proc/net/netstat when available.
func (c *SystemCollector) CollectNetSnmp() (model.SystemNetSnmpInfo, error) {
	content, err := c.read("net/snmp")
	if err != nil {
		return model.SystemNetSnmpInfo{}, err
	}
	info, err := ParseNetSnmp(content)
	if err != nil {
		return model.SystemNetSnmpInfo{}, err
	}
	if netstat, err := c.read("net/netstat"); err == nil {
		MergeNetstat(&info, netstat)
	}
	return info, nil
}

// CollectMountinfoDeviceIDs reads /proc/self/mountinfo and returns mounted
// real block device IDs.
func (c *SystemCollector) CollectMountinfoDeviceIDs() (map[DeviceID]struct{}, error) {
	content, err := c.read("self/mountinfo")
	if err != nil {
		return nil, err
	}
	return ParseMountinfoDeviceIDs(content), nil
}

// ProcessCollector walks /proc/[pid] directories and assembles process rows.
type ProcessCollector struct {
	procPath string
	systicks uint64
	bootTime uint64
	resolver *UserResolver
}

// NewProcessCollector creates a process collector rooted at procPath. The
// user resolver is loaded from /etc/passwd when readable.
func NewProcessCollector(procPath string) *ProcessCollector {
	resolver := NewUserResolver()
	if content, err := os.ReadFile("/etc/passwd"); err == nil {
		resolver.LoadFromContent(string(content))
	}

	return &ProcessCollector{
		procPath: procPath,
		systicks: clockTicks(),
		resolver: resolver,
	}
}

// clockTicks determines the kernel clock frequency the same way as sysconf:
// via getconf. Falls back to the de-facto universal 100 Hz.
func clockTicks() uint64 {
	cmdOutput, err := exec.Command("getconf", "CLK_TCK").Output()
	if err != nil {
		return 100
	}
	v, err := strconv.ParseUint(strings.TrimSpace(string(cmdOutput)), 10, 64)
	if err != nil || v == 0 {
		return 100
	}
	return v
}

// SetBootTime stores the btime from /proc/stat; per-process start times are
// offsets from it.
func (c *ProcessCollector) SetBootTime(btime uint64) {
	c.bootTime = btime
}

// Resolver returns the UID → username resolver.
func (c *ProcessCollector) Resolver() *UserResolver {
	return c.resolver
}

// CollectAll reads every numeric /proc entry and returns process rows.
// Processes that vanish mid-walk are skipped silently. A process whose stat
// file cannot be parsed is skipped with a debug record; identifying fields
// must parse or there is no row.
func (c *ProcessCollector) CollectAll(interner *intern.Interner) ([]model.ProcessInfo, error) {
	entries, err := os.ReadDir(c.procPath)
	if err != nil {
		return nil, fmt.Errorf("read %s failed: %w", c.procPath, err)
	}

	processes := make([]model.ProcessInfo, 0, len(entries))
	for _, entry := range entries {
		if !entry.IsDir() {
			continue
		}
		pid, err := strconv.ParseUint(entry.Name(), 10, 32)
		if err != nil {
			continue
		}

		proc, err := c.collectOne(uint32(pid), interner)
		if err != nil {
			// The process may have exited between readdir and the reads.
			log.Debugf("collect pid %d failed: %s; skip", pid, err)
			continue
		}
		processes = append(processes, proc)
	}

	return processes, nil
}

func (c *ProcessCollector) collectOne(pid uint32, interner *intern.Interner) (model.ProcessInfo, error) {
	base := filepath.Join(c.procPath, strconv.FormatUint(uint64(pid), 10))

	statContent, err := os.ReadFile(filepath.Clean(filepath.Join(base, "stat")))
	if err != nil {
		return model.ProcessInfo{}, err
	}
	stat, err := ParseProcStat(string(statContent))
	if err != nil {
		return model.ProcessInfo{}, err
	}

	proc := model.ProcessInfo{
		Pid:        stat.Pid,
		Ppid:       stat.Ppid,
		State:      stat.State,
		NameHash:   interner.Intern(stat.Comm),
		Utime:      stat.Utime,
		Stime:      stat.Stime,
		Priority:   stat.Priority,
		Nice:       stat.Nice,
		NumThreads: stat.NumThreads,
		Processor:  stat.Processor,
		Minflt:     stat.Minflt,
		Majflt:     stat.Majflt,
	}
	if c.bootTime > 0 && c.systicks > 0 {
		proc.StartTime = int64(c.bootTime + stat.Starttime/c.systicks)
	}

	// status and io are optional: permissions or procfs quirks must not
	// drop the whole row.
	if content, err := os.ReadFile(filepath.Clean(filepath.Join(base, "status"))); err == nil {
		if status, err := ParseProcStatus(string(content)); err == nil {
			proc.UID = status.UID
			proc.EUID = status.EUID
			proc.VmSize = status.VmSize
			proc.VmRSS = status.VmRSS
			proc.VmSwap = status.VmSwap
			proc.VmData = status.VmData
			proc.VoluntaryCtxtSwitches = status.VoluntaryCtxtSwitches
			proc.NonvoluntaryCtxtSwitches = status.NonvoluntaryCtxtSwitches
		}
	}
	proc.UserHash = interner.Intern(c.resolver.Resolve(proc.UID))

	if content, err := os.ReadFile(filepath.Clean(filepath.Join(base, "io"))); err == nil {
		if io, err := ParseProcIo(string(content)); err == nil {
			proc.Rchar = io.Rchar
			proc.Wchar = io.Wchar
			proc.ReadBytes = io.ReadBytes
			proc.WriteBytes = io.WriteBytes
		}
	}

	cmdline := ""
	if content, err := os.ReadFile(filepath.Clean(filepath.Join(base, "cmdline"))); err == nil {
		cmdline = strings.TrimRight(strings.ReplaceAll(string(content), "\x00", " "), " ")
	}
	if cmdline == "" {
		// kernel threads have empty cmdline, fall back to comm in brackets
		cmdline = "[" + stat.Comm + "]"
	}
	proc.CmdlineHash = interner.Intern(cmdline)

	return proc, nil
}
