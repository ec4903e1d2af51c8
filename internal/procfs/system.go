package procfs

import (
	"strconv"
	"strings"

	"github.com/vadv/rpglot/internal/model"
)

// ParseMeminfo parses /proc/meminfo content. Values stay in kilobytes;
// unknown keys are ignored.
func ParseMeminfo(content string) (model.SystemMemInfo, error) {
	var info model.SystemMemInfo

	for _, line := range strings.Split(content, "\n") {
		key, value, ok := strings.Cut(line, ":")
		if !ok {
			continue
		}
		parts := strings.Fields(value)
		if len(parts) == 0 {
			continue
		}
		v, err := strconv.ParseUint(parts[0], 10, 64)
		if err != nil {
			continue
		}
		switch key {
		case "MemTotal":
			info.Total = v
		case "MemFree":
			info.Free = v
		case "MemAvailable":
			info.Available = v
		case "Buffers":
			info.Buffers = v
		case "Cached":
			info.Cached = v
		case "Slab":
			info.Slab = v
		case "SReclaimable":
			info.SReclaimable = v
		case "SUnreclaim":
			info.SUnreclaim = v
		case "SwapTotal":
			info.SwapTotal = v
		case "SwapFree":
			info.SwapFree = v
		case "Dirty":
			info.Dirty = v
		case "Writeback":
			info.Writeback = v
		}
	}

	return info, nil
}

// ParseLoadavg parses /proc/loadavg content.
func ParseLoadavg(content string) (model.SystemLoadInfo, error) {
	parts := strings.Fields(content)
	if len(parts) < 5 {
		return model.SystemLoadInfo{}, parseErrorf("invalid loadavg format: %q", strings.TrimSpace(content))
	}

	var info model.SystemLoadInfo
	lavg1, err := strconv.ParseFloat(parts[0], 32)
	if err != nil {
		return model.SystemLoadInfo{}, parseErrorf("invalid load1: %s", err)
	}
	lavg5, err := strconv.ParseFloat(parts[1], 32)
	if err != nil {
		return model.SystemLoadInfo{}, parseErrorf("invalid load5: %s", err)
	}
	lavg15, err := strconv.ParseFloat(parts[2], 32)
	if err != nil {
		return model.SystemLoadInfo{}, parseErrorf("invalid load15: %s", err)
	}
	info.Lavg1 = float32(lavg1)
	info.Lavg5 = float32(lavg5)
	info.Lavg15 = float32(lavg15)

	if running, total, ok := strings.Cut(parts[3], "/"); ok {
		r, _ := strconv.ParseUint(running, 10, 32)
		t, _ := strconv.ParseUint(total, 10, 32)
		info.NrRunning = uint32(r)
		info.NrThreads = uint32(t)
	}

	return info, nil
}

// GlobalStat is the full parse result of /proc/stat: the aggregate plus
// per-CPU time counters and the global scheduler counters.
type GlobalStat struct {
	CPUs []model.SystemCPUInfo
	Stat model.SystemStatInfo
}

// ParseGlobalStat parses /proc/stat content. The aggregate "cpu" line gets
// CPUID -1, per-core lines their core number.
func ParseGlobalStat(content string) (GlobalStat, error) {
	var stat GlobalStat

	for _, line := range strings.Split(content, "\n") {
		parts := strings.Fields(line)
		if len(parts) < 2 {
			continue
		}

		switch {
		case strings.HasPrefix(parts[0], "cpu"):
			cpuID := int16(-1)
			if parts[0] != "cpu" {
				n, err := strconv.ParseInt(strings.TrimPrefix(parts[0], "cpu"), 10, 16)
				if err != nil {
					continue
				}
				cpuID = int16(n)
			}
			val := func(idx int) uint64 {
				if idx >= len(parts) {
					return 0
				}
				v, _ := strconv.ParseUint(parts[idx], 10, 64)
				return v
			}
			stat.CPUs = append(stat.CPUs, model.SystemCPUInfo{
				CPUID:     cpuID,
				User:      val(1),
				Nice:      val(2),
				System:    val(3),
				Idle:      val(4),
				Iowait:    val(5),
				Irq:       val(6),
				Softirq:   val(7),
				Steal:     val(8),
				Guest:     val(9),
				GuestNice: val(10),
			})
		case parts[0] == "ctxt":
			stat.Stat.Ctxt, _ = strconv.ParseUint(parts[1], 10, 64)
		case parts[0] == "btime":
			stat.Stat.Btime, _ = strconv.ParseUint(parts[1], 10, 64)
		case parts[0] == "processes":
			stat.Stat.Processes, _ = strconv.ParseUint(parts[1], 10, 64)
		case parts[0] == "procs_running":
			v, _ := strconv.ParseUint(parts[1], 10, 32)
			stat.Stat.ProcsRunning = uint32(v)
		case parts[0] == "procs_blocked":
			v, _ := strconv.ParseUint(parts[1], 10, 32)
			stat.Stat.ProcsBlocked = uint32(v)
		}
	}

	if len(stat.CPUs) == 0 {
		return GlobalStat{}, parseErrorf("total cpu stats not found")
	}

	return stat, nil
}

// ParseVmstat parses /proc/vmstat content. Unknown keys are ignored.
func ParseVmstat(content string) (model.SystemVmstatInfo, error) {
	var info model.SystemVmstatInfo

	for _, line := range strings.Split(content, "\n") {
		parts := strings.Fields(line)
		if len(parts) < 2 {
			continue
		}
		v, err := strconv.ParseUint(parts[1], 10, 64)
		if err != nil {
			continue
		}
		switch parts[0] {
		case "pgfault":
			info.Pgfault = v
		case "pgmajfault":
			info.Pgmajfault = v
		case "pgpgin":
			info.Pgpgin = v
		case "pgpgout":
			info.Pgpgout = v
		case "pswpin":
			info.Pswpin = v
		case "pswpout":
			info.Pswpout = v
		case "pgsteal_kswapd":
			info.PgstealKswapd = v
		case "pgsteal_direct":
			info.PgstealDirect = v
		case "pgscan_kswapd":
			info.PgscanKswapd = v
		case "pgscan_direct":
			info.PgscanDirect = v
		case "oom_kill":
			info.OomKill = v
		}
	}

	return info, nil
}

// DiskstatEntry is one raw line of /proc/diskstats before interning.
type DiskstatEntry struct {
	Major  uint32
	Minor  uint32
	Device string
	Stat   model.SystemDiskInfo
}

// ParseDiskstats parses /proc/diskstats content. Lines with fewer than 14
// fields are skipped.
func ParseDiskstats(content string) ([]DiskstatEntry, error) {
	var entries []DiskstatEntry

	for _, line := range strings.Split(content, "\n") {
		parts := strings.Fields(line)
		if len(parts) < 14 {
			continue
		}
		major, err := strconv.ParseUint(parts[0], 10, 32)
		if err != nil {
			continue
		}
		minor, err := strconv.ParseUint(parts[1], 10, 32)
		if err != nil {
			continue
		}
		val := func(idx int) uint64 {
			v, _ := strconv.ParseUint(parts[idx], 10, 64)
			return v
		}
		entries = append(entries, DiskstatEntry{
			Major:  uint32(major),
			Minor:  uint32(minor),
			Device: parts[2],
			Stat: model.SystemDiskInfo{
				Major:        uint32(major),
				Minor:        uint32(minor),
				Rio:          val(3),
				RMerged:      val(4),
				Rsz:          val(5),
				ReadTime:     val(6),
				Wio:          val(7),
				WMerged:      val(8),
				Wsz:          val(9),
				WriteTime:    val(10),
				IoInProgress: val(11),
				IoMs:         val(12),
				Qusz:         val(13),
			},
		})
	}

	return entries, nil
}

// NetdevEntry is one raw line of /proc/net/dev before interning.
type NetdevEntry struct {
	Name string
	Stat model.SystemNetInfo
}

// ParseNetdev parses /proc/net/dev content, skipping the two header lines.
func ParseNetdev(content string) ([]NetdevEntry, error) {
	var entries []NetdevEntry

	for _, line := range strings.Split(content, "\n") {
		name, counters, ok := strings.Cut(line, ":")
		if !ok {
			continue // header lines have no colon-delimited interface
		}
		name = strings.TrimSpace(name)
		parts := strings.Fields(counters)
		if name == "" || len(parts) < 16 {
			continue
		}
		val := func(idx int) uint64 {
			v, _ := strconv.ParseUint(parts[idx], 10, 64)
			return v
		}
		entries = append(entries, NetdevEntry{
			Name: name,
			Stat: model.SystemNetInfo{
				RxBytes:   val(0),
				RxPackets: val(1),
				RxErrs:    val(2),
				RxDrop:    val(3),
				TxBytes:   val(8),
				TxPackets: val(9),
				TxErrs:    val(10),
				TxDrop:    val(11),
			},
		})
	}

	return entries, nil
}

// parseSnmpTable converts the header/value line pairs of /proc/net/snmp and
// /proc/net/netstat into per-protocol key → value maps.
func parseSnmpTable(content string) map[string]map[string]uint64 {
	table := map[string]map[string]uint64{}
	lines := strings.Split(content, "\n")

	for i := 0; i+1 < len(lines); i += 2 {
		headerProto, headerRest, ok := strings.Cut(lines[i], ":")
		if !ok {
			continue
		}
		valueProto, valueRest, ok := strings.Cut(lines[i+1], ":")
		if !ok || headerProto != valueProto {
			continue
		}
		keys := strings.Fields(headerRest)
		values := strings.Fields(valueRest)
		if len(keys) != len(values) {
			continue
		}
		m := table[headerProto]
		if m == nil {
			m = map[string]uint64{}
			table[headerProto] = m
		}
		for j, key := range keys {
			// Some counters (e.g. Tcp MaxConn) are signed; parse as int and
			// store the unsigned magnitude of non-negative values only.
			if v, err := strconv.ParseInt(values[j], 10, 64); err == nil && v >= 0 {
				m[key] = uint64(v)
			}
		}
	}

	return table
}

// ParseNetSnmp parses /proc/net/snmp content (Tcp and Udp counters).
func ParseNetSnmp(content string) (model.SystemNetSnmpInfo, error) {
	table := parseSnmpTable(content)
	var info model.SystemNetSnmpInfo

	if tcp, ok := table["Tcp"]; ok {
		info.TcpActiveOpens = tcp["ActiveOpens"]
		info.TcpPassiveOpens = tcp["PassiveOpens"]
		info.TcpAttemptFails = tcp["AttemptFails"]
		info.TcpEstabResets = tcp["EstabResets"]
		info.TcpCurrEstab = tcp["CurrEstab"]
		info.TcpInSegs = tcp["InSegs"]
		info.TcpOutSegs = tcp["OutSegs"]
		info.TcpRetransSegs = tcp["RetransSegs"]
		info.TcpInErrs = tcp["InErrs"]
		info.TcpOutRsts = tcp["OutRsts"]
	}
	if udp, ok := table["Udp"]; ok {
		info.UdpInDatagrams = udp["InDatagrams"]
		info.UdpOutDatagrams = udp["OutDatagrams"]
		info.UdpInErrors = udp["InErrors"]
		info.UdpNoPorts = udp["NoPorts"]
	}

	return info, nil
}

// MergeNetstat merges the TcpExt counters of /proc/net/netstat into info.
func MergeNetstat(info *model.SystemNetSnmpInfo, content string) {
	table := parseSnmpTable(content)
	ext, ok := table["TcpExt"]
	if !ok {
		return
	}
	info.ListenOverflows = ext["ListenOverflows"]
	info.ListenDrops = ext["ListenDrops"]
	info.TcpTimeouts = ext["TCPTimeouts"]
	info.TcpFastRetrans = ext["TCPFastRetrans"]
	info.TcpSlowStartRetrans = ext["TCPSlowStartRetrans"]
	info.TcpOfoQueue = ext["TCPOFOQueue"]
	info.TcpSynRetrans = ext["TCPSynRetrans"]
}

// ParsePsi parses one /proc/pressure/* file. PSI files have a "some" line
// and usually a "full" line; CPU pressure may have only "some". Missing
// fields default to zero without error.
func ParsePsi(content string, resource uint8) (model.SystemPsiInfo, error) {
	info := model.SystemPsiInfo{Resource: resource}

	for _, line := range strings.Split(content, "\n") {
		parts := strings.Fields(line)
		if len(parts) < 2 {
			continue
		}

		var avg10, avg60, avg300 float32
		var total uint64
		for _, kv := range parts[1:] {
			key, value, ok := strings.Cut(kv, "=")
			if !ok {
				continue
			}
			switch key {
			case "avg10":
				f, _ := strconv.ParseFloat(value, 32)
				avg10 = float32(f)
			case "avg60":
				f, _ := strconv.ParseFloat(value, 32)
				avg60 = float32(f)
			case "avg300":
				f, _ := strconv.ParseFloat(value, 32)
				avg300 = float32(f)
			case "total":
				total, _ = strconv.ParseUint(value, 10, 64)
			}
		}

		switch parts[0] {
		case "some":
			info.SomeAvg10, info.SomeAvg60, info.SomeAvg300, info.SomeTotal = avg10, avg60, avg300, total
		case "full":
			info.FullAvg10, info.FullAvg60, info.FullAvg300, info.FullTotal = avg10, avg60, avg300, total
		}
	}

	return info, nil
}

// DeviceID is a (major, minor) block device identifier.
type DeviceID struct {
	Major uint32
	Minor uint32
}

// ParseMountinfoDeviceIDs extracts the set of mounted block device IDs from
// /proc/self/mountinfo, skipping pseudo filesystems (major 0). The disk
// collector uses this set to restrict reporting inside a container.
func ParseMountinfoDeviceIDs(content string) map[DeviceID]struct{} {
	devices := map[DeviceID]struct{}{}

	for _, line := range strings.Split(content, "\n") {
		parts := strings.Fields(line)
		if len(parts) < 5 {
			continue
		}
		// Field 3 is major:minor of the mounted filesystem.
		major, minor, ok := strings.Cut(parts[2], ":")
		if !ok {
			continue
		}
		maj, err := strconv.ParseUint(major, 10, 32)
		if err != nil || maj == 0 {
			continue
		}
		min, err := strconv.ParseUint(minor, 10, 32)
		if err != nil {
			continue
		}
		devices[DeviceID{Major: uint32(maj), Minor: uint32(min)}] = struct{}{}
	}

	return devices
}
