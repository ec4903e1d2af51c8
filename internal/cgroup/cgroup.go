// Package cgroup reads cgroup v2 interface files and emits CPU, memory and
// PID-limit records when the agent runs inside a container.
package cgroup

import (
	"os"
	"path/filepath"
	"strconv"
	"strings"

	"github.com/vadv/rpglot/internal/log"
	"github.com/vadv/rpglot/internal/model"
)

// DefaultPath is the cgroup v2 mount point inside containers.
const DefaultPath = "/sys/fs/cgroup"

// Collector reads flat files under a cgroup v2 directory.
type Collector struct {
	path string
}

// New creates a collector rooted at path.
func New(path string) *Collector {
	if path == "" {
		path = DefaultPath
	}
	return &Collector{path: path}
}

// IsContainer reports whether the process appears to run inside a container.
// Detected once at startup: /.dockerenv, /run/.containerenv, or a cgroup
// membership line mentioning a container runtime.
func IsContainer() bool {
	if _, err := os.Stat("/.dockerenv"); err == nil {
		return true
	}
	if _, err := os.Stat("/run/.containerenv"); err == nil {
		return true
	}
	content, err := os.ReadFile("/proc/1/cgroup")
	if err != nil {
		return false
	}
	s := string(content)
	return strings.Contains(s, "docker") || strings.Contains(s, "kubepods") || strings.Contains(s, "containerd") || strings.Contains(s, "lxc")
}

// Collect reads the cgroup controllers. Missing controller files produce nil
// sub-structs; a fully empty result returns nil so no block is emitted.
func (c *Collector) Collect() *model.CgroupInfo {
	info := &model.CgroupInfo{
		CPU:    c.collectCPU(),
		Memory: c.collectMemory(),
		Pids:   c.collectPids(),
	}
	if info.CPU == nil && info.Memory == nil && info.Pids == nil {
		return nil
	}
	return info
}

func (c *Collector) read(name string) (string, bool) {
	content, err := os.ReadFile(filepath.Clean(filepath.Join(c.path, name)))
	if err != nil {
		return "", false
	}
	return strings.TrimSpace(string(content)), true
}

// parseLimit translates the "max" sentinel to the no-limit marker.
func parseLimit(s string) uint64 {
	if s == "max" {
		return model.CgroupNoLimit
	}
	v, err := strconv.ParseUint(s, 10, 64)
	if err != nil {
		return model.CgroupNoLimit
	}
	return v
}

func (c *Collector) collectCPU() *model.CgroupCPUInfo {
	content, ok := c.read("cpu.stat")
	if !ok {
		return nil
	}

	info := &model.CgroupCPUInfo{Quota: -1, Period: 100000}
	for _, line := range strings.Split(content, "\n") {
		key, value, ok := strings.Cut(line, " ")
		if !ok {
			continue
		}
		v, err := strconv.ParseUint(strings.TrimSpace(value), 10, 64)
		if err != nil {
			continue
		}
		switch key {
		case "usage_usec":
			info.UsageUsec = v
		case "user_usec":
			info.UserUsec = v
		case "system_usec":
			info.SystemUsec = v
		case "nr_periods":
			info.NrPeriods = v
		case "nr_throttled":
			info.NrThrottled = v
		case "throttled_usec":
			info.ThrottledUsec = v
		}
	}

	// cpu.max format: "<quota|max> <period>"
	if max, ok := c.read("cpu.max"); ok {
		parts := strings.Fields(max)
		if len(parts) >= 1 {
			if parts[0] == "max" {
				info.Quota = -1
			} else if v, err := strconv.ParseInt(parts[0], 10, 64); err == nil {
				info.Quota = v
			}
		}
		if len(parts) >= 2 {
			if v, err := strconv.ParseUint(parts[1], 10, 64); err == nil {
				info.Period = v
			}
		}
	}

	return info
}

func (c *Collector) collectMemory() *model.CgroupMemoryInfo {
	current, ok := c.read("memory.current")
	if !ok {
		return nil
	}

	info := &model.CgroupMemoryInfo{}
	v, err := strconv.ParseUint(current, 10, 64)
	if err != nil {
		log.Debugf("parse memory.current %q failed; skip", current)
		return nil
	}
	info.Current = v

	info.Max = model.CgroupNoLimit
	if max, ok := c.read("memory.max"); ok {
		info.Max = parseLimit(max)
	}
	if swap, ok := c.read("memory.swap.current"); ok {
		info.SwapCurrent, _ = strconv.ParseUint(swap, 10, 64)
	}
	info.SwapMax = model.CgroupNoLimit
	if swapMax, ok := c.read("memory.swap.max"); ok {
		info.SwapMax = parseLimit(swapMax)
	}

	return info
}

func (c *Collector) collectPids() *model.CgroupPidsInfo {
	current, ok := c.read("pids.current")
	if !ok {
		return nil
	}
	v, err := strconv.ParseUint(current, 10, 64)
	if err != nil {
		return nil
	}

	info := &model.CgroupPidsInfo{Current: v, Max: model.CgroupNoLimit}
	if max, ok := c.read("pids.max"); ok {
		info.Max = parseLimit(max)
	}
	return info
}
