// Package collector orchestrates one collection tick: it runs the /proc,
// cgroup, PostgreSQL and log collectors in a fixed order, isolates their
// failures from each other, and assembles the resulting blocks into a
// snapshot. A tick never fails wholesale because one source fails — a
// missing or unreadable source is simply an absent block.
package collector

import (
	"context"
	"time"

	"github.com/vadv/rpglot/internal/cgroup"
	"github.com/vadv/rpglot/internal/intern"
	"github.com/vadv/rpglot/internal/log"
	"github.com/vadv/rpglot/internal/model"
	"github.com/vadv/rpglot/internal/pglog"
	"github.com/vadv/rpglot/internal/postgres"
	"github.com/vadv/rpglot/internal/procfs"
)

// Timing records per-source wall-clock elapsed durations of the last tick
// for diagnostics.
type Timing struct {
	Total      time.Duration
	Processes  time.Duration
	Meminfo    time.Duration
	CPUInfo    time.Duration
	Loadavg    time.Duration
	Diskstats  time.Duration
	Netdev     time.Duration
	Psi        time.Duration
	Vmstat     time.Duration
	Stat       time.Duration
	NetSnmp    time.Duration
	PgActivity time.Duration
	PgStatements time.Duration
	PgStorePlans time.Duration
	PgDatabase   time.Duration
	PgBgwriter   time.Duration
	PgProgressVacuum time.Duration
	PgTables     time.Duration
	PgIndexes    time.Duration
	PgLocks      time.Duration
	PgLog        time.Duration
	Cgroup       time.Duration
}

// Collector gathers all sources into snapshots. It owns the process-wide
// string interner; the storage manager borrows it read-only per tick.
type Collector struct {
	interner *intern.Interner

	system    *procfs.SystemCollector
	processes *procfs.ProcessCollector

	pg    *postgres.Collector
	pgLog *pglog.Collector

	cgroup      *cgroup.Collector
	inContainer bool

	pgLastError string
	lastTiming  Timing
}

// New creates a collector rooted at procPath (usually "/proc"). When the
// agent runs inside a container the cgroup collector is enabled
// automatically and disk reporting is restricted by mountinfo.
func New(procPath string) *Collector {
	c := &Collector{
		interner:    intern.New(),
		system:      procfs.NewSystemCollector(procPath),
		processes:   procfs.NewProcessCollector(procPath),
		inContainer: cgroup.IsContainer(),
	}
	if c.inContainer {
		c.cgroup = cgroup.New(cgroup.DefaultPath)
	}
	return c
}

// WithPostgres attaches a PostgreSQL collector and its log tailer.
func (c *Collector) WithPostgres(pg *postgres.Collector) *Collector {
	c.pg = pg
	c.pgLog = pglog.NewCollector()
	return c
}

// ForceCgroup enables cgroup collection regardless of container detection.
func (c *Collector) ForceCgroup(path string) *Collector {
	c.cgroup = cgroup.New(path)
	return c
}

// CgroupEnabled reports whether cgroup collection is active.
func (c *Collector) CgroupEnabled() bool {
	return c.cgroup != nil
}

// Interner returns the process-wide interner.
func (c *Collector) Interner() *intern.Interner {
	return c.interner
}

// ClearInterner drops all interned strings. Called atomically with WAL
// truncation after a chunk flush to bound memory.
func (c *Collector) ClearInterner() {
	c.interner.Clear()
}

// PgLastError returns the most recent PostgreSQL collection error.
func (c *Collector) PgLastError() string {
	return c.pgLastError
}

// LastTiming returns per-source durations of the previous tick.
func (c *Collector) LastTiming() Timing {
	return c.lastTiming
}

// InstanceInfo returns the monitored database name and server version.
func (c *Collector) InstanceInfo() (string, string, bool) {
	if c.pg == nil {
		return "", "", false
	}
	return c.pg.InstanceInfo()
}

// Close shuts down the attached PostgreSQL sessions and the log tailer.
func (c *Collector) Close() {
	if c.pg != nil {
		c.pg.Close()
	}
	if c.pgLog != nil {
		c.pgLog.Close()
	}
}

// CollectSnapshot runs one tick. Cancellation is cooperative: the context
// is checked between sources and the snapshot built so far is returned.
func (c *Collector) CollectSnapshot(ctx context.Context) *model.Snapshot {
	totalStart := time.Now()
	var timing Timing

	snapshot := &model.Snapshot{Timestamp: time.Now().Unix()}
	add := func(b model.DataBlock) {
		snapshot.Blocks = append(snapshot.Blocks, b)
	}

	// Global stat goes first: its boot time offsets process start times.
	start := time.Now()
	stat, statErr := c.system.CollectStat()
	timing.Stat = time.Since(start)
	if statErr == nil {
		c.processes.SetBootTime(stat.Stat.Btime)
	} else {
		log.Debugf("collect /proc/stat failed: %s; skip", statErr)
	}

	start = time.Now()
	if processes, err := c.processes.CollectAll(c.interner); err == nil {
		add(model.ProcessesBlock(processes))
	} else {
		log.Warnf("collect processes failed: %s; skip", err)
	}
	timing.Processes = time.Since(start)

	start = time.Now()
	if meminfo, err := c.system.CollectMeminfo(); err == nil {
		add(model.SystemMemBlock{SystemMemInfo: meminfo})
	}
	timing.Meminfo = time.Since(start)

	start = time.Now()
	if statErr == nil && len(stat.CPUs) > 0 {
		add(model.SystemCPUBlock(stat.CPUs))
	}
	timing.CPUInfo = time.Since(start)

	start = time.Now()
	if loadavg, err := c.system.CollectLoadavg(); err == nil {
		add(model.SystemLoadBlock{SystemLoadInfo: loadavg})
	}
	timing.Loadavg = time.Since(start)

	start = time.Now()
	{
		// In container mode only devices backing actual mounts are
		// reported; the host device list is noise there.
		var filter map[procfs.DeviceID]struct{}
		if c.inContainer {
			filter, _ = c.system.CollectMountinfoDeviceIDs()
		}
		if disks, err := c.system.CollectDiskstats(c.interner, filter); err == nil && len(disks) > 0 {
			add(model.SystemDiskBlock(disks))
		}
	}
	timing.Diskstats = time.Since(start)

	start = time.Now()
	if netdev, err := c.system.CollectNetdev(c.interner); err == nil && len(netdev) > 0 {
		add(model.SystemNetBlock(netdev))
	}
	timing.Netdev = time.Since(start)

	start = time.Now()
	if psi, err := c.system.CollectPsi(); err == nil && len(psi) > 0 {
		add(model.SystemPsiBlock(psi))
	}
	timing.Psi = time.Since(start)

	start = time.Now()
	if vmstat, err := c.system.CollectVmstat(); err == nil {
		add(model.SystemVmstatBlock{SystemVmstatInfo: vmstat})
	}
	timing.Vmstat = time.Since(start)

	if statErr == nil {
		add(model.SystemStatBlock{SystemStatInfo: stat.Stat})
	}

	start = time.Now()
	if netsnmp, err := c.system.CollectNetSnmp(); err == nil {
		add(model.SystemNetSnmpBlock{SystemNetSnmpInfo: netsnmp})
	}
	timing.NetSnmp = time.Since(start)

	if c.pg != nil && ctx.Err() == nil {
		c.collectPostgres(ctx, &timing, add)
	}

	// cgroup goes last so container limits reflect the tick's own load
	start = time.Now()
	if c.cgroup != nil && ctx.Err() == nil {
		if info := c.cgroup.Collect(); info != nil {
			add(model.CgroupBlock{CgroupInfo: *info})
		}
	}
	timing.Cgroup = time.Since(start)

	timing.Total = time.Since(totalStart)
	c.lastTiming = timing

	return snapshot
}

func (c *Collector) collectPostgres(ctx context.Context, timing *Timing, add func(model.DataBlock)) {
	wasConnected := c.pg.Primary() != nil

	start := time.Now()
	if activity := c.pg.CollectActivity(c.interner); len(activity) > 0 {
		add(activity)
	}
	timing.PgActivity = time.Since(start)

	// The log collector needs settings from a live session; (re)initialize
	// it whenever the primary session was just established.
	if c.pgLog != nil && !wasConnected && c.pg.Primary() != nil {
		c.pgLog.Init(c.pg.Primary())
	}

	if ctx.Err() != nil {
		return
	}

	start = time.Now()
	if statements := c.pg.CollectStatements(c.interner); len(statements) > 0 {
		add(statements)
	}
	timing.PgStatements = time.Since(start)

	start = time.Now()
	if plans := c.pg.CollectStorePlans(c.interner); len(plans) > 0 {
		add(plans)
	}
	timing.PgStorePlans = time.Since(start)

	if ctx.Err() != nil {
		return
	}

	start = time.Now()
	if databases := c.pg.CollectDatabase(c.interner); len(databases) > 0 {
		add(databases)
	}
	timing.PgDatabase = time.Since(start)

	start = time.Now()
	if bgwriter, ok := c.pg.CollectBgwriter(); ok {
		add(model.PgStatBgwriterBlock{PgStatBgwriterInfo: bgwriter})
	}
	timing.PgBgwriter = time.Since(start)

	start = time.Now()
	if progress := c.pg.CollectProgressVacuum(c.interner); len(progress) > 0 {
		add(progress)
	}
	timing.PgProgressVacuum = time.Since(start)

	if ctx.Err() != nil {
		return
	}

	c.pg.EnsureDBClients()

	start = time.Now()
	if tables := c.pg.CollectTables(c.interner); len(tables) > 0 {
		add(tables)
	}
	timing.PgTables = time.Since(start)

	start = time.Now()
	if indexes := c.pg.CollectIndexes(c.interner); len(indexes) > 0 {
		add(indexes)
	}
	timing.PgIndexes = time.Since(start)

	if ctx.Err() != nil {
		return
	}

	start = time.Now()
	if lockTree := c.pg.CollectLockTree(c.interner); len(lockTree) > 0 {
		add(lockTree)
	}
	timing.PgLocks = time.Since(start)

	start = time.Now()
	if c.pgLog != nil && c.pg.Primary() != nil {
		result := c.pgLog.Collect(c.pg.Primary(), c.interner)
		if len(result.Errors) > 0 {
			add(model.PgLogErrorsBlock(result.Errors))
		}
		if result.Counts.CheckpointCount > 0 || result.Counts.AutovacuumCount > 0 || result.Counts.SlowQueryCount > 0 {
			add(model.PgLogEventsBlock{PgLogEventsInfo: result.Counts})
		}
		if len(result.Events) > 0 {
			add(model.PgLogDetailedEventsBlock(result.Events))
		}
	}
	timing.PgLog = time.Since(start)

	if settings := c.pg.CollectSettings(); len(settings) > 0 {
		add(settings)
	}

	if status, ok := c.pg.CollectReplicationStatus(); ok {
		add(model.ReplicationStatusBlock{ReplicationStatus: status})
	}

	c.pgLastError = c.pg.LastError()
}
