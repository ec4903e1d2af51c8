package pglog

import (
	"path/filepath"
	"sort"
	"strings"
	"time"

	"github.com/vadv/rpglot/internal/intern"
	"github.com/vadv/rpglot/internal/log"
	"github.com/vadv/rpglot/internal/model"
)

const (
	// maxPatternsPerSnapshot caps grouped error patterns per interval; the
	// top ones by count are kept, the tail discarded.
	maxPatternsPerSnapshot = 32

	// rotationCheckInterval is how often pg_current_logfile is re-queried.
	rotationCheckInterval = 60 * time.Second
	// settingsRefreshInterval is how often log settings are re-read.
	settingsRefreshInterval = 10 * time.Minute
)

// Session is the subset of the primary PostgreSQL session the log
// collector needs for discovery.
type Session interface {
	ShowSetting(name string) (string, error)
	CurrentLogfile(format string) (string, error)
}

// Result is the outcome of one collection interval.
type Result struct {
	Errors []model.PgLogEntry
	Events []model.PgLogEventEntry
	Counts model.PgLogEventsInfo
}

type errorKey struct {
	pattern  string
	severity model.PgLogSeverity
}

type pendingError struct {
	count     uint32
	sample    string
	statement string
}

// Collector follows the active server log and accumulates parsed lines
// between snapshot emissions.
type Collector struct {
	tailer *Tailer

	stderrParser *StderrParser
	csvlogParser *CsvlogParser
	csvlog       bool

	dataDirectory string

	settingsChecked time.Time
	rotationChecked time.Time

	pendingErrors map[errorKey]*pendingError
	pendingEvents []model.PgLogEventEntry
	// lastErrorKey points at the group of the preceding error line, waiting
	// for its possible STATEMENT: continuation in stderr format. lastError
	// holds the last discovery failure.
	lastErrorKey  *errorKey
	lastError     string
}

// NewCollector creates an uninitialized log collector.
func NewCollector() *Collector {
	return &Collector{
		pendingErrors: map[errorKey]*pendingError{},
	}
}

// LastError returns the last discovery failure for diagnostics.
func (c *Collector) LastError() string {
	return c.lastError
}

// Init reads the log settings and locates the active log file. Called each
// time the PostgreSQL session is established and again by Collect on every
// settings refresh; failures are recorded and collection is skipped until a
// later Init succeeds.
func (c *Collector) Init(session Session) {
	c.lastError = ""
	c.settingsChecked = time.Now()
	c.rotationChecked = time.Now()

	if dd, err := session.ShowSetting("data_directory"); err == nil {
		c.dataDirectory = dd
	}

	destination, err := session.ShowSetting("log_destination")
	if err != nil {
		destination = "stderr"
	}
	c.csvlog = containsCsvlog(destination)
	if c.csvlog {
		c.csvlogParser = NewCsvlogParser()
		c.stderrParser = nil
	} else {
		prefix, _ := session.ShowSetting("log_line_prefix")
		c.stderrParser = NewStderrParser(prefix)
		c.csvlogParser = nil
	}

	if err := c.locateLogfile(session); err != nil {
		c.lastError = err.Error()
	}
}

func containsCsvlog(destination string) bool {
	// log_destination is a comma-separated list
	for _, d := range strings.Split(destination, ",") {
		if strings.TrimSpace(d) == "csvlog" {
			return true
		}
	}
	return false
}

type locateError struct{ msg string }

func (e *locateError) Error() string { return e.msg }

func (c *Collector) locateLogfile(session Session) error {
	format := "stderr"
	if c.csvlog {
		format = "csvlog"
	}

	logPath, err := session.CurrentLogfile(format)
	if err != nil {
		return &locateError{msg: "pg_current_logfile failed: " + err.Error()}
	}
	if logPath == "" {
		return &locateError{msg: "pg_current_logfile returned no result"}
	}

	if !filepath.IsAbs(logPath) && c.dataDirectory != "" {
		logPath = filepath.Join(c.dataDirectory, logPath)
	}

	if c.tailer == nil {
		tailer, err := NewTailer(logPath)
		if err != nil {
			return &locateError{msg: "tail " + logPath + ": " + err.Error()}
		}
		c.tailer = tailer
		log.Infof("tailing PostgreSQL log %s", logPath)
		return nil
	}

	if c.tailer.Path() != logPath {
		log.Infof("PostgreSQL log rotated to %s", logPath)
		if err := c.tailer.SwitchFile(logPath); err != nil {
			return &locateError{msg: "switch to " + logPath + ": " + err.Error()}
		}
	}
	return nil
}

// Collect reads appended lines, accumulates them, and drains the interval's
// grouped errors and events. The session is used for periodic rotation and
// settings checks.
func (c *Collector) Collect(session Session, interner *intern.Interner) Result {
	if time.Since(c.settingsChecked) >= settingsRefreshInterval {
		c.Init(session)
	} else if time.Since(c.rotationChecked) >= rotationCheckInterval {
		c.rotationChecked = time.Now()
		if err := c.locateLogfile(session); err != nil {
			c.lastError = err.Error()
		}
	}

	if c.tailer == nil {
		return Result{}
	}

	for _, line := range c.tailer.Drain() {
		c.accumulate(line)
	}

	return c.drain(interner)
}

// accumulate classifies one line into the pending stores.
func (c *Collector) accumulate(line string) {
	var parsed *ParsedLine
	if c.csvlog {
		parsed = c.csvlogParser.ParseLine(line)
	} else {
		parsed = c.stderrParser.ParseLine(line)
		// STATEMENT: continuation attaches to the preceding error
		if parsed == nil && c.lastErrorKey != nil {
			if stmt, ok := cutPrefixAfterSeverity(line, "STATEMENT:"); ok {
				if pending, found := c.pendingErrors[*c.lastErrorKey]; found && pending.statement == "" {
					pending.statement = truncateMessage(stmt)
				}
				c.lastErrorKey = nil
				return
			}
		}
	}
	if parsed == nil {
		c.lastErrorKey = nil
		return
	}

	switch parsed.Kind {
	case KindError:
		pattern := NormalizeError(parsed.Message)
		key := errorKey{pattern: pattern, severity: parsed.Severity}
		pending := c.pendingErrors[key]
		if pending == nil {
			pending = &pendingError{}
			c.pendingErrors[key] = pending
		}
		pending.count++
		if pending.sample == "" {
			pending.sample = truncateMessage(parsed.Message)
		}
		if pending.statement == "" && parsed.Statement != "" {
			pending.statement = truncateMessage(parsed.Statement)
		}
		c.lastErrorKey = &key
	case KindSlowQuery:
		c.lastErrorKey = nil
		// slow queries group by normalized statement text
		normalized := NormalizeError(parsed.Event.Message)
		for i := range c.pendingEvents {
			ev := &c.pendingEvents[i]
			if ev.EventType == model.EventSlowQuery && NormalizeError(ev.Message) == normalized {
				if ev.Count < 65535 {
					ev.Count++
				}
				if parsed.Event.ElapsedS > ev.ElapsedS {
					ev.ElapsedS = parsed.Event.ElapsedS
				}
				return
			}
		}
		c.pendingEvents = append(c.pendingEvents, *parsed.Event)
	default:
		c.lastErrorKey = nil
		if parsed.Event != nil {
			c.pendingEvents = append(c.pendingEvents, *parsed.Event)
		}
	}
}

func cutPrefixAfterSeverity(line, marker string) (string, bool) {
	idx := strings.Index(line, marker)
	if idx < 0 {
		return "", false
	}
	return strings.TrimSpace(line[idx+len(marker):]), true
}

// drain converts the pending stores into a Result and resets them. Only
// the top patterns by count survive.
func (c *Collector) drain(interner *intern.Interner) Result {
	var result Result

	if len(c.pendingErrors) > 0 {
		type kv struct {
			key     errorKey
			pending *pendingError
		}
		entries := make([]kv, 0, len(c.pendingErrors))
		for key, pending := range c.pendingErrors {
			entries = append(entries, kv{key: key, pending: pending})
		}
		sort.Slice(entries, func(a, b int) bool { return entries[a].pending.count > entries[b].pending.count })
		if len(entries) > maxPatternsPerSnapshot {
			entries = entries[:maxPatternsPerSnapshot]
		}

		for _, e := range entries {
			entry := model.PgLogEntry{
				PatternHash: interner.Intern(e.key.pattern),
				Severity:    e.key.severity,
				Count:       e.pending.count,
				SampleHash:  interner.Intern(e.pending.sample),
				Category:    CategorizeError(e.key.pattern),
			}
			if e.pending.statement != "" {
				entry.StatementHash = interner.Intern(e.pending.statement)
			}
			result.Errors = append(result.Errors, entry)
		}
		c.pendingErrors = map[errorKey]*pendingError{}
		c.lastErrorKey = nil
	}

	result.Events = c.pendingEvents
	c.pendingEvents = nil

	for _, ev := range result.Events {
		switch ev.EventType {
		case model.EventCheckpointStarting, model.EventCheckpointComplete:
			result.Counts.CheckpointCount = addSatU16(result.Counts.CheckpointCount, 1)
		case model.EventAutovacuum, model.EventAutoanalyze:
			result.Counts.AutovacuumCount = addSatU16(result.Counts.AutovacuumCount, 1)
		case model.EventSlowQuery:
			n := ev.Count
			if n == 0 {
				n = 1
			}
			result.Counts.SlowQueryCount = addSatU16(result.Counts.SlowQueryCount, n)
		}
	}

	return result
}

func addSatU16(a, b uint16) uint16 {
	s := uint32(a) + uint32(b)
	if s > 65535 {
		return 65535
	}
	return uint16(s)
}

// Close stops the tailer.
func (c *Collector) Close() {
	if c.tailer != nil {
		c.tailer.Close()
		c.tailer = nil
	}
}
