package pglog

import (
	"encoding/csv"
	"regexp"
	"strconv"
	"strings"

	"github.com/vadv/rpglot/internal/model"
)

// LineKind classifies a parsed log line.
type LineKind int

const (
	KindError LineKind = iota
	KindCheckpointStarting
	KindCheckpointComplete
	KindAutovacuum
	KindAutoanalyze
	KindSlowQuery
)

// ParsedLine is one log line the collector cares about. Error lines carry
// Severity + Message; event lines carry Event.
type ParsedLine struct {
	Kind     LineKind
	Severity model.PgLogSeverity
	Message  string
	// Statement is the SQL from a following STATEMENT: line, when present.
	Statement string
	Event     *model.PgLogEventEntry
}

var (
	reSeverity = regexp.MustCompile(`\b(ERROR|FATAL|PANIC):\s+(.*)$`)
	reLogLine  = regexp.MustCompile(`\bLOG:\s+(.*)$`)

	reCheckpointStarting = regexp.MustCompile(`^(?:checkpoint|restartpoint) starting:`)
	reCheckpointComplete = regexp.MustCompile(`^(?:checkpoint|restartpoint) complete: wrote (\d+) buffers`)
	reCheckpointTime     = regexp.MustCompile(`total=([\d.]+) s`)
	reCheckpointDistance = regexp.MustCompile(`distance=(\d+) kB`)
	reCheckpointEstimate = regexp.MustCompile(`estimate=(\d+) kB`)
	reCheckpointWalFiles = regexp.MustCompile(`(\d+) WAL file\(s\) added, (\d+) removed, (\d+) recycled`)

	reAutovacuum  = regexp.MustCompile(`^automatic (aggressive )?vacuum of table "([^"]+)"`)
	reAutoanalyze = regexp.MustCompile(`^automatic analyze of table "([^"]+)"`)

	reTuplesRemoved = regexp.MustCompile(`tuples: (\d+) removed`)
	rePagesRemoved  = regexp.MustCompile(`pages: (\d+) removed`)
	reBufferUsage   = regexp.MustCompile(`buffer usage: (\d+) hits?, (\d+) (?:misses|reads?)(?:, (\d+) (?:dirtied|writes?))?`)
	reAvgRates      = regexp.MustCompile(`avg read rate: ([\d.]+) MB/s, avg write rate: ([\d.]+) MB/s`)
	reSystemUsage   = regexp.MustCompile(`system usage: CPU: user: ([\d.]+) s, system: ([\d.]+) s, elapsed: ([\d.]+) s`)
	reWalUsage      = regexp.MustCompile(`WAL usage: (\d+) records, (\d+) full page images, (\d+) bytes`)

	reSlowQuery = regexp.MustCompile(`^duration: ([\d.]+) ms\s+(?:statement|execute [^:]*):\s+(.*)$`)
)

// StderrParser parses stderr-format log lines. The log_line_prefix is
// arbitrary, so matching anchors on the severity token instead of parsing
// the prefix itself.
type StderrParser struct{}

// NewStderrParser creates a parser for the given log_line_prefix. The
// prefix is accepted for interface parity; matching does not depend on it.
func NewStderrParser(_ string) *StderrParser {
	return &StderrParser{}
}

// ParseLine classifies one stderr log line. Continuation lines (DETAIL,
// HINT, CONTEXT and vacuum detail indented lines) return nil.
func (p *StderrParser) ParseLine(line string) *ParsedLine {
	if line == "" {
		return nil
	}

	if m := reSeverity.FindStringSubmatch(line); m != nil {
		return &ParsedLine{
			Kind:     KindError,
			Severity: severityFromString(m[1]),
			Message:  m[2],
		}
	}

	if m := reLogLine.FindStringSubmatch(line); m != nil {
		return parseLogMessage(m[1])
	}

	return nil
}

// CsvlogParser parses csvlog-format lines. Column layout per
// log_destination=csvlog: message is column 13, severity column 11.
type CsvlogParser struct{}

// NewCsvlogParser creates a csvlog parser.
func NewCsvlogParser() *CsvlogParser {
	return &CsvlogParser{}
}

// ParseLine classifies one csvlog line.
func (p *CsvlogParser) ParseLine(line string) *ParsedLine {
	if line == "" {
		return nil
	}

	r := csv.NewReader(strings.NewReader(line))
	r.FieldsPerRecord = -1
	fields, err := r.Read()
	if err != nil || len(fields) < 14 {
		return nil
	}

	severity := fields[11]
	message := fields[13]

	switch severity {
	case "ERROR", "FATAL", "PANIC":
		parsed := &ParsedLine{
			Kind:     KindError,
			Severity: severityFromString(severity),
			Message:  message,
		}
		// column 19 carries the offending statement when log_min_error_statement allows
		if len(fields) > 19 {
			parsed.Statement = fields[19]
		}
		return parsed
	case "LOG":
		return parseLogMessage(message)
	}
	return nil
}

func severityFromString(s string) model.PgLogSeverity {
	switch s {
	case "FATAL":
		return model.SeverityFatal
	case "PANIC":
		return model.SeverityPanic
	}
	return model.SeverityError
}

// parseLogMessage classifies LOG-level messages into operational events.
func parseLogMessage(message string) *ParsedLine {
	if reCheckpointStarting.MatchString(message) {
		return &ParsedLine{
			Kind: KindCheckpointStarting,
			Event: &model.PgLogEventEntry{
				EventType: model.EventCheckpointStarting,
				Message:   truncateMessage(message),
			},
		}
	}

	if m := reCheckpointComplete.FindStringSubmatch(message); m != nil {
		event := &model.PgLogEventEntry{
			EventType: model.EventCheckpointComplete,
			Message:   truncateMessage(message),
		}
		event.ExtraNum1, _ = strconv.ParseInt(m[1], 10, 64)
		if tm := reCheckpointTime.FindStringSubmatch(message); tm != nil {
			event.ElapsedS, _ = strconv.ParseFloat(tm[1], 64)
		}
		if dm := reCheckpointDistance.FindStringSubmatch(message); dm != nil {
			event.ExtraNum2, _ = strconv.ParseInt(dm[1], 10, 64)
		}
		if em := reCheckpointEstimate.FindStringSubmatch(message); em != nil {
			event.ExtraNum3, _ = strconv.ParseInt(em[1], 10, 64)
		}
		if wm := reCheckpointWalFiles.FindStringSubmatch(message); wm != nil {
			event.WalRecords, _ = strconv.ParseInt(wm[1], 10, 64)
			event.WalFpi, _ = strconv.ParseInt(wm[2], 10, 64)
			event.WalBytes, _ = strconv.ParseInt(wm[3], 10, 64)
		}
		return &ParsedLine{Kind: KindCheckpointComplete, Event: event}
	}

	if m := reAutovacuum.FindStringSubmatch(message); m != nil {
		return &ParsedLine{Kind: KindAutovacuum, Event: parseVacuumEvent(message, m[2], model.EventAutovacuum)}
	}
	if m := reAutoanalyze.FindStringSubmatch(message); m != nil {
		return &ParsedLine{Kind: KindAutoanalyze, Event: parseVacuumEvent(message, m[1], model.EventAutoanalyze)}
	}

	if m := reSlowQuery.FindStringSubmatch(message); m != nil {
		durationMs, _ := strconv.ParseFloat(m[1], 64)
		return &ParsedLine{
			Kind: KindSlowQuery,
			Event: &model.PgLogEventEntry{
				EventType: model.EventSlowQuery,
				Message:   truncateMessage(m[2]),
				ElapsedS:  durationMs / 1000.0,
				Count:     1,
			},
		}
	}

	return nil
}

// parseVacuumEvent extracts the structured sub-fields of autovacuum and
// autoanalyze completion messages (the full multi-line message arrives as
// one log entry in csvlog; in stderr format only the first line fields are
// typically present).
func parseVacuumEvent(message, tableName string, eventType model.PgLogEventType) *model.PgLogEventEntry {
	event := &model.PgLogEventEntry{
		EventType: eventType,
		Message:   truncateMessage(message),
		TableName: tableName,
	}

	if m := reTuplesRemoved.FindStringSubmatch(message); m != nil {
		event.ExtraNum1, _ = strconv.ParseInt(m[1], 10, 64)
	}
	if m := rePagesRemoved.FindStringSubmatch(message); m != nil {
		event.ExtraNum2, _ = strconv.ParseInt(m[1], 10, 64)
	}
	if m := reBufferUsage.FindStringSubmatch(message); m != nil {
		event.BufferHits, _ = strconv.ParseInt(m[1], 10, 64)
		event.BufferMisses, _ = strconv.ParseInt(m[2], 10, 64)
		if m[3] != "" {
			event.BufferDirtied, _ = strconv.ParseInt(m[3], 10, 64)
		}
	}
	if m := reAvgRates.FindStringSubmatch(message); m != nil {
		event.AvgReadRateMbs, _ = strconv.ParseFloat(m[1], 64)
		event.AvgWriteRateMbs, _ = strconv.ParseFloat(m[2], 64)
	}
	if m := reSystemUsage.FindStringSubmatch(message); m != nil {
		event.CPUUserS, _ = strconv.ParseFloat(m[1], 64)
		event.CPUSystemS, _ = strconv.ParseFloat(m[2], 64)
		event.ElapsedS, _ = strconv.ParseFloat(m[3], 64)
	}
	if m := reWalUsage.FindStringSubmatch(message); m != nil {
		event.WalRecords, _ = strconv.ParseInt(m[1], 10, 64)
		event.WalFpi, _ = strconv.ParseInt(m[2], 10, 64)
		event.WalBytes, _ = strconv.ParseInt(m[3], 10, 64)
	}

	return event
}

func truncateMessage(s string) string {
	if len(s) > MaxLogMessageLen {
		return s[:MaxLogMessageLen]
	}
	return s
}
