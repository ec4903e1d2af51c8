package pglog

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/vadv/rpglot/internal/model"
)

func TestStderrParserError(t *testing.T) {
	p := NewStderrParser("%m [%p] ")

	parsed := p.ParseLine(`2026-02-07 12:00:01.123 UTC [4242] ERROR:  relation "users" does not exist at character 15`)
	require.NotNil(t, parsed)
	assert.Equal(t, KindError, parsed.Kind)
	assert.Equal(t, model.SeverityError, parsed.Severity)
	assert.Contains(t, parsed.Message, `relation "users" does not exist`)

	parsed = p.ParseLine(`2026-02-07 12:00:02.456 UTC [17] FATAL:  password authentication failed for user "app"`)
	require.NotNil(t, parsed)
	assert.Equal(t, model.SeverityFatal, parsed.Severity)

	parsed = p.ParseLine(`2026-02-07 12:00:03.789 UTC [1] PANIC:  could not write to file "pg_wal/xlogtemp.23": No space left on device`)
	require.NotNil(t, parsed)
	assert.Equal(t, model.SeverityPanic, parsed.Severity)
}

func TestStderrParserIgnoresNoise(t *testing.T) {
	p := NewStderrParser("")

	assert.Nil(t, p.ParseLine(""))
	assert.Nil(t, p.ParseLine("2026-02-07 12:00:01 UTC [1] DETAIL:  Key (id)=(1) already exists."))
	assert.Nil(t, p.ParseLine("2026-02-07 12:00:01 UTC [1] HINT:  No function matches the given name."))
	assert.Nil(t, p.ParseLine("2026-02-07 12:00:01 UTC [1] LOG:  database system is ready to accept connections"))
}

func TestStderrParserCheckpointComplete(t *testing.T) {
	p := NewStderrParser("")

	line := `2026-02-07 12:05:00.000 UTC [33] LOG:  checkpoint complete: wrote 1024 buffers (6.3%); 0 WAL file(s) added, 1 removed, 3 recycled; write=269.713 s, sync=0.045 s, total=269.772 s; sync files=123, longest=0.012 s, average=0.001 s; distance=65536 kB, estimate=81920 kB`
	parsed := p.ParseLine(line)
	require.NotNil(t, parsed)
	assert.Equal(t, KindCheckpointComplete, parsed.Kind)
	require.NotNil(t, parsed.Event)
	assert.Equal(t, model.EventCheckpointComplete, parsed.Event.EventType)
	assert.Equal(t, int64(1024), parsed.Event.ExtraNum1)
	assert.Equal(t, int64(65536), parsed.Event.ExtraNum2)
	assert.Equal(t, int64(81920), parsed.Event.ExtraNum3)
	assert.InDelta(t, 269.772, parsed.Event.ElapsedS, 0.001)
	assert.Equal(t, int64(0), parsed.Event.WalRecords)
	assert.Equal(t, int64(1), parsed.Event.WalFpi)
	assert.Equal(t, int64(3), parsed.Event.WalBytes)
}

func TestStderrParserCheckpointStarting(t *testing.T) {
	p := NewStderrParser("")
	parsed := p.ParseLine(`2026-02-07 12:00:30.000 UTC [33] LOG:  checkpoint starting: time`)
	require.NotNil(t, parsed)
	assert.Equal(t, KindCheckpointStarting, parsed.Kind)
	assert.Equal(t, model.EventCheckpointStarting, parsed.Event.EventType)
}

func TestStderrParserAutovacuum(t *testing.T) {
	p := NewStderrParser("")

	line := `2026-02-07 12:10:00.000 UTC [99] LOG:  automatic vacuum of table "app.public.users": index scans: 1 pages: 12 removed, 3456 remain, 0 skipped due to pins, 0 skipped frozen tuples: 7890 removed, 123456 remain, 0 are dead but not yet removable, oldest xmin: 12345678 buffer usage: 4321 hits, 87 misses, 54 dirtied avg read rate: 1.234 MB/s, avg write rate: 0.567 MB/s system usage: CPU: user: 0.12 s, system: 0.03 s, elapsed: 1.78 s WAL usage: 9876 records, 12 full page images, 654321 bytes`
	parsed := p.ParseLine(line)
	require.NotNil(t, parsed)
	assert.Equal(t, KindAutovacuum, parsed.Kind)
	require.NotNil(t, parsed.Event)
	assert.Equal(t, model.EventAutovacuum, parsed.Event.EventType)
	assert.Equal(t, "app.public.users", parsed.Event.TableName)
	assert.Equal(t, int64(7890), parsed.Event.ExtraNum1)
	assert.Equal(t, int64(12), parsed.Event.ExtraNum2)
	assert.Equal(t, int64(4321), parsed.Event.BufferHits)
	assert.Equal(t, int64(87), parsed.Event.BufferMisses)
	assert.Equal(t, int64(54), parsed.Event.BufferDirtied)
	assert.InDelta(t, 1.234, parsed.Event.AvgReadRateMbs, 0.001)
	assert.InDelta(t, 0.567, parsed.Event.AvgWriteRateMbs, 0.001)
	assert.InDelta(t, 0.12, parsed.Event.CPUUserS, 0.001)
	assert.InDelta(t, 0.03, parsed.Event.CPUSystemS, 0.001)
	assert.InDelta(t, 1.78, parsed.Event.ElapsedS, 0.001)
	assert.Equal(t, int64(9876), parsed.Event.WalRecords)
}

func TestStderrParserAutoanalyze(t *testing.T) {
	p := NewStderrParser("")
	line := `2026-02-07 12:11:00.000 UTC [99] LOG:  automatic analyze of table "app.public.orders" system usage: CPU: user: 0.05 s, system: 0.01 s, elapsed: 0.42 s`
	parsed := p.ParseLine(line)
	require.NotNil(t, parsed)
	assert.Equal(t, KindAutoanalyze, parsed.Kind)
	assert.Equal(t, model.EventAutoanalyze, parsed.Event.EventType)
	assert.Equal(t, "app.public.orders", parsed.Event.TableName)
	assert.InDelta(t, 0.42, parsed.Event.ElapsedS, 0.001)
}

func TestStderrParserSlowQuery(t *testing.T) {
	p := NewStderrParser("")
	parsed := p.ParseLine(`2026-02-07 12:12:00.000 UTC [55] LOG:  duration: 1523.456 ms  statement: SELECT * FROM big_table WHERE id = 42`)
	require.NotNil(t, parsed)
	assert.Equal(t, KindSlowQuery, parsed.Kind)
	assert.Equal(t, model.EventSlowQuery, parsed.Event.EventType)
	assert.InDelta(t, 1.523456, parsed.Event.ElapsedS, 0.0001)
	assert.Contains(t, parsed.Event.Message, "SELECT * FROM big_table")
}

func TestCsvlogParser(t *testing.T) {
	p := NewCsvlogParser()

	// csvlog column layout: ...,error_severity(11),sql_state(12),message(13),...
	line := `2026-02-07 12:00:01.123 UTC,"app","appdb",4242,"10.0.0.5:51234",63e4,1,"SELECT",2026-02-07 11:59:00 UTC,5/42,12345,ERROR,42P01,"relation ""users"" does not exist",,,,,,"SELECT * FROM users",15,,"psql",,0`
	parsed := p.ParseLine(line)
	require.NotNil(t, parsed)
	assert.Equal(t, KindError, parsed.Kind)
	assert.Equal(t, model.SeverityError, parsed.Severity)
	assert.Equal(t, `relation "users" does not exist`, parsed.Message)
	assert.Equal(t, "SELECT * FROM users", parsed.Statement)
}

func TestCsvlogParserLogEvent(t *testing.T) {
	p := NewCsvlogParser()
	line := `2026-02-07 12:05:00.000 UTC,,,33,,63e4,2,,2026-02-07 11:00:00 UTC,,0,LOG,00000,"checkpoint starting: time",,,,,,,,,"",,0`
	parsed := p.ParseLine(line)
	require.NotNil(t, parsed)
	assert.Equal(t, KindCheckpointStarting, parsed.Kind)
}

func TestCsvlogParserRejectsMalformed(t *testing.T) {
	p := NewCsvlogParser()
	assert.Nil(t, p.ParseLine("not,a,csv,log"))
	assert.Nil(t, p.ParseLine(""))
}

func TestNormalizeError(t *testing.T) {
	assert.Equal(t, `relation "..." does not exist`, NormalizeError(`relation "users" does not exist`))
	assert.Equal(t, `duplicate key value violates unique constraint "..."`, NormalizeError(`duplicate key value violates unique constraint "users_pkey"`))
	assert.Equal(t, `invalid input syntax for type integer: '...'`, NormalizeError(`invalid input syntax for type integer: '42abc'`))
	assert.Equal(t, "deadlock detected after ... ms", NormalizeError("deadlock detected after 1000 ms"))
}

func TestNormalizeErrorGroupsSameShape(t *testing.T) {
	a := NormalizeError(`relation "users" does not exist`)
	b := NormalizeError(`relation "orders" does not exist`)
	assert.Equal(t, a, b)
}

func TestNormalizeErrorTruncates(t *testing.T) {
	long := make([]byte, 5000)
	for i := range long {
		long[i] = 'x'
	}
	out := NormalizeError(string(long))
	assert.LessOrEqual(t, len(out), MaxLogMessageLen)
}

func TestCategorizeError(t *testing.T) {
	assert.Equal(t, model.CategoryLock, CategorizeError("deadlock detected"))
	assert.Equal(t, model.CategoryConstraint, CategorizeError(`duplicate key value violates unique constraint "..."`))
	assert.Equal(t, model.CategorySerialization, CategorizeError("could not serialize access due to concurrent update"))
	assert.Equal(t, model.CategoryTimeout, CategorizeError("canceling statement due to statement timeout"))
	assert.Equal(t, model.CategoryConnection, CategorizeError("connection reset by peer"))
	assert.Equal(t, model.CategoryAuth, CategorizeError(`password authentication failed for user "..."`))
	assert.Equal(t, model.CategorySyntax, CategorizeError("syntax error at or near ..."))
	assert.Equal(t, model.CategoryResource, CategorizeError("out of memory"))
	assert.Equal(t, model.CategoryDataCorruption, CategorizeError(`invalid page in block ... of relation "..."`))
	assert.Equal(t, model.CategorySystem, CategorizeError(`could not open file "...": Input/output error`))
	assert.Equal(t, model.CategoryOther, CategorizeError("something completely different"))
}
