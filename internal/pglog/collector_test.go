package pglog

import (
	"fmt"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/vadv/rpglot/internal/intern"
	"github.com/vadv/rpglot/internal/model"
)

func newStderrCollector() *Collector {
	c := NewCollector()
	c.stderrParser = NewStderrParser("")
	return c
}

func TestAccumulateAndDrainGroupsErrors(t *testing.T) {
	c := newStderrCollector()
	in := intern.New()

	c.accumulate(`2026-02-07 12:00:01 UTC [1] ERROR:  relation "users" does not exist`)
	c.accumulate(`2026-02-07 12:00:02 UTC [2] ERROR:  relation "orders" does not exist`)
	c.accumulate(`2026-02-07 12:00:03 UTC [3] FATAL:  database "mydb" does not exist`)

	result := c.drain(in)

	// the two relation errors share a pattern
	require.Len(t, result.Errors, 2)
	var errorEntry, fatalEntry *model.PgLogEntry
	for i := range result.Errors {
		switch result.Errors[i].Severity {
		case model.SeverityError:
			errorEntry = &result.Errors[i]
		case model.SeverityFatal:
			fatalEntry = &result.Errors[i]
		}
	}
	require.NotNil(t, errorEntry)
	require.NotNil(t, fatalEntry)
	assert.Equal(t, uint32(2), errorEntry.Count)
	assert.Equal(t, uint32(1), fatalEntry.Count)

	// first raw message retained as sample
	sample, ok := in.Resolve(errorEntry.SampleHash)
	require.True(t, ok)
	assert.Contains(t, sample, `"users"`)
}

func TestDrainKeepsTopPatterns(t *testing.T) {
	c := newStderrCollector()
	in := intern.New()

	for i := 0; i < 50; i++ {
		c.accumulate(fmt.Sprintf(`2026-02-07 12:00:01 UTC [1] ERROR:  custom error variant alpha%c happened`, 'a'+byte(i%26)))
		// make distinct patterns with non-normalizable literals
		c.accumulate(fmt.Sprintf(`2026-02-07 12:00:01 UTC [1] ERROR:  unique failure kind %c detected`, 'a'+byte(i%50)))
	}

	result := c.drain(in)
	assert.LessOrEqual(t, len(result.Errors), 32)
}

func TestDrainClearsPending(t *testing.T) {
	c := newStderrCollector()
	in := intern.New()

	c.accumulate(`2026-02-07 12:00:01 UTC [1] ERROR:  some error`)
	result := c.drain(in)
	assert.Len(t, result.Errors, 1)

	result = c.drain(in)
	assert.Empty(t, result.Errors)
	assert.Empty(t, result.Events)
}

func TestStatementAttachment(t *testing.T) {
	c := newStderrCollector()
	in := intern.New()

	c.accumulate(`2026-02-07 12:00:01 UTC [1] ERROR:  division by zero`)
	c.accumulate(`2026-02-07 12:00:01 UTC [1] STATEMENT:  SELECT 1/0`)

	result := c.drain(in)
	require.Len(t, result.Errors, 1)
	stmt, ok := in.Resolve(result.Errors[0].StatementHash)
	require.True(t, ok)
	assert.Equal(t, "SELECT 1/0", stmt)
}

func TestEventCounts(t *testing.T) {
	c := newStderrCollector()
	in := intern.New()

	c.accumulate(`2026-02-07 12:00:01 UTC [1] LOG:  checkpoint starting: time`)
	c.accumulate(`2026-02-07 12:04:30 UTC [1] LOG:  checkpoint complete: wrote 10 buffers (0.1%); 0 WAL file(s) added, 0 removed, 1 recycled; write=1.0 s, sync=0.1 s, total=1.2 s; sync files=3, longest=0.1 s, average=0.0 s; distance=100 kB, estimate=100 kB`)
	c.accumulate(`2026-02-07 12:05:00 UTC [2] LOG:  automatic vacuum of table "app.public.users": index scans: 0 tuples: 5 removed, 100 remain`)
	c.accumulate(`2026-02-07 12:05:10 UTC [3] LOG:  duration: 2500.0 ms  statement: SELECT pg_sleep(2.5)`)
	c.accumulate(`2026-02-07 12:05:11 UTC [3] LOG:  duration: 2600.0 ms  statement: SELECT pg_sleep(2.6)`)

	result := c.drain(in)
	assert.Equal(t, uint16(2), result.Counts.CheckpointCount)
	assert.Equal(t, uint16(1), result.Counts.AutovacuumCount)
	assert.Equal(t, uint16(2), result.Counts.SlowQueryCount)

	// the two pg_sleep calls normalize to the same statement and group
	var slow *model.PgLogEventEntry
	for i := range result.Events {
		if result.Events[i].EventType == model.EventSlowQuery {
			slow = &result.Events[i]
		}
	}
	require.NotNil(t, slow)
	assert.Equal(t, uint16(2), slow.Count)
	assert.InDelta(t, 2.6, slow.ElapsedS, 0.001)
}

func TestContainsCsvlog(t *testing.T) {
	assert.True(t, containsCsvlog("csvlog"))
	assert.True(t, containsCsvlog("stderr, csvlog"))
	assert.False(t, containsCsvlog("stderr"))
	assert.False(t, containsCsvlog("stderr,jsonlog"))
}
