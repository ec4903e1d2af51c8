package postgres

import (
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestReplaceDbname(t *testing.T) {
	conn := "host=localhost port=5432 user=app dbname=postgres"
	assert.Equal(t, "host=localhost port=5432 user=app dbname=mydb", ReplaceDbname(conn, "mydb"))

	// appended when missing
	conn = "host=localhost port=5432 user=app"
	assert.Equal(t, "host=localhost port=5432 user=app dbname=mydb", ReplaceDbname(conn, "mydb"))

	// dbname at the start
	assert.Equal(t, "dbname=new host=localhost user=app", ReplaceDbname("dbname=old host=localhost user=app", "new"))
}

func TestReplaceDbnameIdempotent(t *testing.T) {
	conn := "host=localhost user=app dbname=postgres"
	once := ReplaceDbname(conn, "a")
	assert.Equal(t, ReplaceDbname(conn, "b"), ReplaceDbname(once, "b"))
}

func TestSelectActivityQueryVersions(t *testing.T) {
	q := selectActivityQuery(PostgresV14)
	assert.Contains(t, q, "COALESCE(query_id, 0)::bigint AS query_id")

	q = selectActivityQuery(130000)
	assert.Contains(t, q, "0::bigint AS query_id")
	assert.NotContains(t, q, "COALESCE(query_id")
}

func TestSelectStatementsQueryVersions(t *testing.T) {
	q := selectStatementsQuery(PostgresV13)
	assert.Contains(t, q, "s.total_exec_time::double precision AS total_exec_time")
	assert.Contains(t, q, "s.wal_records::bigint AS wal_records")
	assert.Contains(t, q, "s.total_plan_time::double precision AS total_plan_time")
	assert.Contains(t, q, "LEFT JOIN pg_database")
	assert.Contains(t, q, "LEFT JOIN pg_roles")

	q = selectStatementsQuery(120000)
	assert.Contains(t, q, "s.total_time::double precision AS total_exec_time")
	assert.Contains(t, q, "0::bigint AS wal_records")
	assert.Contains(t, q, "0::double precision AS total_plan_time")
}

func TestSelectDatabaseQueryVersions(t *testing.T) {
	q := selectDatabaseQuery(PostgresV14)
	assert.Contains(t, q, "COALESCE(session_time, 0)")
	assert.Contains(t, q, "COALESCE(sessions_killed, 0)")

	q = selectDatabaseQuery(120000)
	assert.Contains(t, q, "0::double precision AS session_time")
	assert.Contains(t, q, "0::bigint AS sessions")
}

func TestSelectBgwriterQueryVersions(t *testing.T) {
	q := selectBgwriterQuery(160000)
	assert.Contains(t, q, "FROM pg_stat_bgwriter")
	assert.NotContains(t, q, "pg_stat_checkpointer")
	assert.Contains(t, q, "COALESCE(buffers_backend, 0)")

	q = selectBgwriterQuery(PostgresV17)
	assert.Contains(t, q, "pg_stat_checkpointer")
	assert.Contains(t, q, "num_timed")
	assert.Contains(t, q, "0::bigint AS buffers_backend")
}

func TestSelectProgressVacuumQueryVersions(t *testing.T) {
	q := selectProgressVacuumQuery(160000)
	assert.Contains(t, q, "max_dead_tuples")
	assert.Contains(t, q, "0::bigint AS dead_tuple_bytes")
	assert.NotContains(t, q, "max_dead_tuple_bytes")

	q = selectProgressVacuumQuery(PostgresV17)
	assert.Contains(t, q, "max_dead_tuple_bytes AS max_dead_tuples")
	assert.Contains(t, q, "num_dead_item_ids AS num_dead_tuples")
	assert.Contains(t, q, "indexes_processed")
}

func TestSelectStorePlansQueryForks(t *testing.T) {
	q := selectStorePlansQuery(true)
	assert.Contains(t, q, "p.queryid::bigint AS stmt_queryid")

	q = selectStorePlansQuery(false)
	assert.Contains(t, q, "p.queryid_stat_statements::bigint AS stmt_queryid")
}

func TestSelectLockTreeQueryShape(t *testing.T) {
	q := selectLockTreeQuery()
	assert.Contains(t, q, "WITH RECURSIVE")
	assert.Contains(t, q, "pg_blocking_pids")
	assert.Contains(t, q, "ORDER BY t.root_pid, t.path")
}

func TestStatioQueriesShape(t *testing.T) {
	assert.Contains(t, selectStatioUserTablesQuery(), "pg_statio_user_tables")
	assert.Contains(t, selectStatioUserTablesQuery(), "tidx_blks_hit")
	assert.Contains(t, selectStatioUserIndexesQuery(), "pg_statio_user_indexes")
}

func TestBuildConnString(t *testing.T) {
	t.Setenv("PGUSER", "monitor")
	t.Setenv("PGHOST", "db.internal")
	t.Setenv("PGPORT", "5433")
	t.Setenv("PGPASSWORD", "secret")
	t.Setenv("PGDATABASE", "app")

	conn, explicit, err := BuildConnString()
	assert.NoError(t, err)
	assert.True(t, explicit)
	assert.Contains(t, conn, "host=db.internal")
	assert.Contains(t, conn, "port=5433")
	assert.Contains(t, conn, "user=monitor")
	assert.Contains(t, conn, "dbname=app")
	assert.Contains(t, conn, "password=secret")
}

func TestBuildConnStringDefaults(t *testing.T) {
	t.Setenv("PGUSER", "monitor")
	t.Setenv("PGHOST", "")
	t.Setenv("PGPORT", "")
	t.Setenv("PGPASSWORD", "")
	// PGDATABASE is present in the environment but empty
	t.Setenv("PGDATABASE", "")
	conn, explicit, err := BuildConnString()
	assert.NoError(t, err)
	// PGDATABASE set-but-empty falls back to the user name but counts as explicit
	assert.True(t, explicit)
	assert.True(t, strings.HasPrefix(conn, "host=localhost port=5432 user=monitor dbname=monitor"))
}
