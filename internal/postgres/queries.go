package postgres

import "fmt"

// Server version thresholds (server_version_num form).
const (
	PostgresV13 = 130000
	PostgresV14 = 140000
	PostgresV17 = 170000
)

// selectActivityQuery returns the pg_stat_activity query for the given
// server version. query_id exists since 14; older servers get 0::bigint.
func selectActivityQuery(version int) string {
	queryIDExpr := "0::bigint AS query_id"
	if version >= PostgresV14 {
		queryIDExpr = "COALESCE(query_id, 0)::bigint AS query_id"
	}

	return fmt.Sprintf(`SELECT
    pid,
    COALESCE(datname, '') AS datname,
    COALESCE(usename, '') AS usename,
    COALESCE(application_name, '') AS application_name,
    COALESCE(client_addr::text, '') AS client_addr,
    COALESCE(state, '') AS state,
    COALESCE(query, '') AS query,
    %s,
    COALESCE(wait_event_type, '') AS wait_event_type,
    COALESCE(wait_event, '') AS wait_event,
    COALESCE(backend_type, '') AS backend_type,
    COALESCE(EXTRACT(EPOCH FROM backend_start)::bigint, 0) AS backend_start,
    COALESCE(EXTRACT(EPOCH FROM xact_start)::bigint, 0) AS xact_start,
    COALESCE(EXTRACT(EPOCH FROM query_start)::bigint, 0) AS query_start
FROM pg_stat_activity`, queryIDExpr)
}

// selectStatementsQuery returns the pg_stat_statements query. The timing
// columns were renamed total_time → total_exec_time (etc.) in 13, which
// also added WAL and plan-time counters.
func selectStatementsQuery(version int) string {
	totalExec, meanExec, minExec, maxExec, stddevExec := "s.total_time", "s.mean_time", "s.min_time", "s.max_time", "s.stddev_time"
	totalPlan, walRecords, walBytes := "0", "0", "0"
	if version >= PostgresV13 {
		totalExec, meanExec, minExec, maxExec, stddevExec = "s.total_exec_time", "s.mean_exec_time", "s.min_exec_time", "s.max_exec_time", "s.stddev_exec_time"
		totalPlan, walRecords, walBytes = "s.total_plan_time", "s.wal_records", "s.wal_bytes"
	}

	return fmt.Sprintf(`SELECT
    s.userid, s.dbid, s.queryid,
    COALESCE(d.datname, '') AS datname,
    COALESCE(r.rolname, '') AS usename,
    COALESCE(s.query, '') AS query,
    s.calls,
    %s::double precision AS total_exec_time,
    %s::double precision AS mean_exec_time,
    %s::double precision AS min_exec_time,
    %s::double precision AS max_exec_time,
    %s::double precision AS stddev_exec_time,
    s.rows,
    s.shared_blks_read, s.shared_blks_hit, s.shared_blks_written, s.shared_blks_dirtied,
    s.local_blks_read, s.local_blks_written,
    s.temp_blks_read, s.temp_blks_written,
    %s::bigint AS wal_records,
    %s::bigint AS wal_bytes,
    %s::double precision AS total_plan_time
FROM pg_stat_statements s
LEFT JOIN pg_database d ON d.oid = s.dbid
LEFT JOIN pg_roles r ON r.oid = s.userid
ORDER BY total_exec_time DESC
LIMIT 500`, totalExec, meanExec, minExec, maxExec, stddevExec, walRecords, walBytes, totalPlan)
}

// selectDatabaseQuery returns the pg_stat_database query. Session counters
// were added in 14.
func selectDatabaseQuery(version int) string {
	sessionCols := `0::double precision AS session_time,
    0::double precision AS active_time,
    0::double precision AS idle_in_transaction_time,
    0::bigint AS sessions,
    0::bigint AS sessions_abandoned,
    0::bigint AS sessions_fatal,
    0::bigint AS sessions_killed`
	if version >= PostgresV14 {
		sessionCols = `COALESCE(session_time, 0)::double precision AS session_time,
    COALESCE(active_time, 0)::double precision AS active_time,
    COALESCE(idle_in_transaction_time, 0)::double precision AS idle_in_transaction_time,
    COALESCE(sessions, 0)::bigint AS sessions,
    COALESCE(sessions_abandoned, 0)::bigint AS sessions_abandoned,
    COALESCE(sessions_fatal, 0)::bigint AS sessions_fatal,
    COALESCE(sessions_killed, 0)::bigint AS sessions_killed`
	}

	return fmt.Sprintf(`SELECT
    datid,
    COALESCE(datname, '') AS datname,
    COALESCE(xact_commit, 0) AS xact_commit,
    COALESCE(xact_rollback, 0) AS xact_rollback,
    COALESCE(blks_read, 0) AS blks_read,
    COALESCE(blks_hit, 0) AS blks_hit,
    COALESCE(tup_returned, 0) AS tup_returned,
    COALESCE(tup_fetched, 0) AS tup_fetched,
    COALESCE(tup_inserted, 0) AS tup_inserted,
    COALESCE(tup_updated, 0) AS tup_updated,
    COALESCE(tup_deleted, 0) AS tup_deleted,
    COALESCE(conflicts, 0) AS conflicts,
    COALESCE(temp_files, 0) AS temp_files,
    COALESCE(temp_bytes, 0) AS temp_bytes,
    COALESCE(deadlocks, 0) AS deadlocks,
    COALESCE(checksum_failures, 0) AS checksum_failures,
    COALESCE(blk_read_time, 0)::double precision AS blk_read_time,
    COALESCE(blk_write_time, 0)::double precision AS blk_write_time,
    %s
FROM pg_stat_database
WHERE datname IS NOT NULL AND datname NOT IN ('template0', 'template1')`, sessionCols)
}

// selectBgwriterQuery returns the bgwriter/checkpointer query. PG 17 split
// the view: checkpoint counters moved to pg_stat_checkpointer, and
// backend-written buffers moved to pg_stat_io (reported as 0 to preserve
// the row shape).
func selectBgwriterQuery(version int) string {
	if version >= PostgresV17 {
		return `SELECT
    COALESCE(c.num_timed, 0)::bigint AS checkpoints_timed,
    COALESCE(c.num_requested, 0)::bigint AS checkpoints_req,
    COALESCE(c.write_time, 0)::double precision AS checkpoint_write_time,
    COALESCE(c.sync_time, 0)::double precision AS checkpoint_sync_time,
    COALESCE(c.buffers_written, 0)::bigint AS buffers_checkpoint,
    COALESCE(b.buffers_clean, 0)::bigint AS buffers_clean,
    COALESCE(b.maxwritten_clean, 0)::bigint AS maxwritten_clean,
    0::bigint AS buffers_backend,
    0::bigint AS buffers_backend_fsync,
    COALESCE(b.buffers_alloc, 0)::bigint AS buffers_alloc
FROM pg_stat_bgwriter b
CROSS JOIN pg_stat_checkpointer c`
	}
	return `SELECT
    COALESCE(checkpoints_timed, 0)::bigint AS checkpoints_timed,
    COALESCE(checkpoints_req, 0)::bigint AS checkpoints_req,
    COALESCE(checkpoint_write_time, 0)::double precision AS checkpoint_write_time,
    COALESCE(checkpoint_sync_time, 0)::double precision AS checkpoint_sync_time,
    COALESCE(buffers_checkpoint, 0)::bigint AS buffers_checkpoint,
    COALESCE(buffers_clean, 0)::bigint AS buffers_clean,
    COALESCE(maxwritten_clean, 0)::bigint AS maxwritten_clean,
    COALESCE(buffers_backend, 0)::bigint AS buffers_backend,
    COALESCE(buffers_backend_fsync, 0)::bigint AS buffers_backend_fsync,
    COALESCE(buffers_alloc, 0)::bigint AS buffers_alloc
FROM pg_stat_bgwriter`
}

// selectProgressVacuumQuery returns the pg_stat_progress_vacuum query.
// PG 17 renamed max_dead_tuples → max_dead_tuple_bytes and num_dead_tuples
// → num_dead_item_ids, and added dead_tuple_bytes/indexes columns.
func selectProgressVacuumQuery(version int) string {
	if version >= PostgresV17 {
		return `SELECT
    pid,
    COALESCE(datname, '') AS datname,
    relid::bigint,
    COALESCE(phase, '') AS phase,
    heap_blks_total, heap_blks_scanned, heap_blks_vacuumed,
    index_vacuum_count,
    max_dead_tuple_bytes AS max_dead_tuples,
    num_dead_item_ids AS num_dead_tuples,
    dead_tuple_bytes, indexes_total, indexes_processed
FROM pg_stat_progress_vacuum`
	}
	return `SELECT
    pid,
    COALESCE(datname, '') AS datname,
    relid::bigint,
    COALESCE(phase, '') AS phase,
    heap_blks_total, heap_blks_scanned, heap_blks_vacuumed,
    index_vacuum_count,
    max_dead_tuples,
    num_dead_tuples,
    0::bigint AS dead_tuple_bytes,
    0::bigint AS indexes_total,
    0::bigint AS indexes_processed
FROM pg_stat_progress_vacuum`
}

// selectUserTablesQuery returns the per-database tables query. All columns
// exist on every supported version.
func selectUserTablesQuery() string {
	return `SELECT
    relid::bigint,
    COALESCE(schemaname, '') AS schemaname,
    COALESCE(relname, '') AS relname,
    COALESCE(seq_scan, 0)::bigint AS seq_scan,
    COALESCE(seq_tup_read, 0)::bigint AS seq_tup_read,
    COALESCE(idx_scan, 0)::bigint AS idx_scan,
    COALESCE(idx_tup_fetch, 0)::bigint AS idx_tup_fetch,
    COALESCE(n_tup_ins, 0)::bigint AS n_tup_ins,
    COALESCE(n_tup_upd, 0)::bigint AS n_tup_upd,
    COALESCE(n_tup_del, 0)::bigint AS n_tup_del,
    COALESCE(n_tup_hot_upd, 0)::bigint AS n_tup_hot_upd,
    COALESCE(n_live_tup, 0)::bigint AS n_live_tup,
    COALESCE(n_dead_tup, 0)::bigint AS n_dead_tup,
    COALESCE(vacuum_count, 0)::bigint AS vacuum_count,
    COALESCE(autovacuum_count, 0)::bigint AS autovacuum_count,
    COALESCE(analyze_count, 0)::bigint AS analyze_count,
    COALESCE(autoanalyze_count, 0)::bigint AS autoanalyze_count,
    COALESCE(EXTRACT(EPOCH FROM last_vacuum)::bigint, 0) AS last_vacuum,
    COALESCE(EXTRACT(EPOCH FROM last_autovacuum)::bigint, 0) AS last_autovacuum,
    COALESCE(EXTRACT(EPOCH FROM last_analyze)::bigint, 0) AS last_analyze,
    COALESCE(EXTRACT(EPOCH FROM last_autoanalyze)::bigint, 0) AS last_autoanalyze,
    COALESCE(pg_relation_size(relid), 0)::bigint AS size_bytes
FROM pg_stat_user_tables
ORDER BY COALESCE(seq_scan, 0) + COALESCE(idx_scan, 0) DESC
LIMIT 500`
}

// selectStatioUserTablesQuery returns the I/O counters merged into table
// rows by relid.
func selectStatioUserTablesQuery() string {
	return `SELECT
    relid::bigint,
    COALESCE(heap_blks_read, 0)::bigint AS heap_blks_read,
    COALESCE(heap_blks_hit, 0)::bigint AS heap_blks_hit,
    COALESCE(idx_blks_read, 0)::bigint AS idx_blks_read,
    COALESCE(idx_blks_hit, 0)::bigint AS idx_blks_hit,
    COALESCE(toast_blks_read, 0)::bigint AS toast_blks_read,
    COALESCE(toast_blks_hit, 0)::bigint AS toast_blks_hit,
    COALESCE(tidx_blks_read, 0)::bigint AS tidx_blks_read,
    COALESCE(tidx_blks_hit, 0)::bigint AS tidx_blks_hit
FROM pg_statio_user_tables
ORDER BY COALESCE(heap_blks_read, 0) + COALESCE(idx_blks_read, 0) DESC
LIMIT 500`
}

// selectUserIndexesQuery returns the per-database indexes query.
func selectUserIndexesQuery() string {
	return `SELECT
    i.indexrelid::bigint,
    i.relid::bigint,
    COALESCE(i.schemaname, '') AS schemaname,
    COALESCE(i.relname, '') AS relname,
    COALESCE(i.indexrelname, '') AS indexrelname,
    COALESCE(i.idx_scan, 0)::bigint AS idx_scan,
    COALESCE(i.idx_tup_read, 0)::bigint AS idx_tup_read,
    COALESCE(i.idx_tup_fetch, 0)::bigint AS idx_tup_fetch,
    COALESCE(pg_relation_size(i.indexrelid), 0)::bigint AS size_bytes
FROM pg_stat_user_indexes i
ORDER BY COALESCE(i.idx_scan, 0) DESC
LIMIT 500`
}

// selectStatioUserIndexesQuery returns index I/O counters merged by
// indexrelid.
func selectStatioUserIndexesQuery() string {
	return `SELECT
    indexrelid::bigint,
    COALESCE(idx_blks_read, 0)::bigint AS idx_blks_read,
    COALESCE(idx_blks_hit, 0)::bigint AS idx_blks_hit
FROM pg_statio_user_indexes
ORDER BY COALESCE(idx_blks_read, 0) DESC
LIMIT 500`
}

// selectLockTreeQuery returns the recursive CTE computing blocking chains
// via pg_blocking_pids(). Rows come back in DFS order with depth and
// root_pid; depth 1 rows are roots. Zero rows when nothing blocks.
func selectLockTreeQuery() string {
	return `WITH RECURSIVE activity AS (
    SELECT
        a.pid,
        pg_blocking_pids(a.pid) AS blocked_by,
        COALESCE(a.datname, '') AS datname,
        COALESCE(a.usename, '') AS usename,
        COALESCE(a.state, '') AS state,
        COALESCE(a.wait_event_type, '') AS wait_event_type,
        COALESCE(a.wait_event, '') AS wait_event,
        COALESCE(a.query, '') AS query,
        COALESCE(a.application_name, '') AS application_name,
        COALESCE(a.backend_type, '') AS backend_type,
        COALESCE(EXTRACT(EPOCH FROM a.xact_start)::bigint, 0) AS xact_start,
        COALESCE(EXTRACT(EPOCH FROM a.query_start)::bigint, 0) AS query_start,
        COALESCE(EXTRACT(EPOCH FROM a.state_change)::bigint, 0) AS state_change
    FROM pg_stat_activity a
    WHERE a.state IS DISTINCT FROM 'idle'
),
blockers AS (
    SELECT array_agg(DISTINCT c ORDER BY c) AS pids
    FROM (SELECT unnest(blocked_by) AS c FROM activity) dt
),
tree AS (
    SELECT
        activity.*,
        1 AS depth,
        activity.pid AS root_pid,
        ARRAY[activity.pid] AS path,
        ARRAY[activity.pid]::int[] AS all_above
    FROM activity, blockers
    WHERE ARRAY[activity.pid] <@ blockers.pids
      AND activity.blocked_by = '{}'::int[]
    UNION ALL
    SELECT
        activity.*,
        tree.depth + 1,
        tree.root_pid,
        tree.path || activity.pid,
        tree.all_above || array_agg(activity.pid) OVER ()
    FROM activity, tree
    WHERE activity.blocked_by <> '{}'::int[]
      AND activity.blocked_by <@ tree.all_above
      AND NOT ARRAY[activity.pid] <@ tree.all_above
),
lock_info AS (
    SELECT DISTINCT ON (l.pid)
        l.pid,
        COALESCE(l.locktype, '') AS lock_type,
        COALESCE(l.mode, '') AS lock_mode,
        l.granted AS lock_granted,
        COALESCE(n.nspname || '.' || c.relname, l.relation::text, '') AS lock_target
    FROM pg_locks l
    LEFT JOIN pg_class c ON c.oid = l.relation
    LEFT JOIN pg_namespace n ON n.oid = c.relnamespace
    WHERE l.pid IN (SELECT pid FROM tree)
    ORDER BY l.pid, l.granted ASC, l.relation NULLS LAST
)
SELECT
    t.pid, t.depth, t.root_pid,
    t.datname, t.usename, t.state,
    t.wait_event_type, t.wait_event, t.query,
    t.application_name, t.backend_type,
    t.xact_start, t.query_start, t.state_change,
    COALESCE(li.lock_type, '') AS lock_type,
    COALESCE(li.lock_mode, '') AS lock_mode,
    COALESCE(li.lock_granted, true) AS lock_granted,
    COALESCE(li.lock_target, '') AS lock_target
FROM tree t
LEFT JOIN lock_info li ON li.pid = t.pid
ORDER BY t.root_pid, t.path`
}

// selectStorePlansQuery returns the pg_store_plans query. Two forks of the
// extension exist with different column names; ossc selects the classic
// layout, the other one carries queryid under queryid_stat_statements.
func selectStorePlansQuery(ossc bool) string {
	queryIDCol := "p.queryid_stat_statements"
	if ossc {
		queryIDCol = "p.queryid"
	}
	return fmt.Sprintf(`SELECT
    %s::bigint AS stmt_queryid,
    p.planid::bigint,
    COALESCE(p.plan, '') AS plan,
    p.userid, p.dbid,
    COALESCE(d.datname, '') AS datname,
    COALESCE(r.rolname, '') AS usename,
    p.calls,
    COALESCE(p.total_time, 0)::double precision AS total_time,
    COALESCE(p.mean_time, 0)::double precision AS mean_time,
    COALESCE(p.min_time, 0)::double precision AS min_time,
    COALESCE(p.max_time, 0)::double precision AS max_time,
    COALESCE(p.stddev_time, 0)::double precision AS stddev_time,
    p.rows,
    COALESCE(p.shared_blks_hit, 0) AS shared_blks_hit,
    COALESCE(p.shared_blks_read, 0) AS shared_blks_read,
    COALESCE(p.shared_blks_dirtied, 0) AS shared_blks_dirtied,
    COALESCE(p.shared_blks_written, 0) AS shared_blks_written,
    COALESCE(p.local_blks_read, 0) AS local_blks_read,
    COALESCE(p.local_blks_written, 0) AS local_blks_written,
    COALESCE(p.temp_blks_read, 0) AS temp_blks_read,
    COALESCE(p.temp_blks_written, 0) AS temp_blks_written,
    COALESCE(p.blk_read_time, 0)::double precision AS blk_read_time,
    COALESCE(p.blk_write_time, 0)::double precision AS blk_write_time,
    COALESCE(EXTRACT(EPOCH FROM p.first_call)::bigint, 0) AS first_call,
    COALESCE(EXTRACT(EPOCH FROM p.last_call)::bigint, 0) AS last_call
FROM pg_store_plans p
LEFT JOIN pg_database d ON d.oid = p.dbid
LEFT JOIN pg_roles r ON r.oid = p.userid
ORDER BY total_time DESC
LIMIT 500`, queryIDCol)
}

// selectReplicationQuery returns per-replica status from pg_stat_replication.
func selectReplicationQuery() string {
	return `SELECT
    COALESCE(client_addr::text, '') AS client_addr,
    COALESCE(application_name, '') AS application_name,
    COALESCE(state, '') AS state,
    COALESCE(sync_state, '') AS sync_state,
    COALESCE(pg_wal_lsn_diff(sent_lsn, replay_lsn), -1)::bigint AS replay_lag_bytes
FROM pg_stat_replication`
}

// selectSettingsQuery returns the pg_settings snapshot query.
func selectSettingsQuery() string {
	return `SELECT name, setting, COALESCE(unit, '') FROM pg_settings ORDER BY name`
}
