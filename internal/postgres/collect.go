package postgres

import (
	"context"
	"time"

	"github.com/vadv/rpglot/internal/intern"
	"github.com/vadv/rpglot/internal/log"
	"github.com/vadv/rpglot/internal/model"
)

// statementsCacheEntry keeps a collected row plus the raw strings it was
// built from, so a cached result can be re-interned into a freshly reset
// interner after a chunk flush.
type statementsCacheEntry struct {
	info    model.PgStatStatementsInfo
	datname string
	usename string
	query   string
}

type plansCacheEntry struct {
	info    model.PgStorePlansInfo
	datname string
	usename string
	plan    string
}

// CollectActivity queries pg_stat_activity on the primary session.
func (c *Collector) CollectActivity(interner *intern.Interner) model.PgStatActivityBlock {
	if err := c.ensureConnected(); err != nil {
		return nil
	}

	rows, err := c.db.Conn().Query(context.Background(), selectActivityQuery(c.serverVersion))
	if err != nil {
		c.fail(err)
		return nil
	}
	defer rows.Close()

	var out model.PgStatActivityBlock
	for rows.Next() {
		var (
			pid                                               int32
			datname, usename, appName, clientAddr             string
			state, query                                      string
			queryID                                           int64
			waitEventType, waitEvent, backendType             string
			backendStart, xactStart, queryStart               int64
		)
		if err := rows.Scan(&pid, &datname, &usename, &appName, &clientAddr, &state, &query, &queryID,
			&waitEventType, &waitEvent, &backendType, &backendStart, &xactStart, &queryStart); err != nil {
			log.Warnf("scan pg_stat_activity row failed: %s; skip", err)
			continue
		}
		out = append(out, model.PgStatActivityInfo{
			Pid:                 pid,
			DatnameHash:         interner.Intern(datname),
			UsenameHash:         interner.Intern(usename),
			ApplicationNameHash: interner.Intern(appName),
			ClientAddr:          clientAddr,
			StateHash:           interner.Intern(state),
			QueryHash:           interner.Intern(query),
			QueryID:             queryID,
			WaitEventTypeHash:   interner.Intern(waitEventType),
			WaitEventHash:       interner.Intern(waitEvent),
			BackendTypeHash:     interner.Intern(backendType),
			BackendStart:        backendStart,
			XactStart:           xactStart,
			QueryStart:          queryStart,
		})
	}
	if err := rows.Err(); err != nil {
		c.fail(err)
		return nil
	}
	return out
}

// CollectStatements queries pg_stat_statements, serving the cached result
// inside the cache interval. A missing extension is detected once and
// skipped silently thereafter.
func (c *Collector) CollectStatements(interner *intern.Interner) model.PgStatStatementsBlock {
	if err := c.ensureConnected(); err != nil {
		return nil
	}

	if c.statementsState == extUnknown {
		if c.db.IsViewAvailable("pg_stat_statements") {
			c.statementsState = extAvailable
		} else {
			c.statementsState = extMissing
			log.Info("pg_stat_statements is not available, skipping")
		}
	}
	if c.statementsState == extMissing {
		return nil
	}

	if c.statementsCacheInterval > 0 && !c.statementsCacheTime.IsZero() &&
		time.Since(c.statementsCacheTime) < c.statementsCacheInterval {
		return c.statementsFromCache(interner)
	}

	rows, err := c.db.Conn().Query(context.Background(), selectStatementsQuery(c.serverVersion))
	if err != nil {
		c.fail(err)
		return nil
	}
	defer rows.Close()

	collectedAt := time.Now().Unix()
	cache := make([]statementsCacheEntry, 0, 256)
	for rows.Next() {
		var e statementsCacheEntry
		s := &e.info
		if err := rows.Scan(&s.UserID, &s.DBID, &s.QueryID, &e.datname, &e.usename, &e.query,
			&s.Calls, &s.TotalExecTime, &s.MeanExecTime, &s.MinExecTime, &s.MaxExecTime, &s.StddevExecTime,
			&s.Rows, &s.SharedBlksRead, &s.SharedBlksHit, &s.SharedBlksWritten, &s.SharedBlksDirtied,
			&s.LocalBlksRead, &s.LocalBlksWritten, &s.TempBlksRead, &s.TempBlksWritten,
			&s.WalRecords, &s.WalBytes, &s.TotalPlanTime); err != nil {
			log.Warnf("scan pg_stat_statements row failed: %s; skip", err)
			continue
		}
		s.CollectedAt = collectedAt
		cache = append(cache, e)
	}
	if err := rows.Err(); err != nil {
		c.fail(err)
		return nil
	}

	c.statementsCache = cache
	c.statementsCacheTime = time.Now()
	return c.statementsFromCache(interner)
}

func (c *Collector) statementsFromCache(interner *intern.Interner) model.PgStatStatementsBlock {
	if len(c.statementsCache) == 0 {
		return nil
	}
	out := make(model.PgStatStatementsBlock, 0, len(c.statementsCache))
	for _, e := range c.statementsCache {
		info := e.info
		info.DatnameHash = interner.Intern(e.datname)
		info.UsenameHash = interner.Intern(e.usename)
		info.QueryHash = interner.Intern(e.query)
		out = append(out, info)
	}
	return out
}

// CollectStorePlans queries pg_store_plans on its slow cadence. Both
// extension forks are handled; the active one is detected at first use.
func (c *Collector) CollectStorePlans(interner *intern.Interner) model.PgStorePlansBlock {
	if err := c.ensureConnected(); err != nil {
		return nil
	}

	if c.storePlansState == extUnknown {
		if !c.db.IsViewAvailable("pg_store_plans") {
			c.storePlansState = extMissing
			log.Info("pg_store_plans is not available, skipping")
			return nil
		}
		c.storePlansState = extAvailable
		// The ossc fork carries queryid directly; the other fork renamed it.
		var hasQueryid bool
		err := c.db.Conn().QueryRow(context.Background(),
			`SELECT EXISTS (SELECT 1 FROM information_schema.columns
			 WHERE table_name = 'pg_store_plans' AND column_name = 'queryid')`).Scan(&hasQueryid)
		c.storePlansOssc = err == nil && hasQueryid
	}
	if c.storePlansState == extMissing {
		return nil
	}

	if c.plansCacheInterval > 0 && !c.plansCacheTime.IsZero() &&
		time.Since(c.plansCacheTime) < c.plansCacheInterval {
		return c.plansFromCache(interner)
	}

	rows, err := c.db.Conn().Query(context.Background(), selectStorePlansQuery(c.storePlansOssc))
	if err != nil {
		c.fail(err)
		return nil
	}
	defer rows.Close()

	collectedAt := time.Now().Unix()
	cache := make([]plansCacheEntry, 0, 128)
	for rows.Next() {
		var e plansCacheEntry
		p := &e.info
		if err := rows.Scan(&p.StmtQueryID, &p.PlanID, &e.plan, &p.UserID, &p.DBID, &e.datname, &e.usename,
			&p.Calls, &p.TotalTime, &p.MeanTime, &p.MinTime, &p.MaxTime, &p.StddevTime, &p.Rows,
			&p.SharedBlksHit, &p.SharedBlksRead, &p.SharedBlksDirtied, &p.SharedBlksWritten,
			&p.LocalBlksRead, &p.LocalBlksWritten, &p.TempBlksRead, &p.TempBlksWritten,
			&p.BlkReadTime, &p.BlkWriteTime, &p.FirstCall, &p.LastCall); err != nil {
			log.Warnf("scan pg_store_plans row failed: %s; skip", err)
			continue
		}
		p.CollectedAt = collectedAt
		cache = append(cache, e)
	}
	if err := rows.Err(); err != nil {
		c.fail(err)
		return nil
	}

	c.plansCache = cache
	c.plansCacheTime = time.Now()
	return c.plansFromCache(interner)
}

func (c *Collector) plansFromCache(interner *intern.Interner) model.PgStorePlansBlock {
	if len(c.plansCache) == 0 {
		return nil
	}
	out := make(model.PgStorePlansBlock, 0, len(c.plansCache))
	for _, e := range c.plansCache {
		info := e.info
		info.DatnameHash = interner.Intern(e.datname)
		info.UsenameHash = interner.Intern(e.usename)
		info.PlanHash = interner.Intern(e.plan)
		out = append(out, info)
	}
	return out
}

// CollectDatabase queries pg_stat_database.
func (c *Collector) CollectDatabase(interner *intern.Interner) model.PgStatDatabaseBlock {
	if err := c.ensureConnected(); err != nil {
		return nil
	}

	rows, err := c.db.Conn().Query(context.Background(), selectDatabaseQuery(c.serverVersion))
	if err != nil {
		c.fail(err)
		return nil
	}
	defer rows.Close()

	var out model.PgStatDatabaseBlock
	for rows.Next() {
		var d model.PgStatDatabaseInfo
		var datname string
		if err := rows.Scan(&d.DatID, &datname, &d.XactCommit, &d.XactRollback, &d.BlksRead, &d.BlksHit,
			&d.TupReturned, &d.TupFetched, &d.TupInserted, &d.TupUpdated, &d.TupDeleted,
			&d.Conflicts, &d.TempFiles, &d.TempBytes, &d.Deadlocks, &d.ChecksumFailures,
			&d.BlkReadTime, &d.BlkWriteTime, &d.SessionTime, &d.ActiveTime, &d.IdleInTransactionTime,
			&d.Sessions, &d.SessionsAbandoned, &d.SessionsFatal, &d.SessionsKilled); err != nil {
			log.Warnf("scan pg_stat_database row failed: %s; skip", err)
			continue
		}
		d.DatnameHash = interner.Intern(datname)
		out = append(out, d)
	}
	if err := rows.Err(); err != nil {
		c.fail(err)
		return nil
	}
	return out
}

// CollectBgwriter queries the bgwriter/checkpointer singleton row.
func (c *Collector) CollectBgwriter() (model.PgStatBgwriterInfo, bool) {
	var b model.PgStatBgwriterInfo
	if err := c.ensureConnected(); err != nil {
		return b, false
	}

	err := c.db.Conn().QueryRow(context.Background(), selectBgwriterQuery(c.serverVersion)).Scan(
		&b.CheckpointsTimed, &b.CheckpointsReq, &b.CheckpointWriteTime, &b.CheckpointSyncTime,
		&b.BuffersCheckpoint, &b.BuffersClean, &b.MaxwrittenClean,
		&b.BuffersBackend, &b.BuffersBackendFsync, &b.BuffersAlloc)
	if err != nil {
		c.fail(err)
		return b, false
	}
	return b, true
}

// CollectProgressVacuum queries pg_stat_progress_vacuum.
func (c *Collector) CollectProgressVacuum(interner *intern.Interner) model.PgStatProgressVacuumBlock {
	if err := c.ensureConnected(); err != nil {
		return nil
	}

	rows, err := c.db.Conn().Query(context.Background(), selectProgressVacuumQuery(c.serverVersion))
	if err != nil {
		c.fail(err)
		return nil
	}
	defer rows.Close()

	var out model.PgStatProgressVacuumBlock
	for rows.Next() {
		var v model.PgStatProgressVacuumInfo
		var datname, phase string
		if err := rows.Scan(&v.Pid, &datname, &v.RelID, &phase,
			&v.HeapBlksTotal, &v.HeapBlksScanned, &v.HeapBlksVacuumed, &v.IndexVacuumCount,
			&v.MaxDeadTuples, &v.NumDeadTuples, &v.DeadTupleBytes, &v.IndexesTotal, &v.IndexesProcessed); err != nil {
			log.Warnf("scan pg_stat_progress_vacuum row failed: %s; skip", err)
			continue
		}
		v.DatnameHash = interner.Intern(datname)
		v.PhaseHash = interner.Intern(phase)
		out = append(out, v)
	}
	if err := rows.Err(); err != nil {
		c.fail(err)
		return nil
	}
	return out
}

// CollectTables gathers pg_stat_user_tables (+ statio counters) from every
// database of the pool.
func (c *Collector) CollectTables(interner *intern.Interner) model.PgStatUserTablesBlock {
	collectedAt := time.Now().Unix()
	var out model.PgStatUserTablesBlock

	for _, client := range c.dbClients {
		tables, err := collectTablesFrom(client, interner, collectedAt)
		if err != nil {
			log.Warnf("collect tables from %s failed: %s; skip", client.Datname, formatConnError(err))
			continue
		}
		out = append(out, tables...)
	}
	return out
}

func collectTablesFrom(client *DatabaseClient, interner *intern.Interner, collectedAt int64) ([]model.PgStatUserTablesInfo, error) {
	datnameHash := interner.Intern(client.Datname)

	rows, err := client.DB.Conn().Query(context.Background(), selectUserTablesQuery())
	if err != nil {
		return nil, err
	}

	var tables []model.PgStatUserTablesInfo
	byRelID := map[uint32]int{}
	for rows.Next() {
		var t model.PgStatUserTablesInfo
		var relID int64
		var schemaname, relname string
		if err := rows.Scan(&relID, &schemaname, &relname,
			&t.SeqScan, &t.SeqTupRead, &t.IdxScan, &t.IdxTupFetch,
			&t.NTupIns, &t.NTupUpd, &t.NTupDel, &t.NTupHotUpd, &t.NLiveTup, &t.NDeadTup,
			&t.VacuumCount, &t.AutovacuumCount, &t.AnalyzeCount, &t.AutoanalyzeCount,
			&t.LastVacuum, &t.LastAutovacuum, &t.LastAnalyze, &t.LastAutoanalyze, &t.SizeBytes); err != nil {
			log.Warnf("scan pg_stat_user_tables row failed: %s; skip", err)
			continue
		}
		t.RelID = uint32(relID)
		t.DatnameHash = datnameHash
		t.SchemanameHash = interner.Intern(schemaname)
		t.RelnameHash = interner.Intern(relname)
		t.CollectedAt = collectedAt
		byRelID[t.RelID] = len(tables)
		tables = append(tables, t)
	}
	rows.Close()
	if err := rows.Err(); err != nil {
		return nil, err
	}

	// merge I/O block counters by relid
	ioRows, err := client.DB.Conn().Query(context.Background(), selectStatioUserTablesQuery())
	if err != nil {
		return nil, err
	}
	defer ioRows.Close()
	for ioRows.Next() {
		var relID int64
		var heapRead, heapHit, idxRead, idxHit, toastRead, toastHit, tidxRead, tidxHit int64
		if err := ioRows.Scan(&relID, &heapRead, &heapHit, &idxRead, &idxHit, &toastRead, &toastHit, &tidxRead, &tidxHit); err != nil {
			continue
		}
		if idx, ok := byRelID[uint32(relID)]; ok {
			t := &tables[idx]
			t.HeapBlksRead, t.HeapBlksHit = heapRead, heapHit
			t.IdxBlksRead, t.IdxBlksHit = idxRead, idxHit
			t.ToastBlksRead, t.ToastBlksHit = toastRead, toastHit
			t.TidxBlksRead, t.TidxBlksHit = tidxRead, tidxHit
		}
	}
	return tables, ioRows.Err()
}

// CollectIndexes gathers pg_stat_user_indexes (+ statio counters) from
// every database of the pool.
func (c *Collector) CollectIndexes(interner *intern.Interner) model.PgStatUserIndexesBlock {
	collectedAt := time.Now().Unix()
	var out model.PgStatUserIndexesBlock

	for _, client := range c.dbClients {
		indexes, err := collectIndexesFrom(client, interner, collectedAt)
		if err != nil {
			log.Warnf("collect indexes from %s failed: %s; skip", client.Datname, formatConnError(err))
			continue
		}
		out = append(out, indexes...)
	}
	return out
}

func collectIndexesFrom(client *DatabaseClient, interner *intern.Interner, collectedAt int64) ([]model.PgStatUserIndexesInfo, error) {
	datnameHash := interner.Intern(client.Datname)

	rows, err := client.DB.Conn().Query(context.Background(), selectUserIndexesQuery())
	if err != nil {
		return nil, err
	}

	var indexes []model.PgStatUserIndexesInfo
	byIndexRelID := map[uint32]int{}
	for rows.Next() {
		var i model.PgStatUserIndexesInfo
		var indexRelID, relID int64
		var schemaname, relname, indexrelname string
		if err := rows.Scan(&indexRelID, &relID, &schemaname, &relname, &indexrelname,
			&i.IdxScan, &i.IdxTupRead, &i.IdxTupFetch, &i.SizeBytes); err != nil {
			log.Warnf("scan pg_stat_user_indexes row failed: %s; skip", err)
			continue
		}
		i.IndexRelID = uint32(indexRelID)
		i.RelID = uint32(relID)
		i.DatnameHash = datnameHash
		i.SchemanameHash = interner.Intern(schemaname)
		i.RelnameHash = interner.Intern(relname)
		i.IndexnameHash = interner.Intern(indexrelname)
		i.CollectedAt = collectedAt
		byIndexRelID[i.IndexRelID] = len(indexes)
		indexes = append(indexes, i)
	}
	rows.Close()
	if err := rows.Err(); err != nil {
		return nil, err
	}

	ioRows, err := client.DB.Conn().Query(context.Background(), selectStatioUserIndexesQuery())
	if err != nil {
		return nil, err
	}
	defer ioRows.Close()
	for ioRows.Next() {
		var indexRelID, blksRead, blksHit int64
		if err := ioRows.Scan(&indexRelID, &blksRead, &blksHit); err != nil {
			continue
		}
		if idx, ok := byIndexRelID[uint32(indexRelID)]; ok {
			indexes[idx].IdxBlksRead = blksRead
			indexes[idx].IdxBlksHit = blksHit
		}
	}
	return indexes, ioRows.Err()
}

// CollectLockTree runs the recursive blocking-chain CTE.
func (c *Collector) CollectLockTree(interner *intern.Interner) model.PgLockTreeBlock {
	if err := c.ensureConnected(); err != nil {
		return nil
	}

	rows, err := c.db.Conn().Query(context.Background(), selectLockTreeQuery())
	if err != nil {
		c.fail(err)
		return nil
	}
	defer rows.Close()

	var out model.PgLockTreeBlock
	for rows.Next() {
		var n model.PgLockTreeNode
		var datname, usename, state, waitEventType, waitEvent, query, appName, backendType string
		var lockType, lockMode, lockTarget string
		if err := rows.Scan(&n.Pid, &n.Depth, &n.RootPid,
			&datname, &usename, &state, &waitEventType, &waitEvent, &query, &appName, &backendType,
			&n.XactStart, &n.QueryStart, &n.StateChange,
			&lockType, &lockMode, &n.LockGranted, &lockTarget); err != nil {
			log.Warnf("scan lock tree row failed: %s; skip", err)
			continue
		}
		n.DatnameHash = interner.Intern(datname)
		n.UsenameHash = interner.Intern(usename)
		n.StateHash = interner.Intern(state)
		n.WaitEventTypeHash = interner.Intern(waitEventType)
		n.WaitEventHash = interner.Intern(waitEvent)
		n.QueryHash = interner.Intern(query)
		n.ApplicationNameHash = interner.Intern(appName)
		n.BackendTypeHash = interner.Intern(backendType)
		n.LockTypeHash = interner.Intern(lockType)
		n.LockModeHash = interner.Intern(lockMode)
		n.LockTargetHash = interner.Intern(lockTarget)
		out = append(out, n)
	}
	if err := rows.Err(); err != nil {
		c.fail(err)
		return nil
	}
	return out
}

// CollectSettings snapshots pg_settings.
func (c *Collector) CollectSettings() model.PgSettingsBlock {
	if err := c.ensureConnected(); err != nil {
		return nil
	}

	rows, err := c.db.Conn().Query(context.Background(), selectSettingsQuery())
	if err != nil {
		c.fail(err)
		return nil
	}
	defer rows.Close()

	var out model.PgSettingsBlock
	for rows.Next() {
		var s model.PgSettingEntry
		if err := rows.Scan(&s.Name, &s.Setting, &s.Unit); err != nil {
			continue
		}
		out = append(out, s)
	}
	if err := rows.Err(); err != nil {
		c.fail(err)
		return nil
	}
	return out
}

// CollectReplicationStatus queries recovery state and connected replicas.
func (c *Collector) CollectReplicationStatus() (model.ReplicationStatus, bool) {
	var status model.ReplicationStatus
	if err := c.ensureConnected(); err != nil {
		return status, false
	}

	if err := c.db.Conn().QueryRow(context.Background(), "SELECT pg_is_in_recovery()").Scan(&status.IsInRecovery); err != nil {
		c.fail(err)
		return status, false
	}

	status.ReplayLagS = -1
	if status.IsInRecovery {
		var lag *float64
		err := c.db.Conn().QueryRow(context.Background(),
			"SELECT EXTRACT(EPOCH FROM now() - pg_last_xact_replay_timestamp())").Scan(&lag)
		if err == nil && lag != nil {
			status.ReplayLagS = int64(*lag)
		}
		return status, true
	}

	rows, err := c.db.Conn().Query(context.Background(), selectReplicationQuery())
	if err != nil {
		// pg_stat_replication needs elevated rights on some setups
		log.Debugf("query pg_stat_replication failed: %s; skip", err)
		return status, true
	}
	defer rows.Close()

	for rows.Next() {
		var r model.ReplicaInfo
		if err := rows.Scan(&r.ClientAddr, &r.ApplicationName, &r.State, &r.SyncState, &r.ReplayLagBytes); err != nil {
			continue
		}
		status.Replicas = append(status.Replicas, r)
	}
	status.ConnectedReplicas = uint32(len(status.Replicas))
	return status, true
}
