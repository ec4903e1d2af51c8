// Package rates turns cumulative counter blocks into per-second rates.
// Each tracked view keeps a previous sample per key plus the previous
// collection timestamp. A counter that decreases means the source was reset
// by an operator, never agent corruption: the affected rates are reported
// as nil for one tick and resume from the new baseline on the next.
package rates

import (
	"github.com/vadv/rpglot/internal/model"
)

const (
	// MaxRateDtSecs caps dt for fast views (statements, tables, indexes).
	// Longer gaps mean missed collections; computing rates across them
	// produces garbage, so the state resets instead.
	MaxRateDtSecs = 605.0
	// MaxPlansRateDtSecs caps dt for the slow pg_store_plans view
	// (300-second collection cadence).
	MaxPlansRateDtSecs = 905.0

	// MaxStatementsStaleSecs evicts statement keys not seen for this long.
	MaxStatementsStaleSecs = 300
	// MaxPlansStaleSecs evicts plan keys not seen for this long.
	MaxPlansStaleSecs = 900
)

// rateI64 divides an int64 counter delta by dt, nil on regression.
func rateI64(curr, prev int64, dt float64) *float64 {
	if curr < prev {
		return nil
	}
	v := float64(curr-prev) / dt
	return &v
}

// rateF64 divides a float64 counter delta by dt, nil on regression.
func rateF64(curr, prev, dt float64) *float64 {
	if curr < prev {
		return nil
	}
	v := (curr - prev) / dt
	return &v
}

// StatementsRates holds per-second rates for one pg_stat_statements key.
// Nil fields mean the counter regressed (stats reset) this tick.
type StatementsRates struct {
	DtSecs             float64
	CallsS             *float64
	RowsS              *float64
	ExecTimeMsS        *float64
	SharedBlksReadS    *float64
	SharedBlksHitS     *float64
	SharedBlksDirtiedS *float64
	SharedBlksWrittenS *float64
	LocalBlksReadS     *float64
	LocalBlksWrittenS  *float64
	TempBlksReadS      *float64
	TempBlksWrittenS   *float64
	TempMbS            *float64
}

// HitPct computes the buffer hit percentage from read/hit rates, nil when
// either rate is nil or the denominator is zero.
func (r *StatementsRates) HitPct() *float64 {
	if r.SharedBlksReadS == nil || r.SharedBlksHitS == nil {
		return nil
	}
	total := *r.SharedBlksReadS + *r.SharedBlksHitS
	if total <= 0 {
		return nil
	}
	v := *r.SharedBlksHitS / total * 100.0
	return &v
}

// RowsPerCall computes rows per call, nil when rates are nil or no calls.
func (r *StatementsRates) RowsPerCall() *float64 {
	if r.CallsS == nil || r.RowsS == nil || *r.CallsS <= 0 {
		return nil
	}
	v := *r.RowsS / *r.CallsS
	return &v
}

// StatementsState is the rate state for the statements view.
type StatementsState struct {
	Rates      map[int64]*StatementsRates
	prevSample map[int64]model.PgStatStatementsInfo
	prevTs     int64
	hasPrev    bool
}

// NewStatementsState creates empty statements rate state.
func NewStatementsState() *StatementsState {
	return &StatementsState{
		Rates:      map[int64]*StatementsRates{},
		prevSample: map[int64]model.PgStatStatementsInfo{},
	}
}

// Reset drops all state.
func (st *StatementsState) Reset() {
	st.Rates = map[int64]*StatementsRates{}
	st.prevSample = map[int64]model.PgStatStatementsInfo{}
	st.prevTs = 0
	st.hasPrev = false
}

// Update consumes the statements block of a snapshot. The effective
// timestamp is the rows' CollectedAt when set (the collector caches this
// view), falling back to the snapshot timestamp.
func (st *StatementsState) Update(snapshot *model.Snapshot) {
	block, ok := snapshot.Block(model.TagPgStatStatements).(model.PgStatStatementsBlock)
	if !ok || len(block) == 0 {
		st.Rates = map[int64]*StatementsRates{}
		return
	}

	nowTs := block[0].CollectedAt
	if nowTs <= 0 {
		nowTs = snapshot.Timestamp
	}

	reset := func() {
		st.prevTs = nowTs
		st.hasPrev = true
		st.prevSample = make(map[int64]model.PgStatStatementsInfo, len(block))
		for _, s := range block {
			st.prevSample[s.QueryID] = s
		}
		st.Rates = map[int64]*StatementsRates{}
	}

	if !st.hasPrev {
		reset()
		return
	}
	if nowTs == st.prevTs {
		return // same collection, data unchanged
	}
	if nowTs < st.prevTs {
		reset()
		return
	}
	dt := float64(nowTs - st.prevTs)
	if dt > MaxRateDtSecs {
		reset()
		return
	}

	rates := make(map[int64]*StatementsRates, len(block))
	for _, s := range block {
		r := &StatementsRates{DtSecs: dt}
		if prev, ok := st.prevSample[s.QueryID]; ok {
			r.CallsS = rateI64(s.Calls, prev.Calls, dt)
			r.RowsS = rateI64(s.Rows, prev.Rows, dt)
			r.ExecTimeMsS = rateF64(s.TotalExecTime, prev.TotalExecTime, dt)
			r.SharedBlksReadS = rateI64(s.SharedBlksRead, prev.SharedBlksRead, dt)
			r.SharedBlksHitS = rateI64(s.SharedBlksHit, prev.SharedBlksHit, dt)
			r.SharedBlksDirtiedS = rateI64(s.SharedBlksDirtied, prev.SharedBlksDirtied, dt)
			r.SharedBlksWrittenS = rateI64(s.SharedBlksWritten, prev.SharedBlksWritten, dt)
			r.LocalBlksReadS = rateI64(s.LocalBlksRead, prev.LocalBlksRead, dt)
			r.LocalBlksWrittenS = rateI64(s.LocalBlksWritten, prev.LocalBlksWritten, dt)
			r.TempBlksReadS = rateI64(s.TempBlksRead, prev.TempBlksRead, dt)
			r.TempBlksWrittenS = rateI64(s.TempBlksWritten, prev.TempBlksWritten, dt)
			if r.TempBlksReadS != nil && r.TempBlksWrittenS != nil {
				// blocks are 8 KB
				v := (float64(s.TempBlksRead-prev.TempBlksRead+s.TempBlksWritten-prev.TempBlksWritten) * 8.0 / 1024.0) / dt
				r.TempMbS = &v
			}
		}
		rates[s.QueryID] = r
	}

	st.Rates = rates
	st.prevTs = nowTs
	// Merge, not replace: keys absent this tick stay displayable until they
	// go stale.
	for _, s := range block {
		st.prevSample[s.QueryID] = s
	}
	for id, s := range st.prevSample {
		if s.CollectedAt < nowTs-MaxStatementsStaleSecs {
			delete(st.prevSample, id)
		}
	}
}

// PlansRates holds per-second rates for one pg_store_plans key.
type PlansRates struct {
	DtSecs             float64
	CallsS             *float64
	RowsS              *float64
	ExecTimeMsS        *float64
	SharedBlksReadS    *float64
	SharedBlksHitS     *float64
	SharedBlksDirtiedS *float64
	SharedBlksWrittenS *float64
	TempBlksReadS      *float64
	TempBlksWrittenS   *float64
}

// PlansState is the rate state for the store-plans view.
type PlansState struct {
	Rates      map[int64]*PlansRates
	prevSample map[int64]model.PgStorePlansInfo
	prevTs     int64
	hasPrev    bool
}

// NewPlansState creates empty store-plans rate state.
func NewPlansState() *PlansState {
	return &PlansState{
		Rates:      map[int64]*PlansRates{},
		prevSample: map[int64]model.PgStorePlansInfo{},
	}
}

// Reset drops all state.
func (st *PlansState) Reset() {
	st.Rates = map[int64]*PlansRates{}
	st.prevSample = map[int64]model.PgStorePlansInfo{}
	st.prevTs = 0
	st.hasPrev = false
}

// Update consumes the store-plans block of a snapshot.
func (st *PlansState) Update(snapshot *model.Snapshot) {
	block, ok := snapshot.Block(model.TagPgStorePlans).(model.PgStorePlansBlock)
	if !ok || len(block) == 0 {
		st.Rates = map[int64]*PlansRates{}
		return
	}

	nowTs := block[0].CollectedAt
	if nowTs <= 0 {
		nowTs = snapshot.Timestamp
	}

	reset := func() {
		st.prevTs = nowTs
		st.hasPrev = true
		st.prevSample = make(map[int64]model.PgStorePlansInfo, len(block))
		for _, p := range block {
			st.prevSample[p.PlanID] = p
		}
		st.Rates = map[int64]*PlansRates{}
	}

	if !st.hasPrev {
		reset()
		return
	}
	if nowTs == st.prevTs {
		return
	}
	if nowTs < st.prevTs {
		reset()
		return
	}
	dt := float64(nowTs - st.prevTs)
	if dt > MaxPlansRateDtSecs {
		reset()
		return
	}

	rates := make(map[int64]*PlansRates, len(block))
	for _, p := range block {
		r := &PlansRates{DtSecs: dt}
		if prev, ok := st.prevSample[p.PlanID]; ok {
			r.CallsS = rateI64(p.Calls, prev.Calls, dt)
			r.RowsS = rateI64(p.Rows, prev.Rows, dt)
			r.ExecTimeMsS = rateF64(p.TotalTime, prev.TotalTime, dt)
			r.SharedBlksReadS = rateI64(p.SharedBlksRead, prev.SharedBlksRead, dt)
			r.SharedBlksHitS = rateI64(p.SharedBlksHit, prev.SharedBlksHit, dt)
			r.SharedBlksDirtiedS = rateI64(p.SharedBlksDirtied, prev.SharedBlksDirtied, dt)
			r.SharedBlksWrittenS = rateI64(p.SharedBlksWritten, prev.SharedBlksWritten, dt)
			r.TempBlksReadS = rateI64(p.TempBlksRead, prev.TempBlksRead, dt)
			r.TempBlksWrittenS = rateI64(p.TempBlksWritten, prev.TempBlksWritten, dt)
		}
		rates[p.PlanID] = r
	}

	st.Rates = rates
	st.prevTs = nowTs
	for _, p := range block {
		st.prevSample[p.PlanID] = p
	}
	for id, p := range st.prevSample {
		if p.CollectedAt < nowTs-MaxPlansStaleSecs {
			delete(st.prevSample, id)
		}
	}
}

// TablesRates holds per-second rates for one pg_stat_user_tables key.
type TablesRates struct {
	DtSecs            float64
	SeqScanS          *float64
	SeqTupReadS       *float64
	IdxScanS          *float64
	IdxTupFetchS      *float64
	NTupInsS          *float64
	NTupUpdS          *float64
	NTupDelS          *float64
	NTupHotUpdS       *float64
	VacuumCountS      *float64
	AutovacuumCountS  *float64
	AnalyzeCountS     *float64
	AutoanalyzeCountS *float64
	HeapBlksReadS     *float64
	HeapBlksHitS      *float64
	IdxBlksReadS      *float64
	IdxBlksHitS       *float64
	ToastBlksReadS    *float64
	ToastBlksHitS     *float64
	TidxBlksReadS     *float64
	TidxBlksHitS      *float64
}

// HitPct computes the heap buffer hit percentage.
func (r *TablesRates) HitPct() *float64 {
	if r.HeapBlksReadS == nil || r.HeapBlksHitS == nil {
		return nil
	}
	total := *r.HeapBlksReadS + *r.HeapBlksHitS
	if total <= 0 {
		return nil
	}
	v := *r.HeapBlksHitS / total * 100.0
	return &v
}

// TablesState is the rate state for the tables view. Unlike statements,
// table rows are guaranteed present every tick, so the previous sample is
// fully replaced instead of merged.
type TablesState struct {
	Rates      map[uint32]*TablesRates
	prevSample map[uint32]model.PgStatUserTablesInfo
	prevTs     int64
	hasPrev    bool
}

// NewTablesState creates empty tables rate state.
func NewTablesState() *TablesState {
	return &TablesState{
		Rates:      map[uint32]*TablesRates{},
		prevSample: map[uint32]model.PgStatUserTablesInfo{},
	}
}

// Reset drops all state.
func (st *TablesState) Reset() {
	st.Rates = map[uint32]*TablesRates{}
	st.prevSample = map[uint32]model.PgStatUserTablesInfo{}
	st.prevTs = 0
	st.hasPrev = false
}

// Update consumes the tables block of a snapshot.
func (st *TablesState) Update(snapshot *model.Snapshot) {
	block, ok := snapshot.Block(model.TagPgStatUserTables).(model.PgStatUserTablesBlock)
	if !ok {
		st.Rates = map[uint32]*TablesRates{}
		return
	}

	nowTs := snapshot.Timestamp
	if len(block) > 0 && block[0].CollectedAt > 0 {
		nowTs = block[0].CollectedAt
	}

	replace := func() {
		st.prevSample = make(map[uint32]model.PgStatUserTablesInfo, len(block))
		for _, t := range block {
			st.prevSample[t.RelID] = t
		}
		st.prevTs = nowTs
		st.hasPrev = true
	}

	if !st.hasPrev {
		replace()
		st.Rates = map[uint32]*TablesRates{}
		return
	}
	if nowTs == st.prevTs {
		return
	}
	dt := float64(nowTs - st.prevTs)
	if dt <= 0 || dt > MaxRateDtSecs {
		replace()
		st.Rates = map[uint32]*TablesRates{}
		return
	}

	rates := make(map[uint32]*TablesRates, len(block))
	for _, t := range block {
		r := &TablesRates{DtSecs: dt}
		if prev, ok := st.prevSample[t.RelID]; ok {
			r.SeqScanS = rateI64(t.SeqScan, prev.SeqScan, dt)
			r.SeqTupReadS = rateI64(t.SeqTupRead, prev.SeqTupRead, dt)
			r.IdxScanS = rateI64(t.IdxScan, prev.IdxScan, dt)
			r.IdxTupFetchS = rateI64(t.IdxTupFetch, prev.IdxTupFetch, dt)
			r.NTupInsS = rateI64(t.NTupIns, prev.NTupIns, dt)
			r.NTupUpdS = rateI64(t.NTupUpd, prev.NTupUpd, dt)
			r.NTupDelS = rateI64(t.NTupDel, prev.NTupDel, dt)
			r.NTupHotUpdS = rateI64(t.NTupHotUpd, prev.NTupHotUpd, dt)
			r.VacuumCountS = rateI64(t.VacuumCount, prev.VacuumCount, dt)
			r.AutovacuumCountS = rateI64(t.AutovacuumCount, prev.AutovacuumCount, dt)
			r.AnalyzeCountS = rateI64(t.AnalyzeCount, prev.AnalyzeCount, dt)
			r.AutoanalyzeCountS = rateI64(t.AutoanalyzeCount, prev.AutoanalyzeCount, dt)
			r.HeapBlksReadS = rateI64(t.HeapBlksRead, prev.HeapBlksRead, dt)
			r.HeapBlksHitS = rateI64(t.HeapBlksHit, prev.HeapBlksHit, dt)
			r.IdxBlksReadS = rateI64(t.IdxBlksRead, prev.IdxBlksRead, dt)
			r.IdxBlksHitS = rateI64(t.IdxBlksHit, prev.IdxBlksHit, dt)
			r.ToastBlksReadS = rateI64(t.ToastBlksRead, prev.ToastBlksRead, dt)
			r.ToastBlksHitS = rateI64(t.ToastBlksHit, prev.ToastBlksHit, dt)
			r.TidxBlksReadS = rateI64(t.TidxBlksRead, prev.TidxBlksRead, dt)
			r.TidxBlksHitS = rateI64(t.TidxBlksHit, prev.TidxBlksHit, dt)
		}
		rates[t.RelID] = r
	}

	st.Rates = rates
	replace()
}

// IndexesRates holds per-second rates for one pg_stat_user_indexes key.
type IndexesRates struct {
	DtSecs       float64
	IdxScanS     *float64
	IdxTupReadS  *float64
	IdxTupFetchS *float64
	IdxBlksReadS *float64
	IdxBlksHitS  *float64
}

// IndexesState is the rate state for the indexes view (full replacement,
// same as tables).
type IndexesState struct {
	Rates      map[uint32]*IndexesRates
	prevSample map[uint32]model.PgStatUserIndexesInfo
	prevTs     int64
	hasPrev    bool
}

// NewIndexesState creates empty indexes rate state.
func NewIndexesState() *IndexesState {
	return &IndexesState{
		Rates:      map[uint32]*IndexesRates{},
		prevSample: map[uint32]model.PgStatUserIndexesInfo{},
	}
}

// Reset drops all state.
func (st *IndexesState) Reset() {
	st.Rates = map[uint32]*IndexesRates{}
	st.prevSample = map[uint32]model.PgStatUserIndexesInfo{}
	st.prevTs = 0
	st.hasPrev = false
}

// Update consumes the indexes block of a snapshot.
func (st *IndexesState) Update(snapshot *model.Snapshot) {
	block, ok := snapshot.Block(model.TagPgStatUserIndexes).(model.PgStatUserIndexesBlock)
	if !ok {
		st.Rates = map[uint32]*IndexesRates{}
		return
	}

	nowTs := snapshot.Timestamp
	if len(block) > 0 && block[0].CollectedAt > 0 {
		nowTs = block[0].CollectedAt
	}

	replace := func() {
		st.prevSample = make(map[uint32]model.PgStatUserIndexesInfo, len(block))
		for _, i := range block {
			st.prevSample[i.IndexRelID] = i
		}
		st.prevTs = nowTs
		st.hasPrev = true
	}

	if !st.hasPrev {
		replace()
		st.Rates = map[uint32]*IndexesRates{}
		return
	}
	if nowTs == st.prevTs {
		return
	}
	dt := float64(nowTs - st.prevTs)
	if dt <= 0 || dt > MaxRateDtSecs {
		replace()
		st.Rates = map[uint32]*IndexesRates{}
		return
	}

	rates := make(map[uint32]*IndexesRates, len(block))
	for _, i := range block {
		r := &IndexesRates{DtSecs: dt}
		if prev, ok := st.prevSample[i.IndexRelID]; ok {
			r.IdxScanS = rateI64(i.IdxScan, prev.IdxScan, dt)
			r.IdxTupReadS = rateI64(i.IdxTupRead, prev.IdxTupRead, dt)
			r.IdxTupFetchS = rateI64(i.IdxTupFetch, prev.IdxTupFetch, dt)
			r.IdxBlksReadS = rateI64(i.IdxBlksRead, prev.IdxBlksRead, dt)
			r.IdxBlksHitS = rateI64(i.IdxBlksHit, prev.IdxBlksHit, dt)
		}
		rates[i.IndexRelID] = r
	}

	st.Rates = rates
	replace()
}
