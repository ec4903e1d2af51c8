package view

import (
	"strconv"

	"github.com/dustin/go-humanize"

	"github.com/vadv/rpglot/internal/intern"
	"github.com/vadv/rpglot/internal/model"
	"github.com/vadv/rpglot/internal/rates"
)

// Tables view modes.
const (
	TablesModeOps = iota
	TablesModeIo
	TablesModeMaint
)

var (
	tablesHeadersOps   = []string{"SEQ/s", "IDX/s", "INS/s", "UPD/s", "DEL/s", "LIVE", "DEAD", "DEAD%", "SIZE", "DB", "TABLE"}
	tablesHeadersIo    = []string{"HEAP_RD/s", "HEAP_HIT/s", "HIT%", "IDX_RD/s", "IDX_HIT/s", "TOAST_RD/s", "DB", "TABLE"}
	tablesHeadersMaint = []string{"VAC/s", "AVAC/s", "ANL/s", "AANL/s", "DEAD", "DEAD%", "SIZE", "DB", "TABLE"}

	tablesWidthsOps   = []int{9, 9, 9, 9, 9, 10, 10, 6, 9, 12}
	tablesWidthsIo    = []int{10, 10, 6, 10, 10, 10, 12}
	tablesWidthsMaint = []int{8, 8, 8, 8, 10, 6, 9, 12}
)

type tablesRow struct {
	relID    uint32
	db       string
	table    string
	liveTup  int64
	deadTup  int64
	deadPct  float64
	sizeB    int64
	r        rates.TablesRates
	hitPct   *float64
}

// BuildTablesView assembles the user-tables tab model.
func BuildTablesView(snapshot *model.Snapshot, state *TabState, rateState *rates.TablesState, interner *intern.Interner) *TableViewModel {
	block, ok := snapshot.Block(model.TagPgStatUserTables).(model.PgStatUserTablesBlock)
	if !ok || len(block) == 0 {
		return nil
	}

	rows := make([]tablesRow, 0, len(block))
	for _, t := range block {
		row := tablesRow{
			relID:   t.RelID,
			db:      resolveHash(interner, t.DatnameHash),
			table:   resolveHash(interner, t.SchemanameHash) + "." + resolveHash(interner, t.RelnameHash),
			liveTup: t.NLiveTup,
			deadTup: t.NDeadTup,
			sizeB:   t.SizeBytes,
		}
		if total := t.NLiveTup + t.NDeadTup; total > 0 {
			row.deadPct = float64(t.NDeadTup) / float64(total) * 100.0
		}
		if r, ok := rateState.Rates[t.RelID]; ok && r != nil {
			row.r = *r
			row.hitPct = r.HitPct()
		}
		if !matchFilter(state.Filter, strconv.FormatUint(uint64(t.RelID), 10), row.db, row.table) {
			continue
		}
		rows = append(rows, row)
	}

	order := sortRows(len(rows), state.SortAscending, func(i int) SortKey {
		return tablesSortKey(&rows[i], state.ViewMode, state.SortColumn)
	})

	out := make([]ViewRow, 0, len(rows))
	for _, i := range order {
		row := &rows[i]
		out = append(out, ViewRow{
			ID:    strconv.FormatUint(uint64(row.relID), 10),
			Cells: tablesCells(row, state.ViewMode),
			Style: tablesRowStyle(row),
		})
	}

	headers, widths, modeName := tablesHeadersOps, tablesWidthsOps, "ops"
	switch state.ViewMode {
	case TablesModeIo:
		headers, widths, modeName = tablesHeadersIo, tablesWidthsIo, "io"
	case TablesModeMaint:
		headers, widths, modeName = tablesHeadersMaint, tablesWidthsMaint, "maint"
	}

	return &TableViewModel{
		Title:         buildTitle("tables", len(out), len(block), state, modeName),
		Headers:       headers,
		Widths:        widths,
		Rows:          out,
		SortColumn:    state.SortColumn,
		SortAscending: state.SortAscending,
	}
}

func tablesSortKey(row *tablesRow, mode, col int) SortKey {
	f := func(v *float64) SortKey {
		if v == nil {
			return FloatKey(0)
		}
		return FloatKey(*v)
	}
	switch mode {
	case TablesModeIo:
		switch col {
		case 0:
			return f(row.r.HeapBlksReadS)
		case 1:
			return f(row.r.HeapBlksHitS)
		case 2:
			return f(row.hitPct)
		case 3:
			return f(row.r.IdxBlksReadS)
		case 4:
			return f(row.r.IdxBlksHitS)
		case 5:
			return f(row.r.ToastBlksReadS)
		case 6:
			return StringKey(row.db)
		default:
			return StringKey(row.table)
		}
	case TablesModeMaint:
		switch col {
		case 0:
			return f(row.r.VacuumCountS)
		case 1:
			return f(row.r.AutovacuumCountS)
		case 2:
			return f(row.r.AnalyzeCountS)
		case 3:
			return f(row.r.AutoanalyzeCountS)
		case 4:
			return IntKey(row.deadTup)
		case 5:
			return FloatKey(row.deadPct)
		case 6:
			return IntKey(row.sizeB)
		case 7:
			return StringKey(row.db)
		default:
			return StringKey(row.table)
		}
	default:
		switch col {
		case 0:
			return f(row.r.SeqScanS)
		case 1:
			return f(row.r.IdxScanS)
		case 2:
			return f(row.r.NTupInsS)
		case 3:
			return f(row.r.NTupUpdS)
		case 4:
			return f(row.r.NTupDelS)
		case 5:
			return IntKey(row.liveTup)
		case 6:
			return IntKey(row.deadTup)
		case 7:
			return FloatKey(row.deadPct)
		case 8:
			return IntKey(row.sizeB)
		case 9:
			return StringKey(row.db)
		default:
			return StringKey(row.table)
		}
	}
}

// tablesRowStyle thresholds the dead-tuple ratio: bloat is the tables
// view's primary health signal.
func tablesRowStyle(row *tablesRow) StyleClass {
	switch {
	case row.deadPct >= 20 && row.deadTup > 1000:
		return StyleCritical
	case row.deadPct >= 10 && row.deadTup > 1000:
		return StyleWarning
	}
	return StyleNormal
}

func tablesCells(row *tablesRow, mode int) []ViewCell {
	deadPct := row.deadPct
	switch mode {
	case TablesModeIo:
		return []ViewCell{
			Plain(formatOptFloat(row.r.HeapBlksReadS, 9, 1)),
			Plain(formatOptFloat(row.r.HeapBlksHitS, 9, 1)),
			Styled(formatOptFloat(row.hitPct, 5, 1), hitPctStyle(row.hitPct)),
			Plain(formatOptFloat(row.r.IdxBlksReadS, 9, 1)),
			Plain(formatOptFloat(row.r.IdxBlksHitS, 9, 1)),
			Plain(formatOptFloat(row.r.ToastBlksReadS, 9, 1)),
			Plain(truncate(row.db, 12)),
			Plain(row.table),
		}
	case TablesModeMaint:
		return []ViewCell{
			Plain(formatOptFloat(row.r.VacuumCountS, 7, 3)),
			Plain(formatOptFloat(row.r.AutovacuumCountS, 7, 3)),
			Plain(formatOptFloat(row.r.AnalyzeCountS, 7, 3)),
			Plain(formatOptFloat(row.r.AutoanalyzeCountS, 7, 3)),
			Plain(strconv.FormatInt(row.deadTup, 10)),
			Plain(formatOptFloat(&deadPct, 5, 1)),
			Plain(humanize.IBytes(uint64(max(row.sizeB, 0)))),
			Plain(truncate(row.db, 12)),
			Plain(row.table),
		}
	default:
		return []ViewCell{
			Plain(formatOptFloat(row.r.SeqScanS, 8, 1)),
			Plain(formatOptFloat(row.r.IdxScanS, 8, 1)),
			Plain(formatOptFloat(row.r.NTupInsS, 8, 1)),
			Plain(formatOptFloat(row.r.NTupUpdS, 8, 1)),
			Plain(formatOptFloat(row.r.NTupDelS, 8, 1)),
			Plain(strconv.FormatInt(row.liveTup, 10)),
			Plain(strconv.FormatInt(row.deadTup, 10)),
			Plain(formatOptFloat(&deadPct, 5, 1)),
			Plain(humanize.IBytes(uint64(max(row.sizeB, 0)))),
			Plain(truncate(row.db, 12)),
			Plain(row.table),
		}
	}
}
