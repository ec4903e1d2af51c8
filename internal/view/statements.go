package view

import (
	"fmt"
	"strconv"

	"github.com/vadv/rpglot/internal/intern"
	"github.com/vadv/rpglot/internal/model"
	"github.com/vadv/rpglot/internal/rates"
)

// Statements view modes.
const (
	StatementsModeTime = iota
	StatementsModeCalls
	StatementsModeIo
	StatementsModeTemp
)

var (
	stmtHeadersTime  = []string{"CALLS/s", "TIME/s", "MEAN", "ROWS/s", "DB", "USER", "QUERY"}
	stmtHeadersCalls = []string{"CALLS/s", "ROWS/s", "R/CALL", "MEAN", "DB", "USER", "QUERY"}
	stmtHeadersIo    = []string{"CALLS/s", "BLK_RD/s", "BLK_HIT/s", "HIT%", "BLK_DIRT/s", "BLK_WR/s", "DB", "QUERY"}
	stmtHeadersTemp  = []string{"CALLS/s", "TMP_RD/s", "TMP_WR/s", "TMP_MB/s", "LOC_RD/s", "LOC_WR/s", "DB", "QUERY"}

	stmtWidthsTime  = []int{10, 10, 8, 10, 20, 20}
	stmtWidthsCalls = []int{10, 10, 10, 8, 20, 20}
	stmtWidthsIo    = []int{10, 10, 10, 6, 10, 10, 20}
	stmtWidthsTemp  = []int{10, 10, 10, 10, 10, 10, 20}
)

type statementsRow struct {
	queryID      int64
	db           string
	user         string
	query        string
	meanExecTime float64
	r            rates.StatementsRates
	hitPct       *float64
	rowsPerCall  *float64
}

// BuildStatementsView assembles the statements tab model, nil when the
// snapshot has no statements block.
func BuildStatementsView(snapshot *model.Snapshot, state *TabState, rateState *rates.StatementsState, interner *intern.Interner) *TableViewModel {
	block, ok := snapshot.Block(model.TagPgStatStatements).(model.PgStatStatementsBlock)
	if !ok || len(block) == 0 {
		return nil
	}

	rows := make([]statementsRow, 0, len(block))
	for _, s := range block {
		row := statementsRow{
			queryID:      s.QueryID,
			db:           resolveHash(interner, s.DatnameHash),
			user:         resolveHash(interner, s.UsenameHash),
			query:        normalizeQuery(resolveHash(interner, s.QueryHash)),
			meanExecTime: s.MeanExecTime,
		}
		if r, ok := rateState.Rates[s.QueryID]; ok && r != nil {
			row.r = *r
			row.hitPct = r.HitPct()
			row.rowsPerCall = r.RowsPerCall()
		}
		if !matchFilter(state.Filter, strconv.FormatInt(s.QueryID, 10), row.db, row.user, row.query) {
			continue
		}
		rows = append(rows, row)
	}

	order := sortRows(len(rows), state.SortAscending, func(i int) SortKey {
		return statementsSortKey(&rows[i], state.ViewMode, state.SortColumn)
	})

	out := make([]ViewRow, 0, len(rows))
	for _, i := range order {
		row := &rows[i]
		out = append(out, ViewRow{
			ID:    strconv.FormatInt(row.queryID, 10),
			Cells: statementsCells(row, state.ViewMode),
			Style: statementsRowStyle(row, state.ViewMode),
		})
	}

	headers, widths, modeName := stmtHeadersTime, stmtWidthsTime, "time"
	switch state.ViewMode {
	case StatementsModeCalls:
		headers, widths, modeName = stmtHeadersCalls, stmtWidthsCalls, "calls"
	case StatementsModeIo:
		headers, widths, modeName = stmtHeadersIo, stmtWidthsIo, "io"
	case StatementsModeTemp:
		headers, widths, modeName = stmtHeadersTemp, stmtWidthsTemp, "temp"
	}

	return &TableViewModel{
		Title:         buildTitle("statements", len(out), len(block), state, modeName),
		Headers:       headers,
		Widths:        widths,
		Rows:          out,
		SortColumn:    state.SortColumn,
		SortAscending: state.SortAscending,
	}
}

func statementsSortKey(row *statementsRow, mode, col int) SortKey {
	f := func(v *float64) SortKey {
		if v == nil {
			return FloatKey(0)
		}
		return FloatKey(*v)
	}
	switch mode {
	case StatementsModeCalls:
		switch col {
		case 0:
			return f(row.r.CallsS)
		case 1:
			return f(row.r.RowsS)
		case 2:
			return f(row.rowsPerCall)
		case 3:
			return FloatKey(row.meanExecTime)
		case 4:
			return StringKey(row.db)
		case 5:
			return StringKey(row.user)
		case 6:
			return StringKey(row.query)
		}
	case StatementsModeIo:
		switch col {
		case 0:
			return f(row.r.CallsS)
		case 1:
			return f(row.r.SharedBlksReadS)
		case 2:
			return f(row.r.SharedBlksHitS)
		case 3:
			return f(row.hitPct)
		case 4:
			return f(row.r.SharedBlksDirtiedS)
		case 5:
			return f(row.r.SharedBlksWrittenS)
		case 6:
			return StringKey(row.db)
		case 7:
			return StringKey(row.query)
		}
	case StatementsModeTemp:
		switch col {
		case 0:
			return f(row.r.CallsS)
		case 1:
			return f(row.r.TempBlksReadS)
		case 2:
			return f(row.r.TempBlksWrittenS)
		case 3:
			return f(row.r.TempMbS)
		case 4:
			return f(row.r.LocalBlksReadS)
		case 5:
			return f(row.r.LocalBlksWrittenS)
		case 6:
			return StringKey(row.db)
		case 7:
			return StringKey(row.query)
		}
	default: // time mode
		switch col {
		case 0:
			return f(row.r.CallsS)
		case 1:
			return f(row.r.ExecTimeMsS)
		case 2:
			return FloatKey(row.meanExecTime)
		case 3:
			return f(row.r.RowsS)
		case 4:
			return StringKey(row.db)
		case 5:
			return StringKey(row.user)
		case 6:
			return StringKey(row.query)
		}
	}
	return IntKey(0)
}

func statementsRowStyle(row *statementsRow, mode int) StyleClass {
	val := func(v *float64) float64 {
		if v == nil {
			return 0
		}
		return *v
	}
	switch mode {
	case StatementsModeIo:
		rd := val(row.r.SharedBlksReadS)
		switch {
		case rd >= 10000:
			return StyleCritical
		case rd >= 1000:
			return StyleWarning
		}
	case StatementsModeTemp:
		tmp := val(row.r.TempMbS)
		switch {
		case tmp >= 100:
			return StyleCritical
		case tmp >= 10:
			return StyleWarning
		}
	default:
		timeMs := val(row.r.ExecTimeMsS)
		switch {
		case timeMs >= 1000:
			return StyleCritical
		case timeMs >= 100:
			return StyleWarning
		}
	}
	return StyleNormal
}

// hitPctStyle highlights poor buffer hit ratios.
func hitPctStyle(hitPct *float64) StyleClass {
	if hitPct == nil {
		return StyleNormal
	}
	switch {
	case *hitPct < 90:
		return StyleCritical
	case *hitPct < 98:
		return StyleWarning
	}
	return StyleNormal
}

func statementsCells(row *statementsRow, mode int) []ViewCell {
	switch mode {
	case StatementsModeCalls:
		return []ViewCell{
			Plain(formatOptFloat(row.r.CallsS, 9, 1)),
			Plain(formatOptFloat(row.r.RowsS, 9, 1)),
			Plain(formatOptFloat(row.rowsPerCall, 9, 2)),
			Plain(fmt.Sprintf("%7.1f", row.meanExecTime)),
			Plain(truncate(row.db, 20)),
			Plain(truncate(row.user, 20)),
			Plain(row.query),
		}
	case StatementsModeIo:
		return []ViewCell{
			Plain(formatOptFloat(row.r.CallsS, 9, 1)),
			Plain(formatOptFloat(row.r.SharedBlksReadS, 9, 1)),
			Plain(formatOptFloat(row.r.SharedBlksHitS, 9, 1)),
			Styled(formatOptFloat(row.hitPct, 5, 1), hitPctStyle(row.hitPct)),
			Plain(formatOptFloat(row.r.SharedBlksDirtiedS, 9, 1)),
			Plain(formatOptFloat(row.r.SharedBlksWrittenS, 9, 1)),
			Plain(truncate(row.db, 20)),
			Plain(row.query),
		}
	case StatementsModeTemp:
		return []ViewCell{
			Plain(formatOptFloat(row.r.CallsS, 9, 1)),
			Plain(formatOptFloat(row.r.TempBlksReadS, 9, 1)),
			Plain(formatOptFloat(row.r.TempBlksWrittenS, 9, 1)),
			Plain(formatOptFloat(row.r.TempMbS, 9, 2)),
			Plain(formatOptFloat(row.r.LocalBlksReadS, 9, 1)),
			Plain(formatOptFloat(row.r.LocalBlksWrittenS, 9, 1)),
			Plain(truncate(row.db, 20)),
			Plain(row.query),
		}
	default:
		return []ViewCell{
			Plain(formatOptFloat(row.r.CallsS, 9, 1)),
			Plain(formatOptFloat(row.r.ExecTimeMsS, 9, 1)),
			Plain(fmt.Sprintf("%7.1f", row.meanExecTime)),
			Plain(formatOptFloat(row.r.RowsS, 9, 1)),
			Plain(truncate(row.db, 20)),
			Plain(truncate(row.user, 20)),
			Plain(row.query),
		}
	}
}
