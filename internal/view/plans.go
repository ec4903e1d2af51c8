package view

import (
	"fmt"
	"strconv"

	"github.com/vadv/rpglot/internal/intern"
	"github.com/vadv/rpglot/internal/model"
	"github.com/vadv/rpglot/internal/rates"
)

var (
	plansHeaders = []string{"CALLS/s", "TIME/s", "MEAN", "ROWS/s", "QUERYID", "DB", "PLAN"}
	plansWidths  = []int{10, 10, 8, 10, 20, 14}
)

type plansRow struct {
	planID      int64
	stmtQueryID int64
	db          string
	plan        string
	meanTime    float64
	r           rates.PlansRates
}

// BuildPlansView assembles the pg_store_plans tab model.
func BuildPlansView(snapshot *model.Snapshot, state *TabState, rateState *rates.PlansState, interner *intern.Interner) *TableViewModel {
	block, ok := snapshot.Block(model.TagPgStorePlans).(model.PgStorePlansBlock)
	if !ok || len(block) == 0 {
		return nil
	}

	rows := make([]plansRow, 0, len(block))
	for _, p := range block {
		row := plansRow{
			planID:      p.PlanID,
			stmtQueryID: p.StmtQueryID,
			db:          resolveHash(interner, p.DatnameHash),
			plan:        normalizeQuery(resolveHash(interner, p.PlanHash)),
			meanTime:    p.MeanTime,
		}
		if r, ok := rateState.Rates[p.PlanID]; ok && r != nil {
			row.r = *r
		}
		if !matchFilter(state.Filter, strconv.FormatInt(p.PlanID, 10), row.db, row.plan, strconv.FormatInt(p.StmtQueryID, 10)) {
			continue
		}
		rows = append(rows, row)
	}

	order := sortRows(len(rows), state.SortAscending, func(i int) SortKey {
		row := &rows[i]
		f := func(v *float64) SortKey {
			if v == nil {
				return FloatKey(0)
			}
			return FloatKey(*v)
		}
		switch state.SortColumn {
		case 0:
			return f(row.r.CallsS)
		case 1:
			return f(row.r.ExecTimeMsS)
		case 2:
			return FloatKey(row.meanTime)
		case 3:
			return f(row.r.RowsS)
		case 4:
			return IntKey(row.stmtQueryID)
		case 5:
			return StringKey(row.db)
		default:
			return StringKey(row.plan)
		}
	})

	out := make([]ViewRow, 0, len(rows))
	for _, i := range order {
		row := &rows[i]
		style := StyleNormal
		if v := row.r.ExecTimeMsS; v != nil {
			switch {
			case *v >= 1000:
				style = StyleCritical
			case *v >= 100:
				style = StyleWarning
			}
		}
		out = append(out, ViewRow{
			ID: strconv.FormatInt(row.planID, 10),
			Cells: []ViewCell{
				Plain(formatOptFloat(row.r.CallsS, 9, 1)),
				Plain(formatOptFloat(row.r.ExecTimeMsS, 9, 1)),
				Plain(fmt.Sprintf("%7.1f", row.meanTime)),
				Plain(formatOptFloat(row.r.RowsS, 9, 1)),
				Plain(fmt.Sprintf("%19d", row.stmtQueryID)),
				Plain(truncate(row.db, 14)),
				Plain(truncate(row.plan, 200)),
			},
			Style: style,
		})
	}

	return &TableViewModel{
		Title:         buildTitle("plans", len(out), len(block), state, ""),
		Headers:       plansHeaders,
		Widths:        plansWidths,
		Rows:          out,
		SortColumn:    state.SortColumn,
		SortAscending: state.SortAscending,
	}
}
