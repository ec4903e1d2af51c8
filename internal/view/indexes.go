package view

import (
	"strconv"

	"github.com/dustin/go-humanize"

	"github.com/vadv/rpglot/internal/intern"
	"github.com/vadv/rpglot/internal/model"
	"github.com/vadv/rpglot/internal/rates"
)

var (
	indexesHeaders = []string{"SCANS/s", "TUP_RD/s", "TUP_FE/s", "BLK_RD/s", "BLK_HIT/s", "SIZE", "DB", "TABLE", "INDEX"}
	indexesWidths  = []int{9, 9, 9, 9, 9, 9, 12, 18}
)

type indexesRow struct {
	indexRelID uint32
	db         string
	table      string
	index      string
	sizeB      int64
	r          rates.IndexesRates
}

// BuildIndexesView assembles the user-indexes tab model.
func BuildIndexesView(snapshot *model.Snapshot, state *TabState, rateState *rates.IndexesState, interner *intern.Interner) *TableViewModel {
	block, ok := snapshot.Block(model.TagPgStatUserIndexes).(model.PgStatUserIndexesBlock)
	if !ok || len(block) == 0 {
		return nil
	}

	rows := make([]indexesRow, 0, len(block))
	for _, idx := range block {
		row := indexesRow{
			indexRelID: idx.IndexRelID,
			db:         resolveHash(interner, idx.DatnameHash),
			table:      resolveHash(interner, idx.SchemanameHash) + "." + resolveHash(interner, idx.RelnameHash),
			index:      resolveHash(interner, idx.IndexnameHash),
			sizeB:      idx.SizeBytes,
		}
		if r, ok := rateState.Rates[idx.IndexRelID]; ok && r != nil {
			row.r = *r
		}
		if !matchFilter(state.Filter, strconv.FormatUint(uint64(idx.IndexRelID), 10), row.db, row.table, row.index) {
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
			return f(row.r.IdxScanS)
		case 1:
			return f(row.r.IdxTupReadS)
		case 2:
			return f(row.r.IdxTupFetchS)
		case 3:
			return f(row.r.IdxBlksReadS)
		case 4:
			return f(row.r.IdxBlksHitS)
		case 5:
			return IntKey(row.sizeB)
		case 6:
			return StringKey(row.db)
		case 7:
			return StringKey(row.table)
		default:
			return StringKey(row.index)
		}
	})

	out := make([]ViewRow, 0, len(rows))
	for _, i := range order {
		row := &rows[i]
		// an index with a zero scan rate that is larger than 64 MiB is dead weight
		style := StyleNormal
		if row.r.IdxScanS != nil && *row.r.IdxScanS == 0 && row.sizeB > 64*1024*1024 {
			style = StyleDimmed
		}
		out = append(out, ViewRow{
			ID: strconv.FormatUint(uint64(row.indexRelID), 10),
			Cells: []ViewCell{
				Plain(formatOptFloat(row.r.IdxScanS, 8, 1)),
				Plain(formatOptFloat(row.r.IdxTupReadS, 8, 1)),
				Plain(formatOptFloat(row.r.IdxTupFetchS, 8, 1)),
				Plain(formatOptFloat(row.r.IdxBlksReadS, 8, 1)),
				Plain(formatOptFloat(row.r.IdxBlksHitS, 8, 1)),
				Plain(humanize.IBytes(uint64(max(row.sizeB, 0)))),
				Plain(truncate(row.db, 12)),
				Plain(truncate(row.table, 18)),
				Plain(row.index),
			},
			Style: style,
		})
	}

	return &TableViewModel{
		Title:         buildTitle("indexes", len(out), len(block), state, ""),
		Headers:       indexesHeaders,
		Widths:        indexesWidths,
		Rows:          out,
		SortColumn:    state.SortColumn,
		SortAscending: state.SortAscending,
	}
}
