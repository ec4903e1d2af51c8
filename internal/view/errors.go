package view

import (
	"fmt"
	"strconv"

	"github.com/vadv/rpglot/internal/intern"
	"github.com/vadv/rpglot/internal/model"
)

var (
	errorsHeaders = []string{"COUNT", "SEV", "CATEGORY", "PATTERN", "SAMPLE"}
	errorsWidths  = []int{7, 6, 14, 60}
)

// BuildErrorsView assembles the log-errors tab model from the grouped
// (pattern, severity) entries of the snapshot interval.
func BuildErrorsView(snapshot *model.Snapshot, state *TabState, interner *intern.Interner) *TableViewModel {
	block, ok := snapshot.Block(model.TagPgLogErrors).(model.PgLogErrorsBlock)
	if !ok || len(block) == 0 {
		return nil
	}

	type row struct {
		entry    model.PgLogEntry
		pattern  string
		sample   string
		category string
	}
	rows := make([]row, 0, len(block))
	for _, e := range block {
		r := row{
			entry:    e,
			pattern:  resolveHash(interner, e.PatternHash),
			sample:   resolveHash(interner, e.SampleHash),
			category: e.Category.Label(),
		}
		if !matchFilter(state.Filter, strconv.FormatUint(e.PatternHash, 10), r.pattern, r.sample, r.category, e.Severity.String()) {
			continue
		}
		rows = append(rows, r)
	}

	order := sortRows(len(rows), state.SortAscending, func(i int) SortKey {
		r := &rows[i]
		switch state.SortColumn {
		case 0:
			return IntKey(int64(r.entry.Count))
		case 1:
			return IntKey(int64(r.entry.Severity))
		case 2:
			return StringKey(r.category)
		case 3:
			return StringKey(r.pattern)
		default:
			return StringKey(r.sample)
		}
	})

	out := make([]ViewRow, 0, len(rows))
	for _, i := range order {
		r := &rows[i]
		style := StyleWarning
		switch r.entry.Severity {
		case model.SeverityFatal:
			style = StyleCritical
		case model.SeverityPanic:
			style = StyleCriticalBold
		}
		out = append(out, ViewRow{
			ID: strconv.FormatUint(r.entry.PatternHash, 10),
			Cells: []ViewCell{
				Plain(fmt.Sprintf("%6d", r.entry.Count)),
				Styled(r.entry.Severity.String(), style),
				Plain(r.category),
				Plain(truncate(r.pattern, 60)),
				Plain(r.sample),
			},
			Style: style,
		})
	}

	return &TableViewModel{
		Title:         buildTitle("errors", len(out), len(block), state, ""),
		Headers:       errorsHeaders,
		Widths:        errorsWidths,
		Rows:          out,
		SortColumn:    state.SortColumn,
		SortAscending: state.SortAscending,
	}
}
