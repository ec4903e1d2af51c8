package view

import (
	"fmt"
	"strconv"
	"time"

	"github.com/vadv/rpglot/internal/intern"
	"github.com/vadv/rpglot/internal/model"
)

var (
	activityHeaders = []string{"PID", "DB", "USER", "APP", "STATE", "WAIT", "XACT_S", "QUERY_S", "QUERY"}
	activityWidths  = []int{7, 14, 12, 14, 20, 18, 8, 8}
)

type activityRow struct {
	pid         int32
	db          string
	user        string
	app         string
	state       string
	wait        string
	backendType string
	xactSecs    int64
	querySecs   int64
	query       string
}

// BuildActivityView assembles the pg_stat_activity tab model. HideIdle
// hides idle sessions and non-client backends.
func BuildActivityView(snapshot *model.Snapshot, state *TabState, interner *intern.Interner) *TableViewModel {
	block, ok := snapshot.Block(model.TagPgStatActivity).(model.PgStatActivityBlock)
	if !ok || len(block) == 0 {
		return nil
	}

	now := snapshot.Timestamp
	rows := make([]activityRow, 0, len(block))
	for _, a := range block {
		row := activityRow{
			pid:         a.Pid,
			db:          resolveHash(interner, a.DatnameHash),
			user:        resolveHash(interner, a.UsenameHash),
			app:         resolveHash(interner, a.ApplicationNameHash),
			state:       resolveHash(interner, a.StateHash),
			backendType: resolveHash(interner, a.BackendTypeHash),
			query:       normalizeQuery(resolveHash(interner, a.QueryHash)),
		}
		waitType := resolveHash(interner, a.WaitEventTypeHash)
		waitEvent := resolveHash(interner, a.WaitEventHash)
		if waitType != "" {
			row.wait = waitType + ":" + waitEvent
		}
		if a.XactStart > 0 && now >= a.XactStart {
			row.xactSecs = now - a.XactStart
		}
		if a.QueryStart > 0 && now >= a.QueryStart {
			row.querySecs = now - a.QueryStart
		}

		if state.HideIdle {
			if row.state == "idle" || (row.backendType != "" && row.backendType != "client backend") {
				continue
			}
		}
		if !matchFilter(state.Filter, strconv.FormatInt(int64(a.Pid), 10), row.db, row.user, row.app, row.state, row.query) {
			continue
		}
		rows = append(rows, row)
	}

	order := sortRows(len(rows), state.SortAscending, func(i int) SortKey {
		row := &rows[i]
		switch state.SortColumn {
		case 0:
			return IntKey(int64(row.pid))
		case 1:
			return StringKey(row.db)
		case 2:
			return StringKey(row.user)
		case 3:
			return StringKey(row.app)
		case 4:
			return StringKey(row.state)
		case 5:
			return StringKey(row.wait)
		case 6:
			return IntKey(row.xactSecs)
		case 7:
			return IntKey(row.querySecs)
		default:
			return StringKey(row.query)
		}
	})

	out := make([]ViewRow, 0, len(rows))
	for _, i := range order {
		row := &rows[i]
		out = append(out, ViewRow{
			ID: strconv.FormatInt(int64(row.pid), 10),
			Cells: []ViewCell{
				Plain(fmt.Sprintf("%6d", row.pid)),
				Plain(truncate(row.db, 14)),
				Plain(truncate(row.user, 12)),
				Plain(truncate(row.app, 14)),
				activityStateCell(row.state),
				Plain(truncate(row.wait, 18)),
				Plain(formatSeconds(row.xactSecs)),
				Plain(formatSeconds(row.querySecs)),
				Plain(row.query),
			},
			Style: activityRowStyle(row),
		})
	}

	return &TableViewModel{
		Title:         buildTitle("activity", len(out), len(block), state, activityModeName(state)),
		Headers:       activityHeaders,
		Widths:        activityWidths,
		Rows:          out,
		SortColumn:    state.SortColumn,
		SortAscending: state.SortAscending,
	}
}

func activityModeName(state *TabState) string {
	if state.HideIdle {
		return "no-idle"
	}
	return ""
}

func activityStateCell(state string) ViewCell {
	switch state {
	case "active":
		return Styled(truncate(state, 20), StyleActive)
	case "idle":
		return Styled(truncate(state, 20), StyleDimmed)
	case "idle in transaction", "idle in transaction (aborted)":
		return Styled(truncate(state, 20), StyleWarning)
	}
	return Plain(truncate(state, 20))
}

// activityRowStyle highlights long transactions and lock waits.
func activityRowStyle(row *activityRow) StyleClass {
	if row.wait != "" && row.wait[:min(len(row.wait), 5)] == "Lock:" {
		return StyleCritical
	}
	switch {
	case row.xactSecs >= 300:
		return StyleCritical
	case row.xactSecs >= 60:
		return StyleWarning
	}
	return StyleNormal
}

// formatSeconds renders a duration in compact htop style.
func formatSeconds(secs int64) string {
	if secs <= 0 {
		return "      -"
	}
	d := time.Duration(secs) * time.Second
	switch {
	case d >= time.Hour:
		return fmt.Sprintf("%5.1fh", d.Hours())
	case d >= time.Minute:
		return fmt.Sprintf("%5.1fm", d.Minutes())
	}
	return fmt.Sprintf("%5ds", secs)
}
