package view

import (
	"fmt"
	"strconv"
	"strings"

	"github.com/vadv/rpglot/internal/intern"
	"github.com/vadv/rpglot/internal/model"
)

var (
	lockTreeHeaders = []string{"PID", "DB", "USER", "STATE", "LOCK", "MODE", "TARGET", "WAIT_S", "QUERY"}
	lockTreeWidths  = []int{10, 12, 10, 20, 14, 20, 22, 8}
)

// BuildLockTreeView assembles the blocking-chains tab model. Rows keep
// their DFS order from the collector; depth shows as indentation on the
// PID column, so the view is not client-sortable.
func BuildLockTreeView(snapshot *model.Snapshot, state *TabState, interner *intern.Interner) *TableViewModel {
	block, ok := snapshot.Block(model.TagPgLockTree).(model.PgLockTreeBlock)
	if !ok || len(block) == 0 {
		return nil
	}

	now := snapshot.Timestamp
	out := make([]ViewRow, 0, len(block))
	for _, n := range block {
		db := resolveHash(interner, n.DatnameHash)
		user := resolveHash(interner, n.UsenameHash)
		stateStr := resolveHash(interner, n.StateHash)
		lockType := resolveHash(interner, n.LockTypeHash)
		lockMode := resolveHash(interner, n.LockModeHash)
		target := resolveHash(interner, n.LockTargetHash)
		query := normalizeQuery(resolveHash(interner, n.QueryHash))

		if !matchFilter(state.Filter, strconv.FormatInt(int64(n.Pid), 10), db, user, stateStr, target, query) {
			continue
		}

		indent := strings.Repeat("  ", int(max(int64(n.Depth)-1, 0)))
		marker := ""
		if n.Depth > 1 {
			marker = "└ "
		}

		var waitSecs int64
		if n.Depth > 1 && n.StateChange > 0 && now >= n.StateChange {
			waitSecs = now - n.StateChange
		}

		style := StyleNormal
		if n.Depth == 1 {
			// the root holds the lock everyone else waits on
			style = StyleCriticalBold
		} else if waitSecs >= 60 {
			style = StyleCritical
		} else if waitSecs >= 10 {
			style = StyleWarning
		}

		lockCell := Plain(truncate(lockType, 14))
		if !n.LockGranted {
			lockCell = Styled(truncate(lockType, 14), StyleWarning)
		}

		out = append(out, ViewRow{
			ID: strconv.FormatInt(int64(n.Pid), 10),
			Cells: []ViewCell{
				Plain(fmt.Sprintf("%s%s%d", indent, marker, n.Pid)),
				Plain(truncate(db, 12)),
				Plain(truncate(user, 10)),
				Plain(truncate(stateStr, 20)),
				lockCell,
				Plain(truncate(lockMode, 20)),
				Plain(truncate(target, 22)),
				Plain(formatSeconds(waitSecs)),
				Plain(query),
			},
			Style: style,
		})
	}

	return &TableViewModel{
		Title:         buildTitle("locks", len(out), len(block), state, ""),
		Headers:       lockTreeHeaders,
		Widths:        lockTreeWidths,
		Rows:          out,
		SortColumn:    state.SortColumn,
		SortAscending: state.SortAscending,
	}
}
