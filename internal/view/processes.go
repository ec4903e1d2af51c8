package view

import (
	"fmt"
	"strconv"

	"github.com/dustin/go-humanize"

	"github.com/vadv/rpglot/internal/intern"
	"github.com/vadv/rpglot/internal/model"
)

var (
	processesHeaders = []string{"PID", "USER", "S", "THR", "RSS", "SWAP", "RD/B", "WR/B", "COMMAND"}
	processesWidths  = []int{7, 10, 2, 5, 9, 9, 9, 9}
)

type processRow struct {
	pid        uint32
	user       string
	state      byte
	threads    int32
	rssKb      uint64
	swapKb     uint64
	readBytes  uint64
	writeBytes uint64
	command    string
}

// BuildProcessesView assembles the host processes tab model.
func BuildProcessesView(snapshot *model.Snapshot, state *TabState, interner *intern.Interner) *TableViewModel {
	block, ok := snapshot.Block(model.TagProcesses).(model.ProcessesBlock)
	if !ok || len(block) == 0 {
		return nil
	}

	rows := make([]processRow, 0, len(block))
	for _, p := range block {
		row := processRow{
			pid:        p.Pid,
			user:       resolveHash(interner, p.UserHash),
			state:      p.State,
			threads:    p.NumThreads,
			rssKb:      p.VmRSS,
			swapKb:     p.VmSwap,
			readBytes:  p.ReadBytes,
			writeBytes: p.WriteBytes,
			command:    resolveHash(interner, p.CmdlineHash),
		}
		if row.command == "" {
			row.command = resolveHash(interner, p.NameHash)
		}
		if !matchFilter(state.Filter, strconv.FormatUint(uint64(p.Pid), 10), row.user, row.command) {
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
			return StringKey(row.user)
		case 2:
			return StringKey(string(row.state))
		case 3:
			return IntKey(int64(row.threads))
		case 4:
			return IntKey(int64(row.rssKb))
		case 5:
			return IntKey(int64(row.swapKb))
		case 6:
			return IntKey(int64(row.readBytes))
		case 7:
			return IntKey(int64(row.writeBytes))
		default:
			return StringKey(row.command)
		}
	})

	out := make([]ViewRow, 0, len(rows))
	for _, i := range order {
		row := &rows[i]
		style := StyleNormal
		switch row.state {
		case 'R':
			style = StyleActive
		case 'D':
			style = StyleWarning
		case 'Z':
			style = StyleCritical
		}
		out = append(out, ViewRow{
			ID: strconv.FormatUint(uint64(row.pid), 10),
			Cells: []ViewCell{
				Plain(fmt.Sprintf("%6d", row.pid)),
				Plain(truncate(row.user, 10)),
				Plain(string(row.state)),
				Plain(fmt.Sprintf("%4d", row.threads)),
				Plain(fmt.Sprintf("%8s", humanize.IBytes(row.rssKb*1024))),
				Plain(fmt.Sprintf("%8s", humanize.IBytes(row.swapKb*1024))),
				Plain(fmt.Sprintf("%8s", humanize.IBytes(row.readBytes))),
				Plain(fmt.Sprintf("%8s", humanize.IBytes(row.writeBytes))),
				Plain(row.command),
			},
			Style: style,
		})
	}

	return &TableViewModel{
		Title:         buildTitle("processes", len(out), len(block), state, ""),
		Headers:       processesHeaders,
		Widths:        processesWidths,
		Rows:          out,
		SortColumn:    state.SortColumn,
		SortAscending: state.SortAscending,
	}
}
