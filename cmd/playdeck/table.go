package main

import (
	"strconv"

	"github.com/jedib0t/go-pretty/v6/table"
	"github.com/jedib0t/go-pretty/v6/text"

	"github.com/playdeck/playdeck/internal/app/queue"
)

// renderQueueTable renders the current episode and the play queue.
func renderQueueTable(state queue.Snapshot) string {
	tw := table.NewWriter()
	tw.SetStyle(table.StyleRounded)
	tw.AppendHeader(table.Row{"#", "ID", "Title", "Date"})
	tw.SetColumnConfigs([]table.ColumnConfig{
		{Number: 1, Align: text.AlignRight, AlignHeader: text.AlignLeft},
		{Number: 2, Align: text.AlignLeft},
		{Number: 3, Align: text.AlignLeft, WidthMax: 60},
		{Number: 4, Align: text.AlignLeft},
	})

	if state.Current != nil {
		tw.AppendRow(table.Row{"▶", state.Current.ID, state.Current.Title, state.Current.Date})
		tw.AppendSeparator()
	}
	for i, ep := range state.Queue {
		tw.AppendRow(table.Row{strconv.Itoa(i), ep.ID, ep.Title, ep.Date})
	}
	if state.Current == nil && len(state.Queue) == 0 {
		tw.AppendRow(table.Row{"", "", "(queue is empty)", ""})
	}

	return tw.Render()
}
