package main

import (
	"github.com/jedib0t/go-pretty/v6/table"
	"github.com/jedib0t/go-pretty/v6/text"
)

type columnAlignment int

const (
	alignLeft columnAlignment = iota
	alignRight
)

// renderTable draws a rounded table. Short rows are padded with blanks and
// long rows are cut to the header width.
func renderTable(headers []string, rows [][]string, aligns []columnAlignment) string {
	if len(headers) == 0 {
		return ""
	}
	width := len(headers)
	row := func(values []string) table.Row {
		out := make(table.Row, width)
		for i := range out {
			out[i] = ""
			if i < len(values) {
				out[i] = values[i]
			}
		}
		return out
	}

	tw := table.NewWriter()
	tw.SetStyle(table.StyleRounded)
	tw.AppendHeader(row(headers))
	for _, r := range rows {
		tw.AppendRow(row(r))
	}
	var configs []table.ColumnConfig
	for i, a := range aligns {
		if a == alignRight && i < width {
			configs = append(configs, table.ColumnConfig{Number: i + 1, Align: text.AlignRight, AlignHeader: text.AlignLeft})
		}
	}
	tw.SetColumnConfigs(configs)
	return tw.Render()
}
