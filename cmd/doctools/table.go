package main

import (
	"fmt"
	"strings"

	"github.com/jedib0t/go-pretty/v6/table"
	"github.com/jedib0t/go-pretty/v6/text"
)

type columnAlignment int

const (
	alignLeft columnAlignment = iota
	alignRight
)

// resultTable renders job, batch item and history rows. Each row carries the
// status kind of its outcome, which colours the status cell and feeds the
// caption tally.
type resultTable struct {
	headers      []string
	aligns       []columnAlignment
	statusColumn int
	rows         []resultRow
}

type resultRow struct {
	kind  statusKind
	cells []string
}

// newResultTable builds a table whose statusColumn (zero based, -1 for none)
// is coloured per row.
func newResultTable(headers []string, aligns []columnAlignment, statusColumn int) *resultTable {
	return &resultTable{headers: headers, aligns: aligns, statusColumn: statusColumn}
}

func (t *resultTable) addRow(kind statusKind, cells ...string) {
	t.rows = append(t.rows, resultRow{kind: kind, cells: cells})
}

// tally counts rows per outcome, in a fixed order, skipping empty buckets:
// "3 succeeded, 1 failed".
func (t *resultTable) tally() string {
	counts := make(map[statusKind]int, 4)
	for _, row := range t.rows {
		counts[row.kind]++
	}
	parts := make([]string, 0, 4)
	for _, kind := range []statusKind{statusOK, statusError, statusWarn, statusInfo} {
		if n := counts[kind]; n > 0 {
			parts = append(parts, fmt.Sprintf("%d %s", n, outcomeNoun(kind)))
		}
	}
	return strings.Join(parts, ", ")
}

func (t *resultTable) render(colorize bool) string {
	columns := len(t.headers)
	if columns == 0 {
		return ""
	}

	tw := table.NewWriter()
	tw.SetStyle(table.StyleRounded)

	header := make(table.Row, columns)
	for i, h := range t.headers {
		header[i] = h
	}
	tw.AppendHeader(header)

	for _, row := range t.rows {
		r := make(table.Row, columns)
		for i := range columns {
			cell := ""
			if i < len(row.cells) {
				cell = row.cells[i]
			}
			if colorize && i == t.statusColumn {
				cell = statusKindTextColors(row.kind).Sprint(cell)
			}
			r[i] = cell
		}
		tw.AppendRow(r)
	}

	columnConfigs := make([]table.ColumnConfig, 0, columns)
	for i := range columns {
		align := text.AlignLeft
		if i < len(t.aligns) && t.aligns[i] == alignRight {
			align = text.AlignRight
		}
		columnConfigs = append(columnConfigs, table.ColumnConfig{
			Number:      i + 1,
			Align:       align,
			AlignHeader: text.AlignLeft,
		})
	}
	tw.SetColumnConfigs(columnConfigs)
	if t.statusColumn >= 0 && len(t.rows) > 0 {
		tw.SetCaption("%s", t.tally())
	}

	return tw.Render()
}
