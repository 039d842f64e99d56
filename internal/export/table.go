package export

import (
	"fmt"

	"github.com/jedib0t/go-pretty/v6/table"
)

// RenderTable renders t as a boxed text table with a row count footer.
func RenderTable(t Table) string {
	header := t.header()
	tw := table.NewWriter()

	hr := make(table.Row, len(header))
	for i, h := range header {
		hr[i] = h
	}
	tw.AppendHeader(hr)

	for _, row := range t.Rows {
		r := make(table.Row, len(header))
		for i, col := range header {
			r[i] = FormatValue(row[col])
		}
		tw.AppendRow(r)
	}
	tw.SetCaption(fmt.Sprintf("%d row(s)", len(t.Rows)))
	return tw.Render()
}
