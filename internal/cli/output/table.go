package output

import (
	"io"

	"github.com/olekukonko/tablewriter"
)

// TableRenderer is implemented by types that can render themselves as a
// table.
type TableRenderer interface {
	Headers() []string
	Rows() [][]string
}

// PrintTable writes data as a formatted table to the writer.
func PrintTable(w io.Writer, data TableRenderer) error {
	rows := data.Rows()
	if len(rows) == 0 {
		_, err := io.WriteString(w, "(no results)\n")
		return err
	}

	table := tablewriter.NewWriter(w)
	table.SetHeader(data.Headers())
	table.SetAutoWrapText(false)
	table.SetAutoFormatHeaders(true)
	table.SetHeaderAlignment(tablewriter.ALIGN_LEFT)
	table.SetAlignment(tablewriter.ALIGN_LEFT)
	table.SetCenterSeparator("")
	table.SetColumnSeparator("")
	table.SetRowSeparator("")
	table.SetHeaderLine(false)
	table.SetBorder(false)
	table.SetTablePadding("  ")
	table.SetNoWhiteSpace(true)

	for _, row := range rows {
		table.Append(row)
	}
	table.Render()
	return nil
}

// TableData is a ready-made TableRenderer for ad-hoc tables built from a
// headers slice and a pre-built row set, the shape RPC-projected structs
// naturally convert to.
type TableData struct {
	headers []string
	rows    [][]string
}

func SimpleTable(headers []string, rows [][]string) TableData {
	return TableData{headers: headers, rows: rows}
}

func (t TableData) Headers() []string {
	return t.headers
}

func (t TableData) Rows() [][]string {
	return t.rows
}
