package output

import (
	"io"
	"strconv"

	"github.com/olekukonko/tablewriter"

	"github.com/vegasq/tripmean/query"
)

// TableFormatter renders groups as an aligned ASCII table.
type TableFormatter struct {
	writer io.Writer
}

// NewTableFormatter creates a new table formatter
func NewTableFormatter(w io.Writer) *TableFormatter {
	return &TableFormatter{writer: w}
}

// SetOutput sets the output writer
func (t *TableFormatter) SetOutput(w io.Writer) {
	t.writer = w
}

// Format writes the table. An empty result renders the header only.
func (t *TableFormatter) Format(results query.ResultMap) error {
	table := tablewriter.NewWriter(t.writer)
	table.SetHeader([]string{KeyColumn, MeanColumn})
	table.SetAutoFormatHeaders(false)
	table.SetAlignment(tablewriter.ALIGN_RIGHT)
	for _, row := range Rows(results) {
		table.Append([]string{strconv.Itoa(row.PassengerCount), formatFloat(row.MeanTripDistance)})
	}
	table.Render()
	return nil
}
