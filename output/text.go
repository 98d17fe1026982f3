package output

import (
	"fmt"
	"io"

	"github.com/vegasq/tripmean/query"
)

// TextFormatter prints one human readable line per group.
type TextFormatter struct {
	writer io.Writer
}

// NewTextFormatter creates a new text formatter
func NewTextFormatter(w io.Writer) *TextFormatter {
	return &TextFormatter{writer: w}
}

// SetOutput sets the output writer
func (t *TextFormatter) SetOutput(w io.Writer) {
	t.writer = w
}

// Format writes "passenger_count: k => mean trip distance: v" lines
func (t *TextFormatter) Format(results query.ResultMap) error {
	for _, row := range Rows(results) {
		if _, err := fmt.Fprintf(t.writer, "passenger_count: %d => mean trip distance: %s\n",
			row.PassengerCount, formatFloat(row.MeanTripDistance)); err != nil {
			return err
		}
	}
	return nil
}
