package output

import (
	"encoding/json"
	"io"

	"github.com/vegasq/tripmean/query"
)

// JSONFormatter outputs groups as JSON Lines format
type JSONFormatter struct {
	writer io.Writer
}

// NewJSONFormatter creates a new JSON Lines formatter
func NewJSONFormatter(w io.Writer) *JSONFormatter {
	return &JSONFormatter{writer: w}
}

// SetOutput sets the output writer
func (j *JSONFormatter) SetOutput(w io.Writer) {
	j.writer = w
}

// Format writes one JSON object per group
func (j *JSONFormatter) Format(results query.ResultMap) error {
	encoder := json.NewEncoder(j.writer)
	for _, row := range Rows(results) {
		if err := encoder.Encode(row); err != nil {
			return err
		}
	}
	return nil
}
