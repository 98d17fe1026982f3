package output

import (
	"fmt"
	"io"
	"strconv"
	"strings"

	"github.com/vegasq/tripmean/query"
)

// Column names used by the structured formats.
const (
	KeyColumn  = "passenger_count"
	MeanColumn = "mean_trip_distance"
)

// Formatter defines the interface for output formatters.
//
// Implementers must provide Format to write a result in the formatter's
// format and SetOutput to change the output destination.
type Formatter interface {
	// Format writes results ordered by ascending key
	Format(results query.ResultMap) error

	// SetOutput changes the output writer
	SetOutput(w io.Writer)
}

// Formats lists the names accepted by NewFormatter.
var Formats = []string{"text", "json", "csv", "table", "yaml"}

// NewFormatter returns the formatter registered under name.
func NewFormatter(name string, w io.Writer) (Formatter, error) {
	switch strings.ToLower(name) {
	case "", "text":
		return NewTextFormatter(w), nil
	case "json", "jsonl":
		return NewJSONFormatter(w), nil
	case "csv":
		return NewCSVFormatter(w), nil
	case "table":
		return NewTableFormatter(w), nil
	case "yaml", "yml":
		return NewYAMLFormatter(w), nil
	default:
		return nil, fmt.Errorf("unsupported output format %q (want one of %s)", name, strings.Join(Formats, ", "))
	}
}

// Row is one group of a result.
type Row struct {
	PassengerCount   int     `json:"passenger_count" yaml:"passenger_count"`
	MeanTripDistance float64 `json:"mean_trip_distance" yaml:"mean_trip_distance"`
}

// Rows flattens results in key order.
func Rows(results query.ResultMap) []Row {
	keys := results.Keys()
	rows := make([]Row, len(keys))
	for i, k := range keys {
		rows[i] = Row{PassengerCount: k, MeanTripDistance: results[k]}
	}
	return rows
}

// formatFloat renders v with the fewest digits that round-trip
func formatFloat(v float64) string {
	return strconv.FormatFloat(v, 'g', -1, 64)
}
