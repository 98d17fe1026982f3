package output

import (
	"encoding/csv"
	"fmt"
	"io"
	"strconv"

	"github.com/vegasq/tripmean/query"
)

// CSVFormatter outputs groups as CSV format
type CSVFormatter struct {
	writer io.Writer
}

// NewCSVFormatter creates a new CSV formatter
func NewCSVFormatter(w io.Writer) *CSVFormatter {
	return &CSVFormatter{writer: w}
}

// SetOutput sets the output writer
func (c *CSVFormatter) SetOutput(w io.Writer) {
	c.writer = w
}

// Format writes a header row followed by one row per group
func (c *CSVFormatter) Format(results query.ResultMap) error {
	csvWriter := csv.NewWriter(c.writer)

	if err := csvWriter.Write([]string{KeyColumn, MeanColumn}); err != nil {
		return err
	}
	for _, row := range Rows(results) {
		record := []string{strconv.Itoa(row.PassengerCount), formatFloat(row.MeanTripDistance)}
		if err := csvWriter.Write(record); err != nil {
			return err
		}
	}

	// Flush and check for errors
	csvWriter.Flush()
	if err := csvWriter.Error(); err != nil {
		return fmt.Errorf("failed to flush CSV writer: %w", err)
	}
	return nil
}
