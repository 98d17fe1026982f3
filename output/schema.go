package output

import (
	"encoding/csv"
	"encoding/json"
	"fmt"
	"io"
	"strconv"
	"strings"

	"github.com/olekukonko/tablewriter"
	"gopkg.in/yaml.v3"

	"github.com/vegasq/tripmean/dataset"
)

var schemaHeader = []string{"name", "type", "physical_type", "logical_type", "optional", "repeated", "supported"}

// FormatSchema writes column descriptions in one of Formats.
func FormatSchema(w io.Writer, format string, columns []dataset.ColumnInfo) error {
	switch strings.ToLower(format) {
	case "json", "jsonl":
		encoder := json.NewEncoder(w)
		for _, col := range columns {
			if err := encoder.Encode(col); err != nil {
				return err
			}
		}
		return nil

	case "yaml", "yml":
		encoder := yaml.NewEncoder(w)
		encoder.SetIndent(2)
		if err := encoder.Encode(columns); err != nil {
			return fmt.Errorf("failed to encode YAML: %w", err)
		}
		return encoder.Close()

	case "csv":
		csvWriter := csv.NewWriter(w)
		if err := csvWriter.Write(schemaHeader); err != nil {
			return err
		}
		for _, col := range columns {
			if err := csvWriter.Write(schemaRecord(col)); err != nil {
				return err
			}
		}
		csvWriter.Flush()
		if err := csvWriter.Error(); err != nil {
			return fmt.Errorf("failed to flush CSV writer: %w", err)
		}
		return nil

	case "", "text", "table":
		table := tablewriter.NewWriter(w)
		table.SetHeader(schemaHeader)
		table.SetAutoFormatHeaders(false)
		for _, col := range columns {
			table.Append(schemaRecord(col))
		}
		table.Render()
		return nil

	default:
		return fmt.Errorf("unsupported output format %q (want one of %s)", format, strings.Join(Formats, ", "))
	}
}

func schemaRecord(col dataset.ColumnInfo) []string {
	return []string{
		col.Name,
		col.Type,
		col.PhysicalType,
		col.LogicalType,
		strconv.FormatBool(col.Optional),
		strconv.FormatBool(col.Repeated),
		strconv.FormatBool(col.Supported),
	}
}
