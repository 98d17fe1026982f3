package output

import (
	"fmt"
	"io"

	"gopkg.in/yaml.v3"

	"github.com/vegasq/tripmean/query"
)

// YAMLFormatter outputs groups as a YAML sequence.
type YAMLFormatter struct {
	writer io.Writer
}

// NewYAMLFormatter creates a new YAML formatter
func NewYAMLFormatter(w io.Writer) *YAMLFormatter {
	return &YAMLFormatter{writer: w}
}

// SetOutput sets the output writer
func (y *YAMLFormatter) SetOutput(w io.Writer) {
	y.writer = w
}

// Format writes all groups as one document
func (y *YAMLFormatter) Format(results query.ResultMap) error {
	encoder := yaml.NewEncoder(y.writer)
	encoder.SetIndent(2)
	if err := encoder.Encode(Rows(results)); err != nil {
		return fmt.Errorf("failed to encode YAML: %w", err)
	}
	return encoder.Close()
}
