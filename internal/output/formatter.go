package output

import (
	"bytes"
	"fmt"
	"io"

	"github.com/goccy/go-json"
	"gopkg.in/yaml.v3"
)

// Formatter is the interface for formatting command output.
type Formatter interface {
	// Format returns v rendered as a string.
	Format(v any) (string, error)

	// FormatToWriter writes formatted output directly to a writer.
	FormatToWriter(w io.Writer, v any) error
}

// Tabular is implemented by values that can be shown as a table.
type Tabular interface {
	TableHeader() []string
	TableRows() [][]string
}

// YAMLFormatter formats values as YAML output.
type YAMLFormatter struct{}

// NewYAMLFormatter creates a new YAML formatter.
func NewYAMLFormatter() *YAMLFormatter {
	return &YAMLFormatter{}
}

// Format formats v as YAML.
func (f *YAMLFormatter) Format(v any) (string, error) {
	return formatString(f, v)
}

// FormatToWriter writes YAML output to a writer.
func (f *YAMLFormatter) FormatToWriter(w io.Writer, v any) error {
	encoder := yaml.NewEncoder(w)
	encoder.SetIndent(2)
	defer encoder.Close()

	return encoder.Encode(v)
}

// JSONFormatter formats values as JSON output.
type JSONFormatter struct{}

// NewJSONFormatter creates a new JSON formatter.
func NewJSONFormatter() *JSONFormatter {
	return &JSONFormatter{}
}

// Format formats v as JSON.
func (f *JSONFormatter) Format(v any) (string, error) {
	return formatString(f, v)
}

// FormatToWriter writes JSON output to a writer.
func (f *JSONFormatter) FormatToWriter(w io.Writer, v any) error {
	encoder := json.NewEncoder(w)
	encoder.SetIndent("", "  ")

	return encoder.Encode(v)
}

// TableFormatter renders Tabular values with tablewriter.
type TableFormatter struct{}

// NewTableFormatter creates a new table formatter.
func NewTableFormatter() *TableFormatter {
	return &TableFormatter{}
}

// Format formats v as a table.
func (f *TableFormatter) Format(v any) (string, error) {
	return formatString(f, v)
}

// FormatToWriter writes a table to w. v must implement Tabular.
func (f *TableFormatter) FormatToWriter(w io.Writer, v any) error {
	tab, ok := v.(Tabular)
	if !ok {
		return fmt.Errorf("table format does not support type %T", v)
	}
	t := NewTableWithWriter(w, tab.TableHeader())
	t.AddRows(tab.TableRows())
	return t.Render()
}

func formatString(f Formatter, v any) (string, error) {
	var buf bytes.Buffer
	if err := f.FormatToWriter(&buf, v); err != nil {
		return "", err
	}
	return buf.String(), nil
}

// GetFormatter returns a formatter for the specified format.
func GetFormatter(format Format) (Formatter, error) {
	switch format {
	case FormatYAML:
		return NewYAMLFormatter(), nil
	case FormatJSON:
		return NewJSONFormatter(), nil
	case FormatTable:
		return NewTableFormatter(), nil
	default:
		return nil, fmt.Errorf("unsupported format: %s", format)
	}
}
