package output

import (
	"encoding/json"
	"fmt"
	"io"

	"gopkg.in/yaml.v3"
)

// JSONFormatter formats output as JSON
type JSONFormatter struct {
	Writer io.Writer
	Indent bool
}

// PrintReport writes the report as a single JSON document.
func (f *JSONFormatter) PrintReport(report *RunReport) error {
	encoder := json.NewEncoder(f.Writer)
	if f.Indent {
		encoder.SetIndent("", "  ")
	}
	return encoder.Encode(report)
}

// YAMLFormatter formats output as YAML
type YAMLFormatter struct {
	Writer io.Writer
}

// PrintReport writes the report as YAML. Keys match the JSON form.
func (f *YAMLFormatter) PrintReport(report *RunReport) error {
	data, err := json.Marshal(report)
	if err != nil {
		return fmt.Errorf("failed to encode report: %w", err)
	}

	// YAML is a superset of JSON, so the JSON keys carry over unchanged.
	var doc any
	if err := yaml.Unmarshal(data, &doc); err != nil {
		return fmt.Errorf("failed to convert report: %w", err)
	}

	encoder := yaml.NewEncoder(f.Writer)
	encoder.SetIndent(2)
	if err := encoder.Encode(doc); err != nil {
		return err
	}
	return encoder.Close()
}
