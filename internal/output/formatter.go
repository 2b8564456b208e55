package output

import (
	"fmt"
	"io"
	"os"
)

// Formats accepted by NewFormatter.
const (
	FormatJSON  = "json"
	FormatYAML  = "yaml"
	FormatHuman = "human"
)

// Formatter renders a run report.
type Formatter interface {
	PrintReport(report *RunReport) error
}

// NewFormatter creates a formatter for format writing to w. A nil writer
// means stdout.
func NewFormatter(format string, w io.Writer) (Formatter, error) {
	if w == nil {
		w = os.Stdout
	}

	switch format {
	case FormatJSON, "":
		return &JSONFormatter{Writer: w, Indent: true}, nil
	case FormatYAML:
		return &YAMLFormatter{Writer: w}, nil
	case FormatHuman:
		return NewHumanFormatter(w), nil
	default:
		return nil, fmt.Errorf("unknown output format %q (valid: json, yaml, human)", format)
	}
}
