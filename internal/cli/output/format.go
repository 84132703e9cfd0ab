// Package output provides output formatting utilities for nvmfctl's
// commands. Adapted from the internal/cli/output package: same
// Format/Printer/TableRenderer shape, trimmed of the color-output
// plumbing nvmfctl's plain introspection tables don't need.
package output

import (
	"fmt"
	"io"
	"os"
	"strings"
)

// Format represents the output format type.
type Format string

const (
	FormatTable Format = "table"
	FormatJSON  Format = "json"
	FormatYAML  Format = "yaml"
)

// ParseFormat parses a string into a Format, returning an error if invalid.
func ParseFormat(s string) (Format, error) {
	switch strings.ToLower(strings.TrimSpace(s)) {
	case "table", "":
		return FormatTable, nil
	case "json":
		return FormatJSON, nil
	case "yaml", "yml":
		return FormatYAML, nil
	default:
		return "", fmt.Errorf("invalid output format: %q (valid: table, json, yaml)", s)
	}
}

func (f Format) String() string {
	return string(f)
}

// Printer handles formatted output to a writer in a fixed Format.
type Printer struct {
	out    io.Writer
	format Format
}

func NewPrinter(out io.Writer, format Format) *Printer {
	return &Printer{out: out, format: format}
}

// Stdout creates a Printer writing to os.Stdout in the given format.
func Stdout(format Format) *Printer {
	return NewPrinter(os.Stdout, format)
}

func (p *Printer) Format() Format {
	return p.format
}

// Print outputs data in the configured format. For table format, data that
// implements TableRenderer is rendered as a table and anything else is
// printed as JSON; JSON/YAML marshal data directly.
func (p *Printer) Print(data any) error {
	switch p.format {
	case FormatTable:
		if renderer, ok := data.(TableRenderer); ok {
			return PrintTable(p.out, renderer)
		}
		return PrintJSON(p.out, data)
	case FormatJSON:
		return PrintJSON(p.out, data)
	case FormatYAML:
		return PrintYAML(p.out, data)
	default:
		return fmt.Errorf("unknown format: %s", p.format)
	}
}

// PrintTable renders a TableData as a table, or as JSON/YAML of raw when
// the printer isn't in table mode.
func (p *Printer) PrintTable(data TableRenderer, raw any) error {
	switch p.format {
	case FormatJSON:
		return PrintJSON(p.out, raw)
	case FormatYAML:
		return PrintYAML(p.out, raw)
	default:
		return PrintTable(p.out, data)
	}
}
