// Package output provides output formatting for channelmesh-probe.
package output

import (
	"encoding/json"
	"fmt"
	"io"
	"sort"
	"text/tabwriter"
)

// Format represents the output format.
type Format string

const (
	FormatTable Format = "table"
	FormatJSON  Format = "json"
)

// Formatter formats data for output.
type Formatter interface {
	Format(w io.Writer, data any) error
}

// NewFormatter creates a formatter for the given format.
func NewFormatter(format Format) Formatter {
	if format == FormatJSON {
		return &JSONFormatter{}
	}
	return &TableFormatter{}
}

// JSONFormatter formats data as indented JSON.
type JSONFormatter struct{}

// Format implements Formatter.
func (f *JSONFormatter) Format(w io.Writer, data any) error {
	encoder := json.NewEncoder(w)
	encoder.SetIndent("", "  ")
	return encoder.Encode(data)
}

// TableFormatter renders the probe's result shapes as aligned text.
type TableFormatter struct{}

// Format implements Formatter. Lists render one value per row, counts
// render sorted NAME/COUNT rows, anything else falls back to JSON.
func (f *TableFormatter) Format(w io.Writer, data any) error {
	switch v := data.(type) {
	case []string:
		tw := tabwriter.NewWriter(w, 0, 4, 2, ' ', 0)
		fmt.Fprintln(tw, "CHANNEL")
		for _, s := range v {
			fmt.Fprintln(tw, s)
		}
		return tw.Flush()
	case map[string]int64:
		keys := make([]string, 0, len(v))
		for k := range v {
			keys = append(keys, k)
		}
		sort.Strings(keys)
		tw := tabwriter.NewWriter(w, 0, 4, 2, ' ', 0)
		fmt.Fprintln(tw, "CHANNEL\tSUBSCRIBERS")
		for _, k := range keys {
			fmt.Fprintf(tw, "%s\t%d\n", k, v[k])
		}
		return tw.Flush()
	case int64:
		_, err := fmt.Fprintln(w, v)
		return err
	default:
		return (&JSONFormatter{}).Format(w, data)
	}
}
