package cli

import (
	"fmt"
	"io"
	"strings"

	"github.com/apache/arrow-go/v18/arrow"
	jsoniter "github.com/json-iterator/go"
	"github.com/spf13/cobra"
)

var json = jsoniter.ConfigCompatibleWithStandardLibrary

// getOutputFormat returns the effective output format from the root command's persistent flags.
func getOutputFormat(cmd *cobra.Command) string {
	v, _ := cmd.Root().PersistentFlags().GetString("output")
	return v
}

func validateOutputFormat(output string) error {
	if output != "" && output != "table" && output != "json" {
		return fmt.Errorf("unsupported output format %q: use 'table' or 'json'", output)
	}
	return nil
}

func printJSON(w io.Writer, v interface{}) error {
	enc := json.NewEncoder(w)
	enc.SetIndent("", "  ")
	return enc.Encode(v)
}

// printTable writes an aligned table with upper-cased headers and two spaces
// between columns. Nothing is written when there are no columns.
func printTable(w io.Writer, columns []string, rows [][]string) {
	if len(columns) == 0 {
		return
	}
	widths := make([]int, len(columns))
	for i, c := range columns {
		widths[i] = len(c)
	}
	for _, row := range rows {
		for i := range columns {
			if i < len(row) && len(row[i]) > widths[i] {
				widths[i] = len(row[i])
			}
		}
	}

	writeLine := func(cells []string) {
		var sb strings.Builder
		for i := range columns {
			cell := ""
			if i < len(cells) {
				cell = cells[i]
			}
			if i == len(columns)-1 {
				sb.WriteString(cell)
				break
			}
			sb.WriteString(cell)
			sb.WriteString(strings.Repeat(" ", widths[i]-len(cell)+2))
		}
		_, _ = fmt.Fprintln(w, strings.TrimRight(sb.String(), " "))
	}

	headers := make([]string, len(columns))
	for i, c := range columns {
		headers[i] = strings.ToUpper(c)
	}
	writeLine(headers)
	for _, row := range rows {
		writeLine(row)
	}
}

// recordTable flattens batches into printable rows.
func recordTable(schema *arrow.Schema, batches []arrow.Record) ([]string, [][]string) {
	columns := make([]string, schema.NumFields())
	for i, f := range schema.Fields() {
		columns[i] = f.Name
	}
	var rows [][]string
	for _, rec := range batches {
		for r := 0; r < int(rec.NumRows()); r++ {
			row := make([]string, rec.NumCols())
			for c := 0; c < int(rec.NumCols()); c++ {
				col := rec.Column(c)
				if col.IsNull(r) {
					row[c] = "NULL"
					continue
				}
				row[c] = col.ValueStr(r)
			}
			rows = append(rows, row)
		}
	}
	return columns, rows
}

// recordObjects converts batches into one JSON object per row.
func recordObjects(schema *arrow.Schema, batches []arrow.Record) []map[string]interface{} {
	out := []map[string]interface{}{}
	for _, rec := range batches {
		for r := 0; r < int(rec.NumRows()); r++ {
			obj := make(map[string]interface{}, rec.NumCols())
			for c := 0; c < int(rec.NumCols()); c++ {
				obj[schema.Field(c).Name] = rec.Column(c).GetOneForMarshal(r)
			}
			out = append(out, obj)
		}
	}
	return out
}
