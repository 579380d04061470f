package cli

import (
	"encoding/csv"
	"encoding/json"
	"fmt"
	"io"
	"text/tabwriter"

	"github.com/queryctl/queryctl/internal/fetch"
)

func render(w io.Writer, format string, schema fetch.Schema, rows []fetch.Row) error {
	switch format {
	case "table", "":
		return renderTable(w, schema, rows)
	case "csv":
		return renderCSV(w, schema, rows)
	case "json":
		return renderJSON(w, schema, rows)
	default:
		return fmt.Errorf("unknown output format %q", format)
	}
}

func renderTable(w io.Writer, schema fetch.Schema, rows []fetch.Row) error {
	tw := tabwriter.NewWriter(w, 0, 4, 2, ' ', 0)
	for i, column := range schema {
		if i > 0 {
			fmt.Fprint(tw, "\t")
		}
		fmt.Fprint(tw, column.Name)
	}
	fmt.Fprintln(tw)
	for _, row := range rows {
		for i, value := range row {
			if i > 0 {
				fmt.Fprint(tw, "\t")
			}
			fmt.Fprint(tw, value.String())
		}
		fmt.Fprintln(tw)
	}
	return tw.Flush()
}

func renderCSV(w io.Writer, schema fetch.Schema, rows []fetch.Row) error {
	cw := csv.NewWriter(w)
	header := make([]string, len(schema))
	for i, column := range schema {
		header[i] = column.Name
	}
	if err := cw.Write(header); err != nil {
		return err
	}
	record := make([]string, len(schema))
	for _, row := range rows {
		for i, value := range row {
			if value.Null {
				record[i] = ""
			} else {
				record[i] = value.String()
			}
		}
		if err := cw.Write(record); err != nil {
			return err
		}
	}
	cw.Flush()
	return cw.Error()
}

func renderJSON(w io.Writer, schema fetch.Schema, rows []fetch.Row) error {
	out := make([]map[string]any, 0, len(rows))
	for _, row := range rows {
		record := make(map[string]any, len(schema))
		for i, value := range row {
			record[schema[i].Name] = jsonValue(value)
		}
		out = append(out, record)
	}
	encoder := json.NewEncoder(w)
	encoder.SetIndent("", "  ")
	return encoder.Encode(out)
}

func jsonValue(value fetch.Value) any {
	if value.Null {
		return nil
	}
	switch value.Type {
	case fetch.TypeInteger:
		return value.Int
	case fetch.TypeFloat:
		return value.Float
	case fetch.TypeBoolean:
		return value.Bool
	default:
		return value.Str
	}
}
