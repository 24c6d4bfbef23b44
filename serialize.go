package main

import (
	"fmt"
	"strings"
	"time"
)

// serializeRows renders column metadata and row values as the canonical
// delimited text form: a comma-joined header line followed by one
// comma-joined line per row. Values containing the delimiter are not
// escaped; the format is intentionally minimal and consumers rely on it
// staying exactly this shape.
func serializeRows(columns []string, rows [][]any) string {
	lines := make([]string, 0, len(rows)+1)
	lines = append(lines, strings.Join(columns, ","))
	for _, row := range rows {
		cells := make([]string, len(row))
		for i, v := range row {
			cells[i] = formatValue(v)
		}
		lines = append(lines, strings.Join(cells, ","))
	}
	return strings.Join(lines, "\n")
}

// formatValue is the canonical string form of one cell.
func formatValue(v any) string {
	switch val := v.(type) {
	case nil:
		return "NULL"
	case []byte:
		return string(val)
	case time.Time:
		return val.Format("2006-01-02 15:04:05")
	default:
		return fmt.Sprintf("%v", val)
	}
}
