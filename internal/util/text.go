package util

import "strings"

// SanitizePostgresText drops invalid UTF-8 and NUL bytes, which Postgres
// rejects in text columns.
func SanitizePostgresText(value string) string {
	if value == "" {
		return value
	}

	sanitized := strings.ToValidUTF8(value, "")
	return strings.ReplaceAll(sanitized, "\x00", "")
}

// SanitizePostgresRow applies SanitizePostgresText to every string in row,
// in place, and returns row.
func SanitizePostgresRow(row []any) []any {
	for i, v := range row {
		if s, ok := v.(string); ok {
			row[i] = SanitizePostgresText(s)
		}
	}
	return row
}
