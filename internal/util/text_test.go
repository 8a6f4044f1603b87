package util

import "testing"

func TestSanitizePostgresText(t *testing.T) {
	tests := []struct {
		name  string
		input string
		want  string
	}{
		{
			name:  "plain utf8",
			input: "hello world",
			want:  "hello world",
		},
		{
			name:  "contains null byte",
			input: "hel\x00lo",
			want:  "hello",
		},
		{
			name:  "contains invalid utf8",
			input: string([]byte{'a', 0xff, 'b'}),
			want:  "ab",
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got := SanitizePostgresText(tt.input)
			if got != tt.want {
				t.Fatalf("unexpected sanitized value: got %q, want %q", got, tt.want)
			}
		})
	}
}

func TestSanitizePostgresRow(t *testing.T) {
	row := []any{"O\x001", true, "Москва", string([]byte{0xff}), int64(3)}
	got := SanitizePostgresRow(row)

	if got[0] != "O1" || got[2] != "Москва" || got[3] != "" {
		t.Fatalf("unexpected strings %q", got)
	}
	if got[1] != true || got[4] != int64(3) {
		t.Fatalf("expected non-strings untouched, got %v", got)
	}
}
