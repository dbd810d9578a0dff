package schema

import "testing"

func TestInferColumnType(t *testing.T) {
	tests := []struct {
		name   string
		values []string
		want   DataType
	}{
		{"All integers", []string{"1", "42", "-7"}, TypeInteger},
		{"Integers with nulls", []string{"1", "", "3"}, TypeInteger},
		{"Mixed int and float", []string{"1", "2.5"}, TypeReal},
		{"All floats", []string{"1.5", "-0.25", "3e2"}, TypeReal},
		{"Booleans", []string{"true", "FALSE", "True"}, TypeBoolean},
		{"Zero one is integer not boolean", []string{"0", "1", "1"}, TypeInteger},
		{"ISO dates", []string{"2024-01-15", "2024-02-01"}, TypeTimestamp},
		{"RFC3339 timestamps", []string{"2024-01-15T10:30:00Z"}, TypeTimestamp},
		{"Datetime with space", []string{"2024-01-15 10:30:00"}, TypeTimestamp},
		{"Plain strings", []string{"alice", "bob"}, TypeText},
		{"Mixed types fall back to text", []string{"1", "alice"}, TypeText},
		{"Only nulls", []string{"", ""}, TypeText},
		{"Empty column", nil, TypeText},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if got := InferColumnType(tt.values); got != tt.want {
				t.Errorf("InferColumnType(%v) = %s, want %s", tt.values, got, tt.want)
			}
		})
	}
}

func TestInferColumns(t *testing.T) {
	headers := []string{"id", "name", "amount", "active"}
	rows := [][]string{
		{"1", "Alice", "10.50", "true"},
		{"2", "Bob", "3", "false"},
	}

	cols := InferColumns(headers, rows)
	if len(cols) != 4 {
		t.Fatalf("expected 4 columns, got %d", len(cols))
	}

	want := []DataType{TypeInteger, TypeText, TypeReal, TypeBoolean}
	for i, w := range want {
		if cols[i].Type != w {
			t.Errorf("column %s: got %s, want %s", cols[i].Name, cols[i].Type, w)
		}
	}
}

func TestValidateIdentifier(t *testing.T) {
	tests := []struct {
		name    string
		input   string
		wantErr bool
	}{
		{"Simple name", "sales_2024", false},
		{"Uppercase", "Orders", false},
		{"Digits", "t123", false},
		{"Empty", "", true},
		{"Space", "my table", true},
		{"Quote injection", `x"; DROP TABLE y;--`, true},
		{"Dash", "my-table", true},
		{"Path traversal", "../etc/passwd", true},
		{"Semicolon", "a;b", true},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			err := ValidateIdentifier(tt.input)
			if (err != nil) != tt.wantErr {
				t.Errorf("ValidateIdentifier(%q) error = %v, wantErr %v", tt.input, err, tt.wantErr)
			}
		})
	}
}

func TestSanitizeTableName(t *testing.T) {
	tests := []struct {
		input string
		want  string
	}{
		{"sales.csv", "sales"},
		{"Q1 Report-Final.xlsx", "q1_report_final"},
		// Имя, начинающееся с цифры, получает префикс t_
		{"data/2024 export.tsv", "t_2024_export"},
		{"...", "table"},
	}

	for _, tt := range tests {
		got := SanitizeTableName(tt.input)
		if got != tt.want {
			t.Errorf("SanitizeTableName(%q) = %q, want %q", tt.input, got, tt.want)
		}
	}
}

func TestQuoteHelpers(t *testing.T) {
	if got := QuoteIdentifier(`my"table`); got != `"my""table"` {
		t.Errorf("QuoteIdentifier = %s", got)
	}
	if got := QuoteLiteral("it's"); got != "'it''s'" {
		t.Errorf("QuoteLiteral = %s", got)
	}
}
