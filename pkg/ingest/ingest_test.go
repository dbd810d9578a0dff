package ingest

import (
	"context"
	"errors"
	"os"
	"path/filepath"
	"strings"
	"testing"

	"github.com/ruslano69/glyte/pkg/core/schema"
	"github.com/ruslano69/glyte/pkg/engine"
	_ "github.com/ruslano69/glyte/pkg/engine/sqlite"
)

func writeFile(t *testing.T, name, content string) string {
	t.Helper()
	path := filepath.Join(t.TempDir(), name)
	if err := os.WriteFile(path, []byte(content), 0o644); err != nil {
		t.Fatalf("failed to write %s: %v", name, err)
	}
	return path
}

func TestParse_CSV(t *testing.T) {
	path := writeFile(t, "sales.csv", "id,name,amount\n1,alpha,10.5\n2,beta,20.0\n3,gamma,30.25\n")

	p, err := Parse(path)
	if err != nil {
		t.Fatalf("Parse failed: %v", err)
	}
	if p.RowCount() != 3 || p.ColumnCount() != 3 {
		t.Errorf("got %d rows, %d columns, want 3 and 3", p.RowCount(), p.ColumnCount())
	}

	// Типы выведены по значениям
	wantTypes := []schema.DataType{schema.TypeInteger, schema.TypeText, schema.TypeReal}
	for i, col := range p.Columns {
		if col.Type != wantTypes[i] {
			t.Errorf("column %s type = %s, want %s", col.Name, col.Type, wantTypes[i])
		}
	}
}

func TestParse_TSV(t *testing.T) {
	path := writeFile(t, "sales.tsv", "id\tname\n1\talpha\n2\tbeta\n")

	p, err := Parse(path)
	if err != nil {
		t.Fatalf("Parse failed: %v", err)
	}
	if p.RowCount() != 2 || p.ColumnCount() != 2 {
		t.Errorf("got %d rows, %d columns, want 2 and 2", p.RowCount(), p.ColumnCount())
	}
}

func TestParse_Malformed(t *testing.T) {
	tests := []struct {
		name    string
		file    string
		content string
	}{
		{"Inconsistent column count", "bad.csv", "a,b,c\n1,2\n"},
		{"Unterminated quote", "quote.csv", "a,b\n\"open,2\n3,4"},
		{"Empty file", "empty.csv", ""},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			path := writeFile(t, tt.file, tt.content)
			if _, err := Parse(path); !errors.Is(err, ErrParse) {
				t.Errorf("Parse = %v, want ErrParse", err)
			}
		})
	}
}

func TestParse_UnsupportedFormat(t *testing.T) {
	path := writeFile(t, "data.parquet", "xx")
	if _, err := Parse(path); !errors.Is(err, ErrUnsupportedFormat) {
		t.Errorf("Parse = %v, want ErrUnsupportedFormat", err)
	}
}

func TestNormalizeHeaders(t *testing.T) {
	names, err := normalizeHeaders([]string{"Order ID", "total $", "", "name", "name", "2024"})
	if err != nil {
		t.Fatalf("normalizeHeaders failed: %v", err)
	}
	want := []string{"Order_ID", "total", "col_3", "name", "name_2", "c_2024"}
	for i, w := range want {
		if names[i] != w {
			t.Errorf("names[%d] = %q, want %q", i, names[i], w)
		}
	}
	// Нормализованные имена проходят грамматику идентификаторов
	for _, n := range names {
		if err := schema.ValidateIdentifier(n); err != nil {
			t.Errorf("normalized name %q fails validation: %v", n, err)
		}
	}
}

func TestParsed_KeyColumn(t *testing.T) {
	tests := []struct {
		name string
		cols []string
		rows [][]string
		want string
	}{
		{
			name: "Unique id column",
			cols: []string{"id", "name"},
			rows: [][]string{{"1", "a"}, {"2", "b"}},
			want: "id",
		},
		{
			name: "Suffixed key",
			cols: []string{"name", "order_id"},
			rows: [][]string{{"a", "10"}, {"b", "20"}},
			want: "order_id",
		},
		{
			name: "Duplicate values disqualify",
			cols: []string{"id", "name"},
			rows: [][]string{{"1", "a"}, {"1", "b"}},
			want: "",
		},
		{
			name: "Empty value disqualifies",
			cols: []string{"id", "name"},
			rows: [][]string{{"1", "a"}, {"", "b"}},
			want: "",
		},
		{
			name: "No key-like column",
			cols: []string{"city", "population"},
			rows: [][]string{{"a", "1"}, {"b", "2"}},
			want: "",
		},
		{
			name: "No rows",
			cols: []string{"id"},
			rows: nil,
			want: "",
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			cols := make([]schema.Column, len(tt.cols))
			for i, c := range tt.cols {
				cols[i] = schema.Column{Name: c, Type: schema.TypeText}
			}
			p := &Parsed{Columns: cols, Rows: tt.rows}
			if got := p.KeyColumn(); got != tt.want {
				t.Errorf("KeyColumn() = %q, want %q", got, tt.want)
			}
		})
	}
}

func newTestEngine(t *testing.T) engine.Engine {
	t.Helper()

	eng, err := engine.New(context.Background(), engine.Config{Type: "sqlite", DSN: ":memory:"})
	if err != nil {
		t.Fatalf("failed to create engine: %v", err)
	}
	t.Cleanup(func() { eng.Close(context.Background()) })
	return eng
}

func TestLoader_Load(t *testing.T) {
	eng := newTestEngine(t)
	ctx := context.Background()

	path := writeFile(t, "sales.csv", "id,name,amount\n1,alpha,10.5\n2,beta,20.0\n")
	p, err := Parse(path)
	if err != nil {
		t.Fatalf("Parse failed: %v", err)
	}

	res, err := NewLoader(eng).Load(ctx, "sales", p)
	if err != nil {
		t.Fatalf("Load failed: %v", err)
	}
	if res.RowCount != 2 || res.ColumnCount != 3 {
		t.Errorf("result = %+v, want 2 rows, 3 columns", res)
	}

	count, err := eng.CountRows(ctx, "sales")
	if err != nil {
		t.Fatalf("CountRows failed: %v", err)
	}
	if count != 2 {
		t.Errorf("table has %d rows, want 2", count)
	}
}

// Повторная загрузка заменяет содержимое целиком и не оставляет
// временных таблиц
func TestLoader_Replace(t *testing.T) {
	eng := newTestEngine(t)
	ctx := context.Background()
	loader := NewLoader(eng)

	first, _ := Parse(writeFile(t, "v1.csv", "id,name\n1,a\n2,b\n3,c\n"))
	if _, err := loader.Load(ctx, "sales", first); err != nil {
		t.Fatalf("first Load failed: %v", err)
	}

	second, _ := Parse(writeFile(t, "v2.csv", "id,name\n10,x\n"))
	if _, err := loader.Load(ctx, "sales", second); err != nil {
		t.Fatalf("second Load failed: %v", err)
	}

	count, err := eng.CountRows(ctx, "sales")
	if err != nil {
		t.Fatalf("CountRows failed: %v", err)
	}
	if count != 1 {
		t.Errorf("table has %d rows after replace, want 1", count)
	}

	names, err := eng.TableNames(ctx)
	if err != nil {
		t.Fatalf("TableNames failed: %v", err)
	}
	for _, name := range names {
		if strings.Contains(name, "_tmp_") || strings.HasSuffix(name, "_old") {
			t.Errorf("staging leftover after replace: %s", name)
		}
	}
}

func TestLoader_Promote(t *testing.T) {
	eng := newTestEngine(t)
	ctx := context.Background()
	loader := NewLoader(eng)

	current, _ := Parse(writeFile(t, "v1.csv", "id,name\n1,a\n"))
	if _, err := loader.Load(ctx, "sales", current); err != nil {
		t.Fatalf("Load failed: %v", err)
	}

	staged, _ := Parse(writeFile(t, "v2.csv", "id,name\n1,a\n2,b\n"))
	if _, err := loader.Load(ctx, "staging_1", staged); err != nil {
		t.Fatalf("staging Load failed: %v", err)
	}

	if err := loader.Promote(ctx, "sales", "staging_1"); err != nil {
		t.Fatalf("Promote failed: %v", err)
	}

	count, err := eng.CountRows(ctx, "sales")
	if err != nil {
		t.Fatalf("CountRows failed: %v", err)
	}
	if count != 2 {
		t.Errorf("promoted table has %d rows, want 2", count)
	}

	exists, err := eng.TableExists(ctx, "staging_1")
	if err != nil {
		t.Fatalf("TableExists failed: %v", err)
	}
	if exists {
		t.Error("staging table still present after promote")
	}
}

func TestLoader_RejectsInvalidTableName(t *testing.T) {
	eng := newTestEngine(t)
	p := &Parsed{Columns: []schema.Column{{Name: "a", Type: schema.TypeText}}}

	if _, err := NewLoader(eng).Load(context.Background(), "sales; DROP TABLE x", p); err == nil {
		t.Error("expected rejection of invalid table name")
	}
}
