// Package ingest разбирает загруженные табличные файлы и загружает их
// в движок запросов с атомарной заменой таблицы.
package ingest

import (
	"encoding/csv"
	"errors"
	"fmt"
	"io"
	"os"
	"path/filepath"
	"strings"

	"github.com/ruslano69/glyte/pkg/core/schema"
)

// ErrParse возвращается при некорректном входном файле: незакрытые
// кавычки, разное количество колонок в строках, пустой заголовок
var ErrParse = errors.New("malformed upload")

// ErrUnsupportedFormat возвращается для неизвестного расширения файла
var ErrUnsupportedFormat = errors.New("unsupported file format")

// Parsed представляет разобранный файл: схема выведена по заголовку
// и значениям, строки хранятся в исходном строковом виде
type Parsed struct {
	Columns []schema.Column
	Rows    [][]string
}

// RowCount возвращает количество строк данных
func (p *Parsed) RowCount() int { return len(p.Rows) }

// ColumnCount возвращает количество колонок
func (p *Parsed) ColumnCount() int { return len(p.Columns) }

// KeyColumn определяет колонку идентичности строк: колонка с именем
// id или с суффиксом _id, все значения которой уникальны и непусты.
// Пустая строка - подходящей колонки нет, идентичность по всей строке
func (p *Parsed) KeyColumn() string {
	for i, col := range p.Columns {
		lower := strings.ToLower(col.Name)
		if lower != "id" && !strings.HasSuffix(lower, "_id") {
			continue
		}
		if p.columnUnique(i) {
			return col.Name
		}
	}
	return ""
}

func (p *Parsed) columnUnique(idx int) bool {
	if len(p.Rows) == 0 {
		return false
	}
	seen := make(map[string]bool, len(p.Rows))
	for _, row := range p.Rows {
		v := row[idx]
		if v == "" || seen[v] {
			return false
		}
		seen[v] = true
	}
	return true
}

// Parse разбирает файл по расширению: .csv, .tsv/.tab, .xlsx/.xls.
// Первая строка - заголовок, типы колонок выводятся по значениям
func Parse(path string) (*Parsed, error) {
	switch strings.ToLower(filepath.Ext(path)) {
	case ".csv":
		return parseDelimited(path, ',')
	case ".tsv", ".tab":
		return parseDelimited(path, '\t')
	case ".xlsx", ".xls":
		return parseExcel(path)
	default:
		return nil, fmt.Errorf("%w: %s", ErrUnsupportedFormat, filepath.Ext(path))
	}
}

// parseDelimited разбирает CSV/TSV. encoding/csv сам следит за
// согласованностью количества полей и закрытием кавычек
func parseDelimited(path string, comma rune) (*Parsed, error) {
	f, err := os.Open(path)
	if err != nil {
		return nil, fmt.Errorf("failed to open upload: %w", err)
	}
	defer f.Close()

	reader := csv.NewReader(f)
	reader.Comma = comma
	reader.TrimLeadingSpace = true

	header, err := reader.Read()
	if err != nil {
		if err == io.EOF {
			return nil, fmt.Errorf("%w: empty file", ErrParse)
		}
		return nil, fmt.Errorf("%w: %v", ErrParse, err)
	}

	var rows [][]string
	for {
		record, err := reader.Read()
		if err == io.EOF {
			break
		}
		if err != nil {
			return nil, fmt.Errorf("%w: %v", ErrParse, err)
		}
		rows = append(rows, record)
	}

	return buildParsed(header, rows)
}

// buildParsed нормализует заголовок и выводит типы колонок
func buildParsed(header []string, rows [][]string) (*Parsed, error) {
	names, err := normalizeHeaders(header)
	if err != nil {
		return nil, err
	}

	for i, row := range rows {
		if len(row) != len(names) {
			return nil, fmt.Errorf("%w: row %d has %d fields, expected %d",
				ErrParse, i+2, len(row), len(names))
		}
	}

	return &Parsed{
		Columns: schema.InferColumns(names, rows),
		Rows:    rows,
	}, nil
}

// normalizeHeaders приводит имена колонок к грамматике идентификаторов:
// недопустимые символы заменяются подчёркиванием, пустые имена
// получают позиционные, дубликаты - числовой суффикс
func normalizeHeaders(header []string) ([]string, error) {
	if len(header) == 0 {
		return nil, fmt.Errorf("%w: empty header row", ErrParse)
	}

	names := make([]string, len(header))
	seen := make(map[string]bool, len(header))
	for i, raw := range header {
		name := normalizeColumnName(raw)
		if name == "" {
			name = fmt.Sprintf("col_%d", i+1)
		}
		base := name
		for n := 2; seen[name]; n++ {
			name = fmt.Sprintf("%s_%d", base, n)
		}
		seen[name] = true
		names[i] = name
	}
	return names, nil
}

func normalizeColumnName(raw string) string {
	var b strings.Builder
	for _, r := range strings.TrimSpace(raw) {
		switch {
		case r >= 'a' && r <= 'z', r >= 'A' && r <= 'Z', r >= '0' && r <= '9', r == '_':
			b.WriteRune(r)
		default:
			b.WriteRune('_')
		}
	}
	name := strings.Trim(b.String(), "_")
	if name == "" {
		return ""
	}
	// Идентификатор не может начинаться с цифры
	if name[0] >= '0' && name[0] <= '9' {
		name = "c_" + name
	}
	return name
}
