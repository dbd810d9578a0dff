package base

import (
	"context"
	"database/sql"
	"fmt"
	"strconv"
	"strings"
	"time"

	"github.com/ruslano69/glyte/pkg/core/schema"
	"github.com/ruslano69/glyte/pkg/engine"
)

// TypeMapper конвертирует выведенный тип колонки в SQL тип движка
type TypeMapper func(col schema.Column) string

// SQLEngine содержит общую логику для движков поверх database/sql
// (DuckDB, SQLite). Устраняет дублирование кода между драйверами.
type SQLEngine struct {
	DB      *sql.DB
	TypeFor TypeMapper
}

// CreateTable создает таблицу по выведенной схеме
func (e *SQLEngine) CreateTable(ctx context.Context, tableName string, cols []schema.Column) error {
	if err := schema.ValidateIdentifier(tableName); err != nil {
		return err
	}
	if len(cols) == 0 {
		return fmt.Errorf("at least one column is required")
	}

	defs := make([]string, len(cols))
	for i, col := range cols {
		defs[i] = fmt.Sprintf("%s %s", schema.QuoteIdentifier(col.Name), e.TypeFor(col))
	}

	ddl := fmt.Sprintf("CREATE TABLE %s (\n  %s\n)",
		schema.QuoteIdentifier(tableName),
		strings.Join(defs, ",\n  "))

	if _, err := e.DB.ExecContext(ctx, ddl); err != nil {
		return engine.WrapError("create table "+tableName, err)
	}
	return nil
}

// DropTable удаляет таблицу (IF EXISTS)
func (e *SQLEngine) DropTable(ctx context.Context, tableName string) error {
	if err := schema.ValidateIdentifier(tableName); err != nil {
		return err
	}
	query := fmt.Sprintf("DROP TABLE IF EXISTS %s", schema.QuoteIdentifier(tableName))
	if _, err := e.DB.ExecContext(ctx, query); err != nil {
		return engine.WrapError("drop table "+tableName, err)
	}
	return nil
}

// RenameTable переименовывает таблицу
func (e *SQLEngine) RenameTable(ctx context.Context, oldName, newName string) error {
	if err := schema.ValidateIdentifier(oldName); err != nil {
		return err
	}
	if err := schema.ValidateIdentifier(newName); err != nil {
		return err
	}
	query := fmt.Sprintf("ALTER TABLE %s RENAME TO %s",
		schema.QuoteIdentifier(oldName), schema.QuoteIdentifier(newName))
	if _, err := e.DB.ExecContext(ctx, query); err != nil {
		return engine.WrapError("rename table "+oldName, err)
	}
	return nil
}

// CountRows возвращает количество строк таблицы
func (e *SQLEngine) CountRows(ctx context.Context, tableName string) (int64, error) {
	if err := schema.ValidateIdentifier(tableName); err != nil {
		return 0, err
	}
	var count int64
	query := fmt.Sprintf("SELECT COUNT(*) FROM %s", schema.QuoteIdentifier(tableName))
	if err := e.DB.QueryRowContext(ctx, query).Scan(&count); err != nil {
		return 0, engine.WrapError("count rows "+tableName, err)
	}
	return count, nil
}

// InsertRows вставляет строки в одной транзакции через prepared statement.
// Значения конвертируются согласно типам колонок; откат при любой ошибке.
func (e *SQLEngine) InsertRows(ctx context.Context, tableName string, cols []schema.Column, rows [][]string) error {
	if err := schema.ValidateIdentifier(tableName); err != nil {
		return err
	}
	if len(rows) == 0 {
		return nil
	}

	names := make([]string, len(cols))
	placeholders := make([]string, len(cols))
	for i, col := range cols {
		names[i] = schema.QuoteIdentifier(col.Name)
		placeholders[i] = "?"
	}

	insertSQL := fmt.Sprintf("INSERT INTO %s (%s) VALUES (%s)",
		schema.QuoteIdentifier(tableName),
		strings.Join(names, ", "),
		strings.Join(placeholders, ", "))

	tx, err := e.DB.BeginTx(ctx, nil)
	if err != nil {
		return engine.WrapError("begin transaction", err)
	}
	defer tx.Rollback()

	stmt, err := tx.PrepareContext(ctx, insertSQL)
	if err != nil {
		return engine.WrapError("prepare insert", err)
	}
	defer stmt.Close()

	for rowIdx, row := range rows {
		if len(row) != len(cols) {
			return fmt.Errorf("row %d has %d values, expected %d", rowIdx, len(row), len(cols))
		}

		args := make([]any, len(cols))
		for i, value := range row {
			v, err := ConvertValue(value, cols[i].Type)
			if err != nil {
				return fmt.Errorf("row %d, column %s: %w", rowIdx, cols[i].Name, err)
			}
			args[i] = v
		}

		if _, err := stmt.ExecContext(ctx, args...); err != nil {
			return engine.WrapError(fmt.Sprintf("insert row %d", rowIdx), err)
		}
	}

	if err := tx.Commit(); err != nil {
		return engine.WrapError("commit insert", err)
	}
	return nil
}

// Query выполняет произвольный SELECT и возвращает результат
func (e *SQLEngine) Query(ctx context.Context, sqlText string) (*engine.Result, error) {
	rows, err := e.DB.QueryContext(ctx, sqlText)
	if err != nil {
		return nil, engine.WrapError("query", err)
	}
	defer rows.Close()

	columns, err := rows.Columns()
	if err != nil {
		return nil, engine.WrapError("read columns", err)
	}

	result := &engine.Result{Columns: columns}

	for rows.Next() {
		raw := make([]any, len(columns))
		ptrs := make([]any, len(columns))
		for i := range raw {
			ptrs[i] = &raw[i]
		}
		if err := rows.Scan(ptrs...); err != nil {
			return nil, engine.WrapError("scan row", err)
		}

		out := make([]any, len(columns))
		for i, v := range raw {
			out[i] = NormalizeValue(v)
		}
		result.Rows = append(result.Rows, out)
	}

	if err := rows.Err(); err != nil {
		return nil, engine.WrapError("iterate rows", err)
	}
	return result, nil
}

// ConvertValue конвертирует строковое значение в нативное согласно типу.
// Пустая строка означает NULL для всех типов кроме TEXT:
// для TEXT пустая строка - валидное значение, НЕ NULL.
func ConvertValue(value string, t schema.DataType) (any, error) {
	if value == "" && t != schema.TypeText {
		return nil, nil
	}

	switch t {
	case schema.TypeInteger:
		v, err := strconv.ParseInt(value, 10, 64)
		if err != nil {
			return nil, fmt.Errorf("invalid integer %q", value)
		}
		return v, nil
	case schema.TypeReal:
		v, err := strconv.ParseFloat(value, 64)
		if err != nil {
			return nil, fmt.Errorf("invalid real %q", value)
		}
		return v, nil
	case schema.TypeBoolean:
		switch strings.ToLower(value) {
		case "true":
			return true, nil
		case "false":
			return false, nil
		}
		return nil, fmt.Errorf("invalid boolean %q", value)
	case schema.TypeTimestamp:
		ts, err := schema.ParseTimestamp(value)
		if err != nil {
			return nil, fmt.Errorf("invalid timestamp %q", value)
		}
		return ts, nil
	default:
		return value, nil
	}
}

// NormalizeValue приводит значение из драйвера к JSON-дружественному виду:
// []byte становится string, time.Time остается как есть
func NormalizeValue(v any) any {
	switch val := v.(type) {
	case []byte:
		return string(val)
	case time.Time:
		return val
	default:
		return v
	}
}
