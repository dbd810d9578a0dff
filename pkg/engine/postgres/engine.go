package postgres

import (
	"context"
	"fmt"
	"strings"

	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/ruslano69/glyte/pkg/core/schema"
	"github.com/ruslano69/glyte/pkg/engine"
	"github.com/ruslano69/glyte/pkg/engine/base"
)

// Compile-time check: Engine должен реализовывать интерфейс engine.Engine
var _ engine.Engine = (*Engine)(nil)

// Регистрация драйвера в глобальной фабрике
func init() {
	engine.Register("postgres", func() engine.Engine {
		return &Engine{}
	})
}

// Engine представляет PostgreSQL движок запросов.
// Для серверных развертываний где sandbox стоит перед общим хранилищем;
// встраиваемые движки (duckdb, sqlite) остаются основным вариантом.
type Engine struct {
	pool *pgxpool.Pool
}

// Connect устанавливает подключение к PostgreSQL
func (e *Engine) Connect(ctx context.Context, cfg engine.Config) error {
	config, err := pgxpool.ParseConfig(cfg.DSN)
	if err != nil {
		return fmt.Errorf("failed to parse connection string: %w", err)
	}

	if cfg.MaxConns > 0 {
		config.MaxConns = int32(cfg.MaxConns)
	} else {
		config.MaxConns = 10
	}

	pool, err := pgxpool.NewWithConfig(ctx, config)
	if err != nil {
		return fmt.Errorf("failed to create connection pool: %w", err)
	}

	if err := pool.Ping(ctx); err != nil {
		pool.Close()
		return fmt.Errorf("failed to ping database: %w", err)
	}

	e.pool = pool
	return nil
}

// Close закрывает connection pool
func (e *Engine) Close(ctx context.Context) error {
	if e.pool != nil {
		e.pool.Close()
	}
	return nil
}

// Ping проверяет доступность БД
func (e *Engine) Ping(ctx context.Context) error {
	if e.pool == nil {
		return fmt.Errorf("engine not connected")
	}
	return e.pool.Ping(ctx)
}

// EngineType возвращает тип движка
func (e *Engine) EngineType() string {
	return "postgres"
}

// TableExists проверяет существование таблицы
func (e *Engine) TableExists(ctx context.Context, tableName string) (bool, error) {
	if err := schema.ValidateIdentifier(tableName); err != nil {
		return false, err
	}

	query := `
		SELECT COUNT(*)
		FROM information_schema.tables
		WHERE table_schema = 'public' AND table_name = $1
	`

	var count int
	if err := e.pool.QueryRow(ctx, query, tableName).Scan(&count); err != nil {
		return false, engine.WrapError("check table existence", err)
	}
	return count > 0, nil
}

// TableNames возвращает список всех таблиц в схеме public
func (e *Engine) TableNames(ctx context.Context) ([]string, error) {
	query := `
		SELECT table_name
		FROM information_schema.tables
		WHERE table_schema = 'public'
		ORDER BY table_name
	`

	rows, err := e.pool.Query(ctx, query)
	if err != nil {
		return nil, engine.WrapError("list tables", err)
	}
	defer rows.Close()

	var tables []string
	for rows.Next() {
		var name string
		if err := rows.Scan(&name); err != nil {
			return nil, engine.WrapError("scan table name", err)
		}
		tables = append(tables, name)
	}
	return tables, rows.Err()
}

// TableColumns возвращает имена колонок в порядке физических позиций
func (e *Engine) TableColumns(ctx context.Context, tableName string) ([]string, error) {
	if err := schema.ValidateIdentifier(tableName); err != nil {
		return nil, err
	}

	query := `
		SELECT column_name
		FROM information_schema.columns
		WHERE table_schema = 'public' AND table_name = $1
		ORDER BY ordinal_position
	`

	rows, err := e.pool.Query(ctx, query, tableName)
	if err != nil {
		return nil, engine.WrapError("list columns", err)
	}
	defer rows.Close()

	var columns []string
	for rows.Next() {
		var name string
		if err := rows.Scan(&name); err != nil {
			return nil, engine.WrapError("scan column name", err)
		}
		columns = append(columns, name)
	}
	return columns, rows.Err()
}

// CreateTable создает таблицу по выведенной схеме
func (e *Engine) CreateTable(ctx context.Context, tableName string, cols []schema.Column) error {
	if err := schema.ValidateIdentifier(tableName); err != nil {
		return err
	}
	if len(cols) == 0 {
		return fmt.Errorf("at least one column is required")
	}

	defs := make([]string, len(cols))
	for i, col := range cols {
		defs[i] = fmt.Sprintf("%s %s", schema.QuoteIdentifier(col.Name), postgresType(col))
	}

	ddl := fmt.Sprintf("CREATE TABLE %s (\n  %s\n)",
		schema.QuoteIdentifier(tableName),
		strings.Join(defs, ",\n  "))

	if _, err := e.pool.Exec(ctx, ddl); err != nil {
		return engine.WrapError("create table "+tableName, err)
	}
	return nil
}

// DropTable удаляет таблицу
func (e *Engine) DropTable(ctx context.Context, tableName string) error {
	if err := schema.ValidateIdentifier(tableName); err != nil {
		return err
	}
	if _, err := e.pool.Exec(ctx,
		fmt.Sprintf("DROP TABLE IF EXISTS %s", schema.QuoteIdentifier(tableName))); err != nil {
		return engine.WrapError("drop table "+tableName, err)
	}
	return nil
}

// RenameTable переименовывает таблицу
func (e *Engine) RenameTable(ctx context.Context, oldName, newName string) error {
	if err := schema.ValidateIdentifier(oldName); err != nil {
		return err
	}
	if err := schema.ValidateIdentifier(newName); err != nil {
		return err
	}
	query := fmt.Sprintf("ALTER TABLE %s RENAME TO %s",
		schema.QuoteIdentifier(oldName), schema.QuoteIdentifier(newName))
	if _, err := e.pool.Exec(ctx, query); err != nil {
		return engine.WrapError("rename table "+oldName, err)
	}
	return nil
}

// InsertRows вставляет строки в одной транзакции
func (e *Engine) InsertRows(ctx context.Context, tableName string, cols []schema.Column, rows [][]string) error {
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
		placeholders[i] = fmt.Sprintf("$%d", i+1)
	}

	insertSQL := fmt.Sprintf("INSERT INTO %s (%s) VALUES (%s)",
		schema.QuoteIdentifier(tableName),
		strings.Join(names, ", "),
		strings.Join(placeholders, ", "))

	tx, err := e.pool.Begin(ctx)
	if err != nil {
		return engine.WrapError("begin transaction", err)
	}
	defer tx.Rollback(ctx)

	for rowIdx, row := range rows {
		if len(row) != len(cols) {
			return fmt.Errorf("row %d has %d values, expected %d", rowIdx, len(row), len(cols))
		}

		args := make([]any, len(cols))
		for i, value := range row {
			v, err := base.ConvertValue(value, cols[i].Type)
			if err != nil {
				return fmt.Errorf("row %d, column %s: %w", rowIdx, cols[i].Name, err)
			}
			args[i] = v
		}

		if _, err := tx.Exec(ctx, insertSQL, args...); err != nil {
			return engine.WrapError(fmt.Sprintf("insert row %d", rowIdx), err)
		}
	}

	if err := tx.Commit(ctx); err != nil {
		return engine.WrapError("commit insert", err)
	}
	return nil
}

// CountRows возвращает количество строк таблицы
func (e *Engine) CountRows(ctx context.Context, tableName string) (int64, error) {
	if err := schema.ValidateIdentifier(tableName); err != nil {
		return 0, err
	}
	var count int64
	query := fmt.Sprintf("SELECT COUNT(*) FROM %s", schema.QuoteIdentifier(tableName))
	if err := e.pool.QueryRow(ctx, query).Scan(&count); err != nil {
		return 0, engine.WrapError("count rows "+tableName, err)
	}
	return count, nil
}

// Query выполняет произвольный SELECT
func (e *Engine) Query(ctx context.Context, sqlText string) (*engine.Result, error) {
	rows, err := e.pool.Query(ctx, sqlText)
	if err != nil {
		return nil, engine.WrapError("query", err)
	}
	defer rows.Close()

	fields := rows.FieldDescriptions()
	columns := make([]string, len(fields))
	for i, f := range fields {
		columns[i] = f.Name
	}

	result := &engine.Result{Columns: columns}

	for rows.Next() {
		values, err := rows.Values()
		if err != nil {
			return nil, engine.WrapError("scan row", err)
		}
		out := make([]any, len(values))
		for i, v := range values {
			out[i] = base.NormalizeValue(v)
		}
		result.Rows = append(result.Rows, out)
	}

	if err := rows.Err(); err != nil {
		return nil, engine.WrapError("iterate rows", err)
	}
	return result, nil
}

// postgresType конвертирует выведенный тип колонки в PostgreSQL тип
func postgresType(col schema.Column) string {
	switch col.Type {
	case schema.TypeInteger:
		return "BIGINT"
	case schema.TypeReal:
		return "DOUBLE PRECISION"
	case schema.TypeBoolean:
		return "BOOLEAN"
	case schema.TypeTimestamp:
		return "TIMESTAMP"
	default:
		return "TEXT"
	}
}
