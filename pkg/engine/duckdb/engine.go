package duckdb

import (
	"context"
	"database/sql"
	"fmt"

	_ "github.com/marcboeker/go-duckdb"
	"github.com/ruslano69/glyte/pkg/core/schema"
	"github.com/ruslano69/glyte/pkg/engine"
	"github.com/ruslano69/glyte/pkg/engine/base"
)

const driverDuckdb = "duckdb"

// Compile-time check: Engine должен реализовывать интерфейс engine.Engine
var _ engine.Engine = (*Engine)(nil)

// Регистрация драйвера в глобальной фабрике
func init() {
	engine.Register("duckdb", func() engine.Engine {
		return &Engine{}
	})
}

// Engine представляет DuckDB движок запросов - встраиваемый
// колоночный движок, основной для production.
// DSN - путь к файлу базы, пустая строка = in-memory.
type Engine struct {
	db  *sql.DB
	sqx *base.SQLEngine
}

// Connect устанавливает подключение к DuckDB
func (e *Engine) Connect(ctx context.Context, cfg engine.Config) error {
	db, err := sql.Open(driverDuckdb, cfg.DSN)
	if err != nil {
		return fmt.Errorf("failed to open database: %w", err)
	}

	if err := db.PingContext(ctx); err != nil {
		db.Close()
		return fmt.Errorf("failed to ping database: %w", err)
	}

	e.db = db
	e.sqx = &base.SQLEngine{DB: db, TypeFor: duckdbType}
	return nil
}

// Close закрывает соединение с БД
func (e *Engine) Close(ctx context.Context) error {
	if e.db != nil {
		return e.db.Close()
	}
	return nil
}

// Ping проверяет доступность БД
func (e *Engine) Ping(ctx context.Context) error {
	if e.db == nil {
		return fmt.Errorf("engine not connected")
	}
	return e.db.PingContext(ctx)
}

// EngineType возвращает тип движка
func (e *Engine) EngineType() string {
	return "duckdb"
}

// DB возвращает *sql.DB для прямого доступа (helper метод)
func (e *Engine) DB() *sql.DB {
	return e.db
}

// TableExists проверяет существование таблицы
func (e *Engine) TableExists(ctx context.Context, tableName string) (bool, error) {
	if err := schema.ValidateIdentifier(tableName); err != nil {
		return false, err
	}

	query := `
		SELECT COUNT(*)
		FROM information_schema.tables
		WHERE table_schema = 'main' AND table_name = ?
	`

	var count int
	if err := e.db.QueryRowContext(ctx, query, tableName).Scan(&count); err != nil {
		return false, engine.WrapError("check table existence", err)
	}
	return count > 0, nil
}

// TableNames возвращает список всех таблиц в БД
func (e *Engine) TableNames(ctx context.Context) ([]string, error) {
	query := `
		SELECT table_name
		FROM information_schema.tables
		WHERE table_schema = 'main'
		ORDER BY table_name
	`

	rows, err := e.db.QueryContext(ctx, query)
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

// TableColumns возвращает имена колонок в порядке физических позиций.
// Отсутствующая таблица - пустой список, не ошибка.
func (e *Engine) TableColumns(ctx context.Context, tableName string) ([]string, error) {
	if err := schema.ValidateIdentifier(tableName); err != nil {
		return nil, err
	}

	query := `
		SELECT column_name
		FROM information_schema.columns
		WHERE table_name = ?
		ORDER BY ordinal_position
	`

	rows, err := e.db.QueryContext(ctx, query, tableName)
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
	return e.sqx.CreateTable(ctx, tableName, cols)
}

// DropTable удаляет таблицу
func (e *Engine) DropTable(ctx context.Context, tableName string) error {
	return e.sqx.DropTable(ctx, tableName)
}

// RenameTable переименовывает таблицу
func (e *Engine) RenameTable(ctx context.Context, oldName, newName string) error {
	return e.sqx.RenameTable(ctx, oldName, newName)
}

// InsertRows вставляет строки в одной транзакции
func (e *Engine) InsertRows(ctx context.Context, tableName string, cols []schema.Column, rows [][]string) error {
	return e.sqx.InsertRows(ctx, tableName, cols, rows)
}

// CountRows возвращает количество строк таблицы
func (e *Engine) CountRows(ctx context.Context, tableName string) (int64, error) {
	return e.sqx.CountRows(ctx, tableName)
}

// Query выполняет произвольный SELECT
func (e *Engine) Query(ctx context.Context, sqlText string) (*engine.Result, error) {
	return e.sqx.Query(ctx, sqlText)
}

// duckdbType конвертирует выведенный тип колонки в DuckDB тип
func duckdbType(col schema.Column) string {
	switch col.Type {
	case schema.TypeInteger:
		return "BIGINT"
	case schema.TypeReal:
		return "DOUBLE"
	case schema.TypeBoolean:
		return "BOOLEAN"
	case schema.TypeTimestamp:
		return "TIMESTAMP"
	default:
		return "VARCHAR"
	}
}
