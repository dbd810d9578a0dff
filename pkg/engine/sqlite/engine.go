package sqlite

import (
	"context"
	"database/sql"
	"fmt"

	"github.com/ruslano69/glyte/pkg/core/schema"
	"github.com/ruslano69/glyte/pkg/engine"
	"github.com/ruslano69/glyte/pkg/engine/base"
	_ "modernc.org/sqlite"
)

const driverSqlite = "sqlite"

// Compile-time check: Engine должен реализовывать интерфейс engine.Engine
var _ engine.Engine = (*Engine)(nil)

// Регистрация драйвера в глобальной фабрике
func init() {
	engine.Register("sqlite", func() engine.Engine {
		return &Engine{}
	})
}

// Engine представляет SQLite движок запросов.
// Cgo-free fallback и рабочая среда тестов (":memory:").
type Engine struct {
	db  *sql.DB
	sqx *base.SQLEngine
}

// Connect устанавливает подключение к SQLite
func (e *Engine) Connect(ctx context.Context, cfg engine.Config) error {
	db, err := sql.Open(driverSqlite, cfg.DSN)
	if err != nil {
		return fmt.Errorf("failed to open database: %w", err)
	}

	if err := db.PingContext(ctx); err != nil {
		db.Close()
		return fmt.Errorf("failed to ping database: %w", err)
	}

	// :memory: живет ровно в одном соединении; пул из нескольких
	// соединений дал бы несколько независимых пустых баз
	if cfg.DSN == ":memory:" || cfg.DSN == "" {
		db.SetMaxOpenConns(1)
	}

	e.db = db
	e.sqx = &base.SQLEngine{DB: db, TypeFor: sqliteType}

	return e.applyPragmas(ctx)
}

// applyPragmas применяет PRAGMA оптимизации для массовых загрузок.
// WAL + synchronous NORMAL дают кратное ускорение записи и безопасны
// в паре друг с другом.
func (e *Engine) applyPragmas(ctx context.Context) error {
	pragmas := []string{
		"PRAGMA journal_mode = WAL",
		"PRAGMA synchronous = NORMAL",
		"PRAGMA cache_size = -64000",
		"PRAGMA temp_store = MEMORY",
	}
	for _, pragma := range pragmas {
		// Некоторые PRAGMA недоступны для :memory: баз - не критично
		e.db.ExecContext(ctx, pragma)
	}
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
	return "sqlite"
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
		FROM sqlite_master
		WHERE type='table' AND name=?
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
		SELECT name
		FROM sqlite_master
		WHERE type='table' AND name NOT LIKE 'sqlite_%'
		ORDER BY name
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

	// PRAGMA table_info возвращает колонки в порядке cid
	query := fmt.Sprintf("PRAGMA table_info(%s)", schema.QuoteIdentifier(tableName))

	rows, err := e.db.QueryContext(ctx, query)
	if err != nil {
		return nil, engine.WrapError("table info", err)
	}
	defer rows.Close()

	var columns []string
	for rows.Next() {
		var (
			cid       int
			name      string
			dataType  string
			notNull   int
			dfltValue sql.NullString
			pk        int
		)
		if err := rows.Scan(&cid, &name, &dataType, &notNull, &dfltValue, &pk); err != nil {
			return nil, engine.WrapError("scan column info", err)
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

// sqliteType конвертирует выведенный тип колонки в SQLite тип
func sqliteType(col schema.Column) string {
	switch col.Type {
	case schema.TypeInteger:
		return "INTEGER"
	case schema.TypeReal:
		return "REAL"
	case schema.TypeBoolean:
		// SQLite не имеет нативного BOOLEAN
		return "INTEGER"
	case schema.TypeTimestamp:
		return "TIMESTAMP"
	default:
		return "TEXT"
	}
}
