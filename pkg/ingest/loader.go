package ingest

import (
	"context"
	"fmt"
	"time"

	"github.com/ruslano69/glyte/pkg/core/schema"
	"github.com/ruslano69/glyte/pkg/engine"
)

// Result содержит сводную статистику загрузки
type Result struct {
	RowCount    int `json:"rowCount"`
	ColumnCount int `json:"columnCount"`
}

// Loader загружает разобранные данные в движок запросов.
// Замена существующей таблицы атомарна: данные вставляются во
// временную таблицу, затем выполняется переименование. Конкурентные
// читатели видят либо старую таблицу целиком, либо новую, но никогда
// частично загруженную
type Loader struct {
	eng engine.Engine
}

// NewLoader создаёт Loader поверх движка
func NewLoader(eng engine.Engine) *Loader {
	return &Loader{eng: eng}
}

// Load загружает данные в таблицу tableName, заменяя существующее
// содержимое. Возвращает статистику загрузки
func (l *Loader) Load(ctx context.Context, tableName string, parsed *Parsed) (*Result, error) {
	if err := schema.ValidateIdentifier(tableName); err != nil {
		return nil, err
	}

	tempTable := tempTableName(tableName)
	if err := l.eng.CreateTable(ctx, tempTable, parsed.Columns); err != nil {
		return nil, fmt.Errorf("failed to create staging table: %w", err)
	}

	if len(parsed.Rows) > 0 {
		if err := l.eng.InsertRows(ctx, tempTable, parsed.Columns, parsed.Rows); err != nil {
			l.eng.DropTable(ctx, tempTable)
			return nil, fmt.Errorf("failed to load rows: %w", err)
		}
	}

	if err := l.replaceTable(ctx, tableName, tempTable); err != nil {
		l.eng.DropTable(ctx, tempTable)
		return nil, err
	}

	return &Result{
		RowCount:    parsed.RowCount(),
		ColumnCount: parsed.ColumnCount(),
	}, nil
}

// Promote атомарно продвигает уже загруженную таблицу stagingTable на
// место tableName. Используется при подтверждении обновления дашборда
func (l *Loader) Promote(ctx context.Context, tableName, stagingTable string) error {
	if err := schema.ValidateIdentifier(tableName); err != nil {
		return err
	}
	if err := schema.ValidateIdentifier(stagingTable); err != nil {
		return err
	}
	return l.replaceTable(ctx, tableName, stagingTable)
}

// replaceTable заменяет целевую таблицу временной:
// target -> target_old, temp -> target, DROP target_old.
// Если целевой таблицы нет - простое переименование
func (l *Loader) replaceTable(ctx context.Context, targetTable, tempTable string) error {
	exists, err := l.eng.TableExists(ctx, targetTable)
	if err != nil {
		return err
	}

	if !exists {
		if err := l.eng.RenameTable(ctx, tempTable, targetTable); err != nil {
			return fmt.Errorf("failed to rename staging table: %w", err)
		}
		return nil
	}

	oldTable := targetTable + "_old"
	// Остаток незавершённой предыдущей замены
	l.eng.DropTable(ctx, oldTable)

	if err := l.eng.RenameTable(ctx, targetTable, oldTable); err != nil {
		return fmt.Errorf("failed to rename old table: %w", err)
	}
	if err := l.eng.RenameTable(ctx, tempTable, targetTable); err != nil {
		// Возвращаем старую таблицу на место
		l.eng.RenameTable(ctx, oldTable, targetTable)
		return fmt.Errorf("failed to rename staging table: %w", err)
	}
	if err := l.eng.DropTable(ctx, oldTable); err != nil {
		// Некритично, остаток убирается при следующей замене
		return nil
	}
	return nil
}

// tempTableName генерирует имя временной таблицы вида
// {table}_tmp_{timestamp}
func tempTableName(baseName string) string {
	return fmt.Sprintf("%s_tmp_%s", baseName, time.Now().Format("20060102_150405"))
}
