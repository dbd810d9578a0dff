// Package store хранит конфигурации дашбордов в виде JSON документов.
// Один документ на дашборд, адресуется по идентификатору вида dash-<N>.
package store

import (
	"time"
)

// Dashboard представляет конфигурацию дашборда: привязку к таблице
// движка, метаданные источника и историю версий
type Dashboard struct {
	ID          string `json:"id"`
	Title       string `json:"title"`
	TableName   string `json:"tableName"`
	CSVPath     string `json:"csvPath"`
	RowCount    int    `json:"rowCount"`
	ColumnCount int    `json:"columnCount"`

	// KeyColumn - колонка идентичности строк для диффа (если определена)
	KeyColumn string `json:"keyColumn,omitempty"`

	Version   int       `json:"version"`
	CreatedAt time.Time `json:"createdAt"`
	UpdatedAt time.Time `json:"updatedAt,omitzero"`

	// PreviousVersions - снимки предыдущих версий, только добавление
	PreviousVersions []VersionSnapshot `json:"previousVersions"`
}

// VersionSnapshot представляет неизменяемый снимок состояния дашборда,
// сделанный перед обновлением версии
type VersionSnapshot struct {
	Version     int       `json:"version"`
	RowCount    int       `json:"rowCount"`
	ColumnCount int       `json:"columnCount"`
	CSVPath     string    `json:"csvPath"`
	CreatedAt   time.Time `json:"createdAt"`
}

// VersionUpdate содержит новые значения полей при обновлении версии
type VersionUpdate struct {
	CSVPath     string
	RowCount    int
	ColumnCount int
}

// LastModified возвращает время последнего изменения дашборда
func (d *Dashboard) LastModified() time.Time {
	if !d.UpdatedAt.IsZero() {
		return d.UpdatedAt
	}
	return d.CreatedAt
}
