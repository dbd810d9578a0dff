// Package audit ведет журнал операций над дашбордами: загрузки,
// запросы, экспорты. Записи пишутся в JSONL файл, по одной на операцию.
package audit

import (
	"encoding/json"
	"fmt"
	"time"

	"github.com/google/uuid"
)

// Operation - тип операции
type Operation string

const (
	OpIngest  Operation = "ingest"
	OpConfirm Operation = "confirm"
	OpRefresh Operation = "refresh"
	OpQuery   Operation = "query"
	OpExport  Operation = "export"
	OpDelete  Operation = "delete"
)

// Status - статус выполнения операции
type Status string

const (
	StatusSuccess  Status = "success"
	StatusFailure  Status = "failure"
	StatusRejected Status = "rejected"
)

// Entry - запись журнала
type Entry struct {
	// ID - уникальный идентификатор записи, служит корреляционной
	// ссылкой в ответах об ошибках
	ID string `json:"id"`

	Timestamp time.Time `json:"timestamp"`
	Operation Operation `json:"operation"`
	Status    Status    `json:"status"`

	// DashboardID - затронутый дашборд (если применимо)
	DashboardID string `json:"dashboardId,omitempty"`

	// TableName - таблица движка
	TableName string `json:"tableName,omitempty"`

	// Rows - количество затронутых строк
	Rows int `json:"rows,omitempty"`

	Duration time.Duration `json:"duration,omitempty"`

	// ErrorMessage - внутреннее сообщение об ошибке. В ответы
	// пользователю не попадает, журнал - единственное место,
	// где ошибка хранится целиком
	ErrorMessage string `json:"errorMessage,omitempty"`
}

// NewEntry создаёт запись с выделенным ID и текущим временем
func NewEntry(operation Operation, status Status) *Entry {
	return &Entry{
		ID:        uuid.NewString(),
		Timestamp: time.Now().UTC(),
		Operation: operation,
		Status:    status,
	}
}

// WithDashboard устанавливает затронутый дашборд
func (e *Entry) WithDashboard(id string) *Entry {
	e.DashboardID = id
	return e
}

// WithTable устанавливает таблицу движка
func (e *Entry) WithTable(name string) *Entry {
	e.TableName = name
	return e
}

// WithRows устанавливает количество строк
func (e *Entry) WithRows(n int) *Entry {
	e.Rows = n
	return e
}

// WithDuration устанавливает длительность операции
func (e *Entry) WithDuration(d time.Duration) *Entry {
	e.Duration = d
	return e
}

// WithError записывает ошибку и переводит статус в failure
func (e *Entry) WithError(err error) *Entry {
	if err != nil {
		e.ErrorMessage = err.Error()
		e.Status = StatusFailure
	}
	return e
}

// ToJSON сериализует запись
func (e *Entry) ToJSON() ([]byte, error) {
	return json.Marshal(e)
}

// String - строковое представление для отладки
func (e *Entry) String() string {
	return fmt.Sprintf("[%s] %s %s (dashboard=%s, rows=%d, duration=%v)",
		e.Timestamp.Format(time.RFC3339),
		e.Operation,
		e.Status,
		e.DashboardID,
		e.Rows,
		e.Duration,
	)
}
