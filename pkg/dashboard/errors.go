// Package dashboard реализует жизненный цикл дашбордов: загрузка
// файлов, сопоставление с существующими дашбордами, версионирование,
// песочница запросов и экспорт.
package dashboard

import (
	"errors"

	"github.com/google/uuid"

	"github.com/ruslano69/glyte/pkg/core/schema"
	"github.com/ruslano69/glyte/pkg/engine"
	"github.com/ruslano69/glyte/pkg/ingest"
	"github.com/ruslano69/glyte/pkg/store"
)

// Таксономия ошибок подсистемы. Ошибки входа обнаруживаются до
// обращения к движку или хранилищу и возвращаются с конкретной
// причиной; сбои движка и хранилища не ретраятся и доходят до
// вызывающего.
var (
	// ErrNotFound - дашборд или таблица отсутствует
	ErrNotFound = store.ErrNotFound

	// ErrInvalidIdentifier - имя таблицы или дашборда вне грамматики
	ErrInvalidIdentifier = schema.ErrInvalidIdentifier

	// ErrParse - некорректный загруженный файл
	ErrParse = ingest.ErrParse

	// ErrEngine - сбой движка запросов
	ErrEngine = engine.ErrEngine

	// ErrEngineTimeout - движок не уложился в таймаут
	ErrEngineTimeout = engine.ErrTimeout

	// ErrStorage - сбой чтения или записи хранилища конфигураций
	ErrStorage = errors.New("storage failure")
)

// RejectedError - отказ песочницы запросов. Причина показывается
// пользователю дословно
type RejectedError struct {
	Reason string
}

func (e *RejectedError) Error() string {
	return e.Reason
}

// IsRejected проверяет является ли ошибка отказом песочницы
func IsRejected(err error) bool {
	var rejected *RejectedError
	return errors.As(err, &rejected)
}

// SafeErrorMessage возвращает сообщение для пользователя и
// корреляционную ссылку. Ошибки входа передаются дословно, внутренние
// сбои сворачиваются в общее сообщение: пути файловой системы и
// детали движка не попадают в ответы
func SafeErrorMessage(err error) (message, ref string) {
	if err == nil {
		return "", ""
	}

	var rejected *RejectedError
	if errors.As(err, &rejected) {
		return rejected.Reason, ""
	}

	switch {
	case errors.Is(err, ErrNotFound):
		return "dashboard not found", ""
	case errors.Is(err, store.ErrInvalidID), errors.Is(err, ErrInvalidIdentifier):
		return "invalid identifier", ""
	case errors.Is(err, ErrParse):
		return "uploaded file could not be parsed", ""
	case errors.Is(err, ingest.ErrUnsupportedFormat):
		return "unsupported file format", ""
	case errors.Is(err, ErrEngineTimeout):
		return "query timed out", uuid.NewString()
	default:
		return "internal error", uuid.NewString()
	}
}
