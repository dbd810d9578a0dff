package schema

import "fmt"

// DataType представляет тип данных колонки
type DataType string

// Поддерживаемые типы данных, выводимые при загрузке файлов
const (
	TypeInteger   DataType = "INTEGER"
	TypeReal      DataType = "REAL"
	TypeBoolean   DataType = "BOOLEAN"
	TypeTimestamp DataType = "TIMESTAMP"
	TypeText      DataType = "TEXT"
)

// Column описывает одну колонку таблицы: имя из строки заголовка
// и тип, выведенный по значениям
type Column struct {
	Name string   `json:"name"`
	Type DataType `json:"type"`
}

// ValidationError ошибка валидации значения или идентификатора
type ValidationError struct {
	Field   string
	Message string
	Value   string
}

func (e *ValidationError) Error() string {
	return fmt.Sprintf("validation error for '%s': %s (value: '%s')",
		e.Field, e.Message, e.Value)
}

// IsNumericType проверяет является ли тип числовым
func IsNumericType(t DataType) bool {
	return t == TypeInteger || t == TypeReal
}

// IsValidType проверяет валидность типа данных
func IsValidType(t DataType) bool {
	switch t {
	case TypeInteger, TypeReal, TypeBoolean, TypeTimestamp, TypeText:
		return true
	default:
		return false
	}
}

// ColumnNames возвращает имена колонок в физическом порядке
func ColumnNames(cols []Column) []string {
	names := make([]string, len(cols))
	for i, c := range cols {
		names[i] = c.Name
	}
	return names
}
