package schema

import (
	"fmt"
	"strings"
)

// ErrInvalidIdentifier возвращается когда имя таблицы или колонки
// не соответствует безопасной грамматике идентификаторов
var ErrInvalidIdentifier = fmt.Errorf("invalid identifier")

// ValidateIdentifier проверяет имя таблицы/колонки на соответствие
// грамматике ^[A-Za-z0-9_]+$.
//
// Проверка выполняется ДО любого обращения к каталогу движка:
// идентификаторы интерполируются в SQL (DDL не поддерживает
// placeholder'ы), и эта грамматика исключает инъекцию.
func ValidateIdentifier(name string) error {
	if name == "" {
		return fmt.Errorf("%w: empty name", ErrInvalidIdentifier)
	}
	for _, r := range name {
		switch {
		case r >= 'a' && r <= 'z':
		case r >= 'A' && r <= 'Z':
		case r >= '0' && r <= '9':
		case r == '_':
		default:
			return fmt.Errorf("%w: %q", ErrInvalidIdentifier, name)
		}
	}
	return nil
}

// QuoteIdentifier экранирует идентификатор двойными кавычками.
// Внутренние кавычки удваиваются: my"table -> "my""table"
func QuoteIdentifier(name string) string {
	return `"` + strings.ReplaceAll(name, `"`, `""`) + `"`
}

// QuoteLiteral экранирует строковый литерал одинарными кавычками.
// Внутренние кавычки удваиваются: it's -> 'it''s'
func QuoteLiteral(value string) string {
	return "'" + strings.ReplaceAll(value, "'", "''") + "'"
}

// SanitizeTableName выводит имя таблицы из имени файла:
// расширение отбрасывается, все символы вне [A-Za-z0-9_]
// заменяются подчёркиванием, результат приводится к нижнему регистру.
// Имя, начинающееся с цифры, получает префикс t_.
func SanitizeTableName(filename string) string {
	name := filename
	if idx := strings.LastIndex(name, "/"); idx >= 0 {
		name = name[idx+1:]
	}
	if idx := strings.LastIndex(name, "."); idx > 0 {
		name = name[:idx]
	}

	var b strings.Builder
	for _, r := range strings.ToLower(name) {
		switch {
		case r >= 'a' && r <= 'z', r >= '0' && r <= '9', r == '_':
			b.WriteRune(r)
		default:
			b.WriteByte('_')
		}
	}

	out := strings.Trim(b.String(), "_")
	if out == "" {
		out = "table"
	}
	if out[0] >= '0' && out[0] <= '9' {
		out = "t_" + out
	}
	return out
}
