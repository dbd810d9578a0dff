package sandbox

import (
	"regexp"
	"strings"
)

// Verdict - результат проверки SQL запроса.
// Никогда не персистится, вычисляется на каждый запрос.
type Verdict struct {
	Allowed bool   `json:"allowed"`
	Reason  string `json:"reason,omitempty"`
}

// Причины отказа (короткие, человекочитаемые - уходят клиенту как есть)
const (
	ReasonEmpty     = "query required"
	ReasonNotSelect = "only read queries allowed"
	ReasonKeywords  = "query contains blocked keywords"
	ReasonFileFuncs = "file-access functions not allowed"
)

// DefaultKeywords - запрещенные изменяющие/DDL ключевые слова.
// Конфигурационная константа, не встраивается inline в проверку.
var DefaultKeywords = []string{
	// DML
	"INSERT", "UPDATE", "DELETE", "TRUNCATE", "MERGE",

	// DDL
	"DROP", "CREATE", "ALTER", "RENAME",

	// DCL
	"GRANT", "REVOKE",

	// Опасные команды движка
	"EXECUTE", "EXEC", "CALL", "PRAGMA", "SET",

	// Подключение внешних источников и выгрузка
	"ATTACH", "DETACH", "COPY", "EXPORT", "IMPORT", "INSTALL", "LOAD",

	// Транзакции (могут быть использованы для обхода)
	"BEGIN", "COMMIT", "ROLLBACK",
}

// DefaultFunctions - функции движка с доступом к файлам/сети.
// Через них SELECT-запрос читает произвольные локальные файлы
// или тянет данные по сети - блокируются целиком.
var DefaultFunctions = []string{
	"read_csv", "read_csv_auto",
	"read_parquet",
	"read_json", "read_json_auto", "read_json_objects",
	"read_text", "read_blob",
	"glob",
	"getenv",
	"http_get", "http_post",
}

// Sandbox проверяет SQL запросы перед передачей движку.
//
// Это denylist, не parser-based allowlist: проверка намеренно
// консервативна, а не доказуемо полна. Глубоко обфусцированный SQL
// может обойти пословное сравнение - принятый остаточный риск
// (sandbox работает позади уже доверенного развертывания).
//
// Sandbox stateless и чистый: одинаковый вход всегда дает
// одинаковый вердикт.
type Sandbox struct {
	keywordRe  *regexp.Regexp
	functionRe *regexp.Regexp
}

// Config - настройки sandbox
type Config struct {
	// BlockedKeywords - переопределение списка ключевых слов
	// (пустой список = DefaultKeywords)
	BlockedKeywords []string

	// BlockedFunctions - переопределение списка функций
	// (пустой список = DefaultFunctions)
	BlockedFunctions []string
}

// New создает sandbox с настройками по умолчанию
func New() *Sandbox {
	return NewWithConfig(Config{})
}

// NewWithConfig создает sandbox с переопределенными списками
func NewWithConfig(cfg Config) *Sandbox {
	keywords := cfg.BlockedKeywords
	if len(keywords) == 0 {
		keywords = DefaultKeywords
	}
	functions := cfg.BlockedFunctions
	if len(functions) == 0 {
		functions = DefaultFunctions
	}

	return &Sandbox{
		keywordRe:  wordListRegexp(keywords),
		functionRe: wordListRegexp(functions),
	}
}

// Validate проверяет SQL запрос.
//
// Правила применяются по порядку, первое совпадение решает:
//  1. Пустой/пробельный вход - отказ
//  2. Запрос должен начинаться с SELECT - иначе отказ
//  3. Запрещенные ключевые слова (пословно, без учета регистра) - отказ
//  4. Функции доступа к файлам/сети - отказ
//  5. Иначе разрешен
//
// Пословное сравнение выполняется после маскировки строковых
// литералов: "WHERE description LIKE '%delete%'" разрешен,
// слово внутри литерала не является отдельным токеном.
func (s *Sandbox) Validate(sql string) Verdict {
	trimmed := strings.TrimSpace(sql)

	// 1. Пустой запрос
	if trimmed == "" {
		return Verdict{Allowed: false, Reason: ReasonEmpty}
	}

	// 2. Только SELECT
	upper := strings.ToUpper(trimmed)
	if !strings.HasPrefix(upper, "SELECT") {
		return Verdict{Allowed: false, Reason: ReasonNotSelect}
	}

	// Маскируем строковые литералы чтобы слова внутри них
	// не считались токенами
	masked := MaskLiterals(trimmed)

	// 3. Запрещенные ключевые слова
	if s.keywordRe.MatchString(masked) {
		return Verdict{Allowed: false, Reason: ReasonKeywords}
	}

	// 4. Функции доступа к файлам/сети
	if s.functionRe.MatchString(masked) {
		return Verdict{Allowed: false, Reason: ReasonFileFuncs}
	}

	// Множественные statements: точка с запятой допустима только
	// в самом конце. Ключевые слова второй команды поймало бы
	// правило 3, но "SELECT 1; SELECT 2" иначе прошел бы
	if idx := strings.Index(masked, ";"); idx >= 0 && idx != len(masked)-1 {
		return Verdict{Allowed: false, Reason: ReasonNotSelect}
	}

	// 5. Разрешен
	return Verdict{Allowed: true}
}

// wordListRegexp собирает регулярное выражение для пословного
// поиска любого слова из списка, без учета регистра
func wordListRegexp(words []string) *regexp.Regexp {
	escaped := make([]string, len(words))
	for i, w := range words {
		escaped[i] = regexp.QuoteMeta(w)
	}
	return regexp.MustCompile(`(?i)\b(?:` + strings.Join(escaped, "|") + `)\b`)
}

// MaskLiterals заменяет содержимое одинарных строковых литералов
// нулями. Экранированная кавычка '' внутри литерала обрабатывается
// стандартно (закрытие + открытие нового литерала, что для маскировки
// эквивалентно). Используется и снаружи: любой пословный анализ SQL
// должен игнорировать слова внутри литералов.
func MaskLiterals(sql string) string {
	var b strings.Builder
	b.Grow(len(sql))

	inString := false
	for _, r := range sql {
		switch {
		case r == '\'':
			inString = !inString
			b.WriteRune(r)
		case inString:
			b.WriteByte('0')
		default:
			b.WriteRune(r)
		}
	}
	return b.String()
}
