package schema

import (
	"strconv"
	"strings"
	"time"
)

// Порядок кандидатов при выводе типа колонки.
// Тип побеждает только если КАЖДОЕ непустое значение колонки парсится.
// Любая неоднозначность приводит к fallback на TEXT.
var inferenceOrder = []DataType{
	TypeInteger,
	TypeReal,
	TypeBoolean,
	TypeTimestamp,
}

// Поддерживаемые форматы даты/времени (проверяются по порядку)
var timestampLayouts = []string{
	time.RFC3339,
	"2006-01-02 15:04:05",
	"2006-01-02T15:04:05",
	"2006-01-02",
	"02.01.2006",
	"01/02/2006",
}

// InferColumnType выводит тип колонки по её значениям.
// Пустые строки трактуются как NULL и не участвуют в выводе.
// Колонка без единого непустого значения получает TEXT.
func InferColumnType(values []string) DataType {
	nonNull := 0
	for _, v := range values {
		if strings.TrimSpace(v) != "" {
			nonNull++
		}
	}
	if nonNull == 0 {
		return TypeText
	}

	for _, candidate := range inferenceOrder {
		if allParse(values, candidate) {
			return candidate
		}
	}
	return TypeText
}

// InferColumns выводит типы всех колонок по строкам данных.
// rows - строки в порядке колонок headers
func InferColumns(headers []string, rows [][]string) []Column {
	cols := make([]Column, len(headers))
	for i, name := range headers {
		values := make([]string, 0, len(rows))
		for _, row := range rows {
			if i < len(row) {
				values = append(values, row[i])
			}
		}
		cols[i] = Column{Name: name, Type: InferColumnType(values)}
	}
	return cols
}

// allParse проверяет что каждое непустое значение парсится как тип t
func allParse(values []string, t DataType) bool {
	for _, v := range values {
		v = strings.TrimSpace(v)
		if v == "" {
			continue
		}
		if !ParsesAs(v, t) {
			return false
		}
	}
	return true
}

// ParsesAs проверяет парсится ли одно значение как тип t
func ParsesAs(value string, t DataType) bool {
	switch t {
	case TypeInteger:
		_, err := strconv.ParseInt(value, 10, 64)
		return err == nil
	case TypeReal:
		_, err := strconv.ParseFloat(value, 64)
		return err == nil
	case TypeBoolean:
		// Только явные литералы. "0"/"1" не считаем булевыми,
		// иначе целочисленные колонки из нулей и единиц станут BOOLEAN
		switch strings.ToLower(value) {
		case "true", "false":
			return true
		}
		return false
	case TypeTimestamp:
		for _, layout := range timestampLayouts {
			if _, err := time.Parse(layout, value); err == nil {
				return true
			}
		}
		return false
	case TypeText:
		return true
	default:
		return false
	}
}

// ParseTimestamp парсит значение времени по поддерживаемым форматам
func ParseTimestamp(value string) (time.Time, error) {
	var lastErr error
	for _, layout := range timestampLayouts {
		t, err := time.Parse(layout, value)
		if err == nil {
			return t, nil
		}
		lastErr = err
	}
	return time.Time{}, lastErr
}
