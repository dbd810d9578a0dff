// Package differ сопоставляет свежезагруженную таблицу с существующими
// дашбордами и вычисляет дифф содержимого против лучшего кандидата.
package differ

import (
	"context"
	"fmt"
	"sort"
	"strings"
	"time"

	"github.com/zeebo/xxh3"

	"github.com/ruslano69/glyte/pkg/core/schema"
	"github.com/ruslano69/glyte/pkg/engine"
	"github.com/ruslano69/glyte/pkg/store"
)

const (
	// SimilarityFloor - минимальное сходство схем по Жаккару.
	// Дашборд с полностью чужой схемой не может быть тем же датасетом
	SimilarityFloor = 0.60

	// MatchFloor - минимальная итоговая уверенность для признания
	// совпадения
	MatchFloor = 0.20

	// HighMatch - порог уверенного совпадения (та же схема, малая
	// доля изменённых строк)
	HighMatch = 0.80
)

// SchemaMatch описывает различия в наборах колонок
type SchemaMatch struct {
	AddedColumns     []string `json:"addedColumns"`
	RemovedColumns   []string `json:"removedColumns"`
	UnchangedColumns []string `json:"unchangedColumns"`
}

// RowDelta содержит счётчики изменений строк
type RowDelta struct {
	Added     int `json:"added"`
	Removed   int `json:"removed"`
	Changed   int `json:"changed"`
	Unchanged int `json:"unchanged"`
}

// DiffResult представляет результат сопоставления кандидата с
// существующим дашбордом. Не персистируется, вычисляется по запросу
type DiffResult struct {
	MatchedDashboardID string      `json:"matchedDashboardId"`
	Schema             SchemaMatch `json:"schemaMatch"`
	Rows               RowDelta    `json:"rowDelta"`
	Similarity         float64     `json:"similarity"`
	Confidence         float64     `json:"confidence"`
}

// Differ выполняет структурное и содержательное сравнение
type Differ struct {
	eng engine.Engine
}

// New создаёт Differ поверх движка запросов
func New(eng engine.Engine) *Differ {
	return &Differ{eng: eng}
}

// Match ищет среди дашбордов лучшее структурное совпадение для таблицы
// candidateTable и считает дифф содержимого. Возвращает nil без ошибки,
// если совпадений нет (пустой список, сходство ниже порога или
// уверенность ниже MatchFloor) - загрузку следует считать новым
// дашбордом
func (d *Differ) Match(ctx context.Context, candidateTable string, dashboards []*store.Dashboard) (*DiffResult, error) {
	candidateCols, err := d.eng.TableColumns(ctx, candidateTable)
	if err != nil {
		return nil, fmt.Errorf("failed to inspect candidate table: %w", err)
	}
	if len(candidateCols) == 0 {
		return nil, fmt.Errorf("candidate table %s has no columns", candidateTable)
	}

	type scored struct {
		dash       *store.Dashboard
		cols       []string
		similarity float64
	}

	var candidates []scored
	for _, dash := range dashboards {
		cols, err := d.eng.TableColumns(ctx, dash.TableName)
		if err != nil {
			return nil, fmt.Errorf("failed to inspect table %s: %w", dash.TableName, err)
		}
		if len(cols) == 0 {
			// Таблица дашборда отсутствует в движке - пропускаем
			continue
		}
		sim := jaccard(candidateCols, cols)
		if sim < SimilarityFloor {
			continue
		}
		candidates = append(candidates, scored{dash: dash, cols: cols, similarity: sim})
	}

	if len(candidates) == 0 {
		return nil, nil
	}

	// Ранжируем по сходству, при равенстве - более свежий дашборд
	sort.Slice(candidates, func(i, j int) bool {
		if candidates[i].similarity != candidates[j].similarity {
			return candidates[i].similarity > candidates[j].similarity
		}
		return candidates[i].dash.LastModified().After(candidates[j].dash.LastModified())
	})

	best := candidates[0]
	schemaMatch := compareColumns(candidateCols, best.cols)

	delta, confidence, err := d.contentDiff(ctx, candidateTable, best.dash, schemaMatch.UnchangedColumns, best.similarity)
	if err != nil {
		return nil, err
	}
	if confidence < MatchFloor {
		return nil, nil
	}

	return &DiffResult{
		MatchedDashboardID: best.dash.ID,
		Schema:             schemaMatch,
		Rows:               delta,
		Similarity:         best.similarity,
		Confidence:         confidence,
	}, nil
}

// contentDiff считает построчный дифф кандидата против текущей таблицы
// дашборда. Идентичность строки - объявленная ключевая колонка
// дашборда, иначе вся строка целиком. Точное сравнение, без
// переупорядочивания и нечёткого сопоставления
func (d *Differ) contentDiff(ctx context.Context, candidateTable string, dash *store.Dashboard, sharedCols []string, similarity float64) (RowDelta, float64, error) {
	oldRows, err := d.fetchRows(ctx, dash.TableName, sharedCols)
	if err != nil {
		return RowDelta{}, 0, err
	}
	newRows, err := d.fetchRows(ctx, candidateTable, sharedCols)
	if err != nil {
		return RowDelta{}, 0, err
	}

	// Пустой кандидат: сходство схем посчитано, но счётчики строк
	// нулевые и уверенность нулевая
	if len(newRows) == 0 {
		return RowDelta{}, 0, nil
	}

	keyIdx := -1
	if dash.KeyColumn != "" {
		for i, col := range sharedCols {
			if col == dash.KeyColumn {
				keyIdx = i
				break
			}
		}
	}

	var delta RowDelta
	if keyIdx >= 0 {
		delta = diffByKey(oldRows, newRows, keyIdx)
	} else {
		delta = diffWholeRow(oldRows, newRows)
	}

	total := len(oldRows)
	if len(newRows) > total {
		total = len(newRows)
	}
	confidence := similarity * float64(delta.Unchanged) / float64(total)

	return delta, confidence, nil
}

// fetchRows читает строки таблицы в каноническом порядке колонок и
// возвращает их строковые представления
func (d *Differ) fetchRows(ctx context.Context, table string, cols []string) ([][]string, error) {
	res, err := d.eng.Query(ctx, selectColumns(table, cols))
	if err != nil {
		return nil, fmt.Errorf("failed to read table %s: %w", table, err)
	}

	rows := make([][]string, len(res.Rows))
	for i, row := range res.Rows {
		vals := make([]string, len(row))
		for j, v := range row {
			vals[j] = formatValue(v)
		}
		rows[i] = vals
	}
	return rows, nil
}

// diffByKey сравнивает строки по ключевой колонке: одинаковый ключ с
// разными остальными значениями - изменённая строка
func diffByKey(oldRows, newRows [][]string, keyIdx int) RowDelta {
	oldByKey := make(map[string]uint64, len(oldRows))
	for _, row := range oldRows {
		oldByKey[row[keyIdx]] = hashRow(row)
	}
	newByKey := make(map[string]uint64, len(newRows))
	for _, row := range newRows {
		newByKey[row[keyIdx]] = hashRow(row)
	}

	var delta RowDelta
	for key, oldHash := range oldByKey {
		newHash, ok := newByKey[key]
		switch {
		case !ok:
			delta.Removed++
		case newHash != oldHash:
			delta.Changed++
		default:
			delta.Unchanged++
		}
	}
	for key := range newByKey {
		if _, ok := oldByKey[key]; !ok {
			delta.Added++
		}
	}
	return delta
}

// diffWholeRow сравнивает мультимножества хешей целых строк.
// Переупорядоченный, но не изменённый датасет даст нулевые счётчики;
// изменение любой ячейки выглядит как удаление плюс добавление
func diffWholeRow(oldRows, newRows [][]string) RowDelta {
	oldCounts := make(map[uint64]int, len(oldRows))
	for _, row := range oldRows {
		oldCounts[hashRow(row)]++
	}
	newCounts := make(map[uint64]int, len(newRows))
	for _, row := range newRows {
		newCounts[hashRow(row)]++
	}

	var delta RowDelta
	for h, oldN := range oldCounts {
		newN := newCounts[h]
		if newN < oldN {
			delta.Removed += oldN - newN
			delta.Unchanged += newN
		} else {
			delta.Unchanged += oldN
		}
	}
	for h, newN := range newCounts {
		oldN := oldCounts[h]
		if newN > oldN {
			delta.Added += newN - oldN
		}
	}
	return delta
}

// hashRow хеширует строку с разделителями, чтобы ["ab","c"] и
// ["a","bc"] давали разные хеши
func hashRow(row []string) uint64 {
	h := xxh3.New()
	for _, v := range row {
		h.WriteString(v)
		h.Write([]byte{0})
	}
	return h.Sum64()
}

// compareColumns раскладывает наборы колонок: added - есть у
// кандидата, нет у дашборда; removed - наоборот; unchanged - общие.
// Сравнение по имени с учётом регистра
func compareColumns(candidate, existing []string) SchemaMatch {
	existingSet := make(map[string]bool, len(existing))
	for _, c := range existing {
		existingSet[c] = true
	}
	candidateSet := make(map[string]bool, len(candidate))
	for _, c := range candidate {
		candidateSet[c] = true
	}

	m := SchemaMatch{
		AddedColumns:     []string{},
		RemovedColumns:   []string{},
		UnchangedColumns: []string{},
	}
	for _, c := range candidate {
		if existingSet[c] {
			m.UnchangedColumns = append(m.UnchangedColumns, c)
		} else {
			m.AddedColumns = append(m.AddedColumns, c)
		}
	}
	for _, c := range existing {
		if !candidateSet[c] {
			m.RemovedColumns = append(m.RemovedColumns, c)
		}
	}
	sort.Strings(m.UnchangedColumns)
	return m
}

// jaccard считает индекс Жаккара по именам колонок
func jaccard(a, b []string) float64 {
	set := make(map[string]bool, len(a))
	for _, c := range a {
		set[c] = true
	}

	intersection := 0
	union := len(set)
	seen := make(map[string]bool, len(b))
	for _, c := range b {
		if seen[c] {
			continue
		}
		seen[c] = true
		if set[c] {
			intersection++
		} else {
			union++
		}
	}

	if union == 0 {
		return 0
	}
	return float64(intersection) / float64(union)
}

// selectColumns строит SELECT с явным списком колонок в каноническом
// порядке. Имена валидированы как идентификаторы выше по стеку
func selectColumns(table string, cols []string) string {
	quoted := make([]string, len(cols))
	for i, c := range cols {
		quoted[i] = schema.QuoteIdentifier(c)
	}
	return fmt.Sprintf("SELECT %s FROM %s",
		strings.Join(quoted, ", "), schema.QuoteIdentifier(table))
}

func formatValue(v any) string {
	switch val := v.(type) {
	case nil:
		return ""
	case string:
		return val
	case []byte:
		return string(val)
	case time.Time:
		return val.UTC().Format(time.RFC3339Nano)
	default:
		return fmt.Sprintf("%v", val)
	}
}
