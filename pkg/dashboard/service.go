package dashboard

import (
	"context"
	"encoding/csv"
	"fmt"
	"io"
	"os"
	"path/filepath"
	"regexp"
	"strings"
	"time"

	"github.com/rs/zerolog"
	"github.com/zeebo/xxh3"

	"github.com/ruslano69/glyte/pkg/archive"
	"github.com/ruslano69/glyte/pkg/audit"
	"github.com/ruslano69/glyte/pkg/core/schema"
	"github.com/ruslano69/glyte/pkg/differ"
	"github.com/ruslano69/glyte/pkg/engine"
	"github.com/ruslano69/glyte/pkg/ingest"
	"github.com/ruslano69/glyte/pkg/notify"
	"github.com/ruslano69/glyte/pkg/resultlog"
	"github.com/ruslano69/glyte/pkg/sandbox"
	"github.com/ruslano69/glyte/pkg/store"
)

const (
	// DefaultRowCap ограничивает размер результата запроса и экспорта
	DefaultRowCap = 100_000

	// DefaultQueryTimeout ограничивает время выполнения запроса
	DefaultQueryTimeout = 30 * time.Second
)

var limitPattern = regexp.MustCompile(`(?i)\blimit\b`)

// IngestResult - итог загрузки файла до подтверждения
type IngestResult struct {
	Matched     bool               `json:"matched"`
	TempPath    string             `json:"tempPath"`
	Diff        *differ.DiffResult `json:"diff,omitempty"`
	RowCount    int                `json:"rowCount"`
	ColumnCount int                `json:"columnCount"`
}

// QueryResult - итог выполнения запроса
type QueryResult struct {
	Results  [][]any  `json:"results"`
	Columns  []string `json:"columns"`
	RowCount int      `json:"rowCount"`
}

// VersionEntry - элемент листинга версий: текущее состояние первым,
// затем история от новых к старым
type VersionEntry struct {
	Version     int       `json:"version"`
	RowCount    int       `json:"rowCount"`
	ColumnCount int       `json:"columnCount"`
	CSVPath     string    `json:"csvPath"`
	CreatedAt   time.Time `json:"createdAt"`
	Current     bool      `json:"current"`
}

// Options - настройки сервиса. Нулевые значения заменяются
// значениями по умолчанию
type Options struct {
	UploadsDir   string
	QueryTimeout time.Duration
	RowCap       int
	Logger       zerolog.Logger
	Audit        audit.Logger
	Notifier     notify.Publisher
	Results      *resultlog.RedisPublisher
	Archiver     *archive.Archiver
}

// Service связывает загрузку, сопоставление, хранилище конфигураций
// и песочницу запросов
type Service struct {
	eng     engine.Engine
	store   *store.Store
	loader  *ingest.Loader
	differ  *differ.Differ
	sandbox *sandbox.Sandbox

	uploadsDir   string
	queryTimeout time.Duration
	rowCap       int

	log      zerolog.Logger
	audit    audit.Logger
	notifier notify.Publisher
	results  *resultlog.RedisPublisher
	archiver *archive.Archiver
}

// NewService создаёт сервис жизненного цикла дашбордов
func NewService(eng engine.Engine, st *store.Store, sb *sandbox.Sandbox, opts Options) *Service {
	if opts.RowCap <= 0 {
		opts.RowCap = DefaultRowCap
	}
	if opts.QueryTimeout <= 0 {
		opts.QueryTimeout = DefaultQueryTimeout
	}
	if opts.UploadsDir == "" {
		opts.UploadsDir = "data/uploads"
	}
	if opts.Audit == nil {
		opts.Audit = audit.NewNullLogger()
	}
	if opts.Notifier == nil {
		opts.Notifier = notify.NewNullPublisher()
	}

	return &Service{
		eng:          eng,
		store:        st,
		loader:       ingest.NewLoader(eng),
		differ:       differ.New(eng),
		sandbox:      sb,
		uploadsDir:   opts.UploadsDir,
		queryTimeout: opts.QueryTimeout,
		rowCap:       opts.RowCap,
		log:          opts.Logger,
		audit:        opts.Audit,
		notifier:     opts.Notifier,
		results:      opts.Results,
		archiver:     opts.Archiver,
	}
}

// IngestUpload сохраняет загруженный файл, разбирает его, загружает в
// staging таблицу и ищет совпадение среди существующих дашбордов.
// Содержимое существующих таблиц не меняется до ConfirmIngest
func (s *Service) IngestUpload(ctx context.Context, r io.Reader, filename string) (*IngestResult, error) {
	started := time.Now()

	tempPath, err := s.saveUpload(r, filename)
	if err != nil {
		s.audit.LogFailure(ctx, audit.OpIngest, err)
		return nil, err
	}

	parsed, err := ingest.Parse(tempPath)
	if err != nil {
		os.Remove(tempPath)
		s.audit.LogFailure(ctx, audit.OpIngest, err)
		return nil, err
	}

	staging := StagingTableName(tempPath)
	if _, err := s.loader.Load(ctx, staging, parsed); err != nil {
		os.Remove(tempPath)
		s.audit.LogFailure(ctx, audit.OpIngest, err)
		return nil, err
	}

	dashboards, err := s.store.List()
	if err != nil {
		s.audit.LogFailure(ctx, audit.OpIngest, err)
		return nil, fmt.Errorf("%w: %v", ErrStorage, err)
	}

	diff, err := s.differ.Match(ctx, staging, dashboards)
	if err != nil {
		s.audit.LogFailure(ctx, audit.OpIngest, err)
		return nil, err
	}

	s.log.Info().
		Str("file", filename).
		Int("rows", parsed.RowCount()).
		Bool("matched", diff != nil).
		Dur("elapsed", time.Since(started)).
		Msg("upload ingested")

	entry := audit.NewEntry(audit.OpIngest, audit.StatusSuccess).
		WithTable(staging).
		WithRows(parsed.RowCount()).
		WithDuration(time.Since(started))
	if diff != nil {
		entry.WithDashboard(diff.MatchedDashboardID)
	}
	s.audit.Log(ctx, entry)

	return &IngestResult{
		Matched:     diff != nil,
		TempPath:    tempPath,
		Diff:        diff,
		RowCount:    parsed.RowCount(),
		ColumnCount: parsed.ColumnCount(),
	}, nil
}

// ConfirmIngest завершает загрузку: пустой targetID создаёт новый
// дашборд, иначе staging таблица продвигается на место таблицы
// указанного дашборда и версия увеличивается. Замена таблицы строго
// предшествует записи конфигурации: при сбое между этими шагами
// таблица опережает дескриптор и повторная загрузка безопасна
func (s *Service) ConfirmIngest(ctx context.Context, tempPath, targetID string) (*store.Dashboard, error) {
	path, err := s.resolveUploadPath(tempPath)
	if err != nil {
		return nil, err
	}

	parsed, err := ingest.Parse(path)
	if err != nil {
		return nil, err
	}

	// Staging таблица могла пропасть после перезапуска движка -
	// восстанавливаем её из сохранённого файла
	staging := StagingTableName(path)
	exists, err := s.eng.TableExists(ctx, staging)
	if err != nil {
		return nil, err
	}
	if !exists {
		if _, err := s.loader.Load(ctx, staging, parsed); err != nil {
			return nil, err
		}
	}

	if targetID == "" {
		return s.confirmNew(ctx, path, staging, parsed)
	}
	return s.confirmRefresh(ctx, path, staging, parsed, targetID)
}

func (s *Service) confirmNew(ctx context.Context, path, staging string, parsed *ingest.Parsed) (*store.Dashboard, error) {
	tableName, err := s.allocateTableName(ctx, path)
	if err != nil {
		return nil, err
	}

	if err := s.loader.Promote(ctx, tableName, staging); err != nil {
		s.audit.LogFailure(ctx, audit.OpConfirm, err)
		return nil, err
	}

	d, err := s.store.Create(&store.Dashboard{
		Title:       titleFromPath(path),
		TableName:   tableName,
		CSVPath:     path,
		RowCount:    parsed.RowCount(),
		ColumnCount: parsed.ColumnCount(),
		KeyColumn:   parsed.KeyColumn(),
	})
	if err != nil {
		s.audit.LogFailure(ctx, audit.OpConfirm, err)
		return nil, fmt.Errorf("%w: %v", ErrStorage, err)
	}

	s.log.Info().
		Str("dashboard", d.ID).
		Str("table", tableName).
		Int("rows", d.RowCount).
		Msg("dashboard created")

	s.audit.Log(ctx, audit.NewEntry(audit.OpConfirm, audit.StatusSuccess).
		WithDashboard(d.ID).
		WithTable(tableName).
		WithRows(d.RowCount))
	s.publishEvent(ctx, notify.EventCreated, d)

	return d, nil
}

func (s *Service) confirmRefresh(ctx context.Context, path, staging string, parsed *ingest.Parsed, targetID string) (*store.Dashboard, error) {
	current, err := s.store.Load(targetID)
	if err != nil {
		return nil, err
	}

	// Исходник вытесняемой версии уходит в архив до замены таблицы.
	// Сбой архивации не блокирует обновление
	if s.archiver != nil && current.CSVPath != "" {
		if _, err := s.archiver.ArchiveVersion(ctx, current.ID, current.Version, current.CSVPath); err != nil {
			s.log.Warn().Err(err).
				Str("dashboard", current.ID).
				Int("version", current.Version).
				Msg("failed to archive superseded version")
		}
	}

	if err := s.loader.Promote(ctx, current.TableName, staging); err != nil {
		s.audit.LogFailure(ctx, audit.OpRefresh, err)
		return nil, err
	}

	d, err := s.store.CreateNewVersion(targetID, store.VersionUpdate{
		CSVPath:     path,
		RowCount:    parsed.RowCount(),
		ColumnCount: parsed.ColumnCount(),
	})
	if err != nil {
		s.audit.LogFailure(ctx, audit.OpRefresh, err)
		return nil, fmt.Errorf("%w: %v", ErrStorage, err)
	}

	s.log.Info().
		Str("dashboard", d.ID).
		Int("version", d.Version).
		Int("rows", d.RowCount).
		Msg("dashboard refreshed")

	s.audit.Log(ctx, audit.NewEntry(audit.OpRefresh, audit.StatusSuccess).
		WithDashboard(d.ID).
		WithTable(d.TableName).
		WithRows(d.RowCount))
	s.publishEvent(ctx, notify.EventRefreshed, d)

	return d, nil
}

// RunQuery выполняет произвольный SELECT против движка от имени
// дашборда. Запрос проходит песочницу до любого обращения к движку;
// без явного LIMIT дописывается ограничение на размер результата
func (s *Service) RunQuery(ctx context.Context, id, sql string) (*QueryResult, error) {
	if err := store.ValidateID(id); err != nil {
		return nil, err
	}
	if _, err := s.store.Load(id); err != nil {
		return nil, err
	}

	verdict := s.sandbox.Validate(sql)
	if !verdict.Allowed {
		s.audit.Log(ctx, audit.NewEntry(audit.OpQuery, audit.StatusRejected).
			WithDashboard(id))
		return nil, &RejectedError{Reason: verdict.Reason}
	}

	// Наличие LIMIT проверяется по маскированному запросу:
	// слово внутри строкового литерала не отменяет ограничение
	statement := sql
	if !limitPattern.MatchString(sandbox.MaskLiterals(statement)) {
		statement = fmt.Sprintf("%s LIMIT %d", strings.TrimRight(strings.TrimSpace(statement), ";"), s.rowCap)
	}

	queryCtx, cancel := context.WithTimeout(ctx, s.queryTimeout)
	defer cancel()

	started := time.Now()
	res, err := s.eng.Query(queryCtx, statement)
	elapsed := time.Since(started)

	if s.results != nil {
		rows := 0
		if res != nil {
			rows = res.RowCount()
		}
		if pubErr := s.results.Publish(ctx, id, rows, elapsed, err); pubErr != nil {
			s.log.Warn().Err(pubErr).Msg("failed to publish query result")
		}
	}

	if err != nil {
		s.audit.LogFailure(ctx, audit.OpQuery, err)
		return nil, err
	}

	s.audit.Log(ctx, audit.NewEntry(audit.OpQuery, audit.StatusSuccess).
		WithDashboard(id).
		WithRows(res.RowCount()).
		WithDuration(elapsed))

	return &QueryResult{
		Results:  res.Rows,
		Columns:  res.Columns,
		RowCount: res.RowCount(),
	}, nil
}

// ExportCSV выгружает таблицу дашборда в RFC4180 CSV со строкой
// заголовка. Пустая таблица - ErrNotFound, выгрузка ограничена rowCap
func (s *Service) ExportCSV(ctx context.Context, id string, w io.Writer) error {
	d, err := s.LoadDashboard(id)
	if err != nil {
		return err
	}

	queryCtx, cancel := context.WithTimeout(ctx, s.queryTimeout)
	defer cancel()

	statement := fmt.Sprintf("SELECT * FROM %s LIMIT %d",
		schema.QuoteIdentifier(d.TableName), s.rowCap)
	res, err := s.eng.Query(queryCtx, statement)
	if err != nil {
		s.audit.LogFailure(ctx, audit.OpExport, err)
		return err
	}
	if res.RowCount() == 0 {
		return fmt.Errorf("%w: table %s has no rows", ErrNotFound, d.TableName)
	}

	writer := csv.NewWriter(w)
	if err := writer.Write(res.Columns); err != nil {
		return fmt.Errorf("failed to write csv header: %w", err)
	}
	record := make([]string, len(res.Columns))
	for _, row := range res.Rows {
		for i, v := range row {
			record[i] = formatCSVValue(v)
		}
		if err := writer.Write(record); err != nil {
			return fmt.Errorf("failed to write csv row: %w", err)
		}
	}
	writer.Flush()
	if err := writer.Error(); err != nil {
		return fmt.Errorf("failed to flush csv: %w", err)
	}

	s.audit.Log(ctx, audit.NewEntry(audit.OpExport, audit.StatusSuccess).
		WithDashboard(id).
		WithRows(res.RowCount()))

	return nil
}

// ListDashboards возвращает дашборды от новых к старым
func (s *Service) ListDashboards() ([]*store.Dashboard, error) {
	list, err := s.store.List()
	if err != nil {
		return nil, fmt.Errorf("%w: %v", ErrStorage, err)
	}
	return list, nil
}

// LoadDashboard возвращает конфигурацию дашборда
func (s *Service) LoadDashboard(id string) (*store.Dashboard, error) {
	return s.store.Load(id)
}

// ListVersions возвращает листинг версий: текущее состояние первым,
// затем снимки истории от новых к старым
func (s *Service) ListVersions(id string) ([]VersionEntry, error) {
	d, err := s.store.Load(id)
	if err != nil {
		return nil, err
	}

	entries := make([]VersionEntry, 0, len(d.PreviousVersions)+1)
	entries = append(entries, VersionEntry{
		Version:     d.Version,
		RowCount:    d.RowCount,
		ColumnCount: d.ColumnCount,
		CSVPath:     d.CSVPath,
		CreatedAt:   d.LastModified(),
		Current:     true,
	})
	for i := len(d.PreviousVersions) - 1; i >= 0; i-- {
		snap := d.PreviousVersions[i]
		entries = append(entries, VersionEntry{
			Version:     snap.Version,
			RowCount:    snap.RowCount,
			ColumnCount: snap.ColumnCount,
			CSVPath:     snap.CSVPath,
			CreatedAt:   snap.CreatedAt,
		})
	}
	return entries, nil
}

// ListColumns возвращает колонки таблицы в порядке физических позиций.
// Имя проверяется до обращения к каталогу движка
func (s *Service) ListColumns(ctx context.Context, tableName string) ([]string, error) {
	if err := schema.ValidateIdentifier(tableName); err != nil {
		return nil, err
	}
	return s.eng.TableColumns(ctx, tableName)
}

// DeleteDashboard удаляет конфигурацию и таблицу дашборда
func (s *Service) DeleteDashboard(ctx context.Context, id string) error {
	d, err := s.store.Load(id)
	if err != nil {
		return err
	}

	if err := s.eng.DropTable(ctx, d.TableName); err != nil {
		s.audit.LogFailure(ctx, audit.OpDelete, err)
		return err
	}
	if err := s.store.Delete(id); err != nil {
		s.audit.LogFailure(ctx, audit.OpDelete, err)
		return fmt.Errorf("%w: %v", ErrStorage, err)
	}

	s.audit.Log(ctx, audit.NewEntry(audit.OpDelete, audit.StatusSuccess).
		WithDashboard(id).
		WithTable(d.TableName))
	s.publishEvent(ctx, notify.EventDeleted, d)

	return nil
}

// CleanupStaleUploads удаляет неподтвержденные загрузки старше maxAge
// вместе с их staging таблицами. Файлы, на которые ссылается любая
// версия любого дашборда, сохраняются: csvPath версий остаются
// источником для аудита и повторной загрузки
func (s *Service) CleanupStaleUploads(ctx context.Context, maxAge time.Duration) (int, error) {
	entries, err := os.ReadDir(s.uploadsDir)
	if err != nil {
		if os.IsNotExist(err) {
			return 0, nil
		}
		return 0, fmt.Errorf("failed to read uploads dir: %w", err)
	}

	dashboards, err := s.store.List()
	if err != nil {
		return 0, fmt.Errorf("%w: %v", ErrStorage, err)
	}
	retained := make(map[string]struct{})
	for _, d := range dashboards {
		retained[filepath.Clean(d.CSVPath)] = struct{}{}
		for _, snap := range d.PreviousVersions {
			retained[filepath.Clean(snap.CSVPath)] = struct{}{}
		}
	}

	cutoff := time.Now().Add(-maxAge)
	removed := 0
	for _, entry := range entries {
		if entry.IsDir() {
			continue
		}
		info, err := entry.Info()
		if err != nil {
			continue
		}
		if info.ModTime().After(cutoff) {
			continue
		}

		path := filepath.Join(s.uploadsDir, entry.Name())
		if _, ok := retained[filepath.Clean(path)]; ok {
			continue
		}

		if err := s.eng.DropTable(ctx, StagingTableName(path)); err != nil {
			s.log.Warn().Err(err).
				Str("upload", entry.Name()).
				Msg("failed to drop stale staging table")
			continue
		}
		if err := os.Remove(path); err != nil {
			s.log.Warn().Err(err).
				Str("upload", entry.Name()).
				Msg("failed to remove stale upload")
			continue
		}
		removed++
	}
	return removed, nil
}

// StagingTableName детерминированно выводит имя staging таблицы из
// пути сохранённого файла: ConfirmIngest находит таблицу по tempPath
// без дополнительного состояния
func StagingTableName(tempPath string) string {
	return fmt.Sprintf("_staging_%x", xxh3.HashString(tempPath))
}

// saveUpload сохраняет файл под безопасным сгенерированным именем
// внутри каталога загрузок. Имя клиента участвует только расширением
// и санированной основой
func (s *Service) saveUpload(r io.Reader, filename string) (string, error) {
	if err := os.MkdirAll(s.uploadsDir, 0o755); err != nil {
		return "", fmt.Errorf("failed to create uploads dir: %w", err)
	}

	base := schema.SanitizeTableName(filename)
	ext := strings.ToLower(filepath.Ext(filename))
	name := fmt.Sprintf("%d_%s%s", time.Now().UnixNano(), base, ext)

	path := filepath.Join(s.uploadsDir, name)
	f, err := os.Create(path)
	if err != nil {
		return "", fmt.Errorf("failed to save upload: %w", err)
	}
	if _, err := io.Copy(f, r); err != nil {
		f.Close()
		os.Remove(path)
		return "", fmt.Errorf("failed to save upload: %w", err)
	}
	if err := f.Close(); err != nil {
		os.Remove(path)
		return "", fmt.Errorf("failed to save upload: %w", err)
	}
	return path, nil
}

// resolveUploadPath проверяет что tempPath указывает внутрь каталога
// загрузок. Путь приходит от клиента и не может выходить наружу
func (s *Service) resolveUploadPath(tempPath string) (string, error) {
	cleaned := filepath.Clean(tempPath)
	uploads := filepath.Clean(s.uploadsDir)

	if cleaned != uploads && !strings.HasPrefix(cleaned, uploads+string(filepath.Separator)) {
		return "", fmt.Errorf("%w: upload path outside uploads dir", ErrInvalidIdentifier)
	}
	if _, err := os.Stat(cleaned); err != nil {
		if os.IsNotExist(err) {
			return "", fmt.Errorf("%w: upload %s", ErrNotFound, filepath.Base(cleaned))
		}
		return "", fmt.Errorf("failed to stat upload: %w", err)
	}
	return cleaned, nil
}

// allocateTableName выводит свободное имя таблицы из имени файла
func (s *Service) allocateTableName(ctx context.Context, path string) (string, error) {
	base := schema.SanitizeTableName(strippedName(path))

	name := base
	for n := 2; ; n++ {
		exists, err := s.eng.TableExists(ctx, name)
		if err != nil {
			return "", err
		}
		if !exists {
			return name, nil
		}
		name = fmt.Sprintf("%s_%d", base, n)
	}
}

// strippedName убирает префикс с меткой времени, добавленный при
// сохранении загрузки
func strippedName(path string) string {
	base := filepath.Base(path)
	if i := strings.IndexByte(base, '_'); i > 0 {
		if _, err := fmt.Sscanf(base[:i], "%d", new(int64)); err == nil {
			return base[i+1:]
		}
	}
	return base
}

func titleFromPath(path string) string {
	name := strippedName(path)
	name = strings.TrimSuffix(name, filepath.Ext(name))
	name = strings.ReplaceAll(name, "_", " ")
	return strings.TrimSpace(name)
}

func (s *Service) publishEvent(ctx context.Context, eventType notify.EventType, d *store.Dashboard) {
	event := notify.NewEvent(eventType, d.ID)
	event.TableName = d.TableName
	event.Version = d.Version
	event.RowCount = d.RowCount

	if err := s.notifier.Publish(ctx, event); err != nil {
		s.log.Warn().Err(err).
			Str("event", string(eventType)).
			Str("dashboard", d.ID).
			Msg("failed to publish lifecycle event")
	}
}

func formatCSVValue(v any) string {
	switch val := v.(type) {
	case nil:
		return ""
	case string:
		return val
	case []byte:
		return string(val)
	case time.Time:
		return val.UTC().Format(time.RFC3339)
	case float64:
		return strings.TrimRight(strings.TrimRight(fmt.Sprintf("%f", val), "0"), ".")
	default:
		return fmt.Sprintf("%v", val)
	}
}
