package dashboard

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"testing"
	"time"

	"github.com/ruslano69/glyte/pkg/engine"
	_ "github.com/ruslano69/glyte/pkg/engine/sqlite"
	"github.com/ruslano69/glyte/pkg/sandbox"
	"github.com/ruslano69/glyte/pkg/store"
)

func newTestService(t *testing.T) *Service {
	t.Helper()

	eng, err := engine.New(context.Background(), engine.Config{Type: "sqlite", DSN: ":memory:"})
	if err != nil {
		t.Fatalf("failed to create engine: %v", err)
	}
	t.Cleanup(func() { eng.Close(context.Background()) })

	dir := t.TempDir()
	return NewService(eng, store.New(filepath.Join(dir, "dashboards")), sandbox.New(), Options{
		UploadsDir: filepath.Join(dir, "uploads"),
	})
}

// salesCSV генерирует CSV с колонками id,name,amount и n строками
func salesCSV(n int) string {
	var b strings.Builder
	b.WriteString("id,name,amount\n")
	for i := 1; i <= n; i++ {
		fmt.Fprintf(&b, "%d,customer_%d,%d.50\n", i, i, i*10)
	}
	return b.String()
}

func TestService_NewDashboardFlow(t *testing.T) {
	svc := newTestService(t)
	ctx := context.Background()

	res, err := svc.IngestUpload(ctx, strings.NewReader(salesCSV(100)), "sales.csv")
	if err != nil {
		t.Fatalf("IngestUpload failed: %v", err)
	}
	if res.Matched {
		t.Error("first upload must not match anything")
	}
	if res.RowCount != 100 || res.ColumnCount != 3 {
		t.Errorf("ingest stats = %d rows, %d columns, want 100 and 3", res.RowCount, res.ColumnCount)
	}

	d, err := svc.ConfirmIngest(ctx, res.TempPath, "")
	if err != nil {
		t.Fatalf("ConfirmIngest failed: %v", err)
	}
	if d.Version != 1 {
		t.Errorf("version = %d, want 1", d.Version)
	}
	if d.RowCount != 100 {
		t.Errorf("rowCount = %d, want 100", d.RowCount)
	}
	if d.TableName != "sales" {
		t.Errorf("tableName = %s, want sales", d.TableName)
	}
	if d.Title != "sales" {
		t.Errorf("title = %s, want sales", d.Title)
	}
	// Колонка id уникальна и становится ключом идентичности
	if d.KeyColumn != "id" {
		t.Errorf("keyColumn = %s, want id", d.KeyColumn)
	}
}

func TestService_RefreshFlow(t *testing.T) {
	svc := newTestService(t)
	ctx := context.Background()

	first, err := svc.IngestUpload(ctx, strings.NewReader(salesCSV(100)), "sales.csv")
	if err != nil {
		t.Fatalf("first IngestUpload failed: %v", err)
	}
	created, err := svc.ConfirmIngest(ctx, first.TempPath, "")
	if err != nil {
		t.Fatalf("first ConfirmIngest failed: %v", err)
	}

	// 5 изменённых строк, 2 добавленные
	refreshed := salesCSV(100)
	refreshed = strings.Replace(refreshed, "1,customer_1,10.50\n", "1,customer_1,111.11\n", 1)
	refreshed = strings.Replace(refreshed, "2,customer_2,20.50\n", "2,customer_2,222.22\n", 1)
	refreshed = strings.Replace(refreshed, "3,customer_3,30.50\n", "3,customer_3,333.33\n", 1)
	refreshed = strings.Replace(refreshed, "4,customer_4,40.50\n", "4,customer_4,444.44\n", 1)
	refreshed = strings.Replace(refreshed, "5,customer_5,50.50\n", "5,customer_5,555.55\n", 1)
	refreshed += "101,customer_101,1010.50\n102,customer_102,1020.50\n"

	second, err := svc.IngestUpload(ctx, strings.NewReader(refreshed), "sales.csv")
	if err != nil {
		t.Fatalf("second IngestUpload failed: %v", err)
	}
	if !second.Matched {
		t.Fatal("refresh upload must match the existing dashboard")
	}
	if second.Diff.MatchedDashboardID != created.ID {
		t.Errorf("matched %s, want %s", second.Diff.MatchedDashboardID, created.ID)
	}
	if second.Diff.Rows.Added != 2 || second.Diff.Rows.Removed != 0 || second.Diff.Rows.Changed != 5 {
		t.Errorf("rowDelta = %+v, want added:2 removed:0 changed:5", second.Diff.Rows)
	}

	updated, err := svc.ConfirmIngest(ctx, second.TempPath, created.ID)
	if err != nil {
		t.Fatalf("second ConfirmIngest failed: %v", err)
	}
	if updated.Version != 2 {
		t.Errorf("version = %d, want 2", updated.Version)
	}
	if len(updated.PreviousVersions) != 1 || updated.PreviousVersions[0].Version != 1 {
		t.Errorf("previousVersions = %+v, want single v1 snapshot", updated.PreviousVersions)
	}
	if updated.RowCount != 102 {
		t.Errorf("rowCount = %d, want 102", updated.RowCount)
	}

	// Таблица заменена новыми данными
	q, err := svc.RunQuery(ctx, updated.ID, "SELECT count(*) AS n FROM sales")
	if err != nil {
		t.Fatalf("RunQuery failed: %v", err)
	}
	if fmt.Sprintf("%v", q.Results[0][0]) != "102" {
		t.Errorf("table row count = %v, want 102", q.Results[0][0])
	}
}

func TestService_RunQuery(t *testing.T) {
	svc := newTestService(t)
	ctx := context.Background()

	res, _ := svc.IngestUpload(ctx, strings.NewReader(salesCSV(10)), "sales.csv")
	d, err := svc.ConfirmIngest(ctx, res.TempPath, "")
	if err != nil {
		t.Fatalf("ConfirmIngest failed: %v", err)
	}

	q, err := svc.RunQuery(ctx, d.ID, "SELECT id, name FROM sales WHERE id <= 3")
	if err != nil {
		t.Fatalf("RunQuery failed: %v", err)
	}
	if q.RowCount != 3 {
		t.Errorf("rowCount = %d, want 3", q.RowCount)
	}
	if len(q.Columns) != 2 || q.Columns[0] != "id" {
		t.Errorf("columns = %v, want [id name]", q.Columns)
	}
}

// Запрос с подцепленным DROP отклоняется песочницей до обращения к
// движку: таблица остаётся на месте
func TestService_RunQueryRejectsPiggyback(t *testing.T) {
	svc := newTestService(t)
	ctx := context.Background()

	res, _ := svc.IngestUpload(ctx, strings.NewReader(salesCSV(10)), "sales.csv")
	d, _ := svc.ConfirmIngest(ctx, res.TempPath, "")

	_, err := svc.RunQuery(ctx, d.ID, "SELECT 1; DROP TABLE dashboards")
	if !IsRejected(err) {
		t.Fatalf("expected sandbox rejection, got %v", err)
	}
	var rejected *RejectedError
	errors.As(err, &rejected)
	if rejected.Reason != sandbox.ReasonKeywords {
		t.Errorf("reason = %q, want %q", rejected.Reason, sandbox.ReasonKeywords)
	}

	// Таблица не тронута
	q, err := svc.RunQuery(ctx, d.ID, "SELECT count(*) FROM sales")
	if err != nil {
		t.Fatalf("table unavailable after rejected query: %v", err)
	}
	if fmt.Sprintf("%v", q.Results[0][0]) != "10" {
		t.Errorf("row count = %v, want 10", q.Results[0][0])
	}
}

func TestService_RunQueryNotFound(t *testing.T) {
	svc := newTestService(t)

	if _, err := svc.RunQuery(context.Background(), "dash-404", "SELECT 1"); !errors.Is(err, ErrNotFound) {
		t.Errorf("RunQuery missing dashboard = %v, want ErrNotFound", err)
	}
	if _, err := svc.RunQuery(context.Background(), "../etc", "SELECT 1"); !errors.Is(err, store.ErrInvalidID) {
		t.Errorf("RunQuery bad id = %v, want ErrInvalidID", err)
	}
}

// Без явного LIMIT дописывается ограничение на размер результата
func TestService_RunQueryRowCap(t *testing.T) {
	svc := newTestService(t)
	svc.rowCap = 5
	ctx := context.Background()

	res, _ := svc.IngestUpload(ctx, strings.NewReader(salesCSV(20)), "sales.csv")
	d, _ := svc.ConfirmIngest(ctx, res.TempPath, "")

	q, err := svc.RunQuery(ctx, d.ID, "SELECT * FROM sales")
	if err != nil {
		t.Fatalf("RunQuery failed: %v", err)
	}
	if q.RowCount != 5 {
		t.Errorf("rowCount = %d, want capped 5", q.RowCount)
	}

	// Явный LIMIT сохраняется
	q, err = svc.RunQuery(ctx, d.ID, "SELECT * FROM sales LIMIT 2")
	if err != nil {
		t.Fatalf("RunQuery with limit failed: %v", err)
	}
	if q.RowCount != 2 {
		t.Errorf("rowCount = %d, want 2", q.RowCount)
	}

	// Слово limit внутри строкового литерала не отменяет ограничение
	q, err = svc.RunQuery(ctx, d.ID, "SELECT * FROM sales WHERE name <> 'limit'")
	if err != nil {
		t.Fatalf("RunQuery with literal failed: %v", err)
	}
	if q.RowCount != 5 {
		t.Errorf("rowCount = %d, want capped 5 despite 'limit' literal", q.RowCount)
	}
}

// Уборка затрагивает только неподтвержденные загрузки: файлы,
// на которые ссылаются версии дашбордов, остаются на месте
func TestService_CleanupStaleUploads(t *testing.T) {
	svc := newTestService(t)
	ctx := context.Background()

	confirmed, _ := svc.IngestUpload(ctx, strings.NewReader(salesCSV(10)), "sales.csv")
	d, err := svc.ConfirmIngest(ctx, confirmed.TempPath, "")
	if err != nil {
		t.Fatalf("ConfirmIngest failed: %v", err)
	}

	abandoned, err := svc.IngestUpload(ctx, strings.NewReader(salesCSV(5)), "orders.csv")
	if err != nil {
		t.Fatalf("IngestUpload failed: %v", err)
	}

	// Состариваем оба файла за пределы TTL
	old := time.Now().Add(-48 * time.Hour)
	for _, path := range []string{d.CSVPath, abandoned.TempPath} {
		if err := os.Chtimes(path, old, old); err != nil {
			t.Fatalf("failed to age %s: %v", path, err)
		}
	}

	removed, err := svc.CleanupStaleUploads(ctx, 24*time.Hour)
	if err != nil {
		t.Fatalf("CleanupStaleUploads failed: %v", err)
	}
	if removed != 1 {
		t.Errorf("removed = %d, want 1", removed)
	}

	if _, err := os.Stat(abandoned.TempPath); !os.IsNotExist(err) {
		t.Error("abandoned upload still on disk")
	}
	exists, err := svc.eng.TableExists(ctx, StagingTableName(abandoned.TempPath))
	if err != nil {
		t.Fatalf("TableExists failed: %v", err)
	}
	if exists {
		t.Error("staging table of abandoned upload still exists")
	}

	// Исходник подтвержденной версии сохранен
	if _, err := os.Stat(d.CSVPath); err != nil {
		t.Errorf("confirmed version source missing: %v", err)
	}
}

// Экспорт и повторная загрузка дают те же размеры
func TestService_ExportRoundTrip(t *testing.T) {
	svc := newTestService(t)
	ctx := context.Background()

	res, _ := svc.IngestUpload(ctx, strings.NewReader(salesCSV(50)), "sales.csv")
	d, err := svc.ConfirmIngest(ctx, res.TempPath, "")
	if err != nil {
		t.Fatalf("ConfirmIngest failed: %v", err)
	}

	var buf bytes.Buffer
	if err := svc.ExportCSV(ctx, d.ID, &buf); err != nil {
		t.Fatalf("ExportCSV failed: %v", err)
	}

	reIngested, err := svc.IngestUpload(ctx, &buf, "sales_export.csv")
	if err != nil {
		t.Fatalf("re-ingest failed: %v", err)
	}
	if reIngested.RowCount != d.RowCount {
		t.Errorf("round-trip rowCount = %d, want %d", reIngested.RowCount, d.RowCount)
	}
	if reIngested.ColumnCount != d.ColumnCount {
		t.Errorf("round-trip columnCount = %d, want %d", reIngested.ColumnCount, d.ColumnCount)
	}
}

func TestService_ExportEmptyTableNotFound(t *testing.T) {
	svc := newTestService(t)
	ctx := context.Background()

	res, err := svc.IngestUpload(ctx, strings.NewReader("id,name,amount\n"), "empty.csv")
	if err != nil {
		t.Fatalf("IngestUpload failed: %v", err)
	}
	d, err := svc.ConfirmIngest(ctx, res.TempPath, "")
	if err != nil {
		t.Fatalf("ConfirmIngest failed: %v", err)
	}

	var buf bytes.Buffer
	if err := svc.ExportCSV(ctx, d.ID, &buf); !errors.Is(err, ErrNotFound) {
		t.Errorf("ExportCSV on empty table = %v, want ErrNotFound", err)
	}
}

func TestService_ListVersions(t *testing.T) {
	svc := newTestService(t)
	ctx := context.Background()

	res, _ := svc.IngestUpload(ctx, strings.NewReader(salesCSV(10)), "sales.csv")
	d, _ := svc.ConfirmIngest(ctx, res.TempPath, "")

	for i := 0; i < 2; i++ {
		res, err := svc.IngestUpload(ctx, strings.NewReader(salesCSV(10+i)), "sales.csv")
		if err != nil {
			t.Fatalf("refresh upload failed: %v", err)
		}
		if _, err := svc.ConfirmIngest(ctx, res.TempPath, d.ID); err != nil {
			t.Fatalf("refresh confirm failed: %v", err)
		}
	}

	versions, err := svc.ListVersions(d.ID)
	if err != nil {
		t.Fatalf("ListVersions failed: %v", err)
	}
	if len(versions) != 3 {
		t.Fatalf("got %d entries, want 3", len(versions))
	}
	// Текущее состояние первым, затем история от новых к старым
	if !versions[0].Current || versions[0].Version != 3 {
		t.Errorf("first entry = %+v, want current v3", versions[0])
	}
	if versions[1].Version != 2 || versions[2].Version != 1 {
		t.Errorf("history order = v%d, v%d, want v2, v1", versions[1].Version, versions[2].Version)
	}
	for _, v := range versions[1:] {
		if v.Current {
			t.Errorf("history entry v%d marked current", v.Version)
		}
	}
}

func TestService_ListColumns(t *testing.T) {
	svc := newTestService(t)
	ctx := context.Background()

	res, _ := svc.IngestUpload(ctx, strings.NewReader(salesCSV(5)), "sales.csv")
	if _, err := svc.ConfirmIngest(ctx, res.TempPath, ""); err != nil {
		t.Fatalf("ConfirmIngest failed: %v", err)
	}

	cols, err := svc.ListColumns(ctx, "sales")
	if err != nil {
		t.Fatalf("ListColumns failed: %v", err)
	}
	want := []string{"id", "name", "amount"}
	if len(cols) != 3 {
		t.Fatalf("got %d columns, want 3", len(cols))
	}
	for i, w := range want {
		if cols[i] != w {
			t.Errorf("cols[%d] = %s, want %s", i, cols[i], w)
		}
	}

	// Имя вне грамматики отклоняется до обращения к каталогу
	if _, err := svc.ListColumns(ctx, "sales; DROP TABLE x"); !errors.Is(err, ErrInvalidIdentifier) {
		t.Errorf("ListColumns injection = %v, want ErrInvalidIdentifier", err)
	}

	// Отсутствующая таблица - пустой список, не ошибка
	cols, err = svc.ListColumns(ctx, "no_such_table")
	if err != nil {
		t.Fatalf("ListColumns missing table = %v, want nil error", err)
	}
	if len(cols) != 0 {
		t.Errorf("missing table returned %d columns, want 0", len(cols))
	}
}

func TestService_ConfirmIngestRejectsOutsidePath(t *testing.T) {
	svc := newTestService(t)

	if _, err := svc.ConfirmIngest(context.Background(), "/etc/passwd", ""); err == nil {
		t.Error("expected rejection of path outside uploads dir")
	}
}

func TestService_DeleteDashboard(t *testing.T) {
	svc := newTestService(t)
	ctx := context.Background()

	res, _ := svc.IngestUpload(ctx, strings.NewReader(salesCSV(5)), "sales.csv")
	d, _ := svc.ConfirmIngest(ctx, res.TempPath, "")

	if err := svc.DeleteDashboard(ctx, d.ID); err != nil {
		t.Fatalf("DeleteDashboard failed: %v", err)
	}
	if _, err := svc.LoadDashboard(d.ID); !errors.Is(err, ErrNotFound) {
		t.Errorf("LoadDashboard after delete = %v, want ErrNotFound", err)
	}
	exists, err := svc.eng.TableExists(ctx, "sales")
	if err != nil {
		t.Fatalf("TableExists failed: %v", err)
	}
	if exists {
		t.Error("table still present after dashboard delete")
	}
}

func TestSafeErrorMessage(t *testing.T) {
	tests := []struct {
		name    string
		err     error
		wantMsg string
		wantRef bool
	}{
		{"Nil", nil, "", false},
		{"Rejected passes reason through", &RejectedError{Reason: "only read queries allowed"}, "only read queries allowed", false},
		{"NotFound", fmt.Errorf("%w: dash-1", ErrNotFound), "dashboard not found", false},
		{"Engine failure is collapsed", fmt.Errorf("%w: query: disk at /var/lib failed", ErrEngine), "internal error", true},
		{"Timeout", fmt.Errorf("%w: query", ErrEngineTimeout), "query timed out", true},
		{"Parse", fmt.Errorf("%w: row 5", ErrParse), "uploaded file could not be parsed", false},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			msg, ref := SafeErrorMessage(tt.err)
			if msg != tt.wantMsg {
				t.Errorf("message = %q, want %q", msg, tt.wantMsg)
			}
			if tt.wantRef && ref == "" {
				t.Error("expected correlation ref")
			}
			if !tt.wantRef && ref != "" {
				t.Errorf("unexpected correlation ref %q", ref)
			}
			// Внутренние детали не утекают в сообщение
			if strings.Contains(msg, "/var/lib") {
				t.Errorf("message leaks internals: %q", msg)
			}
		})
	}
}
