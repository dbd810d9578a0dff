package store

import (
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"testing"
	"time"
)

func TestValidateID(t *testing.T) {
	tests := []struct {
		id    string
		valid bool
	}{
		{"dash-1", true},
		{"dash-1700000000000", true},
		{"dash-", false},
		{"dash-abc", false},
		{"dashboard-1", false},
		{"", false},
		// Попытки обхода пути
		{"../dash-1", false},
		{"dash-1/../../etc/passwd", false},
		{"dash-1.json", false},
	}

	for _, tt := range tests {
		t.Run(tt.id, func(t *testing.T) {
			err := ValidateID(tt.id)
			if tt.valid && err != nil {
				t.Errorf("ValidateID(%q) = %v, want nil", tt.id, err)
			}
			if !tt.valid && !errors.Is(err, ErrInvalidID) {
				t.Errorf("ValidateID(%q) = %v, want ErrInvalidID", tt.id, err)
			}
		})
	}
}

func TestStore_CreateAndLoad(t *testing.T) {
	s := New(t.TempDir())

	created, err := s.Create(&Dashboard{
		ID:          "dash-1",
		Title:       "Sales",
		TableName:   "sales",
		CSVPath:     "uploads/sales.csv",
		RowCount:    100,
		ColumnCount: 3,
	})
	if err != nil {
		t.Fatalf("Create failed: %v", err)
	}
	if created.Version != 1 {
		t.Errorf("new dashboard version = %d, want 1", created.Version)
	}
	if len(created.PreviousVersions) != 0 {
		t.Errorf("new dashboard has %d previous versions, want 0", len(created.PreviousVersions))
	}
	if created.CreatedAt.IsZero() {
		t.Error("CreatedAt not set")
	}

	loaded, err := s.Load("dash-1")
	if err != nil {
		t.Fatalf("Load failed: %v", err)
	}
	if loaded.Title != "Sales" || loaded.TableName != "sales" || loaded.RowCount != 100 {
		t.Errorf("loaded dashboard mismatch: %+v", loaded)
	}
}

func TestStore_LoadNotFound(t *testing.T) {
	s := New(t.TempDir())

	if _, err := s.Load("dash-999"); !errors.Is(err, ErrNotFound) {
		t.Errorf("Load missing id = %v, want ErrNotFound", err)
	}
	// Невалидный ID отклоняется до обращения к диску
	if _, err := s.Load("../../etc/passwd"); !errors.Is(err, ErrInvalidID) {
		t.Errorf("Load traversal id = %v, want ErrInvalidID", err)
	}
}

func TestStore_ListEmptyDir(t *testing.T) {
	// Каталог не существует - первый запуск, не ошибка
	s := New(filepath.Join(t.TempDir(), "does-not-exist"))

	list, err := s.List()
	if err != nil {
		t.Fatalf("List failed: %v", err)
	}
	if len(list) != 0 {
		t.Errorf("expected empty list, got %d entries", len(list))
	}
}

func TestStore_ListOrder(t *testing.T) {
	s := New(t.TempDir())

	base := time.Date(2026, 8, 1, 12, 0, 0, 0, time.UTC)
	for i := 1; i <= 3; i++ {
		_, err := s.Create(&Dashboard{
			ID:        fmt.Sprintf("dash-%d", i),
			Title:     fmt.Sprintf("Dashboard %d", i),
			TableName: fmt.Sprintf("table_%d", i),
			CreatedAt: base.Add(time.Duration(i) * time.Hour),
		})
		if err != nil {
			t.Fatalf("Create %d failed: %v", i, err)
		}
	}

	list, err := s.List()
	if err != nil {
		t.Fatalf("List failed: %v", err)
	}
	if len(list) != 3 {
		t.Fatalf("List returned %d entries, want 3", len(list))
	}
	// Сортировка по времени создания, новые первыми
	for i, wantID := range []string{"dash-3", "dash-2", "dash-1"} {
		if list[i].ID != wantID {
			t.Errorf("list[%d].ID = %s, want %s", i, list[i].ID, wantID)
		}
	}
}

func TestStore_ListSkipsForeignFiles(t *testing.T) {
	dir := t.TempDir()
	s := New(dir)

	if _, err := s.Create(&Dashboard{ID: "dash-1", Title: "A", TableName: "a"}); err != nil {
		t.Fatalf("Create failed: %v", err)
	}
	// Посторонние файлы не ломают листинг
	os.WriteFile(filepath.Join(dir, "notes.txt"), []byte("x"), 0o644)
	os.WriteFile(filepath.Join(dir, "backup.json"), []byte("{}"), 0o644)

	list, err := s.List()
	if err != nil {
		t.Fatalf("List failed: %v", err)
	}
	if len(list) != 1 {
		t.Errorf("List returned %d entries, want 1", len(list))
	}
}

// После N последовательных обновлений version == N и история содержит
// ровно N-1 снимков со строго возрастающими версиями 1..N-1
func TestStore_CreateNewVersionNeverLossy(t *testing.T) {
	s := New(t.TempDir())

	if _, err := s.Create(&Dashboard{
		ID:          "dash-1",
		Title:       "Sales",
		TableName:   "sales",
		CSVPath:     "uploads/v1.csv",
		RowCount:    100,
		ColumnCount: 3,
	}); err != nil {
		t.Fatalf("Create failed: %v", err)
	}

	const refreshes = 5
	for i := 2; i <= refreshes; i++ {
		_, err := s.CreateNewVersion("dash-1", VersionUpdate{
			CSVPath:     fmt.Sprintf("uploads/v%d.csv", i),
			RowCount:    100 + i,
			ColumnCount: 3,
		})
		if err != nil {
			t.Fatalf("CreateNewVersion %d failed: %v", i, err)
		}
	}

	d, err := s.Load("dash-1")
	if err != nil {
		t.Fatalf("Load failed: %v", err)
	}
	if d.Version != refreshes {
		t.Errorf("version = %d, want %d", d.Version, refreshes)
	}
	if len(d.PreviousVersions) != refreshes-1 {
		t.Fatalf("previousVersions length = %d, want %d", len(d.PreviousVersions), refreshes-1)
	}
	for i, snap := range d.PreviousVersions {
		if snap.Version != i+1 {
			t.Errorf("previousVersions[%d].Version = %d, want %d", i, snap.Version, i+1)
		}
	}
	// Первый снимок сохранил исходное состояние
	first := d.PreviousVersions[0]
	if first.CSVPath != "uploads/v1.csv" || first.RowCount != 100 {
		t.Errorf("first snapshot mismatch: %+v", first)
	}
	// Текущие поля перезаписаны последним обновлением
	if d.CSVPath != fmt.Sprintf("uploads/v%d.csv", refreshes) {
		t.Errorf("csvPath = %s, want last update", d.CSVPath)
	}
	if d.RowCount != 100+refreshes {
		t.Errorf("rowCount = %d, want %d", d.RowCount, 100+refreshes)
	}
	if d.UpdatedAt.IsZero() {
		t.Error("UpdatedAt not set after refresh")
	}
}

func TestStore_Delete(t *testing.T) {
	s := New(t.TempDir())

	if _, err := s.Create(&Dashboard{ID: "dash-1", Title: "A", TableName: "a"}); err != nil {
		t.Fatalf("Create failed: %v", err)
	}
	if err := s.Delete("dash-1"); err != nil {
		t.Fatalf("Delete failed: %v", err)
	}
	if _, err := s.Load("dash-1"); !errors.Is(err, ErrNotFound) {
		t.Errorf("Load after delete = %v, want ErrNotFound", err)
	}
	if err := s.Delete("dash-1"); !errors.Is(err, ErrNotFound) {
		t.Errorf("Delete missing = %v, want ErrNotFound", err)
	}
}

func TestStore_AutoID(t *testing.T) {
	s := New(t.TempDir())

	d, err := s.Create(&Dashboard{Title: "A", TableName: "a"})
	if err != nil {
		t.Fatalf("Create failed: %v", err)
	}
	if err := ValidateID(d.ID); err != nil {
		t.Errorf("auto-allocated ID %q fails validation: %v", d.ID, err)
	}
}
