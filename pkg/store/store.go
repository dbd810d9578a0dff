package store

import (
	"encoding/json"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"regexp"
	"sort"
	"strings"
	"sync"
	"time"
)

var (
	// ErrNotFound возвращается при отсутствии дашборда с указанным ID
	ErrNotFound = errors.New("dashboard not found")

	// ErrInvalidID возвращается при ID вне грамматики dash-<число>
	ErrInvalidID = errors.New("invalid dashboard id")
)

// Грамматика идентификатора проверяется до любого обращения к файловой
// системе: ID участвует в построении пути
var idPattern = regexp.MustCompile(`^dash-\d+$`)

// ValidateID проверяет идентификатор дашборда
func ValidateID(id string) error {
	if !idPattern.MatchString(id) {
		return fmt.Errorf("%w: %q", ErrInvalidID, id)
	}
	return nil
}

// Store управляет JSON документами дашбордов в каталоге dir.
// Запись каждого дашборда сериализуется мьютексом по его ID
type Store struct {
	dir string

	mu    sync.Mutex
	locks map[string]*sync.Mutex
}

// New создаёт Store поверх каталога dir (обычно <data>/dashboards)
func New(dir string) *Store {
	return &Store{
		dir:   dir,
		locks: make(map[string]*sync.Mutex),
	}
}

// lockFor возвращает мьютекс для указанного ID
func (s *Store) lockFor(id string) *sync.Mutex {
	s.mu.Lock()
	defer s.mu.Unlock()

	l, ok := s.locks[id]
	if !ok {
		l = &sync.Mutex{}
		s.locks[id] = l
	}
	return l
}

func (s *Store) path(id string) string {
	return filepath.Join(s.dir, id+".json")
}

// Load читает конфигурацию дашборда по ID
func (s *Store) Load(id string) (*Dashboard, error) {
	if err := ValidateID(id); err != nil {
		return nil, err
	}

	data, err := os.ReadFile(s.path(id))
	if err != nil {
		if os.IsNotExist(err) {
			return nil, fmt.Errorf("%w: %s", ErrNotFound, id)
		}
		return nil, fmt.Errorf("failed to read dashboard %s: %w", id, err)
	}

	var d Dashboard
	if err := json.Unmarshal(data, &d); err != nil {
		return nil, fmt.Errorf("failed to parse dashboard %s: %w", id, err)
	}
	return &d, nil
}

// List возвращает все дашборды, отсортированные по времени создания
// (новые первыми). Отсутствующий каталог - нормальное состояние первого
// запуска, возвращается пустой список
func (s *Store) List() ([]*Dashboard, error) {
	entries, err := os.ReadDir(s.dir)
	if err != nil {
		if os.IsNotExist(err) {
			return []*Dashboard{}, nil
		}
		return nil, fmt.Errorf("failed to list dashboards: %w", err)
	}

	var result []*Dashboard
	for _, entry := range entries {
		name := entry.Name()
		if entry.IsDir() || !strings.HasSuffix(name, ".json") {
			continue
		}
		id := strings.TrimSuffix(name, ".json")
		if err := ValidateID(id); err != nil {
			// Посторонние файлы в каталоге пропускаем
			continue
		}

		d, err := s.Load(id)
		if err != nil {
			return nil, err
		}
		result = append(result, d)
	}

	sort.Slice(result, func(i, j int) bool {
		if !result[i].CreatedAt.Equal(result[j].CreatedAt) {
			return result[i].CreatedAt.After(result[j].CreatedAt)
		}
		return result[i].ID > result[j].ID
	})

	return result, nil
}

// Create сохраняет новый дашборд: выделяет ID, устанавливает version=1
// и пустую историю версий. Возвращает сохранённую конфигурацию
func (s *Store) Create(d *Dashboard) (*Dashboard, error) {
	if d.ID == "" {
		d.ID = s.nextID()
	}
	if err := ValidateID(d.ID); err != nil {
		return nil, err
	}

	lock := s.lockFor(d.ID)
	lock.Lock()
	defer lock.Unlock()

	d.Version = 1
	if d.CreatedAt.IsZero() {
		d.CreatedAt = time.Now().UTC()
	}
	d.PreviousVersions = []VersionSnapshot{}

	if err := s.persist(d); err != nil {
		return nil, err
	}
	return d, nil
}

// nextID выделяет новый ID на основе текущего времени в миллисекундах.
// При коллизии (два создания в одну миллисекунду) сдвигается вперёд
func (s *Store) nextID() string {
	base := time.Now().UnixMilli()
	for {
		id := fmt.Sprintf("dash-%d", base)
		if _, err := os.Stat(s.path(id)); os.IsNotExist(err) {
			return id
		}
		base++
	}
}

// CreateNewVersion атомарно обновляет дашборд: снимок текущего
// состояния добавляется в историю, версия увеличивается, поля
// перезаписываются новыми значениями. Критическая секция на ID:
// два конкурентных обновления одного дашборда не чередуются
func (s *Store) CreateNewVersion(id string, upd VersionUpdate) (*Dashboard, error) {
	if err := ValidateID(id); err != nil {
		return nil, err
	}

	lock := s.lockFor(id)
	lock.Lock()
	defer lock.Unlock()

	d, err := s.Load(id)
	if err != nil {
		return nil, err
	}

	snapshot := VersionSnapshot{
		Version:     d.Version,
		RowCount:    d.RowCount,
		ColumnCount: d.ColumnCount,
		CSVPath:     d.CSVPath,
		CreatedAt:   d.LastModified(),
	}

	d.PreviousVersions = append(d.PreviousVersions, snapshot)
	d.Version++
	d.CSVPath = upd.CSVPath
	d.RowCount = upd.RowCount
	d.ColumnCount = upd.ColumnCount
	d.UpdatedAt = time.Now().UTC()

	if err := s.persist(d); err != nil {
		return nil, err
	}
	return d, nil
}

// Delete удаляет конфигурацию дашборда
func (s *Store) Delete(id string) error {
	if err := ValidateID(id); err != nil {
		return err
	}

	lock := s.lockFor(id)
	lock.Lock()
	defer lock.Unlock()

	if err := os.Remove(s.path(id)); err != nil {
		if os.IsNotExist(err) {
			return fmt.Errorf("%w: %s", ErrNotFound, id)
		}
		return fmt.Errorf("failed to delete dashboard %s: %w", id, err)
	}
	return nil
}

// persist записывает конфигурацию атомарно: временный файл в том же
// каталоге, затем rename. Частично записанный документ невозможен
func (s *Store) persist(d *Dashboard) error {
	if err := os.MkdirAll(s.dir, 0o755); err != nil {
		return fmt.Errorf("failed to create dashboards dir: %w", err)
	}

	data, err := json.MarshalIndent(d, "", "  ")
	if err != nil {
		return fmt.Errorf("failed to marshal dashboard %s: %w", d.ID, err)
	}

	tmp, err := os.CreateTemp(s.dir, d.ID+".*.tmp")
	if err != nil {
		return fmt.Errorf("failed to create temp file: %w", err)
	}
	tmpName := tmp.Name()

	if _, err := tmp.Write(data); err != nil {
		tmp.Close()
		os.Remove(tmpName)
		return fmt.Errorf("failed to write dashboard %s: %w", d.ID, err)
	}
	if err := tmp.Close(); err != nil {
		os.Remove(tmpName)
		return fmt.Errorf("failed to close temp file: %w", err)
	}

	if err := os.Rename(tmpName, s.path(d.ID)); err != nil {
		os.Remove(tmpName)
		return fmt.Errorf("failed to persist dashboard %s: %w", d.ID, err)
	}
	return nil
}
