package retry

import (
	"bufio"
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"sync"
	"time"
)

// Entry - недоставленный payload в DLQ файле (JSONL)
type Entry struct {
	Timestamp time.Time       `json:"timestamp"`
	Kind      string          `json:"kind"`
	Attempts  int             `json:"attempts"`
	LastError string          `json:"lastError"`
	Payload   json.RawMessage `json:"payload,omitempty"`
}

// DLQ - append-only очередь недоставленных payload
type DLQ struct {
	mu   sync.Mutex
	path string
}

// OpenDLQ создаёт каталог и проверяет что файл доступен на запись
func OpenDLQ(path string) (*DLQ, error) {
	if err := os.MkdirAll(filepath.Dir(path), 0o755); err != nil {
		return nil, fmt.Errorf("failed to create DLQ dir: %w", err)
	}
	f, err := os.OpenFile(path, os.O_CREATE|os.O_WRONLY|os.O_APPEND, 0o644)
	if err != nil {
		return nil, fmt.Errorf("failed to open DLQ file: %w", err)
	}
	f.Close()
	return &DLQ{path: path}, nil
}

// Add дописывает запись в конец файла
func (d *DLQ) Add(kind string, payload []byte, attempts int, lastErr error) error {
	entry := Entry{
		Timestamp: time.Now().UTC(),
		Kind:      kind,
		Attempts:  attempts,
		Payload:   payload,
	}
	if lastErr != nil {
		entry.LastError = lastErr.Error()
	}

	data, err := json.Marshal(entry)
	if err != nil {
		return fmt.Errorf("failed to marshal DLQ entry: %w", err)
	}

	d.mu.Lock()
	defer d.mu.Unlock()

	f, err := os.OpenFile(d.path, os.O_CREATE|os.O_WRONLY|os.O_APPEND, 0o644)
	if err != nil {
		return fmt.Errorf("failed to open DLQ file: %w", err)
	}
	defer f.Close()

	if _, err := f.Write(append(data, '\n')); err != nil {
		return fmt.Errorf("failed to write DLQ entry: %w", err)
	}
	return nil
}

// Entries читает все записи из файла
func (d *DLQ) Entries() ([]Entry, error) {
	d.mu.Lock()
	defer d.mu.Unlock()

	f, err := os.Open(d.path)
	if err != nil {
		if os.IsNotExist(err) {
			return nil, nil
		}
		return nil, fmt.Errorf("failed to open DLQ file: %w", err)
	}
	defer f.Close()

	var entries []Entry
	scanner := bufio.NewScanner(f)
	scanner.Buffer(make([]byte, 0, 64*1024), 4*1024*1024)
	for scanner.Scan() {
		line := scanner.Bytes()
		if len(line) == 0 {
			continue
		}
		var e Entry
		if err := json.Unmarshal(line, &e); err != nil {
			// повреждённая строка не должна прятать остальные
			continue
		}
		entries = append(entries, e)
	}
	if err := scanner.Err(); err != nil {
		return nil, fmt.Errorf("failed to read DLQ file: %w", err)
	}
	return entries, nil
}
