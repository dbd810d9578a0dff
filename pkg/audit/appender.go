package audit

import (
	"bufio"
	"context"
	"fmt"
	"os"
	"path/filepath"
	"sync"
)

// Appender - приёмник записей журнала
type Appender interface {
	Append(ctx context.Context, entry *Entry) error
	Flush() error
	Close() error
}

// FileAppender пишет записи в JSONL файл, по одной записи на строку
type FileAppender struct {
	mu     sync.Mutex
	file   *os.File
	writer *bufio.Writer
}

// NewFileAppender открывает файл журнала в режиме дозаписи
func NewFileAppender(path string) (*FileAppender, error) {
	if err := os.MkdirAll(filepath.Dir(path), 0o755); err != nil {
		return nil, fmt.Errorf("failed to create audit dir: %w", err)
	}

	f, err := os.OpenFile(path, os.O_CREATE|os.O_WRONLY|os.O_APPEND, 0o644)
	if err != nil {
		return nil, fmt.Errorf("failed to open audit log: %w", err)
	}

	return &FileAppender{
		file:   f,
		writer: bufio.NewWriter(f),
	}, nil
}

// Append сериализует запись и дописывает её в файл
func (a *FileAppender) Append(ctx context.Context, entry *Entry) error {
	data, err := entry.ToJSON()
	if err != nil {
		return fmt.Errorf("failed to marshal audit entry: %w", err)
	}

	a.mu.Lock()
	defer a.mu.Unlock()

	if _, err := a.writer.Write(data); err != nil {
		return fmt.Errorf("failed to write audit entry: %w", err)
	}
	if err := a.writer.WriteByte('\n'); err != nil {
		return fmt.Errorf("failed to write audit entry: %w", err)
	}
	return nil
}

// Flush сбрасывает буфер на диск
func (a *FileAppender) Flush() error {
	a.mu.Lock()
	defer a.mu.Unlock()
	return a.writer.Flush()
}

// Close сбрасывает буфер и закрывает файл
func (a *FileAppender) Close() error {
	a.mu.Lock()
	defer a.mu.Unlock()

	if err := a.writer.Flush(); err != nil {
		a.file.Close()
		return err
	}
	return a.file.Close()
}
