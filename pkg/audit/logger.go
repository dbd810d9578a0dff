package audit

import (
	"context"
	"fmt"
	"sync"
	"time"
)

// Logger - интерфейс журнала операций
type Logger interface {
	Log(ctx context.Context, entry *Entry) error
	LogSuccess(ctx context.Context, operation Operation) *Entry
	LogFailure(ctx context.Context, operation Operation, err error) *Entry
	Flush() error
	Close() error
}

// AuditLogger пишет записи в appenders, опционально асинхронно
type AuditLogger struct {
	appenders []Appender

	asyncMode bool
	entries   chan *Entry
	wg        sync.WaitGroup
	ctx       context.Context
	cancel    context.CancelFunc

	// OnError вызывается при сбое записи (асинхронный режим
	// теряет ошибку иначе)
	onError func(error)
}

// LoggerConfig - конфигурация журнала
type LoggerConfig struct {
	// AsyncMode - запись через буферизованный канал
	AsyncMode bool

	// BufferSize - размер канала для асинхронного режима
	BufferSize int

	// OnError - обработчик ошибок записи
	OnError func(error)
}

// NewLogger создаёт журнал поверх appenders
func NewLogger(cfg LoggerConfig, appenders ...Appender) *AuditLogger {
	ctx, cancel := context.WithCancel(context.Background())

	l := &AuditLogger{
		appenders: appenders,
		asyncMode: cfg.AsyncMode,
		ctx:       ctx,
		cancel:    cancel,
		onError:   cfg.OnError,
	}

	if l.asyncMode {
		size := cfg.BufferSize
		if size <= 0 {
			size = 1000
		}
		l.entries = make(chan *Entry, size)
		l.wg.Add(1)
		go l.processEntries()
	}

	return l
}

// Log записывает entry. В асинхронном режиме при переполнении буфера
// запись выполняется синхронно, записи не теряются
func (l *AuditLogger) Log(ctx context.Context, entry *Entry) error {
	if entry == nil {
		return fmt.Errorf("entry is nil")
	}
	if entry.Timestamp.IsZero() {
		entry.Timestamp = time.Now().UTC()
	}

	if l.asyncMode {
		select {
		case l.entries <- entry:
			return nil
		case <-l.ctx.Done():
			return fmt.Errorf("audit logger is closed")
		default:
			return l.writeEntry(ctx, entry)
		}
	}

	return l.writeEntry(ctx, entry)
}

// LogSuccess записывает успешную операцию
func (l *AuditLogger) LogSuccess(ctx context.Context, operation Operation) *Entry {
	entry := NewEntry(operation, StatusSuccess)
	if err := l.Log(ctx, entry); err != nil {
		l.handleError(err)
	}
	return entry
}

// LogFailure записывает неудачную операцию
func (l *AuditLogger) LogFailure(ctx context.Context, operation Operation, err error) *Entry {
	entry := NewEntry(operation, StatusFailure).WithError(err)
	if logErr := l.Log(ctx, entry); logErr != nil {
		l.handleError(logErr)
	}
	return entry
}

func (l *AuditLogger) writeEntry(ctx context.Context, entry *Entry) error {
	var firstErr error
	for _, a := range l.appenders {
		if err := a.Append(ctx, entry); err != nil {
			if firstErr == nil {
				firstErr = err
			}
			l.handleError(fmt.Errorf("appender failed: %w", err))
		}
	}
	return firstErr
}

func (l *AuditLogger) processEntries() {
	defer l.wg.Done()

	for {
		select {
		case entry := <-l.entries:
			if err := l.writeEntry(context.Background(), entry); err != nil {
				l.handleError(err)
			}
		case <-l.ctx.Done():
			// Дописываем накопившиеся записи
			for {
				select {
				case entry := <-l.entries:
					l.writeEntry(context.Background(), entry)
				default:
					return
				}
			}
		}
	}
}

// Flush сбрасывает буферы всех appenders
func (l *AuditLogger) Flush() error {
	var firstErr error
	for _, a := range l.appenders {
		if err := a.Flush(); err != nil && firstErr == nil {
			firstErr = err
		}
	}
	return firstErr
}

// Close останавливает приём записей, дожидается обработки и закрывает
// appenders
func (l *AuditLogger) Close() error {
	l.cancel()
	l.wg.Wait()

	var firstErr error
	for _, a := range l.appenders {
		if err := a.Close(); err != nil && firstErr == nil {
			firstErr = err
		}
	}
	return firstErr
}

func (l *AuditLogger) handleError(err error) {
	if l.onError != nil {
		l.onError(err)
	}
}

// NullLogger отбрасывает все записи. Используется в тестах и когда
// аудит выключен конфигурацией
type NullLogger struct{}

func NewNullLogger() *NullLogger { return &NullLogger{} }

func (NullLogger) Log(ctx context.Context, entry *Entry) error { return nil }

func (NullLogger) LogSuccess(ctx context.Context, operation Operation) *Entry {
	return NewEntry(operation, StatusSuccess)
}

func (NullLogger) LogFailure(ctx context.Context, operation Operation, err error) *Entry {
	return NewEntry(operation, StatusFailure).WithError(err)
}

func (NullLogger) Flush() error { return nil }

func (NullLogger) Close() error { return nil }
