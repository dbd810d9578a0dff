// Package notify публикует события жизненного цикла дашбордов во
// внешние брокеры сообщений. Поддерживаются Kafka и RabbitMQ.
package notify

import (
	"context"
	"encoding/json"
	"fmt"
	"time"

	"github.com/ruslano69/glyte/pkg/retry"
)

// EventType - тип события жизненного цикла
type EventType string

const (
	EventCreated   EventType = "dashboard.created"
	EventRefreshed EventType = "dashboard.refreshed"
	EventDeleted   EventType = "dashboard.deleted"
)

// Event - событие жизненного цикла дашборда
type Event struct {
	Type        EventType `json:"type"`
	DashboardID string    `json:"dashboardId"`
	TableName   string    `json:"tableName,omitempty"`
	Version     int       `json:"version,omitempty"`
	RowCount    int       `json:"rowCount,omitempty"`
	Timestamp   time.Time `json:"timestamp"`
}

// NewEvent создаёт событие с текущим временем
func NewEvent(eventType EventType, dashboardID string) Event {
	return Event{
		Type:        eventType,
		DashboardID: dashboardID,
		Timestamp:   time.Now().UTC(),
	}
}

// Marshal сериализует событие для отправки
func (e Event) Marshal() ([]byte, error) {
	return json.Marshal(e)
}

// Publisher - интерфейс публикации событий
type Publisher interface {
	// Connect устанавливает соединение с брокером
	Connect(ctx context.Context) error

	// Close закрывает соединение
	Close() error

	// Publish отправляет событие
	Publish(ctx context.Context, event Event) error

	// Ping проверяет доступность брокера
	Ping(ctx context.Context) error

	// PublisherType возвращает тип брокера (kafka, rabbitmq, null)
	PublisherType() string
}

// Config содержит параметры подключения к брокеру
type Config struct {
	Type string `yaml:"type"` // kafka, rabbitmq, none

	// Kafka
	Brokers []string `yaml:"brokers"` // Адреса брокеров (["localhost:9092"])
	Topic   string   `yaml:"topic"`   // Имя топика

	// RabbitMQ
	Host     string `yaml:"host"`
	Port     int    `yaml:"port"`
	User     string `yaml:"user"`
	Password string `yaml:"password"`
	Queue    string `yaml:"queue"`
	VHost    string `yaml:"vhost"`
	UseTLS   bool   `yaml:"use_tls"`
	Durable  bool   `yaml:"durable"`

	// Retry - повторы доставки с DLQ (MaxAttempts <= 1 = без повторов)
	Retry retry.Config `yaml:"retry"`
}

// New создаёт Publisher по конфигурации. Тип "none" или пустой -
// публикация выключена, события отбрасываются
func New(cfg Config) (Publisher, error) {
	var (
		pub Publisher
		err error
	)
	switch cfg.Type {
	case "", "none":
		return NewNullPublisher(), nil
	case "kafka":
		pub, err = NewKafka(cfg)
	case "rabbitmq":
		pub, err = NewRabbitMQ(cfg)
	default:
		return nil, fmt.Errorf("unsupported notify type: %s (supported: kafka, rabbitmq, none)", cfg.Type)
	}
	if err != nil {
		return nil, err
	}

	if cfg.Retry.MaxAttempts > 1 || cfg.Retry.DLQPath != "" {
		return NewReliablePublisher(pub, cfg.Retry)
	}
	return pub, nil
}

// NullPublisher отбрасывает события
type NullPublisher struct{}

func NewNullPublisher() *NullPublisher { return &NullPublisher{} }

func (NullPublisher) Connect(ctx context.Context) error              { return nil }
func (NullPublisher) Close() error                                   { return nil }
func (NullPublisher) Publish(ctx context.Context, event Event) error { return nil }
func (NullPublisher) Ping(ctx context.Context) error                 { return nil }
func (NullPublisher) PublisherType() string                          { return "null" }
