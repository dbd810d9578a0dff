package notify

import (
	"context"

	"github.com/ruslano69/glyte/pkg/retry"
)

// ReliablePublisher оборачивает Publisher повторами с backoff.
// Событие, не доставленное после всех попыток, уходит в DLQ файл.
type ReliablePublisher struct {
	inner   Publisher
	retryer *retry.Retryer
}

// NewReliablePublisher создаёт обёртку поверх брокера
func NewReliablePublisher(inner Publisher, cfg retry.Config) (*ReliablePublisher, error) {
	r, err := retry.New(cfg)
	if err != nil {
		return nil, err
	}
	return &ReliablePublisher{inner: inner, retryer: r}, nil
}

// Connect устанавливает соединение нижележащего publisher
func (p *ReliablePublisher) Connect(ctx context.Context) error {
	return p.inner.Connect(ctx)
}

// Close закрывает нижележащий publisher
func (p *ReliablePublisher) Close() error {
	return p.inner.Close()
}

// Publish отправляет событие с повторами, payload сохраняется в DLQ
// при исчерпании попыток
func (p *ReliablePublisher) Publish(ctx context.Context, event Event) error {
	payload, err := event.Marshal()
	if err != nil {
		return err
	}
	return p.retryer.Do(ctx, string(event.Type), payload, func(ctx context.Context) error {
		return p.inner.Publish(ctx, event)
	})
}

// Ping проверяет доступность нижележащего брокера
func (p *ReliablePublisher) Ping(ctx context.Context) error {
	return p.inner.Ping(ctx)
}

// PublisherType возвращает тип нижележащего publisher
func (p *ReliablePublisher) PublisherType() string {
	return p.inner.PublisherType()
}
