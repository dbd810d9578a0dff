// Package retry повторяет доставку с экспоненциальной задержкой.
// Недоставленные payload складываются в DLQ файл для ручного разбора.
package retry

import (
	"context"
	"fmt"
	"math"
	"math/rand"
	"time"
)

// Strategy определяет рост задержки между попытками
type Strategy string

const (
	// StrategyConstant - постоянная задержка
	StrategyConstant Strategy = "constant"
	// StrategyExponential - удвоение задержки (по умолчанию)
	StrategyExponential Strategy = "exponential"
)

// Config - параметры повторов
type Config struct {
	// MaxAttempts - максимум попыток включая первую (0 = одна попытка)
	MaxAttempts int `yaml:"max_attempts"`

	// InitialDelay - задержка перед вторым заходом
	InitialDelay time.Duration `yaml:"initial_delay"`

	// MaxDelay - потолок задержки
	MaxDelay time.Duration `yaml:"max_delay"`

	// Strategy - constant или exponential
	Strategy Strategy `yaml:"strategy"`

	// Jitter - доля случайного разброса задержки (0.0 - 1.0)
	Jitter float64 `yaml:"jitter"`

	// DLQPath - файл очереди недоставленных payload
	// (пустая строка = без DLQ)
	DLQPath string `yaml:"dlq_path"`
}

// withDefaults заполняет нулевые поля
func (c Config) withDefaults() Config {
	if c.MaxAttempts <= 0 {
		c.MaxAttempts = 1
	}
	if c.InitialDelay <= 0 {
		c.InitialDelay = 500 * time.Millisecond
	}
	if c.MaxDelay <= 0 {
		c.MaxDelay = 30 * time.Second
	}
	if c.Strategy == "" {
		c.Strategy = StrategyExponential
	}
	if c.Jitter < 0 || c.Jitter > 1 {
		c.Jitter = 0
	}
	return c
}

// Retryer выполняет операцию до успеха или исчерпания попыток
type Retryer struct {
	cfg Config
	dlq *DLQ
}

// New создаёт Retryer, открывая DLQ если путь задан
func New(cfg Config) (*Retryer, error) {
	cfg = cfg.withDefaults()

	r := &Retryer{cfg: cfg}
	if cfg.DLQPath != "" {
		dlq, err := OpenDLQ(cfg.DLQPath)
		if err != nil {
			return nil, fmt.Errorf("failed to open DLQ: %w", err)
		}
		r.dlq = dlq
	}
	return r, nil
}

// Do выполняет fn с повторами. payload описывает доставляемые данные:
// при исчерпании попыток он уходит в DLQ вместе с последней ошибкой.
func (r *Retryer) Do(ctx context.Context, kind string, payload []byte, fn func(ctx context.Context) error) error {
	var lastErr error

	for attempt := 1; attempt <= r.cfg.MaxAttempts; attempt++ {
		lastErr = fn(ctx)
		if lastErr == nil {
			return nil
		}

		if attempt == r.cfg.MaxAttempts {
			break
		}
		if ctx.Err() != nil {
			lastErr = ctx.Err()
			break
		}

		select {
		case <-time.After(r.delay(attempt)):
		case <-ctx.Done():
			lastErr = ctx.Err()
			attempt = r.cfg.MaxAttempts
		}
	}

	if r.dlq != nil {
		if dlqErr := r.dlq.Add(kind, payload, r.cfg.MaxAttempts, lastErr); dlqErr != nil {
			return fmt.Errorf("delivery failed (%w), DLQ write failed: %v", lastErr, dlqErr)
		}
	}
	return fmt.Errorf("delivery failed after %d attempts: %w", r.cfg.MaxAttempts, lastErr)
}

// delay вычисляет паузу перед попыткой attempt+1
func (r *Retryer) delay(attempt int) time.Duration {
	d := r.cfg.InitialDelay
	if r.cfg.Strategy == StrategyExponential {
		d = time.Duration(float64(r.cfg.InitialDelay) * math.Pow(2, float64(attempt-1)))
	}
	if d > r.cfg.MaxDelay {
		d = r.cfg.MaxDelay
	}
	if r.cfg.Jitter > 0 {
		// разброс в обе стороны, чтобы повторные попытки не шли волной
		spread := float64(d) * r.cfg.Jitter
		d += time.Duration((rand.Float64()*2 - 1) * spread)
		if d < 0 {
			d = 0
		}
	}
	return d
}

// DLQ возвращает очередь недоставленных payload (nil если отключена)
func (r *Retryer) DLQ() *DLQ {
	return r.dlq
}
