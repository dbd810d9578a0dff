// Package resultlog публикует итоги выполнения запросов к дашбордам
// в Redis: последнее состояние для опроса и событие для подписчиков.
package resultlog

import (
	"context"
	"encoding/json"
	"fmt"
	"time"

	"github.com/redis/go-redis/v9"
)

// Config содержит параметры подключения к Redis
type Config struct {
	// Enabled - публикация включена
	Enabled bool `yaml:"enabled"`

	// Address - адрес Redis ("localhost:6379")
	Address string `yaml:"address"`

	// Password - пароль (пустая строка = без аутентификации)
	Password string `yaml:"password"`

	// DB - номер базы
	DB int `yaml:"db"`

	// TTL - время жизни ключа состояния в секундах
	TTL int `yaml:"ttl"`
}

// QueryResult представляет итог выполнения запроса, публикуемый в
// Redis после завершения (успешного или с отказом).
//
// Redis-ключи:
//
//	SET  glyte:dashboard:<id>:lastquery  <JSON>  EX <ttl>  — последнее состояние
//	PUB  glyte:queries                                      — поток событий
type QueryResult struct {
	DashboardID string    `json:"dashboard_id"`
	Status      string    `json:"status"` // "success" | "rejected" | "failed"
	RowCount    int       `json:"row_count"`
	DurationMs  int64     `json:"duration_ms"`
	FinishedAt  time.Time `json:"finished_at"`
	Error       *string   `json:"error,omitempty"`
}

// RedisPublisher публикует итоги запросов в Redis
type RedisPublisher struct {
	client *redis.Client
	config Config
}

// NewRedisPublisher создаёт publisher на основе конфигурации
func NewRedisPublisher(config Config) *RedisPublisher {
	client := redis.NewClient(&redis.Options{
		Addr:     config.Address,
		Password: config.Password,
		DB:       config.DB,
	})
	return &RedisPublisher{client: client, config: config}
}

// Publish публикует итог запроса:
//   - SET glyte:dashboard:<id>:lastquery <JSON> EX <ttl>  → для опроса
//   - PUBLISH glyte:queries <JSON>                        → для подписки
//
// Вызывается независимо от исхода; execErr == nil означает успех
func (p *RedisPublisher) Publish(ctx context.Context, dashboardID string, rowCount int, duration time.Duration, execErr error) error {
	result := QueryResult{
		DashboardID: dashboardID,
		RowCount:    rowCount,
		DurationMs:  duration.Milliseconds(),
		FinishedAt:  time.Now().UTC(),
	}

	if execErr != nil {
		result.Status = "failed"
		errStr := execErr.Error()
		result.Error = &errStr
	} else {
		result.Status = "success"
	}

	payload, err := json.Marshal(result)
	if err != nil {
		return fmt.Errorf("failed to marshal result: %w", err)
	}

	stateKey := fmt.Sprintf("glyte:dashboard:%s:lastquery", dashboardID)
	ttl := time.Duration(p.config.TTL) * time.Second

	if err := p.client.Set(ctx, stateKey, payload, ttl).Err(); err != nil {
		return fmt.Errorf("redis SET failed: %w", err)
	}

	if err := p.client.Publish(ctx, "glyte:queries", payload).Err(); err != nil {
		return fmt.Errorf("redis PUBLISH failed: %w", err)
	}

	return nil
}

// Last возвращает итог последнего запроса к дашборду.
// redis.Nil если запросов ещё не было или состояние истекло
func (p *RedisPublisher) Last(ctx context.Context, dashboardID string) (*QueryResult, error) {
	stateKey := fmt.Sprintf("glyte:dashboard:%s:lastquery", dashboardID)

	data, err := p.client.Get(ctx, stateKey).Bytes()
	if err != nil {
		return nil, err
	}

	var result QueryResult
	if err := json.Unmarshal(data, &result); err != nil {
		return nil, fmt.Errorf("failed to parse stored result: %w", err)
	}
	return &result, nil
}

// Ping проверяет доступность Redis
func (p *RedisPublisher) Ping(ctx context.Context) error {
	return p.client.Ping(ctx).Err()
}

// Close закрывает соединение с Redis
func (p *RedisPublisher) Close() error {
	return p.client.Close()
}
