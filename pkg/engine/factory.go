package engine

import (
	"context"
	"fmt"
	"sync"
)

// Constructor - функция-конструктор движка.
// Возвращает новый экземпляр (еще не подключенный).
type Constructor func() Engine

// Factory - фабрика движков запросов.
// Управляет регистрацией и созданием движков различных типов.
type Factory struct {
	registry map[string]Constructor
	mu       sync.RWMutex
}

// NewFactory создает новую фабрику
func NewFactory() *Factory {
	return &Factory{
		registry: make(map[string]Constructor),
	}
}

// Register регистрирует конструктор движка для типа
func (f *Factory) Register(engineType string, constructor Constructor) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.registry[engineType] = constructor
}

// IsRegistered проверяет зарегистрирован ли тип
func (f *Factory) IsRegistered(engineType string) bool {
	f.mu.RLock()
	defer f.mu.RUnlock()
	_, ok := f.registry[engineType]
	return ok
}

// RegisteredTypes возвращает список всех зарегистрированных типов
func (f *Factory) RegisteredTypes() []string {
	f.mu.RLock()
	defer f.mu.RUnlock()

	types := make([]string, 0, len(f.registry))
	for t := range f.registry {
		types = append(types, t)
	}
	return types
}

// Create создает и подключает движок по конфигурации
func (f *Factory) Create(ctx context.Context, cfg Config) (Engine, error) {
	f.mu.RLock()
	constructor, ok := f.registry[cfg.Type]
	f.mu.RUnlock()

	if !ok {
		return nil, fmt.Errorf("unknown engine type: %s (available: %v)",
			cfg.Type, f.RegisteredTypes())
	}

	eng := constructor()
	if err := eng.Connect(ctx, cfg); err != nil {
		return nil, fmt.Errorf("failed to connect to %s: %w", cfg.Type, err)
	}

	return eng, nil
}

// ========== Global Factory ==========

var globalFactory = NewFactory()

// Register регистрирует движок в глобальной фабрике.
// Вызывается в init() функциях драйверов:
//
//	func init() {
//	    engine.Register("sqlite", func() engine.Engine {
//	        return &Engine{}
//	    })
//	}
func Register(engineType string, constructor Constructor) {
	globalFactory.Register(engineType, constructor)
}

// IsRegistered проверяет регистрацию в глобальной фабрике
func IsRegistered(engineType string) bool {
	return globalFactory.IsRegistered(engineType)
}

// RegisteredTypes возвращает типы из глобальной фабрики
func RegisteredTypes() []string {
	return globalFactory.RegisteredTypes()
}

// New создает движок через глобальную фабрику.
// Основной способ создания движка в приложении:
//
//	eng, err := engine.New(ctx, engine.Config{
//	    Type: "duckdb",
//	    DSN:  "data/glyte.duckdb",
//	})
func New(ctx context.Context, cfg Config) (Engine, error) {
	return globalFactory.Create(ctx, cfg)
}
