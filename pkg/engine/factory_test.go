package engine

import (
	"context"
	"errors"
	"testing"

	"github.com/ruslano69/glyte/pkg/core/schema"
)

// fakeEngine - минимальная заглушка для тестов фабрики
type fakeEngine struct {
	connected bool
}

func (f *fakeEngine) Connect(ctx context.Context, cfg Config) error { f.connected = true; return nil }
func (f *fakeEngine) Close(ctx context.Context) error               { return nil }
func (f *fakeEngine) Ping(ctx context.Context) error                { return nil }
func (f *fakeEngine) EngineType() string                            { return "fake" }
func (f *fakeEngine) TableExists(ctx context.Context, name string) (bool, error) {
	return false, nil
}
func (f *fakeEngine) TableNames(ctx context.Context) ([]string, error)                { return nil, nil }
func (f *fakeEngine) TableColumns(ctx context.Context, name string) ([]string, error) { return nil, nil }
func (f *fakeEngine) CreateTable(ctx context.Context, name string, cols []schema.Column) error {
	return nil
}
func (f *fakeEngine) DropTable(ctx context.Context, name string) error           { return nil }
func (f *fakeEngine) RenameTable(ctx context.Context, oldName, n string) error   { return nil }
func (f *fakeEngine) CountRows(ctx context.Context, name string) (int64, error)  { return 0, nil }
func (f *fakeEngine) Query(ctx context.Context, sqlText string) (*Result, error) { return nil, nil }
func (f *fakeEngine) InsertRows(ctx context.Context, name string, cols []schema.Column, rows [][]string) error {
	return nil
}

func TestFactory_RegisterAndCreate(t *testing.T) {
	factory := NewFactory()

	factory.Register("fake", func() Engine { return &fakeEngine{} })

	if !factory.IsRegistered("fake") {
		t.Fatal("expected fake engine to be registered")
	}

	eng, err := factory.Create(context.Background(), Config{Type: "fake"})
	if err != nil {
		t.Fatalf("Create failed: %v", err)
	}

	if eng.EngineType() != "fake" {
		t.Errorf("EngineType = %s, want fake", eng.EngineType())
	}
}

func TestFactory_UnknownType(t *testing.T) {
	factory := NewFactory()

	_, err := factory.Create(context.Background(), Config{Type: "oracle"})
	if err == nil {
		t.Fatal("expected error for unknown engine type")
	}
}

func TestWrapError(t *testing.T) {
	if WrapError("op", nil) != nil {
		t.Error("WrapError(nil) should be nil")
	}

	err := WrapError("op", context.DeadlineExceeded)
	if err == nil {
		t.Fatal("expected wrapped error")
	}
	// Таймаут должен различаться через errors.Is
	if !errors.Is(err, ErrTimeout) {
		t.Errorf("deadline exceeded should map to ErrTimeout, got %v", err)
	}
	if errors.Is(err, ErrEngine) {
		t.Error("timeout should not match ErrEngine")
	}
}
