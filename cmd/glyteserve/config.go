package main

import (
	"fmt"
	"os"
	"time"

	"gopkg.in/yaml.v3"

	"github.com/ruslano69/glyte/pkg/archive"
	"github.com/ruslano69/glyte/pkg/notify"
	"github.com/ruslano69/glyte/pkg/resultlog"
)

// ServeConfig — конфигурация glyteserve
type ServeConfig struct {
	Server    ServerSection    `yaml:"server"`
	Data      DataSection      `yaml:"data"`
	Engine    EngineSection    `yaml:"engine"`
	Query     QuerySection     `yaml:"query"`
	Sandbox   SandboxSection   `yaml:"sandbox"`
	Audit     AuditSection     `yaml:"audit"`
	Notify    notify.Config    `yaml:"notify"`
	ResultLog resultlog.Config `yaml:"resultlog"`
	Archive   archive.Config   `yaml:"archive"`
}

// ServerSection — параметры HTTP сервера
type ServerSection struct {
	Addr         string        `yaml:"addr"` // по умолчанию :8080
	ReadTimeout  time.Duration `yaml:"read_timeout"`
	WriteTimeout time.Duration `yaml:"write_timeout"`
}

// DataSection — каталоги для загрузок и дескрипторов дашбордов
type DataSection struct {
	UploadsDir    string `yaml:"uploads_dir"`
	DashboardsDir string `yaml:"dashboards_dir"`

	// UploadTTL - срок жизни неподтвержденной загрузки (0 = без уборки)
	UploadTTL time.Duration `yaml:"upload_ttl"`
}

// EngineSection — подключение к колоночному движку
type EngineSection struct {
	Type     string        `yaml:"type"` // duckdb, sqlite, postgres
	DSN      string        `yaml:"dsn"`
	Timeout  time.Duration `yaml:"timeout"`
	MaxConns int           `yaml:"max_conns"`
}

// QuerySection — ограничения sandbox запросов
type QuerySection struct {
	Timeout time.Duration `yaml:"timeout"`
	RowCap  int           `yaml:"row_cap"`
}

// SandboxSection — переопределение denylist
type SandboxSection struct {
	BlockedKeywords  []string `yaml:"blocked_keywords"`
	BlockedFunctions []string `yaml:"blocked_functions"`
}

// AuditSection — JSONL журнал операций
type AuditSection struct {
	Enabled    bool   `yaml:"enabled"`
	Path       string `yaml:"path"`
	Async      bool   `yaml:"async"`
	BufferSize int    `yaml:"buffer_size"`
}

// loadConfig читает и валидирует YAML конфиг
func loadConfig(path string) (*ServeConfig, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("failed to read %q: %w", path, err)
	}

	var cfg ServeConfig
	if err := yaml.Unmarshal(data, &cfg); err != nil {
		return nil, fmt.Errorf("failed to parse YAML: %w", err)
	}

	if cfg.Engine.Type == "" {
		cfg.Engine.Type = "duckdb"
	}
	if cfg.Engine.DSN == "" && cfg.Engine.Type == "postgres" {
		return nil, fmt.Errorf("engine: dsn is required for type %q", cfg.Engine.Type)
	}
	if cfg.Server.Addr == "" {
		cfg.Server.Addr = ":8080"
	}
	if cfg.Server.ReadTimeout == 0 {
		cfg.Server.ReadTimeout = 30 * time.Second
	}
	if cfg.Server.WriteTimeout == 0 {
		cfg.Server.WriteTimeout = 120 * time.Second
	}
	if cfg.Data.UploadsDir == "" {
		cfg.Data.UploadsDir = "data/uploads"
	}
	if cfg.Data.DashboardsDir == "" {
		cfg.Data.DashboardsDir = "data/dashboards"
	}
	if cfg.Audit.Enabled && cfg.Audit.Path == "" {
		return nil, fmt.Errorf("audit: path is required when enabled")
	}
	if cfg.ResultLog.Enabled && cfg.ResultLog.Address == "" {
		return nil, fmt.Errorf("resultlog: address is required when enabled")
	}
	if cfg.Archive.Enabled && cfg.Archive.Dir == "" {
		return nil, fmt.Errorf("archive: dir is required when enabled")
	}

	return &cfg, nil
}
