// Package archive сохраняет исходные файлы вытесненных версий
// дашбордов: сжимает zstd в локальный каталог и опционально выгружает
// в S3.
package archive

import (
	"context"
	"fmt"
	"io"
	"os"
	"path/filepath"

	"github.com/aws/aws-sdk-go-v2/aws"
	awsconfig "github.com/aws/aws-sdk-go-v2/config"
	"github.com/aws/aws-sdk-go-v2/feature/s3/manager"
	"github.com/aws/aws-sdk-go-v2/service/s3"
	"github.com/klauspost/compress/zstd"
)

// S3Config - параметры выгрузки архивов в S3
type S3Config struct {
	Enabled bool   `yaml:"enabled"`
	Bucket  string `yaml:"bucket"`
	Prefix  string `yaml:"prefix"`
	Region  string `yaml:"region"`
}

// Config - конфигурация архиватора
type Config struct {
	// Enabled - архивация включена
	Enabled bool `yaml:"enabled"`

	// Dir - локальный каталог архивов (data/archive)
	Dir string `yaml:"dir"`

	// Level - уровень сжатия zstd (1..4, 0 = по умолчанию)
	Level int `yaml:"level"`

	S3 S3Config `yaml:"s3"`
}

// Archiver сжимает и сохраняет исходники версий
type Archiver struct {
	dir      string
	level    zstd.EncoderLevel
	uploader *manager.Uploader
	bucket   string
	prefix   string
}

// New создаёт архиватор. При включённом S3 загружается стандартная
// цепочка AWS credentials
func New(ctx context.Context, cfg Config) (*Archiver, error) {
	a := &Archiver{
		dir:   cfg.Dir,
		level: zstd.SpeedDefault,
	}
	if cfg.Level > 0 {
		a.level = zstd.EncoderLevelFromZstd(cfg.Level)
	}

	if cfg.S3.Enabled {
		if cfg.S3.Bucket == "" {
			return nil, fmt.Errorf("s3 bucket is required when s3 archival is enabled")
		}
		awsCfg, err := awsconfig.LoadDefaultConfig(ctx, awsconfig.WithRegion(cfg.S3.Region))
		if err != nil {
			return nil, fmt.Errorf("failed to load aws config: %w", err)
		}
		a.uploader = manager.NewUploader(s3.NewFromConfig(awsCfg))
		a.bucket = cfg.S3.Bucket
		a.prefix = cfg.S3.Prefix
	}

	return a, nil
}

// ArchiveVersion сжимает исходный файл версии в
// <dir>/<dashboardID>/v<version>.csv.zst и выгружает в S3, если
// настроено. Возвращает локальный путь архива
func (a *Archiver) ArchiveVersion(ctx context.Context, dashboardID string, version int, srcPath string) (string, error) {
	destDir := filepath.Join(a.dir, dashboardID)
	if err := os.MkdirAll(destDir, 0o755); err != nil {
		return "", fmt.Errorf("failed to create archive dir: %w", err)
	}

	destPath := filepath.Join(destDir, fmt.Sprintf("v%d.csv.zst", version))
	if err := a.compress(srcPath, destPath); err != nil {
		return "", err
	}

	if a.uploader != nil {
		if err := a.upload(ctx, dashboardID, version, destPath); err != nil {
			return "", err
		}
	}

	return destPath, nil
}

func (a *Archiver) compress(srcPath, destPath string) error {
	src, err := os.Open(srcPath)
	if err != nil {
		return fmt.Errorf("failed to open source file: %w", err)
	}
	defer src.Close()

	dest, err := os.Create(destPath)
	if err != nil {
		return fmt.Errorf("failed to create archive file: %w", err)
	}

	enc, err := zstd.NewWriter(dest, zstd.WithEncoderLevel(a.level))
	if err != nil {
		dest.Close()
		return fmt.Errorf("failed to create zstd encoder: %w", err)
	}

	if _, err := io.Copy(enc, src); err != nil {
		enc.Close()
		dest.Close()
		os.Remove(destPath)
		return fmt.Errorf("failed to compress %s: %w", filepath.Base(srcPath), err)
	}
	if err := enc.Close(); err != nil {
		dest.Close()
		os.Remove(destPath)
		return fmt.Errorf("failed to finalize archive: %w", err)
	}
	return dest.Close()
}

func (a *Archiver) upload(ctx context.Context, dashboardID string, version int, path string) error {
	f, err := os.Open(path)
	if err != nil {
		return fmt.Errorf("failed to open archive for upload: %w", err)
	}
	defer f.Close()

	key := fmt.Sprintf("%s/v%d.csv.zst", dashboardID, version)
	if a.prefix != "" {
		key = a.prefix + "/" + key
	}

	_, err = a.uploader.Upload(ctx, &s3.PutObjectInput{
		Bucket: aws.String(a.bucket),
		Key:    aws.String(key),
		Body:   f,
	})
	if err != nil {
		return fmt.Errorf("failed to upload archive to s3: %w", err)
	}
	return nil
}

// Open возвращает reader разархивированного содержимого версии
func (a *Archiver) Open(dashboardID string, version int) (io.ReadCloser, error) {
	path := filepath.Join(a.dir, dashboardID, fmt.Sprintf("v%d.csv.zst", version))

	f, err := os.Open(path)
	if err != nil {
		return nil, fmt.Errorf("failed to open archive: %w", err)
	}

	dec, err := zstd.NewReader(f)
	if err != nil {
		f.Close()
		return nil, fmt.Errorf("failed to create zstd decoder: %w", err)
	}

	return &decodedReader{dec: dec, file: f}, nil
}

type decodedReader struct {
	dec  *zstd.Decoder
	file *os.File
}

func (r *decodedReader) Read(p []byte) (int, error) {
	return r.dec.Read(p)
}

func (r *decodedReader) Close() error {
	r.dec.Close()
	return r.file.Close()
}
