// glyteserve — dashboard ingestion and query sandbox service.
//
// Usage:
//
//	glyteserve --config configs/glyte.yaml [--addr :8080]
//
// Flags:
//
//	--config  Path to YAML config file (default: configs/glyte.yaml)
//	--addr    Override server.addr from config
package main

import (
	"context"
	"flag"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/rs/zerolog"
	"github.com/rs/zerolog/log"

	"github.com/ruslano69/glyte/internal/api"
	"github.com/ruslano69/glyte/pkg/archive"
	"github.com/ruslano69/glyte/pkg/audit"
	"github.com/ruslano69/glyte/pkg/dashboard"
	"github.com/ruslano69/glyte/pkg/engine"
	"github.com/ruslano69/glyte/pkg/notify"
	"github.com/ruslano69/glyte/pkg/resultlog"
	"github.com/ruslano69/glyte/pkg/sandbox"
	"github.com/ruslano69/glyte/pkg/store"

	// Engine registrations — подключить достаточно, остальное уже написано
	_ "github.com/ruslano69/glyte/pkg/engine/duckdb"
	_ "github.com/ruslano69/glyte/pkg/engine/postgres"
	_ "github.com/ruslano69/glyte/pkg/engine/sqlite"
)

func main() {
	configPath := flag.String("config", "configs/glyte.yaml", "path to config file")
	addrOverride := flag.String("addr", "", "listen address override (e.g. :8080)")
	flag.Parse()

	// Pretty console log; switch to JSON in production via log.Logger = zerolog.New(os.Stderr)
	log.Logger = log.Output(zerolog.ConsoleWriter{Out: os.Stderr, TimeFormat: time.RFC3339})

	cfg, err := loadConfig(*configPath)
	if err != nil {
		log.Fatal().Err(err).Str("config", *configPath).Msg("config load failed")
	}
	if *addrOverride != "" {
		cfg.Server.Addr = *addrOverride
	}

	ctx := context.Background()

	eng, err := engine.New(ctx, engine.Config{
		Type:     cfg.Engine.Type,
		DSN:      cfg.Engine.DSN,
		Timeout:  cfg.Engine.Timeout,
		MaxConns: cfg.Engine.MaxConns,
	})
	if err != nil {
		log.Fatal().Err(err).Str("engine", cfg.Engine.Type).Msg("engine connect failed")
	}
	defer eng.Close(ctx)

	st := store.New(cfg.Data.DashboardsDir)
	sb := sandbox.NewWithConfig(sandbox.Config{
		BlockedKeywords:  cfg.Sandbox.BlockedKeywords,
		BlockedFunctions: cfg.Sandbox.BlockedFunctions,
	})

	opts := dashboard.Options{
		UploadsDir:   cfg.Data.UploadsDir,
		QueryTimeout: cfg.Query.Timeout,
		RowCap:       cfg.Query.RowCap,
		Logger:       log.Logger,
	}

	if cfg.Audit.Enabled {
		appender, err := audit.NewFileAppender(cfg.Audit.Path)
		if err != nil {
			log.Fatal().Err(err).Str("path", cfg.Audit.Path).Msg("audit log open failed")
		}
		auditLog := audit.NewLogger(audit.LoggerConfig{
			AsyncMode:  cfg.Audit.Async,
			BufferSize: cfg.Audit.BufferSize,
			OnError: func(err error) {
				log.Warn().Err(err).Msg("audit write failed")
			},
		}, appender)
		defer auditLog.Close()
		opts.Audit = auditLog
	}

	notifier, err := notify.New(cfg.Notify)
	if err != nil {
		log.Fatal().Err(err).Str("type", cfg.Notify.Type).Msg("notifier init failed")
	}
	if err := notifier.Connect(ctx); err != nil {
		log.Fatal().Err(err).Str("type", cfg.Notify.Type).Msg("notifier connect failed")
	}
	defer notifier.Close()
	opts.Notifier = notifier

	if cfg.ResultLog.Enabled {
		results := resultlog.NewRedisPublisher(cfg.ResultLog)
		if err := results.Ping(ctx); err != nil {
			log.Fatal().Err(err).Str("address", cfg.ResultLog.Address).Msg("resultlog redis unreachable")
		}
		defer results.Close()
		opts.Results = results
	}

	if cfg.Archive.Enabled {
		archiver, err := archive.New(ctx, cfg.Archive)
		if err != nil {
			log.Fatal().Err(err).Msg("archiver init failed")
		}
		opts.Archiver = archiver
	}

	svc := dashboard.NewService(eng, st, sb, opts)
	router := api.NewRouter(svc, eng)

	srv := &http.Server{
		Addr:         cfg.Server.Addr,
		Handler:      router,
		ReadTimeout:  cfg.Server.ReadTimeout,
		WriteTimeout: cfg.Server.WriteTimeout,
		IdleTimeout:  60 * time.Second,
	}

	// Graceful shutdown on SIGINT/SIGTERM
	sigCtx, stop := signal.NotifyContext(ctx, os.Interrupt, syscall.SIGTERM)
	defer stop()

	// Неподтвержденные загрузки и их staging таблицы убираются фоном
	if cfg.Data.UploadTTL > 0 {
		go func() {
			ticker := time.NewTicker(time.Hour)
			defer ticker.Stop()
			for {
				select {
				case <-sigCtx.Done():
					return
				case <-ticker.C:
					n, err := svc.CleanupStaleUploads(sigCtx, cfg.Data.UploadTTL)
					if err != nil {
						log.Warn().Err(err).Msg("upload sweep failed")
					} else if n > 0 {
						log.Info().Int("removed", n).Msg("stale uploads removed")
					}
				}
			}
		}()
	}

	go func() {
		log.Info().
			Str("addr", cfg.Server.Addr).
			Str("engine", eng.EngineType()).
			Str("config", *configPath).
			Msg("glyteserve started")
		if err := srv.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			log.Fatal().Err(err).Msg("server error")
		}
	}()

	<-sigCtx.Done()
	log.Info().Msg("shutting down...")

	shutdownCtx, cancel := context.WithTimeout(context.Background(), 15*time.Second)
	defer cancel()
	if err := srv.Shutdown(shutdownCtx); err != nil {
		log.Error().Err(err).Msg("graceful shutdown error")
	}
	log.Info().Msg("stopped")
}
