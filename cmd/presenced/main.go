package main

import (
	"context"
	"fmt"
	"net/http"
	"os"
	"os/signal"
	"path/filepath"
	"syscall"
	"time"

	"github.com/cockroachdb/errors"
	"github.com/gin-gonic/gin"
	"github.com/go-redis/redis/v8"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"
	"github.com/spf13/pflag"
	"go.uber.org/zap"

	"github.com/celerix-dev/celerix-presence/internal/api"
	"github.com/celerix-dev/celerix-presence/internal/audit"
	"github.com/celerix-dev/celerix-presence/internal/config"
	"github.com/celerix-dev/celerix-presence/internal/engine"
	"github.com/celerix-dev/celerix-presence/internal/logger"
	"github.com/celerix-dev/celerix-presence/internal/metrics"
	"github.com/celerix-dev/celerix-presence/internal/storage/sqlstore"
)

func main() {
	if err := run(); err != nil {
		fmt.Fprintf(os.Stderr, "presenced: %v\n", err)
		os.Exit(1)
	}
}

func run() error {
	flags := pflag.NewFlagSet("presenced", pflag.ContinueOnError)
	envFile := flags.String("env-file", ".env", "optional dotenv file loaded before reading the environment")
	migrateFrom := flags.String("migrate-from", "", "copy the JSON roster in this data directory into the configured SQL store and exit")
	if err := flags.Parse(os.Args[1:]); err != nil {
		if errors.Is(err, pflag.ErrHelp) {
			return nil
		}
		return err
	}

	if err := config.LoadEnv(*envFile); err != nil {
		return err
	}
	cfg, err := config.LoadDaemon()
	if err != nil {
		return err
	}
	log, err := logger.NewLogger(cfg.Log.Level, cfg.Log.Format, "presenced")
	if err != nil {
		return err
	}
	defer func() { _ = log.Sync() }()

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	// 1. Record store
	store, health, err := openStore(ctx, cfg, log)
	if err != nil {
		return err
	}
	defer func() {
		if err := store.Close(); err != nil {
			log.Error("close store", zap.Error(err))
		}
	}()

	if *migrateFrom != "" {
		return migrate(ctx, *migrateFrom, cfg.Storage, store, log)
	}

	// 2. Audit mirrors and metrics
	reg := prometheus.NewRegistry()
	reg.MustRegister(collectors.NewGoCollector(), collectors.NewProcessCollector(collectors.ProcessCollectorOpts{}))
	opts := []engine.Option{engine.WithMetrics(metrics.New(reg))}

	if cfg.AuditLog != "" {
		activity, err := audit.OpenActivityLog(cfg.AuditLog)
		if err != nil {
			return err
		}
		defer func() { _ = activity.Close() }()
		opts = append(opts, engine.WithMirror(activity))
		log.Info("activity log enabled", zap.String("path", cfg.AuditLog))
	}

	if cfg.Redis.Addr != "" {
		rdb := redis.NewClient(&redis.Options{
			Addr:     cfg.Redis.Addr,
			Password: cfg.Redis.Password,
			DB:       cfg.Redis.DB,
		})
		defer func() { _ = rdb.Close() }()
		if err := rdb.Ping(ctx).Err(); err != nil {
			log.Warn("redis not reachable, audit stream entries may be dropped", zap.String("addr", cfg.Redis.Addr), zap.Error(err))
		}
		opts = append(opts, engine.WithMirror(audit.NewRedisStream(rdb, cfg.Redis.Stream, cfg.Redis.MaxLen)))
		log.Info("audit stream enabled", zap.String("addr", cfg.Redis.Addr), zap.String("stream", cfg.Redis.Stream))
	}

	// 3. Engine and HTTP API
	eng := engine.New(store, log, opts...)

	gin.SetMode(gin.ReleaseMode)
	router := api.NewRouter(&api.Handler{Service: eng, Logger: log}, api.RouterOptions{
		CORSOrigins: cfg.HTTP.CORSOrigins,
		Gatherer:    reg,
		Health:      health,
	})
	srv := &http.Server{
		Addr:              cfg.HTTP.Addr,
		Handler:           router,
		ReadHeaderTimeout: 10 * time.Second,
	}

	errCh := make(chan error, 1)
	go func() {
		log.Info("http api listening", zap.String("addr", cfg.HTTP.Addr), zap.String("storage", cfg.Storage))
		if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			errCh <- err
		}
		close(errCh)
	}()

	// 4. Graceful shutdown
	select {
	case <-ctx.Done():
		log.Info("shutdown signal received, finishing in-flight requests")
	case err := <-errCh:
		if err != nil {
			return errors.Wrap(err, "http server")
		}
	}

	shutdownCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()
	if err := srv.Shutdown(shutdownCtx); err != nil {
		log.Error("http shutdown", zap.Error(err))
	}
	log.Info("shutdown complete")
	return nil
}

// openStore builds the configured record store and its health check.
func openStore(ctx context.Context, cfg *config.Daemon, log *zap.Logger) (engine.Store, func(context.Context) error, error) {
	switch cfg.Storage {
	case config.StorageSQLite:
		if err := os.MkdirAll(filepath.Dir(cfg.SQLitePath), 0755); err != nil {
			return nil, nil, errors.Wrap(err, "create sqlite dir")
		}
		s, err := sqlstore.Open(ctx, sqlstore.SQLite, cfg.SQLitePath, log)
		if err != nil {
			return nil, nil, err
		}
		log.Info("sqlite store ready", zap.String("path", cfg.SQLitePath))
		return s, s.Ping, nil

	case config.StoragePostgres:
		s, err := sqlstore.Open(ctx, sqlstore.Postgres, cfg.DatabaseURL, log)
		if err != nil {
			return nil, nil, err
		}
		log.Info("postgres store ready")
		return s, s.Ping, nil
	}

	m, err := openMemStore(cfg.DataDir, log)
	if err != nil {
		return nil, nil, err
	}
	return m, nil, nil
}

func openMemStore(dataDir string, log *zap.Logger) (*engine.MemStore, error) {
	persister, err := engine.NewPersistence(dataDir)
	if err != nil {
		return nil, errors.Wrap(err, "initialize persistence")
	}
	snap, err := persister.Load()
	if err != nil {
		return nil, err
	}
	log.Info("memory store loaded", zap.String("data_dir", dataDir), zap.Int("people", len(snap.People)), zap.Int("audit", len(snap.Audit)))
	return engine.NewMemStore(snap, persister, log), nil
}

// migrate copies the roster persisted in dataDir into dst.
func migrate(ctx context.Context, dataDir, storage string, dst engine.Store, log *zap.Logger) error {
	if storage == config.StorageMemory {
		return errors.New("--migrate-from needs PRESENCE_STORAGE=sqlite or postgres")
	}
	persister, err := engine.NewPersistence(dataDir)
	if err != nil {
		return err
	}
	snap, err := persister.Load()
	if err != nil {
		return err
	}
	src := engine.NewMemStore(snap, nil, log)

	report, err := engine.Migrate(ctx, src, dst)
	if err != nil {
		return errors.Wrap(err, "migrate roster")
	}
	log.Info("roster migrated", zap.String("from", dataDir), zap.String("to", storage),
		zap.Int("people", report.People), zap.Int("audit", report.Audit))
	return nil
}
