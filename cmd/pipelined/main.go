// Command pipelined runs the bulk pipeline service: the HTTP API, the
// job worker, and the maintenance schedules, in one process.
package main

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"os"
	"os/signal"
	"strings"
	"syscall"
	"time"

	"github.com/redis/go-redis/v9"
	"github.com/urfave/cli/v3"
	"go.uber.org/zap"
	"gorm.io/driver/postgres"
	"gorm.io/driver/sqlite"
	"gorm.io/gorm"
	gormlogger "gorm.io/gorm/logger"

	"github.com/threadpass/pipeline/api"
	"github.com/threadpass/pipeline/pkg/catalog"
	"github.com/threadpass/pipeline/pkg/config"
	"github.com/threadpass/pipeline/pkg/notify"
	"github.com/threadpass/pipeline/pkg/ownership"
	"github.com/threadpass/pipeline/pkg/progress"
	"github.com/threadpass/pipeline/pkg/run"
	"github.com/threadpass/pipeline/pkg/storage"
)

func main() {
	cmd := &cli.Command{
		Name:  "pipelined",
		Usage: "bulk catalog pipeline service",
		Flags: []cli.Flag{
			&cli.StringFlag{
				Name:  "env-file",
				Usage: "load environment from `FILE` before reading config",
			},
		},
		Action: func(ctx context.Context, cmd *cli.Command) error {
			return serve(ctx, cmd.String("env-file"))
		},
	}

	if err := cmd.Run(context.Background(), os.Args); err != nil {
		fmt.Fprintln(os.Stderr, err)
		os.Exit(1)
	}
}

func serve(ctx context.Context, envFile string) error {
	cfg, err := config.Load(envFile)
	if err != nil {
		return err
	}

	logger, err := newLogger(cfg.Debug)
	if err != nil {
		return err
	}
	defer logger.Sync()

	db, err := openDB(cfg.DatabaseDSN)
	if err != nil {
		return fmt.Errorf("opening database: %w", err)
	}

	jobStore := storage.New(db)
	if err := jobStore.Migrate(ctx); err != nil {
		return fmt.Errorf("migrating job tables: %w", err)
	}
	cat := catalog.NewGormCatalog(db)
	if err := cat.Migrate(ctx); err != nil {
		return fmt.Errorf("migrating catalog tables: %w", err)
	}

	owners := ownership.New(jobStore)
	hub := progress.NewHub()

	opts := []run.Option{
		run.ChunkSize(cfg.ChunkSize),
		run.ChunkRetries(cfg.ChunkRetries),
		run.StorageTimeout(cfg.StorageTimeout),
		run.Concurrency(cfg.Concurrency),
		run.WithLogger(logger),
	}
	if cfg.RedisURL != "" {
		redisOpts, err := redis.ParseURL(cfg.RedisURL)
		if err != nil {
			return fmt.Errorf("parsing redis url: %w", err)
		}
		opts = append(opts, run.WithNotifier(notify.NewRedis(redis.NewClient(redisOpts), logger)))
	}

	orch := run.NewOrchestrator(jobStore, cat, owners, hub, opts...)

	runCtx, cancel := signal.NotifyContext(ctx, syscall.SIGINT, syscall.SIGTERM)
	defer cancel()

	worker := run.NewWorker(orch)
	go worker.Start(runCtx)

	maint := run.NewMaintenance(orch)
	if err := maint.Start(); err != nil {
		return fmt.Errorf("starting maintenance: %w", err)
	}
	defer maint.Stop()

	server := api.NewServer(orch, cfg.InternalSecret, logger)
	httpSrv := &http.Server{
		Addr:    cfg.Addr,
		Handler: server.Router(),
	}

	errCh := make(chan error, 1)
	go func() {
		logger.Info("http server listening", zap.String("addr", cfg.Addr))
		if err := httpSrv.ListenAndServe(); !errors.Is(err, http.ErrServerClosed) {
			errCh <- err
		}
	}()

	select {
	case err := <-errCh:
		return err
	case <-runCtx.Done():
	}

	logger.Info("shutting down")
	shutdownCtx, shutdownCancel := context.WithTimeout(context.Background(), 15*time.Second)
	defer shutdownCancel()
	return httpSrv.Shutdown(shutdownCtx)
}

func newLogger(debug bool) (*zap.Logger, error) {
	if debug {
		return zap.NewDevelopment()
	}
	return zap.NewProduction()
}

// openDB picks the driver from the DSN: postgres for postgres:// URLs,
// sqlite for everything else.
func openDB(dsn string) (*gorm.DB, error) {
	gormCfg := &gorm.Config{
		Logger: gormlogger.Default.LogMode(gormlogger.Silent),
	}
	if strings.HasPrefix(dsn, "postgres://") || strings.HasPrefix(dsn, "postgresql://") {
		return gorm.Open(postgres.Open(dsn), gormCfg)
	}
	return gorm.Open(sqlite.Open(dsn), gormCfg)
}
