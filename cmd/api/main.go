// Package main はAPIサーバーのエントリーポイントです。
package main

import (
	"context"
	"errors"
	"log/slog"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/gin-gonic/gin"

	"github.com/yourusername/docforge/internal/app"
	"github.com/yourusername/docforge/internal/config"
	"github.com/yourusername/docforge/internal/httpapi"
	"github.com/yourusername/docforge/internal/logging"
)

const shutdownTimeout = 30 * time.Second

func main() {
	// 設定の読み込み
	cfg, err := config.Load()
	if err != nil {
		slog.Error("failed to load config", "error", err)
		os.Exit(1)
	}

	logger := logging.New(logging.Options{
		Level:   cfg.LogLevel,
		Format:  cfg.LogFormat,
		Service: "docforge-api",
	})
	slog.SetDefault(logger)

	if err := run(cfg, logger); err != nil {
		logger.Error("api server stopped with error", "error", err)
		os.Exit(1)
	}
}

func run(cfg *config.Config, logger *slog.Logger) error {
	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	deps, err := app.New(ctx, cfg, logger)
	if err != nil {
		return err
	}
	defer func() {
		if err := deps.Close(); err != nil {
			logger.Warn("failed to close dependencies", "error", err)
		}
	}()

	// インメモリキューは別プロセスのワーカーから見えないので、同じプロセスで処理する
	if cfg.QueueBackend == config.QueueBackendMemory {
		if err := deps.RegisterHandlers(); err != nil {
			return err
		}
		pool, err := deps.NewWorkerPool()
		if err != nil {
			return err
		}
		if err := pool.Start(); err != nil {
			return err
		}
		defer pool.Shutdown()
	}

	// Ginのモードを設定
	gin.SetMode(cfg.GinMode)
	router := httpapi.NewRouter(httpapi.Config{
		Jobs:           deps.Jobs,
		UploadBucket:   cfg.BucketUploads,
		AllowedOrigins: cfg.AllowedOrigins(),
		Checks: map[string]httpapi.HealthCheck{
			"store": deps.PingStore,
			"redis": deps.PingRedis,
		},
		Metrics: deps.Metrics,
		Logger:  logger,
	})

	srv := &http.Server{
		Addr:              ":" + cfg.Port,
		Handler:           router,
		ReadHeaderTimeout: 10 * time.Second,
	}

	errCh := make(chan error, 1)
	go func() {
		logger.Info("starting api server", "addr", srv.Addr, "mode", cfg.GinMode)
		if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			errCh <- err
		}
		close(errCh)
	}()

	select {
	case err := <-errCh:
		return err
	case <-ctx.Done():
	}

	logger.Info("shutting down api server")
	shutdownCtx, cancel := context.WithTimeout(context.Background(), shutdownTimeout)
	defer cancel()
	return srv.Shutdown(shutdownCtx)
}
