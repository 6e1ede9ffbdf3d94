// Package main はジョブワーカーのエントリーポイントです。
// WORKER_TYPE (FAST, MEDIUM, HEAVY, ALL) で消費するキューを選びます。
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

	"github.com/yourusername/docforge/internal/app"
	"github.com/yourusername/docforge/internal/config"
	"github.com/yourusername/docforge/internal/logging"
)

func main() {
	cfg, err := config.Load()
	if err != nil {
		slog.Error("failed to load config", "error", err)
		os.Exit(1)
	}

	logger := logging.New(logging.Options{
		Level:   cfg.LogLevel,
		Format:  cfg.LogFormat,
		Service: "docforge-worker",
	}).With("worker_type", cfg.WorkerType)
	slog.SetDefault(logger)

	if cfg.QueueBackend == config.QueueBackendMemory {
		logger.Error("QUEUE_BACKEND=memory runs workers inside the api process; start cmd/api instead")
		os.Exit(1)
	}

	if err := run(cfg, logger); err != nil {
		logger.Error("worker stopped with error", "error", err)
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

	// ワーカーは /metrics だけを公開する
	metricsSrv := &http.Server{
		Addr:              ":" + cfg.MetricsPort,
		Handler:           deps.Metrics.Handler(),
		ReadHeaderTimeout: 10 * time.Second,
	}
	go func() {
		if err := metricsSrv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			logger.Warn("metrics server stopped", "error", err)
		}
	}()

	<-ctx.Done()
	logger.Info("shutting down worker")

	// 実行中のジョブの完了を待ってから接続を閉じる
	pool.Shutdown()
	shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	return metricsSrv.Shutdown(shutdownCtx)
}
