// Package app は設定から API サーバーとワーカーが共有する依存関係を組み立てます。
package app

import (
	"context"
	"errors"
	"fmt"
	"log/slog"

	redis "github.com/redis/go-redis/v9"

	"github.com/yourusername/docforge/internal/config"
	"github.com/yourusername/docforge/internal/jobs"
	"github.com/yourusername/docforge/internal/media"
	"github.com/yourusername/docforge/internal/metrics"
	"github.com/yourusername/docforge/internal/notify"
	"github.com/yourusername/docforge/internal/pdf"
	"github.com/yourusername/docforge/internal/queue"
	"github.com/yourusername/docforge/internal/registry"
	"github.com/yourusername/docforge/internal/storage"
	"github.com/yourusername/docforge/internal/store"
	"github.com/yourusername/docforge/internal/worker"
)

// App はプロセス内で共有する依存関係です。
type App struct {
	Config   *config.Config
	Logger   *slog.Logger
	Store    store.Store
	Storage  storage.Adapter
	Registry *registry.Registry
	Broker   queue.Broker
	// Redis は QUEUE_BACKEND=asynq のときのみ設定されます
	Redis    *redis.Client
	Metrics  *metrics.Metrics
	Notifier *notify.Dispatcher
	Jobs     *jobs.Orchestrator

	closers []func() error
}

// New は設定に従って各バックエンドへ接続し、Orchestrator までを組み立てます。
func New(ctx context.Context, cfg *config.Config, logger *slog.Logger) (*App, error) {
	if logger == nil {
		logger = slog.Default()
	}
	a := &App{
		Config:  cfg,
		Logger:  logger,
		Metrics: metrics.New(),
		Registry: registry.New(registry.Options{
			FastSlots:   cfg.FastSlots,
			MediumSlots: cfg.MediumSlots,
			HeavySlots:  cfg.HeavySlots,
			VideoSlots:  cfg.VideoSlots,
			MaxRetry:    cfg.MaxRetry,
		}),
	}

	if err := a.openStore(ctx); err != nil {
		a.Close()
		return nil, err
	}
	if err := a.openStorage(ctx); err != nil {
		a.Close()
		return nil, err
	}
	if err := a.openBroker(); err != nil {
		a.Close()
		return nil, err
	}

	a.Notifier = notify.New(notify.Config{
		Timeout:         cfg.WebhookTimeout,
		DownloadBaseURL: cfg.FileDownloadBaseURL,
		Logger:          logger.With("component", "notify"),
		Metrics:         a.Metrics,
	})

	var cache jobs.StatusCache
	if a.Redis != nil && cfg.StatusCacheTTL > 0 {
		cache = jobs.NewRedisCache(a.Redis, cfg.StatusCacheTTL)
	}

	orch, err := jobs.NewOrchestrator(jobs.Deps{
		Store:         a.Store,
		Registry:      a.Registry,
		Broker:        a.Broker,
		Storage:       a.Storage,
		Notifier:      a.Notifier,
		Cache:         cache,
		Metrics:       a.Metrics,
		Logger:        logger.With("component", "jobs"),
		FileRetention: cfg.FileRetention,
		FileURL:       a.Notifier.FileURL,
	})
	if err != nil {
		a.Close()
		return nil, err
	}
	a.Jobs = orch
	return a, nil
}

func (a *App) openStore(ctx context.Context) error {
	switch a.Config.StoreBackend {
	case config.StoreBackendMemory:
		a.Logger.Warn("using in-memory metadata store; data is lost on restart")
		a.Store = store.NewMemoryStore()
	default:
		pg, err := store.OpenPostgres(ctx, a.Config.DatabaseURL)
		if err != nil {
			return fmt.Errorf("failed to open metadata store: %w", err)
		}
		a.closers = append(a.closers, pg.Close)
		if a.Config.AutoMigrate {
			if err := pg.RunMigrations(ctx); err != nil {
				return fmt.Errorf("failed to run migrations: %w", err)
			}
		}
		a.Store = pg
	}
	return nil
}

func (a *App) openStorage(ctx context.Context) error {
	cfg := a.Config
	switch cfg.StorageDriver {
	case config.StorageDriverS3:
		s3, err := storage.NewS3(ctx, storage.S3Config{
			Region:       cfg.S3Region,
			AccessKey:    cfg.S3AccessKey,
			SecretKey:    cfg.S3SecretKey,
			BaseEndpoint: cfg.S3Endpoint,
			UsePathStyle: cfg.S3ForcePathStyle,
		})
		if err != nil {
			return fmt.Errorf("failed to create s3 storage: %w", err)
		}
		a.Storage = s3
	case config.StorageDriverLocal:
		local, err := storage.NewLocal(cfg.LocalStorageDir)
		if err != nil {
			return err
		}
		a.Storage = local
	default:
		m, err := storage.NewMinio(storage.MinioConfig{
			Endpoint:  cfg.MinioEndpoint,
			AccessKey: cfg.MinioAccessKey,
			SecretKey: cfg.MinioSecretKey,
			UseSSL:    cfg.MinioUseSSL,
			Region:    cfg.MinioRegion,
		})
		if err != nil {
			return fmt.Errorf("failed to create minio storage: %w", err)
		}
		if err := m.EnsureBuckets(ctx, cfg.BucketUploads, cfg.BucketProcessed); err != nil {
			return err
		}
		a.Storage = m
	}
	a.Logger.Info("object storage ready", "driver", cfg.StorageDriver)
	return nil
}

func (a *App) openBroker() error {
	if a.Config.QueueBackend == config.QueueBackendMemory {
		a.Logger.Warn("using in-memory queue; api and worker must run in one process")
		mb := queue.NewMemoryBroker(a.Logger.With("component", "queue"))
		a.Broker = mb
		a.closers = append(a.closers, mb.Close)
		return nil
	}

	opt, err := redis.ParseURL(a.Config.QueueRedisURL)
	if err != nil {
		return fmt.Errorf("invalid QUEUE_REDIS_URL: %w", err)
	}
	a.Redis = redis.NewClient(opt)
	a.closers = append(a.closers, a.Redis.Close)

	broker, err := queue.NewAsynqBroker(a.Config.QueueRedisURL)
	if err != nil {
		return err
	}
	a.Broker = broker
	a.closers = append(a.closers, broker.Close)
	return nil
}

// RegisterHandlers は PDF と動画のハンドラを Registry に登録します。
func (a *App) RegisterHandlers() error {
	cfg := a.Config
	svc := pdf.NewService(pdf.Config{
		GhostscriptPath: cfg.GhostscriptPath,
		LibreOfficePath: cfg.LibreOfficePath,
		TesseractPath:   cfg.TesseractPath,
	}, a.Logger)
	if err := svc.Register(a.Registry); err != nil {
		return fmt.Errorf("failed to register pdf handlers: %w", err)
	}
	resizer := media.NewResizer(media.Config{
		FFmpegPath:  cfg.FFmpegPath,
		FFprobePath: cfg.FFprobePath,
		Preset:      cfg.FFmpegPreset,
		CRF:         cfg.VideoCRF,
	}, a.Logger)
	if err := resizer.Register(a.Registry); err != nil {
		return fmt.Errorf("failed to register media handlers: %w", err)
	}
	return nil
}

// NewWorkerPool は WORKER_TYPE に従ってキューを消費する Pool を作ります。
// インメモリキューの場合はブローカー自身がコンシューマーになります。
func (a *App) NewWorkerPool() (*worker.Pool, error) {
	var consumer queue.Consumer
	if mb, ok := a.Broker.(*queue.MemoryBroker); ok {
		consumer = mb
	} else {
		c, err := queue.NewAsynqConsumer(a.Config.QueueRedisURL, a.Logger.With("component", "queue"))
		if err != nil {
			return nil, err
		}
		consumer = c
	}

	exec, err := worker.NewExecutor(worker.Config{
		Jobs:            a.Jobs,
		Registry:        a.Registry,
		Storage:         a.Storage,
		ProcessedBucket: a.Config.BucketProcessed,
		ScratchRoot:     a.Config.WorkDir,
		Logger:          a.Logger.With("component", "worker"),
		Metrics:         a.Metrics,
	})
	if err != nil {
		return nil, err
	}
	return worker.NewPool(consumer, a.Registry, exec, a.Config.WorkerType, a.Logger.With("component", "pool"))
}

// PingStore はメタデータストアの疎通を確認します。
func (a *App) PingStore(ctx context.Context) error {
	return a.Store.Ping(ctx)
}

// PingRedis は Redis を使わない構成では常に nil を返します。
func (a *App) PingRedis(ctx context.Context) error {
	if a.Redis == nil {
		return nil
	}
	return a.Redis.Ping(ctx).Err()
}

// Close は送信中の Webhook を待ってから接続を閉じます。
func (a *App) Close() error {
	if a.Notifier != nil {
		a.Notifier.Wait()
	}
	var errs []error
	for i := len(a.closers) - 1; i >= 0; i-- {
		if err := a.closers[i](); err != nil {
			errs = append(errs, err)
		}
	}
	a.closers = nil
	return errors.Join(errs...)
}
