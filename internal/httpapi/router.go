// Package httpapi はジョブ API の HTTP ルーティングを提供します。
package httpapi

import (
	"context"
	"log/slog"
	"time"

	"github.com/gin-contrib/cors"
	"github.com/gin-gonic/gin"

	"github.com/yourusername/docforge/internal/jobs"
	"github.com/yourusername/docforge/internal/metrics"
	"github.com/yourusername/docforge/internal/models"
)

const (
	serviceName           = "docforge-api"
	serviceVersion        = "0.1.0"
	defaultMaxUploadBytes = 100 << 20
	healthTimeout         = 2 * time.Second
)

// JobService は API が使うジョブ操作です。*jobs.Orchestrator が実装します。
type JobService interface {
	UploadFile(ctx context.Context, bucket string, up jobs.Upload) (*models.File, error)
	OpenFile(ctx context.Context, fileID string) (*models.File, []byte, error)
	CreateJob(ctx context.Context, req jobs.CreateJobRequest) (*models.Job, error)
	GetJobStatus(ctx context.Context, jobID string) (*jobs.JobView, error)
	ListUserJobs(ctx context.Context, userID string, limit int) ([]*models.Job, error)
	GetSystemStats(ctx context.Context) (*jobs.Stats, error)
	DeleteJob(ctx context.Context, jobID string) error
}

// HealthCheck は依存先の疎通確認です。
type HealthCheck func(ctx context.Context) error

// Config はルーターの依存関係です。
type Config struct {
	Jobs           JobService
	UploadBucket   string
	MaxUploadBytes int64
	AllowedOrigins []string
	Checks         map[string]HealthCheck
	Metrics        *metrics.Metrics
	Logger         *slog.Logger
}

type server struct {
	jobs      JobService
	bucket    string
	maxUpload int64
	checks    map[string]HealthCheck
	logger    *slog.Logger
}

// NewRouter はミドルウェアとルートを設定した gin.Engine を返します。
func NewRouter(cfg Config) *gin.Engine {
	if cfg.Logger == nil {
		cfg.Logger = slog.Default()
	}
	if cfg.MaxUploadBytes <= 0 {
		cfg.MaxUploadBytes = defaultMaxUploadBytes
	}
	s := &server{
		jobs:      cfg.Jobs,
		bucket:    cfg.UploadBucket,
		maxUpload: cfg.MaxUploadBytes,
		checks:    cfg.Checks,
		logger:    cfg.Logger,
	}

	router := gin.New()
	router.Use(gin.Recovery(), requestLogger(cfg.Logger))

	if len(cfg.AllowedOrigins) > 0 {
		corsConfig := cors.DefaultConfig()
		corsConfig.AllowOrigins = cfg.AllowedOrigins
		corsConfig.AllowHeaders = []string{"Origin", "Content-Type", "Accept"}
		corsConfig.ExposeHeaders = []string{"Content-Disposition"}
		router.Use(cors.New(corsConfig))
	}

	router.GET("/health", s.handleHealth)
	router.GET("/metrics", gin.WrapH(cfg.Metrics.Handler()))

	api := router.Group("/api")
	{
		files := api.Group("/files")
		{
			files.POST("", s.uploadFile)
			files.GET("/download/:id", s.downloadFile)
		}

		jobRoutes := api.Group("/jobs")
		{
			jobRoutes.POST("", s.createJob)
			jobRoutes.GET("/:id", s.jobStatus)
			jobRoutes.DELETE("/:id", s.deleteJob)
		}

		api.GET("/users/:id/jobs", s.userJobs)
		api.GET("/stats", s.systemStats)
	}
	return router
}

// requestLogger は gin.Logger の代わりにリクエストを slog へ出力します。
func requestLogger(logger *slog.Logger) gin.HandlerFunc {
	return func(c *gin.Context) {
		start := time.Now()
		c.Next()
		level := slog.LevelInfo
		if c.Writer.Status() >= 500 {
			level = slog.LevelError
		}
		logger.Log(c.Request.Context(), level, "http request",
			"method", c.Request.Method,
			"path", c.FullPath(),
			"status", c.Writer.Status(),
			"duration_ms", time.Since(start).Milliseconds(),
			"client_ip", c.ClientIP(),
		)
	}
}
