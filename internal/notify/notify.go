// Package notify は終端状態に達したジョブの Webhook 通知を送ります。
// 通知はベストエフォートで、失敗してもジョブの状態には影響しません。
package notify

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"net/http"
	"strings"
	"sync"
	"time"

	"github.com/hashicorp/go-retryablehttp"

	"github.com/yourusername/docforge/internal/metrics"
	"github.com/yourusername/docforge/internal/models"
)

const (
	defaultTimeout     = 5 * time.Second
	defaultDownloadURL = "/api/files/download"
)

// Payload は Webhook で POST する JSON です。
type Payload struct {
	JobID       string           `json:"jobId"`
	Status      models.JobStatus `json:"status"`
	Type        models.JobType   `json:"type"`
	Progress    int              `json:"progress"`
	Error       *string          `json:"error"`
	Metadata    json.RawMessage  `json:"metadata"`
	CompletedAt *time.Time       `json:"completedAt"`
	Files       []PayloadFile    `json:"files"`
}

// PayloadFile は Payload に含めるファイル1件です。
type PayloadFile struct {
	ID      string  `json:"id"`
	IsInput bool    `json:"isInput"`
	URL     *string `json:"url"`
}

// Config は Dispatcher の設定です。
type Config struct {
	Timeout         time.Duration
	DownloadBaseURL string
	Logger          *slog.Logger
	Metrics         *metrics.Metrics
}

// Dispatcher は Webhook を非同期に送信します。
type Dispatcher struct {
	client  *retryablehttp.Client
	baseURL string
	logger  *slog.Logger
	metrics *metrics.Metrics
	wg      sync.WaitGroup
}

// New は Dispatcher を生成します。再送は行いません。
func New(cfg Config) *Dispatcher {
	if cfg.Timeout <= 0 {
		cfg.Timeout = defaultTimeout
	}
	if cfg.Logger == nil {
		cfg.Logger = slog.Default()
	}
	base := strings.TrimRight(strings.TrimSpace(cfg.DownloadBaseURL), "/")
	if base == "" {
		base = defaultDownloadURL
	}

	client := retryablehttp.NewClient()
	client.RetryMax = 0
	client.HTTPClient.Timeout = cfg.Timeout
	client.Logger = cfg.Logger.With("component", "webhook")
	// 2xx 以外もそのまま返してもらい、判定はこちらで行う
	client.CheckRetry = func(ctx context.Context, _ *http.Response, err error) (bool, error) {
		if ctx.Err() != nil {
			return false, ctx.Err()
		}
		return false, err
	}

	return &Dispatcher{
		client:  client,
		baseURL: base,
		logger:  cfg.Logger,
		metrics: cfg.Metrics,
	}
}

// FileURL はファイルのダウンロード URL を返します。
func (d *Dispatcher) FileURL(fileID string) string {
	return d.baseURL + "/" + fileID
}

// BuildPayload はジョブとファイル一覧から Payload を組み立てます。
func (d *Dispatcher) BuildPayload(job *models.Job, files []models.JobFileDetail) Payload {
	p := Payload{
		JobID:       job.ID,
		Status:      job.Status,
		Type:        job.Type,
		Progress:    job.Progress,
		Error:       job.Error,
		Metadata:    job.Metadata,
		CompletedAt: job.CompletedAt,
		Files:       make([]PayloadFile, 0, len(files)),
	}
	for _, f := range files {
		pf := PayloadFile{ID: f.FileID, IsInput: f.IsInput}
		if f.File != nil {
			u := d.FileURL(f.FileID)
			pf.URL = &u
		}
		p.Files = append(p.Files, pf)
	}
	return p
}

// Notify は Webhook の送信をバックグラウンドで開始し、すぐに戻ります。
func (d *Dispatcher) Notify(job *models.Job, files []models.JobFileDetail) {
	if job == nil || job.WebhookURL == nil || *job.WebhookURL == "" {
		return
	}
	payload := d.BuildPayload(job, files)
	target := *job.WebhookURL

	d.wg.Add(1)
	go func() {
		defer d.wg.Done()
		log := d.logger.With("job_id", payload.JobID, "status", payload.Status)
		if err := d.Send(context.Background(), target, payload); err != nil {
			d.metrics.WebhookDelivered(false)
			log.Warn("webhook delivery failed", "error", err)
			return
		}
		d.metrics.WebhookDelivered(true)
		log.Info("webhook delivered")
	}()
}

// Send は Payload を1回だけ POST します。2xx 以外はエラーです。
func (d *Dispatcher) Send(ctx context.Context, target string, payload Payload) error {
	body, err := json.Marshal(payload)
	if err != nil {
		return fmt.Errorf("failed to encode webhook payload: %w", err)
	}
	req, err := retryablehttp.NewRequestWithContext(ctx, http.MethodPost, target, bytes.NewReader(body))
	if err != nil {
		return fmt.Errorf("failed to build webhook request: %w", err)
	}
	req.Header.Set("Content-Type", "application/json")
	req.Header.Set("X-Job-Id", payload.JobID)

	resp, err := d.client.Do(req)
	if err != nil {
		return fmt.Errorf("webhook request failed: %w", err)
	}
	defer resp.Body.Close()
	if resp.StatusCode < 200 || resp.StatusCode >= 300 {
		return fmt.Errorf("webhook returned status %d", resp.StatusCode)
	}
	return nil
}

// Wait は送信中の Webhook がすべて終わるまで待ちます。
func (d *Dispatcher) Wait() {
	d.wg.Wait()
}
