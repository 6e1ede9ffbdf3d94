// Package worker はキューから受け取ったメッセージを1件ずつ処理する実行系です。
package worker

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"os"
	"runtime/debug"

	"github.com/yourusername/docforge/internal/jobs"
	"github.com/yourusername/docforge/internal/metrics"
	"github.com/yourusername/docforge/internal/models"
	"github.com/yourusername/docforge/internal/params"
	"github.com/yourusername/docforge/internal/pdf"
	"github.com/yourusername/docforge/internal/queue"
	"github.com/yourusername/docforge/internal/registry"
	"github.com/yourusername/docforge/internal/storage"
)

// Lifecycle はワーカーが使うジョブ状態遷移の操作です。*jobs.Orchestrator が実装します。
type Lifecycle interface {
	StartJob(ctx context.Context, jobID string) (*jobs.Lease, *models.Job, error)
	JobInputs(ctx context.Context, jobID string) ([]models.JobFileDetail, error)
	ReportProgress(ctx context.Context, lease *jobs.Lease, percent int) (*models.Job, error)
	CompleteJob(ctx context.Context, lease *jobs.Lease, outputs []jobs.NewFile) (*models.Job, error)
	FailJob(ctx context.Context, lease *jobs.Lease, message string) (*models.Job, error)
	AbandonJob(ctx context.Context, jobID, message string) (*models.Job, error)
}

// Config は Executor の依存関係です。
type Config struct {
	Jobs            Lifecycle
	Registry        *registry.Registry
	Storage         storage.Adapter
	ProcessedBucket string
	// ScratchRoot が空なら os.TempDir() を使います
	ScratchRoot string
	Logger      *slog.Logger
	Metrics     *metrics.Metrics
}

// Executor はメッセージ1件分の処理 (開始 → ハンドラ実行 → 出力保存 → 完了/失敗) を行います。
type Executor struct {
	jobs     Lifecycle
	registry *registry.Registry
	storage  storage.Adapter
	bucket   string
	scratch  string
	logger   *slog.Logger
	metrics  *metrics.Metrics
}

// NewExecutor は Executor を生成します。
func NewExecutor(cfg Config) (*Executor, error) {
	if cfg.Jobs == nil {
		return nil, errors.New("jobs is nil")
	}
	if cfg.Registry == nil {
		return nil, errors.New("registry is nil")
	}
	if cfg.Storage == nil {
		return nil, errors.New("storage is nil")
	}
	if cfg.ProcessedBucket == "" {
		return nil, errors.New("processed bucket is required")
	}
	if cfg.Logger == nil {
		cfg.Logger = slog.Default()
	}
	return &Executor{
		jobs:     cfg.Jobs,
		registry: cfg.Registry,
		storage:  cfg.Storage,
		bucket:   cfg.ProcessedBucket,
		scratch:  cfg.ScratchRoot,
		logger:   cfg.Logger,
		metrics:  cfg.Metrics,
	}, nil
}

// Process は queue.Handler としてメッセージを処理します。
// nil は ack、queue.ErrSkipRetry をラップしたエラーは再試行なし、それ以外は再試行を意味します。
func (e *Executor) Process(ctx context.Context, msg *queue.Message) error {
	log := e.logger.With("job_id", msg.JobID, "type", msg.Type, "attempt", msg.Attempt)

	lease, job, err := e.jobs.StartJob(ctx, msg.JobID)
	switch {
	case errors.Is(err, jobs.ErrInvalidTransition):
		// 終端状態のジョブの重複配送
		log.Info("job already finished; acknowledging duplicate delivery")
		return nil
	case errors.Is(err, jobs.ErrNotFound):
		log.Warn("job no longer exists; dropping message")
		return nil
	case err != nil:
		err = fmt.Errorf("failed to start job: %w", err)
		if msg.IsFinalAttempt() {
			return e.abandon(ctx, log, msg, err)
		}
		return err
	}
	log = log.With("epoch", lease.Epoch)
	log.Info("job started")

	outputs, err := e.run(ctx, log, lease, job, msg)
	if err != nil {
		return e.handleFailure(ctx, log, lease, msg, err)
	}
	if err := e.complete(ctx, lease, outputs); err != nil {
		return e.handleFailure(ctx, log, lease, msg, err)
	}
	return nil
}

// abandon はリースを得られないまま再試行を使い切ったジョブを FAILED にします。
// それにも失敗した場合、ジョブは非終端のまま残るため Error で記録します。
func (e *Executor) abandon(ctx context.Context, log *slog.Logger, msg *queue.Message, cause error) error {
	_, err := e.jobs.AbandonJob(context.WithoutCancel(ctx), msg.JobID, cause.Error())
	switch {
	case err == nil:
		log.Error("job failed before start on final attempt", "error", cause)
		return fmt.Errorf("%w: %v", queue.ErrSkipRetry, cause)
	case errors.Is(err, jobs.ErrInvalidTransition), errors.Is(err, jobs.ErrNotFound):
		return nil
	default:
		log.Error("job left unfinished after final attempt", "error", cause, "abandon_error", err)
		return cause
	}
}

func (e *Executor) run(ctx context.Context, log *slog.Logger, lease *jobs.Lease, job *models.Job, msg *queue.Message) ([]registry.Output, error) {
	binding, err := e.registry.Resolve(job.Type)
	if err != nil {
		return nil, registry.Permanent(err)
	}
	if binding.Handler == nil {
		return nil, registry.Permanent(fmt.Errorf("no handler registered for %s", job.Type))
	}

	raw := msg.Params
	if len(raw) == 0 {
		raw = job.Metadata
	}
	p, err := params.Decode(job.Type, raw)
	if err != nil {
		return nil, registry.Permanent(err)
	}

	inputs, err := e.jobs.JobInputs(ctx, job.ID)
	if err != nil {
		return nil, fmt.Errorf("failed to load inputs: %w", err)
	}
	if len(inputs) == 0 {
		return nil, registry.Permanent(errors.New("job has no input files"))
	}

	dir, err := os.MkdirTemp(e.scratch, "job-"+job.ID+"-")
	if err != nil {
		return nil, fmt.Errorf("failed to create scratch dir: %w", err)
	}
	defer func() {
		if err := os.RemoveAll(dir); err != nil {
			log.Warn("failed to remove scratch dir", "dir", dir, "error", err)
		}
	}()

	req := &registry.Request{
		JobID:      job.ID,
		Inputs:     descriptors(inputs),
		Params:     p,
		Fetch:      e.fetch,
		ScratchDir: dir,
		Progress: func(percent int) {
			if _, err := e.jobs.ReportProgress(ctx, lease, percent); err != nil {
				log.Warn("progress update rejected", "percent", percent, "error", err)
			}
		},
	}

	outputs, err := invoke(ctx, log, binding.Handler, req)
	if err != nil {
		return nil, err
	}
	if len(outputs) == 0 {
		return nil, registry.Permanent(errors.New("handler produced no output"))
	}
	return outputs, nil
}

// invoke はハンドラを呼び出し、panic を再試行不可のエラーに変換します。
func invoke(ctx context.Context, log *slog.Logger, h registry.HandlerFunc, req *registry.Request) (out []registry.Output, err error) {
	defer func() {
		if p := recover(); p != nil {
			log.Error("handler panicked", "panic", p, "stack", string(debug.Stack()))
			err = registry.Permanent(fmt.Errorf("handler panic: %v", p))
		}
	}()
	return h(ctx, req)
}

func descriptors(files []models.JobFileDetail) []registry.FileDescriptor {
	out := make([]registry.FileDescriptor, 0, len(files))
	for _, f := range files {
		out = append(out, registry.FileDescriptor{
			ID:           f.File.ID,
			Bucket:       f.File.Bucket,
			StorageKey:   f.File.StorageKey,
			OriginalName: f.File.OriginalName,
			MimeType:     f.File.MimeType,
			Size:         f.File.Size,
		})
	}
	return out
}

func (e *Executor) fetch(ctx context.Context, f registry.FileDescriptor) ([]byte, error) {
	data, err := e.storage.Get(ctx, f.Bucket, f.StorageKey)
	if errors.Is(err, storage.ErrNotFound) {
		return nil, registry.Permanent(fmt.Errorf("input file %s is missing from storage", f.ID))
	}
	if err != nil {
		return nil, fmt.Errorf("failed to download %s: %w", f.ID, err)
	}
	return data, nil
}

// complete は出力をアップロードしてからジョブを完了させます。
// 完了の記録に失敗した場合はアップロード済みのオブジェクトを削除します。
func (e *Executor) complete(ctx context.Context, lease *jobs.Lease, outputs []registry.Output) error {
	uploaded := make([]jobs.NewFile, 0, len(outputs))
	for i, out := range outputs {
		mimeType := out.MimeType
		if mimeType == "" {
			mimeType = storage.DetectMIME(out.Data)
		}
		key, err := e.storage.Put(ctx, e.bucket, out.Data, mimeType)
		if err != nil {
			e.discard(ctx, uploaded)
			return fmt.Errorf("failed to upload output %d: %w", i+1, err)
		}
		name := out.SuggestedName
		if name == "" {
			name = key
		}
		uploaded = append(uploaded, jobs.NewFile{
			Name:         key,
			OriginalName: name,
			Size:         int64(len(out.Data)),
			MimeType:     mimeType,
			Bucket:       e.bucket,
			StorageKey:   key,
		})
	}

	if _, err := e.jobs.CompleteJob(ctx, lease, uploaded); err != nil {
		e.discard(ctx, uploaded)
		return fmt.Errorf("failed to complete job: %w", err)
	}
	return nil
}

func (e *Executor) discard(ctx context.Context, files []jobs.NewFile) {
	ctx = context.WithoutCancel(ctx)
	for _, f := range files {
		if err := e.storage.Delete(ctx, f.Bucket, f.StorageKey); err != nil {
			e.logger.Warn("failed to delete orphaned output", "bucket", f.Bucket, "key", f.StorageKey, "error", err)
		}
	}
}

// handleFailure はエラーを分類します。
// 再試行不可のエラー、または最終試行での一時的なエラーはジョブを FAILED にして再試行を止めます。
func (e *Executor) handleFailure(ctx context.Context, log *slog.Logger, lease *jobs.Lease, msg *queue.Message, cause error) error {
	if errors.Is(cause, jobs.ErrStaleLease) || errors.Is(cause, jobs.ErrInvalidTransition) {
		log.Warn("lease superseded; abandoning execution", "error", cause)
		return fmt.Errorf("%w: %v", queue.ErrSkipRetry, cause)
	}

	permanent := IsPermanent(cause)
	if !permanent && !msg.IsFinalAttempt() {
		e.metrics.HandlerRetry(string(msg.Type))
		log.Warn("transient failure; message will be retried", "error", cause, "max_retry", msg.MaxRetry)
		return cause
	}

	message := FailureMessage(cause)
	ctx = context.WithoutCancel(ctx)
	if _, err := e.jobs.FailJob(ctx, lease, message); err != nil {
		if errors.Is(err, jobs.ErrStaleLease) || errors.Is(err, jobs.ErrInvalidTransition) {
			log.Warn("could not record failure; lease superseded", "error", err)
			return fmt.Errorf("%w: %v", queue.ErrSkipRetry, cause)
		}
		return fmt.Errorf("failed to mark job failed: %w", err)
	}
	log.Error("job failed", "error", cause, "permanent", permanent)
	return fmt.Errorf("%w: %v", queue.ErrSkipRetry, cause)
}

// IsPermanent は再試行しても結果が変わらないエラーか判定します。
func IsPermanent(err error) bool {
	var pdfErr *pdf.Error
	return registry.IsPermanent(err) || errors.As(err, &pdfErr)
}

// FailureMessage はジョブの error 列に保存する要約を返します。
func FailureMessage(err error) string {
	var pdfErr *pdf.Error
	if errors.As(err, &pdfErr) && pdfErr.Message != "" {
		return pdfErr.Message
	}
	var pe *registry.PermanentError
	if errors.As(err, &pe) {
		return pe.Err.Error()
	}
	return err.Error()
}
