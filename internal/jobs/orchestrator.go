package jobs

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"net/url"
	"strings"
	"time"

	"github.com/google/uuid"

	"github.com/yourusername/docforge/internal/metrics"
	"github.com/yourusername/docforge/internal/models"
	"github.com/yourusername/docforge/internal/params"
	"github.com/yourusername/docforge/internal/queue"
	"github.com/yourusername/docforge/internal/registry"
	"github.com/yourusername/docforge/internal/storage"
	"github.com/yourusername/docforge/internal/store"
)

const (
	defaultFileRetention = 24 * time.Hour
	// MaxHistory はジョブ履歴で返す最大件数です。
	MaxHistory = 50
)

// Notifier は終端状態に達したジョブの通知を非同期に送ります。
type Notifier interface {
	Notify(job *models.Job, files []models.JobFileDetail)
}

// Deps は Orchestrator の依存関係です。Notifier、Cache、Metrics、Storage は省略できます。
type Deps struct {
	Store         store.Store
	Registry      *registry.Registry
	Broker        queue.Broker
	Storage       storage.Adapter
	Notifier      Notifier
	Cache         StatusCache
	Metrics       *metrics.Metrics
	Logger        *slog.Logger
	FileRetention time.Duration
	FileURL       func(fileID string) string
	Now           func() time.Time
}

// Orchestrator はジョブの状態を唯一の正としてメタデータストアに保持し、遷移を管理します。
type Orchestrator struct {
	store     store.Store
	registry  *registry.Registry
	broker    queue.Broker
	storage   storage.Adapter
	notifier  Notifier
	cache     StatusCache
	metrics   *metrics.Metrics
	logger    *slog.Logger
	retention time.Duration
	fileURL   func(fileID string) string
	now       func() time.Time
	startedAt time.Time
}

// NewOrchestrator は Orchestrator を初期化します。
func NewOrchestrator(deps Deps) (*Orchestrator, error) {
	if deps.Store == nil {
		return nil, errors.New("store is nil")
	}
	if deps.Registry == nil {
		return nil, errors.New("registry is nil")
	}
	if deps.Broker == nil {
		return nil, errors.New("broker is nil")
	}
	o := &Orchestrator{
		store:     deps.Store,
		registry:  deps.Registry,
		broker:    deps.Broker,
		storage:   deps.Storage,
		notifier:  deps.Notifier,
		cache:     deps.Cache,
		metrics:   deps.Metrics,
		logger:    deps.Logger,
		retention: deps.FileRetention,
		fileURL:   deps.FileURL,
		now:       deps.Now,
	}
	if o.logger == nil {
		o.logger = slog.Default()
	}
	if o.retention <= 0 {
		o.retention = defaultFileRetention
	}
	if o.now == nil {
		o.now = func() time.Time { return time.Now().UTC() }
	}
	o.startedAt = o.now()
	return o, nil
}

// CreateJob はジョブと入力ファイルの紐付けを1トランザクションで保存し、メッセージを1件投入します。
// 投入に失敗した場合もジョブは返し、エラーは ErrDispatchGap をラップします。
func (o *Orchestrator) CreateJob(ctx context.Context, req CreateJobRequest) (*models.Job, error) {
	if len(req.FileIDs) == 0 {
		return nil, newValidationError("fileIds", "at least one file is required", nil)
	}
	for _, id := range req.FileIDs {
		if strings.TrimSpace(id) == "" {
			return nil, newValidationError("fileIds", "file id must not be empty", nil)
		}
	}
	binding, err := o.registry.Resolve(req.Type)
	if err != nil {
		return nil, newValidationError("type", fmt.Sprintf("unsupported job type %q", req.Type), err)
	}
	if err := o.registry.ValidateInputs(req.Type, len(req.FileIDs)); err != nil {
		return nil, newValidationError("fileIds", err.Error(), err)
	}
	p, err := params.Decode(req.Type, req.Metadata)
	if err != nil {
		return nil, newValidationError("metadata", err.Error(), err)
	}
	if err := validateFileRoles(p, req.FileIDs); err != nil {
		return nil, err
	}
	normalized, err := params.Encode(p)
	if err != nil {
		return nil, err
	}
	webhookURL, err := normalizeWebhookURL(req.WebhookURL)
	if err != nil {
		return nil, err
	}

	now := o.now()
	job := &models.Job{
		ID:         uuid.NewString(),
		Type:       req.Type,
		Status:     models.JobStatusUploaded,
		Metadata:   normalized,
		WebhookURL: webhookURL,
		UserID:     req.UserID,
		CreatedAt:  now,
		UpdatedAt:  now,
	}

	var files []models.JobFileDetail
	err = o.store.WithTx(ctx, func(ctx context.Context, repo store.Repository) error {
		found, err := repo.GetFiles(ctx, req.FileIDs)
		if err != nil {
			return err
		}
		byID := make(map[string]*models.File, len(found))
		for _, f := range found {
			byID[f.ID] = f
		}
		for _, id := range req.FileIDs {
			f, ok := byID[id]
			if !ok || !ownedBy(f, req.UserID) {
				return newValidationError("fileIds", fmt.Sprintf("file %s not found", id), ErrNotFound)
			}
		}

		if err := repo.CreateJob(ctx, job); err != nil {
			return err
		}
		for i, id := range req.FileIDs {
			jf := models.JobFile{JobID: job.ID, FileID: id, IsInput: true, Order: i}
			if err := repo.AddJobFile(ctx, jf); err != nil {
				return err
			}
			files = append(files, models.JobFileDetail{JobFile: jf, File: byID[id]})
		}
		if req.UserID != nil {
			if _, err := repo.IncrementDailyUsage(ctx, *req.UserID, now); err != nil {
				if errors.Is(err, store.ErrNotFound) {
					return newValidationError("userId", "user not found", err)
				}
				return err
			}
		}
		return nil
	})
	if err != nil {
		if IsValidation(err) {
			return nil, err
		}
		return nil, fmt.Errorf("failed to create job: %w", err)
	}

	o.metrics.JobCreated(string(job.Type))
	o.putCache(ctx, job, files)

	log := o.logger.With("job_id", job.ID, "type", job.Type, "queue", binding.Queue)
	msg := queue.Message{JobID: job.ID, Type: job.Type, Params: normalized}
	if _, err := o.broker.Enqueue(ctx, binding, msg); err != nil {
		if errors.Is(err, queue.ErrDuplicateMessage) {
			log.Warn("dispatch message already exists")
			return job, nil
		}
		o.metrics.DispatchGap(string(job.Type))
		log.Error("job persisted but enqueue failed; job stays UPLOADED", "error", err)
		return job, fmt.Errorf("%w: %v", ErrDispatchGap, err)
	}
	log.Info("job created")
	return job, nil
}

// validateFileRoles は種別固有のファイル要件を検証します。
func validateFileRoles(p params.Params, fileIDs []string) error {
	wm, ok := p.(*params.Watermark)
	if !ok {
		return nil
	}
	hasImage := false
	for _, id := range fileIDs {
		if wm.Type == "image" && id == wm.WatermarkFileID {
			hasImage = true
		}
	}
	switch {
	case wm.Type == "image" && !hasImage:
		return newValidationError("metadata", "watermarkFileId must be one of fileIds", nil)
	case wm.Type == "image" && len(fileIDs) != 2:
		return newValidationError("fileIds", "image watermark requires a document and an image", nil)
	case wm.Type != "image" && len(fileIDs) != 1:
		return newValidationError("fileIds", "text watermark accepts exactly one file", nil)
	}
	return nil
}

func normalizeWebhookURL(raw *string) (*string, error) {
	if raw == nil {
		return nil, nil
	}
	s := strings.TrimSpace(*raw)
	if s == "" {
		return nil, nil
	}
	u, err := url.Parse(s)
	if err != nil || (u.Scheme != "http" && u.Scheme != "https") || u.Host == "" {
		return nil, newValidationError("webhookUrl", "must be an absolute http(s) URL", err)
	}
	return &s, nil
}

func ownedBy(f *models.File, userID *string) bool {
	if f.UserID == nil {
		return true
	}
	return userID != nil && *userID == *f.UserID
}

// StartJob はジョブを PROCESSING にしてリースを発行します。
// 再配送で既に PROCESSING のジョブを受け取った場合はリースを更新し、古いリースを無効にします。
func (o *Orchestrator) StartJob(ctx context.Context, jobID string) (*Lease, *models.Job, error) {
	var (
		lease *Lease
		out   *models.Job
	)
	err := o.store.WithTx(ctx, func(ctx context.Context, repo store.Repository) error {
		job, err := repo.LockJob(ctx, jobID)
		if err != nil {
			return err
		}
		if job.Status.IsTerminal() {
			return fmt.Errorf("%w: job %s is already %s", ErrInvalidTransition, jobID, job.Status)
		}
		now := o.now()
		if job.Status == models.JobStatusUploaded {
			job.Status = models.JobStatusProcessing
			job.StartedAt = &now
		}
		job.LeaseEpoch++
		job.Attempts++
		job.UpdatedAt = now
		if err := repo.UpdateJob(ctx, job); err != nil {
			return err
		}
		lease = &Lease{JobID: job.ID, Epoch: job.LeaseEpoch}
		out = job
		return nil
	})
	if err != nil {
		return nil, nil, err
	}
	o.refreshCache(ctx, out)
	return lease, out, nil
}

// UpdateJobStatus はリース保持者からの状態更新を適用します。
// 進捗は 0〜100 に丸め、減少する値は警告を出して無視します。
// 同じ終端状態・同じ内容の更新の繰り返しは何もしません（通知も再送しません）。
func (o *Orchestrator) UpdateJobStatus(ctx context.Context, lease *Lease, upd StatusUpdate) (*models.Job, error) {
	return o.transition(ctx, lease, upd, nil)
}

// ReportProgress は進捗だけを更新します。
func (o *Orchestrator) ReportProgress(ctx context.Context, lease *Lease, percent int) (*models.Job, error) {
	return o.UpdateJobStatus(ctx, lease, StatusUpdate{Status: models.JobStatusProcessing, Progress: &percent})
}

// FailJob はジョブを FAILED にします。
func (o *Orchestrator) FailJob(ctx context.Context, lease *Lease, message string) (*models.Job, error) {
	return o.UpdateJobStatus(ctx, lease, StatusUpdate{Status: models.JobStatusFailed, Error: message})
}

// CompleteJob は出力ファイルの作成・紐付けと COMPLETED への遷移を1トランザクションで行います。
func (o *Orchestrator) CompleteJob(ctx context.Context, lease *Lease, outputs []NewFile) (*models.Job, error) {
	return o.transition(ctx, lease, StatusUpdate{Status: models.JobStatusCompleted}, outputs)
}

// AddOutputFile は既存のファイルを出力として紐付けます。
func (o *Orchestrator) AddOutputFile(ctx context.Context, lease *Lease, fileID string) (*models.JobFile, error) {
	if lease == nil {
		return nil, ErrStaleLease
	}
	var out models.JobFile
	err := o.store.WithTx(ctx, func(ctx context.Context, repo store.Repository) error {
		job, err := o.lockLeased(ctx, repo, lease)
		if err != nil {
			return err
		}
		if job.Status != models.JobStatusProcessing {
			return fmt.Errorf("%w: cannot add output to %s job", ErrInvalidTransition, job.Status)
		}
		files, err := repo.GetFiles(ctx, []string{fileID})
		if err != nil {
			return err
		}
		if len(files) == 0 {
			return fmt.Errorf("file %s: %w", fileID, ErrNotFound)
		}
		order, err := nextOutputOrder(ctx, repo, job.ID)
		if err != nil {
			return err
		}
		out = models.JobFile{JobID: job.ID, FileID: fileID, IsInput: false, Order: order}
		return repo.AddJobFile(ctx, out)
	})
	if err != nil {
		return nil, err
	}
	return &out, nil
}

func (o *Orchestrator) lockLeased(ctx context.Context, repo store.Repository, lease *Lease) (*models.Job, error) {
	job, err := repo.LockJob(ctx, lease.JobID)
	if err != nil {
		return nil, err
	}
	if job.LeaseEpoch != lease.Epoch {
		return nil, fmt.Errorf("%w: job %s epoch %d, lease %d", ErrStaleLease, job.ID, job.LeaseEpoch, lease.Epoch)
	}
	return job, nil
}

func nextOutputOrder(ctx context.Context, repo store.Repository, jobID string) (int, error) {
	files, err := repo.ListJobFiles(ctx, jobID)
	if err != nil {
		return 0, err
	}
	next := 0
	for _, f := range files {
		if !f.IsInput && f.Order >= next {
			next = f.Order + 1
		}
	}
	return next, nil
}

func clampProgress(p int) int {
	if p < 0 {
		return 0
	}
	if p > 100 {
		return 100
	}
	return p
}

func failureMessage(msg string) string {
	msg = strings.TrimSpace(msg)
	if msg == "" {
		return "processing failed"
	}
	return msg
}

// sameTerminal は終端状態のジョブに同じ内容の更新が来たかを判定します。
func sameTerminal(job *models.Job, upd StatusUpdate) bool {
	if upd.Status != job.Status {
		return false
	}
	if upd.Progress != nil && clampProgress(*upd.Progress) != job.Progress {
		return false
	}
	if job.Status == models.JobStatusFailed {
		return job.Error != nil && *job.Error == failureMessage(upd.Error)
	}
	return strings.TrimSpace(upd.Error) == ""
}

func (o *Orchestrator) transition(ctx context.Context, lease *Lease, upd StatusUpdate, outputs []NewFile) (*models.Job, error) {
	if lease == nil {
		return nil, ErrStaleLease
	}
	log := o.logger.With("job_id", lease.JobID)

	var (
		result   *models.Job
		files    []models.JobFileDetail
		terminal bool
		changed  bool
	)
	err := o.store.WithTx(ctx, func(ctx context.Context, repo store.Repository) error {
		job, err := o.lockLeased(ctx, repo, lease)
		if err != nil {
			return err
		}
		if job.Status.IsTerminal() {
			if outputs == nil && sameTerminal(job, upd) {
				result = job
				return nil
			}
			return fmt.Errorf("%w: job %s is already %s", ErrInvalidTransition, job.ID, job.Status)
		}
		if job.Status != models.JobStatusProcessing {
			return fmt.Errorf("%w: %s -> %s", ErrInvalidTransition, job.Status, upd.Status)
		}

		now := o.now()
		if upd.Progress != nil {
			p := clampProgress(*upd.Progress)
			if p < job.Progress {
				log.Warn("ignoring out-of-order progress", "current", job.Progress, "reported", p)
			} else if p != job.Progress {
				job.Progress = p
				changed = true
			}
		}

		switch upd.Status {
		case models.JobStatusProcessing:
		case models.JobStatusCompleted:
			order, err := nextOutputOrder(ctx, repo, job.ID)
			if err != nil {
				return err
			}
			for i, nf := range outputs {
				f := &models.File{
					ID:           uuid.NewString(),
					Name:         nf.Name,
					OriginalName: nf.OriginalName,
					Size:         nf.Size,
					MimeType:     nf.MimeType,
					Bucket:       nf.Bucket,
					StorageKey:   nf.StorageKey,
					Type:         models.FileTypeOutput,
					ExpiresAt:    now.Add(o.retention),
					UserID:       job.UserID,
					CreatedAt:    now,
				}
				if err := repo.CreateFile(ctx, f); err != nil {
					return err
				}
				jf := models.JobFile{JobID: job.ID, FileID: f.ID, IsInput: false, Order: order + i}
				if err := repo.AddJobFile(ctx, jf); err != nil {
					return err
				}
			}
			job.Status = models.JobStatusCompleted
			job.Progress = 100
			job.Error = nil
			job.CompletedAt = &now
			terminal, changed = true, true
		case models.JobStatusFailed:
			msg := failureMessage(upd.Error)
			job.Status = models.JobStatusFailed
			job.Error = &msg
			job.CompletedAt = &now
			terminal, changed = true, true
		default:
			return fmt.Errorf("%w: %s -> %s", ErrInvalidTransition, job.Status, upd.Status)
		}

		if !changed {
			result = job
			return nil
		}
		job.UpdatedAt = now
		if err := repo.UpdateJob(ctx, job); err != nil {
			return err
		}
		if terminal {
			files, err = repo.ListJobFiles(ctx, job.ID)
			if err != nil {
				return err
			}
		}
		result = job
		return nil
	})
	if err != nil {
		return nil, err
	}
	if !changed {
		return result, nil
	}

	if terminal {
		o.finished(ctx, log, result, files)
	} else {
		o.refreshCache(ctx, result)
	}
	return result, nil
}

// AbandonJob はリースを持たないままジョブを FAILED にします。
// 最終試行で StartJob 自体が失敗した場合のように、リースを得られなかった配送の後始末に使います。
// 既に終端状態なら ErrInvalidTransition を返します。エポックを進めるため、残っているリースは無効になります。
func (o *Orchestrator) AbandonJob(ctx context.Context, jobID, message string) (*models.Job, error) {
	var (
		result *models.Job
		files  []models.JobFileDetail
	)
	err := o.store.WithTx(ctx, func(ctx context.Context, repo store.Repository) error {
		job, err := repo.LockJob(ctx, jobID)
		if err != nil {
			return err
		}
		if job.Status.IsTerminal() {
			return fmt.Errorf("%w: job %s is already %s", ErrInvalidTransition, jobID, job.Status)
		}
		now := o.now()
		msg := failureMessage(message)
		if job.StartedAt == nil {
			job.StartedAt = &now
		}
		job.Status = models.JobStatusFailed
		job.Error = &msg
		job.CompletedAt = &now
		job.LeaseEpoch++
		job.UpdatedAt = now
		if err := repo.UpdateJob(ctx, job); err != nil {
			return err
		}
		files, err = repo.ListJobFiles(ctx, job.ID)
		if err != nil {
			return err
		}
		result = job
		return nil
	})
	if err != nil {
		return nil, err
	}
	o.finished(ctx, o.logger.With("job_id", jobID), result, files)
	return result, nil
}

// finished は終端状態になったジョブのキャッシュ・メトリクス・Webhook を処理します。
func (o *Orchestrator) finished(ctx context.Context, log *slog.Logger, job *models.Job, files []models.JobFileDetail) {
	o.putCache(ctx, job, files)
	var startedAt time.Time
	if job.StartedAt != nil {
		startedAt = *job.StartedAt
	}
	o.metrics.JobFinished(string(job.Type), string(job.Status), startedAt, *job.CompletedAt)
	log.Info("job finished", "status", job.Status, "outputs", countOutputs(files))
	if job.WebhookURL != nil && o.notifier != nil {
		o.notifier.Notify(job.Clone(), files)
	}
}

func countOutputs(files []models.JobFileDetail) int {
	n := 0
	for _, f := range files {
		if !f.IsInput {
			n++
		}
	}
	return n
}

// GetJobStatus はジョブの現在状態を返します。キャッシュがあれば先に参照します。
func (o *Orchestrator) GetJobStatus(ctx context.Context, jobID string) (*JobView, error) {
	if o.cache != nil {
		view, err := o.cache.Get(ctx, jobID)
		if err != nil {
			o.logger.Warn("status cache read failed", "job_id", jobID, "error", err)
		} else if view != nil {
			return view, nil
		}
	}
	job, err := o.store.GetJob(ctx, jobID)
	if err != nil {
		return nil, err
	}
	files, err := o.store.ListJobFiles(ctx, jobID)
	if err != nil {
		return nil, err
	}
	view := o.buildView(job, files)
	if o.cache != nil {
		if err := o.cache.Put(ctx, view); err != nil {
			o.logger.Warn("status cache write failed", "job_id", jobID, "error", err)
		}
	}
	return view, nil
}

// JobInputs は入力ファイルを Order 順に返します。
func (o *Orchestrator) JobInputs(ctx context.Context, jobID string) ([]models.JobFileDetail, error) {
	files, err := o.store.ListJobFiles(ctx, jobID)
	if err != nil {
		return nil, err
	}
	inputs := make([]models.JobFileDetail, 0, len(files))
	for _, f := range files {
		if f.IsInput && f.File != nil {
			inputs = append(inputs, f)
		}
	}
	return inputs, nil
}

// ListUserJobs はユーザーのジョブを新しい順に返します。
func (o *Orchestrator) ListUserJobs(ctx context.Context, userID string, limit int) ([]*models.Job, error) {
	if limit <= 0 || limit > MaxHistory {
		limit = MaxHistory
	}
	return o.store.ListUserJobs(ctx, userID, limit)
}

// GetSystemStats はキューごとの件数と直近24時間のジョブ件数を集計します。
func (o *Orchestrator) GetSystemStats(ctx context.Context) (*Stats, error) {
	now := o.now()
	queues, err := o.broker.Stats(ctx, o.registry.Bindings())
	if err != nil {
		return nil, fmt.Errorf("failed to collect queue stats: %w", err)
	}
	counts, err := o.store.CountJobsSince(ctx, now.Add(-24*time.Hour))
	if err != nil {
		return nil, fmt.Errorf("failed to count jobs: %w", err)
	}
	return &Stats{
		Queues:        queues,
		Last24h:       counts,
		UptimeSeconds: int64(now.Sub(o.startedAt).Seconds()),
		GeneratedAt:   now,
	}, nil
}

// DeleteJob はジョブと、他のジョブから参照されていないファイルをオブジェクトごと削除します。
// 処理中のジョブは削除できません。
func (o *Orchestrator) DeleteJob(ctx context.Context, jobID string) error {
	job, err := o.store.GetJob(ctx, jobID)
	if err != nil {
		return err
	}
	if job.Status == models.JobStatusProcessing {
		return fmt.Errorf("%w: job %s is processing", ErrInvalidTransition, jobID)
	}
	files, err := o.store.ListJobFiles(ctx, jobID)
	if err != nil {
		return err
	}

	var owned []*models.File
	for _, f := range files {
		if f.IsInput {
			links, err := o.store.CountFileLinks(ctx, f.FileID)
			if err != nil {
				return err
			}
			if links > 1 {
				continue
			}
		}
		owned = append(owned, f.File)
	}

	if o.storage != nil {
		for _, f := range owned {
			if err := o.storage.Delete(ctx, f.Bucket, f.StorageKey); err != nil && !errors.Is(err, storage.ErrNotFound) {
				return fmt.Errorf("failed to delete object %s/%s: %w", f.Bucket, f.StorageKey, err)
			}
		}
	}

	err = o.store.WithTx(ctx, func(ctx context.Context, repo store.Repository) error {
		cur, err := repo.LockJob(ctx, jobID)
		if err != nil {
			return err
		}
		if cur.Status == models.JobStatusProcessing {
			return fmt.Errorf("%w: job %s is processing", ErrInvalidTransition, jobID)
		}
		if err := repo.DeleteJob(ctx, jobID); err != nil {
			return err
		}
		for _, f := range owned {
			if err := repo.DeleteFile(ctx, f.ID); err != nil && !errors.Is(err, store.ErrNotFound) {
				return err
			}
		}
		return nil
	})
	if err != nil {
		return err
	}
	if o.cache != nil {
		if err := o.cache.Delete(ctx, jobID); err != nil {
			o.logger.Warn("status cache delete failed", "job_id", jobID, "error", err)
		}
	}
	o.logger.Info("job deleted", "job_id", jobID, "files", len(owned))
	return nil
}

func (o *Orchestrator) buildView(job *models.Job, files []models.JobFileDetail) *JobView {
	view := &JobView{
		ID:          job.ID,
		Type:        job.Type,
		Status:      job.Status,
		Progress:    job.Progress,
		Error:       job.Error,
		Metadata:    job.Metadata,
		InputFiles:  []FileSummary{},
		OutputFiles: []FileSummary{},
		CreatedAt:   job.CreatedAt,
		StartedAt:   job.StartedAt,
		CompletedAt: job.CompletedAt,
		UpdatedAt:   job.UpdatedAt,
	}
	for _, f := range files {
		if f.File == nil {
			continue
		}
		s := FileSummary{
			ID:        f.File.ID,
			Name:      f.File.OriginalName,
			Size:      f.File.Size,
			MimeType:  f.File.MimeType,
			Order:     f.Order,
			ExpiresAt: f.File.ExpiresAt,
		}
		if o.fileURL != nil {
			s.DownloadURL = o.fileURL(f.File.ID)
		}
		if f.IsInput {
			view.InputFiles = append(view.InputFiles, s)
		} else {
			view.OutputFiles = append(view.OutputFiles, s)
		}
	}
	return view
}

func (o *Orchestrator) putCache(ctx context.Context, job *models.Job, files []models.JobFileDetail) {
	if o.cache == nil {
		return
	}
	if err := o.cache.Put(ctx, o.buildView(job, files)); err != nil {
		o.logger.Warn("status cache write failed", "job_id", job.ID, "error", err)
	}
}

// refreshCache はファイル一覧を読み直してキャッシュを更新します。
func (o *Orchestrator) refreshCache(ctx context.Context, job *models.Job) {
	if o.cache == nil {
		return
	}
	files, err := o.store.ListJobFiles(ctx, job.ID)
	if err != nil {
		o.logger.Warn("status cache refresh failed", "job_id", job.ID, "error", err)
		return
	}
	o.putCache(ctx, job, files)
}
