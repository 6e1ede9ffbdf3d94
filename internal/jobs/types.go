// Package jobs はジョブのライフサイクル（作成・状態遷移・出力の紐付け・照会・統計）を管理します。
package jobs

import (
	"encoding/json"
	"time"

	"github.com/yourusername/docforge/internal/models"
	"github.com/yourusername/docforge/internal/queue"
)

// Lease はワーカーがジョブを処理する権利を表すフェンシングトークンです。
// Epoch が現在のジョブの LeaseEpoch と一致しない書き込みは拒否されます。
type Lease struct {
	JobID string `json:"jobId"`
	Epoch int64  `json:"epoch"`
}

// CreateJobRequest はジョブ作成の入力です。FileIDs の順序が入力順になります。
type CreateJobRequest struct {
	Type       models.JobType  `json:"type"`
	FileIDs    []string        `json:"fileIds"`
	Metadata   json.RawMessage `json:"metadata,omitempty"`
	UserID     *string         `json:"userId,omitempty"`
	WebhookURL *string         `json:"webhookUrl,omitempty"`
}

// StatusUpdate は UpdateJobStatus の入力です。
type StatusUpdate struct {
	Status   models.JobStatus
	Progress *int
	Error    string
}

// NewFile はワーカーがアップロード済みの出力ファイルです。
type NewFile struct {
	Name         string
	OriginalName string
	Size         int64
	MimeType     string
	Bucket       string
	StorageKey   string
}

// FileSummary はジョブ照会で返すファイル情報です。
type FileSummary struct {
	ID          string    `json:"id"`
	Name        string    `json:"name"`
	Size        int64     `json:"size"`
	MimeType    string    `json:"mimeType"`
	Order       int       `json:"order"`
	DownloadURL string    `json:"downloadUrl,omitempty"`
	ExpiresAt   time.Time `json:"expiresAt"`
}

// JobView はジョブ状態の読み取り専用の射影です。
type JobView struct {
	ID          string           `json:"id"`
	Type        models.JobType   `json:"type"`
	Status      models.JobStatus `json:"status"`
	Progress    int              `json:"progress"`
	Error       *string          `json:"error,omitempty"`
	Metadata    json.RawMessage  `json:"metadata,omitempty"`
	InputFiles  []FileSummary    `json:"inputFiles"`
	OutputFiles []FileSummary    `json:"outputFiles"`
	CreatedAt   time.Time        `json:"createdAt"`
	StartedAt   *time.Time       `json:"startedAt,omitempty"`
	CompletedAt *time.Time       `json:"completedAt,omitempty"`
	UpdatedAt   time.Time        `json:"updatedAt"`
}

// Stats はシステム全体の統計です。
type Stats struct {
	Queues        []queue.QueueStats `json:"queues"`
	Last24h       models.JobCounts   `json:"last24h"`
	UptimeSeconds int64              `json:"uptimeSeconds"`
	GeneratedAt   time.Time          `json:"generatedAt"`
}
