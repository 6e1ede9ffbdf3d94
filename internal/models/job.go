// Package models はジョブ・ファイル・ユーザーのドメインモデルを定義します。
package models

import (
	"encoding/json"
	"time"
)

// JobType はジョブ種別タグです。
type JobType string

const (
	JobTypeMerge       JobType = "MERGE"
	JobTypeSplit       JobType = "SPLIT"
	JobTypeCompress    JobType = "COMPRESS"
	JobTypeRotate      JobType = "ROTATE"
	JobTypeReorder     JobType = "REORDER"
	JobTypePDFToWord   JobType = "PDF_TO_WORD"
	JobTypeWordToPDF   JobType = "WORD_TO_PDF"
	JobTypeOCR         JobType = "OCR"
	JobTypeProtect     JobType = "PROTECT"
	JobTypeUnlock      JobType = "UNLOCK"
	JobTypeWatermark   JobType = "WATERMARK"
	JobTypeSign        JobType = "SIGN"
	JobTypePDFToImage  JobType = "PDF_TO_IMAGE"
	JobTypeVideoResize JobType = "VIDEO_RESIZE"
)

// JobStatus はジョブの状態を表します。
type JobStatus string

const (
	JobStatusUploaded   JobStatus = "UPLOADED"
	JobStatusProcessing JobStatus = "PROCESSING"
	JobStatusCompleted  JobStatus = "COMPLETED"
	JobStatusFailed     JobStatus = "FAILED"
)

// IsTerminal は COMPLETED または FAILED のとき true を返します。
func (s JobStatus) IsTerminal() bool {
	return s == JobStatusCompleted || s == JobStatusFailed
}

// Job はユーザーが依頼した1件の変換処理です。
type Job struct {
	ID          string          `json:"id"`
	Type        JobType         `json:"type"`
	Status      JobStatus       `json:"status"`
	Progress    int             `json:"progress"`
	Error       *string         `json:"error,omitempty"`
	Metadata    json.RawMessage `json:"metadata,omitempty"`
	WebhookURL  *string         `json:"webhookUrl,omitempty"`
	UserID      *string         `json:"userId,omitempty"`
	LeaseEpoch  int64           `json:"-"`
	Attempts    int             `json:"attempts"`
	CreatedAt   time.Time       `json:"createdAt"`
	StartedAt   *time.Time      `json:"startedAt,omitempty"`
	CompletedAt *time.Time      `json:"completedAt,omitempty"`
	UpdatedAt   time.Time       `json:"updatedAt"`
}

// Clone はポインタフィールドも含めてコピーを返します。
func (j *Job) Clone() *Job {
	if j == nil {
		return nil
	}
	c := *j
	if j.Error != nil {
		v := *j.Error
		c.Error = &v
	}
	if j.WebhookURL != nil {
		v := *j.WebhookURL
		c.WebhookURL = &v
	}
	if j.UserID != nil {
		v := *j.UserID
		c.UserID = &v
	}
	if j.StartedAt != nil {
		v := *j.StartedAt
		c.StartedAt = &v
	}
	if j.CompletedAt != nil {
		v := *j.CompletedAt
		c.CompletedAt = &v
	}
	if j.Metadata != nil {
		c.Metadata = append(json.RawMessage(nil), j.Metadata...)
	}
	return &c
}

// JobFile はジョブとファイルの順序付き関連です。
type JobFile struct {
	JobID   string `json:"jobId"`
	FileID  string `json:"fileId"`
	IsInput bool   `json:"isInput"`
	Order   int    `json:"order"`
}

// JobFileDetail は JobFile に File 本体を結合したものです。
type JobFileDetail struct {
	JobFile
	File *File `json:"file"`
}

// JobCounts は期間内のジョブ件数集計です。
type JobCounts struct {
	Total     int `json:"total"`
	Completed int `json:"completed"`
	Failed    int `json:"failed"`
}
