// Package store はユーザー・ファイル・ジョブ・ジョブファイルのメタデータを永続化します。
// Postgres 実装 (pgx + goose) とインメモリ実装を提供します。
package store

import (
	"context"
	"errors"
	"time"

	"github.com/yourusername/docforge/internal/models"
)

var (
	// ErrNotFound は対象の行が存在しない場合に返されます。
	ErrNotFound = errors.New("not found")
	// ErrConflict は一意制約違反などで書き込めない場合に返されます。
	ErrConflict = errors.New("conflict")
)

// Repository はメタデータ操作の集合です。トランザクション内外で同じ操作を使えます。
type Repository interface {
	CreateJob(ctx context.Context, job *models.Job) error
	GetJob(ctx context.Context, id string) (*models.Job, error)
	// LockJob はトランザクション内でジョブ行を排他ロックして取得します。
	LockJob(ctx context.Context, id string) (*models.Job, error)
	UpdateJob(ctx context.Context, job *models.Job) error
	DeleteJob(ctx context.Context, id string) error
	ListUserJobs(ctx context.Context, userID string, limit int) ([]*models.Job, error)
	CountJobsSince(ctx context.Context, since time.Time) (models.JobCounts, error)

	CreateFile(ctx context.Context, file *models.File) error
	// GetFiles は存在するファイルのみを返します。順序は保証しません。
	GetFiles(ctx context.Context, ids []string) ([]*models.File, error)
	DeleteFile(ctx context.Context, id string) error
	// CountFileLinks は fileID を参照している JobFile の数を返します。
	CountFileLinks(ctx context.Context, fileID string) (int, error)

	AddJobFile(ctx context.Context, jf models.JobFile) error
	// ListJobFiles は入力を Order 順に、続けて出力を Order 順に返します。
	ListJobFiles(ctx context.Context, jobID string) ([]models.JobFileDetail, error)

	CreateUser(ctx context.Context, user *models.User) error
	GetUser(ctx context.Context, id string) (*models.User, error)
	// IncrementDailyUsage は UTC の日付が変わっていれば 1 にリセットし、そうでなければ加算します。
	IncrementDailyUsage(ctx context.Context, userID string, now time.Time) (*models.User, error)
}

// Store は Repository にトランザクションと接続管理を加えたものです。
type Store interface {
	Repository
	WithTx(ctx context.Context, fn func(ctx context.Context, repo Repository) error) error
	Ping(ctx context.Context) error
	Close() error
}

func sameUTCDay(a, b time.Time) bool {
	ay, am, ad := a.UTC().Date()
	by, bm, bd := b.UTC().Date()
	return ay == by && am == bm && ad == bd
}
