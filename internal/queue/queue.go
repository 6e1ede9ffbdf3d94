// Package queue はジョブ種別ごとの独立したディスパッチキューを提供します。
// 本番は asynq (Redis)、テストとローカル実行はインメモリ実装を使います。
package queue

import (
	"context"
	"encoding/json"
	"errors"
	"math/rand/v2"
	"time"

	"github.com/hibiken/asynq"

	"github.com/yourusername/docforge/internal/models"
	"github.com/yourusername/docforge/internal/registry"
)

// TaskTypeJob は asynq のタスク種別です。キューはジョブ種別ごとに分かれます。
const TaskTypeJob = "job:process"

var (
	// ErrDuplicateMessage は同じジョブIDのメッセージが既に投入済みであることを表します。
	ErrDuplicateMessage = errors.New("duplicate message")
	// ErrSkipRetry をラップしたエラーをハンドラが返すと、メッセージは再試行されず dead になります。
	ErrSkipRetry = asynq.SkipRetry
)

// Message はキューに載る1件の処理依頼です。Params はジョブ作成時に正規化したパラメータのコピーです。
type Message struct {
	ID       string          `json:"id"`
	JobID    string          `json:"jobId"`
	Type     models.JobType  `json:"type"`
	Params   json.RawMessage `json:"params,omitempty"`
	Attempt  int             `json:"-"`
	MaxRetry int             `json:"-"`
}

// IsFinalAttempt はこの配送で失敗すると再試行されない場合に true を返します。
func (m *Message) IsFinalAttempt() bool {
	return m.Attempt >= m.MaxRetry
}

// Handler はリースしたメッセージを処理します。nil を返すと ack されます。
type Handler func(ctx context.Context, msg *Message) error

// QueueStats はキュー1本分の件数です。
type QueueStats struct {
	Queue     string         `json:"queue"`
	Type      models.JobType `json:"type"`
	Class     registry.Class `json:"class"`
	Waiting   int            `json:"waiting"`
	Active    int            `json:"active"`
	Delayed   int            `json:"delayed"`
	Failed    int            `json:"failed"`
	Completed int            `json:"completed"`
}

// Broker はメッセージの投入と統計取得を行います。
type Broker interface {
	Enqueue(ctx context.Context, b registry.Binding, msg Message) (string, error)
	Stats(ctx context.Context, bindings []registry.Binding) ([]QueueStats, error)
	Close() error
}

// Consumer は Binding ごとに Slots 個の実行枠を持つプールを起動します。
type Consumer interface {
	Start(bindings []registry.Binding, h Handler) error
	Shutdown()
}

const (
	backoffBase = 2 * time.Second
	backoffMax  = 5 * time.Minute
)

// Backoff は n 回目の再試行までの待ち時間を返します (2s·2ⁿ、上限5分、±20%のジッタ)。
func Backoff(n int) time.Duration {
	d := backoffDelay(n)
	jitter := time.Duration(float64(d) * 0.2 * (rand.Float64()*2 - 1))
	return d + jitter
}

func backoffDelay(n int) time.Duration {
	if n < 0 {
		n = 0
	}
	d := backoffBase
	for i := 0; i < n; i++ {
		d *= 2
		if d >= backoffMax {
			return backoffMax
		}
	}
	return d
}
