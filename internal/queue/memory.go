package queue

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"sync"
	"time"

	"github.com/yourusername/docforge/internal/registry"
)

const defaultPollInterval = 20 * time.Millisecond

// MemoryBroker はプロセス内で完結する Broker/Consumer です。
// リース期限切れによる再配送、指数バックオフ、dead 状態を実装しています。
type MemoryBroker struct {
	logger       *slog.Logger
	now          func() time.Time
	backoff      func(n int) time.Duration
	pollInterval time.Duration

	mu     sync.Mutex
	queues map[string]*memQueue
	seen   map[string]struct{}
	stop   chan struct{}
	wg     sync.WaitGroup
}

type memQueue struct {
	binding   registry.Binding
	pending   []*memTask
	active    map[string]*memTask
	dead      []*memTask
	completed int
	signal    chan struct{}
}

type memTask struct {
	msg      Message
	retried  int
	maxRetry int
	timeout  time.Duration
	readyAt  time.Time
	deadline time.Time
	token    uint64
}

// MemoryOption は MemoryBroker の設定を変更します。
type MemoryOption func(*MemoryBroker)

// WithBackoff はバックオフ関数を差し替えます。
func WithBackoff(fn func(n int) time.Duration) MemoryOption {
	return func(m *MemoryBroker) { m.backoff = fn }
}

// WithPollInterval は空きキューのポーリング間隔を変更します。
func WithPollInterval(d time.Duration) MemoryOption {
	return func(m *MemoryBroker) { m.pollInterval = d }
}

// WithClock は現在時刻の取得関数を差し替えます。
func WithClock(now func() time.Time) MemoryOption {
	return func(m *MemoryBroker) { m.now = now }
}

func NewMemoryBroker(logger *slog.Logger, opts ...MemoryOption) *MemoryBroker {
	if logger == nil {
		logger = slog.Default()
	}
	m := &MemoryBroker{
		logger:       logger,
		now:          time.Now,
		backoff:      Backoff,
		pollInterval: defaultPollInterval,
		queues:       make(map[string]*memQueue),
		seen:         make(map[string]struct{}),
		stop:         make(chan struct{}),
	}
	for _, opt := range opts {
		opt(m)
	}
	return m
}

func (m *MemoryBroker) queueLocked(b registry.Binding) *memQueue {
	q, ok := m.queues[b.Queue]
	if !ok {
		q = &memQueue{
			binding: b,
			active:  make(map[string]*memTask),
			signal:  make(chan struct{}, 1),
		}
		m.queues[b.Queue] = q
	}
	return q
}

func (m *MemoryBroker) Enqueue(ctx context.Context, b registry.Binding, msg Message) (string, error) {
	if err := ctx.Err(); err != nil {
		return "", err
	}
	if msg.JobID == "" {
		return "", fmt.Errorf("message.JobID is required")
	}
	m.mu.Lock()
	defer m.mu.Unlock()

	if _, dup := m.seen[msg.JobID]; dup {
		return msg.JobID, fmt.Errorf("%w: %s", ErrDuplicateMessage, msg.JobID)
	}
	m.seen[msg.JobID] = struct{}{}

	msg.ID = msg.JobID
	q := m.queueLocked(b)
	q.pending = append(q.pending, &memTask{
		msg:      msg,
		maxRetry: b.MaxRetry,
		timeout:  b.Timeout,
		readyAt:  m.now(),
	})
	notify(q)
	return msg.ID, nil
}

func notify(q *memQueue) {
	select {
	case q.signal <- struct{}{}:
	default:
	}
}

func (m *MemoryBroker) Stats(ctx context.Context, bindings []registry.Binding) ([]QueueStats, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	m.mu.Lock()
	defer m.mu.Unlock()

	now := m.now()
	out := make([]QueueStats, 0, len(bindings))
	for _, b := range bindings {
		st := QueueStats{Queue: b.Queue, Type: b.Type, Class: b.Class}
		if q, ok := m.queues[b.Queue]; ok {
			m.expireLocked(q, now)
			for _, t := range q.pending {
				if t.readyAt.After(now) {
					st.Delayed++
				} else {
					st.Waiting++
				}
			}
			st.Active = len(q.active)
			st.Failed = len(q.dead)
			st.Completed = q.completed
		}
		out = append(out, st)
	}
	return out, nil
}

// Dead は dead 状態のメッセージを返します。
func (m *MemoryBroker) Dead(queue string) []Message {
	m.mu.Lock()
	defer m.mu.Unlock()
	q, ok := m.queues[queue]
	if !ok {
		return nil
	}
	out := make([]Message, 0, len(q.dead))
	for _, t := range q.dead {
		out = append(out, t.msg)
	}
	return out
}

func (m *MemoryBroker) Close() error {
	m.Shutdown()
	return nil
}

func (m *MemoryBroker) Start(bindings []registry.Binding, h Handler) error {
	if h == nil {
		return errors.New("handler is nil")
	}
	m.mu.Lock()
	defer m.mu.Unlock()
	select {
	case <-m.stop:
		return errors.New("broker is shut down")
	default:
	}

	for _, b := range bindings {
		q := m.queueLocked(b)
		q.binding = b
		slots := b.Slots
		if slots <= 0 {
			slots = 1
		}
		for i := 0; i < slots; i++ {
			m.wg.Add(1)
			go m.runExecutor(q, h)
		}
		m.logger.Info("queue consumer started", "queue", b.Queue, "class", b.Class, "slots", slots)
	}
	return nil
}

// Shutdown は新規リースを止め、実行中のハンドラの終了を待ちます。
func (m *MemoryBroker) Shutdown() {
	m.mu.Lock()
	select {
	case <-m.stop:
	default:
		close(m.stop)
	}
	m.mu.Unlock()
	m.wg.Wait()
}

func (m *MemoryBroker) runExecutor(q *memQueue, h Handler) {
	defer m.wg.Done()
	for {
		select {
		case <-m.stop:
			return
		default:
		}

		task, msg, token, ok := m.lease(q)
		if !ok {
			select {
			case <-m.stop:
				return
			case <-q.signal:
			case <-time.After(m.pollInterval):
			}
			continue
		}

		err := m.invoke(task, msg, h)
		m.resolve(q, task, token, err)
	}
}

// lease は配送可能な先頭メッセージをリースします。期限切れのリースは先に回収します。
func (m *MemoryBroker) lease(q *memQueue) (*memTask, *Message, uint64, bool) {
	m.mu.Lock()
	defer m.mu.Unlock()

	now := m.now()
	m.expireLocked(q, now)
	for i, t := range q.pending {
		if t.readyAt.After(now) {
			continue
		}
		q.pending = append(q.pending[:i], q.pending[i+1:]...)
		t.token++
		t.deadline = now.Add(t.timeout)
		q.active[t.msg.JobID] = t

		msg := t.msg
		msg.Attempt = t.retried
		msg.MaxRetry = t.maxRetry
		return t, &msg, t.token, true
	}
	return nil, nil, 0, false
}

// expireLocked はリース期限を過ぎたメッセージを失敗扱いにして再配送待ちへ戻します。
func (m *MemoryBroker) expireLocked(q *memQueue, now time.Time) {
	for id, t := range q.active {
		if t.timeout <= 0 || now.Before(t.deadline) {
			continue
		}
		delete(q.active, id)
		m.logger.Warn("lease expired", "queue", q.binding.Queue, "job_id", id, "attempt", t.retried)
		m.retryOrBuryLocked(q, t, now, errors.New("lease expired"))
	}
}

func (m *MemoryBroker) retryOrBuryLocked(q *memQueue, t *memTask, now time.Time, cause error) {
	if t.retried >= t.maxRetry {
		q.dead = append(q.dead, t)
		m.logger.Warn("message moved to dead", "queue", q.binding.Queue, "job_id", t.msg.JobID, "error", cause)
		return
	}
	t.readyAt = now.Add(m.backoff(t.retried))
	t.retried++
	q.pending = append(q.pending, t)
	notify(q)
}

func (m *MemoryBroker) invoke(t *memTask, msg *Message, h Handler) (err error) {
	ctx := context.Background()
	if t.timeout > 0 {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(ctx, t.timeout)
		defer cancel()
	}
	defer func() {
		if p := recover(); p != nil {
			err = fmt.Errorf("panic in handler: %v", p)
		}
	}()
	return h(ctx, msg)
}

func (m *MemoryBroker) resolve(q *memQueue, leased *memTask, token uint64, err error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	cur, ok := q.active[leased.msg.JobID]
	if !ok || cur != leased || cur.token != token {
		// 期限切れ後に戻ってきた古いリースの結果は捨てる
		m.logger.Warn("stale lease resolved", "queue", q.binding.Queue, "job_id", leased.msg.JobID)
		return
	}
	delete(q.active, leased.msg.JobID)

	switch {
	case err == nil:
		q.completed++
	case errors.Is(err, ErrSkipRetry):
		q.dead = append(q.dead, leased)
	default:
		m.retryOrBuryLocked(q, leased, m.now(), err)
	}
}
