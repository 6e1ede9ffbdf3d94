package queue

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"os"
	"time"

	"github.com/hibiken/asynq"

	"github.com/yourusername/docforge/internal/registry"
)

// completedRetention は完了タスクを保持する期間です。保持中は同じジョブIDの再投入が重複として弾かれます。
const completedRetention = 24 * time.Hour

// AsynqBroker は asynq.Client と asynq.Inspector による Broker です。
type AsynqBroker struct {
	client    *asynq.Client
	inspector *asynq.Inspector
}

// NewAsynqBroker は Redis URL から Broker を構築します。
func NewAsynqBroker(redisURL string) (*AsynqBroker, error) {
	opt, err := asynq.ParseRedisURI(redisURL)
	if err != nil {
		return nil, fmt.Errorf("failed to parse redis url: %w", err)
	}
	return &AsynqBroker{
		client:    asynq.NewClient(opt),
		inspector: asynq.NewInspector(opt),
	}, nil
}

func newTask(b registry.Binding, msg Message) (*asynq.Task, []asynq.Option, error) {
	if msg.JobID == "" {
		return nil, nil, fmt.Errorf("message.JobID is required")
	}
	body, err := json.Marshal(msg)
	if err != nil {
		return nil, nil, err
	}
	opts := []asynq.Option{
		asynq.Queue(b.Queue),
		asynq.TaskID(msg.JobID),
		asynq.MaxRetry(b.MaxRetry),
		asynq.Retention(completedRetention),
	}
	if b.Timeout > 0 {
		opts = append(opts, asynq.Timeout(b.Timeout))
	}
	return asynq.NewTask(TaskTypeJob, body), opts, nil
}

func (a *AsynqBroker) Enqueue(ctx context.Context, b registry.Binding, msg Message) (string, error) {
	task, opts, err := newTask(b, msg)
	if err != nil {
		return "", err
	}
	info, err := a.client.EnqueueContext(ctx, task, opts...)
	if err != nil {
		if errors.Is(err, asynq.ErrTaskIDConflict) || errors.Is(err, asynq.ErrDuplicateTask) {
			return msg.JobID, fmt.Errorf("%w: %s", ErrDuplicateMessage, msg.JobID)
		}
		return "", err
	}
	return info.ID, nil
}

func (a *AsynqBroker) Stats(ctx context.Context, bindings []registry.Binding) ([]QueueStats, error) {
	out := make([]QueueStats, 0, len(bindings))
	for _, b := range bindings {
		if err := ctx.Err(); err != nil {
			return nil, err
		}
		st := QueueStats{Queue: b.Queue, Type: b.Type, Class: b.Class}
		info, err := a.inspector.GetQueueInfo(b.Queue)
		if err != nil {
			if errors.Is(err, asynq.ErrQueueNotFound) {
				out = append(out, st)
				continue
			}
			return nil, fmt.Errorf("failed to inspect queue %s: %w", b.Queue, err)
		}
		st.Waiting = info.Pending
		st.Active = info.Active
		st.Delayed = info.Scheduled + info.Retry
		st.Failed = info.Archived
		st.Completed = info.Completed
		out = append(out, st)
	}
	return out, nil
}

func (a *AsynqBroker) Close() error {
	errClient := a.client.Close()
	errInspector := a.inspector.Close()
	return errors.Join(errClient, errInspector)
}

// AsynqConsumer はキューごとに asynq.Server を1つ起動します。
type AsynqConsumer struct {
	opt     asynq.RedisConnOpt
	logger  *slog.Logger
	servers []*asynq.Server
}

// NewAsynqConsumer は Redis URL から Consumer を構築します。
func NewAsynqConsumer(redisURL string, logger *slog.Logger) (*AsynqConsumer, error) {
	opt, err := asynq.ParseRedisURI(redisURL)
	if err != nil {
		return nil, fmt.Errorf("failed to parse redis url: %w", err)
	}
	if logger == nil {
		logger = slog.Default()
	}
	return &AsynqConsumer{opt: opt, logger: logger}, nil
}

func (c *AsynqConsumer) Start(bindings []registry.Binding, h Handler) error {
	if h == nil {
		return errors.New("handler is nil")
	}
	for _, b := range bindings {
		b := b
		srv := asynq.NewServer(c.opt, asynq.Config{
			Concurrency: b.Slots,
			Queues: map[string]int{
				b.Queue: 1,
			},
			RetryDelayFunc: func(n int, _ error, _ *asynq.Task) time.Duration {
				return Backoff(n)
			},
			Logger:          &asynqLogger{l: c.logger.With("queue", b.Queue)},
			ShutdownTimeout: b.Timeout,
		})
		mux := asynq.NewServeMux()
		mux.HandleFunc(TaskTypeJob, func(ctx context.Context, task *asynq.Task) error {
			msg, err := decodeTask(ctx, task)
			if err != nil {
				return fmt.Errorf("%w: %v", ErrSkipRetry, err)
			}
			return h(ctx, msg)
		})
		if err := srv.Start(mux); err != nil {
			c.Shutdown()
			return fmt.Errorf("failed to start consumer for %s: %w", b.Queue, err)
		}
		c.servers = append(c.servers, srv)
		c.logger.Info("queue consumer started", "queue", b.Queue, "class", b.Class, "slots", b.Slots)
	}
	return nil
}

func decodeTask(ctx context.Context, task *asynq.Task) (*Message, error) {
	var msg Message
	if err := json.Unmarshal(task.Payload(), &msg); err != nil {
		return nil, fmt.Errorf("malformed task payload: %w", err)
	}
	if msg.JobID == "" {
		return nil, errors.New("missing jobId in payload")
	}
	if id, ok := asynq.GetTaskID(ctx); ok {
		msg.ID = id
	}
	if n, ok := asynq.GetRetryCount(ctx); ok {
		msg.Attempt = n
	}
	if n, ok := asynq.GetMaxRetry(ctx); ok {
		msg.MaxRetry = n
	}
	return &msg, nil
}

func (c *AsynqConsumer) Shutdown() {
	for _, srv := range c.servers {
		srv.Shutdown()
	}
	c.servers = nil
}

// asynqLogger は asynq のログを slog に流します。
type asynqLogger struct {
	l *slog.Logger
}

func (a *asynqLogger) Debug(args ...any) { a.l.Debug(fmt.Sprint(args...)) }
func (a *asynqLogger) Info(args ...any)  { a.l.Info(fmt.Sprint(args...)) }
func (a *asynqLogger) Warn(args ...any)  { a.l.Warn(fmt.Sprint(args...)) }
func (a *asynqLogger) Error(args ...any) { a.l.Error(fmt.Sprint(args...)) }
func (a *asynqLogger) Fatal(args ...any) {
	a.l.Error(fmt.Sprint(args...))
	os.Exit(1)
}
