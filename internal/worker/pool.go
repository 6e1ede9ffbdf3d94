package worker

import (
	"errors"
	"fmt"
	"log/slog"

	"github.com/yourusername/docforge/internal/queue"
	"github.com/yourusername/docforge/internal/registry"
)

// Pool は選択したクラスのキューごとに、Slots 個の実行枠で Executor を動かします。
type Pool struct {
	consumer queue.Consumer
	registry *registry.Registry
	executor *Executor
	classes  []registry.Class
	logger   *slog.Logger
}

// NewPool は WORKER_TYPE 相当の値 (FAST, MEDIUM, HEAVY, ALL) で対象キューを絞った Pool を返します。
func NewPool(consumer queue.Consumer, reg *registry.Registry, exec *Executor, workerType string, logger *slog.Logger) (*Pool, error) {
	if consumer == nil || reg == nil || exec == nil {
		return nil, errors.New("consumer, registry and executor are required")
	}
	classes, err := registry.ParseClasses(workerType)
	if err != nil {
		return nil, err
	}
	if logger == nil {
		logger = slog.Default()
	}
	return &Pool{
		consumer: consumer,
		registry: reg,
		executor: exec,
		classes:  classes,
		logger:   logger,
	}, nil
}

// Bindings はこの Pool が消費するキューです。ハンドラ未登録の種別は含みません。
func (p *Pool) Bindings() []registry.Binding {
	var out []registry.Binding
	for _, b := range p.registry.ByClass(p.classes...) {
		if b.Handler == nil {
			p.logger.Warn("no handler registered; queue not consumed", "type", b.Type, "queue", b.Queue)
			continue
		}
		out = append(out, b)
	}
	return out
}

// Start はキューの消費を開始します。
func (p *Pool) Start() error {
	bindings := p.Bindings()
	if len(bindings) == 0 {
		return fmt.Errorf("no queues to consume for classes %v", p.classes)
	}
	if err := p.consumer.Start(bindings, p.executor.Process); err != nil {
		return fmt.Errorf("failed to start consumers: %w", err)
	}
	p.logger.Info("worker pool started", "classes", p.classes, "queues", len(bindings))
	return nil
}

// Shutdown は新規リースを止め、実行中の処理の完了を待ちます。
func (p *Pool) Shutdown() {
	p.consumer.Shutdown()
	p.logger.Info("worker pool stopped")
}
