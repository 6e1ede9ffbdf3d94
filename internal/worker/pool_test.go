package worker

import (
	"bytes"
	"context"
	"errors"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/yourusername/docforge/internal/models"
	"github.com/yourusername/docforge/internal/registry"
)

func startPool(t *testing.T, e *env, workerType string) *Pool {
	t.Helper()
	pool, err := NewPool(e.broker, e.reg, e.exec, workerType, nil)
	require.NoError(t, err)
	require.NoError(t, pool.Start())
	t.Cleanup(pool.Shutdown)
	return pool
}

func TestPoolMergeEndToEnd(t *testing.T) {
	e := newEnv(t, registry.DefaultOptions())
	require.NoError(t, e.reg.Register(models.JobTypeMerge, func(ctx context.Context, req *registry.Request) ([]registry.Output, error) {
		var merged bytes.Buffer
		for i, in := range req.Inputs {
			data, err := req.Fetch(ctx, in)
			if err != nil {
				return nil, err
			}
			merged.Write(data)
			req.ReportProgress((i + 1) * 100 / (len(req.Inputs) + 1))
		}
		return []registry.Output{{Data: merged.Bytes(), MimeType: "application/pdf", SuggestedName: "merged.pdf"}}, nil
	}))
	e.seedFile(t, "f1", "a.pdf")
	e.seedFile(t, "f2", "b.pdf")
	startPool(t, e, "MEDIUM")

	job := e.create(t, models.JobTypeMerge, []string{"f1", "f2"}, "", "https://hooks.example/merge")
	view := e.waitStatus(t, job.ID, models.JobStatusCompleted)

	require.Len(t, view.InputFiles, 2)
	assert.Equal(t, "a.pdf", view.InputFiles[0].Name)
	assert.Equal(t, "b.pdf", view.InputFiles[1].Name)
	require.Len(t, view.OutputFiles, 1)
	assert.Equal(t, "merged.pdf", view.OutputFiles[0].Name)
	assert.Equal(t, int64(len("%PDF-1.4 f1%PDF-1.4 f2")), view.OutputFiles[0].Size)
	require.NotNil(t, view.StartedAt)
	require.NotNil(t, view.CompletedAt)
	assert.False(t, view.CompletedAt.Before(*view.StartedAt))
	assert.Eventually(t, func() bool { return e.notifier.count() == 1 }, time.Second, 5*time.Millisecond)
}

func TestPoolRetriesTransientFailures(t *testing.T) {
	e := newEnv(t, registry.DefaultOptions())
	var calls atomic.Int32
	require.NoError(t, e.reg.Register(models.JobTypeRotate, func(ctx context.Context, req *registry.Request) ([]registry.Output, error) {
		if calls.Add(1) < 3 {
			return nil, errors.New("storage temporarily unavailable")
		}
		return []registry.Output{{Data: []byte("%PDF-1.4 ok"), SuggestedName: "a_rotated.pdf"}}, nil
	}))
	e.seedFile(t, "f1", "a.pdf")
	startPool(t, e, "FAST")

	job := e.create(t, models.JobTypeRotate, []string{"f1"}, `{"rotation":90}`, "")
	e.waitStatus(t, job.ID, models.JobStatusCompleted)

	assert.Equal(t, int32(3), calls.Load())
	stored, err := e.store.GetJob(context.Background(), job.ID)
	require.NoError(t, err)
	assert.Equal(t, 3, stored.Attempts)
	assert.Nil(t, stored.Error)
}

func TestPoolExhaustedRetriesMarkJobFailed(t *testing.T) {
	opts := registry.DefaultOptions()
	opts.MaxRetry = 1
	e := newEnv(t, opts)
	var calls atomic.Int32
	require.NoError(t, e.reg.Register(models.JobTypeRotate, func(context.Context, *registry.Request) ([]registry.Output, error) {
		calls.Add(1)
		return nil, errors.New("upstream unavailable")
	}))
	e.seedFile(t, "f1", "a.pdf")
	startPool(t, e, "ALL")

	job := e.create(t, models.JobTypeRotate, []string{"f1"}, `{"rotation":90}`, "https://hooks.example/x")
	view := e.waitStatus(t, job.ID, models.JobStatusFailed)

	require.NotNil(t, view.Error)
	assert.Equal(t, "upstream unavailable", *view.Error)
	assert.Equal(t, int32(2), calls.Load())
	assert.Eventually(t, func() bool { return len(e.broker.Dead("pdf-rotate")) == 1 }, time.Second, 5*time.Millisecond)
	assert.Equal(t, 1, e.notifier.count())
}

func TestPoolFastJobsAreNotBlockedByHeavyQueue(t *testing.T) {
	opts := registry.DefaultOptions()
	opts.HeavySlots = 1
	e := newEnv(t, opts)

	started := make(chan string, 4)
	release := make(chan struct{})
	var once sync.Once
	unblock := func() { once.Do(func() { close(release) }) }

	require.NoError(t, e.reg.Register(models.JobTypeOCR, func(ctx context.Context, req *registry.Request) ([]registry.Output, error) {
		started <- req.JobID
		select {
		case <-release:
		case <-ctx.Done():
			return nil, ctx.Err()
		}
		return []registry.Output{{Data: []byte("text"), MimeType: "text/plain", SuggestedName: "ocr_scan.txt"}}, nil
	}))
	require.NoError(t, e.reg.Register(models.JobTypeRotate, func(context.Context, *registry.Request) ([]registry.Output, error) {
		return []registry.Output{{Data: []byte("%PDF-1.4 r"), SuggestedName: "scan_rotated.pdf"}}, nil
	}))
	e.seedFile(t, "scan1", "scan1.pdf")
	e.seedFile(t, "scan2", "scan2.pdf")
	e.seedFile(t, "doc", "doc.pdf")
	startPool(t, e, "ALL")
	t.Cleanup(unblock)

	heavy1 := e.create(t, models.JobTypeOCR, []string{"scan1"}, "", "")
	heavy2 := e.create(t, models.JobTypeOCR, []string{"scan2"}, "", "")
	select {
	case <-started:
	case <-time.After(5 * time.Second):
		t.Fatal("heavy job never started")
	}

	fast := e.create(t, models.JobTypeRotate, []string{"doc"}, `{"rotation":90}`, "")
	e.waitStatus(t, fast.ID, models.JobStatusCompleted)

	ocr, err := e.reg.Resolve(models.JobTypeOCR)
	require.NoError(t, err)
	stats, err := e.broker.Stats(context.Background(), []registry.Binding{ocr})
	require.NoError(t, err)
	assert.Equal(t, 1, stats[0].Active, "heavy queue is saturated")
	assert.Equal(t, 1, stats[0].Waiting)

	unblock()
	e.waitStatus(t, heavy1.ID, models.JobStatusCompleted)
	e.waitStatus(t, heavy2.ID, models.JobStatusCompleted)
}

func TestNewPoolRejectsUnknownWorkerType(t *testing.T) {
	e := newEnv(t, registry.DefaultOptions())
	_, err := NewPool(e.broker, e.reg, e.exec, "GPU", nil)
	assert.Error(t, err)
}

func TestPoolSkipsTypesWithoutHandlers(t *testing.T) {
	e := newEnv(t, registry.DefaultOptions())
	require.NoError(t, e.reg.Register(models.JobTypeSign, func(context.Context, *registry.Request) ([]registry.Output, error) {
		return nil, nil
	}))
	pool, err := NewPool(e.broker, e.reg, e.exec, "FAST", nil)
	require.NoError(t, err)

	bindings := pool.Bindings()
	require.Len(t, bindings, 1)
	assert.Equal(t, "pdf-sign", bindings[0].Queue)
}
