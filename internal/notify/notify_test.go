package notify

import (
	"context"
	"encoding/json"
	"io"
	"net/http"
	"net/http/httptest"
	"strings"
	"sync/atomic"
	"testing"
	"time"

	"github.com/prometheus/client_golang/prometheus/testutil"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/yourusername/docforge/internal/metrics"
	"github.com/yourusername/docforge/internal/models"
)

func terminalJob(url string) *models.Job {
	now := time.Date(2024, 5, 1, 12, 0, 0, 0, time.UTC)
	msg := "Incorrect password"
	return &models.Job{
		ID:          "job-1",
		Type:        models.JobTypeUnlock,
		Status:      models.JobStatusFailed,
		Progress:    10,
		Error:       &msg,
		Metadata:    json.RawMessage(`{"password":"x"}`),
		WebhookURL:  &url,
		StartedAt:   &now,
		CompletedAt: &now,
	}
}

// oneDelivery は outcome ラベルが1回だけ記録された状態の期待値です。
func oneDelivery(outcome string) string {
	return `
# HELP docforge_webhook_deliveries_total Webhook delivery attempts by outcome.
# TYPE docforge_webhook_deliveries_total counter
docforge_webhook_deliveries_total{outcome="` + outcome + `"} 1
`
}

func TestNotifyPostsPayload(t *testing.T) {
	received := make(chan Payload, 1)
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		assert.Equal(t, http.MethodPost, r.Method)
		assert.Equal(t, "application/json", r.Header.Get("Content-Type"))
		assert.Equal(t, "job-1", r.Header.Get("X-Job-Id"))
		body, _ := io.ReadAll(r.Body)
		var p Payload
		assert.NoError(t, json.Unmarshal(body, &p))
		received <- p
		w.WriteHeader(http.StatusNoContent)
	}))
	defer srv.Close()

	m := metrics.New()
	d := New(Config{Metrics: m, DownloadBaseURL: "https://api.example/api/files/download/"})
	files := []models.JobFileDetail{
		{JobFile: models.JobFile{JobID: "job-1", FileID: "in-1", IsInput: true}, File: &models.File{ID: "in-1"}},
		{JobFile: models.JobFile{JobID: "job-1", FileID: "gone", IsInput: false}},
	}
	d.Notify(terminalJob(srv.URL), files)
	d.Wait()

	p := <-received
	assert.Equal(t, "job-1", p.JobID)
	assert.Equal(t, models.JobStatusFailed, p.Status)
	assert.Equal(t, models.JobTypeUnlock, p.Type)
	assert.Equal(t, 10, p.Progress)
	require.NotNil(t, p.Error)
	assert.Equal(t, "Incorrect password", *p.Error)
	assert.JSONEq(t, `{"password":"x"}`, string(p.Metadata))
	require.NotNil(t, p.CompletedAt)
	require.Len(t, p.Files, 2)
	require.NotNil(t, p.Files[0].URL)
	assert.Equal(t, "https://api.example/api/files/download/in-1", *p.Files[0].URL)
	assert.True(t, p.Files[0].IsInput)
	assert.Nil(t, p.Files[1].URL, "missing file row has no url")

	assert.NoError(t, testutil.GatherAndCompare(m.Registry(), strings.NewReader(oneDelivery("success")), "docforge_webhook_deliveries_total"))
}

func TestNotifyDoesNotRetry(t *testing.T) {
	var calls atomic.Int32
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		calls.Add(1)
		w.WriteHeader(http.StatusInternalServerError)
	}))
	defer srv.Close()

	m := metrics.New()
	d := New(Config{Metrics: m})
	d.Notify(terminalJob(srv.URL), nil)
	d.Wait()

	assert.Equal(t, int32(1), calls.Load())
	assert.NoError(t, testutil.GatherAndCompare(m.Registry(), strings.NewReader(oneDelivery("failure")), "docforge_webhook_deliveries_total"))
}

func TestSendTimesOut(t *testing.T) {
	release := make(chan struct{})
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		select {
		case <-release:
		case <-r.Context().Done():
		}
	}))
	defer srv.Close()
	defer close(release)

	d := New(Config{Timeout: 50 * time.Millisecond})
	start := time.Now()
	err := d.Send(context.Background(), srv.URL, d.BuildPayload(terminalJob(srv.URL), nil))
	assert.Error(t, err)
	assert.Less(t, time.Since(start), 2*time.Second)
}

func TestNotifySkipsJobsWithoutWebhook(t *testing.T) {
	m := metrics.New()
	d := New(Config{Metrics: m})
	job := terminalJob("")
	job.WebhookURL = nil
	d.Notify(job, nil)
	d.Wait()

	n, err := testutil.GatherAndCount(m.Registry(), "docforge_webhook_deliveries_total")
	require.NoError(t, err)
	assert.Zero(t, n)
}

func TestDefaultFileURL(t *testing.T) {
	d := New(Config{})
	assert.Equal(t, "/api/files/download/abc", d.FileURL("abc"))
}
