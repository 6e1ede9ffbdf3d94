package httpapi

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"mime/multipart"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"

	"github.com/gin-gonic/gin"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/yourusername/docforge/internal/jobs"
	"github.com/yourusername/docforge/internal/metrics"
	"github.com/yourusername/docforge/internal/models"
	"github.com/yourusername/docforge/internal/queue"
	"github.com/yourusername/docforge/internal/registry"
	"github.com/yourusername/docforge/internal/storage"
	"github.com/yourusername/docforge/internal/store"
)

type unavailableBroker struct{}

func (unavailableBroker) Enqueue(context.Context, registry.Binding, queue.Message) (string, error) {
	return "", errors.New("redis: connection refused")
}

func (unavailableBroker) Stats(context.Context, []registry.Binding) ([]queue.QueueStats, error) {
	return nil, errors.New("redis: connection refused")
}

func (unavailableBroker) Close() error { return nil }

type testAPI struct {
	router *gin.Engine
	orch   *jobs.Orchestrator
}

func newTestAPI(t *testing.T, broker queue.Broker, checks map[string]HealthCheck) *testAPI {
	t.Helper()
	gin.SetMode(gin.TestMode)
	local, err := storage.NewLocal(t.TempDir())
	require.NoError(t, err)
	if broker == nil {
		mb := queue.NewMemoryBroker(nil)
		t.Cleanup(mb.Shutdown)
		broker = mb
	}
	orch, err := jobs.NewOrchestrator(jobs.Deps{
		Store:    store.NewMemoryStore(),
		Registry: registry.New(registry.DefaultOptions()),
		Broker:   broker,
		Storage:  local,
		FileURL:  func(id string) string { return "/api/files/download/" + id },
	})
	require.NoError(t, err)
	router := NewRouter(Config{
		Jobs:           orch,
		UploadBucket:   "uploads",
		AllowedOrigins: []string{"http://localhost:3000"},
		Checks:         checks,
		Metrics:        metrics.New(),
	})
	return &testAPI{router: router, orch: orch}
}

func (a *testAPI) do(t *testing.T, method, path string, body []byte, contentType string) *httptest.ResponseRecorder {
	t.Helper()
	req := httptest.NewRequest(method, path, bytes.NewReader(body))
	if contentType != "" {
		req.Header.Set("Content-Type", contentType)
	}
	rec := httptest.NewRecorder()
	a.router.ServeHTTP(rec, req)
	return rec
}

func (a *testAPI) upload(t *testing.T, name string, data []byte) string {
	t.Helper()
	var buf bytes.Buffer
	mw := multipart.NewWriter(&buf)
	part, err := mw.CreateFormFile("file", name)
	require.NoError(t, err)
	_, err = part.Write(data)
	require.NoError(t, err)
	require.NoError(t, mw.Close())

	rec := a.do(t, http.MethodPost, "/api/files", buf.Bytes(), mw.FormDataContentType())
	require.Equal(t, http.StatusCreated, rec.Code, rec.Body.String())
	var out struct {
		ID       string `json:"id"`
		Name     string `json:"name"`
		MimeType string `json:"mimeType"`
	}
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &out))
	assert.Equal(t, name, out.Name)
	assert.Equal(t, "application/pdf", out.MimeType)
	return out.ID
}

func decodeError(t *testing.T, rec *httptest.ResponseRecorder) map[string]string {
	t.Helper()
	var body map[string]string
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &body))
	return body
}

func TestUploadCreateAndQueryJob(t *testing.T) {
	api := newTestAPI(t, nil, nil)
	fileID := api.upload(t, "report.pdf", []byte("%PDF-1.4 report"))

	body := `{"type":"ROTATE","fileIds":["` + fileID + `"],"metadata":{"rotation":90}}`
	rec := api.do(t, http.MethodPost, "/api/jobs", []byte(body), "application/json")
	require.Equal(t, http.StatusCreated, rec.Code, rec.Body.String())
	var created struct {
		Job models.Job `json:"job"`
	}
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &created))
	assert.Equal(t, models.JobStatusUploaded, created.Job.Status)

	rec = api.do(t, http.MethodGet, "/api/jobs/"+created.Job.ID, nil, "")
	require.Equal(t, http.StatusOK, rec.Code)
	var view jobs.JobView
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &view))
	assert.Equal(t, models.JobTypeRotate, view.Type)
	require.Len(t, view.InputFiles, 1)
	assert.Equal(t, "report.pdf", view.InputFiles[0].Name)
	assert.Equal(t, "/api/files/download/"+fileID, view.InputFiles[0].DownloadURL)

	rec = api.do(t, http.MethodGet, "/api/files/download/"+fileID, nil, "")
	require.Equal(t, http.StatusOK, rec.Code)
	assert.Equal(t, "%PDF-1.4 report", rec.Body.String())
	assert.Equal(t, "application/pdf", rec.Header().Get("Content-Type"))
	assert.Contains(t, rec.Header().Get("Content-Disposition"), `filename="report.pdf"`)
	assert.Equal(t, "no-store", rec.Header().Get("Cache-Control"))
}

func TestCreateJobValidationErrors(t *testing.T) {
	api := newTestAPI(t, nil, nil)
	fileID := api.upload(t, "a.pdf", []byte("%PDF-1.4 a"))

	rec := api.do(t, http.MethodPost, "/api/jobs", []byte(`{"type":"MERGE","fileIds":["`+fileID+`"]}`), "application/json")
	require.Equal(t, http.StatusBadRequest, rec.Code)
	body := decodeError(t, rec)
	assert.Equal(t, "INVALID_INPUT", body["code"])
	assert.Equal(t, "fileIds", body["field"])

	rec = api.do(t, http.MethodPost, "/api/jobs", []byte(`{"type":"TELEPORT","fileIds":["`+fileID+`"]}`), "application/json")
	require.Equal(t, http.StatusBadRequest, rec.Code)
	assert.Equal(t, "type", decodeError(t, rec)["field"])

	rec = api.do(t, http.MethodPost, "/api/jobs", []byte(`{not json`), "application/json")
	require.Equal(t, http.StatusBadRequest, rec.Code)
	assert.Equal(t, "INVALID_INPUT", decodeError(t, rec)["code"])
}

func TestCreateJobDispatchGapIsAccepted(t *testing.T) {
	api := newTestAPI(t, unavailableBroker{}, nil)
	fileID := api.upload(t, "a.pdf", []byte("%PDF-1.4 a"))

	rec := api.do(t, http.MethodPost, "/api/jobs", []byte(`{"type":"PROTECT","fileIds":["`+fileID+`"],"metadata":{"password":"s3cret"}}`), "application/json")
	require.Equal(t, http.StatusAccepted, rec.Code, rec.Body.String())
	var out struct {
		Job     models.Job `json:"job"`
		Warning string     `json:"warning"`
	}
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &out))
	assert.Equal(t, models.JobStatusUploaded, out.Job.Status)
	assert.NotEmpty(t, out.Warning)

	rec = api.do(t, http.MethodGet, "/api/stats", nil, "")
	assert.Equal(t, http.StatusInternalServerError, rec.Code)
}

func TestJobNotFound(t *testing.T) {
	api := newTestAPI(t, nil, nil)

	rec := api.do(t, http.MethodGet, "/api/jobs/missing", nil, "")
	require.Equal(t, http.StatusNotFound, rec.Code)
	assert.Equal(t, "JOB_NOT_FOUND", decodeError(t, rec)["code"])

	rec = api.do(t, http.MethodDelete, "/api/jobs/missing", nil, "")
	assert.Equal(t, http.StatusNotFound, rec.Code)

	rec = api.do(t, http.MethodGet, "/api/files/download/missing", nil, "")
	require.Equal(t, http.StatusNotFound, rec.Code)
	assert.Equal(t, "FILE_NOT_FOUND", decodeError(t, rec)["code"])
}

func TestDeleteJob(t *testing.T) {
	api := newTestAPI(t, nil, nil)
	ctx := context.Background()
	fileID := api.upload(t, "a.pdf", []byte("%PDF-1.4 a"))
	job, err := api.orch.CreateJob(ctx, jobs.CreateJobRequest{
		Type:     models.JobTypeRotate,
		FileIDs:  []string{fileID},
		Metadata: []byte(`{"rotation":180}`),
	})
	require.NoError(t, err)

	lease, _, err := api.orch.StartJob(ctx, job.ID)
	require.NoError(t, err)
	rec := api.do(t, http.MethodDelete, "/api/jobs/"+job.ID, nil, "")
	require.Equal(t, http.StatusConflict, rec.Code)
	assert.Equal(t, "JOB_PROCESSING", decodeError(t, rec)["code"])

	_, err = api.orch.FailJob(ctx, lease, "boom")
	require.NoError(t, err)
	rec = api.do(t, http.MethodDelete, "/api/jobs/"+job.ID, nil, "")
	require.Equal(t, http.StatusNoContent, rec.Code)

	rec = api.do(t, http.MethodGet, "/api/jobs/"+job.ID, nil, "")
	assert.Equal(t, http.StatusNotFound, rec.Code)
	rec = api.do(t, http.MethodGet, "/api/files/download/"+fileID, nil, "")
	assert.Equal(t, http.StatusNotFound, rec.Code)
}

func TestUserJobsAndStats(t *testing.T) {
	api := newTestAPI(t, nil, nil)

	rec := api.do(t, http.MethodGet, "/api/users/u1/jobs?limit=abc", nil, "")
	assert.Equal(t, http.StatusBadRequest, rec.Code)

	rec = api.do(t, http.MethodGet, "/api/users/u1/jobs?limit=10", nil, "")
	assert.Equal(t, http.StatusOK, rec.Code)

	rec = api.do(t, http.MethodGet, "/api/stats", nil, "")
	require.Equal(t, http.StatusOK, rec.Code)
	var stats jobs.Stats
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &stats))
	assert.NotEmpty(t, stats.Queues)
}

func TestUploadRequiresFile(t *testing.T) {
	api := newTestAPI(t, nil, nil)
	rec := api.do(t, http.MethodPost, "/api/files", []byte("plain"), "text/plain")
	require.Equal(t, http.StatusBadRequest, rec.Code)
	assert.Equal(t, "INVALID_INPUT", decodeError(t, rec)["code"])
}

func TestHealth(t *testing.T) {
	api := newTestAPI(t, nil, map[string]HealthCheck{
		"store": func(context.Context) error { return nil },
	})
	rec := api.do(t, http.MethodGet, "/health", nil, "")
	require.Equal(t, http.StatusOK, rec.Code)
	assert.Contains(t, rec.Body.String(), `"status":"ok"`)

	api = newTestAPI(t, nil, map[string]HealthCheck{
		"store": func(context.Context) error { return nil },
		"redis": func(context.Context) error { return errors.New("dial tcp: refused") },
	})
	rec = api.do(t, http.MethodGet, "/health", nil, "")
	require.Equal(t, http.StatusServiceUnavailable, rec.Code)
	assert.Contains(t, rec.Body.String(), `"status":"degraded"`)
	assert.Contains(t, rec.Body.String(), "dial tcp: refused")
}

func TestMetricsEndpoint(t *testing.T) {
	api := newTestAPI(t, nil, nil)
	rec := api.do(t, http.MethodGet, "/metrics", nil, "")
	require.Equal(t, http.StatusOK, rec.Code)
	assert.True(t, strings.Contains(rec.Body.String(), "go_goroutines"))
}

func TestCORSPreflight(t *testing.T) {
	api := newTestAPI(t, nil, nil)
	req := httptest.NewRequest(http.MethodOptions, "/api/jobs", nil)
	req.Header.Set("Origin", "http://localhost:3000")
	req.Header.Set("Access-Control-Request-Method", http.MethodPost)
	rec := httptest.NewRecorder()
	api.router.ServeHTTP(rec, req)
	assert.Equal(t, "http://localhost:3000", rec.Header().Get("Access-Control-Allow-Origin"))
}

func TestASCIIName(t *testing.T) {
	assert.Equal(t, "___.pdf", asciiName("報告書.pdf"))
	assert.Equal(t, "a_b.pdf", asciiName(`a"b.pdf`))
}
