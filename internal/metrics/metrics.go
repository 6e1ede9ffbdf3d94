// Package metrics はジョブ処理の Prometheus メトリクスを定義します。
// nil の *Metrics に対する呼び出しは何もしません。
package metrics

import (
	"net/http"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

const namespace = "docforge"

// Metrics はジョブライフサイクルのコレクタ群です。
type Metrics struct {
	registry *prometheus.Registry

	jobsCreated    *prometheus.CounterVec
	jobsFinished   *prometheus.CounterVec
	jobDuration    *prometheus.HistogramVec
	handlerRetries *prometheus.CounterVec
	dispatchGaps   *prometheus.CounterVec
	webhooks       *prometheus.CounterVec
}

// New は専用レジストリにコレクタを登録して返します。
func New() *Metrics {
	reg := prometheus.NewRegistry()
	m := &Metrics{
		registry: reg,
		jobsCreated: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "jobs_created_total",
			Help:      "Jobs accepted by the orchestrator.",
		}, []string{"type"}),
		jobsFinished: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "jobs_finished_total",
			Help:      "Jobs that reached a terminal status.",
		}, []string{"type", "status"}),
		jobDuration: prometheus.NewHistogramVec(prometheus.HistogramOpts{
			Namespace: namespace,
			Name:      "job_duration_seconds",
			Help:      "Time from first pickup to terminal status.",
			Buckets:   []float64{0.5, 1, 2.5, 5, 10, 30, 60, 120, 300, 900},
		}, []string{"type", "status"}),
		handlerRetries: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "handler_retries_total",
			Help:      "Transient handler failures handed back to the queue for retry.",
		}, []string{"type"}),
		dispatchGaps: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "dispatch_gaps_total",
			Help:      "Jobs persisted whose enqueue failed.",
		}, []string{"type"}),
		webhooks: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "webhook_deliveries_total",
			Help:      "Webhook delivery attempts by outcome.",
		}, []string{"outcome"}),
	}
	reg.MustRegister(
		m.jobsCreated,
		m.jobsFinished,
		m.jobDuration,
		m.handlerRetries,
		m.dispatchGaps,
		m.webhooks,
		collectors.NewGoCollector(),
		collectors.NewProcessCollector(collectors.ProcessCollectorOpts{}),
	)
	return m
}

// Handler は /metrics 用の HTTP ハンドラを返します。
func (m *Metrics) Handler() http.Handler {
	if m == nil {
		return http.NotFoundHandler()
	}
	return promhttp.HandlerFor(m.registry, promhttp.HandlerOpts{})
}

// Registry はテスト用にレジストリを返します。
func (m *Metrics) Registry() *prometheus.Registry {
	if m == nil {
		return nil
	}
	return m.registry
}

func (m *Metrics) JobCreated(jobType string) {
	if m == nil {
		return
	}
	m.jobsCreated.WithLabelValues(jobType).Inc()
}

// JobFinished は終端状態への遷移を記録します。startedAt がゼロ値なら所要時間は記録しません。
func (m *Metrics) JobFinished(jobType, status string, startedAt, finishedAt time.Time) {
	if m == nil {
		return
	}
	m.jobsFinished.WithLabelValues(jobType, status).Inc()
	if !startedAt.IsZero() {
		m.jobDuration.WithLabelValues(jobType, status).Observe(finishedAt.Sub(startedAt).Seconds())
	}
}

func (m *Metrics) HandlerRetry(jobType string) {
	if m == nil {
		return
	}
	m.handlerRetries.WithLabelValues(jobType).Inc()
}

func (m *Metrics) DispatchGap(jobType string) {
	if m == nil {
		return
	}
	m.dispatchGaps.WithLabelValues(jobType).Inc()
}

func (m *Metrics) WebhookDelivered(ok bool) {
	if m == nil {
		return
	}
	outcome := "success"
	if !ok {
		outcome = "failure"
	}
	m.webhooks.WithLabelValues(outcome).Inc()
}
