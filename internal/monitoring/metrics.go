package monitoring

import (
	"net/http"
	"sync/atomic"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"github.com/rotisserie/eris"

	"github.com/sells-group/vqa-filter/internal/model"
	"github.com/sells-group/vqa-filter/pkg/vision"
)

const namespace = "vqa_filter"

// Metrics holds the Prometheus collectors for one process. It implements
// vision.Observer for model calls and the engine's observer for tasks,
// routing decisions and checkpoint flushes.
type Metrics struct {
	reg *prometheus.Registry

	tasks        *prometheus.CounterVec
	taskDuration prometheus.Histogram
	scores       prometheus.Histogram
	routes       *prometheus.CounterVec
	modelCalls   *prometheus.CounterVec
	tokens       *prometheus.CounterVec
	flushes      *prometheus.CounterVec
	flushRecords prometheus.Counter

	succeeded atomic.Int64
	failed    atomic.Int64
}

// NewMetrics registers every collector on a fresh registry.
func NewMetrics() *Metrics {
	reg := prometheus.NewRegistry()
	f := promauto.With(reg)

	return &Metrics{
		reg: reg,
		tasks: f.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "tasks_total",
			Help:      "Completed tasks by outcome.",
		}, []string{"outcome", "pipeline_type"}),
		taskDuration: f.NewHistogram(prometheus.HistogramOpts{
			Namespace: namespace,
			Name:      "task_duration_seconds",
			Help:      "Wall time of one task from routing to result.",
			Buckets:   prometheus.ExponentialBuckets(0.25, 2, 10),
		}),
		scores: f.NewHistogram(prometheus.HistogramOpts{
			Namespace: namespace,
			Name:      "total_score",
			Help:      "Distribution of total_score for scored records.",
			Buckets:   prometheus.LinearBuckets(0, 0.1, 11),
		}),
		routes: f.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "route_decisions_total",
			Help:      "Routing decisions by stage.",
		}, []string{"stage"}),
		modelCalls: f.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "model_calls_total",
			Help:      "Model calls by model and outcome.",
		}, []string{"model", "outcome"}),
		tokens: f.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "model_tokens_total",
			Help:      "Tokens consumed by model and direction.",
		}, []string{"model", "direction"}),
		flushes: f.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "checkpoint_flushes_total",
			Help:      "Writer checkpoints by outcome.",
		}, []string{"outcome"}),
		flushRecords: f.NewCounter(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "checkpoint_records_total",
			Help:      "Records handed to the writer.",
		}),
	}
}

// ObserveCall implements vision.Observer.
func (m *Metrics) ObserveCall(modelName string, usage vision.Usage, err error) {
	if modelName == "" {
		modelName = "unknown"
	}
	outcome := "ok"
	if err != nil {
		outcome = "error"
	}
	m.modelCalls.WithLabelValues(modelName, outcome).Inc()
	m.tokens.WithLabelValues(modelName, "input").Add(float64(usage.InputTokens))
	m.tokens.WithLabelValues(modelName, "output").Add(float64(usage.OutputTokens))
}

// TaskDone records one finished task.
func (m *Metrics) TaskDone(rec model.OutputRecord, elapsed time.Duration) {
	m.taskDuration.Observe(elapsed.Seconds())
	if rec.Failed() {
		m.failed.Add(1)
		m.tasks.WithLabelValues("failed", "none").Inc()
		return
	}
	m.succeeded.Add(1)
	pipeline := "none"
	if len(rec.Results) > 0 {
		pipeline = rec.Results[0].PipelineType
		m.scores.Observe(rec.Results[0].TotalScore)
	}
	m.tasks.WithLabelValues("succeeded", pipeline).Inc()
}

// Routed records the stage of one routing decision.
func (m *Metrics) Routed(stage string) {
	m.routes.WithLabelValues(stage).Inc()
}

// Flushed records one checkpoint write.
func (m *Metrics) Flushed(records int, err error) {
	if err != nil {
		m.flushes.WithLabelValues("error").Inc()
		return
	}
	m.flushes.WithLabelValues("ok").Inc()
	m.flushRecords.Add(float64(records))
}

// TaskCounts returns the tasks that succeeded and failed so far.
func (m *Metrics) TaskCounts() (succeeded, failed int) {
	return int(m.succeeded.Load()), int(m.failed.Load())
}

// Handler serves the registry in the Prometheus exposition format.
func (m *Metrics) Handler() http.Handler {
	return promhttp.HandlerFor(m.reg, promhttp.HandlerOpts{Registry: m.reg})
}

// WriteTextfile writes the current values to path for the node_exporter
// textfile collector.
func (m *Metrics) WriteTextfile(path string) error {
	return eris.Wrapf(prometheus.WriteToTextfile(path, m.reg), "monitoring: write textfile %s", path)
}
