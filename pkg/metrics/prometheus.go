package metrics

import (
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

// Recorder implements domain.repository.Metrics and queue.Observer using Prometheus.
type Recorder struct {
	checksTotal     *prometheus.CounterVec
	alertsTotal     *prometheus.CounterVec
	anomaliesTotal  *prometheus.CounterVec
	errorsTotal     *prometheus.CounterVec
	tasksTotal      *prometheus.CounterVec
	taskDuration    *prometheus.HistogramVec
	deadLetters     *prometheus.CounterVec
	snapshotBytes   *prometheus.CounterVec
	latency         *prometheus.HistogramVec
	monitorsByState *prometheus.GaugeVec
}

// New creates a recorder registered on the default Prometheus registry.
func New() *Recorder {
	return NewWithRegistry(prometheus.DefaultRegisterer)
}

// NewWithRegistry creates a recorder on a custom registry (tests use a fresh one).
func NewWithRegistry(reg prometheus.Registerer) *Recorder {
	f := promauto.With(reg)
	return &Recorder{
		checksTotal: f.NewCounterVec(
			prometheus.CounterOpts{
				Name: "intelwatch_checks_total",
				Help: "Monitor check cycles by result",
			},
			[]string{"result"},
		),
		alertsTotal: f.NewCounterVec(
			prometheus.CounterOpts{
				Name: "intelwatch_alerts_total",
				Help: "Alerts scored, by urgency and delivery decision",
			},
			[]string{"urgency", "decision"},
		),
		anomaliesTotal: f.NewCounterVec(
			prometheus.CounterOpts{
				Name: "intelwatch_anomalies_total",
				Help: "Detected anomalies by type",
			},
			[]string{"type"},
		),
		errorsTotal: f.NewCounterVec(
			prometheus.CounterOpts{
				Name: "intelwatch_errors_total",
				Help: "Total number of errors encountered",
			},
			[]string{"type"},
		),
		tasksTotal: f.NewCounterVec(
			prometheus.CounterOpts{
				Name: "intelwatch_queue_tasks_total",
				Help: "Queue task attempts by lane, type and result",
			},
			[]string{"lane", "type", "result"},
		),
		taskDuration: f.NewHistogramVec(
			prometheus.HistogramOpts{
				Name:    "intelwatch_queue_task_duration_seconds",
				Help:    "Queue task attempt duration",
				Buckets: prometheus.DefBuckets,
			},
			[]string{"lane", "type"},
		),
		deadLetters: f.NewCounterVec(
			prometheus.CounterOpts{
				Name: "intelwatch_queue_dead_letters_total",
				Help: "Tasks moved to the dead-letter lane",
			},
			[]string{"lane", "type"},
		),
		snapshotBytes: f.NewCounterVec(
			prometheus.CounterOpts{
				Name: "intelwatch_snapshot_field_bytes_total",
				Help: "Snapshot field bytes before and after encoding",
			},
			[]string{"stage"},
		),
		latency: f.NewHistogramVec(
			prometheus.HistogramOpts{
				Name:    "intelwatch_operation_duration_seconds",
				Help:    "Duration of operations in seconds",
				Buckets: prometheus.DefBuckets,
			},
			[]string{"operation"},
		),
		monitorsByState: f.NewGaugeVec(
			prometheus.GaugeOpts{
				Name: "intelwatch_monitors",
				Help: "Monitors per status as of the last scheduler pass",
			},
			[]string{"status"},
		),
	}
}

// RecordCheck records one check cycle outcome (success, failure, skipped).
func (r *Recorder) RecordCheck(result string) {
	r.checksTotal.WithLabelValues(result).Inc()
}

// RecordAlert records a scored alert and what the scorer decided.
func (r *Recorder) RecordAlert(urgency, decision string) {
	r.alertsTotal.WithLabelValues(urgency, decision).Inc()
}

// RecordAnomaly records a detected anomaly.
func (r *Recorder) RecordAnomaly(kind string) {
	r.anomaliesTotal.WithLabelValues(kind).Inc()
}

// RecordError records an error occurrence.
func (r *Recorder) RecordError(kind string) {
	r.errorsTotal.WithLabelValues(kind).Inc()
}

// RecordSnapshotBytes records codec input and output sizes.
func (r *Recorder) RecordSnapshotBytes(original, stored int) {
	r.snapshotBytes.WithLabelValues("original").Add(float64(original))
	r.snapshotBytes.WithLabelValues("stored").Add(float64(stored))
}

// RecordLatency records operation latency in seconds.
func (r *Recorder) RecordLatency(op string, seconds float64) {
	r.latency.WithLabelValues(op).Observe(seconds)
}

// RecordMonitors sets the per-status monitor gauge.
func (r *Recorder) RecordMonitors(status string, n int) {
	r.monitorsByState.WithLabelValues(status).Set(float64(n))
}

// TaskProcessed implements queue.Observer.
func (r *Recorder) TaskProcessed(lane, taskType, result string, elapsed time.Duration) {
	r.tasksTotal.WithLabelValues(lane, taskType, result).Inc()
	r.taskDuration.WithLabelValues(lane, taskType).Observe(elapsed.Seconds())
}

// TaskDeadLettered implements queue.Observer.
func (r *Recorder) TaskDeadLettered(lane, taskType string) {
	r.deadLetters.WithLabelValues(lane, taskType).Inc()
}

// Nop discards everything. Used by tests and tools that do not expose /metrics.
type Nop struct{}

func (Nop) RecordCheck(string)                                  {}
func (Nop) RecordAlert(string, string)                          {}
func (Nop) RecordAnomaly(string)                                {}
func (Nop) RecordError(string)                                  {}
func (Nop) RecordSnapshotBytes(int, int)                        {}
func (Nop) RecordLatency(string, float64)                       {}
func (Nop) RecordMonitors(string, int)                          {}
func (Nop) TaskProcessed(string, string, string, time.Duration) {}
func (Nop) TaskDeadLettered(string, string)                     {}
