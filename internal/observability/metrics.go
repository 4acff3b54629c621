package observability

import (
	"net/http"
	"sync"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

const namespace = "confer"

type moduleMetrics struct {
	queueSize    *prometheus.GaugeVec
	enqueueTotal *prometheus.CounterVec
	dequeueTotal *prometheus.CounterVec
	taskDuration *prometheus.HistogramVec

	activeConnections   prometheus.Gauge
	rateLimitedTotal    *prometheus.CounterVec
	sessionLoadDuration prometheus.Histogram
	sessionSaveDuration prometheus.Histogram
	sessionErrorsTotal  *prometheus.CounterVec
	sessionsPurgedTotal prometheus.Counter

	toolExecutionTotal    *prometheus.CounterVec
	toolExecutionDuration *prometheus.HistogramVec

	turnTotal            *prometheus.CounterVec
	turnDuration         prometheus.Histogram
	turnDepth            prometheus.Histogram
	providerRequestTotal *prometheus.CounterVec
	providerErrorsTotal  *prometheus.CounterVec
}

var (
	metricsOnce sync.Once
	metricsInst *moduleMetrics
)

func getMetrics() *moduleMetrics {
	metricsOnce.Do(func() {
		m := &moduleMetrics{
			queueSize: prometheus.NewGaugeVec(
				prometheus.GaugeOpts{
					Namespace: namespace,
					Name:      "queue_size",
					Help:      "Current queue size by lane.",
				},
				[]string{"lane"},
			),
			enqueueTotal: prometheus.NewCounterVec(
				prometheus.CounterOpts{
					Namespace: namespace,
					Name:      "enqueue_total",
					Help:      "Total enqueue operations by lane.",
				},
				[]string{"lane"},
			),
			dequeueTotal: prometheus.NewCounterVec(
				prometheus.CounterOpts{
					Namespace: namespace,
					Name:      "dequeue_total",
					Help:      "Total completed queue tasks by lane and status.",
				},
				[]string{"lane", "status"},
			),
			taskDuration: prometheus.NewHistogramVec(
				prometheus.HistogramOpts{
					Namespace: namespace,
					Name:      "task_duration_seconds",
					Help:      "Queued task duration in seconds by lane.",
					Buckets:   prometheus.DefBuckets,
				},
				[]string{"lane"},
			),
			activeConnections: prometheus.NewGauge(
				prometheus.GaugeOpts{
					Namespace: namespace,
					Name:      "active_connections",
					Help:      "Current open chat connections.",
				},
			),
			rateLimitedTotal: prometheus.NewCounterVec(
				prometheus.CounterOpts{
					Namespace: namespace,
					Name:      "rate_limited_total",
					Help:      "Requests rejected by the rate limiter, by surface.",
				},
				[]string{"surface"},
			),
			sessionLoadDuration: prometheus.NewHistogram(
				prometheus.HistogramOpts{
					Namespace: namespace,
					Name:      "session_load_duration_seconds",
					Help:      "Transcript load duration in seconds.",
					Buckets:   prometheus.DefBuckets,
				},
			),
			sessionSaveDuration: prometheus.NewHistogram(
				prometheus.HistogramOpts{
					Namespace: namespace,
					Name:      "session_save_duration_seconds",
					Help:      "Transcript save duration in seconds.",
					Buckets:   prometheus.DefBuckets,
				},
			),
			sessionErrorsTotal: prometheus.NewCounterVec(
				prometheus.CounterOpts{
					Namespace: namespace,
					Name:      "session_store_errors_total",
					Help:      "Transcript store failures by operation.",
				},
				[]string{"op"},
			),
			sessionsPurgedTotal: prometheus.NewCounter(
				prometheus.CounterOpts{
					Namespace: namespace,
					Name:      "sessions_purged_total",
					Help:      "Expired transcripts removed by the sweeper.",
				},
			),
			toolExecutionTotal: prometheus.NewCounterVec(
				prometheus.CounterOpts{
					Namespace: namespace,
					Name:      "tool_execution_total",
					Help:      "Total tool executions by tool and status.",
				},
				[]string{"tool", "status"},
			),
			toolExecutionDuration: prometheus.NewHistogramVec(
				prometheus.HistogramOpts{
					Namespace: namespace,
					Name:      "tool_execution_duration_seconds",
					Help:      "Tool execution duration in seconds by tool.",
					Buckets:   prometheus.DefBuckets,
				},
				[]string{"tool"},
			),
			turnTotal: prometheus.NewCounterVec(
				prometheus.CounterOpts{
					Namespace: namespace,
					Name:      "turn_total",
					Help:      "Conversation turns by outcome.",
				},
				[]string{"outcome"},
			),
			turnDuration: prometheus.NewHistogram(
				prometheus.HistogramOpts{
					Namespace: namespace,
					Name:      "turn_duration_seconds",
					Help:      "Conversation turn duration in seconds.",
					Buckets:   []float64{0.25, 0.5, 1, 2, 5, 10, 20, 40, 80},
				},
			),
			turnDepth: prometheus.NewHistogram(
				prometheus.HistogramOpts{
					Namespace: namespace,
					Name:      "turn_depth",
					Help:      "Completion rounds used per turn.",
					Buckets:   prometheus.LinearBuckets(1, 1, 10),
				},
			),
			providerRequestTotal: prometheus.NewCounterVec(
				prometheus.CounterOpts{
					Namespace: namespace,
					Name:      "provider_request_total",
					Help:      "Completion requests by provider.",
				},
				[]string{"provider"},
			),
			providerErrorsTotal: prometheus.NewCounterVec(
				prometheus.CounterOpts{
					Namespace: namespace,
					Name:      "provider_errors_total",
					Help:      "Completion failures by provider and kind.",
				},
				[]string{"provider", "kind"},
			),
		}

		prometheus.MustRegister(
			m.queueSize,
			m.enqueueTotal,
			m.dequeueTotal,
			m.taskDuration,
			m.activeConnections,
			m.rateLimitedTotal,
			m.sessionLoadDuration,
			m.sessionSaveDuration,
			m.sessionErrorsTotal,
			m.sessionsPurgedTotal,
			m.toolExecutionTotal,
			m.toolExecutionDuration,
			m.turnTotal,
			m.turnDuration,
			m.turnDepth,
			m.providerRequestTotal,
			m.providerErrorsTotal,
		)

		metricsInst = m
	})

	return metricsInst
}

// EnsureRegistered initializes and registers metrics the first time it is called.
func EnsureRegistered() {
	_ = getMetrics()
}

func MetricsHandler() http.Handler {
	EnsureRegistered()
	return promhttp.Handler()
}

func statusLabel(success bool) string {
	if success {
		return "success"
	}
	return "error"
}

func RecordQueueEnqueue(lane string, queueSize int) {
	m := getMetrics()
	m.enqueueTotal.WithLabelValues(lane).Inc()
	m.queueSize.WithLabelValues(lane).Set(float64(queueSize))
}

func RecordQueueCompletion(lane string, duration time.Duration, success bool, queueSize int) {
	m := getMetrics()
	m.dequeueTotal.WithLabelValues(lane, statusLabel(success)).Inc()
	m.taskDuration.WithLabelValues(lane).Observe(duration.Seconds())
	m.queueSize.WithLabelValues(lane).Set(float64(queueSize))
}

func SetActiveConnections(count int) {
	getMetrics().activeConnections.Set(float64(count))
}

func RecordRateLimited(surface string) {
	getMetrics().rateLimitedTotal.WithLabelValues(surface).Inc()
}

func RecordSessionLoad(duration time.Duration, err error) {
	m := getMetrics()
	m.sessionLoadDuration.Observe(duration.Seconds())
	if err != nil {
		m.sessionErrorsTotal.WithLabelValues("load").Inc()
	}
}

func RecordSessionSave(duration time.Duration, err error) {
	m := getMetrics()
	m.sessionSaveDuration.Observe(duration.Seconds())
	if err != nil {
		m.sessionErrorsTotal.WithLabelValues("save").Inc()
	}
}

func RecordSessionsPurged(count int) {
	getMetrics().sessionsPurgedTotal.Add(float64(count))
}

func RecordToolExecution(tool string, duration time.Duration, success bool) {
	m := getMetrics()
	m.toolExecutionTotal.WithLabelValues(tool, statusLabel(success)).Inc()
	m.toolExecutionDuration.WithLabelValues(tool).Observe(duration.Seconds())
}

// RecordTurn records a finished conversation turn. outcome is "done",
// "error" or "cancelled".
func RecordTurn(outcome string, duration time.Duration, depth int) {
	m := getMetrics()
	m.turnTotal.WithLabelValues(outcome).Inc()
	m.turnDuration.Observe(duration.Seconds())
	m.turnDepth.Observe(float64(depth))
}

func RecordProviderRequest(provider string) {
	getMetrics().providerRequestTotal.WithLabelValues(provider).Inc()
}

func RecordProviderError(provider, kind string) {
	getMetrics().providerErrorsTotal.WithLabelValues(provider, kind).Inc()
}
