package observability

import (
	"net/http"
	"sync"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

const namespace = "localforge"

type moduleMetrics struct {
	queueSize    *prometheus.GaugeVec
	enqueueTotal *prometheus.CounterVec
	taskDuration *prometheus.HistogramVec

	cachedSessions      prometheus.Gauge
	sessionLoadDuration prometheus.Histogram
	sessionSaveDuration prometheus.Histogram
	sessionSavesTotal   *prometheus.CounterVec
	sessionEvictions    prometheus.Counter
	sessionMigrations   prometheus.Counter

	providerCallsTotal    *prometheus.CounterVec
	providerCallDuration  *prometheus.HistogramVec
	providerTokensTotal   *prometheus.CounterVec
	providerQuirkRewrites *prometheus.CounterVec

	toolExecutionTotal    *prometheus.CounterVec
	toolExecutionDuration *prometheus.HistogramVec
	sandboxDenialsTotal   *prometheus.CounterVec
	processKillsTotal     *prometheus.CounterVec

	agentRunTotal      *prometheus.CounterVec
	agentRunDuration   *prometheus.HistogramVec
	agentIterations    prometheus.Histogram
	interruptionsTotal prometheus.Counter
}

var (
	metricsOnce sync.Once
	metricsInst *moduleMetrics
)

func getMetrics() *moduleMetrics {
	metricsOnce.Do(func() {
		m := &moduleMetrics{
			queueSize: prometheus.NewGaugeVec(
				prometheus.GaugeOpts{Namespace: namespace, Name: "queue_size", Help: "Queued turns by lane."},
				[]string{"lane"},
			),
			enqueueTotal: prometheus.NewCounterVec(
				prometheus.CounterOpts{Namespace: namespace, Name: "queue_enqueue_total", Help: "Turns enqueued by lane kind."},
				[]string{"lane"},
			),
			taskDuration: prometheus.NewHistogramVec(
				prometheus.HistogramOpts{Namespace: namespace, Name: "queue_task_duration_seconds", Help: "Queued turn duration by status.", Buckets: prometheus.DefBuckets},
				[]string{"status"},
			),
			cachedSessions: prometheus.NewGauge(
				prometheus.GaugeOpts{Namespace: namespace, Name: "sessions_cached", Help: "Sessions held in the in-memory cache."},
			),
			sessionLoadDuration: prometheus.NewHistogram(
				prometheus.HistogramOpts{Namespace: namespace, Name: "session_load_duration_seconds", Help: "Durable session load duration.", Buckets: prometheus.DefBuckets},
			),
			sessionSaveDuration: prometheus.NewHistogram(
				prometheus.HistogramOpts{Namespace: namespace, Name: "session_save_duration_seconds", Help: "Durable session write duration.", Buckets: prometheus.DefBuckets},
			),
			sessionSavesTotal: prometheus.NewCounterVec(
				prometheus.CounterOpts{Namespace: namespace, Name: "session_saves_total", Help: "Session save requests by outcome (written, coalesced, error)."},
				[]string{"outcome"},
			),
			sessionEvictions: prometheus.NewCounter(
				prometheus.CounterOpts{Namespace: namespace, Name: "session_evictions_total", Help: "Sessions evicted from the cache by the TTL sweep."},
			),
			sessionMigrations: prometheus.NewCounter(
				prometheus.CounterOpts{Namespace: namespace, Name: "session_migrations_total", Help: "Sessions whose durable record needed legacy normalization."},
			),
			providerCallsTotal: prometheus.NewCounterVec(
				prometheus.CounterOpts{Namespace: namespace, Name: "provider_calls_total", Help: "Gateway chat calls by driver and status."},
				[]string{"driver", "status"},
			),
			providerCallDuration: prometheus.NewHistogramVec(
				prometheus.HistogramOpts{Namespace: namespace, Name: "provider_call_duration_seconds", Help: "Gateway chat call duration by driver.", Buckets: prometheus.DefBuckets},
				[]string{"driver"},
			),
			providerTokensTotal: prometheus.NewCounterVec(
				prometheus.CounterOpts{Namespace: namespace, Name: "provider_tokens_total", Help: "Tokens reported by providers."},
				[]string{"driver", "direction"},
			),
			providerQuirkRewrites: prometheus.NewCounterVec(
				prometheus.CounterOpts{Namespace: namespace, Name: "provider_text_tool_calls_total", Help: "Tool calls recovered from free-text model output."},
				[]string{"driver"},
			),
			toolExecutionTotal: prometheus.NewCounterVec(
				prometheus.CounterOpts{Namespace: namespace, Name: "tool_execution_total", Help: "Tool executions by tool and status."},
				[]string{"tool", "status"},
			),
			toolExecutionDuration: prometheus.NewHistogramVec(
				prometheus.HistogramOpts{Namespace: namespace, Name: "tool_execution_duration_seconds", Help: "Tool execution duration by tool.", Buckets: prometheus.DefBuckets},
				[]string{"tool"},
			),
			sandboxDenialsTotal: prometheus.NewCounterVec(
				prometheus.CounterOpts{Namespace: namespace, Name: "sandbox_denials_total", Help: "Sandbox rejections by kind (path, command)."},
				[]string{"kind"},
			),
			processKillsTotal: prometheus.NewCounterVec(
				prometheus.CounterOpts{Namespace: namespace, Name: "sandbox_process_kills_total", Help: "Process group terminations by reason and signal."},
				[]string{"reason", "signal"},
			),
			agentRunTotal: prometheus.NewCounterVec(
				prometheus.CounterOpts{Namespace: namespace, Name: "agent_run_total", Help: "Agent loop runs by outcome."},
				[]string{"outcome"},
			),
			agentRunDuration: prometheus.NewHistogramVec(
				prometheus.HistogramOpts{Namespace: namespace, Name: "agent_run_duration_seconds", Help: "Agent loop run duration by outcome.", Buckets: prometheus.DefBuckets},
				[]string{"outcome"},
			),
			agentIterations: prometheus.NewHistogram(
				prometheus.HistogramOpts{Namespace: namespace, Name: "agent_run_iterations", Help: "Model calls per agent loop run.", Buckets: []float64{1, 2, 3, 5, 8, 13, 21, 34}},
			),
			interruptionsTotal: prometheus.NewCounter(
				prometheus.CounterOpts{Namespace: namespace, Name: "interruptions_total", Help: "Finalized user interruptions."},
			),
		}

		prometheus.MustRegister(
			m.queueSize,
			m.enqueueTotal,
			m.taskDuration,
			m.cachedSessions,
			m.sessionLoadDuration,
			m.sessionSaveDuration,
			m.sessionSavesTotal,
			m.sessionEvictions,
			m.sessionMigrations,
			m.providerCallsTotal,
			m.providerCallDuration,
			m.providerTokensTotal,
			m.providerQuirkRewrites,
			m.toolExecutionTotal,
			m.toolExecutionDuration,
			m.sandboxDenialsTotal,
			m.processKillsTotal,
			m.agentRunTotal,
			m.agentRunDuration,
			m.agentIterations,
			m.interruptionsTotal,
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

// Session lanes are labelled by kind only; one series per session would not
// stay bounded.
func laneKind(lane string) string {
	for i := 0; i < len(lane); i++ {
		if lane[i] == ':' {
			return lane[:i]
		}
	}
	return lane
}

func RecordQueueEnqueue(lane string, queueSize int) {
	m := getMetrics()
	m.enqueueTotal.WithLabelValues(laneKind(lane)).Inc()
	m.queueSize.WithLabelValues(laneKind(lane)).Set(float64(queueSize))
}

func RecordQueueCompletion(lane string, duration time.Duration, success bool, queueSize int) {
	m := getMetrics()
	m.taskDuration.WithLabelValues(statusLabel(success)).Observe(duration.Seconds())
	m.queueSize.WithLabelValues(laneKind(lane)).Set(float64(queueSize))
}

func SetCachedSessions(count int) {
	getMetrics().cachedSessions.Set(float64(count))
}

func RecordSessionLoad(duration time.Duration, migrated bool) {
	m := getMetrics()
	m.sessionLoadDuration.Observe(duration.Seconds())
	if migrated {
		m.sessionMigrations.Inc()
	}
}

func RecordSessionSave(duration time.Duration, err error) {
	m := getMetrics()
	m.sessionSaveDuration.Observe(duration.Seconds())
	if err != nil {
		m.sessionSavesTotal.WithLabelValues("error").Inc()
		return
	}
	m.sessionSavesTotal.WithLabelValues("written").Inc()
}

func RecordSessionSaveCoalesced() {
	getMetrics().sessionSavesTotal.WithLabelValues("coalesced").Inc()
}

func RecordSessionEvictions(count int) {
	getMetrics().sessionEvictions.Add(float64(count))
}

func RecordProviderCall(driver string, duration time.Duration, success bool, inputTokens, outputTokens int) {
	m := getMetrics()
	m.providerCallsTotal.WithLabelValues(driver, statusLabel(success)).Inc()
	m.providerCallDuration.WithLabelValues(driver).Observe(duration.Seconds())
	if inputTokens > 0 {
		m.providerTokensTotal.WithLabelValues(driver, "input").Add(float64(inputTokens))
	}
	if outputTokens > 0 {
		m.providerTokensTotal.WithLabelValues(driver, "output").Add(float64(outputTokens))
	}
}

func RecordTextToolCalls(driver string, count int) {
	getMetrics().providerQuirkRewrites.WithLabelValues(driver).Add(float64(count))
}

func RecordToolExecution(tool string, duration time.Duration, success bool) {
	m := getMetrics()
	m.toolExecutionTotal.WithLabelValues(tool, statusLabel(success)).Inc()
	m.toolExecutionDuration.WithLabelValues(tool).Observe(duration.Seconds())
}

func RecordSandboxDenial(kind string) {
	getMetrics().sandboxDenialsTotal.WithLabelValues(kind).Inc()
}

func RecordProcessKill(reason, signal string) {
	getMetrics().processKillsTotal.WithLabelValues(reason, signal).Inc()
}

func RecordAgentRun(outcome string, duration time.Duration, iterations int) {
	m := getMetrics()
	m.agentRunTotal.WithLabelValues(outcome).Inc()
	m.agentRunDuration.WithLabelValues(outcome).Observe(duration.Seconds())
	m.agentIterations.Observe(float64(iterations))
}

func RecordInterruption() {
	getMetrics().interruptionsTotal.Inc()
}
