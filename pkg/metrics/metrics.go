// Package metrics holds the Prometheus collectors for the AI session lifecycle.
package metrics

import (
	"strconv"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

var (
	// generationsTotal counts finished orchestrations by flow and final status.
	generationsTotal = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "testdeck_ai_generations_total",
		Help: "Finished AI generations by flow and status",
	}, []string{"flow", "status"})

	// generationDuration tracks end-to-end orchestration latency.
	generationDuration = promauto.NewHistogramVec(prometheus.HistogramOpts{
		Name:    "testdeck_ai_generation_duration_seconds",
		Help:    "End-to-end AI generation duration in seconds",
		Buckets: prometheus.ExponentialBuckets(0.5, 2, 10), // 0.5s to ~4m
	}, []string{"flow"})

	// runWaitDuration tracks time spent polling a run, by outcome.
	runWaitDuration = promauto.NewHistogramVec(prometheus.HistogramOpts{
		Name:    "testdeck_ai_run_wait_seconds",
		Help:    "Time spent waiting for assistant runs by outcome",
		Buckets: prometheus.ExponentialBuckets(0.5, 2, 10),
	}, []string{"outcome"})

	tokensUsed = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "testdeck_ai_tokens_total",
		Help: "Tokens consumed by flow and usage source",
	}, []string{"flow", "source"})

	threadRotations = promauto.NewCounter(prometheus.CounterOpts{
		Name: "testdeck_ai_thread_rotations_total",
		Help: "Threads deleted to make room for a fresh thread",
	})

	threadsDeactivated = promauto.NewCounter(prometheus.CounterOpts{
		Name: "testdeck_ai_threads_deactivated_total",
		Help: "Threads deactivated after reaching the message ceiling",
	})

	// staleRecordsPurged counts local records removed because the remote resource was gone.
	staleRecordsPurged = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "testdeck_ai_stale_records_purged_total",
		Help: "Local records purged after the remote resource disappeared",
	}, []string{"resource"})

	teardownStepFailures = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "testdeck_ai_teardown_step_failures_total",
		Help: "Assistant teardown step failures by step",
	}, []string{"step"})

	orphansDeleted = promauto.NewCounter(prometheus.CounterOpts{
		Name: "testdeck_ai_orphan_assistants_deleted_total",
		Help: "Remote assistants deleted by the reconciliation sweep",
	})

	// circuitState is 0 closed, 1 half-open, 2 open.
	circuitState = promauto.NewGauge(prometheus.GaugeOpts{
		Name: "testdeck_ai_circuit_state",
		Help: "Provider circuit breaker state (0 closed, 1 half-open, 2 open)",
	})

	circuitTransitions = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "testdeck_ai_circuit_transitions_total",
		Help: "Provider circuit breaker transitions by target state",
	}, []string{"to"})

	httpRequestDuration = promauto.NewHistogramVec(prometheus.HistogramOpts{
		Name:    "testdeck_http_request_duration_seconds",
		Help:    "HTTP request duration by method, route and status",
		Buckets: prometheus.DefBuckets,
	}, []string{"method", "route", "status"})
)

// RecordGeneration records a finished generation or suggestion flow.
func RecordGeneration(flow, status string, elapsed time.Duration) {
	generationsTotal.WithLabelValues(flow, status).Inc()
	generationDuration.WithLabelValues(flow).Observe(elapsed.Seconds())
}

// RecordRunWait records how long a run was polled and how it ended.
func RecordRunWait(outcome string, waited time.Duration) {
	runWaitDuration.WithLabelValues(outcome).Observe(waited.Seconds())
}

// RecordTokens adds consumed tokens. Zero is ignored.
func RecordTokens(flow, source string, tokens int) {
	if tokens <= 0 {
		return
	}
	tokensUsed.WithLabelValues(flow, source).Add(float64(tokens))
}

func RecordThreadRotation() {
	threadRotations.Inc()
}

func RecordThreadDeactivated() {
	threadsDeactivated.Inc()
}

// RecordStalePurge counts a self-healing purge of "assistant" or "thread" records.
func RecordStalePurge(resource string) {
	staleRecordsPurged.WithLabelValues(resource).Inc()
}

func RecordTeardownFailure(step string) {
	teardownStepFailures.WithLabelValues(step).Inc()
}

func RecordOrphanDeleted() {
	orphansDeleted.Inc()
}

// RecordCircuitTransition tracks a breaker moving to state, one of "closed",
// "half-open" or "open".
func RecordCircuitTransition(state string) {
	circuitTransitions.WithLabelValues(state).Inc()
	switch state {
	case "closed":
		circuitState.Set(0)
	case "half-open":
		circuitState.Set(1)
	case "open":
		circuitState.Set(2)
	}
}

// RecordHTTPRequest observes one served request. route must be the mux pattern,
// not the raw path.
func RecordHTTPRequest(method, route string, status int, elapsed time.Duration) {
	httpRequestDuration.WithLabelValues(method, route, strconv.Itoa(status)).Observe(elapsed.Seconds())
}
