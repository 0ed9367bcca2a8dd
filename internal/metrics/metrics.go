package metrics

import (
	"log/slog"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

var (
	// Phase metrics
	phaseDuration = promauto.NewHistogramVec(
		prometheus.HistogramOpts{
			Name:    "intelforge_phase_duration_seconds",
			Help:    "Phase execution duration in seconds by phase and status",
			Buckets: prometheus.ExponentialBuckets(0.5, 2, 10), // 0.5s to ~500s
		},
		[]string{"phase", "status"},
	)

	phaseTokens = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "intelforge_phase_tokens_total",
			Help: "Total tokens consumed by phase and direction",
		},
		[]string{"phase", "direction"}, // direction: "prompt" or "response"
	)

	contextUtilization = promauto.NewGaugeVec(
		prometheus.GaugeOpts{
			Name: "intelforge_context_utilization_percent",
			Help: "Current context window utilization per session",
		},
		[]string{"session"},
	)

	// Lifecycle metrics
	handoversCreated = promauto.NewCounter(
		prometheus.CounterOpts{
			Name: "intelforge_handovers_total",
			Help: "Total handover checkpoints created",
		},
	)

	archivesCreated = promauto.NewCounter(
		prometheus.CounterOpts{
			Name: "intelforge_archives_total",
			Help: "Total intelligence archives synthesized",
		},
	)

	pendingHumanInputs = promauto.NewGauge(
		prometheus.GaugeOpts{
			Name: "intelforge_pending_human_inputs",
			Help: "Number of human-input requests currently waiting",
		},
	)

	humanInputOutcomes = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "intelforge_human_input_outcomes_total",
			Help: "Human-input request resolutions by outcome",
		},
		[]string{"outcome"}, // "completed", "expired", "validation_failed"
	)
)

// Collector provides convenience methods for recording metrics
type Collector struct {
	logger *slog.Logger
}

// NewCollector creates a new metrics collector
func NewCollector(logger *slog.Logger) *Collector {
	return &Collector{logger: logger}
}

// RecordPhase records one phase attempt's duration and outcome
func (c *Collector) RecordPhase(phase string, duration time.Duration, success bool) {
	status := "success"
	if !success {
		status = "error"
	}
	phaseDuration.WithLabelValues(phase, status).Observe(duration.Seconds())
}

// RecordTokens records a phase's prompt/response token consumption
func (c *Collector) RecordTokens(phase string, promptTokens, responseTokens int) {
	phaseTokens.WithLabelValues(phase, "prompt").Add(float64(promptTokens))
	phaseTokens.WithLabelValues(phase, "response").Add(float64(responseTokens))
}

// SetContextUtilization sets a session's current window utilization percentage
func (c *Collector) SetContextUtilization(sessionID string, percent float64) {
	contextUtilization.WithLabelValues(sessionID).Set(percent)
}

// IncrementHandovers counts a handover checkpoint
func (c *Collector) IncrementHandovers() {
	handoversCreated.Inc()
}

// IncrementArchives counts a synthesized archive
func (c *Collector) IncrementArchives() {
	archivesCreated.Inc()
}

// SetPendingHumanInputs sets the count of waiting human-input requests
func (c *Collector) SetPendingHumanInputs(count int) {
	pendingHumanInputs.Set(float64(count))
}

// RecordHumanInputOutcome counts a human-input resolution
func (c *Collector) RecordHumanInputOutcome(outcome string) {
	humanInputOutcomes.WithLabelValues(outcome).Inc()
}
