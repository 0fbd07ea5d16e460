package telemetry

import (
	"log"
	"sync"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"

	"github.com/mohammad-safakhou/researcher/config"
)

// Telemetry tracks run outcomes and spend. Counters export through the
// default Prometheus registry; the HTTP shell serves them on /metrics.
type Telemetry struct {
	config config.TelemetryConfig
	logger *log.Logger

	mu         sync.RWMutex
	totalRuns  int64
	failedRuns int64
	totalCost  float64
}

var (
	runsStarted = promauto.NewCounter(prometheus.CounterOpts{
		Name: "researcher_runs_started_total",
		Help: "Research runs started.",
	})
	runsCompleted = promauto.NewCounter(prometheus.CounterOpts{
		Name: "researcher_runs_completed_total",
		Help: "Research runs finished successfully.",
	})
	runsFailed = promauto.NewCounter(prometheus.CounterOpts{
		Name: "researcher_runs_failed_total",
		Help: "Research runs that ended with a fatal error.",
	})
	sourcesGathered = promauto.NewCounter(prometheus.CounterOpts{
		Name: "researcher_sources_gathered_total",
		Help: "Source documents scraped across all runs.",
	})
	costSpent = promauto.NewCounter(prometheus.CounterOpts{
		Name: "researcher_llm_cost_usd_total",
		Help: "Estimated LLM spend in USD.",
	})
	runDuration = promauto.NewHistogram(prometheus.HistogramOpts{
		Name:    "researcher_run_duration_seconds",
		Help:    "Wall-clock duration of research runs.",
		Buckets: prometheus.ExponentialBuckets(1, 2, 12),
	})
)

// NewTelemetry creates a new telemetry instance
func NewTelemetry(cfg config.TelemetryConfig) *Telemetry {
	return &Telemetry{
		config: cfg,
		logger: log.New(log.Writer(), "[TELEMETRY] ", log.LstdFlags),
	}
}

// RecordRunStart notes that a run began
func (t *Telemetry) RecordRunStart(runID, query string) {
	if !t.config.Enabled {
		return
	}
	runsStarted.Inc()
	t.logger.Printf("run %s started: %q", runID, query)
}

// RecordRunEnd notes the outcome of a run
func (t *Telemetry) RecordRunEnd(runID string, duration time.Duration, sources int, cost float64, err error) {
	if !t.config.Enabled {
		return
	}
	t.mu.Lock()
	t.totalRuns++
	if err != nil {
		t.failedRuns++
	}
	if t.config.CostTracking {
		t.totalCost += cost
	}
	t.mu.Unlock()

	runDuration.Observe(duration.Seconds())
	sourcesGathered.Add(float64(sources))
	if t.config.CostTracking {
		costSpent.Add(cost)
	}
	if err != nil {
		runsFailed.Inc()
		t.logger.Printf("run %s failed after %s: %v", runID, duration.Round(time.Millisecond), err)
		return
	}
	runsCompleted.Inc()
	t.logger.Printf("run %s completed in %s: %d sources, $%.4f", runID, duration.Round(time.Millisecond), sources, cost)
}

// TotalCost reports accumulated spend since process start
func (t *Telemetry) TotalCost() float64 {
	t.mu.RLock()
	defer t.mu.RUnlock()
	return t.totalCost
}

// Runs reports total and failed run counts since process start
func (t *Telemetry) Runs() (total, failed int64) {
	t.mu.RLock()
	defer t.mu.RUnlock()
	return t.totalRuns, t.failedRuns
}
