// Package metrics records orchestrator activity as Prometheus collectors.
package metrics

import (
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"

	"github.com/doeshing/flowcard/internal/domain"
	"github.com/doeshing/flowcard/internal/ports"
)

// Recorder owns the collectors. Each container builds its own registry so
// tests can construct recorders freely without duplicate registration.
type Recorder struct {
	registry *prometheus.Registry

	cacheHits          *prometheus.CounterVec
	cacheMisses        prometheus.Counter
	cacheExpired       prometheus.Counter
	cacheWriteFailures prometheus.Counter
	pollAttempts       prometheus.Counter
	executions         *prometheus.CounterVec
	executionDuration  *prometheus.HistogramVec
	historySize        prometheus.Gauge
}

// NewRecorder registers every collector on a fresh registry.
func NewRecorder() *Recorder {
	reg := prometheus.NewRegistry()
	factory := promauto.With(reg)
	return &Recorder{
		registry: reg,
		cacheHits: factory.NewCounterVec(prometheus.CounterOpts{
			Name: "flowcard_cache_hits_total",
			Help: "Cache reads served, by tier.",
		}, []string{"tier"}),
		cacheMisses: factory.NewCounter(prometheus.CounterOpts{
			Name: "flowcard_cache_misses_total",
			Help: "Cache reads that found nothing live in either tier.",
		}),
		cacheExpired: factory.NewCounter(prometheus.CounterOpts{
			Name: "flowcard_cache_expired_total",
			Help: "Expired cache entries purged on read.",
		}),
		cacheWriteFailures: factory.NewCounter(prometheus.CounterOpts{
			Name: "flowcard_cache_persistent_write_failures_total",
			Help: "Persistent-tier cache writes that failed and were skipped.",
		}),
		pollAttempts: factory.NewCounter(prometheus.CounterOpts{
			Name: "flowcard_workflow_poll_attempts_total",
			Help: "Status polls issued against the workflow API.",
		}),
		executions: factory.NewCounterVec(prometheus.CounterOpts{
			Name: "flowcard_executions_total",
			Help: "Finished executions by recorded status and error kind.",
		}, []string{"status", "kind"}),
		executionDuration: factory.NewHistogramVec(prometheus.HistogramOpts{
			Name:    "flowcard_execution_duration_seconds",
			Help:    "Wall-clock duration of executions.",
			Buckets: []float64{0.5, 1, 2, 5, 10, 30, 60, 120, 300},
		}, []string{"status"}),
		historySize: factory.NewGauge(prometheus.GaugeOpts{
			Name: "flowcard_history_items",
			Help: "History records currently retained.",
		}),
	}
}

// Registry exposes the registry for the /metrics handler.
func (r *Recorder) Registry() *prometheus.Registry {
	return r.registry
}

func (r *Recorder) CacheHit(tier string) { r.cacheHits.WithLabelValues(tier).Inc() }

func (r *Recorder) CacheMiss() { r.cacheMisses.Inc() }

func (r *Recorder) CacheExpired() { r.cacheExpired.Inc() }

func (r *Recorder) CacheWriteFailed() { r.cacheWriteFailures.Inc() }

func (r *Recorder) PollAttempt() { r.pollAttempts.Inc() }

func (r *Recorder) HistorySize(n int) { r.historySize.Set(float64(n)) }

func (r *Recorder) ExecutionFinished(status domain.ExecutionStatus, kind domain.ErrorKind, elapsed time.Duration) {
	r.executions.WithLabelValues(string(status), string(kind)).Inc()
	r.executionDuration.WithLabelValues(string(status)).Observe(elapsed.Seconds())
}

type nop struct{}

// Nop returns a Metrics that records nothing.
func Nop() ports.Metrics { return nop{} }

func (nop) CacheHit(string) {}

func (nop) CacheMiss() {}

func (nop) CacheExpired() {}

func (nop) CacheWriteFailed() {}

func (nop) PollAttempt() {}

func (nop) HistorySize(int) {}

func (nop) ExecutionFinished(domain.ExecutionStatus, domain.ErrorKind, time.Duration) {}

var _ ports.Metrics = (*Recorder)(nil)
