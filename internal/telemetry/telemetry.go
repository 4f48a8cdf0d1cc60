// Package telemetry exports Prometheus metrics for source calls, circuit
// breakers, searches and refresh cycles.
package telemetry

import (
	"errors"
	"net/http"
	"strconv"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
	"github.com/prometheus/client_golang/prometheus/promhttp"

	"github.com/jonesrussell/north-cloud/partprice/infrastructure/circuitbreaker"
	"github.com/jonesrussell/north-cloud/partprice/internal/aggregator"
	"github.com/jonesrussell/north-cloud/partprice/internal/domain"
	"github.com/jonesrussell/north-cloud/partprice/internal/orchestrator"
	"github.com/jonesrussell/north-cloud/partprice/internal/resilience"
)

const namespace = "partprice"

// Source call outcomes.
const (
	OutcomeSuccess        = "success"
	OutcomeTransient      = "transient"
	OutcomePermanent      = "permanent"
	OutcomeShortCircuited = "short_circuited"
)

// Metrics holds every partprice collector.
type Metrics struct {
	// Resilience
	SourceCalls        *prometheus.CounterVec
	SourceRetries      *prometheus.CounterVec
	SourceCallDuration *prometheus.HistogramVec
	CircuitState       *prometheus.GaugeVec
	CircuitTransitions *prometheus.CounterVec

	// Aggregator
	SearchDuration    *prometheus.HistogramVec
	Searches          *prometheus.CounterVec
	AggregateDuration prometheus.Histogram
	AggregateResults  prometheus.Histogram

	// Orchestrator
	Cycles            *prometheus.CounterVec
	CycleDuration     *prometheus.HistogramVec
	CyclePairs        *prometheus.CounterVec
	Reconciles        *prometheus.CounterVec
	PriceDrops        *prometheus.CounterVec
	OrchestratorState prometheus.Gauge
}

var (
	_ resilience.Observer    = (*Metrics)(nil)
	_ aggregator.Telemetry   = (*Metrics)(nil)
	_ orchestrator.Telemetry = (*Metrics)(nil)
)

// New registers the collectors with reg.
func New(reg prometheus.Registerer) *Metrics {
	f := promauto.With(reg)
	m := &Metrics{}
	initResilienceMetrics(f, m)
	initAggregatorMetrics(f, m)
	initOrchestratorMetrics(f, m)
	return m
}

// Handler serves the metrics gathered by g.
func Handler(g prometheus.Gatherer) http.Handler {
	return promhttp.HandlerFor(g, promhttp.HandlerOpts{})
}

func initResilienceMetrics(f promauto.Factory, m *Metrics) {
	m.SourceCalls = f.NewCounterVec(prometheus.CounterOpts{
		Namespace: namespace,
		Name:      "source_calls_total",
		Help:      "Source calls by host and final outcome",
	}, []string{"host", "outcome"})

	m.SourceRetries = f.NewCounterVec(prometheus.CounterOpts{
		Namespace: namespace,
		Name:      "source_retries_total",
		Help:      "Retried source call attempts",
	}, []string{"host"})

	m.SourceCallDuration = f.NewHistogramVec(prometheus.HistogramOpts{
		Namespace: namespace,
		Name:      "source_call_duration_seconds",
		Help:      "Source call duration including retries",
		Buckets:   []float64{0.05, 0.1, 0.25, 0.5, 1, 2.5, 5, 10, 30, 60},
	}, []string{"host"})

	m.CircuitState = f.NewGaugeVec(prometheus.GaugeOpts{
		Namespace: namespace,
		Name:      "circuit_state",
		Help:      "Circuit state per host (0 closed, 1 open, 2 half-open)",
	}, []string{"host"})

	m.CircuitTransitions = f.NewCounterVec(prometheus.CounterOpts{
		Namespace: namespace,
		Name:      "circuit_transitions_total",
		Help:      "Circuit state transitions by target state",
	}, []string{"host", "to"})
}

func initAggregatorMetrics(f promauto.Factory, m *Metrics) {
	m.SearchDuration = f.NewHistogramVec(prometheus.HistogramOpts{
		Namespace: namespace,
		Name:      "search_duration_seconds",
		Help:      "Per-source search latency within an aggregate",
		Buckets:   []float64{0.05, 0.1, 0.25, 0.5, 1, 2.5, 5, 10, 30},
	}, []string{"source"})

	m.Searches = f.NewCounterVec(prometheus.CounterOpts{
		Namespace: namespace,
		Name:      "searches_total",
		Help:      "Per-source searches by success",
	}, []string{"source", "success"})

	m.AggregateDuration = f.NewHistogram(prometheus.HistogramOpts{
		Namespace: namespace,
		Name:      "aggregate_duration_seconds",
		Help:      "Wall-clock duration of an aggregate search",
		Buckets:   []float64{0.1, 0.25, 0.5, 1, 2.5, 5, 10, 30, 60},
	})

	m.AggregateResults = f.NewHistogram(prometheus.HistogramOpts{
		Namespace: namespace,
		Name:      "aggregate_results",
		Help:      "Offers returned per aggregate search",
		Buckets:   []float64{0, 1, 5, 10, 20, 50, 100},
	})
}

func initOrchestratorMetrics(f promauto.Factory, m *Metrics) {
	m.Cycles = f.NewCounterVec(prometheus.CounterOpts{
		Namespace: namespace,
		Name:      "cycles_total",
		Help:      "Finished refresh cycles by mode",
	}, []string{"mode", "cancelled"})

	m.CycleDuration = f.NewHistogramVec(prometheus.HistogramOpts{
		Namespace: namespace,
		Name:      "cycle_duration_seconds",
		Help:      "Refresh cycle duration",
		Buckets:   prometheus.ExponentialBuckets(1, 4, 8),
	}, []string{"mode"})

	m.CyclePairs = f.NewCounterVec(prometheus.CounterOpts{
		Namespace: namespace,
		Name:      "cycle_pairs_total",
		Help:      "Product/store pairs handled by result",
	}, []string{"mode", "result"})

	m.Reconciles = f.NewCounterVec(prometheus.CounterOpts{
		Namespace: namespace,
		Name:      "reconciles_total",
		Help:      "Offer reconciles by source and action",
	}, []string{"source", "action"})

	m.PriceDrops = f.NewCounterVec(prometheus.CounterOpts{
		Namespace: namespace,
		Name:      "price_drops_total",
		Help:      "Markdowns detected by source",
	}, []string{"source"})

	m.OrchestratorState = f.NewGauge(prometheus.GaugeOpts{
		Namespace: namespace,
		Name:      "orchestrator_state",
		Help:      "Orchestrator state (0 idle, 1 running, 2 stopped)",
	})
}

// ObserveDecision implements resilience.Observer.
func (m *Metrics) ObserveDecision(d resilience.Decision) {
	outcome := OutcomeSuccess
	switch {
	case errors.Is(d.Err, circuitbreaker.ErrCircuitOpen):
		outcome = OutcomeShortCircuited
	case d.Class == resilience.ClassPermanent:
		outcome = OutcomePermanent
	case d.Class == resilience.ClassTransient:
		outcome = OutcomeTransient
	}

	m.SourceCalls.WithLabelValues(d.Host, outcome).Inc()
	if d.Retries > 0 {
		m.SourceRetries.WithLabelValues(d.Host).Add(float64(d.Retries))
	}
	if d.Attempted {
		m.SourceCallDuration.WithLabelValues(d.Host).Observe(d.Duration.Seconds())
	}
}

// OnCircuitStateChange records a breaker transition.
func (m *Metrics) OnCircuitStateChange(host string, _, to circuitbreaker.State) {
	m.CircuitState.WithLabelValues(host).Set(float64(to))
	m.CircuitTransitions.WithLabelValues(host, to.String()).Inc()
}

// ObserveSourceSearch implements aggregator.Telemetry.
func (m *Metrics) ObserveSourceSearch(src string, success bool, latency time.Duration) {
	m.Searches.WithLabelValues(src, strconv.FormatBool(success)).Inc()
	m.SearchDuration.WithLabelValues(src).Observe(latency.Seconds())
}

// ObserveAggregate implements aggregator.Telemetry.
func (m *Metrics) ObserveAggregate(latency time.Duration, results int) {
	m.AggregateDuration.Observe(latency.Seconds())
	m.AggregateResults.Observe(float64(results))
}

// ObserveCycle implements orchestrator.Telemetry.
func (m *Metrics) ObserveCycle(r orchestrator.CycleReport) {
	m.Cycles.WithLabelValues(r.Mode, strconv.FormatBool(r.Cancelled)).Inc()
	m.CycleDuration.WithLabelValues(r.Mode).Observe(r.Duration.Seconds())

	pairs := map[string]int{
		"succeeded":         r.Succeeded,
		"failed":            r.Failed,
		"persistence_error": r.PersistenceErrors,
		"skipped":           r.Skipped,
	}
	for result, n := range pairs {
		if n > 0 {
			m.CyclePairs.WithLabelValues(r.Mode, result).Add(float64(n))
		}
	}
}

// ObserveReconcile implements orchestrator.Telemetry.
func (m *Metrics) ObserveReconcile(src string, action domain.ReconcileAction, priceDropped bool) {
	m.Reconciles.WithLabelValues(src, string(action)).Inc()
	if priceDropped {
		m.PriceDrops.WithLabelValues(src).Inc()
	}
}

// SetState implements orchestrator.Telemetry.
func (m *Metrics) SetState(s orchestrator.State) {
	m.OrchestratorState.Set(float64(s))
}
