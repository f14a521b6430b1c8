// Package metrics provides the Prometheus implementation of loadplan.Metrics.
package metrics

import (
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/warp/load-engine/loadplan"
)

// PrometheusCollector implements loadplan.Metrics backed by Prometheus.
type PrometheusCollector struct {
	mutations     *prometheus.CounterVec
	optimizations *prometheus.CounterVec
	optimizeTime  *prometheus.HistogramVec
	loads         *prometheus.CounterVec
	loadTime      prometheus.Histogram
	busy          *prometheus.CounterVec
	cg            prometheus.Gauge
	score         prometheus.Gauge
	unassigned    prometheus.Gauge
}

// Compile-time assertion that PrometheusCollector implements loadplan.Metrics.
var _ loadplan.Metrics = (*PrometheusCollector)(nil)

// NewPrometheus creates and registers the collector.
//
// Parameters:
//   - reg: Prometheus registerer (uses prometheus.DefaultRegisterer if nil)
//   - namespace: Prometheus metrics namespace (defaults to "loadplan" if empty)
func NewPrometheus(reg prometheus.Registerer, namespace string) *PrometheusCollector {
	if reg == nil {
		reg = prometheus.DefaultRegisterer
	}
	if namespace == "" {
		namespace = "loadplan"
	}

	p := &PrometheusCollector{
		mutations: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "mutations_total",
			Help:      "Total layout mutations by operation and outcome.",
		}, []string{"op", "outcome"}),

		optimizations: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: "optimizer",
			Name:      "runs_total",
			Help:      "Total optimizer runs by method (exact, heuristic) and outcome.",
		}, []string{"method", "outcome"}),

		optimizeTime: prometheus.NewHistogramVec(prometheus.HistogramOpts{
			Namespace: namespace,
			Subsystem: "optimizer",
			Name:      "duration_seconds",
			Help:      "Optimizer run time in seconds by method.",
			Buckets:   prometheus.ExponentialBuckets(0.001, 4, 10), // 1ms .. ~4.4min
		}, []string{"method"}),

		loads: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "flight_loads_total",
			Help:      "Total flight loads by outcome.",
		}, []string{"outcome"}),

		loadTime: prometheus.NewHistogram(prometheus.HistogramOpts{
			Namespace: namespace,
			Name:      "flight_load_duration_seconds",
			Help:      "Flight load time in seconds.",
			Buckets:   prometheus.ExponentialBuckets(0.001, 2, 12), // 1ms .. ~2s
		}),

		busy: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "busy_rejections_total",
			Help:      "Requests rejected while a load or optimization was running, by action.",
		}, []string{"action"}),

		cg: prometheus.NewGauge(prometheus.GaugeOpts{
			Namespace: namespace,
			Subsystem: "state",
			Name:      "center_of_gravity",
			Help:      "Longitudinal center of gravity of the current layout.",
		}),
		score: prometheus.NewGauge(prometheus.GaugeOpts{
			Namespace: namespace,
			Subsystem: "state",
			Name:      "score",
			Help:      "Occupancy score of the current layout (0-100).",
		}),
		unassigned: prometheus.NewGauge(prometheus.GaugeOpts{
			Namespace: namespace,
			Subsystem: "state",
			Name:      "unassigned_units",
			Help:      "Load units waiting in the unassigned pool.",
		}),
	}

	reg.MustRegister(
		p.mutations,
		p.optimizations,
		p.optimizeTime,
		p.loads,
		p.loadTime,
		p.busy,
		p.cg,
		p.score,
		p.unassigned,
	)
	return p
}

func (p *PrometheusCollector) RecordMutation(op loadplan.Operation, err error) {
	p.mutations.WithLabelValues(string(op), outcome(err)).Inc()
}

func (p *PrometheusCollector) RecordOptimization(method string, elapsed time.Duration, err error) {
	p.optimizations.WithLabelValues(method, outcome(err)).Inc()
	p.optimizeTime.WithLabelValues(method).Observe(elapsed.Seconds())
}

func (p *PrometheusCollector) RecordLoad(elapsed time.Duration, err error) {
	p.loads.WithLabelValues(outcome(err)).Inc()
	p.loadTime.Observe(elapsed.Seconds())
}

func (p *PrometheusCollector) RecordBusyRejection(action string) {
	p.busy.WithLabelValues(action).Inc()
}

func (p *PrometheusCollector) ObserveState(cg, score float64, unassigned int) {
	p.cg.Set(cg)
	p.score.Set(score)
	p.unassigned.Set(float64(unassigned))
}

// outcome is "ok" or the error kind (validation, not_found, infeasible, ...).
func outcome(err error) string {
	if err == nil {
		return "ok"
	}
	return string(loadplan.KindOf(err))
}
