/*
metrics.go - Observation hooks for the Session

PURPOSE:
  The Session reports mutations, optimizer runs, loads, busy rejections
  and the derived CG/score after every change. NopMetrics is the default;
  metrics/prometheus.go exports the same observations to Prometheus.

SEE ALSO:
  - session.go: Where each hook is called
*/
package loadplan

import "time"

// Metrics receives observations from the Session. Implementations must be
// safe for concurrent use.
type Metrics interface {
	// RecordMutation counts one mutation attempt and its outcome.
	RecordMutation(op Operation, err error)

	// RecordOptimization observes one optimizer run ("exact" or "heuristic").
	RecordOptimization(method string, elapsed time.Duration, err error)

	// RecordLoad observes one flight load.
	RecordLoad(elapsed time.Duration, err error)

	// RecordBusyRejection counts a request rejected by the single-flight guard.
	RecordBusyRejection(action string)

	// ObserveState publishes the derived values of the current state.
	ObserveState(cg, score float64, unassigned int)
}

type nopMetrics struct{}

func (nopMetrics) RecordMutation(Operation, error) {}
func (nopMetrics) RecordOptimization(string, time.Duration, error) {}
func (nopMetrics) RecordLoad(time.Duration, error) {}
func (nopMetrics) RecordBusyRejection(string) {}
func (nopMetrics) ObserveState(float64, float64, int) {}

// NopMetrics returns a Metrics that discards every observation.
func NopMetrics() Metrics { return nopMetrics{} }
