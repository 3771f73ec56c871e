// Package metrics exports reconfiguration metrics to Prometheus.
package metrics

import (
	"context"
	"errors"
	"time"

	"meshnode/node/reconfig"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

const namespace = "meshnode"

// Result labels for meshnode_reconfig_total.
const (
	ResultOK               = "ok"
	ResultShutdownFailed   = "shutdown_failed"
	ResultInitializeFailed = "initialize_failed"
	ResultCanceled         = "canceled"
	ResultOtherError       = "error"
)

// Recorder implements reconfig.Recorder.
type Recorder struct {
	applies     *prometheus.CounterVec
	duration    prometheus.Histogram
	phaseErrors *prometheus.CounterVec
	runtimeUp   prometheus.Gauge
}

// NewRecorder registers its collectors with reg.
func NewRecorder(reg prometheus.Registerer) *Recorder {
	f := promauto.With(reg)
	r := &Recorder{
		applies: f.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: "reconfig",
			Name:      "total",
			Help:      "Total interface reconfigurations by result",
		}, []string{"result"}),

		duration: f.NewHistogram(prometheus.HistogramOpts{
			Namespace: namespace,
			Subsystem: "reconfig",
			Name:      "duration_seconds",
			Help:      "Time to stop, rebuild and restart the runtime",
			Buckets:   prometheus.ExponentialBuckets(0.01, 2, 12),
		}),

		phaseErrors: f.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: "reconfig",
			Name:      "phase_errors_total",
			Help:      "Total failed reconfiguration phases",
		}, []string{"phase"}),

		runtimeUp: f.NewGauge(prometheus.GaugeOpts{
			Namespace: namespace,
			Subsystem: "runtime",
			Name:      "up",
			Help:      "Whether the protocol runtime is initialized (1=up, 0=down)",
		}),
	}

	// Pre-create label values so every series is exported from the start.
	for _, res := range []string{ResultOK, ResultShutdownFailed, ResultInitializeFailed, ResultCanceled, ResultOtherError} {
		r.applies.WithLabelValues(res)
	}
	for _, p := range reconfig.Phases {
		r.phaseErrors.WithLabelValues(p.String())
	}
	return r
}

func (r *Recorder) ObserveApply(err error, elapsed time.Duration) {
	r.applies.WithLabelValues(Result(err)).Inc()
	r.duration.Observe(elapsed.Seconds())
}

func (r *Recorder) ObservePhaseError(phase reconfig.Phase) {
	r.phaseErrors.WithLabelValues(phase.String()).Inc()
}

func (r *Recorder) SetRuntimeUp(up bool) {
	if up {
		r.runtimeUp.Set(1)
	} else {
		r.runtimeUp.Set(0)
	}
}

// Result maps an ApplyInterfaceChanges error to its result label.
func Result(err error) string {
	switch {
	case err == nil:
		return ResultOK
	case errors.Is(err, reconfig.ErrShutdown):
		return ResultShutdownFailed
	case errors.Is(err, reconfig.ErrInitialize):
		return ResultInitializeFailed
	case errors.Is(err, reconfig.ErrNotApplied),
		errors.Is(err, context.Canceled), errors.Is(err, context.DeadlineExceeded):
		return ResultCanceled
	default:
		return ResultOtherError
	}
}
