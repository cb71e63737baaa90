package pipeline

import (
	"context"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"

	"github.com/YuminosukeSato/clfpipe/pkg/errors"
	"github.com/YuminosukeSato/clfpipe/sklearn/model_selection"
)

// Metrics holds the Prometheus collectors of the pipeline. A nil *Metrics
// records nothing.
type Metrics struct {
	FitsTotal      *prometheus.CounterVec   // model fits by variant
	FitFailures    *prometheus.CounterVec   // failed fits by variant and error kind
	FitDuration    *prometheus.HistogramVec // fit latency by variant
	GridPoints     *prometheus.CounterVec   // evaluated grid points by variant and status
	CVAccuracy     *prometheus.HistogramVec // mean cross-validated accuracy per grid point
	TestAccuracy   *prometheus.GaugeVec     // held-out accuracy of the last run by variant
	TestBaseline   *prometheus.GaugeVec     // no-information rate of the last run by variant
	RunsTotal      *prometheus.CounterVec   // pipeline runs by status
	RunDuration    prometheus.Histogram     // end-to-end run latency
	LastRunSeconds prometheus.Gauge         // unix time of the last finished run
}

// NewMetrics creates and registers the collectors on the default registry.
func NewMetrics() *Metrics {
	return NewMetricsWithRegistry(prometheus.DefaultRegisterer)
}

// NewMetricsWithRegistry creates the collectors on registerer. Tests pass a
// fresh prometheus.NewRegistry().
func NewMetricsWithRegistry(registerer prometheus.Registerer) *Metrics {
	factory := promauto.With(registerer)
	return &Metrics{
		FitsTotal: factory.NewCounterVec(prometheus.CounterOpts{
			Name: "clfpipe_fits_total",
			Help: "Total number of model fits",
		}, []string{"variant"}),
		FitFailures: factory.NewCounterVec(prometheus.CounterOpts{
			Name: "clfpipe_fit_failures_total",
			Help: "Total number of failed model fits",
		}, []string{"variant", "kind"}),
		FitDuration: factory.NewHistogramVec(prometheus.HistogramOpts{
			Name:    "clfpipe_fit_duration_seconds",
			Help:    "Duration of a single model fit in seconds",
			Buckets: prometheus.ExponentialBuckets(0.0005, 2, 16),
		}, []string{"variant"}),
		GridPoints: factory.NewCounterVec(prometheus.CounterOpts{
			Name: "clfpipe_grid_points_total",
			Help: "Total number of cross-validated grid points",
		}, []string{"variant", "status"}),
		CVAccuracy: factory.NewHistogramVec(prometheus.HistogramOpts{
			Name:    "clfpipe_cv_accuracy",
			Help:    "Mean cross-validated accuracy of a grid point",
			Buckets: prometheus.LinearBuckets(0.5, 0.05, 11),
		}, []string{"variant"}),
		TestAccuracy: factory.NewGaugeVec(prometheus.GaugeOpts{
			Name: "clfpipe_test_accuracy",
			Help: "Held-out accuracy of the last run",
		}, []string{"variant"}),
		TestBaseline: factory.NewGaugeVec(prometheus.GaugeOpts{
			Name: "clfpipe_test_baseline",
			Help: "No-information rate of the last run's test split",
		}, []string{"variant"}),
		RunsTotal: factory.NewCounterVec(prometheus.CounterOpts{
			Name: "clfpipe_runs_total",
			Help: "Total number of pipeline runs",
		}, []string{"status"}),
		RunDuration: factory.NewHistogram(prometheus.HistogramOpts{
			Name:    "clfpipe_run_duration_seconds",
			Help:    "End-to-end pipeline run duration in seconds",
			Buckets: prometheus.ExponentialBuckets(0.01, 2, 16),
		}),
		LastRunSeconds: factory.NewGauge(prometheus.GaugeOpts{
			Name: "clfpipe_last_run_timestamp_seconds",
			Help: "Unix time of the last finished run",
		}),
	}
}

func (m *Metrics) observeFit(v Variant, d time.Duration, err error) {
	if m == nil {
		return
	}
	m.FitsTotal.WithLabelValues(v.String()).Inc()
	m.FitDuration.WithLabelValues(v.String()).Observe(d.Seconds())
	if err != nil {
		m.FitFailures.WithLabelValues(v.String(), errorKind(err)).Inc()
	}
}

func (m *Metrics) observePoint(v Variant, p model_selection.PointResult) {
	if m == nil {
		return
	}
	if p.Failed() {
		m.GridPoints.WithLabelValues(v.String(), "failed").Inc()
		return
	}
	m.GridPoints.WithLabelValues(v.String(), "ok").Inc()
	m.CVAccuracy.WithLabelValues(v.String()).Observe(p.MeanScore)
}

func (m *Metrics) observeRun(res *Result, d time.Duration, err error) {
	if m == nil {
		return
	}
	m.RunDuration.Observe(d.Seconds())
	if err != nil {
		m.RunsTotal.WithLabelValues("failed").Inc()
		return
	}
	m.RunsTotal.WithLabelValues("ok").Inc()
	m.TestAccuracy.WithLabelValues(res.Variant.String()).Set(res.Evaluation.Accuracy)
	m.TestBaseline.WithLabelValues(res.Variant.String()).Set(res.Evaluation.Baseline)
	m.LastRunSeconds.SetToCurrentTime()
}

// errorKind names the error class for metric labels and logs.
func errorKind(err error) string {
	var (
		invalid    *errors.InvalidParameterError
		target     *errors.IncompatibleTargetError
		load       *errors.LoadError
		comp       *errors.ComputationError
		notFitted  *errors.NotFittedError
		dimension  *errors.DimensionError
		valueError *errors.ValueError
	)
	switch {
	case errors.As(err, &invalid):
		return "invalid_parameter"
	case errors.As(err, &target):
		return "incompatible_target"
	case errors.As(err, &load):
		return "load"
	case errors.As(err, &comp):
		return "computation"
	case errors.As(err, &notFitted):
		return "not_fitted"
	case errors.As(err, &dimension):
		return "dimension"
	case errors.As(err, &valueError):
		return "value"
	case errors.Is(err, context.Canceled), errors.Is(err, context.DeadlineExceeded):
		return "cancelled"
	}
	return "other"
}
