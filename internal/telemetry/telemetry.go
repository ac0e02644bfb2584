// Package telemetry exposes Prometheus metrics and OpenTelemetry spans for
// units of work.
package telemetry

import (
	"context"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/trace"
)

// Unit outcomes.
const (
	OutcomeOK      = "ok"
	OutcomeSkipped = "skipped"
	OutcomeFailed  = "failed"
)

// #region metrics
// Metrics counts units and times fits and scores. A nil *Metrics is a no-op.
type Metrics struct {
	units     *prometheus.CounterVec
	fitTime   *prometheus.HistogramVec
	scoreTime *prometheus.HistogramVec
}

// NewMetrics registers the collectors on reg. A nil reg leaves them unregistered.
func NewMetrics(reg prometheus.Registerer) *Metrics {
	f := promauto.With(reg)
	return &Metrics{
		units: f.NewCounterVec(prometheus.CounterOpts{
			Namespace: "eegbench",
			Name:      "units_total",
			Help:      "Units of work by evaluation kind and outcome.",
		}, []string{"kind", "outcome"}),
		fitTime: f.NewHistogramVec(prometheus.HistogramOpts{
			Namespace: "eegbench",
			Name:      "fit_duration_seconds",
			Help:      "Pipeline fit duration.",
			Buckets:   prometheus.ExponentialBuckets(0.001, 4, 10),
		}, []string{"kind"}),
		scoreTime: f.NewHistogramVec(prometheus.HistogramOpts{
			Namespace: "eegbench",
			Name:      "score_duration_seconds",
			Help:      "Pipeline score duration.",
			Buckets:   prometheus.ExponentialBuckets(0.0001, 4, 10),
		}, []string{"kind"}),
	}
}

// Unit counts one finished unit.
func (m *Metrics) Unit(kind, outcome string) {
	if m == nil {
		return
	}
	m.units.WithLabelValues(kind, outcome).Inc()
}

// Fit records a fit duration.
func (m *Metrics) Fit(kind string, d time.Duration) {
	if m == nil {
		return
	}
	m.fitTime.WithLabelValues(kind).Observe(d.Seconds())
}

// Score records a score duration.
func (m *Metrics) Score(kind string, d time.Duration) {
	if m == nil {
		return
	}
	m.scoreTime.WithLabelValues(kind).Observe(d.Seconds())
}

// Units exposes the unit counter for inspection.
func (m *Metrics) Units() *prometheus.CounterVec { return m.units }

// #endregion metrics

// #region tracing
// Tracer opens one span per unit of work.
type Tracer struct {
	t trace.Tracer
}

// NewTracer uses tp, or the global provider when tp is nil.
func NewTracer(tp trace.TracerProvider) *Tracer {
	if tp == nil {
		tp = otel.GetTracerProvider()
	}
	return &Tracer{t: tp.Tracer("eegbench.evaluation")}
}

// UnitAttrs identifies a unit on its span.
type UnitAttrs struct {
	Kind        string
	Dataset     string
	Subject     int
	Session     string
	Pipeline    string
	DataSize    float64
	Permutation int
}

// StartUnit starts a span named after the evaluation kind.
func (t *Tracer) StartUnit(ctx context.Context, a UnitAttrs) (context.Context, trace.Span) {
	return t.t.Start(ctx, "evaluation."+a.Kind, trace.WithAttributes(
		attribute.String("dataset", a.Dataset),
		attribute.Int("subject", a.Subject),
		attribute.String("session", a.Session),
		attribute.String("pipeline", a.Pipeline),
		attribute.Float64("data_size", a.DataSize),
		attribute.Int("permutation", a.Permutation),
	))
}

// EndUnit closes span with the unit's outcome.
func EndUnit(span trace.Span, outcome string, err error) {
	span.SetAttributes(attribute.String("outcome", outcome))
	if err != nil {
		span.RecordError(err)
		span.SetStatus(codes.Error, err.Error())
	} else {
		span.SetStatus(codes.Ok, "")
	}
	span.End()
}

// #endregion tracing
