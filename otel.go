package respwatch

import (
	"context"
	"time"

	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/metric"
	"go.opentelemetry.io/otel/trace"
)

const (
	instrumentationName = "github.com/flowkit/respwatch"
)

// otelInstrumentation holds OpenTelemetry instrumentation for the watcher.
type otelInstrumentation struct {
	enabled bool

	// Tracing
	tracingEnabled bool
	tracer         trace.Tracer

	// Metrics
	metricsEnabled bool

	listenLatency  metric.Float64Histogram
	listenCount    metric.Int64Counter
	listenTimeouts metric.Int64Counter
	listenErrors   metric.Int64Counter

	publishLatency metric.Float64Histogram
	publishCount   metric.Int64Counter
	publishErrors  metric.Int64Counter

	deliveredCount metric.Int64Counter
	droppedCount   metric.Int64Counter
}

// newOtelInstrumentation creates new OTel instrumentation from options.
func newOtelInstrumentation(opts *options) (*otelInstrumentation, error) {
	o := &otelInstrumentation{
		enabled:        opts.tracingEnabled || opts.metricsEnabled,
		tracingEnabled: opts.tracingEnabled,
		metricsEnabled: opts.metricsEnabled,
	}

	if !o.enabled {
		return o, nil
	}

	// Initialize tracer
	if opts.tracingEnabled {
		tp := opts.tracerProvider
		if tp == nil {
			tp = otel.GetTracerProvider()
		}
		o.tracer = tp.Tracer(instrumentationName)
	}

	// Initialize metrics
	if opts.metricsEnabled {
		mp := opts.meterProvider
		if mp == nil {
			mp = otel.GetMeterProvider()
		}
		if err := o.initMetrics(mp); err != nil {
			return nil, err
		}
	}

	return o, nil
}

// initMetrics initializes all metric instruments.
func (o *otelInstrumentation) initMetrics(mp metric.MeterProvider) error {
	meter := mp.Meter(instrumentationName)

	var err error

	o.listenLatency, err = meter.Float64Histogram(
		"respwatch.listen.duration",
		metric.WithDescription("Duration of listen operations"),
		metric.WithUnit("s"),
	)
	if err != nil {
		return err
	}

	o.listenCount, err = meter.Int64Counter(
		"respwatch.listen.count",
		metric.WithDescription("Number of listen operations"),
	)
	if err != nil {
		return err
	}

	o.listenTimeouts, err = meter.Int64Counter(
		"respwatch.listen.timeouts",
		metric.WithDescription("Number of listens resolved by timeout fallback"),
	)
	if err != nil {
		return err
	}

	o.listenErrors, err = meter.Int64Counter(
		"respwatch.listen.errors",
		metric.WithDescription("Number of listen errors"),
	)
	if err != nil {
		return err
	}

	o.publishLatency, err = meter.Float64Histogram(
		"respwatch.publish.duration",
		metric.WithDescription("Duration of publish operations"),
		metric.WithUnit("s"),
	)
	if err != nil {
		return err
	}

	o.publishCount, err = meter.Int64Counter(
		"respwatch.publish.count",
		metric.WithDescription("Number of publish operations"),
	)
	if err != nil {
		return err
	}

	o.publishErrors, err = meter.Int64Counter(
		"respwatch.publish.errors",
		metric.WithDescription("Number of publish errors"),
	)
	if err != nil {
		return err
	}

	o.deliveredCount, err = meter.Int64Counter(
		"respwatch.delivered.count",
		metric.WithDescription("Number of envelopes dispatched to a pending wait"),
	)
	if err != nil {
		return err
	}

	o.droppedCount, err = meter.Int64Counter(
		"respwatch.dropped.count",
		metric.WithDescription("Number of inbound envelopes dropped"),
	)
	if err != nil {
		return err
	}

	return nil
}

// startSpan starts a new span if tracing is enabled.
// Caller should call the returned func with the operation's error when done.
func (o *otelInstrumentation) startSpan(ctx context.Context, name string, attrs ...attribute.KeyValue) (context.Context, func(error)) {
	if !o.tracingEnabled || o.tracer == nil {
		return ctx, func(error) {}
	}
	ctx, span := o.tracer.Start(ctx, name,
		trace.WithAttributes(attrs...),
		trace.WithSpanKind(trace.SpanKindInternal),
	)
	return ctx, func(err error) {
		if err != nil {
			span.RecordError(err)
			span.SetStatus(codes.Error, err.Error())
		} else {
			span.SetStatus(codes.Ok, "")
		}
		span.End()
	}
}

// recordListen records listen operation metrics.
func (o *otelInstrumentation) recordListen(ctx context.Context, duration time.Duration, timedOut bool, err error) {
	if !o.metricsEnabled {
		return
	}

	attrs := metric.WithAttributes(
		attribute.Bool("timed_out", timedOut),
	)

	o.listenLatency.Record(ctx, duration.Seconds(), attrs)
	o.listenCount.Add(ctx, 1, attrs)
	if timedOut {
		o.listenTimeouts.Add(ctx, 1)
	}
	if err != nil {
		o.listenErrors.Add(ctx, 1)
	}
}

// recordPublish records publish operation metrics.
func (o *otelInstrumentation) recordPublish(ctx context.Context, duration time.Duration, err error) {
	if !o.metricsEnabled {
		return
	}

	o.publishLatency.Record(ctx, duration.Seconds())
	o.publishCount.Add(ctx, 1)
	if err != nil {
		o.publishErrors.Add(ctx, 1)
	}
}

// recordDelivered records a successful envelope dispatch.
func (o *otelInstrumentation) recordDelivered(ctx context.Context) {
	if !o.metricsEnabled {
		return
	}
	o.deliveredCount.Add(ctx, 1)
}

// recordDropped records a dropped inbound envelope.
func (o *otelInstrumentation) recordDropped(ctx context.Context, reason string) {
	if !o.metricsEnabled {
		return
	}
	o.droppedCount.Add(ctx, 1, metric.WithAttributes(
		attribute.String("reason", reason),
	))
}
