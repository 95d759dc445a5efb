// Package otel reports store activity through OpenTelemetry traces and
// metrics.
//
//	obs, err := otel.New()
//	if err != nil {
//		return err
//	}
//	store, err := vetamin.New(initial, vetamin.WithObservability(obs))
package otel

import (
	"context"
	"errors"
	"time"

	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/metric"
	"go.opentelemetry.io/otel/trace"

	"github.com/pankerit/vetamin"
)

const (
	instrumentationName = "github.com/pankerit/vetamin"
)

// Observability implements vetamin.Observability using OpenTelemetry
type Observability struct {
	tracer trace.Tracer
	meter  metric.Meter

	// Metrics
	updateCounter     metric.Int64Counter
	updateDuration    metric.Float64Histogram
	updateErrors      metric.Int64Counter
	evaluatedCounter  metric.Int64Counter
	firedCounter      metric.Int64Counter
	subscriberErrors  metric.Int64Counter
	activeSubscribers metric.Int64Gauge
	sinkErrors        metric.Int64Counter
}

// Option configures the Observability
type Option func(*Observability)

// WithTracerProvider sets a custom tracer provider
func WithTracerProvider(provider trace.TracerProvider) Option {
	return func(o *Observability) {
		o.tracer = provider.Tracer(instrumentationName)
	}
}

// WithMeterProvider sets a custom meter provider
func WithMeterProvider(provider metric.MeterProvider) Option {
	return func(o *Observability) {
		o.meter = provider.Meter(instrumentationName)
	}
}

// New creates a new OpenTelemetry observability implementation
func New(opts ...Option) (*Observability, error) {
	obs := &Observability{
		tracer: otel.Tracer(instrumentationName),
		meter:  otel.Meter(instrumentationName),
	}

	// Apply options
	for _, opt := range opts {
		opt(obs)
	}

	// Initialize metrics
	var err error

	obs.updateCounter, err = obs.meter.Int64Counter(
		"vetamin.update.count",
		metric.WithDescription("Number of store updates"),
		metric.WithUnit("{update}"),
	)
	if err != nil {
		return nil, err
	}

	obs.updateDuration, err = obs.meter.Float64Histogram(
		"vetamin.update.duration",
		metric.WithDescription("Update duration including the notification sweep"),
		metric.WithUnit("ms"),
	)
	if err != nil {
		return nil, err
	}

	obs.updateErrors, err = obs.meter.Int64Counter(
		"vetamin.update.errors",
		metric.WithDescription("Number of failed updates"),
		metric.WithUnit("{error}"),
	)
	if err != nil {
		return nil, err
	}

	obs.evaluatedCounter, err = obs.meter.Int64Counter(
		"vetamin.notify.evaluated",
		metric.WithDescription("Number of subscriber evaluations"),
		metric.WithUnit("{subscriber}"),
	)
	if err != nil {
		return nil, err
	}

	obs.firedCounter, err = obs.meter.Int64Counter(
		"vetamin.notify.fired",
		metric.WithDescription("Number of callbacks fired"),
		metric.WithUnit("{callback}"),
	)
	if err != nil {
		return nil, err
	}

	obs.subscriberErrors, err = obs.meter.Int64Counter(
		"vetamin.subscriber.errors",
		metric.WithDescription("Number of contained subscriber faults"),
		metric.WithUnit("{error}"),
	)
	if err != nil {
		return nil, err
	}

	obs.activeSubscribers, err = obs.meter.Int64Gauge(
		"vetamin.subscriber.active",
		metric.WithDescription("Number of active subscribers"),
		metric.WithUnit("{subscriber}"),
	)
	if err != nil {
		return nil, err
	}

	obs.sinkErrors, err = obs.meter.Int64Counter(
		"vetamin.sink.errors",
		metric.WithDescription("Number of sink session errors"),
		metric.WithUnit("{error}"),
	)
	if err != nil {
		return nil, err
	}

	return obs, nil
}

type updateKey struct{}

// updateAttrs carries the attributes of an update from its start hook to
// its completion hook.
type updateAttrs []attribute.KeyValue

func attrsFor(store, action string) updateAttrs {
	attrs := updateAttrs{attribute.String("store", store)}
	if action != "" {
		attrs = append(attrs, attribute.String("action", action))
	}
	return attrs
}

// OnUpdateStart is called before a store computes a patch
func (o *Observability) OnUpdateStart(ctx context.Context, store, action string) context.Context {
	attrs := attrsFor(store, action)

	spanName := "vetamin.update: " + store
	if action != "" {
		spanName = "vetamin.action: " + store + "." + action
	}
	ctx, _ = o.tracer.Start(ctx, spanName, trace.WithAttributes(attrs...))

	o.updateCounter.Add(ctx, 1, metric.WithAttributes(attrs...))

	return context.WithValue(ctx, updateKey{}, attrs)
}

// OnUpdateComplete is called when an update and its sweep finished
func (o *Observability) OnUpdateComplete(ctx context.Context, duration time.Duration, err error) {
	span := trace.SpanFromContext(ctx)
	attrs, _ := ctx.Value(updateKey{}).(updateAttrs)

	// Record duration
	durationMs := float64(duration) / float64(time.Millisecond)
	o.updateDuration.Record(ctx, durationMs, metric.WithAttributes(attrs...))

	// Handle errors
	if err != nil {
		span.SetStatus(codes.Error, err.Error())
		span.RecordError(err)
		o.updateErrors.Add(ctx, 1, metric.WithAttributes(attrs...))
	} else {
		span.SetStatus(codes.Ok, "")
	}

	span.End()
}

// OnNotify is called after every notification sweep
func (o *Observability) OnNotify(ctx context.Context, store string, evaluated, fired int) {
	attrs := metric.WithAttributes(attribute.String("store", store))
	o.evaluatedCounter.Add(ctx, int64(evaluated), attrs)
	o.firedCounter.Add(ctx, int64(fired), attrs)

	trace.SpanFromContext(ctx).AddEvent("notify", trace.WithAttributes(
		attribute.Int("evaluated", evaluated),
		attribute.Int("fired", fired),
	))
}

// OnSubscriberError is called for every contained subscriber fault
func (o *Observability) OnSubscriberError(ctx context.Context, store string, err error) {
	attrs := []attribute.KeyValue{attribute.String("store", store)}
	var serr *vetamin.SubscriberError
	if errors.As(err, &serr) {
		attrs = append(attrs, attribute.String("stage", string(serr.Stage)))
	}
	o.subscriberErrors.Add(ctx, 1, metric.WithAttributes(attrs...))

	trace.SpanFromContext(ctx).RecordError(err)
}

// OnSubscriptionChange is called when subscribers come and go
func (o *Observability) OnSubscriptionChange(ctx context.Context, store string, active int) {
	o.activeSubscribers.Record(ctx, int64(active), metric.WithAttributes(attribute.String("store", store)))
}

// OnSinkError is called when the sink session rejects Init or Send
func (o *Observability) OnSinkError(ctx context.Context, store, action string, err error) {
	o.sinkErrors.Add(ctx, 1, metric.WithAttributes(attrsFor(store, action)...))

	trace.SpanFromContext(ctx).RecordError(err)
}

// Ensure Observability implements vetamin.Observability
var _ vetamin.Observability = (*Observability)(nil)
