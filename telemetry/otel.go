package telemetry

import (
	"context"
	"errors"
	"fmt"
	"io"
	"sync"

	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/exporters/stdout/stdoutmetric"
	"go.opentelemetry.io/otel/exporters/stdout/stdouttrace"
	"go.opentelemetry.io/otel/metric"
	sdkmetric "go.opentelemetry.io/otel/sdk/metric"
	sdktrace "go.opentelemetry.io/otel/sdk/trace"
	"go.opentelemetry.io/otel/trace"
)

const instrumentation = "github.com/weiihann/creato"

// OTel records each window as a span and the registered count as both a
// span event and a gauge sample. Both are written to w as JSON.
type OTel struct {
	tp     *sdktrace.TracerProvider
	mp     *sdkmetric.MeterProvider
	tracer trace.Tracer
	gauge  metric.Int64Gauge
	attrs  []attribute.KeyValue

	mu   sync.Mutex
	ctx  context.Context
	span trace.Span
}

// NewOTel builds a sink exporting to w. attrs are attached to every span
// and gauge sample.
func NewOTel(w io.Writer, attrs ...attribute.KeyValue) (*OTel, error) {
	texp, err := stdouttrace.New(
		stdouttrace.WithWriter(w),
		stdouttrace.WithPrettyPrint(),
	)
	if err != nil {
		return nil, fmt.Errorf("create trace exporter: %w", err)
	}

	mexp, err := stdoutmetric.New(
		stdoutmetric.WithWriter(w),
		stdoutmetric.WithPrettyPrint(),
	)
	if err != nil {
		return nil, fmt.Errorf("create metric exporter: %w", err)
	}

	// Batched so that ending a span inside the harvest does no I/O.
	tp := sdktrace.NewTracerProvider(sdktrace.WithBatcher(texp))
	mp := sdkmetric.NewMeterProvider(
		sdkmetric.WithReader(sdkmetric.NewPeriodicReader(mexp)),
	)

	gauge, err := mp.Meter(instrumentation).Int64Gauge(
		"creato.ops",
		metric.WithDescription("Operations completed in the measured window"),
		metric.WithUnit("{operation}"),
	)
	if err != nil {
		return nil, fmt.Errorf("create ops gauge: %w", err)
	}

	return &OTel{
		tp:     tp,
		mp:     mp,
		tracer: tp.Tracer(instrumentation),
		gauge:  gauge,
		attrs:  attrs,
		ctx:    context.Background(),
	}, nil
}

func (o *OTel) Enable(on bool, label string) {
	o.mu.Lock()
	defer o.mu.Unlock()

	if on {
		if o.span != nil {
			o.span.End()
		}
		o.ctx, o.span = o.tracer.Start(
			context.Background(), label, trace.WithAttributes(o.attrs...),
		)
		return
	}

	if o.span != nil {
		o.span.End()
		o.span = nil
		o.ctx = context.Background()
	}
}

func (o *OTel) Register(v uint64) {
	o.mu.Lock()
	defer o.mu.Unlock()

	o.gauge.Record(o.ctx, int64(v), metric.WithAttributes(o.attrs...))
	if o.span != nil {
		o.span.AddEvent("appdata",
			trace.WithAttributes(attribute.Int64("ops", int64(v))),
		)
	}
}

// Shutdown flushes both exporters.
func (o *OTel) Shutdown(ctx context.Context) error {
	return errors.Join(o.tp.Shutdown(ctx), o.mp.Shutdown(ctx))
}
