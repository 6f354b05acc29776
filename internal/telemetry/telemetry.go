// Package telemetry wires the process's tracing and metrics providers.
// With no endpoint configured, every span and instrument is a no-op;
// setting an endpoint installs an OTLP-gRPC trace exporter. Metrics are
// then recorded by an SDK meter provider that has no exporter attached,
// so they are not sent anywhere.
package telemetry

import (
	"context"
	"fmt"

	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/exporters/otlp/otlptrace/otlptracegrpc"
	"go.opentelemetry.io/otel/metric"
	noopmetric "go.opentelemetry.io/otel/metric/noop"
	sdkmetric "go.opentelemetry.io/otel/sdk/metric"
	"go.opentelemetry.io/otel/sdk/resource"
	sdktrace "go.opentelemetry.io/otel/sdk/trace"
	semconv "go.opentelemetry.io/otel/semconv/v1.26.0"
	"go.opentelemetry.io/otel/trace"
	noopTrace "go.opentelemetry.io/otel/trace/noop"
)

// Providers bundles the tracer and meter providers installed for the
// process, plus a Shutdown that flushes and closes any real exporter.
type Providers struct {
	TracerProvider trace.TracerProvider
	MeterProvider  metric.MeterProvider
	Shutdown       func(context.Context) error
}

// Setup installs providers globally via otel.SetTracerProvider /
// otel.SetMeterProvider and returns them. endpoint empty means no-op
// providers (§2b: zero behavioral cost when telemetry isn't wanted).
func Setup(ctx context.Context, endpoint string) (*Providers, error) {
	if endpoint == "" {
		otel.SetTracerProvider(noopTrace.NewTracerProvider())
		otel.SetMeterProvider(noopmetric.NewMeterProvider())
		return &Providers{
			TracerProvider: noopTrace.NewTracerProvider(),
			MeterProvider:  noopmetric.NewMeterProvider(),
			Shutdown:       func(context.Context) error { return nil },
		}, nil
	}

	res, err := resource.New(ctx,
		resource.WithAttributes(semconv.ServiceName("previewd")),
	)
	if err != nil {
		return nil, fmt.Errorf("build telemetry resource: %w", err)
	}

	traceExporter, err := otlptracegrpc.New(ctx, otlptracegrpc.WithEndpoint(endpoint), otlptracegrpc.WithInsecure())
	if err != nil {
		return nil, fmt.Errorf("dial otlp trace exporter: %w", err)
	}

	tp := sdktrace.NewTracerProvider(
		sdktrace.WithBatcher(traceExporter),
		sdktrace.WithResource(res),
	)

	mp := sdkmetric.NewMeterProvider(
		sdkmetric.WithResource(res),
	)

	otel.SetTracerProvider(tp)
	otel.SetMeterProvider(mp)

	return &Providers{
		TracerProvider: tp,
		MeterProvider:  mp,
		Shutdown: func(shutdownCtx context.Context) error {
			if err := tp.Shutdown(shutdownCtx); err != nil {
				return fmt.Errorf("shut down tracer provider: %w", err)
			}
			if err := mp.Shutdown(shutdownCtx); err != nil {
				return fmt.Errorf("shut down meter provider: %w", err)
			}
			return nil
		},
	}, nil
}

// Metrics holds the instruments the supervisor and webview layer record
// into (§4.1 "each resolved jump increments a counter").
type Metrics struct {
	CompileTotal      metric.Int64Counter
	CompileErrorTotal metric.Int64Counter
	JumpResolvedTotal metric.Int64Counter
	ViewerCount       metric.Int64UpDownCounter
	RenderDuration    metric.Float64Histogram
}

// NewMetrics creates the instrument set against the given meter.
func NewMetrics(meter metric.Meter) (*Metrics, error) {
	compileTotal, err := meter.Int64Counter("preview.compile.total",
		metric.WithDescription("compile attempts started"))
	if err != nil {
		return nil, err
	}
	compileErrorTotal, err := meter.Int64Counter("preview.compile.error_total",
		metric.WithDescription("compile attempts that failed or produced diagnostics"))
	if err != nil {
		return nil, err
	}
	jumpResolvedTotal, err := meter.Int64Counter("preview.jump.resolved_total",
		metric.WithDescription("source/document jump resolutions that succeeded"))
	if err != nil {
		return nil, err
	}
	viewerCount, err := meter.Int64UpDownCounter("preview.viewers.connected",
		metric.WithDescription("currently connected viewer websockets"))
	if err != nil {
		return nil, err
	}
	renderDuration, err := meter.Float64Histogram("preview.render.duration_seconds",
		metric.WithDescription("time spent producing one render payload"),
		metric.WithUnit("s"))
	if err != nil {
		return nil, err
	}

	return &Metrics{
		CompileTotal:      compileTotal,
		CompileErrorTotal: compileErrorTotal,
		JumpResolvedTotal: jumpResolvedTotal,
		ViewerCount:       viewerCount,
		RenderDuration:    renderDuration,
	}, nil
}
