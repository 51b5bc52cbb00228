// Package observability wires up OpenTelemetry tracing for the runner,
// adapted from the ambient tracing setup used across the teacher stack:
// OTLP-HTTP when an endpoint is configured, a stdout exporter otherwise,
// never a hard failure if the exporter can't be built.
package observability

import (
	"context"
	"strconv"
	"strings"
	"sync"
	"time"

	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/exporters/otlp/otlptrace/otlptracehttp"
	"go.opentelemetry.io/otel/exporters/stdout/stdouttrace"
	"go.opentelemetry.io/otel/propagation"
	"go.opentelemetry.io/otel/sdk/resource"
	sdktrace "go.opentelemetry.io/otel/sdk/trace"
	semconv "go.opentelemetry.io/otel/semconv/v1.27.0"
	"go.opentelemetry.io/otel/trace"

	"github.com/runnerkv/runner/internal/pkg/logger"
)

type Config struct {
	ServiceName string
	Environment string

	// OTLPEndpoint, when non-empty, selects the OTLP-HTTP exporter.
	// Empty falls back to a stdout exporter.
	OTLPEndpoint string
	Insecure     bool
	SampleRatio  float64
}

var (
	initOnce sync.Once
	tracer   trace.Tracer = otel.Tracer("github.com/runnerkv/runner")
)

// Init installs a global TracerProvider. Safe to call once at process
// startup; returns a shutdown func that flushes the exporter.
func Init(ctx context.Context, log *logger.Logger, cfg Config) func(context.Context) error {
	var shutdown func(context.Context) error
	initOnce.Do(func() {
		name := strings.TrimSpace(cfg.ServiceName)
		if name == "" {
			name = "runnerkv"
		}
		res, err := resource.New(ctx, resource.WithAttributes(
			semconv.ServiceNameKey.String(name),
			attribute.String("deployment.environment", cfg.Environment),
		))
		if err != nil && log != nil {
			log.Warn("otel resource init failed, continuing without full resource attrs", "error", err)
		}

		exp, err := buildExporter(ctx, cfg)
		if err != nil && log != nil {
			log.Warn("otel exporter init failed, continuing without tracing export", "error", err)
		}

		ratio := cfg.SampleRatio
		if ratio <= 0 {
			ratio = 0.1
		}
		opts := []sdktrace.TracerProviderOption{
			sdktrace.WithSampler(sdktrace.ParentBased(sdktrace.TraceIDRatioBased(ratio))),
			sdktrace.WithResource(res),
		}
		if exp != nil {
			opts = append(opts, sdktrace.WithBatcher(exp, sdktrace.WithBatchTimeout(5*time.Second)))
		}
		tp := sdktrace.NewTracerProvider(opts...)
		otel.SetTracerProvider(tp)
		otel.SetTextMapPropagator(propagation.NewCompositeTextMapPropagator(
			propagation.TraceContext{}, propagation.Baggage{},
		))
		tracer = tp.Tracer("github.com/runnerkv/runner")
		shutdown = tp.Shutdown
	})
	if shutdown == nil {
		shutdown = func(context.Context) error { return nil }
	}
	return shutdown
}

func buildExporter(ctx context.Context, cfg Config) (sdktrace.SpanExporter, error) {
	endpoint := strings.TrimSpace(cfg.OTLPEndpoint)
	if endpoint != "" {
		opts := []otlptracehttp.Option{otlptracehttp.WithEndpoint(endpoint)}
		if cfg.Insecure {
			opts = append(opts, otlptracehttp.WithInsecure())
		}
		return otlptracehttp.New(ctx, opts...)
	}
	return stdouttrace.New(stdouttrace.WithPrettyPrint())
}

// Tracer returns the package-level tracer, usable even before Init runs
// (it then reports through the no-op provider until Init installs a real one).
func Tracer() trace.Tracer { return tracer }

// ParseSampleRatio is a small helper so callers loading this from an env
// string don't need to import strconv themselves.
func ParseSampleRatio(raw string, def float64) float64 {
	raw = strings.TrimSpace(raw)
	if raw == "" {
		return def
	}
	f, err := strconv.ParseFloat(raw, 64)
	if err != nil {
		return def
	}
	return f
}
