package observability

import (
	"context"
	"os"
	"strconv"
	"sync"

	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/exporters/stdout/stdouttrace"
	"go.opentelemetry.io/otel/propagation"
	"go.opentelemetry.io/otel/sdk/resource"
	sdktrace "go.opentelemetry.io/otel/sdk/trace"
	semconv "go.opentelemetry.io/otel/semconv/v1.26.0"

	"github.com/veldtlab/chromalab-backend/internal/logger"
)

// OtelConfig controls tracing identity for the process.
type OtelConfig struct {
	ServiceName string
	Environment string
	Version     string
}

var (
	initOnce sync.Once
	shutdown func(context.Context) error
)

// InitOTel wires a trace provider for the process. Traces go to stdout in a
// pretty-printed form; the exporter is only active when OTEL_ENABLED=true.
// Returns a shutdown func the caller should invoke on exit.
func InitOTel(ctx context.Context, log *logger.Logger, cfg OtelConfig) func(context.Context) error {
	initOnce.Do(func() {
		shutdown = func(context.Context) error { return nil }
		if !otelEnabled() {
			log.Info("otel disabled (set OTEL_ENABLED=true to enable tracing)")
			return
		}
		if cfg.ServiceName == "" {
			cfg.ServiceName = "chromalab"
		}
		exp, err := stdouttrace.New(stdouttrace.WithPrettyPrint())
		if err != nil {
			log.Error("otel exporter init failed", "error", err)
			return
		}
		res, err := resource.Merge(
			resource.Default(),
			resource.NewWithAttributes(
				semconv.SchemaURL,
				semconv.ServiceName(cfg.ServiceName),
				semconv.ServiceVersion(cfg.Version),
				semconv.DeploymentEnvironment(cfg.Environment),
			),
		)
		if err != nil {
			log.Error("otel resource init failed", "error", err)
			return
		}
		tp := sdktrace.NewTracerProvider(
			sdktrace.WithBatcher(exp),
			sdktrace.WithResource(res),
			sdktrace.WithSampler(sdktrace.ParentBased(sdktrace.TraceIDRatioBased(otelSampleRatio()))),
		)
		otel.SetTracerProvider(tp)
		otel.SetTextMapPropagator(propagation.NewCompositeTextMapPropagator(
			propagation.TraceContext{},
			propagation.Baggage{},
		))
		shutdown = tp.Shutdown
		log.Info("otel tracing enabled", "service", cfg.ServiceName, "ratio", otelSampleRatio())
	})
	return shutdown
}

func otelEnabled() bool {
	v, err := strconv.ParseBool(os.Getenv("OTEL_ENABLED"))
	if err != nil {
		return false
	}
	return v
}

func otelSampleRatio() float64 {
	raw := os.Getenv("OTEL_SAMPLER_RATIO")
	if raw == "" {
		return 0.1
	}
	f, err := strconv.ParseFloat(raw, 64)
	if err != nil || f < 0 || f > 1 {
		return 0.1
	}
	return f
}
