// Package observability wires OpenTelemetry tracing for the dispatch runtime.
package observability

import (
	"context"
	"fmt"
	"log"
	"os"
	"strings"
	"time"

	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/exporters/otlp/otlptrace"
	"go.opentelemetry.io/otel/exporters/otlp/otlptrace/otlptracehttp"
	"go.opentelemetry.io/otel/exporters/stdout/stdouttrace"
	"go.opentelemetry.io/otel/sdk/resource"
	sdktrace "go.opentelemetry.io/otel/sdk/trace"
	semconv "go.opentelemetry.io/otel/semconv/v1.21.0"
	"go.opentelemetry.io/otel/trace"
)

// DefaultServiceName identifies this service in exported traces.
const DefaultServiceName = "courier"

var (
	tracerProvider *sdktrace.TracerProvider
	tracer         trace.Tracer
)

// Config holds tracing configuration.
type Config struct {
	// ServiceName is the name reported with every span (defaults to "courier").
	ServiceName string

	// Enabled controls whether spans are exported at all.
	Enabled bool

	// ExporterType selects the exporter: "otlp", "stdout", or "none".
	ExporterType string

	// OTLPEndpoint overrides the collector endpoint (host:port). Empty uses
	// the OTLP HTTP default.
	OTLPEndpoint string

	// OTLPHeaders are extra headers for OTLP requests (e.g. authorization).
	OTLPHeaders map[string]string
}

// InitFromEnv initializes tracing from the standard OpenTelemetry variables:
//
//   - OTEL_SERVICE_NAME: service name (default "courier")
//   - OTEL_TRACES_ENABLED: "true"/"false" (default "true")
//   - OTEL_TRACES_EXPORTER: "otlp", "stdout", or "none" (default "otlp")
//   - OTEL_EXPORTER_OTLP_ENDPOINT: collector endpoint
//   - OTEL_EXPORTER_OTLP_HEADERS: "key1=value1,key2=value2"
func InitFromEnv() error {
	return Init(Config{
		ServiceName:  getEnv("OTEL_SERVICE_NAME", DefaultServiceName),
		Enabled:      getEnv("OTEL_TRACES_ENABLED", "true") == "true",
		ExporterType: getEnv("OTEL_TRACES_EXPORTER", "otlp"),
		OTLPEndpoint: os.Getenv("OTEL_EXPORTER_OTLP_ENDPOINT"),
		OTLPHeaders:  parseHeaders(os.Getenv("OTEL_EXPORTER_OTLP_HEADERS")),
	})
}

// Init initializes the global tracer provider. With tracing disabled (or the
// "none" exporter) spans still get created, against the no-op provider, so
// call sites never need to branch.
func Init(cfg Config) error {
	if cfg.ServiceName == "" {
		cfg.ServiceName = DefaultServiceName
	}

	if !cfg.Enabled || cfg.ExporterType == "none" || cfg.ExporterType == "" {
		tracer = otel.GetTracerProvider().Tracer(cfg.ServiceName)
		return nil
	}

	res, err := resource.New(
		context.Background(),
		resource.WithAttributes(
			semconv.ServiceName(cfg.ServiceName),
		),
	)
	if err != nil {
		return fmt.Errorf("failed to create resource: %w", err)
	}

	var exporter sdktrace.SpanExporter
	switch cfg.ExporterType {
	case "otlp":
		exporter, err = newOTLPExporter(cfg)
		if err != nil {
			return fmt.Errorf("failed to create OTLP exporter: %w", err)
		}
		log.Printf("[Observability] Tracing enabled with OTLP exporter (endpoint: %s)", cfg.OTLPEndpoint)

	case "stdout":
		exporter, err = stdouttrace.New(stdouttrace.WithPrettyPrint())
		if err != nil {
			return fmt.Errorf("failed to create stdout exporter: %w", err)
		}
		log.Println("[Observability] Tracing enabled with stdout exporter")

	default:
		return fmt.Errorf("unknown exporter type: %s", cfg.ExporterType)
	}

	tracerProvider = sdktrace.NewTracerProvider(
		sdktrace.WithBatcher(exporter),
		sdktrace.WithResource(res),
	)
	otel.SetTracerProvider(tracerProvider)
	tracer = tracerProvider.Tracer(cfg.ServiceName)
	return nil
}

// Shutdown flushes and stops the tracer provider. Bounded to five seconds
// when the caller's context has no deadline of its own.
func Shutdown(ctx context.Context) error {
	if tracerProvider == nil {
		return nil
	}
	if _, ok := ctx.Deadline(); !ok {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(ctx, 5*time.Second)
		defer cancel()
	}
	return tracerProvider.Shutdown(ctx)
}

// StartSpan starts a span under the global tracer. Safe before Init: the
// no-op provider is used until a real one is installed.
func StartSpan(ctx context.Context, name string, opts ...trace.SpanStartOption) (context.Context, trace.Span) {
	tr := tracer
	if tr == nil {
		tr = otel.GetTracerProvider().Tracer(DefaultServiceName)
	}
	return tr.Start(ctx, name, opts...)
}

func newOTLPExporter(cfg Config) (sdktrace.SpanExporter, error) {
	var opts []otlptracehttp.Option
	if cfg.OTLPEndpoint != "" {
		opts = append(opts, otlptracehttp.WithEndpoint(cfg.OTLPEndpoint))
	}
	if len(cfg.OTLPHeaders) > 0 {
		opts = append(opts, otlptracehttp.WithHeaders(cfg.OTLPHeaders))
	}
	client := otlptracehttp.NewClient(opts...)
	return otlptrace.New(context.Background(), client)
}

func parseHeaders(headerStr string) map[string]string {
	if headerStr == "" {
		return nil
	}
	headers := make(map[string]string)
	for _, pair := range strings.Split(headerStr, ",") {
		if key, value, ok := strings.Cut(pair, "="); ok {
			headers[strings.TrimSpace(key)] = strings.TrimSpace(value)
		}
	}
	return headers
}

func getEnv(key, defaultValue string) string {
	if value := os.Getenv(key); value != "" {
		return value
	}
	return defaultValue
}
