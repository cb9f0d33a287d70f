package telemetry

import (
	"context"
	"log"
	"time"

	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/exporters/otlp/otlptrace/otlptracegrpc"
	"go.opentelemetry.io/otel/metric"
	"go.opentelemetry.io/otel/propagation"
	"go.opentelemetry.io/otel/sdk/resource"
	sdktrace "go.opentelemetry.io/otel/sdk/trace"
	semconv "go.opentelemetry.io/otel/semconv/v1.17.0"
	"go.opentelemetry.io/otel/trace"
)

var (
	// Global tracer for the application
	Tracer trace.Tracer

	// Global meter for custom metrics
	Meter metric.Meter

	// Custom metrics
	IssuesOpen         metric.Int64UpDownCounter
	IssuesResolved     metric.Int64Counter
	EventsEvaluated    metric.Int64Counter
	WorkflowsStarted   metric.Int64Counter
	WorkflowsCompleted metric.Int64Counter
	ToolsExecuted      metric.Int64Counter
	CycleLatency       metric.Float64Histogram
	WorkflowLatency    metric.Float64Histogram
)

// The tracer, meter and instruments are created against the global
// providers at load time, so callers can record unconditionally. They
// are no-ops until InitTelemetry installs real providers.
func init() {
	Tracer = otel.Tracer("ranguard")
	Meter = otel.Meter("ranguard")
	if err := initMetrics(); err != nil {
		log.Printf("[Telemetry] Failed to create instruments: %v", err)
	}
}

// InitTelemetry initializes OpenTelemetry tracing and metrics
func InitTelemetry(ctx context.Context, serviceName, otelEndpoint string) (func(context.Context) error, error) {
	// Create resource with service information
	res, err := resource.New(ctx,
		resource.WithAttributes(
			semconv.ServiceName(serviceName),
			semconv.ServiceVersion("1.0.0"),
			attribute.String("environment", "development"),
		),
	)
	if err != nil {
		return nil, err
	}

	// Create OTLP trace exporter
	traceExporter, err := otlptracegrpc.New(ctx,
		otlptracegrpc.WithEndpoint(otelEndpoint),
		otlptracegrpc.WithInsecure(),
	)
	if err != nil {
		return nil, err
	}

	// Create trace provider
	traceProvider := sdktrace.NewTracerProvider(
		sdktrace.WithBatcher(traceExporter),
		sdktrace.WithResource(res),
		sdktrace.WithSampler(sdktrace.AlwaysSample()),
	)

	// Set global trace provider and propagator
	otel.SetTracerProvider(traceProvider)
	otel.SetTextMapPropagator(propagation.TraceContext{})

	// Create global tracer
	Tracer = otel.Tracer(serviceName)

	// Create global meter
	Meter = otel.Meter(serviceName)

	// Initialize custom metrics
	if err := initMetrics(); err != nil {
		return nil, err
	}

	log.Printf("[Telemetry] Initialized with endpoint %s", otelEndpoint)

	// Return shutdown function
	return func(ctx context.Context) error {
		shutdownCtx, cancel := context.WithTimeout(ctx, 5*time.Second)
		defer cancel()
		return traceProvider.Shutdown(shutdownCtx)
	}, nil
}

// initMetrics creates all custom metrics
func initMetrics() error {
	var err error

	IssuesOpen, err = Meter.Int64UpDownCounter(
		"ranguard.issues.open",
		metric.WithDescription("Number of issues currently open"),
	)
	if err != nil {
		return err
	}

	IssuesResolved, err = Meter.Int64Counter(
		"ranguard.issues.resolved",
		metric.WithDescription("Number of issues resolved"),
	)
	if err != nil {
		return err
	}

	EventsEvaluated, err = Meter.Int64Counter(
		"ranguard.events.evaluated",
		metric.WithDescription("Number of events evaluated for network risk"),
	)
	if err != nil {
		return err
	}

	WorkflowsStarted, err = Meter.Int64Counter(
		"ranguard.workflows.started",
		metric.WithDescription("Number of reasoning workflows started"),
	)
	if err != nil {
		return err
	}

	WorkflowsCompleted, err = Meter.Int64Counter(
		"ranguard.workflows.completed",
		metric.WithDescription("Number of reasoning workflows completed"),
	)
	if err != nil {
		return err
	}

	ToolsExecuted, err = Meter.Int64Counter(
		"ranguard.tools.executed",
		metric.WithDescription("Number of remediation tool executions"),
	)
	if err != nil {
		return err
	}

	CycleLatency, err = Meter.Float64Histogram(
		"ranguard.cycle.latency",
		metric.WithDescription("Scheduler cycle latency in milliseconds"),
		metric.WithUnit("ms"),
	)
	if err != nil {
		return err
	}

	WorkflowLatency, err = Meter.Float64Histogram(
		"ranguard.workflow.latency",
		metric.WithDescription("Reasoning workflow latency in milliseconds"),
		metric.WithUnit("ms"),
	)
	if err != nil {
		return err
	}

	return nil
}
