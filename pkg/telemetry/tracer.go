package telemetry

import (
	"context"
	"fmt"

	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/exporters/stdout/stdouttrace"
	"go.opentelemetry.io/otel/sdk/resource"
	sdktrace "go.opentelemetry.io/otel/sdk/trace"
	semconv "go.opentelemetry.io/otel/semconv/v1.26.0"
	"go.opentelemetry.io/otel/trace"
)

// Tracer wraps the OpenTelemetry tracer for deployment spans.
type Tracer struct {
	provider *sdktrace.TracerProvider
	tracer   trace.Tracer
	config   TracingConfig
}

// NewTracer creates a tracer with the given configuration. When disabled,
// spans are created against a no-op provider.
func NewTracer(cfg TracingConfig, version string) (*Tracer, error) {
	serviceName := cfg.ServiceName
	if serviceName == "" {
		serviceName = "stagehand"
	}

	if !cfg.Enabled {
		return &Tracer{
			provider: sdktrace.NewTracerProvider(),
			tracer:   otel.Tracer(serviceName),
			config:   cfg,
		}, nil
	}

	res, err := resource.New(
		context.Background(),
		resource.WithAttributes(
			semconv.ServiceNameKey.String(serviceName),
			semconv.ServiceVersionKey.String(version),
		),
	)
	if err != nil {
		return nil, fmt.Errorf("failed to create trace resource: %w", err)
	}

	exporter, err := stdouttrace.New(stdouttrace.WithPrettyPrint())
	if err != nil {
		return nil, fmt.Errorf("failed to create trace exporter: %w", err)
	}

	provider := sdktrace.NewTracerProvider(
		sdktrace.WithResource(res),
		sdktrace.WithBatcher(exporter),
	)

	otel.SetTracerProvider(provider)

	return &Tracer{
		provider: provider,
		tracer:   provider.Tracer(serviceName),
		config:   cfg,
	}, nil
}

// StartDeploySpan starts a span for a whole deployment.
func (t *Tracer) StartDeploySpan(ctx context.Context, site, environment, deployType string) (context.Context, trace.Span) {
	return t.tracer.Start(ctx, "deploy",
		trace.WithAttributes(
			attribute.String("site", site),
			attribute.String("environment", environment),
			attribute.String("deploy_type", deployType),
		),
	)
}

// StartStepSpan starts a span for a single deployment step.
func (t *Tracer) StartStepSpan(ctx context.Context, stepKey string, ordinal int) (context.Context, trace.Span) {
	return t.tracer.Start(ctx, "step."+stepKey,
		trace.WithAttributes(
			attribute.String("step", stepKey),
			attribute.Int("ordinal", ordinal),
		),
	)
}

// EndSpan finishes a span, recording the error if one occurred.
func EndSpan(span trace.Span, err error) {
	if err != nil {
		span.RecordError(err)
		span.SetStatus(codes.Error, err.Error())
	} else {
		span.SetStatus(codes.Ok, "")
	}
	span.End()
}

// Shutdown flushes and stops the tracer provider.
func (t *Tracer) Shutdown(ctx context.Context) error {
	if t.provider == nil {
		return nil
	}
	return t.provider.Shutdown(ctx)
}
