/*
Copyright (C) 2026 Friends Incode

SPDX-License-Identifier: AGPL-3.0-or-later
*/

package telemetry

import (
	"context"
	"fmt"
	"time"

	"github.com/rs/zerolog"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/exporters/otlp/otlptrace/otlptracegrpc"
	"go.opentelemetry.io/otel/propagation"
	"go.opentelemetry.io/otel/sdk/resource"
	sdktrace "go.opentelemetry.io/otel/sdk/trace"
	semconv "go.opentelemetry.io/otel/semconv/v1.24.0"
	"go.opentelemetry.io/otel/trace"
	"go.opentelemetry.io/otel/trace/noop"
	"google.golang.org/grpc"
)

// SchedulingTracer is the instrumentation scope of scheduling operation spans.
const SchedulingTracer = "torque/scheduling"

// Span attribute keys for scheduling operations.
const (
	AttrWorkOrderID  = attribute.Key("torque.work_order_id")
	AttrTechnicianID = attribute.Key("torque.technician_id")
	AttrStart        = attribute.Key("torque.start")
	AttrEnd          = attribute.Key("torque.end")
	AttrEmergency    = attribute.Key("torque.emergency")
	AttrOutcome      = attribute.Key("torque.outcome")
	AttrSegments     = attribute.Key("torque.segments")
)

// TracerConfig selects the OTLP collector and sampling for the serve command.
type TracerConfig struct {
	ServiceVersion string
	OTLPEndpoint   string
	Enabled        bool
	SampleRate     float64
}

// TracerProvider owns the SDK provider so serve can flush it on exit.
type TracerProvider struct {
	provider *sdktrace.TracerProvider
	logger   zerolog.Logger
}

// InitTracer installs the global tracer provider. With tracing disabled it
// installs a no-op provider and the returned value's Shutdown does nothing.
func InitTracer(ctx context.Context, cfg TracerConfig, logger zerolog.Logger) (*TracerProvider, error) {
	if !cfg.Enabled {
		logger.Info().Msg("tracing disabled")
		otel.SetTracerProvider(noop.NewTracerProvider())
		return &TracerProvider{logger: logger}, nil
	}

	res, err := resource.New(ctx, resource.WithAttributes(
		semconv.ServiceNameKey.String("torque"),
		semconv.ServiceVersionKey.String(cfg.ServiceVersion),
	))
	if err != nil {
		return nil, fmt.Errorf("create resource: %w", err)
	}

	exporter, err := otlptracegrpc.New(ctx,
		otlptracegrpc.WithEndpoint(cfg.OTLPEndpoint),
		otlptracegrpc.WithInsecure(),
		otlptracegrpc.WithDialOption(grpc.WithUserAgent("torque/"+cfg.ServiceVersion)),
		otlptracegrpc.WithTimeout(5*time.Second),
	)
	if err != nil {
		return nil, fmt.Errorf("create OTLP exporter: %w", err)
	}

	tp := sdktrace.NewTracerProvider(
		sdktrace.WithBatcher(exporter),
		sdktrace.WithResource(res),
		sdktrace.WithSampler(sdktrace.ParentBased(samplerFor(cfg.SampleRate))),
	)
	otel.SetTracerProvider(tp)
	otel.SetTextMapPropagator(propagation.NewCompositeTextMapPropagator(
		propagation.TraceContext{},
		propagation.Baggage{},
	))

	logger.Info().
		Str("otlp_endpoint", cfg.OTLPEndpoint).
		Float64("sample_rate", cfg.SampleRate).
		Msg("tracing enabled")
	return &TracerProvider{provider: tp, logger: logger}, nil
}

func samplerFor(rate float64) sdktrace.Sampler {
	switch {
	case rate >= 1:
		return sdktrace.AlwaysSample()
	case rate <= 0:
		return sdktrace.NeverSample()
	default:
		return sdktrace.TraceIDRatioBased(rate)
	}
}

// Shutdown flushes pending spans. It is safe on a nil or disabled provider.
func (tp *TracerProvider) Shutdown(ctx context.Context) error {
	if tp == nil || tp.provider == nil {
		return nil
	}
	shutdownCtx, cancel := context.WithTimeout(ctx, 5*time.Second)
	defer cancel()
	if err := tp.provider.Shutdown(shutdownCtx); err != nil {
		return fmt.Errorf("shutdown tracer provider: %w", err)
	}
	tp.logger.Info().Msg("tracer provider shut down")
	return nil
}

// Operation identifies a scheduling call on its span. Zero fields are not recorded.
type Operation struct {
	Name         string
	WorkOrderID  string
	TechnicianID string
	Start        time.Time
	End          time.Time
	Emergency    bool
}

// StartOperation opens the span "scheduling.<Name>" for op.
func StartOperation(ctx context.Context, op Operation) (context.Context, trace.Span) {
	attrs := make([]attribute.KeyValue, 0, 5)
	if op.WorkOrderID != "" {
		attrs = append(attrs, AttrWorkOrderID.String(op.WorkOrderID))
	}
	if op.TechnicianID != "" {
		attrs = append(attrs, AttrTechnicianID.String(op.TechnicianID))
	}
	if !op.Start.IsZero() {
		attrs = append(attrs, AttrStart.String(op.Start.UTC().Format(time.RFC3339)))
	}
	if !op.End.IsZero() {
		attrs = append(attrs, AttrEnd.String(op.End.UTC().Format(time.RFC3339)))
	}
	if op.Emergency {
		attrs = append(attrs, AttrEmergency.Bool(true))
	}
	return otel.Tracer(SchedulingTracer).Start(ctx, "scheduling."+op.Name, trace.WithAttributes(attrs...))
}

// FinishOperation stamps the outcome label and chain size on span, and marks it
// failed when err is set. segments < 0 is not recorded.
func FinishOperation(span trace.Span, outcome string, segments int, err error) {
	span.SetAttributes(AttrOutcome.String(outcome))
	if segments >= 0 {
		span.SetAttributes(AttrSegments.Int(segments))
	}
	if err != nil {
		span.RecordError(err)
		span.SetStatus(codes.Error, err.Error())
	}
}
