package tracing

import (
	"context"
	"fmt"
	"log/slog"
	"time"

	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/exporters/otlp/otlptrace"
	"go.opentelemetry.io/otel/exporters/otlp/otlptrace/otlptracegrpc"
	"go.opentelemetry.io/otel/exporters/otlp/otlptrace/otlptracehttp"
	"go.opentelemetry.io/otel/sdk/resource"
	sdktrace "go.opentelemetry.io/otel/sdk/trace"
	semconv "go.opentelemetry.io/otel/semconv/v1.24.0"
	"go.opentelemetry.io/otel/trace"
)

// OTLPConfig configures the optional OTLP span exporter layered under
// the Recorder. Protocol selects the wire format; endpoint is the
// collector's host:port (grpc) or URL (http).
type OTLPConfig struct {
	Enabled     bool
	Protocol    string // "grpc" or "http"
	Endpoint    string
	Insecure    bool
	ServiceName string
	Headers     map[string]string
}

// OTelExporter turns completed Runs into OTel spans: one parent span per
// run, one child span per recorded Event.
type OTelExporter struct {
	tracer   trace.Tracer
	provider *sdktrace.TracerProvider
}

// NewOTelExporter dials the configured OTLP collector and builds an
// Exporter. Call Shutdown on process exit to flush buffered spans.
func NewOTelExporter(ctx context.Context, cfg OTLPConfig) (*OTelExporter, error) {
	if !cfg.Enabled {
		return nil, nil
	}

	exp, err := newOTLPClient(ctx, cfg)
	if err != nil {
		return nil, fmt.Errorf("tracing: build otlp exporter: %w", err)
	}

	serviceName := cfg.ServiceName
	if serviceName == "" {
		serviceName = "goclaw-gateway"
	}
	res, err := resource.New(ctx, resource.WithAttributes(
		semconv.ServiceName(serviceName),
	))
	if err != nil {
		return nil, fmt.Errorf("tracing: build resource: %w", err)
	}

	provider := sdktrace.NewTracerProvider(
		sdktrace.WithBatcher(exp),
		sdktrace.WithResource(res),
	)
	otel.SetTracerProvider(provider)

	return &OTelExporter{
		tracer:   provider.Tracer("goclaw-gateway"),
		provider: provider,
	}, nil
}

func newOTLPClient(ctx context.Context, cfg OTLPConfig) (*otlptrace.Exporter, error) {
	switch cfg.Protocol {
	case "http":
		opts := []otlptracehttp.Option{otlptracehttp.WithEndpoint(cfg.Endpoint)}
		if cfg.Insecure {
			opts = append(opts, otlptracehttp.WithInsecure())
		}
		if len(cfg.Headers) > 0 {
			opts = append(opts, otlptracehttp.WithHeaders(cfg.Headers))
		}
		return otlptracehttp.New(ctx, opts...)
	default:
		opts := []otlptracegrpc.Option{otlptracegrpc.WithEndpoint(cfg.Endpoint)}
		if cfg.Insecure {
			opts = append(opts, otlptracegrpc.WithInsecure())
		}
		if len(cfg.Headers) > 0 {
			opts = append(opts, otlptracegrpc.WithHeaders(cfg.Headers))
		}
		return otlptracegrpc.New(ctx, opts...)
	}
}

// ExportRun builds one parent span for the run plus one child span per
// event, preserving the original timestamps rather than using the
// current clock, so the OTLP timeline matches the persisted trace.
func (e *OTelExporter) ExportRun(ctx context.Context, run Run) {
	if e == nil || e.tracer == nil {
		return
	}

	started := time.UnixMilli(run.StartedMs)
	ended := time.UnixMilli(run.EndedMs)
	_, span := e.tracer.Start(ctx, "agent.run",
		trace.WithTimestamp(started),
		trace.WithAttributes(
			attribute.String("run.id", run.RunID),
			attribute.String("session.key", run.SessionKey),
			attribute.String("run.status", run.Status),
		),
	)
	defer span.End(trace.WithTimestamp(ended))

	if run.Error != "" {
		span.SetAttributes(attribute.String("run.error", run.Error))
	}

	for _, ev := range run.Events {
		ts := time.UnixMilli(ev.TsMs)
		_, child := e.tracer.Start(ctx, ev.Kind+"."+ev.Name, trace.WithTimestamp(ts))
		if ev.Error != "" {
			child.SetAttributes(attribute.String("error", ev.Error))
		}
		child.End(trace.WithTimestamp(ts))
	}
}

// Shutdown flushes buffered spans and closes the exporter's connection.
func (e *OTelExporter) Shutdown(ctx context.Context) {
	if e == nil || e.provider == nil {
		return
	}
	if err := e.provider.Shutdown(ctx); err != nil {
		slog.Warn("tracing: otel shutdown failed", "error", err)
	}
}
