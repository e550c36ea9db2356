// Package telemetry builds the tracer provider used by commands. Spans are
// not exported; each ended span is written to a slog.Logger.
package telemetry

import (
	"context"
	"log/slog"

	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	sdktrace "go.opentelemetry.io/otel/sdk/trace"
	"go.opentelemetry.io/otel/trace"
)

type Provider struct {
	provider *sdktrace.TracerProvider
}

// NewProvider returns a provider that logs every ended span to logger at
// debug level, or at warn level when the span failed. A nil logger uses
// slog.Default.
func NewProvider(logger *slog.Logger) *Provider {
	if logger == nil {
		logger = slog.Default()
	}
	return &Provider{
		provider: sdktrace.NewTracerProvider(sdktrace.WithSpanProcessor(&logSpanProcessor{logger: logger})),
	}
}

func (p *Provider) TracerProvider() trace.TracerProvider {
	if p == nil || p.provider == nil {
		return otel.GetTracerProvider()
	}
	return p.provider
}

func (p *Provider) Tracer(name string) trace.Tracer {
	return p.TracerProvider().Tracer(name)
}

func (p *Provider) Close() {
	if p == nil || p.provider == nil {
		return
	}
	_ = p.provider.Shutdown(context.Background())
}

type logSpanProcessor struct {
	logger *slog.Logger
}

func (p *logSpanProcessor) OnStart(context.Context, sdktrace.ReadWriteSpan) {}

func (p *logSpanProcessor) OnEnd(span sdktrace.ReadOnlySpan) {
	level := slog.LevelDebug
	args := make([]any, 0, 2*len(span.Attributes())+4)
	args = append(args, "span", span.Name(), "duration", span.EndTime().Sub(span.StartTime()).String())
	for _, kv := range span.Attributes() {
		args = append(args, string(kv.Key), attributeValue(kv.Value))
	}
	if status := span.Status(); status.Code == codes.Error {
		level = slog.LevelWarn
		args = append(args, "err", status.Description)
	}
	p.logger.Log(context.Background(), level, "span ended", args...)
}

func (p *logSpanProcessor) Shutdown(context.Context) error   { return nil }
func (p *logSpanProcessor) ForceFlush(context.Context) error { return nil }

func attributeValue(v attribute.Value) any {
	switch v.Type() {
	case attribute.BOOL:
		return v.AsBool()
	case attribute.INT64:
		return v.AsInt64()
	case attribute.FLOAT64:
		return v.AsFloat64()
	default:
		return v.Emit()
	}
}
