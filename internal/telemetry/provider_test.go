package telemetry

import (
	"bytes"
	"context"
	"errors"
	"log/slog"
	"strings"
	"testing"

	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
)

func newTestLogger() (*slog.Logger, *bytes.Buffer) {
	var buf bytes.Buffer
	return slog.New(slog.NewTextHandler(&buf, &slog.HandlerOptions{Level: slog.LevelDebug})), &buf
}

func TestProviderLogsEndedSpans(t *testing.T) {
	t.Parallel()

	logger, buf := newTestLogger()
	p := NewProvider(logger)
	defer p.Close()

	_, span := p.Tracer("test").Start(context.Background(), "transport.sync")
	span.SetAttributes(attribute.String("pipesync.topic", "groups"), attribute.Int("pipesync.entities", 3))
	span.End()

	out := buf.String()
	for _, want := range []string{"level=DEBUG", "span=transport.sync", "pipesync.topic=groups", "pipesync.entities=3"} {
		if !strings.Contains(out, want) {
			t.Fatalf("log output %q missing %q", out, want)
		}
	}
}

func TestProviderLogsFailedSpansAtWarn(t *testing.T) {
	t.Parallel()

	logger, buf := newTestLogger()
	p := NewProvider(logger)
	defer p.Close()

	_, span := p.Tracer("test").Start(context.Background(), "transport.sync")
	span.RecordError(errors.New("refused"))
	span.SetStatus(codes.Error, "refused")
	span.End()

	out := buf.String()
	if !strings.Contains(out, "level=WARN") || !strings.Contains(out, "err=refused") {
		t.Fatalf("log output = %q, want warn with err", out)
	}
}

func TestNilProviderFallsBackToGlobal(t *testing.T) {
	t.Parallel()

	var p *Provider
	if p.TracerProvider() == nil {
		t.Fatal("nil provider returned nil tracer provider")
	}
	p.Close()
}
