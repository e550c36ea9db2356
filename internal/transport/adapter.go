package transport

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"sync"
	"time"

	"pipesync/internal/change"
	"pipesync/internal/check"

	"github.com/containerd/errdefs"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/trace"
)

const (
	defaultInitialBackoff = time.Second
	defaultMaxBackoff     = 15 * time.Second
	tracerName            = "pipesync/transport"
)

// Sink receives the events of one topic. *cache.EntityCache satisfies it.
type Sink[V any] interface {
	Apply(change.Event[string, V]) error
	Snapshot() map[string]V
}

type Options struct {
	InitialBackoff time.Duration
	MaxBackoff     time.Duration
	// MaxAttempts bounds consecutive failed reconnects; zero retries forever.
	MaxAttempts    int
	TracerProvider trace.TracerProvider
}

func (o Options) withDefaults() Options {
	if o.InitialBackoff <= 0 {
		o.InitialBackoff = defaultInitialBackoff
	}
	if o.MaxBackoff <= 0 {
		o.MaxBackoff = defaultMaxBackoff
	}
	if o.MaxBackoff < o.InitialBackoff {
		o.MaxBackoff = o.InitialBackoff
	}
	if o.TracerProvider == nil {
		o.TracerProvider = otel.GetTracerProvider()
	}
	return o
}

// Status is a point-in-time view of an adapter.
type Status struct {
	Topic      string
	Phase      Phase
	Syncs      int
	Reconnects int
	Applied    int
	Rejected   int
	Pruned     int
	LastSync   time.Time
	LastErr    error
}

// Adapter feeds one topic stream into a sink. It does no business logic: it
// decodes lines, forwards events in stream order, and after every
// (re)connect replays the full topic state before resuming.
type Adapter[V any] struct {
	topic  string
	source Source
	sink   Sink[V]
	codec  change.Codec[V]
	opts   Options
	tracer trace.Tracer

	mu     sync.Mutex
	status Status
}

func NewAdapter[V any](topic string, source Source, sink Sink[V], codec change.Codec[V], opts Options) *Adapter[V] {
	check.Assert(source != nil, "transport.NewAdapter: source must not be nil")
	check.Assert(sink != nil, "transport.NewAdapter: sink must not be nil")
	if codec == nil {
		codec = change.JSONCodec[V]
	}
	opts = opts.withDefaults()
	return &Adapter[V]{
		topic:  topic,
		source: source,
		sink:   sink,
		codec:  codec,
		opts:   opts,
		tracer: opts.TracerProvider.Tracer(tracerName),
		status: Status{Topic: topic, Phase: PhaseOpening},
	}
}

func (a *Adapter[V]) Topic() string { return a.topic }

func (a *Adapter[V]) Status() Status {
	a.mu.Lock()
	defer a.mu.Unlock()
	return a.status
}

// Run syncs and streams the topic until ctx is done, the sink is closed, or
// MaxAttempts consecutive reconnects fail. Context cancellation and a closed
// sink are not errors.
func (a *Adapter[V]) Run(ctx context.Context) error {
	backoff := a.opts.InitialBackoff
	failures := 0

	for {
		stream, err := a.sync(ctx)
		if err == nil {
			failures = 0
			backoff = a.opts.InitialBackoff
			a.transition(PhaseStreaming)
			slog.Debug("topic streaming", "topic", a.topic)

			err = a.stream(ctx, stream)
			_ = stream.Close()
		}

		switch {
		case ctx.Err() != nil:
			a.transition(PhaseClosedContext)
			slog.Debug("topic adapter stopped", "topic", a.topic, "phase", PhaseClosedContext.String())
			return nil
		case errdefs.IsFailedPrecondition(err):
			a.transition(PhaseClosedContext)
			slog.Debug("topic sink closed; stopping adapter", "topic", a.topic)
			return nil
		}

		a.recordErr(err)
		if a.Status().Phase == PhaseStreaming {
			failures = 0
		} else {
			failures++
		}
		if a.opts.MaxAttempts > 0 && failures >= a.opts.MaxAttempts {
			a.transition(PhaseClosedExhausted)
			slog.Warn("topic reconnect exhausted retries", "topic", a.topic, "attempts", failures, "err", err)
			return fmt.Errorf("topic %s: giving up after %d attempts: %w", a.topic, failures, err)
		}
		if a.Status().Phase != PhaseReconnecting {
			a.transition(PhaseReconnecting)
		}
		a.mu.Lock()
		a.status.Reconnects++
		a.mu.Unlock()

		slog.Debug("topic stream lost; resyncing", "topic", a.topic, "attempt", failures, "backoff", backoff.String(), "err", err)
		if !sleepContext(ctx, backoff) {
			a.transition(PhaseClosedContext)
			return nil
		}
		backoff = min(backoff*2, a.opts.MaxBackoff)
	}
}

// sync opens the topic and applies its snapshot. Keys cached before the
// snapshot but absent from it are deleted, so entities removed while
// disconnected do not linger.
func (a *Adapter[V]) sync(ctx context.Context) (stream Stream, err error) {
	spanCtx, span := a.tracer.Start(ctx, "transport.sync", trace.WithAttributes(
		attribute.String("pipesync.topic", a.topic),
	))
	defer func() {
		if err != nil {
			span.RecordError(err)
			span.SetStatus(codes.Error, err.Error())
		}
		span.End()
	}()

	stream, err = a.source.Open(spanCtx, a.topic)
	if err != nil {
		return nil, fmt.Errorf("%w: %w", ErrDisconnected, err)
	}
	a.transition(PhaseSyncing)

	seen := make(map[string]struct{})
	for {
		line, readErr := stream.Next(ctx)
		if readErr != nil {
			_ = stream.Close()
			return nil, fmt.Errorf("%w: read %s snapshot: %v", ErrDisconnected, a.topic, readErr)
		}
		if blank(line) {
			continue
		}
		frame, parseErr := parseFrame(line)
		if parseErr != nil {
			a.reject(parseErr)
			continue
		}

		switch {
		case frame.Error != nil:
			_ = stream.Close()
			return nil, fmt.Errorf("%w: server error: %s", ErrDisconnected, *frame.Error)
		case frame.EOQ != nil:
			pruned, pruneErr := a.prune(seen)
			if pruneErr != nil {
				_ = stream.Close()
				return nil, pruneErr
			}
			a.mu.Lock()
			a.status.Syncs++
			a.status.Pruned += pruned
			a.status.LastSync = time.Now()
			a.mu.Unlock()
			span.SetAttributes(
				attribute.Int("pipesync.entities", len(seen)),
				attribute.Int("pipesync.pruned", pruned),
				attribute.Int64("pipesync.change_id", int64(frame.EOQ.ChangeID)),
			)
			slog.Debug("topic synced", "topic", a.topic, "entities", len(seen), "pruned", pruned, "change_id", frame.EOQ.ChangeID)
			return stream, nil
		}

		ev, decodeErr := change.Decode(frame.Wire, a.codec)
		if decodeErr != nil {
			// The entity still exists upstream; keep the cached value.
			if id := frame.Wire.Identifier; id != nil && *id != "" {
				seen[*id] = struct{}{}
			}
			a.reject(decodeErr)
			continue
		}
		if ev.Kind == change.KindDelete {
			delete(seen, ev.ID)
		} else {
			seen[ev.ID] = struct{}{}
		}
		if err := a.apply(ev); err != nil {
			_ = stream.Close()
			return nil, err
		}
	}
}

func (a *Adapter[V]) stream(ctx context.Context, stream Stream) error {
	for {
		line, err := stream.Next(ctx)
		if err != nil {
			return fmt.Errorf("%w: read %s: %v", ErrDisconnected, a.topic, err)
		}
		if blank(line) {
			continue
		}
		frame, err := parseFrame(line)
		if err != nil {
			a.reject(err)
			continue
		}
		switch {
		case frame.Error != nil:
			return fmt.Errorf("%w: server error: %s", ErrDisconnected, *frame.Error)
		case frame.EOQ != nil:
			slog.Debug("topic stream repeated end of snapshot", "topic", a.topic)
			continue
		}

		ev, err := change.Decode(frame.Wire, a.codec)
		if err != nil {
			a.reject(err)
			continue
		}
		if err := a.apply(ev); err != nil {
			return err
		}
	}
}

func (a *Adapter[V]) prune(seen map[string]struct{}) (int, error) {
	pruned := 0
	for id := range a.sink.Snapshot() {
		if _, ok := seen[id]; ok {
			continue
		}
		if err := a.apply(change.Delete[string, V](id)); err != nil {
			return pruned, err
		}
		pruned++
	}
	return pruned, nil
}

// apply forwards ev to the sink. Only a closed sink stops the adapter; a
// rejected event is counted and skipped.
func (a *Adapter[V]) apply(ev change.Event[string, V]) error {
	if err := a.sink.Apply(ev); err != nil {
		if errdefs.IsFailedPrecondition(err) {
			return err
		}
		a.reject(err)
		return nil
	}
	a.mu.Lock()
	a.status.Applied++
	a.mu.Unlock()
	return nil
}

func (a *Adapter[V]) reject(err error) {
	a.mu.Lock()
	a.status.Rejected++
	a.mu.Unlock()
	slog.Warn("topic event rejected", "topic", a.topic, "err", err)
}

func (a *Adapter[V]) recordErr(err error) {
	if err == nil || errors.Is(err, context.Canceled) {
		return
	}
	a.mu.Lock()
	a.status.LastErr = err
	a.mu.Unlock()
}

func (a *Adapter[V]) transition(to Phase) {
	a.mu.Lock()
	a.status.Phase = a.status.Phase.Transition(to)
	a.mu.Unlock()
}

func sleepContext(ctx context.Context, d time.Duration) bool {
	if d <= 0 {
		return ctx.Err() == nil
	}
	timer := time.NewTimer(d)
	defer timer.Stop()
	select {
	case <-ctx.Done():
		return false
	case <-timer.C:
		return true
	}
}
