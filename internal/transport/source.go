// Package transport adapts ordered per-topic message streams into change
// events applied to entity caches.
package transport

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"

	"pipesync/internal/change"

	"github.com/containerd/errdefs"
)

// ErrDisconnected marks the loss of a topic stream.
var ErrDisconnected = fmt.Errorf("topic stream disconnected: %w", errdefs.ErrUnavailable)

// Stream yields the raw NDJSON lines of one topic subscription.
type Stream interface {
	// Next blocks for the next line. Any error ends the stream.
	Next(ctx context.Context) ([]byte, error)
	Close() error
}

// Source opens topic streams. A freshly opened stream starts with the full
// current state of the topic followed by an end-of-snapshot frame.
type Source interface {
	Open(ctx context.Context, topic string) (Stream, error)
}

// Lister fetches the current entities of a topic in one request.
type Lister interface {
	List(ctx context.Context, topic string) ([]change.Wire, error)
}

// Frame is one line of a topic stream: a change event, an end-of-snapshot
// marker or a server error.
type Frame struct {
	change.Wire
	EOQ   *EndOfSnapshot `json:"eoq,omitempty"`
	Error *string        `json:"error,omitempty"`
}

type EndOfSnapshot struct {
	ChangeID uint64 `json:"change_id"`
}

// EventFrame wraps a wire event.
func EventFrame(w change.Wire) Frame { return Frame{Wire: w} }

// EOQFrame marks the end of the initial snapshot.
func EOQFrame(changeID uint64) Frame { return Frame{EOQ: &EndOfSnapshot{ChangeID: changeID}} }

// ErrorFrame reports a server-side failure; clients treat it as a disconnect.
func ErrorFrame(msg string) Frame { return Frame{Error: &msg} }

// MarshalLine encodes f as a newline-terminated JSON line.
func (f Frame) MarshalLine() ([]byte, error) {
	data, err := json.Marshal(f)
	if err != nil {
		return nil, err
	}
	return append(data, '\n'), nil
}

func parseFrame(line []byte) (Frame, error) {
	var f Frame
	if err := json.Unmarshal(line, &f); err != nil {
		return Frame{}, fmt.Errorf("%w: %v", change.ErrMalformedEvent, err)
	}
	return f, nil
}

func blank(line []byte) bool {
	return len(bytes.TrimSpace(line)) == 0
}
