package change

import (
	"bytes"
	"encoding/json"
	"fmt"
)

// Wire is the JSON shape of a change event as produced by the server.
type Wire struct {
	Kind       string          `json:"kind,omitempty"`
	Identifier *string         `json:"identifier,omitempty"`
	Value      json.RawMessage `json:"value,omitempty"`
}

// Codec turns a wire value into a typed entity.
type Codec[V any] func(json.RawMessage) (V, error)

// JSONCodec decodes values with encoding/json.
func JSONCodec[V any](raw json.RawMessage) (V, error) {
	var v V
	if err := json.Unmarshal(raw, &v); err != nil {
		return v, err
	}
	return v, nil
}

// Decode validates w and decodes it into an Event. Create and update require a
// non-null value; a delete's value is ignored.
func Decode[V any](w Wire, codec Codec[V]) (Event[string, V], error) {
	kind, err := ParseKind(w.Kind)
	if err != nil {
		return Event[string, V]{}, err
	}
	if w.Identifier == nil || *w.Identifier == "" {
		return Event[string, V]{}, fmt.Errorf("%w: missing identifier", ErrMalformedEvent)
	}

	ev := Event[string, V]{Kind: kind, ID: *w.Identifier}
	if kind == KindDelete {
		return ev, nil
	}

	if isNull(w.Value) {
		return Event[string, V]{}, fmt.Errorf("%w: %s %q without value", ErrMalformedEvent, kind, ev.ID)
	}
	if codec == nil {
		codec = JSONCodec[V]
	}
	value, err := codec(w.Value)
	if err != nil {
		return Event[string, V]{}, fmt.Errorf("%w: decode value of %q: %v", ErrMalformedEvent, ev.ID, err)
	}
	ev.Value = value
	return ev, nil
}

// Encode is the inverse of Decode for JSON-encodable values.
func Encode[V any](ev Event[string, V]) (Wire, error) {
	if err := ev.Validate(); err != nil {
		return Wire{}, err
	}
	id := ev.ID
	w := Wire{Kind: ev.Kind.String(), Identifier: &id}
	if ev.Kind == KindDelete {
		return w, nil
	}
	raw, err := json.Marshal(ev.Value)
	if err != nil {
		return Wire{}, fmt.Errorf("encode value of %q: %w", ev.ID, err)
	}
	w.Value = raw
	return w, nil
}

func isNull(raw json.RawMessage) bool {
	trimmed := bytes.TrimSpace(raw)
	return len(trimmed) == 0 || bytes.Equal(trimmed, []byte("null"))
}
