// Package change defines the unit of change applied to entity caches and its
// wire representation.
package change

import (
	"errors"
	"fmt"
	"strings"

	"github.com/containerd/errdefs"
)

// ErrMalformedEvent marks an event rejected before it reached a cache.
var ErrMalformedEvent = fmt.Errorf("malformed change event: %w", errdefs.ErrInvalidArgument)

// Kind describes what happened to an entity.
type Kind uint8

const (
	KindCreate Kind = iota + 1
	KindUpdate
	KindDelete
)

func (k Kind) String() string {
	switch k {
	case KindCreate:
		return "CREATE"
	case KindUpdate:
		return "UPDATE"
	case KindDelete:
		return "DELETE"
	default:
		return "UNKNOWN"
	}
}

// Valid reports whether k is one of the three defined kinds.
func (k Kind) Valid() bool {
	return k >= KindCreate && k <= KindDelete
}

// ParseKind maps a wire kind to a Kind. Matching ignores case and surrounding
// whitespace.
func ParseKind(s string) (Kind, error) {
	switch strings.ToUpper(strings.TrimSpace(s)) {
	case "CREATE":
		return KindCreate, nil
	case "UPDATE":
		return KindUpdate, nil
	case "DELETE":
		return KindDelete, nil
	default:
		return 0, fmt.Errorf("%w: unknown kind %q", ErrMalformedEvent, s)
	}
}

// Event is a single change to the entity identified by ID. Value is set for
// create and update and ignored for delete.
type Event[K comparable, V any] struct {
	Kind  Kind
	ID    K
	Value V
}

func Create[K comparable, V any](id K, value V) Event[K, V] {
	return Event[K, V]{Kind: KindCreate, ID: id, Value: value}
}

func Update[K comparable, V any](id K, value V) Event[K, V] {
	return Event[K, V]{Kind: KindUpdate, ID: id, Value: value}
}

func Delete[K comparable, V any](id K) Event[K, V] {
	return Event[K, V]{Kind: KindDelete, ID: id}
}

// Validate checks the fields every cache relies on. The zero value of K is
// treated as a missing identifier.
func (e Event[K, V]) Validate() error {
	if !e.Kind.Valid() {
		return fmt.Errorf("%w: unknown kind %d", ErrMalformedEvent, e.Kind)
	}
	var zero K
	if e.ID == zero {
		return fmt.Errorf("%w: missing identifier", ErrMalformedEvent)
	}
	return nil
}

// IsMalformed reports whether err came from rejecting an event.
func IsMalformed(err error) bool {
	return errors.Is(err, ErrMalformedEvent)
}
