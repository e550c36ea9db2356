package transport

import "pipesync/internal/check"

// Phase is the lifecycle of a topic adapter.
type Phase uint8

const (
	PhaseOpening Phase = iota + 1
	PhaseSyncing
	PhaseStreaming
	PhaseReconnecting
	PhaseClosedExhausted
	PhaseClosedContext
)

func (p Phase) String() string {
	switch p {
	case PhaseOpening:
		return "opening"
	case PhaseSyncing:
		return "syncing"
	case PhaseStreaming:
		return "streaming"
	case PhaseReconnecting:
		return "reconnecting"
	case PhaseClosedExhausted:
		return "closed_exhausted"
	case PhaseClosedContext:
		return "closed_context"
	default:
		return "unknown"
	}
}

// Closed reports whether the adapter has stopped for good.
func (p Phase) Closed() bool {
	return p == PhaseClosedExhausted || p == PhaseClosedContext
}

func (p Phase) Transition(to Phase) Phase {
	ok := false
	switch p {
	case PhaseOpening:
		ok = to == PhaseSyncing || to == PhaseReconnecting || to.Closed()
	case PhaseSyncing:
		ok = to == PhaseStreaming || to == PhaseReconnecting || to.Closed()
	case PhaseStreaming:
		ok = to == PhaseReconnecting || to.Closed()
	case PhaseReconnecting:
		ok = to == PhaseSyncing || to.Closed()
	case PhaseClosedExhausted, PhaseClosedContext:
		ok = false
	}
	check.Assertf(ok, "adapter transition: %s -> %s", p, to)
	if !ok {
		return p
	}
	return to
}
