package transport

import "testing"

func TestPhaseTransition(t *testing.T) {
	tests := []struct {
		from, to, want Phase
	}{
		{from: PhaseOpening, to: PhaseSyncing, want: PhaseSyncing},
		{from: PhaseOpening, to: PhaseReconnecting, want: PhaseReconnecting},
		{from: PhaseSyncing, to: PhaseStreaming, want: PhaseStreaming},
		{from: PhaseSyncing, to: PhaseReconnecting, want: PhaseReconnecting},
		{from: PhaseStreaming, to: PhaseReconnecting, want: PhaseReconnecting},
		{from: PhaseReconnecting, to: PhaseSyncing, want: PhaseSyncing},
		{from: PhaseReconnecting, to: PhaseClosedExhausted, want: PhaseClosedExhausted},
		{from: PhaseStreaming, to: PhaseClosedContext, want: PhaseClosedContext},
		{from: PhaseStreaming, to: PhaseSyncing, want: PhaseStreaming},
		{from: PhaseClosedContext, to: PhaseOpening, want: PhaseClosedContext},
	}

	for _, tt := range tests {
		t.Run(tt.from.String()+"->"+tt.to.String(), func(t *testing.T) {
			if got := tt.from.Transition(tt.to); got != tt.want {
				t.Fatalf("got %s, want %s", got, tt.want)
			}
		})
	}
}
