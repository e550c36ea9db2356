package pipeline

import (
	"encoding/json"
	"fmt"
	"strings"
)

// State is the execution state of a stage instance.
type State uint8

const (
	StateRunning State = iota + 1
	StatePaused
	StateSucceeded
	StateFailed
	StatePreparing
	StateEnqueued
	StateSkipped
)

var stateNames = map[State]string{
	StateRunning:   "Running",
	StatePaused:    "Paused",
	StateSucceeded: "Succeeded",
	StateFailed:    "Failed",
	StatePreparing: "Preparing",
	StateEnqueued:  "Enqueued",
	StateSkipped:   "Skipped",
}

func (s State) String() string {
	if name, ok := stateNames[s]; ok {
		return name
	}
	return "Unknown"
}

// ParseState accepts state names in any letter case.
func ParseState(s string) (State, error) {
	trimmed := strings.TrimSpace(s)
	for state, name := range stateNames {
		if strings.EqualFold(name, trimmed) {
			return state, nil
		}
	}
	return 0, fmt.Errorf("unknown stage state %q", s)
}

func (s State) MarshalJSON() ([]byte, error) {
	name, ok := stateNames[s]
	if !ok {
		return nil, fmt.Errorf("cannot encode stage state %d", s)
	}
	return json.Marshal(name)
}

func (s *State) UnmarshalJSON(data []byte) error {
	var name string
	if err := json.Unmarshal(data, &name); err != nil {
		return fmt.Errorf("stage state: %w", err)
	}
	parsed, err := ParseState(name)
	if err != nil {
		return err
	}
	*s = parsed
	return nil
}
