// Package ranged expands parametrized stage definitions into the number of
// concrete stage instances they produce.
package ranged

import (
	"encoding/json"
	"errors"
	"fmt"
	"math"
)

// Value is a parameter sweep: either DiscreteSteps or List.
type Value interface {
	isRangedValue()
}

// DiscreteSteps sweeps the numeric range between Min and Max by StepSize.
// The order of Min and Max and the sign of StepSize do not matter.
type DiscreteSteps struct {
	Min      float64 `json:"min"`
	Max      float64 `json:"max"`
	StepSize float64 `json:"stepSize"`
}

// List enumerates the values explicitly.
type List struct {
	Values []string `json:"values"`
}

func (DiscreteSteps) isRangedValue() {}
func (List) isRangedValue()          {}

// quotientPrecision bounds float noise in (hi-lo)/step before rounding up.
const (
	quotientPrecision  = 1e9
	maxRoundedQuotient = 1e6
)

// MaxStageCount caps every count so huge sweeps saturate instead of
// overflowing int.
const MaxStageCount = math.MaxInt32

// StageCount returns how many stage instances v expands to. A zero step
// sweeps a single value; a nil value expands to nothing.
func StageCount(v Value) int {
	switch v := v.(type) {
	case nil:
		return 0
	case List:
		return len(v.Values)
	case *List:
		if v == nil {
			return 0
		}
		return len(v.Values)
	case DiscreteSteps:
		return v.count()
	case *DiscreteSteps:
		if v == nil {
			return 0
		}
		return v.count()
	default:
		panic(fmt.Sprintf("ranged: unhandled value type %T", v))
	}
}

func (d DiscreteSteps) count() int {
	lo, hi := math.Min(d.Min, d.Max), math.Max(d.Min, d.Max)
	step := math.Abs(d.StepSize)
	if step == 0 || !finite(lo) || !finite(hi) || !finite(step) {
		return 1
	}
	q := (hi - lo) / step
	if q < maxRoundedQuotient {
		q = math.Round(q*quotientPrecision) / quotientPrecision
	}
	q = math.Ceil(q)
	if !finite(q) || q >= MaxStageCount-1 {
		return MaxStageCount
	}
	return int(q) + 1
}

func finite(f float64) bool {
	return !math.IsNaN(f) && !math.IsInf(f, 0)
}

// Map holds the ranged values of a stage definition by environment variable
// name.
type Map map[string]Value

// GroupCount is the number of stage instances an execution group represents:
// the sum over its ranged values, or one when it has none. The sum saturates
// at MaxStageCount.
func GroupCount(m Map) int {
	if len(m) == 0 {
		return 1
	}
	total := 0
	for _, v := range m {
		n := StageCount(v)
		if n >= MaxStageCount-total {
			return MaxStageCount
		}
		total += n
	}
	return total
}

type wireValue struct {
	DiscreteSteps *DiscreteSteps `json:"discreteSteps,omitempty"`
	List          *List          `json:"list,omitempty"`
}

var errAmbiguous = errors.New("ranged value must set exactly one of discreteSteps or list")

func decodeValue(data []byte) (Value, error) {
	var w wireValue
	if err := json.Unmarshal(data, &w); err != nil {
		return nil, err
	}
	switch {
	case w.DiscreteSteps != nil && w.List == nil:
		return *w.DiscreteSteps, nil
	case w.List != nil && w.DiscreteSteps == nil:
		return *w.List, nil
	default:
		return nil, errAmbiguous
	}
}

func encodeValue(v Value) (wireValue, error) {
	switch v := v.(type) {
	case DiscreteSteps:
		return wireValue{DiscreteSteps: &v}, nil
	case *DiscreteSteps:
		return wireValue{DiscreteSteps: v}, nil
	case List:
		return wireValue{List: &v}, nil
	case *List:
		return wireValue{List: v}, nil
	default:
		return wireValue{}, fmt.Errorf("ranged: cannot encode %T", v)
	}
}

func (m *Map) UnmarshalJSON(data []byte) error {
	var raw map[string]json.RawMessage
	if err := json.Unmarshal(data, &raw); err != nil {
		return err
	}
	out := make(Map, len(raw))
	for name, item := range raw {
		v, err := decodeValue(item)
		if err != nil {
			return fmt.Errorf("ranged value %q: %w", name, err)
		}
		out[name] = v
	}
	*m = out
	return nil
}

func (m Map) MarshalJSON() ([]byte, error) {
	out := make(map[string]wireValue, len(m))
	for name, v := range m {
		w, err := encodeValue(v)
		if err != nil {
			return nil, fmt.Errorf("ranged value %q: %w", name, err)
		}
		out[name] = w
	}
	return json.Marshal(out)
}
