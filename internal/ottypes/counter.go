package ottypes

import (
	"fmt"
	"math"
)

// CounterType is a commutative integer counter: the reference vehicle for
// testing that the kernel doesn't depend on transform doing any real work.
type CounterType struct{}

func NewCounterType() *CounterType { return &CounterType{} }

func (c *CounterType) Name() string { return "counter" }
func (c *CounterType) URI() string  { return "https://otsync.dev/types/counter" }

// Create floors data to an int, defaulting to 0 when absent.
func (c *CounterType) Create(data interface{}) (interface{}, error) {
	if data == nil {
		return 0, nil
	}
	if f, ok := data.(float64); ok {
		return int(math.Floor(f)), nil
	}
	n, ok := toInt(data)
	if !ok {
		return nil, fmt.Errorf("counter: create data must be numeric, got %T", data)
	}
	return n, nil
}

// Apply adds delta to the current value.
func (c *CounterType) Apply(snapshotData interface{}, opPayload interface{}) (interface{}, error) {
	s, ok := toInt(snapshotData)
	if !ok {
		return nil, fmt.Errorf("counter: snapshot data must be numeric, got %T", snapshotData)
	}
	delta, ok := toInt(opPayload)
	if !ok {
		return nil, fmt.Errorf("counter: op payload must be numeric, got %T", opPayload)
	}
	return s + delta, nil
}

// Transform is the identity: addition commutes, so a concurrent delta
// never needs rewriting.
func (c *CounterType) Transform(opPayload, appliedPayload interface{}, side Side) (interface{}, error) {
	delta, ok := toInt(opPayload)
	if !ok {
		return nil, fmt.Errorf("counter: transform payload must be numeric, got %T", opPayload)
	}
	return delta, nil
}

// Compose merges two sequential deltas by addition.
func (c *CounterType) Compose(a, b interface{}) (interface{}, error) {
	av, ok := toInt(a)
	if !ok {
		return nil, fmt.Errorf("counter: compose operand must be numeric, got %T", a)
	}
	bv, ok := toInt(b)
	if !ok {
		return nil, fmt.Errorf("counter: compose operand must be numeric, got %T", b)
	}
	return av + bv, nil
}

// Invert negates a delta.
func (c *CounterType) Invert(op interface{}) (interface{}, error) {
	v, ok := toInt(op)
	if !ok {
		return nil, fmt.Errorf("counter: invert operand must be numeric, got %T", op)
	}
	return -v, nil
}

func toInt(v interface{}) (int, bool) {
	switch n := v.(type) {
	case int:
		return n, true
	case int64:
		return int(n), true
	case float64:
		return int(n), true
	default:
		return 0, false
	}
}
