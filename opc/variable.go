package opc

import (
	"errors"
	"sync"
	"time"
)

// ErrNoNumericHistory is returned by AverageValue when a variable has no
// numeric samples to average.
var ErrNoNumericHistory = errors.New("no numeric samples in history")

// TimeTaggedValue is one recorded sample: seconds since the variable's
// epoch reference, and the sampled value.
type TimeTaggedValue struct {
	Time  float64
	Value float64
}

// Variable is one discovered node and its evolving value stream. History is
// append-only during a session; notifications are tagged with elapsed time
// rather than reordered, and the current value is last-wins for display.
type Variable struct {
	ref     Reference
	started time.Time

	mu       sync.RWMutex
	history  []TimeTaggedValue
	current  interface{}
	selected []int
}

// NewVariable wraps a browsed reference with its initial value, seeding
// history with the initial sample at time 0.
func NewVariable(ref Reference, initial interface{}) *Variable {
	v := &Variable{
		ref:     ref,
		started: time.Now(),
		current: initial,
	}
	if f, ok := toFloat(initial); ok {
		v.history = append(v.history, TimeTaggedValue{Time: 0, Value: f})
	}
	return v
}

// NodeID returns the stable string identifier of the backing node.
func (v *Variable) NodeID() string { return v.ref.NodeID }

// DisplayName returns the node's display name.
func (v *Variable) DisplayName() string { return v.ref.DisplayName }

// Class returns the node class of the backing node.
func (v *Variable) Class() NodeClass { return v.ref.Class }

// Reference returns the browse reference this variable was built from.
func (v *Variable) Reference() Reference { return v.ref }

// CurrentValue returns the most recently reported value.
func (v *Variable) CurrentValue() interface{} {
	v.mu.RLock()
	defer v.mu.RUnlock()
	return v.current
}

// OnNotification records a newly reported sample, tagged with elapsed time
// since the variable was created. Out-of-order or duplicate deliveries are
// tolerated by appending as-is.
func (v *Variable) OnNotification(n Notification) {
	elapsed := time.Since(v.started).Seconds()

	v.mu.Lock()
	defer v.mu.Unlock()
	v.current = n.Value
	if f, ok := toFloat(n.Value); ok {
		v.history = append(v.history, TimeTaggedValue{Time: elapsed, Value: f})
	}
}

// History returns a copy of the recorded samples, oldest first.
func (v *Variable) History() []TimeTaggedValue {
	v.mu.RLock()
	defer v.mu.RUnlock()
	result := make([]TimeTaggedValue, len(v.history))
	copy(result, v.history)
	return result
}

// AverageValue computes the arithmetic mean of all recorded numeric samples.
// The current value is the most recent sample, so it is part of the mean. It
// returns ErrNoNumericHistory when there is nothing numeric to average.
func (v *Variable) AverageValue() (float64, error) {
	v.mu.RLock()
	defer v.mu.RUnlock()

	if len(v.history) == 0 {
		return 0, ErrNoNumericHistory
	}
	sum := 0.0
	for _, t := range v.history {
		sum += t.Value
	}
	return sum / float64(len(v.history)), nil
}

// SetSelectedIndices records which history entries the caller selected for
// transfer. Indices outside the current history are dropped.
func (v *Variable) SetSelectedIndices(indices []int) {
	v.mu.Lock()
	defer v.mu.Unlock()
	v.selected = v.selected[:0]
	for _, i := range indices {
		if i >= 0 && i < len(v.history) {
			v.selected = append(v.selected, i)
		}
	}
}

// SelectedIndices returns the caller-selected history indices.
func (v *Variable) SelectedIndices() []int {
	v.mu.RLock()
	defer v.mu.RUnlock()
	return append([]int(nil), v.selected...)
}

// SelectedValues returns the history subset selected for transfer, in
// selection order.
func (v *Variable) SelectedValues() []TimeTaggedValue {
	v.mu.RLock()
	defer v.mu.RUnlock()
	result := make([]TimeTaggedValue, 0, len(v.selected))
	for _, i := range v.selected {
		if i >= 0 && i < len(v.history) {
			result = append(result, v.history[i])
		}
	}
	return result
}

// toFloat converts the numeric types OPC-UA servers commonly report.
func toFloat(value interface{}) (float64, bool) {
	switch x := value.(type) {
	case float64:
		return x, true
	case float32:
		return float64(x), true
	case int:
		return float64(x), true
	case int8:
		return float64(x), true
	case int16:
		return float64(x), true
	case int32:
		return float64(x), true
	case int64:
		return float64(x), true
	case uint8:
		return float64(x), true
	case uint16:
		return float64(x), true
	case uint32:
		return float64(x), true
	case uint64:
		return float64(x), true
	case bool:
		if x {
			return 1, true
		}
		return 0, true
	default:
		return 0, false
	}
}
