// Package transform translates live OPC variable values into hub parameter
// value sets and back, producing the correspondence candidates that feed the
// identifier map.
package transform

import (
	"errors"
	"fmt"
	"strconv"

	"hublink/hub"
	"hublink/mapping"
	"hublink/opc"
)

// ErrIndexOutOfRange signals a read past the end of a value array. This is
// caller misuse, not a recoverable runtime condition.
var ErrIndexOutOfRange = errors.New("value index out of range")

// DifferenceSentinel is reported when a difference cannot be computed.
const DifferenceSentinel = "/"

// Compatibility classifies how a parameter type can receive variable values.
type Compatibility int

const (
	// CompatScalar: write one value into one slot of the Computed array.
	CompatScalar Compatibility = iota
	// CompatSampledFunction: flatten the selected time series into an
	// interleaved (independent, dependent) sequence.
	CompatSampledFunction
)

// CheckCompatibility decides the value shape for a parameter type. A
// sampled-function type needs exactly one independent and one dependent
// component, with the independent component quantity- or text-kind;
// anything else degrades to scalar assignment rather than failing.
func CheckCompatibility(pt *hub.ParameterType) Compatibility {
	if pt == nil || pt.Kind != hub.KindSampledFunction {
		return CompatScalar
	}
	if len(pt.IndependentComponents) != 1 || len(pt.DependentComponents) != 1 {
		return CompatScalar
	}
	ind := pt.IndependentComponents[0]
	if ind == nil || (ind.Kind != hub.KindQuantity && ind.Kind != hub.KindText) {
		return CompatScalar
	}
	return CompatSampledFunction
}

// formatValue renders a value culture-invariantly for the hub value arrays.
func formatValue(value interface{}) string {
	switch x := value.(type) {
	case nil:
		return "-"
	case string:
		return x
	case float64:
		return strconv.FormatFloat(x, 'g', -1, 64)
	case float32:
		return strconv.FormatFloat(float64(x), 'g', -1, 32)
	case bool:
		return strconv.FormatBool(x)
	default:
		return fmt.Sprintf("%v", x)
	}
}

// ValueAt reads one slot of a value array, with explicit bounds reporting.
func ValueAt(values []string, index int) (string, error) {
	if index < 0 || index >= len(values) {
		return "", fmt.Errorf("%w: index %d, length %d", ErrIndexOutOfRange, index, len(values))
	}
	return values[index], nil
}

// Difference reports the numeric delta between an old and a new value as a
// signed string, or the "/" sentinel when either side is non-numeric.
func Difference(old, new string) string {
	a, errA := strconv.ParseFloat(old, 64)
	b, errB := strconv.ParseFloat(new, 64)
	if errA != nil || errB != nil {
		return DifferenceSentinel
	}
	return strconv.FormatFloat(b-a, 'g', -1, 64)
}

// scalarValue picks the single value a scalar assignment writes: the
// averaged value when requested, otherwise the last selected sample, falling
// back to the variable's current value.
func scalarValue(v *opc.Variable, averaged bool) (string, error) {
	if averaged {
		avg, err := v.AverageValue()
		if err != nil {
			return "", err
		}
		return strconv.FormatFloat(avg, 'g', -1, 64), nil
	}
	if sel := v.SelectedValues(); len(sel) > 0 {
		return strconv.FormatFloat(sel[len(sel)-1].Value, 'g', -1, 64), nil
	}
	return formatValue(v.CurrentValue()), nil
}

// updateValueSet writes a row's variable values into one value set,
// dispatching on the compatibility of the parameter type.
func updateValueSet(vs *hub.ParameterValueSet, pt *hub.ParameterType, row *mapping.Row) error {
	if vs == nil {
		return errors.New("nil value set")
	}
	v := row.Variable

	switch CheckCompatibility(pt) {
	case CompatSampledFunction:
		sel := v.SelectedValues()
		if len(sel) == 0 {
			sel = v.History()
		}
		flat := make([]string, 0, 2*len(sel))
		for _, s := range sel {
			dep := s.Value
			if row.IsAveraged {
				avg, err := v.AverageValue()
				if err != nil {
					return err
				}
				dep = avg
			}
			flat = append(flat,
				strconv.FormatFloat(s.Time, 'g', -1, 64),
				strconv.FormatFloat(dep, 'g', -1, 64))
		}
		vs.Computed = flat
		resize(vs, len(flat))
		// A flattened series has no single scalar delta.
		row.Difference = DifferenceSentinel
	default:
		val, err := scalarValue(v, row.IsAveraged)
		if err != nil {
			return err
		}
		if row.ValueIndex < 0 {
			return fmt.Errorf("%w: index %d", ErrIndexOutOfRange, row.ValueIndex)
		}
		old, errOld := ValueAt(vs.Computed, row.ValueIndex)
		if errOld != nil {
			old = "-"
		}
		if row.ValueIndex >= len(vs.Computed) {
			grow(vs, row.ValueIndex+1)
		}
		vs.Computed[row.ValueIndex] = val
		row.Difference = Difference(old, val)
	}
	vs.Switch = hub.SwitchComputed
	return nil
}

// resize forces the companion arrays to the computed array's new length.
func resize(vs *hub.ParameterValueSet, n int) {
	vs.Manual = placeholders(n)
	vs.Reference = placeholders(n)
	vs.Formula = placeholders(n)
}

// grow extends all arrays to at least n slots, preserving existing values.
func grow(vs *hub.ParameterValueSet, n int) {
	pad := func(a []string) []string {
		for len(a) < n {
			a = append(a, "-")
		}
		return a
	}
	vs.Computed = pad(vs.Computed)
	vs.Manual = pad(vs.Manual)
	vs.Reference = pad(vs.Reference)
	vs.Formula = pad(vs.Formula)
}

func placeholders(n int) []string {
	a := make([]string, n)
	for i := range a {
		a[i] = "-"
	}
	return a
}
