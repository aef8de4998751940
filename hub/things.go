// Package hub models the engineering data-model entities the adapter reads
// and writes, and the collaborator interfaces to the hub repository.
package hub

import (
	"github.com/google/uuid"
)

// Thing is implemented by every hub entity.
type Thing interface {
	ID() uuid.UUID
}

// ParameterSwitchKind selects which value array of a value set is
// authoritative.
type ParameterSwitchKind int

const (
	SwitchComputed ParameterSwitchKind = iota
	SwitchManual
	SwitchReference
)

func (k ParameterSwitchKind) String() string {
	switch k {
	case SwitchComputed:
		return "Computed"
	case SwitchManual:
		return "Manual"
	case SwitchReference:
		return "Reference"
	default:
		return "Unknown"
	}
}

// ParameterTypeKind is the closed set of parameter-type shapes the adapter
// distinguishes. Dispatch on it is exhaustive; there is no open subclassing.
type ParameterTypeKind int

const (
	KindScalar ParameterTypeKind = iota
	KindQuantity
	KindText
	KindSampledFunction
)

func (k ParameterTypeKind) String() string {
	switch k {
	case KindScalar:
		return "Scalar"
	case KindQuantity:
		return "Quantity"
	case KindText:
		return "Text"
	case KindSampledFunction:
		return "SampledFunction"
	default:
		return "Unknown"
	}
}

// ParameterType describes the type of a parameter. For sampled-function
// types the independent/dependent component lists carry the component types
// in declaration order; they are empty for every other kind.
type ParameterType struct {
	Iid                   uuid.UUID
	Name                  string
	ShortName             string
	Kind                  ParameterTypeKind
	IndependentComponents []*ParameterType
	DependentComponents   []*ParameterType
}

func (t *ParameterType) ID() uuid.UUID { return t.Iid }

// MeasurementScale is the scale a quantity-kind parameter is expressed in.
type MeasurementScale struct {
	Iid       uuid.UUID
	Name      string
	ShortName string
}

func (s *MeasurementScale) ID() uuid.UUID { return s.Iid }

// DomainOfExpertise is the owning domain for created parameters.
type DomainOfExpertise struct {
	Iid       uuid.UUID
	Name      string
	ShortName string
}

func (d *DomainOfExpertise) ID() uuid.UUID { return d.Iid }

// Option is one design option of an iteration.
type Option struct {
	Iid       uuid.UUID
	Name      string
	ShortName string
}

func (o *Option) ID() uuid.UUID { return o.Iid }

// ActualFiniteState is one state of an actual finite state list.
type ActualFiniteState struct {
	Iid       uuid.UUID
	Name      string
	ShortName string
}

func (s *ActualFiniteState) ID() uuid.UUID { return s.Iid }

// ActualFiniteStateList groups the states a parameter may depend on.
type ActualFiniteStateList struct {
	Iid    uuid.UUID
	States []*ActualFiniteState
}

func (l *ActualFiniteStateList) ID() uuid.UUID { return l.Iid }

// ParameterValueSet holds one parameter's value under one option/state
// combination: four parallel value arrays plus the switch selecting the
// authoritative one. All four arrays have equal length.
type ParameterValueSet struct {
	Iid          uuid.UUID
	Computed     []string
	Manual       []string
	Reference    []string
	Formula      []string
	Published    []string
	Switch       ParameterSwitchKind
	ActualOption *Option
	ActualState  *ActualFiniteState
}

func (v *ParameterValueSet) ID() uuid.UUID { return v.Iid }

// NewValueSet creates a value set with all arrays sized to n and filled with
// the "-" placeholder the hub uses for unset values.
func NewValueSet(n int) *ParameterValueSet {
	fill := func() []string {
		a := make([]string, n)
		for i := range a {
			a[i] = "-"
		}
		return a
	}
	return &ParameterValueSet{
		Iid:       uuid.New(),
		Computed:  fill(),
		Manual:    fill(),
		Reference: fill(),
		Formula:   fill(),
		Switch:    SwitchComputed,
	}
}

// Clone returns a deep copy with the same iid.
func (v *ParameterValueSet) Clone() *ParameterValueSet {
	c := *v
	c.Computed = append([]string(nil), v.Computed...)
	c.Manual = append([]string(nil), v.Manual...)
	c.Reference = append([]string(nil), v.Reference...)
	c.Formula = append([]string(nil), v.Formula...)
	c.Published = append([]string(nil), v.Published...)
	return &c
}

// ActualValue returns the authoritative value at index i per the switch.
func (v *ParameterValueSet) ActualValue(i int) string {
	switch v.Switch {
	case SwitchManual:
		return v.Manual[i]
	case SwitchReference:
		return v.Reference[i]
	default:
		return v.Computed[i]
	}
}

// Parameter is a parameter of an element definition.
type Parameter struct {
	Iid               uuid.UUID
	ParameterType     *ParameterType
	Scale             *MeasurementScale
	Owner             *DomainOfExpertise
	IsOptionDependent bool
	StateDependence   *ActualFiniteStateList
	ValueSets         []*ParameterValueSet
}

func (p *Parameter) ID() uuid.UUID { return p.Iid }

// ParameterOverride overrides a definition parameter on a usage.
type ParameterOverride struct {
	Iid       uuid.UUID
	Parameter *Parameter
	ValueSets []*ParameterValueSet
}

func (o *ParameterOverride) ID() uuid.UUID { return o.Iid }

// ElementDefinition is a reusable element of the engineering model.
type ElementDefinition struct {
	Iid        uuid.UUID
	Name       string
	ShortName  string
	Owner      *DomainOfExpertise
	Parameters []*Parameter
}

func (e *ElementDefinition) ID() uuid.UUID { return e.Iid }

// Clone returns a deep copy of the element with the same iids, so a reused
// element can be updated without aliasing mutable state across transforms.
func (e *ElementDefinition) Clone() *ElementDefinition {
	c := *e
	c.Parameters = make([]*Parameter, len(e.Parameters))
	for i, p := range e.Parameters {
		pc := *p
		pc.ValueSets = make([]*ParameterValueSet, len(p.ValueSets))
		for j, vs := range p.ValueSets {
			pc.ValueSets[j] = vs.Clone()
		}
		c.Parameters[i] = &pc
	}
	return &c
}

// Parameter returns the parameter with the given parameter type, or nil.
func (e *ElementDefinition) Parameter(pt *ParameterType) *Parameter {
	for _, p := range e.Parameters {
		if p.ParameterType != nil && pt != nil && p.ParameterType.Iid == pt.Iid {
			return p
		}
	}
	return nil
}

// ElementUsage is a usage of an element definition inside another element.
type ElementUsage struct {
	Iid                uuid.UUID
	Name               string
	ElementDefinition  *ElementDefinition
	ParameterOverrides []*ParameterOverride
}

func (u *ElementUsage) ID() uuid.UUID { return u.Iid }

// IdCorrespondence links one internal entity iid to one serialized external
// identifier inside an ExternalIdentifierMap.
type IdCorrespondence struct {
	Iid        uuid.UUID
	InternalID uuid.UUID
	ExternalID string
}

func (c *IdCorrespondence) ID() uuid.UUID { return c.Iid }

// ExternalIdentifierMap is the persistent node-id/entity-id correspondence
// ledger owned by the adapter's tool identity.
type ExternalIdentifierMap struct {
	Iid               uuid.UUID
	Name              string
	ExternalModelName string
	ExternalToolName  string
	Correspondences   []*IdCorrespondence

	// original is the shadow copy captured at load time. A map with a nil
	// original was created locally and has no backing persisted identity.
	original *ExternalIdentifierMap
}

func (m *ExternalIdentifierMap) ID() uuid.UUID { return m.Iid }

// IsPersisted reports whether this map was loaded from (or written to) the
// hub, as opposed to created locally and never saved.
func (m *ExternalIdentifierMap) IsPersisted() bool { return m.original != nil }

// MarkPersisted captures the current content as the original shadow copy.
func (m *ExternalIdentifierMap) MarkPersisted() {
	m.original = m.CloneShallow()
}

// CloneShallow copies the map and its correspondence list (entries shared).
func (m *ExternalIdentifierMap) CloneShallow() *ExternalIdentifierMap {
	c := *m
	c.Correspondences = append([]*IdCorrespondence(nil), m.Correspondences...)
	c.original = nil
	return &c
}

// Iteration is the working frame of the model: elements, options, maps.
type Iteration struct {
	Iid                    uuid.UUID
	Elements               []*ElementDefinition
	Options                []*Option
	ExternalIdentifierMaps []*ExternalIdentifierMap
}

func (it *Iteration) ID() uuid.UUID { return it.Iid }
