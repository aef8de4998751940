package transform

import (
	"errors"
	"fmt"

	"github.com/google/uuid"

	"hublink/hub"
	"hublink/mapping"
	"hublink/status"
)

// Candidate is one internal-id to external-identifier pairing produced by a
// transform, ready to be added to the identifier map.
type Candidate struct {
	InternalID uuid.UUID
	External   mapping.ExternalIdentifier
}

// Transformer translates a batch of mapped rows into hub elements,
// parameters and value sets.
type Transformer struct {
	data hub.DataAccess
	sink status.Sink
}

// NewTransformer creates a transformer. Collaborators are explicit.
func NewTransformer(data hub.DataAccess, sink status.Sink) *Transformer {
	if sink == nil {
		sink = status.Discard
	}
	return &Transformer{data: data, sink: sink}
}

// Transform runs the whole batch. The returned elements are local copies
// (created or cloned from the model), untouched by the data model until the
// caller persists them. Any row failure aborts the batch: the error is
// logged and returned, and no change is applied anywhere.
func (t *Transformer) Transform(rows []*mapping.Row) ([]Candidate, []*hub.ElementDefinition, error) {
	var (
		candidates []Candidate
		elements   []*hub.ElementDefinition
		byName     = make(map[string]*hub.ElementDefinition)
		apply      []func()
	)

	for _, row := range rows {
		var err error
		candidates, err = t.transformRow(row, byName, &elements, candidates, &apply)
		if err != nil {
			status.Appendf(t.sink, status.Error, "transform aborted: %v", err)
			return nil, nil, err
		}
	}

	// All rows succeeded; apply the staged in-place updates.
	for _, fn := range apply {
		fn()
	}
	return candidates, elements, nil
}

func (t *Transformer) transformRow(row *mapping.Row, byName map[string]*hub.ElementDefinition, elements *[]*hub.ElementDefinition, candidates []Candidate, apply *[]func()) ([]Candidate, error) {
	if row == nil || row.Variable == nil {
		return nil, errors.New("nil mapped row")
	}
	if row.Parameter == nil || row.Parameter.ParameterType == nil {
		return nil, fmt.Errorf("row for node %s has no parameter target", row.NodeID())
	}
	pt := row.Parameter.ParameterType

	// Existing usage overrides are updated in place, but only after the
	// whole batch has validated.
	if row.Override != nil {
		vs := matchValueSet(row.Override.ValueSets, row.Option, row.State)
		if vs == nil {
			return nil, fmt.Errorf("override %s has no value set for node %s", row.Override.Iid, row.NodeID())
		}
		staged := vs.Clone()
		if err := updateValueSet(staged, pt, row); err != nil {
			return nil, err
		}
		target := vs
		*apply = append(*apply, func() { *target = *staged })
		return t.record(candidates, row, row.Override.Iid, vs.Iid), nil
	}

	element := t.resolveElement(row, byName, elements)
	param := element.Parameter(pt)
	if param == nil {
		param = &hub.Parameter{
			Iid:               uuid.New(),
			ParameterType:     pt,
			Scale:             row.Parameter.Scale,
			Owner:             t.data.CurrentDomain(),
			IsOptionDependent: row.Parameter.IsOptionDependent,
			StateDependence:   row.Parameter.StateDependence,
		}
		element.Parameters = append(element.Parameters, param)
	}

	vs := matchValueSet(param.ValueSets, row.Option, row.State)
	if vs == nil {
		vs = hub.NewValueSet(1)
		vs.ActualOption = row.Option
		vs.ActualState = row.State
		param.ValueSets = append(param.ValueSets, vs)
	}
	if err := updateValueSet(vs, pt, row); err != nil {
		return nil, err
	}
	return t.record(candidates, row, param.Iid, vs.Iid), nil
}

// resolveElement reuses an element by name: first one produced earlier in
// the same batch, then one existing in the open iteration (cloned so the
// model is never aliased), then the row's own element, and only then a new
// definition named after the variable.
func (t *Transformer) resolveElement(row *mapping.Row, byName map[string]*hub.ElementDefinition, elements *[]*hub.ElementDefinition) *hub.ElementDefinition {
	name := elementName(row)
	if e, ok := byName[name]; ok {
		return e
	}

	keep := func(e *hub.ElementDefinition) *hub.ElementDefinition {
		byName[name] = e
		*elements = append(*elements, e)
		return e
	}

	if it := t.data.OpenIteration(); it != nil {
		for _, e := range it.Elements {
			if e.Name == name {
				return keep(e.Clone())
			}
		}
	}
	if row.Element != nil {
		return keep(row.Element.Clone())
	}
	return keep(&hub.ElementDefinition{
		Iid:       uuid.New(),
		Name:      name,
		ShortName: name,
		Owner:     t.data.CurrentDomain(),
	})
}

func elementName(row *mapping.Row) string {
	if row.Element != nil && row.Element.Name != "" {
		return row.Element.Name
	}
	return row.Variable.DisplayName()
}

// record emits the correspondence candidates for one transformed row: the
// value-set slot, the parameter (or override), and the option/state
// sub-correspondences when the row is option- or state-dependent.
func (t *Transformer) record(candidates []Candidate, row *mapping.Row, paramID, valueSetID uuid.UUID) []Candidate {
	nodeID := row.NodeID()
	sw := row.SwitchKind

	candidates = append(candidates, Candidate{
		InternalID: valueSetID,
		External:   mapping.NewIndexedExternalIdentifier(nodeID, mapping.FromDstToHub, row.ValueIndex, &sw),
	})
	candidates = append(candidates, Candidate{
		InternalID: paramID,
		External:   mapping.NewExternalIdentifier(nodeID, mapping.FromDstToHub),
	})
	if row.Option != nil {
		candidates = append(candidates, Candidate{
			InternalID: row.Option.Iid,
			External:   mapping.NewExternalIdentifier(nodeID, mapping.FromDstToHub),
		})
	}
	if row.State != nil {
		candidates = append(candidates, Candidate{
			InternalID: row.State.Iid,
			External:   mapping.NewExternalIdentifier(nodeID, mapping.FromDstToHub),
		})
	}
	return candidates
}

// matchValueSet finds the value set bound to the given option and state.
// Sets without a recorded option or state match any.
func matchValueSet(sets []*hub.ParameterValueSet, opt *hub.Option, state *hub.ActualFiniteState) *hub.ParameterValueSet {
	for _, vs := range sets {
		if vs == nil {
			continue
		}
		if vs.ActualOption != nil && (opt == nil || vs.ActualOption.Iid != opt.Iid) {
			continue
		}
		if vs.ActualState != nil && (state == nil || vs.ActualState.Iid != state.Iid) {
			continue
		}
		return vs
	}
	return nil
}
