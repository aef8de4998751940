package transform

import (
	"errors"
	"testing"

	"github.com/google/uuid"

	"hublink/hub"
	"hublink/mapping"
	"hublink/opc"
	"hublink/status"
)

func testVariable(nodeID, name string, initial interface{}) *opc.Variable {
	ref := opc.Reference{NodeID: nodeID, BrowseName: name, DisplayName: name, Class: opc.ClassVariable}
	return opc.NewVariable(ref, initial)
}

func scalarType(name string) *hub.ParameterType {
	return &hub.ParameterType{Iid: uuid.New(), Name: name, Kind: hub.KindQuantity}
}

func sampledType(indKind, depKind hub.ParameterTypeKind) *hub.ParameterType {
	return &hub.ParameterType{
		Iid:  uuid.New(),
		Name: "timeseries",
		Kind: hub.KindSampledFunction,
		IndependentComponents: []*hub.ParameterType{
			{Iid: uuid.New(), Name: "time", Kind: indKind},
		},
		DependentComponents: []*hub.ParameterType{
			{Iid: uuid.New(), Name: "value", Kind: depKind},
		},
	}
}

func scalarRow(element string, pt *hub.ParameterType, v *opc.Variable) *mapping.Row {
	return &mapping.Row{
		Variable:  v,
		Element:   &hub.ElementDefinition{Iid: uuid.New(), Name: element},
		Parameter: &hub.Parameter{Iid: uuid.New(), ParameterType: pt},
	}
}

func newTestTransformer() (*Transformer, *hub.Store, *hub.Iteration) {
	it := &hub.Iteration{Iid: uuid.New()}
	domain := &hub.DomainOfExpertise{Iid: uuid.New(), Name: "sim"}
	store := hub.NewStore("uri", domain, it)
	return NewTransformer(store, status.Discard), store, it
}

func TestTransformCreatesElementAndParameter(t *testing.T) {
	tr, _, _ := newTestTransformer()
	v := testVariable("ns=2;s=Kp", "Kp", 0.5)

	rows := []*mapping.Row{scalarRow("Cap", scalarType("gain"), v)}
	candidates, elements, err := tr.Transform(rows)
	if err != nil {
		t.Fatalf("transform failed: %v", err)
	}
	if len(elements) != 1 {
		t.Fatalf("expected 1 element, got %d", len(elements))
	}
	element := elements[0]
	if element.Name != "Cap" {
		t.Errorf("unexpected element name %q", element.Name)
	}
	if len(element.Parameters) != 1 {
		t.Fatalf("expected 1 parameter, got %d", len(element.Parameters))
	}
	vs := element.Parameters[0].ValueSets[0]
	if vs.Computed[0] != "0.5" {
		t.Errorf("expected computed 0.5, got %q", vs.Computed[0])
	}
	if vs.Switch != hub.SwitchComputed {
		t.Errorf("expected Computed switch, got %v", vs.Switch)
	}
	// value set + parameter correspondences
	if len(candidates) != 2 {
		t.Errorf("expected 2 candidates, got %d", len(candidates))
	}
}

func TestTransformIsIdempotent(t *testing.T) {
	tr, store, it := newTestTransformer()

	types := []*hub.ParameterType{scalarType("a"), scalarType("b"), scalarType("c")}
	rows := make([]*mapping.Row, 0, 3)
	for i, pt := range types {
		node := string(rune('x' + i))
		rows = append(rows, scalarRow("Cap", pt, testVariable("ns=2;s="+node, node, float64(i))))
	}

	_, elements, err := tr.Transform(rows)
	if err != nil {
		t.Fatalf("first transform failed: %v", err)
	}
	if len(elements) != 1 || len(elements[0].Parameters) != 3 {
		t.Fatalf("expected 1 element with 3 parameters, got %d elements", len(elements))
	}

	// Apply the first batch to the model, then transform again unchanged.
	tx := store.NewTransaction()
	for _, e := range elements {
		tx.Create(e, it)
	}
	tx.Commit()

	_, elements2, err := tr.Transform(rows)
	if err != nil {
		t.Fatalf("second transform failed: %v", err)
	}
	if len(elements2) != 1 {
		t.Fatalf("expected element reuse, got %d elements", len(elements2))
	}
	if elements2[0].Iid != elements[0].Iid {
		t.Error("reused element must keep its iid")
	}
	if got := len(elements2[0].Parameters); got != 3 {
		t.Errorf("expected 3 parameters after reuse, got %d", got)
	}
	if len(it.Elements) != 1 {
		t.Errorf("model must still hold 1 element, got %d", len(it.Elements))
	}
}

func TestTransformReusesElementWithinBatch(t *testing.T) {
	tr, _, _ := newTestTransformer()

	rows := []*mapping.Row{
		scalarRow("Cap", scalarType("a"), testVariable("ns=2;s=Kp", "Kp", 1.0)),
		scalarRow("Cap", scalarType("b"), testVariable("ns=2;s=Ki", "Ki", 2.0)),
	}
	_, elements, err := tr.Transform(rows)
	if err != nil {
		t.Fatalf("transform failed: %v", err)
	}
	if len(elements) != 1 {
		t.Fatalf("expected batch-level reuse, got %d elements", len(elements))
	}
	if len(elements[0].Parameters) != 2 {
		t.Errorf("expected 2 parameters on the shared element, got %d", len(elements[0].Parameters))
	}
}

func TestTransformCloneOnReuseDoesNotAliasModel(t *testing.T) {
	tr, store, it := newTestTransformer()

	pt := scalarType("gain")
	existingVS := hub.NewValueSet(1)
	existing := &hub.ElementDefinition{
		Iid:  uuid.New(),
		Name: "Cap",
		Parameters: []*hub.Parameter{{
			Iid:           uuid.New(),
			ParameterType: pt,
			ValueSets:     []*hub.ParameterValueSet{existingVS},
		}},
	}
	it.Elements = append(it.Elements, existing)
	store.RegisterElement(existing)

	v := testVariable("ns=2;s=Kp", "Kp", 7.0)
	_, elements, err := tr.Transform([]*mapping.Row{
		{Variable: v, Parameter: &hub.Parameter{Iid: uuid.New(), ParameterType: pt}, Element: existing},
	})
	if err != nil {
		t.Fatalf("transform failed: %v", err)
	}
	if elements[0] == existing {
		t.Fatal("expected a clone, not the model element")
	}
	if elements[0].Parameters[0].ValueSets[0].Computed[0] != "7" {
		t.Errorf("clone not updated: %v", elements[0].Parameters[0].ValueSets[0].Computed)
	}
	if existingVS.Computed[0] != "-" {
		t.Error("model value set must stay untouched until commit")
	}
}

func TestSampledFunctionFlattening(t *testing.T) {
	tr, _, _ := newTestTransformer()

	v := testVariable("ns=2;s=Kp", "Kp", nil)
	v.OnNotification(opc.Notification{Value: 0.2})
	history := v.History()
	v.SetSelectedIndices([]int{len(history) - 1})

	// Force the independent tag to a known value for the assertion.
	sel := v.SelectedValues()
	if len(sel) != 1 {
		t.Fatalf("expected 1 selected value, got %d", len(sel))
	}

	pt := sampledType(hub.KindText, hub.KindQuantity)
	row := &mapping.Row{
		Variable:  v,
		Element:   &hub.ElementDefinition{Iid: uuid.New(), Name: "Cap"},
		Parameter: &hub.Parameter{Iid: uuid.New(), ParameterType: pt},
	}

	_, elements, err := tr.Transform([]*mapping.Row{row})
	if err != nil {
		t.Fatalf("transform failed: %v", err)
	}

	vs := elements[0].Parameters[0].ValueSets[0]
	if len(vs.Computed) != 2 {
		t.Fatalf("expected interleaved pair, got %v", vs.Computed)
	}
	if vs.Computed[1] != "0.2" {
		t.Errorf("expected dependent value 0.2, got %q", vs.Computed[1])
	}

	if _, err := ValueAt(vs.Computed, 2); !errors.Is(err, ErrIndexOutOfRange) {
		t.Errorf("expected ErrIndexOutOfRange reading index 2, got %v", err)
	}
}

func TestSampledFunctionAveragedSubstitution(t *testing.T) {
	tr, _, _ := newTestTransformer()

	v := testVariable("ns=2;s=Kp", "Kp", 1.0)
	v.OnNotification(opc.Notification{Value: 3.0})
	v.SetSelectedIndices([]int{1})

	pt := sampledType(hub.KindQuantity, hub.KindQuantity)
	row := &mapping.Row{
		Variable:   v,
		Element:    &hub.ElementDefinition{Iid: uuid.New(), Name: "Cap"},
		Parameter:  &hub.Parameter{Iid: uuid.New(), ParameterType: pt},
		IsAveraged: true,
	}

	_, elements, err := tr.Transform([]*mapping.Row{row})
	if err != nil {
		t.Fatalf("transform failed: %v", err)
	}
	vs := elements[0].Parameters[0].ValueSets[0]
	// average of history [1, 3]
	if vs.Computed[1] != "2" {
		t.Errorf("expected averaged dependent 2, got %q", vs.Computed[1])
	}
}

func TestCheckCompatibilityDegradation(t *testing.T) {
	if CheckCompatibility(sampledType(hub.KindText, hub.KindQuantity)) != CompatSampledFunction {
		t.Error("1 text independent + 1 dependent must be sampled-compatible")
	}
	if CheckCompatibility(scalarType("gain")) != CompatScalar {
		t.Error("scalar type must be scalar")
	}

	// Wrong component count degrades to scalar, never errors.
	broken := sampledType(hub.KindText, hub.KindQuantity)
	broken.IndependentComponents = append(broken.IndependentComponents, scalarType("extra"))
	if CheckCompatibility(broken) != CompatScalar {
		t.Error("two independents must degrade to scalar")
	}

	// Boolean-ish independent kind degrades too.
	weird := sampledType(hub.KindSampledFunction, hub.KindQuantity)
	if CheckCompatibility(weird) != CompatScalar {
		t.Error("non quantity/text independent must degrade to scalar")
	}
	if CheckCompatibility(nil) != CompatScalar {
		t.Error("nil type must degrade to scalar")
	}
}

func TestIncompatibleSampledFallsBackToScalar(t *testing.T) {
	tr, _, _ := newTestTransformer()

	pt := sampledType(hub.KindText, hub.KindQuantity)
	pt.DependentComponents = nil // incompatible shape

	v := testVariable("ns=2;s=Kp", "Kp", 0.25)
	_, elements, err := tr.Transform([]*mapping.Row{{
		Variable:  v,
		Element:   &hub.ElementDefinition{Iid: uuid.New(), Name: "Cap"},
		Parameter: &hub.Parameter{Iid: uuid.New(), ParameterType: pt},
	}})
	if err != nil {
		t.Fatalf("incompatible shape must not error: %v", err)
	}
	vs := elements[0].Parameters[0].ValueSets[0]
	if vs.Computed[0] != "0.25" {
		t.Errorf("expected scalar fallback 0.25, got %v", vs.Computed)
	}
}

func TestTransformBatchAbortsAtomically(t *testing.T) {
	log := status.NewLog(100)
	it := &hub.Iteration{Iid: uuid.New()}
	store := hub.NewStore("uri", nil, it)
	tr := NewTransformer(store, log)

	good := scalarRow("Cap", scalarType("gain"), testVariable("ns=2;s=Kp", "Kp", 1.0))
	bad := &mapping.Row{Variable: testVariable("ns=2;s=Ki", "Ki", 2.0)} // no parameter target

	candidates, elements, err := tr.Transform([]*mapping.Row{good, bad})
	if err == nil {
		t.Fatal("expected batch failure")
	}
	if candidates != nil || elements != nil {
		t.Error("failed batch must return no partial results")
	}

	logged := false
	for _, e := range log.Entries() {
		if e.Severity == status.Error {
			logged = true
		}
	}
	if !logged {
		t.Error("transform abort must be logged before rethrow")
	}
}

func TestTransformUpdatesOverrideInPlace(t *testing.T) {
	tr, _, _ := newTestTransformer()

	pt := scalarType("gain")
	vs := hub.NewValueSet(1)
	override := &hub.ParameterOverride{
		Iid:       uuid.New(),
		Parameter: &hub.Parameter{Iid: uuid.New(), ParameterType: pt},
		ValueSets: []*hub.ParameterValueSet{vs},
	}

	v := testVariable("ns=2;s=Kp", "Kp", 9.0)
	candidates, elements, err := tr.Transform([]*mapping.Row{{
		Variable:  v,
		Parameter: override.Parameter,
		Override:  override,
	}})
	if err != nil {
		t.Fatalf("transform failed: %v", err)
	}
	if len(elements) != 0 {
		t.Errorf("override path must not create elements, got %d", len(elements))
	}
	if vs.Computed[0] != "9" {
		t.Errorf("override value set not updated: %v", vs.Computed)
	}
	if len(candidates) != 2 {
		t.Errorf("expected override + value set candidates, got %d", len(candidates))
	}
}

func TestTransformRecordsRowDifference(t *testing.T) {
	tr, _, _ := newTestTransformer()

	pt := scalarType("gain")
	vs := hub.NewValueSet(1)
	vs.Computed[0] = "2"
	override := &hub.ParameterOverride{
		Iid:       uuid.New(),
		Parameter: &hub.Parameter{Iid: uuid.New(), ParameterType: pt},
		ValueSets: []*hub.ParameterValueSet{vs},
	}
	updated := &mapping.Row{
		Variable:  testVariable("ns=2;s=Kp", "Kp", 0.5),
		Parameter: override.Parameter,
		Override:  override,
	}
	fresh := scalarRow("Cap", scalarType("offset"), testVariable("ns=2;s=Ki", "Ki", 0.01))
	series := &mapping.Row{
		Variable:  testVariable("ns=2;s=Tp", "Tp", 1.0),
		Element:   &hub.ElementDefinition{Iid: uuid.New(), Name: "Cap"},
		Parameter: &hub.Parameter{Iid: uuid.New(), ParameterType: sampledType(hub.KindQuantity, hub.KindQuantity)},
	}

	if _, _, err := tr.Transform([]*mapping.Row{updated, fresh, series}); err != nil {
		t.Fatalf("transform failed: %v", err)
	}
	if updated.Difference != "-1.5" {
		t.Errorf("expected delta -1.5, got %q", updated.Difference)
	}
	if fresh.Difference != DifferenceSentinel {
		t.Errorf("expected sentinel for a fresh slot, got %q", fresh.Difference)
	}
	if series.Difference != DifferenceSentinel {
		t.Errorf("expected sentinel for a sampled series, got %q", series.Difference)
	}
}

func TestDifference(t *testing.T) {
	if got := Difference("20", "12"); got != "-8" {
		t.Errorf("expected -8, got %q", got)
	}
	if got := Difference("12", "20"); got != "8" {
		t.Errorf("expected 8, got %q", got)
	}
	if got := Difference("-", "12"); got != DifferenceSentinel {
		t.Errorf("expected sentinel, got %q", got)
	}
	if got := Difference("20", "abc"); got != DifferenceSentinel {
		t.Errorf("expected sentinel, got %q", got)
	}
}

func TestValueAtBounds(t *testing.T) {
	values := []string{"1", "2"}
	if v, err := ValueAt(values, 1); err != nil || v != "2" {
		t.Errorf("unexpected result: %v %v", v, err)
	}
	if _, err := ValueAt(values, 2); !errors.Is(err, ErrIndexOutOfRange) {
		t.Errorf("expected ErrIndexOutOfRange, got %v", err)
	}
	if _, err := ValueAt(values, -1); !errors.Is(err, ErrIndexOutOfRange) {
		t.Errorf("expected ErrIndexOutOfRange for negative, got %v", err)
	}
}
