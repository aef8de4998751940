package mapping

import (
	"testing"

	"github.com/google/uuid"

	"hublink/hub"
	"hublink/opc"
	"hublink/status"
)

func testVariable(nodeID, name string) *opc.Variable {
	ref := opc.Reference{NodeID: nodeID, BrowseName: name, DisplayName: name, Class: opc.ClassVariable}
	return opc.NewVariable(ref, 1.0)
}

func testStoreWithValueSet() (*hub.Store, *hub.Iteration, *hub.Parameter, *hub.ParameterValueSet) {
	vs := hub.NewValueSet(1)
	param := &hub.Parameter{
		Iid:           uuid.New(),
		ParameterType: &hub.ParameterType{Iid: uuid.New(), Name: "gain", Kind: hub.KindQuantity},
		ValueSets:     []*hub.ParameterValueSet{vs},
	}
	element := &hub.ElementDefinition{Iid: uuid.New(), Name: "Controller", Parameters: []*hub.Parameter{param}}
	it := &hub.Iteration{Iid: uuid.New(), Elements: []*hub.ElementDefinition{element}}
	store := hub.NewStore("uri", nil, it)
	return store, it, param, vs
}

func TestCreateMapIsLocalOnly(t *testing.T) {
	store, it, _, _ := testStoreWithValueSet()
	svc := NewService(store, status.Discard)

	m := svc.CreateMap("sim")
	if m.Name != "sim" || m.ExternalModelName != "sim" || m.ExternalToolName != ToolName {
		t.Errorf("unexpected map: %+v", m)
	}
	if m.IsPersisted() {
		t.Error("created map must not be persisted")
	}
	if len(it.ExternalIdentifierMaps) != 0 {
		t.Error("create must not touch the iteration")
	}

	svc.SetMap(m)
	if svc.State() != StateUnbound {
		t.Errorf("expected Unbound, got %v", svc.State())
	}
}

func TestAddCorrespondenceDeduplicatesByPair(t *testing.T) {
	store, _, _, vs := testStoreWithValueSet()
	svc := NewService(store, status.Discard)
	svc.SetMap(svc.CreateMap("sim"))

	ext := NewExternalIdentifier("ns=2;s=Kp", FromDstToHub)
	svc.AddCorrespondence(vs.Iid, ext)
	svc.AddCorrespondence(vs.Iid, ext)
	svc.AddCorrespondence(vs.Iid, ext)

	if got := len(svc.Map().Correspondences); got != 1 {
		t.Fatalf("expected 1 correspondence, got %d", got)
	}

	// Same internal id, different external identifier: a second entry.
	sw := hub.SwitchComputed
	svc.AddCorrespondence(vs.Iid, NewIndexedExternalIdentifier("ns=2;s=Kp", FromDstToHub, 0, &sw))
	svc.AddCorrespondence(vs.Iid, NewIndexedExternalIdentifier("ns=2;s=Kp", FromDstToHub, 1, &sw))

	if got := len(svc.Map().Correspondences); got != 3 {
		t.Errorf("expected per-index entries to coexist, got %d", got)
	}
}

func TestAddRowDecomposesIntoCorrespondences(t *testing.T) {
	store, _, param, vs := testStoreWithValueSet()
	option := &hub.Option{Iid: uuid.New(), Name: "nominal"}
	state := &hub.ActualFiniteState{Iid: uuid.New(), Name: "launch"}
	store.Register(option, state)

	svc := NewService(store, status.Discard)
	svc.SetMap(svc.CreateMap("sim"))

	row := &Row{
		Variable:   testVariable("ns=2;s=Kp", "Kp"),
		Parameter:  param,
		ValueSet:   vs,
		Option:     option,
		State:      state,
		ValueIndex: 0,
		SwitchKind: hub.SwitchComputed,
	}
	svc.AddRow(row)

	// value set + parameter + option + state
	if got := len(svc.Map().Correspondences); got != 4 {
		t.Fatalf("expected 4 correspondences, got %d", got)
	}

	svc.AddRow(row)
	if got := len(svc.Map().Correspondences); got != 4 {
		t.Errorf("repeated AddRow must not duplicate, got %d", got)
	}
}

func TestLoadFromDstToHubRoundTrip(t *testing.T) {
	store, _, param, vs := testStoreWithValueSet()
	vs.Computed[0] = "42"

	svc := NewService(store, status.Discard)
	svc.SetMap(svc.CreateMap("sim"))

	variable := testVariable("ns=2;s=Kp", "Kp")
	sw := hub.SwitchComputed
	svc.AddCorrespondence(vs.Iid, NewIndexedExternalIdentifier("ns=2;s=Kp", FromDstToHub, 0, &sw))
	svc.AddCorrespondence(param.Iid, NewExternalIdentifier("ns=2;s=Kp", FromDstToHub))

	rows := svc.LoadFromDstToHub([]*opc.Variable{variable})
	if len(rows) != 1 {
		t.Fatalf("expected 1 row, got %d", len(rows))
	}
	row := rows[0]
	if row.Variable != variable {
		t.Error("row must reference the live variable")
	}
	if row.ValueSet == nil || row.ValueSet.Iid != vs.Iid {
		t.Error("row must resolve the original value set")
	}
	if row.Parameter == nil || row.Parameter.Iid != param.Iid {
		t.Error("row must resolve the original parameter")
	}
	if row.Value != "42" {
		t.Errorf("expected resolved value 42, got %q", row.Value)
	}
}

func TestLoadSkipsDanglingCorrespondences(t *testing.T) {
	store, _, _, vs := testStoreWithValueSet()
	svc := NewService(store, status.Discard)
	svc.SetMap(svc.CreateMap("sim"))

	variable := testVariable("ns=2;s=Kp", "Kp")
	sw := hub.SwitchComputed
	svc.AddCorrespondence(vs.Iid, NewIndexedExternalIdentifier("ns=2;s=Kp", FromDstToHub, 0, &sw))
	// Dangling: entity was deleted from the hub since the last save.
	svc.AddCorrespondence(uuid.New(), NewExternalIdentifier("ns=2;s=Ki", FromDstToHub))

	rows := svc.LoadFromDstToHub([]*opc.Variable{variable, testVariable("ns=2;s=Ki", "Ki")})
	if len(rows) != 1 {
		t.Fatalf("dangling entries must be skipped silently, got %d rows", len(rows))
	}
}

func TestLoadReturnsNilWhenUnboundOrEmpty(t *testing.T) {
	store, _, _, _ := testStoreWithValueSet()
	svc := NewService(store, status.Discard)

	if rows := svc.LoadFromDstToHub(nil); rows != nil {
		t.Error("no map assigned: expected nil")
	}

	svc.SetMap(svc.CreateMap("sim"))
	if rows := svc.LoadFromDstToHub([]*opc.Variable{testVariable("ns=2;s=Kp", "Kp")}); rows != nil {
		t.Error("no correspondences: expected nil")
	}
}

func TestLoadFiltersByDirection(t *testing.T) {
	store, _, _, vs := testStoreWithValueSet()
	svc := NewService(store, status.Discard)
	svc.SetMap(svc.CreateMap("sim"))

	sw := hub.SwitchComputed
	svc.AddCorrespondence(vs.Iid, NewIndexedExternalIdentifier("ns=2;s=Kp", FromHubToDst, 0, &sw))

	variable := testVariable("ns=2;s=Kp", "Kp")
	if rows := svc.LoadFromDstToHub([]*opc.Variable{variable}); rows != nil {
		t.Error("FromHubToDst entries must not appear in the DstToHub load")
	}
	if rows := svc.LoadFromHubToDst([]*opc.Variable{variable}); len(rows) != 1 {
		t.Errorf("expected 1 hub-to-dst row, got %d", len(rows))
	}
}

func TestPersistAndRefresh(t *testing.T) {
	store, it, _, vs := testStoreWithValueSet()
	svc := NewService(store, status.Discard)
	svc.SetMap(svc.CreateMap("sim"))

	sw := hub.SwitchComputed
	svc.AddCorrespondence(vs.Iid, NewIndexedExternalIdentifier("ns=2;s=Kp", FromDstToHub, 0, &sw))

	tx := store.NewTransaction()
	svc.Persist(tx, it)
	tx.Commit()

	if svc.State() != StatePersisted {
		t.Errorf("expected Persisted, got %v", svc.State())
	}
	if len(it.ExternalIdentifierMaps) != 1 {
		t.Fatalf("map not attached to iteration")
	}

	// Local edit, then refresh discards it.
	svc.AddCorrespondence(vs.Iid, NewExternalIdentifier("ns=2;s=Ki", FromDstToHub))
	if svc.State() != StateModified {
		t.Errorf("expected Modified after edit, got %v", svc.State())
	}
	if !svc.Refresh() {
		t.Fatal("refresh should find the persisted map")
	}
	if svc.State() != StateLoaded {
		t.Errorf("expected Loaded after refresh, got %v", svc.State())
	}
	if got := len(svc.Map().Correspondences); got != 1 {
		t.Errorf("refresh must discard unsaved edits, got %d correspondences", got)
	}
}

func TestPersistTwiceDoesNotDuplicate(t *testing.T) {
	store, it, _, vs := testStoreWithValueSet()
	svc := NewService(store, status.Discard)
	svc.SetMap(svc.CreateMap("sim"))

	sw := hub.SwitchComputed
	svc.AddCorrespondence(vs.Iid, NewIndexedExternalIdentifier("ns=2;s=Kp", FromDstToHub, 0, &sw))

	tx := store.NewTransaction()
	svc.Persist(tx, it)
	svc.Persist(tx, it)
	tx.Commit()

	// map + 1 correspondence
	if tx.Len() != 2 {
		t.Errorf("expected 2 staged entities, got %d", tx.Len())
	}
	if len(it.ExternalIdentifierMaps) != 1 {
		t.Errorf("expected map attached once, got %d", len(it.ExternalIdentifierMaps))
	}
}

func TestRefreshMissingMapLeavesStateUnchanged(t *testing.T) {
	store, it, _, _ := testStoreWithValueSet()
	svc := NewService(store, status.Discard)

	m := svc.CreateMap("sim")
	m.MarkPersisted() // pretend it was persisted elsewhere, but not attached here
	svc.SetMap(m)
	_ = it

	before := svc.Map()
	if svc.Refresh() {
		t.Error("refresh should report a miss")
	}
	if svc.Map() != before {
		t.Error("missing map must leave the working copy unchanged")
	}
}

func TestSelectValuesRestoresIndices(t *testing.T) {
	store, _, _, vs := testStoreWithValueSet()
	svc := NewService(store, status.Discard)
	svc.SetMap(svc.CreateMap("sim"))

	variable := testVariable("ns=2;s=Kp", "Kp")
	variable.OnNotification(opc.Notification{Value: 2.0})
	variable.OnNotification(opc.Notification{Value: 3.0})

	sw := hub.SwitchComputed
	svc.AddCorrespondence(vs.Iid, NewIndexedExternalIdentifier("ns=2;s=Kp", FromDstToHub, 1, &sw))
	svc.AddCorrespondence(vs.Iid, NewIndexedExternalIdentifier("ns=2;s=Kp", FromDstToHub, 2, &sw))

	svc.SelectValues([]*opc.Variable{variable})

	got := variable.SelectedIndices()
	if len(got) != 2 || got[0] != 1 || got[1] != 2 {
		t.Errorf("expected indices [1 2], got %v", got)
	}
}
