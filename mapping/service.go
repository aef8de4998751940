package mapping

import (
	"sync"

	"github.com/google/uuid"

	"hublink/hub"
	"hublink/opc"
	"hublink/status"
)

// ToolName is the external tool identity stamped on maps this adapter owns.
const ToolName = "hublink"

// MapState tracks the lifecycle of the working identifier map.
type MapState int

const (
	// StateUnbound: created locally, never persisted.
	StateUnbound MapState = iota
	// StateLoaded: working copy of a persisted map, no local edits.
	StateLoaded
	// StateModified: local edits not yet persisted.
	StateModified
	// StatePersisted: written to a transaction since the last edit.
	StatePersisted
)

func (s MapState) String() string {
	switch s {
	case StateUnbound:
		return "Unbound"
	case StateLoaded:
		return "Loaded"
	case StateModified:
		return "Modified"
	case StatePersisted:
		return "Persisted"
	default:
		return "Unknown"
	}
}

// Service owns the working external identifier map and the logic that
// decomposes mapped rows into correspondences and rebuilds them on load.
type Service struct {
	data hub.DataAccess
	sink status.Sink

	mu      sync.Mutex
	current *hub.ExternalIdentifierMap
	state   MapState
}

// NewService creates a mapping configuration service. Collaborators are
// passed explicitly; there is no ambient lookup.
func NewService(data hub.DataAccess, sink status.Sink) *Service {
	if sink == nil {
		sink = status.Discard
	}
	return &Service{data: data, sink: sink, state: StateUnbound}
}

// CreateMap returns a new, unpersisted map with the given name. Nothing is
// written until the map is assigned and later persisted.
func (s *Service) CreateMap(name string) *hub.ExternalIdentifierMap {
	return &hub.ExternalIdentifierMap{
		Iid:               uuid.New(),
		Name:              name,
		ExternalModelName: name,
		ExternalToolName:  ToolName,
	}
}

// SetMap assigns the working map. A persisted map is cloned into a working
// copy so concurrent readers of the stored entity never observe local edits.
func (s *Service) SetMap(m *hub.ExternalIdentifierMap) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if m == nil {
		s.current = nil
		s.state = StateUnbound
		return
	}
	if m.IsPersisted() {
		s.current = m.CloneShallow()
		s.current.MarkPersisted()
		s.state = StateLoaded
	} else {
		s.current = m
		s.state = StateUnbound
	}
}

// Map returns the working map, or nil when none is assigned.
func (s *Service) Map() *hub.ExternalIdentifierMap {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.current
}

// State returns the working map's lifecycle state.
func (s *Service) State() MapState {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.state
}

// AddCorrespondence appends a correspondence for the internal entity. The
// insert is idempotent, keyed by the (internal id, serialized external id)
// pair: one internal id may map to several external identifiers, but never
// to the same one twice.
func (s *Service) AddCorrespondence(internalID uuid.UUID, ext ExternalIdentifier) {
	blob := ext.Serialize()

	s.mu.Lock()
	defer s.mu.Unlock()
	if s.current == nil {
		return
	}
	for _, c := range s.current.Correspondences {
		if c.InternalID == internalID && c.ExternalID == blob {
			return
		}
	}
	s.current.Correspondences = append(s.current.Correspondences, &hub.IdCorrespondence{
		Iid:        uuid.New(),
		InternalID: internalID,
		ExternalID: blob,
	})
	if s.state != StateUnbound {
		s.state = StateModified
	}
}

// AddNodeCorrespondence builds an identifier from a node id and direction
// before delegating to AddCorrespondence.
func (s *Service) AddNodeCorrespondence(internalID uuid.UUID, nodeID string, dir Direction) {
	s.AddCorrespondence(internalID, NewExternalIdentifier(nodeID, dir))
}

// AddIndexedCorrespondence is the value-index-bearing variant used for
// sampled-function array slots.
func (s *Service) AddIndexedCorrespondence(internalID uuid.UUID, nodeID string, dir Direction, index int, sw *hub.ParameterSwitchKind) {
	s.AddCorrespondence(internalID, NewIndexedExternalIdentifier(nodeID, dir, index, sw))
}

// AddRow decomposes one mapped row into correspondence entries: the value
// set slot itself, plus nested option/state correspondences when the backing
// parameter is option- or state-dependent.
func (s *Service) AddRow(row *Row) {
	if row == nil || row.Variable == nil || row.ValueSet == nil {
		return
	}
	nodeID := row.Variable.NodeID()
	sw := row.SwitchKind

	s.AddIndexedCorrespondence(row.ValueSet.Iid, nodeID, FromDstToHub, row.ValueIndex, &sw)
	if row.Parameter != nil {
		s.AddNodeCorrespondence(row.Parameter.Iid, nodeID, FromDstToHub)
	}
	if row.Option != nil {
		s.AddNodeCorrespondence(row.Option.Iid, nodeID, FromDstToHub)
	}
	if row.State != nil {
		s.AddNodeCorrespondence(row.State.Iid, nodeID, FromDstToHub)
	}
}

// Refresh re-fetches the map by its persisted identity from the hub,
// discarding unsaved local edits. When the map cannot be found the current
// working copy is left unchanged.
func (s *Service) Refresh() bool {
	s.mu.Lock()
	current := s.current
	s.mu.Unlock()
	if current == nil {
		return false
	}

	it := s.data.OpenIteration()
	if it == nil {
		return false
	}
	for _, m := range it.ExternalIdentifierMaps {
		if m.Iid == current.Iid {
			s.SetMap(m)
			status.Appendf(s.sink, status.Info, "identifier map %q refreshed, %d correspondences", m.Name, len(m.Correspondences))
			return true
		}
	}
	status.Appendf(s.sink, status.Warning, "identifier map %q not found on refresh", current.Name)
	return false
}

// LoadFromHubToDst walks the FromHubToDst correspondences and rebuilds
// mapped rows against the live variable list. Entries whose target entity no
// longer resolves are skipped: the map is allowed to reference entities
// deleted since the last save. Returns nil when the map has no
// correspondences.
func (s *Service) LoadFromHubToDst(variables []*opc.Variable) []*Row {
	return s.load(variables, FromHubToDst)
}

// LoadFromDstToHub is the inverse walk over FromDstToHub correspondences.
func (s *Service) LoadFromDstToHub(variables []*opc.Variable) []*Row {
	return s.load(variables, FromDstToHub)
}

func (s *Service) load(variables []*opc.Variable, dir Direction) []*Row {
	s.mu.Lock()
	current := s.current
	s.mu.Unlock()
	if current == nil || len(current.Correspondences) == 0 {
		return nil
	}

	byNode := make(map[string]*opc.Variable, len(variables))
	for _, v := range variables {
		byNode[v.NodeID()] = v
	}

	rows := make(map[string]*Row)
	var order []string

	for _, c := range current.Correspondences {
		ext, err := ParseExternalIdentifier(c.ExternalID)
		if err != nil || ext.Direction != dir {
			continue
		}
		variable, ok := byNode[ext.Identifier]
		if !ok {
			continue
		}
		thing, ok := s.data.GetThingByID(c.InternalID)
		if !ok {
			// Dangling correspondence.
			continue
		}

		row, exists := rows[ext.Identifier]
		if !exists {
			row = &Row{Variable: variable}
			rows[ext.Identifier] = row
			order = append(order, ext.Identifier)
		}

		switch t := thing.(type) {
		case *hub.ParameterValueSet:
			row.ValueSet = t
			if ext.ValueIndex != nil {
				row.ValueIndex = *ext.ValueIndex
			}
			if ext.SwitchKind != nil {
				row.SwitchKind = *ext.SwitchKind
			} else {
				row.SwitchKind = t.Switch
			}
			if row.ValueIndex >= 0 && row.ValueIndex < len(t.Computed) {
				row.Value = t.ActualValue(row.ValueIndex)
			}
		case *hub.Parameter:
			row.Parameter = t
		case *hub.ParameterOverride:
			row.Override = t
		case *hub.ElementDefinition:
			row.Element = t
		case *hub.Option:
			row.Option = t
		case *hub.ActualFiniteState:
			row.State = t
		}
	}

	result := make([]*Row, 0, len(order))
	for _, key := range order {
		row := rows[key]
		if row.ValueSet == nil && row.Parameter == nil {
			// Correspondences resolved to nothing usable for this node.
			continue
		}
		result = append(result, row)
	}
	if len(result) == 0 {
		return nil
	}
	return result
}

// SelectValues restores, for each variable with recorded correspondences,
// the selected history subset matching the recorded value indices.
func (s *Service) SelectValues(variables []*opc.Variable) {
	s.mu.Lock()
	current := s.current
	s.mu.Unlock()
	if current == nil {
		return
	}

	indices := make(map[string][]int)
	for _, c := range current.Correspondences {
		ext, err := ParseExternalIdentifier(c.ExternalID)
		if err != nil || ext.ValueIndex == nil {
			continue
		}
		indices[ext.Identifier] = append(indices[ext.Identifier], *ext.ValueIndex)
	}

	for _, v := range variables {
		if sel, ok := indices[v.NodeID()]; ok {
			v.SetSelectedIndices(sel)
		}
	}
}

// Persist writes the working map and all correspondences into the
// transaction: new entities are created, existing ones updated, and the map
// itself is registered as a child of the iteration when not already
// persisted. All correspondences of one map go into the same transaction.
func (s *Service) Persist(tx hub.Transaction, it *hub.Iteration) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.current == nil || tx == nil {
		return
	}

	// Stage a snapshot so later local edits never leak into the hub copy.
	snapshot := s.current.CloneShallow()
	snapshot.MarkPersisted()
	if !s.current.IsPersisted() {
		tx.Create(snapshot, it)
	} else {
		tx.CreateOrUpdate(snapshot)
	}
	for _, c := range snapshot.Correspondences {
		tx.Create(c, snapshot)
	}

	s.current.MarkPersisted()
	s.state = StatePersisted
	status.Appendf(s.sink, status.Info, "identifier map %q staged with %d correspondences", s.current.Name, len(s.current.Correspondences))
}
