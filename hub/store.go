package hub

import (
	"sync"

	"github.com/google/uuid"
)

// Store is an in-memory hub backend. It implements DataAccess and hands out
// transactions whose commit applies staged entities back to the store. The
// host application uses it as the model cache for one open iteration; tests
// use it as the hub double.
type Store struct {
	mu        sync.RWMutex
	uri       string
	domain    *DomainOfExpertise
	iteration *Iteration
	things    map[uuid.UUID]Thing
}

// NewStore creates a store for one open iteration.
func NewStore(uri string, domain *DomainOfExpertise, it *Iteration) *Store {
	s := &Store{
		uri:       uri,
		domain:    domain,
		iteration: it,
		things:    make(map[uuid.UUID]Thing),
	}
	if it != nil {
		s.indexIteration(it)
	}
	return s
}

func (s *Store) indexIteration(it *Iteration) {
	s.put(it)
	for _, o := range it.Options {
		s.put(o)
	}
	for _, e := range it.Elements {
		s.indexElement(e)
	}
	for _, m := range it.ExternalIdentifierMaps {
		s.put(m)
		for _, c := range m.Correspondences {
			s.put(c)
		}
	}
}

func (s *Store) indexElement(e *ElementDefinition) {
	s.put(e)
	for _, p := range e.Parameters {
		s.put(p)
		if p.ParameterType != nil {
			s.put(p.ParameterType)
		}
		if p.StateDependence != nil {
			s.put(p.StateDependence)
			for _, st := range p.StateDependence.States {
				s.put(st)
			}
		}
		for _, vs := range p.ValueSets {
			s.put(vs)
		}
	}
}

func (s *Store) put(t Thing) {
	if t == nil {
		return
	}
	s.things[t.ID()] = t
}

// Register adds entities to the store index. Registering the same iid twice
// replaces the previous entry.
func (s *Store) Register(things ...Thing) {
	s.mu.Lock()
	defer s.mu.Unlock()
	for _, t := range things {
		s.put(t)
	}
}

// RegisterElement indexes an element definition and everything it contains.
func (s *Store) RegisterElement(e *ElementDefinition) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.indexElement(e)
}

// GetThingByID implements DataAccess.
func (s *Store) GetThingByID(id uuid.UUID) (Thing, bool) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	t, ok := s.things[id]
	return t, ok
}

// CurrentDomain implements DataAccess.
func (s *Store) CurrentDomain() *DomainOfExpertise {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.domain
}

// OpenIteration implements DataAccess.
func (s *Store) OpenIteration() *Iteration {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.iteration
}

// SessionURI implements DataAccess.
func (s *Store) SessionURI() string {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.uri
}

// FindMapByName returns the iteration's identifier map with the given name.
func (s *Store) FindMapByName(name string) *ExternalIdentifierMap {
	s.mu.RLock()
	defer s.mu.RUnlock()
	if s.iteration == nil {
		return nil
	}
	for _, m := range s.iteration.ExternalIdentifierMaps {
		if m.Name == name {
			return m
		}
	}
	return nil
}

// NewTransaction starts a staging transaction against this store.
func (s *Store) NewTransaction() *StoreTransaction {
	return &StoreTransaction{
		store:      s,
		staged:     make(map[uuid.UUID]Thing),
		containers: make(map[uuid.UUID]Thing),
	}
}

// StoreTransaction stages creates and updates, applied on Commit. Staging the
// same iid twice keeps the latest entity, so a second persist of unchanged
// state does not produce duplicates.
type StoreTransaction struct {
	mu         sync.Mutex
	store      *Store
	staged     map[uuid.UUID]Thing
	order      []uuid.UUID
	containers map[uuid.UUID]Thing
	committed  bool
}

// Create implements Transaction.
func (t *StoreTransaction) Create(thing Thing, container Thing) {
	if thing == nil {
		return
	}
	t.mu.Lock()
	defer t.mu.Unlock()
	if _, seen := t.staged[thing.ID()]; !seen {
		t.order = append(t.order, thing.ID())
	}
	t.staged[thing.ID()] = thing
	if container != nil {
		t.containers[thing.ID()] = container
	}
}

// CreateOrUpdate implements Transaction.
func (t *StoreTransaction) CreateOrUpdate(thing Thing) {
	if thing == nil {
		return
	}
	t.mu.Lock()
	defer t.mu.Unlock()
	if _, seen := t.staged[thing.ID()]; !seen {
		t.order = append(t.order, thing.ID())
	}
	t.staged[thing.ID()] = thing
}

// Len returns the number of distinct staged entities.
func (t *StoreTransaction) Len() int {
	t.mu.Lock()
	defer t.mu.Unlock()
	return len(t.staged)
}

// Staged returns the staged entity with the given iid, if present.
func (t *StoreTransaction) Staged(id uuid.UUID) (Thing, bool) {
	t.mu.Lock()
	defer t.mu.Unlock()
	th, ok := t.staged[id]
	return th, ok
}

// Commit applies staged entities to the store in staging order. Identifier
// maps staged under the iteration are attached to it if not already present.
// Commit is one-shot; a second call is a no-op.
func (t *StoreTransaction) Commit() {
	t.mu.Lock()
	defer t.mu.Unlock()
	if t.committed {
		return
	}
	t.committed = true

	t.store.mu.Lock()
	defer t.store.mu.Unlock()

	for _, id := range t.order {
		thing := t.staged[id]

		switch v := thing.(type) {
		case *ElementDefinition:
			t.store.indexElement(v)
			it, _ := t.containers[id].(*Iteration)
			if it == nil {
				it = t.store.iteration
			}
			if it != nil {
				attachElement(it, v)
			}
		case *ExternalIdentifierMap:
			t.store.put(v)
			it, _ := t.containers[id].(*Iteration)
			if it == nil {
				it = t.store.iteration
			}
			if it != nil {
				attachMap(it, v)
			}
		default:
			t.store.put(thing)
		}
	}
}

// attachElement replaces the iteration's element with the same iid, or
// appends it when new.
func attachElement(it *Iteration, e *ElementDefinition) {
	for i, existing := range it.Elements {
		if existing.Iid == e.Iid {
			it.Elements[i] = e
			return
		}
	}
	it.Elements = append(it.Elements, e)
}

// attachMap replaces the iteration's map with the same iid, or appends it
// when new.
func attachMap(it *Iteration, m *ExternalIdentifierMap) {
	for i, existing := range it.ExternalIdentifierMaps {
		if existing.Iid == m.Iid {
			it.ExternalIdentifierMaps[i] = m
			return
		}
	}
	it.ExternalIdentifierMaps = append(it.ExternalIdentifierMaps, m)
}
