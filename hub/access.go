package hub

import "github.com/google/uuid"

// DataAccess is the read-side collaborator to the hub repository. The engine
// treats it as a given; implementations are out of scope for the sync core.
type DataAccess interface {
	// GetThingByID resolves an entity by iid within the open iteration.
	GetThingByID(id uuid.UUID) (Thing, bool)

	// CurrentDomain is the domain of expertise owning created parameters.
	CurrentDomain() *DomainOfExpertise

	// OpenIteration is the iteration the adapter is working against.
	OpenIteration() *Iteration

	// SessionURI identifies the hub session, for status reporting.
	SessionURI() string
}

// Transaction is the append-only staging unit for persistence. Commit is
// external to the engine; registrations are idempotent per iid.
type Transaction interface {
	// Create stages a new entity under the given container.
	Create(thing Thing, container Thing)

	// CreateOrUpdate stages an entity that may or may not exist yet.
	CreateOrUpdate(thing Thing)
}
