// Package mapping maintains the external identifier map: the persistent,
// mergeable correspondence ledger between hub entity iids and OPC node
// identifiers, and the service that rebuilds mapped rows from it.
package mapping

import (
	"encoding/json"
	"fmt"

	"hublink/hub"
)

// Direction is the mapping direction a correspondence was recorded for.
type Direction int

const (
	// FromHubToDst maps hub parameter values onto OPC variables.
	FromHubToDst Direction = iota
	// FromDstToHub maps OPC variable values onto hub parameters.
	FromDstToHub
)

func (d Direction) String() string {
	switch d {
	case FromHubToDst:
		return "FromHubToDst"
	case FromDstToHub:
		return "FromDstToHub"
	default:
		return "Unknown"
	}
}

// ExternalIdentifier is the external half of a correspondence. It is stored
// as an opaque JSON blob on the IdCorrespondence record, so its shape can
// evolve without schema changes on the hub side.
type ExternalIdentifier struct {
	Direction  Direction                `json:"direction"`
	Identifier string                   `json:"identifier"`
	ValueIndex *int                     `json:"valueIndex,omitempty"`
	SwitchKind *hub.ParameterSwitchKind `json:"switchKind,omitempty"`
}

// NewExternalIdentifier builds an identifier without a value index.
func NewExternalIdentifier(nodeID string, dir Direction) ExternalIdentifier {
	return ExternalIdentifier{Direction: dir, Identifier: nodeID}
}

// NewIndexedExternalIdentifier builds an identifier for one value-array slot.
func NewIndexedExternalIdentifier(nodeID string, dir Direction, index int, sw *hub.ParameterSwitchKind) ExternalIdentifier {
	i := index
	return ExternalIdentifier{Direction: dir, Identifier: nodeID, ValueIndex: &i, SwitchKind: sw}
}

// Serialize renders the identifier as the opaque blob persisted on a
// correspondence. The encoding is deterministic for a given identifier, so
// the blob doubles as the dedupe key.
func (e ExternalIdentifier) Serialize() string {
	b, _ := json.Marshal(e)
	return string(b)
}

// ParseExternalIdentifier decodes a persisted blob.
func ParseExternalIdentifier(s string) (ExternalIdentifier, error) {
	var e ExternalIdentifier
	if err := json.Unmarshal([]byte(s), &e); err != nil {
		return ExternalIdentifier{}, fmt.Errorf("parse external identifier: %w", err)
	}
	return e, nil
}
