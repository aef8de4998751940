package mapping

import (
	"hublink/hub"
	"hublink/opc"
)

// Row is the transient correlation of one OPC variable with one hub
// parameter value-set selection. Rows are never persisted directly: the
// service decomposes them into correspondence entries and rebuilds them from
// the ledger on load.
type Row struct {
	Variable  *opc.Variable
	Element   *hub.ElementDefinition
	Parameter *hub.Parameter
	Override  *hub.ParameterOverride
	ValueSet  *hub.ParameterValueSet
	Option    *hub.Option
	State     *hub.ActualFiniteState

	// ValueIndex is the slot within the value arrays this row targets.
	ValueIndex int

	// SwitchKind mirrors the value set's switch at mapping time.
	SwitchKind hub.ParameterSwitchKind

	// IsAveraged substitutes the variable's averaged value for the sampled
	// dependent value during transform.
	IsAveraged bool

	// Value is the resolved authoritative value, populated on load.
	Value string

	// Difference is the signed old-to-new delta of the targeted value slot,
	// recorded during transfer, or "/" when no numeric delta exists.
	Difference string
}

// NodeID returns the identifier of the mapped variable, or empty.
func (r *Row) NodeID() string {
	if r.Variable == nil {
		return ""
	}
	return r.Variable.NodeID()
}
