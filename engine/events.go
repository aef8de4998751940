package engine

import "time"

// EventType identifies the kind of event emitted by the Engine.
type EventType int

const (
	// Session events
	EventSessionConnecting EventType = iota + 1
	EventSessionConnected
	EventSessionDisconnected
	EventSessionFaulted

	// Variable events
	EventVariablesPopulated
	EventVariableUpdated

	// Identifier map events
	EventMapCreated
	EventMapLoaded
	EventMapPersisted

	// Transfer events
	EventTransferStarted
	EventTransferCompleted
	EventTransferFailed

	// Telemetry service events
	EventMQTTStarted
	EventMQTTStopped
	EventValkeyStarted
	EventValkeyStopped
)

// Event is the envelope emitted by the Engine's EventBus.
type Event struct {
	Type      EventType
	Timestamp time.Time
	Payload   interface{}
}

// SessionEvent is the payload for session lifecycle events.
type SessionEvent struct {
	Endpoint string
	Status   string
}

// VariableEvent is the payload for variable events.
type VariableEvent struct {
	Node  string
	Name  string
	Value interface{}
	Count int // populated count, for EventVariablesPopulated
}

// MapEvent is the payload for identifier map events.
type MapEvent struct {
	Name            string
	Correspondences int
}

// RowDifference is one row's old-to-new value delta observed during a
// transfer, keyed by the destination node.
type RowDifference struct {
	Node  string
	Delta string
}

// TransferEvent is the payload for transfer lifecycle events.
type TransferEvent struct {
	Rows            int
	Elements        int
	Correspondences int
	Differences     []RowDifference
	Error           string
}

// ServiceEvent is the payload for MQTT/Valkey lifecycle events.
type ServiceEvent struct {
	Name string
}
