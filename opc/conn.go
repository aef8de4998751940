// Package opc provides the OPC-UA session layer: connection lifecycle,
// namespace browsing, subscriptions, and read/write/call primitives, plus the
// in-memory variable model fed by subscription notifications.
package opc

import (
	"context"
	"time"
)

// NodeClass classifies a browsed node.
type NodeClass int

const (
	ClassUnspecified NodeClass = iota
	ClassObject
	ClassVariable
	ClassMethod
)

func (c NodeClass) String() string {
	switch c {
	case ClassObject:
		return "Object"
	case ClassVariable:
		return "Variable"
	case ClassMethod:
		return "Method"
	default:
		return "Unspecified"
	}
}

// Reference describes one node discovered while browsing the server's
// object hierarchy.
type Reference struct {
	NodeID      string // canonical node id, e.g. "ns=2;s=Kp"
	BrowseName  string
	DisplayName string
	Class       NodeClass
}

// Notification is one sample delivered by a subscription.
type Notification struct {
	Handle     uint32
	Value      interface{}
	SourceTime time.Time
}

// Subscription is one server-side subscription with monitored items.
type Subscription interface {
	// Monitor adds a monitored item for the node, publishing with the
	// subscription's interval under the given client handle.
	Monitor(ctx context.Context, nodeID string, handle uint32) error

	// Cancel tears down the subscription and all monitored items.
	Cancel(ctx context.Context) error
}

// Conn is the unified interface to one OPC-UA server connection. The
// production implementation is backed by gopcua; tests use a fake.
type Conn interface {
	// Connection management
	Connect(ctx context.Context) error
	Close(ctx context.Context) error

	// Browse walks the hierarchy below the objects folder and returns every
	// reachable reference.
	Browse(ctx context.Context) ([]Reference, error)

	// Subscribe creates a subscription delivering into notify.
	Subscribe(ctx context.Context, interval time.Duration, notify chan<- Notification) (Subscription, error)

	// Attribute access
	Read(ctx context.Context, nodeID string) (interface{}, error)
	Write(ctx context.Context, nodeID string, value interface{}) error

	// Call invokes a method on an object node and returns the output
	// argument values.
	Call(ctx context.Context, objectID, methodID string, args ...interface{}) ([]interface{}, error)
}
