// Package opctest provides an in-memory fake OPC-UA connection for tests.
package opctest

import (
	"context"
	"fmt"
	"sync"
	"time"

	"hublink/opc"
)

// Conn is a scriptable in-memory implementation of opc.Conn. Node values are
// held in a map; Push delivers a notification to every monitored item on the
// node, the way a server publish cycle would.
type Conn struct {
	mu        sync.Mutex
	connected bool
	refs      []opc.Reference
	values    map[string]interface{}
	failRead  map[string]error
	failWrite map[string]error
	methods   map[string]func(args ...interface{}) []interface{}
	subs      []*Subscription

	// Failure injection
	ConnectErr   error
	BrowseErr    error
	SubscribeErr error

	// Counters
	Connects int
	Closes   int
}

// NewConn creates a fake connection serving the given references.
func NewConn(refs ...opc.Reference) *Conn {
	return &Conn{
		refs:      refs,
		values:    make(map[string]interface{}),
		failRead:  make(map[string]error),
		failWrite: make(map[string]error),
		methods:   make(map[string]func(args ...interface{}) []interface{}),
	}
}

// SetValue seeds or updates the value of a node without notifying.
func (c *Conn) SetValue(nodeID string, value interface{}) {
	c.mu.Lock()
	c.values[nodeID] = value
	c.mu.Unlock()
}

// FailRead makes reads of the node return err.
func (c *Conn) FailRead(nodeID string, err error) {
	c.mu.Lock()
	c.failRead[nodeID] = err
	c.mu.Unlock()
}

// FailWrite makes writes to the node return err.
func (c *Conn) FailWrite(nodeID string, err error) {
	c.mu.Lock()
	c.failWrite[nodeID] = err
	c.mu.Unlock()
}

// SetMethod registers a method handler under "objectID/methodID".
func (c *Conn) SetMethod(objectID, methodID string, fn func(args ...interface{}) []interface{}) {
	c.mu.Lock()
	c.methods[objectID+"/"+methodID] = fn
	c.mu.Unlock()
}

// Push updates a node value and delivers a notification to every
// subscription monitoring it.
func (c *Conn) Push(nodeID string, value interface{}) {
	c.mu.Lock()
	c.values[nodeID] = value
	subs := append([]*Subscription(nil), c.subs...)
	c.mu.Unlock()

	for _, s := range subs {
		s.deliver(nodeID, value)
	}
}

// LastSubscription returns the most recently created subscription, or nil.
func (c *Conn) LastSubscription() *Subscription {
	c.mu.Lock()
	defer c.mu.Unlock()
	if len(c.subs) == 0 {
		return nil
	}
	return c.subs[len(c.subs)-1]
}

// IsConnected reports the fake transport state.
func (c *Conn) IsConnected() bool {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.connected
}

func (c *Conn) Connect(ctx context.Context) error {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.Connects++
	if c.ConnectErr != nil {
		return c.ConnectErr
	}
	c.connected = true
	return nil
}

func (c *Conn) Close(ctx context.Context) error {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.Closes++
	c.connected = false
	c.subs = nil
	return nil
}

func (c *Conn) Browse(ctx context.Context) ([]opc.Reference, error) {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.BrowseErr != nil {
		return nil, c.BrowseErr
	}
	return append([]opc.Reference(nil), c.refs...), nil
}

func (c *Conn) Subscribe(ctx context.Context, interval time.Duration, notify chan<- opc.Notification) (opc.Subscription, error) {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.SubscribeErr != nil {
		return nil, c.SubscribeErr
	}
	s := &Subscription{conn: c, notify: notify, handles: make(map[string]uint32)}
	c.subs = append(c.subs, s)
	return s, nil
}

func (c *Conn) Read(ctx context.Context, nodeID string) (interface{}, error) {
	c.mu.Lock()
	defer c.mu.Unlock()
	if err := c.failRead[nodeID]; err != nil {
		return nil, err
	}
	v, ok := c.values[nodeID]
	if !ok {
		return nil, fmt.Errorf("node not found: %s", nodeID)
	}
	return v, nil
}

func (c *Conn) Write(ctx context.Context, nodeID string, value interface{}) error {
	c.mu.Lock()
	defer c.mu.Unlock()
	if err := c.failWrite[nodeID]; err != nil {
		return err
	}
	c.values[nodeID] = value
	return nil
}

func (c *Conn) Call(ctx context.Context, objectID, methodID string, args ...interface{}) ([]interface{}, error) {
	c.mu.Lock()
	fn := c.methods[objectID+"/"+methodID]
	c.mu.Unlock()
	if fn == nil {
		return nil, fmt.Errorf("method not found: %s", methodID)
	}
	return fn(args...), nil
}

// Subscription is the fake subscription; Monitor registers interest and
// returns the node's error injection if one is set.
type Subscription struct {
	conn        *Conn
	notify      chan<- opc.Notification
	mu          sync.Mutex
	handles     map[string]uint32
	MonitorErrs map[string]error
	cancelled   bool
}

func (s *Subscription) Monitor(ctx context.Context, nodeID string, handle uint32) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if err := s.MonitorErrs[nodeID]; err != nil {
		return err
	}
	s.handles[nodeID] = handle
	return nil
}

func (s *Subscription) Cancel(ctx context.Context) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.cancelled = true
	s.handles = make(map[string]uint32)
	return nil
}

// MonitoredCount returns the number of live monitored items.
func (s *Subscription) MonitoredCount() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return len(s.handles)
}

func (s *Subscription) deliver(nodeID string, value interface{}) {
	s.mu.Lock()
	handle, ok := s.handles[nodeID]
	cancelled := s.cancelled
	s.mu.Unlock()
	if !ok || cancelled {
		return
	}
	s.notify <- opc.Notification{Handle: handle, Value: value, SourceTime: time.Now()}
}
