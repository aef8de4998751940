package opc

import (
	"context"
	"fmt"
	"sync"
	"time"

	"hublink/status"
)

// SessionStatus represents the state of the OPC-UA session.
type SessionStatus int

const (
	Disconnected SessionStatus = iota
	Connecting
	Connected
	Faulted
)

func (s SessionStatus) String() string {
	switch s {
	case Disconnected:
		return "Disconnected"
	case Connecting:
		return "Connecting"
	case Connected:
		return "Connected"
	case Faulted:
		return "Faulted"
	default:
		return "Unknown"
	}
}

// NotificationHandler receives samples for one monitored node.
type NotificationHandler func(nodeID string, n Notification)

// serverStateNode is read periodically as the session keep-alive probe.
const serverStateNode = "i=2259"

// defaultRefreshInterval is the monitored-item publishing interval.
const defaultRefreshInterval = time.Second

// Session owns one OPC-UA client session: lifecycle, the browsed reference
// set, and the subscription with its monitored items. One session per
// adapter instance; reconnection is delegated to an injected Reconnector.
type Session struct {
	conn        Conn
	sink        status.Sink
	reconnector Reconnector
	refresh     time.Duration
	keepalive   time.Duration

	mu           sync.RWMutex
	state        SessionStatus
	refs         []Reference
	sub          Subscription
	handlers     map[uint32]NotificationHandler
	handleByNode map[string]uint32
	nextHandle   uint32
	onStatus     func(SessionStatus)

	notify chan Notification
	faults chan struct{}
	cancel context.CancelFunc
	wg     sync.WaitGroup
}

// SessionOption configures a Session.
type SessionOption func(*Session)

// WithRefreshInterval sets the subscription publishing interval.
func WithRefreshInterval(d time.Duration) SessionOption {
	return func(s *Session) {
		if d > 0 {
			s.refresh = d
		}
	}
}

// WithKeepaliveInterval sets the keep-alive probe interval.
func WithKeepaliveInterval(d time.Duration) SessionOption {
	return func(s *Session) {
		if d > 0 {
			s.keepalive = d
		}
	}
}

// WithReconnector injects the reconnect handler engaged on keep-alive loss.
func WithReconnector(r Reconnector) SessionOption {
	return func(s *Session) { s.reconnector = r }
}

// NewSession creates a session over the given connection. The sink receives
// connection milestones and per-subscription failures.
func NewSession(conn Conn, sink status.Sink, opts ...SessionOption) *Session {
	if sink == nil {
		sink = status.Discard
	}
	s := &Session{
		conn:         conn,
		sink:         sink,
		refresh:      defaultRefreshInterval,
		keepalive:    5 * time.Second,
		state:        Disconnected,
		handlers:     make(map[uint32]NotificationHandler),
		handleByNode: make(map[string]uint32),
		notify:       make(chan Notification, 256),
		faults:       make(chan struct{}, 1),
	}
	for _, opt := range opts {
		opt(s)
	}
	return s
}

// Status returns the current session status.
func (s *Session) Status() SessionStatus {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.state
}

// SetOnStatus sets a callback fired synchronously on every status change,
// before any dependent work (such as variable population) proceeds.
func (s *Session) SetOnStatus(fn func(SessionStatus)) {
	s.mu.Lock()
	s.onStatus = fn
	s.mu.Unlock()
}

func (s *Session) setState(state SessionStatus) {
	s.mu.Lock()
	changed := s.state != state
	s.state = state
	fn := s.onStatus
	s.mu.Unlock()
	if changed && fn != nil {
		fn(state)
	}
}

// References returns the node references discovered on connect.
func (s *Session) References() []Reference {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return append([]Reference(nil), s.refs...)
}

// MonitoredCount returns the number of live monitored items.
func (s *Session) MonitoredCount() int {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return len(s.handleByNode)
}

// Connect establishes the session and browses the object hierarchy. It does
// not retry: transport and negotiation errors propagate to the caller, and
// retry policy belongs to the caller, not this layer. The reconnect handler
// only engages after a successful connect.
func (s *Session) Connect(ctx context.Context) error {
	s.mu.Lock()
	if s.state == Connected || s.state == Connecting {
		s.mu.Unlock()
		return nil
	}
	s.mu.Unlock()

	s.setState(Connecting)

	if err := s.conn.Connect(ctx); err != nil {
		s.setState(Disconnected)
		return fmt.Errorf("connect: %w", err)
	}

	refs, err := s.conn.Browse(ctx)
	if err != nil {
		_ = s.conn.Close(ctx)
		s.setState(Disconnected)
		return fmt.Errorf("browse: %w", err)
	}

	sub, err := s.conn.Subscribe(ctx, s.refresh, s.notify)
	if err != nil {
		_ = s.conn.Close(ctx)
		s.setState(Disconnected)
		return fmt.Errorf("create subscription: %w", err)
	}

	pumpCtx, cancel := context.WithCancel(context.Background())

	s.mu.Lock()
	s.refs = refs
	s.sub = sub
	s.cancel = cancel
	s.mu.Unlock()

	s.setState(Connected)
	status.Appendf(s.sink, status.Info, "session connected, %d references browsed", len(refs))

	s.wg.Add(1)
	go s.pump(pumpCtx)

	if s.reconnector != nil {
		s.wg.Add(1)
		go func() {
			defer s.wg.Done()
			s.reconnector.Watch(pumpCtx, s)
		}()
	}
	return nil
}

// Close tears down subscriptions then the session. It is idempotent: closing
// an already-closed or never-connected session is a no-op.
func (s *Session) Close() {
	s.mu.Lock()
	cancel := s.cancel
	sub := s.sub
	s.cancel = nil
	s.sub = nil
	wasDown := s.state == Disconnected
	s.mu.Unlock()

	if cancel != nil {
		cancel()
		s.wg.Wait()
	}

	ctx, done := context.WithTimeout(context.Background(), 5*time.Second)
	defer done()
	if sub != nil {
		_ = sub.Cancel(ctx)
	}
	if !wasDown {
		_ = s.conn.Close(ctx)
		status.Appendf(s.sink, status.Info, "session closed")
	}

	s.mu.Lock()
	s.handlers = make(map[uint32]NotificationHandler)
	s.handleByNode = make(map[string]uint32)
	s.mu.Unlock()

	s.setState(Disconnected)
}

// AddSubscription creates (or reuses) a monitored item for the node. A
// failing creation is logged to the status sink and does not abort the
// caller; repeating the same node id never creates a duplicate item.
func (s *Session) AddSubscription(ctx context.Context, nodeID string, fn NotificationHandler) {
	s.mu.Lock()
	if s.state != Connected || s.sub == nil {
		s.mu.Unlock()
		status.Appendf(s.sink, status.Error, "cannot subscribe to %s: session not connected", nodeID)
		return
	}
	if handle, exists := s.handleByNode[nodeID]; exists {
		// Idempotent: keep the monitored item, replace the handler.
		s.handlers[handle] = fn
		s.mu.Unlock()
		return
	}
	s.nextHandle++
	handle := s.nextHandle
	sub := s.sub
	s.mu.Unlock()

	if err := sub.Monitor(ctx, nodeID, handle); err != nil {
		status.Appendf(s.sink, status.Error, "subscription failed for %s: %v", nodeID, err)
		return
	}

	s.mu.Lock()
	s.handleByNode[nodeID] = handle
	s.handlers[handle] = fn
	s.mu.Unlock()
}

// ReadNode reads the value attribute of a node.
func (s *Session) ReadNode(ctx context.Context, nodeID string) (interface{}, error) {
	return s.conn.Read(ctx, nodeID)
}

// WriteNode writes the value attribute of a node, returning success rather
// than an error: a rejected value is reported through the status sink.
func (s *Session) WriteNode(ctx context.Context, nodeID string, value interface{}) bool {
	if err := s.conn.Write(ctx, nodeID, value); err != nil {
		status.Appendf(s.sink, status.Error, "write to %s failed: %v", nodeID, err)
		return false
	}
	return true
}

// CallMethod invokes a method on an object node and returns the output
// argument values. An unknown method id yields an error result.
func (s *Session) CallMethod(ctx context.Context, objectID, methodID string, args ...interface{}) ([]interface{}, error) {
	return s.conn.Call(ctx, objectID, methodID, args...)
}

// pump dispatches subscription notifications and runs the keep-alive probe.
func (s *Session) pump(ctx context.Context) {
	defer s.wg.Done()

	ticker := time.NewTicker(s.keepalive)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case n := <-s.notify:
			s.mu.RLock()
			fn := s.handlers[n.Handle]
			var nodeID string
			for id, h := range s.handleByNode {
				if h == n.Handle {
					nodeID = id
					break
				}
			}
			s.mu.RUnlock()
			if fn != nil {
				fn(nodeID, n)
			}
		case <-ticker.C:
			if s.Status() != Connected {
				continue
			}
			probeCtx, done := context.WithTimeout(ctx, s.keepalive)
			_, err := s.conn.Read(probeCtx, serverStateNode)
			done()
			if err != nil && ctx.Err() == nil {
				s.markFaulted(err)
			}
		}
	}
}

// markFaulted transitions Connected to Faulted and arms the reconnector
// exactly once: the fault channel has capacity one, so overlapping signals
// collapse.
func (s *Session) markFaulted(cause error) {
	s.mu.Lock()
	if s.state != Connected {
		s.mu.Unlock()
		return
	}
	s.state = Faulted
	fn := s.onStatus
	s.mu.Unlock()

	status.Appendf(s.sink, status.Warning, "keep-alive failed, session faulted: %v", cause)
	if fn != nil {
		fn(Faulted)
	}

	select {
	case s.faults <- struct{}{}:
	default:
	}
}

// Faults exposes the fault signal channel to the reconnect handler.
func (s *Session) Faults() <-chan struct{} { return s.faults }

// reattach re-establishes the transport and re-arms every monitored item.
// Called by the reconnect handler; one attempt at a time.
func (s *Session) reattach(ctx context.Context) error {
	if err := s.conn.Connect(ctx); err != nil {
		return err
	}

	sub, err := s.conn.Subscribe(ctx, s.refresh, s.notify)
	if err != nil {
		return err
	}

	s.mu.Lock()
	monitored := make(map[string]uint32, len(s.handleByNode))
	for nodeID, handle := range s.handleByNode {
		monitored[nodeID] = handle
	}
	s.sub = sub
	s.mu.Unlock()

	for nodeID, handle := range monitored {
		if err := sub.Monitor(ctx, nodeID, handle); err != nil {
			status.Appendf(s.sink, status.Error, "re-subscribe failed for %s: %v", nodeID, err)
		}
	}

	s.setState(Connected)
	status.Appendf(s.sink, status.Info, "session reconnected, %d subscriptions re-armed", len(monitored))
	return nil
}
