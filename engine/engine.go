// Package engine centralizes the adapter's business logic: session
// orchestration, variable population, mapping, transfers, and telemetry
// wiring. Hosts (CLI, REST API) are thin consumers.
package engine

import (
	"context"
	"sync"
	"time"

	"hublink/config"
	"hublink/hub"
	"hublink/mapping"
	"hublink/mqtt"
	"hublink/opc"
	"hublink/status"
	"hublink/transform"
	"hublink/valkey"
)

// Config holds the parameters needed to create an Engine.
type Config struct {
	AppConfig  *config.Config
	ConfigPath string

	// Data is the hub repository collaborator. Required.
	Data hub.DataAccess

	// Conn overrides the OPC connection, used by tests. When nil the
	// connection is built from AppConfig.
	Conn opc.Conn

	// Sink receives a copy of every status entry, in addition to the
	// engine's own status log. Optional.
	Sink status.Sink
}

// Engine wires the session layer, the variable collection, the mapping
// service and the transformer together.
type Engine struct {
	cfg        *config.Config
	configPath string

	log  *status.Log
	sink status.Sink

	data        hub.DataAccess
	session     *opc.Session
	mapSvc      *mapping.Service
	transformer *transform.Transformer
	mqttMgr     *mqtt.Manager
	valkeyMgr   *valkey.Manager

	Events *EventBus

	mu        sync.RWMutex
	variables []*opc.Variable
	byNode    map[string]*opc.Variable

	transferMu sync.Mutex
	inFlight   bool

	stopChan chan struct{}
}

// New creates an Engine. Call Start() to build the session and services.
func New(c Config) *Engine {
	log := status.NewLog(1000)
	var sink status.Sink = log
	if c.Sink != nil {
		extra := c.Sink
		sink = status.Func(func(message string, severity status.Severity) {
			log.Append(message, severity)
			extra.Append(message, severity)
		})
	}
	return &Engine{
		cfg:        c.AppConfig,
		configPath: c.ConfigPath,
		log:        log,
		sink:       sink,
		data:       c.Data,
		Events:     NewEventBus(),
		byNode:     make(map[string]*opc.Variable),
		stopChan:   make(chan struct{}),
	}
}

// Start builds the session and services and starts enabled telemetry
// publishers. It does not connect; call Connect for that.
func (e *Engine) Start(conn opc.Conn) {
	cfg := e.cfg

	if conn == nil {
		conn = opc.NewClient(opc.ClientConfig{
			Endpoint:       cfg.OPC.Endpoint,
			SecurityPolicy: cfg.OPC.SecurityPolicy,
			SecurityMode:   cfg.OPC.SecurityMode,
			Username:       cfg.OPC.Username,
			Password:       cfg.OPC.Password,
		})
	}

	reconnector := opc.NewBackoffReconnector(cfg.OPC.ReconnectDelay, cfg.OPC.ReconnectTimeout, e.sink)
	e.session = opc.NewSession(conn, e.sink,
		opc.WithRefreshInterval(cfg.OPC.RefreshInterval),
		opc.WithKeepaliveInterval(cfg.OPC.KeepaliveInterval),
		opc.WithReconnector(reconnector),
	)
	e.session.SetOnStatus(e.onSessionStatus)

	e.mapSvc = mapping.NewService(e.data, e.sink)
	e.transformer = transform.NewTransformer(e.data, e.sink)
	e.bindMap(cfg.Mapping.MapName)

	e.mqttMgr = mqtt.NewManager()
	e.mqttMgr.LoadFromConfig(cfg.MQTT)
	e.valkeyMgr = valkey.NewManager()
	e.valkeyMgr.LoadFromConfig(cfg.Valkey)

	go func() {
		if started := e.mqttMgr.StartAll(); started > 0 {
			e.Events.Emit(Event{Type: EventMQTTStarted, Payload: ServiceEvent{Name: "mqtt"}})
		}
	}()
	go func() {
		if started := e.valkeyMgr.StartAll(); started > 0 {
			e.Events.Emit(Event{Type: EventValkeyStarted, Payload: ServiceEvent{Name: "valkey"}})
		}
	}()
}

// Stop shuts down the session and telemetry publishers.
func (e *Engine) Stop() {
	select {
	case <-e.stopChan:
	default:
		close(e.stopChan)
	}

	if e.session != nil {
		e.session.Close()
	}
	if e.mqttMgr != nil {
		e.mqttMgr.StopAll()
		e.Events.Emit(Event{Type: EventMQTTStopped, Payload: ServiceEvent{Name: "mqtt"}})
	}
	if e.valkeyMgr != nil {
		e.valkeyMgr.StopAll()
		e.Events.Emit(Event{Type: EventValkeyStopped, Payload: ServiceEvent{Name: "valkey"}})
	}
}

// bindMap attaches the named identifier map from the open iteration, or
// creates a fresh local one when no persisted map exists yet.
func (e *Engine) bindMap(name string) {
	if name == "" {
		name = "hublink"
	}
	if it := e.data.OpenIteration(); it != nil {
		for _, m := range it.ExternalIdentifierMaps {
			if m.Name == name {
				m.MarkPersisted()
				e.mapSvc.SetMap(m)
				e.Events.Emit(Event{Type: EventMapLoaded, Payload: MapEvent{
					Name:            m.Name,
					Correspondences: len(m.Correspondences),
				}})
				return
			}
		}
	}
	m := e.mapSvc.CreateMap(name)
	e.mapSvc.SetMap(m)
	e.Events.Emit(Event{Type: EventMapCreated, Payload: MapEvent{Name: name}})
}

// Connect establishes the OPC session. Errors propagate; there is no retry
// on the initial connect.
func (e *Engine) Connect(ctx context.Context) error {
	if e.session == nil {
		return ErrNotConnected
	}
	return e.session.Connect(ctx)
}

// Disconnect closes the session and drops the variable collection.
func (e *Engine) Disconnect() {
	if e.session == nil {
		return
	}
	e.session.Close()

	e.mu.Lock()
	e.variables = nil
	e.byNode = make(map[string]*opc.Variable)
	e.mu.Unlock()
}

// Session returns the OPC session, for read-only inspection by hosts.
func (e *Engine) Session() *opc.Session { return e.session }

// StatusLog returns the engine's status log.
func (e *Engine) StatusLog() *status.Log { return e.log }

// MapService returns the mapping configuration service.
func (e *Engine) MapService() *mapping.Service { return e.mapSvc }

// Variables returns the live variable collection.
func (e *Engine) Variables() []*opc.Variable {
	e.mu.RLock()
	defer e.mu.RUnlock()
	return append([]*opc.Variable(nil), e.variables...)
}

// Variable returns the variable for a node id, or nil.
func (e *Engine) Variable(nodeID string) *opc.Variable {
	e.mu.RLock()
	defer e.mu.RUnlock()
	return e.byNode[nodeID]
}

// onSessionStatus runs synchronously on every session status transition.
// The status event is emitted before any dependent variable population, so
// subscribers observe the transition first.
func (e *Engine) onSessionStatus(st opc.SessionStatus) {
	endpoint := e.cfg.OPC.Endpoint
	var evType EventType
	switch st {
	case opc.Connecting:
		evType = EventSessionConnecting
	case opc.Connected:
		evType = EventSessionConnected
	case opc.Disconnected:
		evType = EventSessionDisconnected
	case opc.Faulted:
		evType = EventSessionFaulted
	}
	e.Events.Emit(Event{Type: evType, Payload: SessionEvent{Endpoint: endpoint, Status: st.String()}})

	if e.mqttMgr != nil {
		e.mqttMgr.PublishSession(endpoint, st.String())
	}
	if e.valkeyMgr != nil {
		e.valkeyMgr.PublishHealth(endpoint, st.String(), st == opc.Connected)
	}

	if st == opc.Connected {
		e.populateVariables()
	}
}

// populateVariables builds the variable collection from the browsed
// references and arms one monitored item per variable node. On a reconnect
// the existing collection is kept; monitored items were re-armed already.
func (e *Engine) populateVariables() {
	e.mu.RLock()
	already := len(e.variables) > 0
	e.mu.RUnlock()
	if already {
		return
	}

	ctx, cancel := context.WithTimeout(context.Background(), 30*time.Second)
	defer cancel()

	refs := e.session.References()
	vars := make([]*opc.Variable, 0, len(refs))
	for _, ref := range refs {
		if ref.Class != opc.ClassVariable {
			continue
		}
		initial, err := e.session.ReadNode(ctx, ref.NodeID)
		if err != nil {
			status.Appendf(e.sink, status.Warning, "initial read of %s failed: %v", ref.NodeID, err)
		}
		v := opc.NewVariable(ref, initial)
		vars = append(vars, v)
		e.session.AddSubscription(ctx, ref.NodeID, e.makeNotificationHandler(v))
	}

	e.mu.Lock()
	e.variables = vars
	for _, v := range vars {
		e.byNode[v.NodeID()] = v
	}
	e.mu.Unlock()

	e.mapSvc.SelectValues(vars)

	status.Appendf(e.sink, status.Info, "%d variables populated", len(vars))
	e.Events.Emit(Event{Type: EventVariablesPopulated, Payload: VariableEvent{Count: len(vars)}})
}

func (e *Engine) makeNotificationHandler(v *opc.Variable) opc.NotificationHandler {
	return func(nodeID string, n opc.Notification) {
		v.OnNotification(n)

		if e.mqttMgr != nil {
			e.mqttMgr.PublishVariable(v.NodeID(), v.DisplayName(), n.Value, nil, false)
		}
		if e.valkeyMgr != nil {
			e.valkeyMgr.PublishVariable(v.NodeID(), v.DisplayName(), n.Value)
		}
		e.Events.Emit(Event{Type: EventVariableUpdated, Payload: VariableEvent{
			Node:  v.NodeID(),
			Name:  v.DisplayName(),
			Value: n.Value,
		}})
	}
}
