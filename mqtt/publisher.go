// Package mqtt publishes variable values and transfer milestones to MQTT
// brokers for external observers.
package mqtt

import (
	"crypto/tls"
	"encoding/json"
	"fmt"
	"sync"
	"time"

	pahomqtt "github.com/eclipse/paho.mqtt.golang"

	"hublink/config"
)

// DefaultRoot is the topic root used when none is configured.
const DefaultRoot = "hublink"

// VariableMessage is the JSON structure published per variable sample.
type VariableMessage struct {
	Node      string      `json:"node"`
	Name      string      `json:"name"`
	Value     interface{} `json:"value"`
	Average   *float64    `json:"average,omitempty"`
	Timestamp string      `json:"timestamp"`
}

// SessionMessage reports session status transitions.
type SessionMessage struct {
	Endpoint  string `json:"endpoint"`
	Status    string `json:"status"`
	Timestamp string `json:"timestamp"`
}

// TransferMessage reports the outcome of one transfer.
type TransferMessage struct {
	Elements        int    `json:"elements"`
	Correspondences int    `json:"correspondences"`
	Success         bool   `json:"success"`
	Error           string `json:"error,omitempty"`
	Timestamp       string `json:"timestamp"`
}

// Publisher handles one broker connection and publishes adapter telemetry.
type Publisher struct {
	config  *config.MQTTConfig
	client  pahomqtt.Client
	running bool
	mu      sync.RWMutex

	// Track last published values to suppress unchanged republish
	lastValues map[string]interface{}
	lastMu     sync.RWMutex
}

// NewPublisher creates an MQTT publisher for a single broker.
func NewPublisher(cfg *config.MQTTConfig) *Publisher {
	return &Publisher{
		config:     cfg,
		lastValues: make(map[string]interface{}),
	}
}

// Name returns the publisher's name.
func (p *Publisher) Name() string {
	return p.config.Name
}

// IsRunning returns whether the publisher is connected.
func (p *Publisher) IsRunning() bool {
	p.mu.RLock()
	defer p.mu.RUnlock()
	return p.running
}

// Address returns the broker address.
func (p *Publisher) Address() string {
	scheme := "tcp"
	if p.config.UseTLS {
		scheme = "ssl"
	}
	return fmt.Sprintf("%s://%s:%d", scheme, p.config.Broker, p.config.Port)
}

// Start connects to the broker.
func (p *Publisher) Start() error {
	p.mu.RLock()
	if p.running {
		p.mu.RUnlock()
		return nil
	}
	p.mu.RUnlock()

	// Build options without holding the lock
	opts := pahomqtt.NewClientOptions()
	opts.AddBroker(p.Address())
	if p.config.UseTLS {
		opts.SetTLSConfig(&tls.Config{MinVersion: tls.VersionTLS12})
	}
	opts.SetClientID(p.config.ClientID)
	if p.config.Username != "" {
		opts.SetUsername(p.config.Username)
		opts.SetPassword(p.config.Password)
	}
	opts.SetAutoReconnect(true)
	opts.SetConnectRetry(true)
	opts.SetConnectRetryInterval(5 * time.Second)
	opts.SetKeepAlive(30 * time.Second)

	client := pahomqtt.NewClient(opts)
	token := client.Connect()
	if !token.WaitTimeout(5 * time.Second) {
		return fmt.Errorf("connection timeout")
	}
	if token.Error() != nil {
		return token.Error()
	}

	p.mu.Lock()
	if p.running {
		p.mu.Unlock()
		client.Disconnect(100)
		return nil
	}
	p.client = client
	p.running = true
	p.mu.Unlock()

	// Force republish of all values on fresh connections
	p.lastMu.Lock()
	p.lastValues = make(map[string]interface{})
	p.lastMu.Unlock()

	return nil
}

// Stop disconnects from the broker.
func (p *Publisher) Stop() {
	p.mu.Lock()
	if !p.running {
		p.mu.Unlock()
		return
	}
	p.running = false
	client := p.client
	p.client = nil
	p.mu.Unlock()

	if client != nil {
		client.Disconnect(250)
	}
}

func (p *Publisher) root() string {
	if p.config.Root != "" {
		return p.config.Root
	}
	return DefaultRoot
}

// PublishVariable publishes one variable sample, retained, suppressing
// unchanged values unless force is set.
func (p *Publisher) PublishVariable(node, name string, value interface{}, average *float64, force bool) bool {
	p.mu.RLock()
	if !p.running || p.client == nil {
		p.mu.RUnlock()
		return false
	}
	client := p.client
	p.mu.RUnlock()

	p.lastMu.Lock()
	last, exists := p.lastValues[node]
	if !force && exists && fmt.Sprintf("%v", last) == fmt.Sprintf("%v", value) {
		p.lastMu.Unlock()
		return false
	}
	p.lastValues[node] = value
	p.lastMu.Unlock()

	msg := VariableMessage{
		Node:      node,
		Name:      name,
		Value:     value,
		Average:   average,
		Timestamp: time.Now().UTC().Format(time.RFC3339Nano),
	}
	data, err := json.Marshal(msg)
	if err != nil {
		return false
	}

	topic := fmt.Sprintf("%s/variables/%s", p.root(), name)
	client.Publish(topic, 0, true, data)
	return true
}

// PublishSession publishes a session status transition, retained.
func (p *Publisher) PublishSession(endpoint, state string) {
	p.mu.RLock()
	if !p.running || p.client == nil {
		p.mu.RUnlock()
		return
	}
	client := p.client
	p.mu.RUnlock()

	msg := SessionMessage{
		Endpoint:  endpoint,
		Status:    state,
		Timestamp: time.Now().UTC().Format(time.RFC3339Nano),
	}
	data, err := json.Marshal(msg)
	if err != nil {
		return
	}
	client.Publish(fmt.Sprintf("%s/session", p.root()), 0, true, data)
}

// PublishTransfer publishes the outcome of one transfer, retained.
func (p *Publisher) PublishTransfer(elements, correspondences int, transferErr error) {
	p.mu.RLock()
	if !p.running || p.client == nil {
		p.mu.RUnlock()
		return
	}
	client := p.client
	p.mu.RUnlock()

	msg := TransferMessage{
		Elements:        elements,
		Correspondences: correspondences,
		Success:         transferErr == nil,
		Timestamp:       time.Now().UTC().Format(time.RFC3339Nano),
	}
	if transferErr != nil {
		msg.Error = transferErr.Error()
	}
	data, err := json.Marshal(msg)
	if err != nil {
		return
	}
	client.Publish(fmt.Sprintf("%s/transfer", p.root()), 0, true, data)
}

// Manager manages multiple MQTT publishers.
type Manager struct {
	publishers []*Publisher
	mu         sync.RWMutex
}

// NewManager creates an MQTT manager.
func NewManager() *Manager {
	return &Manager{publishers: make([]*Publisher, 0)}
}

// LoadFromConfig loads publishers from configuration.
func (m *Manager) LoadFromConfig(cfgs []config.MQTTConfig) {
	m.mu.Lock()
	defer m.mu.Unlock()
	for i := range cfgs {
		m.publishers = append(m.publishers, NewPublisher(&cfgs[i]))
	}
}

// Add adds a publisher.
func (m *Manager) Add(pub *Publisher) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.publishers = append(m.publishers, pub)
}

// Get returns a publisher by name, or nil.
func (m *Manager) Get(name string) *Publisher {
	m.mu.RLock()
	defer m.mu.RUnlock()
	for _, pub := range m.publishers {
		if pub.Name() == name {
			return pub
		}
	}
	return nil
}

// List returns all publishers.
func (m *Manager) List() []*Publisher {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return append([]*Publisher(nil), m.publishers...)
}

// StartAll starts every enabled publisher and returns the count started.
func (m *Manager) StartAll() int {
	m.mu.RLock()
	pubs := append([]*Publisher(nil), m.publishers...)
	m.mu.RUnlock()

	started := 0
	for _, pub := range pubs {
		if !pub.config.Enabled {
			continue
		}
		if err := pub.Start(); err == nil {
			started++
		}
	}
	return started
}

// StopAll stops all publishers.
func (m *Manager) StopAll() {
	m.mu.RLock()
	pubs := append([]*Publisher(nil), m.publishers...)
	m.mu.RUnlock()
	for _, pub := range pubs {
		pub.Stop()
	}
}

// AnyRunning reports whether at least one publisher is connected.
func (m *Manager) AnyRunning() bool {
	m.mu.RLock()
	defer m.mu.RUnlock()
	for _, pub := range m.publishers {
		if pub.IsRunning() {
			return true
		}
	}
	return false
}

// PublishVariable fans one variable sample out to all running publishers.
func (m *Manager) PublishVariable(node, name string, value interface{}, average *float64, force bool) {
	m.mu.RLock()
	pubs := append([]*Publisher(nil), m.publishers...)
	m.mu.RUnlock()
	for _, pub := range pubs {
		pub.PublishVariable(node, name, value, average, force)
	}
}

// PublishSession fans a session transition out to all running publishers.
func (m *Manager) PublishSession(endpoint, state string) {
	m.mu.RLock()
	pubs := append([]*Publisher(nil), m.publishers...)
	m.mu.RUnlock()
	for _, pub := range pubs {
		pub.PublishSession(endpoint, state)
	}
}

// PublishTransfer fans a transfer outcome out to all running publishers.
func (m *Manager) PublishTransfer(elements, correspondences int, transferErr error) {
	m.mu.RLock()
	pubs := append([]*Publisher(nil), m.publishers...)
	m.mu.RUnlock()
	for _, pub := range pubs {
		pub.PublishTransfer(elements, correspondences, transferErr)
	}
}
