// Package valkey caches variable values and session health in Valkey/Redis
// for external consumers, optionally announcing changes over Pub/Sub.
package valkey

import (
	"context"
	"crypto/tls"
	"encoding/json"
	"fmt"
	"strings"
	"sync"
	"time"

	"github.com/redis/go-redis/v9"

	"hublink/config"
)

// DefaultRoot is the key root used when none is configured.
const DefaultRoot = "hublink"

// joinKey joins key segments with colons, trimming stray colons from each
// segment to avoid empty key parts.
func joinKey(segments ...string) string {
	var parts []string
	for _, s := range segments {
		s = strings.Trim(s, ":")
		if s != "" {
			parts = append(parts, s)
		}
	}
	return strings.Join(parts, ":")
}

// VariableMessage is the JSON value stored per variable key.
type VariableMessage struct {
	Node      string      `json:"node"`
	Name      string      `json:"name"`
	Value     interface{} `json:"value"`
	Timestamp time.Time   `json:"timestamp"`
}

// HealthMessage reports the adapter session status.
type HealthMessage struct {
	Endpoint  string    `json:"endpoint"`
	Status    string    `json:"status"`
	Online    bool      `json:"online"`
	Timestamp time.Time `json:"timestamp"`
}

// Publisher stores adapter telemetry in one Valkey server.
type Publisher struct {
	config  *config.ValkeyConfig
	client  *redis.Client
	running bool
	mu      sync.RWMutex
}

// NewPublisher creates a Valkey publisher.
func NewPublisher(cfg *config.ValkeyConfig) *Publisher {
	return &Publisher{config: cfg}
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

// Address returns the server address.
func (p *Publisher) Address() string {
	scheme := "redis"
	if p.config.UseTLS {
		scheme = "rediss"
	}
	return fmt.Sprintf("%s://%s", scheme, p.config.Address)
}

// Start connects to the Valkey server.
func (p *Publisher) Start() error {
	p.mu.RLock()
	if p.running {
		p.mu.RUnlock()
		return nil
	}
	p.mu.RUnlock()

	opts := &redis.Options{
		Addr:         p.config.Address,
		Password:     p.config.Password,
		DB:           p.config.Database,
		DialTimeout:  3 * time.Second,
		ReadTimeout:  2 * time.Second,
		WriteTimeout: 2 * time.Second,
	}
	if p.config.UseTLS {
		opts.TLSConfig = &tls.Config{MinVersion: tls.VersionTLS12}
	}

	client := redis.NewClient(opts)
	ctx, cancel := context.WithTimeout(context.Background(), 3*time.Second)
	defer cancel()
	if err := client.Ping(ctx).Err(); err != nil {
		client.Close()
		return fmt.Errorf("failed to connect to Valkey at %s: %w", p.config.Address, err)
	}

	p.mu.Lock()
	defer p.mu.Unlock()
	if p.running {
		client.Close()
		return nil
	}
	p.client = client
	p.running = true
	return nil
}

// Stop disconnects from the Valkey server.
func (p *Publisher) Stop() error {
	p.mu.Lock()
	if !p.running {
		p.mu.Unlock()
		return nil
	}
	p.running = false
	client := p.client
	p.client = nil
	p.mu.Unlock()

	if client != nil {
		return client.Close()
	}
	return nil
}

func (p *Publisher) root() string {
	if p.config.Root != "" {
		return p.config.Root
	}
	return DefaultRoot
}

// PublishVariable stores one variable sample under its key, applying the
// configured TTL and announcing the change over Pub/Sub when enabled.
func (p *Publisher) PublishVariable(node, name string, value interface{}) error {
	p.mu.RLock()
	if !p.running || p.client == nil {
		p.mu.RUnlock()
		return nil
	}
	client := p.client
	cfg := p.config
	p.mu.RUnlock()

	msg := VariableMessage{
		Node:      node,
		Name:      name,
		Value:     value,
		Timestamp: time.Now().UTC(),
	}
	data, err := json.Marshal(msg)
	if err != nil {
		return err
	}

	key := joinKey(p.root(), "variables", name)
	ctx, cancel := context.WithTimeout(context.Background(), 2*time.Second)
	defer cancel()

	if err := client.Set(ctx, key, data, cfg.KeyTTL).Err(); err != nil {
		return err
	}
	if cfg.PublishChanges {
		channel := joinKey(p.root(), "changes")
		return client.Publish(ctx, channel, data).Err()
	}
	return nil
}

// PublishHealth stores the session health key.
func (p *Publisher) PublishHealth(endpoint, state string, online bool) error {
	p.mu.RLock()
	if !p.running || p.client == nil {
		p.mu.RUnlock()
		return nil
	}
	client := p.client
	p.mu.RUnlock()

	msg := HealthMessage{
		Endpoint:  endpoint,
		Status:    state,
		Online:    online,
		Timestamp: time.Now().UTC(),
	}
	data, err := json.Marshal(msg)
	if err != nil {
		return err
	}

	ctx, cancel := context.WithTimeout(context.Background(), 2*time.Second)
	defer cancel()
	return client.Set(ctx, joinKey(p.root(), "health"), data, 0).Err()
}

// Manager manages multiple Valkey publishers.
type Manager struct {
	publishers []*Publisher
	mu         sync.RWMutex
}

// NewManager creates a Valkey manager.
func NewManager() *Manager {
	return &Manager{publishers: make([]*Publisher, 0)}
}

// LoadFromConfig loads publishers from configuration.
func (m *Manager) LoadFromConfig(cfgs []config.ValkeyConfig) {
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
func (m *Manager) PublishVariable(node, name string, value interface{}) {
	m.mu.RLock()
	pubs := append([]*Publisher(nil), m.publishers...)
	m.mu.RUnlock()
	for _, pub := range pubs {
		pub.PublishVariable(node, name, value)
	}
}

// PublishHealth fans the session health out to all running publishers.
func (m *Manager) PublishHealth(endpoint, state string, online bool) {
	m.mu.RLock()
	pubs := append([]*Publisher(nil), m.publishers...)
	m.mu.RUnlock()
	for _, pub := range pubs {
		pub.PublishHealth(endpoint, state, online)
	}
}
