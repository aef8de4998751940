// Package config handles configuration persistence for the hublink adapter.
package config

import (
	"fmt"
	"os"
	"path/filepath"
	"sync"
	"sync/atomic"
	"time"

	"gopkg.in/yaml.v3"
)

// ListenerID is a unique identifier for a config change listener.
type ListenerID string

// Config holds the complete adapter configuration.
type Config struct {
	OPC     OPCConfig      `yaml:"opc"`
	Hub     HubConfig      `yaml:"hub"`
	Mapping MappingConfig  `yaml:"mapping"`
	MQTT    []MQTTConfig   `yaml:"mqtt,omitempty"`
	Valkey  []ValkeyConfig `yaml:"valkey,omitempty"`
	Web     WebConfig      `yaml:"web"`

	// Data mutex protects all config fields against concurrent access.
	// Callers that modify config should Lock(), modify, then call
	// UnlockAndSave(). Save() acquires the lock internally.
	dataMu sync.Mutex `yaml:"-"`

	// Change listeners (not serialized)
	changeListeners map[ListenerID]func() `yaml:"-"`
	listenersMu     sync.RWMutex          `yaml:"-"`
	listenerCounter uint64                `yaml:"-"`
}

// OPCConfig holds the OPC-UA session settings.
type OPCConfig struct {
	Endpoint          string        `yaml:"endpoint"` // e.g. opc.tcp://host:4840
	SecurityPolicy    string        `yaml:"security_policy,omitempty"`
	SecurityMode      string        `yaml:"security_mode,omitempty"`
	Username          string        `yaml:"username,omitempty"`
	Password          string        `yaml:"password,omitempty"`
	RefreshInterval   time.Duration `yaml:"refresh_interval"`
	KeepaliveInterval time.Duration `yaml:"keepalive_interval"`
	ReconnectDelay    time.Duration `yaml:"reconnect_delay"`
	ReconnectTimeout  time.Duration `yaml:"reconnect_timeout"`
}

// HubConfig identifies the engineering data hub session.
type HubConfig struct {
	URI    string `yaml:"uri"`
	Domain string `yaml:"domain,omitempty"`
}

// MappingConfig holds identifier-map settings.
type MappingConfig struct {
	MapName string `yaml:"map_name"`
}

// MQTTConfig holds MQTT telemetry publisher configuration.
type MQTTConfig struct {
	Name     string `yaml:"name"`
	Enabled  bool   `yaml:"enabled"`
	Broker   string `yaml:"broker"`
	Port     int    `yaml:"port"`
	Username string `yaml:"username,omitempty"`
	Password string `yaml:"password,omitempty"`
	ClientID string `yaml:"client_id"`
	Root     string `yaml:"root,omitempty"` // topic root, default "hublink"
	UseTLS   bool   `yaml:"use_tls,omitempty"`
}

// ValkeyConfig holds Valkey/Redis cache configuration.
type ValkeyConfig struct {
	Name           string        `yaml:"name"`
	Enabled        bool          `yaml:"enabled"`
	Address        string        `yaml:"address"` // host:port
	Password       string        `yaml:"password,omitempty"`
	Database       int           `yaml:"database"`
	Root           string        `yaml:"root,omitempty"` // key root, default "hublink"
	UseTLS         bool          `yaml:"use_tls,omitempty"`
	KeyTTL         time.Duration `yaml:"key_ttl,omitempty"`         // 0 = no expiry
	PublishChanges bool          `yaml:"publish_changes,omitempty"` // Pub/Sub on changes
}

// WebConfig holds the read-only status API server configuration.
type WebConfig struct {
	Enabled bool   `yaml:"enabled"`
	Host    string `yaml:"host"`
	Port    int    `yaml:"port"`
}

// DefaultConfig returns a config with sane defaults.
func DefaultConfig() *Config {
	return &Config{
		OPC: OPCConfig{
			RefreshInterval:   time.Second,
			KeepaliveInterval: 5 * time.Second,
			ReconnectDelay:    2 * time.Second,
			ReconnectTimeout:  30 * time.Second,
		},
		Mapping: MappingConfig{MapName: "hublink"},
		Web: WebConfig{
			Host: "127.0.0.1",
			Port: 8420,
		},
	}
}

// DefaultPath returns the default config file location.
func DefaultPath() string {
	home, err := os.UserHomeDir()
	if err != nil {
		return "hublink.yaml"
	}
	return filepath.Join(home, ".config", "hublink", "config.yaml")
}

// Load reads the config file, creating defaults if it does not exist.
func Load(path string) (*Config, error) {
	cfg := DefaultConfig()

	data, err := os.ReadFile(path)
	if err != nil {
		if !os.IsNotExist(err) {
			return nil, err
		}
		// File doesn't exist; write the defaults out, best effort
		cfg.Save(path)
		return cfg, nil
	}
	if err := yaml.Unmarshal(data, cfg); err != nil {
		return nil, err
	}
	return cfg, nil
}

// Lock acquires the config data mutex for a read-modify-write cycle.
func (c *Config) Lock() { c.dataMu.Lock() }

// Unlock releases the config data mutex without saving.
func (c *Config) Unlock() { c.dataMu.Unlock() }

// Save persists the config. Acquires the data lock internally.
func (c *Config) Save(path string) error {
	c.dataMu.Lock()
	return c.saveLocked(path)
}

// UnlockAndSave persists the config for callers already holding the lock.
func (c *Config) UnlockAndSave(path string) error {
	return c.saveLocked(path)
}

// saveLocked marshals config (lock must be held), unlocks, then writes and notifies.
func (c *Config) saveLocked(path string) error {
	data, err := yaml.Marshal(c)
	c.dataMu.Unlock()

	if err != nil {
		return err
	}
	if err := os.MkdirAll(filepath.Dir(path), 0755); err != nil {
		return err
	}
	if err := os.WriteFile(path, data, 0644); err != nil {
		return err
	}
	c.notifyChangeListeners()
	return nil
}

// AddOnChangeListener registers a callback invoked after every successful save.
func (c *Config) AddOnChangeListener(cb func()) ListenerID {
	c.listenersMu.Lock()
	defer c.listenersMu.Unlock()
	if c.changeListeners == nil {
		c.changeListeners = make(map[ListenerID]func())
	}
	id := ListenerID(fmt.Sprintf("listener-%d", atomic.AddUint64(&c.listenerCounter, 1)))
	c.changeListeners[id] = cb
	return id
}

// RemoveOnChangeListener unregisters a callback.
func (c *Config) RemoveOnChangeListener(id ListenerID) {
	c.listenersMu.Lock()
	defer c.listenersMu.Unlock()
	delete(c.changeListeners, id)
}

func (c *Config) notifyChangeListeners() {
	c.listenersMu.RLock()
	listeners := make([]func(), 0, len(c.changeListeners))
	for _, cb := range c.changeListeners {
		listeners = append(listeners, cb)
	}
	c.listenersMu.RUnlock()
	for _, cb := range listeners {
		cb()
	}
}

// FindMQTT returns the MQTT config with the given name, or nil.
func (c *Config) FindMQTT(name string) *MQTTConfig {
	for i := range c.MQTT {
		if c.MQTT[i].Name == name {
			return &c.MQTT[i]
		}
	}
	return nil
}

// AddMQTT adds a new MQTT publisher configuration.
func (c *Config) AddMQTT(m MQTTConfig) {
	c.MQTT = append(c.MQTT, m)
}

// RemoveMQTT removes an MQTT configuration by name.
func (c *Config) RemoveMQTT(name string) bool {
	for i := range c.MQTT {
		if c.MQTT[i].Name == name {
			c.MQTT = append(c.MQTT[:i], c.MQTT[i+1:]...)
			return true
		}
	}
	return false
}

// UpdateMQTT replaces an MQTT configuration by name.
func (c *Config) UpdateMQTT(name string, updated MQTTConfig) bool {
	for i := range c.MQTT {
		if c.MQTT[i].Name == name {
			c.MQTT[i] = updated
			return true
		}
	}
	return false
}

// FindValkey returns the Valkey config with the given name, or nil.
func (c *Config) FindValkey(name string) *ValkeyConfig {
	for i := range c.Valkey {
		if c.Valkey[i].Name == name {
			return &c.Valkey[i]
		}
	}
	return nil
}

// AddValkey adds a new Valkey configuration.
func (c *Config) AddValkey(v ValkeyConfig) {
	c.Valkey = append(c.Valkey, v)
}

// RemoveValkey removes a Valkey configuration by name.
func (c *Config) RemoveValkey(name string) bool {
	for i := range c.Valkey {
		if c.Valkey[i].Name == name {
			c.Valkey = append(c.Valkey[:i], c.Valkey[i+1:]...)
			return true
		}
	}
	return false
}

// UpdateValkey replaces a Valkey configuration by name.
func (c *Config) UpdateValkey(name string, updated ValkeyConfig) bool {
	for i := range c.Valkey {
		if c.Valkey[i].Name == name {
			c.Valkey[i] = updated
			return true
		}
	}
	return false
}

// Validate checks the config for obvious mistakes.
func (c *Config) Validate() error {
	if c.OPC.Endpoint == "" {
		return fmt.Errorf("opc.endpoint is required")
	}
	if c.OPC.RefreshInterval <= 0 {
		return fmt.Errorf("opc.refresh_interval must be positive")
	}
	for i := range c.MQTT {
		if c.MQTT[i].Name == "" {
			return fmt.Errorf("mqtt[%d]: name is required", i)
		}
	}
	for i := range c.Valkey {
		if c.Valkey[i].Name == "" {
			return fmt.Errorf("valkey[%d]: name is required", i)
		}
	}
	return nil
}
