package config

import (
	"path/filepath"
	"testing"
	"time"
)

func TestDefaultConfig(t *testing.T) {
	cfg := DefaultConfig()
	if cfg.OPC.RefreshInterval != time.Second {
		t.Errorf("unexpected refresh interval %v", cfg.OPC.RefreshInterval)
	}
	if cfg.OPC.KeepaliveInterval != 5*time.Second {
		t.Errorf("unexpected keepalive interval %v", cfg.OPC.KeepaliveInterval)
	}
	if cfg.Mapping.MapName != "hublink" {
		t.Errorf("unexpected map name %q", cfg.Mapping.MapName)
	}
	if cfg.Web.Port != 8420 {
		t.Errorf("unexpected web port %d", cfg.Web.Port)
	}
}

func TestLoadMissingFileWritesDefaults(t *testing.T) {
	path := filepath.Join(t.TempDir(), "config.yaml")

	cfg, err := Load(path)
	if err != nil {
		t.Fatalf("load failed: %v", err)
	}
	if cfg.Mapping.MapName != "hublink" {
		t.Errorf("expected defaults, got map name %q", cfg.Mapping.MapName)
	}

	// The defaults were written out; a second load reads the file.
	cfg2, err := Load(path)
	if err != nil {
		t.Fatalf("reload failed: %v", err)
	}
	if cfg2.OPC.RefreshInterval != cfg.OPC.RefreshInterval {
		t.Errorf("reload mismatch: %v vs %v", cfg2.OPC.RefreshInterval, cfg.OPC.RefreshInterval)
	}
}

func TestSaveAndLoadRoundTrip(t *testing.T) {
	path := filepath.Join(t.TempDir(), "config.yaml")

	cfg := DefaultConfig()
	cfg.OPC.Endpoint = "opc.tcp://plant:4840"
	cfg.Hub.URI = "http://hub.local/sitedir"
	cfg.AddMQTT(MQTTConfig{Name: "factory", Enabled: true, Broker: "broker.local", Port: 1883, ClientID: "hublink-1"})
	cfg.AddValkey(ValkeyConfig{Name: "cache", Enabled: true, Address: "valkey.local:6379", KeyTTL: time.Minute})

	if err := cfg.Save(path); err != nil {
		t.Fatalf("save failed: %v", err)
	}

	loaded, err := Load(path)
	if err != nil {
		t.Fatalf("load failed: %v", err)
	}
	if loaded.OPC.Endpoint != "opc.tcp://plant:4840" {
		t.Errorf("endpoint lost: %q", loaded.OPC.Endpoint)
	}
	if loaded.Hub.URI != "http://hub.local/sitedir" {
		t.Errorf("hub uri lost: %q", loaded.Hub.URI)
	}
	m := loaded.FindMQTT("factory")
	if m == nil || m.Broker != "broker.local" || m.Port != 1883 {
		t.Errorf("mqtt config lost: %+v", m)
	}
	v := loaded.FindValkey("cache")
	if v == nil || v.Address != "valkey.local:6379" || v.KeyTTL != time.Minute {
		t.Errorf("valkey config lost: %+v", v)
	}
}

func TestLockUnlockAndSave(t *testing.T) {
	path := filepath.Join(t.TempDir(), "config.yaml")
	cfg := DefaultConfig()

	cfg.Lock()
	cfg.OPC.Endpoint = "opc.tcp://edited:4840"
	if err := cfg.UnlockAndSave(path); err != nil {
		t.Fatalf("save failed: %v", err)
	}

	loaded, err := Load(path)
	if err != nil {
		t.Fatalf("load failed: %v", err)
	}
	if loaded.OPC.Endpoint != "opc.tcp://edited:4840" {
		t.Errorf("edit lost: %q", loaded.OPC.Endpoint)
	}
}

func TestChangeListenerFiresOnSave(t *testing.T) {
	path := filepath.Join(t.TempDir(), "config.yaml")
	cfg := DefaultConfig()

	fired := 0
	id := cfg.AddOnChangeListener(func() { fired++ })

	if err := cfg.Save(path); err != nil {
		t.Fatalf("save failed: %v", err)
	}
	if fired != 1 {
		t.Errorf("expected 1 notification, got %d", fired)
	}

	cfg.RemoveOnChangeListener(id)
	if err := cfg.Save(path); err != nil {
		t.Fatalf("save failed: %v", err)
	}
	if fired != 1 {
		t.Errorf("removed listener must not fire, got %d", fired)
	}
}

func TestFindUpdateRemove(t *testing.T) {
	cfg := DefaultConfig()
	cfg.AddMQTT(MQTTConfig{Name: "a", Broker: "one"})
	cfg.AddMQTT(MQTTConfig{Name: "b", Broker: "two"})

	if cfg.FindMQTT("missing") != nil {
		t.Error("expected nil for unknown name")
	}
	if !cfg.UpdateMQTT("a", MQTTConfig{Name: "a", Broker: "three"}) {
		t.Error("update should succeed")
	}
	if got := cfg.FindMQTT("a").Broker; got != "three" {
		t.Errorf("update lost: %q", got)
	}
	if !cfg.RemoveMQTT("b") {
		t.Error("remove should succeed")
	}
	if cfg.RemoveMQTT("b") {
		t.Error("second remove should fail")
	}
	if len(cfg.MQTT) != 1 {
		t.Errorf("expected 1 mqtt config, got %d", len(cfg.MQTT))
	}

	cfg.AddValkey(ValkeyConfig{Name: "v", Database: 1})
	if !cfg.UpdateValkey("v", ValkeyConfig{Name: "v", Database: 2}) {
		t.Error("valkey update should succeed")
	}
	if got := cfg.FindValkey("v").Database; got != 2 {
		t.Errorf("valkey update lost: %d", got)
	}
	if !cfg.RemoveValkey("v") {
		t.Error("valkey remove should succeed")
	}
}

func TestValidate(t *testing.T) {
	cfg := DefaultConfig()
	if err := cfg.Validate(); err == nil {
		t.Error("missing endpoint must fail validation")
	}

	cfg.OPC.Endpoint = "opc.tcp://plant:4840"
	if err := cfg.Validate(); err != nil {
		t.Errorf("valid config rejected: %v", err)
	}

	cfg.OPC.RefreshInterval = 0
	if err := cfg.Validate(); err == nil {
		t.Error("zero refresh interval must fail validation")
	}
	cfg.OPC.RefreshInterval = time.Second

	cfg.AddMQTT(MQTTConfig{Broker: "nameless"})
	if err := cfg.Validate(); err == nil {
		t.Error("unnamed mqtt config must fail validation")
	}
}
