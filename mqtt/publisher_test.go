package mqtt

import (
	"testing"

	"hublink/config"
)

func TestAddress(t *testing.T) {
	p := NewPublisher(&config.MQTTConfig{Name: "a", Broker: "broker.local", Port: 1883})
	if got := p.Address(); got != "tcp://broker.local:1883" {
		t.Errorf("unexpected address %q", got)
	}

	tls := NewPublisher(&config.MQTTConfig{Name: "b", Broker: "broker.local", Port: 8883, UseTLS: true})
	if got := tls.Address(); got != "ssl://broker.local:8883" {
		t.Errorf("unexpected tls address %q", got)
	}
}

func TestRootDefault(t *testing.T) {
	p := NewPublisher(&config.MQTTConfig{Name: "a"})
	if got := p.root(); got != DefaultRoot {
		t.Errorf("expected default root, got %q", got)
	}
	p = NewPublisher(&config.MQTTConfig{Name: "a", Root: "plant/line1"})
	if got := p.root(); got != "plant/line1" {
		t.Errorf("expected configured root, got %q", got)
	}
}

func TestPublishVariableNotRunning(t *testing.T) {
	p := NewPublisher(&config.MQTTConfig{Name: "a"})
	if p.PublishVariable("ns=2;s=Kp", "Kp", 0.5, nil, false) {
		t.Error("publish must be rejected while stopped")
	}
	if p.IsRunning() {
		t.Error("publisher must not report running")
	}
}

func TestManagerLoadAddGet(t *testing.T) {
	m := NewManager()
	m.LoadFromConfig([]config.MQTTConfig{
		{Name: "one", Broker: "a"},
		{Name: "two", Broker: "b"},
	})

	if len(m.List()) != 2 {
		t.Fatalf("expected 2 publishers, got %d", len(m.List()))
	}
	if m.Get("one") == nil || m.Get("two") == nil {
		t.Error("configured publishers must be retrievable by name")
	}
	if m.Get("three") != nil {
		t.Error("unknown name must return nil")
	}
	if m.AnyRunning() {
		t.Error("nothing was started")
	}
}

func TestManagerStartAllSkipsDisabled(t *testing.T) {
	m := NewManager()
	m.LoadFromConfig([]config.MQTTConfig{
		{Name: "off", Enabled: false, Broker: "a"},
	})
	if started := m.StartAll(); started != 0 {
		t.Errorf("disabled publishers must not start, got %d", started)
	}
}
