package valkey

import (
	"testing"

	"hublink/config"
)

func TestJoinKey(t *testing.T) {
	cases := []struct {
		segments []string
		want     string
	}{
		{[]string{"hublink", "variables", "Kp"}, "hublink:variables:Kp"},
		{[]string{"hublink:", ":variables:", "Kp"}, "hublink:variables:Kp"},
		{[]string{"", "health"}, "health"},
		{[]string{"root"}, "root"},
	}
	for _, c := range cases {
		if got := joinKey(c.segments...); got != c.want {
			t.Errorf("joinKey(%v) = %q, want %q", c.segments, got, c.want)
		}
	}
}

func TestAddress(t *testing.T) {
	p := NewPublisher(&config.ValkeyConfig{Name: "a", Address: "valkey.local:6379"})
	if got := p.Address(); got != "redis://valkey.local:6379" {
		t.Errorf("unexpected address %q", got)
	}
	tls := NewPublisher(&config.ValkeyConfig{Name: "b", Address: "valkey.local:6380", UseTLS: true})
	if got := tls.Address(); got != "rediss://valkey.local:6380" {
		t.Errorf("unexpected tls address %q", got)
	}
}

func TestRootDefault(t *testing.T) {
	p := NewPublisher(&config.ValkeyConfig{Name: "a"})
	if got := p.root(); got != DefaultRoot {
		t.Errorf("expected default root, got %q", got)
	}
	p = NewPublisher(&config.ValkeyConfig{Name: "a", Root: "plant"})
	if got := p.root(); got != "plant" {
		t.Errorf("expected configured root, got %q", got)
	}
}

func TestPublishWhileStoppedIsNoop(t *testing.T) {
	p := NewPublisher(&config.ValkeyConfig{Name: "a"})
	if err := p.PublishVariable("ns=2;s=Kp", "Kp", 0.5); err != nil {
		t.Errorf("stopped publish must be a no-op, got %v", err)
	}
	if err := p.PublishHealth("opc.tcp://localhost:4840", "Connected", true); err != nil {
		t.Errorf("stopped health publish must be a no-op, got %v", err)
	}
}

func TestManagerLoadAndGet(t *testing.T) {
	m := NewManager()
	m.LoadFromConfig([]config.ValkeyConfig{
		{Name: "cache", Address: "a:6379"},
		{Name: "mirror", Address: "b:6379"},
	})

	if len(m.List()) != 2 {
		t.Fatalf("expected 2 publishers, got %d", len(m.List()))
	}
	if m.Get("cache") == nil || m.Get("mirror") == nil {
		t.Error("configured publishers must be retrievable by name")
	}
	if m.Get("other") != nil {
		t.Error("unknown name must return nil")
	}
	if m.AnyRunning() {
		t.Error("nothing was started")
	}
	if started := m.StartAll(); started != 0 {
		t.Errorf("disabled publishers must not start, got %d", started)
	}
}
