package config

import (
	"testing"

	"github.com/Ap3pp3rs94/symphony-messenger/pkg/retry"
)

func baseConfig() Config {
	return Config{
		DefaultTransport: "sync",
		DefaultQueue:     "default",
		DefaultPriority:  5,
		Transports: map[string]TransportConfig{
			"sync":    {Type: "sync", Queue: "default"},
			"durable": {Type: "postgres", Queue: "durable"},
		},
		Routing: map[string][]string{
			"OrderPlaced": {"durable"},
		},
		Retry: map[string]retry.Config{
			"default": retry.DefaultConfig(),
		},
	}
}

func TestConfigValidateOK(t *testing.T) {
	if err := baseConfig().Validate(); err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
}

func TestConfigValidateMissingDefaultTransport(t *testing.T) {
	c := baseConfig()
	c.DefaultTransport = "ghost"
	if err := c.Validate(); err == nil {
		t.Fatalf("expected error for unknown default_transport")
	}
}

func TestConfigValidateMissingDefaultRetry(t *testing.T) {
	c := baseConfig()
	delete(c.Retry, "default")
	if err := c.Validate(); err == nil {
		t.Fatalf("expected error for missing default retry entry")
	}
}

func TestConfigValidatePriorityRoutingOrdering(t *testing.T) {
	c := baseConfig()
	c.PriorityRouting = PriorityRouting{HighThreshold: 3, LowThreshold: 7}
	if err := c.Validate(); err == nil {
		t.Fatalf("expected error when high_threshold <= low_threshold")
	}
}

func TestConfigCloneIsolatesMaps(t *testing.T) {
	c := baseConfig()
	clone := c.Clone()
	clone.Transports["sync"] = TransportConfig{Type: "mutated"}
	if c.Transports["sync"].Type == "mutated" {
		t.Fatalf("mutating clone leaked into original")
	}
	clone.Routing["OrderPlaced"][0] = "mutated"
	if c.Routing["OrderPlaced"][0] == "mutated" {
		t.Fatalf("mutating clone's routing slice leaked into original")
	}
}

func TestRouterResolveExplicitOptionWins(t *testing.T) {
	r := NewRouter(baseConfig())
	if got := r.Resolve("OrderPlaced", 5, "sync"); got != "sync" {
		t.Fatalf("explicit option should win, got %q", got)
	}
}

func TestRouterResolveRoutingTable(t *testing.T) {
	r := NewRouter(baseConfig())
	if got := r.Resolve("OrderPlaced", 5, ""); got != "durable" {
		t.Fatalf("expected routing table entry, got %q", got)
	}
}

func TestRouterResolvePriorityBand(t *testing.T) {
	c := baseConfig()
	c.PriorityRouting = PriorityRouting{HighThreshold: 8, LowThreshold: 2, HighTransport: "durable"}
	r := NewRouter(c)
	if got := r.Resolve("Unrouted", 9, ""); got != "durable" {
		t.Fatalf("expected high-priority band transport, got %q", got)
	}
	if got := r.Resolve("Unrouted", 5, ""); got != c.DefaultTransport {
		t.Fatalf("expected default_transport fallback for normal band, got %q", got)
	}
}

func TestManagerUpdateAppliesAtomically(t *testing.T) {
	m, err := NewManager(baseConfig())
	if err != nil {
		t.Fatalf("NewManager: %v", err)
	}
	fired := false
	m.OnUpdate(func(old, new Config) { fired = true })

	err = m.Update(func(c Config) Config {
		c.DefaultQueue = "renamed"
		return c
	})
	if err != nil {
		t.Fatalf("unexpected update error: %v", err)
	}
	if !fired {
		t.Fatalf("expected listener to fire on successful update")
	}
	if m.Current().DefaultQueue != "renamed" {
		t.Fatalf("update did not take effect")
	}
}

func TestManagerUpdateRollsBackOnValidationFailure(t *testing.T) {
	m, err := NewManager(baseConfig())
	if err != nil {
		t.Fatalf("NewManager: %v", err)
	}
	before := m.Current()
	fired := false
	m.OnUpdate(func(old, new Config) { fired = true })

	err = m.Update(func(c Config) Config {
		c.DefaultTransport = "ghost"
		return c
	})
	if err == nil {
		t.Fatalf("expected validation failure")
	}
	if fired {
		t.Fatalf("listener must not fire on failed update")
	}
	after := m.Current()
	if after.DefaultTransport != before.DefaultTransport {
		t.Fatalf("live config mutated despite validation failure")
	}
}

func TestManagerUpdateGuardsProtectedFields(t *testing.T) {
	m, err := NewManager(baseConfig())
	if err != nil {
		t.Fatalf("NewManager: %v", err)
	}
	err = m.Update(func(c Config) Config {
		delete(c.Retry, "default")
		return c
	})
	if err == nil {
		t.Fatalf("expected error removing the default retry entry")
	}
	err = m.Update(func(c Config) Config {
		delete(c.Transports, c.DefaultTransport)
		return c
	})
	if err == nil {
		t.Fatalf("expected error removing the default_transport entry")
	}
}
