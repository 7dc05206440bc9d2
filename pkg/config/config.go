// Package config carries the messenger's static configuration shape
// (spec.md §4.4), its priority/message-type routing rules, and an
// atomically-swapped runtime manager for safe live updates.
package config

import (
	"sort"

	"github.com/Ap3pp3rs94/symphony-messenger/pkg/envelope"
	"github.com/Ap3pp3rs94/symphony-messenger/pkg/merrors"
	"github.com/Ap3pp3rs94/symphony-messenger/pkg/retry"
)

// TransportConfig describes one named transport entry (spec.md §4.4).
type TransportConfig struct {
	Type     string         `json:"type" yaml:"type"`
	Queue    string         `json:"queue" yaml:"queue"`
	Priority int            `json:"priority" yaml:"priority"`
	Options  map[string]any `json:"options,omitempty" yaml:"options,omitempty"`
}

// PriorityRouting implements the high/low/normal priority-band routing
// rule from spec.md §4.4.
type PriorityRouting struct {
	HighThreshold  int    `json:"high_threshold" yaml:"high_threshold"`
	LowThreshold   int    `json:"low_threshold" yaml:"low_threshold"`
	HighTransport  string `json:"high_transport,omitempty" yaml:"high_transport,omitempty"`
	LowTransport   string `json:"low_transport,omitempty" yaml:"low_transport,omitempty"`
	NormalTransport string `json:"normal_transport,omitempty" yaml:"normal_transport,omitempty"`
}

// Config is the full static configuration (spec.md §4.4).
type Config struct {
	DefaultTransport string                      `json:"default_transport" yaml:"default_transport"`
	DefaultQueue     string                      `json:"default_queue" yaml:"default_queue"`
	DefaultPriority  int                         `json:"default_priority" yaml:"default_priority"`
	Transports       map[string]TransportConfig  `json:"transports" yaml:"transports"`
	Routing          map[string][]string         `json:"routing" yaml:"routing"`
	Retry            map[string]retry.Config     `json:"retry" yaml:"retry"`
	PriorityRouting  PriorityRouting             `json:"priority_routing" yaml:"priority_routing"`
}

// Clone returns a deep-enough copy of c so mutation of the returned value
// can never alias a live snapshot (used by RuntimeConfigManager).
func (c Config) Clone() Config {
	out := c
	out.Transports = make(map[string]TransportConfig, len(c.Transports))
	for k, v := range c.Transports {
		vc := v
		if v.Options != nil {
			vc.Options = make(map[string]any, len(v.Options))
			for ok, ov := range v.Options {
				vc.Options[ok] = ov
			}
		}
		out.Transports[k] = vc
	}
	out.Routing = make(map[string][]string, len(c.Routing))
	for k, v := range c.Routing {
		cp := make([]string, len(v))
		copy(cp, v)
		out.Routing[k] = cp
	}
	out.Retry = make(map[string]retry.Config, len(c.Retry))
	for k, v := range c.Retry {
		out.Retry[k] = v
	}
	return out
}

// Validate enforces the invariants spec.md §4.4 implies: a default
// transport that actually exists, a "default" retry entry, well-formed
// priority thresholds, and well-formed retry configs.
func (c Config) Validate() error {
	if c.DefaultTransport == "" {
		return merrors.Configuration("default_transport is required")
	}
	if _, ok := c.Transports[c.DefaultTransport]; !ok {
		return merrors.Configuration("default_transport %q is not a configured transport", c.DefaultTransport)
	}
	if c.DefaultPriority != 0 && (c.DefaultPriority < envelope.MinPriority || c.DefaultPriority > envelope.MaxPriority) {
		return merrors.Configuration("default_priority %d out of range", c.DefaultPriority)
	}
	if _, ok := c.Retry["default"]; !ok {
		return merrors.Configuration("retry configuration must include a \"default\" entry")
	}
	for name, rc := range c.Retry {
		if err := rc.Validate(); err != nil {
			return merrors.Configuration("retry[%s]: %v", name, err)
		}
	}
	for name := range c.Transports {
		if !envelope.ValidName(name) {
			return merrors.Configuration("transport name %q does not match the naming grammar", name)
		}
	}
	pr := c.PriorityRouting
	if pr.HighThreshold != 0 || pr.LowThreshold != 0 {
		if pr.HighThreshold < envelope.MinPriority || pr.HighThreshold > envelope.MaxPriority {
			return merrors.Configuration("priority_routing.high_threshold out of range")
		}
		if pr.LowThreshold < envelope.MinPriority || pr.LowThreshold > envelope.MaxPriority {
			return merrors.Configuration("priority_routing.low_threshold out of range")
		}
		if pr.HighThreshold <= pr.LowThreshold {
			return merrors.Configuration("priority_routing.high_threshold must be > low_threshold")
		}
	}
	for mt, names := range c.Routing {
		if !envelope.ValidType(mt) {
			return merrors.Configuration("routing key %q is not a valid message type", mt)
		}
		if len(names) == 0 {
			return merrors.Configuration("routing[%s] has no transports", mt)
		}
	}
	return nil
}

// KnownTransportNames returns the sorted set of configured transport names.
func (c Config) KnownTransportNames() []string {
	out := make([]string, 0, len(c.Transports))
	for k := range c.Transports {
		out = append(out, k)
	}
	sort.Strings(out)
	return out
}
