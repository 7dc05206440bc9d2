package config

import (
	"sync"
	"sync/atomic"

	"github.com/Ap3pp3rs94/symphony-messenger/pkg/merrors"
)

// UpdateListener is notified after a successful config update. It never
// sees a config that failed validation (spec.md §4.4).
type UpdateListener func(old, new Config)

// Manager wraps a Config in an atomically-swapped snapshot so readers
// never observe a partially-applied update (spec.md §5 "Config snapshots
// are immutable; RuntimeConfigManager swaps the snapshot atomically").
type Manager struct {
	snap atomic.Pointer[Config]

	mu        sync.Mutex // serializes updates only; reads never block
	listeners []UpdateListener
}

// NewManager validates the initial config and constructs a Manager.
func NewManager(initial Config) (*Manager, error) {
	if err := initial.Validate(); err != nil {
		return nil, err
	}
	m := &Manager{}
	snap := initial.Clone()
	m.snap.Store(&snap)
	return m, nil
}

// Current returns the live, immutable snapshot. Safe for concurrent use.
func (m *Manager) Current() Config {
	return *m.snap.Load()
}

// OnUpdate registers a listener fired after every successful Update.
func (m *Manager) OnUpdate(l UpdateListener) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.listeners = append(m.listeners, l)
}

// Update applies mutate to a clone of the current snapshot. If the
// mutated config fails Validate, the live config is left bit-identical to
// the pre-update snapshot and no listener fires (spec.md §4.4, §8
// "Config atomicity"). mutate must not retain the Config it receives.
func (m *Manager) Update(mutate func(Config) Config) error {
	m.mu.Lock()
	defer m.mu.Unlock()

	before := *m.snap.Load()
	candidate := mutate(before.Clone())

	if err := guardProtectedFields(before, candidate); err != nil {
		return err
	}
	if err := candidate.Validate(); err != nil {
		return err
	}

	stored := candidate.Clone()
	m.snap.Store(&stored)

	for _, l := range m.listeners {
		l(before, candidate)
	}
	return nil
}

// guardProtectedFields enforces spec.md §4.4's "cannot remove
// default_transport or the default retry entry" rule, independent of
// Validate (which would also catch a missing default_transport, but not
// necessarily a default_transport whose *entry* was removed while another
// valid one was substituted as the default).
func guardProtectedFields(before, after Config) error {
	if _, ok := after.Transports[before.DefaultTransport]; !ok {
		return merrors.Configuration("update would remove the default_transport %q", before.DefaultTransport)
	}
	if _, ok := after.Retry["default"]; !ok {
		return merrors.Configuration("update would remove the default retry entry")
	}
	return nil
}
