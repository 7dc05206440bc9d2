package scheduler

import (
	"context"
	"sync"
	"time"

	"github.com/Ap3pp3rs94/symphony-messenger/pkg/merrors"
)

// MemStore is an in-process Store, the default when no durable schedule
// persistence is configured (tests, the Sync-transport-only profile).
type MemStore struct {
	mu    sync.Mutex
	rows  map[string]Schedule
}

// NewMemStore returns an empty MemStore.
func NewMemStore() *MemStore {
	return &MemStore{rows: map[string]Schedule{}}
}

func (m *MemStore) Insert(_ context.Context, s Schedule) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.rows[s.ID] = s
	return nil
}

func (m *MemStore) Update(_ context.Context, s Schedule) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if _, ok := m.rows[s.ID]; !ok {
		return merrors.Scheduler("schedule %q not found", s.ID)
	}
	m.rows[s.ID] = s
	return nil
}

func (m *MemStore) Get(_ context.Context, id string) (Schedule, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	s, ok := m.rows[id]
	if !ok {
		return Schedule{}, merrors.Scheduler("schedule %q not found", id)
	}
	return s, nil
}

func (m *MemStore) Delete(_ context.Context, id string) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	delete(m.rows, id)
	return nil
}

func (m *MemStore) DueBefore(_ context.Context, cutoff time.Time) ([]Schedule, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	var out []Schedule
	for _, s := range m.rows {
		if s.Enabled && !s.NextRun.After(cutoff) {
			out = append(out, s)
		}
	}
	return out, nil
}

func (m *MemStore) List(_ context.Context) ([]Schedule, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	out := make([]Schedule, 0, len(m.rows))
	for _, s := range m.rows {
		out = append(out, s)
	}
	return out, nil
}
