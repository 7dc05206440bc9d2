package metrics

import (
	"context"
	"errors"
	"testing"
	"time"
)

type fakeDepth struct {
	depth int
	err   error
}

func (f *fakeDepth) QueueDepth(_ context.Context, _ string) (int, error) {
	return f.depth, f.err
}

func TestHealthMonitorHealthyWithNoAttempts(t *testing.T) {
	c := NewCollector(10, nil)
	hm := NewHealthMonitor(c, &fakeDepth{depth: 0}, "q", time.Minute)
	snap := hm.Evaluate(context.Background())
	if snap.Overall != StatusHealthy {
		t.Fatalf("expected healthy with no attempts, got %v: %+v", snap.Overall, snap.Components)
	}
}

func TestHealthMonitorUnreachableTransportIsUnhealthy(t *testing.T) {
	c := NewCollector(10, nil)
	hm := NewHealthMonitor(c, &fakeDepth{err: errors.New("connection refused")}, "q", time.Minute)
	snap := hm.Evaluate(context.Background())
	if snap.Overall != StatusUnhealthy {
		t.Fatalf("expected unhealthy overall when transport unreachable, got %v", snap.Overall)
	}
}

func TestHealthMonitorDegradedOnModerateFailureRate(t *testing.T) {
	c := NewCollector(100, nil)
	now := time.Now()
	for i := 0; i < 95; i++ {
		c.Record(Attempt{Success: true, DurationMS: 5, Timestamp: now})
	}
	for i := 0; i < 5; i++ {
		c.Record(Attempt{Success: false, ErrorClass: "timeout", DurationMS: 5, Timestamp: now})
	}
	hm := NewHealthMonitor(c, &fakeDepth{depth: 0}, "q", time.Minute)
	snap := hm.Evaluate(context.Background())
	if snap.Overall != StatusDegraded {
		t.Fatalf("expected degraded at 5%% failure rate, got %v: %+v", snap.Overall, snap.Components)
	}
}

func TestHealthMonitorUnhealthyOnHighLatency(t *testing.T) {
	c := NewCollector(10, nil)
	now := time.Now()
	c.Record(Attempt{Success: true, DurationMS: 8000, Timestamp: now})
	hm := NewHealthMonitor(c, &fakeDepth{depth: 0}, "q", time.Minute)
	snap := hm.Evaluate(context.Background())
	if snap.Overall != StatusUnhealthy {
		t.Fatalf("expected unhealthy at 8s p95 latency, got %v: %+v", snap.Overall, snap.Components)
	}
}

func TestWorsePicksMoreSevere(t *testing.T) {
	if worse(StatusHealthy, StatusDegraded) != StatusDegraded {
		t.Fatalf("expected degraded to win over healthy")
	}
	if worse(StatusUnhealthy, StatusDegraded) != StatusUnhealthy {
		t.Fatalf("expected unhealthy to remain worst")
	}
}
