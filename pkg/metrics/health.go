package metrics

import (
	"context"
	"time"
)

// Status is a health rollup level (spec.md §4.11).
type Status string

const (
	StatusHealthy  Status = "healthy"
	StatusDegraded Status = "degraded"
	StatusUnhealthy Status = "unhealthy"
)

// worse returns the more severe of a, b.
func worse(a, b Status) Status {
	rank := map[Status]int{StatusHealthy: 0, StatusDegraded: 1, StatusUnhealthy: 2}
	if rank[b] > rank[a] {
		return b
	}
	return a
}

// QueueDepther is the narrow transport capability the health monitor
// needs to check reachability (pkg/transport.Transport satisfies it).
type QueueDepther interface {
	QueueDepth(ctx context.Context, queue string) (int, error)
}

// Component is one constituent's evaluated health.
type Component struct {
	Name   string
	Status Status
	Detail string
}

// Snapshot is the public GetHealth() result (spec.md §6.1).
type Snapshot struct {
	Overall    Status
	Components []Component
	EvaluatedAt time.Time
}

// HealthMonitor evaluates transport reachability, recent failure rate,
// throughput, and latency, rolling up to the worst constituent
// (spec.md §4.11).
type HealthMonitor struct {
	collector *Collector
	transport QueueDepther
	queue     string
	window    time.Duration
}

// NewHealthMonitor builds a HealthMonitor observing collector over window
// and polling transport's queue depth for reachability.
func NewHealthMonitor(collector *Collector, transport QueueDepther, queue string, window time.Duration) *HealthMonitor {
	if window <= 0 {
		window = time.Minute
	}
	return &HealthMonitor{collector: collector, transport: transport, queue: queue, window: window}
}

// Evaluate computes the current Snapshot.
func (h *HealthMonitor) Evaluate(ctx context.Context) Snapshot {
	components := []Component{
		h.reachability(ctx),
		h.failureRate(),
		h.throughput(),
		h.latency(),
	}
	overall := StatusHealthy
	for _, c := range components {
		overall = worse(overall, c.Status)
	}
	return Snapshot{Overall: overall, Components: components, EvaluatedAt: time.Now()}
}

func (h *HealthMonitor) reachability(ctx context.Context) Component {
	if h.transport == nil {
		return Component{Name: "transport", Status: StatusHealthy, Detail: "no transport configured"}
	}
	if _, err := h.transport.QueueDepth(ctx, h.queue); err != nil {
		return Component{Name: "transport", Status: StatusUnhealthy, Detail: err.Error()}
	}
	return Component{Name: "transport", Status: StatusHealthy}
}

func (h *HealthMonitor) failureRate() Component {
	agg := h.collector.Window(h.window)
	if agg.Total == 0 {
		return Component{Name: "failure_rate", Status: StatusHealthy, Detail: "no attempts in window"}
	}
	switch {
	case agg.FailureRate < 0.01:
		return Component{Name: "failure_rate", Status: StatusHealthy}
	case agg.FailureRate < 0.10:
		return Component{Name: "failure_rate", Status: StatusDegraded}
	default:
		return Component{Name: "failure_rate", Status: StatusUnhealthy}
	}
}

func (h *HealthMonitor) throughput() Component {
	agg := h.collector.Window(h.window)
	if agg.Total > 0 {
		return Component{Name: "throughput", Status: StatusHealthy}
	}
	return Component{Name: "throughput", Status: StatusUnhealthy, Detail: "no messages processed in window"}
}

func (h *HealthMonitor) latency() Component {
	agg := h.collector.Window(h.window)
	if agg.Total == 0 {
		return Component{Name: "latency", Status: StatusHealthy, Detail: "no attempts in window"}
	}
	p95 := time.Duration(agg.P95DurationMS) * time.Millisecond
	switch {
	case p95 < time.Second:
		return Component{Name: "latency", Status: StatusHealthy}
	case p95 < 5*time.Second:
		return Component{Name: "latency", Status: StatusDegraded}
	default:
		return Component{Name: "latency", Status: StatusUnhealthy}
	}
}
