package messenger

import (
	"context"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/Ap3pp3rs94/symphony-messenger/pkg/config"
	"github.com/Ap3pp3rs94/symphony-messenger/pkg/envelope"
	"github.com/Ap3pp3rs94/symphony-messenger/pkg/handler"
	"github.com/Ap3pp3rs94/symphony-messenger/pkg/retry"
	"github.com/Ap3pp3rs94/symphony-messenger/pkg/scheduler"
	"github.com/Ap3pp3rs94/symphony-messenger/pkg/transport"
	"github.com/Ap3pp3rs94/symphony-messenger/pkg/validate"
	"github.com/Ap3pp3rs94/symphony-messenger/pkg/worker"
)

func testConfig() config.Config {
	return config.Config{
		DefaultTransport: "sync",
		DefaultQueue:     "default",
		DefaultPriority:  5,
		Transports: map[string]config.TransportConfig{
			"sync": {Type: "sync", Queue: "default"},
		},
		Retry: map[string]retry.Config{
			"default": retry.DefaultConfig(),
		},
	}
}

func newTestMessenger(t *testing.T) *Messenger {
	t.Helper()
	m, err := New(Options{Config: testConfig()})
	if err != nil {
		t.Fatalf("New: %v", err)
	}
	m.RegisterTransport("sync", transport.NewSync())
	return m
}

func TestDispatchRunsHandlerInlineOnSyncTransport(t *testing.T) {
	m := newTestMessenger(t)

	var processed atomic.Int32
	var mu sync.Mutex
	var seen []int
	err := m.RegisterHandler("Echo", func(hc *handler.Context) error {
		mu.Lock()
		defer mu.Unlock()
		n, _ := hc.Envelope.Message.Payload["n"].(int)
		seen = append(seen, n)
		processed.Add(1)
		return nil
	})
	if err != nil {
		t.Fatalf("RegisterHandler: %v", err)
	}

	id, err := m.Dispatch(context.Background(), envelope.Message{Type: "Echo", Payload: map[string]any{"n": 1}}, validate.DispatchOptions{})
	if err != nil {
		t.Fatalf("Dispatch: %v", err)
	}
	if id == "" {
		t.Fatalf("expected a non-empty message id")
	}

	// The sync transport runs the handler inline within Dispatch itself
	// (spec.md §4.3/§4.7): no worker pool is needed for it to have fired.
	if processed.Load() != 1 {
		t.Fatalf("expected the handler to run synchronously during Dispatch, got %d", processed.Load())
	}
}

func TestStartWorkerRejectsUnknownTransport(t *testing.T) {
	m := newTestMessenger(t)
	err := m.StartWorker(context.Background(), "ghost", worker.Options{Queue: "default"})
	if err == nil {
		t.Fatalf("expected error starting a worker on an unregistered transport")
	}
}

func TestStartWorkerRejectsDuplicate(t *testing.T) {
	m := newTestMessenger(t)
	ctx, cancel := context.WithTimeout(context.Background(), 200*time.Millisecond)
	defer cancel()
	if err := m.StartWorker(ctx, "sync", worker.Options{Queue: "default"}); err != nil {
		t.Fatalf("first StartWorker: %v", err)
	}
	if err := m.StartWorker(ctx, "sync", worker.Options{Queue: "default"}); err == nil {
		t.Fatalf("expected error starting a second worker for the same transport")
	}
	_ = m.StopWorker(context.Background(), "sync")
}

func TestScheduleOnceFiresThroughMessenger(t *testing.T) {
	m := newTestMessenger(t)
	var fired atomic.Int32
	m.RegisterHandler("Echo", func(hc *handler.Context) error {
		fired.Add(1)
		return nil
	})

	at := time.Now().Add(-time.Minute)
	sch, err := m.ScheduleMessage(context.Background(), scheduler.Schedule{
		MessageType: "Echo",
		Payload:     map[string]any{"n": 1},
		Type:        validate.ScheduleOnce,
		At:          &at,
	})
	if err != nil {
		t.Fatalf("ScheduleMessage: %v", err)
	}
	if sch.ID == "" {
		t.Fatalf("expected a schedule id")
	}

	n, err := m.Scheduler().ProcessDue(context.Background(), time.Now())
	if err != nil {
		t.Fatalf("ProcessDue: %v", err)
	}
	if n != 1 {
		t.Fatalf("expected 1 fired schedule, got %d", n)
	}
}

func TestGetHealthReflectsUnreachableTransport(t *testing.T) {
	m := newTestMessenger(t)
	snap, err := m.GetHealth(context.Background(), "sync", "default", time.Minute)
	if err != nil {
		t.Fatalf("GetHealth: %v", err)
	}
	if snap.Overall == "" {
		t.Fatalf("expected a non-empty overall status")
	}
}
