package worker

import (
	"context"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/Ap3pp3rs94/symphony-messenger/pkg/envelope"
	"github.com/Ap3pp3rs94/symphony-messenger/pkg/handler"
	"github.com/Ap3pp3rs94/symphony-messenger/pkg/retry"
	"github.com/Ap3pp3rs94/symphony-messenger/pkg/retrymanager"
	"github.com/Ap3pp3rs94/symphony-messenger/pkg/transport"
	"github.com/google/uuid"
)

// fakeQueueTransport is a minimal FIFO queue satisfying transport.Transport,
// standing in for a durable backend so Pool's leasing/ack/reject/backoff
// mechanics can be exercised without a real database (the sync transport
// itself no longer queues anything — spec.md §4.3).
type fakeQueueTransport struct {
	mu      sync.Mutex
	pending []envelope.Envelope
	leased  map[string]envelope.Envelope
}

func newFakeQueueTransport() *fakeQueueTransport {
	return &fakeQueueTransport{leased: map[string]envelope.Envelope{}}
}

func (f *fakeQueueTransport) Name() string { return "fake" }

func (f *fakeQueueTransport) Send(_ context.Context, e envelope.Envelope) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.pending = append(f.pending, e)
	return nil
}

func (f *fakeQueueTransport) Receive(ctx context.Context, _ string, max int, wait time.Duration) ([]transport.ReceivedMessage, error) {
	deadline := time.Now().Add(wait)
	for {
		f.mu.Lock()
		if len(f.pending) > 0 {
			n := max
			if n > len(f.pending) {
				n = len(f.pending)
			}
			out := make([]transport.ReceivedMessage, 0, n)
			for i := 0; i < n; i++ {
				e := f.pending[i]
				receipt := uuid.NewString()
				f.leased[receipt] = e
				out = append(out, transport.ReceivedMessage{Envelope: e, Receipt: receipt})
			}
			f.pending = f.pending[n:]
			f.mu.Unlock()
			return out, nil
		}
		f.mu.Unlock()
		if time.Now().After(deadline) {
			return nil, transport.ErrEmpty
		}
		select {
		case <-ctx.Done():
			return nil, ctx.Err()
		case <-time.After(5 * time.Millisecond):
		}
	}
}

func (f *fakeQueueTransport) Acknowledge(_ context.Context, receipt string) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	if _, ok := f.leased[receipt]; !ok {
		return transport.ErrNotFound
	}
	delete(f.leased, receipt)
	return nil
}

func (f *fakeQueueTransport) Reject(_ context.Context, receipt string, _ time.Duration) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	e, ok := f.leased[receipt]
	if !ok {
		return transport.ErrNotFound
	}
	delete(f.leased, receipt)
	f.pending = append(f.pending, e)
	return nil
}

func (f *fakeQueueTransport) QueueDepth(_ context.Context, _ string) (int, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	return len(f.pending), nil
}

func TestPoolProcessesAndAcksMessage(t *testing.T) {
	tr := newFakeQueueTransport()
	ctx := context.Background()

	e := envelope.Envelope{
		ID:          envelope.NewMessageID(),
		Message:     envelope.Message{Type: "Echo", Payload: map[string]any{}},
		QueueName:   "work",
		Priority:    5,
		MaxRetries:  3,
		State:       envelope.StatePending,
		CreatedAt:   time.Now(),
		AvailableAt: time.Now(),
	}
	if err := tr.Send(ctx, e); err != nil {
		t.Fatalf("Send: %v", err)
	}

	reg := handler.NewRegistry()
	var processed int32
	_ = reg.Register("Echo", func(hc *handler.Context) error {
		atomic.AddInt32(&processed, 1)
		return nil
	})
	executor := handler.NewExecutor(reg, 0, nil)
	retryMgr := retrymanager.New(retry.NewStrategy(retry.DefaultConfig(), nil), nil)

	p := New(tr, executor, retryMgr, Options{Queue: "work", Concurrency: 1, PollTimeout: 50 * time.Millisecond})

	runCtx, cancel := context.WithTimeout(ctx, 300*time.Millisecond)
	defer cancel()
	_ = p.Run(runCtx)

	if atomic.LoadInt32(&processed) != 1 {
		t.Fatalf("expected message to be processed exactly once, got %d", processed)
	}
	depth, _ := tr.QueueDepth(ctx, "work")
	if depth != 0 {
		t.Fatalf("expected queue empty after ack, depth=%d", depth)
	}
}

func TestPoolRequeuesOnRetryableHandlerError(t *testing.T) {
	tr := newFakeQueueTransport()
	ctx := context.Background()

	e := envelope.Envelope{
		ID:          envelope.NewMessageID(),
		Message:     envelope.Message{Type: "Echo", Payload: map[string]any{}},
		QueueName:   "work",
		Priority:    5,
		MaxRetries:  3,
		State:       envelope.StatePending,
		CreatedAt:   time.Now(),
		AvailableAt: time.Now(),
	}
	if err := tr.Send(ctx, e); err != nil {
		t.Fatalf("Send: %v", err)
	}

	reg := handler.NewRegistry()
	var attempts int32
	_ = reg.Register("Echo", func(hc *handler.Context) error {
		atomic.AddInt32(&attempts, 1)
		return errIfFirst()
	})
	executor := handler.NewExecutor(reg, 0, nil)
	fastRetry := retry.NewStrategy(retry.Config{MaxRetries: 3, Delay: time.Millisecond, Multiplier: 1, MaxDelay: 10 * time.Millisecond}, nil)
	retryMgr := retrymanager.New(fastRetry, nil)

	p := New(tr, executor, retryMgr, Options{Queue: "work", Concurrency: 1, PollTimeout: 50 * time.Millisecond})

	runCtx, cancel := context.WithTimeout(ctx, 500*time.Millisecond)
	defer cancel()
	_ = p.Run(runCtx)

	if atomic.LoadInt32(&attempts) < 2 {
		t.Fatalf("expected the handler to be retried at least once, got %d attempts", attempts)
	}
}

func errIfFirst() error {
	return errRetryable
}

var errRetryable = &retryableErr{}

type retryableErr struct{}

func (e *retryableErr) Error() string { return "connection timeout" }
