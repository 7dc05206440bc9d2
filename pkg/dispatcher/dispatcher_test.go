package dispatcher

import (
	"context"
	"testing"

	"github.com/Ap3pp3rs94/symphony-messenger/pkg/config"
	"github.com/Ap3pp3rs94/symphony-messenger/pkg/envelope"
	"github.com/Ap3pp3rs94/symphony-messenger/pkg/merrors"
	"github.com/Ap3pp3rs94/symphony-messenger/pkg/retry"
	"github.com/Ap3pp3rs94/symphony-messenger/pkg/transport"
	"github.com/Ap3pp3rs94/symphony-messenger/pkg/validate"
)

type fakeRegistry struct {
	transports map[string]transport.Transport
}

func (f fakeRegistry) Transport(name string) (transport.Transport, bool) {
	t, ok := f.transports[name]
	return t, ok
}

type fakeExecutor struct {
	calls int
	err   error
}

func (f *fakeExecutor) Execute(_ context.Context, _ envelope.Envelope) error {
	f.calls++
	return f.err
}

func testConfig() config.Config {
	return config.Config{
		DefaultTransport: "sync",
		DefaultQueue:     "default",
		DefaultPriority:  5,
		Transports: map[string]config.TransportConfig{
			"sync": {Type: "sync", Queue: "default"},
		},
		Retry: map[string]retry.Config{"default": retry.DefaultConfig()},
	}
}

func TestDispatchSendsOnResolvedTransport(t *testing.T) {
	sync := transport.NewSync()
	exec := &fakeExecutor{}
	sync.BindExecutor(exec)
	reg := fakeRegistry{transports: map[string]transport.Transport{"sync": sync}}
	router := config.NewRouter(testConfig())
	d := New(reg, router, nil)

	msg := envelope.Message{Type: "Echo", Payload: map[string]any{"n": 1}}
	id, err := d.Dispatch(context.Background(), msg, validate.DispatchOptions{})
	if err != nil {
		t.Fatalf("Dispatch: %v", err)
	}
	if id == "" {
		t.Fatalf("expected a non-empty envelope id")
	}
	if exec.calls != 1 {
		t.Fatalf("expected the sync transport to run the handler inline exactly once, got %d", exec.calls)
	}
	depth, err := sync.QueueDepth(context.Background(), "default")
	if err != nil {
		t.Fatalf("QueueDepth: %v", err)
	}
	if depth != 0 {
		t.Fatalf("expected the sync transport to never hold a backlog, got depth %d", depth)
	}
}

func TestDispatchRejectsInvalidMessage(t *testing.T) {
	sync := transport.NewSync()
	sync.BindExecutor(&fakeExecutor{})
	reg := fakeRegistry{transports: map[string]transport.Transport{"sync": sync}}
	router := config.NewRouter(testConfig())
	d := New(reg, router, nil)

	_, err := d.Dispatch(context.Background(), envelope.Message{Type: "1Bad"}, validate.DispatchOptions{})
	if err == nil {
		t.Fatalf("expected validation error for malformed message type")
	}
}

func TestDispatchUnknownTransport(t *testing.T) {
	reg := fakeRegistry{transports: map[string]transport.Transport{}}
	router := config.NewRouter(testConfig())
	d := New(reg, router, nil)

	msg := envelope.Message{Type: "Echo", Payload: map[string]any{}}
	_, err := d.Dispatch(context.Background(), msg, validate.DispatchOptions{})
	if err == nil {
		t.Fatalf("expected error when default_transport has no registered Transport")
	}
}

func TestDispatchBatchRespectsMaxSize(t *testing.T) {
	sync := transport.NewSync()
	sync.BindExecutor(&fakeExecutor{})
	reg := fakeRegistry{transports: map[string]transport.Transport{"sync": sync}}
	router := config.NewRouter(testConfig())
	d := New(reg, router, nil)

	msgs := make([]envelope.Message, transport.MaxBatchSize+1)
	for i := range msgs {
		msgs[i] = envelope.Message{Type: "Echo", Payload: map[string]any{}}
	}
	_, err := d.DispatchBatch(context.Background(), msgs, validate.DispatchOptions{})
	if err == nil {
		t.Fatalf("expected error exceeding max batch size")
	}
}

func TestDispatchSurfacesHandlerErrorFromSyncTransport(t *testing.T) {
	sync := transport.NewSync()
	want := merrors.NonRetryable("boom", "test_error", nil)
	sync.BindExecutor(&fakeExecutor{err: want})
	reg := fakeRegistry{transports: map[string]transport.Transport{"sync": sync}}
	router := config.NewRouter(testConfig())
	d := New(reg, router, nil)

	msg := envelope.Message{Type: "Echo", Payload: map[string]any{}}
	_, err := d.Dispatch(context.Background(), msg, validate.DispatchOptions{})
	if err == nil {
		t.Fatalf("expected the handler error to surface as the dispatch result")
	}
}
