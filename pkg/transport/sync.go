package transport

import (
	"context"
	"sync"
	"time"

	"github.com/Ap3pp3rs94/symphony-messenger/pkg/envelope"
	"github.com/Ap3pp3rs94/symphony-messenger/pkg/merrors"
)

// Executor is the narrow capability the sync transport needs to run a
// handler inline; pkg/handler.Executor satisfies it without this package
// importing pkg/handler.
type Executor interface {
	Execute(ctx context.Context, e envelope.Envelope) error
}

// Sync is the in-process transport (spec.md §4.3 "Sync transport"):
// Send resolves and runs the bound handler in the caller's own goroutine
// and returns only once the handler has finished, surfacing any handler
// error as the Send error. Messages never touch a queue, so Receive
// always comes back empty and QueueDepth is always zero — there is
// nothing for a worker pool to lease.
type Sync struct {
	mu     sync.Mutex
	exec   Executor
	closed bool
}

// NewSync constructs a Sync transport with no executor bound. Send fails
// until BindExecutor is called; pkg/messenger.RegisterTransport does this
// automatically for any registered transport that implements it.
func NewSync() *Sync {
	return &Sync{}
}

func (s *Sync) Name() string { return "sync" }

// BindExecutor attaches the handler executor Send invokes inline.
func (s *Sync) BindExecutor(exec Executor) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.exec = exec
}

// Send runs e's handler synchronously and returns its result (spec.md
// §4.3/§4.7, §9 design note: Send is the receipt, resolved only after the
// handler completes).
func (s *Sync) Send(ctx context.Context, e envelope.Envelope) error {
	s.mu.Lock()
	closed := s.closed
	exec := s.exec
	s.mu.Unlock()
	if closed {
		return ErrClosed
	}
	if exec == nil {
		return merrors.Configuration("sync transport: no executor bound; register it via messenger.RegisterTransport before dispatching")
	}
	return exec.Execute(ctx, e)
}

// SendBatch runs each envelope's handler in turn, stopping at the first
// error (spec.md §4.3 "SendBatch is optional; default to repeated Send").
func (s *Sync) SendBatch(ctx context.Context, envs []envelope.Envelope) error {
	if len(envs) > MaxBatchSize {
		return ErrBatchTooLarge
	}
	for _, e := range envs {
		if err := s.Send(ctx, e); err != nil {
			return err
		}
	}
	return nil
}

// Receive always returns ErrEmpty: sync messages are never queued, so
// there is nothing for a worker pool to lease (spec.md §4.3).
func (s *Sync) Receive(ctx context.Context, queue string, max int, wait time.Duration) ([]ReceivedMessage, error) {
	s.mu.Lock()
	closed := s.closed
	s.mu.Unlock()
	if closed {
		return nil, ErrClosed
	}
	return nil, ErrEmpty
}

// Acknowledge always fails: Sync issues no receipts, since nothing is
// ever leased via Receive.
func (s *Sync) Acknowledge(_ context.Context, _ string) error { return ErrNotFound }

// Reject always fails, for the same reason as Acknowledge.
func (s *Sync) Reject(_ context.Context, _ string, _ time.Duration) error { return ErrNotFound }

// QueueDepth is always zero: Sync never holds a backlog (spec.md §4.3).
func (s *Sync) QueueDepth(_ context.Context, _ string) (int, error) { return 0, nil }

func (s *Sync) Close() error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.closed = true
	return nil
}
