// Package transport defines the backend-agnostic contract that every
// message backend (sync, postgres, sqlite, ...) implements, adapted from
// the teacher's pkg/queue.Queue contract down to the envelope/message
// shape of this module (spec.md §4.3).
package transport

import (
	"context"
	"time"

	"github.com/Ap3pp3rs94/symphony-messenger/pkg/envelope"
)

// MaxBatchSize bounds SendBatch, mirroring the teacher's queue.MaxBatchSize.
const MaxBatchSize = 100

// ReceivedMessage pairs a leased envelope with an opaque receipt the
// transport needs to Acknowledge or Reject it later.
type ReceivedMessage struct {
	Envelope envelope.Envelope
	Receipt  string
}

// Transport is the contract every backend must satisfy (spec.md §4.3,
// component C3). Send enqueues; Receive leases up to max messages,
// blocking no longer than wait for at least one to become available;
// Acknowledge removes a leased message permanently; Reject returns it to
// the backend, optionally with a delay before it becomes visible again.
type Transport interface {
	Name() string

	Send(ctx context.Context, e envelope.Envelope) error

	Receive(ctx context.Context, queue string, max int, wait time.Duration) ([]ReceivedMessage, error)

	Acknowledge(ctx context.Context, receipt string) error

	Reject(ctx context.Context, receipt string, delay time.Duration) error

	QueueDepth(ctx context.Context, queue string) (int, error)
}

// BatchSender is an optional capability: transports that can accept many
// envelopes in one call implement it. Dispatcher falls back to looped
// Send when a transport does not.
type BatchSender interface {
	SendBatch(ctx context.Context, envs []envelope.Envelope) error
}

// EnvelopeValidator is an optional capability letting a transport reject
// envelopes it cannot carry (e.g. a size limit) before Send is attempted.
type EnvelopeValidator interface {
	ValidateEnvelope(e envelope.Envelope) error
}

// IdempotentSender is an optional capability for transports that collapse
// duplicate sends keyed on (message type, idempotency key), returning the
// id of the pre-existing envelope instead of silently accepting a
// duplicate (spec.md §4.3/§6.2 "same key + type ⇒ return existing id").
// Durable implements it; Dispatcher prefers it over Send when present so
// a caller retrying a dispatch observes the original message id.
type IdempotentSender interface {
	SendIdempotent(ctx context.Context, e envelope.Envelope) (existingID string, err error)
}

// SendBatch calls t.SendBatch when available, otherwise loops Send,
// stopping and returning the first error (spec.md §4.3 "SendBatch is
// optional; default to repeated Send").
func SendBatch(ctx context.Context, t Transport, envs []envelope.Envelope) error {
	if len(envs) > MaxBatchSize {
		return ErrBatchTooLarge
	}
	if bs, ok := t.(BatchSender); ok {
		return bs.SendBatch(ctx, envs)
	}
	for _, e := range envs {
		if err := t.Send(ctx, e); err != nil {
			return err
		}
	}
	return nil
}
