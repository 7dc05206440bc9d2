package transport

import (
	"context"
	"time"

	"github.com/Ap3pp3rs94/symphony-messenger/pkg/envelope"
)

// DefaultVisibility is the lease window Durable grants a claimed message
// when the caller doesn't ask for a longer wait-derived one.
const DefaultVisibility = 30 * time.Second

// Durable is the database-backed transport (spec.md §4.3 "Durable
// transport"): messages survive a process restart, and a background
// reaper reclaims leases abandoned by a crashed worker. It implements
// Transport purely in terms of a PersistenceDriver, so the SQL dialect
// lives in postgres/ and sqlite/ and the lease/retry bookkeeping lives
// here once.
type Durable struct {
	name   string
	driver PersistenceDriver
}

// NewDurable wraps driver as a Transport named name (e.g. "postgres",
// "sqlite" — the name surfaces in config.TransportConfig.Type and in
// metrics labels).
func NewDurable(name string, driver PersistenceDriver) *Durable {
	return &Durable{name: name, driver: driver}
}

func (d *Durable) Name() string { return d.name }

func (d *Durable) Send(ctx context.Context, e envelope.Envelope) error {
	_, err := d.driver.Insert(ctx, e)
	return err
}

// SendIdempotent is the same insert Send performs, but also surfaces the
// id of a pre-existing row when e's (message type, idempotency key) pair
// already occupies a row, so Dispatcher can hand the caller back the
// original message's id instead of a freshly minted one.
func (d *Durable) SendIdempotent(ctx context.Context, e envelope.Envelope) (string, error) {
	return d.driver.Insert(ctx, e)
}

func (d *Durable) SendBatch(ctx context.Context, envs []envelope.Envelope) error {
	if len(envs) > MaxBatchSize {
		return ErrBatchTooLarge
	}
	for _, e := range envs {
		if _, err := d.driver.Insert(ctx, e); err != nil {
			return err
		}
	}
	return nil
}

func (d *Durable) Receive(ctx context.Context, queue string, max int, wait time.Duration) ([]ReceivedMessage, error) {
	if max <= 0 {
		max = 1
	}
	deadline := time.Now().Add(wait)
	for {
		msgs, err := d.driver.Claim(ctx, queue, max, DefaultVisibility, time.Now())
		if err != nil {
			return nil, err
		}
		if len(msgs) > 0 {
			return msgs, nil
		}
		if time.Now().After(deadline) {
			return nil, ErrEmpty
		}
		timer := time.NewTimer(250 * time.Millisecond)
		select {
		case <-ctx.Done():
			timer.Stop()
			return nil, ctx.Err()
		case <-timer.C:
		}
	}
}

func (d *Durable) Acknowledge(ctx context.Context, receipt string) error {
	return d.driver.Delete(ctx, receipt)
}

func (d *Durable) Reject(ctx context.Context, receipt string, delay time.Duration) error {
	return d.driver.Release(ctx, receipt, delay, "")
}

// RejectWithReason is the richer form the retry manager (pkg/retrymanager)
// uses to record why a message was returned to the queue, threaded
// through to the row's last_error column.
func (d *Durable) RejectWithReason(ctx context.Context, receipt string, delay time.Duration, lastError string) error {
	return d.driver.Release(ctx, receipt, delay, lastError)
}

// DeadLetter moves receipt to the dead-letter state. Callers typically
// reach this through pkg/retrymanager rather than directly.
func (d *Durable) DeadLetter(ctx context.Context, receipt string, reason string) error {
	return d.driver.DeadLetter(ctx, receipt, reason)
}

func (d *Durable) QueueDepth(ctx context.Context, queue string) (int, error) {
	return d.driver.Depth(ctx, queue)
}

// ReclaimExpiredLeases resets abandoned in-flight rows back to pending
// and reports how many it touched, for the caller (typically a
// background ticker owned by the worker pool, spec.md §4.8) to log as a
// reclaim_count diagnostic.
func (d *Durable) ReclaimExpiredLeases(ctx context.Context) (int, error) {
	return d.driver.ReclaimExpired(ctx, time.Now())
}

// DeadLetters returns up to limit dead-lettered envelopes for queue,
// most recent first, for admin/inspection tooling.
func (d *Durable) DeadLetters(ctx context.Context, queue string, limit int) ([]envelope.Envelope, error) {
	if limit <= 0 {
		limit = 50
	}
	return d.driver.ListDeadLettered(ctx, queue, limit)
}

func (d *Durable) Close() error { return d.driver.Close() }
