package transport

import (
	"context"
	"time"

	"github.com/Ap3pp3rs94/symphony-messenger/pkg/envelope"
)

// PersistenceDriver is the minimal SQL-shaped contract a durable backend
// must provide. Durable implements the Transport contract on top of any
// driver, so postgres and sqlite share all lease/retry/dead-letter logic
// and differ only in the SQL dialect needed to claim a row atomically.
type PersistenceDriver interface {
	// Insert persists a new envelope row in StatePending. If a row already
	// exists for e's (message type, idempotency key) pair, the insert is
	// skipped and existingID carries the id of that pre-existing row
	// (spec.md §4.3/§6.2 "same key + type ⇒ return existing id");
	// existingID is empty for a fresh insert.
	Insert(ctx context.Context, e envelope.Envelope) (existingID string, err error)

	// Claim atomically selects up to max due, pending-or-expired rows from
	// queue and marks them in-flight with a lease expiring after
	// visibility, returning what it claimed. Implementations must do this
	// as a single atomic statement (e.g. UPDATE ... RETURNING, or
	// SELECT ... FOR UPDATE SKIP LOCKED followed by UPDATE) so concurrent
	// claimants never double-lease a row.
	Claim(ctx context.Context, queue string, max int, visibility time.Duration, now time.Time) ([]ReceivedMessage, error)

	// Delete permanently removes the row behind receipt (Acknowledge).
	Delete(ctx context.Context, receipt string) error

	// Release returns the row behind receipt to StatePending, available
	// again after delay, incrementing retry_count by one.
	Release(ctx context.Context, receipt string, delay time.Duration, lastError string) error

	// DeadLetter moves the row behind receipt to StateDead.
	DeadLetter(ctx context.Context, receipt string, reason string) error

	// Depth counts pending+in-flight rows for queue.
	Depth(ctx context.Context, queue string) (int, error)

	// ReclaimExpired resets in-flight rows whose lease has passed back to
	// pending, returning how many rows it touched (the reaper's
	// reclaim_count diagnostic).
	ReclaimExpired(ctx context.Context, now time.Time) (int, error)

	// ListDeadLettered returns up to limit StateDead rows for queue, most
	// recently dead-lettered first, for dead-letter inspection/admin
	// tooling.
	ListDeadLettered(ctx context.Context, queue string, limit int) ([]envelope.Envelope, error)

	Close() error
}
