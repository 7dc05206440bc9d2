package envelope

import (
	"time"

	"github.com/google/uuid"

	"github.com/Ap3pp3rs94/symphony-messenger/pkg/merrors"
)

// State is the lifecycle state of a persisted envelope (spec.md §3.2/§3.3).
type State string

const (
	StatePending  State = "pending"
	StateInFlight State = "in_flight"
	StateAcked    State = "acked"
	StateDead     State = "dead"
)

// Terminal reports whether s is a write-once terminal state.
func (s State) Terminal() bool { return s == StateAcked || s == StateDead }

const (
	MinPriority = 1
	MaxPriority = 10

	// MaxIdempotencyKeyLen bounds Envelope.IdempotencyKey per spec.md §3.2.
	MaxIdempotencyKeyLen = 255
)

// Envelope wraps a Message with transport-level metadata (spec.md §3.2).
type Envelope struct {
	ID             string         `json:"id"`
	Message        Message        `json:"message"`
	TransportName  string         `json:"transport_name"`
	QueueName      string         `json:"queue_name"`
	Priority       int            `json:"priority"`
	IdempotencyKey string         `json:"idempotency_key,omitempty"`
	ScheduledAt    *time.Time     `json:"scheduled_at,omitempty"`
	AvailableAt    time.Time      `json:"available_at"`
	State          State          `json:"state"`
	RetryCount     int            `json:"retry_count"`
	MaxRetries     int            `json:"max_retries"`
	LastError      string         `json:"last_error,omitempty"`
	ErrorClass     string         `json:"error_class,omitempty"`
	CreatedAt      time.Time      `json:"created_at"`
}

// NewMessageID returns a fresh UUID v4 string, used both for Message-level
// tracing IDs and Envelope.ID (spec.md §4.1).
func NewMessageID() string {
	return uuid.NewString()
}

// Validate enforces the Envelope invariants from spec.md §3.2.
func (e Envelope) Validate() error {
	if e.ID == "" {
		return merrors.Validation("envelope id is required")
	}
	if err := e.Message.Validate(); err != nil {
		return err
	}
	if !ValidName(e.TransportName) {
		return merrors.Validation("transport name %q does not match the naming grammar", e.TransportName)
	}
	if !ValidName(e.QueueName) {
		return merrors.Validation("queue name %q does not match the naming grammar", e.QueueName)
	}
	if e.Priority < MinPriority || e.Priority > MaxPriority {
		return merrors.Validation("priority %d out of range [%d,%d]", e.Priority, MinPriority, MaxPriority)
	}
	if len(e.IdempotencyKey) > MaxIdempotencyKeyLen {
		return merrors.Validation("idempotency key exceeds %d characters", MaxIdempotencyKeyLen)
	}
	if e.RetryCount < 0 {
		return merrors.Validation("retry_count cannot be negative")
	}
	if !e.State.Terminal() && e.RetryCount > e.MaxRetries {
		return merrors.Validation("retry_count %d exceeds max_retries %d", e.RetryCount, e.MaxRetries)
	}
	if e.ScheduledAt != nil && e.AvailableAt.Before(*e.ScheduledAt) {
		return merrors.Validation("available_at must be >= scheduled_at")
	}
	return nil
}

// WithAvailability computes AvailableAt from ScheduledAt (or now) per
// spec.md §3.2's "initially now or scheduled_at" rule, and returns the copy.
func (e Envelope) WithAvailability(now time.Time) Envelope {
	if e.ScheduledAt != nil && e.ScheduledAt.After(now) {
		e.AvailableAt = *e.ScheduledAt
	} else {
		e.AvailableAt = now
	}
	return e
}
