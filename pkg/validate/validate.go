// Package validate implements the structural checks on ingress described
// in spec.md §4.2: message/envelope shape, dispatch options, and schedule
// configuration (including cron parseability).
package validate

import (
	"fmt"
	"time"

	"github.com/Ap3pp3rs94/symphony-messenger/pkg/envelope"
	"github.com/Ap3pp3rs94/symphony-messenger/pkg/merrors"
)

// DispatchOptions mirrors the caller-supplied options to Dispatch
// (spec.md §4.4/§4.7): an optional explicit transport, queue override,
// priority, idempotency key, and scheduled time.
type DispatchOptions struct {
	Transport      string
	Queue          string
	Priority       int
	IdempotencyKey string
	ScheduledAt    *time.Time
}

// Message validates a Message's structural shape (spec.md §4.2).
func Message(m envelope.Message) error {
	return m.Validate()
}

// Options validates dispatch options when present; zero values are
// treated as "unset" and are valid.
func Options(o DispatchOptions) error {
	if o.Transport != "" && !envelope.ValidName(o.Transport) {
		return merrors.Validation("transport name %q does not match the naming grammar", o.Transport)
	}
	if o.Queue != "" && !envelope.ValidName(o.Queue) {
		return merrors.Validation("queue name %q does not match the naming grammar", o.Queue)
	}
	if o.Priority != 0 && (o.Priority < envelope.MinPriority || o.Priority > envelope.MaxPriority) {
		return merrors.Validation("priority %d out of range [%d,%d]", o.Priority, envelope.MinPriority, envelope.MaxPriority)
	}
	if len(o.IdempotencyKey) > envelope.MaxIdempotencyKeyLen {
		return merrors.Validation("idempotency key exceeds %d characters", envelope.MaxIdempotencyKeyLen)
	}
	return nil
}

// Envelope validates a fully-built Envelope before it's handed to a
// transport (spec.md §3.2 invariants, enforced a second time at the
// transport boundary per §4.3's optional ValidateEnvelope hook).
func Envelope(e envelope.Envelope) error {
	return e.Validate()
}

// ScheduleType enumerates the supported schedule kinds (spec.md §3.4).
type ScheduleType string

const (
	ScheduleOnce     ScheduleType = "once"
	ScheduleCron     ScheduleType = "cron"
	ScheduleInterval ScheduleType = "interval"
)

// ScheduleConfig is the union of {at}, {cron}, {interval_ms} keyed by
// Type, plus the optional run cap (spec.md §3.4).
type ScheduleConfig struct {
	Type       ScheduleType
	At         *time.Time
	Cron       string
	IntervalMS int64

	// MaxRuns bounds how many times a cron/interval schedule fires before
	// it disables itself; 0 means unlimited (spec.md §3.4 invariant "once
	// run_count = max_runs, enabled=false and next_run_at=null").
	MaxRuns int
}

// ValidateSchedule checks a ScheduleConfig is well-formed. Cron
// parseability itself is delegated to the caller-supplied cronCheck so
// this package does not need to depend on pkg/scheduler (avoiding an
// import cycle); pass nil to skip the cron-specific check.
func ValidateSchedule(c ScheduleConfig, cronCheck func(string) error) error {
	if c.MaxRuns < 0 {
		return merrors.Validation("max_runs must not be negative")
	}
	switch c.Type {
	case ScheduleOnce:
		if c.At == nil {
			return merrors.Validation("once schedule requires \"at\"")
		}
	case ScheduleCron:
		if c.Cron == "" {
			return merrors.Validation("cron schedule requires \"cron\"")
		}
		if cronCheck != nil {
			if err := cronCheck(c.Cron); err != nil {
				return merrors.Validation("invalid cron expression: %v", err)
			}
		}
	case ScheduleInterval:
		if c.IntervalMS <= 0 {
			return merrors.Validation("interval schedule requires a positive interval_ms")
		}
	default:
		return merrors.Validation("unknown schedule type %q", fmt.Sprint(c.Type))
	}
	return nil
}
