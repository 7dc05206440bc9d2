// Package retrymanager decides, after a failed handler attempt, whether
// an envelope should be retried or dead-lettered (spec.md §4.9,
// component C9), bridging pkg/retry's backoff strategy to the
// transport's Reject/DeadLetter operations.
package retrymanager

import (
	"time"

	"github.com/Ap3pp3rs94/symphony-messenger/pkg/envelope"
	"github.com/Ap3pp3rs94/symphony-messenger/pkg/retry"
)

// LoggerFn matches the module-wide structured logging convention.
type LoggerFn func(level, msg string, fields map[string]any)

// Decision is the outcome of evaluating a failed attempt: either retry
// after Delay, or move to the dead-letter queue with Reason recorded.
type Decision struct {
	DeadLetter bool
	Delay      time.Duration
	Reason     string
}

// Manager evaluates retry decisions using a retry.Strategy.
type Manager struct {
	strategy *retry.Strategy
	log      LoggerFn
}

// New builds a Manager bound to strategy.
func New(strategy *retry.Strategy, log LoggerFn) *Manager {
	if log == nil {
		log = func(string, string, map[string]any) {}
	}
	return &Manager{strategy: strategy, log: log}
}

// Decide implements spec.md §4.9: a non-retryable error, or an envelope
// that has exhausted its retry budget, dead-letters; otherwise it
// retries after the strategy's computed backoff delay.
func (m *Manager) Decide(e envelope.Envelope, handlerErr error) Decision {
	reason := handlerErr.Error()

	if !retry.IsRetryable(handlerErr) {
		m.log("warn", "retry_manager_dead_letter", map[string]any{
			"message_id": e.ID, "message_type": e.Message.Type, "reason": "non_retryable", "error": reason,
		})
		return Decision{DeadLetter: true, Reason: reason}
	}

	maxRetries := e.MaxRetries
	if maxRetries == 0 {
		maxRetries = m.strategy.MaxRetries(e.Message.Type)
	}
	if e.RetryCount >= maxRetries {
		m.log("warn", "retry_manager_dead_letter", map[string]any{
			"message_id": e.ID, "message_type": e.Message.Type, "reason": "max_retries_exceeded", "retry_count": e.RetryCount,
		})
		return Decision{DeadLetter: true, Reason: "max_retries_exceeded: " + reason}
	}

	delay := m.strategy.Delay(e.Message.Type, e.RetryCount)
	m.log("info", "retry_manager_retry", map[string]any{
		"message_id": e.ID, "message_type": e.Message.Type, "retry_count": e.RetryCount, "delay_ms": delay.Milliseconds(),
	})
	return Decision{DeadLetter: false, Delay: delay, Reason: reason}
}
