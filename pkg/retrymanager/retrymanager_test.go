package retrymanager

import (
	"errors"
	"testing"
	"time"

	"github.com/Ap3pp3rs94/symphony-messenger/pkg/envelope"
	"github.com/Ap3pp3rs94/symphony-messenger/pkg/merrors"
	"github.com/Ap3pp3rs94/symphony-messenger/pkg/retry"
)

func testEnvelope() envelope.Envelope {
	return envelope.Envelope{
		ID:         "m1",
		Message:    envelope.Message{Type: "Echo", Payload: map[string]any{}},
		MaxRetries: 3,
		RetryCount: 0,
		CreatedAt:  time.Now(),
	}
}

func TestDecideRetriesRetryableError(t *testing.T) {
	m := New(retry.NewStrategy(retry.DefaultConfig(), nil), nil)
	d := m.Decide(testEnvelope(), errors.New("connection timeout"))
	if d.DeadLetter {
		t.Fatalf("expected a retry decision, got dead-letter")
	}
}

func TestDecideDeadLettersNonRetryableError(t *testing.T) {
	m := New(retry.NewStrategy(retry.DefaultConfig(), nil), nil)
	d := m.Decide(testEnvelope(), merrors.Validation("bad payload"))
	if !d.DeadLetter {
		t.Fatalf("expected dead-letter for a non-retryable validation error")
	}
}

func TestDecideDeadLettersOnExhaustedRetries(t *testing.T) {
	m := New(retry.NewStrategy(retry.DefaultConfig(), nil), nil)
	e := testEnvelope()
	e.RetryCount = 3
	d := m.Decide(e, errors.New("connection timeout"))
	if !d.DeadLetter {
		t.Fatalf("expected dead-letter once retry_count reaches max_retries")
	}
}

func TestDecideUsesPerTypeOverride(t *testing.T) {
	strategy := retry.NewStrategy(retry.DefaultConfig(), map[string]retry.Config{
		"Echo": {MaxRetries: 1, Delay: 10 * time.Millisecond, Multiplier: 2, MaxDelay: time.Second},
	})
	m := New(strategy, nil)
	e := testEnvelope()
	e.MaxRetries = 0 // force fallback onto the strategy's per-type override
	e.RetryCount = 1
	d := m.Decide(e, errors.New("connection timeout"))
	if !d.DeadLetter {
		t.Fatalf("expected dead-letter once the per-type override's max_retries is reached")
	}
}
