package envelope

import (
	"crypto/sha256"
	"encoding/hex"
	"encoding/json"
	"fmt"
	"time"

	"github.com/Ap3pp3rs94/symphony-messenger/pkg/merrors"
)

// wireEnvelope is the JSON-on-the-wire shape: dates are ISO-8601 UTC
// strings (spec.md §4.1/§6.4), never numeric timestamps.
type wireEnvelope struct {
	ID             string         `json:"id"`
	Message        wireMessage    `json:"message"`
	TransportName  string         `json:"transport_name"`
	QueueName      string         `json:"queue_name"`
	Priority       int            `json:"priority"`
	IdempotencyKey string         `json:"idempotency_key,omitempty"`
	ScheduledAt    *string        `json:"scheduled_at,omitempty"`
	AvailableAt    string         `json:"available_at"`
	State          string         `json:"state"`
	RetryCount     int            `json:"retry_count"`
	MaxRetries     int            `json:"max_retries"`
	LastError      string         `json:"last_error,omitempty"`
	ErrorClass     string         `json:"error_class,omitempty"`
	CreatedAt      string         `json:"created_at"`
}

type wireMessage struct {
	Type     string         `json:"type"`
	Payload  map[string]any `json:"payload"`
	Metadata map[string]any `json:"metadata,omitempty"`
}

// SerializeMessage renders a Message to canonical JSON bytes.
func SerializeMessage(m Message) ([]byte, error) {
	if err := m.Validate(); err != nil {
		return nil, err
	}
	b, err := json.Marshal(wireMessage{Type: m.Type, Payload: m.Payload, Metadata: NormalizeMetadata(m.Metadata)})
	if err != nil {
		return nil, merrors.Serialization("marshal message: %v", err)
	}
	return b, nil
}

// DeserializeMessage parses canonical JSON bytes back into a Message.
func DeserializeMessage(b []byte) (Message, error) {
	var w wireMessage
	if err := json.Unmarshal(b, &w); err != nil {
		return Message{}, merrors.Serialization("unmarshal message: %v", err)
	}
	m := Message{Type: w.Type, Payload: w.Payload, Metadata: w.Metadata}
	if err := m.Validate(); err != nil {
		return Message{}, err
	}
	return m, nil
}

// SerializeEnvelope renders an Envelope to canonical wire JSON, with all
// timestamps as ISO-8601 UTC strings.
func SerializeEnvelope(e Envelope) ([]byte, error) {
	w := wireEnvelope{
		ID:             e.ID,
		Message:        wireMessage{Type: e.Message.Type, Payload: e.Message.Payload, Metadata: NormalizeMetadata(e.Message.Metadata)},
		TransportName:  e.TransportName,
		QueueName:      e.QueueName,
		Priority:       e.Priority,
		IdempotencyKey: e.IdempotencyKey,
		AvailableAt:    formatTime(e.AvailableAt),
		State:          string(e.State),
		RetryCount:     e.RetryCount,
		MaxRetries:     e.MaxRetries,
		LastError:      e.LastError,
		ErrorClass:     e.ErrorClass,
		CreatedAt:      formatTime(e.CreatedAt),
	}
	if e.ScheduledAt != nil {
		s := formatTime(*e.ScheduledAt)
		w.ScheduledAt = &s
	}
	b, err := json.Marshal(w)
	if err != nil {
		return nil, merrors.Serialization("marshal envelope: %v", err)
	}
	return b, nil
}

// DeserializeEnvelope parses canonical wire JSON back into an Envelope,
// round-tripping with SerializeEnvelope modulo field order.
func DeserializeEnvelope(b []byte) (Envelope, error) {
	var w wireEnvelope
	if err := json.Unmarshal(b, &w); err != nil {
		return Envelope{}, merrors.Serialization("unmarshal envelope: %v", err)
	}
	avail, err := parseTime(w.AvailableAt)
	if err != nil {
		return Envelope{}, merrors.Serialization("available_at: %v", err)
	}
	created, err := parseTime(w.CreatedAt)
	if err != nil {
		return Envelope{}, merrors.Serialization("created_at: %v", err)
	}
	e := Envelope{
		ID:             w.ID,
		Message:        Message{Type: w.Message.Type, Payload: w.Message.Payload, Metadata: w.Message.Metadata},
		TransportName:  w.TransportName,
		QueueName:      w.QueueName,
		Priority:       w.Priority,
		IdempotencyKey: w.IdempotencyKey,
		AvailableAt:    avail,
		State:          State(w.State),
		RetryCount:     w.RetryCount,
		MaxRetries:     w.MaxRetries,
		LastError:      w.LastError,
		ErrorClass:     w.ErrorClass,
		CreatedAt:      created,
	}
	if w.ScheduledAt != nil {
		t, err := parseTime(*w.ScheduledAt)
		if err != nil {
			return Envelope{}, merrors.Serialization("scheduled_at: %v", err)
		}
		e.ScheduledAt = &t
	}
	return e, nil
}

func formatTime(t time.Time) string {
	return t.UTC().Format(time.RFC3339Nano)
}

func parseTime(s string) (time.Time, error) {
	if s == "" {
		return time.Time{}, fmt.Errorf("empty timestamp")
	}
	t, err := time.Parse(time.RFC3339Nano, s)
	if err != nil {
		return time.Time{}, err
	}
	return t.UTC(), nil
}

// NewIdempotencyKey computes a stable, textual deduplication key for a
// message, scoped by its type and any caller-supplied extras (typically
// the target transport and queue name, spec.md §4.4's auto-generated
// idempotency key). Parts are canonicalized via JSON (map keys sorted by
// Go's encoding/json) before hashing, so the same logical message always
// hashes to the same key regardless of map iteration order.
func NewIdempotencyKey(m Message, extras ...any) (string, error) {
	if !ValidType(m.Type) {
		return "", merrors.Validation("message type %q does not match the identifier grammar", m.Type)
	}
	parts := struct {
		Type    string
		Payload map[string]any
		Extras  []any
	}{Type: m.Type, Payload: m.Payload, Extras: extras}
	b, err := json.Marshal(parts)
	if err != nil {
		return "", merrors.Serialization("marshal idempotency parts: %v", err)
	}
	sum := sha256.Sum256(b)
	return "v1:" + m.Type + ":" + hex.EncodeToString(sum[:]), nil
}

// StableHash returns a deterministic sha256 over the envelope's identity
// fields, letting operators correlate dead-lettered rows across
// re-dispatches.
func StableHash(e Envelope) string {
	h := sha256.New()
	write := func(s string) { _, _ = h.Write([]byte(s)); _, _ = h.Write([]byte{0}) }
	write(e.TransportName)
	write(e.QueueName)
	write(e.Message.Type)
	write(e.IdempotencyKey)
	return hex.EncodeToString(h.Sum(nil))
}
