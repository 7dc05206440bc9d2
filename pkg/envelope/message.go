// Package envelope defines the canonical message and envelope types that
// flow through the messenger: the Message payload contract, the transport
// envelope that wraps it, and the (de)serialization contract between the
// two representations.
package envelope

import (
	"regexp"
	"strings"

	"github.com/Ap3pp3rs94/symphony-messenger/pkg/merrors"
)

// typeGrammar is the identifier grammar messages must satisfy: a letter
// followed by letters, digits, or underscores.
var typeGrammar = regexp.MustCompile(`^[A-Za-z][A-Za-z0-9_]*$`)

// nameGrammar is the grammar transport and queue names must satisfy.
var nameGrammar = regexp.MustCompile(`^[A-Za-z0-9_-]+$`)

// Message is the tagged record a caller dispatches: a type identifier, a
// structured payload, and optional free-form metadata. Payload and
// Metadata are opaque structured trees (JSON-serializable maps) — handlers
// project them into their own typed schema inside middleware.
type Message struct {
	Type     string         `json:"type"`
	Payload  map[string]any `json:"payload"`
	Metadata map[string]any `json:"metadata,omitempty"`
}

// ValidType reports whether t satisfies the message-type identifier grammar.
func ValidType(t string) bool {
	return typeGrammar.MatchString(t)
}

// ValidName reports whether n satisfies the transport/queue name grammar.
func ValidName(n string) bool {
	return nameGrammar.MatchString(n)
}

// Validate performs the structural checks on a Message described in
// spec.md §4.2: type grammar and a non-nil structured payload.
func (m Message) Validate() error {
	if !ValidType(m.Type) {
		return merrors.Validation("message type %q does not match the identifier grammar", m.Type)
	}
	if m.Payload == nil {
		return merrors.Validation("message payload must be a structured map")
	}
	return nil
}

// NormalizeMetadata returns a bounded, deterministic copy of a metadata
// map: keys lower-cased and trimmed, values trimmed when they are plain
// strings. Mirrors the header-normalization discipline the reference queue
// contract applies to envelope headers.
func NormalizeMetadata(meta map[string]any) map[string]any {
	if meta == nil {
		return nil
	}
	out := make(map[string]any, len(meta))
	for k, v := range meta {
		k2 := strings.ToLower(strings.TrimSpace(k))
		if k2 == "" {
			continue
		}
		if s, ok := v.(string); ok {
			v = strings.TrimSpace(s)
		}
		out[k2] = v
	}
	if len(out) == 0 {
		return nil
	}
	return out
}
