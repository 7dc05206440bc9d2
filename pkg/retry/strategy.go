// Package retry implements the exponential-backoff-with-jitter retry
// strategy from spec.md §4.5, with per-message-type overrides and the
// normative retryable-error pattern set.
package retry

import (
	"crypto/sha256"
	"encoding/binary"
	"fmt"
	"regexp"
	"time"

	"github.com/Ap3pp3rs94/symphony-messenger/pkg/merrors"
)

// Config is one retry policy: either the "default" entry or a
// per-message-type override (spec.md §4.4/§4.5).
type Config struct {
	MaxRetries int           `json:"max_retries" yaml:"max_retries"`
	Delay      time.Duration `json:"delay_ms" yaml:"delay_ms"`
	Multiplier float64       `json:"multiplier" yaml:"multiplier"`
	MaxDelay   time.Duration `json:"max_delay_ms" yaml:"max_delay_ms"`
}

// DefaultConfig mirrors the teacher's DefaultRetryPolicy defaults, adapted
// to spec.md's field names.
func DefaultConfig() Config {
	return Config{
		MaxRetries: 3,
		Delay:      100 * time.Millisecond,
		Multiplier: 2.0,
		MaxDelay:   30 * time.Second,
	}
}

func (c Config) normalized() Config {
	if c.MaxRetries < 0 {
		c.MaxRetries = 0
	}
	if c.Delay <= 0 {
		c.Delay = 100 * time.Millisecond
	}
	if c.Multiplier < 1 {
		c.Multiplier = 2.0
	}
	if c.MaxDelay <= 0 {
		c.MaxDelay = 30 * time.Second
	}
	return c
}

// Validate checks a retry config is well-formed.
func (c Config) Validate() error {
	if c.MaxRetries < 0 {
		return merrors.Configuration("max_retries cannot be negative")
	}
	if c.Delay <= 0 {
		return merrors.Configuration("delay must be positive")
	}
	if c.Multiplier < 1 {
		return merrors.Configuration("multiplier must be >= 1")
	}
	if c.MaxDelay <= 0 || c.MaxDelay < c.Delay {
		return merrors.Configuration("max_delay must be positive and >= delay")
	}
	return nil
}

// retryablePattern is the normative set from spec.md §4.5, checked
// case-insensitively against an unknown error's message.
var retryablePattern = regexp.MustCompile(`(?i)network|timeout|temporary|unavailable|connection|econnrefused|etimedout|enotfound|econnreset|service unavailable|rate limit|too many requests`)

// Strategy evaluates retry decisions for a base config plus per-type
// overrides (spec.md §4.4 "retry" config block).
type Strategy struct {
	Default   Config
	Overrides map[string]Config // message type -> override
}

// NewStrategy builds a Strategy; def is normalized if zero-valued.
func NewStrategy(def Config, overrides map[string]Config) *Strategy {
	if overrides == nil {
		overrides = map[string]Config{}
	}
	return &Strategy{Default: def.normalized(), Overrides: overrides}
}

// ConfigFor resolves the effective config for a message type, falling
// back to the default (spec.md §4.5 "per-message-type overrides override
// the default").
func (s *Strategy) ConfigFor(messageType string) Config {
	if c, ok := s.Overrides[messageType]; ok {
		return c.normalized()
	}
	return s.Default
}

// Delay computes delay(retry_count) = min(base*multiplier^retry_count,
// max_delay), then applies symmetric jitter uniformly in [-10%,+10%],
// rounds to an integer millisecond, and clamps to >= 0 (spec.md §4.5).
func (s *Strategy) Delay(messageType string, retryCount int) time.Duration {
	c := s.ConfigFor(messageType)
	return delayFor(c, messageType, retryCount)
}

func delayFor(c Config, messageType string, retryCount int) time.Duration {
	if retryCount < 0 {
		retryCount = 0
	}
	base := float64(c.Delay)
	mult := c.Multiplier
	// cap the exponent so float overflow can't produce nonsense for
	// pathologically large retry counts; max_delay clamps the result anyway.
	exp := retryCount
	if exp > 62 {
		exp = 62
	}
	raw := base
	for i := 0; i < exp; i++ {
		raw *= mult
		if raw > float64(c.MaxDelay) {
			raw = float64(c.MaxDelay)
			break
		}
	}
	if raw > float64(c.MaxDelay) {
		raw = float64(c.MaxDelay)
	}

	jittered := deterministicJitter(time.Duration(raw), 10, messageType, retryCount)
	if jittered < 0 {
		jittered = 0
	}
	return jittered.Round(time.Millisecond)
}

// deterministicJitter applies symmetric jitter in [-pct%, +pct%] using a
// hash of the supplied parts as its source of randomness, so tests can
// reproduce the exact delay for a given (type, retry_count) pair — the
// same technique as pkg/queue.deterministicJitter.
func deterministicJitter(base time.Duration, pct int, parts ...any) time.Duration {
	if pct <= 0 {
		return base
	}
	h := sha256.New()
	for _, p := range parts {
		_, _ = h.Write([]byte(fmt.Sprint(p)))
		_, _ = h.Write([]byte{0})
	}
	sum := h.Sum(nil)
	u := binary.LittleEndian.Uint64(sum[:8])
	span := uint64(pct*2 + 1)
	deltaPct := int(u%span) - pct
	delta := (base * time.Duration(deltaPct)) / 100
	return base + delta
}

// ShouldRetry reports should_retry(retry_count) <-> retry_count <
// max_retries for the resolved config (spec.md §4.5).
func (s *Strategy) ShouldRetry(messageType string, retryCount int) bool {
	c := s.ConfigFor(messageType)
	return retryCount < c.MaxRetries
}

// MaxRetries returns the resolved max_retries for messageType.
func (s *Strategy) MaxRetries(messageType string) int {
	return s.ConfigFor(messageType).MaxRetries
}

// IsRetryable implements spec.md §4.5's is_retryable(error): a HandlerError
// explicitly marked non-retryable is never retried; an explicit true is
// always retried; otherwise an unknown error is retryable only if its
// message matches the normative pattern set.
func IsRetryable(err error) bool {
	if err == nil {
		return false
	}
	if he, ok := merrors.AsHandlerError(err); ok {
		if he.Retryable != nil {
			return *he.Retryable
		}
		return retryablePattern.MatchString(he.Error())
	}
	if kind, ok := merrors.KindOf(err); ok {
		switch kind {
		case merrors.KindValidation, merrors.KindConfiguration, merrors.KindSerialization, merrors.KindScheduler:
			return false
		}
	}
	return retryablePattern.MatchString(err.Error())
}
