// Package handler implements the message-type handler registry and the
// middleware-wrapped executor that dispatches a leased envelope to its
// registered handler (spec.md §4.6, component C6), adapted from the
// teacher's services/orchestrator/internal/workflow Executor/StepHandler
// pattern and its LoggerFn logging convention.
package handler

import (
	"context"
	"time"

	"github.com/Ap3pp3rs94/symphony-messenger/pkg/envelope"
)

// LoggerFn is the structured logging signature used across this module,
// grounded on the teacher's workflow.LoggerFn.
type LoggerFn func(level, msg string, fields map[string]any)

// Context carries the envelope and per-attempt bookkeeping into a
// handler invocation.
type Context struct {
	context.Context

	Envelope envelope.Envelope
	Attempt  int
}

// Handler processes one message. Returning a non-nil error marks the
// attempt failed; pkg/retrymanager decides whether that means retry or
// dead-letter (spec.md §4.9).
type Handler func(hc *Context) error

// Middleware wraps a Handler with cross-cutting behavior, composed in
// the order listed in spec.md §4.6: ErrorHandling, then Validation, then
// Performance, then Logging, then the handler itself.
type Middleware func(next Handler) Handler

// Chain composes middlewares around base in the order given, so the
// first middleware in the slice is the outermost wrapper.
func Chain(base Handler, mws ...Middleware) Handler {
	h := base
	for i := len(mws) - 1; i >= 0; i-- {
		h = mws[i](h)
	}
	return h
}

// LoggingMiddleware logs attempt start/ok/error, grounded on the
// teacher's step_start/step_ok/step_error trace events.
func LoggingMiddleware(log LoggerFn) Middleware {
	if log == nil {
		log = func(string, string, map[string]any) {}
	}
	return func(next Handler) Handler {
		return func(hc *Context) error {
			start := time.Now()
			log("info", "handler_start", map[string]any{
				"message_id":   hc.Envelope.ID,
				"message_type": hc.Envelope.Message.Type,
				"attempt":      hc.Attempt,
			})
			err := next(hc)
			dur := time.Since(start)
			if err != nil {
				log("error", "handler_error", map[string]any{
					"message_id":   hc.Envelope.ID,
					"message_type": hc.Envelope.Message.Type,
					"attempt":      hc.Attempt,
					"duration_ms":  dur.Milliseconds(),
					"error":        err.Error(),
				})
				return err
			}
			log("info", "handler_ok", map[string]any{
				"message_id":   hc.Envelope.ID,
				"message_type": hc.Envelope.Message.Type,
				"attempt":      hc.Attempt,
				"duration_ms":  dur.Milliseconds(),
			})
			return nil
		}
	}
}

// ValidationMiddleware re-validates the envelope before invoking the
// handler, guarding against a message mutated or corrupted between
// dispatch-time validation and delivery.
func ValidationMiddleware() Middleware {
	return func(next Handler) Handler {
		return func(hc *Context) error {
			if err := hc.Envelope.Validate(); err != nil {
				return err
			}
			return next(hc)
		}
	}
}

// PerformanceMiddleware records handler duration via observe, e.g. into
// pkg/metrics, without interpreting success/failure itself.
func PerformanceMiddleware(observe func(messageType string, d time.Duration)) Middleware {
	if observe == nil {
		observe = func(string, time.Duration) {}
	}
	return func(next Handler) Handler {
		return func(hc *Context) error {
			start := time.Now()
			err := next(hc)
			observe(hc.Envelope.Message.Type, time.Since(start))
			return err
		}
	}
}

// ErrorHandlingMiddleware normalizes a panicking handler into an error,
// so a single bad handler can't take down a worker goroutine (spec.md §5
// "a panicking handler must not crash the worker pool").
func ErrorHandlingMiddleware() Middleware {
	return func(next Handler) Handler {
		return func(hc *Context) (err error) {
			defer func() {
				if r := recover(); r != nil {
					err = &PanicError{Recovered: r}
				}
			}()
			return next(hc)
		}
	}
}

// PanicError wraps a recovered panic value as a normal error.
type PanicError struct {
	Recovered any
}

func (e *PanicError) Error() string {
	return "handler panicked: " + formatRecovered(e.Recovered)
}

func formatRecovered(v any) string {
	if err, ok := v.(error); ok {
		return err.Error()
	}
	if s, ok := v.(string); ok {
		return s
	}
	return "unknown panic value"
}

// DefaultMiddlewares returns the spec's default ordering: ErrorHandling,
// Validation, Performance, Logging — wrapping the handler in that order
// from outermost to innermost (spec.md §4.6).
func DefaultMiddlewares(log LoggerFn, observe func(string, time.Duration)) []Middleware {
	return []Middleware{
		ErrorHandlingMiddleware(),
		ValidationMiddleware(),
		PerformanceMiddleware(observe),
		LoggingMiddleware(log),
	}
}
