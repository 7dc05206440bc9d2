package handler

import (
	"context"
	"time"

	"github.com/Ap3pp3rs94/symphony-messenger/pkg/envelope"
	"github.com/Ap3pp3rs94/symphony-messenger/pkg/merrors"
)

// ErrNoHandler mirrors the teacher's workflow.ErrNoHandler, raised when a
// message type has no registered handler.
var ErrNoHandler = merrors.Configuration("no handler registered for message type")

// Executor runs a leased envelope through its registered handler under a
// per-attempt timeout, adapted from the teacher's workflow.Executor
// (spec.md §4.6).
type Executor struct {
	registry       *Registry
	defaultTimeout time.Duration
	log            LoggerFn
}

// NewExecutor builds an Executor bound to registry. defaultTimeout
// bounds a single handler invocation when the caller doesn't override it
// per-call; zero means no timeout.
func NewExecutor(registry *Registry, defaultTimeout time.Duration, log LoggerFn) *Executor {
	if log == nil {
		log = func(string, string, map[string]any) {}
	}
	return &Executor{registry: registry, defaultTimeout: defaultTimeout, log: log}
}

// Execute looks up e's handler by message type and runs it, attempt
// numbering the envelope's current retry_count + 1.
func (x *Executor) Execute(ctx context.Context, e envelope.Envelope) error {
	h, ok := x.registry.Lookup(e.Message.Type)
	if !ok {
		x.log("warn", "handler_not_found", map[string]any{
			"message_id":   e.ID,
			"message_type": e.Message.Type,
		})
		return ErrNoHandler
	}

	hctx := ctx
	var cancel context.CancelFunc
	if x.defaultTimeout > 0 {
		hctx, cancel = context.WithTimeout(ctx, x.defaultTimeout)
		defer cancel()
	}

	hc := &Context{Context: hctx, Envelope: e, Attempt: e.RetryCount + 1}
	return h(hc)
}
