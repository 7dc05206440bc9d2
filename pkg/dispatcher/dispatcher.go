// Package dispatcher implements the validate -> route -> enqueue pipeline
// (spec.md §4.7, component C7), the single entrypoint callers use to
// publish a message onto the bus.
package dispatcher

import (
	"context"
	"time"

	"github.com/Ap3pp3rs94/symphony-messenger/pkg/config"
	"github.com/Ap3pp3rs94/symphony-messenger/pkg/envelope"
	"github.com/Ap3pp3rs94/symphony-messenger/pkg/merrors"
	"github.com/Ap3pp3rs94/symphony-messenger/pkg/retry"
	"github.com/Ap3pp3rs94/symphony-messenger/pkg/transport"
	"github.com/Ap3pp3rs94/symphony-messenger/pkg/validate"
)

// LoggerFn matches the convention used across the module (pkg/handler.LoggerFn).
type LoggerFn func(level, msg string, fields map[string]any)

// TransportRegistry resolves a configured transport name to its live
// Transport instance. pkg/messenger owns the concrete implementation.
type TransportRegistry interface {
	Transport(name string) (transport.Transport, bool)
}

// internalRetry is the dispatcher's own send-attempt backoff, distinct
// from the handler-level retry pkg/retrymanager performs after delivery
// (spec.md §4.7 "Dispatch retries a failed Send up to 3 times against
// retryable transport errors before surfacing the failure to the
// caller").
var internalRetry = retry.Config{MaxRetries: 3, Delay: 100 * time.Millisecond, Multiplier: 2.0, MaxDelay: 400 * time.Millisecond}

// Dispatcher is the public Dispatch entrypoint (spec.md §4.2 C2/C7).
type Dispatcher struct {
	transports TransportRegistry
	router     *config.Router
	log        LoggerFn
}

// New builds a Dispatcher bound to a transport registry and a router
// built from the live config snapshot.
func New(transports TransportRegistry, router *config.Router, log LoggerFn) *Dispatcher {
	if log == nil {
		log = func(string, string, map[string]any) {}
	}
	return &Dispatcher{transports: transports, router: router, log: log}
}

// Dispatch validates msg and opts, resolves the target transport, and
// sends the resulting envelope, retrying a retryable transport error up
// to internalRetry's bound. It returns the envelope's assigned ID.
func (d *Dispatcher) Dispatch(ctx context.Context, msg envelope.Message, opts validate.DispatchOptions) (string, error) {
	if err := validate.Message(msg); err != nil {
		return "", err
	}
	if err := validate.Options(opts); err != nil {
		return "", err
	}

	priority := opts.Priority
	if priority == 0 {
		priority = d.router.DefaultPriority()
	}
	transportName := d.router.Resolve(msg.Type, priority, opts.Transport)
	t, ok := d.transports.Transport(transportName)
	if !ok {
		return "", merrors.Configuration("transport %q is not registered", transportName)
	}

	queue := opts.Queue
	if queue == "" {
		queue = d.router.DefaultQueueFor(transportName)
	}

	idempotencyKey := opts.IdempotencyKey
	if idempotencyKey == "" {
		key, err := envelope.NewIdempotencyKey(msg, transportName, queue)
		if err != nil {
			return "", err
		}
		idempotencyKey = key
	}

	e := envelope.Envelope{
		ID:             envelope.NewMessageID(),
		Message:        msg,
		TransportName:  transportName,
		QueueName:      queue,
		Priority:       priority,
		IdempotencyKey: idempotencyKey,
		ScheduledAt:    opts.ScheduledAt,
		State:          envelope.StatePending,
		MaxRetries:     internalRetry.MaxRetries,
		CreatedAt:      time.Now(),
	}
	now := time.Now()
	if opts.ScheduledAt != nil && opts.ScheduledAt.After(now) {
		e.AvailableAt = *opts.ScheduledAt
	} else {
		e.AvailableAt = now
	}
	if err := e.Validate(); err != nil {
		return "", err
	}

	existingID, err := d.sendWithRetry(ctx, t, e)
	if err != nil {
		return "", err
	}
	if existingID != "" {
		return existingID, nil
	}
	return e.ID, nil
}

// sendWithRetry sends e, retrying a retryable transport error up to
// internalRetry's bound. When t collapses a duplicate idempotency key, it
// returns the id of the pre-existing envelope instead of e.ID's fresh id
// (spec.md §4.3/§6.2 "same key + type ⇒ return existing id"); the empty
// string means e itself was freshly persisted.
func (d *Dispatcher) sendWithRetry(ctx context.Context, t transport.Transport, e envelope.Envelope) (string, error) {
	if ev, ok := t.(transport.EnvelopeValidator); ok {
		if err := ev.ValidateEnvelope(e); err != nil {
			return "", err
		}
	}

	idemSender, _ := t.(transport.IdempotentSender)

	var lastErr error
	for attempt := 0; attempt <= internalRetry.MaxRetries; attempt++ {
		var err error
		var existingID string
		if idemSender != nil {
			existingID, err = idemSender.SendIdempotent(ctx, e)
		} else {
			err = t.Send(ctx, e)
		}
		if err == nil {
			return existingID, nil
		}
		lastErr = err
		if !retry.IsRetryable(err) || attempt == internalRetry.MaxRetries {
			break
		}
		delay := internalRetry.Delay
		for i := 0; i < attempt; i++ {
			delay *= time.Duration(internalRetry.Multiplier)
		}
		if delay > internalRetry.MaxDelay {
			delay = internalRetry.MaxDelay
		}
		d.log("warn", "dispatch_send_retry", map[string]any{
			"message_id": e.ID, "attempt": attempt + 1, "error": err.Error(),
		})
		timer := time.NewTimer(delay)
		select {
		case <-ctx.Done():
			timer.Stop()
			return "", ctx.Err()
		case <-timer.C:
		}
	}
	return "", merrors.Wrap(merrors.KindTransport, lastErr, "dispatch: send failed after %d attempts", internalRetry.MaxRetries+1)
}

// DispatchBatch dispatches each message independently via opts shared
// across the batch, stopping at the first failure (spec.md §4.7, mirrors
// transport.SendBatch's bounded-size contract).
func (d *Dispatcher) DispatchBatch(ctx context.Context, msgs []envelope.Message, opts validate.DispatchOptions) ([]string, error) {
	if len(msgs) > transport.MaxBatchSize {
		return nil, merrors.Validation("batch exceeds max batch size (%d)", transport.MaxBatchSize)
	}
	ids := make([]string, 0, len(msgs))
	for _, m := range msgs {
		id, err := d.Dispatch(ctx, m, opts)
		if err != nil {
			return ids, err
		}
		ids = append(ids, id)
	}
	return ids, nil
}
