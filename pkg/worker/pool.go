// Package worker implements the consumer pool that leases envelopes from
// a transport and runs them through the handler executor (spec.md §4.8,
// component C8), adapted from the teacher's pkg/queue.Runner worker-loop
// shape: fixed concurrency, empty-poll backoff, and a bounded
// consecutive-error circuit breaker.
package worker

import (
	"context"
	"errors"
	"sync"
	"time"

	"github.com/Ap3pp3rs94/symphony-messenger/pkg/handler"
	"github.com/Ap3pp3rs94/symphony-messenger/pkg/retrymanager"
	"github.com/Ap3pp3rs94/symphony-messenger/pkg/transport"
)

// LoggerFn matches the module-wide structured logging convention.
type LoggerFn func(level, msg string, fields map[string]any)

// Options configures a Pool (spec.md §4.8, §5 concurrency model).
type Options struct {
	Queue       string
	Concurrency int

	PollTimeout       time.Duration
	VisibilityTimeout time.Duration

	EmptyBackoffMin time.Duration
	EmptyBackoffMax time.Duration

	MaxConsecutiveErrors int

	Log LoggerFn

	// Observe, if set, is called once per processed message with the
	// outcome of the handler attempt (spec.md §4.11's per-attempt metrics
	// record). It must not block meaningfully; the pool calls it inline.
	Observe func(Observation)
}

// Observation is one handler-execution outcome, shaped to feed directly
// into pkg/metrics.Attempt without pkg/worker importing pkg/metrics.
type Observation struct {
	MessageID    string
	Type         string
	Transport    string
	Queue        string
	DurationMS   int64
	Success      bool
	Error        string
	ErrorClass   string
	RetryCount   int
	DeadLettered bool
}

func (o *Options) normalize() {
	if o.Concurrency <= 0 {
		o.Concurrency = 4
	}
	if o.PollTimeout <= 0 {
		o.PollTimeout = 2 * time.Second
	}
	if o.VisibilityTimeout <= 0 {
		o.VisibilityTimeout = 30 * time.Second
	}
	if o.EmptyBackoffMin <= 0 {
		o.EmptyBackoffMin = 200 * time.Millisecond
	}
	if o.EmptyBackoffMax <= 0 {
		o.EmptyBackoffMax = 5 * time.Second
	}
	if o.EmptyBackoffMax < o.EmptyBackoffMin {
		o.EmptyBackoffMax = o.EmptyBackoffMin
	}
	if o.Log == nil {
		o.Log = func(string, string, map[string]any) {}
	}
}

// Pool runs Options.Concurrency goroutines, each leasing messages from
// transport t's Queue and running them through executor, deciding
// retry-vs-dead-letter via the retry manager (spec.md §4.8/§4.9).
type Pool struct {
	t        transport.Transport
	executor *handler.Executor
	retryMgr *retrymanager.Manager
	opts     Options
}

// New builds a Pool. t must be the same Transport instance messages for
// opts.Queue are sent on.
func New(t transport.Transport, executor *handler.Executor, retryMgr *retrymanager.Manager, opts Options) *Pool {
	opts.normalize()
	return &Pool{t: t, executor: executor, retryMgr: retryMgr, opts: opts}
}

// Run blocks, running opts.Concurrency worker goroutines until ctx is
// canceled or MaxConsecutiveErrors is exceeded by any worker.
func (p *Pool) Run(ctx context.Context) error {
	var wg sync.WaitGroup
	errCh := make(chan error, p.opts.Concurrency)

	for i := 0; i < p.opts.Concurrency; i++ {
		wg.Add(1)
		go func(workerID int) {
			defer wg.Done()
			if err := p.workerLoop(ctx, workerID); err != nil &&
				!errors.Is(err, context.Canceled) && !errors.Is(err, context.DeadlineExceeded) {
				select {
				case errCh <- err:
				default:
				}
			}
		}(i + 1)
	}

	done := make(chan struct{})
	go func() { wg.Wait(); close(done) }()

	select {
	case <-ctx.Done():
		<-done
		return ctx.Err()
	case err := <-errCh:
		<-done
		return err
	case <-done:
		return ctx.Err()
	}
}

func (p *Pool) workerLoop(ctx context.Context, workerID int) error {
	backoff := p.opts.EmptyBackoffMin
	consecErr := 0

	for {
		if err := ctx.Err(); err != nil {
			return err
		}

		msgs, err := p.t.Receive(ctx, p.opts.Queue, 1, p.opts.PollTimeout)
		if err != nil {
			if errors.Is(err, transport.ErrEmpty) {
				backoff = p.sleepBackoff(ctx, backoff, workerID)
				if ctx.Err() != nil {
					return ctx.Err()
				}
				continue
			}
			consecErr++
			p.opts.Log("error", "worker_receive_error", map[string]any{"worker": workerID, "error": err.Error()})
			if p.opts.MaxConsecutiveErrors > 0 && consecErr >= p.opts.MaxConsecutiveErrors {
				return err
			}
			continue
		}

		backoff = p.opts.EmptyBackoffMin
		consecErr = 0

		for _, m := range msgs {
			p.handle(ctx, workerID, m)
		}
	}
}

func (p *Pool) sleepBackoff(ctx context.Context, backoff time.Duration, workerID int) time.Duration {
	timer := time.NewTimer(backoff)
	select {
	case <-ctx.Done():
		timer.Stop()
	case <-timer.C:
	}
	next := backoff * 2
	if next > p.opts.EmptyBackoffMax {
		next = p.opts.EmptyBackoffMax
	}
	return next
}

func (p *Pool) handle(ctx context.Context, workerID int, m transport.ReceivedMessage) {
	started := time.Now()
	err := p.executor.Execute(ctx, m.Envelope)
	dur := time.Since(started)

	if err == nil {
		p.observe(m, dur, nil, false)
		if ackErr := p.t.Acknowledge(ctx, m.Receipt); ackErr != nil {
			p.opts.Log("error", "worker_ack_error", map[string]any{"worker": workerID, "error": ackErr.Error()})
		}
		return
	}

	decision := p.retryMgr.Decide(m.Envelope, err)
	p.observe(m, dur, err, decision.DeadLetter)

	if decision.DeadLetter {
		if dlq, ok := p.t.(interface {
			DeadLetter(ctx context.Context, receipt string, reason string) error
		}); ok {
			if dlqErr := dlq.DeadLetter(ctx, m.Receipt, decision.Reason); dlqErr != nil {
				p.opts.Log("error", "worker_dlq_error", map[string]any{"worker": workerID, "error": dlqErr.Error()})
			}
			return
		}
		_ = p.t.Reject(ctx, m.Receipt, decision.Delay)
		return
	}

	if err := p.rejectWithReason(ctx, m.Receipt, decision.Delay, err.Error()); err != nil {
		p.opts.Log("error", "worker_reject_error", map[string]any{"worker": workerID, "error": err.Error()})
	}
}

func (p *Pool) observe(m transport.ReceivedMessage, dur time.Duration, err error, deadLettered bool) {
	if p.opts.Observe == nil {
		return
	}
	obs := Observation{
		MessageID:    m.Envelope.ID,
		Type:         m.Envelope.Message.Type,
		Transport:    m.Envelope.TransportName,
		Queue:        m.Envelope.QueueName,
		DurationMS:   dur.Milliseconds(),
		Success:      err == nil,
		RetryCount:   m.Envelope.RetryCount,
		DeadLettered: deadLettered,
	}
	if err != nil {
		obs.Error = err.Error()
		obs.ErrorClass = m.Envelope.ErrorClass
	}
	p.opts.Observe(obs)
}

func (p *Pool) rejectWithReason(ctx context.Context, receipt string, delay time.Duration, reason string) error {
	if rw, ok := p.t.(interface {
		RejectWithReason(ctx context.Context, receipt string, delay time.Duration, lastError string) error
	}); ok {
		return rw.RejectWithReason(ctx, receipt, delay, reason)
	}
	return p.t.Reject(ctx, receipt, delay)
}
