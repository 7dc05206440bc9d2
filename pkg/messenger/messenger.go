// Package messenger wires every other pkg/ component into the single
// object spec.md §6.1's language-neutral public API describes: Dispatch,
// schedule management, handler registration, worker lifecycle, and
// health/metrics retrieval. It owns no business logic of its own — it is
// the composition root a process builds once and calls into, mirroring
// how the teacher's services/orchestrator wires its workflow Executor,
// scheduler, and store behind one Service struct.
package messenger

import (
	"context"
	"net/http"
	"sync"
	"time"

	"github.com/Ap3pp3rs94/symphony-messenger/pkg/config"
	"github.com/Ap3pp3rs94/symphony-messenger/pkg/dispatcher"
	"github.com/Ap3pp3rs94/symphony-messenger/pkg/envelope"
	"github.com/Ap3pp3rs94/symphony-messenger/pkg/handler"
	"github.com/Ap3pp3rs94/symphony-messenger/pkg/merrors"
	"github.com/Ap3pp3rs94/symphony-messenger/pkg/metrics"
	"github.com/Ap3pp3rs94/symphony-messenger/pkg/retry"
	"github.com/Ap3pp3rs94/symphony-messenger/pkg/retrymanager"
	"github.com/Ap3pp3rs94/symphony-messenger/pkg/scheduler"
	"github.com/Ap3pp3rs94/symphony-messenger/pkg/transport"
	"github.com/Ap3pp3rs94/symphony-messenger/pkg/validate"
	"github.com/Ap3pp3rs94/symphony-messenger/pkg/worker"
)

// LoggerFn matches the module-wide structured logging convention.
type LoggerFn func(level, msg string, fields map[string]any)

// Options configures a new Messenger.
type Options struct {
	Config         config.Config
	ScheduleStore  scheduler.Store // defaults to an in-memory MemStore
	RingCapacity   int             // defaults to metrics.DefaultRingCapacity
	HandlerTimeout time.Duration   // per-attempt handler timeout; 0 = unbounded
	Log            LoggerFn

	// Prometheus, if set, receives every recorded attempt alongside the
	// ring collector (an admin process mounts Prometheus.Handler()
	// itself; the Messenger only feeds it).
	Prometheus *metrics.PrometheusExporter
}

// Messenger is the composition root: one instance per process, owning
// the live config, the registered transports, the handler registry, the
// dispatcher, any running worker pools, the retry manager, the
// scheduler, and the metrics/health/notifier stack (spec.md §6.1).
type Messenger struct {
	cfgMgr   *config.Manager
	log      LoggerFn

	mu         sync.RWMutex
	transports map[string]transport.Transport

	registry *handler.Registry
	executor *handler.Executor
	disp     *dispatcher.Dispatcher
	retryMgr *retrymanager.Manager
	sched    *scheduler.Scheduler

	collector  *metrics.Collector
	notifier   *metrics.Notifier
	prometheus *metrics.PrometheusExporter

	workersMu sync.Mutex
	workers   map[string]*runningWorker
}

type runningWorker struct {
	cancel context.CancelFunc
	done   chan error
}

// New builds a Messenger from opts. The config must already validate;
// transports named in opts.Config must be registered via RegisterTransport
// before StartWorker or Dispatch can resolve them.
func New(opts Options) (*Messenger, error) {
	log := opts.Log
	if log == nil {
		log = func(string, string, map[string]any) {}
	}
	cfgMgr, err := config.NewManager(opts.Config)
	if err != nil {
		return nil, err
	}

	registry := handler.NewRegistry()
	executor := handler.NewExecutor(registry, opts.HandlerTimeout, handler.LoggerFn(log))

	ringCap := opts.RingCapacity
	if ringCap <= 0 {
		ringCap = metrics.DefaultRingCapacity
	}
	collector := metrics.NewCollector(ringCap, metrics.LoggerFn(log))
	notifier := metrics.NewNotifier(metrics.LoggerFn(log))
	notifier.Register(metrics.NewLogChannel(metrics.LoggerFn(log)), metrics.SeverityWarning)

	m := &Messenger{
		cfgMgr:     cfgMgr,
		log:        log,
		transports: map[string]transport.Transport{},
		registry:   registry,
		executor:   executor,
		collector:  collector,
		notifier:   notifier,
		prometheus: opts.Prometheus,
		workers:    map[string]*runningWorker{},
	}

	router := config.NewRouter(cfgMgr.Current())
	m.disp = dispatcher.New(m, router, dispatcher.LoggerFn(log))
	m.retryMgr = retrymanager.New(buildStrategy(cfgMgr.Current()), retrymanager.LoggerFn(log))

	store := opts.ScheduleStore
	if store == nil {
		store = scheduler.NewMemStore()
	}
	m.sched = scheduler.New(store, m.disp, scheduler.LoggerFn(log))

	cfgMgr.OnUpdate(func(_, newCfg config.Config) {
		m.mu.Lock()
		defer m.mu.Unlock()
		m.disp = dispatcher.New(m, config.NewRouter(newCfg), dispatcher.LoggerFn(log))
		m.retryMgr = retrymanager.New(buildStrategy(newCfg), retrymanager.LoggerFn(log))
	})

	return m, nil
}

func buildStrategy(cfg config.Config) *retry.Strategy {
	def := cfg.Retry["default"]
	overrides := make(map[string]retry.Config, len(cfg.Retry))
	for k, v := range cfg.Retry {
		if k == "default" {
			continue
		}
		overrides[k] = v
	}
	return retry.NewStrategy(def, overrides)
}

// Config returns the live configuration manager, for callers that need
// RuntimeConfigManager.Update semantics directly.
func (m *Messenger) Config() *config.Manager { return m.cfgMgr }

// Notifier exposes the notifier stack so callers can register
// additional channels (webhook/email/slack/custom).
func (m *Messenger) Notifier() *metrics.Notifier { return m.notifier }

// Metrics exposes the attempt collector for direct aggregation.
func (m *Messenger) Metrics() *metrics.Collector { return m.collector }

// PrometheusHandler returns the Prometheus scrape handler, or nil if no
// exporter was configured via Options.Prometheus.
func (m *Messenger) PrometheusHandler() http.Handler {
	if m.prometheus == nil {
		return nil
	}
	return m.prometheus.Handler()
}

// Scheduler exposes the scheduler for advanced callers (e.g. an admin
// API listing schedules).
func (m *Messenger) Scheduler() *scheduler.Scheduler { return m.sched }

// transportExecutorBinder is implemented by transports that run handlers
// inline rather than queuing for a worker pool (pkg/transport.Sync).
type transportExecutorBinder interface {
	BindExecutor(exec transport.Executor)
}

// RegisterTransport adds or replaces a named transport instance. The
// name must match a transports entry in the live config for Dispatch
// and StartWorker to resolve it. If t runs handlers inline (the sync
// transport), its executor is bound to this Messenger's handler registry
// automatically.
func (m *Messenger) RegisterTransport(name string, t transport.Transport) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.transports[name] = t
	if binder, ok := t.(transportExecutorBinder); ok {
		binder.BindExecutor(m.executor)
	}
}

// Transport implements dispatcher.TransportRegistry.
func (m *Messenger) Transport(name string) (transport.Transport, bool) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	t, ok := m.transports[name]
	return t, ok
}

// Dispatch is the messenger's single entrypoint for publishing a message
// onto the bus (spec.md §6.1).
func (m *Messenger) Dispatch(ctx context.Context, msg envelope.Message, opts validate.DispatchOptions) (string, error) {
	m.mu.RLock()
	disp := m.disp
	m.mu.RUnlock()
	return disp.Dispatch(ctx, msg, opts)
}

// DispatchBatch dispatches many messages under shared options.
func (m *Messenger) DispatchBatch(ctx context.Context, msgs []envelope.Message, opts validate.DispatchOptions) ([]string, error) {
	m.mu.RLock()
	disp := m.disp
	m.mu.RUnlock()
	return disp.DispatchBatch(ctx, msgs, opts)
}

// RegisterHandler binds h (with the default middleware chain) to
// messageType (spec.md §6.1).
func (m *Messenger) RegisterHandler(messageType string, h handler.Handler, mws ...handler.Middleware) error {
	if len(mws) == 0 {
		mws = handler.DefaultMiddlewares(handler.LoggerFn(m.log), m.observePerformance)
	}
	return m.registry.Register(messageType, h, mws...)
}

// UnregisterHandler removes messageType's handler.
func (m *Messenger) UnregisterHandler(messageType string) {
	m.registry.Unregister(messageType)
}

func (m *Messenger) observePerformance(messageType string, d time.Duration) {
	m.log("debug", "handler_performance", map[string]any{"message_type": messageType, "duration_ms": d.Milliseconds()})
}

// ScheduleMessage validates and persists a new schedule (spec.md §6.1).
func (m *Messenger) ScheduleMessage(ctx context.Context, sch scheduler.Schedule) (scheduler.Schedule, error) {
	return m.sched.Schedule(ctx, sch)
}

// DisableSchedule marks a schedule inactive without deleting it.
func (m *Messenger) DisableSchedule(ctx context.Context, id string) error {
	return m.sched.Disable(ctx, id)
}

// EnableSchedule re-activates a previously disabled schedule.
func (m *Messenger) EnableSchedule(ctx context.Context, id string) error {
	return m.sched.Enable(ctx, id)
}

// DeleteSchedule permanently removes a schedule.
func (m *Messenger) DeleteSchedule(ctx context.Context, id string) error {
	return m.sched.Delete(ctx, id)
}

// RunScheduler blocks, polling due schedules every interval until ctx is
// canceled.
func (m *Messenger) RunScheduler(ctx context.Context, interval time.Duration) error {
	return m.sched.Run(ctx, interval)
}

// StartWorker launches a worker pool consuming transportName's queue,
// returning once the pool has started. Call the returned context's
// cancel (via StopWorker) to stop it. Only one worker pool per
// transport name may run at a time.
func (m *Messenger) StartWorker(ctx context.Context, transportName string, opts worker.Options) error {
	t, ok := m.Transport(transportName)
	if !ok {
		return merrors.Configuration("transport %q is not registered", transportName)
	}

	m.workersMu.Lock()
	if _, running := m.workers[transportName]; running {
		m.workersMu.Unlock()
		return merrors.Configuration("a worker is already running for transport %q", transportName)
	}

	if opts.Observe == nil {
		opts.Observe = m.recordObservation
	}
	wctx, cancel := context.WithCancel(ctx)
	pool := worker.New(t, m.executor, m.retryMgr, opts)
	done := make(chan error, 1)
	m.workers[transportName] = &runningWorker{cancel: cancel, done: done}
	m.workersMu.Unlock()

	go func() {
		done <- pool.Run(wctx)
	}()
	return nil
}

// StopWorker cancels the running worker pool for transportName and
// waits (bounded by ctx) for it to stop.
func (m *Messenger) StopWorker(ctx context.Context, transportName string) error {
	m.workersMu.Lock()
	rw, ok := m.workers[transportName]
	if ok {
		delete(m.workers, transportName)
	}
	m.workersMu.Unlock()
	if !ok {
		return merrors.Configuration("no worker running for transport %q", transportName)
	}
	rw.cancel()
	select {
	case <-ctx.Done():
		return ctx.Err()
	case <-rw.done:
		return nil
	}
}

func (m *Messenger) recordObservation(obs worker.Observation) {
	attempt := metrics.Attempt{
		MessageID:  obs.MessageID,
		Type:       obs.Type,
		Transport:  obs.Transport,
		Queue:      obs.Queue,
		DurationMS: obs.DurationMS,
		Success:    obs.Success,
		Error:      obs.Error,
		ErrorClass: obs.ErrorClass,
		RetryCount: obs.RetryCount,
		Timestamp:  time.Now(),
	}
	m.collector.Record(attempt)
	if m.prometheus != nil {
		m.prometheus.Observe(attempt)
	}
	if obs.Success {
		return
	}
	severity := metrics.DeriveSeverity(obs.ErrorClass, obs.RetryCount, obs.DeadLettered)
	m.notifier.Notify(context.Background(), metrics.Notification{
		Severity:    severity,
		Title:       "message_attempt_failed",
		Message:     obs.Error,
		MessageID:   obs.MessageID,
		MessageType: obs.Type,
		ErrorClass:  obs.ErrorClass,
		RetryCount:  obs.RetryCount,
		Occurred:    time.Now(),
	})
}

// GetHealth evaluates and returns the current health snapshot for
// transportName's queue (spec.md §6.1).
func (m *Messenger) GetHealth(ctx context.Context, transportName, queue string, window time.Duration) (metrics.Snapshot, error) {
	t, ok := m.Transport(transportName)
	if !ok {
		return metrics.Snapshot{}, merrors.Configuration("transport %q is not registered", transportName)
	}
	hm := metrics.NewHealthMonitor(m.collector, t, queue, window)
	return hm.Evaluate(ctx), nil
}

// GetMetrics aggregates the collector's ring over the given window
// (spec.md §6.1). A zero window aggregates every retained attempt.
func (m *Messenger) GetMetrics(window time.Duration) metrics.Aggregated {
	if window <= 0 {
		return m.collector.All()
	}
	return m.collector.Window(window)
}
