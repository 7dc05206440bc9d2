// Package scheduler implements once/cron/interval scheduled dispatch
// (spec.md §4.10, component C10), adapted from the teacher's
// services/orchestrator/internal/scheduler package (cron validation,
// trigger-engine polling loop) but scoped to the messenger's restricted
// cron grammar and to producing envelopes via a Dispatcher rather than
// triggering workflow jobs directly.
package scheduler

import (
	"context"
	"time"

	"github.com/Ap3pp3rs94/symphony-messenger/pkg/envelope"
	"github.com/Ap3pp3rs94/symphony-messenger/pkg/merrors"
	"github.com/Ap3pp3rs94/symphony-messenger/pkg/validate"
)

// LoggerFn matches the module-wide structured logging convention.
type LoggerFn func(level, msg string, fields map[string]any)

// Schedule is a persisted scheduled-dispatch row (spec.md §3 "schedule"
// entity).
type Schedule struct {
	ID          string
	MessageType string
	Payload     map[string]any
	Options     validate.DispatchOptions

	Type       validate.ScheduleType
	At         *time.Time // once
	Cron       string     // cron
	Timezone   string     // cron, defaults to UTC
	IntervalMS int64      // interval

	Enabled bool
	NextRun time.Time // zero value represents "null": no further run is due
	LastRun *time.Time

	// RunCount counts how many times this schedule has fired. MaxRuns
	// caps it; 0 means unlimited. Once RunCount reaches MaxRuns, ProcessDue
	// disables the schedule and zeroes NextRun (spec.md §3.4 invariant
	// "once run_count = max_runs, enabled=false and next_run_at=null").
	RunCount int
	MaxRuns  int

	CreatedAt time.Time
}

func (s Schedule) config() validate.ScheduleConfig {
	return validate.ScheduleConfig{Type: s.Type, At: s.At, Cron: s.Cron, IntervalMS: s.IntervalMS, MaxRuns: s.MaxRuns}
}

// Store persists Schedule rows. pkg/messenger provides an in-memory or
// database-backed implementation; the scheduler logic here is storage
// agnostic.
type Store interface {
	Insert(ctx context.Context, s Schedule) error
	Update(ctx context.Context, s Schedule) error
	Get(ctx context.Context, id string) (Schedule, error)
	Delete(ctx context.Context, id string) error
	DueBefore(ctx context.Context, cutoff time.Time) ([]Schedule, error)

	// List returns every persisted schedule, for admin inspection.
	List(ctx context.Context) ([]Schedule, error)
}

// Dispatcher is the narrow slice of pkg/dispatcher.Dispatcher the
// scheduler needs: enough to publish a due schedule's message.
type Dispatcher interface {
	Dispatch(ctx context.Context, msg envelope.Message, opts validate.DispatchOptions) (string, error)
}

// Scheduler evaluates due schedules and dispatches their messages
// (spec.md §4.10).
type Scheduler struct {
	store Store
	disp  Dispatcher
	log   LoggerFn
}

// New builds a Scheduler.
func New(store Store, disp Dispatcher, log LoggerFn) *Scheduler {
	if log == nil {
		log = func(string, string, map[string]any) {}
	}
	return &Scheduler{store: store, disp: disp, log: log}
}

// Schedule validates and persists a new schedule, computing its first
// NextRun.
func (s *Scheduler) Schedule(ctx context.Context, sch Schedule) (Schedule, error) {
	if sch.ID == "" {
		sch.ID = envelope.NewMessageID()
	}
	if err := validate.Message(envelope.Message{Type: sch.MessageType, Payload: sch.Payload}); err != nil {
		return Schedule{}, err
	}
	cronCheck := ValidateCronExpr
	if err := validate.ValidateSchedule(sch.config(), cronCheck); err != nil {
		return Schedule{}, err
	}

	loc, err := s.location(sch.Timezone)
	if err != nil {
		return Schedule{}, err
	}
	next, err := s.computeNextRun(sch, time.Now(), loc)
	if err != nil {
		return Schedule{}, err
	}
	sch.NextRun = next
	sch.Enabled = true
	sch.CreatedAt = time.Now()

	if err := s.store.Insert(ctx, sch); err != nil {
		return Schedule{}, err
	}
	return sch, nil
}

func (s *Scheduler) location(tz string) (*time.Location, error) {
	if tz == "" {
		return time.UTC, nil
	}
	loc, err := time.LoadLocation(tz)
	if err != nil {
		return nil, merrors.Scheduler("unknown timezone %q: %v", tz, err)
	}
	return loc, nil
}

func (s *Scheduler) computeNextRun(sch Schedule, from time.Time, loc *time.Location) (time.Time, error) {
	switch sch.Type {
	case validate.ScheduleOnce:
		return *sch.At, nil
	case validate.ScheduleCron:
		return NextRun(from, sch.Cron, loc)
	case validate.ScheduleInterval:
		return from.Add(time.Duration(sch.IntervalMS) * time.Millisecond), nil
	default:
		return time.Time{}, merrors.Scheduler("unknown schedule type %q", sch.Type)
	}
}

// ProcessDue dispatches every schedule due at or before now, advancing
// cron/interval schedules to their next run and disabling "once"
// schedules after they fire (spec.md §4.10).
func (s *Scheduler) ProcessDue(ctx context.Context, now time.Time) (int, error) {
	due, err := s.store.DueBefore(ctx, now)
	if err != nil {
		return 0, err
	}
	fired := 0
	for _, sch := range due {
		if !sch.Enabled {
			continue
		}
		msg := envelope.Message{Type: sch.MessageType, Payload: sch.Payload}
		if _, err := s.disp.Dispatch(ctx, msg, sch.Options); err != nil {
			s.log("error", "scheduler_dispatch_error", map[string]any{
				"schedule_id": sch.ID, "message_type": sch.MessageType, "error": err.Error(),
			})
			continue
		}
		fired++
		last := now
		sch.LastRun = &last
		sch.RunCount++

		capped := sch.MaxRuns > 0 && sch.RunCount >= sch.MaxRuns
		if sch.Type == validate.ScheduleOnce || capped {
			sch.Enabled = false
			sch.NextRun = time.Time{}
		} else {
			loc, locErr := s.location(sch.Timezone)
			if locErr != nil {
				s.log("error", "scheduler_next_run_error", map[string]any{"schedule_id": sch.ID, "error": locErr.Error()})
				sch.Enabled = false
			} else if next, nrErr := s.computeNextRun(sch, now, loc); nrErr != nil {
				s.log("error", "scheduler_next_run_error", map[string]any{"schedule_id": sch.ID, "error": nrErr.Error()})
				sch.Enabled = false
			} else {
				sch.NextRun = next
			}
		}
		if err := s.store.Update(ctx, sch); err != nil {
			s.log("error", "scheduler_store_update_error", map[string]any{"schedule_id": sch.ID, "error": err.Error()})
		}
	}
	return fired, nil
}

// Disable marks a schedule inactive without deleting it.
func (s *Scheduler) Disable(ctx context.Context, id string) error {
	sch, err := s.store.Get(ctx, id)
	if err != nil {
		return err
	}
	sch.Enabled = false
	return s.store.Update(ctx, sch)
}

// Enable re-activates a schedule, recomputing NextRun from now.
func (s *Scheduler) Enable(ctx context.Context, id string) error {
	sch, err := s.store.Get(ctx, id)
	if err != nil {
		return err
	}
	loc, err := s.location(sch.Timezone)
	if err != nil {
		return err
	}
	next, err := s.computeNextRun(sch, time.Now(), loc)
	if err != nil {
		return err
	}
	sch.Enabled = true
	sch.NextRun = next
	return s.store.Update(ctx, sch)
}

// Delete permanently removes a schedule.
func (s *Scheduler) Delete(ctx context.Context, id string) error {
	return s.store.Delete(ctx, id)
}

// List returns every persisted schedule, for admin inspection.
func (s *Scheduler) List(ctx context.Context) ([]Schedule, error) {
	return s.store.List(ctx)
}

// Run polls for due schedules every interval until ctx is canceled,
// adapted from the teacher's trigger_engine.go start/stop/poll loop.
func (s *Scheduler) Run(ctx context.Context, interval time.Duration) error {
	if interval <= 0 {
		interval = time.Second
	}
	ticker := time.NewTicker(interval)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			return ctx.Err()
		case <-ticker.C:
			if _, err := s.ProcessDue(ctx, time.Now()); err != nil {
				s.log("error", "scheduler_process_due_error", map[string]any{"error": err.Error()})
			}
		}
	}
}
