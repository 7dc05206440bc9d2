package scheduler

import (
	"context"
	"testing"
	"time"

	"github.com/Ap3pp3rs94/symphony-messenger/pkg/envelope"
	"github.com/Ap3pp3rs94/symphony-messenger/pkg/validate"
)

type fakeDispatcher struct {
	calls int
}

func (f *fakeDispatcher) Dispatch(_ context.Context, _ envelope.Message, _ validate.DispatchOptions) (string, error) {
	f.calls++
	return "id", nil
}

func TestScheduleOnceAndProcessDue(t *testing.T) {
	store := NewMemStore()
	disp := &fakeDispatcher{}
	s := New(store, disp, nil)

	at := time.Now().Add(-time.Minute) // already due
	sch, err := s.Schedule(context.Background(), Schedule{
		MessageType: "Echo",
		Payload:     map[string]any{"n": 1},
		Type:        validate.ScheduleOnce,
		At:          &at,
	})
	if err != nil {
		t.Fatalf("Schedule: %v", err)
	}

	fired, err := s.ProcessDue(context.Background(), time.Now())
	if err != nil {
		t.Fatalf("ProcessDue: %v", err)
	}
	if fired != 1 {
		t.Fatalf("expected 1 fired schedule, got %d", fired)
	}
	if disp.calls != 1 {
		t.Fatalf("expected dispatcher called once, got %d", disp.calls)
	}

	updated, err := store.Get(context.Background(), sch.ID)
	if err != nil {
		t.Fatalf("Get: %v", err)
	}
	if updated.Enabled {
		t.Fatalf("expected a once schedule to disable itself after firing")
	}
}

func TestScheduleIntervalAdvancesNextRun(t *testing.T) {
	store := NewMemStore()
	disp := &fakeDispatcher{}
	s := New(store, disp, nil)

	sch, err := s.Schedule(context.Background(), Schedule{
		MessageType: "Echo",
		Payload:     map[string]any{},
		Type:        validate.ScheduleInterval,
		IntervalMS:  1000,
	})
	if err != nil {
		t.Fatalf("Schedule: %v", err)
	}
	firstNext := sch.NextRun

	_, err = s.ProcessDue(context.Background(), firstNext.Add(time.Second))
	if err != nil {
		t.Fatalf("ProcessDue: %v", err)
	}
	updated, err := store.Get(context.Background(), sch.ID)
	if err != nil {
		t.Fatalf("Get: %v", err)
	}
	if !updated.NextRun.After(firstNext) {
		t.Fatalf("expected interval schedule's next_run to advance past %v, got %v", firstNext, updated.NextRun)
	}
	if !updated.Enabled {
		t.Fatalf("expected interval schedule to remain enabled")
	}
}

func TestScheduleIntervalDisablesAtMaxRuns(t *testing.T) {
	store := NewMemStore()
	disp := &fakeDispatcher{}
	s := New(store, disp, nil)

	sch, err := s.Schedule(context.Background(), Schedule{
		MessageType: "Echo",
		Payload:     map[string]any{},
		Type:        validate.ScheduleInterval,
		IntervalMS:  1000,
		MaxRuns:     1,
	})
	if err != nil {
		t.Fatalf("Schedule: %v", err)
	}

	fired, err := s.ProcessDue(context.Background(), sch.NextRun.Add(time.Second))
	if err != nil {
		t.Fatalf("ProcessDue: %v", err)
	}
	if fired != 1 {
		t.Fatalf("expected 1 fired schedule, got %d", fired)
	}

	updated, err := store.Get(context.Background(), sch.ID)
	if err != nil {
		t.Fatalf("Get: %v", err)
	}
	if updated.RunCount != 1 {
		t.Fatalf("expected run_count 1, got %d", updated.RunCount)
	}
	if updated.Enabled {
		t.Fatalf("expected the schedule to disable itself once run_count reaches max_runs")
	}
	if !updated.NextRun.IsZero() {
		t.Fatalf("expected next_run to be cleared once capped, got %v", updated.NextRun)
	}
}

func TestScheduleRejectsBadCron(t *testing.T) {
	store := NewMemStore()
	disp := &fakeDispatcher{}
	s := New(store, disp, nil)

	_, err := s.Schedule(context.Background(), Schedule{
		MessageType: "Echo",
		Payload:     map[string]any{},
		Type:        validate.ScheduleCron,
		Cron:        "0-5 * * * *",
	})
	if err == nil {
		t.Fatalf("expected error for restricted-grammar cron violation")
	}
}

func TestDisableAndEnable(t *testing.T) {
	store := NewMemStore()
	disp := &fakeDispatcher{}
	s := New(store, disp, nil)

	at := time.Now().Add(time.Hour)
	sch, err := s.Schedule(context.Background(), Schedule{
		MessageType: "Echo",
		Payload:     map[string]any{},
		Type:        validate.ScheduleOnce,
		At:          &at,
	})
	if err != nil {
		t.Fatalf("Schedule: %v", err)
	}
	if err := s.Disable(context.Background(), sch.ID); err != nil {
		t.Fatalf("Disable: %v", err)
	}
	got, _ := store.Get(context.Background(), sch.ID)
	if got.Enabled {
		t.Fatalf("expected schedule to be disabled")
	}
	if err := s.Enable(context.Background(), sch.ID); err != nil {
		t.Fatalf("Enable: %v", err)
	}
	got, _ = store.Get(context.Background(), sch.ID)
	if !got.Enabled {
		t.Fatalf("expected schedule to be re-enabled")
	}
}
