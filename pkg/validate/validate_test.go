package validate

import (
	"errors"
	"testing"
	"time"

	"github.com/Ap3pp3rs94/symphony-messenger/pkg/envelope"
)

func TestMessageValidation(t *testing.T) {
	cases := []struct {
		name string
		msg  envelope.Message
		ok   bool
	}{
		{"valid", envelope.Message{Type: "Echo", Payload: map[string]any{"n": 1}}, true},
		{"bad type leading digit", envelope.Message{Type: "1Echo", Payload: map[string]any{}}, false},
		{"nil payload", envelope.Message{Type: "Echo"}, false},
	}
	for _, c := range cases {
		err := Message(c.msg)
		if (err == nil) != c.ok {
			t.Errorf("%s: got err=%v, want ok=%v", c.name, err, c.ok)
		}
	}
}

func TestOptionsValidation(t *testing.T) {
	if err := Options(DispatchOptions{Priority: 11}); err == nil {
		t.Fatalf("expected error for out-of-range priority")
	}
	if err := Options(DispatchOptions{Transport: "bad name!"}); err == nil {
		t.Fatalf("expected error for invalid transport name")
	}
	if err := Options(DispatchOptions{}); err != nil {
		t.Fatalf("zero-value options should be valid, got %v", err)
	}
}

func TestValidateScheduleDelegatesCronCheck(t *testing.T) {
	calledWith := ""
	cronCheck := func(expr string) error {
		calledWith = expr
		return errors.New("boom")
	}
	err := ValidateSchedule(ScheduleConfig{Type: ScheduleCron, Cron: "0 * * * *"}, cronCheck)
	if err == nil {
		t.Fatalf("expected cron check failure to propagate")
	}
	if calledWith != "0 * * * *" {
		t.Fatalf("cron check not invoked with expression, got %q", calledWith)
	}
}

func TestValidateScheduleOnceRequiresAt(t *testing.T) {
	if err := ValidateSchedule(ScheduleConfig{Type: ScheduleOnce}, nil); err == nil {
		t.Fatalf("expected error when once schedule has no at")
	}
	now := time.Now()
	if err := ValidateSchedule(ScheduleConfig{Type: ScheduleOnce, At: &now}, nil); err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
}

func TestValidateScheduleInterval(t *testing.T) {
	if err := ValidateSchedule(ScheduleConfig{Type: ScheduleInterval, IntervalMS: 0}, nil); err == nil {
		t.Fatalf("expected error for non-positive interval")
	}
}

func TestValidateScheduleRejectsNegativeMaxRuns(t *testing.T) {
	if err := ValidateSchedule(ScheduleConfig{Type: ScheduleInterval, IntervalMS: 1000, MaxRuns: -1}, nil); err == nil {
		t.Fatalf("expected error for negative max_runs")
	}
}
