package scheduler

import (
	"strconv"
	"strings"
	"time"

	"github.com/Ap3pp3rs94/symphony-messenger/pkg/merrors"
)

// MaxNextRunIterations bounds how many candidate minutes ValidateCronExpr's
// counterpart NextRun will step through before giving up (spec.md §4.10
// "a schedule whose cron expression cannot produce a run within 10,000
// candidate minutes is invalid"). This is deliberately a small, fixed
// iteration cap rather than a calendar deadline: the restricted grammar
// below (no ranges, lists, or steps) means any satisfiable expression
// matches well within that bound, and an unsatisfiable one (e.g. day 31
// in a month that never has one combined with a fixed weekday) fails
// fast instead of scanning a year of minutes.
const MaxNextRunIterations = 10000

// ValidateCronExpr enforces the messenger's restricted five-field cron
// grammar: each field is either "*" or a single non-negative integer
// within its range. Ranges, lists, and step expressions ("1-5", "1,2,3",
// "*/10") are deliberately unsupported — spec.md is explicit that
// extending the grammar would change this component's invariants, so
// this is a narrower parser than the teacher's ValidateCronExpr/
// matchField, not a port of it.
func ValidateCronExpr(expr string) error {
	fields := strings.Fields(strings.TrimSpace(expr))
	if len(fields) != 5 {
		return merrors.Scheduler("cron expression must have 5 fields, got %d", len(fields))
	}
	ranges := [5][2]int{{0, 59}, {0, 23}, {1, 31}, {1, 12}, {0, 6}}
	names := [5]string{"minute", "hour", "day-of-month", "month", "day-of-week"}
	for i, f := range fields {
		if _, err := parseField(f, ranges[i][0], ranges[i][1]); err != nil {
			return merrors.Scheduler("cron field %s: %v", names[i], err)
		}
	}
	return nil
}

// parseField returns (-1, nil) for "*" (any) or the parsed integer value
// for a literal field, rejecting anything else.
func parseField(field string, min, max int) (int, error) {
	field = strings.TrimSpace(field)
	if field == "" {
		return 0, merrors.Scheduler("empty field")
	}
	if field == "*" {
		return -1, nil
	}
	if strings.ContainsAny(field, "-,/") {
		return 0, merrors.Scheduler("ranges, lists, and steps are not supported, got %q", field)
	}
	n, err := strconv.Atoi(field)
	if err != nil {
		return 0, merrors.Scheduler("not an integer: %q", field)
	}
	if n < min || n > max {
		return 0, merrors.Scheduler("%d out of range [%d,%d]", n, min, max)
	}
	return n, nil
}

// NextRun computes the first minute-aligned instant strictly after now
// that matches expr in loc, stepping minute-by-minute and giving up after
// MaxNextRunIterations candidates (spec.md §4.10).
func NextRun(now time.Time, expr string, loc *time.Location) (time.Time, error) {
	if loc == nil {
		loc = time.UTC
	}
	fields := strings.Fields(strings.TrimSpace(expr))
	if err := ValidateCronExpr(expr); err != nil {
		return time.Time{}, err
	}
	minF, _ := parseField(fields[0], 0, 59)
	hourF, _ := parseField(fields[1], 0, 23)
	domF, _ := parseField(fields[2], 1, 31)
	monF, _ := parseField(fields[3], 1, 12)
	dowF, _ := parseField(fields[4], 0, 6)

	t := now.In(loc).Truncate(time.Minute).Add(time.Minute)
	for i := 0; i < MaxNextRunIterations; i++ {
		if matches(minF, t.Minute()) && matches(hourF, t.Hour()) &&
			matches(domF, t.Day()) && matches(monF, int(t.Month())) &&
			matches(dowF, int(t.Weekday())) {
			return t, nil
		}
		t = t.Add(time.Minute)
	}
	return time.Time{}, merrors.Scheduler("no matching run within %d candidate minutes", MaxNextRunIterations)
}

func matches(field, value int) bool {
	return field == -1 || field == value
}
