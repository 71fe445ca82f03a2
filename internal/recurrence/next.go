package recurrence

import (
	"sort"
	"strconv"
	"strings"
	"time"

	"github.com/robfig/cron/v3"
)

// NextExecution returns the next occurrence of spec at or after ref,
// or nil when no valid future occurrence is determinable. A nil
// result is never an error signal: malformed specs degrade to
// defaults or to nil.
func NextExecution(spec Spec, ref time.Time) *time.Time {
	switch spec.ScheduleType {
	case ScheduleDaily:
		return nextDaily(spec, ref)
	case ScheduleWeekly:
		return nextWeekly(spec, ref)
	case ScheduleMonthly:
		return nextMonthly(spec, ref)
	case ScheduleSequence:
		return nextSequence(spec, ref)
	case ScheduleCron:
		return nextCron(spec, ref)
	default:
		// Unrecognized types fall back to once semantics.
		return nextOnce(spec)
	}
}

// nextOnce returns the scheduled instant verbatim, regardless of the
// reference time.
func nextOnce(spec Spec) *time.Time {
	if spec.ScheduledTime == nil {
		return nil
	}
	t := *spec.ScheduledTime
	return &t
}

func nextDaily(spec Spec, ref time.Time) *time.Time {
	hour, minute := timeOfDay(spec.TimeOfDay)

	candidate := time.Date(ref.Year(), ref.Month(), ref.Day(), hour, minute, 0, 0, ref.Location())
	if !candidate.After(ref) {
		candidate = candidate.AddDate(0, 0, 1)
	}
	return &candidate
}

func nextWeekly(spec Spec, ref time.Time) *time.Time {
	hour, minute := timeOfDay(spec.TimeOfDay)

	weekdays := spec.Weekdays
	if len(weekdays) == 0 {
		weekdays = []time.Weekday{ref.Weekday()}
	}

	var earliest *time.Time
	for _, wd := range weekdays {
		days := (int(wd) - int(ref.Weekday()) + 7) % 7
		candidate := time.Date(ref.Year(), ref.Month(), ref.Day(), hour, minute, 0, 0, ref.Location())
		candidate = candidate.AddDate(0, 0, days)
		if !candidate.After(ref) {
			candidate = candidate.AddDate(0, 0, 7)
		}
		if earliest == nil || candidate.Before(*earliest) {
			earliest = &candidate
		}
	}
	return earliest
}

func nextMonthly(spec Spec, ref time.Time) *time.Time {
	if spec.DayOfMonth < 1 {
		return nil
	}
	hour, minute := timeOfDay(spec.TimeOfDay)

	candidate := monthlyCandidate(ref.Year(), ref.Month(), spec.DayOfMonth, hour, minute, ref.Location())
	if !candidate.After(ref) {
		candidate = monthlyCandidate(ref.Year(), ref.Month()+1, spec.DayOfMonth, hour, minute, ref.Location())
	}
	return &candidate
}

// monthlyCandidate clamps day to the target month's length, so day 31
// in February lands on the last day of February.
func monthlyCandidate(year int, month time.Month, day, hour, minute int, loc *time.Location) time.Time {
	first := time.Date(year, month, 1, hour, minute, 0, 0, loc)
	if last := daysInMonth(first.Year(), first.Month()); day > last {
		day = last
	}
	return time.Date(first.Year(), first.Month(), day, hour, minute, 0, 0, loc)
}

func daysInMonth(year int, month time.Month) int {
	return time.Date(year, month+1, 0, 0, 0, 0, 0, time.UTC).Day()
}

func nextSequence(spec Spec, ref time.Time) *time.Time {
	if spec.ScheduledTime == nil {
		return nil
	}
	hour, minute := timeOfDay(spec.TimeOfDay)

	anchor := *spec.ScheduledTime
	base := time.Date(anchor.Year(), anchor.Month(), anchor.Day(), hour, minute, 0, 0, anchor.Location())

	if len(spec.Sequence) == 0 {
		if base.Before(ref) {
			return nil
		}
		return &base
	}

	// Stable sort: equal offsets keep their authored order.
	steps := make([]SequenceStep, len(spec.Sequence))
	copy(steps, spec.Sequence)
	sort.SliceStable(steps, func(i, j int) bool {
		return steps[i].DayOffset < steps[j].DayOffset
	})

	for _, step := range steps {
		candidate := base.AddDate(0, 0, step.DayOffset)
		if !candidate.Before(ref) {
			return &candidate
		}
	}

	// All offsets are in the past: the sequence is exhausted.
	return nil
}

func nextCron(spec Spec, ref time.Time) *time.Time {
	parser := cron.NewParser(cron.Minute | cron.Hour | cron.Dom | cron.Month | cron.Dow | cron.Descriptor)
	schedule, err := parser.Parse(spec.CronExpression)
	if err != nil {
		return nil
	}
	next := schedule.Next(ref)
	if next.IsZero() {
		return nil
	}
	return &next
}

// timeOfDay parses an "HH:MM" string, falling back to 09:00 when the
// value is missing or malformed.
func timeOfDay(s string) (hour, minute int) {
	h, m, ok := parseHHMM(s)
	if !ok {
		h, m, _ = parseHHMM(DefaultTimeOfDay)
	}
	return h, m
}

func parseHHMM(s string) (hour, minute int, ok bool) {
	parts := strings.SplitN(strings.TrimSpace(s), ":", 2)
	if len(parts) != 2 {
		return 0, 0, false
	}
	h, err := strconv.Atoi(parts[0])
	if err != nil || h < 0 || h > 23 {
		return 0, 0, false
	}
	m, err := strconv.Atoi(parts[1])
	if err != nil || m < 0 || m > 59 {
		return 0, 0, false
	}
	return h, m, true
}
