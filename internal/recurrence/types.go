// Package recurrence computes the next occurrence of a recurrence
// rule. The calculation is pure: no clock reads, no I/O, identical
// inputs always produce identical output.
package recurrence

import "time"

// TriggerType says what causes an automation to fire.
type TriggerType string

const (
	// TriggerManual fires only when a user asks for it.
	TriggerManual TriggerType = "manual"
	// TriggerSchedule fires on a recurrence rule.
	TriggerSchedule TriggerType = "schedule"
	// TriggerEvent fires on an external event.
	TriggerEvent TriggerType = "event"
)

// ScheduleType represents the shape of a recurrence rule.
type ScheduleType string

const (
	// ScheduleOnce fires at a single fixed instant.
	ScheduleOnce ScheduleType = "once"
	// ScheduleDaily fires every day at a time of day.
	ScheduleDaily ScheduleType = "daily"
	// ScheduleWeekly fires on a set of weekdays at a time of day.
	ScheduleWeekly ScheduleType = "weekly"
	// ScheduleMonthly fires on a day of the month, clamped to the
	// month's length.
	ScheduleMonthly ScheduleType = "monthly"
	// ScheduleSequence fires a series of template sends offset in
	// days from an anchor instant.
	ScheduleSequence ScheduleType = "sequence"
	// ScheduleCron fires on a standard five-field cron expression.
	ScheduleCron ScheduleType = "cron"
)

// SequenceStep is one entry of a sequence schedule. DayOffset may be
// negative (send before the anchor).
type SequenceStep struct {
	TemplateID string
	DayOffset  int
}

// Spec is a structured description of when an automation should fire.
// Fields irrelevant to the schedule type are ignored. Malformed
// fields degrade to defaults rather than failing: a missing or
// unparseable TimeOfDay falls back to 09:00, an empty weekday set
// means "the reference time's weekday".
type Spec struct {
	TriggerType  TriggerType
	ScheduleType ScheduleType

	// Anchor instant for once and sequence schedules.
	ScheduledTime *time.Time

	// "HH:MM" wall time for daily, weekly, monthly and sequence.
	TimeOfDay string

	// Target weekdays for weekly schedules.
	Weekdays []time.Weekday

	// Target day for monthly schedules (1-31).
	DayOfMonth int

	// Ordered steps for sequence schedules.
	Sequence []SequenceStep

	// Expression for cron schedules.
	CronExpression string
}

// DefaultTimeOfDay is applied when a spec carries no valid TimeOfDay.
const DefaultTimeOfDay = "09:00"
