package recurrence

import (
	"encoding/json"
	"strings"
	"time"
)

// descriptor is the wire shape of a recurrence rule as authored by
// the platform's automation editor.
type descriptor struct {
	TriggerType        string           `json:"triggerType,omitempty"`
	ScheduleType       string           `json:"scheduleType,omitempty"`
	ScheduledTime      *string          `json:"scheduledTime,omitempty"`
	ScheduleTime       *string          `json:"scheduleTime,omitempty"`
	ScheduleWeekdays   []string         `json:"scheduleWeekdays,omitempty"`
	ScheduleDayOfMonth *int             `json:"scheduleDayOfMonth,omitempty"`
	ScheduleCron       *string          `json:"scheduleCron,omitempty"`
	TemplateSchedule   []descriptorStep `json:"templateSchedule,omitempty"`
}

type descriptorStep struct {
	TemplateID string `json:"templateId"`
	DayOffset  int    `json:"dayOffset"`
}

var weekdayNames = map[string]time.Weekday{
	"sunday":    time.Sunday,
	"monday":    time.Monday,
	"tuesday":   time.Tuesday,
	"wednesday": time.Wednesday,
	"thursday":  time.Thursday,
	"friday":    time.Friday,
	"saturday":  time.Saturday,
	"sun":       time.Sunday,
	"mon":       time.Monday,
	"tue":       time.Tuesday,
	"wed":       time.Wednesday,
	"thu":       time.Thursday,
	"fri":       time.Friday,
	"sat":       time.Saturday,
}

// ParseDescriptor decodes a JSON recurrence descriptor into a Spec.
// It never fails: malformed JSON yields an empty Spec (which computes
// to no occurrence), and malformed fields degrade to their defaults.
func ParseDescriptor(data []byte) Spec {
	var d descriptor
	if err := json.Unmarshal(data, &d); err != nil {
		return Spec{}
	}

	spec := Spec{
		TriggerType:  TriggerType(d.TriggerType),
		ScheduleType: ScheduleType(d.ScheduleType),
	}

	if d.ScheduledTime != nil {
		if t, err := time.Parse(time.RFC3339, *d.ScheduledTime); err == nil {
			spec.ScheduledTime = &t
		}
	}
	if d.ScheduleTime != nil {
		spec.TimeOfDay = *d.ScheduleTime
	}
	for _, name := range d.ScheduleWeekdays {
		if wd, ok := weekdayNames[strings.ToLower(strings.TrimSpace(name))]; ok {
			spec.Weekdays = append(spec.Weekdays, wd)
		}
	}
	if d.ScheduleDayOfMonth != nil {
		spec.DayOfMonth = *d.ScheduleDayOfMonth
	}
	if d.ScheduleCron != nil {
		spec.CronExpression = *d.ScheduleCron
	}
	for _, step := range d.TemplateSchedule {
		spec.Sequence = append(spec.Sequence, SequenceStep{
			TemplateID: step.TemplateID,
			DayOffset:  step.DayOffset,
		})
	}

	return spec
}

// EncodeDescriptor serializes a Spec back into its wire shape.
func EncodeDescriptor(spec Spec) ([]byte, error) {
	d := descriptor{
		TriggerType:  string(spec.TriggerType),
		ScheduleType: string(spec.ScheduleType),
	}

	if spec.ScheduledTime != nil {
		s := spec.ScheduledTime.UTC().Format(time.RFC3339)
		d.ScheduledTime = &s
	}
	if spec.TimeOfDay != "" {
		s := spec.TimeOfDay
		d.ScheduleTime = &s
	}
	for _, wd := range spec.Weekdays {
		d.ScheduleWeekdays = append(d.ScheduleWeekdays, strings.ToLower(wd.String()))
	}
	if spec.DayOfMonth != 0 {
		n := spec.DayOfMonth
		d.ScheduleDayOfMonth = &n
	}
	if spec.CronExpression != "" {
		s := spec.CronExpression
		d.ScheduleCron = &s
	}
	for _, step := range spec.Sequence {
		d.TemplateSchedule = append(d.TemplateSchedule, descriptorStep{
			TemplateID: step.TemplateID,
			DayOffset:  step.DayOffset,
		})
	}

	return json.Marshal(d)
}
