package recurrence

import (
	"testing"
	"time"
)

func TestParseDescriptor(t *testing.T) {
	data := []byte(`{
		"triggerType": "schedule",
		"scheduleType": "weekly",
		"scheduledTime": "2025-05-10T15:30:00Z",
		"scheduleTime": "09:00",
		"scheduleWeekdays": ["Monday", "FRIDAY", "wed"],
		"scheduleDayOfMonth": 15,
		"templateSchedule": [
			{"templateId": "welcome", "dayOffset": 0},
			{"templateId": "followup", "dayOffset": 5}
		]
	}`)

	spec := ParseDescriptor(data)

	if spec.TriggerType != TriggerSchedule {
		t.Errorf("TriggerType = %q, want schedule", spec.TriggerType)
	}
	if spec.ScheduleType != ScheduleWeekly {
		t.Errorf("ScheduleType = %q, want weekly", spec.ScheduleType)
	}
	if spec.ScheduledTime == nil || !spec.ScheduledTime.Equal(time.Date(2025, 5, 10, 15, 30, 0, 0, time.UTC)) {
		t.Errorf("ScheduledTime = %v", spec.ScheduledTime)
	}
	if spec.TimeOfDay != "09:00" {
		t.Errorf("TimeOfDay = %q, want 09:00", spec.TimeOfDay)
	}
	wantDays := []time.Weekday{time.Monday, time.Friday, time.Wednesday}
	if len(spec.Weekdays) != len(wantDays) {
		t.Fatalf("Weekdays = %v, want %v", spec.Weekdays, wantDays)
	}
	for i, wd := range wantDays {
		if spec.Weekdays[i] != wd {
			t.Errorf("Weekdays[%d] = %v, want %v", i, spec.Weekdays[i], wd)
		}
	}
	if spec.DayOfMonth != 15 {
		t.Errorf("DayOfMonth = %d, want 15", spec.DayOfMonth)
	}
	if len(spec.Sequence) != 2 || spec.Sequence[1].TemplateID != "followup" {
		t.Errorf("Sequence = %+v", spec.Sequence)
	}
}

func TestParseDescriptor_Malformed(t *testing.T) {
	tests := []struct {
		name string
		data string
	}{
		{"not json", `{{{`},
		{"empty", ``},
		{"wrong types are tolerated by defaulting", `{"scheduleType": "daily", "scheduleWeekdays": ["noday"]}`},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			// Must never panic; downstream computation degrades to
			// defaults or to no occurrence.
			spec := ParseDescriptor([]byte(tt.data))
			_ = NextExecution(spec, time.Date(2025, 1, 1, 0, 0, 0, 0, time.UTC))
		})
	}
}

func TestParseDescriptor_UnknownWeekdaysSkipped(t *testing.T) {
	spec := ParseDescriptor([]byte(`{"scheduleType":"weekly","scheduleWeekdays":["monday","someday"]}`))
	if len(spec.Weekdays) != 1 || spec.Weekdays[0] != time.Monday {
		t.Errorf("Weekdays = %v, want [Monday]", spec.Weekdays)
	}
}

func TestEncodeDescriptor_RoundTrip(t *testing.T) {
	anchor := time.Date(2025, 5, 10, 15, 30, 0, 0, time.UTC)
	spec := Spec{
		TriggerType:   TriggerSchedule,
		ScheduleType:  ScheduleSequence,
		ScheduledTime: &anchor,
		TimeOfDay:     "10:15",
		Sequence: []SequenceStep{
			{TemplateID: "t1", DayOffset: -2},
			{TemplateID: "t2", DayOffset: 4},
		},
	}

	data, err := EncodeDescriptor(spec)
	if err != nil {
		t.Fatalf("EncodeDescriptor() error = %v", err)
	}

	got := ParseDescriptor(data)
	if got.ScheduleType != spec.ScheduleType {
		t.Errorf("ScheduleType = %q, want %q", got.ScheduleType, spec.ScheduleType)
	}
	if got.ScheduledTime == nil || !got.ScheduledTime.Equal(anchor) {
		t.Errorf("ScheduledTime = %v, want %v", got.ScheduledTime, anchor)
	}
	if got.TimeOfDay != spec.TimeOfDay {
		t.Errorf("TimeOfDay = %q, want %q", got.TimeOfDay, spec.TimeOfDay)
	}
	if len(got.Sequence) != 2 || got.Sequence[0] != spec.Sequence[0] {
		t.Errorf("Sequence = %+v, want %+v", got.Sequence, spec.Sequence)
	}
}
