package domain

import (
	"errors"
	"slices"
	"testing"
	"time"
)

func TestReminderConfigEffectiveOffsets(t *testing.T) {
	t.Parallel()

	tests := []struct {
		name    string
		offsets []int
		want    []int
	}{
		{name: "duplicates removed and sorted descending", offsets: []int{10, 60, 10, 30}, want: []int{60, 30, 10}},
		{name: "already normalized", offsets: []int{60, 10}, want: []int{60, 10}},
		{name: "out of range dropped", offsets: []int{0, -5, MaxReminderOffsetMinutes + 1, 15}, want: []int{15}},
		{name: "upper bound kept", offsets: []int{MaxReminderOffsetMinutes}, want: []int{MaxReminderOffsetMinutes}},
		{name: "empty", offsets: nil, want: []int{}},
	}

	for _, tt := range tests {
		tt := tt
		t.Run(tt.name, func(t *testing.T) {
			t.Parallel()

			got := ReminderConfig{Enabled: true, OffsetsMinutes: tt.offsets}.EffectiveOffsets()
			if !slices.Equal(got, tt.want) {
				t.Fatalf("EffectiveOffsets() = %v, want %v", got, tt.want)
			}
		})
	}
}

func TestNormalizeOffsets(t *testing.T) {
	t.Parallel()

	got, err := NormalizeOffsets([]int{10, 60, 10, 30})
	if err != nil {
		t.Fatalf("NormalizeOffsets() unexpected error = %v", err)
	}
	if !slices.Equal(got, []int{60, 30, 10}) {
		t.Fatalf("NormalizeOffsets() = %v, want [60 30 10]", got)
	}

	for _, invalid := range [][]int{{0}, {-1, 10}, {MaxReminderOffsetMinutes + 1}} {
		if _, err := NormalizeOffsets(invalid); !errors.Is(err, ErrValidation) {
			t.Fatalf("NormalizeOffsets(%v) error = %v, want ErrValidation", invalid, err)
		}
	}
}

func TestEventValidate(t *testing.T) {
	t.Parallel()

	start := time.Date(2026, 3, 1, 10, 0, 0, 0, time.UTC)
	base := Event{
		Title:          "Dentist",
		AttendeeName:   "Ada",
		Start:          start,
		End:            start.Add(30 * time.Minute),
		Timezone:       "Europe/Istanbul",
		ReminderConfig: ReminderConfig{Enabled: true, OffsetsMinutes: []int{60, 10}},
	}

	tests := []struct {
		name    string
		mutate  func(*Event)
		wantErr bool
	}{
		{name: "valid", mutate: func(e *Event) {}},
		{name: "missing title", mutate: func(e *Event) { e.Title = " " }, wantErr: true},
		{name: "missing attendee", mutate: func(e *Event) { e.AttendeeName = "" }, wantErr: true},
		{name: "zero start", mutate: func(e *Event) { e.Start = time.Time{} }, wantErr: true},
		{name: "end before start", mutate: func(e *Event) { e.End = start.Add(-time.Minute) }, wantErr: true},
		{name: "unknown timezone", mutate: func(e *Event) { e.Timezone = "Mars/Olympus" }, wantErr: true},
		{name: "empty timezone", mutate: func(e *Event) { e.Timezone = "" }, wantErr: true},
		{name: "offset too large", mutate: func(e *Event) { e.ReminderConfig.OffsetsMinutes = []int{20000} }, wantErr: true},
	}

	for _, tt := range tests {
		tt := tt
		t.Run(tt.name, func(t *testing.T) {
			t.Parallel()

			current := base
			current.ReminderConfig.OffsetsMinutes = slices.Clone(base.ReminderConfig.OffsetsMinutes)
			tt.mutate(&current)

			err := current.Validate()
			if tt.wantErr {
				if !errors.Is(err, ErrValidation) {
					t.Fatalf("Validate() error = %v, want ErrValidation", err)
				}
				return
			}
			if err != nil {
				t.Fatalf("Validate() unexpected error = %v", err)
			}
		})
	}
}

func TestEventLocationFallsBackToUTC(t *testing.T) {
	t.Parallel()

	e := Event{Timezone: "not/a-zone"}
	if got := e.Location(); got != time.UTC {
		t.Fatalf("Location() = %v, want UTC", got)
	}

	e.Timezone = "America/New_York"
	if got := e.Location().String(); got != "America/New_York" {
		t.Fatalf("Location() = %s, want America/New_York", got)
	}
}
