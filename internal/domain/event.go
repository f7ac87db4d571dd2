package domain

import (
	"fmt"
	"slices"
	"strings"
	"time"
)

// MaxReminderOffsetMinutes caps reminder lead time at seven days.
const MaxReminderOffsetMinutes = 7 * 24 * 60

// DefaultReminderOffsets is applied when an event is created without explicit offsets.
var DefaultReminderOffsets = []int{60, 10}

// ConfirmationStatus is the outcome of the confirmation e-mail for an event.
type ConfirmationStatus string

const (
	ConfirmationPending ConfirmationStatus = "pending"
	ConfirmationSent    ConfirmationStatus = "sent"
	ConfirmationSkipped ConfirmationStatus = "skipped"
	ConfirmationFailed  ConfirmationStatus = "failed"
)

func (s ConfirmationStatus) String() string { return string(s) }

// ScheduleOutcome is the result of a reminder scheduling call.
type ScheduleOutcome string

const (
	SchedulePending   ScheduleOutcome = "pending"
	ScheduleScheduled ScheduleOutcome = "scheduled"
	ScheduleSkipped   ScheduleOutcome = "skipped"
	ScheduleFailed    ScheduleOutcome = "failed"
)

func (o ScheduleOutcome) String() string { return string(o) }

// ReminderConfig is owned by the event and fixed once reminders are scheduled.
type ReminderConfig struct {
	Enabled        bool  `json:"enabled"`
	OffsetsMinutes []int `json:"offsetsMinutes"`
}

// EffectiveOffsets returns the unique in-range offsets, largest lead time first.
func (c ReminderConfig) EffectiveOffsets() []int {
	seen := make(map[int]struct{}, len(c.OffsetsMinutes))
	offsets := make([]int, 0, len(c.OffsetsMinutes))
	for _, offset := range c.OffsetsMinutes {
		if offset <= 0 || offset > MaxReminderOffsetMinutes {
			continue
		}
		if _, ok := seen[offset]; ok {
			continue
		}
		seen[offset] = struct{}{}
		offsets = append(offsets, offset)
	}

	slices.SortFunc(offsets, func(a, b int) int { return b - a })
	return offsets
}

// NormalizeOffsets validates offsets and returns them deduplicated and sorted descending.
func NormalizeOffsets(offsets []int) ([]int, error) {
	for _, offset := range offsets {
		if offset <= 0 || offset > MaxReminderOffsetMinutes {
			return nil, fmt.Errorf("%w: reminder offset %d must be between 1 and %d minutes",
				ErrValidation, offset, MaxReminderOffsetMinutes)
		}
	}
	return ReminderConfig{OffsetsMinutes: offsets}.EffectiveOffsets(), nil
}

// NotificationStatus tracks the notification pipeline for an event.
type NotificationStatus struct {
	ConfirmationEmail ConfirmationStatus `json:"confirmationEmail"`
	Reminders         ScheduleOutcome    `json:"reminders"`
}

// Event is a calendar event that reminders are delivered for.
type Event struct {
	ID                 string
	UserID             *string
	Title              string
	AttendeeName       string
	Description        string
	CalendarID         string
	HTMLLink           string
	Start              time.Time
	End                time.Time
	Timezone           string
	ReminderConfig     ReminderConfig
	NotificationStatus NotificationStatus
	IdempotencyKey     *string
	CreatedAt          time.Time
	UpdatedAt          time.Time
}

func (e *Event) Validate() error {
	if strings.TrimSpace(e.Title) == "" {
		return fmt.Errorf("%w: title is required", ErrValidation)
	}
	if strings.TrimSpace(e.AttendeeName) == "" {
		return fmt.Errorf("%w: attendee name is required", ErrValidation)
	}
	if e.Start.IsZero() {
		return fmt.Errorf("%w: start is required", ErrValidation)
	}
	if e.End.Before(e.Start) {
		return fmt.Errorf("%w: end must not be before start", ErrValidation)
	}
	if _, err := time.LoadLocation(e.Timezone); err != nil || strings.TrimSpace(e.Timezone) == "" {
		return fmt.Errorf("%w: invalid timezone %q", ErrValidation, e.Timezone)
	}
	if _, err := NormalizeOffsets(e.ReminderConfig.OffsetsMinutes); err != nil {
		return err
	}
	return nil
}

// Location resolves the event timezone, falling back to UTC.
func (e *Event) Location() *time.Location {
	loc, err := time.LoadLocation(e.Timezone)
	if err != nil || e.Timezone == "" {
		return time.UTC
	}
	return loc
}
