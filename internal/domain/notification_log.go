package domain

import (
	"fmt"
	"strings"
	"time"
)

// NotificationKind distinguishes ledger entries for the same event.
type NotificationKind string

const (
	KindConfirmation NotificationKind = "confirmation"
	KindReminder     NotificationKind = "reminder"
)

func (k NotificationKind) String() string { return string(k) }

func (k NotificationKind) IsValid() bool {
	switch k {
	case KindConfirmation, KindReminder:
		return true
	}
	return false
}

// LogStatus is the outcome recorded for a notification attempt.
type LogStatus string

const (
	LogStatusSent    LogStatus = "sent"
	LogStatusSkipped LogStatus = "skipped"
	LogStatusFailed  LogStatus = "failed"
)

func (s LogStatus) String() string { return string(s) }

func (s LogStatus) IsValid() bool {
	switch s {
	case LogStatusSent, LogStatusSkipped, LogStatusFailed:
		return true
	}
	return false
}

// NotificationLogEntry is an append-only ledger record. At most one entry per
// (EventID, Kind, OffsetMinutes) may carry LogStatusSent.
type NotificationLogEntry struct {
	ID                string
	EventID           string
	Kind              NotificationKind
	OffsetMinutes     *int
	Status            LogStatus
	Recipient         string
	ProviderMessageID *string
	Error             *string
	Reason            *string
	Attempt           int
	Terminal          bool
	CreatedAt         time.Time
}

func (e *NotificationLogEntry) Validate() error {
	if strings.TrimSpace(e.EventID) == "" {
		return fmt.Errorf("%w: eventId is required", ErrValidation)
	}
	if !e.Kind.IsValid() {
		return fmt.Errorf("%w: invalid kind %q", ErrValidation, e.Kind)
	}
	if !e.Status.IsValid() {
		return fmt.Errorf("%w: invalid status %q", ErrValidation, e.Status)
	}
	if e.Kind == KindReminder && e.OffsetMinutes == nil {
		return fmt.Errorf("%w: reminder entries require offsetMinutes", ErrValidation)
	}
	if e.Kind == KindConfirmation && e.OffsetMinutes != nil {
		return fmt.Errorf("%w: confirmation entries carry no offset", ErrValidation)
	}
	return nil
}

// Offset returns a pointer suitable for NotificationLogEntry.OffsetMinutes.
func Offset(minutes int) *int {
	return &minutes
}
