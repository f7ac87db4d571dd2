package domain

import "time"

// AuditType names an audit trail event.
type AuditType string

const (
	AuditEventCreated        AuditType = "event_created"
	AuditConfirmationSent    AuditType = "email_confirmation_sent"
	AuditConfirmationSkipped AuditType = "email_confirmation_skipped"
	AuditConfirmationFailed  AuditType = "email_confirmation_failed"
	AuditRemindersScheduled  AuditType = "reminders_scheduled"
	AuditRemindersSkipped    AuditType = "reminders_skipped"
	AuditRemindersFailed     AuditType = "reminders_failed"
	AuditReminderSent        AuditType = "reminder_sent"
	AuditReminderSkipped     AuditType = "reminder_skipped"
	AuditReminderFailed      AuditType = "reminder_failed"
)

func (t AuditType) String() string { return string(t) }

// AuditEntry is an operational record of a notification pipeline step.
type AuditEntry struct {
	ID        string         `json:"id"`
	Type      AuditType      `json:"type"`
	EventID   string         `json:"eventId,omitempty"`
	Payload   map[string]any `json:"payload,omitempty"`
	Message   string         `json:"message,omitempty"`
	CreatedAt time.Time      `json:"createdAt"`
}
