package repository

import (
	"time"

	"github.com/kursadbilgin/reminder-engine/internal/domain"
)

// UserModel is the persistence model for the users table.
type UserModel struct {
	ID        string  `gorm:"type:uuid;primaryKey"`
	Name      string  `gorm:"type:varchar(255);not null"`
	Email     *string `gorm:"type:varchar(320);uniqueIndex:idx_users_email"`
	Timezone  string  `gorm:"type:varchar(64);not null;default:'UTC'"`
	CreatedAt time.Time
	UpdatedAt time.Time
}

func (UserModel) TableName() string {
	return "users"
}

// EventModel is the persistence model for the events table.
type EventModel struct {
	ID                 string                    `gorm:"type:uuid;primaryKey"`
	UserID             *string                   `gorm:"type:uuid;index:idx_events_user_id"`
	Title              string                    `gorm:"type:varchar(255);not null"`
	AttendeeName       string                    `gorm:"type:varchar(255);not null"`
	Description        string                    `gorm:"type:text;not null;default:''"`
	CalendarID         string                    `gorm:"type:varchar(255);not null;default:''"`
	HTMLLink           string                    `gorm:"column:html_link;type:text;not null;default:''"`
	StartAt            time.Time                 `gorm:"type:timestamptz;not null"`
	EndAt              time.Time                 `gorm:"type:timestamptz;not null"`
	Timezone           string                    `gorm:"type:varchar(64);not null"`
	RemindersEnabled   bool                      `gorm:"not null;default:true"`
	ReminderOffsets    []int                     `gorm:"type:jsonb;serializer:json;not null"`
	ConfirmationStatus domain.ConfirmationStatus `gorm:"type:varchar(20);not null"`
	RemindersStatus    domain.ScheduleOutcome    `gorm:"type:varchar(20);not null"`
	IdempotencyKey     *string                   `gorm:"type:varchar(255)"`
	CreatedAt          time.Time
	UpdatedAt          time.Time
}

func (EventModel) TableName() string {
	return "events"
}

// NotificationLogModel is the persistence model for the append-only notification_logs table.
type NotificationLogModel struct {
	ID                string                  `gorm:"type:uuid;primaryKey"`
	EventID           string                  `gorm:"type:uuid;not null"`
	Kind              domain.NotificationKind `gorm:"type:varchar(20);not null"`
	OffsetMinutes     *int                    `gorm:"type:int"`
	Status            domain.LogStatus        `gorm:"type:varchar(20);not null"`
	Recipient         string                  `gorm:"type:varchar(320);not null;default:''"`
	ProviderMessageID *string                 `gorm:"type:varchar(255)"`
	Error             *string                 `gorm:"type:text"`
	Reason            *string                 `gorm:"type:varchar(64)"`
	Attempt           int                     `gorm:"not null;default:0"`
	Terminal          bool                    `gorm:"not null;default:false"`
	CreatedAt         time.Time
}

func (NotificationLogModel) TableName() string {
	return "notification_logs"
}

// AuditLogModel is the persistence model for the audit_logs table.
type AuditLogModel struct {
	ID        string           `gorm:"type:uuid;primaryKey"`
	Type      domain.AuditType `gorm:"type:varchar(64);not null"`
	EventID   *string          `gorm:"type:uuid"`
	Payload   map[string]any   `gorm:"type:jsonb;serializer:json"`
	Message   string           `gorm:"type:text;not null;default:''"`
	CreatedAt time.Time
}

func (AuditLogModel) TableName() string {
	return "audit_logs"
}

func userModelFromDomain(u *domain.User) *UserModel {
	if u == nil {
		return nil
	}

	return &UserModel{
		ID:        u.ID,
		Name:      u.Name,
		Email:     u.Email,
		Timezone:  u.Timezone,
		CreatedAt: u.CreatedAt,
		UpdatedAt: u.UpdatedAt,
	}
}

func userModelToDomain(m *UserModel) *domain.User {
	if m == nil {
		return nil
	}

	return &domain.User{
		ID:        m.ID,
		Name:      m.Name,
		Email:     m.Email,
		Timezone:  m.Timezone,
		CreatedAt: m.CreatedAt,
		UpdatedAt: m.UpdatedAt,
	}
}

func eventModelFromDomain(e *domain.Event) *EventModel {
	if e == nil {
		return nil
	}

	offsets := e.ReminderConfig.OffsetsMinutes
	if offsets == nil {
		offsets = []int{}
	}

	return &EventModel{
		ID:                 e.ID,
		UserID:             e.UserID,
		Title:              e.Title,
		AttendeeName:       e.AttendeeName,
		Description:        e.Description,
		CalendarID:         e.CalendarID,
		HTMLLink:           e.HTMLLink,
		StartAt:            e.Start,
		EndAt:              e.End,
		Timezone:           e.Timezone,
		RemindersEnabled:   e.ReminderConfig.Enabled,
		ReminderOffsets:    offsets,
		ConfirmationStatus: e.NotificationStatus.ConfirmationEmail,
		RemindersStatus:    e.NotificationStatus.Reminders,
		IdempotencyKey:     e.IdempotencyKey,
		CreatedAt:          e.CreatedAt,
		UpdatedAt:          e.UpdatedAt,
	}
}

func eventModelToDomain(m *EventModel) *domain.Event {
	if m == nil {
		return nil
	}

	return &domain.Event{
		ID:           m.ID,
		UserID:       m.UserID,
		Title:        m.Title,
		AttendeeName: m.AttendeeName,
		Description:  m.Description,
		CalendarID:   m.CalendarID,
		HTMLLink:     m.HTMLLink,
		Start:        m.StartAt,
		End:          m.EndAt,
		Timezone:     m.Timezone,
		ReminderConfig: domain.ReminderConfig{
			Enabled:        m.RemindersEnabled,
			OffsetsMinutes: m.ReminderOffsets,
		},
		NotificationStatus: domain.NotificationStatus{
			ConfirmationEmail: m.ConfirmationStatus,
			Reminders:         m.RemindersStatus,
		},
		IdempotencyKey: m.IdempotencyKey,
		CreatedAt:      m.CreatedAt,
		UpdatedAt:      m.UpdatedAt,
	}
}

func logModelFromDomain(e *domain.NotificationLogEntry) *NotificationLogModel {
	if e == nil {
		return nil
	}

	return &NotificationLogModel{
		ID:                e.ID,
		EventID:           e.EventID,
		Kind:              e.Kind,
		OffsetMinutes:     e.OffsetMinutes,
		Status:            e.Status,
		Recipient:         e.Recipient,
		ProviderMessageID: e.ProviderMessageID,
		Error:             e.Error,
		Reason:            e.Reason,
		Attempt:           e.Attempt,
		Terminal:          e.Terminal,
		CreatedAt:         e.CreatedAt,
	}
}

func logModelToDomain(m *NotificationLogModel) *domain.NotificationLogEntry {
	if m == nil {
		return nil
	}

	return &domain.NotificationLogEntry{
		ID:                m.ID,
		EventID:           m.EventID,
		Kind:              m.Kind,
		OffsetMinutes:     m.OffsetMinutes,
		Status:            m.Status,
		Recipient:         m.Recipient,
		ProviderMessageID: m.ProviderMessageID,
		Error:             m.Error,
		Reason:            m.Reason,
		Attempt:           m.Attempt,
		Terminal:          m.Terminal,
		CreatedAt:         m.CreatedAt,
	}
}

func auditModelFromDomain(a *domain.AuditEntry) *AuditLogModel {
	if a == nil {
		return nil
	}

	var eventID *string
	if a.EventID != "" {
		id := a.EventID
		eventID = &id
	}

	return &AuditLogModel{
		ID:        a.ID,
		Type:      a.Type,
		EventID:   eventID,
		Payload:   a.Payload,
		Message:   a.Message,
		CreatedAt: a.CreatedAt,
	}
}

func auditModelToDomain(m *AuditLogModel) *domain.AuditEntry {
	if m == nil {
		return nil
	}

	entry := &domain.AuditEntry{
		ID:        m.ID,
		Type:      m.Type,
		Payload:   m.Payload,
		Message:   m.Message,
		CreatedAt: m.CreatedAt,
	}
	if m.EventID != nil {
		entry.EventID = *m.EventID
	}
	return entry
}
