package repository

import (
	"context"
	"fmt"
	"strings"

	"github.com/google/uuid"
	"github.com/kursadbilgin/reminder-engine/internal/domain"
	"gorm.io/gorm"
)

// NotificationLedger is the append-only record of notification outcomes.
// At most one sent entry exists per (event, kind, offset).
type NotificationLedger interface {
	HasSent(ctx context.Context, eventID string, kind domain.NotificationKind, offsetMinutes *int) (bool, error)
	// Record appends entry. A second sent entry for the same key returns domain.ErrAlreadySent.
	Record(ctx context.Context, entry *domain.NotificationLogEntry) error
	ListByEvent(ctx context.Context, eventID string) ([]domain.NotificationLogEntry, error)
}

type GormNotificationLedger struct {
	db *gorm.DB
}

func NewGormNotificationLedger(db *gorm.DB) *GormNotificationLedger {
	return &GormNotificationLedger{db: db}
}

func (l *GormNotificationLedger) HasSent(
	ctx context.Context,
	eventID string,
	kind domain.NotificationKind,
	offsetMinutes *int,
) (bool, error) {
	query := l.db.WithContext(ctx).
		Model(&NotificationLogModel{}).
		Where("event_id = ? AND kind = ? AND status = ?", eventID, kind, domain.LogStatusSent)
	if offsetMinutes == nil {
		query = query.Where("offset_minutes IS NULL")
	} else {
		query = query.Where("offset_minutes = ?", *offsetMinutes)
	}

	var count int64
	if err := query.Count(&count).Error; err != nil {
		return false, fmt.Errorf("failed to check notification ledger: %w", err)
	}
	return count > 0, nil
}

func (l *GormNotificationLedger) Record(ctx context.Context, entry *domain.NotificationLogEntry) error {
	if entry == nil {
		return fmt.Errorf("%w: ledger entry is required", domain.ErrValidation)
	}
	if err := entry.Validate(); err != nil {
		return err
	}
	if strings.TrimSpace(entry.ID) == "" {
		entry.ID = uuid.NewString()
	}

	model := logModelFromDomain(entry)
	if err := l.db.WithContext(ctx).Create(model).Error; err != nil {
		if entry.Status == domain.LogStatusSent && IsUniqueViolation(err) {
			return fmt.Errorf("%s for event %s: %w", entry.Kind, entry.EventID, domain.ErrAlreadySent)
		}
		return fmt.Errorf("failed to record ledger entry: %w", err)
	}
	*entry = *logModelToDomain(model)
	return nil
}

func (l *GormNotificationLedger) ListByEvent(ctx context.Context, eventID string) ([]domain.NotificationLogEntry, error) {
	var models []NotificationLogModel
	err := l.db.WithContext(ctx).
		Where("event_id = ?", eventID).
		Order("created_at ASC").
		Find(&models).Error
	if err != nil {
		return nil, err
	}

	entries := make([]domain.NotificationLogEntry, 0, len(models))
	for i := range models {
		entries = append(entries, *logModelToDomain(&models[i]))
	}

	return entries, nil
}
