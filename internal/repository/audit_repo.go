package repository

import (
	"context"
	"strings"

	"github.com/google/uuid"
	"github.com/kursadbilgin/reminder-engine/internal/domain"
	"gorm.io/gorm"
)

type AuditStore interface {
	Create(ctx context.Context, entry *domain.AuditEntry) error
	ListByEvent(ctx context.Context, eventID string) ([]domain.AuditEntry, error)
}

type GormAuditRepo struct {
	db *gorm.DB
}

func NewGormAuditRepo(db *gorm.DB) *GormAuditRepo {
	return &GormAuditRepo{db: db}
}

func (r *GormAuditRepo) Create(ctx context.Context, entry *domain.AuditEntry) error {
	if strings.TrimSpace(entry.ID) == "" {
		entry.ID = uuid.NewString()
	}

	model := auditModelFromDomain(entry)
	if err := r.db.WithContext(ctx).Create(model).Error; err != nil {
		return err
	}
	*entry = *auditModelToDomain(model)
	return nil
}

func (r *GormAuditRepo) ListByEvent(ctx context.Context, eventID string) ([]domain.AuditEntry, error) {
	var models []AuditLogModel
	err := r.db.WithContext(ctx).
		Where("event_id = ?", eventID).
		Order("created_at ASC").
		Find(&models).Error
	if err != nil {
		return nil, err
	}

	entries := make([]domain.AuditEntry, 0, len(models))
	for i := range models {
		entries = append(entries, *auditModelToDomain(&models[i]))
	}
	return entries, nil
}
