package repository

import (
	"context"
	"errors"
	"fmt"

	"github.com/kursadbilgin/reminder-engine/internal/domain"
	"gorm.io/gorm"
)

const (
	defaultEventPageSize = 20
	maxEventPageSize     = 100
)

type EventListParams struct {
	UserID   *string
	Page     int
	PageSize int
}

type EventStore interface {
	Create(ctx context.Context, e *domain.Event) error
	GetByID(ctx context.Context, id string) (*domain.Event, error)
	GetByIdempotencyKey(ctx context.Context, idempotencyKey string) (*domain.Event, error)
	UpdateConfirmationStatus(ctx context.Context, id string, status domain.ConfirmationStatus) error
	UpdateRemindersStatus(ctx context.Context, id string, outcome domain.ScheduleOutcome) error
	List(ctx context.Context, params EventListParams) ([]domain.Event, int64, error)
}

type GormEventRepo struct {
	db *gorm.DB
}

func NewGormEventRepo(db *gorm.DB) *GormEventRepo {
	return &GormEventRepo{db: db}
}

// Create inserts the event. A reused idempotency key yields domain.ErrConflict.
func (r *GormEventRepo) Create(ctx context.Context, e *domain.Event) error {
	model := eventModelFromDomain(e)
	if model == nil {
		return fmt.Errorf("%w: event is required", domain.ErrValidation)
	}
	if err := r.db.WithContext(ctx).Create(model).Error; err != nil {
		if IsUniqueViolation(err) {
			return fmt.Errorf("event idempotency key: %w", domain.ErrConflict)
		}
		return err
	}
	*e = *eventModelToDomain(model)
	return nil
}

func (r *GormEventRepo) GetByID(ctx context.Context, id string) (*domain.Event, error) {
	var model EventModel
	err := r.db.WithContext(ctx).First(&model, "id = ?", id).Error
	if errors.Is(err, gorm.ErrRecordNotFound) {
		return nil, domain.ErrNotFound
	}
	if err != nil {
		return nil, err
	}
	return eventModelToDomain(&model), nil
}

func (r *GormEventRepo) GetByIdempotencyKey(ctx context.Context, idempotencyKey string) (*domain.Event, error) {
	var model EventModel
	err := r.db.WithContext(ctx).
		Where("idempotency_key = ?", idempotencyKey).
		First(&model).Error
	if errors.Is(err, gorm.ErrRecordNotFound) {
		return nil, domain.ErrNotFound
	}
	if err != nil {
		return nil, err
	}
	return eventModelToDomain(&model), nil
}

// List returns one page of events, newest first, with the unpaged total.
func (r *GormEventRepo) List(ctx context.Context, params EventListParams) ([]domain.Event, int64, error) {
	query := r.db.WithContext(ctx).Model(&EventModel{})
	if params.UserID != nil {
		query = query.Where("user_id = ?", *params.UserID)
	}

	var total int64
	if err := query.Count(&total).Error; err != nil {
		return nil, 0, fmt.Errorf("failed to count events: %w", err)
	}

	page := max(params.Page, 1)
	pageSize := params.PageSize
	if pageSize < 1 {
		pageSize = defaultEventPageSize
	}
	pageSize = min(pageSize, maxEventPageSize)

	var models []EventModel
	err := query.
		Order("created_at DESC").
		Offset((page - 1) * pageSize).
		Limit(pageSize).
		Find(&models).Error
	if err != nil {
		return nil, 0, fmt.Errorf("failed to list events: %w", err)
	}

	events := make([]domain.Event, 0, len(models))
	for i := range models {
		events = append(events, *eventModelToDomain(&models[i]))
	}

	return events, total, nil
}

func (r *GormEventRepo) UpdateConfirmationStatus(ctx context.Context, id string, status domain.ConfirmationStatus) error {
	return r.updateColumn(ctx, id, "confirmation_status", status)
}

func (r *GormEventRepo) UpdateRemindersStatus(ctx context.Context, id string, outcome domain.ScheduleOutcome) error {
	return r.updateColumn(ctx, id, "reminders_status", outcome)
}

func (r *GormEventRepo) updateColumn(ctx context.Context, id string, column string, value any) error {
	result := r.db.WithContext(ctx).
		Model(&EventModel{}).
		Where("id = ?", id).
		Update(column, value)
	if result.Error != nil {
		return result.Error
	}
	if result.RowsAffected == 0 {
		return domain.ErrNotFound
	}
	return nil
}
