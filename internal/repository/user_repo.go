package repository

import (
	"context"
	"errors"
	"fmt"

	"github.com/kursadbilgin/reminder-engine/internal/domain"
	"gorm.io/gorm"
	"gorm.io/gorm/clause"
)

type UserStore interface {
	// Upsert creates the user, or refreshes name and timezone of the user
	// that already owns the e-mail address. The stored user is written back.
	Upsert(ctx context.Context, u *domain.User) error
	GetByID(ctx context.Context, id string) (*domain.User, error)
}

type GormUserRepo struct {
	db *gorm.DB
}

func NewGormUserRepo(db *gorm.DB) *GormUserRepo {
	return &GormUserRepo{db: db}
}

func (r *GormUserRepo) Upsert(ctx context.Context, u *domain.User) error {
	model := userModelFromDomain(u)
	if model == nil {
		return fmt.Errorf("%w: user is required", domain.ErrValidation)
	}

	if model.Email == nil {
		if err := r.db.WithContext(ctx).Create(model).Error; err != nil {
			return err
		}
		*u = *userModelToDomain(model)
		return nil
	}

	err := r.db.WithContext(ctx).
		Clauses(clause.OnConflict{
			Columns:   []clause.Column{{Name: "email"}},
			DoUpdates: clause.AssignmentColumns([]string{"name", "timezone", "updated_at"}),
		}).
		Create(model).Error
	if err != nil {
		return err
	}

	// On conflict the existing row keeps its id, so read it back.
	var stored UserModel
	if err := r.db.WithContext(ctx).First(&stored, "email = ?", *model.Email).Error; err != nil {
		return err
	}
	*u = *userModelToDomain(&stored)
	return nil
}

func (r *GormUserRepo) GetByID(ctx context.Context, id string) (*domain.User, error) {
	var model UserModel
	err := r.db.WithContext(ctx).First(&model, "id = ?", id).Error
	if errors.Is(err, gorm.ErrRecordNotFound) {
		return nil, domain.ErrNotFound
	}
	if err != nil {
		return nil, err
	}
	return userModelToDomain(&model), nil
}
