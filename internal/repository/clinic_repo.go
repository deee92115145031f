package repository

import (
	"context"

	"emrcore/internal/model"

	"github.com/google/uuid"
	"gorm.io/gorm"
)

type ClinicRepository interface {
	Create(ctx context.Context, clinic *model.Clinic) error
	FindByID(ctx context.Context, id uuid.UUID) (*model.Clinic, error)
}

type clinicRepository struct {
	db *gorm.DB
}

func NewClinicRepository(db *gorm.DB) ClinicRepository {
	return &clinicRepository{db: db}
}

func (r *clinicRepository) Create(ctx context.Context, clinic *model.Clinic) error {
	return GetDB(ctx, r.db).Create(clinic).Error
}

func (r *clinicRepository) FindByID(ctx context.Context, id uuid.UUID) (*model.Clinic, error) {
	var clinic model.Clinic
	if err := GetDB(ctx, r.db).First(&clinic, "id = ?", id).Error; err != nil {
		return nil, err
	}
	return &clinic, nil
}
