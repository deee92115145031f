package repository

import (
	"context"

	"emrcore/internal/model"

	"github.com/google/uuid"
	"gorm.io/gorm"
)

type PatientRepository interface {
	Create(ctx context.Context, p *model.Patient) error
	FindInClinic(ctx context.Context, clinicID, id uuid.UUID) (*model.Patient, error)
	Delete(ctx context.Context, p *model.Patient) error
}

type patientRepository struct {
	db *gorm.DB
}

func NewPatientRepository(db *gorm.DB) PatientRepository {
	return &patientRepository{db: db}
}

func (r *patientRepository) Create(ctx context.Context, p *model.Patient) error {
	return GetDB(ctx, r.db).Create(p).Error
}

func (r *patientRepository) FindInClinic(ctx context.Context, clinicID, id uuid.UUID) (*model.Patient, error) {
	var p model.Patient
	if err := GetDB(ctx, r.db).First(&p, "clinic_id = ? AND id = ?", clinicID, id).Error; err != nil {
		return nil, err
	}
	return &p, nil
}

func (r *patientRepository) Delete(ctx context.Context, p *model.Patient) error {
	return GetDB(ctx, r.db).Delete(p).Error
}
