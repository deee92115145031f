package repository

import (
	"context"

	"emrcore/internal/model"

	"github.com/google/uuid"
	"gorm.io/gorm"
)

type MembershipRepository interface {
	Create(ctx context.Context, m *model.ClinicMembership) error
	Find(ctx context.Context, userID, clinicID uuid.UUID) (*model.ClinicMembership, error)
	Delete(ctx context.Context, m *model.ClinicMembership) error
	// ListForUser returns every membership of the user with clinic, role and role permissions loaded.
	ListForUser(ctx context.Context, userID uuid.UUID) ([]model.ClinicMembership, error)
	ListForClinic(ctx context.Context, clinicID uuid.UUID) ([]model.ClinicMembership, error)
}

type membershipRepository struct {
	db *gorm.DB
}

func NewMembershipRepository(db *gorm.DB) MembershipRepository {
	return &membershipRepository{db: db}
}

func (r *membershipRepository) Create(ctx context.Context, m *model.ClinicMembership) error {
	return GetDB(ctx, r.db).Omit("Clinic", "Role").Create(m).Error
}

func (r *membershipRepository) Find(ctx context.Context, userID, clinicID uuid.UUID) (*model.ClinicMembership, error) {
	var m model.ClinicMembership
	err := GetDB(ctx, r.db).
		Preload("Role").
		Where("user_id = ? AND clinic_id = ?", userID, clinicID).
		First(&m).Error
	if err != nil {
		return nil, err
	}
	return &m, nil
}

func (r *membershipRepository) Delete(ctx context.Context, m *model.ClinicMembership) error {
	return GetDB(ctx, r.db).Delete(m).Error
}

func (r *membershipRepository) ListForUser(ctx context.Context, userID uuid.UUID) ([]model.ClinicMembership, error) {
	var ms []model.ClinicMembership
	err := GetDB(ctx, r.db).
		Preload("Clinic").
		Preload("Role.Permissions").
		Where("user_id = ?", userID).
		Order("created_at asc").
		Find(&ms).Error
	if err != nil {
		return nil, err
	}
	return ms, nil
}

func (r *membershipRepository) ListForClinic(ctx context.Context, clinicID uuid.UUID) ([]model.ClinicMembership, error) {
	var ms []model.ClinicMembership
	if err := GetDB(ctx, r.db).Preload("Role").Where("clinic_id = ?", clinicID).Find(&ms).Error; err != nil {
		return nil, err
	}
	return ms, nil
}
