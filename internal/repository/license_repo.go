package repository

import (
	"context"
	"errors"
	"time"

	"emrcore/internal/model"

	"github.com/google/uuid"
	"gorm.io/gorm"
	"gorm.io/gorm/clause"
)

// ErrClinicLicensed is returned by Create when the clinic already holds a license.
var ErrClinicLicensed = errors.New("clinic already has a license")

const clinicLicenseIndex = "idx_licenses_clinic_id"

type LicenseRepository interface {
	Create(ctx context.Context, license *model.License) error
	FindByID(ctx context.Context, id uuid.UUID) (*model.License, error)
	FindByIDForUpdate(ctx context.Context, id uuid.UUID) (*model.License, error)
	FindByClinicID(ctx context.Context, clinicID uuid.UUID) (*model.License, error)
	FindByKey(ctx context.Context, key string) (*model.License, error)
	Update(ctx context.Context, license *model.License) error
	// KeyExists checks current keys and every key a license has carried before.
	KeyExists(ctx context.Context, key string) (bool, error)
	CreateKeyHistory(ctx context.Context, h *model.LicenseKeyHistory) error
	ListKeyHistory(ctx context.Context, licenseID uuid.UUID) ([]model.LicenseKeyHistory, error)
	ExpireOverdue(ctx context.Context, now time.Time) (int64, error)

	FindUsage(ctx context.Context, licenseID uuid.UUID, rt model.ResourceType) (*model.LicenseUsage, error)
	ListUsage(ctx context.Context, licenseID uuid.UUID) ([]model.LicenseUsage, error)
	// IncrementUsage adds amount only while the result stays within the limit. It reports
	// false, without error, when no row qualified.
	IncrementUsage(ctx context.Context, licenseID uuid.UUID, rt model.ResourceType, amount int) (bool, error)
	// DecrementUsage subtracts amount only while the counter stays non-negative.
	DecrementUsage(ctx context.Context, licenseID uuid.UUID, rt model.ResourceType, amount int) (bool, error)
	// ResetMonthlyUsage zeroes monthly counters whose period began before periodStart.
	ResetMonthlyUsage(ctx context.Context, periodStart time.Time) (int64, error)
}

type licenseRepository struct {
	db *gorm.DB
}

func NewLicenseRepository(db *gorm.DB) LicenseRepository {
	return &licenseRepository{db: db}
}

// Create stores the license and its usage rows.
func (r *licenseRepository) Create(ctx context.Context, license *model.License) error {
	err := GetDB(ctx, r.db).Omit("Clinic").Create(license).Error
	if isUniqueViolation(err, clinicLicenseIndex) {
		return ErrClinicLicensed
	}
	return err
}

func (r *licenseRepository) FindByID(ctx context.Context, id uuid.UUID) (*model.License, error) {
	var l model.License
	if err := GetDB(ctx, r.db).Preload("Usages").First(&l, "id = ?", id).Error; err != nil {
		return nil, err
	}
	return &l, nil
}

func (r *licenseRepository) FindByIDForUpdate(ctx context.Context, id uuid.UUID) (*model.License, error) {
	var l model.License
	err := GetDB(ctx, r.db).
		Clauses(clause.Locking{Strength: clause.LockingStrengthUpdate}).
		First(&l, "id = ?", id).Error
	if err != nil {
		return nil, err
	}
	return &l, nil
}

func (r *licenseRepository) FindByClinicID(ctx context.Context, clinicID uuid.UUID) (*model.License, error) {
	var l model.License
	if err := GetDB(ctx, r.db).Preload("Usages").First(&l, "clinic_id = ?", clinicID).Error; err != nil {
		return nil, err
	}
	return &l, nil
}

func (r *licenseRepository) FindByKey(ctx context.Context, key string) (*model.License, error) {
	var l model.License
	if err := GetDB(ctx, r.db).First(&l, "license_key = ?", key).Error; err != nil {
		return nil, err
	}
	return &l, nil
}

func (r *licenseRepository) Update(ctx context.Context, license *model.License) error {
	return GetDB(ctx, r.db).Omit("Clinic", "Usages").Save(license).Error
}

func (r *licenseRepository) KeyExists(ctx context.Context, key string) (bool, error) {
	var exists bool
	err := GetDB(ctx, r.db).Raw(`
		SELECT EXISTS (SELECT 1 FROM licenses WHERE license_key = ?)
		    OR EXISTS (SELECT 1 FROM license_key_histories WHERE old_key = ?)
	`, key, key).Scan(&exists).Error
	return exists, err
}

func (r *licenseRepository) CreateKeyHistory(ctx context.Context, h *model.LicenseKeyHistory) error {
	return GetDB(ctx, r.db).Create(h).Error
}

func (r *licenseRepository) ListKeyHistory(ctx context.Context, licenseID uuid.UUID) ([]model.LicenseKeyHistory, error) {
	var hs []model.LicenseKeyHistory
	if err := GetDB(ctx, r.db).Where("license_id = ?", licenseID).Order("created_at desc").Find(&hs).Error; err != nil {
		return nil, err
	}
	return hs, nil
}

func (r *licenseRepository) ExpireOverdue(ctx context.Context, now time.Time) (int64, error) {
	res := expireOverdueQuery(GetDB(ctx, r.db), now)
	return res.RowsAffected, res.Error
}

func (r *licenseRepository) FindUsage(ctx context.Context, licenseID uuid.UUID, rt model.ResourceType) (*model.LicenseUsage, error) {
	var u model.LicenseUsage
	err := GetDB(ctx, r.db).Where("license_id = ? AND resource_type = ?", licenseID, rt).First(&u).Error
	if err != nil {
		return nil, err
	}
	return &u, nil
}

func (r *licenseRepository) ListUsage(ctx context.Context, licenseID uuid.UUID) ([]model.LicenseUsage, error) {
	var us []model.LicenseUsage
	if err := GetDB(ctx, r.db).Where("license_id = ?", licenseID).Order("resource_type asc").Find(&us).Error; err != nil {
		return nil, err
	}
	return us, nil
}

func (r *licenseRepository) IncrementUsage(ctx context.Context, licenseID uuid.UUID, rt model.ResourceType, amount int) (bool, error) {
	res := incrementUsageQuery(GetDB(ctx, r.db), licenseID, rt, amount)
	return res.RowsAffected == 1, res.Error
}

func (r *licenseRepository) DecrementUsage(ctx context.Context, licenseID uuid.UUID, rt model.ResourceType, amount int) (bool, error) {
	res := decrementUsageQuery(GetDB(ctx, r.db), licenseID, rt, amount)
	return res.RowsAffected == 1, res.Error
}

func (r *licenseRepository) ResetMonthlyUsage(ctx context.Context, periodStart time.Time) (int64, error) {
	res := resetMonthlyUsageQuery(GetDB(ctx, r.db), periodStart)
	return res.RowsAffected, res.Error
}

// The check and the write happen in one statement, so concurrent callers
// serialize on the row lock instead of racing between a read and a write.
func incrementUsageQuery(db *gorm.DB, licenseID uuid.UUID, rt model.ResourceType, amount int) *gorm.DB {
	return db.Model(&model.LicenseUsage{}).
		Where("license_id = ? AND resource_type = ?", licenseID, rt).
		Where("(usage_limit < 0 OR current_usage + ? <= usage_limit)", amount).
		Update("current_usage", gorm.Expr("current_usage + ?", amount))
}

func decrementUsageQuery(db *gorm.DB, licenseID uuid.UUID, rt model.ResourceType, amount int) *gorm.DB {
	return db.Model(&model.LicenseUsage{}).
		Where("license_id = ? AND resource_type = ?", licenseID, rt).
		Where("current_usage >= ?", amount).
		Update("current_usage", gorm.Expr("current_usage - ?", amount))
}

func resetMonthlyUsageQuery(db *gorm.DB, periodStart time.Time) *gorm.DB {
	return db.Model(&model.LicenseUsage{}).
		Where("monthly = ? AND period_start < ?", true, periodStart).
		Updates(map[string]interface{}{"current_usage": 0, "period_start": periodStart})
}

func expireOverdueQuery(db *gorm.DB, now time.Time) *gorm.DB {
	return db.Model(&model.License{}).
		Where("status IN ? AND expires_at <= ?", []model.LicenseStatus{model.LicenseStatusActive, model.LicenseStatusTrial}, now).
		Update("status", model.LicenseStatusExpired)
}
