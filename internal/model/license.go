package model

import (
	"fmt"
	"time"

	"github.com/google/uuid"
	"gorm.io/datatypes"
)

type LicenseStatus string

const (
	LicenseStatusActive    LicenseStatus = "active"
	LicenseStatusTrial     LicenseStatus = "trial"
	LicenseStatusExpired   LicenseStatus = "expired"
	LicenseStatusSuspended LicenseStatus = "suspended"
)

// ResourceType names a metered resource on a license.
type ResourceType string

const (
	ResourceUsers        ResourceType = "users"
	ResourceClinics      ResourceType = "clinics"
	ResourcePatients     ResourceType = "patients"
	ResourceAppointments ResourceType = "appointments"
)

// ResourceTypes is the closed set of metered resources.
var ResourceTypes = []ResourceType{ResourceUsers, ResourceClinics, ResourcePatients, ResourceAppointments}

// ParseResourceType rejects anything outside ResourceTypes.
func ParseResourceType(s string) (ResourceType, error) {
	for _, rt := range ResourceTypes {
		if string(rt) == s {
			return rt, nil
		}
	}
	return "", fmt.Errorf("unknown resource type %q", s)
}

// IsMonthly reports whether the counter resets at the start of every month.
func (rt ResourceType) IsMonthly() bool {
	return rt == ResourceAppointments
}

// UnlimitedUsage as a usage limit disables the cap for that resource.
const UnlimitedUsage = -1

// License governs plan tier, expiry, features and usage quotas of a single clinic.
type License struct {
	ID          uuid.UUID                   `gorm:"type:uuid;default:gen_random_uuid();primaryKey" json:"id"`
	ClinicID    uuid.UUID                   `gorm:"type:uuid;not null;uniqueIndex:idx_licenses_clinic_id" json:"clinic_id"`
	Clinic      *Clinic                     `gorm:"foreignKey:ClinicID" json:"clinic,omitempty"`
	LicenseKey  string                      `gorm:"type:varchar(128);uniqueIndex;not null" json:"license_key"`
	KeyStrategy string                      `gorm:"type:varchar(20);not null" json:"key_strategy"`
	Plan        string                      `gorm:"type:varchar(30);not null" json:"plan"`
	Status      LicenseStatus               `gorm:"type:varchar(20);not null;index" json:"status"`
	Features    datatypes.JSONSlice[string] `json:"features"`
	ExpiresAt   time.Time                   `gorm:"not null;index" json:"expires_at"`
	ActivatedAt *time.Time                  `json:"activated_at,omitempty"`
	Usages      []LicenseUsage              `gorm:"foreignKey:LicenseID" json:"usages,omitempty"`
	CreatedAt   time.Time                   `json:"created_at"`
	UpdatedAt   time.Time                   `json:"updated_at"`
}

// LicenseUsage is the counter of one resource type on one license.
type LicenseUsage struct {
	ID           uuid.UUID    `gorm:"type:uuid;default:gen_random_uuid();primaryKey" json:"id"`
	LicenseID    uuid.UUID    `gorm:"type:uuid;not null;uniqueIndex:idx_usage_license_resource" json:"license_id"`
	ResourceType ResourceType `gorm:"type:varchar(20);not null;uniqueIndex:idx_usage_license_resource" json:"resource_type"`
	CurrentUsage int          `gorm:"not null;default:0;check:current_usage >= 0" json:"current_usage"`
	UsageLimit   int          `gorm:"not null" json:"usage_limit"`
	Monthly      bool         `gorm:"not null;default:false" json:"monthly"`
	PeriodStart  time.Time    `json:"period_start"`
	UpdatedAt    time.Time    `json:"updated_at"`
}

// LicenseKeyHistory keeps every key a license has carried. Replaced keys stay
// reserved so they can never be issued again.
type LicenseKeyHistory struct {
	ID        uuid.UUID  `gorm:"type:uuid;default:gen_random_uuid();primaryKey" json:"id"`
	LicenseID uuid.UUID  `gorm:"type:uuid;not null;index" json:"license_id"`
	OldKey    string     `gorm:"type:varchar(128);not null;index" json:"old_key"`
	NewKey    string     `gorm:"type:varchar(128);not null" json:"new_key"`
	Strategy  string     `gorm:"type:varchar(20);not null" json:"strategy"`
	Reason    string     `gorm:"type:varchar(255)" json:"reason"`
	ChangedBy *uuid.UUID `gorm:"type:uuid" json:"changed_by,omitempty"`
	CreatedAt time.Time  `json:"created_at"`
}
