package model

import (
	"time"

	"github.com/google/uuid"
)

// Clinic is the tenant boundary. Most resources and every license belong to exactly one clinic.
type Clinic struct {
	ID        uuid.UUID `gorm:"type:uuid;default:gen_random_uuid();primaryKey" json:"id"`
	Name      string    `gorm:"type:varchar(255);not null" json:"name"`
	Address   string    `gorm:"type:text" json:"address"`
	Phone     string    `gorm:"type:varchar(20)" json:"phone"`
	IsActive  bool      `gorm:"default:true" json:"is_active"`
	CreatedAt time.Time `json:"created_at"`
	UpdatedAt time.Time `json:"updated_at"`
}

// ClinicMembership binds a user to one clinic with exactly one role.
type ClinicMembership struct {
	ID        uuid.UUID `gorm:"type:uuid;default:gen_random_uuid();primaryKey" json:"id"`
	UserID    uuid.UUID `gorm:"type:uuid;not null;uniqueIndex:idx_membership_user_clinic" json:"user_id"`
	ClinicID  uuid.UUID `gorm:"type:uuid;not null;uniqueIndex:idx_membership_user_clinic;index" json:"clinic_id"`
	RoleID    uuid.UUID `gorm:"type:uuid;not null;index" json:"role_id"`
	Clinic    *Clinic   `gorm:"foreignKey:ClinicID" json:"clinic,omitempty"`
	Role      *Role     `gorm:"foreignKey:RoleID" json:"role,omitempty"`
	CreatedAt time.Time `json:"created_at"`
}
