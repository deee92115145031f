package model

import (
	"time"

	"github.com/google/uuid"
)

const (
	ActionCreateRole            = "CREATE_ROLE"
	ActionUpdateRole            = "UPDATE_ROLE"
	ActionDeleteRole            = "DELETE_ROLE"
	ActionUpdateRolePermissions = "UPDATE_ROLE_PERMISSIONS"

	ActionGrantClinicAccess  = "GRANT_CLINIC_ACCESS"
	ActionRevokeClinicAccess = "REVOKE_CLINIC_ACCESS"
	ActionCreateClinic       = "CREATE_CLINIC"

	ActionIssueLicense    = "ISSUE_LICENSE"
	ActionRegenerateKey   = "REGENERATE_LICENSE_KEY"
	ActionActivateLicense = "ACTIVATE_LICENSE"
	ActionSuspendLicense  = "SUSPEND_LICENSE"
	ActionRegisterPatient = "REGISTER_PATIENT"
	ActionDeletePatient   = "DELETE_PATIENT"
)

// AuditLog tracks Who, What, and When for critical system changes
type AuditLog struct {
	ID         uuid.UUID  `gorm:"type:uuid;default:gen_random_uuid();primaryKey" json:"id"`
	UserID     *uuid.UUID `gorm:"type:uuid;index" json:"user_id"` // nil for scheduled jobs and CLI runs
	User       *User      `gorm:"foreignKey:UserID" json:"user"`
	ClinicID   *uuid.UUID `gorm:"type:uuid;index" json:"clinic_id"`
	Action     string     `gorm:"type:varchar(50);not null;index" json:"action"`
	EntityID   string     `gorm:"type:varchar(50);index" json:"entity_id"`
	EntityName string     `gorm:"type:varchar(255)" json:"entity_name,omitempty"`
	Details    string     `gorm:"type:jsonb" json:"details"`
	CreatedAt  time.Time  `gorm:"index" json:"created_at"`
}
