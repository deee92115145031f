package model

import (
	"time"

	"github.com/google/uuid"
	"gorm.io/gorm"
)

type Patient struct {
	ID          uuid.UUID      `gorm:"type:uuid;default:gen_random_uuid();primaryKey" json:"id"`
	ClinicID    uuid.UUID      `gorm:"type:uuid;not null;uniqueIndex:idx_patient_clinic_mrn" json:"clinic_id"`
	MRN         string         `gorm:"column:mrn;type:varchar(50);not null;uniqueIndex:idx_patient_clinic_mrn" json:"mrn"`
	FirstName   string         `gorm:"type:varchar(100);not null" json:"first_name"`
	LastName    string         `gorm:"type:varchar(100);not null" json:"last_name"`
	DateOfBirth *time.Time     `gorm:"type:date" json:"date_of_birth,omitempty"`
	Gender      string         `gorm:"type:varchar(20)" json:"gender"`
	Phone       string         `gorm:"type:varchar(20)" json:"phone"`
	CreatedBy   *uuid.UUID     `gorm:"type:uuid" json:"created_by,omitempty"`
	CreatedAt   time.Time      `json:"created_at"`
	UpdatedAt   time.Time      `json:"updated_at"`
	DeletedAt   gorm.DeletedAt `gorm:"index" json:"-"`
}
