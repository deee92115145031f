package service

import (
	"errors"
	"fmt"

	"emrcore/internal/model"

	"github.com/google/uuid"
	"gorm.io/gorm"
)

var (
	ErrNotFound                = errors.New("not found")
	ErrUnauthenticated         = errors.New("authentication required")
	ErrClinicSelectionRequired = errors.New("principal belongs to several clinics; select one explicitly")

	ErrSystemRoleImmutable = errors.New("system roles cannot be modified or deleted")
	ErrRoleInUse           = errors.New("role is assigned to at least one clinic membership")
	ErrRoleNameTaken       = errors.New("role name already exists")

	ErrUsageLimitExceeded    = errors.New("usage limit exceeded")
	ErrUsageUnderflow        = errors.New("usage counter cannot go below zero")
	ErrLicenseExists         = errors.New("clinic already has a license")
	ErrLicenseExpired        = errors.New("license has expired")
	ErrLicenseSuspended      = errors.New("license is suspended")
	ErrInvalidActivationCode = errors.New("activation code does not match license key")
	ErrRateLimited           = errors.New("too many activation attempts, retry later")

	ErrInvalidCredentials = errors.New("invalid email or password")
	ErrAlreadyMember      = errors.New("user already belongs to this clinic")
)

// AuthorizationError names the permission or role that was missing and, when the
// check was clinic scoped, the clinic.
type AuthorizationError struct {
	Permission string
	Role       string
	ClinicID   *uuid.UUID
}

func (e *AuthorizationError) Error() string {
	var what string
	switch {
	case e.Permission != "":
		what = "missing permission '" + e.Permission + "'"
	case e.Role != "":
		what = "missing role '" + e.Role + "'"
	default:
		what = "no access"
	}
	if e.ClinicID != nil {
		return fmt.Sprintf("access denied: %s in clinic %s", what, e.ClinicID)
	}
	return "access denied: " + what
}

// ValidationError reports caller-correctable input.
type ValidationError struct {
	Field   string
	Message string
}

func (e *ValidationError) Error() string {
	if e.Field == "" {
		return e.Message
	}
	return e.Field + ": " + e.Message
}

func invalid(field, format string, args ...interface{}) error {
	return &ValidationError{Field: field, Message: fmt.Sprintf(format, args...)}
}

// UsageLimitError is a quota rejection. errors.Is(err, ErrUsageLimitExceeded) holds.
type UsageLimitError struct {
	ResourceType model.ResourceType
	Current      int
	Limit        int
	Requested    int
}

func (e *UsageLimitError) Error() string {
	return fmt.Sprintf("usage limit exceeded for %s: %d of %d used, %d requested",
		e.ResourceType, e.Current, e.Limit, e.Requested)
}

func (e *UsageLimitError) Unwrap() error { return ErrUsageLimitExceeded }

// notFound converts gorm's missing-row error into ErrNotFound and wraps anything else.
func notFound(err error, what string) error {
	if errors.Is(err, gorm.ErrRecordNotFound) {
		return fmt.Errorf("%s: %w", what, ErrNotFound)
	}
	return fmt.Errorf("failed to load %s: %w", what, err)
}

func parseID(field, raw string) (uuid.UUID, error) {
	id, err := uuid.Parse(raw)
	if err != nil {
		return uuid.Nil, invalid(field, "must be a valid UUID")
	}
	return id, nil
}
