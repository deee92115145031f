package repository

import (
	"errors"
	"fmt"
	"testing"

	"github.com/jackc/pgx/v5/pgconn"
	"github.com/stretchr/testify/assert"
)

func TestIsUniqueViolation(t *testing.T) {
	dup := &pgconn.PgError{Code: pgUniqueViolation, ConstraintName: clinicLicenseIndex}

	assert.True(t, isUniqueViolation(dup, clinicLicenseIndex))
	assert.True(t, isUniqueViolation(fmt.Errorf("insert: %w", dup), clinicLicenseIndex))
	assert.False(t, isUniqueViolation(dup, "idx_licenses_license_key"))
	assert.False(t, isUniqueViolation(&pgconn.PgError{Code: "23503", ConstraintName: clinicLicenseIndex}, clinicLicenseIndex))
	assert.False(t, isUniqueViolation(errors.New("connection reset"), clinicLicenseIndex))
	assert.False(t, isUniqueViolation(nil, clinicLicenseIndex))
}
