package service

import (
	"context"
	"testing"
	"time"

	"emrcore/internal/model"

	"github.com/google/uuid"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestRegisterLoginRefreshLogout(t *testing.T) {
	f := newFixture()
	ctx := context.Background()

	u, err := f.users.Register(ctx, RegisterRequest{Username: "ada", Email: "ada@example.com", Password: "correct horse"})
	require.NoError(t, err)

	_, err = f.users.Register(ctx, RegisterRequest{Username: "ada2", Email: "ada@example.com", Password: "whatever1"})
	var vErr *ValidationError
	assert.ErrorAs(t, err, &vErr)

	_, err = f.users.Login(ctx, LoginUserRequest{Email: "ada@example.com", Password: "wrong password"})
	assert.ErrorIs(t, err, ErrInvalidCredentials)

	tok, err := f.users.Login(ctx, LoginUserRequest{Email: "ada@example.com", Password: "correct horse"})
	require.NoError(t, err)
	require.NotEmpty(t, tok.AccessToken)

	p, err := NewTokens("test-jwt-secret", time.Hour, time.Hour).Parse(tok.AccessToken)
	require.NoError(t, err)
	assert.Equal(t, u.ID, p.UserID)
	assert.Equal(t, "ada@example.com", p.Email)

	_, err = NewTokens("other-secret", time.Hour, time.Hour).Parse(tok.AccessToken)
	assert.ErrorIs(t, err, ErrUnauthenticated)

	rotated, err := f.users.Refresh(ctx, tok.RefreshToken)
	require.NoError(t, err)
	assert.NotEqual(t, tok.RefreshToken, rotated.RefreshToken)

	_, err = f.users.Refresh(ctx, tok.RefreshToken)
	assert.ErrorIs(t, err, ErrUnauthenticated)

	require.NoError(t, f.users.Logout(ctx, rotated.RefreshToken))
	_, err = f.users.Refresh(ctx, rotated.RefreshToken)
	assert.ErrorIs(t, err, ErrUnauthenticated)
}

func TestExpiredAccessTokenIsRejected(t *testing.T) {
	tokens := NewTokens("secret", time.Minute, time.Hour)
	now := time.Date(2026, 1, 1, 0, 0, 0, 0, time.UTC)
	tokens.now = func() time.Time { return now }

	raw, err := tokens.IssueAccess(uuid.New(), "x@example.com")
	require.NoError(t, err)
	_, err = tokens.Parse(raw)
	require.NoError(t, err)

	now = now.Add(2 * time.Minute)
	_, err = tokens.Parse(raw)
	assert.ErrorIs(t, err, ErrUnauthenticated)
}

func TestCreateClinicMakesCreatorAdmin(t *testing.T) {
	f := newFixture()
	f.seed()
	ctx := context.Background()
	owner := f.addUser("owner@example.com")

	// Warm the cache with an empty grant set.
	grants, err := f.authz.Grants(ctx, owner)
	require.NoError(t, err)
	assert.Empty(t, grants)

	clinic, err := f.clinics.CreateClinic(ctx, owner, CreateClinicRequest{Name: "North"})
	require.NoError(t, err)
	require.NotNil(t, clinic.License)
	assert.Equal(t, model.PlanTrial, clinic.License.Plan)

	clinicID := parseUUID(t, clinic.ID)
	assert.NoError(t, f.authz.RequireRoleInClinic(ctx, owner, model.RoleClinicAdmin, clinicID))

	licenseID := parseUUID(t, clinic.License.ID)
	assert.Equal(t, 1, f.st.usage(licenseID, model.ResourceUsers))
	assert.Equal(t, 1, f.st.usage(licenseID, model.ResourceClinics))

	me, err := f.users.Me(ctx, owner)
	require.NoError(t, err)
	require.Len(t, me.Clinics, 1)
	assert.Equal(t, "North", me.Clinics[0].ClinicName)
}

func TestGrantAndRevokeClinicAccess(t *testing.T) {
	f := newFixture()
	f.seed()
	ctx := context.Background()

	owner := f.addUser("owner@example.com")
	clinic, err := f.clinics.CreateClinic(ctx, owner, CreateClinicRequest{Name: "North"})
	require.NoError(t, err)
	clinicID := parseUUID(t, clinic.ID)
	licenseID := parseUUID(t, clinic.License.ID)

	nurse := f.addUser("nurse@example.com")
	ok, err := f.authz.HasClinicAccess(ctx, nurse, clinicID)
	require.NoError(t, err)
	assert.False(t, ok)

	m, err := f.users.GrantClinicAccess(ctx, owner, clinicID, GrantClinicAccessRequest{UserID: nurse.UserID.String(), Role: model.RoleNurse})
	require.NoError(t, err)
	assert.Equal(t, model.RoleNurse, m.Role)
	assert.Equal(t, 2, f.st.usage(licenseID, model.ResourceUsers))

	// The cached empty grant set was invalidated.
	ok, err = f.authz.HasPermissionInClinic(ctx, nurse, model.PermPatientsView, clinicID)
	require.NoError(t, err)
	assert.True(t, ok)

	_, err = f.users.GrantClinicAccess(ctx, owner, clinicID, GrantClinicAccessRequest{UserID: nurse.UserID.String(), Role: model.RoleDoctor})
	assert.ErrorIs(t, err, ErrAlreadyMember)

	// Nurses cannot manage staff.
	outsider := f.addUser("outsider@example.com")
	_, err = f.users.GrantClinicAccess(ctx, nurse, clinicID, GrantClinicAccessRequest{UserID: outsider.UserID.String(), Role: model.RoleNurse})
	var authErr *AuthorizationError
	assert.ErrorAs(t, err, &authErr)

	// Clinic admins cannot hand out platform roles.
	_, err = f.users.GrantClinicAccess(ctx, owner, clinicID, GrantClinicAccessRequest{UserID: outsider.UserID.String(), Role: model.RoleSuperAdmin})
	assert.ErrorAs(t, err, &authErr)

	require.NoError(t, f.users.RevokeClinicAccess(ctx, owner, clinicID, nurse.UserID))
	assert.Equal(t, 1, f.st.usage(licenseID, model.ResourceUsers))
	ok, err = f.authz.HasClinicAccess(ctx, nurse, clinicID)
	require.NoError(t, err)
	assert.False(t, ok)

	assert.ErrorIs(t, f.users.RevokeClinicAccess(ctx, owner, clinicID, nurse.UserID), ErrNotFound)
	assert.Subset(t, f.st.auditActions(), []string{model.ActionGrantClinicAccess, model.ActionRevokeClinicAccess})
}

func TestGrantClinicAccessRejectsAnotherClinicsRole(t *testing.T) {
	f := newFixture()
	f.seed()
	ctx := context.Background()

	northOwner, southOwner := f.addUser("north@example.com"), f.addUser("south@example.com")
	north, err := f.clinics.CreateClinic(ctx, northOwner, CreateClinicRequest{Name: "North"})
	require.NoError(t, err)
	south, err := f.clinics.CreateClinic(ctx, southOwner, CreateClinicRequest{Name: "South"})
	require.NoError(t, err)
	northID, southID := parseUUID(t, north.ID), parseUUID(t, south.ID)

	_, err = f.roles.CreateClinicRole(ctx, &northOwner.UserID, northID, CreateRoleRequest{Name: "north_scribe"})
	require.NoError(t, err)

	hire := f.addUser("hire@example.com")
	_, err = f.users.GrantClinicAccess(ctx, southOwner, southID, GrantClinicAccessRequest{UserID: hire.UserID.String(), Role: "north_scribe"})
	var vErr *ValidationError
	require.ErrorAs(t, err, &vErr)
	assert.Equal(t, "role", vErr.Field)
	ok, err := f.authz.HasClinicAccess(ctx, hire, southID)
	require.NoError(t, err)
	assert.False(t, ok)

	m, err := f.users.GrantClinicAccess(ctx, northOwner, northID, GrantClinicAccessRequest{UserID: hire.UserID.String(), Role: "north_scribe"})
	require.NoError(t, err)
	assert.Equal(t, "north_scribe", m.Role)
}

func TestGrantClinicAccessRespectsSeatLimit(t *testing.T) {
	f := newFixture()
	f.seed()
	ctx := context.Background()

	owner := f.addUser("owner@example.com")
	clinic, err := f.clinics.CreateClinic(ctx, owner, CreateClinicRequest{Name: "North"})
	require.NoError(t, err)
	clinicID := parseUUID(t, clinic.ID)

	// Trial plan: three seats, the owner holds one.
	for _, email := range []string{"a@example.com", "b@example.com"} {
		u := f.addUser(email)
		_, err := f.users.GrantClinicAccess(ctx, owner, clinicID, GrantClinicAccessRequest{UserID: u.UserID.String(), Role: model.RoleReceptionist})
		require.NoError(t, err)
	}

	extra := f.addUser("c@example.com")
	_, err = f.users.GrantClinicAccess(ctx, owner, clinicID, GrantClinicAccessRequest{UserID: extra.UserID.String(), Role: model.RoleReceptionist})
	assert.ErrorIs(t, err, ErrUsageLimitExceeded)

	ok, err := f.authz.HasClinicAccess(ctx, extra, clinicID)
	require.NoError(t, err)
	assert.False(t, ok)
}

func TestPurgeExpiredSessions(t *testing.T) {
	f := newFixture()
	ctx := context.Background()
	_, err := f.users.Register(ctx, RegisterRequest{Username: "bob", Email: "bob@example.com", Password: "password1"})
	require.NoError(t, err)
	_, err = f.users.Login(ctx, LoginUserRequest{Email: "bob@example.com", Password: "password1"})
	require.NoError(t, err)

	n, err := f.users.PurgeExpiredSessions(ctx)
	require.NoError(t, err)
	assert.Zero(t, n)
}
