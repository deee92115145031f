package handler

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"emrcore/internal/middleware"
	"emrcore/internal/model"
	"emrcore/internal/service"
	"emrcore/pkg/response"

	"github.com/gin-gonic/gin"
	"github.com/google/uuid"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/mock"
	"github.com/stretchr/testify/require"
)

type stubAuthz struct {
	service.AuthorizationService
	clinic uuid.UUID
	perms  map[string]bool
	roles  map[string]bool
}

func (s stubAuthz) RequireRole(_ context.Context, _ *service.Principal, role string) error {
	if !s.roles[role] {
		return &service.AuthorizationError{Role: role}
	}
	return nil
}

func (s stubAuthz) ResolveClinic(_ context.Context, p *service.Principal, requested uuid.UUID) (*service.ClinicGrant, error) {
	if requested != uuid.Nil && requested != s.clinic {
		return nil, &service.AuthorizationError{ClinicID: &requested}
	}
	return &service.ClinicGrant{ClinicID: s.clinic, Role: "clinic_admin"}, nil
}

func (s stubAuthz) RequirePermission(_ context.Context, _ *service.Principal, perm string) error {
	if !s.perms[perm] {
		return &service.AuthorizationError{Permission: perm}
	}
	return nil
}

func (s stubAuthz) RequirePermissionInClinic(ctx context.Context, p *service.Principal, perm string, clinicID uuid.UUID) error {
	if clinicID != s.clinic {
		return &service.AuthorizationError{Permission: perm, ClinicID: &clinicID}
	}
	return s.RequirePermission(ctx, p, perm)
}

type MockLicenseService struct {
	service.LicenseService
	mock.Mock
}

func (m *MockLicenseService) GetLicenseByClinic(ctx context.Context, clinicID uuid.UUID) (*service.LicenseResponse, error) {
	args := m.Called(ctx, clinicID)
	lic, _ := args.Get(0).(*service.LicenseResponse)
	return lic, args.Error(1)
}

func (m *MockLicenseService) CheckUsageLimit(ctx context.Context, licenseID uuid.UUID, rt model.ResourceType) (*service.UsageReport, error) {
	args := m.Called(ctx, licenseID, rt)
	report, _ := args.Get(0).(*service.UsageReport)
	return report, args.Error(1)
}

func (m *MockLicenseService) ActivateLicense(ctx context.Context, actor *uuid.UUID, req service.ActivateLicenseRequest) (*service.ActivationResult, error) {
	args := m.Called(ctx, actor, req)
	res, _ := args.Get(0).(*service.ActivationResult)
	return res, args.Error(1)
}

func (m *MockLicenseService) GenerateKeys(ctx context.Context, req service.GenerateKeysRequest) ([]string, error) {
	args := m.Called(ctx, req)
	keys, _ := args.Get(0).([]string)
	return keys, args.Error(1)
}

type MockRoleService struct {
	service.RoleService
	mock.Mock
}

func (m *MockRoleService) ListRoles(ctx context.Context) ([]service.RoleResponse, error) {
	args := m.Called(ctx)
	roles, _ := args.Get(0).([]service.RoleResponse)
	return roles, args.Error(1)
}

func (m *MockRoleService) CreateClinicRole(ctx context.Context, actor *uuid.UUID, clinicID uuid.UUID, req service.CreateRoleRequest) (*service.RoleResponse, error) {
	args := m.Called(ctx, actor, clinicID, req)
	role, _ := args.Get(0).(*service.RoleResponse)
	return role, args.Error(1)
}

func (m *MockRoleService) DeleteClinicRole(ctx context.Context, actor *uuid.UUID, clinicID uuid.UUID, id string) error {
	return m.Called(ctx, actor, clinicID, id).Error(0)
}

type testServer struct {
	router *gin.Engine
	token  string
	clinic uuid.UUID
}

func newTestServer(t *testing.T, perms []string, register func(authz service.AuthorizationService, g *gin.RouterGroup)) testServer {
	t.Helper()
	gin.SetMode(gin.TestMode)

	tokens := service.NewTokens("handler-secret", time.Hour, 24*time.Hour)
	token, err := tokens.IssueAccess(uuid.New(), "admin@clinic.test")
	require.NoError(t, err)

	authz := stubAuthz{clinic: uuid.New(), perms: map[string]bool{}}
	for _, p := range perms {
		authz.perms[p] = true
	}

	r := gin.New()
	api := r.Group("/api", middleware.Authenticate(tokens))
	register(authz, api)
	return testServer{router: r, token: token, clinic: authz.clinic}
}

func (s testServer) do(t *testing.T, method, path string, body interface{}) (*httptest.ResponseRecorder, response.Response) {
	t.Helper()
	var buf bytes.Buffer
	if body != nil {
		require.NoError(t, json.NewEncoder(&buf).Encode(body))
	}
	req := httptest.NewRequest(method, path, &buf)
	req.Header.Set("Authorization", "Bearer "+s.token)
	req.Header.Set("Content-Type", "application/json")
	w := httptest.NewRecorder()
	s.router.ServeHTTP(w, req)

	var resp response.Response
	require.NoError(t, json.Unmarshal(w.Body.Bytes(), &resp))
	return w, resp
}

func TestLicenseHandler_CheckUsage(t *testing.T) {
	svc := new(MockLicenseService)
	srv := newTestServer(t, []string{model.PermLicenseView}, func(authz service.AuthorizationService, g *gin.RouterGroup) {
		NewLicenseHandler(svc, authz).RegisterRoutes(g)
	})
	licenseID := uuid.New()
	svc.On("GetLicenseByClinic", mock.Anything, srv.clinic).
		Return(&service.LicenseResponse{ID: licenseID.String()}, nil)
	svc.On("CheckUsageLimit", mock.Anything, licenseID, model.ResourcePatients).
		Return(&service.UsageReport{ResourceType: model.ResourcePatients, Current: 3, Limit: 50, Remaining: 47}, nil)

	w, resp := srv.do(t, http.MethodGet, "/api/clinics/"+srv.clinic.String()+"/license/usage/patients", nil)
	assert.Equal(t, http.StatusOK, w.Code)
	assert.True(t, resp.Success)
	data := resp.Data.(map[string]interface{})
	assert.EqualValues(t, 47, data["remaining"])

	w, _ = srv.do(t, http.MethodGet, "/api/clinics/"+srv.clinic.String()+"/license/usage/beds", nil)
	assert.Equal(t, http.StatusUnprocessableEntity, w.Code)

	other := uuid.New()
	w, _ = srv.do(t, http.MethodGet, "/api/clinics/"+other.String()+"/license/usage/patients", nil)
	assert.Equal(t, http.StatusForbidden, w.Code)

	svc.AssertExpectations(t)
}

func TestLicenseHandler_Activate(t *testing.T) {
	svc := new(MockLicenseService)
	srv := newTestServer(t, []string{model.PermLicenseManage}, func(authz service.AuthorizationService, g *gin.RouterGroup) {
		NewLicenseHandler(svc, authz).RegisterRoutes(g)
	})

	good := service.ActivateLicenseRequest{LicenseKey: "MEDI-AAAA", ActivationCode: "GOOD"}
	bad := service.ActivateLicenseRequest{LicenseKey: "MEDI-AAAA", ActivationCode: "BAD"}
	spam := service.ActivateLicenseRequest{LicenseKey: "MEDI-BBBB", ActivationCode: "BAD"}
	svc.On("ActivateLicense", mock.Anything, mock.Anything, good).
		Return(&service.ActivationResult{Success: true, License: &service.LicenseResponse{LicenseKey: "MEDI-AAAA"}}, nil)
	svc.On("ActivateLicense", mock.Anything, mock.Anything, bad).
		Return(&service.ActivationResult{Reason: service.ActivationInvalidCode}, nil)
	svc.On("ActivateLicense", mock.Anything, mock.Anything, spam).
		Return(&service.ActivationResult{Reason: service.ActivationRateLimited}, nil)
	foreign := service.ActivateLicenseRequest{LicenseKey: "MEDI-CCCC", ActivationCode: "GOOD"}
	otherClinic := uuid.New()
	svc.On("ActivateLicense", mock.Anything, mock.Anything, foreign).
		Return(nil, &service.AuthorizationError{Permission: model.PermLicenseManage, ClinicID: &otherClinic})

	w, resp := srv.do(t, http.MethodPost, "/api/licenses/activate", good)
	assert.Equal(t, http.StatusOK, w.Code)
	assert.True(t, resp.Success)

	w, resp = srv.do(t, http.MethodPost, "/api/licenses/activate", bad)
	assert.Equal(t, http.StatusUnprocessableEntity, w.Code)
	assert.False(t, resp.Success)
	assert.Equal(t, "invalid_code", resp.Data.(map[string]interface{})["reason"])

	w, _ = srv.do(t, http.MethodPost, "/api/licenses/activate", spam)
	assert.Equal(t, http.StatusTooManyRequests, w.Code)

	// Holding license.manage somewhere is not enough for another clinic's key.
	w, _ = srv.do(t, http.MethodPost, "/api/licenses/activate", foreign)
	assert.Equal(t, http.StatusForbidden, w.Code)

	w, _ = srv.do(t, http.MethodPost, "/api/licenses/activate", map[string]string{"license_key": "MEDI-AAAA"})
	assert.Equal(t, http.StatusUnprocessableEntity, w.Code)
}

func TestLicenseHandler_PlatformRoutesNeedKeyPermission(t *testing.T) {
	svc := new(MockLicenseService)
	srv := newTestServer(t, []string{model.PermLicenseManage}, func(authz service.AuthorizationService, g *gin.RouterGroup) {
		NewLicenseHandler(svc, authz).RegisterRoutes(g)
	})

	w, _ := srv.do(t, http.MethodPost, "/api/licenses/"+uuid.NewString()+"/suspend", map[string]string{"reason": "fraud"})
	assert.Equal(t, http.StatusForbidden, w.Code)
	svc.AssertNotCalled(t, "SuspendLicense")
}

func TestLicenseKeyHandler_Generate(t *testing.T) {
	svc := new(MockLicenseService)
	srv := newTestServer(t, []string{model.PermLicenseKeys}, func(authz service.AuthorizationService, g *gin.RouterGroup) {
		NewLicenseKeyHandler(svc, authz).RegisterRoutes(g)
	})
	svc.On("GenerateKeys", mock.Anything, mock.MatchedBy(func(r service.GenerateKeysRequest) bool { return r.Count == 2 })).
		Return([]string{"MEDI-1", "MEDI-2"}, nil)

	w, resp := srv.do(t, http.MethodPost, "/api/license-keys/generate", map[string]interface{}{"count": 2, "strategy": "standard"})
	assert.Equal(t, http.StatusOK, w.Code)
	assert.Len(t, resp.Data, 2)

	w, resp = srv.do(t, http.MethodPost, "/api/license-keys/generate", map[string]interface{}{"count": 101})
	assert.Equal(t, http.StatusUnprocessableEntity, w.Code)
	require.NotEmpty(t, resp.Errors)
	assert.Equal(t, "count", resp.Errors[0].Field)
}

func TestLicenseKeyHandler_Forbidden(t *testing.T) {
	svc := new(MockLicenseService)
	srv := newTestServer(t, []string{model.PermLicenseView}, func(authz service.AuthorizationService, g *gin.RouterGroup) {
		NewLicenseKeyHandler(svc, authz).RegisterRoutes(g)
	})

	w, resp := srv.do(t, http.MethodPost, "/api/license-keys/generate", map[string]interface{}{"count": 1})
	assert.Equal(t, http.StatusForbidden, w.Code)
	assert.False(t, resp.Success)
	svc.AssertNotCalled(t, "GenerateKeys")
}

func TestRoleHandler_ClinicRoutes(t *testing.T) {
	svc := new(MockRoleService)
	srv := newTestServer(t, []string{model.PermRolesManage}, func(authz service.AuthorizationService, g *gin.RouterGroup) {
		NewRoleHandler(svc, authz).RegisterRoutes(g)
	})
	req := service.CreateRoleRequest{Name: "billing_clerk"}
	svc.On("CreateClinicRole", mock.Anything, mock.Anything, srv.clinic, req).
		Return(&service.RoleResponse{Name: "billing_clerk", ClinicID: srv.clinic.String()}, nil)
	roleID := uuid.NewString()
	svc.On("DeleteClinicRole", mock.Anything, mock.Anything, srv.clinic, roleID).
		Return(fmt.Errorf("role: %w", service.ErrNotFound))

	w, resp := srv.do(t, http.MethodPost, "/api/clinics/"+srv.clinic.String()+"/roles", req)
	assert.Equal(t, http.StatusCreated, w.Code)
	assert.Equal(t, srv.clinic.String(), resp.Data.(map[string]interface{})["clinic_id"])

	w, _ = srv.do(t, http.MethodDelete, "/api/clinics/"+srv.clinic.String()+"/roles/"+roleID, nil)
	assert.Equal(t, http.StatusNotFound, w.Code)

	w, _ = srv.do(t, http.MethodPost, "/api/clinics/"+uuid.NewString()+"/roles", req)
	assert.Equal(t, http.StatusForbidden, w.Code)

	// Shared roles are for platform administrators only.
	w, _ = srv.do(t, http.MethodGet, "/api/roles", nil)
	assert.Equal(t, http.StatusForbidden, w.Code)
	svc.AssertNotCalled(t, "ListRoles", mock.Anything)

	svc.AssertExpectations(t)
}
