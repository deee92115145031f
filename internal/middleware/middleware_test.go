package middleware

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"emrcore/internal/model"
	"emrcore/internal/service"
	"emrcore/pkg/licensekey"
	"emrcore/pkg/response"

	"github.com/gin-gonic/gin"
	"github.com/google/uuid"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

// stubAuthz grants a fixed permission set in one clinic.
type stubAuthz struct {
	service.AuthorizationService
	clinic uuid.UUID
	perms  map[string]bool
}

func (s stubAuthz) grant() service.ClinicGrant {
	return service.ClinicGrant{ClinicID: s.clinic, Role: "doctor"}
}

func (s stubAuthz) ResolveClinic(_ context.Context, p *service.Principal, requested uuid.UUID) (*service.ClinicGrant, error) {
	if p == nil {
		return nil, service.ErrUnauthenticated
	}
	if requested != uuid.Nil && requested != s.clinic {
		return nil, &service.AuthorizationError{ClinicID: &requested}
	}
	g := s.grant()
	return &g, nil
}

func (s stubAuthz) RequirePermission(_ context.Context, p *service.Principal, perm string) error {
	if p == nil {
		return service.ErrUnauthenticated
	}
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

func newRouter(tokens *service.Tokens, authz service.AuthorizationService) *gin.Engine {
	gin.SetMode(gin.TestMode)
	r := gin.New()
	r.Use(Recovery())
	api := r.Group("/api", Authenticate(tokens))
	api.GET("/me", func(c *gin.Context) {
		c.JSON(http.StatusOK, response.Success(CurrentPrincipal(c).Email))
	})
	api.GET("/clinics/:clinicID/patients", RequireClinicPermission(authz, model.PermPatientsView), func(c *gin.Context) {
		c.JSON(http.StatusOK, response.Success(CurrentClinic(c).ClinicID))
	})
	api.GET("/patients", RequireClinicPermission(authz, model.PermPatientsView), func(c *gin.Context) {
		c.JSON(http.StatusOK, response.Success(CurrentClinic(c).ClinicID))
	})
	api.GET("/roles", RequirePermission(authz, model.PermRolesManage), func(c *gin.Context) {
		c.Status(http.StatusNoContent)
	})
	r.GET("/panic", func(*gin.Context) { panic("boom") })
	return r
}

func do(r http.Handler, path, token string, header map[string]string) (*httptest.ResponseRecorder, response.Response) {
	req := httptest.NewRequest(http.MethodGet, path, nil)
	if token != "" {
		req.Header.Set("Authorization", "Bearer "+token)
	}
	for k, v := range header {
		req.Header.Set(k, v)
	}
	w := httptest.NewRecorder()
	r.ServeHTTP(w, req)
	var body response.Response
	_ = json.Unmarshal(w.Body.Bytes(), &body)
	return w, body
}

func TestAuthenticate(t *testing.T) {
	tokens := service.NewTokens("secret", time.Hour, time.Hour)
	r := newRouter(tokens, stubAuthz{})

	w, body := do(r, "/api/me", "", nil)
	assert.Equal(t, http.StatusUnauthorized, w.Code)
	assert.False(t, body.Success)

	w, _ = do(r, "/api/me", "garbage", nil)
	assert.Equal(t, http.StatusUnauthorized, w.Code)

	token, err := tokens.IssueAccess(uuid.New(), "doc@example.com")
	require.NoError(t, err)
	w, body = do(r, "/api/me", token, nil)
	assert.Equal(t, http.StatusOK, w.Code)
	assert.Equal(t, "doc@example.com", body.Data)

	req := httptest.NewRequest(http.MethodGet, "/api/me", nil)
	req.AddCookie(&http.Cookie{Name: "access_token", Value: token})
	rec := httptest.NewRecorder()
	r.ServeHTTP(rec, req)
	assert.Equal(t, http.StatusOK, rec.Code)
}

func TestRequireClinicPermission(t *testing.T) {
	tokens := service.NewTokens("secret", time.Hour, time.Hour)
	clinic := uuid.New()
	r := newRouter(tokens, stubAuthz{clinic: clinic, perms: map[string]bool{model.PermPatientsView: true}})
	token, err := tokens.IssueAccess(uuid.New(), "doc@example.com")
	require.NoError(t, err)

	w, body := do(r, "/api/clinics/"+clinic.String()+"/patients", token, nil)
	assert.Equal(t, http.StatusOK, w.Code)
	assert.Equal(t, clinic.String(), body.Data)

	w, body = do(r, "/api/clinics/"+uuid.NewString()+"/patients", token, nil)
	assert.Equal(t, http.StatusForbidden, w.Code)
	assert.False(t, body.Success)

	w, _ = do(r, "/api/clinics/not-a-uuid/patients", token, nil)
	assert.Equal(t, http.StatusUnprocessableEntity, w.Code)

	w, _ = do(r, "/api/patients", token, map[string]string{ClinicHeader: clinic.String()})
	assert.Equal(t, http.StatusOK, w.Code)

	w, _ = do(r, "/api/roles", token, nil)
	assert.Equal(t, http.StatusForbidden, w.Code)
}

func TestRecovery(t *testing.T) {
	r := newRouter(service.NewTokens("secret", time.Hour, time.Hour), stubAuthz{})
	w, body := do(r, "/panic", "", nil)
	assert.Equal(t, http.StatusInternalServerError, w.Code)
	assert.Equal(t, "internal server error", body.Message)
}

func TestStatusFor(t *testing.T) {
	clinic := uuid.New()
	cases := []struct {
		err  error
		want int
	}{
		{service.ErrUnauthenticated, http.StatusUnauthorized},
		{&service.AuthorizationError{Permission: "patients.view", ClinicID: &clinic}, http.StatusForbidden},
		{&service.ValidationError{Field: "plan", Message: "unknown"}, http.StatusUnprocessableEntity},
		{fmt.Errorf("tx: %w", &service.UsageLimitError{ResourceType: model.ResourcePatients, Current: 2, Limit: 2, Requested: 1}), http.StatusConflict},
		{fmt.Errorf("license: %w", service.ErrNotFound), http.StatusNotFound},
		{service.ErrRateLimited, http.StatusTooManyRequests},
		{service.ErrSystemRoleImmutable, http.StatusForbidden},
		{service.ErrRoleInUse, http.StatusConflict},
		{licensekey.ErrCollisionExhausted, http.StatusInternalServerError},
		{errors.New("connection reset"), http.StatusInternalServerError},
	}
	for _, tc := range cases {
		t.Run(tc.err.Error(), func(t *testing.T) {
			assert.Equal(t, tc.want, StatusFor(tc.err))
		})
	}
}

func TestAbortWithUsageLimitError(t *testing.T) {
	gin.SetMode(gin.TestMode)
	w := httptest.NewRecorder()
	c, _ := gin.CreateTestContext(w)
	c.Request = httptest.NewRequest(http.MethodPost, "/", nil)

	AbortWithError(c, &service.UsageLimitError{ResourceType: model.ResourcePatients, Current: 2, Limit: 2, Requested: 1})
	assert.Equal(t, http.StatusConflict, w.Code)

	var body struct {
		Success bool           `json:"success"`
		Data    map[string]any `json:"data"`
	}
	require.NoError(t, json.Unmarshal(w.Body.Bytes(), &body))
	assert.False(t, body.Success)
	assert.EqualValues(t, 2, body.Data["limit"])
	assert.Equal(t, "patients", body.Data["resource_type"])
}
