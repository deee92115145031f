package handler

import (
	"net/http"

	"emrcore/internal/middleware"
	"emrcore/internal/model"
	"emrcore/internal/service"
	"emrcore/pkg/response"

	"github.com/gin-gonic/gin"
	"github.com/google/uuid"
)

type LicenseHandler struct {
	licenseService service.LicenseService
	authz          service.AuthorizationService
}

func NewLicenseHandler(licenseService service.LicenseService, authz service.AuthorizationService) *LicenseHandler {
	return &LicenseHandler{licenseService: licenseService, authz: authz}
}

func (h *LicenseHandler) RegisterRoutes(router *gin.RouterGroup) {
	view := middleware.RequireClinicPermission(h.authz, model.PermLicenseView)
	manage := middleware.RequireClinicPermission(h.authz, model.PermLicenseManage)

	clinic := router.Group("/clinics/:clinicID/license")
	{
		clinic.GET("", view, h.GetClinicLicense)
		clinic.GET("/status", view, h.GetStatus)
		clinic.GET("/usage/:resourceType", view, h.CheckUsage)
		clinic.GET("/features/:feature", view, h.HasFeature)
		clinic.GET("/history", view, h.KeyHistory)
		clinic.POST("/regenerate", manage, h.RegenerateKey)
	}

	licenses := router.Group("/licenses")
	{
		licenses.POST("/activate", middleware.RequirePermission(h.authz, model.PermLicenseManage), h.Activate)

		platform := licenses.Group("")
		platform.Use(middleware.RequirePermission(h.authz, model.PermLicenseKeys))
		platform.POST("", h.Issue)
		platform.GET("/:licenseID", h.GetLicense)
		platform.GET("/:licenseID/activation-code", h.ActivationCode)
		platform.POST("/:licenseID/suspend", h.Suspend)
	}
}

// clinicLicense loads the license of the clinic resolved by the guard.
func (h *LicenseHandler) clinicLicense(c *gin.Context) (*service.LicenseResponse, uuid.UUID, bool) {
	clinicID, ok := clinicParam(c)
	if !ok {
		return nil, uuid.Nil, false
	}
	lic, err := h.licenseService.GetLicenseByClinic(c.Request.Context(), clinicID)
	if err != nil {
		middleware.AbortWithError(c, err)
		return nil, uuid.Nil, false
	}
	id, err := uuid.Parse(lic.ID)
	if err != nil {
		middleware.AbortWithError(c, err)
		return nil, uuid.Nil, false
	}
	return lic, id, true
}

// GetClinicLicense returns the clinic's license with features and usage
// @Summary      Get clinic license
// @Tags         licenses
// @Security     BearerAuth
// @Produce      json
// @Param        clinicID  path      string  true  "Clinic ID"
// @Success      200       {object}  response.Response{data=service.LicenseResponse}
// @Router       /api/clinics/{clinicID}/license [get]
func (h *LicenseHandler) GetClinicLicense(c *gin.Context) {
	lic, _, ok := h.clinicLicense(c)
	if !ok {
		return
	}
	c.JSON(http.StatusOK, response.Success(lic))
}

// GetStatus reports validity and days remaining
// @Summary      License status
// @Tags         licenses
// @Security     BearerAuth
// @Produce      json
// @Param        clinicID  path      string  true  "Clinic ID"
// @Success      200       {object}  response.Response{data=service.LicenseStatusResponse}
// @Router       /api/clinics/{clinicID}/license/status [get]
func (h *LicenseHandler) GetStatus(c *gin.Context) {
	_, id, ok := h.clinicLicense(c)
	if !ok {
		return
	}
	status, err := h.licenseService.GetLicenseStatus(c.Request.Context(), id)
	if err != nil {
		middleware.AbortWithError(c, err)
		return
	}
	c.JSON(http.StatusOK, response.Success(status))
}

// CheckUsage reports one usage counter against its plan limit
// @Summary      Check usage limit
// @Tags         licenses
// @Security     BearerAuth
// @Produce      json
// @Param        clinicID      path      string  true  "Clinic ID"
// @Param        resourceType  path      string  true  "patients, users, appointments or clinics"
// @Success      200           {object}  response.Response{data=service.UsageReport}
// @Router       /api/clinics/{clinicID}/license/usage/{resourceType} [get]
func (h *LicenseHandler) CheckUsage(c *gin.Context) {
	rt, err := model.ParseResourceType(c.Param("resourceType"))
	if err != nil {
		middleware.AbortWithError(c, &service.ValidationError{Field: "resource_type", Message: err.Error()})
		return
	}
	_, id, ok := h.clinicLicense(c)
	if !ok {
		return
	}
	report, err := h.licenseService.CheckUsageLimit(c.Request.Context(), id, rt)
	if err != nil {
		middleware.AbortWithError(c, err)
		return
	}
	c.JSON(http.StatusOK, response.Success(report))
}

type featureResponse struct {
	Feature string `json:"feature"`
	Enabled bool   `json:"enabled"`
}

// HasFeature reports whether the clinic's plan includes a feature
// @Summary      Check feature
// @Tags         licenses
// @Security     BearerAuth
// @Produce      json
// @Param        clinicID  path      string  true  "Clinic ID"
// @Param        feature   path      string  true  "Feature name"
// @Success      200       {object}  response.Response{data=featureResponse}
// @Router       /api/clinics/{clinicID}/license/features/{feature} [get]
func (h *LicenseHandler) HasFeature(c *gin.Context) {
	_, id, ok := h.clinicLicense(c)
	if !ok {
		return
	}
	feature := c.Param("feature")
	enabled, err := h.licenseService.HasFeature(c.Request.Context(), id, feature)
	if err != nil {
		middleware.AbortWithError(c, err)
		return
	}
	c.JSON(http.StatusOK, response.Success(featureResponse{Feature: feature, Enabled: enabled}))
}

// KeyHistory lists previous keys of the clinic's license
// @Summary      License key history
// @Tags         licenses
// @Security     BearerAuth
// @Produce      json
// @Param        clinicID  path      string  true  "Clinic ID"
// @Success      200       {object}  response.Response{data=[]model.LicenseKeyHistory}
// @Router       /api/clinics/{clinicID}/license/history [get]
func (h *LicenseHandler) KeyHistory(c *gin.Context) {
	_, id, ok := h.clinicLicense(c)
	if !ok {
		return
	}
	history, err := h.licenseService.KeyHistory(c.Request.Context(), id)
	if err != nil {
		middleware.AbortWithError(c, err)
		return
	}
	c.JSON(http.StatusOK, response.Success(history))
}

// RegenerateKey replaces the license key and records the old one
// @Summary      Regenerate license key
// @Tags         licenses
// @Security     BearerAuth
// @Accept       json
// @Produce      json
// @Param        clinicID  path      string                        true  "Clinic ID"
// @Param        payload   body      service.RegenerateKeyRequest  false "Strategy, options and reason"
// @Success      200       {object}  response.Response{data=service.RegenerateKeyResult}
// @Router       /api/clinics/{clinicID}/license/regenerate [post]
func (h *LicenseHandler) RegenerateKey(c *gin.Context) {
	var req service.RegenerateKeyRequest
	if c.Request.ContentLength != 0 {
		if err := c.ShouldBindJSON(&req); err != nil {
			middleware.AbortWithBindError(c, err)
			return
		}
	}
	_, id, ok := h.clinicLicense(c)
	if !ok {
		return
	}
	result, err := h.licenseService.RegenerateKey(c.Request.Context(), middleware.ActorID(c), id, req)
	if err != nil {
		middleware.AbortWithError(c, err)
		return
	}
	c.JSON(http.StatusOK, response.Success(result))
}

// Activate exchanges an activation code for an active license
// @Summary      Activate license
// @Description  Failed attempts return the reason in data; attempts are rate limited per key.
// @Description  The caller needs license.manage in the clinic that owns the key.
// @Tags         licenses
// @Security     BearerAuth
// @Accept       json
// @Produce      json
// @Param        payload  body      service.ActivateLicenseRequest  true  "Key and activation code"
// @Success      200      {object}  response.Response{data=service.ActivationResult}
// @Failure      403      {object}  response.Response
// @Failure      422      {object}  response.Response{data=service.ActivationResult}
// @Failure      429      {object}  response.Response{data=service.ActivationResult}
// @Router       /api/licenses/activate [post]
func (h *LicenseHandler) Activate(c *gin.Context) {
	var req service.ActivateLicenseRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		middleware.AbortWithBindError(c, err)
		return
	}
	result, err := h.licenseService.ActivateLicense(c.Request.Context(), middleware.ActorID(c), req)
	if err != nil {
		middleware.AbortWithError(c, err)
		return
	}
	if failure := result.Err(); failure != nil {
		c.JSON(middleware.StatusFor(failure), response.Failure(failure.Error(), result))
		return
	}
	c.JSON(http.StatusOK, response.Success(result))
}

// Issue creates a license for a clinic that has none
// @Summary      Issue license
// @Tags         licenses
// @Security     BearerAuth
// @Accept       json
// @Produce      json
// @Param        payload  body      service.IssueLicenseRequest  true  "Clinic and plan"
// @Success      201      {object}  response.Response{data=service.LicenseResponse}
// @Failure      409      {object}  response.Response
// @Router       /api/licenses [post]
func (h *LicenseHandler) Issue(c *gin.Context) {
	var req service.IssueLicenseRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		middleware.AbortWithBindError(c, err)
		return
	}
	lic, err := h.licenseService.IssueLicense(c.Request.Context(), middleware.ActorID(c), req)
	if err != nil {
		middleware.AbortWithError(c, err)
		return
	}
	c.JSON(http.StatusCreated, response.Success(lic))
}

// GetLicense returns any license by ID
// @Summary      Get license
// @Tags         licenses
// @Security     BearerAuth
// @Produce      json
// @Param        licenseID  path      string  true  "License ID"
// @Success      200        {object}  response.Response{data=service.LicenseResponse}
// @Router       /api/licenses/{licenseID} [get]
func (h *LicenseHandler) GetLicense(c *gin.Context) {
	id, ok := uuidParam(c, "licenseID")
	if !ok {
		return
	}
	lic, err := h.licenseService.GetLicense(c.Request.Context(), id)
	if err != nil {
		middleware.AbortWithError(c, err)
		return
	}
	c.JSON(http.StatusOK, response.Success(lic))
}

type activationCodeResponse struct {
	LicenseKey     string `json:"license_key"`
	ActivationCode string `json:"activation_code"`
}

// ActivationCode returns the code a clinic needs to activate its license
// @Summary      Get activation code
// @Tags         licenses
// @Security     BearerAuth
// @Produce      json
// @Param        licenseID  path      string  true  "License ID"
// @Success      200        {object}  response.Response{data=activationCodeResponse}
// @Router       /api/licenses/{licenseID}/activation-code [get]
func (h *LicenseHandler) ActivationCode(c *gin.Context) {
	id, ok := uuidParam(c, "licenseID")
	if !ok {
		return
	}
	lic, err := h.licenseService.GetLicense(c.Request.Context(), id)
	if err != nil {
		middleware.AbortWithError(c, err)
		return
	}
	c.JSON(http.StatusOK, response.Success(activationCodeResponse{
		LicenseKey:     lic.LicenseKey,
		ActivationCode: h.licenseService.ActivationCode(lic.LicenseKey),
	}))
}

type suspendRequest struct {
	Reason string `json:"reason" binding:"required"`
}

// Suspend blocks a license until it is reactivated
// @Summary      Suspend license
// @Tags         licenses
// @Security     BearerAuth
// @Accept       json
// @Produce      json
// @Param        licenseID  path      string          true  "License ID"
// @Param        payload    body      suspendRequest  true  "Reason"
// @Success      200        {object}  response.Response{data=service.LicenseResponse}
// @Router       /api/licenses/{licenseID}/suspend [post]
func (h *LicenseHandler) Suspend(c *gin.Context) {
	id, ok := uuidParam(c, "licenseID")
	if !ok {
		return
	}
	var req suspendRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		middleware.AbortWithBindError(c, err)
		return
	}
	lic, err := h.licenseService.SuspendLicense(c.Request.Context(), middleware.ActorID(c), id, req.Reason)
	if err != nil {
		middleware.AbortWithError(c, err)
		return
	}
	c.JSON(http.StatusOK, response.Success(lic))
}
