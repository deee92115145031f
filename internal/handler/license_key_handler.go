package handler

import (
	"net/http"

	"emrcore/internal/middleware"
	"emrcore/internal/model"
	"emrcore/internal/service"
	"emrcore/pkg/response"

	"github.com/gin-gonic/gin"
)

// LicenseKeyHandler exposes the key generator to platform operators.
type LicenseKeyHandler struct {
	licenseService service.LicenseService
	authz          service.AuthorizationService
}

func NewLicenseKeyHandler(licenseService service.LicenseService, authz service.AuthorizationService) *LicenseKeyHandler {
	return &LicenseKeyHandler{licenseService: licenseService, authz: authz}
}

func (h *LicenseKeyHandler) RegisterRoutes(router *gin.RouterGroup) {
	keys := router.Group("/license-keys")
	keys.Use(middleware.RequirePermission(h.authz, model.PermLicenseKeys))
	{
		keys.POST("/generate", h.Generate)
		keys.POST("/validate", h.Validate)
		keys.POST("/parse", h.Parse)
	}
}

type validateKeyResponse struct {
	Key    string `json:"key"`
	Valid  bool   `json:"valid"`
	Exists bool   `json:"exists"`
}

type parseKeyRequest struct {
	Key string `json:"key" binding:"required"`
}

// Generate produces a batch of unique keys
// @Summary      Generate license keys
// @Description  Keys are unique within the batch and against every stored license
// @Tags         license-keys
// @Security     BearerAuth
// @Accept       json
// @Produce      json
// @Param        payload  body      service.GenerateKeysRequest  true  "Strategy, options and count"
// @Success      200      {object}  response.Response{data=[]string}
// @Failure      422      {object}  response.Response
// @Router       /api/license-keys/generate [post]
func (h *LicenseKeyHandler) Generate(c *gin.Context) {
	var req service.GenerateKeysRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		middleware.AbortWithBindError(c, err)
		return
	}
	keys, err := h.licenseService.GenerateKeys(c.Request.Context(), req)
	if err != nil {
		middleware.AbortWithError(c, err)
		return
	}
	c.JSON(http.StatusOK, response.Success(keys))
}

// Validate checks a key's format against a strategy
// @Summary      Validate license key
// @Tags         license-keys
// @Security     BearerAuth
// @Accept       json
// @Produce      json
// @Param        payload  body      service.ValidateKeyRequest  true  "Key and strategy"
// @Success      200      {object}  response.Response{data=validateKeyResponse}
// @Router       /api/license-keys/validate [post]
func (h *LicenseKeyHandler) Validate(c *gin.Context) {
	var req service.ValidateKeyRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		middleware.AbortWithBindError(c, err)
		return
	}
	valid, err := h.licenseService.ValidateKey(req)
	if err != nil {
		middleware.AbortWithError(c, err)
		return
	}
	exists, err := h.licenseService.KeyExists(c.Request.Context(), req.Key)
	if err != nil {
		middleware.AbortWithError(c, err)
		return
	}
	c.JSON(http.StatusOK, response.Success(validateKeyResponse{Key: req.Key, Valid: valid, Exists: exists}))
}

// Parse splits a key into prefix, segments and checksum
// @Summary      Parse license key
// @Tags         license-keys
// @Security     BearerAuth
// @Accept       json
// @Produce      json
// @Param        payload  body      parseKeyRequest  true  "Key"
// @Success      200      {object}  response.Response{data=licensekey.Parsed}
// @Router       /api/license-keys/parse [post]
func (h *LicenseKeyHandler) Parse(c *gin.Context) {
	var req parseKeyRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		middleware.AbortWithBindError(c, err)
		return
	}
	parsed := h.licenseService.ParseKey(req.Key)
	c.JSON(http.StatusOK, response.Success(parsed))
}
