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

type ClinicHandler struct {
	clinicService service.ClinicService
	userService   service.UserService
	authz         service.AuthorizationService
}

func NewClinicHandler(clinicService service.ClinicService, userService service.UserService, authz service.AuthorizationService) *ClinicHandler {
	return &ClinicHandler{clinicService: clinicService, userService: userService, authz: authz}
}

func (h *ClinicHandler) RegisterRoutes(router *gin.RouterGroup) {
	router.POST("/clinics", h.CreateClinic)

	clinic := router.Group("/clinics/:clinicID")
	{
		clinic.GET("", middleware.ResolveClinic(h.authz), h.GetClinic)
		clinic.GET("/members", middleware.RequireClinicPermission(h.authz, model.PermUsersView), h.ListMembers)
		clinic.POST("/members", middleware.RequireClinicPermission(h.authz, model.PermUsersManage), h.GrantAccess)
		clinic.DELETE("/members/:userID", middleware.RequireClinicPermission(h.authz, model.PermUsersManage), h.RevokeAccess)
	}
}

// clinicParam parses :clinicID; the guard middleware has already validated it.
func clinicParam(c *gin.Context) (uuid.UUID, bool) {
	id, err := uuid.Parse(c.Param("clinicID"))
	if err != nil {
		middleware.AbortWithError(c, &service.ValidationError{Field: "clinic_id", Message: "must be a valid UUID"})
		return uuid.Nil, false
	}
	return id, true
}

func uuidParam(c *gin.Context, name string) (uuid.UUID, bool) {
	id, err := uuid.Parse(c.Param(name))
	if err != nil {
		middleware.AbortWithError(c, &service.ValidationError{Field: name, Message: "must be a valid UUID"})
		return uuid.Nil, false
	}
	return id, true
}

// CreateClinic creates a clinic owned by the caller
// @Summary      Create clinic
// @Description  Creates a clinic, makes the caller its clinic_admin and issues a trial license
// @Tags         clinics
// @Security     BearerAuth
// @Accept       json
// @Produce      json
// @Param        payload  body      service.CreateClinicRequest  true  "Clinic"
// @Success      201      {object}  response.Response{data=service.ClinicResponse}
// @Router       /api/clinics [post]
func (h *ClinicHandler) CreateClinic(c *gin.Context) {
	var req service.CreateClinicRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		middleware.AbortWithBindError(c, err)
		return
	}
	clinic, err := h.clinicService.CreateClinic(c.Request.Context(), middleware.CurrentPrincipal(c), req)
	if err != nil {
		middleware.AbortWithError(c, err)
		return
	}
	c.JSON(http.StatusCreated, response.Success(clinic))
}

// GetClinic returns one of the caller's clinics
// @Summary      Get clinic
// @Tags         clinics
// @Security     BearerAuth
// @Produce      json
// @Param        clinicID  path      string  true  "Clinic ID"
// @Success      200       {object}  response.Response{data=service.ClinicResponse}
// @Router       /api/clinics/{clinicID} [get]
func (h *ClinicHandler) GetClinic(c *gin.Context) {
	id, ok := clinicParam(c)
	if !ok {
		return
	}
	clinic, err := h.clinicService.GetClinic(c.Request.Context(), id)
	if err != nil {
		middleware.AbortWithError(c, err)
		return
	}
	c.JSON(http.StatusOK, response.Success(clinic))
}

// ListMembers lists the clinic's staff
// @Summary      List members
// @Tags         clinics
// @Security     BearerAuth
// @Produce      json
// @Param        clinicID  path      string  true  "Clinic ID"
// @Success      200       {object}  response.Response{data=[]service.MembershipResponse}
// @Router       /api/clinics/{clinicID}/members [get]
func (h *ClinicHandler) ListMembers(c *gin.Context) {
	id, ok := clinicParam(c)
	if !ok {
		return
	}
	members, err := h.clinicService.ListMembers(c.Request.Context(), id)
	if err != nil {
		middleware.AbortWithError(c, err)
		return
	}
	c.JSON(http.StatusOK, response.Success(members))
}

// GrantAccess adds a user to the clinic with a role
// @Summary      Grant clinic access
// @Description  Consumes one user seat of the clinic's license
// @Tags         clinics
// @Security     BearerAuth
// @Accept       json
// @Produce      json
// @Param        clinicID  path      string                            true  "Clinic ID"
// @Param        payload   body      service.GrantClinicAccessRequest  true  "Member"
// @Success      201       {object}  response.Response{data=service.MembershipResponse}
// @Failure      409       {object}  response.Response
// @Router       /api/clinics/{clinicID}/members [post]
func (h *ClinicHandler) GrantAccess(c *gin.Context) {
	id, ok := clinicParam(c)
	if !ok {
		return
	}
	var req service.GrantClinicAccessRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		middleware.AbortWithBindError(c, err)
		return
	}
	m, err := h.userService.GrantClinicAccess(c.Request.Context(), middleware.CurrentPrincipal(c), id, req)
	if err != nil {
		middleware.AbortWithError(c, err)
		return
	}
	c.JSON(http.StatusCreated, response.Success(m))
}

// RevokeAccess removes a user from the clinic
// @Summary      Revoke clinic access
// @Tags         clinics
// @Security     BearerAuth
// @Produce      json
// @Param        clinicID  path      string  true  "Clinic ID"
// @Param        userID    path      string  true  "User ID"
// @Success      200       {object}  response.Response
// @Router       /api/clinics/{clinicID}/members/{userID} [delete]
func (h *ClinicHandler) RevokeAccess(c *gin.Context) {
	clinicID, ok := clinicParam(c)
	if !ok {
		return
	}
	userID, ok := uuidParam(c, "userID")
	if !ok {
		return
	}
	if err := h.userService.RevokeClinicAccess(c.Request.Context(), middleware.CurrentPrincipal(c), clinicID, userID); err != nil {
		middleware.AbortWithError(c, err)
		return
	}
	c.JSON(http.StatusOK, response.Message("Access revoked"))
}
