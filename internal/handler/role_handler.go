package handler

import (
	"net/http"

	"emrcore/internal/middleware"
	"emrcore/internal/model"
	"emrcore/internal/service"
	"emrcore/pkg/response"

	"github.com/gin-gonic/gin"
)

type RoleHandler struct {
	roleService service.RoleService
	authz       service.AuthorizationService
}

func NewRoleHandler(roleService service.RoleService, authz service.AuthorizationService) *RoleHandler {
	return &RoleHandler{roleService: roleService, authz: authz}
}

func (h *RoleHandler) RegisterRoutes(router *gin.RouterGroup) {
	// Shared roles apply to every clinic, so only platform administrators edit them.
	roles := router.Group("/roles")
	roles.Use(middleware.RequireRole(h.authz, model.RoleSuperAdmin))
	{
		roles.GET("", h.ListRoles)
		roles.GET("/:id", h.GetRole)
		roles.POST("", h.CreateRole)
		roles.PUT("/:id", h.UpdateRole)
		roles.DELETE("/:id", h.DeleteRole)
		roles.PUT("/:id/permissions", h.UpdateRolePermissions)
	}

	clinic := router.Group("/clinics/:clinicID/roles")
	clinic.Use(middleware.RequireClinicPermission(h.authz, model.PermRolesManage))
	{
		clinic.GET("", h.ListClinicRoles)
		clinic.POST("", h.CreateClinicRole)
		clinic.PUT("/:roleID", h.UpdateClinicRole)
		clinic.DELETE("/:roleID", h.DeleteClinicRole)
		clinic.PUT("/:roleID/permissions", h.UpdateClinicRolePermissions)
	}

	// Permissions list
	perms := router.Group("/permissions")
	perms.Use(middleware.RequirePermission(h.authz, model.PermRolesManage))
	{
		perms.GET("", h.ListPermissions)
	}
}

// ListRoles returns all roles with their permissions
// @Summary      List roles
// @Tags         roles
// @Security     BearerAuth
// @Produce      json
// @Success      200  {object}  response.Response{data=[]service.RoleResponse}
// @Router       /api/roles [get]
func (h *RoleHandler) ListRoles(c *gin.Context) {
	roles, err := h.roleService.ListRoles(c.Request.Context())
	if err != nil {
		middleware.AbortWithError(c, err)
		return
	}
	c.JSON(http.StatusOK, response.Success(roles))
}

// GetRole returns a single role by ID
// @Summary      Get role
// @Tags         roles
// @Security     BearerAuth
// @Produce      json
// @Param        id   path      string  true  "Role ID"
// @Success      200  {object}  response.Response{data=service.RoleResponse}
// @Failure      404  {object}  response.Response
// @Router       /api/roles/{id} [get]
func (h *RoleHandler) GetRole(c *gin.Context) {
	role, err := h.roleService.GetRole(c.Request.Context(), c.Param("id"))
	if err != nil {
		middleware.AbortWithError(c, err)
		return
	}
	c.JSON(http.StatusOK, response.Success(role))
}

// CreateRole creates a new custom role
// @Summary      Create role
// @Tags         roles
// @Security     BearerAuth
// @Accept       json
// @Produce      json
// @Param        payload  body      service.CreateRoleRequest  true  "Role"
// @Success      201      {object}  response.Response{data=service.RoleResponse}
// @Failure      409      {object}  response.Response
// @Router       /api/roles [post]
func (h *RoleHandler) CreateRole(c *gin.Context) {
	var req service.CreateRoleRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		middleware.AbortWithBindError(c, err)
		return
	}

	role, err := h.roleService.CreateRole(c.Request.Context(), middleware.ActorID(c), req)
	if err != nil {
		middleware.AbortWithError(c, err)
		return
	}

	c.JSON(http.StatusCreated, response.Success(role))
}

// UpdateRole updates a role's name and description
// @Summary      Update role
// @Description  System roles are immutable
// @Tags         roles
// @Security     BearerAuth
// @Accept       json
// @Produce      json
// @Param        id       path      string                     true  "Role ID"
// @Param        payload  body      service.UpdateRoleRequest  true  "Role"
// @Success      200      {object}  response.Response{data=service.RoleResponse}
// @Failure      403      {object}  response.Response
// @Router       /api/roles/{id} [put]
func (h *RoleHandler) UpdateRole(c *gin.Context) {
	var req service.UpdateRoleRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		middleware.AbortWithBindError(c, err)
		return
	}

	role, err := h.roleService.UpdateRole(c.Request.Context(), middleware.ActorID(c), c.Param("id"), req)
	if err != nil {
		middleware.AbortWithError(c, err)
		return
	}

	c.JSON(http.StatusOK, response.Success(role))
}

// DeleteRole deletes a custom role that no membership references
// @Summary      Delete role
// @Tags         roles
// @Security     BearerAuth
// @Produce      json
// @Param        id   path      string  true  "Role ID"
// @Success      200  {object}  response.Response
// @Failure      409  {object}  response.Response
// @Router       /api/roles/{id} [delete]
func (h *RoleHandler) DeleteRole(c *gin.Context) {
	if err := h.roleService.DeleteRole(c.Request.Context(), middleware.ActorID(c), c.Param("id")); err != nil {
		middleware.AbortWithError(c, err)
		return
	}
	c.JSON(http.StatusOK, response.Message("Role deleted successfully"))
}

// UpdateRolePermissions replaces the permission set of a role
// @Summary      Update role permissions
// @Tags         roles
// @Security     BearerAuth
// @Accept       json
// @Produce      json
// @Param        id       path      string                                true  "Role ID"
// @Param        payload  body      service.UpdateRolePermissionsRequest  true  "Permission IDs"
// @Success      200      {object}  response.Response{data=service.RoleResponse}
// @Router       /api/roles/{id}/permissions [put]
func (h *RoleHandler) UpdateRolePermissions(c *gin.Context) {
	var req service.UpdateRolePermissionsRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		middleware.AbortWithBindError(c, err)
		return
	}

	role, err := h.roleService.UpdateRolePermissions(c.Request.Context(), middleware.ActorID(c), c.Param("id"), req)
	if err != nil {
		middleware.AbortWithError(c, err)
		return
	}

	c.JSON(http.StatusOK, response.Success(role))
}

// ListPermissions returns the permission catalog
// @Summary      List permissions
// @Tags         roles
// @Security     BearerAuth
// @Produce      json
// @Success      200  {object}  response.Response{data=[]service.PermissionResponse}
// @Router       /api/permissions [get]
func (h *RoleHandler) ListPermissions(c *gin.Context) {
	perms, err := h.roleService.ListPermissions(c.Request.Context())
	if err != nil {
		middleware.AbortWithError(c, err)
		return
	}
	c.JSON(http.StatusOK, response.Success(perms))
}

// ListClinicRoles returns the roles assignable in a clinic: system and shared roles plus its own
// @Summary      List clinic roles
// @Tags         roles
// @Security     BearerAuth
// @Produce      json
// @Param        clinicID  path      string  true  "Clinic ID"
// @Success      200       {object}  response.Response{data=[]service.RoleResponse}
// @Failure      403       {object}  response.Response
// @Router       /api/clinics/{clinicID}/roles [get]
func (h *RoleHandler) ListClinicRoles(c *gin.Context) {
	roles, err := h.roleService.ListClinicRoles(c.Request.Context(), middleware.CurrentClinic(c).ClinicID)
	if err != nil {
		middleware.AbortWithError(c, err)
		return
	}
	c.JSON(http.StatusOK, response.Success(roles))
}

// CreateClinicRole creates a custom role owned by the clinic
// @Summary      Create clinic role
// @Description  The role may only carry permissions the caller holds in the clinic
// @Tags         roles
// @Security     BearerAuth
// @Accept       json
// @Produce      json
// @Param        clinicID  path      string                     true  "Clinic ID"
// @Param        payload   body      service.CreateRoleRequest  true  "Role"
// @Success      201       {object}  response.Response{data=service.RoleResponse}
// @Failure      403       {object}  response.Response
// @Failure      409       {object}  response.Response
// @Router       /api/clinics/{clinicID}/roles [post]
func (h *RoleHandler) CreateClinicRole(c *gin.Context) {
	var req service.CreateRoleRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		middleware.AbortWithBindError(c, err)
		return
	}

	role, err := h.roleService.CreateClinicRole(c.Request.Context(), middleware.ActorID(c), middleware.CurrentClinic(c).ClinicID, req)
	if err != nil {
		middleware.AbortWithError(c, err)
		return
	}
	c.JSON(http.StatusCreated, response.Success(role))
}

// UpdateClinicRole renames one of the clinic's own roles
// @Summary      Update clinic role
// @Tags         roles
// @Security     BearerAuth
// @Accept       json
// @Produce      json
// @Param        clinicID  path      string                     true  "Clinic ID"
// @Param        roleID    path      string                     true  "Role ID"
// @Param        payload   body      service.UpdateRoleRequest  true  "Role"
// @Success      200       {object}  response.Response{data=service.RoleResponse}
// @Failure      404       {object}  response.Response
// @Router       /api/clinics/{clinicID}/roles/{roleID} [put]
func (h *RoleHandler) UpdateClinicRole(c *gin.Context) {
	var req service.UpdateRoleRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		middleware.AbortWithBindError(c, err)
		return
	}

	role, err := h.roleService.UpdateClinicRole(c.Request.Context(), middleware.ActorID(c),
		middleware.CurrentClinic(c).ClinicID, c.Param("roleID"), req)
	if err != nil {
		middleware.AbortWithError(c, err)
		return
	}
	c.JSON(http.StatusOK, response.Success(role))
}

// DeleteClinicRole deletes one of the clinic's own roles that no membership references
// @Summary      Delete clinic role
// @Tags         roles
// @Security     BearerAuth
// @Produce      json
// @Param        clinicID  path      string  true  "Clinic ID"
// @Param        roleID    path      string  true  "Role ID"
// @Success      200       {object}  response.Response
// @Failure      404       {object}  response.Response
// @Failure      409       {object}  response.Response
// @Router       /api/clinics/{clinicID}/roles/{roleID} [delete]
func (h *RoleHandler) DeleteClinicRole(c *gin.Context) {
	err := h.roleService.DeleteClinicRole(c.Request.Context(), middleware.ActorID(c),
		middleware.CurrentClinic(c).ClinicID, c.Param("roleID"))
	if err != nil {
		middleware.AbortWithError(c, err)
		return
	}
	c.JSON(http.StatusOK, response.Message("Role deleted successfully"))
}

// UpdateClinicRolePermissions replaces the permission set of one of the clinic's own roles
// @Summary      Update clinic role permissions
// @Tags         roles
// @Security     BearerAuth
// @Accept       json
// @Produce      json
// @Param        clinicID  path      string                                true  "Clinic ID"
// @Param        roleID    path      string                                true  "Role ID"
// @Param        payload   body      service.UpdateRolePermissionsRequest  true  "Permission IDs"
// @Success      200       {object}  response.Response{data=service.RoleResponse}
// @Failure      403       {object}  response.Response
// @Router       /api/clinics/{clinicID}/roles/{roleID}/permissions [put]
func (h *RoleHandler) UpdateClinicRolePermissions(c *gin.Context) {
	var req service.UpdateRolePermissionsRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		middleware.AbortWithBindError(c, err)
		return
	}

	role, err := h.roleService.UpdateClinicRolePermissions(c.Request.Context(), middleware.ActorID(c),
		middleware.CurrentClinic(c).ClinicID, c.Param("roleID"), req)
	if err != nil {
		middleware.AbortWithError(c, err)
		return
	}
	c.JSON(http.StatusOK, response.Success(role))
}
