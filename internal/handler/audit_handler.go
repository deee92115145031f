package handler

import (
	"net/http"

	"emrcore/internal/middleware"
	"emrcore/internal/model"
	"emrcore/internal/service"
	"emrcore/pkg/pagination"
	"emrcore/pkg/response"

	"github.com/gin-gonic/gin"
)

type AuditHandler struct {
	auditService service.AuditService
	authz        service.AuthorizationService
}

func NewAuditHandler(auditService service.AuditService, authz service.AuthorizationService) *AuditHandler {
	return &AuditHandler{auditService: auditService, authz: authz}
}

func (h *AuditHandler) RegisterRoutes(router *gin.RouterGroup) {
	group := router.Group("/audit-logs")
	group.Use(middleware.RequireClinicPermission(h.authz, model.PermAuditView))
	{
		group.GET("", h.GetAuditLogs)
	}
}

// GetAuditLogs lists the acting clinic's audit trail
// @Summary      Get audit logs
// @Description  Scoped to the clinic named by X-Clinic-ID, or the caller's only clinic
// @Tags         audit
// @Security     BearerAuth
// @Produce      json
// @Param        X-Clinic-ID  header    string  false  "Clinic ID"
// @Param        action       query     string  false  "Filter by action"
// @Param        page         query     int     false  "Page number (default 1)"
// @Param        limit        query     int     false  "Number of items per page (default 20)"
// @Success      200          {object}  response.Response{data=response.Page}
// @Router       /api/audit-logs [get]
func (h *AuditHandler) GetAuditLogs(c *gin.Context) {
	params := pagination.Parse(c)
	clinicID := middleware.CurrentClinic(c).ClinicID

	logs, total, err := h.auditService.GetAuditLogs(c.Request.Context(), &clinicID, c.Query("action"), params.Page, params.Limit)
	if err != nil {
		middleware.AbortWithError(c, err)
		return
	}

	c.JSON(http.StatusOK, response.Success(params.Wrap(logs, total)))
}
