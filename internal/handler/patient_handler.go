package handler

import (
	"net/http"

	"emrcore/internal/middleware"
	"emrcore/internal/service"
	"emrcore/pkg/response"

	"github.com/gin-gonic/gin"
)

type PatientHandler struct {
	patientService service.PatientService
}

func NewPatientHandler(patientService service.PatientService) *PatientHandler {
	return &PatientHandler{patientService: patientService}
}

// RegisterRoutes leaves permission checks to the service, which scopes them to :clinicID.
func (h *PatientHandler) RegisterRoutes(router *gin.RouterGroup) {
	patients := router.Group("/clinics/:clinicID/patients")
	{
		patients.POST("", h.RegisterPatient)
		patients.DELETE("/:patientID", h.DeletePatient)
	}
}

// RegisterPatient adds a patient record, charging the clinic's patient quota
// @Summary      Register patient
// @Tags         patients
// @Security     BearerAuth
// @Accept       json
// @Produce      json
// @Param        clinicID  path      string                          true  "Clinic ID"
// @Param        payload   body      service.RegisterPatientRequest  true  "Patient"
// @Success      201       {object}  response.Response{data=service.PatientResponse}
// @Failure      403       {object}  response.Response
// @Failure      409       {object}  response.Response
// @Router       /api/clinics/{clinicID}/patients [post]
func (h *PatientHandler) RegisterPatient(c *gin.Context) {
	clinicID, ok := clinicParam(c)
	if !ok {
		return
	}
	var req service.RegisterPatientRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		middleware.AbortWithBindError(c, err)
		return
	}
	patient, err := h.patientService.RegisterPatient(c.Request.Context(), middleware.CurrentPrincipal(c), clinicID, req)
	if err != nil {
		middleware.AbortWithError(c, err)
		return
	}
	c.JSON(http.StatusCreated, response.Success(patient))
}

// DeletePatient removes a patient record and releases its quota
// @Summary      Delete patient
// @Tags         patients
// @Security     BearerAuth
// @Produce      json
// @Param        clinicID   path      string  true  "Clinic ID"
// @Param        patientID  path      string  true  "Patient ID"
// @Success      200        {object}  response.Response
// @Router       /api/clinics/{clinicID}/patients/{patientID} [delete]
func (h *PatientHandler) DeletePatient(c *gin.Context) {
	clinicID, ok := clinicParam(c)
	if !ok {
		return
	}
	patientID, ok := uuidParam(c, "patientID")
	if !ok {
		return
	}
	if err := h.patientService.DeletePatient(c.Request.Context(), middleware.CurrentPrincipal(c), clinicID, patientID); err != nil {
		middleware.AbortWithError(c, err)
		return
	}
	c.JSON(http.StatusOK, response.Message("Patient deleted"))
}
