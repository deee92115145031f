package service

import (
	"context"
	"fmt"
	"time"

	"emrcore/internal/model"
	"emrcore/internal/repository"

	"github.com/google/uuid"
)

type RegisterPatientRequest struct {
	MRN         string `json:"mrn" binding:"required,max=50"`
	FirstName   string `json:"first_name" binding:"required,max=100"`
	LastName    string `json:"last_name" binding:"required,max=100"`
	DateOfBirth string `json:"date_of_birth" example:"1990-04-21"`
	Gender      string `json:"gender" binding:"omitempty,max=20"`
	Phone       string `json:"phone" binding:"omitempty,max=20"`
}

type PatientResponse struct {
	ID          string  `json:"id"`
	ClinicID    string  `json:"clinic_id"`
	MRN         string  `json:"mrn"`
	FirstName   string  `json:"first_name"`
	LastName    string  `json:"last_name"`
	DateOfBirth *string `json:"date_of_birth,omitempty"`
	Gender      string  `json:"gender"`
	Phone       string  `json:"phone"`
}

// PatientService registers patients against the clinic's license quota.
type PatientService interface {
	RegisterPatient(ctx context.Context, p *Principal, clinicID uuid.UUID, req RegisterPatientRequest) (*PatientResponse, error)
	DeletePatient(ctx context.Context, p *Principal, clinicID, patientID uuid.UUID) error
}

type patientService struct {
	repo       repository.PatientRepository
	auditRepo  repository.AuditRepository
	txManager  repository.TransactionManager
	licenseSvc LicenseService
	authz      AuthorizationService
}

func NewPatientService(
	repo repository.PatientRepository,
	auditRepo repository.AuditRepository,
	txManager repository.TransactionManager,
	licenseSvc LicenseService,
	authz AuthorizationService,
) PatientService {
	return &patientService{
		repo:       repo,
		auditRepo:  auditRepo,
		txManager:  txManager,
		licenseSvc: licenseSvc,
		authz:      authz,
	}
}

func (s *patientService) RegisterPatient(ctx context.Context, p *Principal, clinicID uuid.UUID, req RegisterPatientRequest) (*PatientResponse, error) {
	if err := s.authz.RequirePermissionInClinic(ctx, p, model.PermPatientsCreate, clinicID); err != nil {
		return nil, err
	}

	patient := &model.Patient{
		ClinicID:  clinicID,
		MRN:       req.MRN,
		FirstName: req.FirstName,
		LastName:  req.LastName,
		Gender:    req.Gender,
		Phone:     req.Phone,
		CreatedBy: &p.UserID,
	}
	if req.DateOfBirth != "" {
		dob, err := time.Parse("2006-01-02", req.DateOfBirth)
		if err != nil {
			return nil, invalid("date_of_birth", "must be YYYY-MM-DD")
		}
		patient.DateOfBirth = &dob
	}

	err := s.txManager.RunInTx(ctx, func(txCtx context.Context) error {
		if err := s.licenseSvc.ConsumeClinicUsage(txCtx, clinicID, model.ResourcePatients, 1); err != nil {
			return err
		}
		if err := s.repo.Create(txCtx, patient); err != nil {
			return fmt.Errorf("failed to create patient: %w", err)
		}
		return recordAudit(txCtx, s.auditRepo, &p.UserID, &clinicID, model.ActionRegisterPatient,
			patient.ID.String(), patient.MRN, nil)
	})
	if err != nil {
		return nil, err
	}
	return toPatientResponse(patient), nil
}

func (s *patientService) DeletePatient(ctx context.Context, p *Principal, clinicID, patientID uuid.UUID) error {
	if err := s.authz.RequirePermissionInClinic(ctx, p, model.PermPatientsDelete, clinicID); err != nil {
		return err
	}

	return s.txManager.RunInTx(ctx, func(txCtx context.Context) error {
		patient, err := s.repo.FindInClinic(txCtx, clinicID, patientID)
		if err != nil {
			return notFound(err, "patient")
		}
		if err := s.repo.Delete(txCtx, patient); err != nil {
			return fmt.Errorf("failed to delete patient: %w", err)
		}
		if err := s.licenseSvc.ReleaseClinicUsage(txCtx, clinicID, model.ResourcePatients, 1); err != nil {
			return err
		}
		return recordAudit(txCtx, s.auditRepo, &p.UserID, &clinicID, model.ActionDeletePatient,
			patient.ID.String(), patient.MRN, nil)
	})
}

func toPatientResponse(p *model.Patient) *PatientResponse {
	res := &PatientResponse{
		ID:        p.ID.String(),
		ClinicID:  p.ClinicID.String(),
		MRN:       p.MRN,
		FirstName: p.FirstName,
		LastName:  p.LastName,
		Gender:    p.Gender,
		Phone:     p.Phone,
	}
	if p.DateOfBirth != nil {
		dob := p.DateOfBirth.Format("2006-01-02")
		res.DateOfBirth = &dob
	}
	return res
}
