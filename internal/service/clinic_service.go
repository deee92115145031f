package service

import (
	"context"
	"fmt"

	"emrcore/internal/model"
	"emrcore/internal/repository"

	"github.com/google/uuid"
	"github.com/rs/zerolog/log"
)

type CreateClinicRequest struct {
	Name    string `json:"name" binding:"required,max=255"`
	Address string `json:"address"`
	Phone   string `json:"phone" binding:"omitempty,max=20"`
}

type ClinicResponse struct {
	ID      string           `json:"id"`
	Name    string           `json:"name"`
	Address string           `json:"address"`
	Phone   string           `json:"phone"`
	License *LicenseResponse `json:"license,omitempty"`
}

type ClinicService interface {
	// CreateClinic makes the caller the clinic's administrator and issues a trial license.
	CreateClinic(ctx context.Context, p *Principal, req CreateClinicRequest) (*ClinicResponse, error)
	GetClinic(ctx context.Context, id uuid.UUID) (*ClinicResponse, error)
	ListMembers(ctx context.Context, clinicID uuid.UUID) ([]MembershipResponse, error)
}

type clinicService struct {
	repo        repository.ClinicRepository
	memberships repository.MembershipRepository
	roles       repository.RoleRepository
	auditRepo   repository.AuditRepository
	txManager   repository.TransactionManager
	licenseSvc  LicenseService
	authz       AuthorizationService
}

func NewClinicService(
	repo repository.ClinicRepository,
	memberships repository.MembershipRepository,
	roles repository.RoleRepository,
	auditRepo repository.AuditRepository,
	txManager repository.TransactionManager,
	licenseSvc LicenseService,
	authz AuthorizationService,
) ClinicService {
	return &clinicService{
		repo:        repo,
		memberships: memberships,
		roles:       roles,
		auditRepo:   auditRepo,
		txManager:   txManager,
		licenseSvc:  licenseSvc,
		authz:       authz,
	}
}

func (s *clinicService) CreateClinic(ctx context.Context, p *Principal, req CreateClinicRequest) (*ClinicResponse, error) {
	if p == nil {
		return nil, ErrUnauthenticated
	}

	clinic := &model.Clinic{Name: req.Name, Address: req.Address, Phone: req.Phone, IsActive: true}
	var license *LicenseResponse
	err := s.txManager.RunInTx(ctx, func(txCtx context.Context) error {
		admin, err := s.roles.FindByName(txCtx, model.RoleClinicAdmin)
		if err != nil {
			return notFound(err, "role "+model.RoleClinicAdmin)
		}
		if err := s.repo.Create(txCtx, clinic); err != nil {
			return fmt.Errorf("failed to create clinic: %w", err)
		}
		if err := s.memberships.Create(txCtx, &model.ClinicMembership{
			UserID: p.UserID, ClinicID: clinic.ID, RoleID: admin.ID,
		}); err != nil {
			return fmt.Errorf("failed to create membership: %w", err)
		}

		license, err = s.licenseSvc.IssueLicense(txCtx, &p.UserID, IssueLicenseRequest{
			ClinicID: clinic.ID.String(),
			Plan:     model.PlanTrial,
		})
		if err != nil {
			return err
		}
		// The creator occupies the first seat.
		if err := s.licenseSvc.ConsumeClinicUsage(txCtx, clinic.ID, model.ResourceUsers, 1); err != nil {
			return err
		}

		return recordAudit(txCtx, s.auditRepo, &p.UserID, &clinic.ID, model.ActionCreateClinic,
			clinic.ID.String(), clinic.Name, req)
	})
	if err != nil {
		return nil, err
	}

	if err := s.authz.Invalidate(ctx, p.UserID); err != nil {
		log.Error().Err(err).Str("user_id", p.UserID.String()).Msg("failed to invalidate authorization cache")
	}
	res := toClinicResponse(clinic)
	res.License = license
	return res, nil
}

func (s *clinicService) GetClinic(ctx context.Context, id uuid.UUID) (*ClinicResponse, error) {
	clinic, err := s.repo.FindByID(ctx, id)
	if err != nil {
		return nil, notFound(err, "clinic")
	}
	return toClinicResponse(clinic), nil
}

func (s *clinicService) ListMembers(ctx context.Context, clinicID uuid.UUID) ([]MembershipResponse, error) {
	ms, err := s.memberships.ListForClinic(ctx, clinicID)
	if err != nil {
		return nil, fmt.Errorf("failed to list members: %w", err)
	}
	res := make([]MembershipResponse, 0, len(ms))
	for _, m := range ms {
		item := MembershipResponse{UserID: m.UserID.String(), ClinicID: m.ClinicID.String()}
		if m.Role != nil {
			item.Role = m.Role.Name
		}
		res = append(res, item)
	}
	return res, nil
}

func toClinicResponse(c *model.Clinic) *ClinicResponse {
	return &ClinicResponse{ID: c.ID.String(), Name: c.Name, Address: c.Address, Phone: c.Phone}
}
