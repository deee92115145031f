package service

import (
	"context"
	"errors"
	"fmt"
	"sort"

	"emrcore/internal/model"
	"emrcore/internal/repository"

	"github.com/google/uuid"
	"github.com/rs/zerolog/log"
	"gorm.io/gorm"
)

// --- DTOs ---

type CreateRoleRequest struct {
	Name        string   `json:"name" binding:"required,max=50"`
	Description string   `json:"description"`
	Permissions []string `json:"permissions"` // Permission UUIDs
}

type UpdateRoleRequest struct {
	Name        string `json:"name" binding:"required,max=50"`
	Description string `json:"description"`
}

type UpdateRolePermissionsRequest struct {
	PermissionIDs []string `json:"permission_ids" binding:"required"`
}

type RoleResponse struct {
	ID          string               `json:"id"`
	Name        string               `json:"name"`
	Description string               `json:"description"`
	IsSystem    bool                 `json:"is_system"`
	ClinicID    string               `json:"clinic_id,omitempty"`
	Permissions []PermissionResponse `json:"permissions"`
	CreatedAt   string               `json:"created_at"`
}

type PermissionResponse struct {
	ID          string `json:"id"`
	Name        string `json:"name"`
	Module      string `json:"module"`
	Action      string `json:"action"`
	Description string `json:"description"`
}

// --- Interface ---

type RoleService interface {
	ListRoles(ctx context.Context) ([]RoleResponse, error)
	GetRole(ctx context.Context, id string) (*RoleResponse, error)
	CreateRole(ctx context.Context, actor *uuid.UUID, req CreateRoleRequest) (*RoleResponse, error)
	UpdateRole(ctx context.Context, actor *uuid.UUID, id string, req UpdateRoleRequest) (*RoleResponse, error)
	DeleteRole(ctx context.Context, actor *uuid.UUID, id string) error
	ListPermissions(ctx context.Context) ([]PermissionResponse, error)
	UpdateRolePermissions(ctx context.Context, actor *uuid.UUID, roleID string, req UpdateRolePermissionsRequest) (*RoleResponse, error)
	GetPermissionsByRoleName(ctx context.Context, roleName string) ([]string, error)
	SeedDefaultRolesAndPermissions(ctx context.Context) error

	// Clinic-scoped variants manage custom roles owned by one clinic. They only touch
	// that clinic's roles, and a role may carry only permissions the actor holds there.
	ListClinicRoles(ctx context.Context, clinicID uuid.UUID) ([]RoleResponse, error)
	CreateClinicRole(ctx context.Context, actor *uuid.UUID, clinicID uuid.UUID, req CreateRoleRequest) (*RoleResponse, error)
	UpdateClinicRole(ctx context.Context, actor *uuid.UUID, clinicID uuid.UUID, id string, req UpdateRoleRequest) (*RoleResponse, error)
	DeleteClinicRole(ctx context.Context, actor *uuid.UUID, clinicID uuid.UUID, id string) error
	UpdateClinicRolePermissions(ctx context.Context, actor *uuid.UUID, clinicID uuid.UUID, roleID string, req UpdateRolePermissionsRequest) (*RoleResponse, error)
}

type roleService struct {
	repo      repository.RoleRepository
	auditRepo repository.AuditRepository
	txManager repository.TransactionManager
	authz     AuthorizationService
}

func NewRoleService(repo repository.RoleRepository, auditRepo repository.AuditRepository, txManager repository.TransactionManager, authz AuthorizationService) RoleService {
	return &roleService{repo: repo, auditRepo: auditRepo, txManager: txManager, authz: authz}
}

// --- Implementation ---

func (s *roleService) ListRoles(ctx context.Context) ([]RoleResponse, error) {
	roles, err := s.repo.ListAll(ctx)
	if err != nil {
		return nil, fmt.Errorf("failed to fetch roles: %w", err)
	}

	res := make([]RoleResponse, 0, len(roles))
	for _, r := range roles {
		res = append(res, toRoleResponse(r))
	}
	return res, nil
}

func (s *roleService) ListClinicRoles(ctx context.Context, clinicID uuid.UUID) ([]RoleResponse, error) {
	roles, err := s.repo.ListForClinic(ctx, clinicID)
	if err != nil {
		return nil, fmt.Errorf("failed to fetch roles: %w", err)
	}

	res := make([]RoleResponse, 0, len(roles))
	for _, r := range roles {
		res = append(res, toRoleResponse(r))
	}
	return res, nil
}

func (s *roleService) GetRole(ctx context.Context, id string) (*RoleResponse, error) {
	role, err := s.loadRole(ctx, id)
	if err != nil {
		return nil, err
	}
	resp := toRoleResponse(*role)
	return &resp, nil
}

func (s *roleService) loadRole(ctx context.Context, id string) (*model.Role, error) {
	roleID, err := parseID("id", id)
	if err != nil {
		return nil, err
	}
	role, err := s.repo.FindByID(ctx, roleID)
	if err != nil {
		return nil, notFound(err, "role")
	}
	return role, nil
}

// loadMutableRole loads a custom role. With a clinic scope, roles owned elsewhere
// (or shared ones) are reported as missing.
func (s *roleService) loadMutableRole(ctx context.Context, id string, clinicID *uuid.UUID) (*model.Role, error) {
	role, err := s.loadRole(ctx, id)
	if err != nil {
		return nil, err
	}
	if role.IsSystem {
		return nil, ErrSystemRoleImmutable
	}
	if clinicID != nil && (role.ClinicID == nil || *role.ClinicID != *clinicID) {
		return nil, fmt.Errorf("role: %w", ErrNotFound)
	}
	return role, nil
}

// ensureWithinActorGrant rejects permissions the actor does not hold in the clinic.
func (s *roleService) ensureWithinActorGrant(ctx context.Context, actor *uuid.UUID, clinicID *uuid.UUID, perms []model.Permission) error {
	if clinicID == nil {
		return nil
	}
	if actor == nil {
		return ErrUnauthenticated
	}
	grant, err := s.authz.ResolveClinic(ctx, &Principal{UserID: *actor}, *clinicID)
	if err != nil {
		return err
	}
	for _, p := range perms {
		if !grant.has(p.Name) {
			return &AuthorizationError{Permission: p.Name, ClinicID: clinicID}
		}
	}
	return nil
}

func (s *roleService) ensureNameFree(ctx context.Context, name string, self uuid.UUID) error {
	existing, err := s.repo.FindByName(ctx, name)
	switch {
	case errors.Is(err, gorm.ErrRecordNotFound):
		return nil
	case err != nil:
		return fmt.Errorf("failed to check role name: %w", err)
	case existing.ID != self:
		return ErrRoleNameTaken
	}
	return nil
}

func (s *roleService) resolvePermissions(ctx context.Context, ids []string) ([]model.Permission, error) {
	if len(ids) == 0 {
		return []model.Permission{}, nil
	}
	permIDs := make([]uuid.UUID, 0, len(ids))
	for _, pid := range ids {
		parsed, err := uuid.Parse(pid)
		if err != nil {
			return nil, invalid("permissions", "invalid permission id '%s'", pid)
		}
		permIDs = append(permIDs, parsed)
	}
	perms, err := s.repo.FindPermissionsByIDs(ctx, permIDs)
	if err != nil {
		return nil, fmt.Errorf("failed to fetch permissions: %w", err)
	}
	if len(perms) != len(dedupeIDs(permIDs)) {
		return nil, invalid("permissions", "one or more permissions do not exist")
	}
	return perms, nil
}

func dedupeIDs(ids []uuid.UUID) map[uuid.UUID]struct{} {
	set := make(map[uuid.UUID]struct{}, len(ids))
	for _, id := range ids {
		set[id] = struct{}{}
	}
	return set
}

func (s *roleService) CreateRole(ctx context.Context, actor *uuid.UUID, req CreateRoleRequest) (*RoleResponse, error) {
	return s.createRole(ctx, actor, nil, req)
}

func (s *roleService) CreateClinicRole(ctx context.Context, actor *uuid.UUID, clinicID uuid.UUID, req CreateRoleRequest) (*RoleResponse, error) {
	return s.createRole(ctx, actor, &clinicID, req)
}

func (s *roleService) createRole(ctx context.Context, actor *uuid.UUID, clinicID *uuid.UUID, req CreateRoleRequest) (*RoleResponse, error) {
	role := model.Role{
		Name:        req.Name,
		Description: req.Description,
		IsSystem:    false,
		ClinicID:    clinicID,
	}

	err := s.txManager.RunInTx(ctx, func(txCtx context.Context) error {
		if err := s.ensureNameFree(txCtx, req.Name, uuid.Nil); err != nil {
			return err
		}
		perms, err := s.resolvePermissions(txCtx, req.Permissions)
		if err != nil {
			return err
		}
		if err := s.ensureWithinActorGrant(txCtx, actor, clinicID, perms); err != nil {
			return err
		}
		if err := s.repo.Create(txCtx, &role); err != nil {
			return fmt.Errorf("failed to create role: %w", err)
		}
		if len(perms) > 0 {
			if err := s.repo.ReplacePermissions(txCtx, &role, perms); err != nil {
				return fmt.Errorf("failed to assign permissions: %w", err)
			}
		}
		return recordAudit(txCtx, s.auditRepo, actor, clinicID, model.ActionCreateRole, role.ID.String(), role.Name, req)
	})
	if err != nil {
		return nil, err
	}

	return s.GetRole(ctx, role.ID.String())
}

func (s *roleService) UpdateRole(ctx context.Context, actor *uuid.UUID, id string, req UpdateRoleRequest) (*RoleResponse, error) {
	return s.updateRole(ctx, actor, nil, id, req)
}

func (s *roleService) UpdateClinicRole(ctx context.Context, actor *uuid.UUID, clinicID uuid.UUID, id string, req UpdateRoleRequest) (*RoleResponse, error) {
	return s.updateRole(ctx, actor, &clinicID, id, req)
}

func (s *roleService) updateRole(ctx context.Context, actor *uuid.UUID, clinicID *uuid.UUID, id string, req UpdateRoleRequest) (*RoleResponse, error) {
	role, err := s.loadMutableRole(ctx, id, clinicID)
	if err != nil {
		return nil, err
	}

	err = s.txManager.RunInTx(ctx, func(txCtx context.Context) error {
		if err := s.ensureNameFree(txCtx, req.Name, role.ID); err != nil {
			return err
		}
		role.Name = req.Name
		role.Description = req.Description
		if err := s.repo.Update(txCtx, role); err != nil {
			return fmt.Errorf("failed to update role: %w", err)
		}
		return recordAudit(txCtx, s.auditRepo, actor, role.ClinicID, model.ActionUpdateRole, role.ID.String(), role.Name, req)
	})
	if err != nil {
		return nil, err
	}

	// Role names are cached inside grants.
	s.invalidateGrants(ctx)
	return s.GetRole(ctx, id)
}

func (s *roleService) DeleteRole(ctx context.Context, actor *uuid.UUID, id string) error {
	return s.deleteRole(ctx, actor, nil, id)
}

func (s *roleService) DeleteClinicRole(ctx context.Context, actor *uuid.UUID, clinicID uuid.UUID, id string) error {
	return s.deleteRole(ctx, actor, &clinicID, id)
}

func (s *roleService) deleteRole(ctx context.Context, actor *uuid.UUID, clinicID *uuid.UUID, id string) error {
	role, err := s.loadMutableRole(ctx, id, clinicID)
	if err != nil {
		return err
	}

	return s.txManager.RunInTx(ctx, func(txCtx context.Context) error {
		inUse, err := s.repo.CountMemberships(txCtx, role.ID)
		if err != nil {
			return fmt.Errorf("failed to count role memberships: %w", err)
		}
		if inUse > 0 {
			return ErrRoleInUse
		}
		if err := s.repo.Delete(txCtx, role); err != nil {
			return fmt.Errorf("failed to delete role: %w", err)
		}
		return recordAudit(txCtx, s.auditRepo, actor, role.ClinicID, model.ActionDeleteRole, role.ID.String(), role.Name, nil)
	})
}

func (s *roleService) ListPermissions(ctx context.Context) ([]PermissionResponse, error) {
	perms, err := s.repo.ListPermissions(ctx)
	if err != nil {
		return nil, fmt.Errorf("failed to fetch permissions: %w", err)
	}

	res := make([]PermissionResponse, 0, len(perms))
	for _, p := range perms {
		res = append(res, toPermissionResponse(p))
	}
	return res, nil
}

func (s *roleService) UpdateRolePermissions(ctx context.Context, actor *uuid.UUID, roleID string, req UpdateRolePermissionsRequest) (*RoleResponse, error) {
	return s.updateRolePermissions(ctx, actor, nil, roleID, req)
}

func (s *roleService) UpdateClinicRolePermissions(ctx context.Context, actor *uuid.UUID, clinicID uuid.UUID, roleID string, req UpdateRolePermissionsRequest) (*RoleResponse, error) {
	return s.updateRolePermissions(ctx, actor, &clinicID, roleID, req)
}

func (s *roleService) updateRolePermissions(ctx context.Context, actor *uuid.UUID, clinicID *uuid.UUID, roleID string, req UpdateRolePermissionsRequest) (*RoleResponse, error) {
	role, err := s.loadMutableRole(ctx, roleID, clinicID)
	if err != nil {
		return nil, err
	}

	err = s.txManager.RunInTx(ctx, func(txCtx context.Context) error {
		perms, err := s.resolvePermissions(txCtx, req.PermissionIDs)
		if err != nil {
			return err
		}
		if err := s.ensureWithinActorGrant(txCtx, actor, clinicID, perms); err != nil {
			return err
		}
		if err := s.repo.ReplacePermissions(txCtx, role, perms); err != nil {
			return fmt.Errorf("failed to update permissions: %w", err)
		}
		names := make([]string, 0, len(perms))
		for _, p := range perms {
			names = append(names, p.Name)
		}
		return recordAudit(txCtx, s.auditRepo, actor, role.ClinicID, model.ActionUpdateRolePermissions,
			role.ID.String(), role.Name, map[string][]string{"permissions": names})
	})
	if err != nil {
		return nil, err
	}

	s.invalidateGrants(ctx)
	return s.GetRole(ctx, roleID)
}

// invalidateGrants drops every cached grant set. On failure the resolver stops using the cache.
func (s *roleService) invalidateGrants(ctx context.Context) {
	if err := s.authz.InvalidateAll(ctx); err != nil {
		log.Error().Err(err).Msg("failed to invalidate authorization cache")
	}
}

func (s *roleService) GetPermissionsByRoleName(ctx context.Context, roleName string) ([]string, error) {
	role, err := s.repo.FindByName(ctx, roleName)
	if err != nil {
		return nil, notFound(err, "role")
	}

	names := make([]string, 0, len(role.Permissions))
	for _, p := range role.Permissions {
		names = append(names, p.Name)
	}
	return names, nil
}

var defaultPermissions = []model.Permission{
	model.NewPermission(model.PermPatientsView, "View patient records"),
	model.NewPermission(model.PermPatientsCreate, "Register patients"),
	model.NewPermission(model.PermPatientsUpdate, "Edit patient records"),
	model.NewPermission(model.PermPatientsDelete, "Delete patient records"),
	model.NewPermission(model.PermAppointmentsView, "View appointments"),
	model.NewPermission(model.PermAppointmentsCreate, "Book appointments"),
	model.NewPermission(model.PermPrescriptionsCreate, "Write prescriptions"),
	model.NewPermission(model.PermBillingView, "View invoices and payments"),
	model.NewPermission(model.PermBillingManage, "Manage invoices and payments"),
	model.NewPermission(model.PermUsersView, "View clinic staff"),
	model.NewPermission(model.PermUsersManage, "Grant and revoke clinic access"),
	model.NewPermission(model.PermRolesManage, "Manage roles and permissions"),
	model.NewPermission(model.PermAuditView, "View audit history"),
	model.NewPermission(model.PermLicenseView, "View license status and usage"),
	model.NewPermission(model.PermLicenseManage, "Regenerate, activate and suspend licenses"),
	model.NewPermission(model.PermLicenseKeys, "Generate and inspect license keys"),
}

type roleDefinition struct {
	Description string
	Permissions []string
}

// defaultRoles maps each system role to its permissions. A nil list means every permission.
var defaultRoles = map[string]roleDefinition{
	model.RoleSuperAdmin: {Description: "Platform administrator"},
	model.RoleClinicAdmin: {
		Description: "Clinic administrator",
		Permissions: []string{
			model.PermPatientsView, model.PermPatientsCreate, model.PermPatientsUpdate, model.PermPatientsDelete,
			model.PermAppointmentsView, model.PermAppointmentsCreate,
			model.PermBillingView, model.PermBillingManage,
			model.PermUsersView, model.PermUsersManage, model.PermRolesManage,
			model.PermAuditView, model.PermLicenseView, model.PermLicenseManage,
		},
	},
	model.RoleDoctor: {
		Description: "Physician",
		Permissions: []string{
			model.PermPatientsView, model.PermPatientsCreate, model.PermPatientsUpdate,
			model.PermAppointmentsView, model.PermAppointmentsCreate,
			model.PermPrescriptionsCreate,
		},
	},
	model.RoleNurse: {
		Description: "Nursing staff",
		Permissions: []string{model.PermPatientsView, model.PermPatientsUpdate, model.PermAppointmentsView},
	},
	model.RoleReceptionist: {
		Description: "Front desk",
		Permissions: []string{
			model.PermPatientsView, model.PermPatientsCreate,
			model.PermAppointmentsView, model.PermAppointmentsCreate, model.PermBillingView,
		},
	},
}

// SeedDefaultRolesAndPermissions creates the default permissions and system roles if not already present
func (s *roleService) SeedDefaultRolesAndPermissions(ctx context.Context) error {
	err := s.txManager.RunInTx(ctx, func(txCtx context.Context) error {
		byName := make(map[string]model.Permission, len(defaultPermissions))
		all := make([]model.Permission, 0, len(defaultPermissions))
		for _, def := range defaultPermissions {
			p := def
			if err := s.repo.UpsertPermission(txCtx, &p); err != nil {
				return fmt.Errorf("failed to seed permission '%s': %w", p.Name, err)
			}
			byName[p.Name] = p
			all = append(all, p)
		}

		names := make([]string, 0, len(defaultRoles))
		for name := range defaultRoles {
			names = append(names, name)
		}
		sort.Strings(names)

		for _, name := range names {
			def := defaultRoles[name]
			role, err := s.repo.FindByName(txCtx, name)
			if errors.Is(err, gorm.ErrRecordNotFound) {
				role = &model.Role{Name: name, Description: def.Description, IsSystem: true}
				if err := s.repo.Create(txCtx, role); err != nil {
					return fmt.Errorf("failed to seed role '%s': %w", name, err)
				}
			} else if err != nil {
				return fmt.Errorf("failed to load role '%s': %w", name, err)
			}

			perms := all
			if def.Permissions != nil {
				perms = make([]model.Permission, 0, len(def.Permissions))
				for _, pn := range def.Permissions {
					perms = append(perms, byName[pn])
				}
			}
			if err := s.repo.ReplacePermissions(txCtx, role, perms); err != nil {
				return fmt.Errorf("failed to assign permissions to role '%s': %w", name, err)
			}
		}
		return nil
	})
	if err != nil {
		return err
	}

	s.invalidateGrants(ctx)
	log.Info().Int("roles", len(defaultRoles)).Int("permissions", len(defaultPermissions)).Msg("default roles and permissions seeded")
	return nil
}

// --- Helpers ---

func toRoleResponse(r model.Role) RoleResponse {
	perms := make([]PermissionResponse, 0, len(r.Permissions))
	for _, p := range r.Permissions {
		perms = append(perms, toPermissionResponse(p))
	}

	res := RoleResponse{
		ID:          r.ID.String(),
		Name:        r.Name,
		Description: r.Description,
		IsSystem:    r.IsSystem,
		Permissions: perms,
		CreatedAt:   r.CreatedAt.Format("2006-01-02 15:04:05"),
	}
	if r.ClinicID != nil {
		res.ClinicID = r.ClinicID.String()
	}
	return res
}

func toPermissionResponse(p model.Permission) PermissionResponse {
	return PermissionResponse{
		ID:          p.ID.String(),
		Name:        p.Name,
		Module:      p.Module,
		Action:      p.Action,
		Description: p.Description,
	}
}
