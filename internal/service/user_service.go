package service

import (
	"context"
	"errors"
	"fmt"
	"time"

	"emrcore/internal/model"
	"emrcore/internal/repository"

	"github.com/google/uuid"
	"github.com/rs/zerolog/log"
	"golang.org/x/crypto/bcrypt"
	"gorm.io/gorm"
)

// DTOs for Request validation
type RegisterRequest struct {
	Username string `json:"username" binding:"required,max=255"`
	Email    string `json:"email" binding:"required,email"`
	Phone    string `json:"phone" binding:"omitempty,max=20"`
	Password string `json:"password" binding:"required,min=8"`
}

type LoginUserRequest struct {
	Email    string `json:"email" binding:"required,email"`
	Password string `json:"password" binding:"required"`
}

type GrantClinicAccessRequest struct {
	UserID string `json:"user_id" binding:"required,uuid"`
	Role   string `json:"role" binding:"required"`
}

type TokenResponse struct {
	AccessToken  string    `json:"access_token"`
	RefreshToken string    `json:"refresh_token"`
	ExpiresAt    time.Time `json:"expires_at"`
}

// DTO for returning User without exposing sensitive data (e.g. password)
type UserResponse struct {
	ID        uuid.UUID     `json:"id"`
	Username  string        `json:"username"`
	Email     string        `json:"email"`
	Phone     string        `json:"phone"`
	Clinics   []ClinicGrant `json:"clinics,omitempty"`
	CreatedAt string        `json:"created_at"`
}

type MembershipResponse struct {
	UserID   string `json:"user_id"`
	ClinicID string `json:"clinic_id"`
	Role     string `json:"role"`
}

// UserService covers accounts, sessions and clinic memberships.
type UserService interface {
	Register(ctx context.Context, req RegisterRequest) (*UserResponse, error)
	Login(ctx context.Context, req LoginUserRequest) (*TokenResponse, error)
	Refresh(ctx context.Context, refreshToken string) (*TokenResponse, error)
	Logout(ctx context.Context, refreshToken string) error
	Me(ctx context.Context, p *Principal) (*UserResponse, error)
	PurgeExpiredSessions(ctx context.Context) (int64, error)

	GrantClinicAccess(ctx context.Context, actor *Principal, clinicID uuid.UUID, req GrantClinicAccessRequest) (*MembershipResponse, error)
	RevokeClinicAccess(ctx context.Context, actor *Principal, clinicID, userID uuid.UUID) error
}

type userService struct {
	repo        repository.UserRepository
	memberships repository.MembershipRepository
	roles       repository.RoleRepository
	auditRepo   repository.AuditRepository
	txManager   repository.TransactionManager
	licenseSvc  LicenseService
	authz       AuthorizationService
	tokens      *Tokens
	events      EventPublisher
}

type UserServiceDeps struct {
	Users       repository.UserRepository
	Memberships repository.MembershipRepository
	Roles       repository.RoleRepository
	Audit       repository.AuditRepository
	TxManager   repository.TransactionManager
	LicenseSvc  LicenseService
	Authz       AuthorizationService
	Tokens      *Tokens
	Events      EventPublisher
}

// NewUserService returns a new instance of UserService
func NewUserService(d UserServiceDeps) UserService {
	events := d.Events
	if events == nil {
		events = noopPublisher{}
	}
	return &userService{
		repo:        d.Users,
		memberships: d.Memberships,
		roles:       d.Roles,
		auditRepo:   d.Audit,
		txManager:   d.TxManager,
		licenseSvc:  d.LicenseSvc,
		authz:       d.Authz,
		tokens:      d.Tokens,
		events:      events,
	}
}

func mapToResponse(user *model.User) *UserResponse {
	return &UserResponse{
		ID:        user.ID,
		Username:  user.Username,
		Email:     user.Email,
		Phone:     user.Phone,
		CreatedAt: user.CreatedAt.Format("2006-01-02T15:04:05Z07:00"),
	}
}

func (s *userService) Register(ctx context.Context, req RegisterRequest) (*UserResponse, error) {
	if _, err := s.repo.GetByUsername(ctx, req.Username); err == nil {
		return nil, invalid("username", "already exists")
	}
	if _, err := s.repo.GetByEmail(ctx, req.Email); err == nil {
		return nil, invalid("email", "already exists")
	}

	hashedPassword, err := bcrypt.GenerateFromPassword([]byte(req.Password), bcrypt.DefaultCost)
	if err != nil {
		return nil, fmt.Errorf("failed to hash password: %w", err)
	}

	user := &model.User{
		Username: req.Username,
		Email:    req.Email,
		Phone:    req.Phone,
		Password: string(hashedPassword),
		IsActive: true,
	}
	if err := s.repo.Create(ctx, user); err != nil {
		return nil, fmt.Errorf("failed to create user: %w", err)
	}
	return mapToResponse(user), nil
}

func (s *userService) Login(ctx context.Context, req LoginUserRequest) (*TokenResponse, error) {
	user, err := s.repo.GetByEmail(ctx, req.Email)
	if err != nil {
		return nil, ErrInvalidCredentials
	}
	if !user.IsActive {
		return nil, ErrInvalidCredentials
	}
	if err := bcrypt.CompareHashAndPassword([]byte(user.Password), []byte(req.Password)); err != nil {
		return nil, ErrInvalidCredentials
	}
	return s.issue(ctx, user)
}

func (s *userService) issue(ctx context.Context, user *model.User) (*TokenResponse, error) {
	access, err := s.tokens.IssueAccess(user.ID, user.Email)
	if err != nil {
		return nil, err
	}
	refresh, err := newRefreshToken()
	if err != nil {
		return nil, fmt.Errorf("failed to generate refresh token: %w", err)
	}
	if err := s.repo.SaveRefreshToken(ctx, &model.RefreshToken{
		UserID:    user.ID,
		Token:     refresh,
		ExpiresAt: s.tokens.now().Add(s.tokens.RefreshTTL),
	}); err != nil {
		return nil, fmt.Errorf("failed to store refresh token: %w", err)
	}
	return &TokenResponse{
		AccessToken:  access,
		RefreshToken: refresh,
		ExpiresAt:    s.tokens.now().Add(s.tokens.AccessTTL),
	}, nil
}

// Refresh rotates the refresh token: the presented one is consumed.
func (s *userService) Refresh(ctx context.Context, refreshToken string) (*TokenResponse, error) {
	stored, err := s.repo.FindRefreshToken(ctx, refreshToken)
	if err != nil {
		return nil, ErrUnauthenticated
	}
	if err := s.repo.DeleteRefreshToken(ctx, refreshToken); err != nil {
		return nil, fmt.Errorf("failed to revoke refresh token: %w", err)
	}
	if !s.tokens.now().Before(stored.ExpiresAt) {
		return nil, ErrUnauthenticated
	}
	user, err := s.repo.GetByID(ctx, stored.UserID)
	if err != nil || !user.IsActive {
		return nil, ErrUnauthenticated
	}
	return s.issue(ctx, user)
}

func (s *userService) Logout(ctx context.Context, refreshToken string) error {
	if refreshToken == "" {
		return nil
	}
	if err := s.repo.DeleteRefreshToken(ctx, refreshToken); err != nil {
		return fmt.Errorf("failed to revoke refresh token: %w", err)
	}
	return nil
}

func (s *userService) PurgeExpiredSessions(ctx context.Context) (int64, error) {
	n, err := s.repo.DeleteExpiredRefreshTokens(ctx, s.tokens.now())
	if err != nil {
		return 0, fmt.Errorf("failed to purge refresh tokens: %w", err)
	}
	return n, nil
}

func (s *userService) Me(ctx context.Context, p *Principal) (*UserResponse, error) {
	if p == nil {
		return nil, ErrUnauthenticated
	}
	user, err := s.repo.GetByID(ctx, p.UserID)
	if err != nil {
		return nil, notFound(err, "user")
	}
	grants, err := s.authz.Grants(ctx, p)
	if err != nil {
		return nil, err
	}
	res := mapToResponse(user)
	res.Clinics = grants
	return res, nil
}

func (s *userService) GrantClinicAccess(ctx context.Context, actor *Principal, clinicID uuid.UUID, req GrantClinicAccessRequest) (*MembershipResponse, error) {
	if err := s.authz.RequirePermissionInClinic(ctx, actor, model.PermUsersManage, clinicID); err != nil {
		return nil, err
	}
	userID, err := parseID("user_id", req.UserID)
	if err != nil {
		return nil, err
	}
	if req.Role == model.RoleSuperAdmin {
		if err := s.authz.RequireRole(ctx, actor, model.RoleSuperAdmin); err != nil {
			return nil, err
		}
	}

	var membership *model.ClinicMembership
	err = s.txManager.RunInTx(ctx, func(txCtx context.Context) error {
		if _, err := s.repo.GetByID(txCtx, userID); err != nil {
			return notFound(err, "user")
		}
		role, err := s.roles.FindByName(txCtx, req.Role)
		if err != nil {
			return notFound(err, "role")
		}
		if role.ClinicID != nil && *role.ClinicID != clinicID {
			return invalid("role", "role '%s' belongs to another clinic", req.Role)
		}
		if _, err := s.memberships.Find(txCtx, userID, clinicID); err == nil {
			return ErrAlreadyMember
		} else if !errors.Is(err, gorm.ErrRecordNotFound) {
			return fmt.Errorf("failed to check membership: %w", err)
		}

		if err := s.licenseSvc.ConsumeClinicUsage(txCtx, clinicID, model.ResourceUsers, 1); err != nil {
			return err
		}

		membership = &model.ClinicMembership{UserID: userID, ClinicID: clinicID, RoleID: role.ID}
		if err := s.memberships.Create(txCtx, membership); err != nil {
			return fmt.Errorf("failed to create membership: %w", err)
		}
		return recordAudit(txCtx, s.auditRepo, &actor.UserID, &clinicID, model.ActionGrantClinicAccess,
			userID.String(), role.Name, req)
	})
	if err != nil {
		return nil, err
	}

	s.afterMembershipChange(ctx, clinicID, userID, "granted")
	return &MembershipResponse{UserID: userID.String(), ClinicID: clinicID.String(), Role: req.Role}, nil
}

func (s *userService) RevokeClinicAccess(ctx context.Context, actor *Principal, clinicID, userID uuid.UUID) error {
	if err := s.authz.RequirePermissionInClinic(ctx, actor, model.PermUsersManage, clinicID); err != nil {
		return err
	}

	err := s.txManager.RunInTx(ctx, func(txCtx context.Context) error {
		m, err := s.memberships.Find(txCtx, userID, clinicID)
		if err != nil {
			return notFound(err, "membership")
		}
		if err := s.memberships.Delete(txCtx, m); err != nil {
			return fmt.Errorf("failed to delete membership: %w", err)
		}
		if err := s.licenseSvc.ReleaseClinicUsage(txCtx, clinicID, model.ResourceUsers, 1); err != nil && !errors.Is(err, ErrUsageUnderflow) {
			return err
		}
		return recordAudit(txCtx, s.auditRepo, &actor.UserID, &clinicID, model.ActionRevokeClinicAccess,
			userID.String(), "", nil)
	})
	if err != nil {
		return err
	}

	s.afterMembershipChange(ctx, clinicID, userID, "revoked")
	return nil
}

func (s *userService) afterMembershipChange(ctx context.Context, clinicID, userID uuid.UUID, change string) {
	if err := s.authz.Invalidate(ctx, userID); err != nil {
		log.Error().Err(err).Str("user_id", userID.String()).Msg("failed to invalidate authorization cache")
	}
	s.events.Publish(Event{
		Type:     EventMembershipChanged,
		ClinicID: clinicID,
		Payload:  map[string]string{"user_id": userID.String(), "change": change},
	})
}
