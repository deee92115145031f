package service

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"sort"
	"sync/atomic"
	"time"

	"emrcore/internal/alert"
	"emrcore/internal/cache"
	"emrcore/internal/metrics"
	"emrcore/internal/repository"

	"github.com/google/uuid"
	"github.com/rs/zerolog/log"
	"golang.org/x/time/rate"
)

// Principal is the authenticated caller.
type Principal struct {
	UserID uuid.UUID
	Email  string
}

// ClinicGrant is one membership as seen by the resolver: the clinic, the role held
// there and the permissions that role carries.
type ClinicGrant struct {
	ClinicID    uuid.UUID `json:"clinic_id"`
	ClinicName  string    `json:"clinic_name"`
	RoleID      uuid.UUID `json:"role_id"`
	Role        string    `json:"role"`
	Permissions []string  `json:"permissions"`
}

func (g ClinicGrant) has(permission string) bool {
	for _, p := range g.Permissions {
		if p == permission {
			return true
		}
	}
	return false
}

// AuthorizationService answers role and permission questions about a principal,
// globally or inside one clinic. Storage faults surface as errors, never as a deny.
type AuthorizationService interface {
	HasPermission(ctx context.Context, p *Principal, permission string) (bool, error)
	HasPermissionInClinic(ctx context.Context, p *Principal, permission string, clinicID uuid.UUID) (bool, error)
	HasRole(ctx context.Context, p *Principal, role string) (bool, error)
	HasRoleInClinic(ctx context.Context, p *Principal, role string, clinicID uuid.UUID) (bool, error)
	HasAnyPermission(ctx context.Context, p *Principal, permissions ...string) (bool, error)
	HasAllPermissions(ctx context.Context, p *Principal, permissions ...string) (bool, error)
	HasClinicAccess(ctx context.Context, p *Principal, clinicID uuid.UUID) (bool, error)

	RequirePermission(ctx context.Context, p *Principal, permission string) error
	RequirePermissionInClinic(ctx context.Context, p *Principal, permission string, clinicID uuid.UUID) error
	RequireRole(ctx context.Context, p *Principal, role string) error
	RequireRoleInClinic(ctx context.Context, p *Principal, role string, clinicID uuid.UUID) error
	RequireAnyPermission(ctx context.Context, p *Principal, permissions ...string) error
	RequireAllPermissions(ctx context.Context, p *Principal, permissions ...string) error
	RequireClinicAccess(ctx context.Context, p *Principal, clinicID uuid.UUID) error

	// ResolveClinic picks the clinic a request acts in. An explicit clinic must be one
	// the principal belongs to. Without one, a single membership is used, no membership
	// yields nil, and several memberships yield ErrClinicSelectionRequired.
	ResolveClinic(ctx context.Context, p *Principal, requested uuid.UUID) (*ClinicGrant, error)
	Grants(ctx context.Context, p *Principal) ([]ClinicGrant, error)

	VerifyPermissionCatalog(ctx context.Context, names []string) error
	Invalidate(ctx context.Context, userID uuid.UUID) error
	InvalidateAll(ctx context.Context) error
}

const (
	grantKeyPrefix = "authz:grants:"
	// Version counters sit outside grantKeyPrefix so clearing entries never resets them.
	grantGenPrefix = "authz:gen:"
	grantEpochKey  = "authz:epoch"
)

func grantKey(userID uuid.UUID) string    { return grantKeyPrefix + userID.String() }
func grantGenKey(userID uuid.UUID) string { return grantGenPrefix + userID.String() }

type authorizationService struct {
	memberships repository.MembershipRepository
	roles       repository.RoleRepository
	cache       cache.Cache
	ttl         time.Duration

	// degraded is set when an invalidation fails. Until a full flush succeeds the
	// cache is neither read nor written.
	degraded     atomic.Bool
	recoverLimit *rate.Limiter
}

// NewAuthorizationService caches grants per principal for ttl. Mutations of memberships
// or role permissions must call Invalidate or InvalidateAll before returning.
func NewAuthorizationService(
	memberships repository.MembershipRepository,
	roles repository.RoleRepository,
	c cache.Cache,
	ttl time.Duration,
) AuthorizationService {
	return &authorizationService{
		memberships:  memberships,
		roles:        roles,
		cache:        c,
		ttl:          ttl,
		recoverLimit: rate.NewLimiter(rate.Every(time.Second), 1),
	}
}

func (s *authorizationService) Grants(ctx context.Context, p *Principal) ([]ClinicGrant, error) {
	if p == nil {
		return nil, nil
	}
	if s.degraded.Load() && !s.tryRecover(ctx) {
		metrics.GrantCacheLookups.WithLabelValues("bypass").Inc()
		return s.loadGrants(ctx, p.UserID)
	}
	key := grantKey(p.UserID)

	raw, err := s.cache.Get(ctx, key)
	switch {
	case err == nil:
		var grants []ClinicGrant
		if jsonErr := json.Unmarshal(raw, &grants); jsonErr == nil {
			metrics.GrantCacheLookups.WithLabelValues("hit").Inc()
			return grants, nil
		}
	case !errors.Is(err, cache.ErrCacheMiss):
		log.Warn().Err(err).Str("user_id", p.UserID.String()).Msg("grant cache read failed, loading from database")
	}
	metrics.GrantCacheLookups.WithLabelValues("miss").Inc()

	// Versions are read before the load; an invalidation landing in between bumps
	// one of them and the fill below is dropped.
	guards, verr := s.grantVersions(ctx, p.UserID)

	grants, err := s.loadGrants(ctx, p.UserID)
	if err != nil {
		return nil, err
	}
	if verr != nil {
		log.Warn().Err(verr).Str("user_id", p.UserID.String()).Msg("grant version read failed, skipping cache fill")
		return grants, nil
	}

	if encoded, err := json.Marshal(grants); err == nil {
		written, err := s.cache.SetIfVersions(ctx, key, encoded, s.ttl, guards)
		switch {
		case err != nil:
			log.Warn().Err(err).Str("user_id", p.UserID.String()).Msg("grant cache write failed")
		case !written:
			log.Debug().Str("user_id", p.UserID.String()).Msg("grants changed during load, cache fill dropped")
		}
	}
	return grants, nil
}

func (s *authorizationService) grantVersions(ctx context.Context, userID uuid.UUID) (map[string]int64, error) {
	gen, err := s.cache.Version(ctx, grantGenKey(userID))
	if err != nil {
		return nil, err
	}
	epoch, err := s.cache.Version(ctx, grantEpochKey)
	if err != nil {
		return nil, err
	}
	return map[string]int64{grantGenKey(userID): gen, grantEpochKey: epoch}, nil
}

func (s *authorizationService) loadGrants(ctx context.Context, userID uuid.UUID) ([]ClinicGrant, error) {
	ms, err := s.memberships.ListForUser(ctx, userID)
	if err != nil {
		return nil, fmt.Errorf("failed to load memberships: %w", err)
	}

	grants := make([]ClinicGrant, 0, len(ms))
	for _, m := range ms {
		g := ClinicGrant{ClinicID: m.ClinicID, RoleID: m.RoleID, Permissions: []string{}}
		if m.Clinic != nil {
			g.ClinicName = m.Clinic.Name
		}
		if m.Role != nil {
			g.Role = m.Role.Name
			for _, perm := range m.Role.Permissions {
				g.Permissions = append(g.Permissions, perm.Name)
			}
			sort.Strings(g.Permissions)
		}
		grants = append(grants, g)
	}
	return grants, nil
}

// match reports whether any grant, optionally restricted to one clinic, satisfies pred.
func (s *authorizationService) match(ctx context.Context, p *Principal, clinicID *uuid.UUID, pred func(ClinicGrant) bool) (bool, error) {
	grants, err := s.Grants(ctx, p)
	if err != nil {
		return false, err
	}
	for _, g := range grants {
		if clinicID != nil && g.ClinicID != *clinicID {
			continue
		}
		if pred(g) {
			return true, nil
		}
	}
	return false, nil
}

func (s *authorizationService) HasPermission(ctx context.Context, p *Principal, permission string) (bool, error) {
	return s.match(ctx, p, nil, func(g ClinicGrant) bool { return g.has(permission) })
}

func (s *authorizationService) HasPermissionInClinic(ctx context.Context, p *Principal, permission string, clinicID uuid.UUID) (bool, error) {
	return s.match(ctx, p, &clinicID, func(g ClinicGrant) bool { return g.has(permission) })
}

func (s *authorizationService) HasRole(ctx context.Context, p *Principal, role string) (bool, error) {
	return s.match(ctx, p, nil, func(g ClinicGrant) bool { return g.Role == role })
}

func (s *authorizationService) HasRoleInClinic(ctx context.Context, p *Principal, role string, clinicID uuid.UUID) (bool, error) {
	return s.match(ctx, p, &clinicID, func(g ClinicGrant) bool { return g.Role == role })
}

func (s *authorizationService) HasAnyPermission(ctx context.Context, p *Principal, permissions ...string) (bool, error) {
	return s.match(ctx, p, nil, func(g ClinicGrant) bool {
		for _, perm := range permissions {
			if g.has(perm) {
				return true
			}
		}
		return false
	})
}

// HasAllPermissions is satisfied across memberships: each permission may come from a different clinic.
func (s *authorizationService) HasAllPermissions(ctx context.Context, p *Principal, permissions ...string) (bool, error) {
	for _, perm := range permissions {
		ok, err := s.HasPermission(ctx, p, perm)
		if err != nil || !ok {
			return false, err
		}
	}
	return true, nil
}

func (s *authorizationService) HasClinicAccess(ctx context.Context, p *Principal, clinicID uuid.UUID) (bool, error) {
	return s.match(ctx, p, &clinicID, func(ClinicGrant) bool { return true })
}

// enforce turns a check into an error, recording the decision.
func enforce(check string, p *Principal, allowed bool, err error, denial *AuthorizationError) error {
	if p == nil {
		return ErrUnauthenticated
	}
	if err != nil {
		return err
	}
	metrics.AuthorizationDecisions.WithLabelValues(check, metrics.Outcome(allowed)).Inc()
	if !allowed {
		return denial
	}
	return nil
}

func (s *authorizationService) RequirePermission(ctx context.Context, p *Principal, permission string) error {
	ok, err := s.HasPermission(ctx, p, permission)
	return enforce("permission", p, ok, err, &AuthorizationError{Permission: permission})
}

func (s *authorizationService) RequirePermissionInClinic(ctx context.Context, p *Principal, permission string, clinicID uuid.UUID) error {
	ok, err := s.HasPermissionInClinic(ctx, p, permission, clinicID)
	return enforce("permission_in_clinic", p, ok, err, &AuthorizationError{Permission: permission, ClinicID: &clinicID})
}

func (s *authorizationService) RequireRole(ctx context.Context, p *Principal, role string) error {
	ok, err := s.HasRole(ctx, p, role)
	return enforce("role", p, ok, err, &AuthorizationError{Role: role})
}

func (s *authorizationService) RequireRoleInClinic(ctx context.Context, p *Principal, role string, clinicID uuid.UUID) error {
	ok, err := s.HasRoleInClinic(ctx, p, role, clinicID)
	return enforce("role_in_clinic", p, ok, err, &AuthorizationError{Role: role, ClinicID: &clinicID})
}

func (s *authorizationService) RequireAnyPermission(ctx context.Context, p *Principal, permissions ...string) error {
	ok, err := s.HasAnyPermission(ctx, p, permissions...)
	denial := &AuthorizationError{}
	if len(permissions) > 0 {
		denial.Permission = permissions[0]
	}
	return enforce("any_permission", p, ok, err, denial)
}

func (s *authorizationService) RequireAllPermissions(ctx context.Context, p *Principal, permissions ...string) error {
	if p == nil {
		return ErrUnauthenticated
	}
	for _, perm := range permissions {
		ok, err := s.HasPermission(ctx, p, perm)
		if err != nil {
			return err
		}
		if !ok {
			metrics.AuthorizationDecisions.WithLabelValues("all_permissions", metrics.Outcome(false)).Inc()
			return &AuthorizationError{Permission: perm}
		}
	}
	metrics.AuthorizationDecisions.WithLabelValues("all_permissions", metrics.Outcome(true)).Inc()
	return nil
}

func (s *authorizationService) RequireClinicAccess(ctx context.Context, p *Principal, clinicID uuid.UUID) error {
	ok, err := s.HasClinicAccess(ctx, p, clinicID)
	return enforce("clinic_access", p, ok, err, &AuthorizationError{ClinicID: &clinicID})
}

func (s *authorizationService) ResolveClinic(ctx context.Context, p *Principal, requested uuid.UUID) (*ClinicGrant, error) {
	if p == nil {
		return nil, ErrUnauthenticated
	}
	grants, err := s.Grants(ctx, p)
	if err != nil {
		return nil, err
	}

	if requested != uuid.Nil {
		for i := range grants {
			if grants[i].ClinicID == requested {
				return &grants[i], nil
			}
		}
		return nil, &AuthorizationError{ClinicID: &requested}
	}

	switch len(grants) {
	case 0:
		return nil, nil
	case 1:
		return &grants[0], nil
	default:
		return nil, ErrClinicSelectionRequired
	}
}

// VerifyPermissionCatalog fails when code references a permission the database does not know.
func (s *authorizationService) VerifyPermissionCatalog(ctx context.Context, names []string) error {
	known, err := s.roles.PermissionNames(ctx)
	if err != nil {
		return fmt.Errorf("failed to load permission catalog: %w", err)
	}
	set := make(map[string]struct{}, len(known))
	for _, n := range known {
		set[n] = struct{}{}
	}

	var missing []string
	for _, n := range names {
		if _, ok := set[n]; !ok {
			missing = append(missing, n)
		}
	}
	if len(missing) > 0 {
		return fmt.Errorf("permissions referenced by code are not seeded: %v", missing)
	}
	return nil
}

// Invalidate drops the cached grants of one user. On failure the service stops
// trusting the cache until a later full flush succeeds.
func (s *authorizationService) Invalidate(ctx context.Context, userID uuid.UUID) error {
	if _, err := s.cache.Bump(ctx, grantGenKey(userID)); err != nil {
		return s.failClosed(fmt.Errorf("failed to bump grant version of %s: %w", userID, err))
	}
	if err := s.cache.Delete(ctx, grantKey(userID)); err != nil {
		return s.failClosed(fmt.Errorf("failed to invalidate grants of %s: %w", userID, err))
	}
	return nil
}

func (s *authorizationService) InvalidateAll(ctx context.Context) error {
	if err := s.flush(ctx); err != nil {
		return s.failClosed(err)
	}
	return nil
}

func (s *authorizationService) flush(ctx context.Context) error {
	if _, err := s.cache.Bump(ctx, grantEpochKey); err != nil {
		return fmt.Errorf("failed to bump grant epoch: %w", err)
	}
	if err := s.cache.Clear(ctx, grantKeyPrefix+"*"); err != nil {
		return fmt.Errorf("failed to invalidate grant cache: %w", err)
	}
	return nil
}

func (s *authorizationService) failClosed(err error) error {
	if !s.degraded.Swap(true) {
		log.Error().Err(err).Msg("grant cache invalidation failed, bypassing cache until it recovers")
	}
	alert.Capture(err, map[string]string{"component": "authz_cache"})
	return err
}

// tryRecover flushes every cached grant set, at most once per second, and leaves
// degraded mode when the flush succeeds.
func (s *authorizationService) tryRecover(ctx context.Context) bool {
	if !s.recoverLimit.Allow() {
		return false
	}
	if err := s.flush(ctx); err != nil {
		log.Warn().Err(err).Msg("grant cache still unavailable")
		return false
	}
	s.degraded.Store(false)
	log.Info().Msg("grant cache recovered")
	return true
}
