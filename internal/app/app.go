// Package app assembles repositories and services from configuration. Both the API
// server and emrctl start from here.
package app

import (
	"context"
	"fmt"
	"time"

	"emrcore/internal/cache"
	"emrcore/internal/config"
	"emrcore/internal/database"
	"emrcore/internal/model"
	"emrcore/internal/repository"
	"emrcore/internal/service"
	"emrcore/pkg/licensekey"

	"github.com/rs/zerolog/log"
	"gorm.io/gorm"
)

type App struct {
	Config *config.Config
	DB     *gorm.DB
	Cache  cache.Cache
	Tokens *service.Tokens

	Authz    service.AuthorizationService
	Roles    service.RoleService
	Users    service.UserService
	Clinics  service.ClinicService
	Patients service.PatientService
	Licenses service.LicenseService
	Audit    service.AuditService
}

// New connects to PostgreSQL, migrates, and wires every service. events may be nil.
func New(ctx context.Context, cfg *config.Config, events service.EventPublisher) (*App, error) {
	db, err := database.NewConnection(cfg.Database)
	if err != nil {
		return nil, err
	}
	if err := database.Migrate(db); err != nil {
		return nil, fmt.Errorf("failed to migrate database: %w", err)
	}

	c, err := newCache(ctx, cfg.Redis)
	if err != nil {
		return nil, err
	}

	strategy, err := licensekey.ParseStrategy(cfg.License.DefaultStrategy)
	if err != nil {
		return nil, fmt.Errorf("LICENSE_KEY_STRATEGY: %w", err)
	}

	userRepo := repository.NewUserRepository(db)
	roleRepo := repository.NewRoleRepository(db)
	membershipRepo := repository.NewMembershipRepository(db)
	clinicRepo := repository.NewClinicRepository(db)
	licenseRepo := repository.NewLicenseRepository(db)
	patientRepo := repository.NewPatientRepository(db)
	auditRepo := repository.NewAuditRepository(db)
	txManager := repository.NewTransactionManager(db)

	tokens := service.NewTokens(cfg.Auth.JWTSecret, cfg.Auth.AccessTokenTTL, cfg.Auth.RefreshTokenTTL)
	authz := service.NewAuthorizationService(membershipRepo, roleRepo, c, cfg.Auth.GrantCacheTTL)
	licenses := service.NewLicenseService(licenseRepo, auditRepo, txManager,
		service.NewHMACActivation(cfg.License.ActivationSecret),
		authz,
		service.WithEventPublisher(events),
		service.WithActivationRateLimit(cfg.License.ActivationRateLimit, cfg.License.ActivationBurst),
		service.WithKeyDefaults(strategy, cfg.License.KeyPrefix),
	)

	return &App{
		Config:   cfg,
		DB:       db,
		Cache:    c,
		Tokens:   tokens,
		Authz:    authz,
		Roles:    service.NewRoleService(roleRepo, auditRepo, txManager, authz),
		Licenses: licenses,
		Clinics:  service.NewClinicService(clinicRepo, membershipRepo, roleRepo, auditRepo, txManager, licenses, authz),
		Patients: service.NewPatientService(patientRepo, auditRepo, txManager, licenses, authz),
		Audit:    service.NewAuditService(auditRepo),
		Users: service.NewUserService(service.UserServiceDeps{
			Users:       userRepo,
			Memberships: membershipRepo,
			Roles:       roleRepo,
			Audit:       auditRepo,
			TxManager:   txManager,
			LicenseSvc:  licenses,
			Authz:       authz,
			Tokens:      tokens,
			Events:      events,
		}),
	}, nil
}

func newCache(ctx context.Context, cfg config.RedisConfig) (cache.Cache, error) {
	if cfg.Addr == "" {
		log.Info().Msg("grant cache: in-memory")
		return cache.NewMemoryCache(time.Minute), nil
	}
	c, err := cache.NewRedisCache(ctx, cache.RedisOptions{Addr: cfg.Addr, Password: cfg.Password, DB: cfg.DB})
	if err != nil {
		return nil, fmt.Errorf("failed to connect to redis: %w", err)
	}
	log.Info().Str("addr", cfg.Addr).Msg("grant cache: redis")
	return c, nil
}

// Bootstrap seeds the default roles and checks every permission the code references exists.
func (a *App) Bootstrap(ctx context.Context) error {
	if err := a.Roles.SeedDefaultRolesAndPermissions(ctx); err != nil {
		return fmt.Errorf("failed to seed roles: %w", err)
	}
	return a.Authz.VerifyPermissionCatalog(ctx, model.ReferencedPermissions())
}

func (a *App) Close() {
	if err := a.Cache.Close(); err != nil {
		log.Warn().Err(err).Msg("failed to close cache")
	}
	if sqlDB, err := a.DB.DB(); err == nil {
		_ = sqlDB.Close()
	}
}
