package service

import (
	"context"
	"errors"
	"fmt"
	"math"
	"time"

	"emrcore/internal/alert"
	"emrcore/internal/metrics"
	"emrcore/internal/model"
	"emrcore/internal/repository"
	"emrcore/pkg/licensekey"

	"github.com/google/uuid"
	"github.com/rs/zerolog/log"
	"github.com/shopspring/decimal"
	"gorm.io/gorm"
)

// --- DTOs ---

type KeyRequest struct {
	Strategy string             `json:"strategy" example:"standard"`
	Options  licensekey.Options `json:"options"`
}

type GenerateKeysRequest struct {
	KeyRequest
	Count int `json:"count" binding:"omitempty,min=1,max=100"`
}

type ValidateKeyRequest struct {
	KeyRequest
	Key string `json:"key" binding:"required"`
}

type IssueLicenseRequest struct {
	ClinicID string `json:"clinic_id" binding:"required,uuid"`
	Plan     string `json:"plan" binding:"required"`
	KeyRequest
}

type RegenerateKeyRequest struct {
	KeyRequest
	Reason string `json:"reason"`
}

type ActivateLicenseRequest struct {
	LicenseKey     string `json:"license_key" binding:"required"`
	ActivationCode string `json:"activation_code" binding:"required"`
}

type UsageReport struct {
	ResourceType model.ResourceType `json:"resource_type"`
	Current      int                `json:"current"`
	Limit        int                `json:"limit"`
	Remaining    int                `json:"remaining"`
	Exceeded     bool               `json:"exceeded"`
	Unlimited    bool               `json:"unlimited"`
}

type LicenseStatusResponse struct {
	Valid         bool                `json:"valid"`
	Status        model.LicenseStatus `json:"status"`
	ExpiresAt     time.Time           `json:"expires_at"`
	DaysRemaining int                 `json:"days_remaining"`
}

type LicenseResponse struct {
	ID          string                `json:"id"`
	ClinicID    string                `json:"clinic_id"`
	LicenseKey  string                `json:"license_key"`
	KeyStrategy string                `json:"key_strategy"`
	Plan        string                `json:"plan"`
	Features    []string              `json:"features"`
	Usage       []UsageReport         `json:"usage"`
	Status      LicenseStatusResponse `json:"status"`
	ActivatedAt *time.Time            `json:"activated_at,omitempty"`
	// AnnualPrice is the plan's monthly price over twelve months.
	AnnualPrice decimal.Decimal `json:"annual_price"`
}

type RegenerateKeyResult struct {
	LicenseID string `json:"license_id"`
	OldKey    string `json:"old_key"`
	NewKey    string `json:"new_key"`
}

type ActivationReason string

const (
	ActivationNotFound    ActivationReason = "not_found"
	ActivationExpired     ActivationReason = "expired"
	ActivationSuspended   ActivationReason = "suspended"
	ActivationInvalidCode ActivationReason = "invalid_code"
	ActivationRateLimited ActivationReason = "rate_limited"
)

// ActivationResult carries a reason whenever Success is false.
type ActivationResult struct {
	Success bool             `json:"success"`
	Reason  ActivationReason `json:"reason,omitempty"`
	License *LicenseResponse `json:"license,omitempty"`
}

// Err maps a failed result onto the matching sentinel error.
func (r *ActivationResult) Err() error {
	switch r.Reason {
	case "":
		return nil
	case ActivationNotFound:
		return fmt.Errorf("license: %w", ErrNotFound)
	case ActivationExpired:
		return ErrLicenseExpired
	case ActivationSuspended:
		return ErrLicenseSuspended
	case ActivationInvalidCode:
		return ErrInvalidActivationCode
	default:
		return ErrRateLimited
	}
}

// --- Interface ---

type LicenseService interface {
	IssueLicense(ctx context.Context, actor *uuid.UUID, req IssueLicenseRequest) (*LicenseResponse, error)
	GetLicense(ctx context.Context, licenseID uuid.UUID) (*LicenseResponse, error)
	GetLicenseByClinic(ctx context.Context, clinicID uuid.UUID) (*LicenseResponse, error)
	KeyHistory(ctx context.Context, licenseID uuid.UUID) ([]model.LicenseKeyHistory, error)

	GenerateKeys(ctx context.Context, req GenerateKeysRequest) ([]string, error)
	ValidateKey(req ValidateKeyRequest) (bool, error)
	ParseKey(key string) licensekey.Parsed
	KeyExists(ctx context.Context, key string) (bool, error)
	RegenerateKey(ctx context.Context, actor *uuid.UUID, licenseID uuid.UUID, req RegenerateKeyRequest) (*RegenerateKeyResult, error)

	CheckUsageLimit(ctx context.Context, licenseID uuid.UUID, rt model.ResourceType) (*UsageReport, error)
	IncrementUsage(ctx context.Context, licenseID uuid.UUID, rt model.ResourceType, amount int) error
	DecrementUsage(ctx context.Context, licenseID uuid.UUID, rt model.ResourceType, amount int) error
	// ConsumeClinicUsage charges the clinic's license, refusing expired or suspended licenses.
	ConsumeClinicUsage(ctx context.Context, clinicID uuid.UUID, rt model.ResourceType, amount int) error
	ReleaseClinicUsage(ctx context.Context, clinicID uuid.UUID, rt model.ResourceType, amount int) error
	ResetMonthlyUsage(ctx context.Context) (int64, error)
	ExpireOverdueLicenses(ctx context.Context) (int64, error)

	GetLicenseStatus(ctx context.Context, licenseID uuid.UUID) (*LicenseStatusResponse, error)
	HasFeature(ctx context.Context, licenseID uuid.UUID, feature string) (bool, error)
	ActivationCode(licenseKey string) string
	ActivateLicense(ctx context.Context, actor *uuid.UUID, req ActivateLicenseRequest) (*ActivationResult, error)
	SuspendLicense(ctx context.Context, actor *uuid.UUID, licenseID uuid.UUID, reason string) (*LicenseResponse, error)
}

type LicenseOption func(*licenseService)

func WithLicenseClock(now func() time.Time) LicenseOption {
	return func(s *licenseService) { s.now = now }
}

func WithEventPublisher(p EventPublisher) LicenseOption {
	return func(s *licenseService) {
		if p != nil {
			s.events = p
		}
	}
}

func WithActivationRateLimit(rps float64, burst int) LicenseOption {
	return func(s *licenseService) { s.limiter = newKeyedLimiter(rps, burst) }
}

// WithKeyDefaults sets the strategy and prefix used when a request leaves them empty.
func WithKeyDefaults(strategy licensekey.Strategy, prefix string) LicenseOption {
	return func(s *licenseService) {
		s.defaultStrategy = strategy
		s.defaultPrefix = prefix
	}
}

type licenseService struct {
	repo      repository.LicenseRepository
	auditRepo repository.AuditRepository
	txManager repository.TransactionManager
	verifier  ActivationVerifier
	authz     AuthorizationService
	generator *licensekey.Generator
	events    EventPublisher
	limiter   *keyedLimiter
	now       func() time.Time

	defaultStrategy licensekey.Strategy
	defaultPrefix   string
}

const trialGracePeriod = 14 * 24 * time.Hour

func NewLicenseService(
	repo repository.LicenseRepository,
	auditRepo repository.AuditRepository,
	txManager repository.TransactionManager,
	verifier ActivationVerifier,
	authz AuthorizationService,
	opts ...LicenseOption,
) LicenseService {
	s := &licenseService{
		repo:            repo,
		auditRepo:       auditRepo,
		txManager:       txManager,
		verifier:        verifier,
		authz:           authz,
		events:          noopPublisher{},
		limiter:         newKeyedLimiter(0.2, 5),
		now:             time.Now,
		defaultStrategy: licensekey.Standard,
		defaultPrefix:   licensekey.DefaultPrefix,
	}
	for _, opt := range opts {
		opt(s)
	}
	s.generator = licensekey.NewGenerator(repo.KeyExists, licensekey.WithClock(s.now))
	return s
}

// --- Keys ---

func (s *licenseService) keySpec(req KeyRequest) (licensekey.Strategy, licensekey.Options, error) {
	strategy := s.defaultStrategy
	if req.Strategy != "" {
		st, err := licensekey.ParseStrategy(req.Strategy)
		if err != nil {
			return "", req.Options, invalid("strategy", "must be one of standard, compact, segmented, custom")
		}
		strategy = st
	}
	opts := req.Options
	if opts.Prefix == "" {
		opts.Prefix = s.defaultPrefix
	}
	return strategy, opts, nil
}

// generate wraps the key generator, translating option errors and alerting on exhaustion.
func (s *licenseService) generate(ctx context.Context, count int, strategy licensekey.Strategy, opts licensekey.Options) ([]string, error) {
	keys, err := s.generator.GenerateMultiple(ctx, count, strategy, opts)
	switch {
	case err == nil:
		metrics.KeysGenerated.WithLabelValues(string(strategy)).Add(float64(len(keys)))
		return keys, nil
	case errors.Is(err, licensekey.ErrInvalidOptions), errors.Is(err, licensekey.ErrUnknownStrategy):
		return nil, invalid("options", "%s", err.Error())
	case errors.Is(err, licensekey.ErrInvalidBatchSize):
		return nil, invalid("count", "must be between 1 and %d", licensekey.MaxBatchSize)
	case errors.Is(err, licensekey.ErrCollisionExhausted):
		metrics.KeyCollisionsExhausted.Inc()
		alert.Capture(err, map[string]string{"component": "licensekey", "strategy": string(strategy)})
		return nil, err
	default:
		return nil, fmt.Errorf("failed to generate license key: %w", err)
	}
}

func (s *licenseService) GenerateKeys(ctx context.Context, req GenerateKeysRequest) ([]string, error) {
	strategy, opts, err := s.keySpec(req.KeyRequest)
	if err != nil {
		return nil, err
	}
	count := req.Count
	if count == 0 {
		count = 1
	}
	return s.generate(ctx, count, strategy, opts)
}

func (s *licenseService) ValidateKey(req ValidateKeyRequest) (bool, error) {
	strategy := s.defaultStrategy
	if req.Strategy != "" {
		st, err := licensekey.ParseStrategy(req.Strategy)
		if err != nil {
			return false, invalid("strategy", "must be one of standard, compact, segmented, custom")
		}
		strategy = st
	}
	return licensekey.ValidateFormat(req.Key, strategy, req.Options), nil
}

func (s *licenseService) ParseKey(key string) licensekey.Parsed {
	return licensekey.Parse(key)
}

func (s *licenseService) KeyExists(ctx context.Context, key string) (bool, error) {
	ok, err := s.repo.KeyExists(ctx, key)
	if err != nil {
		return false, fmt.Errorf("failed to look up license key: %w", err)
	}
	return ok, nil
}

func (s *licenseService) RegenerateKey(ctx context.Context, actor *uuid.UUID, licenseID uuid.UUID, req RegenerateKeyRequest) (*RegenerateKeyResult, error) {
	strategy, opts, err := s.keySpec(req.KeyRequest)
	if err != nil {
		return nil, err
	}

	var result RegenerateKeyResult
	var clinicID uuid.UUID
	err = s.txManager.RunInTx(ctx, func(txCtx context.Context) error {
		license, err := s.repo.FindByIDForUpdate(txCtx, licenseID)
		if err != nil {
			return notFound(err, "license")
		}

		keys, err := s.generate(txCtx, 1, strategy, opts)
		if err != nil {
			return err
		}
		oldKey, newKey := license.LicenseKey, keys[0]

		license.LicenseKey = newKey
		license.KeyStrategy = string(strategy)
		if err := s.repo.Update(txCtx, license); err != nil {
			return fmt.Errorf("failed to store new license key: %w", err)
		}
		if err := s.repo.CreateKeyHistory(txCtx, &model.LicenseKeyHistory{
			LicenseID: license.ID,
			OldKey:    oldKey,
			NewKey:    newKey,
			Strategy:  string(strategy),
			Reason:    req.Reason,
			ChangedBy: actor,
		}); err != nil {
			return fmt.Errorf("failed to record key history: %w", err)
		}
		if err := recordAudit(txCtx, s.auditRepo, actor, &license.ClinicID, model.ActionRegenerateKey,
			license.ID.String(), licensekey.Mask(newKey), map[string]string{
				"old_key": licensekey.Mask(oldKey),
				"new_key": licensekey.Mask(newKey),
				"reason":  req.Reason,
			}); err != nil {
			return fmt.Errorf("failed to create audit log: %w", err)
		}

		clinicID = license.ClinicID
		result = RegenerateKeyResult{LicenseID: license.ID.String(), OldKey: oldKey, NewKey: newKey}
		return nil
	})
	if err != nil {
		return nil, err
	}

	log.Info().
		Str("license_id", result.LicenseID).
		Str("old_key", licensekey.Mask(result.OldKey)).
		Str("new_key", licensekey.Mask(result.NewKey)).
		Msg("license key regenerated")
	s.events.Publish(Event{Type: EventKeyRegenerated, ClinicID: clinicID, Payload: map[string]string{"license_id": result.LicenseID}})
	return &result, nil
}

// --- Lifecycle ---

func (s *licenseService) IssueLicense(ctx context.Context, actor *uuid.UUID, req IssueLicenseRequest) (*LicenseResponse, error) {
	clinicID, err := parseID("clinic_id", req.ClinicID)
	if err != nil {
		return nil, err
	}
	plan, ok := model.LookupPlan(req.Plan)
	if !ok {
		return nil, invalid("plan", "unknown plan %q", req.Plan)
	}
	strategy, opts, err := s.keySpec(req.KeyRequest)
	if err != nil {
		return nil, err
	}

	var license *model.License
	err = s.txManager.RunInTx(ctx, func(txCtx context.Context) error {
		if _, err := s.repo.FindByClinicID(txCtx, clinicID); err == nil {
			return ErrLicenseExists
		} else if !errors.Is(err, gorm.ErrRecordNotFound) {
			return fmt.Errorf("failed to check existing license: %w", err)
		}

		keys, err := s.generate(txCtx, 1, strategy, opts)
		if err != nil {
			return err
		}
		license = s.newLicense(clinicID, plan, keys[0], strategy)
		if err := s.repo.Create(txCtx, license); errors.Is(err, repository.ErrClinicLicensed) {
			// A concurrent issue won between the check above and the insert.
			return ErrLicenseExists
		} else if err != nil {
			return fmt.Errorf("failed to create license: %w", err)
		}
		return recordAudit(txCtx, s.auditRepo, actor, &clinicID, model.ActionIssueLicense,
			license.ID.String(), licensekey.Mask(license.LicenseKey), map[string]string{"plan": plan.Name})
	})
	if err != nil {
		return nil, err
	}
	return s.toLicenseResponse(license), nil
}

// newLicense starts every license in trial. Paid plans get their full term on activation.
func (s *licenseService) newLicense(clinicID uuid.UUID, plan model.Plan, key string, strategy licensekey.Strategy) *model.License {
	now := s.now()
	expires := now.Add(trialGracePeriod)
	if plan.Name == model.PlanTrial {
		expires = now.Add(plan.Duration)
	}

	usages := make([]model.LicenseUsage, 0, len(model.ResourceTypes))
	for _, rt := range model.ResourceTypes {
		u := model.LicenseUsage{
			ResourceType: rt,
			UsageLimit:   plan.Limits[rt],
			Monthly:      rt.IsMonthly(),
			PeriodStart:  monthStart(now),
		}
		if rt == model.ResourceClinics {
			u.CurrentUsage = 1
		}
		usages = append(usages, u)
	}

	return &model.License{
		ClinicID:    clinicID,
		LicenseKey:  key,
		KeyStrategy: string(strategy),
		Plan:        plan.Name,
		Status:      model.LicenseStatusTrial,
		Features:    append([]string(nil), plan.Features...),
		ExpiresAt:   expires,
		Usages:      usages,
	}
}

func (s *licenseService) GetLicense(ctx context.Context, licenseID uuid.UUID) (*LicenseResponse, error) {
	license, err := s.repo.FindByID(ctx, licenseID)
	if err != nil {
		return nil, notFound(err, "license")
	}
	return s.toLicenseResponse(license), nil
}

func (s *licenseService) GetLicenseByClinic(ctx context.Context, clinicID uuid.UUID) (*LicenseResponse, error) {
	license, err := s.repo.FindByClinicID(ctx, clinicID)
	if err != nil {
		return nil, notFound(err, "license")
	}
	return s.toLicenseResponse(license), nil
}

func (s *licenseService) KeyHistory(ctx context.Context, licenseID uuid.UUID) ([]model.LicenseKeyHistory, error) {
	if _, err := s.repo.FindByID(ctx, licenseID); err != nil {
		return nil, notFound(err, "license")
	}
	return s.repo.ListKeyHistory(ctx, licenseID)
}

func (s *licenseService) GetLicenseStatus(ctx context.Context, licenseID uuid.UUID) (*LicenseStatusResponse, error) {
	license, err := s.repo.FindByID(ctx, licenseID)
	if err != nil {
		return nil, notFound(err, "license")
	}
	status := effectiveStatus(license, s.now())
	return &status, nil
}

// effectiveStatus reports validity without mutating the stored status.
func effectiveStatus(l *model.License, now time.Time) LicenseStatusResponse {
	live := l.Status == model.LicenseStatusActive || l.Status == model.LicenseStatusTrial
	res := LicenseStatusResponse{
		Valid:     live && now.Before(l.ExpiresAt),
		Status:    l.Status,
		ExpiresAt: l.ExpiresAt,
	}
	if now.Before(l.ExpiresAt) {
		res.DaysRemaining = int(math.Ceil(l.ExpiresAt.Sub(now).Hours() / 24))
	}
	return res
}

func (s *licenseService) HasFeature(ctx context.Context, licenseID uuid.UUID, feature string) (bool, error) {
	license, err := s.repo.FindByID(ctx, licenseID)
	if err != nil {
		return false, notFound(err, "license")
	}
	for _, f := range license.Features {
		if f == feature {
			return true, nil
		}
	}
	return false, nil
}

func (s *licenseService) ActivationCode(licenseKey string) string {
	return s.verifier.Code(licenseKey)
}

func (s *licenseService) ActivateLicense(ctx context.Context, actor *uuid.UUID, req ActivateLicenseRequest) (*ActivationResult, error) {
	fail := func(reason ActivationReason) (*ActivationResult, error) {
		metrics.Activations.WithLabelValues(string(reason)).Inc()
		log.Info().Str("license_key", licensekey.Mask(req.LicenseKey)).Str("reason", string(reason)).Msg("license activation rejected")
		return &ActivationResult{Success: false, Reason: reason}, nil
	}

	if !s.limiter.Allow(req.LicenseKey) {
		return fail(ActivationRateLimited)
	}

	var license *model.License
	var reason ActivationReason
	err := s.txManager.RunInTx(ctx, func(txCtx context.Context) error {
		found, err := s.repo.FindByKey(txCtx, req.LicenseKey)
		if errors.Is(err, gorm.ErrRecordNotFound) {
			reason = ActivationNotFound
			return nil
		}
		if err != nil {
			return fmt.Errorf("failed to load license: %w", err)
		}
		// The key names the clinic; the caller must manage licenses there.
		if actor == nil {
			return ErrUnauthenticated
		}
		if err := s.authz.RequirePermissionInClinic(txCtx, &Principal{UserID: *actor}, model.PermLicenseManage, found.ClinicID); err != nil {
			return err
		}
		locked, err := s.repo.FindByIDForUpdate(txCtx, found.ID)
		if err != nil {
			return fmt.Errorf("failed to lock license: %w", err)
		}

		now := s.now()
		switch {
		case locked.Status == model.LicenseStatusSuspended:
			reason = ActivationSuspended
			return nil
		case locked.Status == model.LicenseStatusExpired || !now.Before(locked.ExpiresAt):
			reason = ActivationExpired
			return nil
		case !s.verifier.Verify(locked.LicenseKey, req.ActivationCode):
			reason = ActivationInvalidCode
			return nil
		}

		if locked.Status != model.LicenseStatusActive {
			locked.Status = model.LicenseStatusActive
			locked.ActivatedAt = &now
			if plan, ok := model.LookupPlan(locked.Plan); ok && plan.Name != model.PlanTrial {
				locked.ExpiresAt = now.Add(plan.Duration)
			}
			if err := s.repo.Update(txCtx, locked); err != nil {
				return fmt.Errorf("failed to activate license: %w", err)
			}
			if err := recordAudit(txCtx, s.auditRepo, actor, &locked.ClinicID, model.ActionActivateLicense,
				locked.ID.String(), licensekey.Mask(locked.LicenseKey), map[string]string{"plan": locked.Plan}); err != nil {
				return fmt.Errorf("failed to create audit log: %w", err)
			}
		}
		license = locked
		return nil
	})
	if err != nil {
		return nil, err
	}
	if reason != "" {
		return fail(reason)
	}

	metrics.Activations.WithLabelValues("success").Inc()
	s.events.Publish(Event{Type: EventLicenseActivated, ClinicID: license.ClinicID, Payload: map[string]string{"license_id": license.ID.String()}})
	return &ActivationResult{Success: true, License: s.toLicenseResponse(license)}, nil
}

func (s *licenseService) SuspendLicense(ctx context.Context, actor *uuid.UUID, licenseID uuid.UUID, reason string) (*LicenseResponse, error) {
	var license *model.License
	err := s.txManager.RunInTx(ctx, func(txCtx context.Context) error {
		l, err := s.repo.FindByIDForUpdate(txCtx, licenseID)
		if err != nil {
			return notFound(err, "license")
		}
		l.Status = model.LicenseStatusSuspended
		if err := s.repo.Update(txCtx, l); err != nil {
			return fmt.Errorf("failed to suspend license: %w", err)
		}
		license = l
		return recordAudit(txCtx, s.auditRepo, actor, &l.ClinicID, model.ActionSuspendLicense,
			l.ID.String(), licensekey.Mask(l.LicenseKey), map[string]string{"reason": reason})
	})
	if err != nil {
		return nil, err
	}
	s.events.Publish(Event{Type: EventLicenseSuspended, ClinicID: license.ClinicID, Payload: map[string]string{"reason": reason}})
	return s.toLicenseResponse(license), nil
}

func (s *licenseService) ExpireOverdueLicenses(ctx context.Context) (int64, error) {
	n, err := s.repo.ExpireOverdue(ctx, s.now())
	if err != nil {
		return 0, fmt.Errorf("failed to expire licenses: %w", err)
	}
	if n > 0 {
		log.Info().Int64("licenses", n).Msg("expired overdue licenses")
	}
	return n, nil
}

// --- Usage ---

func checkUsageArgs(rt model.ResourceType, amount int) error {
	if _, err := model.ParseResourceType(string(rt)); err != nil {
		return invalid("resource_type", "%s", err.Error())
	}
	if amount < 1 {
		return invalid("amount", "must be at least 1")
	}
	return nil
}

func usageReport(u *model.LicenseUsage) *UsageReport {
	r := &UsageReport{ResourceType: u.ResourceType, Current: u.CurrentUsage, Limit: u.UsageLimit}
	if u.UsageLimit < 0 {
		r.Unlimited = true
		r.Remaining = -1
		return r
	}
	r.Remaining = u.UsageLimit - u.CurrentUsage
	if r.Remaining < 0 {
		r.Remaining = 0
	}
	r.Exceeded = u.CurrentUsage >= u.UsageLimit
	return r
}

func (s *licenseService) CheckUsageLimit(ctx context.Context, licenseID uuid.UUID, rt model.ResourceType) (*UsageReport, error) {
	if err := checkUsageArgs(rt, 1); err != nil {
		return nil, err
	}
	u, err := s.repo.FindUsage(ctx, licenseID, rt)
	if err != nil {
		return nil, notFound(err, "license usage")
	}
	return usageReport(u), nil
}

func (s *licenseService) IncrementUsage(ctx context.Context, licenseID uuid.UUID, rt model.ResourceType, amount int) error {
	if err := checkUsageArgs(rt, amount); err != nil {
		return err
	}
	ok, err := s.repo.IncrementUsage(ctx, licenseID, rt, amount)
	if err != nil {
		return fmt.Errorf("failed to increment usage: %w", err)
	}
	if ok {
		return nil
	}

	u, err := s.repo.FindUsage(ctx, licenseID, rt)
	if err != nil {
		return notFound(err, "license usage")
	}
	metrics.UsageRejections.WithLabelValues(string(rt)).Inc()
	if license, err := s.repo.FindByID(ctx, licenseID); err == nil {
		s.events.Publish(Event{Type: EventUsageLimitReached, ClinicID: license.ClinicID, Payload: usageReport(u)})
	}
	return &UsageLimitError{ResourceType: rt, Current: u.CurrentUsage, Limit: u.UsageLimit, Requested: amount}
}

func (s *licenseService) DecrementUsage(ctx context.Context, licenseID uuid.UUID, rt model.ResourceType, amount int) error {
	if err := checkUsageArgs(rt, amount); err != nil {
		return err
	}
	ok, err := s.repo.DecrementUsage(ctx, licenseID, rt, amount)
	if err != nil {
		return fmt.Errorf("failed to decrement usage: %w", err)
	}
	if ok {
		return nil
	}
	if _, err := s.repo.FindUsage(ctx, licenseID, rt); err != nil {
		return notFound(err, "license usage")
	}
	return ErrUsageUnderflow
}

func (s *licenseService) ConsumeClinicUsage(ctx context.Context, clinicID uuid.UUID, rt model.ResourceType, amount int) error {
	license, err := s.repo.FindByClinicID(ctx, clinicID)
	if err != nil {
		return notFound(err, "license")
	}
	if status := effectiveStatus(license, s.now()); !status.Valid {
		if license.Status == model.LicenseStatusSuspended {
			return ErrLicenseSuspended
		}
		return ErrLicenseExpired
	}
	return s.IncrementUsage(ctx, license.ID, rt, amount)
}

func (s *licenseService) ReleaseClinicUsage(ctx context.Context, clinicID uuid.UUID, rt model.ResourceType, amount int) error {
	license, err := s.repo.FindByClinicID(ctx, clinicID)
	if err != nil {
		return notFound(err, "license")
	}
	return s.DecrementUsage(ctx, license.ID, rt, amount)
}

func (s *licenseService) ResetMonthlyUsage(ctx context.Context) (int64, error) {
	n, err := s.repo.ResetMonthlyUsage(ctx, monthStart(s.now()))
	if err != nil {
		return 0, fmt.Errorf("failed to reset monthly usage: %w", err)
	}
	if n > 0 {
		log.Info().Int64("counters", n).Msg("monthly usage counters reset")
	}
	return n, nil
}

func monthStart(t time.Time) time.Time {
	t = t.UTC()
	return time.Date(t.Year(), t.Month(), 1, 0, 0, 0, 0, time.UTC)
}

// --- Helpers ---

func (s *licenseService) toLicenseResponse(l *model.License) *LicenseResponse {
	usage := make([]UsageReport, 0, len(l.Usages))
	for i := range l.Usages {
		usage = append(usage, *usageReport(&l.Usages[i]))
	}
	features := []string(l.Features)
	if features == nil {
		features = []string{}
	}
	return &LicenseResponse{
		ID:          l.ID.String(),
		ClinicID:    l.ClinicID.String(),
		LicenseKey:  l.LicenseKey,
		KeyStrategy: l.KeyStrategy,
		Plan:        l.Plan,
		Features:    features,
		Usage:       usage,
		Status:      effectiveStatus(l, s.now()),
		ActivatedAt: l.ActivatedAt,
		AnnualPrice: annualPrice(l.Plan),
	}
}

func annualPrice(plan string) decimal.Decimal {
	p, ok := model.LookupPlan(plan)
	if !ok {
		return decimal.Zero
	}
	return p.TotalPrice(12)
}
