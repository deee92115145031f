package service

import (
	"context"
	"sort"
	"strings"
	"sync"
	"time"

	"emrcore/internal/cache"
	"emrcore/internal/model"
	"emrcore/internal/repository"

	"github.com/google/uuid"
	"github.com/stretchr/testify/mock"
	"github.com/stretchr/testify/require"
	"gorm.io/gorm"
)

// MockPublisher records published events.
type MockPublisher struct {
	mock.Mock
}

func (m *MockPublisher) Publish(event Event) {
	m.Called(event)
}

// store is an in-memory stand-in for the database shared by all fake repositories.
type store struct {
	mu          sync.Mutex
	users       map[uuid.UUID]*model.User
	tokens      map[string]*model.RefreshToken
	clinics     map[uuid.UUID]*model.Clinic
	memberships []*model.ClinicMembership
	roles       map[uuid.UUID]*model.Role
	permissions map[uuid.UUID]model.Permission
	licenses    map[uuid.UUID]*model.License
	usages      map[uuid.UUID]map[model.ResourceType]*model.LicenseUsage
	history     []model.LicenseKeyHistory
	patients    map[uuid.UUID]*model.Patient
	audit       []model.AuditLog
}

func newStore() *store {
	return &store{
		users:       map[uuid.UUID]*model.User{},
		tokens:      map[string]*model.RefreshToken{},
		clinics:     map[uuid.UUID]*model.Clinic{},
		roles:       map[uuid.UUID]*model.Role{},
		permissions: map[uuid.UUID]model.Permission{},
		licenses:    map[uuid.UUID]*model.License{},
		usages:      map[uuid.UUID]map[model.ResourceType]*model.LicenseUsage{},
		patients:    map[uuid.UUID]*model.Patient{},
	}
}

type fakeTx struct{}

func (fakeTx) RunInTx(ctx context.Context, fn func(context.Context) error) error { return fn(ctx) }

var _ repository.TransactionManager = fakeTx{}

// --- roles ---

type fakeRoles struct{ s *store }

func (f fakeRoles) Create(_ context.Context, role *model.Role) error {
	f.s.mu.Lock()
	defer f.s.mu.Unlock()
	if role.ID == uuid.Nil {
		role.ID = uuid.New()
	}
	role.CreatedAt = time.Now()
	cp := *role
	f.s.roles[role.ID] = &cp
	return nil
}

func (f fakeRoles) Update(_ context.Context, role *model.Role) error {
	f.s.mu.Lock()
	defer f.s.mu.Unlock()
	existing := f.s.roles[role.ID]
	existing.Name, existing.Description = role.Name, role.Description
	return nil
}

func (f fakeRoles) Delete(_ context.Context, role *model.Role) error {
	f.s.mu.Lock()
	defer f.s.mu.Unlock()
	delete(f.s.roles, role.ID)
	return nil
}

func (f fakeRoles) FindByID(_ context.Context, id uuid.UUID) (*model.Role, error) {
	f.s.mu.Lock()
	defer f.s.mu.Unlock()
	r, ok := f.s.roles[id]
	if !ok {
		return nil, gorm.ErrRecordNotFound
	}
	cp := *r
	return &cp, nil
}

func (f fakeRoles) FindByName(_ context.Context, name string) (*model.Role, error) {
	f.s.mu.Lock()
	defer f.s.mu.Unlock()
	for _, r := range f.s.roles {
		if r.Name == name {
			cp := *r
			return &cp, nil
		}
	}
	return nil, gorm.ErrRecordNotFound
}

func (f fakeRoles) ListAll(_ context.Context) ([]model.Role, error) {
	f.s.mu.Lock()
	defer f.s.mu.Unlock()
	out := make([]model.Role, 0, len(f.s.roles))
	for _, r := range f.s.roles {
		out = append(out, *r)
	}
	sort.Slice(out, func(i, j int) bool { return out[i].Name < out[j].Name })
	return out, nil
}

func (f fakeRoles) ListForClinic(ctx context.Context, clinicID uuid.UUID) ([]model.Role, error) {
	all, _ := f.ListAll(ctx)
	out := all[:0]
	for _, r := range all {
		if r.ClinicID == nil || *r.ClinicID == clinicID {
			out = append(out, r)
		}
	}
	return out, nil
}

func (f fakeRoles) ListPermissions(_ context.Context) ([]model.Permission, error) {
	f.s.mu.Lock()
	defer f.s.mu.Unlock()
	out := make([]model.Permission, 0, len(f.s.permissions))
	for _, p := range f.s.permissions {
		out = append(out, p)
	}
	return out, nil
}

func (f fakeRoles) FindPermissionsByIDs(_ context.Context, ids []uuid.UUID) ([]model.Permission, error) {
	f.s.mu.Lock()
	defer f.s.mu.Unlock()
	var out []model.Permission
	for _, id := range ids {
		if p, ok := f.s.permissions[id]; ok {
			out = append(out, p)
		}
	}
	return out, nil
}

func (f fakeRoles) ReplacePermissions(_ context.Context, role *model.Role, perms []model.Permission) error {
	f.s.mu.Lock()
	defer f.s.mu.Unlock()
	f.s.roles[role.ID].Permissions = append([]model.Permission(nil), perms...)
	role.Permissions = perms
	return nil
}

func (f fakeRoles) CountMemberships(_ context.Context, roleID uuid.UUID) (int64, error) {
	f.s.mu.Lock()
	defer f.s.mu.Unlock()
	var n int64
	for _, m := range f.s.memberships {
		if m.RoleID == roleID {
			n++
		}
	}
	return n, nil
}

func (f fakeRoles) UpsertPermission(_ context.Context, perm *model.Permission) error {
	f.s.mu.Lock()
	defer f.s.mu.Unlock()
	for id, p := range f.s.permissions {
		if p.Name == perm.Name {
			perm.ID = id
			f.s.permissions[id] = *perm
			return nil
		}
	}
	perm.ID = uuid.New()
	f.s.permissions[perm.ID] = *perm
	return nil
}

func (f fakeRoles) PermissionNames(_ context.Context) ([]string, error) {
	f.s.mu.Lock()
	defer f.s.mu.Unlock()
	var out []string
	for _, p := range f.s.permissions {
		out = append(out, p.Name)
	}
	return out, nil
}

// --- memberships ---

type fakeMemberships struct{ s *store }

func (f fakeMemberships) Create(_ context.Context, m *model.ClinicMembership) error {
	f.s.mu.Lock()
	defer f.s.mu.Unlock()
	m.ID = uuid.New()
	cp := *m
	f.s.memberships = append(f.s.memberships, &cp)
	return nil
}

func (f fakeMemberships) Find(_ context.Context, userID, clinicID uuid.UUID) (*model.ClinicMembership, error) {
	f.s.mu.Lock()
	defer f.s.mu.Unlock()
	for _, m := range f.s.memberships {
		if m.UserID == userID && m.ClinicID == clinicID {
			cp := *m
			return &cp, nil
		}
	}
	return nil, gorm.ErrRecordNotFound
}

func (f fakeMemberships) Delete(_ context.Context, m *model.ClinicMembership) error {
	f.s.mu.Lock()
	defer f.s.mu.Unlock()
	kept := f.s.memberships[:0]
	for _, existing := range f.s.memberships {
		if existing.ID != m.ID {
			kept = append(kept, existing)
		}
	}
	f.s.memberships = kept
	return nil
}

func (f fakeMemberships) ListForUser(_ context.Context, userID uuid.UUID) ([]model.ClinicMembership, error) {
	f.s.mu.Lock()
	defer f.s.mu.Unlock()
	var out []model.ClinicMembership
	for _, m := range f.s.memberships {
		if m.UserID != userID {
			continue
		}
		cp := *m
		if c, ok := f.s.clinics[m.ClinicID]; ok {
			cp.Clinic = c
		}
		if r, ok := f.s.roles[m.RoleID]; ok {
			role := *r
			cp.Role = &role
		}
		out = append(out, cp)
	}
	return out, nil
}

func (f fakeMemberships) ListForClinic(_ context.Context, clinicID uuid.UUID) ([]model.ClinicMembership, error) {
	f.s.mu.Lock()
	defer f.s.mu.Unlock()
	var out []model.ClinicMembership
	for _, m := range f.s.memberships {
		if m.ClinicID == clinicID {
			cp := *m
			cp.Role = f.s.roles[m.RoleID]
			out = append(out, cp)
		}
	}
	return out, nil
}

// --- licenses ---

type fakeLicenses struct{ s *store }

func (f fakeLicenses) Create(_ context.Context, l *model.License) error {
	f.s.mu.Lock()
	defer f.s.mu.Unlock()
	for _, existing := range f.s.licenses {
		if existing.ClinicID == l.ClinicID {
			return repository.ErrClinicLicensed
		}
	}
	l.ID = uuid.New()
	rows := map[model.ResourceType]*model.LicenseUsage{}
	for i := range l.Usages {
		l.Usages[i].ID = uuid.New()
		l.Usages[i].LicenseID = l.ID
		u := l.Usages[i]
		rows[u.ResourceType] = &u
	}
	f.s.usages[l.ID] = rows
	cp := *l
	cp.Usages = nil
	f.s.licenses[l.ID] = &cp
	return nil
}

func (f fakeLicenses) load(id uuid.UUID) (*model.License, error) {
	l, ok := f.s.licenses[id]
	if !ok {
		return nil, gorm.ErrRecordNotFound
	}
	cp := *l
	for _, rt := range model.ResourceTypes {
		if u, ok := f.s.usages[id][rt]; ok {
			cp.Usages = append(cp.Usages, *u)
		}
	}
	return &cp, nil
}

func (f fakeLicenses) FindByID(_ context.Context, id uuid.UUID) (*model.License, error) {
	f.s.mu.Lock()
	defer f.s.mu.Unlock()
	return f.load(id)
}

func (f fakeLicenses) FindByIDForUpdate(ctx context.Context, id uuid.UUID) (*model.License, error) {
	return f.FindByID(ctx, id)
}

func (f fakeLicenses) FindByClinicID(_ context.Context, clinicID uuid.UUID) (*model.License, error) {
	f.s.mu.Lock()
	defer f.s.mu.Unlock()
	for id, l := range f.s.licenses {
		if l.ClinicID == clinicID {
			return f.load(id)
		}
	}
	return nil, gorm.ErrRecordNotFound
}

func (f fakeLicenses) FindByKey(_ context.Context, key string) (*model.License, error) {
	f.s.mu.Lock()
	defer f.s.mu.Unlock()
	for id, l := range f.s.licenses {
		if l.LicenseKey == key {
			return f.load(id)
		}
	}
	return nil, gorm.ErrRecordNotFound
}

func (f fakeLicenses) Update(_ context.Context, l *model.License) error {
	f.s.mu.Lock()
	defer f.s.mu.Unlock()
	cp := *l
	cp.Usages = nil
	f.s.licenses[l.ID] = &cp
	return nil
}

func (f fakeLicenses) KeyExists(_ context.Context, key string) (bool, error) {
	f.s.mu.Lock()
	defer f.s.mu.Unlock()
	for _, l := range f.s.licenses {
		if l.LicenseKey == key {
			return true, nil
		}
	}
	for _, h := range f.s.history {
		if h.OldKey == key {
			return true, nil
		}
	}
	return false, nil
}

func (f fakeLicenses) CreateKeyHistory(_ context.Context, h *model.LicenseKeyHistory) error {
	f.s.mu.Lock()
	defer f.s.mu.Unlock()
	h.ID = uuid.New()
	f.s.history = append(f.s.history, *h)
	return nil
}

func (f fakeLicenses) ListKeyHistory(_ context.Context, licenseID uuid.UUID) ([]model.LicenseKeyHistory, error) {
	f.s.mu.Lock()
	defer f.s.mu.Unlock()
	var out []model.LicenseKeyHistory
	for _, h := range f.s.history {
		if h.LicenseID == licenseID {
			out = append(out, h)
		}
	}
	return out, nil
}

func (f fakeLicenses) ExpireOverdue(_ context.Context, now time.Time) (int64, error) {
	f.s.mu.Lock()
	defer f.s.mu.Unlock()
	var n int64
	for _, l := range f.s.licenses {
		live := l.Status == model.LicenseStatusActive || l.Status == model.LicenseStatusTrial
		if live && !l.ExpiresAt.After(now) {
			l.Status = model.LicenseStatusExpired
			n++
		}
	}
	return n, nil
}

func (f fakeLicenses) FindUsage(_ context.Context, licenseID uuid.UUID, rt model.ResourceType) (*model.LicenseUsage, error) {
	f.s.mu.Lock()
	defer f.s.mu.Unlock()
	u, ok := f.s.usages[licenseID][rt]
	if !ok {
		return nil, gorm.ErrRecordNotFound
	}
	cp := *u
	return &cp, nil
}

func (f fakeLicenses) ListUsage(_ context.Context, licenseID uuid.UUID) ([]model.LicenseUsage, error) {
	l, err := f.FindByID(context.Background(), licenseID)
	if err != nil {
		return nil, err
	}
	return l.Usages, nil
}

// IncrementUsage applies the same predicate as the conditional UPDATE, under one lock.
func (f fakeLicenses) IncrementUsage(_ context.Context, licenseID uuid.UUID, rt model.ResourceType, amount int) (bool, error) {
	f.s.mu.Lock()
	defer f.s.mu.Unlock()
	u, ok := f.s.usages[licenseID][rt]
	if !ok {
		return false, nil
	}
	if u.UsageLimit >= 0 && u.CurrentUsage+amount > u.UsageLimit {
		return false, nil
	}
	u.CurrentUsage += amount
	return true, nil
}

func (f fakeLicenses) DecrementUsage(_ context.Context, licenseID uuid.UUID, rt model.ResourceType, amount int) (bool, error) {
	f.s.mu.Lock()
	defer f.s.mu.Unlock()
	u, ok := f.s.usages[licenseID][rt]
	if !ok || u.CurrentUsage < amount {
		return false, nil
	}
	u.CurrentUsage -= amount
	return true, nil
}

func (f fakeLicenses) ResetMonthlyUsage(_ context.Context, periodStart time.Time) (int64, error) {
	f.s.mu.Lock()
	defer f.s.mu.Unlock()
	var n int64
	for _, rows := range f.s.usages {
		for _, u := range rows {
			if u.Monthly && u.PeriodStart.Before(periodStart) {
				u.CurrentUsage = 0
				u.PeriodStart = periodStart
				n++
			}
		}
	}
	return n, nil
}

// --- users, clinics, patients, audit ---

type fakeUsers struct{ s *store }

func (f fakeUsers) Create(_ context.Context, u *model.User) error {
	f.s.mu.Lock()
	defer f.s.mu.Unlock()
	u.ID = uuid.New()
	u.CreatedAt = time.Now()
	cp := *u
	f.s.users[u.ID] = &cp
	return nil
}

func (f fakeUsers) GetByID(_ context.Context, id uuid.UUID) (*model.User, error) {
	f.s.mu.Lock()
	defer f.s.mu.Unlock()
	u, ok := f.s.users[id]
	if !ok {
		return nil, gorm.ErrRecordNotFound
	}
	cp := *u
	return &cp, nil
}

func (f fakeUsers) find(match func(*model.User) bool) (*model.User, error) {
	f.s.mu.Lock()
	defer f.s.mu.Unlock()
	for _, u := range f.s.users {
		if match(u) {
			cp := *u
			return &cp, nil
		}
	}
	return nil, gorm.ErrRecordNotFound
}

func (f fakeUsers) GetByEmail(_ context.Context, email string) (*model.User, error) {
	return f.find(func(u *model.User) bool { return strings.EqualFold(u.Email, email) })
}

func (f fakeUsers) GetByUsername(_ context.Context, username string) (*model.User, error) {
	return f.find(func(u *model.User) bool { return u.Username == username })
}

func (f fakeUsers) Update(_ context.Context, u *model.User) error {
	f.s.mu.Lock()
	defer f.s.mu.Unlock()
	cp := *u
	f.s.users[u.ID] = &cp
	return nil
}

func (f fakeUsers) SaveRefreshToken(_ context.Context, t *model.RefreshToken) error {
	f.s.mu.Lock()
	defer f.s.mu.Unlock()
	cp := *t
	f.s.tokens[t.Token] = &cp
	return nil
}

func (f fakeUsers) FindRefreshToken(_ context.Context, token string) (*model.RefreshToken, error) {
	f.s.mu.Lock()
	defer f.s.mu.Unlock()
	t, ok := f.s.tokens[token]
	if !ok {
		return nil, gorm.ErrRecordNotFound
	}
	cp := *t
	return &cp, nil
}

func (f fakeUsers) DeleteRefreshToken(_ context.Context, token string) error {
	f.s.mu.Lock()
	defer f.s.mu.Unlock()
	delete(f.s.tokens, token)
	return nil
}

func (f fakeUsers) DeleteExpiredRefreshTokens(_ context.Context, before time.Time) (int64, error) {
	f.s.mu.Lock()
	defer f.s.mu.Unlock()
	var n int64
	for k, t := range f.s.tokens {
		if t.ExpiresAt.Before(before) {
			delete(f.s.tokens, k)
			n++
		}
	}
	return n, nil
}

type fakeClinics struct{ s *store }

func (f fakeClinics) Create(_ context.Context, c *model.Clinic) error {
	f.s.mu.Lock()
	defer f.s.mu.Unlock()
	c.ID = uuid.New()
	cp := *c
	f.s.clinics[c.ID] = &cp
	return nil
}

func (f fakeClinics) FindByID(_ context.Context, id uuid.UUID) (*model.Clinic, error) {
	f.s.mu.Lock()
	defer f.s.mu.Unlock()
	c, ok := f.s.clinics[id]
	if !ok {
		return nil, gorm.ErrRecordNotFound
	}
	cp := *c
	return &cp, nil
}

type fakePatients struct{ s *store }

func (f fakePatients) Create(_ context.Context, p *model.Patient) error {
	f.s.mu.Lock()
	defer f.s.mu.Unlock()
	p.ID = uuid.New()
	cp := *p
	f.s.patients[p.ID] = &cp
	return nil
}

func (f fakePatients) FindInClinic(_ context.Context, clinicID, id uuid.UUID) (*model.Patient, error) {
	f.s.mu.Lock()
	defer f.s.mu.Unlock()
	p, ok := f.s.patients[id]
	if !ok || p.ClinicID != clinicID {
		return nil, gorm.ErrRecordNotFound
	}
	cp := *p
	return &cp, nil
}

func (f fakePatients) Delete(_ context.Context, p *model.Patient) error {
	f.s.mu.Lock()
	defer f.s.mu.Unlock()
	delete(f.s.patients, p.ID)
	return nil
}

type fakeAudit struct{ s *store }

func (f fakeAudit) Log(_ context.Context, entry *model.AuditLog) error {
	f.s.mu.Lock()
	defer f.s.mu.Unlock()
	entry.ID = uuid.New()
	f.s.audit = append(f.s.audit, *entry)
	return nil
}

func (f fakeAudit) List(_ context.Context, filter repository.AuditFilter, page, limit int) ([]model.AuditLog, int64, error) {
	f.s.mu.Lock()
	defer f.s.mu.Unlock()
	var out []model.AuditLog
	for _, e := range f.s.audit {
		if filter.Action != "" && e.Action != filter.Action {
			continue
		}
		if filter.ClinicID != nil && (e.ClinicID == nil || *e.ClinicID != *filter.ClinicID) {
			continue
		}
		out = append(out, e)
	}
	return out, int64(len(out)), nil
}

func (s *store) auditActions() []string {
	s.mu.Lock()
	defer s.mu.Unlock()
	out := make([]string, 0, len(s.audit))
	for _, e := range s.audit {
		out = append(out, e.Action)
	}
	return out
}

func (s *store) usage(licenseID uuid.UUID, rt model.ResourceType) int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.usages[licenseID][rt].CurrentUsage
}

func (s *store) setUsage(licenseID uuid.UUID, rt model.ResourceType, current, limit int) {
	s.mu.Lock()
	defer s.mu.Unlock()
	u := s.usages[licenseID][rt]
	u.CurrentUsage, u.UsageLimit = current, limit
}

func (s *store) patientCount() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return len(s.patients)
}

// --- fixture ---

type fixture struct {
	st       *store
	cache    *cache.MemoryCache
	authz    AuthorizationService
	roles    RoleService
	licenses LicenseService
	users    UserService
	clinics  ClinicService
	patients PatientService
	now      time.Time
}

const testActivationSecret = "test-activation-secret"

func newFixture(opts ...LicenseOption) *fixture {
	st := newStore()
	c := cache.NewMemoryCache(0)
	f := &fixture{st: st, cache: c, now: time.Date(2026, 3, 10, 12, 0, 0, 0, time.UTC)}

	f.authz = NewAuthorizationService(fakeMemberships{st}, fakeRoles{st}, c, time.Minute)
	f.roles = NewRoleService(fakeRoles{st}, fakeAudit{st}, fakeTx{}, f.authz)
	base := []LicenseOption{WithLicenseClock(func() time.Time { return f.now })}
	f.licenses = NewLicenseService(fakeLicenses{st}, fakeAudit{st}, fakeTx{},
		NewHMACActivation(testActivationSecret), f.authz, append(base, opts...)...)
	f.users = NewUserService(UserServiceDeps{
		Users:       fakeUsers{st},
		Memberships: fakeMemberships{st},
		Roles:       fakeRoles{st},
		Audit:       fakeAudit{st},
		TxManager:   fakeTx{},
		LicenseSvc:  f.licenses,
		Authz:       f.authz,
		Tokens:      NewTokens("test-jwt-secret", time.Hour, 24*time.Hour),
	})
	f.clinics = NewClinicService(fakeClinics{st}, fakeMemberships{st}, fakeRoles{st}, fakeAudit{st}, fakeTx{}, f.licenses, f.authz)
	f.patients = NewPatientService(fakePatients{st}, fakeAudit{st}, fakeTx{}, f.licenses, f.authz)
	return f
}

func (f *fixture) seed() {
	if err := f.roles.SeedDefaultRolesAndPermissions(context.Background()); err != nil {
		panic(err)
	}
}

func (f *fixture) addUser(email string) *Principal {
	u := &model.User{Username: email, Email: email, IsActive: true}
	_ = fakeUsers{f.st}.Create(context.Background(), u)
	return &Principal{UserID: u.ID, Email: email}
}

func (f *fixture) addClinic(name string) uuid.UUID {
	c := &model.Clinic{Name: name}
	_ = fakeClinics{f.st}.Create(context.Background(), c)
	return c.ID
}

func (f *fixture) roleID(name string) uuid.UUID {
	r, err := fakeRoles{f.st}.FindByName(context.Background(), name)
	if err != nil {
		panic(err)
	}
	return r.ID
}

func (f *fixture) join(p *Principal, clinicID uuid.UUID, role string) {
	_ = fakeMemberships{f.st}.Create(context.Background(), &model.ClinicMembership{
		UserID: p.UserID, ClinicID: clinicID, RoleID: f.roleID(role),
	})
}

func parseUUID(t require.TestingT, s string) uuid.UUID {
	id, err := uuid.Parse(s)
	require.NoError(t, err)
	return id
}

// manager returns a new clinic_admin of clinicID, seeding roles if needed.
func (f *fixture) manager(clinicID uuid.UUID) *uuid.UUID {
	f.seed()
	p := f.addUser(uuid.NewString() + "@example.com")
	f.join(p, clinicID, model.RoleClinicAdmin)
	return &p.UserID
}

// issue gives clinicID a license on plan and returns its id.
func (f *fixture) issue(clinicID uuid.UUID, plan string) uuid.UUID {
	res, err := f.licenses.IssueLicense(context.Background(), nil, IssueLicenseRequest{ClinicID: clinicID.String(), Plan: plan})
	if err != nil {
		panic(err)
	}
	return uuid.MustParse(res.ID)
}
