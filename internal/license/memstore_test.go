package license

import (
	"context"
	"errors"
	"sort"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/wabdesk/wabdesk/internal/models"
)

// memStore is an in-memory Store. Transactions are serialized, which gives
// the same guarantees as the row lock taken by the Postgres store.
type memStore struct {
	txMu sync.Mutex
	mu   sync.Mutex

	orgs        map[uuid.UUID]models.Organization
	plans       map[uuid.UUID]models.Plan
	licenses    map[uuid.UUID]models.License
	activations map[uuid.UUID]models.Activation
	audits      []*models.AuditLog

	auditErr error
	// txDelay widens the window between reads and writes inside a transaction.
	txDelay time.Duration
}

func newMemStore() *memStore {
	return &memStore{
		orgs:        map[uuid.UUID]models.Organization{},
		plans:       map[uuid.UUID]models.Plan{},
		licenses:    map[uuid.UUID]models.License{},
		activations: map[uuid.UUID]models.Activation{},
	}
}

func (s *memStore) addOrg(name string) *models.Organization {
	org := models.NewOrganization(name, name)
	s.mu.Lock()
	s.orgs[org.ID] = *org
	s.mu.Unlock()
	return org
}

func (s *memStore) activeCount(licenseID uuid.UUID) int {
	s.mu.Lock()
	defer s.mu.Unlock()
	n := 0
	for _, a := range s.activations {
		if a.LicenseID == licenseID && a.DeactivatedAt == nil {
			n++
		}
	}
	return n
}

func (s *memStore) auditActions() []models.AuditAction {
	s.mu.Lock()
	defer s.mu.Unlock()
	out := make([]models.AuditAction, 0, len(s.audits))
	for _, a := range s.audits {
		out = append(out, a.Action)
	}
	return out
}

func (s *memStore) CreatePlan(_ context.Context, plan *models.Plan) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	for _, p := range s.plans {
		if p.Code == plan.Code {
			return ErrDuplicate
		}
	}
	s.plans[plan.ID] = *plan
	return nil
}

func (s *memStore) GetPlanByCode(_ context.Context, code string) (*models.Plan, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	for _, p := range s.plans {
		if p.Code == code {
			return &p, nil
		}
	}
	return nil, ErrNotFound
}

func (s *memStore) GetPlanByID(_ context.Context, id uuid.UUID) (*models.Plan, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	p, ok := s.plans[id]
	if !ok {
		return nil, ErrNotFound
	}
	return &p, nil
}

func (s *memStore) ListPlans(_ context.Context, includeInactive bool) ([]*models.Plan, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	var out []*models.Plan
	for _, p := range s.plans {
		if p.IsActive || includeInactive {
			p := p
			out = append(out, &p)
		}
	}
	sort.Slice(out, func(i, j int) bool { return out[i].Code < out[j].Code })
	return out, nil
}

func (s *memStore) UpdatePlan(_ context.Context, plan *models.Plan) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if _, ok := s.plans[plan.ID]; !ok {
		return ErrNotFound
	}
	s.plans[plan.ID] = *plan
	return nil
}

func (s *memStore) GetOrganizationByID(_ context.Context, id uuid.UUID) (*models.Organization, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	o, ok := s.orgs[id]
	if !ok {
		return nil, ErrNotFound
	}
	return &o, nil
}

func (s *memStore) CreateLicense(_ context.Context, lic *models.License) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	for _, l := range s.licenses {
		if l.KeyHash == lic.KeyHash {
			return ErrDuplicate
		}
	}
	s.licenses[lic.ID] = *lic
	return nil
}

func (s *memStore) GetLicenseByID(_ context.Context, id uuid.UUID) (*models.License, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	l, ok := s.licenses[id]
	if !ok {
		return nil, ErrNotFound
	}
	return &l, nil
}

func (s *memStore) ListLicenses(_ context.Context, filter LicenseFilter) ([]*models.License, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	var out []*models.License
	for _, l := range s.licenses {
		if filter.OrgID != nil && !l.IsBoundTo(*filter.OrgID) {
			continue
		}
		if filter.Status != "" && l.EffectiveStatus(filter.Now) != filter.Status {
			continue
		}
		l := l
		out = append(out, &l)
	}
	sort.Slice(out, func(i, j int) bool { return out[i].IssuedAt.Before(out[j].IssuedAt) })
	return out, nil
}

func (s *memStore) ListActivationsByLicense(_ context.Context, licenseID uuid.UUID) ([]*models.Activation, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	var out []*models.Activation
	for _, a := range s.activations {
		if a.LicenseID == licenseID {
			a := a
			out = append(out, &a)
		}
	}
	return out, nil
}

func (s *memStore) CreateAuditLog(_ context.Context, entry *models.AuditLog) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.auditErr != nil {
		return s.auditErr
	}
	s.audits = append(s.audits, entry)
	return nil
}

func (s *memStore) InTx(ctx context.Context, fn func(tx Tx) error) error {
	s.txMu.Lock()
	defer s.txMu.Unlock()

	s.mu.Lock()
	licenses := make(map[uuid.UUID]models.License, len(s.licenses))
	for k, v := range s.licenses {
		licenses[k] = v
	}
	activations := make(map[uuid.UUID]models.Activation, len(s.activations))
	for k, v := range s.activations {
		activations[k] = v
	}
	s.mu.Unlock()

	if err := fn(&memTx{s: s, delay: s.txDelay}); err != nil {
		s.mu.Lock()
		s.licenses, s.activations = licenses, activations
		s.mu.Unlock()
		return err
	}
	return nil
}

type memTx struct {
	s     *memStore
	delay time.Duration
}

func (t *memTx) GetLicenseByHashForUpdate(_ context.Context, keyHash string) (*models.License, error) {
	t.s.mu.Lock()
	defer t.s.mu.Unlock()
	for _, l := range t.s.licenses {
		if l.KeyHash == keyHash {
			return &l, nil
		}
	}
	return nil, ErrNotFound
}

func (t *memTx) GetLicenseByIDForUpdate(_ context.Context, id uuid.UUID) (*models.License, error) {
	t.s.mu.Lock()
	defer t.s.mu.Unlock()
	l, ok := t.s.licenses[id]
	if !ok {
		return nil, ErrNotFound
	}
	return &l, nil
}

func (t *memTx) UpdateLicense(_ context.Context, lic *models.License) error {
	t.s.mu.Lock()
	defer t.s.mu.Unlock()
	if _, ok := t.s.licenses[lic.ID]; !ok {
		return ErrNotFound
	}
	t.s.licenses[lic.ID] = *lic
	return nil
}

func (t *memTx) BindLicenseOrg(_ context.Context, licenseID, orgID uuid.UUID) (bool, error) {
	t.s.mu.Lock()
	defer t.s.mu.Unlock()
	l, ok := t.s.licenses[licenseID]
	if !ok {
		return false, ErrNotFound
	}
	if l.IssuedToOrgID != nil {
		return false, nil
	}
	l.IssuedToOrgID = &orgID
	t.s.licenses[licenseID] = l
	return true, nil
}

func (t *memTx) GetActivationByID(_ context.Context, id uuid.UUID) (*models.Activation, error) {
	t.s.mu.Lock()
	defer t.s.mu.Unlock()
	a, ok := t.s.activations[id]
	if !ok {
		return nil, ErrNotFound
	}
	return &a, nil
}

func (t *memTx) GetActiveActivation(_ context.Context, orgID uuid.UUID, deviceID string) (*models.Activation, error) {
	t.s.mu.Lock()
	defer t.s.mu.Unlock()
	for _, a := range t.s.activations {
		if a.OrgID == orgID && a.DeviceID == deviceID && a.DeactivatedAt == nil {
			return &a, nil
		}
	}
	return nil, ErrNotFound
}

func (t *memTx) GetLatestActivation(_ context.Context, orgID uuid.UUID, deviceID string) (*models.Activation, error) {
	t.s.mu.Lock()
	defer t.s.mu.Unlock()
	var latest *models.Activation
	for _, a := range t.s.activations {
		if a.OrgID != orgID || a.DeviceID != deviceID {
			continue
		}
		if latest == nil || a.ActivatedAt.After(latest.ActivatedAt) {
			a := a
			latest = &a
		}
	}
	if latest == nil {
		return nil, ErrNotFound
	}
	return latest, nil
}

func (t *memTx) CountActiveActivations(_ context.Context, licenseID uuid.UUID) (int, error) {
	t.s.mu.Lock()
	n := 0
	for _, a := range t.s.activations {
		if a.LicenseID == licenseID && a.DeactivatedAt == nil {
			n++
		}
	}
	t.s.mu.Unlock()
	if t.delay > 0 {
		time.Sleep(t.delay)
	}
	return n, nil
}

func (t *memTx) CreateActivation(_ context.Context, act *models.Activation) error {
	t.s.mu.Lock()
	defer t.s.mu.Unlock()
	for _, a := range t.s.activations {
		if a.OrgID == act.OrgID && a.DeviceID == act.DeviceID && a.DeactivatedAt == nil {
			return ErrDuplicate
		}
	}
	t.s.activations[act.ID] = *act
	return nil
}

func (t *memTx) TouchActivation(_ context.Context, act *models.Activation) error {
	t.s.mu.Lock()
	defer t.s.mu.Unlock()
	if _, ok := t.s.activations[act.ID]; !ok {
		return ErrNotFound
	}
	t.s.activations[act.ID] = *act
	return nil
}

func (t *memTx) DeactivateActivation(_ context.Context, id uuid.UUID, at time.Time) (bool, error) {
	t.s.mu.Lock()
	defer t.s.mu.Unlock()
	a, ok := t.s.activations[id]
	if !ok || a.DeactivatedAt != nil {
		return false, nil
	}
	a.DeactivatedAt = &at
	t.s.activations[id] = a
	return true, nil
}

func (t *memTx) DeactivateLicenseActivations(_ context.Context, licenseID uuid.UUID, at time.Time) (int64, error) {
	t.s.mu.Lock()
	defer t.s.mu.Unlock()
	var n int64
	for id, a := range t.s.activations {
		if a.LicenseID == licenseID && a.DeactivatedAt == nil {
			a.DeactivatedAt = &at
			t.s.activations[id] = a
			n++
		}
	}
	return n, nil
}

var errAuditDown = errors.New("audit store unavailable")
