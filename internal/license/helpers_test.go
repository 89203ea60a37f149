package license

import (
	"context"
	"sync"
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/rs/zerolog"
	"github.com/stretchr/testify/require"
	"github.com/wabdesk/wabdesk/internal/models"
)

type fakeClock struct {
	mu  sync.Mutex
	now time.Time
}

func newFakeClock() *fakeClock {
	return &fakeClock{now: time.Date(2026, 3, 1, 9, 0, 0, 0, time.UTC)}
}

func (c *fakeClock) Now() time.Time {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.now
}

func (c *fakeClock) Advance(d time.Duration) {
	c.mu.Lock()
	c.now = c.now.Add(d)
	c.mu.Unlock()
}

type fixture struct {
	store     *memStore
	clock     *fakeClock
	authority *Authority
	ledger    *Ledger
	super     models.Actor
}

func newFixture(t *testing.T) *fixture {
	t.Helper()
	store := newMemStore()
	clock := newFakeClock()
	cfg := ServiceConfig{
		Store:  store,
		Audit:  store,
		Logger: zerolog.Nop(),
		Now:    clock.Now,
	}
	return &fixture{
		store:     store,
		clock:     clock,
		authority: NewAuthority(cfg),
		ledger:    NewLedger(cfg),
		super:     models.Actor{UserID: uuid.New(), OrgID: uuid.New(), Role: models.RoleSuperAdmin},
	}
}

func adminOf(org *models.Organization) models.Actor {
	return models.Actor{UserID: uuid.New(), OrgID: org.ID, Role: models.RoleAdmin}
}

func memberOf(org *models.Organization) models.Actor {
	return models.Actor{UserID: uuid.New(), OrgID: org.ID, Role: models.RoleMember}
}

func (f *fixture) plan(t *testing.T, code string, durationDays, maxDevices int) *models.Plan {
	t.Helper()
	plan, err := f.authority.CreatePlan(context.Background(), f.super, PlanInput{
		Name:         code,
		Code:         code,
		DurationDays: &durationDays,
		MaxDevices:   &maxDevices,
	})
	require.NoError(t, err)
	return plan
}

func (f *fixture) issue(t *testing.T, org *models.Organization, planCode string) *IssuedLicense {
	t.Helper()
	var orgID *uuid.UUID
	if org != nil {
		orgID = &org.ID
	}
	issued, err := f.authority.Issue(context.Background(), f.super, IssueInput{OrgID: orgID, PlanCode: planCode})
	require.NoError(t, err)
	return issued
}

func (f *fixture) activate(t *testing.T, actor models.Actor, key, deviceID string) *ActivationResult {
	t.Helper()
	res, err := f.ledger.Activate(context.Background(), actor, ActivateInput{LicenseKey: key, DeviceID: deviceID})
	require.NoError(t, err)
	return res
}

func intPtr(n int) *int {
	return &n
}
