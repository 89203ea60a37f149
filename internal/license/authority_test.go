package license

import (
	"context"
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"github.com/wabdesk/wabdesk/internal/models"
)

func TestAuthority_CreatePlan(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	org := f.store.addOrg("acme")

	t.Run("defaults", func(t *testing.T) {
		plan, err := f.authority.CreatePlan(ctx, f.super, PlanInput{Name: "Starter", Code: " Starter "})
		require.NoError(t, err)
		assert.Equal(t, "starter", plan.Code)
		assert.Equal(t, models.DefaultPlanDurationDays, plan.DurationDays)
		assert.Equal(t, models.DefaultPlanMaxDevices, plan.MaxDevices)
	})

	t.Run("duplicate code", func(t *testing.T) {
		_, err := f.authority.CreatePlan(ctx, f.super, PlanInput{Name: "Again", Code: "starter"})
		assert.ErrorIs(t, err, ErrInvalidState)
	})

	t.Run("admin cannot manage plans", func(t *testing.T) {
		_, err := f.authority.CreatePlan(ctx, adminOf(org), PlanInput{Name: "Pro", Code: "pro"})
		assert.ErrorIs(t, err, ErrUnauthorized)
	})

	t.Run("rejects non-positive devices", func(t *testing.T) {
		_, err := f.authority.CreatePlan(ctx, f.super, PlanInput{Name: "Bad", Code: "bad", MaxDevices: intPtr(0)})
		assert.ErrorIs(t, err, ErrInvalidInput)
	})

	t.Run("audited", func(t *testing.T) {
		assert.Contains(t, f.store.auditActions(), models.AuditActionPlanCreate)
	})
}

func TestAuthority_DeactivatePlan(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	org := f.store.addOrg("acme")
	f.plan(t, "legacy", 30, 1)

	plan, err := f.authority.DeactivatePlan(ctx, f.super, "legacy")
	require.NoError(t, err)
	assert.False(t, plan.IsActive)

	_, err = f.authority.Issue(ctx, f.super, IssueInput{OrgID: &org.ID, PlanCode: "legacy"})
	assert.ErrorIs(t, err, ErrNotFound)

	plans, err := f.authority.ListPlans(ctx, adminOf(org), true)
	require.NoError(t, err)
	assert.Empty(t, plans, "admins never see inactive plans")

	plans, err = f.authority.ListPlans(ctx, f.super, true)
	require.NoError(t, err)
	assert.Len(t, plans, 1)
}

func TestAuthority_Issue(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	org := f.store.addOrg("acme")
	other := f.store.addOrg("globex")
	f.plan(t, "pro", 30, 2)
	f.plan(t, "lifetime", 0, 1)

	t.Run("plan defaults", func(t *testing.T) {
		issued, err := f.authority.Issue(ctx, adminOf(org), IssueInput{OrgID: &org.ID, PlanCode: "pro"})
		require.NoError(t, err)

		assert.True(t, ValidateKeyFormat(issued.Key))
		assert.Equal(t, HashKey(issued.Key), issued.License.KeyHash)
		assert.Equal(t, 2, issued.License.SeatsTotal)
		require.NotNil(t, issued.License.ExpiresAt)
		assert.Equal(t, f.clock.Now().Add(30*24*time.Hour), *issued.License.ExpiresAt)
		assert.True(t, issued.License.IsBoundTo(org.ID))
		assert.Equal(t, models.LicenseStatusActive, issued.License.Status)

		stored, err := f.store.GetLicenseByID(ctx, issued.License.ID)
		require.NoError(t, err)
		assert.NotContains(t, stored.KeyHash, NormalizeKey(issued.Key), "plaintext must never be stored")
	})

	t.Run("overrides", func(t *testing.T) {
		expires := f.clock.Now().Add(90 * 24 * time.Hour)
		issued, err := f.authority.Issue(ctx, f.super, IssueInput{
			OrgID:     &org.ID,
			PlanCode:  "pro",
			Seats:     intPtr(10),
			ExpiresAt: &expires,
			Metadata:  map[string]any{"order": "A-1"},
		})
		require.NoError(t, err)
		assert.Equal(t, 10, issued.License.SeatsTotal)
		assert.Equal(t, expires, *issued.License.ExpiresAt)
		assert.Equal(t, "A-1", issued.License.Metadata["order"])
	})

	t.Run("non-expiring plan", func(t *testing.T) {
		issued, err := f.authority.Issue(ctx, f.super, IssueInput{OrgID: &org.ID, PlanCode: "lifetime"})
		require.NoError(t, err)
		assert.Nil(t, issued.License.ExpiresAt)
	})

	t.Run("unbound issuance by super admin", func(t *testing.T) {
		issued, err := f.authority.Issue(ctx, f.super, IssueInput{PlanCode: "pro"})
		require.NoError(t, err)
		assert.Nil(t, issued.License.IssuedToOrgID)
	})

	t.Run("admin must name an org", func(t *testing.T) {
		_, err := f.authority.Issue(ctx, adminOf(org), IssueInput{PlanCode: "pro"})
		assert.ErrorIs(t, err, ErrInvalidInput)
	})

	t.Run("admin cannot issue for another org", func(t *testing.T) {
		_, err := f.authority.Issue(ctx, adminOf(org), IssueInput{OrgID: &other.ID, PlanCode: "pro"})
		assert.ErrorIs(t, err, ErrUnauthorized)
	})

	t.Run("member cannot issue", func(t *testing.T) {
		_, err := f.authority.Issue(ctx, memberOf(org), IssueInput{OrgID: &org.ID, PlanCode: "pro"})
		assert.ErrorIs(t, err, ErrUnauthorized)
	})

	t.Run("unknown org", func(t *testing.T) {
		missing := uuid.New()
		_, err := f.authority.Issue(ctx, f.super, IssueInput{OrgID: &missing, PlanCode: "pro"})
		assert.ErrorIs(t, err, ErrNotFound)
	})

	t.Run("unknown plan", func(t *testing.T) {
		_, err := f.authority.Issue(ctx, f.super, IssueInput{OrgID: &org.ID, PlanCode: "enterprise"})
		assert.ErrorIs(t, err, ErrNotFound)
	})

	t.Run("rejects zero seats", func(t *testing.T) {
		_, err := f.authority.Issue(ctx, f.super, IssueInput{OrgID: &org.ID, PlanCode: "pro", Seats: intPtr(0)})
		assert.ErrorIs(t, err, ErrInvalidInput)
	})
}

func TestAuthority_Renew(t *testing.T) {
	ctx := context.Background()

	t.Run("extends from future expiry", func(t *testing.T) {
		f := newFixture(t)
		org := f.store.addOrg("acme")
		f.plan(t, "pro", 30, 1)
		expires := f.clock.Now().Add(10 * 24 * time.Hour)
		issued, err := f.authority.Issue(ctx, f.super, IssueInput{OrgID: &org.ID, PlanCode: "pro", ExpiresAt: &expires})
		require.NoError(t, err)

		lic, err := f.authority.Renew(ctx, adminOf(org), issued.License.ID, intPtr(30))
		require.NoError(t, err)
		assert.Equal(t, f.clock.Now().Add(40*24*time.Hour), *lic.ExpiresAt)
		require.NotNil(t, lic.RenewedAt)
	})

	t.Run("extends from now when lapsed and revives", func(t *testing.T) {
		f := newFixture(t)
		org := f.store.addOrg("acme")
		f.plan(t, "pro", 30, 1)
		issued := f.issue(t, org, "pro")

		f.clock.Advance(45 * 24 * time.Hour)
		res := f.activate(t, memberOf(org), issued.Key, "dev-1")
		require.Equal(t, ReasonExpired, res.Reason)

		lic, err := f.authority.Renew(ctx, adminOf(org), issued.License.ID, nil)
		require.NoError(t, err)
		assert.Equal(t, models.LicenseStatusActive, lic.Status)
		assert.Equal(t, f.clock.Now().Add(30*24*time.Hour), *lic.ExpiresAt, "defaults to plan duration")

		res = f.activate(t, memberOf(org), issued.Key, "dev-1")
		assert.True(t, res.Activated)
	})

	t.Run("non-expiring stays non-expiring", func(t *testing.T) {
		f := newFixture(t)
		org := f.store.addOrg("acme")
		f.plan(t, "lifetime", 0, 1)
		issued := f.issue(t, org, "lifetime")

		lic, err := f.authority.Renew(ctx, f.super, issued.License.ID, intPtr(30))
		require.NoError(t, err)
		assert.Nil(t, lic.ExpiresAt)
	})

	t.Run("revoked is terminal", func(t *testing.T) {
		f := newFixture(t)
		org := f.store.addOrg("acme")
		f.plan(t, "pro", 30, 1)
		issued := f.issue(t, org, "pro")

		_, err := f.authority.Revoke(ctx, adminOf(org), issued.License.ID, "fraud")
		require.NoError(t, err)

		for i := 0; i < 3; i++ {
			_, err = f.authority.Renew(ctx, adminOf(org), issued.License.ID, intPtr(365))
			assert.ErrorIs(t, err, ErrInvalidState)
			assert.Equal(t, ReasonRevoked, ReasonOf(err))
		}

		lic, err := f.authority.Get(ctx, adminOf(org), issued.License.ID)
		require.NoError(t, err)
		assert.Equal(t, models.LicenseStatusRevoked, lic.Status)

		res := f.activate(t, memberOf(org), issued.Key, "dev-1")
		assert.Equal(t, ReasonRevoked, res.Reason)
	})

	t.Run("foreign admin sees not found", func(t *testing.T) {
		f := newFixture(t)
		org := f.store.addOrg("acme")
		other := f.store.addOrg("globex")
		f.plan(t, "pro", 30, 1)
		issued := f.issue(t, org, "pro")

		_, err := f.authority.Renew(ctx, adminOf(other), issued.License.ID, nil)
		assert.ErrorIs(t, err, ErrNotFound)
	})
}

func TestAuthority_Revoke(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	org := f.store.addOrg("acme")
	f.plan(t, "team", 30, 3)
	issued := f.issue(t, org, "team")

	for _, dev := range []string{"dev-a", "dev-b", "dev-c"} {
		require.True(t, f.activate(t, memberOf(org), issued.Key, dev).Activated)
	}
	require.Equal(t, 3, f.store.activeCount(issued.License.ID))

	lic, err := f.authority.Revoke(ctx, adminOf(org), issued.License.ID, " chargeback ")
	require.NoError(t, err)
	assert.Equal(t, models.LicenseStatusRevoked, lic.Status)
	assert.Equal(t, "chargeback", lic.RevokedReason)
	require.NotNil(t, lic.RevokedAt)
	assert.Equal(t, 0, f.store.activeCount(issued.License.ID), "revocation cascades to every device")

	for _, dev := range []string{"dev-a", "dev-b", "dev-c"} {
		res, err := f.ledger.Heartbeat(ctx, memberOf(org), dev, "")
		require.NoError(t, err)
		assert.False(t, res.Valid)
		assert.Equal(t, ReasonRevoked, res.Reason)
	}

	t.Run("second revoke is a no-op", func(t *testing.T) {
		revokedAt := *lic.RevokedAt
		f.clock.Advance(time.Hour)
		again, err := f.authority.Revoke(ctx, adminOf(org), issued.License.ID, "different")
		require.NoError(t, err)
		assert.Equal(t, revokedAt, *again.RevokedAt)
		assert.Equal(t, "chargeback", again.RevokedReason)

		revokes := 0
		for _, a := range f.store.auditActions() {
			if a == models.AuditActionLicenseRevoke {
				revokes++
			}
		}
		assert.Equal(t, 1, revokes)
	})

	t.Run("unknown license", func(t *testing.T) {
		_, err := f.authority.Revoke(ctx, f.super, uuid.New(), "")
		assert.ErrorIs(t, err, ErrNotFound)
	})
}

func TestAuthority_ListScoping(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	acme := f.store.addOrg("acme")
	globex := f.store.addOrg("globex")
	f.plan(t, "pro", 30, 1)

	mine := f.issue(t, acme, "pro")
	f.clock.Advance(time.Minute)
	f.issue(t, globex, "pro")
	f.clock.Advance(time.Minute)
	f.issue(t, nil, "pro")

	t.Run("admin sees own org only", func(t *testing.T) {
		licenses, err := f.authority.List(ctx, adminOf(acme), LicenseFilter{OrgID: &globex.ID})
		require.NoError(t, err)
		require.Len(t, licenses, 1)
		assert.Equal(t, mine.License.ID, licenses[0].ID)
	})

	t.Run("super admin sees everything", func(t *testing.T) {
		licenses, err := f.authority.List(ctx, f.super, LicenseFilter{})
		require.NoError(t, err)
		assert.Len(t, licenses, 3)
	})

	t.Run("status filter uses effective status", func(t *testing.T) {
		f.clock.Advance(31 * 24 * time.Hour)
		expired, err := f.authority.List(ctx, f.super, LicenseFilter{Status: models.LicenseStatusExpired})
		require.NoError(t, err)
		assert.Len(t, expired, 3)
		for _, lic := range expired {
			assert.Equal(t, models.LicenseStatusExpired, lic.Status)
		}
	})

	t.Run("get of foreign license is not found", func(t *testing.T) {
		_, err := f.authority.Get(ctx, adminOf(globex), mine.License.ID)
		assert.ErrorIs(t, err, ErrNotFound)
	})

	t.Run("members cannot list", func(t *testing.T) {
		_, err := f.authority.List(ctx, memberOf(acme), LicenseFilter{})
		assert.ErrorIs(t, err, ErrUnauthorized)
	})
}

func TestAuthority_AuditFailureDoesNotBlock(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	org := f.store.addOrg("acme")
	f.plan(t, "pro", 30, 1)
	f.store.auditErr = errAuditDown

	issued, err := f.authority.Issue(ctx, f.super, IssueInput{OrgID: &org.ID, PlanCode: "pro"})
	require.NoError(t, err)
	assert.NotEmpty(t, issued.Key)

	_, err = f.authority.Revoke(ctx, f.super, issued.License.ID, "")
	require.NoError(t, err)
}

func TestRenewedExpiry(t *testing.T) {
	now := time.Date(2026, 1, 1, 0, 0, 0, 0, time.UTC)

	assert.Equal(t, now.Add(40*24*time.Hour), renewedExpiry(now.Add(10*24*time.Hour), now, 30))
	assert.Equal(t, now.Add(30*24*time.Hour), renewedExpiry(now.Add(-5*24*time.Hour), now, 30))
	assert.Equal(t, now.Add(30*24*time.Hour), renewedExpiry(now, now, 30))
}
