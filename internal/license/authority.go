package license

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/google/uuid"
	"github.com/rs/zerolog"
	"github.com/wabdesk/wabdesk/internal/metrics"
	"github.com/wabdesk/wabdesk/internal/models"
)

const (
	maxKeyAttempts = 3
	day            = 24 * time.Hour
)

// ServiceConfig holds the collaborators shared by Authority and Ledger.
type ServiceConfig struct {
	Store   Store
	Audit   AuditSink
	Metrics *metrics.PrometheusMetrics
	Logger  zerolog.Logger
	// Now overrides the clock. Defaults to time.Now.
	Now func() time.Time
}

func (c ServiceConfig) clock() func() time.Time {
	if c.Now != nil {
		return c.Now
	}
	return time.Now
}

// Authority owns plan and license records: issuance, renewal, revocation and
// scoped reads.
type Authority struct {
	store   Store
	auditor *Auditor
	metrics *metrics.PrometheusMetrics
	logger  zerolog.Logger
	now     func() time.Time
}

// NewAuthority creates a new license authority.
func NewAuthority(cfg ServiceConfig) *Authority {
	return &Authority{
		store:   cfg.Store,
		auditor: NewAuditor(cfg.Audit, cfg.Metrics, cfg.Logger),
		metrics: cfg.Metrics,
		logger:  cfg.Logger.With().Str("component", "license_authority").Logger(),
		now:     cfg.clock(),
	}
}

// PlanInput describes a plan to create. Zero values take plan defaults.
type PlanInput struct {
	Name         string
	Code         string
	DurationDays *int
	MaxDevices   *int
	PriceCents   int64
	Features     map[string]any
}

// CreatePlan creates a new plan. Only super admins manage the catalogue.
func (a *Authority) CreatePlan(ctx context.Context, actor models.Actor, in PlanInput) (*models.Plan, error) {
	if !actor.IsSuperAdmin() {
		return nil, ReasonForbidden.Err()
	}

	code := strings.ToLower(strings.TrimSpace(in.Code))
	name := strings.TrimSpace(in.Name)
	if code == "" || name == "" {
		return nil, fmt.Errorf("%w: plan name and code are required", ErrInvalidInput)
	}

	plan := models.NewPlan(name, code)
	if in.DurationDays != nil {
		if *in.DurationDays < 0 {
			return nil, fmt.Errorf("%w: duration days must not be negative", ErrInvalidInput)
		}
		plan.DurationDays = *in.DurationDays
	}
	if in.MaxDevices != nil {
		if *in.MaxDevices <= 0 {
			return nil, fmt.Errorf("%w: max devices must be positive", ErrInvalidInput)
		}
		plan.MaxDevices = *in.MaxDevices
	}
	if in.Features != nil {
		plan.Features = in.Features
	}
	plan.PriceCents = in.PriceCents
	now := a.now()
	plan.CreatedAt, plan.UpdatedAt = now, now

	if err := a.store.CreatePlan(ctx, plan); err != nil {
		if errors.Is(err, ErrDuplicate) {
			return nil, fmt.Errorf("%w: plan code %q already exists", ErrInvalidState, code)
		}
		return nil, fmt.Errorf("create plan: %w", err)
	}

	a.auditor.Record(ctx, models.NewAuditLog(models.AuditActionPlanCreate, "plan").
		WithActor(actor).
		WithTarget(plan.ID).
		WithDetail("code", plan.Code).
		WithDetail("duration_days", plan.DurationDays).
		WithDetail("max_devices", plan.MaxDevices))

	a.logger.Info().Str("plan_code", plan.Code).Msg("plan created")
	return plan, nil
}

// ListPlans returns the plan catalogue.
func (a *Authority) ListPlans(ctx context.Context, actor models.Actor, includeInactive bool) ([]*models.Plan, error) {
	if !actor.Role.AtLeast(models.RoleAdmin) {
		return nil, ReasonForbidden.Err()
	}
	plans, err := a.store.ListPlans(ctx, includeInactive && actor.IsSuperAdmin())
	if err != nil {
		return nil, fmt.Errorf("list plans: %w", err)
	}
	return plans, nil
}

// DeactivatePlan stops new issuance against a plan. Existing licenses are
// unaffected.
func (a *Authority) DeactivatePlan(ctx context.Context, actor models.Actor, code string) (*models.Plan, error) {
	if !actor.IsSuperAdmin() {
		return nil, ReasonForbidden.Err()
	}

	plan, err := a.store.GetPlanByCode(ctx, strings.ToLower(strings.TrimSpace(code)))
	if err != nil {
		return nil, fmt.Errorf("get plan: %w", err)
	}
	if !plan.IsActive {
		return plan, nil
	}

	plan.IsActive = false
	plan.UpdatedAt = a.now()
	if err := a.store.UpdatePlan(ctx, plan); err != nil {
		return nil, fmt.Errorf("update plan: %w", err)
	}

	a.auditor.Record(ctx, models.NewAuditLog(models.AuditActionPlanDeactivate, "plan").
		WithActor(actor).
		WithTarget(plan.ID).
		WithDetail("code", plan.Code))

	return plan, nil
}

// IssueInput describes a license to issue. OrgID may be nil only for super
// admins, leaving the license to be bound by its first activation.
type IssueInput struct {
	OrgID     *uuid.UUID
	PlanCode  string
	Seats     *int
	ExpiresAt *time.Time
	Metadata  map[string]any
}

// IssuedLicense is the result of issuance. Key is the only copy of the
// plaintext license key.
type IssuedLicense struct {
	Key     string          `json:"licenseKey"`
	License *models.License `json:"license"`
}

// Issue creates a license and returns its plaintext key exactly once.
func (a *Authority) Issue(ctx context.Context, actor models.Actor, in IssueInput) (*IssuedLicense, error) {
	if !actor.Role.AtLeast(models.RoleAdmin) {
		return nil, ReasonForbidden.Err()
	}
	if in.OrgID == nil && !actor.IsSuperAdmin() {
		return nil, fmt.Errorf("%w: orgId is required", ErrInvalidInput)
	}
	if in.OrgID != nil && !actor.CanAccessOrg(*in.OrgID) {
		return nil, ReasonForbidden.Err()
	}

	if in.OrgID != nil {
		if _, err := a.store.GetOrganizationByID(ctx, *in.OrgID); err != nil {
			return nil, fmt.Errorf("get organization: %w", err)
		}
	}

	plan, err := a.store.GetPlanByCode(ctx, strings.ToLower(strings.TrimSpace(in.PlanCode)))
	if err != nil {
		return nil, fmt.Errorf("get plan: %w", err)
	}
	if !plan.IsActive {
		return nil, fmt.Errorf("%w: plan %q is not available", ErrNotFound, plan.Code)
	}

	seats := plan.MaxDevices
	if in.Seats != nil {
		if *in.Seats <= 0 {
			return nil, fmt.Errorf("%w: seats must be positive", ErrInvalidInput)
		}
		seats = *in.Seats
	}

	now := a.now()
	var expiresAt *time.Time
	switch {
	case in.ExpiresAt != nil:
		t := in.ExpiresAt.UTC()
		expiresAt = &t
	case plan.Expires():
		t := now.Add(time.Duration(plan.DurationDays) * day)
		expiresAt = &t
	}

	var (
		key Key
		lic *models.License
	)
	for attempt := 1; ; attempt++ {
		key, err = GenerateKey()
		if err != nil {
			return nil, err
		}

		lic = models.NewLicense(plan, key.Hash, seats)
		lic.IssuedToOrgID = in.OrgID
		lic.ExpiresAt = expiresAt
		lic.IssuedAt, lic.CreatedAt, lic.UpdatedAt = now, now, now
		if in.Metadata != nil {
			lic.Metadata = in.Metadata
		}

		err = a.store.CreateLicense(ctx, lic)
		if err == nil {
			break
		}
		if !errors.Is(err, ErrDuplicate) || attempt >= maxKeyAttempts {
			return nil, fmt.Errorf("create license: %w", err)
		}
		a.logger.Warn().Int("attempt", attempt).Msg("license key collision, regenerating")
	}

	entry := models.NewAuditLog(models.AuditActionLicenseIssue, "license").
		WithActor(actor).
		WithTarget(lic.ID).
		WithDetail("plan_code", lic.PlanCode).
		WithDetail("seats_total", lic.SeatsTotal).
		WithDetail("expires_at", lic.ExpiresAt)
	if in.OrgID != nil {
		entry.WithOrg(*in.OrgID)
	}
	a.auditor.Record(ctx, entry)
	a.metrics.RecordLicenseOperation("issue")

	a.logger.Info().
		Str("license_id", lic.ID.String()).
		Str("plan_code", lic.PlanCode).
		Int("seats", lic.SeatsTotal).
		Msg("license issued")

	return &IssuedLicense{Key: key.Plain, License: lic}, nil
}

// Renew extends a license by extensionDays (default: the plan duration)
// counted from max(current expiry, now), and revives lapsed licenses.
// Licenses without an expiry keep none.
func (a *Authority) Renew(ctx context.Context, actor models.Actor, id uuid.UUID, extensionDays *int) (*models.License, error) {
	if !actor.Role.AtLeast(models.RoleAdmin) {
		return nil, ReasonForbidden.Err()
	}
	if extensionDays != nil && *extensionDays <= 0 {
		return nil, fmt.Errorf("%w: extension days must be positive", ErrInvalidInput)
	}

	var before *time.Time
	var lic *models.License
	err := a.store.InTx(ctx, func(tx Tx) error {
		var err error
		lic, err = tx.GetLicenseByIDForUpdate(ctx, id)
		if err != nil {
			return fmt.Errorf("get license: %w", err)
		}
		if !canSee(actor, lic) {
			return fmt.Errorf("get license: %w", ErrNotFound)
		}
		if lic.Status == models.LicenseStatusRevoked {
			return ReasonRevoked.Err()
		}

		days := 0
		if extensionDays != nil {
			days = *extensionDays
		} else {
			plan, err := a.store.GetPlanByID(ctx, lic.PlanID)
			if err != nil {
				return fmt.Errorf("get plan: %w", err)
			}
			days = plan.DurationDays
		}

		now := a.now()
		before = lic.ExpiresAt
		if lic.ExpiresAt != nil {
			lic.ExpiresAt = ptrTime(renewedExpiry(*lic.ExpiresAt, now, days))
		}
		lic.Status = models.LicenseStatusActive
		lic.RenewedAt = &now
		lic.UpdatedAt = now

		if err := tx.UpdateLicense(ctx, lic); err != nil {
			return fmt.Errorf("update license: %w", err)
		}
		return nil
	})
	if err != nil {
		return nil, err
	}

	entry := models.NewAuditLog(models.AuditActionLicenseRenew, "license").
		WithActor(actor).
		WithTarget(lic.ID).
		WithDetail("expires_at_before", before).
		WithDetail("expires_at_after", lic.ExpiresAt)
	if lic.IssuedToOrgID != nil {
		entry.WithOrg(*lic.IssuedToOrgID)
	}
	a.auditor.Record(ctx, entry)
	a.metrics.RecordLicenseOperation("renew")

	return lic, nil
}

// renewedExpiry extends from the later of the current expiry and now, so
// renewing early never shortens the remaining term.
func renewedExpiry(current, now time.Time, days int) time.Time {
	base := current
	if now.After(base) {
		base = now
	}
	return base.Add(time.Duration(days) * day)
}

// Revoke terminally revokes a license and deactivates all of its devices.
// Revoking an already revoked license returns it unchanged.
func (a *Authority) Revoke(ctx context.Context, actor models.Actor, id uuid.UUID, reason string) (*models.License, error) {
	if !actor.Role.AtLeast(models.RoleAdmin) {
		return nil, ReasonForbidden.Err()
	}

	var (
		lic         *models.License
		deactivated int64
		noop        bool
	)
	err := a.store.InTx(ctx, func(tx Tx) error {
		var err error
		lic, err = tx.GetLicenseByIDForUpdate(ctx, id)
		if err != nil {
			return fmt.Errorf("get license: %w", err)
		}
		if !canSee(actor, lic) {
			return fmt.Errorf("get license: %w", ErrNotFound)
		}
		if lic.Status == models.LicenseStatusRevoked {
			noop = true
			return nil
		}

		now := a.now()
		lic.Status = models.LicenseStatusRevoked
		lic.RevokedAt = &now
		lic.RevokedReason = strings.TrimSpace(reason)
		lic.UpdatedAt = now
		if err := tx.UpdateLicense(ctx, lic); err != nil {
			return fmt.Errorf("update license: %w", err)
		}

		deactivated, err = tx.DeactivateLicenseActivations(ctx, lic.ID, now)
		if err != nil {
			return fmt.Errorf("deactivate activations: %w", err)
		}
		return nil
	})
	if err != nil {
		return nil, err
	}
	if noop {
		return lic, nil
	}

	entry := models.NewAuditLog(models.AuditActionLicenseRevoke, "license").
		WithActor(actor).
		WithTarget(lic.ID).
		WithDetail("reason", lic.RevokedReason).
		WithDetail("devices_deactivated", deactivated)
	if lic.IssuedToOrgID != nil {
		entry.WithOrg(*lic.IssuedToOrgID)
	}
	a.auditor.Record(ctx, entry)
	a.metrics.RecordLicenseOperation("revoke")

	a.logger.Info().
		Str("license_id", lic.ID.String()).
		Int64("devices_deactivated", deactivated).
		Msg("license revoked")

	return lic, nil
}

// Get returns a license visible to the actor, with its effective status.
func (a *Authority) Get(ctx context.Context, actor models.Actor, id uuid.UUID) (*models.License, error) {
	if !actor.Role.AtLeast(models.RoleAdmin) {
		return nil, ReasonForbidden.Err()
	}
	lic, err := a.store.GetLicenseByID(ctx, id)
	if err != nil {
		return nil, fmt.Errorf("get license: %w", err)
	}
	if !canSee(actor, lic) {
		return nil, fmt.Errorf("get license: %w", ErrNotFound)
	}
	lic.Status = lic.EffectiveStatus(a.now())
	return lic, nil
}

// List returns licenses visible to the actor. Admins only ever see their own
// organization regardless of the requested filter.
func (a *Authority) List(ctx context.Context, actor models.Actor, filter LicenseFilter) ([]*models.License, error) {
	if !actor.Role.AtLeast(models.RoleAdmin) {
		return nil, ReasonForbidden.Err()
	}
	if !actor.IsSuperAdmin() {
		orgID := actor.OrgID
		filter.OrgID = &orgID
	}

	filter.Now = a.now()

	licenses, err := a.store.ListLicenses(ctx, filter)
	if err != nil {
		return nil, fmt.Errorf("list licenses: %w", err)
	}
	for _, lic := range licenses {
		lic.Status = lic.EffectiveStatus(filter.Now)
	}
	return licenses, nil
}

// ListActivations returns every activation, active or not, under a license.
func (a *Authority) ListActivations(ctx context.Context, actor models.Actor, licenseID uuid.UUID) ([]*models.Activation, error) {
	if _, err := a.Get(ctx, actor, licenseID); err != nil {
		return nil, err
	}
	acts, err := a.store.ListActivationsByLicense(ctx, licenseID)
	if err != nil {
		return nil, fmt.Errorf("list activations: %w", err)
	}
	return acts, nil
}

// canSee reports whether actor may read lic. Unbound licenses are visible
// to super admins only.
func canSee(actor models.Actor, lic *models.License) bool {
	if actor.IsSuperAdmin() {
		return true
	}
	return lic.IsBoundTo(actor.OrgID)
}

func ptrTime(t time.Time) *time.Time {
	return &t
}
