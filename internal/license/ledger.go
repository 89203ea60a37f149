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

// Ledger records which devices hold seats on which licenses.
type Ledger struct {
	store   Store
	auditor *Auditor
	metrics *metrics.PrometheusMetrics
	logger  zerolog.Logger
	now     func() time.Time
}

// NewLedger creates a new activation ledger.
func NewLedger(cfg ServiceConfig) *Ledger {
	return &Ledger{
		store:   cfg.Store,
		auditor: NewAuditor(cfg.Audit, cfg.Metrics, cfg.Logger),
		metrics: cfg.Metrics,
		logger:  cfg.Logger.With().Str("component", "activation_ledger").Logger(),
		now:     cfg.clock(),
	}
}

// ActivateInput is a device's request for a seat.
type ActivateInput struct {
	// LicenseKey is either the plaintext key or its hash.
	LicenseKey  string
	DeviceID    string
	DeviceLabel string
	AppVersion  string
}

// ActivationResult is the outcome of Activate. Rejections set Reason and
// leave Activated false; they are not errors.
type ActivationResult struct {
	Activated  bool
	Reason     Reason
	Activation *models.Activation
	License    *models.License
	// Existing is true when an already active seat was returned.
	Existing bool
}

// CheckResult is the outcome of Heartbeat and Validate.
type CheckResult struct {
	Valid      bool
	Reason     Reason
	Activation *models.Activation
	License    *models.License
}

// Activate claims a seat for the actor's device. Gates run in order and
// binding happens only after every rejection check has passed.
func (l *Ledger) Activate(ctx context.Context, actor models.Actor, in ActivateInput) (*ActivationResult, error) {
	deviceID := strings.TrimSpace(in.DeviceID)
	if deviceID == "" {
		return nil, fmt.Errorf("%w: deviceId is required", ErrInvalidInput)
	}

	var keyHash string
	switch key := strings.TrimSpace(in.LicenseKey); {
	case LooksLikeKeyHash(key):
		keyHash = key
	case ValidateKeyFormat(key):
		keyHash = HashKey(key)
	default:
		l.metrics.RecordActivation(string(ReasonInvalidKey))
		return &ActivationResult{Reason: ReasonInvalidKey}, nil
	}

	res := &ActivationResult{}
	var released *models.Activation
	err := l.store.InTx(ctx, func(tx Tx) error {
		released = nil
		now := l.now()

		// 1. resolve
		lic, err := tx.GetLicenseByHashForUpdate(ctx, keyHash)
		if errors.Is(err, ErrNotFound) {
			res.Reason = ReasonNotFound
			return nil
		}
		if err != nil {
			return fmt.Errorf("get license: %w", err)
		}
		res.License = lic

		// 2. status, flipping stale active rows to expired
		if reason, err := l.checkStatus(ctx, tx, lic, now); err != nil || reason != ReasonNone {
			res.Reason = reason
			return err
		}

		// 3. org binding
		if lic.IssuedToOrgID != nil && *lic.IssuedToOrgID != actor.OrgID {
			res.Reason = ReasonOrgMismatch
			return nil
		}

		// 4. idempotent re-activation
		existing, err := tx.GetActiveActivation(ctx, actor.OrgID, deviceID)
		if err != nil && !errors.Is(err, ErrNotFound) {
			return fmt.Errorf("get active activation: %w", err)
		}
		if existing != nil && existing.LicenseID != lic.ID {
			// A seat held on a lapsed license is released at insert time so
			// the device can move onto the new key.
			prev, err := tx.GetLicenseByIDForUpdate(ctx, existing.LicenseID)
			if err != nil {
				return fmt.Errorf("get previous license: %w", err)
			}
			if prev.EffectiveStatus(now) == models.LicenseStatusActive {
				res.Reason = ReasonAlreadyActivated
				return nil
			}
			released, existing = existing, nil
		}
		if existing != nil {
			existing.LastHeartbeat = &now
			existing.LastValidatedAt = &now
			if in.AppVersion != "" {
				existing.AppVersion = in.AppVersion
			}
			if err := tx.TouchActivation(ctx, existing); err != nil {
				return fmt.Errorf("refresh activation: %w", err)
			}
			res.Activated, res.Existing, res.Activation = true, true, existing
			return nil
		}

		// 5. seat cap
		used, err := tx.CountActiveActivations(ctx, lic.ID)
		if err != nil {
			return fmt.Errorf("count activations: %w", err)
		}
		if used >= lic.SeatsTotal {
			res.Reason = ReasonSeatLimit
			return nil
		}

		// 6. first activation wins the binding
		if lic.IssuedToOrgID == nil {
			bound, err := tx.BindLicenseOrg(ctx, lic.ID, actor.OrgID)
			if err != nil {
				return fmt.Errorf("bind license: %w", err)
			}
			if !bound {
				res.Reason = ReasonOrgMismatch
				return nil
			}
			orgID := actor.OrgID
			lic.IssuedToOrgID = &orgID
		}

		// 7. insert
		if released != nil {
			if _, err := tx.DeactivateActivation(ctx, released.ID, now); err != nil {
				return fmt.Errorf("release lapsed activation: %w", err)
			}
			released.DeactivatedAt = &now
		}
		act := models.NewActivation(lic.ID, actor.OrgID, deviceID, now)
		act.DeviceLabel = strings.TrimSpace(in.DeviceLabel)
		act.AppVersion = in.AppVersion
		if actor.UserID != uuid.Nil {
			userID := actor.UserID
			act.UserID = &userID
		}
		if err := tx.CreateActivation(ctx, act); err != nil {
			return fmt.Errorf("create activation: %w", err)
		}
		res.Activated, res.Activation = true, act
		return nil
	})
	if errors.Is(err, ErrDuplicate) {
		// The partial unique index on (org, device) caught a concurrent
		// activation of the same device under a different license.
		res, err = &ActivationResult{Reason: ReasonAlreadyActivated}, nil
	}
	if err != nil {
		return nil, err
	}

	outcome := string(res.Reason)
	if res.Activated {
		outcome = "activated"
	}
	l.metrics.RecordActivation(outcome)

	if released != nil && res.Activated && !res.Existing {
		l.auditDeactivation(ctx, actor, released)
	}

	if res.Activated && !res.Existing {
		l.auditor.Record(ctx, models.NewAuditLog(models.AuditActionActivationCreate, "activation").
			WithActor(actor).
			WithOrg(actor.OrgID).
			WithTarget(res.Activation.ID).
			WithDetail("license_id", res.License.ID).
			WithDetail("device_id", res.Activation.DeviceID))
	}

	l.logger.Debug().
		Str("org_id", actor.OrgID.String()).
		Str("device_id", deviceID).
		Str("outcome", outcome).
		Msg("activation processed")

	return res, nil
}

// Heartbeat confirms a device still holds a valid seat and stamps both its
// heartbeat and validation times.
func (l *Ledger) Heartbeat(ctx context.Context, actor models.Actor, deviceID, appVersion string) (*CheckResult, error) {
	res, err := l.check(ctx, actor, deviceID, func(act *models.Activation, now time.Time) {
		act.LastHeartbeat = &now
		act.LastValidatedAt = &now
		if appVersion != "" {
			act.AppVersion = appVersion
		}
	})
	if err != nil {
		return nil, err
	}
	l.metrics.RecordHeartbeat(checkOutcome(res))
	return res, nil
}

// Validate is the startup check. It stamps only the validation time.
func (l *Ledger) Validate(ctx context.Context, actor models.Actor, deviceID string) (*CheckResult, error) {
	res, err := l.check(ctx, actor, deviceID, func(act *models.Activation, now time.Time) {
		act.LastValidatedAt = &now
	})
	if err != nil {
		return nil, err
	}
	l.metrics.RecordValidation(checkOutcome(res))
	return res, nil
}

func (l *Ledger) check(ctx context.Context, actor models.Actor, deviceID string, stamp func(*models.Activation, time.Time)) (*CheckResult, error) {
	deviceID = strings.TrimSpace(deviceID)
	if deviceID == "" {
		return nil, fmt.Errorf("%w: deviceId is required", ErrInvalidInput)
	}

	res := &CheckResult{}
	err := l.store.InTx(ctx, func(tx Tx) error {
		now := l.now()

		act, err := tx.GetActiveActivation(ctx, actor.OrgID, deviceID)
		if errors.Is(err, ErrNotFound) {
			res.Reason, err = l.inactiveReason(ctx, tx, actor.OrgID, deviceID)
			return err
		}
		if err != nil {
			return fmt.Errorf("get active activation: %w", err)
		}
		res.Activation = act

		lic, err := tx.GetLicenseByIDForUpdate(ctx, act.LicenseID)
		if err != nil {
			return fmt.Errorf("get license: %w", err)
		}
		res.License = lic

		if reason, err := l.checkStatus(ctx, tx, lic, now); err != nil || reason != ReasonNone {
			res.Reason = reason
			return err
		}

		stamp(act, now)
		if err := tx.TouchActivation(ctx, act); err != nil {
			return fmt.Errorf("touch activation: %w", err)
		}
		res.Valid = true
		return nil
	})
	if err != nil {
		return nil, err
	}
	return res, nil
}

// inactiveReason explains why a device has no active seat. Revocation
// deactivates seats, so a device whose latest seat sits on a revoked license
// is told "revoked" rather than "not_activated".
func (l *Ledger) inactiveReason(ctx context.Context, tx Tx, orgID uuid.UUID, deviceID string) (Reason, error) {
	latest, err := tx.GetLatestActivation(ctx, orgID, deviceID)
	if errors.Is(err, ErrNotFound) {
		return ReasonNotActivated, nil
	}
	if err != nil {
		return ReasonNone, fmt.Errorf("get latest activation: %w", err)
	}

	lic, err := tx.GetLicenseByIDForUpdate(ctx, latest.LicenseID)
	if err != nil {
		return ReasonNone, fmt.Errorf("get license: %w", err)
	}
	if lic.Status == models.LicenseStatusRevoked {
		return ReasonRevoked, nil
	}
	return ReasonNotActivated, nil
}

// checkStatus rejects revoked and expired licenses, persisting the expired
// status when a stale active row is found past its expiry.
func (l *Ledger) checkStatus(ctx context.Context, tx Tx, lic *models.License, now time.Time) (Reason, error) {
	switch lic.EffectiveStatus(now) {
	case models.LicenseStatusRevoked:
		return ReasonRevoked, nil
	case models.LicenseStatusExpired:
		if lic.Status != models.LicenseStatusExpired {
			lic.Status = models.LicenseStatusExpired
			lic.UpdatedAt = now
			if err := tx.UpdateLicense(ctx, lic); err != nil {
				return ReasonNone, fmt.Errorf("mark license expired: %w", err)
			}
			l.logger.Info().Str("license_id", lic.ID.String()).Msg("license marked expired")
		}
		return ReasonExpired, nil
	}
	return ReasonNone, nil
}

// Deactivate releases the seat held by an activation. Rows that are already
// inactive, or that belong to another organization, are reported as not found.
func (l *Ledger) Deactivate(ctx context.Context, actor models.Actor, activationID uuid.UUID) error {
	if !actor.Role.AtLeast(models.RoleAdmin) {
		return ReasonForbidden.Err()
	}

	var act *models.Activation
	err := l.store.InTx(ctx, func(tx Tx) error {
		var err error
		act, err = tx.GetActivationByID(ctx, activationID)
		if err != nil {
			return fmt.Errorf("get activation: %w", err)
		}
		if !actor.CanAccessOrg(act.OrgID) {
			return fmt.Errorf("get activation: %w", ErrNotFound)
		}
		return l.release(ctx, tx, act)
	})
	if err != nil {
		return err
	}

	l.auditDeactivation(ctx, actor, act)
	return nil
}

// DeactivateDevice releases the seat held by the actor's own device.
func (l *Ledger) DeactivateDevice(ctx context.Context, actor models.Actor, deviceID string) error {
	deviceID = strings.TrimSpace(deviceID)
	if deviceID == "" {
		return fmt.Errorf("%w: deviceId is required", ErrInvalidInput)
	}

	var act *models.Activation
	err := l.store.InTx(ctx, func(tx Tx) error {
		var err error
		act, err = tx.GetActiveActivation(ctx, actor.OrgID, deviceID)
		if err != nil {
			return fmt.Errorf("get active activation: %w", err)
		}
		return l.release(ctx, tx, act)
	})
	if err != nil {
		return err
	}

	l.auditDeactivation(ctx, actor, act)
	return nil
}

func (l *Ledger) release(ctx context.Context, tx Tx, act *models.Activation) error {
	if !act.IsActive() {
		return fmt.Errorf("activation %s: %w", act.ID, ErrNotFound)
	}
	now := l.now()
	ok, err := tx.DeactivateActivation(ctx, act.ID, now)
	if err != nil {
		return fmt.Errorf("deactivate activation: %w", err)
	}
	if !ok {
		return fmt.Errorf("activation %s: %w", act.ID, ErrNotFound)
	}
	act.DeactivatedAt = &now
	return nil
}

func (l *Ledger) auditDeactivation(ctx context.Context, actor models.Actor, act *models.Activation) {
	l.auditor.Record(ctx, models.NewAuditLog(models.AuditActionActivationDeactivate, "activation").
		WithActor(actor).
		WithOrg(act.OrgID).
		WithTarget(act.ID).
		WithDetail("license_id", act.LicenseID).
		WithDetail("device_id", act.DeviceID))

	l.logger.Info().
		Str("activation_id", act.ID.String()).
		Str("device_id", act.DeviceID).
		Msg("activation deactivated")
}

func checkOutcome(res *CheckResult) string {
	if res.Valid {
		return "valid"
	}
	return string(res.Reason)
}
