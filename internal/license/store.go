package license

import (
	"context"
	"time"

	"github.com/google/uuid"
	"github.com/wabdesk/wabdesk/internal/models"
)

// LicenseFilter narrows license listings. Status matches the effective
// status as of Now, so active rows past expiry match "expired".
type LicenseFilter struct {
	OrgID  *uuid.UUID
	Status models.LicenseStatus
	Now    time.Time
	Limit  int
	Offset int
}

// Store is the persistence contract for plans, licenses and activations.
// Lookups return ErrNotFound when no row matches and unique violations
// surface as ErrDuplicate.
type Store interface {
	CreatePlan(ctx context.Context, plan *models.Plan) error
	GetPlanByCode(ctx context.Context, code string) (*models.Plan, error)
	GetPlanByID(ctx context.Context, id uuid.UUID) (*models.Plan, error)
	ListPlans(ctx context.Context, includeInactive bool) ([]*models.Plan, error)
	UpdatePlan(ctx context.Context, plan *models.Plan) error

	GetOrganizationByID(ctx context.Context, id uuid.UUID) (*models.Organization, error)

	CreateLicense(ctx context.Context, lic *models.License) error
	GetLicenseByID(ctx context.Context, id uuid.UUID) (*models.License, error)
	ListLicenses(ctx context.Context, filter LicenseFilter) ([]*models.License, error)
	ListActivationsByLicense(ctx context.Context, licenseID uuid.UUID) ([]*models.Activation, error)

	// InTx runs fn in a single transaction. fn returning an error rolls back.
	InTx(ctx context.Context, fn func(tx Tx) error) error
}

// Tx is the transactional view used by state transitions. License reads
// through Tx lock the row until the transaction ends.
type Tx interface {
	GetLicenseByHashForUpdate(ctx context.Context, keyHash string) (*models.License, error)
	GetLicenseByIDForUpdate(ctx context.Context, id uuid.UUID) (*models.License, error)
	UpdateLicense(ctx context.Context, lic *models.License) error
	// BindLicenseOrg sets issued_to_org_id only if it is still unset and
	// reports whether this call performed the binding.
	BindLicenseOrg(ctx context.Context, licenseID, orgID uuid.UUID) (bool, error)

	GetActivationByID(ctx context.Context, id uuid.UUID) (*models.Activation, error)
	GetActiveActivation(ctx context.Context, orgID uuid.UUID, deviceID string) (*models.Activation, error)
	GetLatestActivation(ctx context.Context, orgID uuid.UUID, deviceID string) (*models.Activation, error)
	CountActiveActivations(ctx context.Context, licenseID uuid.UUID) (int, error)
	CreateActivation(ctx context.Context, act *models.Activation) error
	TouchActivation(ctx context.Context, act *models.Activation) error
	// DeactivateActivation reports false when the row was already inactive.
	DeactivateActivation(ctx context.Context, id uuid.UUID, at time.Time) (bool, error)
	DeactivateLicenseActivations(ctx context.Context, licenseID uuid.UUID, at time.Time) (int64, error)
}

// AuditSink persists audit entries.
type AuditSink interface {
	CreateAuditLog(ctx context.Context, entry *models.AuditLog) error
}
