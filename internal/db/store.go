package db

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgconn"
	"github.com/wabdesk/wabdesk/internal/license"
	"github.com/wabdesk/wabdesk/internal/models"
)

// uniqueViolation is the SQLSTATE for unique constraint failures.
const uniqueViolation = "23505"

// querier is the subset of pgxpool.Pool and pgx.Tx used by the queries
// below, so the same helpers serve both pooled and transactional access.
type querier interface {
	Exec(ctx context.Context, sql string, args ...any) (pgconn.CommandTag, error)
	Query(ctx context.Context, sql string, args ...any) (pgx.Rows, error)
	QueryRow(ctx context.Context, sql string, args ...any) pgx.Row
}

// rowScanner is satisfied by pgx.Row and pgx.Rows.
type rowScanner interface {
	Scan(dest ...any) error
}

var _ license.Store = (*DB)(nil)

// mapErr converts driver errors into the license error taxonomy.
func mapErr(err error) error {
	if err == nil {
		return nil
	}
	if errors.Is(err, pgx.ErrNoRows) {
		return license.ErrNotFound
	}
	var pgErr *pgconn.PgError
	if errors.As(err, &pgErr) && pgErr.Code == uniqueViolation {
		return fmt.Errorf("%w: %s", license.ErrDuplicate, pgErr.ConstraintName)
	}
	return err
}

// jsonMap returns m or an empty map so JSONB NOT NULL columns never see NULL.
func jsonMap(m map[string]any) map[string]any {
	if m == nil {
		return map[string]any{}
	}
	return m
}

// InTx runs fn inside a read-committed transaction. License rows read
// through the transaction are locked until commit.
func (db *DB) InTx(ctx context.Context, fn func(tx license.Tx) error) error {
	return db.ExecTx(ctx, func(tx pgx.Tx) error {
		return fn(&txStore{q: tx})
	})
}

// txStore implements license.Tx on top of a pgx transaction.
type txStore struct {
	q querier
}

var _ license.Tx = (*txStore)(nil)

func (t *txStore) GetLicenseByHashForUpdate(ctx context.Context, keyHash string) (*models.License, error) {
	return getLicense(ctx, t.q, "key_hash = $1 FOR UPDATE", keyHash)
}

func (t *txStore) GetLicenseByIDForUpdate(ctx context.Context, id uuid.UUID) (*models.License, error) {
	return getLicense(ctx, t.q, "id = $1 FOR UPDATE", id)
}

func (t *txStore) UpdateLicense(ctx context.Context, lic *models.License) error {
	return updateLicense(ctx, t.q, lic)
}

// BindLicenseOrg binds the license only while it is still unbound, so two
// organizations racing for the first activation cannot both win.
func (t *txStore) BindLicenseOrg(ctx context.Context, licenseID, orgID uuid.UUID) (bool, error) {
	tag, err := t.q.Exec(ctx, `
		UPDATE licenses
		SET issued_to_org_id = $2, updated_at = NOW()
		WHERE id = $1 AND issued_to_org_id IS NULL
	`, licenseID, orgID)
	if err != nil {
		return false, fmt.Errorf("bind license org: %w", err)
	}
	return tag.RowsAffected() == 1, nil
}

func (t *txStore) GetActivationByID(ctx context.Context, id uuid.UUID) (*models.Activation, error) {
	return getActivation(ctx, t.q, "id = $1", id)
}

func (t *txStore) GetActiveActivation(ctx context.Context, orgID uuid.UUID, deviceID string) (*models.Activation, error) {
	return getActivation(ctx, t.q, "org_id = $1 AND device_id = $2 AND deactivated_at IS NULL", orgID, deviceID)
}

func (t *txStore) GetLatestActivation(ctx context.Context, orgID uuid.UUID, deviceID string) (*models.Activation, error) {
	return getActivation(ctx, t.q, "org_id = $1 AND device_id = $2 ORDER BY activated_at DESC LIMIT 1", orgID, deviceID)
}

func (t *txStore) CountActiveActivations(ctx context.Context, licenseID uuid.UUID) (int, error) {
	var n int
	err := t.q.QueryRow(ctx, `
		SELECT COUNT(*) FROM activations
		WHERE license_id = $1 AND deactivated_at IS NULL
	`, licenseID).Scan(&n)
	if err != nil {
		return 0, fmt.Errorf("count active activations: %w", err)
	}
	return n, nil
}

func (t *txStore) CreateActivation(ctx context.Context, act *models.Activation) error {
	_, err := t.q.Exec(ctx, `
		INSERT INTO activations (id, license_id, org_id, device_id, device_label, user_id,
		                         app_version, activated_at, last_heartbeat, last_validated_at)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10)
	`, act.ID, act.LicenseID, act.OrgID, act.DeviceID, act.DeviceLabel, act.UserID,
		act.AppVersion, act.ActivatedAt, act.LastHeartbeat, act.LastValidatedAt)
	if err != nil {
		return fmt.Errorf("create activation: %w", mapErr(err))
	}
	return nil
}

func (t *txStore) TouchActivation(ctx context.Context, act *models.Activation) error {
	tag, err := t.q.Exec(ctx, `
		UPDATE activations
		SET last_heartbeat = $2, last_validated_at = $3, app_version = $4
		WHERE id = $1
	`, act.ID, act.LastHeartbeat, act.LastValidatedAt, act.AppVersion)
	if err != nil {
		return fmt.Errorf("touch activation: %w", err)
	}
	if tag.RowsAffected() == 0 {
		return fmt.Errorf("touch activation: %w", license.ErrNotFound)
	}
	return nil
}

func (t *txStore) DeactivateActivation(ctx context.Context, id uuid.UUID, at time.Time) (bool, error) {
	tag, err := t.q.Exec(ctx, `
		UPDATE activations SET deactivated_at = $2
		WHERE id = $1 AND deactivated_at IS NULL
	`, id, at)
	if err != nil {
		return false, fmt.Errorf("deactivate activation: %w", err)
	}
	return tag.RowsAffected() == 1, nil
}

func (t *txStore) DeactivateLicenseActivations(ctx context.Context, licenseID uuid.UUID, at time.Time) (int64, error) {
	tag, err := t.q.Exec(ctx, `
		UPDATE activations SET deactivated_at = $2
		WHERE license_id = $1 AND deactivated_at IS NULL
	`, licenseID, at)
	if err != nil {
		return 0, fmt.Errorf("deactivate license activations: %w", err)
	}
	return tag.RowsAffected(), nil
}
