package db

import (
	"context"
	"fmt"

	"github.com/google/uuid"
	"github.com/wabdesk/wabdesk/internal/license"
	"github.com/wabdesk/wabdesk/internal/models"
)

const licenseColumns = `
	id, key_hash, status, plan_id, plan_code, seats_total, issued_to_org_id,
	expires_at, issued_at, renewed_at, revoked_at, revoked_reason, metadata,
	created_at, updated_at`

func scanLicense(row rowScanner) (*models.License, error) {
	var lic models.License
	var status string
	err := row.Scan(
		&lic.ID, &lic.KeyHash, &status, &lic.PlanID, &lic.PlanCode, &lic.SeatsTotal, &lic.IssuedToOrgID,
		&lic.ExpiresAt, &lic.IssuedAt, &lic.RenewedAt, &lic.RevokedAt, &lic.RevokedReason, &lic.Metadata,
		&lic.CreatedAt, &lic.UpdatedAt,
	)
	if err != nil {
		return nil, err
	}
	lic.Status = models.LicenseStatus(status)
	return &lic, nil
}

func getLicense(ctx context.Context, q querier, where string, args ...any) (*models.License, error) {
	lic, err := scanLicense(q.QueryRow(ctx, `SELECT `+licenseColumns+` FROM licenses WHERE `+where, args...))
	if err != nil {
		return nil, fmt.Errorf("get license: %w", mapErr(err))
	}
	return lic, nil
}

func updateLicense(ctx context.Context, q querier, lic *models.License) error {
	tag, err := q.Exec(ctx, `
		UPDATE licenses
		SET status = $2, seats_total = $3, expires_at = $4, renewed_at = $5,
		    revoked_at = $6, revoked_reason = $7, metadata = $8, updated_at = $9
		WHERE id = $1
	`, lic.ID, string(lic.Status), lic.SeatsTotal, lic.ExpiresAt, lic.RenewedAt,
		lic.RevokedAt, lic.RevokedReason, jsonMap(lic.Metadata), lic.UpdatedAt)
	if err != nil {
		return fmt.Errorf("update license: %w", err)
	}
	if tag.RowsAffected() == 0 {
		return fmt.Errorf("update license: %w", license.ErrNotFound)
	}
	return nil
}

// CreateLicense inserts a new license. A key hash collision returns
// license.ErrDuplicate.
func (db *DB) CreateLicense(ctx context.Context, lic *models.License) error {
	_, err := db.Pool.Exec(ctx, `
		INSERT INTO licenses (id, key_hash, status, plan_id, plan_code, seats_total, issued_to_org_id,
		                      expires_at, issued_at, metadata, created_at, updated_at)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10, $11, $12)
	`, lic.ID, lic.KeyHash, string(lic.Status), lic.PlanID, lic.PlanCode, lic.SeatsTotal, lic.IssuedToOrgID,
		lic.ExpiresAt, lic.IssuedAt, jsonMap(lic.Metadata), lic.CreatedAt, lic.UpdatedAt)
	if err != nil {
		return fmt.Errorf("create license: %w", mapErr(err))
	}
	return nil
}

// GetLicenseByID returns a license without locking it.
func (db *DB) GetLicenseByID(ctx context.Context, id uuid.UUID) (*models.License, error) {
	return getLicense(ctx, db.Pool, "id = $1", id)
}

// ListLicenses returns licenses matching the filter, newest first. The
// status filter compares against the effective status at filter.Now.
func (db *DB) ListLicenses(ctx context.Context, filter license.LicenseFilter) ([]*models.License, error) {
	query := `SELECT ` + licenseColumns + ` FROM licenses WHERE 1=1`
	var args []any
	argIdx := 1

	if filter.OrgID != nil {
		query += fmt.Sprintf(" AND issued_to_org_id = $%d", argIdx)
		args = append(args, *filter.OrgID)
		argIdx++
	}

	switch filter.Status {
	case models.LicenseStatusActive:
		query += fmt.Sprintf(" AND status = 'active' AND (expires_at IS NULL OR expires_at > $%d)", argIdx)
		args = append(args, filter.Now)
		argIdx++
	case models.LicenseStatusExpired:
		query += fmt.Sprintf(" AND (status = 'expired' OR (status = 'active' AND expires_at <= $%d))", argIdx)
		args = append(args, filter.Now)
		argIdx++
	case models.LicenseStatusRevoked:
		query += " AND status = 'revoked'"
	}

	query += " ORDER BY issued_at DESC"

	if filter.Limit > 0 {
		query += fmt.Sprintf(" LIMIT $%d", argIdx)
		args = append(args, filter.Limit)
		argIdx++
	}
	if filter.Offset > 0 {
		query += fmt.Sprintf(" OFFSET $%d", argIdx)
		args = append(args, filter.Offset)
	}

	rows, err := db.Pool.Query(ctx, query, args...)
	if err != nil {
		return nil, fmt.Errorf("list licenses: %w", err)
	}
	defer rows.Close()

	var licenses []*models.License
	for rows.Next() {
		lic, err := scanLicense(rows)
		if err != nil {
			return nil, fmt.Errorf("scan license: %w", err)
		}
		licenses = append(licenses, lic)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterate licenses: %w", err)
	}

	return licenses, nil
}
