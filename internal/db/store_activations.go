package db

import (
	"context"
	"fmt"

	"github.com/google/uuid"
	"github.com/wabdesk/wabdesk/internal/models"
)

const activationColumns = `
	id, license_id, org_id, device_id, device_label, user_id, app_version,
	activated_at, last_heartbeat, last_validated_at, deactivated_at`

func scanActivation(row rowScanner) (*models.Activation, error) {
	var a models.Activation
	err := row.Scan(
		&a.ID, &a.LicenseID, &a.OrgID, &a.DeviceID, &a.DeviceLabel, &a.UserID, &a.AppVersion,
		&a.ActivatedAt, &a.LastHeartbeat, &a.LastValidatedAt, &a.DeactivatedAt,
	)
	if err != nil {
		return nil, err
	}
	return &a, nil
}

func getActivation(ctx context.Context, q querier, where string, args ...any) (*models.Activation, error) {
	a, err := scanActivation(q.QueryRow(ctx, `SELECT `+activationColumns+` FROM activations WHERE `+where, args...))
	if err != nil {
		return nil, fmt.Errorf("get activation: %w", mapErr(err))
	}
	return a, nil
}

// ListActivationsByLicense returns all activations of a license, newest first.
func (db *DB) ListActivationsByLicense(ctx context.Context, licenseID uuid.UUID) ([]*models.Activation, error) {
	rows, err := db.Pool.Query(ctx, `
		SELECT `+activationColumns+`
		FROM activations
		WHERE license_id = $1
		ORDER BY activated_at DESC
	`, licenseID)
	if err != nil {
		return nil, fmt.Errorf("list activations: %w", err)
	}
	defer rows.Close()

	var activations []*models.Activation
	for rows.Next() {
		a, err := scanActivation(rows)
		if err != nil {
			return nil, fmt.Errorf("scan activation: %w", err)
		}
		activations = append(activations, a)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterate activations: %w", err)
	}

	return activations, nil
}
