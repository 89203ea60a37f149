package db

import (
	"context"
	"fmt"

	"github.com/google/uuid"
	"github.com/wabdesk/wabdesk/internal/license"
	"github.com/wabdesk/wabdesk/internal/models"
)

const planColumns = `
	id, name, code, duration_days, max_devices, price_cents, features, is_active,
	created_at, updated_at`

func scanPlan(row rowScanner) (*models.Plan, error) {
	var p models.Plan
	err := row.Scan(
		&p.ID, &p.Name, &p.Code, &p.DurationDays, &p.MaxDevices, &p.PriceCents, &p.Features, &p.IsActive,
		&p.CreatedAt, &p.UpdatedAt,
	)
	if err != nil {
		return nil, err
	}
	return &p, nil
}

// CreatePlan inserts a new plan. A duplicate code returns license.ErrDuplicate.
func (db *DB) CreatePlan(ctx context.Context, plan *models.Plan) error {
	_, err := db.Pool.Exec(ctx, `
		INSERT INTO plans (id, name, code, duration_days, max_devices, price_cents, features, is_active,
		                   created_at, updated_at)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10)
	`, plan.ID, plan.Name, plan.Code, plan.DurationDays, plan.MaxDevices, plan.PriceCents,
		jsonMap(plan.Features), plan.IsActive, plan.CreatedAt, plan.UpdatedAt)
	if err != nil {
		return fmt.Errorf("create plan: %w", mapErr(err))
	}
	return nil
}

// GetPlanByCode returns a plan by its unique code.
func (db *DB) GetPlanByCode(ctx context.Context, code string) (*models.Plan, error) {
	p, err := scanPlan(db.Pool.QueryRow(ctx, `SELECT `+planColumns+` FROM plans WHERE code = $1`, code))
	if err != nil {
		return nil, fmt.Errorf("get plan by code: %w", mapErr(err))
	}
	return p, nil
}

// GetPlanByID returns a plan by ID.
func (db *DB) GetPlanByID(ctx context.Context, id uuid.UUID) (*models.Plan, error) {
	p, err := scanPlan(db.Pool.QueryRow(ctx, `SELECT `+planColumns+` FROM plans WHERE id = $1`, id))
	if err != nil {
		return nil, fmt.Errorf("get plan: %w", mapErr(err))
	}
	return p, nil
}

// ListPlans returns plans ordered by code.
func (db *DB) ListPlans(ctx context.Context, includeInactive bool) ([]*models.Plan, error) {
	rows, err := db.Pool.Query(ctx, `
		SELECT `+planColumns+`
		FROM plans
		WHERE is_active OR $1::boolean
		ORDER BY code
	`, includeInactive)
	if err != nil {
		return nil, fmt.Errorf("list plans: %w", err)
	}
	defer rows.Close()

	var plans []*models.Plan
	for rows.Next() {
		p, err := scanPlan(rows)
		if err != nil {
			return nil, fmt.Errorf("scan plan: %w", err)
		}
		plans = append(plans, p)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterate plans: %w", err)
	}

	return plans, nil
}

// UpdatePlan updates the mutable plan fields.
func (db *DB) UpdatePlan(ctx context.Context, plan *models.Plan) error {
	tag, err := db.Pool.Exec(ctx, `
		UPDATE plans
		SET name = $2, price_cents = $3, features = $4, is_active = $5, updated_at = $6
		WHERE id = $1
	`, plan.ID, plan.Name, plan.PriceCents, jsonMap(plan.Features), plan.IsActive, plan.UpdatedAt)
	if err != nil {
		return fmt.Errorf("update plan: %w", err)
	}
	if tag.RowsAffected() == 0 {
		return fmt.Errorf("update plan: %w", license.ErrNotFound)
	}
	return nil
}
