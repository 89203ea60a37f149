package db

import (
	"context"
	"fmt"

	"github.com/google/uuid"
	"github.com/wabdesk/wabdesk/internal/license"
	"github.com/wabdesk/wabdesk/internal/models"
)

// CreateAPIToken inserts a new bearer token record.
func (db *DB) CreateAPIToken(ctx context.Context, token *models.APIToken) error {
	_, err := db.Pool.Exec(ctx, `
		INSERT INTO api_tokens (id, org_id, user_id, role, name, token_hash, created_at)
		VALUES ($1, $2, $3, $4, $5, $6, $7)
	`, token.ID, token.OrgID, token.UserID, string(token.Role), token.Name, token.TokenHash, token.CreatedAt)
	if err != nil {
		return fmt.Errorf("create api token: %w", mapErr(err))
	}
	return nil
}

// GetAPITokenByHash returns an unrevoked token by its hash.
func (db *DB) GetAPITokenByHash(ctx context.Context, tokenHash string) (*models.APIToken, error) {
	var t models.APIToken
	var role string
	err := db.Pool.QueryRow(ctx, `
		SELECT id, org_id, user_id, role, name, token_hash, created_at, last_used_at, revoked_at
		FROM api_tokens
		WHERE token_hash = $1 AND revoked_at IS NULL
	`, tokenHash).Scan(&t.ID, &t.OrgID, &t.UserID, &role, &t.Name, &t.TokenHash,
		&t.CreatedAt, &t.LastUsedAt, &t.RevokedAt)
	if err != nil {
		return nil, fmt.Errorf("get api token: %w", mapErr(err))
	}
	t.Role = models.Role(role)
	return &t, nil
}

// TouchAPIToken records that a token was just used.
func (db *DB) TouchAPIToken(ctx context.Context, id uuid.UUID) error {
	_, err := db.Pool.Exec(ctx, `UPDATE api_tokens SET last_used_at = NOW() WHERE id = $1`, id)
	if err != nil {
		return fmt.Errorf("touch api token: %w", err)
	}
	return nil
}

// RevokeAPIToken marks a token as revoked.
func (db *DB) RevokeAPIToken(ctx context.Context, id uuid.UUID) error {
	tag, err := db.Pool.Exec(ctx, `
		UPDATE api_tokens SET revoked_at = NOW()
		WHERE id = $1 AND revoked_at IS NULL
	`, id)
	if err != nil {
		return fmt.Errorf("revoke api token: %w", err)
	}
	if tag.RowsAffected() == 0 {
		return fmt.Errorf("revoke api token: %w", license.ErrNotFound)
	}
	return nil
}
