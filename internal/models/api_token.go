package models

import (
	"time"

	"github.com/google/uuid"
)

// APIToken is a bearer credential. Only the SHA-256 hash is persisted.
type APIToken struct {
	ID         uuid.UUID  `json:"id"`
	OrgID      uuid.UUID  `json:"org_id"`
	UserID     uuid.UUID  `json:"user_id"`
	Role       Role       `json:"role"`
	Name       string     `json:"name"`
	TokenHash  string     `json:"-"`
	CreatedAt  time.Time  `json:"created_at"`
	LastUsedAt *time.Time `json:"last_used_at,omitempty"`
	RevokedAt  *time.Time `json:"revoked_at,omitempty"`
}

// NewAPIToken creates a token record for the given hash.
func NewAPIToken(orgID, userID uuid.UUID, role Role, name, tokenHash string) *APIToken {
	return &APIToken{
		ID:        uuid.New(),
		OrgID:     orgID,
		UserID:    userID,
		Role:      role,
		Name:      name,
		TokenHash: tokenHash,
		CreatedAt: time.Now(),
	}
}

// Actor returns the caller identity carried by the token.
func (t *APIToken) Actor() Actor {
	return Actor{UserID: t.UserID, OrgID: t.OrgID, Role: t.Role}
}

// IsRevoked reports whether the token can no longer be used.
func (t *APIToken) IsRevoked() bool {
	return t.RevokedAt != nil
}
