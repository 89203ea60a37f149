package models

import (
	"time"

	"github.com/google/uuid"
)

// LicenseStatus represents the stored status of a license.
type LicenseStatus string

const (
	// LicenseStatusActive means the license can be activated and validated.
	LicenseStatusActive LicenseStatus = "active"
	// LicenseStatusExpired means the license passed its expiry.
	LicenseStatusExpired LicenseStatus = "expired"
	// LicenseStatusRevoked means the license was revoked. It is terminal.
	LicenseStatusRevoked LicenseStatus = "revoked"
)

// IsValid checks if the status is one of the known values.
func (s LicenseStatus) IsValid() bool {
	switch s {
	case LicenseStatusActive, LicenseStatusExpired, LicenseStatusRevoked:
		return true
	}
	return false
}

// License is an issued entitlement. Only the hash of its key is stored.
type License struct {
	ID            uuid.UUID      `json:"id"`
	KeyHash       string         `json:"-"`
	Status        LicenseStatus  `json:"status"`
	PlanID        uuid.UUID      `json:"plan_id"`
	PlanCode      string         `json:"plan_code"`
	SeatsTotal    int            `json:"seats_total"`
	IssuedToOrgID *uuid.UUID     `json:"issued_to_org_id,omitempty"`
	ExpiresAt     *time.Time     `json:"expires_at,omitempty"`
	IssuedAt      time.Time      `json:"issued_at"`
	RenewedAt     *time.Time     `json:"renewed_at,omitempty"`
	RevokedAt     *time.Time     `json:"revoked_at,omitempty"`
	RevokedReason string         `json:"revoked_reason,omitempty"`
	Metadata      map[string]any `json:"metadata,omitempty"`
	CreatedAt     time.Time      `json:"created_at"`
	UpdatedAt     time.Time      `json:"updated_at"`
}

// NewLicense creates an active license for the given plan and key hash.
func NewLicense(plan *Plan, keyHash string, seats int) *License {
	now := time.Now()
	return &License{
		ID:         uuid.New(),
		KeyHash:    keyHash,
		Status:     LicenseStatusActive,
		PlanID:     plan.ID,
		PlanCode:   plan.Code,
		SeatsTotal: seats,
		IssuedAt:   now,
		Metadata:   map[string]any{},
		CreatedAt:  now,
		UpdatedAt:  now,
	}
}

// EffectiveStatus derives the status at the given instant without mutating
// the license: revoked wins, then an active license past its expiry reads as
// expired, otherwise the stored status applies.
func EffectiveStatus(stored LicenseStatus, expiresAt *time.Time, now time.Time) LicenseStatus {
	if stored == LicenseStatusRevoked {
		return LicenseStatusRevoked
	}
	if stored == LicenseStatusActive && expiresAt != nil && !now.Before(*expiresAt) {
		return LicenseStatusExpired
	}
	return stored
}

// EffectiveStatus returns the license status as of now.
func (l *License) EffectiveStatus(now time.Time) LicenseStatus {
	return EffectiveStatus(l.Status, l.ExpiresAt, now)
}

// IsBoundTo reports whether the license is bound to the given organization.
func (l *License) IsBoundTo(orgID uuid.UUID) bool {
	return l.IssuedToOrgID != nil && *l.IssuedToOrgID == orgID
}
