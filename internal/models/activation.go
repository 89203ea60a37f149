package models

import (
	"time"

	"github.com/google/uuid"
)

// Activation binds a device to a license within an organization.
// At most one active row exists per (org, device).
type Activation struct {
	ID              uuid.UUID  `json:"id"`
	LicenseID       uuid.UUID  `json:"license_id"`
	OrgID           uuid.UUID  `json:"org_id"`
	DeviceID        string     `json:"device_id"`
	DeviceLabel     string     `json:"device_label,omitempty"`
	UserID          *uuid.UUID `json:"user_id,omitempty"`
	AppVersion      string     `json:"app_version,omitempty"`
	ActivatedAt     time.Time  `json:"activated_at"`
	LastHeartbeat   *time.Time `json:"last_heartbeat,omitempty"`
	LastValidatedAt *time.Time `json:"last_validated_at,omitempty"`
	DeactivatedAt   *time.Time `json:"deactivated_at,omitempty"`
}

// NewActivation creates an active activation stamped at the given time.
func NewActivation(licenseID, orgID uuid.UUID, deviceID string, now time.Time) *Activation {
	return &Activation{
		ID:              uuid.New(),
		LicenseID:       licenseID,
		OrgID:           orgID,
		DeviceID:        deviceID,
		ActivatedAt:     now,
		LastHeartbeat:   &now,
		LastValidatedAt: &now,
	}
}

// IsActive reports whether the activation still holds a seat.
func (a *Activation) IsActive() bool {
	return a.DeactivatedAt == nil
}
