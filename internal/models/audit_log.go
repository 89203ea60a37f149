package models

import (
	"time"

	"github.com/google/uuid"
)

// AuditAction represents the type of action that was audited.
type AuditAction string

const (
	AuditActionPlanCreate     AuditAction = "plan.create"
	AuditActionPlanDeactivate AuditAction = "plan.deactivate"

	AuditActionLicenseIssue  AuditAction = "license.issue"
	AuditActionLicenseRenew  AuditAction = "license.renew"
	AuditActionLicenseRevoke AuditAction = "license.revoke"

	AuditActionActivationCreate     AuditAction = "activation.create"
	AuditActionActivationDeactivate AuditAction = "activation.deactivate"
)

// AuditLog represents a single audit log entry for a state-changing action.
type AuditLog struct {
	ID          uuid.UUID      `json:"id"`
	OrgID       *uuid.UUID     `json:"org_id,omitempty"`
	ActorUserID *uuid.UUID     `json:"actor_user_id,omitempty"`
	ActorRole   Role           `json:"actor_role,omitempty"`
	Action      AuditAction    `json:"action"`
	TargetType  string         `json:"target_type"`
	TargetID    *uuid.UUID     `json:"target_id,omitempty"`
	Details     map[string]any `json:"details,omitempty"`
	CreatedAt   time.Time      `json:"created_at"`
}

// NewAuditLog creates a new AuditLog entry.
func NewAuditLog(action AuditAction, targetType string) *AuditLog {
	return &AuditLog{
		ID:         uuid.New(),
		Action:     action,
		TargetType: targetType,
		Details:    map[string]any{},
		CreatedAt:  time.Now(),
	}
}

// WithActor sets the caller context for the audit log.
func (a *AuditLog) WithActor(actor Actor) *AuditLog {
	if actor.UserID != uuid.Nil {
		userID := actor.UserID
		a.ActorUserID = &userID
	}
	a.ActorRole = actor.Role
	return a
}

// WithOrg sets the organization the action affected.
func (a *AuditLog) WithOrg(orgID uuid.UUID) *AuditLog {
	a.OrgID = &orgID
	return a
}

// WithTarget sets the resource being acted upon.
func (a *AuditLog) WithTarget(targetID uuid.UUID) *AuditLog {
	a.TargetID = &targetID
	return a
}

// WithDetail adds a key to the details payload.
func (a *AuditLog) WithDetail(key string, value any) *AuditLog {
	if a.Details == nil {
		a.Details = map[string]any{}
	}
	a.Details[key] = value
	return a
}
