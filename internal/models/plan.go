package models

import (
	"time"

	"github.com/google/uuid"
)

// Plan defaults applied when a plan is created without explicit values.
const (
	DefaultPlanDurationDays = 30
	DefaultPlanMaxDevices   = 1
)

// Plan is a commercial template that licenses are issued against.
type Plan struct {
	ID           uuid.UUID      `json:"id"`
	Name         string         `json:"name"`
	Code         string         `json:"code"`
	DurationDays int            `json:"duration_days"`
	MaxDevices   int            `json:"max_devices"`
	PriceCents   int64          `json:"price_cents"`
	Features     map[string]any `json:"features,omitempty"`
	IsActive     bool           `json:"is_active"`
	CreatedAt    time.Time      `json:"created_at"`
	UpdatedAt    time.Time      `json:"updated_at"`
}

// NewPlan creates an active plan with default duration and device limit.
func NewPlan(name, code string) *Plan {
	now := time.Now()
	return &Plan{
		ID:           uuid.New(),
		Name:         name,
		Code:         code,
		DurationDays: DefaultPlanDurationDays,
		MaxDevices:   DefaultPlanMaxDevices,
		Features:     map[string]any{},
		IsActive:     true,
		CreatedAt:    now,
		UpdatedAt:    now,
	}
}

// Expires reports whether licenses issued from this plan get an expiry by default.
func (p *Plan) Expires() bool {
	return p.DurationDays > 0
}
