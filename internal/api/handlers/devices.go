package handlers

import (
	"context"
	"errors"
	"net/http"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/google/uuid"
	"github.com/rs/zerolog"
	"github.com/wabdesk/wabdesk/internal/api/middleware"
	"github.com/wabdesk/wabdesk/internal/license"
	"github.com/wabdesk/wabdesk/internal/models"
)

// DeviceLedger is the device-facing part of the activation ledger.
type DeviceLedger interface {
	Activate(ctx context.Context, actor models.Actor, in license.ActivateInput) (*license.ActivationResult, error)
	Heartbeat(ctx context.Context, actor models.Actor, deviceID, appVersion string) (*license.CheckResult, error)
	Validate(ctx context.Context, actor models.Actor, deviceID string) (*license.CheckResult, error)
	DeactivateDevice(ctx context.Context, actor models.Actor, deviceID string) error
}

// ActivateRequest is the request body for activating a device.
type ActivateRequest struct {
	LicenseKey  string `json:"licenseKey" binding:"required,max=128"`
	DeviceID    string `json:"deviceId" binding:"required,max=128"`
	DeviceLabel string `json:"deviceLabel" binding:"max=255"`
	AppVersion  string `json:"appVersion" binding:"max=64"`
}

// ActivateResponse is returned by the activate endpoint.
type ActivateResponse struct {
	Activated    bool       `json:"activated"`
	ActivationID *uuid.UUID `json:"activationId,omitempty"`
	LicenseID    *uuid.UUID `json:"licenseId,omitempty"`
	PlanCode     string     `json:"planCode,omitempty"`
	ExpiresAt    *time.Time `json:"expiresAt,omitempty"`
	Reason       string     `json:"reason,omitempty"`
	Message      string     `json:"message,omitempty"`
}

// HeartbeatRequest is the request body for the heartbeat endpoint.
type HeartbeatRequest struct {
	DeviceID   string `json:"deviceId" binding:"required,max=128"`
	AppVersion string `json:"appVersion" binding:"max=64"`
}

// HeartbeatResponse is returned by the heartbeat endpoint.
type HeartbeatResponse struct {
	Valid     bool       `json:"valid"`
	Reason    string     `json:"reason,omitempty"`
	Message   string     `json:"message,omitempty"`
	ExpiresAt *time.Time `json:"expiresAt,omitempty"`
}

// DeviceRequest identifies the calling device.
type DeviceRequest struct {
	DeviceID string `json:"deviceId" binding:"required,max=128"`
}

// ValidateResponse is returned by the validate endpoint.
type ValidateResponse struct {
	Activated bool       `json:"activated"`
	Reason    string     `json:"reason,omitempty"`
	Message   string     `json:"message,omitempty"`
	ExpiresAt *time.Time `json:"expiresAt,omitempty"`
}

// DevicesHandler handles the endpoints called by desktop installations.
type DevicesHandler struct {
	ledger DeviceLedger
	logger zerolog.Logger
}

// NewDevicesHandler creates a new DevicesHandler.
func NewDevicesHandler(ledger DeviceLedger, logger zerolog.Logger) *DevicesHandler {
	return &DevicesHandler{
		ledger: ledger,
		logger: logger.With().Str("component", "devices_handler").Logger(),
	}
}

// RegisterRoutes registers device routes on the given router group.
func (h *DevicesHandler) RegisterRoutes(r *gin.RouterGroup) {
	sub := r.Group("/subscription")
	{
		sub.POST("/activate", h.Activate)
		sub.POST("/heartbeat", h.Heartbeat)
		sub.POST("/validate", h.Validate)
		sub.POST("/deactivate", h.Deactivate)
	}
}

// Activate claims a seat for the calling device.
// POST /api/v1/subscription/activate
func (h *DevicesHandler) Activate(c *gin.Context) {
	actor, ok := middleware.RequireActor(c)
	if !ok {
		return
	}

	var req ActivateRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, ErrorResponse{Error: err.Error()})
		return
	}

	res, err := h.ledger.Activate(c.Request.Context(), actor, license.ActivateInput{
		LicenseKey:  req.LicenseKey,
		DeviceID:    req.DeviceID,
		DeviceLabel: req.DeviceLabel,
		AppVersion:  req.AppVersion,
	})
	if err != nil {
		respondError(c, h.logger, err, "failed to activate device")
		return
	}

	if !res.Activated {
		c.JSON(reasonStatus(res.Reason), ActivateResponse{
			Reason:  string(res.Reason),
			Message: res.Reason.Message(),
		})
		return
	}

	c.JSON(http.StatusOK, ActivateResponse{
		Activated:    true,
		ActivationID: &res.Activation.ID,
		LicenseID:    &res.License.ID,
		PlanCode:     res.License.PlanCode,
		ExpiresAt:    res.License.ExpiresAt,
	})
}

// Heartbeat confirms the calling device still holds a valid seat.
// POST /api/v1/subscription/heartbeat
func (h *DevicesHandler) Heartbeat(c *gin.Context) {
	actor, ok := middleware.RequireActor(c)
	if !ok {
		return
	}

	var req HeartbeatRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, ErrorResponse{Error: err.Error()})
		return
	}

	res, err := h.ledger.Heartbeat(c.Request.Context(), actor, req.DeviceID, req.AppVersion)
	if err != nil {
		respondError(c, h.logger, err, "failed to record heartbeat")
		return
	}

	if !res.Valid {
		c.JSON(http.StatusForbidden, HeartbeatResponse{
			Reason:  string(res.Reason),
			Message: res.Reason.Message(),
		})
		return
	}

	c.JSON(http.StatusOK, HeartbeatResponse{Valid: true, ExpiresAt: res.License.ExpiresAt})
}

// Validate reports whether the calling device is activated. It answers 200
// either way so clients can tell rejection from transport failure.
// POST /api/v1/subscription/validate
func (h *DevicesHandler) Validate(c *gin.Context) {
	actor, ok := middleware.RequireActor(c)
	if !ok {
		return
	}

	var req DeviceRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, ErrorResponse{Error: err.Error()})
		return
	}

	res, err := h.ledger.Validate(c.Request.Context(), actor, req.DeviceID)
	if err != nil {
		respondError(c, h.logger, err, "failed to validate device")
		return
	}

	resp := ValidateResponse{Activated: res.Valid}
	if res.Valid {
		resp.ExpiresAt = res.License.ExpiresAt
	} else {
		resp.Reason = string(res.Reason)
		resp.Message = res.Reason.Message()
	}
	c.JSON(http.StatusOK, resp)
}

// Deactivate releases the seat held by the calling device.
// POST /api/v1/subscription/deactivate
func (h *DevicesHandler) Deactivate(c *gin.Context) {
	actor, ok := middleware.RequireActor(c)
	if !ok {
		return
	}

	var req DeviceRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, ErrorResponse{Error: err.Error()})
		return
	}

	err := h.ledger.DeactivateDevice(c.Request.Context(), actor, req.DeviceID)
	if errors.Is(err, license.ErrNotFound) {
		c.JSON(http.StatusNotFound, gin.H{
			"deactivated": false,
			"reason":      string(license.ReasonNotActivated),
		})
		return
	}
	if err != nil {
		respondError(c, h.logger, err, "failed to deactivate device")
		return
	}

	c.JSON(http.StatusOK, gin.H{"deactivated": true})
}
