package handlers

import (
	"context"
	"net/http"
	"strconv"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/google/uuid"
	"github.com/rs/zerolog"
	"github.com/wabdesk/wabdesk/internal/api/middleware"
	"github.com/wabdesk/wabdesk/internal/license"
	"github.com/wabdesk/wabdesk/internal/models"
)

// LicenseService is the license lifecycle part of the license authority.
type LicenseService interface {
	Issue(ctx context.Context, actor models.Actor, in license.IssueInput) (*license.IssuedLicense, error)
	Renew(ctx context.Context, actor models.Actor, id uuid.UUID, extensionDays *int) (*models.License, error)
	Revoke(ctx context.Context, actor models.Actor, id uuid.UUID, reason string) (*models.License, error)
	Get(ctx context.Context, actor models.Actor, id uuid.UUID) (*models.License, error)
	List(ctx context.Context, actor models.Actor, filter license.LicenseFilter) ([]*models.License, error)
	ListActivations(ctx context.Context, actor models.Actor, licenseID uuid.UUID) ([]*models.Activation, error)
}

// SeatReleaser frees a seat by activation ID.
type SeatReleaser interface {
	Deactivate(ctx context.Context, actor models.Actor, activationID uuid.UUID) error
}

// IssueLicenseRequest is the request body for issuing a license.
type IssueLicenseRequest struct {
	OrgID     *uuid.UUID     `json:"orgId"`
	PlanCode  string         `json:"planCode" binding:"required,max=64"`
	Seats     *int           `json:"seats" binding:"omitempty,min=1"`
	ExpiresAt *time.Time     `json:"expiresAt"`
	Metadata  map[string]any `json:"metadata"`
}

// RenewLicenseRequest is the request body for renewing a license.
type RenewLicenseRequest struct {
	ExtensionDays *int `json:"extensionDays" binding:"omitempty,min=1"`
}

// RevokeLicenseRequest is the request body for revoking a license.
type RevokeLicenseRequest struct {
	Reason string `json:"reason" binding:"max=500"`
}

// LicensesHandler handles administrative license endpoints.
type LicensesHandler struct {
	service LicenseService
	seats   SeatReleaser
	logger  zerolog.Logger
}

// NewLicensesHandler creates a new LicensesHandler.
func NewLicensesHandler(service LicenseService, seats SeatReleaser, logger zerolog.Logger) *LicensesHandler {
	return &LicensesHandler{
		service: service,
		seats:   seats,
		logger:  logger.With().Str("component", "licenses_handler").Logger(),
	}
}

// RegisterRoutes registers license routes on the given router group.
func (h *LicensesHandler) RegisterRoutes(r *gin.RouterGroup) {
	admin := r.Group("/subscription", middleware.RequireRole(models.RoleAdmin))
	{
		admin.POST("/instances", h.Issue)
		admin.GET("/instances", h.List)
		admin.GET("/instances/:id", h.Get)
		admin.GET("/instances/:id/activations", h.ListActivations)
		admin.PUT("/instances/:id/renew", h.Renew)
		admin.PUT("/instances/:id/revoke", h.Revoke)
		admin.DELETE("/activations/:id", h.DeactivateActivation)
	}
}

// Issue creates a license and returns its plaintext key once.
// POST /api/v1/subscription/instances
func (h *LicensesHandler) Issue(c *gin.Context) {
	actor, ok := middleware.RequireActor(c)
	if !ok {
		return
	}

	var req IssueLicenseRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, ErrorResponse{Error: err.Error()})
		return
	}

	issued, err := h.service.Issue(c.Request.Context(), actor, license.IssueInput{
		OrgID:     req.OrgID,
		PlanCode:  req.PlanCode,
		Seats:     req.Seats,
		ExpiresAt: req.ExpiresAt,
		Metadata:  req.Metadata,
	})
	if err != nil {
		respondError(c, h.logger, err, "failed to issue license")
		return
	}

	c.JSON(http.StatusCreated, issued)
}

// List returns licenses visible to the caller.
// GET /api/v1/subscription/instances
func (h *LicensesHandler) List(c *gin.Context) {
	actor, ok := middleware.RequireActor(c)
	if !ok {
		return
	}

	var filter license.LicenseFilter
	if raw := c.Query("orgId"); raw != "" {
		orgID, err := uuid.Parse(raw)
		if err != nil {
			c.JSON(http.StatusBadRequest, ErrorResponse{Error: "invalid orgId"})
			return
		}
		filter.OrgID = &orgID
	}
	if raw := c.Query("status"); raw != "" {
		status := models.LicenseStatus(raw)
		if !status.IsValid() {
			c.JSON(http.StatusBadRequest, ErrorResponse{Error: "invalid status"})
			return
		}
		filter.Status = status
	}
	var err error
	if filter.Limit, err = queryInt(c, "limit"); err != nil {
		c.JSON(http.StatusBadRequest, ErrorResponse{Error: "invalid limit"})
		return
	}
	if filter.Offset, err = queryInt(c, "offset"); err != nil {
		c.JSON(http.StatusBadRequest, ErrorResponse{Error: "invalid offset"})
		return
	}

	licenses, err := h.service.List(c.Request.Context(), actor, filter)
	if err != nil {
		respondError(c, h.logger, err, "failed to list licenses")
		return
	}
	if licenses == nil {
		licenses = []*models.License{}
	}

	c.JSON(http.StatusOK, gin.H{"licenses": licenses})
}

// Get returns a single license.
// GET /api/v1/subscription/instances/:id
func (h *LicensesHandler) Get(c *gin.Context) {
	actor, ok := middleware.RequireActor(c)
	if !ok {
		return
	}
	id, ok := pathID(c)
	if !ok {
		return
	}

	lic, err := h.service.Get(c.Request.Context(), actor, id)
	if err != nil {
		respondError(c, h.logger, err, "failed to get license")
		return
	}

	c.JSON(http.StatusOK, lic)
}

// ListActivations returns the seats held under a license.
// GET /api/v1/subscription/instances/:id/activations
func (h *LicensesHandler) ListActivations(c *gin.Context) {
	actor, ok := middleware.RequireActor(c)
	if !ok {
		return
	}
	id, ok := pathID(c)
	if !ok {
		return
	}

	acts, err := h.service.ListActivations(c.Request.Context(), actor, id)
	if err != nil {
		respondError(c, h.logger, err, "failed to list activations")
		return
	}
	if acts == nil {
		acts = []*models.Activation{}
	}

	c.JSON(http.StatusOK, gin.H{"activations": acts})
}

// Renew extends a license.
// PUT /api/v1/subscription/instances/:id/renew
func (h *LicensesHandler) Renew(c *gin.Context) {
	actor, ok := middleware.RequireActor(c)
	if !ok {
		return
	}
	id, ok := pathID(c)
	if !ok {
		return
	}

	var req RenewLicenseRequest
	if !bindOptionalJSON(c, &req) {
		return
	}

	lic, err := h.service.Renew(c.Request.Context(), actor, id, req.ExtensionDays)
	if err != nil {
		respondError(c, h.logger, err, "failed to renew license")
		return
	}

	c.JSON(http.StatusOK, lic)
}

// Revoke permanently disables a license and releases its seats.
// PUT /api/v1/subscription/instances/:id/revoke
func (h *LicensesHandler) Revoke(c *gin.Context) {
	actor, ok := middleware.RequireActor(c)
	if !ok {
		return
	}
	id, ok := pathID(c)
	if !ok {
		return
	}

	var req RevokeLicenseRequest
	if !bindOptionalJSON(c, &req) {
		return
	}

	lic, err := h.service.Revoke(c.Request.Context(), actor, id, req.Reason)
	if err != nil {
		respondError(c, h.logger, err, "failed to revoke license")
		return
	}

	c.JSON(http.StatusOK, lic)
}

// DeactivateActivation releases a seat on behalf of an administrator.
// DELETE /api/v1/subscription/activations/:id
func (h *LicensesHandler) DeactivateActivation(c *gin.Context) {
	actor, ok := middleware.RequireActor(c)
	if !ok {
		return
	}
	id, ok := pathID(c)
	if !ok {
		return
	}

	if err := h.seats.Deactivate(c.Request.Context(), actor, id); err != nil {
		respondError(c, h.logger, err, "failed to deactivate activation")
		return
	}

	c.JSON(http.StatusOK, gin.H{"deactivated": true})
}

// pathID parses the :id path parameter, writing 400 on failure.
func pathID(c *gin.Context) (uuid.UUID, bool) {
	id, err := uuid.Parse(c.Param("id"))
	if err != nil {
		c.JSON(http.StatusBadRequest, ErrorResponse{Error: "invalid ID"})
		return uuid.Nil, false
	}
	return id, true
}

// bindOptionalJSON binds a request body when one is present.
func bindOptionalJSON(c *gin.Context, dst any) bool {
	if c.Request.ContentLength == 0 {
		return true
	}
	if err := c.ShouldBindJSON(dst); err != nil {
		c.JSON(http.StatusBadRequest, ErrorResponse{Error: err.Error()})
		return false
	}
	return true
}

func queryInt(c *gin.Context, key string) (int, error) {
	raw := c.Query(key)
	if raw == "" {
		return 0, nil
	}
	n, err := strconv.Atoi(raw)
	if err != nil || n < 0 {
		return 0, strconv.ErrSyntax
	}
	return n, nil
}
