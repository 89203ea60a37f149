package handlers

import (
	"context"
	"net/http"

	"github.com/gin-gonic/gin"
	"github.com/rs/zerolog"
	"github.com/wabdesk/wabdesk/internal/api/middleware"
	"github.com/wabdesk/wabdesk/internal/license"
	"github.com/wabdesk/wabdesk/internal/models"
)

// PlanService is the plan catalogue part of the license authority.
type PlanService interface {
	CreatePlan(ctx context.Context, actor models.Actor, in license.PlanInput) (*models.Plan, error)
	ListPlans(ctx context.Context, actor models.Actor, includeInactive bool) ([]*models.Plan, error)
	DeactivatePlan(ctx context.Context, actor models.Actor, code string) (*models.Plan, error)
}

// CreatePlanRequest is the request body for creating a plan.
type CreatePlanRequest struct {
	Name         string         `json:"name" binding:"required,max=255"`
	Code         string         `json:"code" binding:"required,max=64"`
	DurationDays *int           `json:"durationDays" binding:"omitempty,min=0"`
	MaxDevices   *int           `json:"maxDevices" binding:"omitempty,min=1"`
	PriceCents   int64          `json:"priceCents" binding:"min=0"`
	Features     map[string]any `json:"features"`
}

// PlansHandler handles plan catalogue endpoints.
type PlansHandler struct {
	service PlanService
	logger  zerolog.Logger
}

// NewPlansHandler creates a new PlansHandler.
func NewPlansHandler(service PlanService, logger zerolog.Logger) *PlansHandler {
	return &PlansHandler{
		service: service,
		logger:  logger.With().Str("component", "plans_handler").Logger(),
	}
}

// RegisterRoutes registers plan routes on the given router group.
func (h *PlansHandler) RegisterRoutes(r *gin.RouterGroup) {
	plans := r.Group("/subscription/plans")
	{
		plans.GET("", middleware.RequireRole(models.RoleAdmin), h.List)
		plans.POST("", middleware.RequireRole(models.RoleSuperAdmin), h.Create)
		plans.PUT("/:code/deactivate", middleware.RequireRole(models.RoleSuperAdmin), h.Deactivate)
	}
}

// Create creates a new plan.
// POST /api/v1/subscription/plans
func (h *PlansHandler) Create(c *gin.Context) {
	actor, ok := middleware.RequireActor(c)
	if !ok {
		return
	}

	var req CreatePlanRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, ErrorResponse{Error: err.Error()})
		return
	}

	plan, err := h.service.CreatePlan(c.Request.Context(), actor, license.PlanInput{
		Name:         req.Name,
		Code:         req.Code,
		DurationDays: req.DurationDays,
		MaxDevices:   req.MaxDevices,
		PriceCents:   req.PriceCents,
		Features:     req.Features,
	})
	if err != nil {
		respondError(c, h.logger, err, "failed to create plan")
		return
	}

	c.JSON(http.StatusCreated, plan)
}

// List returns the plan catalogue.
// GET /api/v1/subscription/plans
func (h *PlansHandler) List(c *gin.Context) {
	actor, ok := middleware.RequireActor(c)
	if !ok {
		return
	}

	plans, err := h.service.ListPlans(c.Request.Context(), actor, c.Query("all") == "true")
	if err != nil {
		respondError(c, h.logger, err, "failed to list plans")
		return
	}
	if plans == nil {
		plans = []*models.Plan{}
	}

	c.JSON(http.StatusOK, gin.H{"plans": plans})
}

// Deactivate stops issuance against a plan.
// PUT /api/v1/subscription/plans/:code/deactivate
func (h *PlansHandler) Deactivate(c *gin.Context) {
	actor, ok := middleware.RequireActor(c)
	if !ok {
		return
	}

	plan, err := h.service.DeactivatePlan(c.Request.Context(), actor, c.Param("code"))
	if err != nil {
		respondError(c, h.logger, err, "failed to deactivate plan")
		return
	}

	c.JSON(http.StatusOK, plan)
}
