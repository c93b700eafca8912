package handlers

import (
	"net/http"

	"studyhub/internal/common"
	"studyhub/internal/models"
	"studyhub/internal/services"

	"github.com/labstack/echo/v4"
)

// SubscriptionTierHandlers serves the public tier catalog plus the
// admin-only create endpoint.
type SubscriptionTierHandlers struct {
	tierSvc services.SubscriptionTierService
}

func NewSubscriptionTierHandlers(tierSvc services.SubscriptionTierService) *SubscriptionTierHandlers {
	return &SubscriptionTierHandlers{tierSvc: tierSvc}
}

// ListTiers handles GET /subscription-tiers
func (h *SubscriptionTierHandlers) ListTiers(c echo.Context) error {
	tiers, err := h.tierSvc.List(c.Request().Context())
	if err != nil {
		return httpError(err)
	}
	return c.JSON(http.StatusOK, tiers)
}

// GetTier handles GET /subscription-tiers/:id
func (h *SubscriptionTierHandlers) GetTier(c echo.Context) error {
	tierID, err := common.ValidateUUID(c.Param("id"), "id")
	if err != nil {
		return echo.NewHTTPError(http.StatusBadRequest, err.Error())
	}

	tier, err := h.tierSvc.GetByID(c.Request().Context(), tierID)
	if err != nil {
		return httpError(err)
	}
	return c.JSON(http.StatusOK, tier)
}

// CreateTier handles POST /subscription-tiers (admin only)
func (h *SubscriptionTierHandlers) CreateTier(c echo.Context) error {
	ctx := c.Request().Context()
	actor, ok := common.GetActorFromContext(ctx)
	if !ok {
		return echo.NewHTTPError(http.StatusUnauthorized, "User not authenticated")
	}

	var req struct {
		Name              string   `json:"name"`
		Power             int      `json:"power"`
		Price             int64    `json:"price"`
		BillingPeriodDays int      `json:"billingPeriodDays"`
		Permissions       []string `json:"permissions"`
	}
	if err := c.Bind(&req); err != nil {
		return echo.NewHTTPError(http.StatusBadRequest, "Invalid request format")
	}

	tier := &models.SubscriptionTier{
		Name:              req.Name,
		Power:             req.Power,
		Price:             req.Price,
		BillingPeriodDays: req.BillingPeriodDays,
		Permissions:       req.Permissions,
	}
	if err := h.tierSvc.Create(ctx, actor, tier); err != nil {
		return httpError(err)
	}
	return c.JSON(http.StatusCreated, tier)
}
