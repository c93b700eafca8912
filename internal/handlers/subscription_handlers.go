package handlers

import (
	"net/http"
	"strconv"
	"time"

	"studyhub/internal/common"
	"studyhub/internal/models"
	"studyhub/internal/services"

	"github.com/google/uuid"
	"github.com/labstack/echo/v4"
)

// SubscriptionHandlers handles HTTP requests for subscription lifecycle and
// charging.
type SubscriptionHandlers struct {
	subscriptionSvc services.SubscriptionService
	billingSvc      services.BillingService
}

func NewSubscriptionHandlers(subscriptionSvc services.SubscriptionService, billingSvc services.BillingService) *SubscriptionHandlers {
	return &SubscriptionHandlers{
		subscriptionSvc: subscriptionSvc,
		billingSvc:      billingSvc,
	}
}

// subscriptionResponse is the contractual projection. Unset billing fields
// render as explicit nulls, never as absent keys.
type subscriptionResponse struct {
	ID                    uuid.UUID  `json:"id"`
	UserID                uuid.UUID  `json:"userId"`
	SubscriptionTierID    uuid.UUID  `json:"subscriptionTierId"`
	PriceOnPurchaseRubles int64      `json:"priceOnPurchaseRubles"`
	BillingPeriodDays     int        `json:"billingPeriodDays"`
	CurrentPeriodEnd      *time.Time `json:"currentPeriodEnd"`
	NextBillingAt         *time.Time `json:"nextBillingAt"`
	LastBillingAttempt    *time.Time `json:"lastBillingAttempt"`
	BillingRetryAttempts  int        `json:"billingRetryAttempts"`
	GracePeriodSize       int        `json:"gracePeriodSize"`
	IsGifted              bool       `json:"isGifted"`
	PaymentMethodID       *string    `json:"paymentMethodId"`
}

func projectSubscription(sub *models.Subscription) subscriptionResponse {
	return subscriptionResponse{
		ID:                    sub.ID,
		UserID:                sub.UserID,
		SubscriptionTierID:    sub.SubscriptionTierID,
		PriceOnPurchaseRubles: sub.PriceOnPurchase,
		BillingPeriodDays:     sub.BillingPeriodDays,
		CurrentPeriodEnd:      sub.CurrentPeriodEnd,
		NextBillingAt:         sub.NextBillingAt,
		LastBillingAttempt:    sub.LastBillingAttempt,
		BillingRetryAttempts:  sub.BillingRetryAttempts,
		GracePeriodSize:       sub.GracePeriodSize,
		IsGifted:              sub.IsGifted,
		PaymentMethodID:       sub.PaymentMethodID,
	}
}

type chargeResponse struct {
	PaymentID       string `json:"paymentId"`
	AmountRubles    int64  `json:"amountRubles"`
	Paid            bool   `json:"paid"`
	Status          string `json:"status"`
	ConfirmationURL string `json:"confirmationUrl,omitempty"`
}

func projectCharge(result *services.ChargeResult) chargeResponse {
	return chargeResponse{
		PaymentID:       result.PaymentID,
		AmountRubles:    result.AmountRubles,
		Paid:            result.Paid,
		Status:          result.Status,
		ConfirmationURL: result.ConfirmationURL,
	}
}

// Charge handles POST /subscriptions/charge
func (h *SubscriptionHandlers) Charge(c echo.Context) error {
	ctx := c.Request().Context()
	actor, ok := common.GetActorFromContext(ctx)
	if !ok {
		return echo.NewHTTPError(http.StatusUnauthorized, "User not authenticated")
	}

	var req struct {
		SubscriptionTierID string `json:"subscriptionTierId"`
	}
	if err := c.Bind(&req); err != nil {
		return echo.NewHTTPError(http.StatusBadRequest, "Invalid request format")
	}
	tierID, err := common.ValidateUUID(req.SubscriptionTierID, "subscriptionTierId")
	if err != nil {
		return echo.NewHTTPError(http.StatusBadRequest, err.Error())
	}

	result, err := h.billingSvc.Charge(ctx, actor, tierID)
	if err != nil {
		return httpError(err)
	}
	return c.JSON(http.StatusCreated, projectCharge(result))
}

// Downgrade handles POST /subscriptions/downgrade
func (h *SubscriptionHandlers) Downgrade(c echo.Context) error {
	ctx := c.Request().Context()
	actor, ok := common.GetActorFromContext(ctx)
	if !ok {
		return echo.NewHTTPError(http.StatusUnauthorized, "User not authenticated")
	}

	var req struct {
		SubscriptionTierID string `json:"subscriptionTierId"`
	}
	if err := c.Bind(&req); err != nil {
		return echo.NewHTTPError(http.StatusBadRequest, "Invalid request format")
	}
	tierID, err := common.ValidateUUID(req.SubscriptionTierID, "subscriptionTierId")
	if err != nil {
		return echo.NewHTTPError(http.StatusBadRequest, err.Error())
	}

	sub, err := h.subscriptionSvc.Downgrade(ctx, actor, tierID)
	if err != nil {
		return httpError(err)
	}
	return c.JSON(http.StatusOK, projectSubscription(sub))
}

// Gift handles POST /subscriptions/gift (admin only)
func (h *SubscriptionHandlers) Gift(c echo.Context) error {
	ctx := c.Request().Context()
	actor, ok := common.GetActorFromContext(ctx)
	if !ok {
		return echo.NewHTTPError(http.StatusUnauthorized, "User not authenticated")
	}

	var req struct {
		UserID             string `json:"userId"`
		SubscriptionTierID string `json:"subscriptionTierId"`
		DurationDays       int    `json:"durationDays"`
		GracePeriodSize    int    `json:"gracePeriodSize"`
	}
	if err := c.Bind(&req); err != nil {
		return echo.NewHTTPError(http.StatusBadRequest, "Invalid request format")
	}
	userID, err := common.ValidateUUID(req.UserID, "userId")
	if err != nil {
		return echo.NewHTTPError(http.StatusBadRequest, err.Error())
	}
	tierID, err := common.ValidateUUID(req.SubscriptionTierID, "subscriptionTierId")
	if err != nil {
		return echo.NewHTTPError(http.StatusBadRequest, err.Error())
	}

	sub, err := h.subscriptionSvc.Gift(ctx, actor, userID, tierID, req.DurationDays, req.GracePeriodSize)
	if err != nil {
		return httpError(err)
	}
	return c.JSON(http.StatusCreated, projectSubscription(sub))
}

// Provision handles POST /subscriptions/provision (admin/service only).
// Called on registration completion; idempotent.
func (h *SubscriptionHandlers) Provision(c echo.Context) error {
	ctx := c.Request().Context()

	var req struct {
		UserID string `json:"userId"`
	}
	if err := c.Bind(&req); err != nil {
		return echo.NewHTTPError(http.StatusBadRequest, "Invalid request format")
	}
	userID, err := common.ValidateUUID(req.UserID, "userId")
	if err != nil {
		return echo.NewHTTPError(http.StatusBadRequest, err.Error())
	}

	sub, err := h.subscriptionSvc.ProvisionFree(ctx, userID)
	if err != nil {
		return httpError(err)
	}
	return c.JSON(http.StatusCreated, projectSubscription(sub))
}

// Me handles GET /subscriptions/me
func (h *SubscriptionHandlers) Me(c echo.Context) error {
	ctx := c.Request().Context()
	actor, ok := common.GetActorFromContext(ctx)
	if !ok {
		return echo.NewHTTPError(http.StatusUnauthorized, "User not authenticated")
	}

	sub, err := h.subscriptionSvc.GetByUserID(ctx, actor)
	if err != nil {
		return httpError(err)
	}
	return c.JSON(http.StatusOK, projectSubscription(sub))
}

// PaymentEvents handles GET /subscriptions/me/payment-events
func (h *SubscriptionHandlers) PaymentEvents(c echo.Context) error {
	ctx := c.Request().Context()
	actor, ok := common.GetActorFromContext(ctx)
	if !ok {
		return echo.NewHTTPError(http.StatusUnauthorized, "User not authenticated")
	}

	limit, _ := strconv.Atoi(c.QueryParam("limit"))
	offset, _ := strconv.Atoi(c.QueryParam("offset"))

	events, err := h.subscriptionSvc.ListPaymentEvents(ctx, actor, limit, offset)
	if err != nil {
		return httpError(err)
	}

	response := make([]map[string]interface{}, 0, len(events))
	for _, event := range events {
		response = append(response, map[string]interface{}{
			"id":             event.ID,
			"subscriptionId": event.SubscriptionID,
			"amountRubles":   event.Amount,
			"outcome":        event.Outcome,
			"createdAt":      event.CreatedAt,
		})
	}
	return c.JSON(http.StatusOK, response)
}
