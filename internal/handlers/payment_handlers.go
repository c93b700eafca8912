package handlers

import (
	"net/http"
	"time"

	"studyhub/internal/caching"
	"studyhub/internal/common"
	"studyhub/internal/services"

	"github.com/labstack/echo/v4"
)

const (
	paymentRateLimit       = 10
	paymentRateLimitWindow = time.Minute
)

// PaymentHandlers handles HTTP requests for payment forms and the saved
// payment method lifecycle.
type PaymentHandlers struct {
	paymentMethodSvc services.PaymentMethodService
	billingSvc       services.BillingService
	cacheSvc         caching.CacheService
}

func NewPaymentHandlers(paymentMethodSvc services.PaymentMethodService, billingSvc services.BillingService, cacheSvc caching.CacheService) *PaymentHandlers {
	return &PaymentHandlers{
		paymentMethodSvc: paymentMethodSvc,
		billingSvc:       billingSvc,
		cacheSvc:         cacheSvc,
	}
}

// rateLimit rejects callers hammering the payment endpoints. Keyed per
// user, counted in Redis.
func (h *PaymentHandlers) rateLimit(c echo.Context, key string) error {
	limited, err := h.cacheSvc.IsRateLimited(c.Request().Context(), key, paymentRateLimit, paymentRateLimitWindow)
	if err != nil {
		// Redis being down must not block payments.
		return nil
	}
	if limited {
		return echo.NewHTTPError(http.StatusTooManyRequests, "Too many payment requests")
	}
	return nil
}

// CreatePaymentForm handles POST /payments/forms
func (h *PaymentHandlers) CreatePaymentForm(c echo.Context) error {
	ctx := c.Request().Context()
	actor, ok := common.GetActorFromContext(ctx)
	if !ok {
		return echo.NewHTTPError(http.StatusUnauthorized, "User not authenticated")
	}
	if err := h.rateLimit(c, "payment-form:"+actor.ID.String()); err != nil {
		return err
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

	result, err := h.billingSvc.CreatePaymentForm(ctx, actor, tierID)
	if err != nil {
		return httpError(err)
	}
	return c.JSON(http.StatusCreated, projectCharge(result))
}

// GetPayment handles GET /payments/:id. Clients poll this after a timeout
// or an interrupted confirmation redirect to learn how a payment ended.
func (h *PaymentHandlers) GetPayment(c echo.Context) error {
	ctx := c.Request().Context()
	actor, ok := common.GetActorFromContext(ctx)
	if !ok {
		return echo.NewHTTPError(http.StatusUnauthorized, "User not authenticated")
	}

	paymentID := c.Param("id")
	if paymentID == "" {
		return echo.NewHTTPError(http.StatusBadRequest, "Missing payment id")
	}

	result, err := h.billingSvc.GetPayment(ctx, actor, paymentID)
	if err != nil {
		return httpError(err)
	}
	return c.JSON(http.StatusOK, projectCharge(result))
}

// AddPaymentMethod handles POST /payments/payment-method
func (h *PaymentHandlers) AddPaymentMethod(c echo.Context) error {
	ctx := c.Request().Context()
	actor, ok := common.GetActorFromContext(ctx)
	if !ok {
		return echo.NewHTTPError(http.StatusUnauthorized, "User not authenticated")
	}
	if err := h.rateLimit(c, "payment-method:"+actor.ID.String()); err != nil {
		return err
	}

	result, err := h.paymentMethodSvc.AddPaymentMethod(ctx, actor)
	if err != nil {
		return httpError(err)
	}
	return c.JSON(http.StatusCreated, map[string]string{
		"confirmationUrl": result.ConfirmationURL,
	})
}

// GetPaymentMethod handles GET /payments/payment-method
func (h *PaymentHandlers) GetPaymentMethod(c echo.Context) error {
	ctx := c.Request().Context()
	actor, ok := common.GetActorFromContext(ctx)
	if !ok {
		return echo.NewHTTPError(http.StatusUnauthorized, "User not authenticated")
	}

	method, err := h.paymentMethodSvc.GetActivePaymentMethod(ctx, actor)
	if err != nil {
		return httpError(err)
	}
	return c.JSON(http.StatusOK, map[string]interface{}{
		"paymentMethodId": method.PaymentMethodID,
		"type":            method.Type,
		"last4":           method.Last4,
		"userId":          method.UserID,
	})
}

// DeletePaymentMethod handles DELETE /payments/payment-method
func (h *PaymentHandlers) DeletePaymentMethod(c echo.Context) error {
	ctx := c.Request().Context()
	actor, ok := common.GetActorFromContext(ctx)
	if !ok {
		return echo.NewHTTPError(http.StatusUnauthorized, "User not authenticated")
	}

	if err := h.paymentMethodSvc.DeletePaymentMethod(ctx, actor); err != nil {
		return httpError(err)
	}
	return c.NoContent(http.StatusNoContent)
}

// PaymentMethodCallback handles POST /payments/payment-method/callback, the
// gateway's confirmation webhook. The payload carries the gateway token of
// the method that became usable.
func (h *PaymentHandlers) PaymentMethodCallback(c echo.Context) error {
	var req struct {
		Event  string `json:"event"`
		Object struct {
			ID string `json:"id"`
		} `json:"object"`
	}
	if err := c.Bind(&req); err != nil {
		return echo.NewHTTPError(http.StatusBadRequest, "Invalid request format")
	}
	if req.Object.ID == "" {
		return echo.NewHTTPError(http.StatusBadRequest, "Missing payment method id")
	}

	if err := h.paymentMethodSvc.ActivatePaymentMethod(c.Request().Context(), req.Object.ID); err != nil {
		return httpError(err)
	}
	return c.JSON(http.StatusOK, map[string]string{"status": "ok"})
}
