package services

import (
	"context"
	"errors"
	"fmt"
	"log"
	"time"

	"studyhub/internal/billing"
	"studyhub/internal/common"
	"studyhub/internal/models"
	"studyhub/internal/repositories"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"
)

// ChargeResult is the outcome of one charge attempt as reported to the
// caller. Paid=false with a declined status is a final answer, not an error.
type ChargeResult struct {
	PaymentID       string
	AmountRubles    int64
	Paid            bool
	Status          string
	ConfirmationURL string
}

// BillingPolicy carries the scheduler backoff knobs.
type BillingPolicy struct {
	RetryBase time.Duration
	RetryCap  time.Duration
}

// BillingService orchestrates charge attempts: it validates business rules,
// calls the gateway and persists the outcome atomically together with the
// audit event. Charge serves user-initiated tier upgrades, Renew serves the
// recurring billing sweep.
type BillingService interface {
	Charge(ctx context.Context, actor models.Actor, tierID uuid.UUID) (*ChargeResult, error)
	CreatePaymentForm(ctx context.Context, actor models.Actor, tierID uuid.UUID) (*ChargeResult, error)
	GetPayment(ctx context.Context, actor models.Actor, paymentID string) (*ChargeResult, error)
	Renew(ctx context.Context, subscriptionID uuid.UUID) error
}

type billingService struct {
	subscriptionRepo repositories.SubscriptionRepository
	tierRepo         repositories.SubscriptionTierRepository
	methodRepo       repositories.PaymentMethodRepository
	gateway          YooKassaService
	keys             billing.KeyGenerator
	clock            billing.Clock
	policy           BillingPolicy
	returnURL        string
}

func NewBillingService(
	subscriptionRepo repositories.SubscriptionRepository,
	tierRepo repositories.SubscriptionTierRepository,
	methodRepo repositories.PaymentMethodRepository,
	gateway YooKassaService,
	clock billing.Clock,
	policy BillingPolicy,
	returnURL string,
) BillingService {
	return &billingService{
		subscriptionRepo: subscriptionRepo,
		tierRepo:         tierRepo,
		methodRepo:       methodRepo,
		gateway:          gateway,
		keys:             billing.NewKeyGenerator(),
		clock:            clock,
		policy:           policy,
		returnURL:        returnURL,
	}
}

// Charge executes a tier upgrade purchase. Validations run in a fixed
// order, short-circuiting on the first failure; only upgrades relative to
// the current tier reach the gateway.
func (s *billingService) Charge(ctx context.Context, actor models.Actor, tierID uuid.UUID) (*ChargeResult, error) {
	if !actor.HasRole(models.RoleSubscriber) {
		return nil, common.NewUnauthorized("Subscriber role required")
	}

	tier, err := s.tierRepo.GetByID(ctx, tierID)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, common.NewNotFound("Subscription tier not found")
		}
		return nil, err
	}

	// Billability comes before the payment method lookup: charging a free
	// tier is a bad request even for a user who never saved a card.
	if !billing.IsBillable(tier) {
		return nil, common.NewBadRequest("Subscription tier is not billable")
	}

	method, err := s.methodRepo.GetActiveByUserID(ctx, actor.ID)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, common.NewNotFound("Payment method not found")
		}
		return nil, err
	}

	sub, err := s.subscriptionRepo.GetByUserID(ctx, actor.ID)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, common.NewNotFound("Subscription not found")
		}
		return nil, err
	}

	currentTier, err := s.tierRepo.GetByID(ctx, sub.SubscriptionTierID)
	if err != nil {
		return nil, err
	}

	switch billing.Compare(currentTier, tier) {
	case billing.ChangeSame:
		return nil, common.NewBadRequest("Subscription tier already purchased")
	case billing.ChangeDowngrade:
		return nil, common.NewBadRequest(fmt.Sprintf("Cannot downgrade subscription tier from %q to %q", currentTier.Name, tier.Name))
	}

	now := s.clock.Now()
	key := s.keys.ChargeKey(billing.ScopeCharge, sub.ID, tier.ID, sub.CurrentPeriodEnd, now)
	description := fmt.Sprintf("Subscription tier %q", tier.Name)

	payment, err := s.gateway.ChargeSavedMethod(ctx, method.PaymentMethodID, tier.Price, description, key)
	if err != nil {
		// Unknown outcome: the attempt is recorded, the subscription tier
		// is not touched, and a later retry reuses the same key.
		s.recordAttempt(ctx, sub, tier.Price, models.PaymentOutcomeError, now)
		return nil, common.NewGatewayUnavailable("Payment gateway is unavailable", err)
	}

	return s.applyChargeResult(ctx, sub, tier, method, payment, now)
}

// applyChargeResult persists the gateway's answer. Only a paid result
// mutates the tier; pending and declined results record the attempt and
// leave the subscription as it was.
func (s *billingService) applyChargeResult(ctx context.Context, sub *models.Subscription, tier *models.SubscriptionTier, method *models.PaymentMethod, payment *Payment, now time.Time) (*ChargeResult, error) {
	expectedTierID := sub.SubscriptionTierID
	expectedPeriodEnd := sub.CurrentPeriodEnd

	outcome := models.PaymentOutcomePending
	if payment.Paid {
		outcome = models.PaymentOutcomeSucceeded
		billing.ApplyPurchase(sub, tier, method.PaymentMethodID, now)
	} else {
		if payment.Declined() {
			outcome = models.PaymentOutcomeDeclined
		}
		sub.LastBillingAttempt = &now
	}

	event := &models.PaymentEvent{
		ID:             uuid.New(),
		SubscriptionID: sub.ID,
		Amount:         tier.Price,
		Outcome:        outcome,
	}
	if err := s.subscriptionRepo.ApplyChargeOutcome(ctx, sub, expectedTierID, expectedPeriodEnd, event); err != nil {
		if errors.Is(err, repositories.ErrStaleSubscription) {
			return nil, common.NewConflict("Subscription was modified concurrently")
		}
		return nil, err
	}

	return &ChargeResult{
		PaymentID:       payment.ID,
		AmountRubles:    tier.Price,
		Paid:            payment.Paid,
		Status:          payment.Status,
		ConfirmationURL: payment.ConfirmationURL(),
	}, nil
}

// CreatePaymentForm creates a redirect-confirmed payment for a tier without
// requiring a saved method.
func (s *billingService) CreatePaymentForm(ctx context.Context, actor models.Actor, tierID uuid.UUID) (*ChargeResult, error) {
	if !actor.HasRole(models.RoleSubscriber) {
		return nil, common.NewUnauthorized("Subscriber role required")
	}

	tier, err := s.tierRepo.GetByID(ctx, tierID)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, common.NewNotFound("Subscription tier not found")
		}
		return nil, err
	}

	description := fmt.Sprintf("Subscription tier %q", tier.Name)
	payment, err := s.gateway.CreatePaymentForm(ctx, tier.Price, description, s.returnURL, uuid.NewString())
	if err != nil {
		return nil, common.NewGatewayUnavailable("Payment gateway is unavailable", err)
	}

	return &ChargeResult{
		PaymentID:       payment.ID,
		AmountRubles:    tier.Price,
		Paid:            payment.Paid,
		Status:          payment.Status,
		ConfirmationURL: payment.ConfirmationURL(),
	}, nil
}

// GetPayment fetches the authoritative state of a payment from the
// gateway, letting a client settle an outcome lost to a timeout or an
// abandoned confirmation redirect.
func (s *billingService) GetPayment(ctx context.Context, actor models.Actor, paymentID string) (*ChargeResult, error) {
	if !actor.HasRole(models.RoleSubscriber) {
		return nil, common.NewUnauthorized("Subscriber role required")
	}

	payment, err := s.gateway.GetPayment(ctx, paymentID)
	if err != nil {
		return nil, common.NewGatewayUnavailable("Payment gateway is unavailable", err)
	}

	return &ChargeResult{
		PaymentID:       payment.ID,
		AmountRubles:    payment.AmountRubles(),
		Paid:            payment.Paid,
		Status:          payment.Status,
		ConfirmationURL: payment.ConfirmationURL(),
	}, nil
}

// Renew charges one due subscription at its current tier's price. Called by
// the billing sweep; every attempt is independent and idempotent, so a
// crashed sweep resumes at the next tick without double-charging.
func (s *billingService) Renew(ctx context.Context, subscriptionID uuid.UUID) error {
	sub, err := s.subscriptionRepo.GetByID(ctx, subscriptionID)
	if err != nil {
		return err
	}

	now := s.clock.Now()
	if sub.IsGifted || sub.NextBillingAt == nil || sub.NextBillingAt.After(now) {
		return nil
	}

	tier, err := s.tierRepo.GetByID(ctx, sub.SubscriptionTierID)
	if err != nil {
		return err
	}
	if !billing.IsBillable(tier) {
		log.Printf("subscription %s scheduled for billing on free tier %q, clearing schedule", sub.ID, tier.Name)
		sub.NextBillingAt = nil
		return s.subscriptionRepo.Update(ctx, sub)
	}

	method, err := s.methodRepo.GetActiveByUserID(ctx, sub.UserID)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return s.handleRenewalFailure(ctx, sub, tier, models.PaymentOutcomeError, now)
		}
		return err
	}

	key := s.keys.RenewalKey(sub.ID, tier.ID, sub.CurrentPeriodEnd, sub.BillingRetryAttempts, now)
	description := fmt.Sprintf("Subscription renewal %q", tier.Name)

	payment, err := s.gateway.ChargeSavedMethod(ctx, method.PaymentMethodID, sub.PriceOnPurchase, description, key)
	if err != nil {
		return s.handleRenewalFailure(ctx, sub, tier, models.PaymentOutcomeError, now)
	}
	if !payment.Paid {
		outcome := models.PaymentOutcomePending
		if payment.Declined() {
			outcome = models.PaymentOutcomeDeclined
		}
		return s.handleRenewalFailure(ctx, sub, tier, outcome, now)
	}

	expectedTierID := sub.SubscriptionTierID
	expectedPeriodEnd := sub.CurrentPeriodEnd
	billing.ApplyRenewal(sub, now)

	event := &models.PaymentEvent{
		ID:             uuid.New(),
		SubscriptionID: sub.ID,
		Amount:         sub.PriceOnPurchase,
		Outcome:        models.PaymentOutcomeSucceeded,
	}
	err = s.subscriptionRepo.ApplyChargeOutcome(ctx, sub, expectedTierID, expectedPeriodEnd, event)
	if errors.Is(err, repositories.ErrStaleSubscription) {
		// Another attempt won the race; the gateway deduplicated the charge.
		return nil
	}
	return err
}

// handleRenewalFailure records the failed attempt and either schedules the
// next retry with backoff or, once the grace period is exhausted, suspends
// the subscription to the free tier.
func (s *billingService) handleRenewalFailure(ctx context.Context, sub *models.Subscription, tier *models.SubscriptionTier, outcome string, now time.Time) error {
	expectedTierID := sub.SubscriptionTierID
	expectedPeriodEnd := sub.CurrentPeriodEnd
	// The audit event must carry what was attempted, not what the
	// subscription costs after a suspension resets the snapshot.
	attemptedAmount := sub.PriceOnPurchase

	billing.ApplyBillingFailure(sub, now, s.policy.RetryBase, s.policy.RetryCap)
	if billing.ExceededGracePeriod(sub) {
		freeTier, err := s.tierRepo.GetFree(ctx)
		if err != nil {
			return err
		}
		billing.ApplyFreeDowngrade(sub, freeTier)
		log.Printf("subscription %s suspended to tier %q after exhausting grace period", sub.ID, freeTier.Name)
	}

	event := &models.PaymentEvent{
		ID:             uuid.New(),
		SubscriptionID: sub.ID,
		Amount:         attemptedAmount,
		Outcome:        outcome,
	}
	err := s.subscriptionRepo.ApplyChargeOutcome(ctx, sub, expectedTierID, expectedPeriodEnd, event)
	if errors.Is(err, repositories.ErrStaleSubscription) {
		return nil
	}
	return err
}

// recordAttempt writes the audit event for an attempt whose outcome never
// reached a gateway answer. The subscription keeps its tier; only the
// attempt timestamp moves.
func (s *billingService) recordAttempt(ctx context.Context, sub *models.Subscription, amount int64, outcome string, now time.Time) {
	expectedTierID := sub.SubscriptionTierID
	expectedPeriodEnd := sub.CurrentPeriodEnd
	sub.LastBillingAttempt = &now

	event := &models.PaymentEvent{
		ID:             uuid.New(),
		SubscriptionID: sub.ID,
		Amount:         amount,
		Outcome:        outcome,
	}
	if err := s.subscriptionRepo.ApplyChargeOutcome(ctx, sub, expectedTierID, expectedPeriodEnd, event); err != nil {
		log.Printf("failed to record charge attempt for subscription %s: %v", sub.ID, err)
	}
}
