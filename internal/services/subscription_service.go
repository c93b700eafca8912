package services

import (
	"context"
	"errors"
	"fmt"

	"studyhub/internal/billing"
	"studyhub/internal/common"
	"studyhub/internal/models"
	"studyhub/internal/repositories"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"
)

// SubscriptionService manages the non-charging parts of the subscription
// lifecycle: provisioning, reads, downgrades and admin gifts. Anything that
// moves money lives in BillingService.
type SubscriptionService interface {
	ProvisionFree(ctx context.Context, userID uuid.UUID) (*models.Subscription, error)
	GetByUserID(ctx context.Context, actor models.Actor) (*models.Subscription, error)
	Downgrade(ctx context.Context, actor models.Actor, tierID uuid.UUID) (*models.Subscription, error)
	Gift(ctx context.Context, actor models.Actor, userID, tierID uuid.UUID, durationDays, gracePeriodSize int) (*models.Subscription, error)
	ListPaymentEvents(ctx context.Context, actor models.Actor, limit, offset int) ([]*models.PaymentEvent, error)
}

type subscriptionService struct {
	subscriptionRepo repositories.SubscriptionRepository
	tierRepo         repositories.SubscriptionTierRepository
	eventRepo        repositories.PaymentEventRepository
	clock            billing.Clock
}

func NewSubscriptionService(subscriptionRepo repositories.SubscriptionRepository, tierRepo repositories.SubscriptionTierRepository, eventRepo repositories.PaymentEventRepository, clock billing.Clock) SubscriptionService {
	return &subscriptionService{
		subscriptionRepo: subscriptionRepo,
		tierRepo:         tierRepo,
		eventRepo:        eventRepo,
		clock:            clock,
	}
}

// ProvisionFree creates the registration-time subscription on the free tier.
// Idempotent: if the user already has a subscription it is returned as is.
func (s *subscriptionService) ProvisionFree(ctx context.Context, userID uuid.UUID) (*models.Subscription, error) {
	existing, err := s.subscriptionRepo.GetByUserID(ctx, userID)
	if err == nil {
		return existing, nil
	}
	if !errors.Is(err, pgx.ErrNoRows) {
		return nil, err
	}

	freeTier, err := s.tierRepo.GetFree(ctx)
	if err != nil {
		return nil, fmt.Errorf("failed to resolve free tier: %w", err)
	}

	sub := billing.NewFreeSubscription(uuid.New(), userID, freeTier)
	if err := s.subscriptionRepo.Create(ctx, sub); err != nil {
		return nil, err
	}
	return sub, nil
}

func (s *subscriptionService) GetByUserID(ctx context.Context, actor models.Actor) (*models.Subscription, error) {
	if !actor.HasRole(models.RoleSubscriber) {
		return nil, common.NewUnauthorized("Subscriber role required")
	}

	sub, err := s.subscriptionRepo.GetByUserID(ctx, actor.ID)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, common.NewNotFound("Subscription not found")
		}
		return nil, err
	}
	return sub, nil
}

// Downgrade moves the user to a strictly lower tier without charging. A
// target at or above the current tier is a caller bug: upgrades must go
// through Charge, so routing one here fails hard rather than silently
// skipping payment.
func (s *subscriptionService) Downgrade(ctx context.Context, actor models.Actor, tierID uuid.UUID) (*models.Subscription, error) {
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
	case billing.ChangeUpgrade:
		return nil, common.NewInternal(fmt.Sprintf("downgrade called with upgrade target %q from %q", tier.Name, currentTier.Name))
	}

	if billing.IsBillable(tier) {
		billing.ApplyPaidDowngrade(sub, tier)
	} else {
		billing.ApplyFreeDowngrade(sub, tier)
	}

	if err := s.subscriptionRepo.Update(ctx, sub); err != nil {
		return nil, err
	}
	return sub, nil
}

// Gift grants a tier for a fixed duration without payment. Admin only. The
// gifted subscription is excluded from the billing sweep until it expires.
func (s *subscriptionService) Gift(ctx context.Context, actor models.Actor, userID, tierID uuid.UUID, durationDays, gracePeriodSize int) (*models.Subscription, error) {
	if !actor.HasRole(models.RoleAdmin) {
		return nil, common.NewUnauthorized("Admin role required")
	}
	if durationDays <= 0 {
		return nil, common.NewBadRequest("Gift duration must be positive")
	}
	if gracePeriodSize < 0 {
		return nil, common.NewBadRequest("Grace period size cannot be negative")
	}

	tier, err := s.tierRepo.GetByID(ctx, tierID)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, common.NewNotFound("Subscription tier not found")
		}
		return nil, err
	}

	sub, err := s.subscriptionRepo.GetByUserID(ctx, userID)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, common.NewNotFound("Subscription not found")
		}
		return nil, err
	}

	billing.ApplyGift(sub, tier, durationDays, gracePeriodSize, s.clock.Now())
	if err := s.subscriptionRepo.Update(ctx, sub); err != nil {
		return nil, err
	}
	return sub, nil
}

// ListPaymentEvents returns the caller's charge history, newest first.
func (s *subscriptionService) ListPaymentEvents(ctx context.Context, actor models.Actor, limit, offset int) ([]*models.PaymentEvent, error) {
	if !actor.HasRole(models.RoleSubscriber) {
		return nil, common.NewUnauthorized("Subscriber role required")
	}
	if limit <= 0 || limit > 100 {
		limit = 50
	}
	if offset < 0 {
		offset = 0
	}

	sub, err := s.subscriptionRepo.GetByUserID(ctx, actor.ID)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, common.NewNotFound("Subscription not found")
		}
		return nil, err
	}
	return s.eventRepo.ListBySubscription(ctx, sub.ID, limit, offset)
}
