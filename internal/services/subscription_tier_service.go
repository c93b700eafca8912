package services

import (
	"context"
	"errors"
	"log"
	"time"

	"studyhub/internal/caching"
	"studyhub/internal/common"
	"studyhub/internal/models"
	"studyhub/internal/repositories"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"
)

const tierCacheTTL = 10 * time.Minute

// SubscriptionTierService serves the tier catalog. Reads go through the
// cache; the catalog changes rarely and is read on every purchase.
type SubscriptionTierService interface {
	Create(ctx context.Context, actor models.Actor, tier *models.SubscriptionTier) error
	GetByID(ctx context.Context, tierID uuid.UUID) (*models.SubscriptionTier, error)
	List(ctx context.Context) ([]*models.SubscriptionTier, error)
}

type subscriptionTierService struct {
	tierRepo repositories.SubscriptionTierRepository
	cache    caching.CacheService
}

func NewSubscriptionTierService(tierRepo repositories.SubscriptionTierRepository, cache caching.CacheService) SubscriptionTierService {
	return &subscriptionTierService{tierRepo: tierRepo, cache: cache}
}

func (s *subscriptionTierService) Create(ctx context.Context, actor models.Actor, tier *models.SubscriptionTier) error {
	if !actor.HasRole(models.RoleAdmin) {
		return common.NewUnauthorized("Admin role required")
	}
	if tier.Name == "" {
		return common.NewBadRequest("Tier name is required")
	}
	if tier.Price < 0 {
		return common.NewBadRequest("Tier price cannot be negative")
	}
	if tier.Price > 0 && tier.BillingPeriodDays <= 0 {
		return common.NewBadRequest("Billable tier needs a positive billing period")
	}

	if tier.ID == uuid.Nil {
		tier.ID = uuid.New()
	}
	if err := s.tierRepo.Create(ctx, tier); err != nil {
		return err
	}

	if err := s.cache.InvalidateTiers(ctx); err != nil {
		log.Printf("failed to invalidate tier cache: %v", err)
	}
	return nil
}

func (s *subscriptionTierService) GetByID(ctx context.Context, tierID uuid.UUID) (*models.SubscriptionTier, error) {
	if cached, err := s.cache.GetTier(ctx, tierID); err == nil && cached != nil {
		return cached, nil
	}

	tier, err := s.tierRepo.GetByID(ctx, tierID)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, common.NewNotFound("Subscription tier not found")
		}
		return nil, err
	}

	if err := s.cache.SetTier(ctx, tier, tierCacheTTL); err != nil {
		log.Printf("failed to cache tier %s: %v", tier.ID, err)
	}
	return tier, nil
}

func (s *subscriptionTierService) List(ctx context.Context) ([]*models.SubscriptionTier, error) {
	if cached, err := s.cache.GetTierList(ctx); err == nil && cached != nil {
		return cached, nil
	}

	tiers, err := s.tierRepo.List(ctx)
	if err != nil {
		return nil, err
	}

	if err := s.cache.SetTierList(ctx, tiers, tierCacheTTL); err != nil {
		log.Printf("failed to cache tier list: %v", err)
	}
	return tiers, nil
}
