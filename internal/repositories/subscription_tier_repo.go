package repositories

import (
	"context"

	"studyhub/internal/models"

	"github.com/google/uuid"
)

type SubscriptionTierRepository interface {
	Create(ctx context.Context, tier *models.SubscriptionTier) error
	GetByID(ctx context.Context, id uuid.UUID) (*models.SubscriptionTier, error)
	GetFree(ctx context.Context) (*models.SubscriptionTier, error)
	List(ctx context.Context) ([]*models.SubscriptionTier, error)
}

type subscriptionTierRepo struct {
	db DB
}

func NewSubscriptionTierRepo(db DB) SubscriptionTierRepository {
	return &subscriptionTierRepo{db: db}
}

func (r *subscriptionTierRepo) Create(ctx context.Context, tier *models.SubscriptionTier) error {
	query := `
		INSERT INTO subscription_tiers (id, name, power, price, billing_period_days, permissions, created_at, updated_at)
		VALUES ($1, $2, $3, $4, $5, $6, NOW(), NOW())
		ON CONFLICT (name) DO NOTHING
	`
	_, err := r.db.Exec(ctx, query, tier.ID, tier.Name, tier.Power, tier.Price, tier.BillingPeriodDays, tier.Permissions)
	return err
}

func (r *subscriptionTierRepo) GetByID(ctx context.Context, id uuid.UUID) (*models.SubscriptionTier, error) {
	tier := &models.SubscriptionTier{}
	query := `
		SELECT id, name, power, price, billing_period_days, permissions, created_at, updated_at
		FROM subscription_tiers
		WHERE id = $1
	`
	err := r.db.QueryRow(ctx, query, id).Scan(&tier.ID, &tier.Name, &tier.Power, &tier.Price, &tier.BillingPeriodDays, &tier.Permissions, &tier.CreatedAt, &tier.UpdatedAt)
	if err != nil {
		return nil, err
	}
	return tier, nil
}

// GetFree returns the lowest-power tier, which is the suspension and
// registration target.
func (r *subscriptionTierRepo) GetFree(ctx context.Context) (*models.SubscriptionTier, error) {
	tier := &models.SubscriptionTier{}
	query := `
		SELECT id, name, power, price, billing_period_days, permissions, created_at, updated_at
		FROM subscription_tiers
		ORDER BY power ASC
		LIMIT 1
	`
	err := r.db.QueryRow(ctx, query).Scan(&tier.ID, &tier.Name, &tier.Power, &tier.Price, &tier.BillingPeriodDays, &tier.Permissions, &tier.CreatedAt, &tier.UpdatedAt)
	if err != nil {
		return nil, err
	}
	return tier, nil
}

func (r *subscriptionTierRepo) List(ctx context.Context) ([]*models.SubscriptionTier, error) {
	query := `
		SELECT id, name, power, price, billing_period_days, permissions, created_at, updated_at
		FROM subscription_tiers
		ORDER BY power ASC
	`
	rows, err := r.db.Query(ctx, query)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var tiers []*models.SubscriptionTier
	for rows.Next() {
		tier := &models.SubscriptionTier{}
		if err := rows.Scan(&tier.ID, &tier.Name, &tier.Power, &tier.Price, &tier.BillingPeriodDays, &tier.Permissions, &tier.CreatedAt, &tier.UpdatedAt); err != nil {
			return nil, err
		}
		tiers = append(tiers, tier)
	}
	return tiers, rows.Err()
}
