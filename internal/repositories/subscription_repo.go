package repositories

import (
	"context"
	"errors"
	"time"

	"studyhub/internal/models"

	"github.com/google/uuid"
)

// ErrStaleSubscription is returned when the atomic apply step finds the
// subscription changed between validation and commit. The caller treats it
// as a lost race, not a failure to retry blindly.
var ErrStaleSubscription = errors.New("subscription was modified concurrently")

type SubscriptionRepository interface {
	Create(ctx context.Context, sub *models.Subscription) error
	GetByUserID(ctx context.Context, userID uuid.UUID) (*models.Subscription, error)
	GetByID(ctx context.Context, id uuid.UUID) (*models.Subscription, error)
	Update(ctx context.Context, sub *models.Subscription) error
	ApplyChargeOutcome(ctx context.Context, sub *models.Subscription, expectedTierID uuid.UUID, expectedPeriodEnd *time.Time, event *models.PaymentEvent) error
	ListDueForBilling(ctx context.Context, now time.Time, limit int) ([]*models.Subscription, error)
}

type subscriptionRepo struct {
	db DB
}

func NewSubscriptionRepo(db DB) SubscriptionRepository {
	return &subscriptionRepo{db: db}
}

const subscriptionColumns = `id, user_id, subscription_tier_id, price_on_purchase, billing_period_days, current_period_end, next_billing_at, last_billing_attempt, billing_retry_attempts, grace_period_size, is_gifted, payment_method_id, created_at, updated_at`

func scanSubscription(row interface{ Scan(dest ...any) error }) (*models.Subscription, error) {
	sub := &models.Subscription{}
	err := row.Scan(&sub.ID, &sub.UserID, &sub.SubscriptionTierID, &sub.PriceOnPurchase, &sub.BillingPeriodDays, &sub.CurrentPeriodEnd, &sub.NextBillingAt, &sub.LastBillingAttempt, &sub.BillingRetryAttempts, &sub.GracePeriodSize, &sub.IsGifted, &sub.PaymentMethodID, &sub.CreatedAt, &sub.UpdatedAt)
	if err != nil {
		return nil, err
	}
	return sub, nil
}

func (r *subscriptionRepo) Create(ctx context.Context, sub *models.Subscription) error {
	query := `
		INSERT INTO subscriptions (id, user_id, subscription_tier_id, price_on_purchase, billing_period_days, current_period_end, next_billing_at, last_billing_attempt, billing_retry_attempts, grace_period_size, is_gifted, payment_method_id, created_at, updated_at)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10, $11, $12, NOW(), NOW())
	`
	_, err := r.db.Exec(ctx, query, sub.ID, sub.UserID, sub.SubscriptionTierID, sub.PriceOnPurchase, sub.BillingPeriodDays, sub.CurrentPeriodEnd, sub.NextBillingAt, sub.LastBillingAttempt, sub.BillingRetryAttempts, sub.GracePeriodSize, sub.IsGifted, sub.PaymentMethodID)
	return err
}

func (r *subscriptionRepo) GetByUserID(ctx context.Context, userID uuid.UUID) (*models.Subscription, error) {
	query := `
		SELECT ` + subscriptionColumns + `
		FROM subscriptions
		WHERE user_id = $1
	`
	return scanSubscription(r.db.QueryRow(ctx, query, userID))
}

func (r *subscriptionRepo) GetByID(ctx context.Context, id uuid.UUID) (*models.Subscription, error) {
	query := `
		SELECT ` + subscriptionColumns + `
		FROM subscriptions
		WHERE id = $1
	`
	return scanSubscription(r.db.QueryRow(ctx, query, id))
}

func (r *subscriptionRepo) Update(ctx context.Context, sub *models.Subscription) error {
	query := `
		UPDATE subscriptions
		SET subscription_tier_id = $1, price_on_purchase = $2, billing_period_days = $3, current_period_end = $4, next_billing_at = $5, last_billing_attempt = $6, billing_retry_attempts = $7, grace_period_size = $8, is_gifted = $9, payment_method_id = $10, updated_at = NOW()
		WHERE id = $11
	`
	_, err := r.db.Exec(ctx, query, sub.SubscriptionTierID, sub.PriceOnPurchase, sub.BillingPeriodDays, sub.CurrentPeriodEnd, sub.NextBillingAt, sub.LastBillingAttempt, sub.BillingRetryAttempts, sub.GracePeriodSize, sub.IsGifted, sub.PaymentMethodID, sub.ID)
	return err
}

// ApplyChargeOutcome persists one charge attempt atomically: it locks the
// subscription row, verifies the tier and period boundary still match what
// the caller validated against, then writes the subscription update and the
// payment event in one transaction. The row lock serializes concurrent
// charge attempts per subscription; the tier/period check turns a lost race
// into ErrStaleSubscription instead of a double mutation.
func (r *subscriptionRepo) ApplyChargeOutcome(ctx context.Context, sub *models.Subscription, expectedTierID uuid.UUID, expectedPeriodEnd *time.Time, event *models.PaymentEvent) error {
	tx, err := r.db.Begin(ctx)
	if err != nil {
		return err
	}
	defer tx.Rollback(ctx)

	var currentTierID uuid.UUID
	var currentPeriodEnd *time.Time
	lockQuery := `
		SELECT subscription_tier_id, current_period_end
		FROM subscriptions
		WHERE id = $1
		FOR UPDATE
	`
	if err := tx.QueryRow(ctx, lockQuery, sub.ID).Scan(&currentTierID, &currentPeriodEnd); err != nil {
		return err
	}
	if currentTierID != expectedTierID || !equalTimePtr(currentPeriodEnd, expectedPeriodEnd) {
		return ErrStaleSubscription
	}

	updateQuery := `
		UPDATE subscriptions
		SET subscription_tier_id = $1, price_on_purchase = $2, billing_period_days = $3, current_period_end = $4, next_billing_at = $5, last_billing_attempt = $6, billing_retry_attempts = $7, grace_period_size = $8, is_gifted = $9, payment_method_id = $10, updated_at = NOW()
		WHERE id = $11
	`
	if _, err := tx.Exec(ctx, updateQuery, sub.SubscriptionTierID, sub.PriceOnPurchase, sub.BillingPeriodDays, sub.CurrentPeriodEnd, sub.NextBillingAt, sub.LastBillingAttempt, sub.BillingRetryAttempts, sub.GracePeriodSize, sub.IsGifted, sub.PaymentMethodID, sub.ID); err != nil {
		return err
	}

	eventQuery := `
		INSERT INTO payment_events (id, subscription_id, amount, outcome, created_at)
		VALUES ($1, $2, $3, $4, NOW())
	`
	if _, err := tx.Exec(ctx, eventQuery, event.ID, event.SubscriptionID, event.Amount, event.Outcome); err != nil {
		return err
	}

	return tx.Commit(ctx)
}

// ListDueForBilling selects subscriptions the scheduler should charge:
// never gifted ones, only those whose next billing instant has passed.
func (r *subscriptionRepo) ListDueForBilling(ctx context.Context, now time.Time, limit int) ([]*models.Subscription, error) {
	query := `
		SELECT ` + subscriptionColumns + `
		FROM subscriptions
		WHERE is_gifted = FALSE AND next_billing_at IS NOT NULL AND next_billing_at <= $1
		ORDER BY next_billing_at ASC
		LIMIT $2
	`
	rows, err := r.db.Query(ctx, query, now, limit)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var subs []*models.Subscription
	for rows.Next() {
		sub, err := scanSubscription(rows)
		if err != nil {
			return nil, err
		}
		subs = append(subs, sub)
	}
	return subs, rows.Err()
}

func equalTimePtr(a, b *time.Time) bool {
	if a == nil || b == nil {
		return a == b
	}
	return a.Equal(*b)
}
