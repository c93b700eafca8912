package models

import (
	"time"

	"github.com/google/uuid"
)

// Subscription is the single billing row per user. It is never hard-deleted,
// only transitioned. Nullable timestamps carry meaning: a nil
// CurrentPeriodEnd means the subscription does not expire, a nil
// NextBillingAt means it is not scheduled for auto-charge.
type Subscription struct {
	ID                   uuid.UUID  `json:"id" db:"id"`
	UserID               uuid.UUID  `json:"user_id" db:"user_id"`
	SubscriptionTierID   uuid.UUID  `json:"subscription_tier_id" db:"subscription_tier_id"`
	PriceOnPurchase      int64      `json:"price_on_purchase" db:"price_on_purchase"`
	BillingPeriodDays    int        `json:"billing_period_days" db:"billing_period_days"`
	CurrentPeriodEnd     *time.Time `json:"current_period_end" db:"current_period_end"`
	NextBillingAt        *time.Time `json:"next_billing_at" db:"next_billing_at"`
	LastBillingAttempt   *time.Time `json:"last_billing_attempt" db:"last_billing_attempt"`
	BillingRetryAttempts int        `json:"billing_retry_attempts" db:"billing_retry_attempts"`
	GracePeriodSize      int        `json:"grace_period_size" db:"grace_period_size"`
	IsGifted             bool       `json:"is_gifted" db:"is_gifted"`
	PaymentMethodID      *string    `json:"payment_method_id" db:"payment_method_id"`
	CreatedAt            time.Time  `json:"created_at" db:"created_at"`
	UpdatedAt            time.Time  `json:"updated_at" db:"updated_at"`
}
