package billing

import (
	"time"

	"github.com/google/uuid"

	"studyhub/internal/models"
)

// The mutation helpers below express every money-relevant state transition
// as a pure function of the subscription, the tier catalog and an explicit
// instant. Callers persist the result atomically together with the
// corresponding payment event.

// ApplyPurchase transitions a subscription onto a newly charged tier. The
// catalog price is snapshotted into PriceOnPurchase and stays fixed even if
// the catalog changes later.
func ApplyPurchase(sub *models.Subscription, tier *models.SubscriptionTier, methodToken string, now time.Time) {
	periodEnd := now.AddDate(0, 0, tier.BillingPeriodDays)

	sub.SubscriptionTierID = tier.ID
	sub.PriceOnPurchase = tier.Price
	sub.BillingPeriodDays = tier.BillingPeriodDays
	sub.CurrentPeriodEnd = &periodEnd
	sub.NextBillingAt = timePtr(periodEnd)
	sub.LastBillingAttempt = &now
	sub.BillingRetryAttempts = 0
	sub.IsGifted = false
	sub.PaymentMethodID = &methodToken
}

// ApplyRenewal advances the billing period after a successful recurring
// charge. Both boundaries move by exactly one billing period so a late
// charge does not drift the schedule.
func ApplyRenewal(sub *models.Subscription, now time.Time) {
	period := time.Duration(sub.BillingPeriodDays) * 24 * time.Hour
	if sub.CurrentPeriodEnd != nil {
		end := sub.CurrentPeriodEnd.Add(period)
		sub.CurrentPeriodEnd = &end
	}
	if sub.NextBillingAt != nil {
		next := sub.NextBillingAt.Add(period)
		sub.NextBillingAt = &next
	}
	sub.LastBillingAttempt = &now
	sub.BillingRetryAttempts = 0
}

// ApplyBillingFailure records one failed recurring charge and schedules the
// next retry with an exponential, capped backoff. The caller decides
// suspension separately via ExceededGracePeriod.
func ApplyBillingFailure(sub *models.Subscription, now time.Time, base, maxDelay time.Duration) {
	sub.BillingRetryAttempts++
	sub.LastBillingAttempt = &now
	next := now.Add(RetryBackoff(sub.BillingRetryAttempts, base, maxDelay))
	sub.NextBillingAt = &next
}

// ExceededGracePeriod reports whether the subscription has failed billing
// more consecutive times than its grace period tolerates.
func ExceededGracePeriod(sub *models.Subscription) bool {
	return sub.BillingRetryAttempts > sub.GracePeriodSize
}

// RetryBackoff returns the delay before retry number attempt (1-based):
// base doubled per prior failure, never above maxDelay.
func RetryBackoff(attempt int, base, maxDelay time.Duration) time.Duration {
	if attempt < 1 {
		attempt = 1
	}
	delay := base
	for i := 1; i < attempt; i++ {
		delay *= 2
		if delay >= maxDelay {
			return maxDelay
		}
	}
	if delay > maxDelay {
		return maxDelay
	}
	return delay
}

// ApplyPaidDowngrade moves a subscription to a cheaper paid tier. The user
// keeps the remainder of the period already paid for, so CurrentPeriodEnd,
// NextBillingAt and LastBillingAttempt are left untouched.
func ApplyPaidDowngrade(sub *models.Subscription, tier *models.SubscriptionTier) {
	sub.SubscriptionTierID = tier.ID
	sub.PriceOnPurchase = tier.Price
	sub.BillingPeriodDays = tier.BillingPeriodDays
	sub.BillingRetryAttempts = 0
}

// ApplyFreeDowngrade moves a subscription to the free tier, clearing every
// billing schedule field. Used both for self-service downgrades and for
// suspension after grace-period exhaustion.
func ApplyFreeDowngrade(sub *models.Subscription, freeTier *models.SubscriptionTier) {
	sub.SubscriptionTierID = freeTier.ID
	sub.PriceOnPurchase = freeTier.Price
	sub.BillingPeriodDays = 0
	sub.CurrentPeriodEnd = nil
	sub.NextBillingAt = nil
	sub.GracePeriodSize = 0
	sub.BillingRetryAttempts = 0
	sub.IsGifted = true
}

// ApplyGift overwrites a subscription with an administrator-granted tier.
// Gifted subscriptions are never auto-charged, so the payment method
// linkage is cleared and no billing is scheduled.
func ApplyGift(sub *models.Subscription, tier *models.SubscriptionTier, durationDays, gracePeriodSize int, now time.Time) {
	periodEnd := now.AddDate(0, 0, durationDays)

	sub.SubscriptionTierID = tier.ID
	sub.PriceOnPurchase = tier.Price
	sub.BillingPeriodDays = durationDays
	sub.CurrentPeriodEnd = &periodEnd
	sub.NextBillingAt = nil
	sub.BillingRetryAttempts = 0
	sub.GracePeriodSize = gracePeriodSize
	sub.IsGifted = true
	sub.PaymentMethodID = nil
}

// NewFreeSubscription provisions the registration-time subscription on the
// free tier: gifted, no billing schedule, no expiry.
func NewFreeSubscription(id, userID uuid.UUID, freeTier *models.SubscriptionTier) *models.Subscription {
	return &models.Subscription{
		ID:                 id,
		UserID:             userID,
		SubscriptionTierID: freeTier.ID,
		PriceOnPurchase:    freeTier.Price,
		IsGifted:           true,
	}
}

func timePtr(t time.Time) *time.Time { return &t }
