package models

import (
	"time"

	"github.com/google/uuid"
)

// SubscriptionTier is a catalog entry. Tiers are created and edited by an
// administrative surface; the billing engine treats them as read-only.
// Power totally orders tiers for upgrade/downgrade comparison and is
// independent of price. Price is in whole rubles, 0 means free.
type SubscriptionTier struct {
	ID                uuid.UUID `json:"id" db:"id"`
	Name              string    `json:"name" db:"name"`
	Power             int       `json:"power" db:"power"`
	Price             int64     `json:"price" db:"price"`
	BillingPeriodDays int       `json:"billing_period_days" db:"billing_period_days"`
	Permissions       []string  `json:"permissions" db:"permissions"`
	CreatedAt         time.Time `json:"created_at" db:"created_at"`
	UpdatedAt         time.Time `json:"updated_at" db:"updated_at"`
}
