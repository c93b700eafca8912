package models

import (
	"time"

	"github.com/google/uuid"
)

const (
	PaymentOutcomeSucceeded = "succeeded"
	PaymentOutcomePending   = "pending"
	PaymentOutcomeDeclined  = "declined"
	PaymentOutcomeError     = "error"
)

// PaymentEvent is the append-only audit record of one charge attempt.
// Exactly one event is written per attempt, successful or not.
type PaymentEvent struct {
	ID             uuid.UUID `json:"id" db:"id"`
	SubscriptionID uuid.UUID `json:"subscription_id" db:"subscription_id"`
	Amount         int64     `json:"amount" db:"amount"`
	Outcome        string    `json:"outcome" db:"outcome"`
	CreatedAt      time.Time `json:"created_at" db:"created_at"`
}
