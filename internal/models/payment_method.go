package models

import (
	"time"

	"github.com/google/uuid"
)

const (
	PaymentMethodStatusPending = "pending"
	PaymentMethodStatusActive  = "active"
)

// PaymentMethod is a gateway-issued payment method token saved for a user.
// A pending method is awaiting the gateway's asynchronous confirmation and
// is not usable for charging.
type PaymentMethod struct {
	ID              uuid.UUID `json:"id" db:"id"`
	UserID          uuid.UUID `json:"user_id" db:"user_id"`
	PaymentMethodID string    `json:"payment_method_id" db:"payment_method_id"`
	Status          string    `json:"status" db:"status"`
	Type            string    `json:"type" db:"type"`
	Last4           string    `json:"last4" db:"last4"`
	CreatedAt       time.Time `json:"created_at" db:"created_at"`
}
