package repositories

import (
	"context"

	"studyhub/internal/models"

	"github.com/google/uuid"
)

// PaymentEventRepository appends audit records. Events are write-once;
// there is deliberately no update or delete.
type PaymentEventRepository interface {
	Create(ctx context.Context, event *models.PaymentEvent) error
	ListBySubscription(ctx context.Context, subscriptionID uuid.UUID, limit, offset int) ([]*models.PaymentEvent, error)
}

type paymentEventRepo struct {
	db DB
}

func NewPaymentEventRepo(db DB) PaymentEventRepository {
	return &paymentEventRepo{db: db}
}

func (r *paymentEventRepo) Create(ctx context.Context, event *models.PaymentEvent) error {
	query := `
		INSERT INTO payment_events (id, subscription_id, amount, outcome, created_at)
		VALUES ($1, $2, $3, $4, NOW())
	`
	_, err := r.db.Exec(ctx, query, event.ID, event.SubscriptionID, event.Amount, event.Outcome)
	return err
}

func (r *paymentEventRepo) ListBySubscription(ctx context.Context, subscriptionID uuid.UUID, limit, offset int) ([]*models.PaymentEvent, error) {
	query := `
		SELECT id, subscription_id, amount, outcome, created_at
		FROM payment_events
		WHERE subscription_id = $1
		ORDER BY created_at DESC
		LIMIT $2 OFFSET $3
	`
	rows, err := r.db.Query(ctx, query, subscriptionID, limit, offset)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var events []*models.PaymentEvent
	for rows.Next() {
		event := &models.PaymentEvent{}
		if err := rows.Scan(&event.ID, &event.SubscriptionID, &event.Amount, &event.Outcome, &event.CreatedAt); err != nil {
			return nil, err
		}
		events = append(events, event)
	}
	return events, rows.Err()
}
