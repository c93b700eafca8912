package repositories

import (
	"context"

	"studyhub/internal/models"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"
)

type PaymentMethodRepository interface {
	Replace(ctx context.Context, method *models.PaymentMethod) error
	GetActiveByUserID(ctx context.Context, userID uuid.UUID) (*models.PaymentMethod, error)
	ActivateByToken(ctx context.Context, token string) error
	DeleteByUserID(ctx context.Context, userID uuid.UUID) error
}

type paymentMethodRepo struct {
	db DB
}

func NewPaymentMethodRepo(db DB) PaymentMethodRepository {
	return &paymentMethodRepo{db: db}
}

// Replace supersedes any previously registered methods for the user with
// the new one. Delete and insert run in one transaction so the user never
// observes zero methods mid-registration.
func (r *paymentMethodRepo) Replace(ctx context.Context, method *models.PaymentMethod) error {
	tx, err := r.db.Begin(ctx)
	if err != nil {
		return err
	}
	defer tx.Rollback(ctx)

	if _, err := tx.Exec(ctx, `DELETE FROM payment_methods WHERE user_id = $1`, method.UserID); err != nil {
		return err
	}

	insertQuery := `
		INSERT INTO payment_methods (id, user_id, payment_method_id, status, type, last4, created_at)
		VALUES ($1, $2, $3, $4, $5, $6, NOW())
	`
	if _, err := tx.Exec(ctx, insertQuery, method.ID, method.UserID, method.PaymentMethodID, method.Status, method.Type, method.Last4); err != nil {
		return err
	}

	return tx.Commit(ctx)
}

// GetActiveByUserID returns the method used for charging: active status
// only, newest first. Pending methods are invisible here.
func (r *paymentMethodRepo) GetActiveByUserID(ctx context.Context, userID uuid.UUID) (*models.PaymentMethod, error) {
	method := &models.PaymentMethod{}
	query := `
		SELECT id, user_id, payment_method_id, status, type, last4, created_at
		FROM payment_methods
		WHERE user_id = $1 AND status = $2
		ORDER BY created_at DESC
		LIMIT 1
	`
	err := r.db.QueryRow(ctx, query, userID, models.PaymentMethodStatusActive).Scan(&method.ID, &method.UserID, &method.PaymentMethodID, &method.Status, &method.Type, &method.Last4, &method.CreatedAt)
	if err != nil {
		return nil, err
	}
	return method, nil
}

// ActivateByToken flips a pending method to active, keyed by the gateway
// token the confirmation callback carries.
func (r *paymentMethodRepo) ActivateByToken(ctx context.Context, token string) error {
	query := `
		UPDATE payment_methods
		SET status = $1
		WHERE payment_method_id = $2 AND status = $3
	`
	tag, err := r.db.Exec(ctx, query, models.PaymentMethodStatusActive, token, models.PaymentMethodStatusPending)
	if err != nil {
		return err
	}
	if tag.RowsAffected() == 0 {
		return pgx.ErrNoRows
	}
	return nil
}

func (r *paymentMethodRepo) DeleteByUserID(ctx context.Context, userID uuid.UUID) error {
	tag, err := r.db.Exec(ctx, `DELETE FROM payment_methods WHERE user_id = $1 AND status = $2`, userID, models.PaymentMethodStatusActive)
	if err != nil {
		return err
	}
	if tag.RowsAffected() == 0 {
		return pgx.ErrNoRows
	}
	return nil
}
