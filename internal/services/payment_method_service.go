package services

import (
	"context"
	"errors"
	"fmt"

	"studyhub/internal/common"
	"studyhub/internal/models"
	"studyhub/internal/repositories"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"
)

// PaymentMethodService handles the saved payment method lifecycle.
type PaymentMethodService interface {
	AddPaymentMethod(ctx context.Context, actor models.Actor) (*AddPaymentMethodResult, error)
	GetActivePaymentMethod(ctx context.Context, actor models.Actor) (*models.PaymentMethod, error)
	DeletePaymentMethod(ctx context.Context, actor models.Actor) error
	ActivatePaymentMethod(ctx context.Context, token string) error
}

// AddPaymentMethodResult carries the redirect URL where the user confirms
// the new method.
type AddPaymentMethodResult struct {
	ConfirmationURL string
}

type paymentMethodService struct {
	methodRepo repositories.PaymentMethodRepository
	gateway    YooKassaService
	returnURL  string
}

func NewPaymentMethodService(methodRepo repositories.PaymentMethodRepository, gateway YooKassaService, returnURL string) PaymentMethodService {
	return &paymentMethodService{
		methodRepo: methodRepo,
		gateway:    gateway,
		returnURL:  returnURL,
	}
}

// AddPaymentMethod registers a new method with the gateway and stores it as
// pending. Any previously saved method for the user is superseded. The
// pending row becomes active when the gateway confirms it via callback.
func (s *paymentMethodService) AddPaymentMethod(ctx context.Context, actor models.Actor) (*AddPaymentMethodResult, error) {
	if !actor.HasRole(models.RoleSubscriber) {
		return nil, common.NewUnauthorized("Subscriber role required")
	}

	created, err := s.gateway.CreateSavedPaymentMethod(ctx, s.returnURL, uuid.NewString())
	if err != nil {
		return nil, common.NewGatewayUnavailable("Payment gateway is unavailable", err)
	}

	method := &models.PaymentMethod{
		ID:              uuid.New(),
		UserID:          actor.ID,
		PaymentMethodID: created.ID,
		Status:          models.PaymentMethodStatusPending,
		Type:            created.Type,
	}
	if created.Card != nil {
		method.Last4 = created.Card.Last4
	}

	if err := s.methodRepo.Replace(ctx, method); err != nil {
		return nil, fmt.Errorf("failed to store payment method: %w", err)
	}

	return &AddPaymentMethodResult{ConfirmationURL: created.ConfirmationURL()}, nil
}

func (s *paymentMethodService) GetActivePaymentMethod(ctx context.Context, actor models.Actor) (*models.PaymentMethod, error) {
	if !actor.HasRole(models.RoleSubscriber) {
		return nil, common.NewUnauthorized("Subscriber role required")
	}

	method, err := s.methodRepo.GetActiveByUserID(ctx, actor.ID)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, common.NewNotFound("Payment method not found")
		}
		return nil, err
	}
	return method, nil
}

func (s *paymentMethodService) DeletePaymentMethod(ctx context.Context, actor models.Actor) error {
	if !actor.HasRole(models.RoleSubscriber) {
		return common.NewUnauthorized("Subscriber role required")
	}

	if err := s.methodRepo.DeleteByUserID(ctx, actor.ID); err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return common.NewNotFound("Payment method not found")
		}
		return err
	}
	return nil
}

// ActivatePaymentMethod flips the stored row pending -> active. Triggered
// by the gateway's confirmation callback, keyed by the gateway token.
func (s *paymentMethodService) ActivatePaymentMethod(ctx context.Context, token string) error {
	if err := s.methodRepo.ActivateByToken(ctx, token); err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return common.NewNotFound("Payment method not found")
		}
		return err
	}
	return nil
}
