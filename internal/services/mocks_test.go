package services

import (
	"context"
	"time"

	"studyhub/internal/models"

	"github.com/google/uuid"
	"github.com/stretchr/testify/mock"
)

// Mock repositories and services shared across the service test suites.

type MockSubscriptionRepository struct {
	mock.Mock
}

func (m *MockSubscriptionRepository) Create(ctx context.Context, sub *models.Subscription) error {
	args := m.Called(ctx, sub)
	return args.Error(0)
}

func (m *MockSubscriptionRepository) GetByUserID(ctx context.Context, userID uuid.UUID) (*models.Subscription, error) {
	args := m.Called(ctx, userID)
	if args.Get(0) == nil {
		return nil, args.Error(1)
	}
	return args.Get(0).(*models.Subscription), args.Error(1)
}

func (m *MockSubscriptionRepository) GetByID(ctx context.Context, id uuid.UUID) (*models.Subscription, error) {
	args := m.Called(ctx, id)
	if args.Get(0) == nil {
		return nil, args.Error(1)
	}
	return args.Get(0).(*models.Subscription), args.Error(1)
}

func (m *MockSubscriptionRepository) Update(ctx context.Context, sub *models.Subscription) error {
	args := m.Called(ctx, sub)
	return args.Error(0)
}

func (m *MockSubscriptionRepository) ApplyChargeOutcome(ctx context.Context, sub *models.Subscription, expectedTierID uuid.UUID, expectedPeriodEnd *time.Time, event *models.PaymentEvent) error {
	args := m.Called(ctx, sub, expectedTierID, expectedPeriodEnd, event)
	return args.Error(0)
}

func (m *MockSubscriptionRepository) ListDueForBilling(ctx context.Context, now time.Time, limit int) ([]*models.Subscription, error) {
	args := m.Called(ctx, now, limit)
	if args.Get(0) == nil {
		return nil, args.Error(1)
	}
	return args.Get(0).([]*models.Subscription), args.Error(1)
}

type MockSubscriptionTierRepository struct {
	mock.Mock
}

func (m *MockSubscriptionTierRepository) Create(ctx context.Context, tier *models.SubscriptionTier) error {
	args := m.Called(ctx, tier)
	return args.Error(0)
}

func (m *MockSubscriptionTierRepository) GetByID(ctx context.Context, id uuid.UUID) (*models.SubscriptionTier, error) {
	args := m.Called(ctx, id)
	if args.Get(0) == nil {
		return nil, args.Error(1)
	}
	return args.Get(0).(*models.SubscriptionTier), args.Error(1)
}

func (m *MockSubscriptionTierRepository) GetFree(ctx context.Context) (*models.SubscriptionTier, error) {
	args := m.Called(ctx)
	if args.Get(0) == nil {
		return nil, args.Error(1)
	}
	return args.Get(0).(*models.SubscriptionTier), args.Error(1)
}

func (m *MockSubscriptionTierRepository) List(ctx context.Context) ([]*models.SubscriptionTier, error) {
	args := m.Called(ctx)
	if args.Get(0) == nil {
		return nil, args.Error(1)
	}
	return args.Get(0).([]*models.SubscriptionTier), args.Error(1)
}

type MockPaymentEventRepository struct {
	mock.Mock
}

func (m *MockPaymentEventRepository) Create(ctx context.Context, event *models.PaymentEvent) error {
	args := m.Called(ctx, event)
	return args.Error(0)
}

func (m *MockPaymentEventRepository) ListBySubscription(ctx context.Context, subscriptionID uuid.UUID, limit, offset int) ([]*models.PaymentEvent, error) {
	args := m.Called(ctx, subscriptionID, limit, offset)
	if args.Get(0) == nil {
		return nil, args.Error(1)
	}
	return args.Get(0).([]*models.PaymentEvent), args.Error(1)
}

type MockPaymentMethodRepository struct {
	mock.Mock
}

func (m *MockPaymentMethodRepository) Replace(ctx context.Context, method *models.PaymentMethod) error {
	args := m.Called(ctx, method)
	return args.Error(0)
}

func (m *MockPaymentMethodRepository) GetActiveByUserID(ctx context.Context, userID uuid.UUID) (*models.PaymentMethod, error) {
	args := m.Called(ctx, userID)
	if args.Get(0) == nil {
		return nil, args.Error(1)
	}
	return args.Get(0).(*models.PaymentMethod), args.Error(1)
}

func (m *MockPaymentMethodRepository) ActivateByToken(ctx context.Context, token string) error {
	args := m.Called(ctx, token)
	return args.Error(0)
}

func (m *MockPaymentMethodRepository) DeleteByUserID(ctx context.Context, userID uuid.UUID) error {
	args := m.Called(ctx, userID)
	return args.Error(0)
}

type MockYooKassaService struct {
	mock.Mock
}

func (m *MockYooKassaService) CreatePaymentForm(ctx context.Context, amountRubles int64, description, returnURL, idempotenceKey string) (*Payment, error) {
	args := m.Called(ctx, amountRubles, description, returnURL, idempotenceKey)
	if args.Get(0) == nil {
		return nil, args.Error(1)
	}
	return args.Get(0).(*Payment), args.Error(1)
}

func (m *MockYooKassaService) CreateSavedPaymentMethod(ctx context.Context, returnURL, idempotenceKey string) (*SavedPaymentMethod, error) {
	args := m.Called(ctx, returnURL, idempotenceKey)
	if args.Get(0) == nil {
		return nil, args.Error(1)
	}
	return args.Get(0).(*SavedPaymentMethod), args.Error(1)
}

func (m *MockYooKassaService) ChargeSavedMethod(ctx context.Context, paymentMethodID string, amountRubles int64, description, idempotenceKey string) (*Payment, error) {
	args := m.Called(ctx, paymentMethodID, amountRubles, description, idempotenceKey)
	if args.Get(0) == nil {
		return nil, args.Error(1)
	}
	return args.Get(0).(*Payment), args.Error(1)
}

func (m *MockYooKassaService) GetPayment(ctx context.Context, paymentID string) (*Payment, error) {
	args := m.Called(ctx, paymentID)
	if args.Get(0) == nil {
		return nil, args.Error(1)
	}
	return args.Get(0).(*Payment), args.Error(1)
}

type MockCacheService struct {
	mock.Mock
}

func (m *MockCacheService) GetTier(ctx context.Context, tierID uuid.UUID) (*models.SubscriptionTier, error) {
	args := m.Called(ctx, tierID)
	if args.Get(0) == nil {
		return nil, args.Error(1)
	}
	return args.Get(0).(*models.SubscriptionTier), args.Error(1)
}

func (m *MockCacheService) SetTier(ctx context.Context, tier *models.SubscriptionTier, ttl time.Duration) error {
	args := m.Called(ctx, tier, ttl)
	return args.Error(0)
}

func (m *MockCacheService) GetTierList(ctx context.Context) ([]*models.SubscriptionTier, error) {
	args := m.Called(ctx)
	if args.Get(0) == nil {
		return nil, args.Error(1)
	}
	return args.Get(0).([]*models.SubscriptionTier), args.Error(1)
}

func (m *MockCacheService) SetTierList(ctx context.Context, tiers []*models.SubscriptionTier, ttl time.Duration) error {
	args := m.Called(ctx, tiers, ttl)
	return args.Error(0)
}

func (m *MockCacheService) InvalidateTiers(ctx context.Context) error {
	args := m.Called(ctx)
	return args.Error(0)
}

func (m *MockCacheService) IsRateLimited(ctx context.Context, key string, limit int, window time.Duration) (bool, error) {
	args := m.Called(ctx, key, limit, window)
	return args.Bool(0), args.Error(1)
}

func (m *MockCacheService) Ping(ctx context.Context) error {
	args := m.Called(ctx)
	return args.Error(0)
}

// fixedClock freezes billing time for deterministic schedule assertions.
type fixedClock struct {
	now time.Time
}

func (c fixedClock) Now() time.Time { return c.now }
