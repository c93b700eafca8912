package services

import (
	"context"
	"net/http"
	"testing"
	"time"

	"studyhub/internal/common"
	"studyhub/internal/models"
	"studyhub/internal/repositories"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/mock"
	"github.com/stretchr/testify/suite"
)

type BillingServiceTestSuite struct {
	suite.Suite
	mockSubRepo    *MockSubscriptionRepository
	mockTierRepo   *MockSubscriptionTierRepository
	mockMethodRepo *MockPaymentMethodRepository
	mockGateway    *MockYooKassaService
	service        BillingService
	now            time.Time

	userID   uuid.UUID
	freeTier *models.SubscriptionTier
	basic    *models.SubscriptionTier
	pro      *models.SubscriptionTier
}

func (suite *BillingServiceTestSuite) SetupTest() {
	suite.mockSubRepo = &MockSubscriptionRepository{}
	suite.mockTierRepo = &MockSubscriptionTierRepository{}
	suite.mockMethodRepo = &MockPaymentMethodRepository{}
	suite.mockGateway = &MockYooKassaService{}
	suite.now = time.Date(2025, 3, 10, 12, 0, 0, 0, time.UTC)

	suite.service = NewBillingService(
		suite.mockSubRepo,
		suite.mockTierRepo,
		suite.mockMethodRepo,
		suite.mockGateway,
		fixedClock{now: suite.now},
		BillingPolicy{RetryBase: 6 * time.Hour, RetryCap: 48 * time.Hour},
		"https://studyhub.example/payments/return",
	)

	suite.userID = uuid.New()
	suite.freeTier = &models.SubscriptionTier{ID: uuid.New(), Name: "Free", Power: 0, Price: 0}
	suite.basic = &models.SubscriptionTier{ID: uuid.New(), Name: "Basic", Power: 10, Price: 990, BillingPeriodDays: 30}
	suite.pro = &models.SubscriptionTier{ID: uuid.New(), Name: "Pro", Power: 20, Price: 2590, BillingPeriodDays: 30}
}

func (suite *BillingServiceTestSuite) TearDownTest() {
	suite.mockSubRepo.AssertExpectations(suite.T())
	suite.mockTierRepo.AssertExpectations(suite.T())
	suite.mockMethodRepo.AssertExpectations(suite.T())
	suite.mockGateway.AssertExpectations(suite.T())
}

func TestBillingServiceTestSuite(t *testing.T) {
	suite.Run(t, new(BillingServiceTestSuite))
}

func (suite *BillingServiceTestSuite) subscriber() models.Actor {
	return models.Actor{ID: suite.userID, Roles: []string{models.RoleSubscriber}}
}

func (suite *BillingServiceTestSuite) freeSubscription() *models.Subscription {
	return &models.Subscription{
		ID:                 uuid.New(),
		UserID:             suite.userID,
		SubscriptionTierID: suite.freeTier.ID,
		IsGifted:           true,
	}
}

func (suite *BillingServiceTestSuite) paidSubscription(tier *models.SubscriptionTier) *models.Subscription {
	periodEnd := suite.now.Add(-2 * time.Hour)
	token := "pm-token"
	return &models.Subscription{
		ID:                 uuid.New(),
		UserID:             suite.userID,
		SubscriptionTierID: tier.ID,
		PriceOnPurchase:    tier.Price,
		BillingPeriodDays:  tier.BillingPeriodDays,
		CurrentPeriodEnd:   &periodEnd,
		NextBillingAt:      &periodEnd,
		GracePeriodSize:    3,
		PaymentMethodID:    &token,
	}
}

func (suite *BillingServiceTestSuite) activeMethod() *models.PaymentMethod {
	return &models.PaymentMethod{
		ID:              uuid.New(),
		UserID:          suite.userID,
		PaymentMethodID: "pm-token",
		Status:          models.PaymentMethodStatusActive,
		Type:            "bank_card",
		Last4:           "4242",
	}
}

func (suite *BillingServiceTestSuite) TestCharge_UpgradeSuccess() {
	sub := suite.freeSubscription()

	suite.mockTierRepo.On("GetByID", mock.Anything, suite.pro.ID).Return(suite.pro, nil).Once()
	suite.mockMethodRepo.On("GetActiveByUserID", mock.Anything, suite.userID).Return(suite.activeMethod(), nil).Once()
	suite.mockSubRepo.On("GetByUserID", mock.Anything, suite.userID).Return(sub, nil).Once()
	suite.mockTierRepo.On("GetByID", mock.Anything, suite.freeTier.ID).Return(suite.freeTier, nil).Once()
	suite.mockGateway.On("ChargeSavedMethod", mock.Anything, "pm-token", int64(2590), mock.Anything, mock.Anything).
		Return(&Payment{ID: "pay-1", Status: PaymentStatusSucceeded, Paid: true}, nil).Once()
	suite.mockSubRepo.On("ApplyChargeOutcome", mock.Anything, sub, suite.freeTier.ID, (*time.Time)(nil), mock.MatchedBy(func(e *models.PaymentEvent) bool {
		return e.Outcome == models.PaymentOutcomeSucceeded && e.Amount == 2590
	})).Return(nil).Once()

	result, err := suite.service.Charge(context.Background(), suite.subscriber(), suite.pro.ID)

	assert.NoError(suite.T(), err)
	assert.True(suite.T(), result.Paid)
	assert.Equal(suite.T(), "pay-1", result.PaymentID)
	assert.Equal(suite.T(), int64(2590), result.AmountRubles)

	assert.Equal(suite.T(), suite.pro.ID, sub.SubscriptionTierID)
	assert.Equal(suite.T(), int64(2590), sub.PriceOnPurchase)
	assert.Equal(suite.T(), suite.now.AddDate(0, 0, 30), *sub.CurrentPeriodEnd)
	assert.Equal(suite.T(), suite.now.AddDate(0, 0, 30), *sub.NextBillingAt)
	assert.False(suite.T(), sub.IsGifted)
	assert.Equal(suite.T(), 0, sub.BillingRetryAttempts)
}

func (suite *BillingServiceTestSuite) TestCharge_PriceSnapshotSurvivesCatalogChange() {
	sub := suite.freeSubscription()

	suite.mockTierRepo.On("GetByID", mock.Anything, suite.pro.ID).Return(suite.pro, nil).Once()
	suite.mockMethodRepo.On("GetActiveByUserID", mock.Anything, suite.userID).Return(suite.activeMethod(), nil).Once()
	suite.mockSubRepo.On("GetByUserID", mock.Anything, suite.userID).Return(sub, nil).Once()
	suite.mockTierRepo.On("GetByID", mock.Anything, suite.freeTier.ID).Return(suite.freeTier, nil).Once()
	suite.mockGateway.On("ChargeSavedMethod", mock.Anything, "pm-token", int64(2590), mock.Anything, mock.Anything).
		Return(&Payment{ID: "pay-1", Status: PaymentStatusSucceeded, Paid: true}, nil).Once()
	suite.mockSubRepo.On("ApplyChargeOutcome", mock.Anything, sub, suite.freeTier.ID, (*time.Time)(nil), mock.Anything).Return(nil).Once()

	_, err := suite.service.Charge(context.Background(), suite.subscriber(), suite.pro.ID)
	assert.NoError(suite.T(), err)

	// Catalog price rises after purchase; the snapshot stays fixed.
	suite.pro.Price = 3990
	assert.Equal(suite.T(), int64(2590), sub.PriceOnPurchase)
}

func (suite *BillingServiceTestSuite) TestCharge_RequiresSubscriberRole() {
	actor := models.Actor{ID: suite.userID, Roles: []string{"student"}}

	_, err := suite.service.Charge(context.Background(), actor, suite.pro.ID)

	assert.Error(suite.T(), err)
	assert.Equal(suite.T(), http.StatusUnauthorized, common.HTTPStatus(err))
}

func (suite *BillingServiceTestSuite) TestCharge_TierNotFound() {
	tierID := uuid.New()
	suite.mockTierRepo.On("GetByID", mock.Anything, tierID).Return(nil, pgx.ErrNoRows).Once()

	_, err := suite.service.Charge(context.Background(), suite.subscriber(), tierID)

	assert.Error(suite.T(), err)
	assert.Equal(suite.T(), http.StatusNotFound, common.HTTPStatus(err))
	assert.Equal(suite.T(), "Subscription tier not found", common.ErrorMessage(err))
}

func (suite *BillingServiceTestSuite) TestCharge_FreeTierNotBillable() {
	// Billability is checked before the payment method lookup: a free-tier
	// user with no saved card still gets the bad-request answer, not a 404.
	suite.mockTierRepo.On("GetByID", mock.Anything, suite.freeTier.ID).Return(suite.freeTier, nil).Once()

	_, err := suite.service.Charge(context.Background(), suite.subscriber(), suite.freeTier.ID)

	assert.Error(suite.T(), err)
	assert.Equal(suite.T(), http.StatusBadRequest, common.HTTPStatus(err))
	assert.Equal(suite.T(), "Subscription tier is not billable", common.ErrorMessage(err))
	suite.mockMethodRepo.AssertNotCalled(suite.T(), "GetActiveByUserID")
}

func (suite *BillingServiceTestSuite) TestCharge_MissingPaymentMethod() {
	suite.mockTierRepo.On("GetByID", mock.Anything, suite.pro.ID).Return(suite.pro, nil).Once()
	suite.mockMethodRepo.On("GetActiveByUserID", mock.Anything, suite.userID).Return(nil, pgx.ErrNoRows).Once()

	_, err := suite.service.Charge(context.Background(), suite.subscriber(), suite.pro.ID)

	assert.Error(suite.T(), err)
	assert.Equal(suite.T(), http.StatusNotFound, common.HTTPStatus(err))
	assert.Equal(suite.T(), "Payment method not found", common.ErrorMessage(err))
}

func (suite *BillingServiceTestSuite) TestCharge_SameTierRejected() {
	sub := suite.paidSubscription(suite.pro)

	suite.mockTierRepo.On("GetByID", mock.Anything, suite.pro.ID).Return(suite.pro, nil).Twice()
	suite.mockMethodRepo.On("GetActiveByUserID", mock.Anything, suite.userID).Return(suite.activeMethod(), nil).Once()
	suite.mockSubRepo.On("GetByUserID", mock.Anything, suite.userID).Return(sub, nil).Once()

	_, err := suite.service.Charge(context.Background(), suite.subscriber(), suite.pro.ID)

	assert.Error(suite.T(), err)
	assert.Equal(suite.T(), http.StatusBadRequest, common.HTTPStatus(err))
	assert.Equal(suite.T(), "Subscription tier already purchased", common.ErrorMessage(err))
}

func (suite *BillingServiceTestSuite) TestCharge_DowngradeRejected() {
	sub := suite.paidSubscription(suite.pro)

	suite.mockTierRepo.On("GetByID", mock.Anything, suite.basic.ID).Return(suite.basic, nil).Once()
	suite.mockMethodRepo.On("GetActiveByUserID", mock.Anything, suite.userID).Return(suite.activeMethod(), nil).Once()
	suite.mockSubRepo.On("GetByUserID", mock.Anything, suite.userID).Return(sub, nil).Once()
	suite.mockTierRepo.On("GetByID", mock.Anything, suite.pro.ID).Return(suite.pro, nil).Once()

	_, err := suite.service.Charge(context.Background(), suite.subscriber(), suite.basic.ID)

	assert.Error(suite.T(), err)
	assert.Equal(suite.T(), http.StatusBadRequest, common.HTTPStatus(err))
	assert.Equal(suite.T(), `Cannot downgrade subscription tier from "Pro" to "Basic"`, common.ErrorMessage(err))
}

func (suite *BillingServiceTestSuite) TestCharge_DeclinedLeavesTierUntouched() {
	sub := suite.freeSubscription()

	suite.mockTierRepo.On("GetByID", mock.Anything, suite.pro.ID).Return(suite.pro, nil).Once()
	suite.mockMethodRepo.On("GetActiveByUserID", mock.Anything, suite.userID).Return(suite.activeMethod(), nil).Once()
	suite.mockSubRepo.On("GetByUserID", mock.Anything, suite.userID).Return(sub, nil).Once()
	suite.mockTierRepo.On("GetByID", mock.Anything, suite.freeTier.ID).Return(suite.freeTier, nil).Once()
	suite.mockGateway.On("ChargeSavedMethod", mock.Anything, "pm-token", int64(2590), mock.Anything, mock.Anything).
		Return(&Payment{ID: "pay-2", Status: PaymentStatusCanceled, Paid: false}, nil).Once()
	suite.mockSubRepo.On("ApplyChargeOutcome", mock.Anything, sub, suite.freeTier.ID, (*time.Time)(nil), mock.MatchedBy(func(e *models.PaymentEvent) bool {
		return e.Outcome == models.PaymentOutcomeDeclined
	})).Return(nil).Once()

	result, err := suite.service.Charge(context.Background(), suite.subscriber(), suite.pro.ID)

	assert.NoError(suite.T(), err)
	assert.False(suite.T(), result.Paid)
	assert.Equal(suite.T(), suite.freeTier.ID, sub.SubscriptionTierID)
	assert.Equal(suite.T(), suite.now, *sub.LastBillingAttempt)
}

func (suite *BillingServiceTestSuite) TestCharge_GatewayErrorRecordsAttempt() {
	sub := suite.freeSubscription()

	suite.mockTierRepo.On("GetByID", mock.Anything, suite.pro.ID).Return(suite.pro, nil).Once()
	suite.mockMethodRepo.On("GetActiveByUserID", mock.Anything, suite.userID).Return(suite.activeMethod(), nil).Once()
	suite.mockSubRepo.On("GetByUserID", mock.Anything, suite.userID).Return(sub, nil).Once()
	suite.mockTierRepo.On("GetByID", mock.Anything, suite.freeTier.ID).Return(suite.freeTier, nil).Once()
	suite.mockGateway.On("ChargeSavedMethod", mock.Anything, "pm-token", int64(2590), mock.Anything, mock.Anything).
		Return(nil, &GatewayError{StatusCode: http.StatusServiceUnavailable}).Once()
	suite.mockSubRepo.On("ApplyChargeOutcome", mock.Anything, sub, suite.freeTier.ID, (*time.Time)(nil), mock.MatchedBy(func(e *models.PaymentEvent) bool {
		return e.Outcome == models.PaymentOutcomeError
	})).Return(nil).Once()

	_, err := suite.service.Charge(context.Background(), suite.subscriber(), suite.pro.ID)

	assert.Error(suite.T(), err)
	assert.Equal(suite.T(), http.StatusBadGateway, common.HTTPStatus(err))
	assert.Equal(suite.T(), suite.freeTier.ID, sub.SubscriptionTierID)
}

func (suite *BillingServiceTestSuite) TestCharge_RetryAfterGatewayErrorReusesIdempotenceKey() {
	var keys []string
	capture := func(args mock.Arguments) {
		keys = append(keys, args.String(4))
	}

	for i := 0; i < 2; i++ {
		sub := suite.freeSubscription()
		sub.ID = suite.userID // stable subscription identity across both attempts

		suite.mockTierRepo.On("GetByID", mock.Anything, suite.pro.ID).Return(suite.pro, nil).Once()
		suite.mockMethodRepo.On("GetActiveByUserID", mock.Anything, suite.userID).Return(suite.activeMethod(), nil).Once()
		suite.mockSubRepo.On("GetByUserID", mock.Anything, suite.userID).Return(sub, nil).Once()
		suite.mockTierRepo.On("GetByID", mock.Anything, suite.freeTier.ID).Return(suite.freeTier, nil).Once()
		suite.mockGateway.On("ChargeSavedMethod", mock.Anything, "pm-token", int64(2590), mock.Anything, mock.Anything).
			Run(capture).Return(nil, &GatewayError{StatusCode: http.StatusServiceUnavailable}).Once()
		suite.mockSubRepo.On("ApplyChargeOutcome", mock.Anything, sub, suite.freeTier.ID, (*time.Time)(nil), mock.Anything).Return(nil).Once()

		_, err := suite.service.Charge(context.Background(), suite.subscriber(), suite.pro.ID)
		assert.Error(suite.T(), err)
	}

	assert.Len(suite.T(), keys, 2)
	assert.Equal(suite.T(), keys[0], keys[1])
}

func (suite *BillingServiceTestSuite) TestCharge_ConcurrentModificationConflict() {
	sub := suite.freeSubscription()

	suite.mockTierRepo.On("GetByID", mock.Anything, suite.pro.ID).Return(suite.pro, nil).Once()
	suite.mockMethodRepo.On("GetActiveByUserID", mock.Anything, suite.userID).Return(suite.activeMethod(), nil).Once()
	suite.mockSubRepo.On("GetByUserID", mock.Anything, suite.userID).Return(sub, nil).Once()
	suite.mockTierRepo.On("GetByID", mock.Anything, suite.freeTier.ID).Return(suite.freeTier, nil).Once()
	suite.mockGateway.On("ChargeSavedMethod", mock.Anything, "pm-token", int64(2590), mock.Anything, mock.Anything).
		Return(&Payment{ID: "pay-3", Status: PaymentStatusSucceeded, Paid: true}, nil).Once()
	suite.mockSubRepo.On("ApplyChargeOutcome", mock.Anything, sub, suite.freeTier.ID, (*time.Time)(nil), mock.Anything).
		Return(repositories.ErrStaleSubscription).Once()

	_, err := suite.service.Charge(context.Background(), suite.subscriber(), suite.pro.ID)

	assert.Error(suite.T(), err)
	assert.Equal(suite.T(), http.StatusConflict, common.HTTPStatus(err))
}

func (suite *BillingServiceTestSuite) TestCreatePaymentForm_Success() {
	suite.mockTierRepo.On("GetByID", mock.Anything, suite.pro.ID).Return(suite.pro, nil).Once()
	suite.mockGateway.On("CreatePaymentForm", mock.Anything, int64(2590), mock.Anything, "https://studyhub.example/payments/return", mock.Anything).
		Return(&Payment{
			ID:           "pay-4",
			Status:       PaymentStatusPending,
			Confirmation: &Confirmation{Type: "redirect", ConfirmationURL: "https://yookassa.example/confirm"},
		}, nil).Once()

	result, err := suite.service.CreatePaymentForm(context.Background(), suite.subscriber(), suite.pro.ID)

	assert.NoError(suite.T(), err)
	assert.Equal(suite.T(), "https://yookassa.example/confirm", result.ConfirmationURL)
	assert.False(suite.T(), result.Paid)
}

func (suite *BillingServiceTestSuite) TestGetPayment_ResolvesUnknownOutcome() {
	suite.mockGateway.On("GetPayment", mock.Anything, "pay-11").
		Return(&Payment{
			ID:     "pay-11",
			Status: PaymentStatusSucceeded,
			Paid:   true,
			Amount: Amount{Value: "2590.00", Currency: "RUB"},
		}, nil).Once()

	result, err := suite.service.GetPayment(context.Background(), suite.subscriber(), "pay-11")

	assert.NoError(suite.T(), err)
	assert.True(suite.T(), result.Paid)
	assert.Equal(suite.T(), int64(2590), result.AmountRubles)
	assert.Equal(suite.T(), PaymentStatusSucceeded, result.Status)
}

func (suite *BillingServiceTestSuite) TestGetPayment_GatewayUnavailable() {
	suite.mockGateway.On("GetPayment", mock.Anything, "pay-11").
		Return(nil, &GatewayError{StatusCode: http.StatusServiceUnavailable}).Once()

	_, err := suite.service.GetPayment(context.Background(), suite.subscriber(), "pay-11")

	assert.Error(suite.T(), err)
	assert.Equal(suite.T(), http.StatusBadGateway, common.HTTPStatus(err))
}

func (suite *BillingServiceTestSuite) TestRenew_Success() {
	sub := suite.paidSubscription(suite.pro)
	prevEnd := *sub.CurrentPeriodEnd

	suite.mockSubRepo.On("GetByID", mock.Anything, sub.ID).Return(sub, nil).Once()
	suite.mockTierRepo.On("GetByID", mock.Anything, suite.pro.ID).Return(suite.pro, nil).Once()
	suite.mockMethodRepo.On("GetActiveByUserID", mock.Anything, suite.userID).Return(suite.activeMethod(), nil).Once()
	suite.mockGateway.On("ChargeSavedMethod", mock.Anything, "pm-token", int64(2590), mock.Anything, mock.Anything).
		Return(&Payment{ID: "pay-5", Status: PaymentStatusSucceeded, Paid: true}, nil).Once()
	suite.mockSubRepo.On("ApplyChargeOutcome", mock.Anything, sub, suite.pro.ID, &prevEnd, mock.MatchedBy(func(e *models.PaymentEvent) bool {
		return e.Outcome == models.PaymentOutcomeSucceeded
	})).Return(nil).Once()

	err := suite.service.Renew(context.Background(), sub.ID)

	assert.NoError(suite.T(), err)
	assert.Equal(suite.T(), prevEnd.Add(30*24*time.Hour), *sub.CurrentPeriodEnd)
	assert.Equal(suite.T(), 0, sub.BillingRetryAttempts)
}

func (suite *BillingServiceTestSuite) TestRenew_ChargesSnapshotNotCatalogPrice() {
	sub := suite.paidSubscription(suite.pro)
	sub.PriceOnPurchase = 1990 // purchased before a catalog price raise

	suite.mockSubRepo.On("GetByID", mock.Anything, sub.ID).Return(sub, nil).Once()
	suite.mockTierRepo.On("GetByID", mock.Anything, suite.pro.ID).Return(suite.pro, nil).Once()
	suite.mockMethodRepo.On("GetActiveByUserID", mock.Anything, suite.userID).Return(suite.activeMethod(), nil).Once()
	suite.mockGateway.On("ChargeSavedMethod", mock.Anything, "pm-token", int64(1990), mock.Anything, mock.Anything).
		Return(&Payment{ID: "pay-6", Status: PaymentStatusSucceeded, Paid: true}, nil).Once()
	suite.mockSubRepo.On("ApplyChargeOutcome", mock.Anything, sub, suite.pro.ID, mock.Anything, mock.Anything).Return(nil).Once()

	err := suite.service.Renew(context.Background(), sub.ID)

	assert.NoError(suite.T(), err)
}

func (suite *BillingServiceTestSuite) TestRenew_SkipsGifted() {
	sub := suite.paidSubscription(suite.pro)
	sub.IsGifted = true

	suite.mockSubRepo.On("GetByID", mock.Anything, sub.ID).Return(sub, nil).Once()

	err := suite.service.Renew(context.Background(), sub.ID)

	assert.NoError(suite.T(), err)
}

func (suite *BillingServiceTestSuite) TestRenew_SkipsNotDue() {
	sub := suite.paidSubscription(suite.pro)
	future := suite.now.Add(24 * time.Hour)
	sub.NextBillingAt = &future

	suite.mockSubRepo.On("GetByID", mock.Anything, sub.ID).Return(sub, nil).Once()

	err := suite.service.Renew(context.Background(), sub.ID)

	assert.NoError(suite.T(), err)
}

func (suite *BillingServiceTestSuite) TestRenew_FailureSchedulesBackoffRetry() {
	sub := suite.paidSubscription(suite.pro)

	suite.mockSubRepo.On("GetByID", mock.Anything, sub.ID).Return(sub, nil).Once()
	suite.mockTierRepo.On("GetByID", mock.Anything, suite.pro.ID).Return(suite.pro, nil).Once()
	suite.mockMethodRepo.On("GetActiveByUserID", mock.Anything, suite.userID).Return(suite.activeMethod(), nil).Once()
	suite.mockGateway.On("ChargeSavedMethod", mock.Anything, "pm-token", int64(2590), mock.Anything, mock.Anything).
		Return(&Payment{ID: "pay-7", Status: PaymentStatusCanceled, Paid: false}, nil).Once()
	suite.mockSubRepo.On("ApplyChargeOutcome", mock.Anything, sub, suite.pro.ID, mock.Anything, mock.MatchedBy(func(e *models.PaymentEvent) bool {
		return e.Outcome == models.PaymentOutcomeDeclined
	})).Return(nil).Once()

	err := suite.service.Renew(context.Background(), sub.ID)

	assert.NoError(suite.T(), err)
	assert.Equal(suite.T(), 1, sub.BillingRetryAttempts)
	assert.Equal(suite.T(), suite.now.Add(6*time.Hour), *sub.NextBillingAt)
	assert.Equal(suite.T(), suite.pro.ID, sub.SubscriptionTierID)
}

func (suite *BillingServiceTestSuite) TestRenew_RetryAfterDeclineSendsNewIdempotenceKey() {
	var keys []string
	capture := func(args mock.Arguments) {
		keys = append(keys, args.String(4))
	}

	for attempts := 0; attempts < 2; attempts++ {
		sub := suite.paidSubscription(suite.pro)
		sub.ID = suite.userID // stable subscription identity across both attempts
		sub.BillingRetryAttempts = attempts

		suite.mockSubRepo.On("GetByID", mock.Anything, sub.ID).Return(sub, nil).Once()
		suite.mockTierRepo.On("GetByID", mock.Anything, suite.pro.ID).Return(suite.pro, nil).Once()
		suite.mockMethodRepo.On("GetActiveByUserID", mock.Anything, suite.userID).Return(suite.activeMethod(), nil).Once()
		suite.mockGateway.On("ChargeSavedMethod", mock.Anything, "pm-token", int64(2590), mock.Anything, mock.Anything).
			Run(capture).Return(&Payment{ID: "pay-12", Status: PaymentStatusCanceled, Paid: false}, nil).Once()
		suite.mockSubRepo.On("ApplyChargeOutcome", mock.Anything, sub, suite.pro.ID, mock.Anything, mock.Anything).Return(nil).Once()

		assert.NoError(suite.T(), suite.service.Renew(context.Background(), sub.ID))
	}

	// A final decline consumed the previous key; the scheduled retry must
	// be a new logical charge, or the gateway would dedupe it forever.
	assert.Len(suite.T(), keys, 2)
	assert.NotEqual(suite.T(), keys[0], keys[1])
}

func (suite *BillingServiceTestSuite) TestRenew_BackoffIsCapped() {
	sub := suite.paidSubscription(suite.pro)
	sub.BillingRetryAttempts = 4
	sub.GracePeriodSize = 10

	suite.mockSubRepo.On("GetByID", mock.Anything, sub.ID).Return(sub, nil).Once()
	suite.mockTierRepo.On("GetByID", mock.Anything, suite.pro.ID).Return(suite.pro, nil).Once()
	suite.mockMethodRepo.On("GetActiveByUserID", mock.Anything, suite.userID).Return(suite.activeMethod(), nil).Once()
	suite.mockGateway.On("ChargeSavedMethod", mock.Anything, "pm-token", int64(2590), mock.Anything, mock.Anything).
		Return(&Payment{ID: "pay-8", Status: PaymentStatusCanceled, Paid: false}, nil).Once()
	suite.mockSubRepo.On("ApplyChargeOutcome", mock.Anything, sub, suite.pro.ID, mock.Anything, mock.Anything).Return(nil).Once()

	err := suite.service.Renew(context.Background(), sub.ID)

	assert.NoError(suite.T(), err)
	assert.Equal(suite.T(), 5, sub.BillingRetryAttempts)
	assert.Equal(suite.T(), suite.now.Add(48*time.Hour), *sub.NextBillingAt)
}

func (suite *BillingServiceTestSuite) TestRenew_GraceExhaustedSuspendsToFreeTier() {
	sub := suite.paidSubscription(suite.pro)
	sub.BillingRetryAttempts = 3 // grace period of 3 already used up

	suite.mockSubRepo.On("GetByID", mock.Anything, sub.ID).Return(sub, nil).Once()
	suite.mockTierRepo.On("GetByID", mock.Anything, suite.pro.ID).Return(suite.pro, nil).Once()
	suite.mockMethodRepo.On("GetActiveByUserID", mock.Anything, suite.userID).Return(suite.activeMethod(), nil).Once()
	suite.mockGateway.On("ChargeSavedMethod", mock.Anything, "pm-token", int64(2590), mock.Anything, mock.Anything).
		Return(&Payment{ID: "pay-9", Status: PaymentStatusCanceled, Paid: false}, nil).Once()
	suite.mockTierRepo.On("GetFree", mock.Anything).Return(suite.freeTier, nil).Once()
	suite.mockSubRepo.On("ApplyChargeOutcome", mock.Anything, sub, suite.pro.ID, mock.Anything, mock.MatchedBy(func(e *models.PaymentEvent) bool {
		// The event records the 2590 that was attempted, not the free
		// tier's price the suspension reset the snapshot to.
		return e.Outcome == models.PaymentOutcomeDeclined && e.Amount == 2590
	})).Return(nil).Once()

	err := suite.service.Renew(context.Background(), sub.ID)

	assert.NoError(suite.T(), err)
	assert.Equal(suite.T(), suite.freeTier.ID, sub.SubscriptionTierID)
	assert.Nil(suite.T(), sub.CurrentPeriodEnd)
	assert.Nil(suite.T(), sub.NextBillingAt)
	assert.True(suite.T(), sub.IsGifted)
	assert.Equal(suite.T(), 0, sub.BillingRetryAttempts)
}

func (suite *BillingServiceTestSuite) TestRenew_MissingPaymentMethodCountsAsFailure() {
	sub := suite.paidSubscription(suite.pro)

	suite.mockSubRepo.On("GetByID", mock.Anything, sub.ID).Return(sub, nil).Once()
	suite.mockTierRepo.On("GetByID", mock.Anything, suite.pro.ID).Return(suite.pro, nil).Once()
	suite.mockMethodRepo.On("GetActiveByUserID", mock.Anything, suite.userID).Return(nil, pgx.ErrNoRows).Once()
	suite.mockSubRepo.On("ApplyChargeOutcome", mock.Anything, sub, suite.pro.ID, mock.Anything, mock.MatchedBy(func(e *models.PaymentEvent) bool {
		return e.Outcome == models.PaymentOutcomeError
	})).Return(nil).Once()

	err := suite.service.Renew(context.Background(), sub.ID)

	assert.NoError(suite.T(), err)
	assert.Equal(suite.T(), 1, sub.BillingRetryAttempts)
}

func (suite *BillingServiceTestSuite) TestRenew_LostRaceIsNotAnError() {
	sub := suite.paidSubscription(suite.pro)

	suite.mockSubRepo.On("GetByID", mock.Anything, sub.ID).Return(sub, nil).Once()
	suite.mockTierRepo.On("GetByID", mock.Anything, suite.pro.ID).Return(suite.pro, nil).Once()
	suite.mockMethodRepo.On("GetActiveByUserID", mock.Anything, suite.userID).Return(suite.activeMethod(), nil).Once()
	suite.mockGateway.On("ChargeSavedMethod", mock.Anything, "pm-token", int64(2590), mock.Anything, mock.Anything).
		Return(&Payment{ID: "pay-10", Status: PaymentStatusSucceeded, Paid: true}, nil).Once()
	suite.mockSubRepo.On("ApplyChargeOutcome", mock.Anything, sub, suite.pro.ID, mock.Anything, mock.Anything).
		Return(repositories.ErrStaleSubscription).Once()

	err := suite.service.Renew(context.Background(), sub.ID)

	assert.NoError(suite.T(), err)
}
