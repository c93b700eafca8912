package services

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"time"

	"github.com/cenkalti/backoff/v4"
	"github.com/shopspring/decimal"
)

// Payment statuses reported by YooKassa.
const (
	PaymentStatusPending           = "pending"
	PaymentStatusWaitingForCapture = "waiting_for_capture"
	PaymentStatusSucceeded         = "succeeded"
	PaymentStatusCanceled          = "canceled"
)

// YooKassaService handles all YooKassa API interactions. Every charge
// request carries an Idempotence-Key, so retries of an ambiguous failure
// are recognized by the gateway as the same logical operation.
type YooKassaService interface {
	CreatePaymentForm(ctx context.Context, amountRubles int64, description, returnURL, idempotenceKey string) (*Payment, error)
	CreateSavedPaymentMethod(ctx context.Context, returnURL, idempotenceKey string) (*SavedPaymentMethod, error)
	ChargeSavedMethod(ctx context.Context, paymentMethodID string, amountRubles int64, description, idempotenceKey string) (*Payment, error)
	GetPayment(ctx context.Context, paymentID string) (*Payment, error)
}

type yookassaService struct {
	shopID    string
	secretKey string
	baseURL   string
	http      *http.Client
}

type Amount struct {
	Value    string `json:"value"`
	Currency string `json:"currency"`
}

type Confirmation struct {
	Type            string `json:"type"`
	ReturnURL       string `json:"return_url,omitempty"`
	ConfirmationURL string `json:"confirmation_url,omitempty"`
}

type CardDetails struct {
	Last4    string `json:"last4"`
	CardType string `json:"card_type"`
}

type PaymentMethodData struct {
	ID    string       `json:"id"`
	Type  string       `json:"type"`
	Saved bool         `json:"saved"`
	Card  *CardDetails `json:"card,omitempty"`
}

type CancellationDetails struct {
	Party  string `json:"party"`
	Reason string `json:"reason"`
}

type Payment struct {
	ID                  string               `json:"id"`
	Status              string               `json:"status"`
	Paid                bool                 `json:"paid"`
	Amount              Amount               `json:"amount"`
	Description         string               `json:"description,omitempty"`
	Confirmation        *Confirmation        `json:"confirmation,omitempty"`
	PaymentMethod       *PaymentMethodData   `json:"payment_method,omitempty"`
	CancellationDetails *CancellationDetails `json:"cancellation_details,omitempty"`
	CreatedAt           time.Time            `json:"created_at"`
}

// Declined reports whether the gateway rejected the charge (card declined,
// insufficient funds). Declines are final results, not transient errors.
func (p *Payment) Declined() bool {
	return p.Status == PaymentStatusCanceled
}

// ConfirmationURL returns the redirect URL the user must visit, if any.
func (p *Payment) ConfirmationURL() string {
	if p.Confirmation == nil {
		return ""
	}
	return p.Confirmation.ConfirmationURL
}

// AmountRubles converts the gateway's decimal amount string back to whole
// rubles.
func (p *Payment) AmountRubles() int64 {
	value, err := decimal.NewFromString(p.Amount.Value)
	if err != nil {
		return 0
	}
	return value.IntPart()
}

type SavedPaymentMethod struct {
	ID           string        `json:"id"`
	Type         string        `json:"type"`
	Status       string        `json:"status"`
	Card         *CardDetails  `json:"card,omitempty"`
	Confirmation *Confirmation `json:"confirmation,omitempty"`
}

func (m *SavedPaymentMethod) ConfirmationURL() string {
	if m.Confirmation == nil {
		return ""
	}
	return m.Confirmation.ConfirmationURL
}

// GatewayError is a non-2xx or transport-level failure from YooKassa.
// Transient errors (network, 5xx, 429) may be retried with the same
// idempotence key; nothing else may.
type GatewayError struct {
	StatusCode int
	Body       string
	Err        error
}

func (e *GatewayError) Error() string {
	if e.Err != nil {
		return fmt.Sprintf("yookassa request failed: %v", e.Err)
	}
	return fmt.Sprintf("yookassa returned %d: %s", e.StatusCode, e.Body)
}

func (e *GatewayError) Unwrap() error { return e.Err }

func (e *GatewayError) Transient() bool {
	return e.Err != nil || e.StatusCode >= 500 || e.StatusCode == http.StatusTooManyRequests
}

type createPaymentRequest struct {
	Amount            Amount        `json:"amount"`
	Capture           bool          `json:"capture"`
	Description       string        `json:"description,omitempty"`
	PaymentMethodID   string        `json:"payment_method_id,omitempty"`
	SavePaymentMethod bool          `json:"save_payment_method,omitempty"`
	Confirmation      *Confirmation `json:"confirmation,omitempty"`
}

type createPaymentMethodRequest struct {
	Type         string        `json:"type"`
	Confirmation *Confirmation `json:"confirmation,omitempty"`
}

// NewYooKassaService creates a YooKassa client authenticated with shop
// credentials.
func NewYooKassaService(shopID, secretKey, baseURL string) YooKassaService {
	if baseURL == "" {
		baseURL = "https://api.yookassa.ru/v3"
	}
	return &yookassaService{
		shopID:    shopID,
		secretKey: secretKey,
		baseURL:   baseURL,
		http:      &http.Client{Timeout: 30 * time.Second},
	}
}

// rubles formats a whole-ruble amount the way the API expects: "2590.00".
func rubles(amountRubles int64) Amount {
	return Amount{
		Value:    decimal.NewFromInt(amountRubles).StringFixed(2),
		Currency: "RUB",
	}
}

// CreatePaymentForm creates a one-off payment confirmed through a redirect
// form. The returned confirmation URL is where the user completes payment.
func (s *yookassaService) CreatePaymentForm(ctx context.Context, amountRubles int64, description, returnURL, idempotenceKey string) (*Payment, error) {
	req := createPaymentRequest{
		Amount:      rubles(amountRubles),
		Capture:     true,
		Description: description,
		Confirmation: &Confirmation{
			Type:      "redirect",
			ReturnURL: returnURL,
		},
	}

	payment := &Payment{}
	if err := s.post(ctx, "/payments", idempotenceKey, req, payment); err != nil {
		return nil, err
	}
	return payment, nil
}

// CreateSavedPaymentMethod registers a bank card for later recurring
// charges. The method starts pending and becomes active once the user
// confirms it through the returned URL.
func (s *yookassaService) CreateSavedPaymentMethod(ctx context.Context, returnURL, idempotenceKey string) (*SavedPaymentMethod, error) {
	req := createPaymentMethodRequest{
		Type: "bank_card",
		Confirmation: &Confirmation{
			Type:      "redirect",
			ReturnURL: returnURL,
		},
	}

	method := &SavedPaymentMethod{}
	if err := s.post(ctx, "/payment_methods", idempotenceKey, req, method); err != nil {
		return nil, err
	}
	return method, nil
}

// ChargeSavedMethod charges a previously saved payment method without user
// interaction.
func (s *yookassaService) ChargeSavedMethod(ctx context.Context, paymentMethodID string, amountRubles int64, description, idempotenceKey string) (*Payment, error) {
	req := createPaymentRequest{
		Amount:          rubles(amountRubles),
		Capture:         true,
		Description:     description,
		PaymentMethodID: paymentMethodID,
	}

	payment := &Payment{}
	if err := s.post(ctx, "/payments", idempotenceKey, req, payment); err != nil {
		return nil, err
	}
	return payment, nil
}

// GetPayment fetches the authoritative state of a payment, used to resolve
// unknown outcomes after a timeout.
func (s *yookassaService) GetPayment(ctx context.Context, paymentID string) (*Payment, error) {
	payment := &Payment{}
	if err := s.do(ctx, http.MethodGet, "/payments/"+paymentID, "", nil, payment); err != nil {
		return nil, err
	}
	return payment, nil
}

// post sends an idempotent write. Transient failures are retried a few
// times with exponential backoff; the idempotence key makes the retries
// duplicates of one operation on the gateway side.
func (s *yookassaService) post(ctx context.Context, path, idempotenceKey string, body, out interface{}) error {
	operation := func() error {
		err := s.do(ctx, http.MethodPost, path, idempotenceKey, body, out)
		if err == nil {
			return nil
		}
		var gerr *GatewayError
		if errors.As(err, &gerr) && gerr.Transient() {
			return err
		}
		return backoff.Permanent(err)
	}

	policy := backoff.WithContext(backoff.WithMaxRetries(backoff.NewExponentialBackOff(), 2), ctx)
	return backoff.Retry(operation, policy)
}

func (s *yookassaService) do(ctx context.Context, method, path, idempotenceKey string, body, out interface{}) error {
	var reader io.Reader
	if body != nil {
		payload, err := json.Marshal(body)
		if err != nil {
			return err
		}
		reader = bytes.NewReader(payload)
	}

	req, err := http.NewRequestWithContext(ctx, method, s.baseURL+path, reader)
	if err != nil {
		return err
	}
	req.SetBasicAuth(s.shopID, s.secretKey)
	req.Header.Set("Content-Type", "application/json")
	if idempotenceKey != "" {
		req.Header.Set("Idempotence-Key", idempotenceKey)
	}

	resp, err := s.http.Do(req)
	if err != nil {
		return &GatewayError{Err: err}
	}
	defer resp.Body.Close()

	data, err := io.ReadAll(resp.Body)
	if err != nil {
		return &GatewayError{Err: err}
	}

	if resp.StatusCode < 200 || resp.StatusCode >= 300 {
		return &GatewayError{StatusCode: resp.StatusCode, Body: string(data)}
	}

	return json.Unmarshal(data, out)
}
