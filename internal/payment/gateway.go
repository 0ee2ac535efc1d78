package payment

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/google/uuid"
	"github.com/stripe/stripe-go/v76"
	"github.com/stripe/stripe-go/v76/client"
)

var (
	ErrNotConfigured = errors.New("payment gateway is not configured")
	ErrInvalidAmount = errors.New("payment amount must be positive")
)

// Request: запрос на оплату записи. Сумма в минимальных единицах валюты.
type Request struct {
	BookingID      uuid.UUID
	Amount         int64
	Currency       string
	PayerReference string
}

// Intent: ответ шлюза на создание платежа.
type Intent struct {
	TransactionID string
	ClientSecret  string
	Status        string
}

// Result приходит асинхронно, отдельным обратным вызовом.
type Result struct {
	Success       bool
	TransactionID string
	StatusDate    time.Time
}

// Gateway: внешний сервис проверки платежей.
type Gateway interface {
	Initiate(ctx context.Context, req Request) (*Intent, error)
}

// StripeGateway создаёт PaymentIntent; результат приходит через вебхук
// и переводится в Result функцией ResultFromPaymentIntent.
type StripeGateway struct {
	api             *client.API
	defaultCurrency string
}

func NewStripeGateway(key, defaultCurrency string) (*StripeGateway, error) {
	if key == "" {
		return nil, ErrNotConfigured
	}
	sc := &client.API{}
	sc.Init(key, nil)
	return &StripeGateway{api: sc, defaultCurrency: defaultCurrency}, nil
}

func (g *StripeGateway) Initiate(ctx context.Context, req Request) (*Intent, error) {
	params, err := intentParams(req, g.defaultCurrency)
	if err != nil {
		return nil, err
	}
	params.Context = ctx

	pi, err := g.api.PaymentIntents.New(params)
	if err != nil {
		return nil, fmt.Errorf("stripe create payment intent: %w", err)
	}
	return &Intent{
		TransactionID: pi.ID,
		ClientSecret:  pi.ClientSecret,
		Status:        string(pi.Status),
	}, nil
}

func intentParams(req Request, defaultCurrency string) (*stripe.PaymentIntentParams, error) {
	if req.Amount <= 0 {
		return nil, ErrInvalidAmount
	}
	currency := strings.ToLower(req.Currency)
	if currency == "" {
		currency = strings.ToLower(defaultCurrency)
	}

	params := &stripe.PaymentIntentParams{
		Amount:      stripe.Int64(req.Amount),
		Currency:    stripe.String(currency),
		Description: stripe.String("Consultation booking " + req.BookingID.String()),
	}
	params.AddMetadata("booking_id", req.BookingID.String())
	if req.PayerReference != "" {
		params.AddMetadata("payer_reference", req.PayerReference)
		if strings.Contains(req.PayerReference, "@") {
			params.ReceiptEmail = stripe.String(req.PayerReference)
		}
	}
	// повторный запрос по той же записи и сумме не создаёт второй платёж
	params.SetIdempotencyKey(idempotencyKey(req))

	return params, nil
}

func idempotencyKey(req Request) string {
	return fmt.Sprintf("booking-%s-%d", req.BookingID, req.Amount)
}

// ResultFromPaymentIntent переводит состояние PaymentIntent из вебхука в Result.
func ResultFromPaymentIntent(pi *stripe.PaymentIntent, at time.Time) Result {
	return Result{
		Success:       pi.Status == stripe.PaymentIntentStatusSucceeded,
		TransactionID: pi.ID,
		StatusDate:    at.UTC(),
	}
}
