package payment

import (
	"errors"
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/stripe/stripe-go/v76"
)

func TestIntentParams(t *testing.T) {
	id := uuid.New()
	params, err := intentParams(Request{BookingID: id, Amount: 5000, PayerReference: "anna@example.com"}, "USD")
	if err != nil {
		t.Fatalf("intentParams: %v", err)
	}

	if *params.Amount != 5000 || *params.Currency != "usd" {
		t.Fatalf("unexpected amount/currency: %d %s", *params.Amount, *params.Currency)
	}
	if params.Metadata["booking_id"] != id.String() {
		t.Fatalf("booking id missing from metadata: %v", params.Metadata)
	}
	if params.ReceiptEmail == nil || *params.ReceiptEmail != "anna@example.com" {
		t.Fatalf("receipt email not set")
	}
	if params.IdempotencyKey == nil || *params.IdempotencyKey != "booking-"+id.String()+"-5000" {
		t.Fatalf("idempotency key = %v", params.IdempotencyKey)
	}

	retry, err := intentParams(Request{BookingID: id, Amount: 7000}, "usd")
	if err != nil {
		t.Fatalf("intentParams: %v", err)
	}
	if *retry.IdempotencyKey == *params.IdempotencyKey {
		t.Fatalf("a different amount must use a different idempotency key")
	}

	if _, err := intentParams(Request{BookingID: id}, "usd"); !errors.Is(err, ErrInvalidAmount) {
		t.Fatalf("expected ErrInvalidAmount, got %v", err)
	}
}

func TestResultFromPaymentIntent(t *testing.T) {
	at := time.Date(2025, 6, 2, 10, 0, 0, 0, time.FixedZone("MSK", 3*60*60))

	ok := ResultFromPaymentIntent(&stripe.PaymentIntent{ID: "pi_1", Status: stripe.PaymentIntentStatusSucceeded}, at)
	if !ok.Success || ok.TransactionID != "pi_1" || ok.StatusDate.Location() != time.UTC {
		t.Fatalf("unexpected result: %+v", ok)
	}

	failed := ResultFromPaymentIntent(&stripe.PaymentIntent{ID: "pi_2", Status: stripe.PaymentIntentStatusCanceled}, at)
	if failed.Success {
		t.Fatalf("cancelled intent must not be successful")
	}
}

func TestNewStripeGateway_RequiresKey(t *testing.T) {
	if _, err := NewStripeGateway("", "usd"); !errors.Is(err, ErrNotConfigured) {
		t.Fatalf("expected ErrNotConfigured, got %v", err)
	}
}
