package services

import (
	"context"
	"errors"
	"testing"

	"github.com/shopspring/decimal"

	"github.com/boutique-fleurs/api/internal/payments"
)

type stubIntentCreator struct {
	requests []payments.IntentRequest
	err      error
}

func (s *stubIntentCreator) CreatePaymentIntent(_ context.Context, _ payments.PaymentContext, req payments.IntentRequest) (payments.Intent, error) {
	s.requests = append(s.requests, req)
	if s.err != nil {
		return payments.Intent{}, s.err
	}
	return payments.Intent{ID: "pi_1", Provider: "stripe", ClientSecret: "pi_1_secret", AmountMinor: req.AmountMinor, Currency: req.Currency}, nil
}

func TestCheckoutServicePrepareCheckout(t *testing.T) {
	_, builder := newTestOrderBuilder(t)
	gateway := &stubIntentCreator{}
	svc, err := NewCheckoutService(CheckoutServiceDeps{Builder: builder, Payments: gateway})
	if err != nil {
		t.Fatalf("new checkout service: %v", err)
	}

	intent, err := svc.PrepareCheckout(context.Background(), PrepareCheckoutCommand{Build: validBuildCommand(), UserID: "uid_1", IdempotencyKey: "key-1"})
	if err != nil {
		t.Fatalf("prepare checkout: %v", err)
	}
	if intent.IntentID != "pi_1" || intent.ClientSecret != "pi_1_secret" || intent.AmountMinor != 6498 {
		t.Fatalf("unexpected intent %+v", intent)
	}
	if !intent.TotalAmount.Equal(decimal.RequireFromString("64.98")) {
		t.Fatalf("unexpected total %s", intent.TotalAmount)
	}

	req := gateway.requests[0]
	if req.IdempotencyKey != "key-1" || req.Currency != "EUR" || req.ReceiptEmail != "camille@example.com" {
		t.Fatalf("unexpected request %+v", req)
	}
	snapshot, userID, ok, err := decodeOrderMetadata(req.Metadata)
	if err != nil || !ok {
		t.Fatalf("metadata not decodable: ok=%v err=%v", ok, err)
	}
	if userID != "uid_1" || len(snapshot.Items) != 2 || !snapshot.Total.Equal(intent.TotalAmount) {
		t.Fatalf("unexpected snapshot %+v", snapshot)
	}
}

func TestCheckoutServiceRejectsInvalidCartBeforeGateway(t *testing.T) {
	_, builder := newTestOrderBuilder(t)
	gateway := &stubIntentCreator{}
	svc, _ := NewCheckoutService(CheckoutServiceDeps{Builder: builder, Payments: gateway})

	cmd := validBuildCommand()
	cmd.DeclaredTotal = decimal.RequireFromString("1")
	if _, err := svc.PrepareCheckout(context.Background(), PrepareCheckoutCommand{Build: cmd}); !errors.Is(err, ErrPricingMismatch) {
		t.Fatalf("expected ErrPricingMismatch, got %v", err)
	}
	if len(gateway.requests) != 0 {
		t.Fatalf("gateway must not be called for an invalid cart")
	}
}

func TestCheckoutServiceWrapsGatewayErrors(t *testing.T) {
	_, builder := newTestOrderBuilder(t)
	svc, _ := NewCheckoutService(CheckoutServiceDeps{Builder: builder, Payments: &stubIntentCreator{err: errors.New("card_declined")}})

	if _, err := svc.PrepareCheckout(context.Background(), PrepareCheckoutCommand{Build: validBuildCommand()}); !errors.Is(err, ErrPaymentGateway) {
		t.Fatalf("expected ErrPaymentGateway, got %v", err)
	}
}
