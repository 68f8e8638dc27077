package payments

import (
	"context"
	"errors"
	"testing"
)

type fakeProvider struct {
	lastOp string
	intent Intent
	event  Event
	err    error
}

func (f *fakeProvider) CreatePaymentIntent(ctx context.Context, req IntentRequest) (Intent, error) {
	f.lastOp = "create"
	return f.intent, f.err
}

func (f *fakeProvider) GetPaymentIntent(ctx context.Context, intentID string) (Intent, error) {
	f.lastOp = "get"
	return f.intent, f.err
}

func (f *fakeProvider) ParseWebhook(payload []byte, signature string) (Event, error) {
	f.lastOp = "webhook"
	return f.event, f.err
}

func TestManagerCreatePaymentIntentUsesPreferredProvider(t *testing.T) {
	ctx := context.Background()
	stripe := &fakeProvider{intent: Intent{ID: "pi_stripe"}}
	other := &fakeProvider{intent: Intent{ID: "pi_other"}}

	mgr, err := NewManager(map[string]Provider{
		"stripe": stripe,
		"other":  other,
	})
	if err != nil {
		t.Fatalf("new manager: %v", err)
	}

	intent, err := mgr.CreatePaymentIntent(ctx, PaymentContext{PreferredProvider: "other"}, IntentRequest{Currency: "EUR"})
	if err != nil {
		t.Fatalf("create intent: %v", err)
	}
	if intent.Provider != "other" {
		t.Fatalf("expected provider 'other', got %q", intent.Provider)
	}
	if other.lastOp != "create" {
		t.Fatalf("expected other provider to handle call")
	}
	if stripe.lastOp != "" {
		t.Fatalf("expected stripe provider to remain unused")
	}
}

func TestManagerRoutesByCurrency(t *testing.T) {
	ctx := context.Background()
	stripe := &fakeProvider{intent: Intent{ID: "pi_stripe"}}
	other := &fakeProvider{intent: Intent{ID: "pi_other"}}

	mgr, err := NewManager(
		map[string]Provider{
			"stripe": stripe,
			"other":  other,
		},
		WithCurrencyRoutes(map[string]string{"chf": "other"}),
	)
	if err != nil {
		t.Fatalf("new manager: %v", err)
	}

	intent, err := mgr.CreatePaymentIntent(ctx, PaymentContext{Currency: "CHF"}, IntentRequest{Currency: "CHF"})
	if err != nil {
		t.Fatalf("create intent: %v", err)
	}
	if intent.Provider != "other" {
		t.Fatalf("expected provider 'other', got %q", intent.Provider)
	}

	intent, err = mgr.CreatePaymentIntent(ctx, PaymentContext{Currency: "EUR"}, IntentRequest{Currency: "EUR"})
	if err != nil {
		t.Fatalf("create intent: %v", err)
	}
	if intent.Provider != "stripe" {
		t.Fatalf("expected default stripe for EUR, got %q", intent.Provider)
	}
}

func TestManagerParseWebhookStampsProvider(t *testing.T) {
	stripe := &fakeProvider{event: Event{ID: "evt_1", Handled: true}}
	mgr, err := NewManager(map[string]Provider{"stripe": stripe})
	if err != nil {
		t.Fatalf("new manager: %v", err)
	}

	event, err := mgr.ParseWebhook("Stripe", []byte("{}"), "sig")
	if err != nil {
		t.Fatalf("parse webhook: %v", err)
	}
	if event.Provider != "stripe" || event.ID != "evt_1" {
		t.Fatalf("unexpected event %+v", event)
	}
	if stripe.lastOp != "webhook" {
		t.Fatalf("expected webhook parsing on stripe provider")
	}
}

func TestManagerUnsupportedProvider(t *testing.T) {
	ctx := context.Background()
	mgr, err := NewManager(map[string]Provider{"stripe": &fakeProvider{}, "other": &fakeProvider{}}, WithDefaultProvider(""))
	if err != nil {
		t.Fatalf("new manager: %v", err)
	}

	_, err = mgr.CreatePaymentIntent(ctx, PaymentContext{PreferredProvider: "unknown"}, IntentRequest{Currency: "EUR"})
	if !errors.Is(err, ErrUnsupportedProvider) {
		t.Fatalf("expected ErrUnsupportedProvider, got %v", err)
	}
	if _, err := mgr.ParseWebhook("paypal", nil, ""); !errors.Is(err, ErrUnsupportedProvider) {
		t.Fatalf("expected ErrUnsupportedProvider for webhook, got %v", err)
	}
}

func TestNewManagerValidatesProviders(t *testing.T) {
	if _, err := NewManager(map[string]Provider{"bad": nil}); err == nil {
		t.Fatalf("expected error for nil provider")
	}
	if _, err := NewManager(nil); err == nil {
		t.Fatalf("expected error when providers empty")
	}
}

func TestManagerGetPaymentIntentStampsProvider(t *testing.T) {
	stripe := &fakeProvider{intent: Intent{ID: "pi_1", AmountMinor: 4499}}
	mgr, err := NewManager(map[string]Provider{"stripe": stripe})
	if err != nil {
		t.Fatalf("new manager: %v", err)
	}

	intent, err := mgr.GetPaymentIntent(context.Background(), PaymentContext{Currency: "EUR"}, "pi_1")
	if err != nil {
		t.Fatalf("get intent: %v", err)
	}
	if intent.Provider != "stripe" || intent.AmountMinor != 4499 || stripe.lastOp != "get" {
		t.Fatalf("unexpected intent %+v (op %s)", intent, stripe.lastOp)
	}
}
