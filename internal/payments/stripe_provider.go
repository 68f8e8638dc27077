package payments

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"maps"
	"strings"
	"time"

	"github.com/stripe/stripe-go/v78"
	"github.com/stripe/stripe-go/v78/client"
	"github.com/stripe/stripe-go/v78/webhook"
)

const (
	stripeEventIntentSucceeded = "payment_intent.succeeded"
	stripeEventIntentFailed    = "payment_intent.payment_failed"
	stripeEventIntentCanceled  = "payment_intent.canceled"
	stripeEventChargeRefunded  = "charge.refunded"
)

// StripeLogger defines the logging contract for Stripe provider operations.
type StripeLogger func(ctx context.Context, event string, fields map[string]any)

type stripePaymentIntentAPI interface {
	New(params *stripe.PaymentIntentParams) (*stripe.PaymentIntent, error)
	Get(id string, params *stripe.PaymentIntentParams) (*stripe.PaymentIntent, error)
}

// StripeProviderConfig configures the StripeProvider.
type StripeProviderConfig struct {
	APIKey           string
	WebhookSecret    string
	AccountID        string
	Backends         *stripe.Backends
	WebhookTolerance time.Duration
	Logger           StripeLogger
	Clock            func() time.Time
	Intents          stripePaymentIntentAPI
}

// StripeProvider implements the Provider interface using Stripe payment intents.
type StripeProvider struct {
	intents       stripePaymentIntentAPI
	webhookSecret string
	tolerance     time.Duration
	account       string
	clock         func() time.Time
	logger        StripeLogger
}

// NewStripeProvider constructs a Stripe Provider using the given configuration.
func NewStripeProvider(cfg StripeProviderConfig) (*StripeProvider, error) {
	apiKey := strings.TrimSpace(cfg.APIKey)
	if apiKey == "" && cfg.Intents == nil {
		return nil, errors.New("stripe: api key is required")
	}
	secret := strings.TrimSpace(cfg.WebhookSecret)
	if secret == "" {
		return nil, errors.New("stripe: webhook secret is required")
	}

	intents := cfg.Intents
	if intents == nil {
		intents = client.New(apiKey, cfg.Backends).PaymentIntents
	}

	tolerance := cfg.WebhookTolerance
	if tolerance <= 0 {
		tolerance = webhook.DefaultTolerance
	}

	clock := cfg.Clock
	if clock == nil {
		clock = time.Now
	}

	logger := cfg.Logger
	if logger == nil {
		logger = func(context.Context, string, map[string]any) {}
	}

	return &StripeProvider{
		intents:       intents,
		webhookSecret: secret,
		tolerance:     tolerance,
		account:       strings.TrimSpace(cfg.AccountID),
		clock: func() time.Time {
			return clock().UTC()
		},
		logger: logger,
	}, nil
}

// CreatePaymentIntent opens a Stripe PaymentIntent with automatic payment methods.
func (p *StripeProvider) CreatePaymentIntent(ctx context.Context, req IntentRequest) (Intent, error) {
	if p == nil {
		return Intent{}, errors.New("stripe: provider is nil")
	}
	if req.AmountMinor <= 0 {
		return Intent{}, errors.New("stripe: amount must be positive")
	}
	currency := strings.ToLower(strings.TrimSpace(req.Currency))
	if currency == "" {
		return Intent{}, errors.New("stripe: currency is required")
	}

	params := &stripe.PaymentIntentParams{
		Amount:   stripe.Int64(req.AmountMinor),
		Currency: stripe.String(currency),
		AutomaticPaymentMethods: &stripe.PaymentIntentAutomaticPaymentMethodsParams{
			Enabled: stripe.Bool(true),
		},
	}
	params.Context = ctx
	if key := strings.TrimSpace(req.IdempotencyKey); key != "" {
		params.SetIdempotencyKey(key)
	}
	if p.account != "" {
		params.SetStripeAccount(p.account)
	}
	if req.Description != "" {
		params.Description = stripe.String(req.Description)
	}
	if req.ReceiptEmail != "" {
		params.ReceiptEmail = stripe.String(req.ReceiptEmail)
	}
	if len(req.Metadata) > 0 {
		params.Metadata = maps.Clone(req.Metadata)
	}

	intent, err := p.intents.New(params)
	if err != nil {
		return Intent{}, fmt.Errorf("stripe: create payment intent: %w", err)
	}

	p.logger(ctx, "payments.stripe.intent.created", map[string]any{
		"paymentIntent": intent.ID,
		"amount":        intent.Amount,
		"currency":      intent.Currency,
	})

	return toIntent(intent), nil
}

// GetPaymentIntent retrieves an intent so callers can check its amount and metadata.
func (p *StripeProvider) GetPaymentIntent(ctx context.Context, intentID string) (Intent, error) {
	if p == nil {
		return Intent{}, errors.New("stripe: provider is nil")
	}
	intentID = strings.TrimSpace(intentID)
	if intentID == "" {
		return Intent{}, errors.New("stripe: payment intent id is required")
	}
	params := &stripe.PaymentIntentParams{}
	params.Context = ctx
	if p.account != "" {
		params.SetStripeAccount(p.account)
	}
	intent, err := p.intents.Get(intentID, params)
	if err != nil {
		return Intent{}, fmt.Errorf("stripe: get payment intent: %w", err)
	}
	return toIntent(intent), nil
}

func toIntent(intent *stripe.PaymentIntent) Intent {
	return Intent{
		ID:           intent.ID,
		Provider:     "stripe",
		ClientSecret: intent.ClientSecret,
		AmountMinor:  intent.Amount,
		Currency:     strings.ToUpper(string(intent.Currency)),
		Status:       intentStatus(intent.Status),
		Metadata:     maps.Clone(intent.Metadata),
	}
}

// ParseWebhook checks the Stripe-Signature header and normalises the event body.
func (p *StripeProvider) ParseWebhook(payload []byte, signature string) (Event, error) {
	if p == nil {
		return Event{}, errors.New("stripe: provider is nil")
	}
	raw, err := webhook.ConstructEventWithOptions(payload, signature, p.webhookSecret, webhook.ConstructEventOptions{
		Tolerance:                p.tolerance,
		IgnoreAPIVersionMismatch: true,
	})
	if err != nil {
		return Event{}, fmt.Errorf("%w: %v", ErrInvalidSignature, err)
	}

	event := Event{
		ID:         raw.ID,
		Provider:   "stripe",
		Type:       string(raw.Type),
		OccurredAt: time.Unix(raw.Created, 0).UTC(),
	}
	if raw.Created == 0 {
		event.OccurredAt = p.clock()
	}
	if raw.Data == nil {
		return Event{}, fmt.Errorf("%w: event %s has no data", ErrMalformedEvent, raw.ID)
	}

	switch event.Type {
	case stripeEventIntentSucceeded, stripeEventIntentFailed, stripeEventIntentCanceled:
		var intent stripe.PaymentIntent
		if err := json.Unmarshal(raw.Data.Raw, &intent); err != nil {
			return Event{}, fmt.Errorf("%w: %v", ErrMalformedEvent, err)
		}
		event.Handled = true
		event.IntentID = intent.ID
		event.Currency = strings.ToUpper(string(intent.Currency))
		event.Metadata = maps.Clone(intent.Metadata)
		event.AmountMinor = intent.Amount
		if event.Type == stripeEventIntentSucceeded {
			event.Status = StatusSucceeded
			if intent.AmountReceived > 0 {
				event.AmountMinor = intent.AmountReceived
			}
		} else {
			event.Status = StatusFailed
		}
	case stripeEventChargeRefunded:
		var charge stripe.Charge
		if err := json.Unmarshal(raw.Data.Raw, &charge); err != nil {
			return Event{}, fmt.Errorf("%w: %v", ErrMalformedEvent, err)
		}
		event.Handled = true
		if charge.PaymentIntent != nil {
			event.IntentID = charge.PaymentIntent.ID
		}
		event.Currency = strings.ToUpper(string(charge.Currency))
		event.Metadata = maps.Clone(charge.Metadata)
		event.AmountMinor = charge.Amount
		event.RefundedMinor = charge.AmountRefunded
		if charge.Refunded || (charge.Amount > 0 && charge.AmountRefunded >= charge.Amount) {
			event.Status = StatusRefunded
		} else {
			event.Status = StatusPartiallyRefunded
		}
	}

	if event.Handled && event.IntentID == "" {
		return Event{}, fmt.Errorf("%w: event %s carries no payment intent", ErrMalformedEvent, raw.ID)
	}
	return event, nil
}

func intentStatus(status stripe.PaymentIntentStatus) Status {
	switch status {
	case stripe.PaymentIntentStatusSucceeded:
		return StatusSucceeded
	case stripe.PaymentIntentStatusCanceled:
		return StatusFailed
	default:
		return StatusPending
	}
}
