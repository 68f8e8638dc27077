package services

import (
	"context"
	"errors"
	"fmt"
	"strings"

	domain "github.com/boutique-fleurs/api/internal/domain"
	"github.com/boutique-fleurs/api/internal/payments"
)

const checkoutDescription = "Commande boutique"

// PaymentIntentCreator opens intents with the payment provider.
type PaymentIntentCreator interface {
	CreatePaymentIntent(ctx context.Context, paymentCtx payments.PaymentContext, req payments.IntentRequest) (payments.Intent, error)
}

// CheckoutServiceDeps bundles collaborators required by checkout.
type CheckoutServiceDeps struct {
	Builder  OrderBuilder
	Payments PaymentIntentCreator
	Logger   func(ctx context.Context, event string, fields map[string]any)
}

type checkoutService struct {
	builder  OrderBuilder
	payments PaymentIntentCreator
	logger   func(context.Context, string, map[string]any)
}

// NewCheckoutService constructs the checkout flow that prices a cart and opens a payment intent.
func NewCheckoutService(deps CheckoutServiceDeps) (CheckoutService, error) {
	if deps.Builder == nil {
		return nil, errors.New("checkout service: order builder is required")
	}
	if deps.Payments == nil {
		return nil, errors.New("checkout service: payment gateway is required")
	}
	logger := deps.Logger
	if logger == nil {
		logger = func(context.Context, string, map[string]any) {}
	}
	return &checkoutService{
		builder:  deps.Builder,
		payments: deps.Payments,
		logger:   logger,
	}, nil
}

// PrepareCheckout validates the cart and opens an intent for the computed total. The whole
// order description travels in the intent metadata so a paid intent can always be turned into
// an order.
func (s *checkoutService) PrepareCheckout(ctx context.Context, cmd PrepareCheckoutCommand) (CheckoutIntent, error) {
	draft, err := s.builder.Build(ctx, cmd.Build)
	if err != nil {
		return CheckoutIntent{}, err
	}

	userID := strings.TrimSpace(cmd.UserID)
	metadata, err := encodeOrderMetadata(draft, userID)
	if err != nil {
		return CheckoutIntent{}, err
	}

	amount := domain.ToMinorUnits(draft.TotalAmount)
	intent, err := s.payments.CreatePaymentIntent(ctx, payments.PaymentContext{Currency: draft.Currency}, payments.IntentRequest{
		AmountMinor:    amount,
		Currency:       draft.Currency,
		Description:    checkoutDescription,
		ReceiptEmail:   draft.CustomerInfo.Email,
		Metadata:       metadata,
		IdempotencyKey: strings.TrimSpace(cmd.IdempotencyKey),
	})
	if err != nil {
		s.logger(ctx, "checkout.intent.failed", map[string]any{
			"userId": userID,
			"amount": amount,
			"error":  err.Error(),
		})
		return CheckoutIntent{}, fmt.Errorf("%w: %v", ErrPaymentGateway, err)
	}

	s.logger(ctx, "checkout.intent.created", map[string]any{
		"userId":   userID,
		"intentId": intent.ID,
		"provider": intent.Provider,
		"amount":   amount,
	})
	return CheckoutIntent{
		IntentID:     intent.ID,
		Provider:     intent.Provider,
		ClientSecret: intent.ClientSecret,
		AmountMinor:  amount,
		Currency:     draft.Currency,
		TotalAmount:  draft.TotalAmount,
	}, nil
}
