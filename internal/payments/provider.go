package payments

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"
)

// Status enumerates the normalised payment states shared across providers.
type Status string

const (
	// StatusPending indicates the payment is awaiting customer action or PSP confirmation.
	StatusPending Status = "pending"
	// StatusSucceeded indicates the PSP reports the payment as successfully captured.
	StatusSucceeded Status = "succeeded"
	// StatusFailed indicates the PSP reports a failure or a cancelled intent.
	StatusFailed Status = "failed"
	// StatusRefunded indicates the full amount was returned.
	StatusRefunded Status = "refunded"
	// StatusPartiallyRefunded indicates part of the amount was returned.
	StatusPartiallyRefunded Status = "partially_refunded"
)

var (
	// ErrUnsupportedProvider is returned when the manager cannot locate a provider.
	ErrUnsupportedProvider = errors.New("payments: unsupported provider")
	// ErrInvalidSignature is returned when a webhook payload fails authenticity checks.
	ErrInvalidSignature = errors.New("payments: invalid webhook signature")
	// ErrMalformedEvent is returned when a verified payload cannot be decoded.
	ErrMalformedEvent = errors.New("payments: malformed webhook event")
)

// IntentRequest captures the payload required to open a payment intent.
type IntentRequest struct {
	AmountMinor    int64
	Currency       string
	Description    string
	ReceiptEmail   string
	Metadata       map[string]string
	IdempotencyKey string
}

// Intent is the PSP intent returned to the client to complete payment.
type Intent struct {
	ID           string
	Provider     string
	ClientSecret string
	AmountMinor  int64
	Currency     string
	Status       Status
	Metadata     map[string]string
}

// Event is a verified provider notification normalised for reconciliation.
// Handled is false for event types the reconciler has no use for.
type Event struct {
	ID            string
	Provider      string
	Type          string
	Handled       bool
	IntentID      string
	Status        Status
	AmountMinor   int64
	RefundedMinor int64
	Currency      string
	Metadata      map[string]string
	OccurredAt    time.Time
}

// Provider defines the contract for PSP adapters to implement.
type Provider interface {
	CreatePaymentIntent(ctx context.Context, req IntentRequest) (Intent, error)
	GetPaymentIntent(ctx context.Context, intentID string) (Intent, error)
	ParseWebhook(payload []byte, signature string) (Event, error)
}

// Manager coordinates provider selection and exposes the aggregated interface.
type Manager struct {
	providers       map[string]Provider
	defaultProvider string
	currencyRoutes  map[string]string
}

// ManagerOption configures optional behaviour when building a Manager.
type ManagerOption func(*Manager)

// WithDefaultProvider overrides the default provider for currencies without explicit routing.
func WithDefaultProvider(provider string) ManagerOption {
	return func(m *Manager) {
		m.defaultProvider = provider
	}
}

// WithCurrencyRoutes configures static currency to provider mappings.
func WithCurrencyRoutes(routes map[string]string) ManagerOption {
	return func(m *Manager) {
		if len(routes) == 0 {
			return
		}
		if m.currencyRoutes == nil {
			m.currencyRoutes = make(map[string]string, len(routes))
		}
		for k, v := range routes {
			m.currencyRoutes[strings.ToUpper(strings.TrimSpace(k))] = strings.TrimSpace(v)
		}
	}
}

// NewManager constructs a Manager over the supplied providers.
func NewManager(providers map[string]Provider, opts ...ManagerOption) (*Manager, error) {
	if len(providers) == 0 {
		return nil, errors.New("payments: at least one provider is required")
	}
	copyMap := make(map[string]Provider, len(providers))
	for k, v := range providers {
		key := strings.TrimSpace(strings.ToLower(k))
		if key == "" || v == nil {
			return nil, fmt.Errorf("payments: invalid provider registration for key %q", k)
		}
		copyMap[key] = v
	}
	m := &Manager{
		providers: copyMap,
	}
	if _, ok := copyMap["stripe"]; ok {
		m.defaultProvider = "stripe"
	}
	for _, opt := range opts {
		opt(m)
	}
	return m, nil
}

// PaymentContext defines the hints available when selecting a provider.
type PaymentContext struct {
	PreferredProvider string
	Currency          string
}

func (m *Manager) resolveProvider(ctx PaymentContext) (string, Provider, error) {
	if m == nil {
		return "", nil, errors.New("payments: manager is nil")
	}
	if provider := strings.TrimSpace(strings.ToLower(ctx.PreferredProvider)); provider != "" {
		if p, ok := m.providers[provider]; ok {
			return provider, p, nil
		}
		return "", nil, fmt.Errorf("%w: %s", ErrUnsupportedProvider, provider)
	}
	currency := strings.ToUpper(strings.TrimSpace(ctx.Currency))
	if currency != "" && m.currencyRoutes != nil {
		if providerKey, ok := m.currencyRoutes[currency]; ok {
			provider := strings.TrimSpace(strings.ToLower(providerKey))
			if p, ok := m.providers[provider]; ok {
				return provider, p, nil
			}
		}
	}
	if def := strings.TrimSpace(strings.ToLower(m.defaultProvider)); def != "" {
		if p, ok := m.providers[def]; ok {
			return def, p, nil
		}
	}
	if len(m.providers) == 1 {
		for key, p := range m.providers {
			return key, p, nil
		}
	}
	return "", nil, ErrUnsupportedProvider
}

// CreatePaymentIntent delegates to the resolved provider.
func (m *Manager) CreatePaymentIntent(ctx context.Context, paymentCtx PaymentContext, req IntentRequest) (Intent, error) {
	key, provider, err := m.resolveProvider(paymentCtx)
	if err != nil {
		return Intent{}, err
	}
	intent, err := provider.CreatePaymentIntent(ctx, req)
	if err != nil {
		return Intent{}, err
	}
	intent.Provider = key
	return intent, nil
}

// GetPaymentIntent fetches an existing intent from the resolved provider.
func (m *Manager) GetPaymentIntent(ctx context.Context, paymentCtx PaymentContext, intentID string) (Intent, error) {
	key, provider, err := m.resolveProvider(paymentCtx)
	if err != nil {
		return Intent{}, err
	}
	intent, err := provider.GetPaymentIntent(ctx, intentID)
	if err != nil {
		return Intent{}, err
	}
	intent.Provider = key
	return intent, nil
}

// ParseWebhook verifies and decodes a notification addressed to the named provider.
func (m *Manager) ParseWebhook(provider string, payload []byte, signature string) (Event, error) {
	key, p, err := m.resolveProvider(PaymentContext{PreferredProvider: provider})
	if err != nil {
		return Event{}, err
	}
	event, err := p.ParseWebhook(payload, signature)
	if err != nil {
		return Event{}, err
	}
	event.Provider = key
	return event, nil
}
