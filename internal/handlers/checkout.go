package handlers

import (
	"net/http"
	"strings"
	"time"

	"github.com/go-chi/chi/v5"

	domain "github.com/boutique-fleurs/api/internal/domain"
	"github.com/boutique-fleurs/api/internal/platform/auth"
	"github.com/boutique-fleurs/api/internal/platform/httpx"
	"github.com/boutique-fleurs/api/internal/services"
)

const (
	maxCheckoutRequestBody = 32 * 1024
	idempotencyKeyHeader   = "Idempotency-Key"
	maxIdempotencyKeyLen   = 255
)

// CheckoutHandlers opens payment intents for guest and signed-in carts.
type CheckoutHandlers struct {
	authn    *auth.Authenticator
	checkout services.CheckoutService
	limiter  rateLimiter
	window   time.Duration
}

// CheckoutOption customises CheckoutHandlers.
type CheckoutOption func(*CheckoutHandlers)

// WithCheckoutRateLimit caps intent creation per caller.
func WithCheckoutRateLimit(limit int, window time.Duration) CheckoutOption {
	return func(h *CheckoutHandlers) {
		if limiter := newKeyedRateLimiter(limit, window, nil); limiter != nil {
			h.limiter = limiter
			h.window = window
		}
	}
}

// NewCheckoutHandlers constructs checkout handlers.
func NewCheckoutHandlers(authn *auth.Authenticator, checkout services.CheckoutService, opts ...CheckoutOption) *CheckoutHandlers {
	h := &CheckoutHandlers{
		authn:    authn,
		checkout: checkout,
	}
	for _, opt := range opts {
		if opt != nil {
			opt(h)
		}
	}
	return h
}

// Routes registers checkout endpoints under the provided router.
func (h *CheckoutHandlers) Routes(r chi.Router) {
	if r == nil {
		return
	}
	group := r
	if h.authn != nil {
		group = group.With(h.authn.OptionalFirebaseAuth())
	}
	if h.limiter != nil {
		group = group.With(rateLimitMiddleware(h.limiter, h.window))
	}
	group.Post("/checkout/payment-intents", h.createPaymentIntent)
}

type checkoutIntentResponse struct {
	PaymentIntentID string `json:"paymentIntentId"`
	Provider        string `json:"provider"`
	ClientSecret    string `json:"clientSecret"`
	Amount          int64  `json:"amount"`
	Currency        string `json:"currency"`
	TotalAmount     string `json:"totalAmount"`
}

func (h *CheckoutHandlers) createPaymentIntent(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()
	if h.checkout == nil {
		httpx.WriteError(ctx, w, httpx.NewError("checkout_unavailable", "checkout service unavailable", http.StatusServiceUnavailable))
		return
	}

	key := strings.TrimSpace(r.Header.Get(idempotencyKeyHeader))
	if len(key) > maxIdempotencyKeyLen {
		httpx.WriteError(ctx, w, httpx.NewError("invalid_request", "idempotency key too long", http.StatusBadRequest))
		return
	}

	var req cartRequest
	if err := decodeJSONBody(r, maxCheckoutRequestBody, &req); err != nil {
		writeBodyError(ctx, w, err)
		return
	}

	cmd := services.PrepareCheckoutCommand{
		Build:          req.toCommand(),
		IdempotencyKey: key,
	}
	if identity, ok := auth.IdentityFromContext(ctx); ok && identity != nil {
		cmd.UserID = identity.UID
	}

	intent, err := h.checkout.PrepareCheckout(ctx, cmd)
	if err != nil {
		writeServiceError(ctx, w, err)
		return
	}

	writeJSONResponse(w, http.StatusCreated, checkoutIntentResponse{
		PaymentIntentID: intent.IntentID,
		Provider:        intent.Provider,
		ClientSecret:    intent.ClientSecret,
		Amount:          intent.AmountMinor,
		Currency:        intent.Currency,
		TotalAmount:     domain.FormatMoney(intent.TotalAmount),
	})
}
