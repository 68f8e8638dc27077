package handlers

import (
	"net/http"
	"strings"

	"github.com/go-chi/chi/v5"

	"github.com/boutique-fleurs/api/internal/platform/httpx"
	"github.com/boutique-fleurs/api/internal/services"
)

const (
	maxWebhookBody        = 64 * 1024
	stripeSignatureHeader = "Stripe-Signature"
)

type webhookAck struct {
	EventID     string `json:"eventId,omitempty"`
	Outcome     string `json:"outcome"`
	OrderNumber string `json:"orderNumber,omitempty"`
}

// PaymentWebhookHandlers receives provider notifications. Authenticity comes from the provider
// signature, never from bearer tokens.
type PaymentWebhookHandlers struct {
	reconciler services.PaymentReconciler
}

// NewPaymentWebhookHandlers constructs webhook handlers.
func NewPaymentWebhookHandlers(reconciler services.PaymentReconciler) *PaymentWebhookHandlers {
	return &PaymentWebhookHandlers{reconciler: reconciler}
}

// Routes registers /webhooks endpoints.
func (h *PaymentWebhookHandlers) Routes(r chi.Router) {
	if r == nil {
		return
	}
	r.Post("/payments/{provider}", h.handlePayment)
}

func (h *PaymentWebhookHandlers) handlePayment(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()
	if h.reconciler == nil {
		httpx.WriteError(ctx, w, httpx.NewError("webhook_unavailable", "payment webhooks unavailable", http.StatusServiceUnavailable))
		return
	}

	provider := strings.ToLower(strings.TrimSpace(chi.URLParam(r, "provider")))
	body, err := readLimitedBody(r, maxWebhookBody)
	if err != nil {
		writeBodyError(ctx, w, err)
		return
	}

	result, err := h.reconciler.HandleWebhook(ctx, services.HandleWebhookCommand{
		Provider:  provider,
		Payload:   body,
		Signature: r.Header.Get(stripeSignatureHeader),
	})
	// Rejected events are acknowledged; redelivery would be rejected again.
	if err != nil && result.Outcome == "" {
		writeServiceError(ctx, w, err)
		return
	}

	writeJSONResponse(w, http.StatusOK, webhookAck{
		EventID:     result.EventID,
		Outcome:     string(result.Outcome),
		OrderNumber: result.OrderNumber,
	})
}
