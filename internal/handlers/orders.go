package handlers

import (
	"net/http"
	"strings"

	"github.com/go-chi/chi/v5"

	domain "github.com/boutique-fleurs/api/internal/domain"
	"github.com/boutique-fleurs/api/internal/platform/auth"
	"github.com/boutique-fleurs/api/internal/platform/httpx"
	"github.com/boutique-fleurs/api/internal/services"
)

const maxOrderRequestBody = 32 * 1024

type createOrderRequest struct {
	cartRequest
	PaymentIntentID string `json:"paymentIntentId,omitempty"`
}

type createOrderResponse struct {
	ID            string `json:"id"`
	OrderNumber   string `json:"orderNumber"`
	Status        string `json:"status"`
	PaymentStatus string `json:"paymentStatus"`
	TotalAmount   string `json:"totalAmount"`
}

// OrderHandlers exposes order creation and customer order reads.
type OrderHandlers struct {
	authn    *auth.Authenticator
	orders   services.OrderService
	invoices services.InvoiceService
}

// NewOrderHandlers constructs a new OrderHandlers instance.
func NewOrderHandlers(authn *auth.Authenticator, orders services.OrderService, invoices services.InvoiceService) *OrderHandlers {
	return &OrderHandlers{
		authn:    authn,
		orders:   orders,
		invoices: invoices,
	}
}

// Routes registers the /orders endpoints. Creation accepts guests; reads require a signed-in owner
// or an admin.
func (h *OrderHandlers) Routes(r chi.Router) {
	if r == nil {
		return
	}
	create := r
	read := r
	if h.authn != nil {
		create = r.With(h.authn.OptionalFirebaseAuth())
		read = r.With(h.authn.RequireFirebaseAuth())
	}
	create.Post("/", h.createOrder)
	read.Get("/{orderNumber}", h.getOrder)
	read.Get("/{orderNumber}/invoice", h.getInvoice)
}

func (h *OrderHandlers) createOrder(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()
	if h.orders == nil {
		httpx.WriteError(ctx, w, httpx.NewError("order_service_unavailable", "order service unavailable", http.StatusServiceUnavailable))
		return
	}

	var req createOrderRequest
	if err := decodeJSONBody(r, maxOrderRequestBody, &req); err != nil {
		writeBodyError(ctx, w, err)
		return
	}

	cmd := services.CreateOrderCommand{
		Build:           req.toCommand(),
		PaymentIntentID: strings.TrimSpace(req.PaymentIntentID),
		ActorID:         "guest",
	}
	if identity, ok := auth.IdentityFromContext(ctx); ok {
		cmd.UserID = identity.UID
		cmd.ActorID = identity.Actor()
	}

	result, err := h.orders.Create(ctx, cmd)
	if err != nil {
		writeServiceError(ctx, w, err)
		return
	}

	status := http.StatusCreated
	if !result.Created {
		status = http.StatusOK
	}
	order := result.Order
	writeJSONResponse(w, status, createOrderResponse{
		ID:            order.ID,
		OrderNumber:   order.OrderNumber,
		Status:        string(order.CurrentStatus()),
		PaymentStatus: string(order.PaymentStatus),
		TotalAmount:   domain.FormatMoney(order.TotalAmount),
	})
}

func (h *OrderHandlers) getOrder(w http.ResponseWriter, r *http.Request) {
	order, ok := h.loadOwnedOrder(w, r)
	if !ok {
		return
	}
	writeJSONResponse(w, http.StatusOK, buildOrderPayload(order))
}

func (h *OrderHandlers) getInvoice(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()
	if h.invoices == nil {
		httpx.WriteError(ctx, w, httpx.NewError("invoice_service_unavailable", "invoice service unavailable", http.StatusServiceUnavailable))
		return
	}
	order, ok := h.loadOwnedOrder(w, r)
	if !ok {
		return
	}
	invoice, err := h.invoices.Project(order)
	if err != nil {
		writeServiceError(ctx, w, err)
		return
	}
	writeJSONResponse(w, http.StatusOK, buildInvoicePayload(invoice))
}

// loadOwnedOrder resolves the order in the path. Orders of other customers are reported as not
// found so numbers cannot be probed.
func (h *OrderHandlers) loadOwnedOrder(w http.ResponseWriter, r *http.Request) (services.Order, bool) {
	ctx := r.Context()
	if h.orders == nil {
		httpx.WriteError(ctx, w, httpx.NewError("order_service_unavailable", "order service unavailable", http.StatusServiceUnavailable))
		return services.Order{}, false
	}
	identity, ok := auth.IdentityFromContext(ctx)
	if !ok || strings.TrimSpace(identity.UID) == "" {
		httpx.WriteError(ctx, w, httpx.NewError("unauthenticated", "authentication required", http.StatusUnauthorized))
		return services.Order{}, false
	}

	order, err := h.orders.GetByNumber(ctx, chi.URLParam(r, "orderNumber"))
	if err != nil {
		writeServiceError(ctx, w, err)
		return services.Order{}, false
	}
	if !identity.IsAdmin() && (order.UserID == "" || order.UserID != identity.UID) {
		httpx.WriteError(ctx, w, httpx.NewError("order_not_found", "order not found", http.StatusNotFound))
		return services.Order{}, false
	}
	return order, true
}
