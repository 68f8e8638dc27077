package handlers

import (
	"net/http"
	"strings"

	"github.com/go-chi/chi/v5"

	domain "github.com/boutique-fleurs/api/internal/domain"
	"github.com/boutique-fleurs/api/internal/platform/auth"
	"github.com/boutique-fleurs/api/internal/platform/httpx"
	"github.com/boutique-fleurs/api/internal/platform/pagination"
	"github.com/boutique-fleurs/api/internal/services"
)

const maxStatusRequestBody = 4 * 1024

type orderStatusRequest struct {
	NewStatus string `json:"newStatus"`
	Note      string `json:"note,omitempty"`
}

// AdminOrderHandlers exposes the back-office order queue and status updates.
type AdminOrderHandlers struct {
	orders   services.OrderService
	payments services.PaymentReconciler
}

// AdminOrderOption customises admin order handlers.
type AdminOrderOption func(*AdminOrderHandlers)

// WithPaymentHistory serves the payment event ledger of each order.
func WithPaymentHistory(reconciler services.PaymentReconciler) AdminOrderOption {
	return func(h *AdminOrderHandlers) {
		h.payments = reconciler
	}
}

// NewAdminOrderHandlers constructs admin order handlers. Callers mount them behind admin auth.
func NewAdminOrderHandlers(orders services.OrderService, opts ...AdminOrderOption) *AdminOrderHandlers {
	h := &AdminOrderHandlers{orders: orders}
	for _, opt := range opts {
		if opt != nil {
			opt(h)
		}
	}
	return h
}

// Routes registers /admin/orders endpoints.
func (h *AdminOrderHandlers) Routes(r chi.Router) {
	if r == nil {
		return
	}
	r.Get("/orders", h.listOrders)
	r.Get("/orders/{orderID}", h.getOrder)
	r.Get("/orders/{orderID}/payments", h.listPayments)
	r.Post("/orders/{orderID}/status", h.transitionStatus)
}

func (h *AdminOrderHandlers) listOrders(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()
	if h.orders == nil {
		httpx.WriteError(ctx, w, httpx.NewError("order_service_unavailable", "order service unavailable", http.StatusServiceUnavailable))
		return
	}

	page, err := pagination.FromRequest(r, pagination.Options{})
	if err != nil {
		writePaginationError(ctx, w, err)
		return
	}

	var statuses []domain.OrderStatus
	for _, raw := range r.URL.Query()["status"] {
		for _, part := range strings.Split(raw, ",") {
			if part = strings.TrimSpace(part); part != "" {
				statuses = append(statuses, domain.OrderStatus(part))
			}
		}
	}

	result, err := h.orders.ListOrders(ctx, services.OrderListFilter{
		Statuses: statuses,
		Pagination: services.Pagination{
			PageSize:  page.PageSize,
			PageToken: page.PageToken,
		},
	})
	if err != nil {
		writeServiceError(ctx, w, err)
		return
	}

	resp := orderListResponse{
		Items:         make([]orderSummaryPayload, 0, len(result.Items)),
		NextPageToken: result.NextPageToken,
	}
	for _, order := range result.Items {
		resp.Items = append(resp.Items, buildOrderSummary(order))
	}
	writeJSONResponse(w, http.StatusOK, resp)
}

func (h *AdminOrderHandlers) getOrder(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()
	if h.orders == nil {
		httpx.WriteError(ctx, w, httpx.NewError("order_service_unavailable", "order service unavailable", http.StatusServiceUnavailable))
		return
	}
	order, err := h.orders.GetOrder(ctx, chi.URLParam(r, "orderID"))
	if err != nil {
		writeServiceError(ctx, w, err)
		return
	}
	writeJSONResponse(w, http.StatusOK, buildOrderPayload(order))
}

func (h *AdminOrderHandlers) listPayments(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()
	if h.payments == nil {
		httpx.WriteError(ctx, w, httpx.NewError("payment_history_unavailable", "payment history unavailable", http.StatusServiceUnavailable))
		return
	}
	records, err := h.payments.PaymentHistory(ctx, chi.URLParam(r, "orderID"))
	if err != nil {
		writeServiceError(ctx, w, err)
		return
	}
	resp := paymentHistoryResponse{Items: make([]paymentEventPayload, 0, len(records))}
	for _, record := range records {
		resp.Items = append(resp.Items, buildPaymentEventPayload(record))
	}
	writeJSONResponse(w, http.StatusOK, resp)
}

func (h *AdminOrderHandlers) transitionStatus(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()
	if h.orders == nil {
		httpx.WriteError(ctx, w, httpx.NewError("order_service_unavailable", "order service unavailable", http.StatusServiceUnavailable))
		return
	}

	var req orderStatusRequest
	if err := decodeJSONBody(r, maxStatusRequestBody, &req); err != nil {
		writeBodyError(ctx, w, err)
		return
	}
	if strings.TrimSpace(req.NewStatus) == "" {
		httpx.WriteError(ctx, w, httpx.NewError("invalid_request", "newStatus is required", http.StatusBadRequest))
		return
	}

	actor := "admin"
	if identity, ok := auth.IdentityFromContext(ctx); ok {
		actor = identity.Actor()
	}
	order, err := h.orders.TransitionStatus(ctx, services.OrderStatusTransitionCommand{
		OrderID:   chi.URLParam(r, "orderID"),
		NewStatus: domain.OrderStatus(strings.TrimSpace(req.NewStatus)),
		Note:      req.Note,
		ActorID:   actor,
	})
	if err != nil {
		writeServiceError(ctx, w, err)
		return
	}
	writeJSONResponse(w, http.StatusOK, buildOrderPayload(order))
}
