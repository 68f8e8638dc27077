package handlers

import (
	"context"
	"errors"
	"net/http"
	"net/http/httptest"
	"strings"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/shopspring/decimal"

	domain "github.com/boutique-fleurs/api/internal/domain"
	"github.com/boutique-fleurs/api/internal/payments"
	"github.com/boutique-fleurs/api/internal/platform/auth"
	"github.com/boutique-fleurs/api/internal/services"
)

var errNotImplemented = errors.New("not implemented")

type stubOrderService struct {
	createFn     func(context.Context, services.CreateOrderCommand) (services.CreateOrderResult, error)
	getFn        func(context.Context, string) (services.Order, error)
	byNumberFn   func(context.Context, string) (services.Order, error)
	listFn       func(context.Context, services.OrderListFilter) (domain.CursorPage[services.Order], error)
	transitionFn func(context.Context, services.OrderStatusTransitionCommand) (services.Order, error)
	cancelFn     func(context.Context, services.CancelOrderCommand) (services.Order, error)
}

func (s *stubOrderService) Create(ctx context.Context, cmd services.CreateOrderCommand) (services.CreateOrderResult, error) {
	if s.createFn != nil {
		return s.createFn(ctx, cmd)
	}
	return services.CreateOrderResult{}, errNotImplemented
}

func (s *stubOrderService) GetOrder(ctx context.Context, orderID string) (services.Order, error) {
	if s.getFn != nil {
		return s.getFn(ctx, orderID)
	}
	return services.Order{}, errNotImplemented
}

func (s *stubOrderService) GetByNumber(ctx context.Context, number string) (services.Order, error) {
	if s.byNumberFn != nil {
		return s.byNumberFn(ctx, number)
	}
	return services.Order{}, errNotImplemented
}

func (s *stubOrderService) ListOrders(ctx context.Context, filter services.OrderListFilter) (domain.CursorPage[services.Order], error) {
	if s.listFn != nil {
		return s.listFn(ctx, filter)
	}
	return domain.CursorPage[services.Order]{}, nil
}

func (s *stubOrderService) TransitionStatus(ctx context.Context, cmd services.OrderStatusTransitionCommand) (services.Order, error) {
	if s.transitionFn != nil {
		return s.transitionFn(ctx, cmd)
	}
	return services.Order{}, errNotImplemented
}

func (s *stubOrderService) Cancel(ctx context.Context, cmd services.CancelOrderCommand) (services.Order, error) {
	if s.cancelFn != nil {
		return s.cancelFn(ctx, cmd)
	}
	return services.Order{}, errNotImplemented
}

type stubInvoiceService struct {
	projectFn func(services.Order) (services.Invoice, error)
}

func (s *stubInvoiceService) GetInvoice(context.Context, string) (services.Invoice, error) {
	return services.Invoice{}, errNotImplemented
}

func (s *stubInvoiceService) Project(order services.Order) (services.Invoice, error) {
	if s.projectFn != nil {
		return s.projectFn(order)
	}
	return services.Invoice{}, errNotImplemented
}

type stubCatalogService struct {
	getFn        func(context.Context, string, bool) (services.Product, error)
	listFn       func(context.Context, services.ProductListFilter) (domain.CursorPage[services.Product], error)
	upsertFn     func(context.Context, services.UpsertProductCommand) (services.Product, error)
	deactivateFn func(context.Context, string, string) (services.Product, error)
}

func (s *stubCatalogService) GetProduct(ctx context.Context, id string, activeOnly bool) (services.Product, error) {
	if s.getFn != nil {
		return s.getFn(ctx, id, activeOnly)
	}
	return services.Product{}, errNotImplemented
}

func (s *stubCatalogService) ListProducts(ctx context.Context, filter services.ProductListFilter) (domain.CursorPage[services.Product], error) {
	if s.listFn != nil {
		return s.listFn(ctx, filter)
	}
	return domain.CursorPage[services.Product]{}, nil
}

func (s *stubCatalogService) UpsertProduct(ctx context.Context, cmd services.UpsertProductCommand) (services.Product, error) {
	if s.upsertFn != nil {
		return s.upsertFn(ctx, cmd)
	}
	return services.Product{}, errNotImplemented
}

func (s *stubCatalogService) DeactivateProduct(ctx context.Context, id, actor string) (services.Product, error) {
	if s.deactivateFn != nil {
		return s.deactivateFn(ctx, id, actor)
	}
	return services.Product{}, errNotImplemented
}

type stubCheckoutService struct {
	prepareFn func(context.Context, services.PrepareCheckoutCommand) (services.CheckoutIntent, error)
}

func (s *stubCheckoutService) PrepareCheckout(ctx context.Context, cmd services.PrepareCheckoutCommand) (services.CheckoutIntent, error) {
	if s.prepareFn != nil {
		return s.prepareFn(ctx, cmd)
	}
	return services.CheckoutIntent{}, errNotImplemented
}

type stubReconciler struct {
	handleFn  func(context.Context, services.HandleWebhookCommand) (services.ReconcileResult, error)
	historyFn func(context.Context, string) ([]services.PaymentEventRecord, error)
}

func (s *stubReconciler) HandleWebhook(ctx context.Context, cmd services.HandleWebhookCommand) (services.ReconcileResult, error) {
	if s.handleFn != nil {
		return s.handleFn(ctx, cmd)
	}
	return services.ReconcileResult{}, errNotImplemented
}

func (s *stubReconciler) Apply(context.Context, payments.Event) (services.ReconcileResult, error) {
	return services.ReconcileResult{}, errNotImplemented
}

func (s *stubReconciler) PaymentHistory(ctx context.Context, orderID string) ([]services.PaymentEventRecord, error) {
	if s.historyFn != nil {
		return s.historyFn(ctx, orderID)
	}
	return nil, errNotImplemented
}

var handlerNow = time.Date(2024, 5, 1, 9, 30, 0, 0, time.UTC)

func sampleOrder(userID string) services.Order {
	order := services.Order{
		ID:          "ord_1",
		OrderNumber: "BF-20240501-0001",
		UserID:      userID,
		Items: []services.OrderItem{
			{ProductID: "roses", Name: "Roses", VariantName: "Petit", UnitPrice: decimal.RequireFromString("19.99"), Quantity: 2},
			{ProductID: "pivoines", Name: "Pivoines", UnitPrice: decimal.RequireFromString("25.00"), Quantity: 1},
		},
		TotalAmount:   decimal.RequireFromString("64.98"),
		Currency:      "EUR",
		CustomerInfo:  services.CustomerInfo{Name: "Camille Martin", Email: "camille@example.com", Phone: "0601020304"},
		DeliveryInfo:  services.DeliveryInfo{Type: domain.DeliveryTypePickup, Date: "2024-05-03", TimeSlot: "10h-12h"},
		PaymentStatus: domain.PaymentStatusPaid,
		CreatedAt:     handlerNow,
	}
	order.AppendStatus(domain.OrderStatusPaid, handlerNow, "", "guest")
	return order
}

func withIdentity(req *http.Request, uid string, roles ...string) *http.Request {
	return req.WithContext(auth.WithIdentity(req.Context(), &auth.Identity{UID: uid, Roles: roles}))
}

func serve(register func(chi.Router), req *http.Request) *httptest.ResponseRecorder {
	r := chi.NewRouter()
	register(r)
	rr := httptest.NewRecorder()
	r.ServeHTTP(rr, req)
	return rr
}

func jsonRequest(method, target, body string) *http.Request {
	req := httptest.NewRequest(method, target, strings.NewReader(body))
	req.Header.Set("Content-Type", "application/json")
	return req
}

var (
	_ services.OrderService      = (*stubOrderService)(nil)
	_ services.InvoiceService    = (*stubInvoiceService)(nil)
	_ services.CatalogService    = (*stubCatalogService)(nil)
	_ services.CheckoutService   = (*stubCheckoutService)(nil)
	_ services.PaymentReconciler = (*stubReconciler)(nil)
)
