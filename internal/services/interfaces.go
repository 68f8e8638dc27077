package services

import (
	"context"
	"time"

	"github.com/shopspring/decimal"

	domain "github.com/boutique-fleurs/api/internal/domain"
	"github.com/boutique-fleurs/api/internal/payments"
	"github.com/boutique-fleurs/api/internal/repositories"
)

// Type aliases expose domain models to the services package without reversing dependency direction.
type (
	Pagination         = domain.Pagination
	Product            = domain.Product
	ProductVariant     = domain.ProductVariant
	Order              = domain.Order
	OrderItem          = domain.OrderItem
	OrderStatus        = domain.OrderStatus
	PaymentStatus      = domain.PaymentStatus
	CustomerInfo       = domain.CustomerInfo
	DeliveryInfo       = domain.DeliveryInfo
	GiftInfo           = domain.GiftInfo
	Address            = domain.Address
	Invoice            = domain.Invoice
	PaymentEventRecord = domain.PaymentEventRecord
)

// OrderListFilter narrows admin order listings.
type OrderListFilter = repositories.OrderListFilter

// ProductListFilter narrows catalogue listings.
type ProductListFilter = repositories.ProductListFilter

// OrderEventPublisher publishes order domain events for downstream consumers.
type OrderEventPublisher interface {
	PublishOrderEvent(ctx context.Context, event OrderEvent) error
}

// OrderEvent is the transition signal sent to the notification dispatcher. PreviousStatus is
// empty for a freshly created order.
type OrderEvent struct {
	Type           string
	OrderID        string
	OrderNumber    string
	PreviousStatus string
	CurrentStatus  string
	PaymentStatus  string
	Note           string
	ActorID        string
	OccurredAt     time.Time
	Metadata       map[string]any
}

// PriceSelection carries the buyer's choice for variant or custom-range products.
type PriceSelection struct {
	VariantID   string
	CustomPrice *decimal.Decimal
}

// PricingResolver turns a product and a selection into a unit price.
type PricingResolver interface {
	Resolve(product Product, sel PriceSelection) (decimal.Decimal, error)
}

// CatalogService exposes catalogue reads and admin maintenance.
type CatalogService interface {
	GetProduct(ctx context.Context, productID string, activeOnly bool) (Product, error)
	ListProducts(ctx context.Context, filter ProductListFilter) (domain.CursorPage[Product], error)
	UpsertProduct(ctx context.Context, cmd UpsertProductCommand) (Product, error)
	DeactivateProduct(ctx context.Context, productID string, actorID string) (Product, error)
}

// OrderNumberGenerator allocates human readable order numbers.
type OrderNumberGenerator interface {
	Next(ctx context.Context) (string, error)
}

// OrderBuilder validates a cart against the live catalogue and produces an order draft.
type OrderBuilder interface {
	Build(ctx context.Context, cmd BuildOrderCommand) (OrderDraft, error)
}

// OrderService drives the fulfilment lifecycle.
type OrderService interface {
	Create(ctx context.Context, cmd CreateOrderCommand) (CreateOrderResult, error)
	GetOrder(ctx context.Context, orderID string) (Order, error)
	GetByNumber(ctx context.Context, orderNumber string) (Order, error)
	ListOrders(ctx context.Context, filter OrderListFilter) (domain.CursorPage[Order], error)
	TransitionStatus(ctx context.Context, cmd OrderStatusTransitionCommand) (Order, error)
	Cancel(ctx context.Context, cmd CancelOrderCommand) (Order, error)
}

// PaymentReconciler applies provider notifications to orders.
type PaymentReconciler interface {
	HandleWebhook(ctx context.Context, cmd HandleWebhookCommand) (ReconcileResult, error)
	Apply(ctx context.Context, event payments.Event) (ReconcileResult, error)
	PaymentHistory(ctx context.Context, orderID string) ([]PaymentEventRecord, error)
}

// InvoiceService projects delivered orders into invoices.
type InvoiceService interface {
	GetInvoice(ctx context.Context, orderID string) (Invoice, error)
	Project(order Order) (Invoice, error)
}

// CheckoutService opens payment intents for a validated cart.
type CheckoutService interface {
	PrepareCheckout(ctx context.Context, cmd PrepareCheckoutCommand) (CheckoutIntent, error)
}

// UpsertVariantCommand describes one variant in an admin product write.
type UpsertVariantCommand struct {
	ID       string
	Name     string
	Price    decimal.Decimal
	IsActive bool
	Order    int
}

// UpsertProductCommand replaces a product. Exactly one pricing input must match PricingType.
type UpsertProductCommand struct {
	ProductID   string
	Name        string
	Description string
	ImageURL    string
	Category    string
	PricingType domain.PricingType
	Price       *decimal.Decimal
	Variants    []UpsertVariantCommand
	MinPrice    *decimal.Decimal
	MaxPrice    *decimal.Decimal
	IsActive    bool
	ActorID     string
}

// CartLine is one requested product in a cart.
type CartLine struct {
	ProductID   string
	Quantity    int
	VariantID   string
	CustomPrice *decimal.Decimal
}

// BuildOrderCommand is the raw checkout input.
type BuildOrderCommand struct {
	Lines         []CartLine
	DeclaredTotal decimal.Decimal
	CustomerInfo  CustomerInfo
	DeliveryInfo  DeliveryInfo
	IsGift        bool
	GiftInfo      *GiftInfo
}

// OrderDraft is a validated, priced order not yet numbered nor persisted.
type OrderDraft struct {
	Items        []OrderItem
	TotalAmount  decimal.Decimal
	Currency     string
	CustomerInfo CustomerInfo
	DeliveryInfo DeliveryInfo
	IsGift       bool
	GiftInfo     *GiftInfo
}

// CreateOrderCommand creates an order from a cart once payment has been initiated.
type CreateOrderCommand struct {
	Build           BuildOrderCommand
	PaymentIntentID string
	UserID          string
	ActorID         string
}

// CreateOrderResult reports the stored order and whether an existing one was returned.
type CreateOrderResult struct {
	Order   Order
	Created bool
}

// OrderStatusTransitionCommand moves an order along the fulfilment graph.
type OrderStatusTransitionCommand struct {
	OrderID   string
	NewStatus OrderStatus
	Note      string
	ActorID   string
}

// CancelOrderCommand cancels an order that has not reached the ready state.
type CancelOrderCommand struct {
	OrderID string
	Reason  string
	ActorID string
}

// HandleWebhookCommand carries a raw provider notification.
type HandleWebhookCommand struct {
	Provider  string
	Payload   []byte
	Signature string
}

// ReconcileResult reports what the reconciler did with one event.
type ReconcileResult struct {
	EventID     string
	Outcome     domain.PaymentEventOutcome
	OrderID     string
	OrderNumber string
}

// PrepareCheckoutCommand opens a payment intent for a cart.
type PrepareCheckoutCommand struct {
	Build          BuildOrderCommand
	UserID         string
	IdempotencyKey string
}

// CheckoutIntent is returned to the client to confirm payment.
type CheckoutIntent struct {
	IntentID     string
	Provider     string
	ClientSecret string
	AmountMinor  int64
	Currency     string
	TotalAmount  decimal.Decimal
}
