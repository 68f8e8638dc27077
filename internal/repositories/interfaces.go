package repositories

import (
	"context"
	"errors"

	domain "github.com/boutique-fleurs/api/internal/domain"
)

// RepositoryError wraps low-level persistence failures with categorisation used by services.
type RepositoryError interface {
	error
	IsNotFound() bool
	IsConflict() bool
	IsUnavailable() bool
}

// ProductRepository persists catalogue products. Products are deactivated, never removed.
type ProductRepository interface {
	Upsert(ctx context.Context, product domain.Product) error
	FindByID(ctx context.Context, productID string) (domain.Product, error)
	List(ctx context.Context, filter ProductListFilter) (domain.CursorPage[domain.Product], error)
}

// ErrMutationNoop may be returned by an OrderMutation to commit nothing and keep the stored order.
var ErrMutationNoop = errors.New("repositories: mutation made no change")

// OrderMutation edits an order loaded inside a transaction. Returning an error aborts the write.
type OrderMutation func(order *domain.Order) error

// OrderRepository persists orders. Insert enforces uniqueness of the order number and of the
// payment intent id when one is set. Mutate applies fn atomically against the stored version.
type OrderRepository interface {
	Insert(ctx context.Context, order domain.Order) error
	FindByID(ctx context.Context, orderID string) (domain.Order, error)
	FindByNumber(ctx context.Context, orderNumber string) (domain.Order, error)
	FindByPaymentIntent(ctx context.Context, paymentIntentID string) (domain.Order, error)
	Mutate(ctx context.Context, orderID string, fn OrderMutation) (domain.Order, error)
	List(ctx context.Context, filter OrderListFilter) (domain.CursorPage[domain.Order], error)
}

// CounterRepository provides transaction-safe sequence numbers.
type CounterRepository interface {
	Next(ctx context.Context, counterID string, cfg CounterConfig) (int64, error)
}

// PaymentEventRepository stores the audit ledger of received payment provider events.
type PaymentEventRepository interface {
	Record(ctx context.Context, record domain.PaymentEventRecord) error
	ListByPaymentIntent(ctx context.Context, paymentIntentID string) ([]domain.PaymentEventRecord, error)
}

// HealthRepository exposes status of downstream dependencies for health checks.
type HealthRepository interface {
	Collect(ctx context.Context) (domain.SystemHealthReport, error)
}

// ProductListFilter narrows catalogue listings.
type ProductListFilter struct {
	ActiveOnly bool
	Category   string
	Pagination domain.Pagination
}

// OrderListFilter narrows order listings. Results are newest first.
type OrderListFilter struct {
	Statuses   []domain.OrderStatus
	UserID     string
	Pagination domain.Pagination
}

// CounterConfig customises increment behaviour and bounds for a counter.
type CounterConfig struct {
	Step     int64
	MaxValue *int64
}
