package domain

import (
	"time"

	"github.com/shopspring/decimal"
)

// Pagination defines standard cursor-based paging inputs for list operations.
type Pagination struct {
	PageSize  int
	PageToken string
}

// CursorPage packages list results with an encoded next token.
type CursorPage[T any] struct {
	Items         []T
	NextPageToken string
}

// Product is a catalogue entry. Pricing is one of FixedPricing, VariantPricing or CustomRangePricing.
type Product struct {
	ID          string
	Name        string
	Description string
	ImageURL    string
	Category    string
	Pricing     Pricing
	IsActive    bool
	CreatedAt   time.Time
	UpdatedAt   time.Time
}

// OrderStatus enumerates the fulfilment states of an order.
type OrderStatus string

const (
	// OrderStatusPaid is the initial state once checkout is confirmed.
	OrderStatusPaid OrderStatus = "payée"
	// OrderStatusInCreation means the florist is preparing the order.
	OrderStatusInCreation OrderStatus = "en_creation"
	// OrderStatusReady means the order can be collected or dispatched.
	OrderStatusReady OrderStatus = "prête"
	// OrderStatusOutForDelivery means the courier has the order.
	OrderStatusOutForDelivery OrderStatus = "en_livraison"
	// OrderStatusDelivered is terminal.
	OrderStatusDelivered OrderStatus = "livrée"
	// OrderStatusCancelled is terminal.
	OrderStatusCancelled OrderStatus = "annulée"
)

// Valid reports whether s is a known status.
func (s OrderStatus) Valid() bool {
	switch s {
	case OrderStatusPaid, OrderStatusInCreation, OrderStatusReady,
		OrderStatusOutForDelivery, OrderStatusDelivered, OrderStatusCancelled:
		return true
	}
	return false
}

// Terminal reports whether no further transition can leave s.
func (s OrderStatus) Terminal() bool {
	return s == OrderStatusDelivered || s == OrderStatusCancelled
}

// PaymentStatus is the payment axis of an order, independent from OrderStatus.
type PaymentStatus string

const (
	PaymentStatusPending           PaymentStatus = "pending"
	PaymentStatusPaid              PaymentStatus = "paid"
	PaymentStatusFailed            PaymentStatus = "failed"
	PaymentStatusRefunded          PaymentStatus = "refunded"
	PaymentStatusPartiallyRefunded PaymentStatus = "partially_refunded"
)

// DeliveryType selects home delivery or in-store pickup.
type DeliveryType string

const (
	DeliveryTypeDelivery DeliveryType = "delivery"
	DeliveryTypePickup   DeliveryType = "pickup"
)

// CustomerInfo is the contact captured at checkout.
type CustomerInfo struct {
	Name  string `json:"name" validate:"required,max=120"`
	Email string `json:"email" validate:"required,email,max=254"`
	Phone string `json:"phone" validate:"required,min=6,max=32"`
}

// Address is a delivery address.
type Address struct {
	Street     string `json:"street" validate:"required,max=200"`
	City       string `json:"city" validate:"required,max=120"`
	PostalCode string `json:"postalCode" validate:"required,max=16"`
	Country    string `json:"country,omitempty" validate:"max=60"`
}

// DeliveryInfo describes how and when the order is handed over.
type DeliveryInfo struct {
	Type     DeliveryType `json:"type" validate:"required,oneof=delivery pickup"`
	Address  *Address     `json:"address,omitempty"`
	Date     string       `json:"date" validate:"required,datetime=2006-01-02"`
	TimeSlot string       `json:"timeSlot" validate:"required,max=40"`
	Notes    string       `json:"notes,omitempty" validate:"max=500"`
}

// GiftInfo is present only on gift orders.
type GiftInfo struct {
	RecipientName string `json:"recipientName" validate:"required,max=120"`
	Message       string `json:"message,omitempty" validate:"max=1000"`
}

// OrderItem is an immutable snapshot of a cart line at checkout time.
// ProductID is kept for audit only; catalogue edits never reach existing items.
type OrderItem struct {
	ProductID   string          `json:"productId"`
	Name        string          `json:"name"`
	VariantName string          `json:"variantName,omitempty"`
	UnitPrice   decimal.Decimal `json:"unitPrice"`
	Quantity    int             `json:"quantity"`
	ImageURL    string          `json:"imageUrl,omitempty"`
}

// LineTotal returns UnitPrice × Quantity rounded to cents.
func (i OrderItem) LineTotal() decimal.Decimal {
	return RoundMoney(i.UnitPrice.Mul(decimal.NewFromInt(int64(i.Quantity))))
}

// TimelineKind distinguishes fulfilment transitions from payment changes.
type TimelineKind string

const (
	TimelineKindStatus  TimelineKind = "status"
	TimelineKindPayment TimelineKind = "payment"
)

// TimelineEntry is one append-only record in the order history. Status always holds the
// order status in force after the entry, so the last entry defines the current status.
type TimelineEntry struct {
	Status        OrderStatus
	PaymentStatus PaymentStatus
	Kind          TimelineKind
	Timestamp     time.Time
	Note          string
	Actor         string
}

// Order is the aggregate mutated only by appending timeline entries.
type Order struct {
	ID                   string
	OrderNumber          string
	UserID               string
	Items                []OrderItem
	TotalAmount          decimal.Decimal
	Currency             string
	CustomerInfo         CustomerInfo
	DeliveryInfo         DeliveryInfo
	IsGift               bool
	GiftInfo             *GiftInfo
	PaymentIntentID      string
	PaymentStatus        PaymentStatus
	RefundedAmount       decimal.Decimal
	AppliedPaymentEvents []string
	Timeline             []TimelineEntry
	CreatedAt            time.Time
	UpdatedAt            time.Time
	ConfirmedAt          *time.Time
	PreparedAt           *time.Time
	ReadyAt              *time.Time
	ShippedAt            *time.Time
	DeliveredAt          *time.Time
	CancelledAt          *time.Time
	PaidAt               *time.Time
}

// PaymentEventOutcome records what the reconciler did with an event.
type PaymentEventOutcome string

const (
	PaymentEventApplied   PaymentEventOutcome = "applied"
	PaymentEventDuplicate PaymentEventOutcome = "duplicate"
	PaymentEventStale     PaymentEventOutcome = "stale"
	PaymentEventRecovered PaymentEventOutcome = "recovered"
	PaymentEventIgnored   PaymentEventOutcome = "ignored"
	PaymentEventRejected  PaymentEventOutcome = "rejected"
)

// PaymentEventRecord is the ledger entry for one received provider event.
type PaymentEventRecord struct {
	EventID         string
	Provider        string
	Type            string
	PaymentIntentID string
	Status          PaymentStatus
	OrderID         string
	Outcome         PaymentEventOutcome
	Detail          string
	ReceivedAt      time.Time
}

// InvoiceLine is one invoice row derived from an order item.
type InvoiceLine struct {
	Description   string
	Quantity      int
	UnitPrice     decimal.Decimal
	LineTotal     decimal.Decimal
	UnitPriceText string
	LineTotalText string
}

// Invoice is a read-only projection over a delivered order.
type Invoice struct {
	InvoiceNumber string
	OrderID       string
	OrderNumber   string
	IssuedAt      time.Time
	Customer      CustomerInfo
	Lines         []InvoiceLine
	Currency      string
	TotalAmount   decimal.Decimal
	VATRate       decimal.Decimal
	VATAmount     decimal.Decimal
	NetAmount     decimal.Decimal
	TotalText     string
	VATText       string
	NetText       string
}
