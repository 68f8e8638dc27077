package firestore

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	"cloud.google.com/go/firestore"
	"github.com/shopspring/decimal"
	"google.golang.org/grpc/codes"
	"google.golang.org/grpc/status"

	domain "github.com/boutique-fleurs/api/internal/domain"
	pfirestore "github.com/boutique-fleurs/api/internal/platform/firestore"
	"github.com/boutique-fleurs/api/internal/platform/pagination"
	"github.com/boutique-fleurs/api/internal/repositories"
)

const (
	ordersCollection           = "orders"
	orderNumberIndexCollection = "order_numbers"
	orderIntentIndexCollection = "order_payment_intents"
	defaultOrderPageSize       = 20
	maxOrderPageSize           = 100
)

type orderItemDocument struct {
	ProductID   string `firestore:"productId"`
	Name        string `firestore:"name"`
	VariantName string `firestore:"variantName,omitempty"`
	UnitPrice   string `firestore:"unitPrice"`
	Quantity    int    `firestore:"quantity"`
	ImageURL    string `firestore:"imageUrl,omitempty"`
}

type addressDocument struct {
	Street     string `firestore:"street"`
	City       string `firestore:"city"`
	PostalCode string `firestore:"postalCode"`
	Country    string `firestore:"country,omitempty"`
}

type deliveryDocument struct {
	Type     string           `firestore:"type"`
	Address  *addressDocument `firestore:"address,omitempty"`
	Date     string           `firestore:"date"`
	TimeSlot string           `firestore:"timeSlot"`
	Notes    string           `firestore:"notes,omitempty"`
}

type customerDocument struct {
	Name  string `firestore:"name"`
	Email string `firestore:"email"`
	Phone string `firestore:"phone"`
}

type giftDocument struct {
	RecipientName string `firestore:"recipientName"`
	Message       string `firestore:"message,omitempty"`
}

type timelineDocument struct {
	Status        string    `firestore:"status"`
	PaymentStatus string    `firestore:"paymentStatus,omitempty"`
	Kind          string    `firestore:"kind"`
	Timestamp     time.Time `firestore:"timestamp"`
	Note          string    `firestore:"note,omitempty"`
	Actor         string    `firestore:"actor,omitempty"`
}

type orderDocument struct {
	OrderNumber          string              `firestore:"orderNumber"`
	UserID               string              `firestore:"userId,omitempty"`
	Items                []orderItemDocument `firestore:"items"`
	TotalAmount          string              `firestore:"totalAmount"`
	Currency             string              `firestore:"currency"`
	CustomerInfo         customerDocument    `firestore:"customerInfo"`
	DeliveryInfo         deliveryDocument    `firestore:"deliveryInfo"`
	IsGift               bool                `firestore:"isGift"`
	GiftInfo             *giftDocument       `firestore:"giftInfo,omitempty"`
	PaymentIntentID      string              `firestore:"paymentIntentId,omitempty"`
	PaymentStatus        string              `firestore:"paymentStatus"`
	RefundedAmount       string              `firestore:"refundedAmount,omitempty"`
	AppliedPaymentEvents []string            `firestore:"appliedPaymentEvents,omitempty"`
	Timeline             []timelineDocument  `firestore:"timeline"`
	// Status mirrors the last timeline entry for queries. It is never read back.
	Status      string     `firestore:"status"`
	CreatedAt   time.Time  `firestore:"createdAt"`
	UpdatedAt   time.Time  `firestore:"updatedAt"`
	ConfirmedAt *time.Time `firestore:"confirmedAt,omitempty"`
	PreparedAt  *time.Time `firestore:"preparedAt,omitempty"`
	ReadyAt     *time.Time `firestore:"readyAt,omitempty"`
	ShippedAt   *time.Time `firestore:"shippedAt,omitempty"`
	DeliveredAt *time.Time `firestore:"deliveredAt,omitempty"`
	CancelledAt *time.Time `firestore:"cancelledAt,omitempty"`
	PaidAt      *time.Time `firestore:"paidAt,omitempty"`
}

type orderIndexDocument struct {
	OrderID   string    `firestore:"orderId"`
	CreatedAt time.Time `firestore:"createdAt"`
}

type uniqueClaim struct {
	ref   *firestore.DocumentRef
	field repositories.OrderConflictField
	value string
}

// OrderRepository implements repositories.OrderRepository on Firestore. Unique keys are
// claimed through index documents created in the same transaction as the order.
type OrderRepository struct {
	provider    *pfirestore.Provider
	orders      *pfirestore.BaseRepository[orderDocument]
	numberIndex *pfirestore.BaseRepository[orderIndexDocument]
	intentIndex *pfirestore.BaseRepository[orderIndexDocument]
}

// NewOrderRepository constructs a Firestore-backed order repository.
func NewOrderRepository(provider *pfirestore.Provider) (*OrderRepository, error) {
	if provider == nil {
		return nil, errors.New("order repository requires firestore provider")
	}
	return &OrderRepository{
		provider:    provider,
		orders:      pfirestore.NewBaseRepository[orderDocument](provider, ordersCollection, nil, nil),
		numberIndex: pfirestore.NewBaseRepository[orderIndexDocument](provider, orderNumberIndexCollection, nil, nil),
		intentIndex: pfirestore.NewBaseRepository[orderIndexDocument](provider, orderIntentIndexCollection, nil, nil),
	}, nil
}

// Insert stores a new order. Collisions on id, order number or payment intent id surface as
// *repositories.OrderConflictError.
func (r *OrderRepository) Insert(ctx context.Context, order domain.Order) error {
	if r == nil || r.provider == nil {
		return errors.New("order repository not initialised")
	}
	if strings.TrimSpace(order.ID) == "" || strings.TrimSpace(order.OrderNumber) == "" {
		return errors.New("orders.insert: id and order number are required")
	}

	doc := encodeOrder(order)
	index := orderIndexDocument{OrderID: order.ID, CreatedAt: order.CreatedAt}
	intentID := strings.TrimSpace(order.PaymentIntentID)

	err := r.provider.RunTransaction(ctx, func(ctx context.Context, tx *firestore.Transaction) error {
		orderRef, err := r.orders.DocumentRef(ctx, order.ID)
		if err != nil {
			return err
		}
		numberRef, err := r.numberIndex.DocumentRef(ctx, order.OrderNumber)
		if err != nil {
			return err
		}
		var intentRef *firestore.DocumentRef
		if intentID != "" {
			if intentRef, err = r.intentIndex.DocumentRef(ctx, intentID); err != nil {
				return err
			}
		}

		claims := []uniqueClaim{
			{orderRef, repositories.OrderConflictID, order.ID},
			{numberRef, repositories.OrderConflictNumber, order.OrderNumber},
		}
		if intentRef != nil {
			claims = append(claims, uniqueClaim{intentRef, repositories.OrderConflictPaymentIntentID, intentID})
		}
		for _, claim := range claims {
			_, err := tx.Get(claim.ref)
			switch status.Code(err) {
			case codes.NotFound:
			case codes.OK:
				return &repositories.OrderConflictError{Field: claim.field, Value: claim.value}
			default:
				return err
			}
		}

		if err := tx.Create(orderRef, doc); err != nil {
			return err
		}
		if err := tx.Create(numberRef, index); err != nil {
			return err
		}
		if intentRef != nil {
			return tx.Create(intentRef, index)
		}
		return nil
	})
	if err != nil {
		var conflict *repositories.OrderConflictError
		if errors.As(err, &conflict) {
			return conflict
		}
		return pfirestore.WrapError("orders.insert", err)
	}
	return nil
}

// FindByID loads an order by document id.
func (r *OrderRepository) FindByID(ctx context.Context, orderID string) (domain.Order, error) {
	doc, err := r.orders.Get(ctx, strings.TrimSpace(orderID))
	if err != nil {
		return domain.Order{}, err
	}
	return decodeOrder(doc.ID, doc.Data)
}

// FindByNumber resolves the order through the order number index.
func (r *OrderRepository) FindByNumber(ctx context.Context, orderNumber string) (domain.Order, error) {
	idx, err := r.numberIndex.Get(ctx, strings.TrimSpace(orderNumber))
	if err != nil {
		return domain.Order{}, err
	}
	return r.FindByID(ctx, idx.Data.OrderID)
}

// FindByPaymentIntent resolves the order through the payment intent index.
func (r *OrderRepository) FindByPaymentIntent(ctx context.Context, paymentIntentID string) (domain.Order, error) {
	idx, err := r.intentIndex.Get(ctx, strings.TrimSpace(paymentIntentID))
	if err != nil {
		return domain.Order{}, err
	}
	return r.FindByID(ctx, idx.Data.OrderID)
}

// Mutate loads the order inside a transaction, applies fn and writes the result back. Firestore
// retries the transaction on contention, so fn may run more than once and must not keep state
// between runs.
func (r *OrderRepository) Mutate(ctx context.Context, orderID string, fn repositories.OrderMutation) (domain.Order, error) {
	if r == nil || r.provider == nil {
		return domain.Order{}, errors.New("order repository not initialised")
	}
	if fn == nil {
		return domain.Order{}, errors.New("orders.mutate: mutation is required")
	}
	orderID = strings.TrimSpace(orderID)

	var result domain.Order
	err := r.provider.RunTransaction(ctx, func(ctx context.Context, tx *firestore.Transaction) error {
		ref, err := r.orders.DocumentRef(ctx, orderID)
		if err != nil {
			return err
		}
		snapshot, err := tx.Get(ref)
		if err != nil {
			return err
		}
		stored, err := r.orders.Decode(ctx, snapshot)
		if err != nil {
			return fmt.Errorf("firestore orders decode %s: %w", orderID, err)
		}
		order, err := decodeOrder(orderID, stored)
		if err != nil {
			return err
		}

		if err := fn(&order); err != nil {
			if errors.Is(err, repositories.ErrMutationNoop) {
				result = order
				return nil
			}
			return err
		}
		order.ID = orderID
		result = order
		return tx.Set(ref, encodeOrder(order))
	})
	if err != nil {
		return domain.Order{}, pfirestore.WrapError("orders.mutate", err)
	}
	return result, nil
}

// List returns orders newest first, optionally filtered by status or owner.
func (r *OrderRepository) List(ctx context.Context, filter repositories.OrderListFilter) (domain.CursorPage[domain.Order], error) {
	pageSize := filter.Pagination.PageSize
	switch {
	case pageSize <= 0:
		pageSize = defaultOrderPageSize
	case pageSize > maxOrderPageSize:
		pageSize = maxOrderPageSize
	}

	cursor, err := pagination.DecodeToken(filter.Pagination.PageToken)
	if err != nil {
		return domain.CursorPage[domain.Order]{}, err
	}
	startAfter, err := orderCursorValues(cursor)
	if err != nil {
		return domain.CursorPage[domain.Order]{}, err
	}

	docs, err := r.orders.Query(ctx, func(q firestore.Query) firestore.Query {
		if len(filter.Statuses) == 1 {
			q = q.Where("status", "==", string(filter.Statuses[0]))
		} else if len(filter.Statuses) > 1 {
			values := make([]string, 0, len(filter.Statuses))
			for _, s := range filter.Statuses {
				values = append(values, string(s))
			}
			q = q.Where("status", "in", values)
		}
		if uid := strings.TrimSpace(filter.UserID); uid != "" {
			q = q.Where("userId", "==", uid)
		}
		q = q.OrderBy("createdAt", firestore.Desc).OrderBy(firestore.DocumentID, firestore.Desc)
		if startAfter != nil {
			q = q.StartAfter(startAfter...)
		}
		return q.Limit(pageSize + 1)
	})
	if err != nil {
		return domain.CursorPage[domain.Order]{}, err
	}

	page := domain.CursorPage[domain.Order]{}
	for i, doc := range docs {
		if i == pageSize {
			last := page.Items[len(page.Items)-1]
			token, err := pagination.EncodeToken(pagination.Cursor{
				StartAfter: []any{last.CreatedAt.UTC().Format(time.RFC3339Nano), last.ID},
			})
			if err != nil {
				return domain.CursorPage[domain.Order]{}, err
			}
			page.NextPageToken = token
			break
		}
		order, err := decodeOrder(doc.ID, doc.Data)
		if err != nil {
			return domain.CursorPage[domain.Order]{}, err
		}
		page.Items = append(page.Items, order)
	}
	return page, nil
}

func orderCursorValues(cursor pagination.Cursor) ([]any, error) {
	if len(cursor.StartAfter) == 0 {
		return nil, nil
	}
	if len(cursor.StartAfter) != 2 {
		return nil, pagination.ErrInvalidPageToken
	}
	rawTime, ok := cursor.StartAfter[0].(string)
	if !ok {
		return nil, pagination.ErrInvalidPageToken
	}
	createdAt, err := time.Parse(time.RFC3339Nano, rawTime)
	if err != nil {
		return nil, fmt.Errorf("%w: %v", pagination.ErrInvalidPageToken, err)
	}
	id, ok := cursor.StartAfter[1].(string)
	if !ok || id == "" {
		return nil, pagination.ErrInvalidPageToken
	}
	return []any{createdAt, id}, nil
}

func encodeOrder(order domain.Order) orderDocument {
	doc := orderDocument{
		OrderNumber:          order.OrderNumber,
		UserID:               order.UserID,
		Items:                make([]orderItemDocument, 0, len(order.Items)),
		TotalAmount:          domain.FormatMoney(order.TotalAmount),
		Currency:             order.Currency,
		CustomerInfo:         customerDocument(order.CustomerInfo),
		IsGift:               order.IsGift,
		PaymentIntentID:      order.PaymentIntentID,
		PaymentStatus:        string(order.PaymentStatus),
		AppliedPaymentEvents: order.AppliedPaymentEvents,
		Timeline:             make([]timelineDocument, 0, len(order.Timeline)),
		Status:               string(order.CurrentStatus()),
		CreatedAt:            order.CreatedAt.UTC(),
		UpdatedAt:            order.UpdatedAt.UTC(),
		ConfirmedAt:          order.ConfirmedAt,
		PreparedAt:           order.PreparedAt,
		ReadyAt:              order.ReadyAt,
		ShippedAt:            order.ShippedAt,
		DeliveredAt:          order.DeliveredAt,
		CancelledAt:          order.CancelledAt,
		PaidAt:               order.PaidAt,
	}
	if !order.RefundedAmount.IsZero() {
		doc.RefundedAmount = domain.FormatMoney(order.RefundedAmount)
	}
	for _, item := range order.Items {
		doc.Items = append(doc.Items, orderItemDocument{
			ProductID:   item.ProductID,
			Name:        item.Name,
			VariantName: item.VariantName,
			UnitPrice:   domain.FormatMoney(item.UnitPrice),
			Quantity:    item.Quantity,
			ImageURL:    item.ImageURL,
		})
	}
	doc.DeliveryInfo = deliveryDocument{
		Type:     string(order.DeliveryInfo.Type),
		Date:     order.DeliveryInfo.Date,
		TimeSlot: order.DeliveryInfo.TimeSlot,
		Notes:    order.DeliveryInfo.Notes,
	}
	if addr := order.DeliveryInfo.Address; addr != nil {
		converted := addressDocument(*addr)
		doc.DeliveryInfo.Address = &converted
	}
	if order.GiftInfo != nil {
		gift := giftDocument(*order.GiftInfo)
		doc.GiftInfo = &gift
	}
	for _, entry := range order.Timeline {
		doc.Timeline = append(doc.Timeline, timelineDocument{
			Status:        string(entry.Status),
			PaymentStatus: string(entry.PaymentStatus),
			Kind:          string(entry.Kind),
			Timestamp:     entry.Timestamp.UTC(),
			Note:          entry.Note,
			Actor:         entry.Actor,
		})
	}
	return doc
}

func decodeOrder(id string, doc orderDocument) (domain.Order, error) {
	total, err := decimal.NewFromString(doc.TotalAmount)
	if err != nil {
		return domain.Order{}, fmt.Errorf("firestore orders decode %s total: %w", id, err)
	}
	refunded := decimal.Zero
	if doc.RefundedAmount != "" {
		if refunded, err = decimal.NewFromString(doc.RefundedAmount); err != nil {
			return domain.Order{}, fmt.Errorf("firestore orders decode %s refunded amount: %w", id, err)
		}
	}

	order := domain.Order{
		ID:                   id,
		OrderNumber:          doc.OrderNumber,
		UserID:               doc.UserID,
		Items:                make([]domain.OrderItem, 0, len(doc.Items)),
		TotalAmount:          total,
		Currency:             doc.Currency,
		CustomerInfo:         domain.CustomerInfo(doc.CustomerInfo),
		IsGift:               doc.IsGift,
		PaymentIntentID:      doc.PaymentIntentID,
		PaymentStatus:        domain.PaymentStatus(doc.PaymentStatus),
		RefundedAmount:       refunded,
		AppliedPaymentEvents: doc.AppliedPaymentEvents,
		Timeline:             make([]domain.TimelineEntry, 0, len(doc.Timeline)),
		CreatedAt:            doc.CreatedAt,
		UpdatedAt:            doc.UpdatedAt,
		ConfirmedAt:          doc.ConfirmedAt,
		PreparedAt:           doc.PreparedAt,
		ReadyAt:              doc.ReadyAt,
		ShippedAt:            doc.ShippedAt,
		DeliveredAt:          doc.DeliveredAt,
		CancelledAt:          doc.CancelledAt,
		PaidAt:               doc.PaidAt,
	}
	for _, item := range doc.Items {
		price, err := decimal.NewFromString(item.UnitPrice)
		if err != nil {
			return domain.Order{}, fmt.Errorf("firestore orders decode %s item price: %w", id, err)
		}
		order.Items = append(order.Items, domain.OrderItem{
			ProductID:   item.ProductID,
			Name:        item.Name,
			VariantName: item.VariantName,
			UnitPrice:   price,
			Quantity:    item.Quantity,
			ImageURL:    item.ImageURL,
		})
	}
	order.DeliveryInfo = domain.DeliveryInfo{
		Type:     domain.DeliveryType(doc.DeliveryInfo.Type),
		Date:     doc.DeliveryInfo.Date,
		TimeSlot: doc.DeliveryInfo.TimeSlot,
		Notes:    doc.DeliveryInfo.Notes,
	}
	if addr := doc.DeliveryInfo.Address; addr != nil {
		converted := domain.Address(*addr)
		order.DeliveryInfo.Address = &converted
	}
	if doc.GiftInfo != nil {
		gift := domain.GiftInfo(*doc.GiftInfo)
		order.GiftInfo = &gift
	}
	for _, entry := range doc.Timeline {
		order.Timeline = append(order.Timeline, domain.TimelineEntry{
			Status:        domain.OrderStatus(entry.Status),
			PaymentStatus: domain.PaymentStatus(entry.PaymentStatus),
			Kind:          domain.TimelineKind(entry.Kind),
			Timestamp:     entry.Timestamp,
			Note:          entry.Note,
			Actor:         entry.Actor,
		})
	}
	return order, nil
}

var _ repositories.OrderRepository = (*OrderRepository)(nil)
