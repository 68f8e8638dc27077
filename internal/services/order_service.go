package services

import (
	"context"
	"errors"
	"fmt"
	"maps"
	"slices"
	"strings"
	"time"

	"github.com/oklog/ulid/v2"

	domain "github.com/boutique-fleurs/api/internal/domain"
	"github.com/boutique-fleurs/api/internal/payments"
	"github.com/boutique-fleurs/api/internal/platform/textutil"
	"github.com/boutique-fleurs/api/internal/repositories"
)

const (
	orderEventCreated       = "order.created"
	orderEventStatusChanged = "order.status.changed"

	orderIDPrefix         = "ord_"
	defaultNumberRetries  = 3
	maxTimelineNoteLength = 500
	systemActor           = "system"
)

var orderStateTransitions = map[domain.OrderStatus][]domain.OrderStatus{
	domain.OrderStatusPaid:           {domain.OrderStatusInCreation, domain.OrderStatusCancelled},
	domain.OrderStatusInCreation:     {domain.OrderStatusReady, domain.OrderStatusCancelled},
	domain.OrderStatusReady:          {domain.OrderStatusOutForDelivery},
	domain.OrderStatusOutForDelivery: {domain.OrderStatusDelivered},
}

// PaymentIntentLookup fetches intents so a client-supplied intent id can be checked before use.
type PaymentIntentLookup interface {
	GetPaymentIntent(ctx context.Context, paymentCtx payments.PaymentContext, intentID string) (payments.Intent, error)
}

// OrderServiceDeps bundles collaborators required to construct the order service.
type OrderServiceDeps struct {
	Orders        repositories.OrderRepository
	Builder       OrderBuilder
	Numbers       OrderNumberGenerator
	NumberRetries int
	Clock         func() time.Time
	IDGenerator   func() string
	Events        OrderEventPublisher
	Intents       PaymentIntentLookup
	Logger        func(ctx context.Context, event string, fields map[string]any)
}

type orderService struct {
	orders  repositories.OrderRepository
	builder OrderBuilder
	numbers OrderNumberGenerator
	retries int
	clock   func() time.Time
	newID   func() string
	events  OrderEventPublisher
	intents PaymentIntentLookup
	logger  func(context.Context, string, map[string]any)
}

// NewOrderService wires dependencies into a concrete OrderService implementation.
func NewOrderService(deps OrderServiceDeps) (OrderService, error) {
	if deps.Orders == nil {
		return nil, errors.New("order service: order repository is required")
	}
	if deps.Builder == nil {
		return nil, errors.New("order service: order builder is required")
	}
	if deps.Numbers == nil {
		return nil, errors.New("order service: order number generator is required")
	}

	retries := deps.NumberRetries
	if retries <= 0 {
		retries = defaultNumberRetries
	}

	clock := deps.Clock
	if clock == nil {
		clock = time.Now
	}

	idGen := deps.IDGenerator
	if idGen == nil {
		idGen = func() string {
			return ulid.Make().String()
		}
	}

	logger := deps.Logger
	if logger == nil {
		logger = func(context.Context, string, map[string]any) {}
	}

	return &orderService{
		orders:  deps.Orders,
		builder: deps.Builder,
		numbers: deps.Numbers,
		retries: retries,
		clock: func() time.Time {
			return clock().UTC()
		},
		newID:   idGen,
		events:  deps.Events,
		intents: deps.Intents,
		logger:  logger,
	}, nil
}

// Create validates the cart and stores a new order in the payée state with a pending payment.
// A payment intent that already has an order returns that order unchanged, but only to the
// customer who owns it.
func (s *orderService) Create(ctx context.Context, cmd CreateOrderCommand) (CreateOrderResult, error) {
	intentID := strings.TrimSpace(cmd.PaymentIntentID)
	userID := strings.TrimSpace(cmd.UserID)
	if intentID != "" {
		existing, err := s.orders.FindByPaymentIntent(ctx, intentID)
		switch {
		case err == nil:
			if err := checkIntentOwner(existing, userID); err != nil {
				return CreateOrderResult{}, err
			}
			return CreateOrderResult{Order: existing}, nil
		case !isRepositoryNotFound(err):
			return CreateOrderResult{}, mapRepositoryError(err, ErrOrderNotFound)
		}
	}

	draft, err := s.builder.Build(ctx, cmd.Build)
	if err != nil {
		return CreateOrderResult{}, err
	}
	if intentID != "" {
		if err := s.verifyIntent(ctx, intentID, userID, draft); err != nil {
			return CreateOrderResult{}, err
		}
	}

	actor := strings.TrimSpace(cmd.ActorID)
	if actor == "" {
		actor = systemActor
	}
	now := s.clock()
	order := newOrderFromDraft(draft, orderIDPrefix+s.newID(), userID, intentID, now)
	order.PaymentStatus = domain.PaymentStatusPending
	order.AppendStatus(domain.OrderStatusPaid, now, "", actor)

	stored, created, err := insertNumberedOrder(ctx, s.orders, s.numbers, s.retries, order)
	if err != nil {
		return CreateOrderResult{}, err
	}
	if !created {
		if err := checkIntentOwner(stored, userID); err != nil {
			return CreateOrderResult{}, err
		}
		return CreateOrderResult{Order: stored}, nil
	}

	s.logger(ctx, "order.created", map[string]any{
		"orderId":     stored.ID,
		"orderNumber": stored.OrderNumber,
		"total":       domain.FormatMoney(stored.TotalAmount),
		"intentId":    intentID,
	})
	publishOrderEvent(ctx, s.events, s.logger, OrderEvent{
		Type:          orderEventCreated,
		OrderID:       stored.ID,
		OrderNumber:   stored.OrderNumber,
		CurrentStatus: string(stored.CurrentStatus()),
		PaymentStatus: string(stored.PaymentStatus),
		ActorID:       actor,
		OccurredAt:    now,
	})
	return CreateOrderResult{Order: stored, Created: true}, nil
}

// verifyIntent makes sure the intent exists, was opened for this cart total and, when it
// records a customer, for this customer.
func (s *orderService) verifyIntent(ctx context.Context, intentID, userID string, draft OrderDraft) error {
	if s.intents == nil {
		return nil
	}
	intent, err := s.intents.GetPaymentIntent(ctx, payments.PaymentContext{Currency: draft.Currency}, intentID)
	if err != nil {
		return fmt.Errorf("%w: %v", ErrPaymentGateway, err)
	}
	if expected := domain.ToMinorUnits(draft.TotalAmount); intent.AmountMinor != expected {
		return fmt.Errorf("%w: intent amount %d, cart total %d", ErrPricingMismatch, intent.AmountMinor, expected)
	}
	if owner := strings.TrimSpace(intent.Metadata[metadataUserKey]); owner != "" && owner != userID {
		return fmt.Errorf("%w: payment intent belongs to another customer", ErrOrderConflict)
	}
	return nil
}

func checkIntentOwner(existing Order, userID string) error {
	if strings.TrimSpace(existing.UserID) != userID {
		return fmt.Errorf("%w: payment intent already used by another order", ErrOrderConflict)
	}
	return nil
}

func (s *orderService) GetOrder(ctx context.Context, orderID string) (Order, error) {
	orderID = strings.TrimSpace(orderID)
	if orderID == "" {
		return Order{}, fmt.Errorf("%w: order id is required", ErrValidation)
	}
	order, err := s.orders.FindByID(ctx, orderID)
	if err != nil {
		return Order{}, mapRepositoryError(err, ErrOrderNotFound)
	}
	return order, nil
}

func (s *orderService) GetByNumber(ctx context.Context, orderNumber string) (Order, error) {
	orderNumber = strings.ToUpper(strings.TrimSpace(orderNumber))
	if orderNumber == "" {
		return Order{}, fmt.Errorf("%w: order number is required", ErrValidation)
	}
	order, err := s.orders.FindByNumber(ctx, orderNumber)
	if err != nil {
		return Order{}, mapRepositoryError(err, ErrOrderNotFound)
	}
	return order, nil
}

func (s *orderService) ListOrders(ctx context.Context, filter OrderListFilter) (domain.CursorPage[Order], error) {
	for _, status := range filter.Statuses {
		if !status.Valid() {
			return domain.CursorPage[Order]{}, fmt.Errorf("%w: unknown status %q", ErrValidation, status)
		}
	}
	page, err := s.orders.List(ctx, filter)
	if err != nil {
		return domain.CursorPage[Order]{}, mapRepositoryError(err, ErrOrderNotFound)
	}
	return page, nil
}

// TransitionStatus appends a fulfilment transition. The check and the append run inside one
// repository transaction so concurrent admin and webhook writes never lose entries.
func (s *orderService) TransitionStatus(ctx context.Context, cmd OrderStatusTransitionCommand) (Order, error) {
	orderID := strings.TrimSpace(cmd.OrderID)
	if orderID == "" {
		return Order{}, fmt.Errorf("%w: order id is required", ErrValidation)
	}
	target := domain.OrderStatus(strings.TrimSpace(string(cmd.NewStatus)))
	if !target.Valid() {
		return Order{}, fmt.Errorf("%w: unknown status %q", ErrValidation, cmd.NewStatus)
	}
	note := textutil.SanitizeText(cmd.Note, maxTimelineNoteLength)
	actor := strings.TrimSpace(cmd.ActorID)
	if actor == "" {
		actor = systemActor
	}

	now := s.clock()
	var previous domain.OrderStatus
	updated, err := s.orders.Mutate(ctx, orderID, func(order *domain.Order) error {
		previous = order.CurrentStatus()
		if !canTransition(previous, target) {
			return fmt.Errorf("%w: %s -> %s", ErrInvalidTransition, previous, target)
		}
		// Only leaving payée needs a settled payment.
		if previous == domain.OrderStatusPaid && target != domain.OrderStatusCancelled && order.PaymentStatus != domain.PaymentStatusPaid {
			return fmt.Errorf("%w: payment is %s", ErrPaymentRequired, order.PaymentStatus)
		}
		order.AppendStatus(target, now, note, actor)
		return nil
	})
	if err != nil {
		return Order{}, mapRepositoryError(err, ErrOrderNotFound)
	}

	fields := map[string]any{
		"orderId": updated.ID,
		"from":    string(previous),
		"to":      string(target),
		"actorId": actor,
	}
	if target == domain.OrderStatusCancelled && updated.PaymentStatus == domain.PaymentStatusPaid {
		fields["refundRequired"] = true
	}
	s.logger(ctx, "order.status.changed", fields)

	publishOrderEvent(ctx, s.events, s.logger, OrderEvent{
		Type:           orderEventStatusChanged,
		OrderID:        updated.ID,
		OrderNumber:    updated.OrderNumber,
		PreviousStatus: string(previous),
		CurrentStatus:  string(target),
		PaymentStatus:  string(updated.PaymentStatus),
		Note:           note,
		ActorID:        actor,
		OccurredAt:     now,
	})
	return updated, nil
}

// Cancel moves an order to annulée. Only payée and en_creation orders can be cancelled.
func (s *orderService) Cancel(ctx context.Context, cmd CancelOrderCommand) (Order, error) {
	return s.TransitionStatus(ctx, OrderStatusTransitionCommand{
		OrderID:   cmd.OrderID,
		NewStatus: domain.OrderStatusCancelled,
		Note:      cmd.Reason,
		ActorID:   cmd.ActorID,
	})
}

func canTransition(current, target domain.OrderStatus) bool {
	next, ok := orderStateTransitions[current]
	if !ok {
		return false
	}
	return slices.Contains(next, target)
}

func newOrderFromDraft(draft OrderDraft, id, userID, intentID string, now time.Time) Order {
	return Order{
		ID:              id,
		UserID:          userID,
		Items:           slices.Clone(draft.Items),
		TotalAmount:     draft.TotalAmount,
		Currency:        draft.Currency,
		CustomerInfo:    draft.CustomerInfo,
		DeliveryInfo:    draft.DeliveryInfo,
		IsGift:          draft.IsGift,
		GiftInfo:        draft.GiftInfo,
		PaymentIntentID: intentID,
		CreatedAt:       now,
		UpdatedAt:       now,
	}
}

// insertNumberedOrder assigns a fresh number and inserts the order, retrying on number
// collisions. created is false when another order already holds the payment intent; that
// order is returned instead.
func insertNumberedOrder(ctx context.Context, orders repositories.OrderRepository, numbers OrderNumberGenerator, retries int, order Order) (Order, bool, error) {
	for attempt := 1; attempt <= retries; attempt++ {
		number, err := numbers.Next(ctx)
		if err != nil {
			return Order{}, false, err
		}
		order.OrderNumber = number

		err = orders.Insert(ctx, order)
		if err == nil {
			return order, true, nil
		}

		var conflict *repositories.OrderConflictError
		if !errors.As(err, &conflict) {
			return Order{}, false, mapRepositoryError(err, ErrOrderNotFound)
		}
		switch conflict.Field {
		case repositories.OrderConflictNumber:
			continue
		case repositories.OrderConflictPaymentIntentID:
			existing, findErr := orders.FindByPaymentIntent(ctx, order.PaymentIntentID)
			if findErr != nil {
				return Order{}, false, mapRepositoryError(findErr, ErrOrderNotFound)
			}
			return existing, false, nil
		default:
			return Order{}, false, fmt.Errorf("%w: %v", ErrOrderConflict, err)
		}
	}
	return Order{}, false, fmt.Errorf("%w: %d attempts", ErrDuplicateOrderNumber, retries)
}

func publishOrderEvent(ctx context.Context, events OrderEventPublisher, logger func(context.Context, string, map[string]any), event OrderEvent) {
	if events == nil {
		return
	}
	if event.Metadata != nil {
		event.Metadata = maps.Clone(event.Metadata)
	}
	if err := events.PublishOrderEvent(ctx, event); err != nil {
		logger(ctx, "order.event.publish.failed", map[string]any{
			"type":   event.Type,
			"order":  event.OrderID,
			"error":  err.Error(),
			"status": event.CurrentStatus,
		})
	}
}
