package services

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/oklog/ulid/v2"
	"github.com/shopspring/decimal"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/metric"

	domain "github.com/boutique-fleurs/api/internal/domain"
	"github.com/boutique-fleurs/api/internal/payments"
	"github.com/boutique-fleurs/api/internal/repositories"
)

const (
	orderEventPaymentChanged = "order.payment.changed"
	reconcilerMeterName      = "github.com/boutique-fleurs/api/internal/services/payments"
	paymentNotePrefix        = "paiement: "
)

// PaymentEventVerifier authenticates and decodes raw provider notifications.
type PaymentEventVerifier interface {
	ParseWebhook(provider string, payload []byte, signature string) (payments.Event, error)
}

// PaymentReconcilerDeps bundles collaborators required by the reconciler.
type PaymentReconcilerDeps struct {
	Orders        repositories.OrderRepository
	Ledger        repositories.PaymentEventRepository
	Numbers       OrderNumberGenerator
	NumberRetries int
	Verifier      PaymentEventVerifier
	Events        OrderEventPublisher
	Meter         metric.Meter
	Clock         func() time.Time
	IDGenerator   func() string
	Logger        func(ctx context.Context, event string, fields map[string]any)
}

type paymentReconciler struct {
	orders   repositories.OrderRepository
	ledger   repositories.PaymentEventRepository
	numbers  OrderNumberGenerator
	retries  int
	verifier PaymentEventVerifier
	events   OrderEventPublisher
	counter  metric.Int64Counter
	clock    func() time.Time
	newID    func() string
	logger   func(context.Context, string, map[string]any)
}

// NewPaymentReconciler constructs the reconciler that drives the payment axis of orders.
func NewPaymentReconciler(deps PaymentReconcilerDeps) (PaymentReconciler, error) {
	if deps.Orders == nil {
		return nil, errors.New("payment reconciler: order repository is required")
	}
	if deps.Numbers == nil {
		return nil, errors.New("payment reconciler: order number generator is required")
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

	meter := deps.Meter
	if meter == nil {
		meter = otel.GetMeterProvider().Meter(reconcilerMeterName)
	}
	counter, err := meter.Int64Counter(
		"payments.events",
		metric.WithDescription("Payment provider events by reconciliation outcome"),
	)
	if err != nil {
		return nil, fmt.Errorf("payment reconciler: register counter: %w", err)
	}

	return &paymentReconciler{
		orders:   deps.Orders,
		ledger:   deps.Ledger,
		numbers:  deps.Numbers,
		retries:  retries,
		verifier: deps.Verifier,
		events:   deps.Events,
		counter:  counter,
		clock: func() time.Time {
			return clock().UTC()
		},
		newID:  idGen,
		logger: logger,
	}, nil
}

// HandleWebhook verifies a raw notification and applies it. Unverifiable payloads are never applied.
func (r *paymentReconciler) HandleWebhook(ctx context.Context, cmd HandleWebhookCommand) (ReconcileResult, error) {
	if r.verifier == nil {
		return ReconcileResult{}, fmt.Errorf("%w: no verifier configured", ErrPaymentVerification)
	}
	event, err := r.verifier.ParseWebhook(strings.TrimSpace(cmd.Provider), cmd.Payload, cmd.Signature)
	if err != nil {
		r.logger(ctx, "payments.webhook.rejected", map[string]any{
			"provider": cmd.Provider,
			"error":    err.Error(),
		})
		return ReconcileResult{}, fmt.Errorf("%w: %v", ErrPaymentVerification, err)
	}
	return r.Apply(ctx, event)
}

// Apply reconciles an already verified event against the order holding its payment intent.
func (r *paymentReconciler) Apply(ctx context.Context, event payments.Event) (ReconcileResult, error) {
	now := r.clock()
	result := ReconcileResult{EventID: event.ID}
	record := PaymentEventRecord{
		EventID:         event.ID,
		Provider:        event.Provider,
		Type:            event.Type,
		PaymentIntentID: event.IntentID,
		ReceivedAt:      now,
	}

	target, ok := paymentStatusFor(event.Status)
	if !event.Handled || !ok || strings.TrimSpace(event.IntentID) == "" {
		result.Outcome = domain.PaymentEventIgnored
		r.finish(ctx, event, record, result, "unhandled event")
		return result, nil
	}
	record.Status = target

	order, err := r.orders.FindByPaymentIntent(ctx, event.IntentID)
	switch {
	case err == nil:
		result, err = r.applyToOrder(ctx, event, target, order.ID, now)
	case isRepositoryNotFound(err):
		result, err = r.recoverOrder(ctx, event, now)
	default:
		return ReconcileResult{}, mapRepositoryError(err, ErrOrderNotFound)
	}

	detail := ""
	if err != nil {
		detail = err.Error()
		if result.Outcome == "" {
			// Infrastructure failure: let the provider redeliver instead of recording an outcome.
			return result, err
		}
	}
	record.OrderID = result.OrderID
	r.finish(ctx, event, record, result, detail)
	return result, err
}

// PaymentHistory lists the provider events recorded against the order's payment intent, oldest
// first.
func (r *paymentReconciler) PaymentHistory(ctx context.Context, orderID string) ([]PaymentEventRecord, error) {
	orderID = strings.TrimSpace(orderID)
	if orderID == "" {
		return nil, fmt.Errorf("%w: order id is required", ErrValidation)
	}
	order, err := r.orders.FindByID(ctx, orderID)
	if err != nil {
		return nil, mapRepositoryError(err, ErrOrderNotFound)
	}
	if r.ledger == nil || strings.TrimSpace(order.PaymentIntentID) == "" {
		return []PaymentEventRecord{}, nil
	}
	records, err := r.ledger.ListByPaymentIntent(ctx, order.PaymentIntentID)
	if err != nil {
		return nil, fmt.Errorf("payment history %s: %w", orderID, err)
	}
	if records == nil {
		records = []PaymentEventRecord{}
	}
	return records, nil
}

func (r *paymentReconciler) applyToOrder(ctx context.Context, event payments.Event, target domain.PaymentStatus, orderID string, now time.Time) (ReconcileResult, error) {
	result := ReconcileResult{EventID: event.ID, OrderID: orderID}
	var previous domain.PaymentStatus

	updated, err := r.orders.Mutate(ctx, orderID, func(order *domain.Order) error {
		result.Outcome = ""
		previous = order.PaymentStatus
		if order.HasAppliedPaymentEvent(event.ID) {
			result.Outcome = domain.PaymentEventDuplicate
			return repositories.ErrMutationNoop
		}
		refunded := domain.FromMinorUnits(event.RefundedMinor)
		if !isForwardPayment(order.PaymentStatus, target, order.RefundedAmount, refunded) {
			result.Outcome = domain.PaymentEventStale
			return repositories.ErrMutationNoop
		}
		if target == domain.PaymentStatusPaid {
			if expected := domain.ToMinorUnits(order.TotalAmount); event.AmountMinor != expected {
				result.Outcome = domain.PaymentEventRejected
				return fmt.Errorf("%w: received %d, expected %d", ErrPricingMismatch, event.AmountMinor, expected)
			}
		}

		order.AppendPaymentChange(target, now, paymentNotePrefix+string(target), paymentActor(event))
		if target == domain.PaymentStatusRefunded || target == domain.PaymentStatusPartiallyRefunded {
			order.RefundedAmount = refunded
		}
		order.MarkPaymentEventApplied(event.ID)
		result.Outcome = domain.PaymentEventApplied
		return nil
	})
	if err != nil {
		if result.Outcome == domain.PaymentEventRejected {
			return result, err
		}
		result.Outcome = ""
		return result, mapRepositoryError(err, ErrOrderNotFound)
	}
	result.OrderNumber = updated.OrderNumber

	if result.Outcome == domain.PaymentEventApplied {
		publishOrderEvent(ctx, r.events, r.logger, OrderEvent{
			Type:           orderEventPaymentChanged,
			OrderID:        updated.ID,
			OrderNumber:    updated.OrderNumber,
			PreviousStatus: string(updated.CurrentStatus()),
			CurrentStatus:  string(updated.CurrentStatus()),
			PaymentStatus:  string(updated.PaymentStatus),
			ActorID:        paymentActor(event),
			OccurredAt:     now,
			Metadata: map[string]any{
				"previousPaymentStatus": string(previous),
				"eventId":               event.ID,
			},
		})
	}
	return result, nil
}

// recoverOrder rebuilds an order whose creation call never reached us, from the description the
// checkout stored in the intent metadata.
func (r *paymentReconciler) recoverOrder(ctx context.Context, event payments.Event, now time.Time) (ReconcileResult, error) {
	result := ReconcileResult{EventID: event.ID, Outcome: domain.PaymentEventIgnored}
	if event.Status != payments.StatusSucceeded {
		return result, nil
	}

	snapshot, userID, ok, err := decodeOrderMetadata(event.Metadata)
	if err != nil {
		r.logger(ctx, "payments.recovery.metadata.invalid", map[string]any{
			"eventId":  event.ID,
			"intentId": event.IntentID,
			"error":    err.Error(),
		})
		return result, nil
	}
	if !ok {
		return result, nil
	}

	if !domain.ItemsTotal(snapshot.Items).Equal(domain.RoundMoney(snapshot.Total)) {
		result.Outcome = domain.PaymentEventRejected
		return result, fmt.Errorf("%w: metadata items do not add up to %s", ErrPricingMismatch, domain.FormatMoney(snapshot.Total))
	}
	if expected := domain.ToMinorUnits(snapshot.Total); event.AmountMinor != expected {
		result.Outcome = domain.PaymentEventRejected
		return result, fmt.Errorf("%w: received %d, expected %d", ErrPricingMismatch, event.AmountMinor, expected)
	}

	actor := paymentActor(event)
	order := newOrderFromDraft(OrderDraft{
		Items:        snapshot.Items,
		TotalAmount:  domain.RoundMoney(snapshot.Total),
		Currency:     snapshot.Currency,
		CustomerInfo: snapshot.Customer,
		DeliveryInfo: snapshot.Delivery,
		IsGift:       snapshot.IsGift,
		GiftInfo:     snapshot.Gift,
	}, orderIDPrefix+r.newID(), userID, event.IntentID, now)
	order.PaymentStatus = domain.PaymentStatusPending
	order.AppendStatus(domain.OrderStatusPaid, now, "commande reconstituée", actor)
	order.AppendPaymentChange(domain.PaymentStatusPaid, now, paymentNotePrefix+string(domain.PaymentStatusPaid), actor)
	order.MarkPaymentEventApplied(event.ID)

	stored, created, err := insertNumberedOrder(ctx, r.orders, r.numbers, r.retries, order)
	if err != nil {
		result.Outcome = ""
		return result, err
	}
	if !created {
		// Lost the race against the client's own create call.
		return r.applyToOrder(ctx, event, domain.PaymentStatusPaid, stored.ID, now)
	}

	result.Outcome = domain.PaymentEventRecovered
	result.OrderID = stored.ID
	result.OrderNumber = stored.OrderNumber
	publishOrderEvent(ctx, r.events, r.logger, OrderEvent{
		Type:          orderEventCreated,
		OrderID:       stored.ID,
		OrderNumber:   stored.OrderNumber,
		CurrentStatus: string(stored.CurrentStatus()),
		PaymentStatus: string(stored.PaymentStatus),
		ActorID:       actor,
		OccurredAt:    now,
		Metadata:      map[string]any{"recoveredFrom": event.ID},
	})
	return result, nil
}

func (r *paymentReconciler) finish(ctx context.Context, event payments.Event, record PaymentEventRecord, result ReconcileResult, detail string) {
	record.Outcome = result.Outcome
	record.Detail = detail
	if r.ledger != nil && record.EventID != "" {
		if err := r.ledger.Record(ctx, record); err != nil {
			r.logger(ctx, "payments.ledger.failed", map[string]any{
				"eventId": event.ID,
				"error":   err.Error(),
			})
		}
	}
	r.counter.Add(ctx, 1, metric.WithAttributes(
		attribute.String("outcome", string(result.Outcome)),
		attribute.String("provider", event.Provider),
	))

	fields := map[string]any{
		"eventId":  event.ID,
		"type":     event.Type,
		"intentId": event.IntentID,
		"outcome":  string(result.Outcome),
	}
	if result.OrderID != "" {
		fields["orderId"] = result.OrderID
	}
	if detail != "" {
		fields["detail"] = detail
	}
	r.logger(ctx, "payments.event.reconciled", fields)
}

func paymentStatusFor(status payments.Status) (domain.PaymentStatus, bool) {
	switch status {
	case payments.StatusSucceeded:
		return domain.PaymentStatusPaid, true
	case payments.StatusFailed:
		return domain.PaymentStatusFailed, true
	case payments.StatusRefunded:
		return domain.PaymentStatusRefunded, true
	case payments.StatusPartiallyRefunded:
		return domain.PaymentStatusPartiallyRefunded, true
	default:
		return "", false
	}
}

// isForwardPayment reports whether moving from current to target advances the payment axis.
// A repeated partial refund only counts when the refunded amount grows.
func isForwardPayment(current, target domain.PaymentStatus, refundedBefore, refundedAfter decimal.Decimal) bool {
	switch current {
	case domain.PaymentStatusPending, "":
		return target == domain.PaymentStatusPaid || target == domain.PaymentStatusFailed
	case domain.PaymentStatusFailed:
		return target == domain.PaymentStatusPaid
	case domain.PaymentStatusPaid:
		return target == domain.PaymentStatusRefunded || target == domain.PaymentStatusPartiallyRefunded
	case domain.PaymentStatusPartiallyRefunded:
		if target == domain.PaymentStatusRefunded {
			return true
		}
		return target == domain.PaymentStatusPartiallyRefunded && refundedAfter.GreaterThan(refundedBefore)
	default:
		return false
	}
}

func paymentActor(event payments.Event) string {
	if event.Provider == "" {
		return "psp"
	}
	return "psp:" + event.Provider
}
