package services

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"testing"
	"time"

	"github.com/shopspring/decimal"

	domain "github.com/boutique-fleurs/api/internal/domain"
	"github.com/boutique-fleurs/api/internal/payments"
	"github.com/boutique-fleurs/api/internal/repositories"
)

type stubIntentLookup struct {
	intent payments.Intent
	err    error
	calls  int
}

func (s *stubIntentLookup) GetPaymentIntent(_ context.Context, _ payments.PaymentContext, intentID string) (payments.Intent, error) {
	s.calls++
	if s.err != nil {
		return payments.Intent{}, s.err
	}
	intent := s.intent
	intent.ID = intentID
	return intent, nil
}

type stubNumbers struct {
	mu      sync.Mutex
	numbers []string
	calls   int
}

func (s *stubNumbers) Next(context.Context) (string, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.calls++
	if len(s.numbers) == 0 {
		return fmt.Sprintf("BF-20240501-%04d", 100+s.calls), nil
	}
	n := s.numbers[0]
	s.numbers = s.numbers[1:]
	return n, nil
}

type orderServiceFixture struct {
	svc       OrderService
	orders    *stubOrderRepo
	numbers   *stubNumbers
	publisher *captureEventPublisher
	logger    *captureLogger
}

func newOrderServiceFixture(t *testing.T, seed ...Order) orderServiceFixture {
	t.Helper()
	return newOrderServiceFixtureWithIntents(t, nil, seed...)
}

func newOrderServiceFixtureWithIntents(t *testing.T, intents PaymentIntentLookup, seed ...Order) orderServiceFixture {
	t.Helper()
	_, builder := newTestOrderBuilder(t)
	f := orderServiceFixture{
		orders:    newStubOrderRepo(seed...),
		numbers:   &stubNumbers{},
		publisher: &captureEventPublisher{},
		logger:    &captureLogger{},
	}
	ids := 0
	svc, err := NewOrderService(OrderServiceDeps{
		Orders:  f.orders,
		Builder: builder,
		Numbers: f.numbers,
		Clock:   fixedClock(builderNow),
		IDGenerator: func() string {
			ids++
			return fmt.Sprintf("T%d", ids)
		},
		Events:  f.publisher,
		Intents: intents,
		Logger:  f.logger.log,
	})
	if err != nil {
		t.Fatalf("new order service: %v", err)
	}
	f.svc = svc
	return f
}

func seededOrder(id string, status domain.OrderStatus, payment domain.PaymentStatus) Order {
	at := time.Date(2024, 5, 1, 8, 0, 0, 0, time.UTC)
	order := Order{
		ID:            id,
		OrderNumber:   "BF-20240501-0001",
		Items:         []OrderItem{{ProductID: "prod_1", Name: "Bouquet", UnitPrice: decimal.RequireFromString("44.99"), Quantity: 1}},
		TotalAmount:   decimal.RequireFromString("44.99"),
		Currency:      "EUR",
		PaymentStatus: payment,
		CreatedAt:     at,
	}
	order.AppendStatus(domain.OrderStatusPaid, at, "", "system")
	if status == domain.OrderStatusCancelled {
		order.AppendStatus(domain.OrderStatusCancelled, at.Add(time.Hour), "", "admin")
		return order
	}
	path := []domain.OrderStatus{domain.OrderStatusInCreation, domain.OrderStatusReady, domain.OrderStatusOutForDelivery, domain.OrderStatusDelivered}
	for i, next := range path {
		if order.CurrentStatus() == status {
			break
		}
		order.AppendStatus(next, at.Add(time.Duration(i+1)*time.Minute), "", "admin")
	}
	return order
}

func TestNewOrderServiceValidatesDeps(t *testing.T) {
	if _, err := NewOrderService(OrderServiceDeps{}); err == nil {
		t.Fatalf("expected error without repository")
	}
	if _, err := NewOrderService(OrderServiceDeps{Orders: newStubOrderRepo()}); err == nil {
		t.Fatalf("expected error without builder")
	}
}

func TestOrderServiceCreate(t *testing.T) {
	f := newOrderServiceFixture(t)

	result, err := f.svc.Create(context.Background(), CreateOrderCommand{
		Build:           validBuildCommand(),
		PaymentIntentID: "pi_1",
		UserID:          "uid_1",
		ActorID:         "client:uid_1",
	})
	if err != nil {
		t.Fatalf("create: %v", err)
	}
	order := result.Order
	if !result.Created || order.ID != "ord_T1" || order.OrderNumber != "BF-20240501-0101" {
		t.Fatalf("unexpected order %+v", order)
	}
	if order.CurrentStatus() != domain.OrderStatusPaid || order.PaymentStatus != domain.PaymentStatusPending {
		t.Fatalf("unexpected statuses %s/%s", order.CurrentStatus(), order.PaymentStatus)
	}
	if order.ConfirmedAt == nil || !order.ConfirmedAt.Equal(builderNow) {
		t.Fatalf("expected confirmedAt stamped")
	}
	if len(order.Timeline) != 1 {
		t.Fatalf("expected one timeline entry, got %d", len(order.Timeline))
	}

	events := f.publisher.published()
	if len(events) != 1 || events[0].Type != orderEventCreated || events[0].PreviousStatus != "" || events[0].CurrentStatus != string(domain.OrderStatusPaid) {
		t.Fatalf("unexpected events %+v", events)
	}
}

func TestOrderServiceCreateIsIdempotentOnPaymentIntent(t *testing.T) {
	f := newOrderServiceFixture(t)
	cmd := CreateOrderCommand{Build: validBuildCommand(), PaymentIntentID: "pi_1"}

	first, err := f.svc.Create(context.Background(), cmd)
	if err != nil {
		t.Fatalf("create: %v", err)
	}
	second, err := f.svc.Create(context.Background(), cmd)
	if err != nil {
		t.Fatalf("second create: %v", err)
	}
	if second.Created || second.Order.ID != first.Order.ID {
		t.Fatalf("expected existing order returned, got %+v", second)
	}
	if f.orders.count() != 1 || len(f.publisher.published()) != 1 {
		t.Fatalf("expected a single stored order and event")
	}
}

func TestOrderServiceCreateReturnsWinnerOnIntentRace(t *testing.T) {
	f := newOrderServiceFixture(t)
	winner := seededOrder("ord_winner", domain.OrderStatusPaid, domain.PaymentStatusPaid)
	winner.PaymentIntentID = "pi_race"
	winner.OrderNumber = "BF-20240501-0900"
	f.orders.insertFn = func(context.Context, Order) error {
		// The webhook recovery path inserts between the lookup and our insert.
		f.orders.insertFn = nil
		return f.orders.Insert(context.Background(), winner)
	}

	result, err := f.svc.Create(context.Background(), CreateOrderCommand{Build: validBuildCommand(), PaymentIntentID: "pi_race"})
	if err != nil {
		t.Fatalf("create: %v", err)
	}
	if result.Created || result.Order.ID != "ord_winner" {
		t.Fatalf("expected winner order, got %+v", result)
	}
}

func TestOrderServiceCreateRetriesNumberCollisions(t *testing.T) {
	existing := seededOrder("ord_old", domain.OrderStatusPaid, domain.PaymentStatusPending)
	f := newOrderServiceFixture(t, existing)
	f.numbers.numbers = []string{existing.OrderNumber, existing.OrderNumber, "BF-20240501-0002"}

	result, err := f.svc.Create(context.Background(), CreateOrderCommand{Build: validBuildCommand()})
	if err != nil {
		t.Fatalf("create: %v", err)
	}
	if result.Order.OrderNumber != "BF-20240501-0002" || f.numbers.calls != 3 {
		t.Fatalf("expected third number after two collisions, got %s after %d calls", result.Order.OrderNumber, f.numbers.calls)
	}
}

func TestOrderServiceCreateGivesUpAfterRetries(t *testing.T) {
	existing := seededOrder("ord_old", domain.OrderStatusPaid, domain.PaymentStatusPending)
	f := newOrderServiceFixture(t, existing)
	f.numbers.numbers = []string{existing.OrderNumber, existing.OrderNumber, existing.OrderNumber, "BF-20240501-0002"}

	_, err := f.svc.Create(context.Background(), CreateOrderCommand{Build: validBuildCommand()})
	if !errors.Is(err, ErrDuplicateOrderNumber) {
		t.Fatalf("expected ErrDuplicateOrderNumber, got %v", err)
	}
	if ErrorCode(err) != "duplicate_order_number" {
		t.Fatalf("unexpected code %s", ErrorCode(err))
	}
}

func TestOrderServiceCreateRejectsInvalidCart(t *testing.T) {
	f := newOrderServiceFixture(t)
	cmd := validBuildCommand()
	cmd.DeclaredTotal = decimal.RequireFromString("10")

	if _, err := f.svc.Create(context.Background(), CreateOrderCommand{Build: cmd}); !errors.Is(err, ErrPricingMismatch) {
		t.Fatalf("expected ErrPricingMismatch, got %v", err)
	}
	if f.orders.count() != 0 || f.numbers.calls != 0 {
		t.Fatalf("expected nothing stored nor numbered")
	}
}

func TestOrderServiceTransitionHappyPath(t *testing.T) {
	f := newOrderServiceFixture(t, seededOrder("ord_1", domain.OrderStatusPaid, domain.PaymentStatusPaid))

	path := []domain.OrderStatus{domain.OrderStatusInCreation, domain.OrderStatusReady, domain.OrderStatusOutForDelivery, domain.OrderStatusDelivered}
	for _, next := range path {
		order, err := f.svc.TransitionStatus(context.Background(), OrderStatusTransitionCommand{OrderID: "ord_1", NewStatus: next, Note: "ok", ActorID: "admin:1"})
		if err != nil {
			t.Fatalf("transition to %s: %v", next, err)
		}
		if order.CurrentStatus() != next {
			t.Fatalf("expected %s, got %s", next, order.CurrentStatus())
		}
	}

	stored := f.orders.get("ord_1")
	if len(stored.Timeline) != 5 {
		t.Fatalf("expected 5 timeline entries, got %d", len(stored.Timeline))
	}
	if stored.PreparedAt == nil || stored.ReadyAt == nil || stored.ShippedAt == nil || stored.DeliveredAt == nil {
		t.Fatalf("expected milestone timestamps, got %+v", stored)
	}
	events := f.publisher.published()
	if len(events) != 4 || events[0].PreviousStatus != string(domain.OrderStatusPaid) || events[3].CurrentStatus != string(domain.OrderStatusDelivered) {
		t.Fatalf("unexpected events %+v", events)
	}
}

func TestOrderServiceRejectsIllegalEdges(t *testing.T) {
	cases := []struct {
		from domain.OrderStatus
		to   domain.OrderStatus
	}{
		{domain.OrderStatusPaid, domain.OrderStatusReady},
		{domain.OrderStatusPaid, domain.OrderStatusDelivered},
		{domain.OrderStatusPaid, domain.OrderStatusPaid},
		{domain.OrderStatusReady, domain.OrderStatusCancelled},
		{domain.OrderStatusOutForDelivery, domain.OrderStatusCancelled},
		{domain.OrderStatusOutForDelivery, domain.OrderStatusReady},
		{domain.OrderStatusDelivered, domain.OrderStatusCancelled},
		{domain.OrderStatusCancelled, domain.OrderStatusInCreation},
	}
	for _, tc := range cases {
		t.Run(string(tc.from)+"->"+string(tc.to), func(t *testing.T) {
			f := newOrderServiceFixture(t, seededOrder("ord_1", tc.from, domain.PaymentStatusPaid))
			before := f.orders.get("ord_1")

			_, err := f.svc.TransitionStatus(context.Background(), OrderStatusTransitionCommand{OrderID: "ord_1", NewStatus: tc.to})
			if !errors.Is(err, ErrInvalidTransition) {
				t.Fatalf("expected ErrInvalidTransition, got %v", err)
			}
			after := f.orders.get("ord_1")
			if len(after.Timeline) != len(before.Timeline) || after.CurrentStatus() != tc.from {
				t.Fatalf("order changed on rejected transition")
			}
			if len(f.publisher.published()) != 0 {
				t.Fatalf("expected no event on rejected transition")
			}
		})
	}
}

func TestOrderServiceRequiresPaymentBeforeAdvancing(t *testing.T) {
	f := newOrderServiceFixture(t, seededOrder("ord_1", domain.OrderStatusPaid, domain.PaymentStatusPending))

	_, err := f.svc.TransitionStatus(context.Background(), OrderStatusTransitionCommand{OrderID: "ord_1", NewStatus: domain.OrderStatusInCreation})
	if !errors.Is(err, ErrPaymentRequired) {
		t.Fatalf("expected ErrPaymentRequired, got %v", err)
	}

	order, err := f.svc.Cancel(context.Background(), CancelOrderCommand{OrderID: "ord_1", Reason: "client injoignable", ActorID: "admin:1"})
	if err != nil {
		t.Fatalf("cancel unpaid order: %v", err)
	}
	if order.CurrentStatus() != domain.OrderStatusCancelled || order.CancelledAt == nil {
		t.Fatalf("expected cancelled order, got %+v", order)
	}
	if last := order.Timeline[len(order.Timeline)-1]; last.Note != "client injoignable" || last.Actor != "admin:1" {
		t.Fatalf("unexpected timeline entry %+v", last)
	}
}

func TestOrderServiceCancelFromInCreationFlagsRefund(t *testing.T) {
	f := newOrderServiceFixture(t, seededOrder("ord_1", domain.OrderStatusInCreation, domain.PaymentStatusPaid))

	if _, err := f.svc.Cancel(context.Background(), CancelOrderCommand{OrderID: "ord_1"}); err != nil {
		t.Fatalf("cancel: %v", err)
	}
	found := false
	for _, entry := range f.logger.entries {
		if entry.event == "order.status.changed" && entry.fields["refundRequired"] == true {
			found = true
		}
	}
	if !found {
		t.Fatalf("expected refundRequired flag in log")
	}
}

func TestOrderServiceTransitionValidation(t *testing.T) {
	f := newOrderServiceFixture(t)

	if _, err := f.svc.TransitionStatus(context.Background(), OrderStatusTransitionCommand{OrderID: "ord_1", NewStatus: "shipped"}); !errors.Is(err, ErrValidation) {
		t.Fatalf("expected ErrValidation for unknown status, got %v", err)
	}
	if _, err := f.svc.TransitionStatus(context.Background(), OrderStatusTransitionCommand{OrderID: "missing", NewStatus: domain.OrderStatusReady}); !errors.Is(err, ErrOrderNotFound) {
		t.Fatalf("expected ErrOrderNotFound, got %v", err)
	}
}

func TestOrderServiceConcurrentTransitionsDoNotLoseAppends(t *testing.T) {
	f := newOrderServiceFixture(t, seededOrder("ord_1", domain.OrderStatusPaid, domain.PaymentStatusPaid))

	const workers = 10
	var (
		wg        sync.WaitGroup
		mu        sync.Mutex
		successes int
	)
	wg.Add(workers)
	for i := 0; i < workers; i++ {
		go func() {
			defer wg.Done()
			_, err := f.svc.TransitionStatus(context.Background(), OrderStatusTransitionCommand{OrderID: "ord_1", NewStatus: domain.OrderStatusInCreation})
			if err == nil {
				mu.Lock()
				successes++
				mu.Unlock()
			} else if !errors.Is(err, ErrInvalidTransition) {
				t.Errorf("unexpected error %v", err)
			}
		}()
	}
	wg.Wait()

	if successes != 1 {
		t.Fatalf("expected exactly one winner, got %d", successes)
	}
	if got := len(f.orders.get("ord_1").Timeline); got != 2 {
		t.Fatalf("expected 2 timeline entries, got %d", got)
	}
}

func TestOrderServiceListOrdersValidatesStatuses(t *testing.T) {
	f := newOrderServiceFixture(t,
		seededOrder("ord_1", domain.OrderStatusPaid, domain.PaymentStatusPaid),
	)
	if _, err := f.svc.ListOrders(context.Background(), OrderListFilter{Statuses: []domain.OrderStatus{"bogus"}}); !errors.Is(err, ErrValidation) {
		t.Fatalf("expected ErrValidation, got %v", err)
	}
	page, err := f.svc.ListOrders(context.Background(), OrderListFilter{Statuses: []domain.OrderStatus{domain.OrderStatusPaid}})
	if err != nil {
		t.Fatalf("list: %v", err)
	}
	if len(page.Items) != 1 {
		t.Fatalf("expected one order, got %d", len(page.Items))
	}
}

func TestOrderServicePublishFailureIsLogged(t *testing.T) {
	f := newOrderServiceFixture(t, seededOrder("ord_1", domain.OrderStatusPaid, domain.PaymentStatusPaid))
	f.publisher.err = errors.New("pubsub down")

	if _, err := f.svc.TransitionStatus(context.Background(), OrderStatusTransitionCommand{OrderID: "ord_1", NewStatus: domain.OrderStatusInCreation}); err != nil {
		t.Fatalf("transition should not fail on publish error: %v", err)
	}
	if !f.logger.has("order.event.publish.failed") {
		t.Fatalf("expected publish failure logged")
	}
}

func TestOrderServiceGetByNumber(t *testing.T) {
	f := newOrderServiceFixture(t, seededOrder("ord_1", domain.OrderStatusPaid, domain.PaymentStatusPaid))

	order, err := f.svc.GetByNumber(context.Background(), " bf-20240501-0001 ")
	if err != nil {
		t.Fatalf("get by number: %v", err)
	}
	if order.ID != "ord_1" {
		t.Fatalf("unexpected order %s", order.ID)
	}
	if _, err := f.svc.GetByNumber(context.Background(), "BF-20240501-9999"); !errors.Is(err, ErrOrderNotFound) {
		t.Fatalf("expected ErrOrderNotFound, got %v", err)
	}
}

var _ repositories.OrderRepository = (*stubOrderRepo)(nil)

func TestOrderServiceRefundDoesNotStrandFulfilment(t *testing.T) {
	f := newOrderServiceFixture(t, seededOrder("ord_1", domain.OrderStatusReady, domain.PaymentStatusPartiallyRefunded))

	order, err := f.svc.TransitionStatus(context.Background(), OrderStatusTransitionCommand{OrderID: "ord_1", NewStatus: domain.OrderStatusOutForDelivery})
	if err != nil {
		t.Fatalf("ready -> out for delivery after partial refund: %v", err)
	}
	if order.CurrentStatus() != domain.OrderStatusOutForDelivery {
		t.Fatalf("unexpected status %s", order.CurrentStatus())
	}
	order, err = f.svc.TransitionStatus(context.Background(), OrderStatusTransitionCommand{OrderID: "ord_1", NewStatus: domain.OrderStatusDelivered})
	if err != nil {
		t.Fatalf("out for delivery -> delivered after partial refund: %v", err)
	}
	if order.CurrentStatus() != domain.OrderStatusDelivered || order.DeliveredAt == nil {
		t.Fatalf("expected delivered order, got %+v", order)
	}
}

func TestOrderServiceInCreationAdvancesWhateverThePaymentState(t *testing.T) {
	f := newOrderServiceFixture(t, seededOrder("ord_1", domain.OrderStatusInCreation, domain.PaymentStatusRefunded))

	if _, err := f.svc.TransitionStatus(context.Background(), OrderStatusTransitionCommand{OrderID: "ord_1", NewStatus: domain.OrderStatusReady}); err != nil {
		t.Fatalf("in creation -> ready: %v", err)
	}
}

func TestOrderServiceCreateRejectsIntentOwnedByAnotherCustomer(t *testing.T) {
	existing := seededOrder("ord_owner", domain.OrderStatusPaid, domain.PaymentStatusPaid)
	existing.UserID = "uid_owner"
	existing.PaymentIntentID = "pi_owned"
	f := newOrderServiceFixture(t, existing)

	_, err := f.svc.Create(context.Background(), CreateOrderCommand{Build: validBuildCommand(), PaymentIntentID: "pi_owned", UserID: "uid_other"})
	if !errors.Is(err, ErrOrderConflict) {
		t.Fatalf("expected ErrOrderConflict, got %v", err)
	}
	if _, err := f.svc.Create(context.Background(), CreateOrderCommand{Build: validBuildCommand(), PaymentIntentID: "pi_owned"}); !errors.Is(err, ErrOrderConflict) {
		t.Fatalf("expected guest lookup of a customer's intent to conflict, got %v", err)
	}

	result, err := f.svc.Create(context.Background(), CreateOrderCommand{Build: validBuildCommand(), PaymentIntentID: "pi_owned", UserID: "uid_owner"})
	if err != nil {
		t.Fatalf("owner retry: %v", err)
	}
	if result.Created || result.Order.ID != "ord_owner" {
		t.Fatalf("expected existing order for owner, got %+v", result)
	}
}

func TestOrderServiceCreateVerifiesIntentWithProvider(t *testing.T) {
	cases := []struct {
		name    string
		lookup  *stubIntentLookup
		userID  string
		wantErr error
	}{
		{
			name:   "matching intent",
			lookup: &stubIntentLookup{intent: payments.Intent{AmountMinor: 6498, Metadata: map[string]string{"user_id": "uid_1"}}},
			userID: "uid_1",
		},
		{
			name:   "guest intent without owner",
			lookup: &stubIntentLookup{intent: payments.Intent{AmountMinor: 6498}},
		},
		{
			name:    "amount differs from cart",
			lookup:  &stubIntentLookup{intent: payments.Intent{AmountMinor: 1000}},
			wantErr: ErrPricingMismatch,
		},
		{
			name:    "intent opened by someone else",
			lookup:  &stubIntentLookup{intent: payments.Intent{AmountMinor: 6498, Metadata: map[string]string{"user_id": "uid_owner"}}},
			userID:  "uid_1",
			wantErr: ErrOrderConflict,
		},
		{
			name:    "provider unreachable",
			lookup:  &stubIntentLookup{err: errors.New("timeout")},
			wantErr: ErrPaymentGateway,
		},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			f := newOrderServiceFixtureWithIntents(t, tc.lookup)

			result, err := f.svc.Create(context.Background(), CreateOrderCommand{Build: validBuildCommand(), PaymentIntentID: "pi_1", UserID: tc.userID})
			if tc.wantErr != nil {
				if !errors.Is(err, tc.wantErr) {
					t.Fatalf("expected %v, got %v", tc.wantErr, err)
				}
				if f.orders.count() != 0 {
					t.Fatalf("expected no order stored")
				}
				return
			}
			if err != nil {
				t.Fatalf("create: %v", err)
			}
			if !result.Created || result.Order.PaymentIntentID != "pi_1" {
				t.Fatalf("unexpected result %+v", result)
			}
			if tc.lookup.calls != 1 {
				t.Fatalf("expected one provider lookup, got %d", tc.lookup.calls)
			}
		})
	}
}

func TestOrderServiceCreateWithoutIntentSkipsProvider(t *testing.T) {
	lookup := &stubIntentLookup{err: errors.New("must not be called")}
	f := newOrderServiceFixtureWithIntents(t, lookup)

	if _, err := f.svc.Create(context.Background(), CreateOrderCommand{Build: validBuildCommand()}); err != nil {
		t.Fatalf("create: %v", err)
	}
	if lookup.calls != 0 {
		t.Fatalf("expected no provider lookup")
	}
}
