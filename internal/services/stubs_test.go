package services

import (
	"context"
	"errors"
	"fmt"
	"slices"
	"sort"
	"sync"
	"time"

	domain "github.com/boutique-fleurs/api/internal/domain"
	"github.com/boutique-fleurs/api/internal/repositories"
)

type repoErr struct {
	err         error
	notFound    bool
	conflict    bool
	unavailable bool
}

func (e *repoErr) Error() string       { return e.err.Error() }
func (e *repoErr) Unwrap() error       { return e.err }
func (e *repoErr) IsNotFound() bool    { return e.notFound }
func (e *repoErr) IsConflict() bool    { return e.conflict }
func (e *repoErr) IsUnavailable() bool { return e.unavailable }

func notFoundErr(format string, args ...any) error {
	return &repoErr{err: fmt.Errorf(format, args...), notFound: true}
}

type stubProductRepo struct {
	mu       sync.Mutex
	products map[string]Product
	upserts  int
	findFn   func(ctx context.Context, productID string) (Product, error)
}

func newStubProductRepo(products ...Product) *stubProductRepo {
	repo := &stubProductRepo{products: make(map[string]Product)}
	for _, p := range products {
		repo.products[p.ID] = p
	}
	return repo
}

func (r *stubProductRepo) Upsert(_ context.Context, product Product) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.upserts++
	r.products[product.ID] = product
	return nil
}

func (r *stubProductRepo) FindByID(ctx context.Context, productID string) (Product, error) {
	if r.findFn != nil {
		return r.findFn(ctx, productID)
	}
	r.mu.Lock()
	defer r.mu.Unlock()
	product, ok := r.products[productID]
	if !ok {
		return Product{}, notFoundErr("product %s not found", productID)
	}
	return product, nil
}

func (r *stubProductRepo) List(_ context.Context, filter ProductListFilter) (domain.CursorPage[Product], error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	var page domain.CursorPage[Product]
	for _, p := range r.products {
		if filter.ActiveOnly && !p.IsActive {
			continue
		}
		if filter.Category != "" && p.Category != filter.Category {
			continue
		}
		page.Items = append(page.Items, p)
	}
	sort.Slice(page.Items, func(i, j int) bool { return page.Items[i].ID < page.Items[j].ID })
	return page, nil
}

// stubOrderRepo mimics the Firestore repository: unique order numbers and intent ids, and
// Mutate that discards edits when the mutation fails.
type stubOrderRepo struct {
	mu       sync.Mutex
	orders   map[string]Order
	inserts  int
	insertFn func(ctx context.Context, order Order) error
}

func newStubOrderRepo(orders ...Order) *stubOrderRepo {
	repo := &stubOrderRepo{orders: make(map[string]Order)}
	for _, o := range orders {
		repo.orders[o.ID] = o
	}
	return repo
}

func (r *stubOrderRepo) Insert(ctx context.Context, order Order) error {
	if r.insertFn != nil {
		if err := r.insertFn(ctx, order); err != nil {
			return err
		}
	}
	r.mu.Lock()
	defer r.mu.Unlock()
	r.inserts++
	if _, ok := r.orders[order.ID]; ok {
		return &repositories.OrderConflictError{Field: repositories.OrderConflictID, Value: order.ID}
	}
	for _, existing := range r.orders {
		if existing.OrderNumber == order.OrderNumber {
			return &repositories.OrderConflictError{Field: repositories.OrderConflictNumber, Value: order.OrderNumber}
		}
		if order.PaymentIntentID != "" && existing.PaymentIntentID == order.PaymentIntentID {
			return &repositories.OrderConflictError{Field: repositories.OrderConflictPaymentIntentID, Value: order.PaymentIntentID}
		}
	}
	r.orders[order.ID] = cloneOrder(order)
	return nil
}

func (r *stubOrderRepo) FindByID(_ context.Context, orderID string) (Order, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	order, ok := r.orders[orderID]
	if !ok {
		return Order{}, notFoundErr("order %s not found", orderID)
	}
	return cloneOrder(order), nil
}

func (r *stubOrderRepo) FindByNumber(_ context.Context, orderNumber string) (Order, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	for _, order := range r.orders {
		if order.OrderNumber == orderNumber {
			return cloneOrder(order), nil
		}
	}
	return Order{}, notFoundErr("order number %s not found", orderNumber)
}

func (r *stubOrderRepo) FindByPaymentIntent(_ context.Context, paymentIntentID string) (Order, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	for _, order := range r.orders {
		if paymentIntentID != "" && order.PaymentIntentID == paymentIntentID {
			return cloneOrder(order), nil
		}
	}
	return Order{}, notFoundErr("intent %s not found", paymentIntentID)
}

func (r *stubOrderRepo) Mutate(_ context.Context, orderID string, fn repositories.OrderMutation) (Order, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	stored, ok := r.orders[orderID]
	if !ok {
		return Order{}, notFoundErr("order %s not found", orderID)
	}
	working := cloneOrder(stored)
	if err := fn(&working); err != nil {
		if errors.Is(err, repositories.ErrMutationNoop) {
			return cloneOrder(stored), nil
		}
		return Order{}, err
	}
	r.orders[orderID] = cloneOrder(working)
	return working, nil
}

func (r *stubOrderRepo) List(_ context.Context, filter OrderListFilter) (domain.CursorPage[Order], error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	var page domain.CursorPage[Order]
	for _, order := range r.orders {
		if len(filter.Statuses) > 0 && !slices.Contains(filter.Statuses, order.CurrentStatus()) {
			continue
		}
		page.Items = append(page.Items, cloneOrder(order))
	}
	sort.Slice(page.Items, func(i, j int) bool { return page.Items[i].CreatedAt.After(page.Items[j].CreatedAt) })
	return page, nil
}

func (r *stubOrderRepo) get(orderID string) Order {
	r.mu.Lock()
	defer r.mu.Unlock()
	return cloneOrder(r.orders[orderID])
}

func (r *stubOrderRepo) count() int {
	r.mu.Lock()
	defer r.mu.Unlock()
	return len(r.orders)
}

func cloneOrder(o Order) Order {
	o.Items = slices.Clone(o.Items)
	o.Timeline = slices.Clone(o.Timeline)
	o.AppliedPaymentEvents = slices.Clone(o.AppliedPaymentEvents)
	return o
}

type stubCounterRepo struct {
	mu     sync.Mutex
	values map[string]int64
	nextFn func(ctx context.Context, counterID string, cfg repositories.CounterConfig) (int64, error)
}

func newStubCounterRepo() *stubCounterRepo {
	return &stubCounterRepo{values: make(map[string]int64)}
}

func (r *stubCounterRepo) Next(ctx context.Context, counterID string, cfg repositories.CounterConfig) (int64, error) {
	if r.nextFn != nil {
		return r.nextFn(ctx, counterID, cfg)
	}
	r.mu.Lock()
	defer r.mu.Unlock()
	next := r.values[counterID] + cfg.Step
	if cfg.MaxValue != nil && next > *cfg.MaxValue {
		return 0, repositories.NewCounterError(repositories.CounterErrorExhausted, "counter exhausted", nil)
	}
	r.values[counterID] = next
	return next, nil
}

type stubPaymentEventRepo struct {
	mu      sync.Mutex
	records []PaymentEventRecord
}

func (r *stubPaymentEventRepo) Record(_ context.Context, record PaymentEventRecord) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.records = append(r.records, record)
	return nil
}

func (r *stubPaymentEventRepo) ListByPaymentIntent(_ context.Context, paymentIntentID string) ([]PaymentEventRecord, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	var out []PaymentEventRecord
	for _, rec := range r.records {
		if rec.PaymentIntentID == paymentIntentID {
			out = append(out, rec)
		}
	}
	return out, nil
}

func (r *stubPaymentEventRepo) outcomes() []domain.PaymentEventOutcome {
	r.mu.Lock()
	defer r.mu.Unlock()
	out := make([]domain.PaymentEventOutcome, 0, len(r.records))
	for _, rec := range r.records {
		out = append(out, rec.Outcome)
	}
	return out
}

type captureEventPublisher struct {
	mu     sync.Mutex
	events []OrderEvent
	err    error
}

func (p *captureEventPublisher) PublishOrderEvent(_ context.Context, event OrderEvent) error {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.events = append(p.events, event)
	return p.err
}

func (p *captureEventPublisher) published() []OrderEvent {
	p.mu.Lock()
	defer p.mu.Unlock()
	return slices.Clone(p.events)
}

func fixedClock(t time.Time) func() time.Time {
	return func() time.Time { return t }
}

type logEntry struct {
	event  string
	fields map[string]any
}

type captureLogger struct {
	mu      sync.Mutex
	entries []logEntry
}

func (l *captureLogger) log(_ context.Context, event string, fields map[string]any) {
	l.mu.Lock()
	defer l.mu.Unlock()
	l.entries = append(l.entries, logEntry{event: event, fields: fields})
}

func (l *captureLogger) has(event string) bool {
	l.mu.Lock()
	defer l.mu.Unlock()
	for _, e := range l.entries {
		if e.event == event {
			return true
		}
	}
	return false
}
