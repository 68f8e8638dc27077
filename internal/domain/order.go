package domain

import (
	"time"

	"github.com/shopspring/decimal"
)

// MaxAppliedPaymentEvents bounds the per-order memory of applied provider event ids.
const MaxAppliedPaymentEvents = 50

// CurrentStatus is the status of the last timeline entry, or "" for an order with no history.
func (o *Order) CurrentStatus() OrderStatus {
	if o == nil || len(o.Timeline) == 0 {
		return ""
	}
	return o.Timeline[len(o.Timeline)-1].Status
}

// AppendStatus records a fulfilment transition and stamps the matching first-occurrence
// timestamp. Callers validate the edge beforehand.
func (o *Order) AppendStatus(status OrderStatus, at time.Time, note, actor string) {
	o.Timeline = append(o.Timeline, TimelineEntry{
		Status:        status,
		PaymentStatus: o.PaymentStatus,
		Kind:          TimelineKindStatus,
		Timestamp:     at,
		Note:          note,
		Actor:         actor,
	})
	switch status {
	case OrderStatusPaid:
		setOnce(&o.ConfirmedAt, at)
	case OrderStatusInCreation:
		setOnce(&o.PreparedAt, at)
	case OrderStatusReady:
		setOnce(&o.ReadyAt, at)
	case OrderStatusOutForDelivery:
		setOnce(&o.ShippedAt, at)
	case OrderStatusDelivered:
		setOnce(&o.DeliveredAt, at)
	case OrderStatusCancelled:
		setOnce(&o.CancelledAt, at)
	}
	o.UpdatedAt = at
}

// AppendPaymentChange records a payment status change. The entry repeats the current
// order status so the timeline keeps defining it.
func (o *Order) AppendPaymentChange(status PaymentStatus, at time.Time, note, actor string) {
	o.PaymentStatus = status
	if status == PaymentStatusPaid {
		setOnce(&o.PaidAt, at)
	}
	o.Timeline = append(o.Timeline, TimelineEntry{
		Status:        o.CurrentStatus(),
		PaymentStatus: status,
		Kind:          TimelineKindPayment,
		Timestamp:     at,
		Note:          note,
		Actor:         actor,
	})
	o.UpdatedAt = at
}

// HasAppliedPaymentEvent reports whether eventID was already applied to the order.
func (o *Order) HasAppliedPaymentEvent(eventID string) bool {
	if eventID == "" {
		return false
	}
	for _, id := range o.AppliedPaymentEvents {
		if id == eventID {
			return true
		}
	}
	return false
}

// MarkPaymentEventApplied remembers eventID, evicting the oldest id past the bound.
func (o *Order) MarkPaymentEventApplied(eventID string) {
	if eventID == "" || o.HasAppliedPaymentEvent(eventID) {
		return
	}
	o.AppliedPaymentEvents = append(o.AppliedPaymentEvents, eventID)
	if overflow := len(o.AppliedPaymentEvents) - MaxAppliedPaymentEvents; overflow > 0 {
		o.AppliedPaymentEvents = append([]string(nil), o.AppliedPaymentEvents[overflow:]...)
	}
}

// ItemsTotal sums the rounded line totals.
func ItemsTotal(items []OrderItem) decimal.Decimal {
	total := decimal.Zero
	for _, item := range items {
		total = total.Add(item.LineTotal())
	}
	return RoundMoney(total)
}

func setOnce(field **time.Time, at time.Time) {
	if *field != nil {
		return
	}
	t := at
	*field = &t
}
