package domain_test

import (
	"fmt"
	"testing"
	"time"

	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/require"

	"github.com/boutique-fleurs/api/internal/domain"
)

func TestOrderCurrentStatusFollowsTimeline(t *testing.T) {
	t.Parallel()

	var order domain.Order
	require.Equal(t, domain.OrderStatus(""), order.CurrentStatus())

	t0 := time.Date(2024, 5, 1, 9, 0, 0, 0, time.UTC)
	order.PaymentStatus = domain.PaymentStatusPending
	order.AppendStatus(domain.OrderStatusPaid, t0, "", "system")
	require.Equal(t, domain.OrderStatusPaid, order.CurrentStatus())
	require.NotNil(t, order.ConfirmedAt)

	order.AppendPaymentChange(domain.PaymentStatusPaid, t0.Add(time.Minute), "paiement: paid", "stripe")
	require.Equal(t, domain.OrderStatusPaid, order.CurrentStatus())
	require.Equal(t, domain.PaymentStatusPaid, order.PaymentStatus)
	require.Len(t, order.Timeline, 2)
	require.Equal(t, domain.TimelineKindPayment, order.Timeline[1].Kind)

	order.AppendStatus(domain.OrderStatusInCreation, t0.Add(time.Hour), "", "admin")
	require.Equal(t, domain.OrderStatusInCreation, order.CurrentStatus())
	require.Equal(t, t0.Add(time.Hour), *order.PreparedAt)
}

func TestOrderTimestampsAreSetOnce(t *testing.T) {
	t.Parallel()

	first := time.Date(2024, 5, 1, 9, 0, 0, 0, time.UTC)
	var order domain.Order
	order.AppendStatus(domain.OrderStatusPaid, first, "", "")
	order.AppendStatus(domain.OrderStatusPaid, first.Add(time.Hour), "", "")

	require.Equal(t, first, *order.ConfirmedAt)
	require.Len(t, order.Timeline, 2)
}

func TestOrderAppliedPaymentEventsBounded(t *testing.T) {
	t.Parallel()

	var order domain.Order
	for i := 0; i < domain.MaxAppliedPaymentEvents+5; i++ {
		order.MarkPaymentEventApplied(fmt.Sprintf("evt_%d", i))
	}
	order.MarkPaymentEventApplied("evt_54")

	require.Len(t, order.AppliedPaymentEvents, domain.MaxAppliedPaymentEvents)
	require.False(t, order.HasAppliedPaymentEvent("evt_0"))
	require.True(t, order.HasAppliedPaymentEvent("evt_54"))
	require.False(t, order.HasAppliedPaymentEvent(""))
}

func TestItemsTotal(t *testing.T) {
	t.Parallel()

	items := []domain.OrderItem{
		{UnitPrice: decimal.RequireFromString("19.99"), Quantity: 2},
		{UnitPrice: decimal.RequireFromString("5.01"), Quantity: 1},
	}
	require.Equal(t, "44.99", domain.FormatMoney(domain.ItemsTotal(items)))
	require.Equal(t, "39.98", domain.FormatMoney(items[0].LineTotal()))
}

func TestOrderStatusHelpers(t *testing.T) {
	t.Parallel()

	require.True(t, domain.OrderStatusDelivered.Terminal())
	require.True(t, domain.OrderStatusCancelled.Terminal())
	require.False(t, domain.OrderStatusReady.Terminal())
	require.True(t, domain.OrderStatus("en_creation").Valid())
	require.False(t, domain.OrderStatus("shipped").Valid())
}
