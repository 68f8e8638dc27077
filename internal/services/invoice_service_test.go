package services

import (
	"context"
	"errors"
	"strings"
	"testing"
	"unicode"

	"github.com/shopspring/decimal"
	"golang.org/x/text/currency"
	"golang.org/x/text/language"
	"golang.org/x/text/message"

	domain "github.com/boutique-fleurs/api/internal/domain"
)

func deliveredOrder() Order {
	order := seededOrder("ord_1", domain.OrderStatusDelivered, domain.PaymentStatusPaid)
	order.Items = []OrderItem{
		{ProductID: "prod_1", Name: "Bouquet du jour", UnitPrice: decimal.RequireFromString("19.99"), Quantity: 2},
		{ProductID: "prod_2", Name: "Roses", VariantName: "Petit", UnitPrice: decimal.RequireFromString("25"), Quantity: 1},
	}
	order.TotalAmount = decimal.RequireFromString("64.98")
	return order
}

func TestInvoiceServiceProjectsDeliveredOrder(t *testing.T) {
	order := deliveredOrder()
	svc, err := NewInvoiceService(InvoiceServiceDeps{Orders: newStubOrderRepo(order)})
	if err != nil {
		t.Fatalf("new invoice service: %v", err)
	}

	invoice, err := svc.GetInvoice(context.Background(), "ord_1")
	if err != nil {
		t.Fatalf("get invoice: %v", err)
	}
	if invoice.InvoiceNumber != "FA-20240501-0001" {
		t.Fatalf("unexpected invoice number %s", invoice.InvoiceNumber)
	}
	if !invoice.IssuedAt.Equal(*order.DeliveredAt) {
		t.Fatalf("expected issue date at delivery, got %s", invoice.IssuedAt)
	}
	if invoice.VATAmount.String() != "13" || invoice.NetAmount.String() != "51.98" {
		t.Fatalf("unexpected vat %s / net %s", invoice.VATAmount, invoice.NetAmount)
	}
	if invoice.TotalText != "64,98 EUR" || invoice.VATText != "13,00 EUR" {
		t.Fatalf("unexpected localized amounts %q %q", invoice.TotalText, invoice.VATText)
	}
	if len(invoice.Lines) != 2 || invoice.Lines[1].Description != "Roses (Petit)" || invoice.Lines[0].LineTotalText != "39,98 EUR" {
		t.Fatalf("unexpected lines %+v", invoice.Lines)
	}
}

func TestInvoiceServiceRoundsVAT(t *testing.T) {
	order := deliveredOrder()
	order.TotalAmount = decimal.RequireFromString("44.99")
	svc, _ := NewInvoiceService(InvoiceServiceDeps{Orders: newStubOrderRepo()})

	invoice, err := svc.Project(order)
	if err != nil {
		t.Fatalf("project: %v", err)
	}
	if invoice.VATAmount.String() != "9" {
		t.Fatalf("expected vat 9.00, got %s", invoice.VATAmount)
	}
}

func TestInvoiceServiceRequiresDelivery(t *testing.T) {
	statuses := []domain.OrderStatus{
		domain.OrderStatusPaid,
		domain.OrderStatusInCreation,
		domain.OrderStatusReady,
		domain.OrderStatusOutForDelivery,
		domain.OrderStatusCancelled,
	}
	svc, _ := NewInvoiceService(InvoiceServiceDeps{Orders: newStubOrderRepo()})
	for _, status := range statuses {
		if _, err := svc.Project(seededOrder("ord_1", status, domain.PaymentStatusPaid)); !errors.Is(err, ErrInvoiceNotAvailable) {
			t.Fatalf("%s: expected ErrInvoiceNotAvailable, got %v", status, err)
		}
	}
}

func TestInvoiceServiceNotFound(t *testing.T) {
	svc, _ := NewInvoiceService(InvoiceServiceDeps{Orders: newStubOrderRepo()})
	if _, err := svc.GetInvoice(context.Background(), "missing"); !errors.Is(err, ErrOrderNotFound) {
		t.Fatalf("expected ErrOrderNotFound, got %v", err)
	}
}

func TestNewInvoiceServiceRejectsBadRate(t *testing.T) {
	if _, err := NewInvoiceService(InvoiceServiceDeps{Orders: newStubOrderRepo(), VATRate: decimal.RequireFromString("1.5")}); err == nil {
		t.Fatalf("expected rate validation error")
	}
}

func TestAmountFormatterKeepsExactCents(t *testing.T) {
	format := amountFormatter(message.NewPrinter(language.French), currency.EUR, 2)

	// Beyond float64 precision: the cents must survive formatting.
	text := format(decimal.RequireFromString("90071992547409.93"))
	if !strings.HasSuffix(text, ",93 EUR") {
		t.Fatalf("unexpected cents in %q", text)
	}
	digits := strings.Map(func(r rune) rune {
		if unicode.IsDigit(r) {
			return r
		}
		return -1
	}, text)
	if digits != "9007199254740993" {
		t.Fatalf("unexpected digits %q in %q", digits, text)
	}

	if got := format(decimal.RequireFromString("12.345")); got != "12,35 EUR" {
		t.Fatalf("expected half-away rounding, got %q", got)
	}
	if got := format(decimal.RequireFromString("-3.5")); got != "-3,50 EUR" {
		t.Fatalf("unexpected negative formatting %q", got)
	}
	if got := format(decimal.Zero); got != "0,00 EUR" {
		t.Fatalf("unexpected zero formatting %q", got)
	}
}
