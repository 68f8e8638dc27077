package services

import (
	"context"
	"errors"
	"fmt"
	"strconv"
	"strings"
	"unicode"

	"github.com/shopspring/decimal"
	"golang.org/x/text/currency"
	"golang.org/x/text/language"
	"golang.org/x/text/message"
	"golang.org/x/text/number"

	domain "github.com/boutique-fleurs/api/internal/domain"
	"github.com/boutique-fleurs/api/internal/repositories"
)

const invoiceNumberPrefix = "FA-"

var defaultVATRate = decimal.RequireFromString("0.20")

// InvoiceServiceDeps bundles collaborators required by the invoice projection.
type InvoiceServiceDeps struct {
	Orders            repositories.OrderRepository
	Locale            language.Tag
	VATRate           decimal.Decimal
	OrderNumberPrefix string
}

type invoiceService struct {
	orders  repositories.OrderRepository
	locale  language.Tag
	vatRate decimal.Decimal
	prefix  string
}

// NewInvoiceService constructs the read-only invoice projection.
func NewInvoiceService(deps InvoiceServiceDeps) (InvoiceService, error) {
	if deps.Orders == nil {
		return nil, errors.New("invoice service: order repository is required")
	}
	locale := deps.Locale
	if locale == language.Und {
		locale = language.French
	}
	rate := deps.VATRate
	if rate.IsZero() {
		rate = defaultVATRate
	}
	if rate.IsNegative() || rate.GreaterThanOrEqual(decimal.NewFromInt(1)) {
		return nil, fmt.Errorf("invoice service: vat rate %s out of range", rate)
	}
	prefix := strings.ToUpper(strings.TrimSpace(deps.OrderNumberPrefix))
	if prefix == "" {
		prefix = defaultOrderNumberPrefix
	}
	return &invoiceService{
		orders:  deps.Orders,
		locale:  locale,
		vatRate: rate,
		prefix:  prefix + "-",
	}, nil
}

func (s *invoiceService) GetInvoice(ctx context.Context, orderID string) (Invoice, error) {
	orderID = strings.TrimSpace(orderID)
	if orderID == "" {
		return Invoice{}, fmt.Errorf("%w: order id is required", ErrValidation)
	}
	order, err := s.orders.FindByID(ctx, orderID)
	if err != nil {
		return Invoice{}, mapRepositoryError(err, ErrOrderNotFound)
	}
	return s.Project(order)
}

// Project derives the invoice of a delivered order. Prices are VAT-inclusive; the VAT line is
// informational.
func (s *invoiceService) Project(order Order) (Invoice, error) {
	if order.CurrentStatus() != domain.OrderStatusDelivered {
		return Invoice{}, fmt.Errorf("%w: order %s is %s", ErrInvoiceNotAvailable, order.OrderNumber, order.CurrentStatus())
	}
	unit, err := currency.ParseISO(order.Currency)
	if err != nil {
		return Invoice{}, fmt.Errorf("invoice: order %s currency %q: %w", order.ID, order.Currency, err)
	}
	scale, _ := currency.Standard.Rounding(unit)
	format := amountFormatter(message.NewPrinter(s.locale), unit, scale)

	total := domain.RoundMoney(order.TotalAmount)
	vat := domain.RoundMoney(total.Mul(s.vatRate))
	net := total.Sub(vat)

	invoice := Invoice{
		InvoiceNumber: s.invoiceNumber(order.OrderNumber),
		OrderID:       order.ID,
		OrderNumber:   order.OrderNumber,
		Customer:      order.CustomerInfo,
		Currency:      unit.String(),
		TotalAmount:   total,
		VATRate:       s.vatRate,
		VATAmount:     vat,
		NetAmount:     net,
		TotalText:     format(total),
		VATText:       format(vat),
		NetText:       format(net),
		Lines:         make([]domain.InvoiceLine, 0, len(order.Items)),
	}
	if order.DeliveredAt != nil {
		invoice.IssuedAt = *order.DeliveredAt
	}
	for _, item := range order.Items {
		description := item.Name
		if item.VariantName != "" {
			description += " (" + item.VariantName + ")"
		}
		lineTotal := item.LineTotal()
		invoice.Lines = append(invoice.Lines, domain.InvoiceLine{
			Description:   description,
			Quantity:      item.Quantity,
			UnitPrice:     item.UnitPrice,
			LineTotal:     lineTotal,
			UnitPriceText: format(item.UnitPrice),
			LineTotalText: format(lineTotal),
		})
	}
	return invoice, nil
}

func (s *invoiceService) invoiceNumber(orderNumber string) string {
	return invoiceNumberPrefix + strings.TrimPrefix(orderNumber, s.prefix)
}

// amountFormatter renders amounts from their exact decimal digits. Only the integer part goes
// through the locale printer, for digit grouping.
func amountFormatter(p *message.Printer, unit currency.Unit, scale int) func(decimal.Decimal) string {
	separator := decimalSeparator(p)
	return func(amount decimal.Decimal) string {
		rounded := amount.Round(int32(scale))
		whole, frac, _ := strings.Cut(rounded.Abs().StringFixed(int32(scale)), ".")
		units, _ := strconv.ParseInt(whole, 10, 64)
		text := p.Sprint(number.Decimal(units))
		if frac != "" {
			text += separator + frac
		}
		if rounded.IsNegative() {
			text = "-" + text
		}
		return text + " " + unit.String()
	}
}

func decimalSeparator(p *message.Printer) string {
	sample := p.Sprint(number.Decimal(1.5, number.Scale(1)))
	if sep := strings.TrimFunc(sample, unicode.IsDigit); sep != "" {
		return sep
	}
	return "."
}
