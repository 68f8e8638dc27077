package handlers

import (
	"time"

	"github.com/shopspring/decimal"

	domain "github.com/boutique-fleurs/api/internal/domain"
	"github.com/boutique-fleurs/api/internal/services"
)

type cartLineRequest struct {
	ProductID   string           `json:"productId"`
	Quantity    int              `json:"quantity"`
	VariantID   string           `json:"variantId,omitempty"`
	CustomPrice *decimal.Decimal `json:"customPrice,omitempty"`
}

type cartRequest struct {
	Items         []cartLineRequest   `json:"items"`
	CustomerInfo  domain.CustomerInfo `json:"customerInfo"`
	DeliveryInfo  domain.DeliveryInfo `json:"deliveryInfo"`
	IsGift        bool                `json:"isGift,omitempty"`
	GiftInfo      *domain.GiftInfo    `json:"giftInfo,omitempty"`
	DeclaredTotal decimal.Decimal     `json:"declaredTotal"`
}

func (req cartRequest) toCommand() services.BuildOrderCommand {
	lines := make([]services.CartLine, 0, len(req.Items))
	for _, item := range req.Items {
		lines = append(lines, services.CartLine{
			ProductID:   item.ProductID,
			Quantity:    item.Quantity,
			VariantID:   item.VariantID,
			CustomPrice: item.CustomPrice,
		})
	}
	return services.BuildOrderCommand{
		Lines:         lines,
		DeclaredTotal: req.DeclaredTotal,
		CustomerInfo:  req.CustomerInfo,
		DeliveryInfo:  req.DeliveryInfo,
		IsGift:        req.IsGift,
		GiftInfo:      req.GiftInfo,
	}
}

type orderItemPayload struct {
	ProductID   string `json:"productId"`
	Name        string `json:"name"`
	VariantName string `json:"variantName,omitempty"`
	UnitPrice   string `json:"unitPrice"`
	Quantity    int    `json:"quantity"`
	LineTotal   string `json:"lineTotal"`
	ImageURL    string `json:"imageUrl,omitempty"`
}

type timelinePayload struct {
	Status        string `json:"status"`
	PaymentStatus string `json:"paymentStatus,omitempty"`
	Kind          string `json:"kind"`
	Timestamp     string `json:"timestamp"`
	Note          string `json:"note,omitempty"`
	Actor         string `json:"actor,omitempty"`
}

type orderPayload struct {
	ID              string              `json:"id"`
	OrderNumber     string              `json:"orderNumber"`
	Status          string              `json:"status"`
	PaymentStatus   string              `json:"paymentStatus"`
	TotalAmount     string              `json:"totalAmount"`
	RefundedAmount  string              `json:"refundedAmount,omitempty"`
	Currency        string              `json:"currency"`
	Items           []orderItemPayload  `json:"items"`
	CustomerInfo    domain.CustomerInfo `json:"customerInfo"`
	DeliveryInfo    domain.DeliveryInfo `json:"deliveryInfo"`
	IsGift          bool                `json:"isGift"`
	GiftInfo        *domain.GiftInfo    `json:"giftInfo,omitempty"`
	PaymentIntentID string              `json:"paymentIntentId,omitempty"`
	Timeline        []timelinePayload   `json:"timeline"`
	CreatedAt       string              `json:"createdAt"`
	UpdatedAt       string              `json:"updatedAt,omitempty"`
	PaidAt          string              `json:"paidAt,omitempty"`
	DeliveredAt     string              `json:"deliveredAt,omitempty"`
	CancelledAt     string              `json:"cancelledAt,omitempty"`
}

type orderSummaryPayload struct {
	ID            string `json:"id"`
	OrderNumber   string `json:"orderNumber"`
	Status        string `json:"status"`
	PaymentStatus string `json:"paymentStatus"`
	TotalAmount   string `json:"totalAmount"`
	CustomerName  string `json:"customerName"`
	DeliveryDate  string `json:"deliveryDate"`
	CreatedAt     string `json:"createdAt"`
}

type orderListResponse struct {
	Items         []orderSummaryPayload `json:"items"`
	NextPageToken string                `json:"nextPageToken,omitempty"`
}

type paymentEventPayload struct {
	EventID         string `json:"eventId"`
	Provider        string `json:"provider"`
	Type            string `json:"type"`
	PaymentIntentID string `json:"paymentIntentId"`
	Status          string `json:"status,omitempty"`
	Outcome         string `json:"outcome"`
	Detail          string `json:"detail,omitempty"`
	ReceivedAt      string `json:"receivedAt"`
}

type paymentHistoryResponse struct {
	Items []paymentEventPayload `json:"items"`
}

func buildPaymentEventPayload(record services.PaymentEventRecord) paymentEventPayload {
	return paymentEventPayload{
		EventID:         record.EventID,
		Provider:        record.Provider,
		Type:            record.Type,
		PaymentIntentID: record.PaymentIntentID,
		Status:          string(record.Status),
		Outcome:         string(record.Outcome),
		Detail:          record.Detail,
		ReceivedAt:      formatTime(record.ReceivedAt),
	}
}

func buildOrderPayload(order services.Order) orderPayload {
	payload := orderPayload{
		ID:              order.ID,
		OrderNumber:     order.OrderNumber,
		Status:          string(order.CurrentStatus()),
		PaymentStatus:   string(order.PaymentStatus),
		TotalAmount:     domain.FormatMoney(order.TotalAmount),
		Currency:        order.Currency,
		Items:           make([]orderItemPayload, 0, len(order.Items)),
		CustomerInfo:    order.CustomerInfo,
		DeliveryInfo:    order.DeliveryInfo,
		IsGift:          order.IsGift,
		GiftInfo:        order.GiftInfo,
		PaymentIntentID: order.PaymentIntentID,
		Timeline:        make([]timelinePayload, 0, len(order.Timeline)),
		CreatedAt:       formatTime(order.CreatedAt),
		UpdatedAt:       formatTime(order.UpdatedAt),
		PaidAt:          formatTimePtr(order.PaidAt),
		DeliveredAt:     formatTimePtr(order.DeliveredAt),
		CancelledAt:     formatTimePtr(order.CancelledAt),
	}
	if order.RefundedAmount.IsPositive() {
		payload.RefundedAmount = domain.FormatMoney(order.RefundedAmount)
	}
	for _, item := range order.Items {
		payload.Items = append(payload.Items, orderItemPayload{
			ProductID:   item.ProductID,
			Name:        item.Name,
			VariantName: item.VariantName,
			UnitPrice:   domain.FormatMoney(item.UnitPrice),
			Quantity:    item.Quantity,
			LineTotal:   domain.FormatMoney(item.LineTotal()),
			ImageURL:    item.ImageURL,
		})
	}
	for _, entry := range order.Timeline {
		payload.Timeline = append(payload.Timeline, timelinePayload{
			Status:        string(entry.Status),
			PaymentStatus: string(entry.PaymentStatus),
			Kind:          string(entry.Kind),
			Timestamp:     formatTime(entry.Timestamp),
			Note:          entry.Note,
			Actor:         entry.Actor,
		})
	}
	return payload
}

func buildOrderSummary(order services.Order) orderSummaryPayload {
	return orderSummaryPayload{
		ID:            order.ID,
		OrderNumber:   order.OrderNumber,
		Status:        string(order.CurrentStatus()),
		PaymentStatus: string(order.PaymentStatus),
		TotalAmount:   domain.FormatMoney(order.TotalAmount),
		CustomerName:  order.CustomerInfo.Name,
		DeliveryDate:  order.DeliveryInfo.Date,
		CreatedAt:     formatTime(order.CreatedAt),
	}
}

type variantPayload struct {
	ID       string `json:"id"`
	Name     string `json:"name"`
	Price    string `json:"price"`
	IsActive bool   `json:"isActive"`
	Order    int    `json:"order"`
}

type productPayload struct {
	ID          string           `json:"id"`
	Name        string           `json:"name"`
	Description string           `json:"description,omitempty"`
	ImageURL    string           `json:"imageUrl,omitempty"`
	Category    string           `json:"category,omitempty"`
	PricingType string           `json:"pricingType"`
	Price       string           `json:"price,omitempty"`
	Variants    []variantPayload `json:"variants,omitempty"`
	MinPrice    string           `json:"minPrice,omitempty"`
	MaxPrice    string           `json:"maxPrice,omitempty"`
	IsActive    bool             `json:"isActive"`
	CreatedAt   string           `json:"createdAt,omitempty"`
	UpdatedAt   string           `json:"updatedAt,omitempty"`
}

type productListResponse struct {
	Items         []productPayload `json:"items"`
	NextPageToken string           `json:"nextPageToken,omitempty"`
}

// buildProductPayload renders a product. Public callers never see inactive variants.
func buildProductPayload(product services.Product, includeInactive bool) productPayload {
	payload := productPayload{
		ID:          product.ID,
		Name:        product.Name,
		Description: product.Description,
		ImageURL:    product.ImageURL,
		Category:    product.Category,
		IsActive:    product.IsActive,
		CreatedAt:   formatTime(product.CreatedAt),
		UpdatedAt:   formatTime(product.UpdatedAt),
	}
	switch pricing := product.Pricing.(type) {
	case domain.FixedPricing:
		payload.PricingType = string(pricing.Type())
		payload.Price = domain.FormatMoney(pricing.Price())
	case domain.VariantPricing:
		payload.PricingType = string(pricing.Type())
		for _, v := range pricing.Variants() {
			if !v.IsActive && !includeInactive {
				continue
			}
			payload.Variants = append(payload.Variants, variantPayload{
				ID:       v.ID,
				Name:     v.Name,
				Price:    domain.FormatMoney(v.Price),
				IsActive: v.IsActive,
				Order:    v.Order,
			})
		}
	case domain.CustomRangePricing:
		payload.PricingType = string(pricing.Type())
		payload.MinPrice = domain.FormatMoney(pricing.Min())
		payload.MaxPrice = domain.FormatMoney(pricing.Max())
	}
	return payload
}

type invoiceLinePayload struct {
	Description string `json:"description"`
	Quantity    int    `json:"quantity"`
	UnitPrice   string `json:"unitPrice"`
	LineTotal   string `json:"lineTotal"`
}

type invoicePayload struct {
	InvoiceNumber string               `json:"invoiceNumber"`
	OrderNumber   string               `json:"orderNumber"`
	IssuedAt      string               `json:"issuedAt"`
	Customer      domain.CustomerInfo  `json:"customer"`
	Lines         []invoiceLinePayload `json:"lines"`
	Currency      string               `json:"currency"`
	TotalAmount   string               `json:"totalAmount"`
	VATRate       string               `json:"vatRate"`
	VATAmount     string               `json:"vatAmount"`
	NetAmount     string               `json:"netAmount"`
}

func buildInvoicePayload(invoice services.Invoice) invoicePayload {
	payload := invoicePayload{
		InvoiceNumber: invoice.InvoiceNumber,
		OrderNumber:   invoice.OrderNumber,
		IssuedAt:      formatTime(invoice.IssuedAt),
		Customer:      invoice.Customer,
		Lines:         make([]invoiceLinePayload, 0, len(invoice.Lines)),
		Currency:      invoice.Currency,
		TotalAmount:   invoice.TotalText,
		VATRate:       invoice.VATRate.String(),
		VATAmount:     invoice.VATText,
		NetAmount:     invoice.NetText,
	}
	for _, line := range invoice.Lines {
		payload.Lines = append(payload.Lines, invoiceLinePayload{
			Description: line.Description,
			Quantity:    line.Quantity,
			UnitPrice:   line.UnitPriceText,
			LineTotal:   line.LineTotalText,
		})
	}
	return payload
}

func formatTime(t time.Time) string {
	if t.IsZero() {
		return ""
	}
	return t.UTC().Format(time.RFC3339)
}

func formatTimePtr(t *time.Time) string {
	if t == nil {
		return ""
	}
	return formatTime(*t)
}
