package services

import (
	"context"
	"errors"
	"fmt"
	"reflect"
	"strings"
	"time"

	"github.com/go-playground/validator/v10"

	domain "github.com/boutique-fleurs/api/internal/domain"
	"github.com/boutique-fleurs/api/internal/platform/textutil"
)

const (
	minLineQuantity = 1
	maxLineQuantity = 50
	maxCartLines    = 50

	deliveryDateLayout = "2006-01-02"
	defaultCurrency    = "EUR"
)

var inputValidator = newInputValidator()

func newInputValidator() *validator.Validate {
	v := validator.New(validator.WithRequiredStructEnabled())
	v.RegisterTagNameFunc(func(fld reflect.StructField) string {
		name := strings.SplitN(fld.Tag.Get("json"), ",", 2)[0]
		if name == "-" {
			return ""
		}
		return name
	})
	return v
}

// OrderBuilderDeps bundles collaborators for the order builder.
type OrderBuilderDeps struct {
	Catalog  CatalogService
	Pricing  PricingResolver
	Currency string
	Location *time.Location
	Clock    func() time.Time
}

type orderBuilder struct {
	catalog  CatalogService
	pricing  PricingResolver
	currency string
	location *time.Location
	clock    func() time.Time
}

// NewOrderBuilder constructs the cart validator and snapshotter.
func NewOrderBuilder(deps OrderBuilderDeps) (OrderBuilder, error) {
	if deps.Catalog == nil {
		return nil, errors.New("order builder: catalog service is required")
	}

	pricing := deps.Pricing
	if pricing == nil {
		pricing = NewPricingResolver()
	}

	currency := strings.ToUpper(strings.TrimSpace(deps.Currency))
	if currency == "" {
		currency = defaultCurrency
	}

	location := deps.Location
	if location == nil {
		location = time.UTC
	}

	clock := deps.Clock
	if clock == nil {
		clock = time.Now
	}

	return &orderBuilder{
		catalog:  deps.Catalog,
		pricing:  pricing,
		currency: currency,
		location: location,
		clock:    clock,
	}, nil
}

// Build prices every line against the live catalogue and checks the declared total.
// The returned items are snapshots: later catalogue edits never reach them.
func (b *orderBuilder) Build(ctx context.Context, cmd BuildOrderCommand) (OrderDraft, error) {
	draft, err := b.normalizeContact(cmd)
	if err != nil {
		return OrderDraft{}, err
	}

	if len(cmd.Lines) == 0 {
		return OrderDraft{}, fmt.Errorf("%w: cart must contain at least one item", ErrValidation)
	}
	if len(cmd.Lines) > maxCartLines {
		return OrderDraft{}, fmt.Errorf("%w: cart holds more than %d lines", ErrValidation, maxCartLines)
	}

	items := make([]OrderItem, 0, len(cmd.Lines))
	for i, line := range cmd.Lines {
		item, err := b.snapshotLine(ctx, line)
		if err != nil {
			return OrderDraft{}, fmt.Errorf("items[%d]: %w", i, err)
		}
		items = append(items, item)
	}

	total := domain.ItemsTotal(items)
	if !domain.WithinTolerance(cmd.DeclaredTotal, total) {
		return OrderDraft{}, fmt.Errorf("%w: declared %s, computed %s", ErrPricingMismatch,
			cmd.DeclaredTotal.String(), domain.FormatMoney(total))
	}

	draft.Items = items
	draft.TotalAmount = total
	draft.Currency = b.currency
	return draft, nil
}

func (b *orderBuilder) snapshotLine(ctx context.Context, line CartLine) (OrderItem, error) {
	if line.Quantity < minLineQuantity || line.Quantity > maxLineQuantity {
		return OrderItem{}, fmt.Errorf("%w: quantity %d outside [%d, %d]", ErrValidation, line.Quantity, minLineQuantity, maxLineQuantity)
	}
	productID := strings.TrimSpace(line.ProductID)
	if productID == "" {
		return OrderItem{}, fmt.Errorf("%w: product id is required", ErrValidation)
	}

	product, err := b.catalog.GetProduct(ctx, productID, true)
	if err != nil {
		return OrderItem{}, err
	}

	sel := PriceSelection{VariantID: strings.TrimSpace(line.VariantID), CustomPrice: line.CustomPrice}
	unitPrice, err := b.pricing.Resolve(product, sel)
	if err != nil {
		return OrderItem{}, err
	}

	item := OrderItem{
		ProductID: product.ID,
		Name:      product.Name,
		UnitPrice: unitPrice,
		Quantity:  line.Quantity,
		ImageURL:  product.ImageURL,
	}
	if variants, ok := product.Pricing.(domain.VariantPricing); ok {
		if v, found := variants.Lookup(sel.VariantID); found {
			item.VariantName = v.Name
		}
	}
	return item, nil
}

func (b *orderBuilder) normalizeContact(cmd BuildOrderCommand) (OrderDraft, error) {
	customer := CustomerInfo{
		Name:  textutil.SanitizeLine(cmd.CustomerInfo.Name, 0),
		Email: strings.ToLower(strings.TrimSpace(cmd.CustomerInfo.Email)),
		Phone: strings.TrimSpace(cmd.CustomerInfo.Phone),
	}
	if err := validateInput("customerInfo", customer); err != nil {
		return OrderDraft{}, err
	}

	delivery := DeliveryInfo{
		Type:     domain.DeliveryType(strings.ToLower(strings.TrimSpace(string(cmd.DeliveryInfo.Type)))),
		Date:     strings.TrimSpace(cmd.DeliveryInfo.Date),
		TimeSlot: textutil.SanitizeLine(cmd.DeliveryInfo.TimeSlot, 0),
		Notes:    textutil.SanitizeText(cmd.DeliveryInfo.Notes, 0),
	}
	if addr := cmd.DeliveryInfo.Address; addr != nil {
		delivery.Address = &Address{
			Street:     textutil.SanitizeLine(addr.Street, 0),
			City:       textutil.SanitizeLine(addr.City, 0),
			PostalCode: strings.TrimSpace(addr.PostalCode),
			Country:    textutil.SanitizeLine(addr.Country, 0),
		}
	}
	if err := validateInput("deliveryInfo", delivery); err != nil {
		return OrderDraft{}, err
	}
	switch {
	case delivery.Type == domain.DeliveryTypeDelivery && delivery.Address == nil:
		return OrderDraft{}, fmt.Errorf("%w: deliveryInfo.address is required for delivery", ErrValidation)
	case delivery.Type == domain.DeliveryTypePickup && delivery.Address != nil:
		return OrderDraft{}, fmt.Errorf("%w: deliveryInfo.address must be empty for pickup", ErrValidation)
	}
	if err := b.checkDeliveryDate(delivery.Date); err != nil {
		return OrderDraft{}, err
	}

	var gift *GiftInfo
	switch {
	case cmd.IsGift && cmd.GiftInfo == nil:
		return OrderDraft{}, fmt.Errorf("%w: giftInfo is required when isGift is set", ErrValidation)
	case !cmd.IsGift && cmd.GiftInfo != nil:
		return OrderDraft{}, fmt.Errorf("%w: giftInfo is only allowed when isGift is set", ErrValidation)
	case cmd.IsGift:
		gift = &GiftInfo{
			RecipientName: textutil.SanitizeLine(cmd.GiftInfo.RecipientName, 0),
			Message:       textutil.SanitizeText(cmd.GiftInfo.Message, 0),
		}
		if err := validateInput("giftInfo", *gift); err != nil {
			return OrderDraft{}, err
		}
	}

	return OrderDraft{
		CustomerInfo: customer,
		DeliveryInfo: delivery,
		IsGift:       cmd.IsGift,
		GiftInfo:     gift,
	}, nil
}

// checkDeliveryDate rejects days already over in the shop's time zone.
func (b *orderBuilder) checkDeliveryDate(raw string) error {
	day, err := time.ParseInLocation(deliveryDateLayout, raw, b.location)
	if err != nil {
		return fmt.Errorf("%w: deliveryInfo.date must be YYYY-MM-DD", ErrValidation)
	}
	now := b.clock().In(b.location)
	today := time.Date(now.Year(), now.Month(), now.Day(), 0, 0, 0, 0, b.location)
	if day.Before(today) {
		return fmt.Errorf("%w: deliveryInfo.date %s is in the past", ErrValidation, raw)
	}
	return nil
}

func validateInput(root string, value any) error {
	err := inputValidator.Struct(value)
	if err == nil {
		return nil
	}
	var fieldErrs validator.ValidationErrors
	if !errors.As(err, &fieldErrs) {
		return fmt.Errorf("%w: %v", ErrValidation, err)
	}
	parts := make([]string, 0, len(fieldErrs))
	for _, fe := range fieldErrs {
		field := fe.Namespace()
		if idx := strings.IndexByte(field, '.'); idx >= 0 {
			field = field[idx+1:]
		}
		parts = append(parts, fmt.Sprintf("%s.%s failed %s", root, field, fe.Tag()))
	}
	return fmt.Errorf("%w: %s", ErrValidation, strings.Join(parts, "; "))
}
