package services

import (
	"fmt"

	"github.com/shopspring/decimal"

	domain "github.com/boutique-fleurs/api/internal/domain"
)

type pricingResolver struct{}

// NewPricingResolver returns the stateless resolver used by the order builder.
func NewPricingResolver() PricingResolver {
	return pricingResolver{}
}

// Resolve returns the unit price for sel, rounded to cents.
func (pricingResolver) Resolve(product Product, sel PriceSelection) (decimal.Decimal, error) {
	switch pricing := product.Pricing.(type) {
	case domain.FixedPricing:
		if !pricing.Price().IsPositive() {
			return decimal.Zero, fmt.Errorf("%w: product %s has no fixed price", ErrInvalidPricingConfig, product.ID)
		}
		return domain.RoundMoney(pricing.Price()), nil

	case domain.VariantPricing:
		if sel.VariantID == "" {
			return decimal.Zero, fmt.Errorf("%w: product %s requires a variant", ErrVariantNotFound, product.ID)
		}
		variant, ok := pricing.Lookup(sel.VariantID)
		if !ok {
			return decimal.Zero, fmt.Errorf("%w: %q on product %s", ErrVariantNotFound, sel.VariantID, product.ID)
		}
		if !variant.IsActive {
			return decimal.Zero, fmt.Errorf("%w: %q on product %s", ErrVariantInactive, variant.Name, product.ID)
		}
		return domain.RoundMoney(variant.Price), nil

	case domain.CustomRangePricing:
		if sel.CustomPrice == nil {
			return decimal.Zero, fmt.Errorf("%w: product %s requires a chosen price", ErrValidation, product.ID)
		}
		if !pricing.Contains(*sel.CustomPrice) {
			return decimal.Zero, fmt.Errorf("%w: %s not within [%s, %s]", ErrPriceOutOfRange,
				sel.CustomPrice.String(), domain.FormatMoney(pricing.Min()), domain.FormatMoney(pricing.Max()))
		}
		return domain.RoundMoney(*sel.CustomPrice), nil

	default:
		return decimal.Zero, fmt.Errorf("%w: product %s has no pricing", ErrInvalidPricingConfig, product.ID)
	}
}
