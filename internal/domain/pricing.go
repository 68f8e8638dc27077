package domain

import (
	"errors"
	"fmt"
	"sort"
	"strings"

	"github.com/shopspring/decimal"
)

// PricingType names the pricing strategy of a product.
type PricingType string

const (
	// PricingTypeFixed charges a single catalogue price.
	PricingTypeFixed PricingType = "fixed"
	// PricingTypeVariants charges the price of the selected variant.
	PricingTypeVariants PricingType = "variants"
	// PricingTypeCustomRange lets the customer choose a price inside a range.
	PricingTypeCustomRange PricingType = "custom_range"
)

// ErrInvalidPricing reports a pricing configuration that cannot be constructed.
var ErrInvalidPricing = errors.New("domain: invalid pricing configuration")

// Pricing is the closed set of pricing strategies. Only the constructors in this
// file produce values, so a product never carries fields of two strategies.
type Pricing interface {
	Type() PricingType
	isPricing()
}

// FixedPricing charges Price for every unit.
type FixedPricing struct {
	price decimal.Decimal
}

// NewFixedPricing validates price > 0.
func NewFixedPricing(price decimal.Decimal) (FixedPricing, error) {
	if !price.IsPositive() {
		return FixedPricing{}, fmt.Errorf("%w: fixed price must be positive", ErrInvalidPricing)
	}
	return FixedPricing{price: price}, nil
}

func (FixedPricing) Type() PricingType { return PricingTypeFixed }
func (FixedPricing) isPricing()        {}

// Price returns the catalogue price. The zero FixedPricing reports zero.
func (p FixedPricing) Price() decimal.Decimal { return p.price }

// ProductVariant is one selectable option of a variants-priced product.
type ProductVariant struct {
	ID       string
	Name     string
	Price    decimal.Decimal
	IsActive bool
	Order    int
}

// VariantPricing charges the price of the chosen variant.
type VariantPricing struct {
	variants []ProductVariant
}

// NewVariantPricing validates that at least one variant exists, that names and ids are
// unique and that every price is positive. Variants are kept sorted by display rank.
func NewVariantPricing(variants []ProductVariant) (VariantPricing, error) {
	if len(variants) == 0 {
		return VariantPricing{}, fmt.Errorf("%w: at least one variant is required", ErrInvalidPricing)
	}
	seenNames := make(map[string]struct{}, len(variants))
	seenIDs := make(map[string]struct{}, len(variants))
	out := make([]ProductVariant, 0, len(variants))
	for _, v := range variants {
		v.ID = strings.TrimSpace(v.ID)
		v.Name = strings.TrimSpace(v.Name)
		if v.Name == "" {
			return VariantPricing{}, fmt.Errorf("%w: variant name is required", ErrInvalidPricing)
		}
		if !v.Price.IsPositive() {
			return VariantPricing{}, fmt.Errorf("%w: variant %q price must be positive", ErrInvalidPricing, v.Name)
		}
		key := strings.ToLower(v.Name)
		if _, dup := seenNames[key]; dup {
			return VariantPricing{}, fmt.Errorf("%w: duplicate variant %q", ErrInvalidPricing, v.Name)
		}
		seenNames[key] = struct{}{}
		if v.ID != "" {
			if _, dup := seenIDs[v.ID]; dup {
				return VariantPricing{}, fmt.Errorf("%w: duplicate variant id %q", ErrInvalidPricing, v.ID)
			}
			seenIDs[v.ID] = struct{}{}
		}
		out = append(out, v)
	}
	sort.SliceStable(out, func(i, j int) bool { return out[i].Order < out[j].Order })
	return VariantPricing{variants: out}, nil
}

func (VariantPricing) Type() PricingType { return PricingTypeVariants }
func (VariantPricing) isPricing()        {}

// Variants returns a copy of the variants in display order.
func (p VariantPricing) Variants() []ProductVariant {
	out := make([]ProductVariant, len(p.variants))
	copy(out, p.variants)
	return out
}

// Lookup finds a variant by id, falling back to a case-insensitive name match.
func (p VariantPricing) Lookup(ref string) (ProductVariant, bool) {
	ref = strings.TrimSpace(ref)
	if ref == "" {
		return ProductVariant{}, false
	}
	for _, v := range p.variants {
		if v.ID != "" && v.ID == ref {
			return v, true
		}
	}
	for _, v := range p.variants {
		if strings.EqualFold(v.Name, ref) {
			return v, true
		}
	}
	return ProductVariant{}, false
}

// CustomRangePricing lets the buyer pick any price in [Min, Max].
type CustomRangePricing struct {
	min decimal.Decimal
	max decimal.Decimal
}

// NewCustomRangePricing validates 0 < lo <= hi.
func NewCustomRangePricing(lo, hi decimal.Decimal) (CustomRangePricing, error) {
	if !lo.IsPositive() {
		return CustomRangePricing{}, fmt.Errorf("%w: custom range minimum must be positive", ErrInvalidPricing)
	}
	if hi.LessThan(lo) {
		return CustomRangePricing{}, fmt.Errorf("%w: custom range maximum below minimum", ErrInvalidPricing)
	}
	return CustomRangePricing{min: lo, max: hi}, nil
}

func (CustomRangePricing) Type() PricingType { return PricingTypeCustomRange }
func (CustomRangePricing) isPricing()        {}

func (p CustomRangePricing) Min() decimal.Decimal { return p.min }
func (p CustomRangePricing) Max() decimal.Decimal { return p.max }

// Contains reports whether price lies inside the inclusive range.
func (p CustomRangePricing) Contains(price decimal.Decimal) bool {
	return !price.LessThan(p.min) && !price.GreaterThan(p.max)
}
