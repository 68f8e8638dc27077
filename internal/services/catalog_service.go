package services

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/oklog/ulid/v2"

	domain "github.com/boutique-fleurs/api/internal/domain"
	"github.com/boutique-fleurs/api/internal/platform/textutil"
	"github.com/boutique-fleurs/api/internal/repositories"
)

const (
	productIDPrefix = "prod_"
	variantIDPrefix = "var_"

	maxProductNameLength        = 120
	maxProductDescriptionLength = 2000
)

// CatalogServiceDeps bundles constructor inputs for the catalog service.
type CatalogServiceDeps struct {
	Products    repositories.ProductRepository
	Clock       func() time.Time
	IDGenerator func() string
	Logger      func(ctx context.Context, event string, fields map[string]any)
}

type catalogService struct {
	products repositories.ProductRepository
	clock    func() time.Time
	newID    func() string
	logger   func(context.Context, string, map[string]any)
}

// NewCatalogService constructs the product catalogue service.
func NewCatalogService(deps CatalogServiceDeps) (CatalogService, error) {
	if deps.Products == nil {
		return nil, errors.New("catalog service: product repository is required")
	}

	clock := deps.Clock
	if clock == nil {
		clock = time.Now
	}

	idGen := deps.IDGenerator
	if idGen == nil {
		idGen = func() string {
			return ulid.Make().String()
		}
	}

	logger := deps.Logger
	if logger == nil {
		logger = func(context.Context, string, map[string]any) {}
	}

	return &catalogService{
		products: deps.Products,
		clock: func() time.Time {
			return clock().UTC()
		},
		newID:  idGen,
		logger: logger,
	}, nil
}

// GetProduct loads a product. With activeOnly, deactivated products read as not found.
func (s *catalogService) GetProduct(ctx context.Context, productID string, activeOnly bool) (Product, error) {
	productID = strings.TrimSpace(productID)
	if productID == "" {
		return Product{}, fmt.Errorf("%w: product id is required", ErrValidation)
	}
	product, err := s.products.FindByID(ctx, productID)
	if err != nil {
		return Product{}, mapRepositoryError(err, ErrProductNotFound)
	}
	if activeOnly && !product.IsActive {
		return Product{}, fmt.Errorf("%w: %s is inactive", ErrProductNotFound, productID)
	}
	return product, nil
}

func (s *catalogService) ListProducts(ctx context.Context, filter ProductListFilter) (domain.CursorPage[Product], error) {
	filter.Category = strings.TrimSpace(filter.Category)
	page, err := s.products.List(ctx, filter)
	if err != nil {
		return domain.CursorPage[Product]{}, mapRepositoryError(err, ErrProductNotFound)
	}
	return page, nil
}

// UpsertProduct replaces the product configuration. Pricing goes through the domain
// constructors, so a product never carries fields of two strategies.
func (s *catalogService) UpsertProduct(ctx context.Context, cmd UpsertProductCommand) (Product, error) {
	name := textutil.SanitizeLine(cmd.Name, maxProductNameLength)
	if name == "" {
		return Product{}, fmt.Errorf("%w: product name is required", ErrValidation)
	}

	pricing, err := s.buildPricing(cmd)
	if err != nil {
		return Product{}, err
	}

	now := s.clock()
	product := Product{
		ID:          strings.TrimSpace(cmd.ProductID),
		Name:        name,
		Description: textutil.SanitizeText(cmd.Description, maxProductDescriptionLength),
		ImageURL:    strings.TrimSpace(cmd.ImageURL),
		Category:    strings.ToLower(strings.TrimSpace(cmd.Category)),
		Pricing:     pricing,
		IsActive:    cmd.IsActive,
		CreatedAt:   now,
		UpdatedAt:   now,
	}

	created := true
	if product.ID == "" {
		product.ID = productIDPrefix + s.newID()
	} else {
		existing, err := s.products.FindByID(ctx, product.ID)
		switch {
		case err == nil:
			product.CreatedAt = existing.CreatedAt
			created = false
		case isRepositoryNotFound(err):
		default:
			return Product{}, mapRepositoryError(err, ErrProductNotFound)
		}
	}

	if err := s.products.Upsert(ctx, product); err != nil {
		return Product{}, mapRepositoryError(err, ErrProductNotFound)
	}

	event := "catalog.product.updated"
	if created {
		event = "catalog.product.created"
	}
	s.logger(ctx, event, map[string]any{
		"productId":   product.ID,
		"pricingType": string(pricing.Type()),
		"active":      product.IsActive,
		"actorId":     strings.TrimSpace(cmd.ActorID),
	})
	return product, nil
}

// DeactivateProduct hides a product from the catalogue. Products are never removed because
// historical orders reference them.
func (s *catalogService) DeactivateProduct(ctx context.Context, productID string, actorID string) (Product, error) {
	product, err := s.GetProduct(ctx, productID, false)
	if err != nil {
		return Product{}, err
	}
	if !product.IsActive {
		return product, nil
	}
	product.IsActive = false
	product.UpdatedAt = s.clock()
	if err := s.products.Upsert(ctx, product); err != nil {
		return Product{}, mapRepositoryError(err, ErrProductNotFound)
	}
	s.logger(ctx, "catalog.product.deactivated", map[string]any{
		"productId": product.ID,
		"actorId":   strings.TrimSpace(actorID),
	})
	return product, nil
}

func (s *catalogService) buildPricing(cmd UpsertProductCommand) (domain.Pricing, error) {
	var (
		pricing domain.Pricing
		err     error
	)
	switch cmd.PricingType {
	case domain.PricingTypeFixed:
		if cmd.Price == nil || len(cmd.Variants) > 0 || cmd.MinPrice != nil || cmd.MaxPrice != nil {
			return nil, fmt.Errorf("%w: fixed pricing takes a price only", ErrInvalidPricingConfig)
		}
		pricing, err = domain.NewFixedPricing(*cmd.Price)
	case domain.PricingTypeVariants:
		if cmd.Price != nil || cmd.MinPrice != nil || cmd.MaxPrice != nil {
			return nil, fmt.Errorf("%w: variant pricing takes variants only", ErrInvalidPricingConfig)
		}
		variants := make([]domain.ProductVariant, 0, len(cmd.Variants))
		for _, v := range cmd.Variants {
			id := strings.TrimSpace(v.ID)
			if id == "" {
				id = variantIDPrefix + s.newID()
			}
			variants = append(variants, domain.ProductVariant{
				ID:       id,
				Name:     textutil.SanitizeLine(v.Name, maxProductNameLength),
				Price:    v.Price,
				IsActive: v.IsActive,
				Order:    v.Order,
			})
		}
		pricing, err = domain.NewVariantPricing(variants)
	case domain.PricingTypeCustomRange:
		if cmd.MinPrice == nil || cmd.MaxPrice == nil || cmd.Price != nil || len(cmd.Variants) > 0 {
			return nil, fmt.Errorf("%w: custom range pricing takes min and max only", ErrInvalidPricingConfig)
		}
		pricing, err = domain.NewCustomRangePricing(*cmd.MinPrice, *cmd.MaxPrice)
	default:
		return nil, fmt.Errorf("%w: unknown pricing type %q", ErrInvalidPricingConfig, cmd.PricingType)
	}
	if err != nil {
		return nil, fmt.Errorf("%w: %v", ErrInvalidPricingConfig, err)
	}
	return pricing, nil
}

func isRepositoryNotFound(err error) bool {
	var repoErr repositories.RepositoryError
	return errors.As(err, &repoErr) && repoErr.IsNotFound()
}
