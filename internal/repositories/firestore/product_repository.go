package firestore

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	"cloud.google.com/go/firestore"
	"github.com/shopspring/decimal"

	domain "github.com/boutique-fleurs/api/internal/domain"
	pfirestore "github.com/boutique-fleurs/api/internal/platform/firestore"
	"github.com/boutique-fleurs/api/internal/platform/pagination"
	"github.com/boutique-fleurs/api/internal/repositories"
)

const (
	productsCollection     = "products"
	defaultProductPageSize = 50
	maxProductPageSize     = 100
)

type variantDocument struct {
	ID       string `firestore:"id"`
	Name     string `firestore:"name"`
	Price    string `firestore:"price"`
	IsActive bool   `firestore:"isActive"`
	Order    int    `firestore:"order"`
}

type customPricingDocument struct {
	Min string `firestore:"min"`
	Max string `firestore:"max"`
}

// productDocument stores exactly one of Price, Variants or CustomPricing depending on PricingType.
type productDocument struct {
	Name          string                 `firestore:"name"`
	Description   string                 `firestore:"description,omitempty"`
	ImageURL      string                 `firestore:"imageUrl,omitempty"`
	Category      string                 `firestore:"category,omitempty"`
	PricingType   string                 `firestore:"pricingType"`
	Price         string                 `firestore:"price,omitempty"`
	Variants      []variantDocument      `firestore:"variants,omitempty"`
	CustomPricing *customPricingDocument `firestore:"customPricing,omitempty"`
	IsActive      bool                   `firestore:"isActive"`
	CreatedAt     time.Time              `firestore:"createdAt"`
	UpdatedAt     time.Time              `firestore:"updatedAt"`
}

// ProductRepository implements repositories.ProductRepository on Firestore.
type ProductRepository struct {
	products *pfirestore.BaseRepository[productDocument]
}

// NewProductRepository constructs a Firestore-backed product repository.
func NewProductRepository(provider *pfirestore.Provider) (*ProductRepository, error) {
	if provider == nil {
		return nil, errors.New("product repository requires firestore provider")
	}
	return &ProductRepository{
		products: pfirestore.NewBaseRepository[productDocument](provider, productsCollection, nil, nil),
	}, nil
}

// Upsert replaces the stored product. Fields of other pricing strategies are not written.
func (r *ProductRepository) Upsert(ctx context.Context, product domain.Product) error {
	doc, err := encodeProduct(product)
	if err != nil {
		return err
	}
	_, err = r.products.Set(ctx, product.ID, doc)
	return err
}

// FindByID loads a product, active or not.
func (r *ProductRepository) FindByID(ctx context.Context, productID string) (domain.Product, error) {
	doc, err := r.products.Get(ctx, strings.TrimSpace(productID))
	if err != nil {
		return domain.Product{}, err
	}
	return decodeProduct(doc.ID, doc.Data)
}

// List returns products ordered by id.
func (r *ProductRepository) List(ctx context.Context, filter repositories.ProductListFilter) (domain.CursorPage[domain.Product], error) {
	pageSize := filter.Pagination.PageSize
	switch {
	case pageSize <= 0:
		pageSize = defaultProductPageSize
	case pageSize > maxProductPageSize:
		pageSize = maxProductPageSize
	}
	cursor, err := pagination.DecodeToken(filter.Pagination.PageToken)
	if err != nil {
		return domain.CursorPage[domain.Product]{}, err
	}
	var startAfter string
	if len(cursor.StartAfter) == 1 {
		id, ok := cursor.StartAfter[0].(string)
		if !ok {
			return domain.CursorPage[domain.Product]{}, pagination.ErrInvalidPageToken
		}
		startAfter = id
	}

	docs, err := r.products.Query(ctx, func(q firestore.Query) firestore.Query {
		if filter.ActiveOnly {
			q = q.Where("isActive", "==", true)
		}
		if category := strings.TrimSpace(filter.Category); category != "" {
			q = q.Where("category", "==", category)
		}
		q = q.OrderBy(firestore.DocumentID, firestore.Asc)
		if startAfter != "" {
			q = q.StartAfter(startAfter)
		}
		return q.Limit(pageSize + 1)
	})
	if err != nil {
		return domain.CursorPage[domain.Product]{}, err
	}

	page := domain.CursorPage[domain.Product]{}
	for i, doc := range docs {
		if i == pageSize {
			token, err := pagination.EncodeToken(pagination.Cursor{StartAfter: []any{page.Items[len(page.Items)-1].ID}})
			if err != nil {
				return domain.CursorPage[domain.Product]{}, err
			}
			page.NextPageToken = token
			break
		}
		product, err := decodeProduct(doc.ID, doc.Data)
		if err != nil {
			return domain.CursorPage[domain.Product]{}, err
		}
		page.Items = append(page.Items, product)
	}
	return page, nil
}

func encodeProduct(product domain.Product) (productDocument, error) {
	doc := productDocument{
		Name:        product.Name,
		Description: product.Description,
		ImageURL:    product.ImageURL,
		Category:    product.Category,
		IsActive:    product.IsActive,
		CreatedAt:   product.CreatedAt.UTC(),
		UpdatedAt:   product.UpdatedAt.UTC(),
	}
	switch pricing := product.Pricing.(type) {
	case domain.FixedPricing:
		doc.PricingType = string(domain.PricingTypeFixed)
		doc.Price = pricing.Price().String()
	case domain.VariantPricing:
		doc.PricingType = string(domain.PricingTypeVariants)
		for _, v := range pricing.Variants() {
			doc.Variants = append(doc.Variants, variantDocument{
				ID:       v.ID,
				Name:     v.Name,
				Price:    v.Price.String(),
				IsActive: v.IsActive,
				Order:    v.Order,
			})
		}
	case domain.CustomRangePricing:
		doc.PricingType = string(domain.PricingTypeCustomRange)
		doc.CustomPricing = &customPricingDocument{Min: pricing.Min().String(), Max: pricing.Max().String()}
	default:
		return productDocument{}, fmt.Errorf("products.encode %s: %w", product.ID, domain.ErrInvalidPricing)
	}
	return doc, nil
}

func decodeProduct(id string, doc productDocument) (domain.Product, error) {
	product := domain.Product{
		ID:          id,
		Name:        doc.Name,
		Description: doc.Description,
		ImageURL:    doc.ImageURL,
		Category:    doc.Category,
		IsActive:    doc.IsActive,
		CreatedAt:   doc.CreatedAt,
		UpdatedAt:   doc.UpdatedAt,
	}
	pricing, err := decodePricing(doc)
	if err != nil {
		return domain.Product{}, fmt.Errorf("products.decode %s: %w", id, err)
	}
	product.Pricing = pricing
	return product, nil
}

func decodePricing(doc productDocument) (domain.Pricing, error) {
	switch domain.PricingType(doc.PricingType) {
	case domain.PricingTypeFixed:
		price, err := decimal.NewFromString(doc.Price)
		if err != nil {
			return nil, fmt.Errorf("%w: %v", domain.ErrInvalidPricing, err)
		}
		return domain.NewFixedPricing(price)
	case domain.PricingTypeVariants:
		variants := make([]domain.ProductVariant, 0, len(doc.Variants))
		for _, v := range doc.Variants {
			price, err := decimal.NewFromString(v.Price)
			if err != nil {
				return nil, fmt.Errorf("%w: %v", domain.ErrInvalidPricing, err)
			}
			variants = append(variants, domain.ProductVariant{
				ID:       v.ID,
				Name:     v.Name,
				Price:    price,
				IsActive: v.IsActive,
				Order:    v.Order,
			})
		}
		return domain.NewVariantPricing(variants)
	case domain.PricingTypeCustomRange:
		if doc.CustomPricing == nil {
			return nil, fmt.Errorf("%w: custom pricing missing", domain.ErrInvalidPricing)
		}
		lo, err := decimal.NewFromString(doc.CustomPricing.Min)
		if err != nil {
			return nil, fmt.Errorf("%w: %v", domain.ErrInvalidPricing, err)
		}
		hi, err := decimal.NewFromString(doc.CustomPricing.Max)
		if err != nil {
			return nil, fmt.Errorf("%w: %v", domain.ErrInvalidPricing, err)
		}
		return domain.NewCustomRangePricing(lo, hi)
	default:
		return nil, fmt.Errorf("%w: unknown pricing type %q", domain.ErrInvalidPricing, doc.PricingType)
	}
}

var _ repositories.ProductRepository = (*ProductRepository)(nil)
