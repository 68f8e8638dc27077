package handlers

import (
	"net/http"
	"strings"

	"github.com/go-chi/chi/v5"
	"github.com/shopspring/decimal"

	domain "github.com/boutique-fleurs/api/internal/domain"
	"github.com/boutique-fleurs/api/internal/platform/auth"
	"github.com/boutique-fleurs/api/internal/platform/httpx"
	"github.com/boutique-fleurs/api/internal/platform/pagination"
	"github.com/boutique-fleurs/api/internal/services"
)

const maxProductRequestBody = 16 * 1024

type upsertVariantRequest struct {
	ID       string          `json:"id,omitempty"`
	Name     string          `json:"name"`
	Price    decimal.Decimal `json:"price"`
	IsActive bool            `json:"isActive"`
	Order    int             `json:"order"`
}

type upsertProductRequest struct {
	Name        string                 `json:"name"`
	Description string                 `json:"description,omitempty"`
	ImageURL    string                 `json:"imageUrl,omitempty"`
	Category    string                 `json:"category,omitempty"`
	PricingType string                 `json:"pricingType"`
	Price       *decimal.Decimal       `json:"price,omitempty"`
	Variants    []upsertVariantRequest `json:"variants,omitempty"`
	MinPrice    *decimal.Decimal       `json:"minPrice,omitempty"`
	MaxPrice    *decimal.Decimal       `json:"maxPrice,omitempty"`
	IsActive    bool                   `json:"isActive"`
}

// ProductHandlers serves the public catalogue and the admin product editor.
type ProductHandlers struct {
	catalog services.CatalogService
}

// NewProductHandlers constructs catalogue handlers.
func NewProductHandlers(catalog services.CatalogService) *ProductHandlers {
	return &ProductHandlers{catalog: catalog}
}

// Routes registers the public /products endpoints.
func (h *ProductHandlers) Routes(r chi.Router) {
	if r == nil {
		return
	}
	r.Get("/", h.listProducts)
	r.Get("/{productID}", h.getProduct)
}

// AdminRoutes registers /admin/products endpoints.
func (h *ProductHandlers) AdminRoutes(r chi.Router) {
	if r == nil {
		return
	}
	r.Get("/products", h.listAllProducts)
	r.Put("/products/{productID}", h.upsertProduct)
	r.Post("/products/{productID}:deactivate", h.deactivateProduct)
}

func (h *ProductHandlers) listProducts(w http.ResponseWriter, r *http.Request) {
	h.list(w, r, true)
}

func (h *ProductHandlers) listAllProducts(w http.ResponseWriter, r *http.Request) {
	h.list(w, r, false)
}

func (h *ProductHandlers) list(w http.ResponseWriter, r *http.Request, activeOnly bool) {
	ctx := r.Context()
	if h.catalog == nil {
		httpx.WriteError(ctx, w, httpx.NewError("catalog_unavailable", "catalog service unavailable", http.StatusServiceUnavailable))
		return
	}
	page, err := pagination.FromRequest(r, pagination.Options{DefaultPageSize: 24})
	if err != nil {
		writePaginationError(ctx, w, err)
		return
	}

	result, err := h.catalog.ListProducts(ctx, services.ProductListFilter{
		ActiveOnly: activeOnly,
		Category:   strings.ToLower(strings.TrimSpace(r.URL.Query().Get("category"))),
		Pagination: services.Pagination{
			PageSize:  page.PageSize,
			PageToken: page.PageToken,
		},
	})
	if err != nil {
		writeServiceError(ctx, w, err)
		return
	}

	resp := productListResponse{
		Items:         make([]productPayload, 0, len(result.Items)),
		NextPageToken: result.NextPageToken,
	}
	for _, product := range result.Items {
		resp.Items = append(resp.Items, buildProductPayload(product, !activeOnly))
	}
	writeJSONResponse(w, http.StatusOK, resp)
}

func (h *ProductHandlers) getProduct(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()
	if h.catalog == nil {
		httpx.WriteError(ctx, w, httpx.NewError("catalog_unavailable", "catalog service unavailable", http.StatusServiceUnavailable))
		return
	}
	product, err := h.catalog.GetProduct(ctx, chi.URLParam(r, "productID"), true)
	if err != nil {
		writeServiceError(ctx, w, err)
		return
	}
	writeJSONResponse(w, http.StatusOK, buildProductPayload(product, false))
}

func (h *ProductHandlers) upsertProduct(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()
	if h.catalog == nil {
		httpx.WriteError(ctx, w, httpx.NewError("catalog_unavailable", "catalog service unavailable", http.StatusServiceUnavailable))
		return
	}

	var req upsertProductRequest
	if err := decodeJSONBody(r, maxProductRequestBody, &req); err != nil {
		writeBodyError(ctx, w, err)
		return
	}

	cmd := services.UpsertProductCommand{
		ProductID:   chi.URLParam(r, "productID"),
		Name:        req.Name,
		Description: req.Description,
		ImageURL:    req.ImageURL,
		Category:    req.Category,
		PricingType: domain.PricingType(strings.TrimSpace(req.PricingType)),
		Price:       req.Price,
		MinPrice:    req.MinPrice,
		MaxPrice:    req.MaxPrice,
		IsActive:    req.IsActive,
		ActorID:     actorFromRequest(r),
	}
	for _, v := range req.Variants {
		cmd.Variants = append(cmd.Variants, services.UpsertVariantCommand{
			ID:       v.ID,
			Name:     v.Name,
			Price:    v.Price,
			IsActive: v.IsActive,
			Order:    v.Order,
		})
	}

	product, err := h.catalog.UpsertProduct(ctx, cmd)
	if err != nil {
		writeServiceError(ctx, w, err)
		return
	}
	writeJSONResponse(w, http.StatusOK, buildProductPayload(product, true))
}

func (h *ProductHandlers) deactivateProduct(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()
	if h.catalog == nil {
		httpx.WriteError(ctx, w, httpx.NewError("catalog_unavailable", "catalog service unavailable", http.StatusServiceUnavailable))
		return
	}
	product, err := h.catalog.DeactivateProduct(ctx, chi.URLParam(r, "productID"), actorFromRequest(r))
	if err != nil {
		writeServiceError(ctx, w, err)
		return
	}
	writeJSONResponse(w, http.StatusOK, buildProductPayload(product, true))
}

func actorFromRequest(r *http.Request) string {
	if identity, ok := auth.IdentityFromContext(r.Context()); ok {
		return identity.Actor()
	}
	return ""
}
