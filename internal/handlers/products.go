package handlers

import (
	"context"
	"log/slog"
	"net/http"

	"github.com/google/uuid"

	"github.com/craftmarket/backend/internal/catalog"
	"github.com/craftmarket/backend/internal/models"
)

// Catalog is the subset of catalog.Accessor behind /products.
type Catalog interface {
	GetProduct(ctx context.Context, id uuid.UUID) (*models.Product, error)
	ListProducts(ctx context.Context) ([]*models.Product, error)
	CreateProduct(ctx context.Context, ownerID uuid.UUID, spec catalog.ProductSpec) (*models.Product, error)
}

// Purchases is the subset of ledger.Service for buying products.
type Purchases interface {
	PayForProduct(ctx context.Context, buyerID, productID uuid.UUID) (*models.BalanceEntry, error)
	ListPurchasedProductIDs(ctx context.Context, userID uuid.UUID) ([]uuid.UUID, error)
}

// ProductHandler serves /api/v1/products endpoints.
type ProductHandler struct {
	Catalog   Catalog
	Purchases Purchases
	Logger    *slog.Logger
}

type purchasedResponse struct {
	ProductIDs []uuid.UUID `json:"product_ids"`
}

// List handles GET /api/v1/products.
func (h *ProductHandler) List(w http.ResponseWriter, r *http.Request) {
	products, err := h.Catalog.ListProducts(r.Context())
	if err != nil {
		writeError(w, logger(h.Logger), "list products", err)
		return
	}
	writeJSON(w, http.StatusOK, nonNil(products))
}

// Create handles POST /api/v1/products.
func (h *ProductHandler) Create(w http.ResponseWriter, r *http.Request) {
	uid, ok := callerID(w, r)
	if !ok {
		return
	}
	var spec catalog.ProductSpec
	if !decode(w, r, &spec) {
		return
	}
	p, err := h.Catalog.CreateProduct(r.Context(), uid, spec)
	if err != nil {
		writeError(w, logger(h.Logger), "create product", err)
		return
	}
	writeJSON(w, http.StatusCreated, p)
}

// Get handles GET /api/v1/products/{id}.
func (h *ProductHandler) Get(w http.ResponseWriter, r *http.Request) {
	id, ok := pathID(w, r, "id")
	if !ok {
		return
	}
	p, err := h.Catalog.GetProduct(r.Context(), id)
	if err != nil {
		writeError(w, logger(h.Logger), "get product", err)
		return
	}
	writeJSON(w, http.StatusOK, p)
}

// Buy handles POST /api/v1/products/{id}/buy.
func (h *ProductHandler) Buy(w http.ResponseWriter, r *http.Request) {
	uid, ok := callerID(w, r)
	if !ok {
		return
	}
	id, ok := pathID(w, r, "id")
	if !ok {
		return
	}
	entry, err := h.Purchases.PayForProduct(r.Context(), uid, id)
	if err != nil {
		writeError(w, logger(h.Logger), "buy product", err)
		return
	}
	writeJSON(w, http.StatusCreated, entry)
}

// Purchased handles GET /api/v1/products/purchased.
func (h *ProductHandler) Purchased(w http.ResponseWriter, r *http.Request) {
	uid, ok := callerID(w, r)
	if !ok {
		return
	}
	ids, err := h.Purchases.ListPurchasedProductIDs(r.Context(), uid)
	if err != nil {
		writeError(w, logger(h.Logger), "list purchased", err)
		return
	}
	writeJSON(w, http.StatusOK, purchasedResponse{ProductIDs: nonNil(ids)})
}
