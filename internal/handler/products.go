package handler

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"strconv"

	"github.com/go-chi/chi/v5"
	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgtype"
	"github.com/shopspring/decimal"
	"github.com/sirupsen/logrus"

	"github.com/comanda-pos/api/internal/database"
)

// ProductStore defines the database methods needed by product handlers.
type ProductStore interface {
	GetProduct(ctx context.Context, id uuid.UUID) (database.Product, error)
	ListProducts(ctx context.Context) ([]database.Product, error)
	CreateProduct(ctx context.Context, arg database.CreateProductParams) (database.Product, error)
	GetProductRecipe(ctx context.Context, productID uuid.UUID) ([]database.GetProductRecipeRow, error)
	CreateProductRecipe(ctx context.Context, arg database.CreateProductRecipeParams) error
}

// ProductHandler handles the product catalog endpoints.
type ProductHandler struct {
	store ProductStore
	log   *logrus.Logger
}

func NewProductHandler(store ProductStore, log *logrus.Logger) *ProductHandler {
	return &ProductHandler{store: store, log: log}
}

// RegisterRoutes registers product endpoints on the given Chi router.
func (h *ProductHandler) RegisterRoutes(r chi.Router) {
	r.Get("/", h.List)
	r.Post("/", h.Create)
	r.Get("/{id}", h.Get)
}

// --- Request / Response types ---

type recipeComponentRequest struct {
	InventoryItemID string `json:"inventory_item_id"`
	Quantity        string `json:"quantity"`
	WasteFactor     string `json:"waste_factor"`
}

type createProductRequest struct {
	Name   string                   `json:"name"`
	Price  string                   `json:"price"`
	Recipe []recipeComponentRequest `json:"recipe"`
}

type recipeComponentResponse struct {
	InventoryItemID uuid.UUID `json:"inventory_item_id"`
	ItemName        string    `json:"item_name"`
	Quantity        string    `json:"quantity"`
	WasteFactor     string    `json:"waste_factor"`
}

type productResponse struct {
	ID     uuid.UUID                 `json:"id"`
	Name   string                    `json:"name"`
	Price  string                    `json:"price"`
	Active bool                      `json:"active"`
	Recipe []recipeComponentResponse `json:"recipe,omitempty"`
}

// --- Handlers ---

// List handles GET /products.
func (h *ProductHandler) List(w http.ResponseWriter, r *http.Request) {
	products, err := h.store.ListProducts(r.Context())
	if err != nil {
		h.log.WithError(err).Error("list products")
		errorJSON(w, http.StatusInternalServerError, "internal server error")
		return
	}
	resp := make([]productResponse, len(products))
	for i, p := range products {
		resp[i] = productResponse{ID: p.ID, Name: p.Name, Price: numericToString(p.Price), Active: p.Active}
	}
	writeJSON(w, http.StatusOK, map[string]any{"products": resp})
}

// Get handles GET /products/{id}, including the recipe.
func (h *ProductHandler) Get(w http.ResponseWriter, r *http.Request) {
	id, err := uuid.Parse(chi.URLParam(r, "id"))
	if err != nil {
		errorJSON(w, http.StatusBadRequest, "invalid product ID")
		return
	}

	product, err := h.store.GetProduct(r.Context(), id)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			errorJSON(w, http.StatusNotFound, "product not found")
			return
		}
		h.log.WithError(err).Error("get product")
		errorJSON(w, http.StatusInternalServerError, "internal server error")
		return
	}

	recipe, err := h.store.GetProductRecipe(r.Context(), id)
	if err != nil {
		h.log.WithError(err).Error("get product recipe")
		errorJSON(w, http.StatusInternalServerError, "internal server error")
		return
	}

	resp := productResponse{ID: product.ID, Name: product.Name, Price: numericToString(product.Price), Active: product.Active}
	for _, c := range recipe {
		resp.Recipe = append(resp.Recipe, recipeComponentResponse{
			InventoryItemID: c.InventoryItemID,
			ItemName:        c.ItemName,
			Quantity:        numericToStockString(c.Quantity),
			WasteFactor:     numericToStockString(c.WasteFactor),
		})
	}
	writeJSON(w, http.StatusOK, resp)
}

// Create handles POST /products. Recipe components are optional; products
// without one simply move no stock when sold.
func (h *ProductHandler) Create(w http.ResponseWriter, r *http.Request) {
	var req createProductRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		errorJSON(w, http.StatusBadRequest, "invalid request body")
		return
	}
	if req.Name == "" {
		errorJSON(w, http.StatusBadRequest, "name is required")
		return
	}
	price, err := decimal.NewFromString(req.Price)
	if err != nil || price.IsNegative() {
		errorJSON(w, http.StatusBadRequest, "invalid price")
		return
	}

	var priceNum pgtype.Numeric
	if err := priceNum.Scan(price.StringFixed(2)); err != nil {
		errorJSON(w, http.StatusBadRequest, "invalid price")
		return
	}

	product, err := h.store.CreateProduct(r.Context(), database.CreateProductParams{
		Name:  req.Name,
		Price: priceNum,
	})
	if err != nil {
		h.log.WithError(err).Error("create product")
		errorJSON(w, http.StatusInternalServerError, "internal server error")
		return
	}

	for i, c := range req.Recipe {
		itemID, err := uuid.Parse(c.InventoryItemID)
		if err != nil {
			errorJSON(w, http.StatusBadRequest, "recipe["+strconv.Itoa(i)+"]: invalid inventory_item_id")
			return
		}
		qty, err := decimal.NewFromString(c.Quantity)
		if err != nil || !qty.IsPositive() {
			errorJSON(w, http.StatusBadRequest, "recipe: quantity must be > 0")
			return
		}
		waste := decimal.NewFromInt(1)
		if c.WasteFactor != "" {
			waste, err = decimal.NewFromString(c.WasteFactor)
			if err != nil || !waste.IsPositive() {
				errorJSON(w, http.StatusBadRequest, "recipe: invalid waste_factor")
				return
			}
		}

		var qtyNum, wasteNum pgtype.Numeric
		if err := qtyNum.Scan(qty.StringFixed(4)); err != nil {
			errorJSON(w, http.StatusBadRequest, "recipe: invalid quantity")
			return
		}
		if err := wasteNum.Scan(waste.StringFixed(4)); err != nil {
			errorJSON(w, http.StatusBadRequest, "recipe: invalid waste_factor")
			return
		}

		if err := h.store.CreateProductRecipe(r.Context(), database.CreateProductRecipeParams{
			ProductID:       product.ID,
			InventoryItemID: itemID,
			Quantity:        qtyNum,
			WasteFactor:     wasteNum,
		}); err != nil {
			h.log.WithError(err).WithField("component", i).Error("create product recipe")
			errorJSON(w, http.StatusInternalServerError, "internal server error")
			return
		}
	}

	writeJSON(w, http.StatusCreated, productResponse{
		ID:     product.ID,
		Name:   product.Name,
		Price:  numericToString(product.Price),
		Active: product.Active,
	})
}
