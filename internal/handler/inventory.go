package handler

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"strconv"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/google/uuid"
	"github.com/jackc/pgx/v5/pgtype"
	"github.com/shopspring/decimal"
	"github.com/sirupsen/logrus"

	"github.com/comanda-pos/api/internal/database"
	"github.com/comanda-pos/api/internal/service"
)

// StockServicer defines the service methods needed for manual adjustments.
// Satisfied by *service.StockService.
type StockServicer interface {
	Adjust(ctx context.Context, itemID uuid.UUID, delta decimal.Decimal, reason string) (database.InventoryItem, error)
}

// InventoryReader defines the database methods for the read/create endpoints.
type InventoryReader interface {
	ListInventoryItems(ctx context.Context) ([]database.InventoryItem, error)
	CreateInventoryItem(ctx context.Context, arg database.CreateInventoryItemParams) (database.InventoryItem, error)
	ListInventoryMovements(ctx context.Context, arg database.ListInventoryMovementsParams) ([]database.InventoryMovement, error)
}

// InventoryHandler handles stock endpoints.
type InventoryHandler struct {
	svc   StockServicer
	store InventoryReader
	log   *logrus.Logger
}

func NewInventoryHandler(svc StockServicer, store InventoryReader, log *logrus.Logger) *InventoryHandler {
	return &InventoryHandler{svc: svc, store: store, log: log}
}

// RegisterRoutes registers inventory endpoints on the given Chi router.
func (h *InventoryHandler) RegisterRoutes(r chi.Router) {
	r.Get("/", h.List)
	r.Post("/", h.Create)
	r.Post("/{id}/adjust", h.Adjust)
	r.Get("/movements", h.Movements)
}

// --- Request / Response types ---

type createInventoryItemRequest struct {
	Name     string `json:"name"`
	Unit     string `json:"unit"`
	Quantity string `json:"quantity"`
}

type adjustInventoryRequest struct {
	Delta  string `json:"delta"`
	Reason string `json:"reason"`
}

type inventoryItemResponse struct {
	ID       uuid.UUID `json:"id"`
	Name     string    `json:"name"`
	Unit     string    `json:"unit"`
	Quantity string    `json:"quantity"`
}

type movementResponse struct {
	ID              uuid.UUID `json:"id"`
	InventoryItemID uuid.UUID `json:"inventory_item_id"`
	Type            string    `json:"type"`
	Quantity        string    `json:"quantity"`
	Reason          string    `json:"reason"`
	OrderID         *string   `json:"order_id"`
	CreatedAt       time.Time `json:"created_at"`
}

// --- Handlers ---

// List handles GET /inventory.
func (h *InventoryHandler) List(w http.ResponseWriter, r *http.Request) {
	items, err := h.store.ListInventoryItems(r.Context())
	if err != nil {
		h.log.WithError(err).Error("list inventory items")
		errorJSON(w, http.StatusInternalServerError, "internal server error")
		return
	}
	resp := make([]inventoryItemResponse, len(items))
	for i, it := range items {
		resp[i] = toInventoryItemResponse(it)
	}
	writeJSON(w, http.StatusOK, map[string]any{"items": resp})
}

// Create handles POST /inventory.
func (h *InventoryHandler) Create(w http.ResponseWriter, r *http.Request) {
	var req createInventoryItemRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		errorJSON(w, http.StatusBadRequest, "invalid request body")
		return
	}
	if req.Name == "" || req.Unit == "" {
		errorJSON(w, http.StatusBadRequest, "name and unit are required")
		return
	}
	qty := decimal.Zero
	if req.Quantity != "" {
		var err error
		qty, err = decimal.NewFromString(req.Quantity)
		if err != nil {
			errorJSON(w, http.StatusBadRequest, "invalid quantity")
			return
		}
	}

	var numeric pgtype.Numeric
	if err := numeric.Scan(qty.StringFixed(4)); err != nil {
		errorJSON(w, http.StatusBadRequest, "invalid quantity")
		return
	}

	item, err := h.store.CreateInventoryItem(r.Context(), database.CreateInventoryItemParams{
		Name:     req.Name,
		Unit:     req.Unit,
		Quantity: numeric,
	})
	if err != nil {
		h.log.WithError(err).Error("create inventory item")
		errorJSON(w, http.StatusInternalServerError, "internal server error")
		return
	}
	writeJSON(w, http.StatusCreated, toInventoryItemResponse(item))
}

// Adjust handles POST /inventory/{id}/adjust.
func (h *InventoryHandler) Adjust(w http.ResponseWriter, r *http.Request) {
	itemID, err := uuid.Parse(chi.URLParam(r, "id"))
	if err != nil {
		errorJSON(w, http.StatusBadRequest, "invalid item ID")
		return
	}

	var req adjustInventoryRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		errorJSON(w, http.StatusBadRequest, "invalid request body")
		return
	}
	delta, err := decimal.NewFromString(req.Delta)
	if err != nil || delta.IsZero() {
		errorJSON(w, http.StatusBadRequest, "delta must be a non-zero decimal")
		return
	}
	if req.Reason == "" {
		errorJSON(w, http.StatusBadRequest, "reason is required")
		return
	}

	item, err := h.svc.Adjust(r.Context(), itemID, delta, req.Reason)
	if err != nil {
		if errors.Is(err, service.ErrInventoryItemNotFound) {
			errorJSON(w, http.StatusNotFound, err.Error())
			return
		}
		h.log.WithError(err).Error("adjust inventory")
		errorJSON(w, http.StatusInternalServerError, "internal server error")
		return
	}
	writeJSON(w, http.StatusOK, toInventoryItemResponse(item))
}

// Movements handles GET /inventory/movements.
func (h *InventoryHandler) Movements(w http.ResponseWriter, r *http.Request) {
	limit := 50
	if s := r.URL.Query().Get("limit"); s != "" {
		if v, err := strconv.Atoi(s); err == nil && v > 0 {
			limit = v
		}
	}
	if limit > 200 {
		limit = 200
	}
	offset := 0
	if s := r.URL.Query().Get("offset"); s != "" {
		if v, err := strconv.Atoi(s); err == nil && v >= 0 {
			offset = v
		}
	}

	movements, err := h.store.ListInventoryMovements(r.Context(), database.ListInventoryMovementsParams{
		Limit:  int32(limit),
		Offset: int32(offset),
	})
	if err != nil {
		h.log.WithError(err).Error("list inventory movements")
		errorJSON(w, http.StatusInternalServerError, "internal server error")
		return
	}

	resp := make([]movementResponse, len(movements))
	for i, m := range movements {
		resp[i] = movementResponse{
			ID:              m.ID,
			InventoryItemID: m.InventoryItemID,
			Type:            m.Type,
			Quantity:        numericToStockString(m.Quantity),
			Reason:          m.Reason,
			CreatedAt:       m.CreatedAt,
		}
		if m.OrderID.Valid {
			resp[i].OrderID = &m.OrderID.String
		}
	}
	writeJSON(w, http.StatusOK, map[string]any{"movements": resp, "limit": limit, "offset": offset})
}

// --- Helpers ---

func toInventoryItemResponse(it database.InventoryItem) inventoryItemResponse {
	return inventoryItemResponse{
		ID:       it.ID,
		Name:     it.Name,
		Unit:     it.Unit,
		Quantity: numericToStockString(it.Quantity),
	}
}
