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
	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgtype"
	"github.com/sirupsen/logrus"

	"github.com/comanda-pos/api/internal/audit"
	"github.com/comanda-pos/api/internal/database"
	"github.com/comanda-pos/api/internal/middleware"
	"github.com/comanda-pos/api/internal/service"
)

// OrderServicer defines the service methods needed by order handlers.
// Satisfied by *service.OrderService; narrow interface for testability.
type OrderServicer interface {
	Upsert(ctx context.Context, req *service.UpsertOrderRequest) (*service.Result, error)
	PatchStatus(ctx context.Context, id string, req service.StatusPatchRequest) (*service.Result, error)
	PatchItems(ctx context.Context, id string, items []service.OrderItemInput) (*service.Result, error)
	Delete(ctx context.Context, id string, actor audit.Actor) (*service.Result, error)
}

// OrderReader defines the database methods needed by the read endpoints.
// Satisfied by *database.Queries; narrow interface for testability.
type OrderReader interface {
	GetOrder(ctx context.Context, id string) (database.Order, error)
	ListOrders(ctx context.Context, arg database.ListOrdersParams) ([]database.Order, error)
	ListOrderItemsByOrder(ctx context.Context, orderID string) ([]database.OrderItem, error)
}

// OrderHandler handles order endpoints.
type OrderHandler struct {
	svc   OrderServicer
	store OrderReader
	log   *logrus.Logger
}

func NewOrderHandler(svc OrderServicer, store OrderReader, log *logrus.Logger) *OrderHandler {
	return &OrderHandler{svc: svc, store: store, log: log}
}

// RegisterRoutes registers order endpoints on the given Chi router.
func (h *OrderHandler) RegisterRoutes(r chi.Router) {
	r.Post("/", h.Upsert)
	r.Get("/", h.List)
	r.Get("/{id}", h.Get)
	r.Put("/{id}", h.Upsert)
	r.Patch("/{id}/status", h.PatchStatus)
	r.Patch("/{id}/items", h.PatchItems)
	r.Delete("/{id}", h.Delete)
}

// --- Request / Response types ---

type orderItemRequest struct {
	ProductID    string `json:"product_id"`
	Quantity     int32  `json:"quantity"`
	Price        string `json:"price"`
	IsReady      bool   `json:"is_ready"`
	Observations string `json:"observations"`
}

type upsertOrderRequest struct {
	Type          string             `json:"type"`
	Status        string             `json:"status"`
	DeliveryFee   string             `json:"delivery_fee"`
	ClientID      string             `json:"client_id"`
	DriverID      string             `json:"driver_id"`
	TableNumber   int32              `json:"table_number"`
	PaymentMethod string             `json:"payment_method"`
	PaymentStatus string             `json:"payment_status"`
	Items         []orderItemRequest `json:"items"`
}

type patchStatusRequest struct {
	Status        *string `json:"status"`
	DriverID      *string `json:"driver_id"`
	PaymentMethod *string `json:"payment_method"`
}

type patchItemsRequest struct {
	Items []orderItemRequest `json:"items"`
}

type orderItemResponse struct {
	ID           uuid.UUID  `json:"id"`
	ProductID    uuid.UUID  `json:"product_id"`
	Quantity     int32      `json:"quantity"`
	Price        string     `json:"price"`
	IsReady      bool       `json:"is_ready"`
	ReadyAt      *time.Time `json:"ready_at"`
	Observations *string    `json:"observations"`
}

type orderResponse struct {
	ID            string              `json:"id"`
	Type          string              `json:"type"`
	Status        string              `json:"status"`
	Total         string              `json:"total"`
	DeliveryFee   string              `json:"delivery_fee"`
	ClientID      string              `json:"client_id"`
	DriverID      *string             `json:"driver_id"`
	AssignedAt    *time.Time          `json:"assigned_at"`
	TableNumber   *int32              `json:"table_number"`
	PaymentMethod *string             `json:"payment_method"`
	PaymentStatus *string             `json:"payment_status"`
	Outcome       string              `json:"outcome,omitempty"`
	Warnings      []string            `json:"warnings,omitempty"`
	CreatedAt     time.Time           `json:"created_at"`
	UpdatedAt     time.Time           `json:"updated_at"`
	Items         []orderItemResponse `json:"items"`
}

type orderListResponse struct {
	Orders []orderResponse `json:"orders"`
	Limit  int             `json:"limit"`
	Offset int             `json:"offset"`
}

// --- Handlers ---

// Upsert handles POST /orders and PUT /orders/{id}.
func (h *OrderHandler) Upsert(w http.ResponseWriter, r *http.Request) {
	var req upsertOrderRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		errorJSON(w, http.StatusBadRequest, "invalid request body")
		return
	}
	if req.Type == "" {
		errorJSON(w, http.StatusBadRequest, "type is required")
		return
	}

	result, err := h.svc.Upsert(r.Context(), &service.UpsertOrderRequest{
		ID:            chi.URLParam(r, "id"),
		Type:          req.Type,
		Status:        req.Status,
		DeliveryFee:   req.DeliveryFee,
		ClientID:      req.ClientID,
		DriverID:      req.DriverID,
		TableNumber:   req.TableNumber,
		PaymentMethod: req.PaymentMethod,
		PaymentStatus: req.PaymentStatus,
		Items:         toServiceItems(req.Items),
	})
	if err != nil {
		h.writeServiceError(w, "upsert order", err)
		return
	}

	writeJSON(w, http.StatusOK, toOrderResponse(result))
}

// List handles GET /orders.
func (h *OrderHandler) List(w http.ResponseWriter, r *http.Request) {
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

	params := database.ListOrdersParams{Limit: int32(limit), Offset: int32(offset)}
	if s := r.URL.Query().Get("status"); s != "" {
		params.Status = pgtype.Text{String: s, Valid: true}
	}
	if s := r.URL.Query().Get("type"); s != "" {
		params.Type = pgtype.Text{String: s, Valid: true}
	}

	orders, err := h.store.ListOrders(r.Context(), params)
	if err != nil {
		h.log.WithError(err).Error("list orders")
		errorJSON(w, http.StatusInternalServerError, "internal server error")
		return
	}

	resp := make([]orderResponse, len(orders))
	for i, o := range orders {
		resp[i] = dbOrderToResponse(o, nil)
	}
	writeJSON(w, http.StatusOK, orderListResponse{Orders: resp, Limit: limit, Offset: offset})
}

// Get handles GET /orders/{id}.
func (h *OrderHandler) Get(w http.ResponseWriter, r *http.Request) {
	id := chi.URLParam(r, "id")

	order, err := h.store.GetOrder(r.Context(), id)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			errorJSON(w, http.StatusNotFound, "order not found")
			return
		}
		h.log.WithError(err).Error("get order")
		errorJSON(w, http.StatusInternalServerError, "internal server error")
		return
	}

	items, err := h.store.ListOrderItemsByOrder(r.Context(), id)
	if err != nil {
		h.log.WithError(err).Error("list order items")
		errorJSON(w, http.StatusInternalServerError, "internal server error")
		return
	}

	writeJSON(w, http.StatusOK, dbOrderToResponse(order, items))
}

// PatchStatus handles PATCH /orders/{id}/status.
func (h *OrderHandler) PatchStatus(w http.ResponseWriter, r *http.Request) {
	var req patchStatusRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		errorJSON(w, http.StatusBadRequest, "invalid request body")
		return
	}
	if req.Status == nil && req.DriverID == nil && req.PaymentMethod == nil {
		errorJSON(w, http.StatusBadRequest, "nothing to update")
		return
	}

	result, err := h.svc.PatchStatus(r.Context(), chi.URLParam(r, "id"), service.StatusPatchRequest{
		Status:        req.Status,
		DriverID:      req.DriverID,
		PaymentMethod: req.PaymentMethod,
	})
	if err != nil {
		h.writeServiceError(w, "patch order status", err)
		return
	}

	writeJSON(w, http.StatusOK, toOrderResponse(result))
}

// PatchItems handles PATCH /orders/{id}/items.
func (h *OrderHandler) PatchItems(w http.ResponseWriter, r *http.Request) {
	var req patchItemsRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		errorJSON(w, http.StatusBadRequest, "invalid request body")
		return
	}

	result, err := h.svc.PatchItems(r.Context(), chi.URLParam(r, "id"), toServiceItems(req.Items))
	if err != nil {
		h.writeServiceError(w, "patch order items", err)
		return
	}

	writeJSON(w, http.StatusOK, toOrderResponse(result))
}

// Delete handles DELETE /orders/{id}.
func (h *OrderHandler) Delete(w http.ResponseWriter, r *http.Request) {
	claims := middleware.ClaimsFromContext(r.Context())
	if claims == nil {
		errorJSON(w, http.StatusUnauthorized, "not authenticated")
		return
	}

	actor := audit.Actor{ID: claims.UserID.String(), Name: claims.Name}
	result, err := h.svc.Delete(r.Context(), chi.URLParam(r, "id"), actor)
	if err != nil {
		h.writeServiceError(w, "delete order", err)
		return
	}

	writeJSON(w, http.StatusOK, toOrderResponse(result))
}

// --- Helpers ---

func (h *OrderHandler) writeServiceError(w http.ResponseWriter, op string, err error) {
	switch {
	case errors.Is(err, service.ErrOrderNotFound):
		errorJSON(w, http.StatusNotFound, err.Error())
	case errors.Is(err, service.ErrInvalidTransition),
		errors.Is(err, service.ErrFinalizedDeliveryOrder),
		errors.Is(err, service.ErrTableBilling):
		errorJSON(w, http.StatusConflict, err.Error())
	case isValidationError(err):
		errorJSON(w, http.StatusBadRequest, err.Error())
	default:
		h.log.WithError(err).Error(op)
		errorJSON(w, http.StatusInternalServerError, "internal server error")
	}
}

// isValidationError checks if the error is a known validation error
// from the service layer that should result in 400 Bad Request.
func isValidationError(err error) bool {
	return errors.Is(err, service.ErrMissingOrder) ||
		errors.Is(err, service.ErrInvalidOrderType) ||
		errors.Is(err, service.ErrInvalidStatus) ||
		errors.Is(err, service.ErrInvalidProductID) ||
		errors.Is(err, service.ErrInvalidQuantity) ||
		errors.Is(err, service.ErrInvalidPrice) ||
		errors.Is(err, service.ErrProductNotFound) ||
		errors.Is(err, service.ErrInvalidTableNumber)
}

func toServiceItems(items []orderItemRequest) []service.OrderItemInput {
	out := make([]service.OrderItemInput, len(items))
	for i, item := range items {
		out[i] = service.OrderItemInput{
			ProductID:    item.ProductID,
			Quantity:     item.Quantity,
			Price:        item.Price,
			IsReady:      item.IsReady,
			Observations: item.Observations,
		}
	}
	return out
}

func toOrderResponse(result *service.Result) orderResponse {
	resp := dbOrderToResponse(result.Order, result.Items)
	resp.Outcome = string(result.Outcome)
	resp.Warnings = result.Warnings
	return resp
}

func dbOrderToResponse(o database.Order, items []database.OrderItem) orderResponse {
	resp := orderResponse{
		ID:          o.ID,
		Type:        o.Type,
		Status:      o.Status,
		Total:       numericToString(o.Total),
		DeliveryFee: numericToString(o.DeliveryFee),
		ClientID:    o.ClientID,
		CreatedAt:   o.CreatedAt,
		UpdatedAt:   o.UpdatedAt,
		Items:       []orderItemResponse{},
	}
	if o.DriverID.Valid && o.DriverID.String != "" {
		resp.DriverID = &o.DriverID.String
	}
	if o.AssignedAt.Valid {
		resp.AssignedAt = &o.AssignedAt.Time
	}
	if o.TableNumber.Valid {
		resp.TableNumber = &o.TableNumber.Int32
	}
	if o.PaymentMethod.Valid {
		resp.PaymentMethod = &o.PaymentMethod.String
	}
	if o.PaymentStatus.Valid {
		resp.PaymentStatus = &o.PaymentStatus.String
	}
	for _, item := range items {
		resp.Items = append(resp.Items, dbOrderItemToResponse(item))
	}
	return resp
}

func dbOrderItemToResponse(item database.OrderItem) orderItemResponse {
	resp := orderItemResponse{
		ID:        item.ID,
		ProductID: item.ProductID,
		Quantity:  item.Quantity,
		Price:     numericToString(item.Price),
		IsReady:   item.IsReady,
	}
	if item.ReadyAt.Valid {
		resp.ReadyAt = &item.ReadyAt.Time
	}
	if item.Observations.Valid {
		resp.Observations = &item.Observations.String
	}
	return resp
}
