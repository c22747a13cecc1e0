package handler

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"strconv"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/jackc/pgx/v5"
	"github.com/sirupsen/logrus"

	"github.com/comanda-pos/api/internal/database"
	"github.com/comanda-pos/api/internal/service"
)

// TableServicer defines the service methods needed by table handlers.
// Satisfied by *service.TableService; narrow interface for testability.
type TableServicer interface {
	Save(ctx context.Context, tableNumber int32, req *service.TableSaveRequest) (*service.Result, error)
	Delete(ctx context.Context, tableNumber int32) error
	ApprovePending(ctx context.Context, tableNumber int32) (*service.Result, error)
	RejectPending(ctx context.Context, tableNumber int32) error
	RequestBill(ctx context.Context, tableNumber int32, sessionToken string) error
}

// TableReader defines the database methods needed by the read endpoints.
type TableReader interface {
	ListTableSessions(ctx context.Context) ([]database.TableSession, error)
	GetTableSession(ctx context.Context, tableNumber int32) (database.TableSession, error)
	GetOrder(ctx context.Context, id string) (database.Order, error)
	ListOrderItemsByOrder(ctx context.Context, orderID string) ([]database.OrderItem, error)
}

// TableHandler handles the staff-side table endpoints.
type TableHandler struct {
	svc   TableServicer
	store TableReader
	log   *logrus.Logger
}

func NewTableHandler(svc TableServicer, store TableReader, log *logrus.Logger) *TableHandler {
	return &TableHandler{svc: svc, store: store, log: log}
}

// RegisterRoutes registers table endpoints on the given Chi router.
func (h *TableHandler) RegisterRoutes(r chi.Router) {
	r.Get("/", h.List)
	r.Get("/{number}", h.Get)
	r.Put("/{number}", h.Save)
	r.Delete("/{number}", h.Delete)
	r.Post("/{number}/approve", h.Approve)
	r.Post("/{number}/reject", h.Reject)
	r.Post("/{number}/bill", h.RequestBill)
}

// --- Request / Response types ---

type tableSaveRequest struct {
	ClientID      string             `json:"client_id"`
	PaymentMethod string             `json:"payment_method"`
	Items         []orderItemRequest `json:"items"`
}

type tableSessionResponse struct {
	TableNumber        int32           `json:"table_number"`
	Status             string          `json:"status"`
	HasPendingDigital  bool            `json:"has_pending_digital"`
	PendingReviewItems json.RawMessage `json:"pending_review_items"`
	Pin                string          `json:"pin"`
	ClientID           string          `json:"client_id"`
	CreatedAt          time.Time       `json:"created_at"`
	UpdatedAt          time.Time       `json:"updated_at"`
}

type tableDetailResponse struct {
	Session tableSessionResponse `json:"session"`
	Order   *orderResponse       `json:"order"`
}

// --- Handlers ---

func tableNumberParam(r *http.Request) (int32, bool) {
	n, err := strconv.Atoi(chi.URLParam(r, "number"))
	if err != nil || n <= 0 {
		return 0, false
	}
	return int32(n), true
}

// List handles GET /tables.
func (h *TableHandler) List(w http.ResponseWriter, r *http.Request) {
	sessions, err := h.store.ListTableSessions(r.Context())
	if err != nil {
		h.log.WithError(err).Error("list table sessions")
		errorJSON(w, http.StatusInternalServerError, "internal server error")
		return
	}
	resp := make([]tableSessionResponse, len(sessions))
	for i, s := range sessions {
		resp[i] = toSessionResponse(s)
	}
	writeJSON(w, http.StatusOK, map[string]any{"tables": resp})
}

// Get handles GET /tables/{number}: the session plus its running tab.
func (h *TableHandler) Get(w http.ResponseWriter, r *http.Request) {
	number, ok := tableNumberParam(r)
	if !ok {
		errorJSON(w, http.StatusBadRequest, "invalid table number")
		return
	}

	session, err := h.store.GetTableSession(r.Context(), number)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			errorJSON(w, http.StatusNotFound, "table session not found")
			return
		}
		h.log.WithError(err).Error("get table session")
		errorJSON(w, http.StatusInternalServerError, "internal server error")
		return
	}

	detail := tableDetailResponse{Session: toSessionResponse(session)}

	orderID := service.TableOrderID(number)
	if order, err := h.store.GetOrder(r.Context(), orderID); err == nil {
		items, err := h.store.ListOrderItemsByOrder(r.Context(), orderID)
		if err != nil {
			h.log.WithError(err).Error("list table order items")
			errorJSON(w, http.StatusInternalServerError, "internal server error")
			return
		}
		resp := dbOrderToResponse(order, items)
		detail.Order = &resp
	} else if !errors.Is(err, pgx.ErrNoRows) {
		h.log.WithError(err).Error("get table order")
		errorJSON(w, http.StatusInternalServerError, "internal server error")
		return
	}

	writeJSON(w, http.StatusOK, detail)
}

// Save handles PUT /tables/{number}.
func (h *TableHandler) Save(w http.ResponseWriter, r *http.Request) {
	number, ok := tableNumberParam(r)
	if !ok {
		errorJSON(w, http.StatusBadRequest, "invalid table number")
		return
	}

	var req tableSaveRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		errorJSON(w, http.StatusBadRequest, "invalid request body")
		return
	}

	result, err := h.svc.Save(r.Context(), number, &service.TableSaveRequest{
		ClientID:      req.ClientID,
		PaymentMethod: req.PaymentMethod,
		Items:         toServiceItems(req.Items),
	})
	if err != nil {
		h.writeServiceError(w, "save table", err)
		return
	}

	writeJSON(w, http.StatusOK, toOrderResponse(result))
}

// Delete handles DELETE /tables/{number}. Releasing a free table is a no-op.
func (h *TableHandler) Delete(w http.ResponseWriter, r *http.Request) {
	number, ok := tableNumberParam(r)
	if !ok {
		errorJSON(w, http.StatusBadRequest, "invalid table number")
		return
	}

	if err := h.svc.Delete(r.Context(), number); err != nil {
		h.writeServiceError(w, "release table", err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]string{"status": "released"})
}

// Approve handles POST /tables/{number}/approve.
func (h *TableHandler) Approve(w http.ResponseWriter, r *http.Request) {
	number, ok := tableNumberParam(r)
	if !ok {
		errorJSON(w, http.StatusBadRequest, "invalid table number")
		return
	}

	result, err := h.svc.ApprovePending(r.Context(), number)
	if err != nil {
		h.writeServiceError(w, "approve pending digital order", err)
		return
	}
	writeJSON(w, http.StatusOK, toOrderResponse(result))
}

// Reject handles POST /tables/{number}/reject.
func (h *TableHandler) Reject(w http.ResponseWriter, r *http.Request) {
	number, ok := tableNumberParam(r)
	if !ok {
		errorJSON(w, http.StatusBadRequest, "invalid table number")
		return
	}

	if err := h.svc.RejectPending(r.Context(), number); err != nil {
		h.writeServiceError(w, "reject pending digital order", err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]string{"status": "rejected"})
}

// RequestBill handles POST /tables/{number}/bill.
func (h *TableHandler) RequestBill(w http.ResponseWriter, r *http.Request) {
	number, ok := tableNumberParam(r)
	if !ok {
		errorJSON(w, http.StatusBadRequest, "invalid table number")
		return
	}

	if err := h.svc.RequestBill(r.Context(), number, ""); err != nil {
		h.writeServiceError(w, "request bill", err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]string{"status": "billing"})
}

// --- Helpers ---

func (h *TableHandler) writeServiceError(w http.ResponseWriter, op string, err error) {
	switch {
	case errors.Is(err, service.ErrTableSessionNotFound):
		errorJSON(w, http.StatusNotFound, err.Error())
	case errors.Is(err, service.ErrTableBilling),
		errors.Is(err, service.ErrNothingPending):
		errorJSON(w, http.StatusConflict, err.Error())
	case isValidationError(err):
		errorJSON(w, http.StatusBadRequest, err.Error())
	default:
		h.log.WithError(err).Error(op)
		errorJSON(w, http.StatusInternalServerError, "internal server error")
	}
}

func toSessionResponse(s database.TableSession) tableSessionResponse {
	pending := json.RawMessage(s.PendingReviewItems)
	if len(pending) == 0 {
		pending = json.RawMessage("[]")
	}
	return tableSessionResponse{
		TableNumber:        s.TableNumber,
		Status:             s.Status,
		HasPendingDigital:  s.HasPendingDigital,
		PendingReviewItems: pending,
		Pin:                s.Pin,
		ClientID:           s.ClientID,
		CreatedAt:          s.CreatedAt,
		UpdatedAt:          s.UpdatedAt,
	}
}
