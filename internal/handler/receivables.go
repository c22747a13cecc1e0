package handler

import (
	"context"
	"errors"
	"net/http"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgtype"
	"github.com/sirupsen/logrus"

	"github.com/comanda-pos/api/internal/database"
)

// ReceivableStore defines the database methods needed by receivable handlers.
type ReceivableStore interface {
	GetReceivable(ctx context.Context, id string) (database.Receivable, error)
	ListReceivables(ctx context.Context, arg database.ListReceivablesParams) ([]database.Receivable, error)
	SettleReceivable(ctx context.Context, id string) (database.Receivable, error)
}

// ReceivableHandler handles the FIADO receivables endpoints. Receivables are
// created and amended by the order flow, never through the API.
type ReceivableHandler struct {
	store ReceivableStore
	log   *logrus.Logger
}

func NewReceivableHandler(store ReceivableStore, log *logrus.Logger) *ReceivableHandler {
	return &ReceivableHandler{store: store, log: log}
}

// RegisterRoutes registers receivable endpoints on the given Chi router.
func (h *ReceivableHandler) RegisterRoutes(r chi.Router) {
	r.Get("/", h.List)
	r.Get("/{id}", h.Get)
	r.Post("/{id}/settle", h.Settle)
}

type receivableResponse struct {
	ID        string    `json:"id"`
	OrderID   string    `json:"order_id"`
	ClientID  string    `json:"client_id"`
	Amount    string    `json:"amount"`
	DueDate   time.Time `json:"due_date"`
	Status    string    `json:"status"`
	CreatedAt time.Time `json:"created_at"`
}

// List handles GET /receivables.
func (h *ReceivableHandler) List(w http.ResponseWriter, r *http.Request) {
	params := database.ListReceivablesParams{}
	if s := r.URL.Query().Get("status"); s != "" {
		params.Status = pgtype.Text{String: s, Valid: true}
	}

	receivables, err := h.store.ListReceivables(r.Context(), params)
	if err != nil {
		h.log.WithError(err).Error("list receivables")
		errorJSON(w, http.StatusInternalServerError, "internal server error")
		return
	}
	resp := make([]receivableResponse, len(receivables))
	for i, rec := range receivables {
		resp[i] = toReceivableResponse(rec)
	}
	writeJSON(w, http.StatusOK, map[string]any{"receivables": resp})
}

// Get handles GET /receivables/{id}.
func (h *ReceivableHandler) Get(w http.ResponseWriter, r *http.Request) {
	rec, err := h.store.GetReceivable(r.Context(), chi.URLParam(r, "id"))
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			errorJSON(w, http.StatusNotFound, "receivable not found")
			return
		}
		h.log.WithError(err).Error("get receivable")
		errorJSON(w, http.StatusInternalServerError, "internal server error")
		return
	}
	writeJSON(w, http.StatusOK, toReceivableResponse(rec))
}

// Settle handles POST /receivables/{id}/settle.
func (h *ReceivableHandler) Settle(w http.ResponseWriter, r *http.Request) {
	rec, err := h.store.SettleReceivable(r.Context(), chi.URLParam(r, "id"))
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			errorJSON(w, http.StatusNotFound, "receivable not found")
			return
		}
		h.log.WithError(err).Error("settle receivable")
		errorJSON(w, http.StatusInternalServerError, "internal server error")
		return
	}
	writeJSON(w, http.StatusOK, toReceivableResponse(rec))
}

func toReceivableResponse(rec database.Receivable) receivableResponse {
	return receivableResponse{
		ID:        rec.ID,
		OrderID:   rec.OrderID,
		ClientID:  rec.ClientID,
		Amount:    numericToString(rec.Amount),
		DueDate:   rec.DueDate,
		Status:    rec.Status,
		CreatedAt: rec.CreatedAt,
	}
}
