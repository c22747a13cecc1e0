package handler

import (
	"context"
	"errors"
	"net/http"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/jackc/pgx/v5"
	"github.com/sirupsen/logrus"

	"github.com/comanda-pos/api/internal/database"
)

// ClientStore defines the database methods needed by client handlers.
type ClientStore interface {
	GetClient(ctx context.Context, id string) (database.Client, error)
	ListClients(ctx context.Context) ([]database.Client, error)
}

// ClientHandler handles client read endpoints. Clients are created
// implicitly by the order flow, never through the API.
type ClientHandler struct {
	store ClientStore
	log   *logrus.Logger
}

func NewClientHandler(store ClientStore, log *logrus.Logger) *ClientHandler {
	return &ClientHandler{store: store, log: log}
}

// RegisterRoutes registers client endpoints on the given Chi router.
func (h *ClientHandler) RegisterRoutes(r chi.Router) {
	r.Get("/", h.List)
	r.Get("/{id}", h.Get)
}

type clientResponse struct {
	ID            string     `json:"id"`
	Name          string     `json:"name"`
	Phone         *string    `json:"phone"`
	TotalOrders   int32      `json:"total_orders"`
	LastOrderDate *time.Time `json:"last_order_date"`
	CreatedAt     time.Time  `json:"created_at"`
}

// List handles GET /clients.
func (h *ClientHandler) List(w http.ResponseWriter, r *http.Request) {
	clients, err := h.store.ListClients(r.Context())
	if err != nil {
		h.log.WithError(err).Error("list clients")
		errorJSON(w, http.StatusInternalServerError, "internal server error")
		return
	}
	resp := make([]clientResponse, len(clients))
	for i, c := range clients {
		resp[i] = toClientResponse(c)
	}
	writeJSON(w, http.StatusOK, map[string]any{"clients": resp})
}

// Get handles GET /clients/{id}.
func (h *ClientHandler) Get(w http.ResponseWriter, r *http.Request) {
	client, err := h.store.GetClient(r.Context(), chi.URLParam(r, "id"))
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			errorJSON(w, http.StatusNotFound, "client not found")
			return
		}
		h.log.WithError(err).Error("get client")
		errorJSON(w, http.StatusInternalServerError, "internal server error")
		return
	}
	writeJSON(w, http.StatusOK, toClientResponse(client))
}

func toClientResponse(c database.Client) clientResponse {
	resp := clientResponse{
		ID:          c.ID,
		Name:        c.Name,
		TotalOrders: c.TotalOrders,
		CreatedAt:   c.CreatedAt,
	}
	if c.Phone.Valid {
		resp.Phone = &c.Phone.String
	}
	if c.LastOrderDate.Valid {
		resp.LastOrderDate = &c.LastOrderDate.Time
	}
	return resp
}
