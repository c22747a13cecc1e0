package handler

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"

	"github.com/go-chi/chi/v5"
	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"
	"github.com/sirupsen/logrus"

	"github.com/comanda-pos/api/internal/database"
	"github.com/comanda-pos/api/internal/enum"
	"github.com/comanda-pos/api/internal/events"
)

// DriverStore defines the database methods needed by driver handlers.
type DriverStore interface {
	GetDriver(ctx context.Context, id uuid.UUID) (database.Driver, error)
	ListDrivers(ctx context.Context) ([]database.Driver, error)
	CreateDriver(ctx context.Context, arg database.CreateDriverParams) (database.Driver, error)
	UpdateDriverStatus(ctx context.Context, arg database.UpdateDriverStatusParams) (database.Driver, error)
}

// DriverHandler handles the delivery fleet endpoints.
type DriverHandler struct {
	store DriverStore
	pub   events.Publisher
	log   *logrus.Logger
}

func NewDriverHandler(store DriverStore, pub events.Publisher, log *logrus.Logger) *DriverHandler {
	return &DriverHandler{store: store, pub: pub, log: log}
}

// RegisterRoutes registers driver endpoints on the given Chi router.
func (h *DriverHandler) RegisterRoutes(r chi.Router) {
	r.Get("/", h.List)
	r.Post("/", h.Create)
	r.Patch("/{id}/status", h.UpdateStatus)
}

// --- Request / Response types ---

type createDriverRequest struct {
	Name string `json:"name"`
}

type updateDriverStatusRequest struct {
	Status string `json:"status"`
}

type driverResponse struct {
	ID     uuid.UUID `json:"id"`
	Name   string    `json:"name"`
	Status string    `json:"status"`
}

// --- Handlers ---

// List handles GET /drivers.
func (h *DriverHandler) List(w http.ResponseWriter, r *http.Request) {
	drivers, err := h.store.ListDrivers(r.Context())
	if err != nil {
		h.log.WithError(err).Error("list drivers")
		errorJSON(w, http.StatusInternalServerError, "internal server error")
		return
	}
	resp := make([]driverResponse, len(drivers))
	for i, d := range drivers {
		resp[i] = driverResponse(d)
	}
	writeJSON(w, http.StatusOK, map[string]any{"drivers": resp})
}

// Create handles POST /drivers.
func (h *DriverHandler) Create(w http.ResponseWriter, r *http.Request) {
	var req createDriverRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		errorJSON(w, http.StatusBadRequest, "invalid request body")
		return
	}
	if req.Name == "" {
		errorJSON(w, http.StatusBadRequest, "name is required")
		return
	}

	driver, err := h.store.CreateDriver(r.Context(), database.CreateDriverParams{
		Name:   req.Name,
		Status: enum.DriverOffline,
	})
	if err != nil {
		h.log.WithError(err).Error("create driver")
		errorJSON(w, http.StatusInternalServerError, "internal server error")
		return
	}
	writeJSON(w, http.StatusCreated, driverResponse(driver))
}

// UpdateStatus handles PATCH /drivers/{id}/status.
func (h *DriverHandler) UpdateStatus(w http.ResponseWriter, r *http.Request) {
	id := chi.URLParam(r, "id")
	if _, err := uuid.Parse(id); err != nil {
		errorJSON(w, http.StatusBadRequest, "invalid driver ID")
		return
	}

	var req updateDriverStatusRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		errorJSON(w, http.StatusBadRequest, "invalid request body")
		return
	}
	switch req.Status {
	case enum.DriverAvailable, enum.DriverBusy, enum.DriverOffline:
	default:
		errorJSON(w, http.StatusBadRequest, "invalid status")
		return
	}

	driver, err := h.store.UpdateDriverStatus(r.Context(), database.UpdateDriverStatusParams{
		ID:     id,
		Status: req.Status,
	})
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			errorJSON(w, http.StatusNotFound, "driver not found")
			return
		}
		h.log.WithError(err).Error("update driver status")
		errorJSON(w, http.StatusInternalServerError, "internal server error")
		return
	}

	h.pub.Publish(events.ChannelAll, events.Event{
		Type:    events.TypeDriversUpdated,
		Payload: map[string]any{"driverId": driver.ID.String(), "status": driver.Status},
	})
	writeJSON(w, http.StatusOK, driverResponse(driver))
}
