package handler

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"

	"github.com/go-chi/chi/v5"
	"github.com/jackc/pgx/v5"
	"github.com/sirupsen/logrus"

	"github.com/comanda-pos/api/internal/database"
	"github.com/comanda-pos/api/internal/service"
	"github.com/comanda-pos/api/internal/storegate"
)

// DigitalServicer defines the service methods needed by the public
// digital-menu endpoints. Satisfied by *service.TableService.
type DigitalServicer interface {
	SubmitDigitalOrder(ctx context.Context, req *service.DigitalOrderRequest) (*service.DigitalOrderResult, error)
	RequestBill(ctx context.Context, tableNumber int32, sessionToken string) error
}

// DigitalReader defines the database methods needed by guest reads.
type DigitalReader interface {
	ListProducts(ctx context.Context) ([]database.Product, error)
	GetTableSessionByToken(ctx context.Context, token string) (database.TableSession, error)
	GetOrder(ctx context.Context, id string) (database.Order, error)
	ListOrderItemsByOrder(ctx context.Context, orderID string) ([]database.OrderItem, error)
}

// DigitalHandler serves the unauthenticated guest surface of the digital menu.
type DigitalHandler struct {
	svc   DigitalServicer
	store DigitalReader
	log   *logrus.Logger
}

func NewDigitalHandler(svc DigitalServicer, store DigitalReader, log *logrus.Logger) *DigitalHandler {
	return &DigitalHandler{svc: svc, store: store, log: log}
}

// RegisterRoutes registers the public digital-menu endpoints.
func (h *DigitalHandler) RegisterRoutes(r chi.Router) {
	r.Get("/menu", h.Menu)
	r.Post("/orders", h.Submit)
	r.Get("/session/{token}", h.Session)
	r.Post("/session/{token}/bill", h.RequestBill)
}

// --- Request / Response types ---

type digitalOrderRequest struct {
	TableNumber  int32              `json:"table_number"`
	SessionToken string             `json:"session_token"`
	Pin          string             `json:"pin"`
	GuestName    string             `json:"guest_name"`
	Lat          float64            `json:"lat"`
	Lng          float64            `json:"lng"`
	Items        []orderItemRequest `json:"items"`
}

type digitalOrderResponse struct {
	TableNumber  int32  `json:"table_number"`
	Status       string `json:"status"`
	Pin          string `json:"pin"`
	SessionToken string `json:"session_token"`
	Created      bool   `json:"created"`
}

type menuProductResponse struct {
	ID    string `json:"id"`
	Name  string `json:"name"`
	Price string `json:"price"`
}

// --- Handlers ---

// Menu handles GET /digital/menu: active products only.
func (h *DigitalHandler) Menu(w http.ResponseWriter, r *http.Request) {
	products, err := h.store.ListProducts(r.Context())
	if err != nil {
		h.log.WithError(err).Error("list products")
		errorJSON(w, http.StatusInternalServerError, "internal server error")
		return
	}

	resp := make([]menuProductResponse, 0, len(products))
	for _, p := range products {
		if !p.Active {
			continue
		}
		resp = append(resp, menuProductResponse{
			ID:    p.ID.String(),
			Name:  p.Name,
			Price: numericToString(p.Price),
		})
	}
	writeJSON(w, http.StatusOK, map[string]any{"products": resp})
}

// Submit handles POST /digital/orders.
func (h *DigitalHandler) Submit(w http.ResponseWriter, r *http.Request) {
	var req digitalOrderRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		errorJSON(w, http.StatusBadRequest, "invalid request body")
		return
	}
	if len(req.Items) == 0 {
		errorJSON(w, http.StatusBadRequest, "items are required")
		return
	}

	result, err := h.svc.SubmitDigitalOrder(r.Context(), &service.DigitalOrderRequest{
		TableNumber:  req.TableNumber,
		SessionToken: req.SessionToken,
		Pin:          req.Pin,
		GuestName:    req.GuestName,
		Lat:          req.Lat,
		Lng:          req.Lng,
		Items:        toServiceItems(req.Items),
	})
	if err != nil {
		h.writeServiceError(w, "submit digital order", err)
		return
	}

	writeJSON(w, http.StatusCreated, digitalOrderResponse{
		TableNumber:  result.Session.TableNumber,
		Status:       result.Session.Status,
		Pin:          result.Session.Pin,
		SessionToken: result.Session.SessionToken,
		Created:      result.Created,
	})
}

// Session handles GET /digital/session/{token}: the guest's view of the tab.
func (h *DigitalHandler) Session(w http.ResponseWriter, r *http.Request) {
	token := chi.URLParam(r, "token")

	session, err := h.store.GetTableSessionByToken(r.Context(), token)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			errorJSON(w, http.StatusNotFound, "session not found")
			return
		}
		h.log.WithError(err).Error("get session by token")
		errorJSON(w, http.StatusInternalServerError, "internal server error")
		return
	}

	detail := tableDetailResponse{Session: toSessionResponse(session)}
	orderID := service.TableOrderID(session.TableNumber)
	if order, err := h.store.GetOrder(r.Context(), orderID); err == nil {
		items, err := h.store.ListOrderItemsByOrder(r.Context(), orderID)
		if err != nil {
			h.log.WithError(err).Error("list digital order items")
			errorJSON(w, http.StatusInternalServerError, "internal server error")
			return
		}
		resp := dbOrderToResponse(order, items)
		detail.Order = &resp
	} else if !errors.Is(err, pgx.ErrNoRows) {
		h.log.WithError(err).Error("get digital order")
		errorJSON(w, http.StatusInternalServerError, "internal server error")
		return
	}

	writeJSON(w, http.StatusOK, detail)
}

// RequestBill handles POST /digital/session/{token}/bill.
func (h *DigitalHandler) RequestBill(w http.ResponseWriter, r *http.Request) {
	token := chi.URLParam(r, "token")
	if token == "" {
		errorJSON(w, http.StatusBadRequest, "session token is required")
		return
	}

	if err := h.svc.RequestBill(r.Context(), 0, token); err != nil {
		h.writeServiceError(w, "request bill", err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]string{"status": "billing"})
}

// --- Helpers ---

func (h *DigitalHandler) writeServiceError(w http.ResponseWriter, op string, err error) {
	switch {
	case errors.Is(err, storegate.ErrStoreClosed),
		errors.Is(err, storegate.ErrOutOfRange):
		errorJSON(w, http.StatusForbidden, err.Error())
	case errors.Is(err, service.ErrInvalidPin),
		errors.Is(err, service.ErrInvalidSessionToken):
		errorJSON(w, http.StatusUnauthorized, err.Error())
	case errors.Is(err, service.ErrTableSessionNotFound):
		errorJSON(w, http.StatusNotFound, err.Error())
	case isValidationError(err):
		errorJSON(w, http.StatusBadRequest, err.Error())
	default:
		h.log.WithError(err).Error(op)
		errorJSON(w, http.StatusInternalServerError, "internal server error")
	}
}
