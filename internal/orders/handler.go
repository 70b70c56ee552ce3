package orders

import (
	"encoding/json"
	"errors"
	"log/slog"
	"net/http"

	"github.com/ScyisMe/croco-sushi/internal/domain"
)

type Handler struct {
	service *Service
	logger  *slog.Logger
}

func NewHandler(service *Service, logger *slog.Logger) *Handler {
	return &Handler{
		service: service,
		logger:  logger,
	}
}

type createOrderRequest struct {
	Customer  CustomerInfo  `json:"customer"`
	Items     []CartLine    `json:"items"`
	PromoCode string        `json:"promo_code,omitempty"`
	Address   *AddressInput `json:"address,omitempty"`
	Comment   string        `json:"comment,omitempty"`
}

func (h *Handler) HandleCreate(w http.ResponseWriter, r *http.Request) {
	var req createOrderRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		h.writeError(w, http.StatusBadRequest, "invalid request body")
		return
	}

	order, err := h.service.CreateOrder(r.Context(), CreateOrderInput{
		Lines:     req.Items,
		Customer:  req.Customer,
		PromoCode: req.PromoCode,
		Address:   req.Address,
		Comment:   req.Comment,
	})
	if err != nil {
		h.writeServiceError(w, err, "failed to create order")
		return
	}

	h.writeJSON(w, http.StatusCreated, order)
}

func (h *Handler) HandleReorder(w http.ResponseWriter, r *http.Request) {
	id := r.PathValue("id")
	if id == "" {
		h.writeError(w, http.StatusBadRequest, "missing order id")
		return
	}

	order, err := h.service.Reorder(r.Context(), id)
	if err != nil {
		h.writeServiceError(w, err, "failed to reorder")
		return
	}

	h.writeJSON(w, http.StatusCreated, order)
}

func (h *Handler) HandleGet(w http.ResponseWriter, r *http.Request) {
	id := r.PathValue("id")
	if id == "" {
		h.writeError(w, http.StatusBadRequest, "missing order id")
		return
	}

	order, err := h.service.Get(r.Context(), id)
	if err != nil {
		h.writeServiceError(w, err, "failed to get order")
		return
	}

	h.writeJSON(w, http.StatusOK, order)
}

func (h *Handler) HandleList(w http.ResponseWriter, r *http.Request) {
	orders, err := h.service.List(r.Context())
	if err != nil {
		h.writeServiceError(w, err, "failed to list orders")
		return
	}

	h.writeJSON(w, http.StatusOK, orders)
}

// HandleTrack is the public lookup by order number; the response carries
// no customer data.
func (h *Handler) HandleTrack(w http.ResponseWriter, r *http.Request) {
	number := r.PathValue("number")
	if number == "" {
		h.writeError(w, http.StatusBadRequest, "missing order number")
		return
	}

	view, err := h.service.Track(r.Context(), number)
	if err != nil {
		h.writeServiceError(w, err, "failed to track order")
		return
	}

	h.writeJSON(w, http.StatusOK, view)
}

func (h *Handler) HandleHistory(w http.ResponseWriter, r *http.Request) {
	id := r.PathValue("id")
	if id == "" {
		h.writeError(w, http.StatusBadRequest, "missing order id")
		return
	}

	records, err := h.service.History(r.Context(), id)
	if err != nil {
		h.writeServiceError(w, err, "failed to load order history")
		return
	}

	h.writeJSON(w, http.StatusOK, records)
}

type updateStatusRequest struct {
	Status  domain.OrderStatus `json:"status"`
	Comment string             `json:"comment,omitempty"`
}

func (h *Handler) HandleUpdateStatus(w http.ResponseWriter, r *http.Request) {
	id := r.PathValue("id")
	if id == "" {
		h.writeError(w, http.StatusBadRequest, "missing order id")
		return
	}

	var req updateStatusRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		h.writeError(w, http.StatusBadRequest, "invalid request body")
		return
	}

	actor := ManagerRef{Name: r.Header.Get("X-Manager-Name")}
	if managerID := r.Header.Get("X-Manager-Id"); managerID != "" {
		actor.ID = &managerID
	}

	order, err := h.service.Transition(r.Context(), id, req.Status, actor, req.Comment)
	if err != nil {
		h.writeServiceError(w, err, "failed to update order status")
		return
	}

	h.writeJSON(w, http.StatusOK, order)
}

// writeServiceError maps the domain error taxonomy onto HTTP statuses.
// Client faults echo the error message; everything else is opaque.
func (h *Handler) writeServiceError(w http.ResponseWriter, err error, logMsg string) {
	switch {
	case errors.Is(err, domain.ErrValidation):
		h.writeError(w, http.StatusBadRequest, err.Error())
	case errors.Is(err, domain.ErrNotFound):
		h.writeError(w, http.StatusNotFound, err.Error())
	case errors.Is(err, domain.ErrUnavailable):
		h.writeError(w, http.StatusUnprocessableEntity, err.Error())
	case errors.Is(err, domain.ErrConflict):
		h.writeError(w, http.StatusConflict, err.Error())
	default:
		h.logger.Error(logMsg, "error", err)
		h.writeError(w, http.StatusInternalServerError, "internal server error")
	}
}

func (h *Handler) writeJSON(w http.ResponseWriter, status int, data any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	if err := json.NewEncoder(w).Encode(data); err != nil {
		h.logger.Error("failed to encode response", "error", err)
	}
}

func (h *Handler) writeError(w http.ResponseWriter, status int, message string) {
	h.writeJSON(w, status, map[string]string{"error": message})
}
