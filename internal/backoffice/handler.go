package backoffice

import (
	"encoding/json"
	"errors"
	"io"
	"net/http"
	"strings"
	"time"

	"github.com/appetiteclub/apt"
	"github.com/appetiteclub/apt/telemetry"
	"github.com/go-chi/chi/v5"

	"github.com/timpyorke/timing-backoffice-sub000/internal/orderstream"
	"github.com/timpyorke/timing-backoffice-sub000/pkg/enums/orderstatus"
)

const MaxBodyBytes = 1 << 20

type Handler struct {
	logger      apt.Logger
	config      *apt.Config
	tlm         *telemetry.HTTP
	cache       *OrderStateCache
	coordinator *MutationCoordinator
	notifier    *OrderNotifier
	scheduler   *RefreshScheduler
	supervisor  *orderstream.Supervisor
	hub         *StreamHub
}

type HandlerDeps struct {
	Cache       *OrderStateCache
	Coordinator *MutationCoordinator
	Notifier    *OrderNotifier
	Scheduler   *RefreshScheduler
	Supervisor  *orderstream.Supervisor
	Hub         *StreamHub
}

func NewHandler(hd HandlerDeps, config *apt.Config, logger apt.Logger) *Handler {
	if logger == nil {
		logger = apt.NewNoopLogger()
	}

	return &Handler{
		config:      config,
		logger:      logger,
		tlm:         telemetry.NewHTTP(),
		cache:       hd.Cache,
		coordinator: hd.Coordinator,
		notifier:    hd.Notifier,
		scheduler:   hd.Scheduler,
		supervisor:  hd.Supervisor,
		hub:         hd.Hub,
	}
}

func (h *Handler) RegisterRoutes(r chi.Router) {
	r.Route("/orders", func(r chi.Router) {
		r.Get("/", h.ListOrders)
		r.Get("/{id}", h.GetOrder)
		r.Patch("/{id}/status", h.UpdateOrderStatus)
		r.Delete("/{id}", h.DismissOrder)
	})

	r.Route("/notifications", func(r chi.Router) {
		r.Get("/", h.ListNotifications)
		r.Delete("/{orderID}", h.ClearNotification)
	})

	r.Post("/refresh", h.TriggerRefresh)
	r.Get("/connection", h.ConnectionState)

	if h.hub != nil {
		r.Get("/events", h.hub.ServeHTTP)
	}
}

func (h *Handler) ListOrders(w http.ResponseWriter, r *http.Request) {
	w, r, finish := h.tlm.Start(w, r, "Handler.ListOrders")
	defer finish()

	log := h.log(r)

	orders := h.cache.Snapshot()

	// Support filtering by status via query param
	statusStr := r.URL.Query().Get("status")
	if statusStr != "" {
		status, ok := orderstatus.Parse(statusStr)
		if !ok {
			log.Debug("invalid status parameter", "status", statusStr)
			apt.RespondError(w, http.StatusBadRequest, "Invalid status parameter")
			return
		}
		filtered := orders[:0:0]
		for _, o := range orders {
			if o.Status.Name == status.Name {
				filtered = append(filtered, o)
			}
		}
		orders = filtered
	}

	apt.RespondCollection(w, orders, "order")
}

func (h *Handler) GetOrder(w http.ResponseWriter, r *http.Request) {
	w, r, finish := h.tlm.Start(w, r, "Handler.GetOrder")
	defer finish()

	log := h.log(r)

	id := strings.TrimSpace(chi.URLParam(r, "id"))
	if id == "" {
		log.Debug("missing id parameter")
		apt.RespondError(w, http.StatusBadRequest, "Missing id parameter")
		return
	}

	order, ok := h.cache.Get(id)
	if !ok {
		apt.RespondError(w, http.StatusNotFound, "Order not found")
		return
	}

	apt.RespondSuccess(w, order)
}

func (h *Handler) UpdateOrderStatus(w http.ResponseWriter, r *http.Request) {
	w, r, finish := h.tlm.Start(w, r, "Handler.UpdateOrderStatus")
	defer finish()

	log := h.log(r)
	ctx := r.Context()

	id := strings.TrimSpace(chi.URLParam(r, "id"))
	if id == "" {
		log.Debug("missing id parameter")
		apt.RespondError(w, http.StatusBadRequest, "Missing id parameter")
		return
	}

	req, ok := h.decodeStatusUpdatePayload(w, r, log)
	if !ok {
		return
	}

	status, recognized := orderstatus.Parse(req.Status)
	if !recognized {
		log.Debug("invalid status", "status", req.Status)
		apt.RespondError(w, http.StatusBadRequest, "Invalid status")
		return
	}

	order, err := h.coordinator.UpdateStatus(ctx, id, status)
	if err != nil {
		switch {
		case errors.Is(err, ErrMutationInFlight):
			apt.RespondError(w, http.StatusConflict, "Status update already in progress for this order")
		case errors.Is(err, ErrNotFound):
			apt.RespondError(w, http.StatusNotFound, "Order not found")
		case errors.Is(err, ErrUnauthorized):
			apt.RespondError(w, http.StatusBadGateway, "Upstream rejected credentials")
		default:
			log.Error("cannot update order status", "error", err, "order_id", id)
			apt.RespondError(w, http.StatusBadGateway, "Could not update order status")
		}
		return
	}

	apt.RespondSuccess(w, order)
}

func (h *Handler) DismissOrder(w http.ResponseWriter, r *http.Request) {
	w, r, finish := h.tlm.Start(w, r, "Handler.DismissOrder")
	defer finish()

	log := h.log(r)

	id := strings.TrimSpace(chi.URLParam(r, "id"))
	if id == "" {
		log.Debug("missing id parameter")
		apt.RespondError(w, http.StatusBadRequest, "Missing id parameter")
		return
	}

	h.cache.Remove(id)
	if h.notifier != nil {
		h.notifier.Clear(id)
	}

	w.WriteHeader(http.StatusNoContent)
}

func (h *Handler) ListNotifications(w http.ResponseWriter, r *http.Request) {
	w, r, finish := h.tlm.Start(w, r, "Handler.ListNotifications")
	defer finish()

	if h.notifier == nil {
		apt.RespondCollection(w, []Notification{}, "notification")
		return
	}

	apt.RespondCollection(w, h.notifier.Active(), "notification")
}

func (h *Handler) ClearNotification(w http.ResponseWriter, r *http.Request) {
	w, r, finish := h.tlm.Start(w, r, "Handler.ClearNotification")
	defer finish()

	log := h.log(r)

	orderID := strings.TrimSpace(chi.URLParam(r, "orderID"))
	if orderID == "" {
		log.Debug("missing orderID parameter")
		apt.RespondError(w, http.StatusBadRequest, "Missing orderID parameter")
		return
	}

	if h.notifier != nil {
		h.notifier.Clear(orderID)
	}

	w.WriteHeader(http.StatusNoContent)
}

func (h *Handler) TriggerRefresh(w http.ResponseWriter, r *http.Request) {
	w, r, finish := h.tlm.Start(w, r, "Handler.TriggerRefresh")
	defer finish()

	log := h.log(r)

	if h.scheduler == nil {
		apt.RespondError(w, http.StatusServiceUnavailable, "Refresh scheduler not available")
		return
	}

	h.scheduler.RefreshNow()
	log.Info("manual refresh requested")

	apt.RespondSuccess(w, map[string]interface{}{
		"requested_at": time.Now().UTC(),
	})
}

func (h *Handler) ConnectionState(w http.ResponseWriter, r *http.Request) {
	w, r, finish := h.tlm.Start(w, r, "Handler.ConnectionState")
	defer finish()

	state := orderstream.StateDisconnected
	if h.supervisor != nil {
		state = h.supervisor.State()
	}

	payload := map[string]interface{}{
		"state":      string(state),
		"event_feed": state == orderstream.StateConnected,
	}
	if h.scheduler != nil {
		if err := h.scheduler.LastError(); err != nil {
			payload["last_refresh_error"] = err.Error()
		}
	}

	apt.RespondSuccess(w, payload)
}

// Payload decoders

type StatusUpdateRequest struct {
	Status string `json:"status"`
}

func (h *Handler) decodeStatusUpdatePayload(w http.ResponseWriter, r *http.Request, log apt.Logger) (StatusUpdateRequest, bool) {
	r.Body = http.MaxBytesReader(w, r.Body, MaxBodyBytes)
	defer r.Body.Close()

	body, err := io.ReadAll(r.Body)
	if err != nil {
		log.Debug("failed to read request body", "error", err)
		apt.RespondError(w, http.StatusBadRequest, "Failed to read request body")
		return StatusUpdateRequest{}, false
	}

	var req StatusUpdateRequest
	if err := json.Unmarshal(body, &req); err != nil {
		log.Debug("failed to decode request body", "error", err)
		apt.RespondError(w, http.StatusBadRequest, "Invalid JSON in request body")
		return StatusUpdateRequest{}, false
	}

	return req, true
}

func (h *Handler) log(r *http.Request) apt.Logger {
	return h.logger.With("request_id", r.Context().Value("request_id"))
}
