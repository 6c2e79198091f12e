package backoffice

import (
	"encoding/json"
	"fmt"
	"net/http"
	"sync"
	"time"

	"github.com/appetiteclub/apt"
	"github.com/google/uuid"

	"github.com/timpyorke/timing-backoffice-sub000/internal/orderstream"
	"github.com/timpyorke/timing-backoffice-sub000/pkg/enums/orderstatus"
)

type sseMessage struct {
	Event string
	Data  []byte
}

// StreamHub fans engine signals out to SSE subscribers: surfaced and
// cleared notifications, status changes and connection-state moves. A slow
// subscriber loses events rather than blocking the engine.
type StreamHub struct {
	logger apt.Logger

	mu          sync.RWMutex
	subscribers map[string]chan sseMessage
}

func NewStreamHub(logger apt.Logger) *StreamHub {
	if logger == nil {
		logger = apt.NewNoopLogger()
	}
	return &StreamHub{
		logger:      logger,
		subscribers: make(map[string]chan sseMessage),
	}
}

// Subscribe adds an SSE subscriber and returns its event channel.
func (h *StreamHub) Subscribe(subscriberID string) <-chan sseMessage {
	h.mu.Lock()
	defer h.mu.Unlock()

	ch := make(chan sseMessage, 100)
	h.subscribers[subscriberID] = ch
	h.logger.Info("new SSE subscriber", "subscriber_id", subscriberID, "total_subscribers", len(h.subscribers))
	return ch
}

// Unsubscribe removes an SSE subscriber.
func (h *StreamHub) Unsubscribe(subscriberID string) {
	h.mu.Lock()
	defer h.mu.Unlock()

	if ch, ok := h.subscribers[subscriberID]; ok {
		close(ch)
		delete(h.subscribers, subscriberID)
		h.logger.Info("SSE subscriber disconnected", "subscriber_id", subscriberID, "total_subscribers", len(h.subscribers))
	}
}

func (h *StreamHub) publish(eventType string, payload interface{}) {
	data, err := json.Marshal(payload)
	if err != nil {
		h.logger.Error("failed to marshal SSE payload", "event", eventType, "error", err)
		return
	}

	h.mu.RLock()
	defer h.mu.RUnlock()

	for subscriberID, ch := range h.subscribers {
		select {
		case ch <- sseMessage{Event: eventType, Data: data}:
		default:
			// Channel full, subscriber too slow - skip this event
			h.logger.Info("subscriber channel full, dropping event", "subscriber_id", subscriberID)
		}
	}
}

// NotificationSurfaced implements NotificationSink.
func (h *StreamHub) NotificationSurfaced(n Notification) {
	h.publish("notification", n)
}

// NotificationCleared implements NotificationSink.
func (h *StreamHub) NotificationCleared(orderID string) {
	h.publish("notification-clear", map[string]string{"order_id": orderID})
}

// ConnectionStateChanged broadcasts a supervisor state move.
func (h *StreamHub) ConnectionStateChanged(state orderstream.State) {
	h.publish("connection-state", map[string]string{"state": string(state)})
}

// OrderChanged broadcasts an order whose status moved.
func (h *StreamHub) OrderChanged(order Order, previous, current orderstatus.Status) {
	h.publish("order-update", struct {
		Order    Order  `json:"order"`
		Previous string `json:"previous_status"`
		Current  string `json:"current_status"`
	}{Order: order, Previous: previous.Name, Current: current.Name})
}

// ServeHTTP implements the SSE endpoint.
func (h *StreamHub) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	w.Header().Set("Content-Type", "text/event-stream")
	w.Header().Set("Cache-Control", "no-cache")
	w.Header().Set("Connection", "keep-alive")
	w.Header().Set("X-Accel-Buffering", "no")

	subscriberID := uuid.New().String()
	eventChan := h.Subscribe(subscriberID)
	defer h.Unsubscribe(subscriberID)

	fmt.Fprintf(w, ": connected\n\n")
	fmt.Fprintf(w, "retry: 2000\n\n")
	if f, ok := w.(http.Flusher); ok {
		f.Flush()
	}

	ticker := time.NewTicker(30 * time.Second)
	defer ticker.Stop()

	for {
		select {
		case <-r.Context().Done():
			h.logger.Info("SSE client disconnected", "subscriber_id", subscriberID)
			return

		case <-ticker.C:
			fmt.Fprintf(w, ": keepalive\n\n")
			if f, ok := w.(http.Flusher); ok {
				f.Flush()
			}

		case msg, ok := <-eventChan:
			if !ok {
				return
			}
			fmt.Fprintf(w, "event: %s\n", msg.Event)
			fmt.Fprintf(w, "data: %s\n\n", msg.Data)
			if f, ok := w.(http.Flusher); ok {
				f.Flush()
			}
		}
	}
}

// EngineFeed glues the cache to the notification layer and the SSE hub.
// It is the CacheListener the store signals through.
type EngineFeed struct {
	notifier *OrderNotifier
	hub      *StreamHub
}

func NewEngineFeed(notifier *OrderNotifier, hub *StreamHub) *EngineFeed {
	return &EngineFeed{notifier: notifier, hub: hub}
}

// OnNewOrder debounces the user-visible surfacing and streams the order.
func (f *EngineFeed) OnNewOrder(order Order) {
	if f.notifier != nil {
		f.notifier.Notify(order)
	}
	if f.hub != nil {
		f.hub.OrderChanged(order, order.Status, order.Status)
	}
}

// OnStatusChanged streams the transition.
func (f *EngineFeed) OnStatusChanged(order Order, previous, current orderstatus.Status) {
	if f.hub != nil {
		f.hub.OrderChanged(order, previous, current)
	}
}
