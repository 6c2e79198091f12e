package backoffice

import (
	"sort"
	"sync"
	"time"

	"github.com/appetiteclub/apt"
)

const defaultNotifyWindow = 5 * time.Second

// NotificationSink receives surfaced notifications and clear signals.
// The SSE layer implements it; which notification the UI actually shows
// is its policy, not the debouncer's.
type NotificationSink interface {
	NotificationSurfaced(n Notification)
	NotificationCleared(orderID string)
}

// OrderNotifier converts a burst of raw new-order signals into at most one
// surfaced notification per order within the debounce window. Windows are
// keyed per order; one order surfacing never cancels another. After the
// window elapses the notification auto-clears.
type OrderNotifier struct {
	window time.Duration
	logger apt.Logger

	mu     sync.Mutex
	active map[string]*windowEntry
	sink   NotificationSink
	closed bool
}

type windowEntry struct {
	notification Notification
	timer        *time.Timer
}

// NewOrderNotifier creates a notifier. A non-positive window falls back to
// the 5 second default.
func NewOrderNotifier(window time.Duration, logger apt.Logger) *OrderNotifier {
	if window <= 0 {
		window = defaultNotifyWindow
	}
	if logger == nil {
		logger = apt.NewNoopLogger()
	}
	return &OrderNotifier{
		window: window,
		logger: logger,
		active: make(map[string]*windowEntry),
	}
}

// SetSink wires the delivery target. Notifications raised while no sink is
// set are still debounced and appear in Active.
func (n *OrderNotifier) SetSink(sink NotificationSink) {
	n.mu.Lock()
	defer n.mu.Unlock()
	n.sink = sink
}

// Notify surfaces a new-order notification unless one is already visible
// for the same order. Redundant arrivals from event and poll inside the
// window collapse into the single surfaced one.
func (n *OrderNotifier) Notify(order Order) {
	n.mu.Lock()
	if n.closed {
		n.mu.Unlock()
		return
	}
	if _, visible := n.active[order.ID]; visible {
		n.mu.Unlock()
		return
	}

	notification := Notification{
		OrderID:    order.ID,
		Status:     order.Status,
		Total:      order.Total,
		Customer:   order.Customer.Name,
		SurfacedAt: time.Now().UTC(),
	}

	orderID := order.ID
	entry := &windowEntry{notification: notification}
	entry.timer = time.AfterFunc(n.window, func() {
		n.expire(orderID)
	})
	n.active[orderID] = entry
	sink := n.sink
	n.mu.Unlock()

	n.logger.Debug("new order surfaced", "order_id", orderID)
	if sink != nil {
		sink.NotificationSurfaced(notification)
	}
}

// Clear dismisses a notification explicitly, cancelling its auto-clear.
func (n *OrderNotifier) Clear(orderID string) {
	n.mu.Lock()
	entry, ok := n.active[orderID]
	if ok {
		entry.timer.Stop()
		delete(n.active, orderID)
	}
	sink := n.sink
	n.mu.Unlock()

	if ok && sink != nil {
		sink.NotificationCleared(orderID)
	}
}

// Active returns the currently visible notifications, oldest first.
func (n *OrderNotifier) Active() []Notification {
	n.mu.Lock()
	defer n.mu.Unlock()

	result := make([]Notification, 0, len(n.active))
	for _, entry := range n.active {
		result = append(result, entry.notification)
	}
	sortNotifications(result)
	return result
}

// Stop cancels every outstanding window. No timer fires after Stop
// returns; a timer firing against a torn-down notifier is a defect.
func (n *OrderNotifier) Stop() {
	n.mu.Lock()
	defer n.mu.Unlock()

	n.closed = true
	for id, entry := range n.active {
		entry.timer.Stop()
		delete(n.active, id)
	}
}

func (n *OrderNotifier) expire(orderID string) {
	n.mu.Lock()
	_, ok := n.active[orderID]
	if ok {
		delete(n.active, orderID)
	}
	sink := n.sink
	closed := n.closed
	n.mu.Unlock()

	if ok && !closed && sink != nil {
		sink.NotificationCleared(orderID)
	}
}

func sortNotifications(ns []Notification) {
	sort.Slice(ns, func(i, j int) bool {
		return ns[i].SurfacedAt.Before(ns[j].SurfacedAt)
	})
}
