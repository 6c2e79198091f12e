package backoffice

import (
	"context"
	"encoding/json"

	"github.com/appetiteclub/apt"

	"github.com/timpyorke/timing-backoffice-sub000/pkg/enums/orderstatus"
	"github.com/timpyorke/timing-backoffice-sub000/pkg/event"
)

const (
	eventOrderCreated       = event.EventOrderCreated
	eventOrderStatusChanged = event.EventOrderStatusChanged
)

// OrderEventDispatcher turns raw push-channel payloads into cache merges.
// Malformed payloads are logged and dropped; a broken event must never
// propagate out of the handler and take the stream down.
type OrderEventDispatcher struct {
	cache  *OrderStateCache
	logger apt.Logger
}

// NewOrderEventDispatcher creates a dispatcher feeding the given cache.
func NewOrderEventDispatcher(cache *OrderStateCache, logger apt.Logger) *OrderEventDispatcher {
	if logger == nil {
		logger = apt.NewNoopLogger()
	}
	return &OrderEventDispatcher{
		cache:  cache,
		logger: logger,
	}
}

// HandleEvent satisfies events.HandlerFunc and is the entry point the
// connection supervisor forwards received events through.
func (d *OrderEventDispatcher) HandleEvent(ctx context.Context, msg []byte) error {
	var base struct {
		EventType string `json:"event_type"`
	}
	if err := json.Unmarshal(msg, &base); err != nil {
		d.logger.Error("failed to unmarshal event type", "error", err)
		return nil
	}

	switch base.EventType {
	case eventOrderCreated:
		d.handleOrderCreated(msg)
	case eventOrderStatusChanged:
		d.handleOrderStatusChanged(msg)
	default:
		d.logger.Debug("ignoring unknown event type", "event_type", base.EventType)
	}
	return nil
}

func (d *OrderEventDispatcher) handleOrderCreated(msg []byte) {
	partial, recognized, err := orderFromCreatedPayload(msg)
	if err != nil {
		d.logger.Error("failed to unmarshal order.created event", "error", err)
		return
	}
	if partial.ID == "" {
		d.logger.Error("order.created event without order id")
		return
	}
	if !recognized {
		d.logger.Info("unrecognized order status, falling back to pending", "order_id", partial.ID)
	}

	d.cache.UpsertFromEvent(*partial)
	d.logger.Debug("order created", "order_id", partial.ID, "status", partial.Status.Name)
}

func (d *OrderEventDispatcher) handleOrderStatusChanged(msg []byte) {
	partial, recognized, err := orderFromStatusChangedPayload(msg)
	if err != nil {
		d.logger.Error("failed to unmarshal order.status_changed event", "error", err)
		return
	}
	if partial.ID == "" {
		d.logger.Error("order.status_changed event without order id")
		return
	}
	if !recognized {
		d.logger.Info("unrecognized order status, falling back to pending", "order_id", partial.ID)
	}

	d.cache.UpsertFromEvent(*partial)
	d.logger.Debug("order status changed", "order_id", partial.ID, "new_status", partial.Status.Name)
}

// orderFromCreatedPayload maps an order.created payload to a partial order.
// The bool reports whether the carried status was a recognized value; the
// Pending fallback is applied either way.
func orderFromCreatedPayload(msg []byte) (*Order, bool, error) {
	var evt event.OrderCreatedEvent
	if err := json.Unmarshal(msg, &evt); err != nil {
		return nil, false, err
	}

	status, recognized := orderstatus.Parse(evt.Status)

	order := &Order{
		ID:     evt.OrderID,
		Status: status,
		Customer: CustomerInfo{
			Name:  evt.CustomerName,
			Phone: evt.CustomerPhone,
			Email: evt.CustomerEmail,
		},
		Total:               evt.Total,
		CreatedAt:           evt.OccurredAt,
		UpdatedAt:           evt.OccurredAt,
		SpecialInstructions: evt.SpecialInstructions,
		EstimatedTime:       evt.EstimatedTime,
	}
	for _, line := range evt.Lines {
		order.Items = append(order.Items, OrderLine{
			MenuID:         line.MenuID,
			MenuName:       line.MenuName,
			Quantity:       line.Quantity,
			UnitPrice:      line.UnitPrice,
			Customizations: line.Customizations,
		})
	}
	return order, recognized, nil
}

func orderFromStatusChangedPayload(msg []byte) (*Order, bool, error) {
	var evt event.OrderStatusChangedEvent
	if err := json.Unmarshal(msg, &evt); err != nil {
		return nil, false, err
	}

	status, recognized := orderstatus.Parse(evt.NewStatus)
	return &Order{
		ID:        evt.OrderID,
		Status:    status,
		UpdatedAt: evt.OccurredAt,
		Notes:     evt.Notes,
	}, recognized, nil
}
