package event

import (
	"time"

	"github.com/shopspring/decimal"
)

const (
	OrderUpdatesTopic       = "orders.updates"
	EventOrderCreated       = "order.created"
	EventOrderStatusChanged = "order.status_changed"
)

// OrderEventMetadata is the envelope shared by every order event. OccurredAt
// doubles as the server-side update timestamp used for merge ordering.
type OrderEventMetadata struct {
	EventType  string    `json:"event_type"`
	OccurredAt time.Time `json:"occurred_at"`
	OrderID    string    `json:"order_id"`
}

// OrderLinePayload mirrors a single order line on the wire.
type OrderLinePayload struct {
	MenuID         string                 `json:"menu_id"`
	MenuName       string                 `json:"menu_name"`
	Quantity       int                    `json:"quantity"`
	UnitPrice      decimal.Decimal        `json:"unit_price"`
	Customizations map[string]interface{} `json:"customizations,omitempty"`
}

// OrderCreatedEvent announces an order first seen by the server. The payload
// may be partial; anything missing is filled in by the next full poll.
type OrderCreatedEvent struct {
	OrderEventMetadata
	Status       string             `json:"status"`
	Total        decimal.Decimal    `json:"total"`
	Lines        []OrderLinePayload `json:"items,omitempty"`
	CustomerName string             `json:"customer_name,omitempty"`

	// Denormalized data for dashboard display
	CustomerPhone       string `json:"customer_phone,omitempty"`
	CustomerEmail       string `json:"customer_email,omitempty"`
	SpecialInstructions string `json:"special_instructions,omitempty"`
	EstimatedTime       string `json:"estimated_time,omitempty"`
}

// OrderStatusChangedEvent announces a server-side status transition.
type OrderStatusChangedEvent struct {
	OrderEventMetadata
	NewStatus      string `json:"new_status"`
	PreviousStatus string `json:"previous_status,omitempty"`
	Notes          string `json:"notes,omitempty"`
}
