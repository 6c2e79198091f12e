package backoffice

import (
	"time"

	"github.com/shopspring/decimal"

	"github.com/timpyorke/timing-backoffice-sub000/pkg/enums/orderstatus"
)

// CustomerInfo carries the contact details attached to an order.
type CustomerInfo struct {
	Name  string `json:"name"`
	Phone string `json:"phone,omitempty"`
	Email string `json:"email,omitempty"`
}

// OrderLine is a single item inside an order. Line totals are
// UnitPrice x Quantity; the order total is never recomputed from lines,
// it is authoritative from the server.
type OrderLine struct {
	MenuID         string                 `json:"menu_id"`
	MenuName       string                 `json:"menu_name"`
	Quantity       int                    `json:"quantity"`
	UnitPrice      decimal.Decimal        `json:"unit_price"`
	Customizations map[string]interface{} `json:"customizations,omitempty"`
}

// LineTotal returns UnitPrice x Quantity.
func (l OrderLine) LineTotal() decimal.Decimal {
	return l.UnitPrice.Mul(decimal.NewFromInt(int64(l.Quantity)))
}

// Order is the aggregate tracked by the back-office. The ID is assigned by
// the server and never reassigned; within the cache no two entries share one.
// Status decodes through orderstatus so unrecognized upstream values are
// absorbed into the Pending fallback at the boundary.
type Order struct {
	ID                  string             `json:"id"`
	Customer            CustomerInfo       `json:"customer_info"`
	Items               []OrderLine        `json:"items"`
	Status              orderstatus.Status `json:"status"`
	Total               decimal.Decimal    `json:"total"`
	OriginalTotal       *decimal.Decimal   `json:"original_total,omitempty"`
	DiscountAmount      *decimal.Decimal   `json:"discount_amount,omitempty"`
	CreatedAt           time.Time          `json:"created_at"`
	UpdatedAt           time.Time          `json:"updated_at"`
	EstimatedTime       string             `json:"estimated_time,omitempty"`
	SpecialInstructions string             `json:"special_instructions,omitempty"`
	Notes               string             `json:"notes,omitempty"`
}

// Clone returns a copy of the order safe to hand outside the cache.
// Items and customizations are copied; decimals are immutable values.
func (o *Order) Clone() Order {
	out := *o
	if o.Items != nil {
		out.Items = make([]OrderLine, len(o.Items))
		copy(out.Items, o.Items)
		for i, line := range o.Items {
			if line.Customizations != nil {
				c := make(map[string]interface{}, len(line.Customizations))
				for k, v := range line.Customizations {
					c[k] = v
				}
				out.Items[i].Customizations = c
			}
		}
	}
	if o.OriginalTotal != nil {
		v := *o.OriginalTotal
		out.OriginalTotal = &v
	}
	if o.DiscountAmount != nil {
		v := *o.DiscountAmount
		out.DiscountAmount = &v
	}
	return out
}

// PendingMutation records a locally issued status change awaiting server
// confirmation. At most one exists per order at a time.
type PendingMutation struct {
	OrderID      string
	TargetStatus orderstatus.Status
	IssuedAt     time.Time
}

// Notification is a user-facing "new order" surfacing with a bounded
// display lifetime.
type Notification struct {
	OrderID    string             `json:"order_id"`
	Status     orderstatus.Status `json:"status"`
	Total      decimal.Decimal    `json:"total"`
	Customer   string             `json:"customer,omitempty"`
	SurfacedAt time.Time          `json:"surfaced_at"`
}
