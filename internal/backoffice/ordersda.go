package backoffice

import (
	"context"
	"fmt"
	"net/url"
	"time"

	"github.com/appetiteclub/apt"

	"github.com/timpyorke/timing-backoffice-sub000/pkg/enums/orderstatus"
)

// statusUpdateRequest is the payload the orders service accepts for a
// status transition.
type statusUpdateRequest struct {
	Status string `json:"status"`
}

// OrderDataAccess is the production OrderTransport. It centralizes decoding
// of orders service responses; everything it returns is already in the
// canonical Order shape with normalized statuses.
type OrderDataAccess struct {
	client *apt.ServiceClient
	logger apt.Logger
}

func NewOrderDataAccess(client *apt.ServiceClient, logger apt.Logger) *OrderDataAccess {
	if logger == nil {
		logger = apt.NewNoopLogger()
	}
	return &OrderDataAccess{client: client, logger: logger}
}

func (da *OrderDataAccess) ListOrders(ctx context.Context, filter *ListFilter) ([]Order, error) {
	if da == nil || da.client == nil {
		return nil, fmt.Errorf("order client not configured")
	}

	path := "/orders"
	if q := filterQuery(filter); q != "" {
		path += "?" + q
	}

	resp, err := da.client.Request(ctx, "GET", path, nil)
	if err != nil {
		return nil, &NetworkError{Err: err}
	}

	var orders []Order
	if err := decodeSuccessResponse(resp, &orders); err != nil {
		return nil, err
	}

	return orders, nil
}

func (da *OrderDataAccess) GetOrder(ctx context.Context, id string) (*Order, error) {
	if da == nil || da.client == nil {
		return nil, fmt.Errorf("order client not configured")
	}
	if id == "" {
		return nil, fmt.Errorf("missing order id")
	}

	resp, err := da.client.Get(ctx, "orders", id)
	if err != nil {
		return nil, &NetworkError{Err: err}
	}

	var order Order
	if err := decodeSuccessResponse(resp, &order); err != nil {
		return nil, err
	}
	if order.ID == "" {
		return nil, ErrNotFound
	}

	return &order, nil
}

func (da *OrderDataAccess) UpdateStatus(ctx context.Context, id string, status orderstatus.Status) (*Order, error) {
	if da == nil || da.client == nil {
		return nil, fmt.Errorf("order client not configured")
	}
	if id == "" {
		return nil, fmt.Errorf("missing order id")
	}

	path := fmt.Sprintf("/orders/%s/status", id)
	resp, err := da.client.Request(ctx, "PATCH", path, statusUpdateRequest{Status: status.Name})
	if err != nil {
		return nil, &NetworkError{Err: err}
	}

	// The server may answer with the full order or a bare status receipt;
	// both decode into the same shape, the coordinator fills the gaps.
	var order Order
	if err := decodeSuccessResponse(resp, &order); err != nil {
		return nil, err
	}
	if order.ID == "" {
		order.ID = id
	}
	if order.Status.Name == "" {
		order.Status = status
	}

	return &order, nil
}

func filterQuery(filter *ListFilter) string {
	if filter == nil {
		return ""
	}
	q := url.Values{}
	if filter.Status != nil {
		q.Set("status", filter.Status.Name)
	}
	if filter.Since != nil {
		q.Set("since", filter.Since.UTC().Format(time.RFC3339))
	}
	return q.Encode()
}
