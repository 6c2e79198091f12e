package backoffice

import (
	"context"
	"errors"
	"fmt"

	"github.com/appetiteclub/apt"

	"github.com/timpyorke/timing-backoffice-sub000/pkg/enums/orderstatus"
)

// ErrMutationInFlight signals that a status change for the order is already
// awaiting server confirmation. It is a guard rejection, not a failure; the
// caller simply keeps whatever is displayed.
var ErrMutationInFlight = errors.New("status update already in progress")

// MutationCoordinator issues locally initiated status changes. There is no
// optimistic write: the displayed status only moves once the server
// confirms, so a failed request leaves the cache untouched and needs no
// rollback.
type MutationCoordinator struct {
	transport OrderTransport
	cache     *OrderStateCache
	logger    apt.Logger
}

func NewMutationCoordinator(transport OrderTransport, cache *OrderStateCache, logger apt.Logger) *MutationCoordinator {
	if logger == nil {
		logger = apt.NewNoopLogger()
	}
	return &MutationCoordinator{
		transport: transport,
		cache:     cache,
		logger:    logger,
	}
}

// UpdateStatus requests the transition and merges the server-confirmed
// result. The server is authoritative: it may reject or alter the
// transition, and what it answers is what the cache gets. At most one
// mutation per order is in flight; concurrent calls for the same order get
// ErrMutationInFlight without a transport call.
func (m *MutationCoordinator) UpdateStatus(ctx context.Context, orderID string, target orderstatus.Status) (*Order, error) {
	if orderID == "" {
		return nil, fmt.Errorf("missing order id")
	}

	if !m.cache.BeginMutation(orderID, target) {
		return nil, ErrMutationInFlight
	}

	confirmed, err := m.transport.UpdateStatus(ctx, orderID, target)
	if err != nil {
		m.cache.EndMutation(orderID)
		m.logger.Error("status update failed", "order_id", orderID, "target", target.Name, "error", err)
		return nil, err
	}

	if confirmed.Status.Name != target.Name {
		m.logger.Info("server altered requested transition",
			"order_id", orderID, "requested", target.Name, "confirmed", confirmed.Status.Name)
	}

	// ApplyMutationResult clears the guard and preserves locally held
	// fields the response omitted.
	m.cache.ApplyMutationResult(orderID, *confirmed)

	merged, ok := m.cache.Get(orderID)
	if !ok {
		return confirmed, nil
	}
	return &merged, nil
}
