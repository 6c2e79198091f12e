package backoffice

import (
	"context"
	"encoding/json"
	"sync"
	"time"

	"github.com/appetiteclub/apt"
	"github.com/appetiteclub/apt/events"

	"github.com/timpyorke/timing-backoffice-sub000/pkg/enums/orderstatus"
)

// CacheListener receives signals the cache emits while merging. OnNewOrder
// fires when an order is first seen from any source; OnStatusChanged fires
// only when the normalized status actually differs from the stored value.
type CacheListener interface {
	OnNewOrder(order Order)
	OnStatusChanged(order Order, previous, current orderstatus.Status)
}

// OrderStateCache is the authoritative in-memory collection of orders. It
// merges data from the push channel, the polling fallback and mutation
// responses under the precedence rules below:
//
//   - a confirmed mutation always wins and clears the pending guard
//   - while a pending mutation guards an order, poll/event status is applied
//     only when its updated_at is strictly newer than the stored value
//   - otherwise incoming data wins unless its updated_at is older than what
//     is already stored (stale polls never regress an order)
//
// Absence from a poll is never deletion evidence; orders leave the cache
// only through Remove.
type OrderStateCache struct {
	mu sync.RWMutex
	// orders indexed by order id
	orders map[string]*Order
	// insertion order, drives Snapshot
	seq []string
	// outstanding status mutations by order id
	pending map[string]*PendingMutation

	stream    events.StreamConsumer // for event replay on startup
	transport OrderTransport        // fallback for poll-based warming
	listener  CacheListener
	logger    apt.Logger
}

// NewOrderStateCache creates an empty cache. Both stream and transport may
// be nil; Warm degrades accordingly.
func NewOrderStateCache(stream events.StreamConsumer, transport OrderTransport, logger apt.Logger) *OrderStateCache {
	if logger == nil {
		logger = apt.NewNoopLogger()
	}
	return &OrderStateCache{
		orders:    make(map[string]*Order),
		pending:   make(map[string]*PendingMutation),
		stream:    stream,
		transport: transport,
		logger:    logger,
	}
}

// SetListener wires the notification layer. Must be called before the
// supervisor or scheduler start feeding the cache.
func (c *OrderStateCache) SetListener(l CacheListener) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.listener = l
}

// Warm loads orders into the cache, preferring event replay from the
// retained stream and falling back to one unfiltered poll. Warming never
// emits listener signals; the dashboard should not be greeted by a burst
// of stale notifications.
func (c *OrderStateCache) Warm(ctx context.Context) error {
	if c.stream != nil {
		if err := c.warmFromStream(ctx); err != nil {
			c.logger.Info("stream replay failed, falling back to poll", "error", err)
		} else {
			return nil
		}
	}

	if c.transport == nil {
		c.logger.Info("neither stream nor transport configured, cache remains empty")
		return nil
	}

	orders, err := c.transport.ListOrders(ctx, nil)
	if err != nil {
		c.logger.Error("failed to warm order cache from poll", "error", err)
		return err
	}

	c.mu.Lock()
	defer c.mu.Unlock()
	for i := range orders {
		c.mergeLocked(orders[i], false, false)
	}
	c.logger.Info("cache warmed from poll", "count", len(orders))
	return nil
}

func (c *OrderStateCache) warmFromStream(ctx context.Context) error {
	c.logger.Info("warming cache from event stream")

	messages, err := c.stream.Fetch(ctx, 10000)
	if err != nil {
		return err
	}

	c.mu.Lock()
	defer c.mu.Unlock()
	for _, msg := range messages {
		c.applyReplayLocked(msg.Data)
	}

	c.logger.Info("cache warmed from stream", "orders", len(c.orders))
	return nil
}

// applyReplayLocked folds one retained event into the cache without
// emitting signals. Must be called with c.mu held.
func (c *OrderStateCache) applyReplayLocked(data []byte) {
	incoming, err := orderFromEventPayload(data)
	if err != nil {
		c.logger.Error("skipping unusable replay event", "error", err)
		return
	}
	if incoming == nil {
		// Unknown event type, forward compatibility
		return
	}
	c.mergeLocked(*incoming, true, false)
}

// UpsertFromPoll merges a full-state poll result. Orders absent from the
// list are left untouched; a poll may be filtered and absence is not
// deletion evidence.
func (c *OrderStateCache) UpsertFromPoll(orders []Order) {
	c.mu.Lock()
	defer c.mu.Unlock()
	for i := range orders {
		c.mergeLocked(orders[i], false, true)
	}
}

// UpsertFromEvent merges a single, possibly partial order from the push
// channel. Unknown orders are inserted and surfaced as new.
func (c *OrderStateCache) UpsertFromEvent(partial Order) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.mergeLocked(partial, true, true)
}

// ApplyMutationResult merges the server response to a locally issued status
// change. It is authoritative: it clears the pending guard and overrides
// poll/event data carrying an equal or older timestamp. Fields the server
// omitted keep their locally held values.
func (c *OrderStateCache) ApplyMutationResult(orderID string, confirmed Order) {
	c.mu.Lock()
	defer c.mu.Unlock()

	delete(c.pending, orderID)

	local, exists := c.orders[orderID]
	if !exists {
		confirmed.ID = orderID
		c.insertLocked(confirmed)
		return
	}

	previous := local.Status
	local.Status = confirmed.Status
	if !confirmed.UpdatedAt.IsZero() {
		local.UpdatedAt = confirmed.UpdatedAt
	} else {
		local.UpdatedAt = time.Now().UTC()
	}
	overlayLocked(local, confirmed)

	if c.listener != nil && previous.Name != local.Status.Name {
		c.listener.OnStatusChanged(local.Clone(), previous, local.Status)
	}
}

// Remove deletes an order. Deletion is always explicit; stale polls that
// omit an order never remove it.
func (c *OrderStateCache) Remove(orderID string) {
	c.mu.Lock()
	defer c.mu.Unlock()

	if _, ok := c.orders[orderID]; !ok {
		return
	}
	delete(c.orders, orderID)
	for i, id := range c.seq {
		if id == orderID {
			c.seq = append(c.seq[:i], c.seq[i+1:]...)
			break
		}
	}
}

// Get returns a copy of one order, or false when unknown.
func (c *OrderStateCache) Get(orderID string) (Order, bool) {
	c.mu.RLock()
	defer c.mu.RUnlock()
	o, ok := c.orders[orderID]
	if !ok {
		return Order{}, false
	}
	return o.Clone(), true
}

// Snapshot returns all orders in insertion order. Repeated reads with no
// intervening writes yield identical sequences.
func (c *OrderStateCache) Snapshot() []Order {
	c.mu.RLock()
	defer c.mu.RUnlock()

	result := make([]Order, 0, len(c.seq))
	for _, id := range c.seq {
		if o, ok := c.orders[id]; ok {
			result = append(result, o.Clone())
		}
	}
	return result
}

// BeginMutation registers a pending status change for the order. It returns
// false when one is already outstanding, guaranteeing at most one in-flight
// mutation per order.
func (c *OrderStateCache) BeginMutation(orderID string, target orderstatus.Status) bool {
	c.mu.Lock()
	defer c.mu.Unlock()

	if _, exists := c.pending[orderID]; exists {
		return false
	}
	c.pending[orderID] = &PendingMutation{
		OrderID:      orderID,
		TargetStatus: target,
		IssuedAt:     time.Now().UTC(),
	}
	return true
}

// EndMutation clears the pending guard, typically after a failed request.
// ApplyMutationResult clears it as part of the merge.
func (c *OrderStateCache) EndMutation(orderID string) {
	c.mu.Lock()
	defer c.mu.Unlock()
	delete(c.pending, orderID)
}

// PendingFor returns the outstanding mutation for an order, if any.
func (c *OrderStateCache) PendingFor(orderID string) (PendingMutation, bool) {
	c.mu.RLock()
	defer c.mu.RUnlock()
	p, ok := c.pending[orderID]
	if !ok {
		return PendingMutation{}, false
	}
	return *p, true
}

// mergeLocked folds one incoming order into the cache. partial marks push
// events whose payloads may omit fields; signal controls listener delivery.
// Must be called with c.mu held.
func (c *OrderStateCache) mergeLocked(incoming Order, partial, signal bool) {
	if incoming.ID == "" {
		c.logger.Error("dropping order without id")
		return
	}

	local, exists := c.orders[incoming.ID]
	if !exists {
		c.insertLocked(incoming)
		if signal && c.listener != nil {
			c.listener.OnNewOrder(c.orders[incoming.ID].Clone())
		}
		return
	}

	// Stale data never regresses an order.
	if !incoming.UpdatedAt.IsZero() && incoming.UpdatedAt.Before(local.UpdatedAt) {
		return
	}

	previous := local.Status

	_, guarded := c.pending[incoming.ID]
	statusWins := !guarded || incoming.UpdatedAt.After(local.UpdatedAt)
	if statusWins {
		local.Status = incoming.Status
	}

	if !incoming.UpdatedAt.IsZero() {
		local.UpdatedAt = incoming.UpdatedAt
	}

	if partial {
		overlayLocked(local, incoming)
	} else {
		replaceLocked(local, incoming)
	}

	if signal && c.listener != nil && previous.Name != local.Status.Name {
		c.listener.OnStatusChanged(local.Clone(), previous, local.Status)
	}
}

func (c *OrderStateCache) insertLocked(incoming Order) {
	if incoming.Status.Name == "" {
		incoming.Status = orderstatus.Statuses.Pending
	}
	if incoming.CreatedAt.IsZero() {
		incoming.CreatedAt = incoming.UpdatedAt
	}
	if incoming.UpdatedAt.IsZero() {
		incoming.UpdatedAt = incoming.CreatedAt
	}
	o := incoming.Clone()
	c.orders[incoming.ID] = &o
	c.seq = append(c.seq, incoming.ID)
}

// replaceLocked applies a full object over the local one, keeping the
// already-resolved status and timestamps plus a few fields a filtered
// listing endpoint may legitimately omit.
func replaceLocked(local *Order, incoming Order) {
	if incoming.Customer.Name != "" || incoming.Customer.Phone != "" || incoming.Customer.Email != "" {
		local.Customer = incoming.Customer
	}
	if len(incoming.Items) > 0 {
		local.Items = incoming.Items
	}
	local.Total = incoming.Total
	local.OriginalTotal = incoming.OriginalTotal
	local.DiscountAmount = incoming.DiscountAmount
	if !incoming.CreatedAt.IsZero() {
		local.CreatedAt = incoming.CreatedAt
	}
	local.EstimatedTime = incoming.EstimatedTime
	local.SpecialInstructions = incoming.SpecialInstructions
	local.Notes = incoming.Notes
}

// overlayLocked applies only the fields a partial payload actually carried.
func overlayLocked(local *Order, incoming Order) {
	if incoming.Customer.Name != "" {
		local.Customer.Name = incoming.Customer.Name
	}
	if incoming.Customer.Phone != "" {
		local.Customer.Phone = incoming.Customer.Phone
	}
	if incoming.Customer.Email != "" {
		local.Customer.Email = incoming.Customer.Email
	}
	if len(incoming.Items) > 0 {
		local.Items = incoming.Items
	}
	if !incoming.Total.IsZero() {
		local.Total = incoming.Total
	}
	if incoming.OriginalTotal != nil {
		local.OriginalTotal = incoming.OriginalTotal
	}
	if incoming.DiscountAmount != nil {
		local.DiscountAmount = incoming.DiscountAmount
	}
	if !incoming.CreatedAt.IsZero() {
		local.CreatedAt = incoming.CreatedAt
	}
	if incoming.EstimatedTime != "" {
		local.EstimatedTime = incoming.EstimatedTime
	}
	if incoming.SpecialInstructions != "" {
		local.SpecialInstructions = incoming.SpecialInstructions
	}
	if incoming.Notes != "" {
		local.Notes = incoming.Notes
	}
}

// orderFromEventPayload maps a raw push-channel payload to a partial order.
// It returns (nil, nil) for event types the cache does not track.
func orderFromEventPayload(data []byte) (*Order, error) {
	var base struct {
		EventType string `json:"event_type"`
	}
	if err := json.Unmarshal(data, &base); err != nil {
		return nil, err
	}

	switch base.EventType {
	case eventOrderCreated:
		o, _, err := orderFromCreatedPayload(data)
		return o, err
	case eventOrderStatusChanged:
		o, _, err := orderFromStatusChangedPayload(data)
		return o, err
	default:
		return nil, nil
	}
}
