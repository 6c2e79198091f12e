package backoffice

import (
	"context"
	"sync"

	"github.com/appetiteclub/apt/events"

	"github.com/timpyorke/timing-backoffice-sub000/pkg/enums/orderstatus"
)

// fakeTransport is a hand-rolled OrderTransport whose behavior each test
// injects through func fields.
type fakeTransport struct {
	mu sync.Mutex

	listFunc   func(ctx context.Context, filter *ListFilter) ([]Order, error)
	getFunc    func(ctx context.Context, id string) (*Order, error)
	updateFunc func(ctx context.Context, id string, status orderstatus.Status) (*Order, error)

	listCalls   int
	getCalls    int
	updateCalls int
}

func (f *fakeTransport) ListOrders(ctx context.Context, filter *ListFilter) ([]Order, error) {
	f.mu.Lock()
	f.listCalls++
	fn := f.listFunc
	f.mu.Unlock()
	if fn == nil {
		return nil, nil
	}
	return fn(ctx, filter)
}

func (f *fakeTransport) GetOrder(ctx context.Context, id string) (*Order, error) {
	f.mu.Lock()
	f.getCalls++
	fn := f.getFunc
	f.mu.Unlock()
	if fn == nil {
		return nil, ErrNotFound
	}
	return fn(ctx, id)
}

func (f *fakeTransport) UpdateStatus(ctx context.Context, id string, status orderstatus.Status) (*Order, error) {
	f.mu.Lock()
	f.updateCalls++
	fn := f.updateFunc
	f.mu.Unlock()
	if fn == nil {
		return nil, ErrNotFound
	}
	return fn(ctx, id, status)
}

func (f *fakeTransport) calls() (list, get, update int) {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.listCalls, f.getCalls, f.updateCalls
}

// recordingListener captures cache signals for assertions.
type recordingListener struct {
	mu            sync.Mutex
	newOrders     []Order
	statusChanges []statusChange
}

type statusChange struct {
	order    Order
	previous orderstatus.Status
	current  orderstatus.Status
}

func (l *recordingListener) OnNewOrder(order Order) {
	l.mu.Lock()
	defer l.mu.Unlock()
	l.newOrders = append(l.newOrders, order)
}

func (l *recordingListener) OnStatusChanged(order Order, previous, current orderstatus.Status) {
	l.mu.Lock()
	defer l.mu.Unlock()
	l.statusChanges = append(l.statusChanges, statusChange{order: order, previous: previous, current: current})
}

func (l *recordingListener) newOrderCount() int {
	l.mu.Lock()
	defer l.mu.Unlock()
	return len(l.newOrders)
}

func (l *recordingListener) statusChangeCount() int {
	l.mu.Lock()
	defer l.mu.Unlock()
	return len(l.statusChanges)
}

func (l *recordingListener) lastStatusChange() (statusChange, bool) {
	l.mu.Lock()
	defer l.mu.Unlock()
	if len(l.statusChanges) == 0 {
		return statusChange{}, false
	}
	return l.statusChanges[len(l.statusChanges)-1], true
}

// recordingSink captures notifier deliveries.
type recordingSink struct {
	mu       sync.Mutex
	surfaced []Notification
	cleared  []string
}

func (s *recordingSink) NotificationSurfaced(n Notification) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.surfaced = append(s.surfaced, n)
}

func (s *recordingSink) NotificationCleared(orderID string) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.cleared = append(s.cleared, orderID)
}

func (s *recordingSink) surfacedCount() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return len(s.surfaced)
}

func (s *recordingSink) clearedIDs() []string {
	s.mu.Lock()
	defer s.mu.Unlock()
	out := make([]string, len(s.cleared))
	copy(out, s.cleared)
	return out
}

// fakeStream replays canned retained messages. It implements the full
// events.StreamConsumer surface; the cache only ever calls Fetch.
type fakeStream struct {
	messages   []events.StreamMessage
	err        error
	subscribed bool
}

func (f *fakeStream) Fetch(ctx context.Context, limit int) ([]events.StreamMessage, error) {
	if f.err != nil {
		return nil, f.err
	}
	return f.messages, nil
}

func (f *fakeStream) SubscribeStream(ctx context.Context, handler events.HandlerFunc) error {
	f.subscribed = true
	return nil
}
