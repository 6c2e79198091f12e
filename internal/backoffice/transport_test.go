package backoffice

import (
	"context"
	"errors"
	"sync/atomic"
	"testing"
	"time"

	"github.com/timpyorke/timing-backoffice-sub000/pkg/enums/orderstatus"
)

// fakeTokens is a TokenProvider with scripted behavior.
type fakeTokens struct {
	token      string
	tokenErr   error
	refreshErr error

	gets      int32
	refreshes int32
}

func (f *fakeTokens) GetValidToken(ctx context.Context) (string, error) {
	atomic.AddInt32(&f.gets, 1)
	return f.token, f.tokenErr
}

func (f *fakeTokens) Refresh(ctx context.Context) (string, error) {
	atomic.AddInt32(&f.refreshes, 1)
	if f.refreshErr != nil {
		return "", f.refreshErr
	}
	return f.token, nil
}

func noSleep(t *testing.T) func(ctx context.Context, d time.Duration) error {
	t.Helper()
	return func(ctx context.Context, d time.Duration) error { return nil }
}

func TestRetryingTransportPassesThrough(t *testing.T) {
	want := testOrder("o-1", orderstatus.Statuses.Ready, time.Now().UTC())
	next := &fakeTransport{
		getFunc: func(ctx context.Context, id string) (*Order, error) {
			o := want
			return &o, nil
		},
	}

	transport := NewRetryingTransport(next, nil, nil)
	got, err := transport.GetOrder(context.Background(), "o-1")
	if err != nil {
		t.Fatalf("GetOrder() error = %v", err)
	}
	if got.ID != want.ID || got.Status.Name != want.Status.Name {
		t.Errorf("GetOrder() = %v, want %v", got, want)
	}
}

func TestRetryingTransportRefreshesOnUnauthorized(t *testing.T) {
	tokens := &fakeTokens{token: "tok"}
	var attempts int32
	next := &fakeTransport{
		listFunc: func(ctx context.Context, filter *ListFilter) ([]Order, error) {
			if atomic.AddInt32(&attempts, 1) == 1 {
				return nil, ErrUnauthorized
			}
			return []Order{testOrder("o-1", orderstatus.Statuses.Pending, time.Now().UTC())}, nil
		},
	}

	transport := NewRetryingTransport(next, tokens, nil)
	transport.sleep = noSleep(t)

	orders, err := transport.ListOrders(context.Background(), nil)
	if err != nil {
		t.Fatalf("ListOrders() error = %v", err)
	}
	if len(orders) != 1 {
		t.Errorf("orders length = %d, want 1", len(orders))
	}
	if n := atomic.LoadInt32(&tokens.refreshes); n != 1 {
		t.Errorf("refreshes = %d, want 1", n)
	}
	if n := atomic.LoadInt32(&attempts); n != 2 {
		t.Errorf("attempts = %d, want 2", n)
	}
}

func TestRetryingTransportGivesUpAfterSecondUnauthorized(t *testing.T) {
	tokens := &fakeTokens{token: "tok"}
	next := &fakeTransport{
		listFunc: func(ctx context.Context, filter *ListFilter) ([]Order, error) {
			return nil, ErrUnauthorized
		},
	}

	transport := NewRetryingTransport(next, tokens, nil)
	transport.sleep = noSleep(t)

	_, err := transport.ListOrders(context.Background(), nil)
	if !errors.Is(err, ErrUnauthorized) {
		t.Fatalf("ListOrders() error = %v, want ErrUnauthorized", err)
	}
	if n := atomic.LoadInt32(&tokens.refreshes); n != 1 {
		t.Errorf("refreshes = %d, want 1: exactly one refresh then surrender", n)
	}
	list, _, _ := next.calls()
	if list != 2 {
		t.Errorf("attempts = %d, want 2", list)
	}
}

func TestRetryingTransportFailsWithoutToken(t *testing.T) {
	tokens := &fakeTokens{tokenErr: ErrTokenUnavailable}
	next := &fakeTransport{}

	transport := NewRetryingTransport(next, tokens, nil)
	_, err := transport.ListOrders(context.Background(), nil)
	if !errors.Is(err, ErrUnauthorized) {
		t.Fatalf("ListOrders() error = %v, want ErrUnauthorized", err)
	}
	list, _, _ := next.calls()
	if list != 0 {
		t.Errorf("attempts = %d, want 0: no request without a credential", list)
	}
}

func TestRetryingTransportRetriesNetworkErrors(t *testing.T) {
	var attempts int32
	var delays []time.Duration
	next := &fakeTransport{
		listFunc: func(ctx context.Context, filter *ListFilter) ([]Order, error) {
			if atomic.AddInt32(&attempts, 1) < 3 {
				return nil, &NetworkError{Err: errors.New("connection refused")}
			}
			return nil, nil
		},
	}

	transport := NewRetryingTransport(next, nil, nil)
	transport.sleep = func(ctx context.Context, d time.Duration) error {
		delays = append(delays, d)
		return nil
	}

	if _, err := transport.ListOrders(context.Background(), nil); err != nil {
		t.Fatalf("ListOrders() error = %v", err)
	}
	if len(delays) != 2 {
		t.Fatalf("sleeps = %d, want 2", len(delays))
	}
	if delays[0] != retrySeedDelay || delays[1] != 2*retrySeedDelay {
		t.Errorf("delays = %v, want doubling from %v", delays, retrySeedDelay)
	}
}

func TestRetryingTransportBoundedAttempts(t *testing.T) {
	next := &fakeTransport{
		listFunc: func(ctx context.Context, filter *ListFilter) ([]Order, error) {
			return nil, &NetworkError{Err: errors.New("connection refused")}
		},
	}

	transport := NewRetryingTransport(next, nil, nil)
	transport.sleep = noSleep(t)

	_, err := transport.ListOrders(context.Background(), nil)
	var ne *NetworkError
	if !errors.As(err, &ne) {
		t.Fatalf("ListOrders() error = %v, want NetworkError", err)
	}
	list, _, _ := next.calls()
	if list != maxTransportAttempts {
		t.Errorf("attempts = %d, want %d", list, maxTransportAttempts)
	}
}

func TestRetryingTransportHonorsRetryAfter(t *testing.T) {
	var attempts int32
	var delays []time.Duration
	next := &fakeTransport{
		listFunc: func(ctx context.Context, filter *ListFilter) ([]Order, error) {
			if atomic.AddInt32(&attempts, 1) == 1 {
				return nil, &RateLimitedError{RetryAfter: 2 * time.Second}
			}
			return nil, nil
		},
	}

	transport := NewRetryingTransport(next, nil, nil)
	transport.sleep = func(ctx context.Context, d time.Duration) error {
		delays = append(delays, d)
		return nil
	}

	if _, err := transport.ListOrders(context.Background(), nil); err != nil {
		t.Fatalf("ListOrders() error = %v", err)
	}
	if len(delays) != 1 {
		t.Fatalf("sleeps = %d, want 1", len(delays))
	}
	if delays[0] < 2*time.Second || delays[0] > 2*time.Second+retrySeedDelay {
		t.Errorf("delay = %v, want server delay plus bounded jitter", delays[0])
	}
}

func TestRetryingTransportDoesNotRetryNotFound(t *testing.T) {
	next := &fakeTransport{
		getFunc: func(ctx context.Context, id string) (*Order, error) {
			return nil, ErrNotFound
		},
	}

	transport := NewRetryingTransport(next, nil, nil)
	transport.sleep = noSleep(t)

	_, err := transport.GetOrder(context.Background(), "o-1")
	if !errors.Is(err, ErrNotFound) {
		t.Fatalf("GetOrder() error = %v, want ErrNotFound", err)
	}
	_, gets, _ := next.calls()
	if gets != 1 {
		t.Errorf("attempts = %d, want 1", gets)
	}
}

func TestRetryingTransportDoesNotRetryMalformed(t *testing.T) {
	next := &fakeTransport{
		listFunc: func(ctx context.Context, filter *ListFilter) ([]Order, error) {
			return nil, &MalformedDataError{Err: errors.New("unexpected shape")}
		},
	}

	transport := NewRetryingTransport(next, nil, nil)
	transport.sleep = noSleep(t)

	_, err := transport.ListOrders(context.Background(), nil)
	var me *MalformedDataError
	if !errors.As(err, &me) {
		t.Fatalf("ListOrders() error = %v, want MalformedDataError", err)
	}
	list, _, _ := next.calls()
	if list != 1 {
		t.Errorf("attempts = %d, want 1", list)
	}
}

func TestRetryingTransportStopsOnCancelledContext(t *testing.T) {
	next := &fakeTransport{
		listFunc: func(ctx context.Context, filter *ListFilter) ([]Order, error) {
			return nil, &NetworkError{Err: errors.New("connection refused")}
		},
	}

	ctx, cancel := context.WithCancel(context.Background())
	cancel()

	transport := NewRetryingTransport(next, nil, nil)
	// Real sleep observes the dead context.
	_, err := transport.ListOrders(ctx, nil)
	if !errors.Is(err, context.Canceled) {
		t.Errorf("ListOrders() error = %v, want context.Canceled", err)
	}
}
