package backoffice

import (
	"context"
	"errors"
	"fmt"
	"math/rand"
	"time"

	"github.com/appetiteclub/apt"

	"github.com/timpyorke/timing-backoffice-sub000/pkg/enums/orderstatus"
)

// ListFilter narrows a poll to a server-side subset. A nil filter requests
// the unfiltered listing; filtered results must never be treated as the
// complete order set.
type ListFilter struct {
	Status *orderstatus.Status
	Since  *time.Time
}

// OrderTransport is the authenticated fetch/update capability the engine
// consumes. Retries, header construction and token attachment live behind
// this boundary; the engine only sees canonical orders and typed errors.
type OrderTransport interface {
	ListOrders(ctx context.Context, filter *ListFilter) ([]Order, error)
	GetOrder(ctx context.Context, id string) (*Order, error)
	UpdateStatus(ctx context.Context, id string, status orderstatus.Status) (*Order, error)
}

var (
	// ErrUnauthorized marks a rejected or expired credential.
	ErrUnauthorized = errors.New("unauthorized")
	// ErrNotFound marks a missing order.
	ErrNotFound = errors.New("order not found")
)

// RateLimitedError carries the server-provided retry delay.
type RateLimitedError struct {
	RetryAfter time.Duration
}

func (e *RateLimitedError) Error() string {
	return fmt.Sprintf("rate limited, retry after %s", e.RetryAfter)
}

// NetworkError wraps a connectivity failure that is worth retrying.
type NetworkError struct {
	Err error
}

func (e *NetworkError) Error() string {
	return fmt.Sprintf("network error: %v", e.Err)
}

func (e *NetworkError) Unwrap() error {
	return e.Err
}

// MalformedDataError marks a structurally unusable payload. It is surfaced
// as a one-off error and never corrupts the cache.
type MalformedDataError struct {
	Err error
}

func (e *MalformedDataError) Error() string {
	return fmt.Sprintf("malformed response: %v", e.Err)
}

func (e *MalformedDataError) Unwrap() error {
	return e.Err
}

const (
	maxTransportAttempts = 3
	retrySeedDelay       = 500 * time.Millisecond
)

// RetryingTransport wraps another transport with the engine's failure
// policy: one single-flight token refresh plus one retry on unauthorized,
// bounded backoff on network errors, and honoring the server delay (with
// jitter) when rate limited.
type RetryingTransport struct {
	next   OrderTransport
	tokens TokenProvider
	logger apt.Logger
	// sleep is swappable for tests
	sleep func(ctx context.Context, d time.Duration) error
}

// NewRetryingTransport wraps next with the retry policy. tokens may be nil
// when the deployment handles credentials out of band.
func NewRetryingTransport(next OrderTransport, tokens TokenProvider, logger apt.Logger) *RetryingTransport {
	if logger == nil {
		logger = apt.NewNoopLogger()
	}
	return &RetryingTransport{
		next:   next,
		tokens: tokens,
		logger: logger,
		sleep:  sleepCtx,
	}
}

func (t *RetryingTransport) ListOrders(ctx context.Context, filter *ListFilter) ([]Order, error) {
	var orders []Order
	err := t.call(ctx, "ListOrders", func(ctx context.Context) error {
		var err error
		orders, err = t.next.ListOrders(ctx, filter)
		return err
	})
	return orders, err
}

func (t *RetryingTransport) GetOrder(ctx context.Context, id string) (*Order, error) {
	var order *Order
	err := t.call(ctx, "GetOrder", func(ctx context.Context) error {
		var err error
		order, err = t.next.GetOrder(ctx, id)
		return err
	})
	return order, err
}

func (t *RetryingTransport) UpdateStatus(ctx context.Context, id string, status orderstatus.Status) (*Order, error) {
	var order *Order
	err := t.call(ctx, "UpdateStatus", func(ctx context.Context) error {
		var err error
		order, err = t.next.UpdateStatus(ctx, id, status)
		return err
	})
	return order, err
}

func (t *RetryingTransport) call(ctx context.Context, op string, fn func(ctx context.Context) error) error {
	delay := retrySeedDelay
	refreshed := false

	for attempt := 1; ; attempt++ {
		if t.tokens != nil {
			if _, err := t.tokens.GetValidToken(ctx); err != nil {
				// Without a credential there is no point issuing the request.
				return fmt.Errorf("%s: %w", op, errors.Join(ErrUnauthorized, err))
			}
		}

		err := fn(ctx)
		if err == nil {
			return nil
		}

		switch {
		case errors.Is(err, ErrUnauthorized):
			if refreshed || t.tokens == nil {
				return fmt.Errorf("%s: %w", op, err)
			}
			refreshed = true
			t.logger.Info("credential rejected, refreshing token", "op", op)
			if _, rerr := t.tokens.Refresh(ctx); rerr != nil {
				return fmt.Errorf("%s: token refresh failed: %w", op, errors.Join(ErrUnauthorized, rerr))
			}
			// Retry immediately with the fresh token.
			continue

		case isRateLimited(err):
			if attempt >= maxTransportAttempts {
				return fmt.Errorf("%s: %w", op, err)
			}
			wait := retryAfterOf(err) + jitter(retrySeedDelay)
			t.logger.Info("rate limited", "op", op, "retry_in", wait)
			if serr := t.sleep(ctx, wait); serr != nil {
				return serr
			}

		case isNetworkError(err):
			if attempt >= maxTransportAttempts {
				return fmt.Errorf("%s: %w", op, err)
			}
			t.logger.Info("transport failure, retrying", "op", op, "error", err, "retry_in", delay)
			if serr := t.sleep(ctx, delay); serr != nil {
				return serr
			}
			delay *= 2

		default:
			// NotFound, malformed payloads and anything unclassified belong
			// to the specific caller awaiting this operation.
			return fmt.Errorf("%s: %w", op, err)
		}
	}
}

func isRateLimited(err error) bool {
	var rl *RateLimitedError
	return errors.As(err, &rl)
}

func retryAfterOf(err error) time.Duration {
	var rl *RateLimitedError
	if errors.As(err, &rl) && rl.RetryAfter > 0 {
		return rl.RetryAfter
	}
	return retrySeedDelay
}

func isNetworkError(err error) bool {
	var ne *NetworkError
	return errors.As(err, &ne)
}

func jitter(max time.Duration) time.Duration {
	if max <= 0 {
		return 0
	}
	return time.Duration(rand.Int63n(int64(max)))
}

func sleepCtx(ctx context.Context, d time.Duration) error {
	timer := time.NewTimer(d)
	defer timer.Stop()
	select {
	case <-ctx.Done():
		return ctx.Err()
	case <-timer.C:
		return nil
	}
}
