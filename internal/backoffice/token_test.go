package backoffice

import (
	"context"
	"errors"
	"sync"
	"sync/atomic"
	"testing"
	"time"
)

func TestTokenProviderCachesUntilExpiry(t *testing.T) {
	var exchanges int32
	source := func(ctx context.Context) (string, time.Time, error) {
		atomic.AddInt32(&exchanges, 1)
		return "tok-1", time.Now().Add(time.Hour), nil
	}

	provider := NewCachingTokenProvider(source, 30*time.Second)
	ctx := context.Background()

	for i := 0; i < 5; i++ {
		token, err := provider.GetValidToken(ctx)
		if err != nil {
			t.Fatalf("GetValidToken() error = %v", err)
		}
		if token != "tok-1" {
			t.Errorf("token = %q, want %q", token, "tok-1")
		}
	}

	if n := atomic.LoadInt32(&exchanges); n != 1 {
		t.Errorf("exchanges = %d, want 1", n)
	}
}

func TestTokenProviderRefreshesNearExpiry(t *testing.T) {
	var exchanges int32
	source := func(ctx context.Context) (string, time.Time, error) {
		n := atomic.AddInt32(&exchanges, 1)
		if n == 1 {
			return "tok-1", time.Now().Add(time.Minute), nil
		}
		return "tok-2", time.Now().Add(time.Hour), nil
	}

	provider := NewCachingTokenProvider(source, 30*time.Second)
	ctx := context.Background()

	if _, err := provider.GetValidToken(ctx); err != nil {
		t.Fatalf("GetValidToken() error = %v", err)
	}

	// Jump the clock past expiry minus leeway.
	provider.now = func() time.Time { return time.Now().Add(45 * time.Second) }

	token, err := provider.GetValidToken(ctx)
	if err != nil {
		t.Fatalf("GetValidToken() error = %v", err)
	}
	if token != "tok-2" {
		t.Errorf("token = %q, want %q", token, "tok-2")
	}
	if n := atomic.LoadInt32(&exchanges); n != 2 {
		t.Errorf("exchanges = %d, want 2", n)
	}
}

func TestTokenProviderSingleFlightRefresh(t *testing.T) {
	var exchanges int32
	gate := make(chan struct{})
	source := func(ctx context.Context) (string, time.Time, error) {
		atomic.AddInt32(&exchanges, 1)
		<-gate
		return "tok-1", time.Now().Add(time.Hour), nil
	}

	provider := NewCachingTokenProvider(source, 30*time.Second)
	ctx := context.Background()

	var wg sync.WaitGroup
	results := make([]string, 8)
	for i := 0; i < 8; i++ {
		wg.Add(1)
		go func(i int) {
			defer wg.Done()
			token, err := provider.GetValidToken(ctx)
			if err != nil {
				t.Errorf("GetValidToken() error = %v", err)
				return
			}
			results[i] = token
		}(i)
	}

	// Give every goroutine a chance to pile onto the refresh.
	time.Sleep(20 * time.Millisecond)
	close(gate)
	wg.Wait()

	if n := atomic.LoadInt32(&exchanges); n != 1 {
		t.Errorf("exchanges = %d, want 1: concurrent refreshes must collapse", n)
	}
	for i, token := range results {
		if token != "tok-1" {
			t.Errorf("results[%d] = %q, want %q", i, token, "tok-1")
		}
	}
}

func TestTokenProviderSourceFailure(t *testing.T) {
	wantErr := errors.New("auth service down")
	source := func(ctx context.Context) (string, time.Time, error) {
		return "", time.Time{}, wantErr
	}

	provider := NewCachingTokenProvider(source, 0)
	if _, err := provider.GetValidToken(context.Background()); !errors.Is(err, wantErr) {
		t.Errorf("GetValidToken() error = %v, want %v", err, wantErr)
	}
}

func TestTokenProviderEmptyToken(t *testing.T) {
	source := func(ctx context.Context) (string, time.Time, error) {
		return "", time.Now().Add(time.Hour), nil
	}

	provider := NewCachingTokenProvider(source, 0)
	if _, err := provider.GetValidToken(context.Background()); !errors.Is(err, ErrTokenUnavailable) {
		t.Errorf("GetValidToken() error = %v, want ErrTokenUnavailable", err)
	}
}

func TestTokenProviderNilSource(t *testing.T) {
	provider := NewCachingTokenProvider(nil, 0)
	if _, err := provider.GetValidToken(context.Background()); !errors.Is(err, ErrTokenUnavailable) {
		t.Errorf("GetValidToken() error = %v, want ErrTokenUnavailable", err)
	}
}
