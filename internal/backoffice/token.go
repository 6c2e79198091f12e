package backoffice

import (
	"context"
	"errors"
	"sync"
	"time"

	"golang.org/x/sync/singleflight"
)

var ErrTokenUnavailable = errors.New("no valid token available")

// TokenProvider yields a currently valid credential or fails. A failed
// call is cause to halt outgoing requests and surface an error state; the
// engine never spins on a dead credential faster than backoff allows.
type TokenProvider interface {
	GetValidToken(ctx context.Context) (string, error)
	Refresh(ctx context.Context) (string, error)
}

// TokenSource performs the actual credential exchange. The refresh
// algorithm itself is outside the engine; only the contract matters here.
type TokenSource func(ctx context.Context) (token string, expiresAt time.Time, err error)

// CachingTokenProvider caches the token until shortly before expiry and
// funnels concurrent refreshes through a single flight, so several
// requests discovering an expired token at once issue exactly one
// refresh call.
type CachingTokenProvider struct {
	source TokenSource
	leeway time.Duration

	mu        sync.RWMutex
	token     string
	expiresAt time.Time

	group singleflight.Group
	// now is swappable for tests
	now func() time.Time
}

// NewCachingTokenProvider wraps source. leeway is subtracted from the
// expiry when judging validity; zero defaults to 30 seconds.
func NewCachingTokenProvider(source TokenSource, leeway time.Duration) *CachingTokenProvider {
	if leeway <= 0 {
		leeway = 30 * time.Second
	}
	return &CachingTokenProvider{
		source: source,
		leeway: leeway,
		now:    time.Now,
	}
}

func (p *CachingTokenProvider) GetValidToken(ctx context.Context) (string, error) {
	p.mu.RLock()
	token, expiresAt := p.token, p.expiresAt
	p.mu.RUnlock()

	if token != "" && p.now().Add(p.leeway).Before(expiresAt) {
		return token, nil
	}
	return p.Refresh(ctx)
}

// Refresh exchanges for a fresh token. Concurrent callers share one
// in-flight exchange and its result.
func (p *CachingTokenProvider) Refresh(ctx context.Context) (string, error) {
	if p.source == nil {
		return "", ErrTokenUnavailable
	}

	v, err, _ := p.group.Do("refresh", func() (interface{}, error) {
		token, expiresAt, err := p.source(ctx)
		if err != nil {
			return "", err
		}
		if token == "" {
			return "", ErrTokenUnavailable
		}

		p.mu.Lock()
		p.token = token
		p.expiresAt = expiresAt
		p.mu.Unlock()

		return token, nil
	})
	if err != nil {
		return "", err
	}
	return v.(string), nil
}
