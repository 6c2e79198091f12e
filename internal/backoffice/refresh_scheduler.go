package backoffice

import (
	"context"
	"sync"
	"time"

	"github.com/appetiteclub/apt"
)

const refreshMinSpacing = time.Second

// RefreshScheduler drives the polling fallback: a periodic unfiltered fetch
// merged into the cache, plus a manual trigger. Overlapping triggers
// coalesce into the in-flight poll and rapid manual triggers are debounced.
// A poll failure is recorded and logged but never stops the timer.
type RefreshScheduler struct {
	transport OrderTransport
	cache     *OrderStateCache
	logger    apt.Logger

	mu          sync.Mutex
	interval    time.Duration
	running     bool
	cancel      context.CancelFunc
	ctx         context.Context
	inFlight    bool
	lastTrigger time.Time
	lastErr     error
	intervalCh  chan time.Duration
}

// NewRefreshScheduler creates a scheduler polling at the given interval.
// A zero interval arms no timer; only RefreshNow fetches.
func NewRefreshScheduler(transport OrderTransport, cache *OrderStateCache, interval time.Duration, logger apt.Logger) *RefreshScheduler {
	if logger == nil {
		logger = apt.NewNoopLogger()
	}
	return &RefreshScheduler{
		transport:  transport,
		cache:      cache,
		interval:   interval,
		logger:     logger,
		intervalCh: make(chan time.Duration, 1),
	}
}

// Start arms the periodic timer. Idempotent while running.
func (s *RefreshScheduler) Start(ctx context.Context) error {
	s.mu.Lock()
	if s.running {
		s.mu.Unlock()
		return nil
	}
	ctx, cancel := context.WithCancel(ctx)
	s.ctx = ctx
	s.cancel = cancel
	s.running = true
	interval := s.interval
	s.mu.Unlock()

	go s.loop(ctx, interval)
	return nil
}

// Stop cancels the timer and any in-flight poll. A poll completing after
// Stop is discarded, never merged.
func (s *RefreshScheduler) Stop(ctx context.Context) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if !s.running {
		return nil
	}
	s.running = false
	s.cancel()
	return nil
}

// RefreshNow triggers an immediate poll. Calls within the debounce spacing
// of the previous trigger, or while a poll is in flight, are dropped
// without issuing a duplicate request.
func (s *RefreshScheduler) RefreshNow() {
	s.mu.Lock()
	if !s.running {
		s.mu.Unlock()
		return
	}
	now := time.Now()
	if s.inFlight || now.Sub(s.lastTrigger) < refreshMinSpacing {
		s.mu.Unlock()
		return
	}
	s.lastTrigger = now
	s.inFlight = true
	ctx := s.ctx
	s.mu.Unlock()

	go s.poll(ctx)
}

// SetInterval re-arms the periodic timer at runtime. Zero disables it.
func (s *RefreshScheduler) SetInterval(d time.Duration) {
	s.mu.Lock()
	s.interval = d
	running := s.running
	s.mu.Unlock()

	if !running {
		return
	}
	// Replace any not-yet-consumed update.
	select {
	case <-s.intervalCh:
	default:
	}
	s.intervalCh <- d
}

// LastError returns the most recent poll failure, or nil.
func (s *RefreshScheduler) LastError() error {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.lastErr
}

func (s *RefreshScheduler) loop(ctx context.Context, interval time.Duration) {
	var ticker *time.Ticker
	var tickC <-chan time.Time
	if interval > 0 {
		ticker = time.NewTicker(interval)
		tickC = ticker.C
		defer ticker.Stop()
	}

	for {
		select {
		case <-ctx.Done():
			return

		case <-tickC:
			s.mu.Lock()
			if s.inFlight {
				s.mu.Unlock()
				continue
			}
			s.inFlight = true
			s.mu.Unlock()
			s.poll(ctx)

		case d := <-s.intervalCh:
			if ticker != nil {
				ticker.Stop()
				ticker = nil
				tickC = nil
			}
			if d > 0 {
				ticker = time.NewTicker(d)
				tickC = ticker.C
			}
			s.logger.Info("refresh interval updated", "interval", d)
		}
	}
}

// poll fetches the unfiltered order list and merges it. The caller must
// have claimed the inFlight flag.
func (s *RefreshScheduler) poll(ctx context.Context) {
	orders, err := s.transport.ListOrders(ctx, nil)

	s.mu.Lock()
	s.inFlight = false
	s.lastErr = err
	s.mu.Unlock()

	if err != nil {
		if ctx.Err() == nil {
			s.logger.Error("order poll failed", "error", err)
		}
		return
	}
	if ctx.Err() != nil {
		// Stopped while the request was in flight; discard the result.
		return
	}

	s.cache.UpsertFromPoll(orders)
	s.logger.Debug("order poll merged", "count", len(orders))
}
