package orderstream

import (
	"context"
	"sync"
	"time"

	"github.com/appetiteclub/apt"
	"github.com/appetiteclub/apt/events"
)

// State is the coarse connection status the UI reads. Only the supervisor
// writes it.
type State string

const (
	StateDisconnected State = "disconnected"
	StateConnecting   State = "connecting"
	StateConnected    State = "connected"
	StateError        State = "error"
)

const (
	defaultSeedBackoff = 1 * time.Second
	defaultMaxBackoff  = 30 * time.Second
)

// Supervisor owns the push-channel lifecycle: connect, monitor, reconnect
// with exponential backoff, disconnect. Transport errors are never fatal;
// they only show up as State and get retried.
type Supervisor struct {
	channel EventChannel
	topic   string
	handler events.HandlerFunc
	logger  apt.Logger

	seedBackoff time.Duration
	maxBackoff  time.Duration

	mu       sync.Mutex
	state    State
	observer func(State)
	cancel   context.CancelFunc
	running  bool
}

// NewSupervisor creates a supervisor forwarding every received event on
// topic through handler.
func NewSupervisor(channel EventChannel, topic string, handler events.HandlerFunc, logger apt.Logger) *Supervisor {
	if logger == nil {
		logger = apt.NewNoopLogger()
	}
	return &Supervisor{
		channel:     channel,
		topic:       topic,
		handler:     handler,
		logger:      logger,
		seedBackoff: defaultSeedBackoff,
		maxBackoff:  defaultMaxBackoff,
		state:       StateDisconnected,
	}
}

// SetBackoff overrides the reconnect delays. Mainly for tests and
// non-default deployments.
func (s *Supervisor) SetBackoff(seed, max time.Duration) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if seed > 0 {
		s.seedBackoff = seed
	}
	if max >= s.seedBackoff {
		s.maxBackoff = max
	}
}

// OnStateChange registers the state observer. Must be set before Connect.
func (s *Supervisor) OnStateChange(fn func(State)) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.observer = fn
}

// State returns the current connection state.
func (s *Supervisor) State() State {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.state
}

// Connect starts the supervision loop. Idempotent while already
// connecting or connected. The state moves to connecting synchronously,
// before any transport work, so observers never read a stale status
// during dial latency.
func (s *Supervisor) Connect(ctx context.Context) error {
	s.mu.Lock()
	if s.running {
		s.mu.Unlock()
		return nil
	}
	s.running = true
	// The loop outlives the caller's ctx; teardown goes through Disconnect.
	runCtx, cancel := context.WithCancel(context.Background())
	s.cancel = cancel
	s.setStateLocked(StateConnecting)
	s.mu.Unlock()

	go s.supervise(runCtx)
	return nil
}

// Disconnect stops supervision, cancelling any pending reconnect timer.
// The state moves to disconnected synchronously, before the transport
// close.
func (s *Supervisor) Disconnect() error {
	s.mu.Lock()
	if !s.running {
		s.mu.Unlock()
		return nil
	}
	s.running = false
	s.cancel()
	s.setStateLocked(StateDisconnected)
	s.mu.Unlock()

	return s.channel.Close()
}

// Start implements the apt lifecycle hook.
func (s *Supervisor) Start(ctx context.Context) error {
	return s.Connect(ctx)
}

// Stop implements the apt lifecycle hook.
func (s *Supervisor) Stop(ctx context.Context) error {
	return s.Disconnect()
}

// supervise runs the connect/monitor/backoff loop until the context is
// cancelled. The drop of an established connection counts as the first
// failure, so reconnect attempts wait seed, 2x seed, 4x seed... capped,
// and the delay resets to seed on every successful connect.
func (s *Supervisor) supervise(ctx context.Context) {
	backoff := s.seedBackoff
	first := true

	for {
		if !first {
			if !s.wait(ctx, backoff) {
				return
			}
			backoff *= 2
			if backoff > s.maxBackoff {
				backoff = s.maxBackoff
			}
		}
		first = false

		if ctx.Err() != nil {
			return
		}

		s.setState(StateConnecting)
		s.logger.Info("connecting to order event channel")

		if err := s.channel.Connect(ctx); err != nil {
			s.logger.Error("failed to connect to order event channel", "error", err, "retry_in", backoff)
			s.setState(StateError)
			continue
		}

		if err := s.channel.Subscribe(s.topic, s.forward(ctx)); err != nil {
			s.logger.Error("failed to subscribe to order events", "error", err, "retry_in", backoff)
			s.channel.Close()
			s.setState(StateError)
			continue
		}

		s.setState(StateConnected)
		s.logger.Info("connected to order event channel", "topic", s.topic)
		backoff = s.seedBackoff

		select {
		case <-ctx.Done():
			return
		case err := <-s.channel.Done():
			if err != nil {
				s.logger.Error("order event channel dropped", "error", err)
			} else {
				s.logger.Info("order event channel closed")
			}
			s.channel.Close()
			s.setState(StateError)
		}
	}
}

// forward hands a received event to the dispatcher. Events reach the store
// before any connection bookkeeping; a handler error is logged, never
// propagated into the transport callback.
func (s *Supervisor) forward(ctx context.Context) func([]byte) {
	return func(data []byte) {
		if err := s.handler(ctx, data); err != nil {
			s.logger.Error("order event handler failed", "error", err)
		}
	}
}

func (s *Supervisor) wait(ctx context.Context, d time.Duration) bool {
	timer := time.NewTimer(d)
	defer timer.Stop()
	select {
	case <-ctx.Done():
		return false
	case <-timer.C:
		return true
	}
}

func (s *Supervisor) setState(state State) {
	s.mu.Lock()
	s.setStateLocked(state)
	s.mu.Unlock()
}

func (s *Supervisor) setStateLocked(state State) {
	if s.state == state {
		return
	}
	// A lingering loop iteration must not flip the state after Disconnect.
	if !s.running && state != StateDisconnected {
		return
	}
	s.state = state
	if s.observer != nil {
		observer := s.observer
		go observer(state)
	}
}
