package ghosty

import (
	"context"
	"errors"
	"fmt"
	"io"
	"math/rand/v2"
	"sync"
	"time"

	"github.com/rs/zerolog"
)

// LoopState is the state of the supervisory loop.
type LoopState string

const (
	LoopAwaitingConnection LoopState = "awaiting_connection"
	LoopSubscribing        LoopState = "subscribing"
	LoopBackoff            LoopState = "backoff"
	LoopStopped            LoopState = "stopped"
)

// DefaultBackoffInterval is the fixed pause between recovery attempts.
const DefaultBackoffInterval = 5 * time.Second

// EventHandler consumes raw push events one at a time.
type EventHandler interface {
	HandleRaw(ctx context.Context, raw RawEvent) error
}

// ReconcileFunc re-fetches state after the connection has been recovered.
type ReconcileFunc func(ctx context.Context)

// SupervisorConfig configures the supervisory loop.
type SupervisorConfig struct {
	BackoffInterval time.Duration
	// BackoffJitter adds up to this fraction of BackoffInterval to each pause.
	BackoffJitter float64
	Reconcile     ReconcileFunc
	OnStateChange func(LoopState)
	Logger        zerolog.Logger
}

func (c *SupervisorConfig) defaults() {
	if c.BackoffInterval <= 0 {
		c.BackoffInterval = DefaultBackoffInterval
	}
	if c.BackoffJitter < 0 {
		c.BackoffJitter = 0
	}
}

// ============================================================================
// Backoff
// ============================================================================

type backoff struct {
	interval time.Duration
	jitter   float64
	attempt  int
}

func (b *backoff) next() time.Duration {
	b.attempt++
	if b.jitter == 0 {
		return b.interval
	}
	return b.interval + time.Duration(rand.Float64()*b.jitter*float64(b.interval))
}

func (b *backoff) reset() {
	b.attempt = 0
}

// ============================================================================
// Supervisor
// ============================================================================

// Supervisor is the single long-running task that keeps the connection and
// the push subscription alive. At most one run is active at a time:
// Start cancels and waits for the previous run before starting a new one.
type Supervisor struct {
	conn    *ConnectionManager
	session *Session
	handler EventHandler
	config  SupervisorConfig
	log     zerolog.Logger

	lifecycle sync.Mutex
	mu        sync.Mutex
	cancel    context.CancelFunc
	done      chan struct{}
	state     LoopState
}

// NewSupervisor creates a stopped supervisor.
func NewSupervisor(conn *ConnectionManager, session *Session, handler EventHandler, config SupervisorConfig) *Supervisor {
	config.defaults()
	return &Supervisor{
		conn:    conn,
		session: session,
		handler: handler,
		config:  config,
		log:     config.Logger.With().Str("component", "supervisor").Logger(),
		state:   LoopStopped,
	}
}

// Start launches the loop, replacing any running instance.
func (s *Supervisor) Start(ctx context.Context) {
	s.lifecycle.Lock()
	defer s.lifecycle.Unlock()

	s.stopLocked()

	runCtx, cancel := context.WithCancel(ctx)
	done := make(chan struct{})
	s.mu.Lock()
	s.cancel = cancel
	s.done = done
	s.mu.Unlock()

	go s.run(runCtx, done)
}

// Stop cancels the loop and waits until it has released its subscription.
func (s *Supervisor) Stop() {
	s.lifecycle.Lock()
	defer s.lifecycle.Unlock()
	s.stopLocked()
}

func (s *Supervisor) stopLocked() {
	s.mu.Lock()
	cancel, done := s.cancel, s.done
	s.cancel, s.done = nil, nil
	s.mu.Unlock()

	if cancel == nil {
		return
	}
	cancel()
	<-done
}

// Running reports whether a loop instance is active.
func (s *Supervisor) Running() bool {
	s.mu.Lock()
	done := s.done
	s.mu.Unlock()
	if done == nil {
		return false
	}
	select {
	case <-done:
		return false
	default:
		return true
	}
}

// State returns the current loop state.
func (s *Supervisor) State() LoopState {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.state
}

func (s *Supervisor) setState(state LoopState) {
	s.mu.Lock()
	s.state = state
	s.mu.Unlock()
	if s.config.OnStateChange != nil {
		s.config.OnStateChange(state)
	}
}

func (s *Supervisor) run(ctx context.Context, done chan struct{}) {
	defer close(done)
	defer s.setState(LoopStopped)

	b := &backoff{interval: s.config.BackoffInterval, jitter: s.config.BackoffJitter}
	state := LoopAwaitingConnection
	// Set once the connection is seen down, cleared only after reconcile.
	needsReconcile := false

	for ctx.Err() == nil {
		s.setState(state)

		switch state {
		case LoopAwaitingConnection:
			if !s.conn.Connected() {
				needsReconcile = true
				if !s.conn.Reconnect(ctx) {
					state = LoopBackoff
					continue
				}
				s.log.Info().Int("attempt", b.attempt).Msg("connection recovered")
			}
			if needsReconcile {
				s.reconcile(ctx)
				needsReconcile = false
			}
			state = LoopSubscribing

		case LoopSubscribing:
			if s.subscribe(ctx) {
				b.reset()
			}
			state = LoopBackoff

		case LoopBackoff:
			delay := b.next()
			s.log.Debug().Dur("delay", delay).Int("attempt", b.attempt).Msg("backing off")
			timer := time.NewTimer(delay)
			select {
			case <-ctx.Done():
				timer.Stop()
				return
			case <-timer.C:
			}
			state = LoopAwaitingConnection
		}
	}
}

// subscribe holds one subscription until it ends. It reports whether the
// subscription was opened.
func (s *Supervisor) subscribe(ctx context.Context) bool {
	token := s.session.Token()
	if token == "" {
		s.log.Warn().Msg("no token, cannot subscribe")
		return false
	}

	sub, err := OpenSubscription(ctx, s.conn, token, s.log)
	if err != nil {
		if ctx.Err() == nil {
			s.log.Warn().Err(err).Msg("subscribe failed")
		}
		return false
	}
	defer sub.Close()

	for {
		raw, err := sub.Next(ctx)
		if err != nil {
			switch {
			case ctx.Err() != nil:
			case errors.Is(err, io.EOF):
				s.log.Info().Msg("subscription closed by server")
			default:
				s.log.Warn().Err(err).Msg("subscription failed")
			}
			return true
		}
		s.dispatch(ctx, raw)
	}
}

// dispatch handles one event. Failures, including panics, stay contained
// to the event.
func (s *Supervisor) dispatch(ctx context.Context, raw RawEvent) {
	defer func() {
		if r := recover(); r != nil {
			s.log.Error().Str("event", raw.Type).Err(fmt.Errorf("panic: %v", r)).Msg("event handler panicked")
		}
	}()
	if err := s.handler.HandleRaw(ctx, raw); err != nil {
		s.log.Error().Err(err).Str("event", raw.Type).Msg("event handling failed")
	}
}

func (s *Supervisor) reconcile(ctx context.Context) {
	if s.config.Reconcile == nil {
		return
	}
	defer func() {
		if r := recover(); r != nil {
			s.log.Error().Err(fmt.Errorf("panic: %v", r)).Msg("reconciliation panicked")
		}
	}()
	s.config.Reconcile(ctx)
}
