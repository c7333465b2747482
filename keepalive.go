package ghosty

import (
	"context"
	"sync"
	"time"

	"github.com/rs/zerolog"
)

// DefaultKeepaliveInterval is the period of the token verification probe.
const DefaultKeepaliveInterval = 45 * time.Second

// Keepalive periodically verifies the session token while connected. It is
// a health signal only: failures are logged and never trigger a reconnect,
// which is the Supervisor's job.
type Keepalive struct {
	conn     *ConnectionManager
	verify   TokenVerifier
	interval time.Duration
	log      zerolog.Logger

	mu     sync.Mutex
	cancel context.CancelFunc
	done   chan struct{}
	last   time.Time
	ok     bool
}

// NewKeepalive creates a stopped probe.
func NewKeepalive(conn *ConnectionManager, verify TokenVerifier, interval time.Duration, log zerolog.Logger) *Keepalive {
	if interval <= 0 {
		interval = DefaultKeepaliveInterval
	}
	return &Keepalive{
		conn:     conn,
		verify:   verify,
		interval: interval,
		log:      log.With().Str("component", "keepalive").Logger(),
	}
}

// Start launches the probe, replacing a running one.
func (k *Keepalive) Start(ctx context.Context) {
	k.Stop()

	runCtx, cancel := context.WithCancel(ctx)
	done := make(chan struct{})
	k.mu.Lock()
	k.cancel, k.done = cancel, done
	k.mu.Unlock()

	go k.loop(runCtx, done)
}

// Stop cancels the probe and waits for it to exit.
func (k *Keepalive) Stop() {
	k.mu.Lock()
	cancel, done := k.cancel, k.done
	k.cancel, k.done = nil, nil
	k.mu.Unlock()
	if cancel == nil {
		return
	}
	cancel()
	<-done
}

// Healthy returns the outcome and time of the last probe.
func (k *Keepalive) Healthy() (bool, time.Time) {
	k.mu.Lock()
	defer k.mu.Unlock()
	return k.ok, k.last
}

func (k *Keepalive) loop(ctx context.Context, done chan struct{}) {
	defer close(done)

	ticker := time.NewTicker(k.interval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			if !k.conn.Connected() {
				continue
			}
			ok := k.verify(ctx)
			k.mu.Lock()
			k.ok, k.last = ok, time.Now()
			k.mu.Unlock()
			if !ok && ctx.Err() == nil {
				k.log.Warn().Msg("token verification failed")
			}
		}
	}
}
