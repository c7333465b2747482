package ghosty

import (
	"context"
	"errors"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/rs/zerolog"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

const (
	waitFor = 2 * time.Second
	tick    = 5 * time.Millisecond
)

type recordingHandler struct {
	mu   sync.Mutex
	seen []string
}

func (h *recordingHandler) HandleRaw(_ context.Context, raw RawEvent) error {
	h.mu.Lock()
	h.seen = append(h.seen, raw.Type)
	h.mu.Unlock()
	switch raw.Type {
	case "fail":
		return errors.New("handler failed")
	case "panic":
		panic("handler panicked")
	}
	return nil
}

func (h *recordingHandler) events() []string {
	h.mu.Lock()
	defer h.mu.Unlock()
	return append([]string(nil), h.seen...)
}

type stateLog struct {
	mu     sync.Mutex
	states []LoopState
}

func (l *stateLog) record(s LoopState) {
	l.mu.Lock()
	l.states = append(l.states, s)
	l.mu.Unlock()
}

func (l *stateLog) snapshot() []LoopState {
	l.mu.Lock()
	defer l.mu.Unlock()
	return append([]LoopState(nil), l.states...)
}

func newTestSupervisor(t *testing.T, tr *fakeTransport, token string, cfg SupervisorConfig) (*Supervisor, *recordingHandler) {
	t.Helper()
	conn, session := newConnected(tr, token)
	h := &recordingHandler{}
	if cfg.BackoffInterval == 0 {
		cfg.BackoffInterval = 10 * time.Millisecond
	}
	cfg.Logger = zerolog.Nop()
	sup := NewSupervisor(conn, session, h, cfg)
	t.Cleanup(sup.Stop)
	return sup, h
}

func opened(tr *fakeTransport) int {
	_, _, n := tr.subStats()
	return n
}

func TestSupervisor_StartReplacesRunningLoop(t *testing.T) {
	tr := newFakeTransport()
	sup, _ := newTestSupervisor(t, tr, "tok", SupervisorConfig{})

	sup.Start(context.Background())
	require.Eventually(t, func() bool { return opened(tr) == 1 }, waitFor, tick)

	sup.Start(context.Background())
	require.Eventually(t, func() bool { return opened(tr) == 2 }, waitFor, tick)

	open, maxOpen, _ := tr.subStats()
	assert.Equal(t, 1, open)
	assert.Equal(t, 1, maxOpen, "two subscriptions were never open at once")
	assert.True(t, sup.Running())
}

func TestSupervisor_RecoversAfterConnectionLoss(t *testing.T) {
	tr := newFakeTransport()
	states := &stateLog{}
	var reconciles int
	var mu sync.Mutex
	sup, _ := newTestSupervisor(t, tr, "tok", SupervisorConfig{
		OnStateChange: states.record,
		Reconcile: func(context.Context) {
			mu.Lock()
			reconciles++
			mu.Unlock()
		},
	})

	sup.Start(context.Background())
	require.Eventually(t, func() bool { return opened(tr) == 1 }, waitFor, tick)

	tr.failConnects(errors.New("refused"), errors.New("refused"))
	tr.drop()
	require.Eventually(t, func() bool { return opened(tr) == 2 }, waitFor, tick)

	assert.Equal(t, []LoopState{
		LoopAwaitingConnection, LoopSubscribing,
		LoopBackoff, LoopAwaitingConnection,
		LoopBackoff, LoopAwaitingConnection,
		LoopBackoff, LoopAwaitingConnection,
		LoopSubscribing,
	}, states.snapshot())
	assert.Equal(t, 4, tr.connects(), "initial dial plus three attempts")

	mu.Lock()
	assert.Equal(t, 1, reconciles, "reconcile runs once per recovery")
	mu.Unlock()

	sup.Stop()
	assert.Equal(t, LoopStopped, sup.State())
}

func TestSupervisor_ReconcilesWhenTokenCheckFailsOnce(t *testing.T) {
	tr := newFakeTransport()
	var reconciles atomic.Int32
	sup, _ := newTestSupervisor(t, tr, "tok", SupervisorConfig{
		Reconcile: func(context.Context) { reconciles.Add(1) },
	})

	var checks atomic.Int32
	sup.conn.SetVerifier(func(context.Context) bool {
		return checks.Add(1) > 1
	})

	sup.Start(context.Background())
	require.Eventually(t, func() bool { return opened(tr) == 1 }, waitFor, tick)

	tr.drop()
	require.Eventually(t, func() bool { return opened(tr) == 2 }, waitFor, tick)

	assert.Equal(t, int32(1), checks.Load(), "the dial left the transport up, so no second check")
	assert.Equal(t, 2, tr.connects())
	assert.Equal(t, int32(1), reconciles.Load(), "recovery reconciles even after a rejected check")
}

func TestSupervisor_EventFailuresAreContained(t *testing.T) {
	tr := newFakeTransport()
	sup, h := newTestSupervisor(t, tr, "tok", SupervisorConfig{})
	sup.Start(context.Background())

	tr.push("fail", nil)
	tr.push("panic", nil)
	tr.push(EventUserOnline, map[string]any{"user_id": float64(2)})

	require.Eventually(t, func() bool { return len(h.events()) == 3 }, waitFor, tick)
	assert.Equal(t, []string{"fail", "panic", EventUserOnline}, h.events())
	assert.True(t, sup.Running())
	assert.Equal(t, 1, opened(tr), "subscription survives handler failures")
}

func TestSupervisor_ResubscribesWhenStreamEnds(t *testing.T) {
	tr := newFakeTransport()
	var reconciled bool
	sup, _ := newTestSupervisor(t, tr, "tok", SupervisorConfig{
		Reconcile: func(context.Context) { reconciled = true },
	})
	sup.Start(context.Background())
	require.Eventually(t, func() bool { return opened(tr) == 1 }, waitFor, tick)

	tr.endStreams()
	require.Eventually(t, func() bool { return opened(tr) == 2 }, waitFor, tick)
	assert.Equal(t, 1, tr.connects(), "a live connection is not redialed")
	sup.Stop()
	assert.False(t, reconciled)
}

func TestSupervisor_StopReleasesSubscription(t *testing.T) {
	t.Run("stop", func(t *testing.T) {
		tr := newFakeTransport()
		sup, _ := newTestSupervisor(t, tr, "tok", SupervisorConfig{})
		sup.Start(context.Background())
		require.Eventually(t, func() bool { return opened(tr) == 1 }, waitFor, tick)

		sup.Stop()
		open, _, _ := tr.subStats()
		assert.Zero(t, open)
		assert.False(t, sup.Running())
		assert.Equal(t, LoopStopped, sup.State())
		sup.Stop()
	})

	t.Run("parent context cancelled", func(t *testing.T) {
		tr := newFakeTransport()
		sup, _ := newTestSupervisor(t, tr, "tok", SupervisorConfig{})
		ctx, cancel := context.WithCancel(context.Background())
		sup.Start(ctx)
		require.Eventually(t, func() bool { return opened(tr) == 1 }, waitFor, tick)

		cancel()
		require.Eventually(t, func() bool { return !sup.Running() }, waitFor, tick)
		open, _, _ := tr.subStats()
		assert.Zero(t, open)
	})
}

func TestSupervisor_BacksOffWithoutToken(t *testing.T) {
	tr := newFakeTransport()
	states := &stateLog{}
	sup, _ := newTestSupervisor(t, tr, "", SupervisorConfig{OnStateChange: states.record})
	sup.Start(context.Background())

	require.Eventually(t, func() bool { return len(states.snapshot()) >= 6 }, waitFor, tick)
	assert.Contains(t, states.snapshot(), LoopBackoff)
	assert.Zero(t, opened(tr))
}

func TestBackoff(t *testing.T) {
	b := &backoff{interval: 100 * time.Millisecond}
	assert.Equal(t, 100*time.Millisecond, b.next())
	assert.Equal(t, 100*time.Millisecond, b.next())
	assert.Equal(t, 2, b.attempt)
	b.reset()
	assert.Zero(t, b.attempt)

	b.jitter = 0.5
	for range 20 {
		d := b.next()
		assert.GreaterOrEqual(t, d, 100*time.Millisecond)
		assert.Less(t, d, 150*time.Millisecond)
	}
}
