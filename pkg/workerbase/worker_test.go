package workerbase

import (
	"context"
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type fakeHooks struct {
	connectCalls  atomic.Int32
	loopCalls     atomic.Int32
	keepAliveCalls atomic.Int32
	failFirstConnect bool
	connected    atomic.Bool
}

func (h *fakeHooks) EstablishProtocolConnection(ctx context.Context) error {
	n := h.connectCalls.Add(1)
	if h.failFirstConnect && n == 1 {
		return assertErr
	}
	h.connected.Store(true)
	return nil
}

func (h *fakeHooks) CloseProtocolConnection() error {
	h.connected.Store(false)
	return nil
}

func (h *fakeHooks) CheckProtocolConnection() bool { return h.connected.Load() }

func (h *fakeHooks) SendProtocolKeepAlive(ctx context.Context) error {
	h.keepAliveCalls.Add(1)
	return nil
}

func (h *fakeHooks) RunProtocolLoop(ctx context.Context) error {
	h.loopCalls.Add(1)
	return nil
}

var assertErr = &fakeConnectError{}

type fakeConnectError struct{}

func (e *fakeConnectError) Error() string { return "fake connect failure" }

func TestWorkerStartRunsLoopThenStops(t *testing.T) {
	hooks := &fakeHooks{}
	w := New(Config{DeviceID: "dev1", ReconnectInitialInterval: time.Millisecond}, hooks)

	require.NoError(t, w.Start(context.Background()))

	require.Eventually(t, func() bool {
		return hooks.loopCalls.Load() > 0
	}, time.Second, 5*time.Millisecond)

	assert.Equal(t, StateRunning, w.State())

	require.NoError(t, w.Stop())
	assert.Equal(t, StateStopped, w.State())
	assert.False(t, hooks.connected.Load())
}

func TestWorkerStartIsIdempotent(t *testing.T) {
	hooks := &fakeHooks{}
	w := New(Config{DeviceID: "dev1", ReconnectInitialInterval: time.Millisecond}, hooks)

	require.NoError(t, w.Start(context.Background()))
	require.NoError(t, w.Start(context.Background()))

	require.Eventually(t, func() bool { return hooks.connectCalls.Load() >= 1 }, time.Second, 5*time.Millisecond)
	assert.Equal(t, int32(1), hooks.connectCalls.Load())

	require.NoError(t, w.Stop())
}

func TestWorkerRetriesConnectionOnFailure(t *testing.T) {
	hooks := &fakeHooks{failFirstConnect: true}
	w := New(Config{DeviceID: "dev1", ReconnectInitialInterval: time.Millisecond, ReconnectMaxInterval: 5 * time.Millisecond}, hooks)

	require.NoError(t, w.Start(context.Background()))

	require.Eventually(t, func() bool {
		return hooks.connectCalls.Load() >= 2 && w.State() == StateRunning
	}, time.Second, 5*time.Millisecond)

	require.NoError(t, w.Stop())
}

func TestWorkerPauseSuspendsLoopIterations(t *testing.T) {
	hooks := &fakeHooks{}
	w := New(Config{DeviceID: "dev1", ReconnectInitialInterval: time.Millisecond}, hooks)
	require.NoError(t, w.Start(context.Background()))

	require.Eventually(t, func() bool { return w.State() == StateRunning }, time.Second, 5*time.Millisecond)
	require.NoError(t, w.Pause())

	before := hooks.loopCalls.Load()
	time.Sleep(50 * time.Millisecond)
	after := hooks.loopCalls.Load()
	assert.Equal(t, before, after, "paused worker must not keep invoking RunProtocolLoop")

	require.NoError(t, w.Resume())
	require.Eventually(t, func() bool { return hooks.loopCalls.Load() > after }, time.Second, 5*time.Millisecond)

	require.NoError(t, w.Stop())
}

func TestCanTransitionRejectsIllegalMoves(t *testing.T) {
	assert.True(t, CanTransition(StateCreated, StateStarting))
	assert.False(t, CanTransition(StateCreated, StateRunning))
	assert.False(t, CanTransition(StateStopped, StateRunning))
}
