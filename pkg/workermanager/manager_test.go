package workermanager

import (
	"context"
	"sync/atomic"
	"testing"
	"time"

	"github.com/cuemby/telemetry-collector/internal/errs"
	"github.com/cuemby/telemetry-collector/pkg/model"
	"github.com/cuemby/telemetry-collector/pkg/workerbase"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type fakeHooks struct {
	connected atomic.Bool
	loops     atomic.Int64
	failWrite bool
}

func (h *fakeHooks) EstablishProtocolConnection(ctx context.Context) error {
	h.connected.Store(true)
	return nil
}
func (h *fakeHooks) CloseProtocolConnection() error {
	h.connected.Store(false)
	return nil
}
func (h *fakeHooks) CheckProtocolConnection() bool           { return h.connected.Load() }
func (h *fakeHooks) SendProtocolKeepAlive(ctx context.Context) error { return nil }
func (h *fakeHooks) RunProtocolLoop(ctx context.Context) error {
	h.loops.Add(1)
	return nil
}

// fakeWritableHooks additionally implements Writable, for write-routing tests.
type fakeWritableHooks struct {
	fakeHooks
	lastPointID string
	lastValue   model.Value
}

func (h *fakeWritableHooks) WritePoint(ctx context.Context, pointID string, value model.Value) error {
	if h.fakeHooks.failWrite {
		return assertErr
	}
	h.lastPointID = pointID
	h.lastValue = value
	return nil
}

var assertErr = errs.ErrWriteTimeout

func TestRegisterStartStopLifecycle(t *testing.T) {
	m := New()
	hooks := &fakeHooks{}
	require.NoError(t, m.Register("modbus_tcp", workerbase.Config{DeviceID: "dev-1"}, hooks))

	require.NoError(t, m.Start(context.Background(), "dev-1"))
	require.Eventually(t, func() bool {
		s, err := m.State("dev-1")
		return err == nil && s == workerbase.StateRunning
	}, time.Second, 5*time.Millisecond)

	require.NoError(t, m.Stop("dev-1"))
	s, err := m.State("dev-1")
	require.NoError(t, err)
	assert.Equal(t, workerbase.StateStopped, s)
}

func TestStartIsIdempotent(t *testing.T) {
	m := New()
	hooks := &fakeHooks{}
	require.NoError(t, m.Register("modbus_tcp", workerbase.Config{DeviceID: "dev-1"}, hooks))

	require.NoError(t, m.Start(context.Background(), "dev-1"))
	require.NoError(t, m.Start(context.Background(), "dev-1"))
	require.NoError(t, m.Start(context.Background(), "dev-1"))
}

func TestRegisterDuplicateDeviceIDErrors(t *testing.T) {
	m := New()
	require.NoError(t, m.Register("modbus_tcp", workerbase.Config{DeviceID: "dev-1"}, &fakeHooks{}))
	err := m.Register("modbus_tcp", workerbase.Config{DeviceID: "dev-1"}, &fakeHooks{})
	assert.Error(t, err)
}

func TestUnknownDeviceOperationsFailFast(t *testing.T) {
	m := New()
	_, err := m.State("ghost")
	assert.ErrorIs(t, err, errs.ErrUnknownDevice)

	err = m.Start(context.Background(), "ghost")
	assert.ErrorIs(t, err, errs.ErrUnknownDevice)

	err = m.WritePoint(context.Background(), "ghost", "pt-1", model.DoubleValue(1))
	assert.ErrorIs(t, err, errs.ErrUnknownDevice)
}

func TestWritePointRoutesToWritableHooks(t *testing.T) {
	m := New()
	hooks := &fakeWritableHooks{}
	require.NoError(t, m.Register("modbus_tcp", workerbase.Config{DeviceID: "dev-1"}, hooks))
	require.NoError(t, m.Start(context.Background(), "dev-1"))

	require.Eventually(t, func() bool {
		s, _ := m.State("dev-1")
		return s == workerbase.StateRunning
	}, time.Second, 5*time.Millisecond)

	require.NoError(t, m.WritePoint(context.Background(), "dev-1", "pt-42", model.DoubleValue(7.5)))
	assert.Equal(t, "pt-42", hooks.lastPointID)
	assert.Equal(t, 7.5, hooks.lastValue.AsFloat64())
}

func TestWritePointFailsWhenHooksNotWritable(t *testing.T) {
	m := New()
	hooks := &fakeHooks{}
	require.NoError(t, m.Register("bacnet", workerbase.Config{DeviceID: "dev-1"}, hooks))
	require.NoError(t, m.Start(context.Background(), "dev-1"))

	require.Eventually(t, func() bool {
		s, _ := m.State("dev-1")
		return s == workerbase.StateRunning
	}, time.Second, 5*time.Millisecond)

	err := m.WritePoint(context.Background(), "dev-1", "pt-1", model.DoubleValue(1))
	assert.ErrorIs(t, err, errs.ErrUnauthorisedWrite)
}

func TestWritePointFailsFastWhenNotRunning(t *testing.T) {
	m := New()
	hooks := &fakeWritableHooks{}
	require.NoError(t, m.Register("modbus_tcp", workerbase.Config{DeviceID: "dev-1"}, hooks))

	err := m.WritePoint(context.Background(), "dev-1", "pt-1", model.DoubleValue(1))
	assert.ErrorIs(t, err, errs.ErrNotConnected)
}

func TestListReturnsSortedStatuses(t *testing.T) {
	m := New()
	require.NoError(t, m.Register("mqtt", workerbase.Config{DeviceID: "zzz"}, &fakeHooks{}))
	require.NoError(t, m.Register("modbus_tcp", workerbase.Config{DeviceID: "aaa"}, &fakeHooks{}))

	statuses := m.List()
	require.Len(t, statuses, 2)
	assert.Equal(t, "aaa", statuses[0].DeviceID)
	assert.Equal(t, "zzz", statuses[1].DeviceID)
}

func TestStartAllAndStopAll(t *testing.T) {
	m := New()
	require.NoError(t, m.Register("modbus_tcp", workerbase.Config{DeviceID: "d1"}, &fakeHooks{}))
	require.NoError(t, m.Register("bacnet", workerbase.Config{DeviceID: "d2"}, &fakeHooks{}))

	require.NoError(t, m.StartAll(context.Background()))
	require.Eventually(t, func() bool {
		s1, _ := m.State("d1")
		s2, _ := m.State("d2")
		return s1 == workerbase.StateRunning && s2 == workerbase.StateRunning
	}, time.Second, 5*time.Millisecond)

	require.NoError(t, m.StopAll())
	for _, s := range m.List() {
		assert.Equal(t, workerbase.StateStopped, s.State)
	}
}

func TestDeregisterStopsAndRemoves(t *testing.T) {
	m := New()
	require.NoError(t, m.Register("modbus_tcp", workerbase.Config{DeviceID: "dev-1"}, &fakeHooks{}))
	require.NoError(t, m.Start(context.Background(), "dev-1"))

	require.NoError(t, m.Deregister("dev-1"))
	_, err := m.State("dev-1")
	assert.ErrorIs(t, err, errs.ErrUnknownDevice)
}
