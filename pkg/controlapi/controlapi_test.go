package controlapi

import (
	"context"
	"net"
	"testing"
	"time"

	"github.com/cuemby/telemetry-collector/pkg/alarm"
	"github.com/cuemby/telemetry-collector/pkg/workerbase"
	"github.com/cuemby/telemetry-collector/pkg/workermanager"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"google.golang.org/grpc"
	"google.golang.org/grpc/credentials/insecure"
	"google.golang.org/grpc/status"
	"google.golang.org/grpc/test/bufconn"
)

const bufSize = 1024 * 1024

type noopHooks struct{}

func (noopHooks) EstablishProtocolConnection(ctx context.Context) error { return nil }
func (noopHooks) CloseProtocolConnection() error                       { return nil }
func (noopHooks) CheckProtocolConnection() bool                        { return true }
func (noopHooks) SendProtocolKeepAlive(ctx context.Context) error       { return nil }
func (noopHooks) RunProtocolLoop(ctx context.Context) error             { return nil }

func startTestServer(t *testing.T, srv ControlAPIServer) (*grpc.ClientConn, func()) {
	t.Helper()
	lis := bufconn.Listen(bufSize)

	gs := grpc.NewServer(grpc.ForceServerCodec(jsonCodec{}))
	gs.RegisterService(&ServiceDesc, srv)
	go gs.Serve(lis)

	conn, err := grpc.NewClient("passthrough:///bufnet",
		grpc.WithContextDialer(func(ctx context.Context, _ string) (net.Conn, error) { return lis.Dial() }),
		grpc.WithTransportCredentials(insecure.NewCredentials()),
		grpc.WithDefaultCallOptions(grpc.ForceCodec(jsonCodec{})),
	)
	require.NoError(t, err)

	return conn, func() {
		conn.Close()
		gs.Stop()
	}
}

func newTestAlarmEngine() *alarm.Engine {
	return alarm.New(alarm.NewRuleCache(), nil, nil, nil, 1)
}

func TestListWorkersOverBufconn(t *testing.T) {
	wm := workermanager.New()
	require.NoError(t, wm.Register("modbus_tcp", workerbase.Config{DeviceID: "dev-1"}, noopHooks{}))

	srv := NewServer(wm, newTestAlarmEngine(), nil)
	conn, cleanup := startTestServer(t, srv)
	defer cleanup()

	client := &Client{conn: conn}
	resp, err := client.ListWorkers(context.Background())
	require.NoError(t, err)
	require.Len(t, resp.Workers, 1)
	assert.Equal(t, "dev-1", resp.Workers[0].DeviceID)
	assert.Equal(t, "modbus_tcp", resp.Workers[0].Protocol)
}

func TestStartStopWorkerOverBufconn(t *testing.T) {
	wm := workermanager.New()
	require.NoError(t, wm.Register("bacnet", workerbase.Config{DeviceID: "dev-1"}, noopHooks{}))

	srv := NewServer(wm, newTestAlarmEngine(), nil)
	conn, cleanup := startTestServer(t, srv)
	defer cleanup()

	client := &Client{conn: conn}
	ctx := context.Background()

	startResp, err := client.StartWorker(ctx, "dev-1")
	require.NoError(t, err)
	assert.True(t, startResp.OK)

	require.Eventually(t, func() bool {
		s, _ := wm.State("dev-1")
		return s == workerbase.StateRunning
	}, time.Second, 5*time.Millisecond)

	stopResp, err := client.StopWorker(ctx, "dev-1")
	require.NoError(t, err)
	assert.True(t, stopResp.OK)
}

func TestUnknownDeviceMapsToNotFound(t *testing.T) {
	wm := workermanager.New()
	srv := NewServer(wm, newTestAlarmEngine(), nil)
	conn, cleanup := startTestServer(t, srv)
	defer cleanup()

	client := &Client{conn: conn}
	_, err := client.StartWorker(context.Background(), "ghost")
	require.Error(t, err)
	assert.Equal(t, "NotFound", status.Code(err).String())
}

func TestAcknowledgeUntrackedOccurrenceMapsToNotFound(t *testing.T) {
	wm := workermanager.New()
	srv := NewServer(wm, newTestAlarmEngine(), nil)
	conn, cleanup := startTestServer(t, srv)
	defer cleanup()

	client := &Client{conn: conn}
	_, err := client.AcknowledgeAlarm(context.Background(), "rule-1", "target-1", "operator-1", "")
	require.Error(t, err)
	assert.Equal(t, "NotFound", status.Code(err).String())
}

func TestListActiveAlarmsWithNoStoreReturnsEmpty(t *testing.T) {
	wm := workermanager.New()
	srv := NewServer(wm, newTestAlarmEngine(), nil)
	conn, cleanup := startTestServer(t, srv)
	defer cleanup()

	client := &Client{conn: conn}
	resp, err := client.ListActiveAlarms(context.Background(), "tenant-1")
	require.NoError(t, err)
	assert.Empty(t, resp.Occurrences)
}

func TestWritePointFailsFastWhenDeviceNotRunning(t *testing.T) {
	wm := workermanager.New()
	require.NoError(t, wm.Register("modbus_tcp", workerbase.Config{DeviceID: "dev-1"}, noopHooks{}))

	srv := NewServer(wm, newTestAlarmEngine(), nil)
	conn, cleanup := startTestServer(t, srv)
	defer cleanup()

	client := &Client{conn: conn}
	_, err := client.WritePoint(context.Background(), "dev-1", "pt-1", 1.0)
	require.Error(t, err)
	assert.Equal(t, "FailedPrecondition", status.Code(err).String())
}

func TestJSONCodecRoundTrips(t *testing.T) {
	c := jsonCodec{}
	in := &DeviceRequest{DeviceID: "dev-1"}
	data, err := c.Marshal(in)
	require.NoError(t, err)

	out := new(DeviceRequest)
	require.NoError(t, c.Unmarshal(data, out))
	assert.Equal(t, in.DeviceID, out.DeviceID)
}
