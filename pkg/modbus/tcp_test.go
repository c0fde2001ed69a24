package modbus

import (
	"context"
	"encoding/binary"
	"net"
	"strconv"
	"testing"
	"time"

	"github.com/cuemby/telemetry-collector/internal/config"
	"github.com/cuemby/telemetry-collector/pkg/queue"
	"github.com/stretchr/testify/require"
)

// fakeModbusTCPServer accepts one connection and answers every read
// holding-register request with a fixed pair of register values.
func fakeModbusTCPServer(t *testing.T, regs []uint16) string {
	t.Helper()
	ln, err := net.Listen("tcp", "127.0.0.1:0")
	require.NoError(t, err)
	t.Cleanup(func() { ln.Close() })

	go func() {
		conn, err := ln.Accept()
		if err != nil {
			return
		}
		defer conn.Close()
		for {
			header := make([]byte, mbapHeaderLen)
			if _, err := ioReadFull(conn, header); err != nil {
				return
			}
			length := binary.BigEndian.Uint16(header[4:6])
			body := make([]byte, length-1)
			if _, err := ioReadFull(conn, body); err != nil {
				return
			}

			respBody := make([]byte, 2+len(regs)*2)
			respBody[0] = body[0] // echo function code
			respBody[1] = byte(len(regs) * 2)
			for i, r := range regs {
				binary.BigEndian.PutUint16(respBody[2+2*i:4+2*i], r)
			}

			resp := make([]byte, mbapHeaderLen+len(respBody))
			copy(resp[0:2], header[0:2])
			binary.BigEndian.PutUint16(resp[4:6], uint16(len(respBody)+1))
			resp[6] = header[6]
			copy(resp[7:], respBody)
			conn.Write(resp)
		}
	}()

	return ln.Addr().String()
}

func ioReadFull(conn net.Conn, buf []byte) (int, error) {
	total := 0
	for total < len(buf) {
		n, err := conn.Read(buf[total:])
		total += n
		if err != nil {
			return total, err
		}
	}
	return total, nil
}

func TestTCPWorkerPollsAndEnqueuesValues(t *testing.T) {
	addr := fakeModbusTCPServer(t, []uint16{123, 456})

	host, portStr, err := net.SplitHostPort(addr)
	require.NoError(t, err)
	port, err := strconv.Atoi(portStr)
	require.NoError(t, err)

	dev := config.DeviceConfig{ID: "dev1", TenantID: "t1", Protocol: "modbus_tcp", Host: host, Port: port, SlaveID: 1}
	group := PollGroup{
		Name: "g1", FunctionCode: FuncReadHoldingRegisters, StartAddress: 0, Count: 2,
		PollInterval: 10 * time.Millisecond,
		Bindings: []Binding{
			{PointID: "p1", TenantID: "t1", Offset: 0, Words: 1},
			{PointID: "p2", TenantID: "t1", Offset: 1, Words: 1},
		},
	}
	q := queue.New(10)
	w := NewTCPWorker(dev, []PollGroup{group}, q)

	ctx := context.Background()
	require.NoError(t, w.EstablishProtocolConnection(ctx))
	defer w.CloseProtocolConnection()

	require.True(t, w.CheckProtocolConnection())
	require.NoError(t, w.RunProtocolLoop(ctx))

	batch := q.GetBatch(10, 200*time.Millisecond)
	require.Len(t, batch, 1)
	require.Len(t, batch[0].Values, 2)
	require.Equal(t, 123.0, batch[0].Values[0].Value.AsFloat64())
	require.Equal(t, 456.0, batch[0].Values[1].Value.AsFloat64())
}
