package modbus

import (
	"context"
	"fmt"
	"net"
	"sync"
	"time"

	"github.com/cuemby/telemetry-collector/internal/config"
	"github.com/cuemby/telemetry-collector/internal/errs"
	"github.com/cuemby/telemetry-collector/internal/telemetry/log"
	"github.com/cuemby/telemetry-collector/pkg/model"
	"github.com/cuemby/telemetry-collector/pkg/queue"
	"github.com/rs/zerolog"
)

const (
	defaultDialTimeout = 5 * time.Second
	defaultIOTimeout   = 3 * time.Second
)

// TCPWorker implements workerbase.ProtocolHooks for a single Modbus TCP
// slave (§4.3). One TCPWorker owns one net.Conn and a set of poll groups
// evaluated round-robin against the shared device poll loop.
type TCPWorker struct {
	deviceID string
	tenantID string
	addr     string
	unitID   byte

	queue *queue.Queue

	mu     sync.Mutex
	conn   net.Conn
	groups []PollGroup

	logger zerolog.Logger
}

// NewTCPWorker builds a TCPWorker from device configuration and a set of
// already-bound poll groups (see BuildPollGroups and BindPoints, which
// build them from the same config.DeviceConfig).
func NewTCPWorker(dev config.DeviceConfig, groups []PollGroup, q *queue.Queue) *TCPWorker {
	return &TCPWorker{
		deviceID: dev.ID,
		tenantID: dev.TenantID,
		addr:     fmt.Sprintf("%s:%d", dev.Host, dev.Port),
		unitID:   byte(dev.SlaveID),
		queue:    q,
		groups:   groups,
		logger:   log.WithDeviceID(dev.ID),
	}
}

func (w *TCPWorker) EstablishProtocolConnection(ctx context.Context) error {
	dialer := net.Dialer{Timeout: defaultDialTimeout}
	conn, err := dialer.DialContext(ctx, "tcp", w.addr)
	if err != nil {
		return fmt.Errorf("modbus tcp: dial %s: %w", w.addr, errs.ErrConnectFailed)
	}
	w.mu.Lock()
	w.conn = conn
	w.mu.Unlock()
	return nil
}

func (w *TCPWorker) CloseProtocolConnection() error {
	w.mu.Lock()
	defer w.mu.Unlock()
	if w.conn == nil {
		return nil
	}
	err := w.conn.Close()
	w.conn = nil
	return err
}

func (w *TCPWorker) CheckProtocolConnection() bool {
	w.mu.Lock()
	defer w.mu.Unlock()
	return w.conn != nil
}

// SendProtocolKeepAlive polls the first poll group's full range as a
// liveness probe, enqueueing the values it reads like a regular poll;
// Modbus TCP has no dedicated ping.
func (w *TCPWorker) SendProtocolKeepAlive(ctx context.Context) error {
	w.mu.Lock()
	hasGroups := len(w.groups) > 0
	w.mu.Unlock()
	if !hasGroups {
		return nil
	}
	return w.pollGroup(&w.groups[0], time.Now())
}

// RunProtocolLoop polls every due poll group once (§4.3's forward-only
// interval slip: a group that's due is polled now, never backlogged).
func (w *TCPWorker) RunProtocolLoop(ctx context.Context) error {
	now := time.Now()
	var firstErr error
	for i := range w.groups {
		g := &w.groups[i]
		if !g.Due(now) {
			continue
		}
		if err := w.pollGroup(g, now); err != nil && firstErr == nil {
			firstErr = err
		}
		g.MarkPolled(now)
	}
	return firstErr
}

func (w *TCPWorker) pollGroup(g *PollGroup, now time.Time) error {
	w.mu.Lock()
	conn := w.conn
	w.mu.Unlock()
	if conn == nil {
		return errs.ErrNotConnected
	}

	conn.SetDeadline(now.Add(defaultIOTimeout))

	pdu := BuildReadRequest(g.FunctionCode, g.StartAddress, g.Count)
	respPDU, err := sendTCPRequest(conn, w.unitID, pdu)
	if err != nil {
		w.logger.Warn().Str("group", g.Name).Err(err).Msg("modbus tcp: poll failed")
		return err
	}

	var values []model.TimestampedValue
	switch registerKindForFunction(g.FunctionCode) {
	case KindCoil, KindDiscreteInput:
		bits, err := ParseReadBitsResponse(respPDU, int(g.Count))
		if err != nil {
			return w.reportException(g, err)
		}
		values = g.DecodeBits(bits, w.tenantID, now, model.QualityGood)
	default:
		regs, err := ParseReadRegistersResponse(respPDU)
		if err != nil {
			return w.reportException(g, err)
		}
		values = g.DecodeRegisters(regs, w.tenantID, now, model.QualityGood)
	}

	if len(values) == 0 {
		return nil
	}
	w.queue.SendDeviceData(w.deviceID, w.tenantID, values, w.deviceID, model.PriorityNormal, model.ProtocolModbusTCP)
	return nil
}

// reportException marks every point in the group bad_timeout, whatever
// the cause, and still enqueues them, so a slave exception shows up as a quality
// transition rather than silently stalling the point's last-known value.
func (w *TCPWorker) reportException(g *PollGroup, cause error) error {
	now := time.Now()
	values := make([]model.TimestampedValue, 0, len(g.Bindings))
	for _, b := range g.Bindings {
		values = append(values, model.TimestampedValue{
			PointID: b.PointID, TenantID: w.tenantID,
			Value: model.DoubleValue(0), Quality: model.QualityBadTimeout,
			SourceTimestamp: now, ReceivedTimestamp: now,
			ChangeFlags: model.ChangeFlags{QualityChanged: true},
		})
	}
	if len(values) > 0 {
		w.queue.SendDeviceData(w.deviceID, w.tenantID, values, w.deviceID, model.PriorityNormal, model.ProtocolModbusTCP)
	}
	return cause
}

// WriteRegister issues a synchronous FC=0x06 write, used by the control
// surface's write path (§6). It is not part of ProtocolHooks because
// writes are operator-triggered, not polled.
func (w *TCPWorker) WriteRegister(ctx context.Context, address uint16, value uint16) error {
	w.mu.Lock()
	conn := w.conn
	w.mu.Unlock()
	if conn == nil {
		return errs.ErrNotConnected
	}
	conn.SetDeadline(time.Now().Add(defaultIOTimeout))

	pdu := BuildWriteSingleRegisterRequest(address, value)
	respPDU, err := sendTCPRequest(conn, w.unitID, pdu)
	if err != nil {
		return err
	}
	return checkException(respPDU)
}

// WritePoint resolves pointID to its bound register address across this
// worker's poll groups and issues the write, satisfying the generic
// write-routing surface the worker manager dispatches operator writes
// through (§6, §4.1's "write routing").
func (w *TCPWorker) WritePoint(ctx context.Context, pointID string, value model.Value) error {
	for _, g := range w.groups {
		for _, b := range g.Bindings {
			if b.PointID != pointID {
				continue
			}
			factor := b.Scaling.Factor
			if factor == 0 {
				factor = 1
			}
			raw := (value.AsFloat64() - b.Scaling.Offset) / factor
			return w.WriteRegister(ctx, g.StartAddress+uint16(b.Offset), uint16(int32(raw)))
		}
	}
	return fmt.Errorf("modbus: point %q not bound on device %s: %w", pointID, w.deviceID, errs.ErrMissingTarget)
}
