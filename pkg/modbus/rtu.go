package modbus

import (
	"context"
	"sync"
	"time"

	"github.com/cuemby/telemetry-collector/internal/config"
	"github.com/cuemby/telemetry-collector/internal/errs"
	"github.com/cuemby/telemetry-collector/internal/telemetry/log"
	"github.com/cuemby/telemetry-collector/pkg/model"
	"github.com/cuemby/telemetry-collector/pkg/queue"
	"github.com/rs/zerolog"
)

// interFrameDelay is the silence Modbus RTU requires between frames on a
// shared bus, standardised as 3.5 character times; at typical industrial
// baud rates (9600-19200) a flat 10ms comfortably covers that (§4.4).
const interFrameDelay = 10 * time.Millisecond

// Bus serialises RTU requests across every slave sharing one physical
// serial line: only one transaction may be in flight on the wire at a
// time, and every transaction is followed by the inter-frame delay before
// the bus is released to the next waiter.
type Bus struct {
	mu   sync.Mutex
	port SerialPort
}

// NewBus wraps an already-open serial port. Opening/configuring the port
// itself (baud rate, parity) is the caller's concern, since no serial
// library is part of this corpus (see SerialPort's doc comment).
func NewBus(port SerialPort) *Bus {
	return &Bus{port: port}
}

// Transact runs one request/response exchange for slaveID, holding the
// bus mutex for the duration and enforcing the inter-frame delay on exit.
func (b *Bus) Transact(slaveID byte, pdu []byte, readTimeout time.Duration) ([]byte, error) {
	b.mu.Lock()
	defer func() {
		time.Sleep(interFrameDelay)
		b.mu.Unlock()
	}()
	return sendRTURequest(b.port, slaveID, pdu, readTimeout)
}

// RTUWorker implements workerbase.ProtocolHooks for one slave on a shared
// RTU bus (§4.4).
type RTUWorker struct {
	deviceID string
	tenantID string
	slaveID  byte
	bus      *Bus

	queue *queue.Queue

	mu        sync.Mutex
	connected bool
	groups    []PollGroup

	logger zerolog.Logger
}

// NewRTUWorker builds an RTUWorker sharing bus with other slaves on the
// same physical line.
func NewRTUWorker(dev config.DeviceConfig, bus *Bus, groups []PollGroup, q *queue.Queue) *RTUWorker {
	return &RTUWorker{
		deviceID: dev.ID,
		tenantID: dev.TenantID,
		slaveID:  byte(dev.SlaveID),
		bus:      bus,
		queue:    q,
		groups:   groups,
		logger:   log.WithDeviceID(dev.ID),
	}
}

// EstablishProtocolConnection has no handshake of its own on RTU: the
// bus's serial port is already open by the time workers are constructed,
// so "connecting" is a scan read confirming the slave responds at all.
func (w *RTUWorker) EstablishProtocolConnection(ctx context.Context) error {
	if len(w.groups) == 0 {
		w.mu.Lock()
		w.connected = true
		w.mu.Unlock()
		return nil
	}
	if err := w.probe(); err != nil {
		return err
	}
	w.mu.Lock()
	w.connected = true
	w.mu.Unlock()
	return nil
}

func (w *RTUWorker) probe() error {
	g := &w.groups[0]
	pdu := BuildReadRequest(g.FunctionCode, g.StartAddress, minU16(g.Count, 1))
	_, err := w.bus.Transact(w.slaveID, pdu, 2*time.Second)
	if err != nil {
		return errs.ErrConnectFailed
	}
	return nil
}

func minU16(a, b uint16) uint16 {
	if a < b {
		return a
	}
	return b
}

func (w *RTUWorker) CloseProtocolConnection() error {
	w.mu.Lock()
	defer w.mu.Unlock()
	w.connected = false
	return nil
}

func (w *RTUWorker) CheckProtocolConnection() bool {
	w.mu.Lock()
	defer w.mu.Unlock()
	return w.connected
}

func (w *RTUWorker) SendProtocolKeepAlive(ctx context.Context) error {
	if len(w.groups) == 0 {
		return nil
	}
	return w.probe()
}

func (w *RTUWorker) RunProtocolLoop(ctx context.Context) error {
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

func (w *RTUWorker) pollGroup(g *PollGroup, now time.Time) error {
	pdu := BuildReadRequest(g.FunctionCode, g.StartAddress, g.Count)
	respPDU, err := w.bus.Transact(w.slaveID, pdu, 2*time.Second)
	if err != nil {
		w.logger.Warn().Str("group", g.Name).Err(err).Msg("modbus rtu: poll failed")
		return err
	}

	var values []model.TimestampedValue
	switch registerKindForFunction(g.FunctionCode) {
	case KindCoil, KindDiscreteInput:
		bits, err := ParseReadBitsResponse(respPDU, int(g.Count))
		if err != nil {
			return err
		}
		values = g.DecodeBits(bits, w.tenantID, now, model.QualityGood)
	default:
		regs, err := ParseReadRegistersResponse(respPDU)
		if err != nil {
			return err
		}
		values = g.DecodeRegisters(regs, w.tenantID, now, model.QualityGood)
	}

	if len(values) == 0 {
		return nil
	}
	w.queue.SendDeviceData(w.deviceID, w.tenantID, values, w.deviceID, model.PriorityNormal, model.ProtocolModbusRTU)
	return nil
}
