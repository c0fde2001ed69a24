package bacnet

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
	defaultBACnetPort   = 47808
	readDeadline        = 200 * time.Millisecond
	defaultCOVLifetime  = 300 // seconds
	covRenewMargin      = 30 * time.Second
	discoveryInterval   = time.Minute
)

// Binding maps one BACnet object/property pair to a collector point. Point
// binding is a deployment concern (object instances vary per site), so
// NewWorker takes an already-bound list, the same contract pkg/modbus uses
// for register offsets.
type Binding struct {
	PointID  string
	TenantID string
	Object   ObjectID
	DataType model.ScalarType
	Scaling  model.Scaling
	COV      bool // subscribe for Change-of-Value instead of polling
}

type covSubscription struct {
	processID uint32
	expiresAt time.Time
}

// Worker implements workerbase.ProtocolHooks for one BACnet/IP device
// (§4.5). Discovery (Who-Is/I-Am) runs against the device's own address as
// a connectivity probe and keep-alive; object values are read by explicit
// binding rather than full object-list enumeration (see Binding's doc).
type Worker struct {
	deviceID string
	tenantID string
	addr     *net.UDPAddr

	queue *queue.Queue

	mu            sync.Mutex
	conn          *net.UDPConn
	bindings      []Binding
	lastDiscovery time.Time
	lastSeen      time.Time
	nextInvokeID  byte
	nextProcessID uint32
	covSubs       map[string]*covSubscription // keyed by PointID

	logger zerolog.Logger
}

// NewWorker builds a Worker targeting dev.Host:dev.Port (defaulting to the
// standard BACnet/IP port 47808 when dev.Port is unset).
func NewWorker(dev config.DeviceConfig, bindings []Binding, q *queue.Queue) (*Worker, error) {
	port := dev.Port
	if port == 0 {
		port = defaultBACnetPort
	}
	addr, err := net.ResolveUDPAddr("udp", fmt.Sprintf("%s:%d", dev.Host, port))
	if err != nil {
		return nil, fmt.Errorf("bacnet: resolve %s: %w", dev.Host, err)
	}
	return &Worker{
		deviceID: dev.ID,
		tenantID: dev.TenantID,
		addr:     addr,
		queue:    q,
		bindings: bindings,
		covSubs:  make(map[string]*covSubscription),
		logger:   log.WithDeviceID(dev.ID),
	}, nil
}

func (w *Worker) EstablishProtocolConnection(ctx context.Context) error {
	conn, err := net.ListenUDP("udp", &net.UDPAddr{Port: 0})
	if err != nil {
		return fmt.Errorf("bacnet: open udp socket: %w", errs.ErrConnectFailed)
	}
	w.mu.Lock()
	w.conn = conn
	w.mu.Unlock()

	if err := w.sendWhoIs(); err != nil {
		conn.Close()
		w.mu.Lock()
		w.conn = nil
		w.mu.Unlock()
		return err
	}
	if err := w.awaitIAm(2 * time.Second); err != nil {
		w.logger.Warn().Err(err).Msg("bacnet: no I-Am within discovery window, proceeding anyway")
	}
	return nil
}

func (w *Worker) CloseProtocolConnection() error {
	w.mu.Lock()
	defer w.mu.Unlock()
	if w.conn == nil {
		return nil
	}
	err := w.conn.Close()
	w.conn = nil
	return err
}

func (w *Worker) CheckProtocolConnection() bool {
	w.mu.Lock()
	defer w.mu.Unlock()
	if w.conn == nil {
		return false
	}
	return w.lastSeen.IsZero() || time.Since(w.lastSeen) < 5*discoveryInterval
}

// SendProtocolKeepAlive re-sends Who-Is, doubling as both discovery
// refresh and connectivity probe (§4.5).
func (w *Worker) SendProtocolKeepAlive(ctx context.Context) error {
	return w.sendWhoIs()
}

func (w *Worker) sendWhoIs() error {
	w.mu.Lock()
	conn := w.conn
	w.mu.Unlock()
	if conn == nil {
		return errs.ErrNotConnected
	}
	_, err := conn.WriteToUDP(BuildWhoIs(), w.addr)
	if err != nil {
		return fmt.Errorf("bacnet: send who-is: %w", errs.ErrWriteTimeout)
	}
	w.mu.Lock()
	w.lastDiscovery = time.Now()
	w.mu.Unlock()
	return nil
}

func (w *Worker) awaitIAm(timeout time.Duration) error {
	deadline := time.Now().Add(timeout)
	for time.Now().Before(deadline) {
		apdu, err := w.readOne(timeout)
		if err != nil {
			return err
		}
		if apdu == nil {
			continue
		}
		if iam, err := ParseIAm(apdu); err == nil {
			w.mu.Lock()
			w.lastSeen = time.Now()
			w.mu.Unlock()
			w.logger.Debug().Uint32("device_instance", iam.Device.Instance).Msg("bacnet: discovered device")
			return nil
		}
	}
	return fmt.Errorf("bacnet: discovery timed out: %w", errs.ErrReadTimeout)
}

// readOne reads and unwraps one incoming BVLC/NPDU frame into its bare
// APDU, or (nil, nil) on a read timeout.
func (w *Worker) readOne(timeout time.Duration) ([]byte, error) {
	w.mu.Lock()
	conn := w.conn
	w.mu.Unlock()
	if conn == nil {
		return nil, errs.ErrNotConnected
	}
	conn.SetReadDeadline(time.Now().Add(timeout))
	buf := make([]byte, 1500)
	n, _, err := conn.ReadFromUDP(buf)
	if err != nil {
		if ne, ok := err.(net.Error); ok && ne.Timeout() {
			return nil, nil
		}
		return nil, fmt.Errorf("bacnet: read: %w", errs.ErrReadTimeout)
	}
	frame := buf[:n]
	if len(frame) < 6 || frame[0] != bvlcTypeBIP {
		return nil, nil
	}
	npdu := frame[4:]
	if len(npdu) < 2 {
		return nil, nil
	}
	return npdu[2:], nil // strip NPDU version+control, return bare APDU
}

// RunProtocolLoop polls every non-COV binding, renews expiring COV
// subscriptions, and drains any pending notifications (§4.5).
func (w *Worker) RunProtocolLoop(ctx context.Context) error {
	now := time.Now()

	if now.Sub(w.lastDiscoverySnapshot()) >= discoveryInterval {
		if err := w.sendWhoIs(); err != nil {
			w.logger.Warn().Err(err).Msg("bacnet: periodic discovery failed")
		}
	}

	for _, b := range w.bindings {
		if b.COV {
			w.ensureCOVSubscription(b, now)
			continue
		}
		if err := w.pollBinding(b, now); err != nil {
			w.logger.Warn().Str("point_id", b.PointID).Err(err).Msg("bacnet: read property failed")
		}
	}

	w.drainNotifications()
	return nil
}

func (w *Worker) lastDiscoverySnapshot() time.Time {
	w.mu.Lock()
	defer w.mu.Unlock()
	return w.lastDiscovery
}

func (w *Worker) pollBinding(b Binding, now time.Time) error {
	w.mu.Lock()
	conn := w.conn
	invokeID := w.nextInvokeID
	w.nextInvokeID++
	w.mu.Unlock()
	if conn == nil {
		return errs.ErrNotConnected
	}

	req := BuildReadProperty(invokeID, b.Object, PropPresentValue)
	if _, err := conn.WriteToUDP(req, w.addr); err != nil {
		return fmt.Errorf("bacnet: write readproperty: %w", errs.ErrWriteTimeout)
	}

	apdu, err := w.readOne(readDeadline)
	if err != nil || apdu == nil {
		return fmt.Errorf("bacnet: no readproperty response: %w", errs.ErrReadTimeout)
	}
	ack, err := ParseReadPropertyAck(apdu)
	if err != nil {
		return err
	}

	w.enqueueValue(b, ack, now)
	return nil
}

func (w *Worker) ensureCOVSubscription(b Binding, now time.Time) {
	w.mu.Lock()
	sub, ok := w.covSubs[b.PointID]
	if ok && now.Before(sub.expiresAt.Add(-covRenewMargin)) {
		w.mu.Unlock()
		return
	}
	if !ok {
		w.nextProcessID++
		sub = &covSubscription{processID: w.nextProcessID}
		w.covSubs[b.PointID] = sub
	}
	invokeID := w.nextInvokeID
	w.nextInvokeID++
	conn := w.conn
	w.mu.Unlock()

	if conn == nil {
		return
	}

	req := BuildSubscribeCOV(invokeID, sub.processID, b.Object, false, defaultCOVLifetime)
	if _, err := conn.WriteToUDP(req, w.addr); err != nil {
		w.logger.Warn().Str("point_id", b.PointID).Err(err).Msg("bacnet: subscribe-cov failed")
		return
	}
	sub.expiresAt = now.Add(defaultCOVLifetime * time.Second)
}

// drainNotifications reads any pending unconfirmed COV notifications
// without blocking beyond readDeadline, pushing each to the pipeline.
func (w *Worker) drainNotifications() {
	for {
		apdu, err := w.readOne(10 * time.Millisecond)
		if err != nil || apdu == nil {
			return
		}
		notif, err := ParseCOVNotification(apdu)
		if err != nil {
			continue
		}
		for _, b := range w.bindings {
			if b.Object == notif.Object {
				w.enqueueValue(b, notif.Present, time.Now())
			}
		}
	}
}

func (w *Worker) enqueueValue(b Binding, ack ReadPropertyAck, now time.Time) {
	var val model.Value
	if ack.IsBool {
		val = model.BoolValue(ack.BoolVal)
	} else {
		val = model.DoubleValue(b.Scaling.Apply(ack.Raw)).CoerceTo(b.DataType)
	}
	tv := model.TimestampedValue{
		PointID: b.PointID, TenantID: b.TenantID,
		Value: val, Quality: model.QualityGood,
		SourceTimestamp: now, ReceivedTimestamp: now,
	}
	w.queue.SendDeviceData(w.deviceID, w.tenantID, []model.TimestampedValue{tv}, w.deviceID, model.PriorityNormal, model.ProtocolBACnet)
}
