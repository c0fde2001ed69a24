package mqttworker

import (
	"context"
	"fmt"
	"sync"
	"time"

	mqtt "github.com/eclipse/paho.mqtt.golang"

	"github.com/cuemby/telemetry-collector/internal/config"
	"github.com/cuemby/telemetry-collector/internal/errs"
	"github.com/cuemby/telemetry-collector/internal/telemetry/log"
	"github.com/cuemby/telemetry-collector/pkg/model"
	"github.com/cuemby/telemetry-collector/pkg/queue"
	"github.com/rs/zerolog"
)

// ProductionConfig enables the extras §4.6 calls "production mode":
// a priority publish queue, a circuit breaker, an offline buffer, a
// dedup filter, and broker failover. Zero value disables every extra.
type ProductionConfig struct {
	Enabled bool

	PublishQueueCapacity int
	OfflineBufferCapacity int

	BreakerFailureThreshold int
	BreakerCooldown         time.Duration

	DedupCapacity int

	// BackupBrokerURLs are tried in order after a connect attempt to the
	// current broker returns an error, wrapping back to the primary after
	// the last backup. A connect attempt that times out is retried against
	// the same broker, and a reconnect after a lost session starts from the
	// broker the worker was last connected to.
	BackupBrokerURLs []string
}

func (p ProductionConfig) withDefaults() ProductionConfig {
	if p.PublishQueueCapacity <= 0 {
		p.PublishQueueCapacity = 1000
	}
	if p.OfflineBufferCapacity <= 0 {
		p.OfflineBufferCapacity = 5000
	}
	if p.BreakerFailureThreshold <= 0 {
		p.BreakerFailureThreshold = 5
	}
	if p.BreakerCooldown <= 0 {
		p.BreakerCooldown = 30 * time.Second
	}
	if p.DedupCapacity <= 0 {
		p.DedupCapacity = 10_000
	}
	return p
}

// Worker implements workerbase.ProtocolHooks for an MQTT broker
// connection driving N subscriptions (§4.6).
type Worker struct {
	deviceID string
	tenantID string

	brokerURLs []string
	clientID   string
	production ProductionConfig

	queue *queue.Queue

	mu            sync.Mutex
	client        mqtt.Client
	subscriptions []*Subscription
	currentBroker int

	publishQueue  *priorityQueue
	offlineBuffer *priorityQueue
	breaker       *circuitBreaker
	dedup         *dedupFilter

	logger zerolog.Logger
}

// New builds a Worker. subscriptions' callbacks are wired on connect.
func New(dev config.DeviceConfig, subscriptions []*Subscription, production ProductionConfig, q *queue.Queue) *Worker {
	production = production.withDefaults()
	clientID := dev.MQTTClientID
	if clientID == "" {
		clientID = "collector-" + dev.ID
	}

	w := &Worker{
		deviceID:      dev.ID,
		tenantID:      dev.TenantID,
		brokerURLs:    dev.MQTTBrokerURLs,
		clientID:      clientID,
		production:    production,
		queue:         q,
		subscriptions: subscriptions,
		logger:        log.WithDeviceID(dev.ID),
	}

	if production.Enabled {
		w.publishQueue = newPriorityQueue(production.PublishQueueCapacity)
		w.offlineBuffer = newPriorityQueue(production.OfflineBufferCapacity)
		w.breaker = newCircuitBreaker(production.BreakerFailureThreshold, production.BreakerCooldown)
		w.dedup = newDedupFilter(production.DedupCapacity)
	}
	return w
}

func (w *Worker) EstablishProtocolConnection(ctx context.Context) error {
	w.mu.Lock()
	broker := w.brokerAt(w.currentBroker)
	w.mu.Unlock()
	if broker == "" {
		return fmt.Errorf("mqttworker: no broker url configured: %w", errs.ErrConnectFailed)
	}

	opts := mqtt.NewClientOptions().
		AddBroker(broker).
		SetClientID(w.clientID).
		SetAutoReconnect(false). // workerbase owns reconnect/backoff
		SetConnectTimeout(5 * time.Second)

	client := mqtt.NewClient(opts)
	token := client.Connect()
	if !token.WaitTimeout(10 * time.Second) {
		return fmt.Errorf("mqttworker: connect to %s timed out: %w", broker, errs.ErrConnectFailed)
	}
	if err := token.Error(); err != nil {
		w.failoverToNextBroker()
		return fmt.Errorf("mqttworker: connect to %s: %w: %v", broker, errs.ErrConnectFailed, err)
	}

	for _, sub := range w.subscriptions {
		s := sub
		subToken := client.Subscribe(s.Topic, s.QoS, w.handlerFor(s))
		if !subToken.WaitTimeout(5 * time.Second) || subToken.Error() != nil {
			client.Disconnect(250)
			return fmt.Errorf("mqttworker: subscribe %s: %w", s.Topic, errs.ErrConnectFailed)
		}
	}

	w.mu.Lock()
	w.client = client
	w.mu.Unlock()

	if w.production.Enabled {
		w.replayOfflineBuffer()
	}
	return nil
}

func (w *Worker) brokerAt(idx int) string {
	all := append(append([]string(nil), w.brokerURLs...), w.production.BackupBrokerURLs...)
	if len(all) == 0 {
		return ""
	}
	return all[idx%len(all)]
}

func (w *Worker) failoverToNextBroker() {
	if len(w.production.BackupBrokerURLs) == 0 {
		return
	}
	w.mu.Lock()
	defer w.mu.Unlock()
	w.currentBroker = (w.currentBroker + 1) % (len(w.brokerURLs) + len(w.production.BackupBrokerURLs))
}

func (w *Worker) CloseProtocolConnection() error {
	w.mu.Lock()
	defer w.mu.Unlock()
	if w.client == nil {
		return nil
	}
	w.client.Disconnect(250)
	w.client = nil
	return nil
}

func (w *Worker) CheckProtocolConnection() bool {
	w.mu.Lock()
	defer w.mu.Unlock()
	return w.client != nil && w.client.IsConnected()
}

// SendProtocolKeepAlive is a no-op: paho's client handles PINGREQ/PINGRESP
// internally once connected (§4.2's ProtocolHooks doc).
func (w *Worker) SendProtocolKeepAlive(ctx context.Context) error { return nil }

// RunProtocolLoop drains the priority publish queue when production mode
// is enabled; plain subscribe-only workers have nothing to do here since
// message delivery is callback-driven, not polled.
func (w *Worker) RunProtocolLoop(ctx context.Context) error {
	if !w.production.Enabled {
		return nil
	}
	for {
		msg, ok := w.publishQueue.pop()
		if !ok {
			return nil
		}
		if err := w.publishNow(msg); err != nil {
			w.logger.Warn().Str("topic", msg.Topic).Err(err).Msg("mqttworker: publish failed, buffering offline")
			if !w.offlineBuffer.push(msg) {
				w.logger.Error().Str("topic", msg.Topic).Msg("mqttworker: offline buffer full, dropping message")
			}
			return nil
		}
	}
}

// Publish enqueues a message for the priority publish loop (production
// mode) or publishes immediately (plain mode).
func (w *Worker) Publish(msg PublishMessage) error {
	if !w.production.Enabled {
		return w.publishNow(msg)
	}
	if !w.publishQueue.push(msg) {
		return errQueueFull
	}
	return nil
}

func (w *Worker) publishNow(msg PublishMessage) error {
	w.mu.Lock()
	client := w.client
	w.mu.Unlock()
	if client == nil {
		return errs.ErrNotConnected
	}

	if w.production.Enabled && !w.breaker.Allow() {
		return errCircuitOpen
	}

	token := client.Publish(msg.Topic, msg.QoS, msg.Retained, msg.Payload)
	ok := token.WaitTimeout(5 * time.Second)
	err := token.Error()

	if w.production.Enabled {
		if ok && err == nil {
			w.breaker.RecordSuccess()
		} else {
			w.breaker.RecordFailure()
		}
	}
	if !ok {
		return fmt.Errorf("mqttworker: publish to %s timed out: %w", msg.Topic, errs.ErrWriteTimeout)
	}
	return err
}

func (w *Worker) replayOfflineBuffer() {
	for {
		msg, ok := w.offlineBuffer.pop()
		if !ok {
			return
		}
		if err := w.publishNow(msg); err != nil {
			w.offlineBuffer.push(msg)
			return
		}
	}
}

// handlerFor builds the paho message callback for one subscription: parse
// JSON, extract json_path, coerce per bound point, enqueue.
func (w *Worker) handlerFor(sub *Subscription) mqtt.MessageHandler {
	return func(_ mqtt.Client, msg mqtt.Message) {
		sub.MessagesReceived++

		if w.production.Enabled {
			if id := messageIDHeader(msg); id != "" && w.dedup.Seen(id) {
				return
			}
		}

		raw, err := sub.Extract(msg.Payload())
		if err != nil {
			sub.DecodeErrors++
			w.logger.Warn().Str("topic", sub.Topic).Err(err).Msg("mqttworker: json_path extraction failed")
			return
		}

		now := time.Now()
		values := make([]model.TimestampedValue, 0, len(sub.Points))
		for _, p := range sub.Points {
			val, err := model.ValueFromAny(p.DataType, raw)
			if err != nil {
				sub.DecodeErrors++
				continue
			}
			val = model.DoubleValue(p.Scaling.Apply(val.AsFloat64())).CoerceTo(p.DataType)
			values = append(values, model.TimestampedValue{
				PointID: p.PointID, TenantID: p.TenantID,
				Value: val, Quality: model.QualityGood,
				SourceTimestamp: now, ReceivedTimestamp: now,
			})
		}
		if len(values) == 0 {
			return
		}
		w.queue.SendDeviceData(w.deviceID, w.tenantID, values, w.deviceID, model.PriorityNormal, model.ProtocolMQTT)
	}
}

// messageIDHeader returns the delivery's MQTT packet identifier as the
// dedup key; no message-id header or user property is read. QoS 0
// deliveries carry no packet identifier, so they yield "" and are never
// deduplicated.
func messageIDHeader(msg mqtt.Message) string {
	type messageIDCarrier interface {
		MessageID() uint16
	}
	if carrier, ok := any(msg).(messageIDCarrier); ok && carrier.MessageID() != 0 {
		return fmt.Sprintf("%d", carrier.MessageID())
	}
	return ""
}
