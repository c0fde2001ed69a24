// Package processing implements the Data Processing Service (§4.8): a
// pool of goroutines draining the Pipeline Queue in batches and running
// each batch through virtual-point evaluation, alarm evaluation,
// persistence, and publication, in that order.
//
// Grounded on the teacher's pkg/reconciler.run() ticker/select/stopCh
// shape, generalised to N goroutines each blocking on Queue.GetBatch
// instead of a single ticker.
package processing

import (
	"context"
	"encoding/json"
	"sync"
	"time"

	"github.com/cuemby/telemetry-collector/internal/metrics"
	"github.com/cuemby/telemetry-collector/internal/telemetry/log"
	"github.com/cuemby/telemetry-collector/pkg/alarm"
	"github.com/cuemby/telemetry-collector/pkg/model"
	"github.com/cuemby/telemetry-collector/pkg/queue"
	"github.com/cuemby/telemetry-collector/pkg/sink"
	"github.com/cuemby/telemetry-collector/pkg/vpoint"
	"github.com/rs/zerolog"
)

// Config configures the processing pool.
type Config struct {
	Workers       int
	BatchSize     int
	BatchTimeout  time.Duration
	SourceName    string
	Location      string
}

func (c Config) withDefaults() Config {
	if c.Workers <= 0 {
		c.Workers = 4
	}
	if c.BatchSize <= 0 {
		c.BatchSize = 500
	}
	if c.BatchTimeout <= 0 {
		c.BatchTimeout = 200 * time.Millisecond
	}
	return c
}

// Service is the Data Processing Service.
type Service struct {
	cfg Config

	queue   *queue.Queue
	vpoints *vpoint.Engine
	alarms  *alarm.Engine

	currentStore sink.CurrentValueStore
	tsStore      sink.TimeSeriesStore
	pubsub       sink.PubSub
	durable      sink.DurableBuffer

	logger zerolog.Logger

	wg sync.WaitGroup
}

// New builds a Service. durable may be nil, in which case a store error
// simply logs and drops the write (acceptable for time-series appends,
// but current-value and alarm persistence should always be given a
// durable buffer in production wiring).
func New(cfg Config, q *queue.Queue, vpoints *vpoint.Engine, alarms *alarm.Engine, currentStore sink.CurrentValueStore, tsStore sink.TimeSeriesStore, pubsub sink.PubSub, durable sink.DurableBuffer) *Service {
	return &Service{
		cfg:          cfg.withDefaults(),
		queue:        q,
		vpoints:      vpoints,
		alarms:       alarms,
		currentStore: currentStore,
		tsStore:      tsStore,
		pubsub:       pubsub,
		durable:      durable,
		logger:       log.WithComponent("processing"),
	}
}

// Run starts the worker pool and blocks until ctx is cancelled, at which
// point it waits for in-flight batches to finish before returning.
func (s *Service) Run(ctx context.Context) {
	for i := 0; i < s.cfg.Workers; i++ {
		s.wg.Add(1)
		go s.workerLoop(ctx)
	}
	<-ctx.Done()
	s.wg.Wait()
}

func (s *Service) workerLoop(ctx context.Context) {
	defer s.wg.Done()
	for {
		select {
		case <-ctx.Done():
			return
		default:
		}

		batch := s.queue.GetBatch(s.cfg.BatchSize, s.cfg.BatchTimeout)
		if len(batch) == 0 {
			continue
		}

		timer := metrics.NewTimer()
		for _, msg := range batch {
			s.processMessage(msg)
		}
		timer.ObserveDuration(metrics.BatchDuration)
	}
}

// currentValuesAdapter lets the virtual-point engine read through the
// durable current-value store for inputs missing from a given batch.
type currentValuesAdapter struct {
	store  sink.CurrentValueStore
	logger zerolog.Logger
}

func (a currentValuesAdapter) Get(tenantID, pointID string) (model.CurrentValue, bool) {
	cv, ok, err := a.store.GetCurrentValue(tenantID, pointID)
	if err != nil {
		a.logger.Warn().Str("point_id", pointID).Err(err).Msg("reading current value store failed")
		return model.CurrentValue{}, false
	}
	return cv, ok
}

// processMessage runs one DeviceDataMessage through the full pipeline:
// virtual points, alarms, persistence, publication (§4.8).
func (s *Service) processMessage(msg model.DeviceDataMessage) {
	now := time.Now()

	produced := s.vpoints.EvaluateBatch(msg.TenantID, msg.Values, currentValuesAdapter{store: s.currentStore, logger: s.logger}, now)
	merged := append(append([]model.TimestampedValue(nil), msg.Values...), produced...)

	for _, tv := range merged {
		s.alarms.EvaluateValue(tv, s.cfg.SourceName, s.cfg.Location)
		s.persistAndPublish(tv)
	}
}

func (s *Service) persistAndPublish(tv model.TimestampedValue) {
	if err := s.currentStore.SaveCurrentValue(tv); err != nil {
		s.logger.Error().Str("point_id", tv.PointID).Err(err).Msg("failed to persist current value")
		metrics.StoreErrorsTotal.WithLabelValues("current").Inc()
		s.bufferForRetry("current_value", tv)
	}

	if s.tsStore != nil {
		if err := s.tsStore.AppendTimeSeries(tv); err != nil {
			s.logger.Error().Str("point_id", tv.PointID).Err(err).Msg("failed to append time-series reading")
			metrics.StoreErrorsTotal.WithLabelValues("timeseries").Inc()
			s.bufferForRetry("timeseries", tv)
		}
	}

	if tv.ChangeFlags.ValueChanged || tv.ChangeFlags.QualityChanged {
		evt := model.ValueChangedEvent{
			PointID: tv.PointID, TenantID: tv.TenantID, Value: tv.Value,
			Quality: string(tv.Quality), TSSource: tv.SourceTimestamp, TSReceived: tv.ReceivedTimestamp,
		}
		if err := s.pubsub.PublishValueChanged(evt); err != nil {
			s.logger.Warn().Str("point_id", tv.PointID).Err(err).Msg("failed to publish value_changed")
		}
	}
}

// bufferForRetry queues a failed write in the durable buffer, if one was
// configured, so a store outage never silently drops data (§7).
func (s *Service) bufferForRetry(kind string, tv model.TimestampedValue) {
	if s.durable == nil {
		return
	}
	data, err := json.Marshal(tv)
	if err != nil {
		s.logger.Error().Err(err).Msg("failed to marshal value for durable buffer")
		return
	}
	if err := s.durable.Enqueue(kind, data); err != nil {
		s.logger.Error().Err(err).Msg("failed to enqueue value into durable buffer")
	}
}
