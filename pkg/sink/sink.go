// Package sink implements the persistence and pub/sub fan-out contracts
// (§6): a relational store for current values and alarm occurrences, a
// cache/pub-sub sink for the value_changed/alarm_event/alarm_cleared
// channels, and a time-series sink for historized readings.
//
// Grounded on the teacher's pkg/storage.Store: one interface per entity
// family, a bucket-per-entity bbolt implementation beneath it.
package sink

import (
	"time"

	"github.com/cuemby/telemetry-collector/pkg/model"
)

// CurrentValueStore persists the latest known value per (tenant, point).
type CurrentValueStore interface {
	SaveCurrentValue(tv model.TimestampedValue) error
	GetCurrentValue(tenantID, pointID string) (model.CurrentValue, bool, error)
}

// TimeSeriesStore appends historized readings (§6: "every accepted
// TimestampedValue is appended to the time-series sink regardless of
// whether its value changed").
type TimeSeriesStore interface {
	AppendTimeSeries(tv model.TimestampedValue) error
}

// OccurrenceStore persists alarm occurrences and answers the Startup
// Recovery query for everything not yet cleared.
type OccurrenceStore interface {
	SaveOccurrence(occ model.AlarmOccurrence) error
	LoadActiveOccurrences(tenantID string) ([]model.AlarmOccurrence, error)
	HighestOccurrenceID() (int64, error)
}

// PubSub fans out the three wire channels (§6).
type PubSub interface {
	PublishValueChanged(evt model.ValueChangedEvent) error
	PublishAlarmEvent(channel string, evt model.AlarmEvent) error
}

// DurableBuffer is a local fallback queue for writes that could not reach
// the primary store, so a store outage never blocks the processing
// pipeline. Flush drains whatever is buffered through replay. Nothing in
// the collector calls Flush, so buffered writes are kept but not retried.
type DurableBuffer interface {
	Enqueue(kind string, payload []byte) error
	Flush(replay func(kind string, payload []byte) error) (drained int, err error)
	Len() (int, error)
}

// Clock abstracts time.Now for tests that need deterministic timestamps
// at the sink boundary (none of the evaluators above this layer use it).
type Clock func() time.Time

func realClock() time.Time { return time.Now().UTC() }
