// Package queue implements the Pipeline Queue (§4.7): a single bounded FIFO
// of DeviceDataMessages shared by every protocol worker and drained in
// batches by the Data Processing Service's thread pool.
//
// Grounded on the teacher's pkg/events.Broker: a mutex-guarded shared
// structure plus a condition variable in place of the Broker's per-
// subscriber channel fan-out, since GetBatch needs to drain a bounded
// number of items atomically rather than push to N independent listeners.
package queue

import (
	"sync"
	"time"

	"github.com/cuemby/telemetry-collector/internal/metrics"
	"github.com/cuemby/telemetry-collector/pkg/model"
)

// DefaultCapacity is the default bound C from §4.7.
const DefaultCapacity = 100_000

// DefaultHighWaterFraction is the fraction of capacity at which the queue
// starts dropping (0.9·C per §4.7).
const DefaultHighWaterFraction = 0.9

// Stats are the running counters exposed through the statistics endpoint.
type Stats struct {
	TotalReceived  uint64
	TotalDelivered uint64
	TotalDropped   uint64
}

// Queue is the process-wide singleton pipeline queue. Callers obtain the
// single instance via New and pass it by reference/handle rather than
// reaching for a package-level global, per §9's "hidden globals are
// discouraged" design note.
type Queue struct {
	mu   sync.Mutex
	cond *sync.Cond

	capacity   int
	highWater  int
	buf        []model.DeviceDataMessage

	stats Stats

	closed bool
}

// New creates a Pipeline Queue with the given capacity. A capacity of 0
// selects DefaultCapacity.
func New(capacity int) *Queue {
	if capacity <= 0 {
		capacity = DefaultCapacity
	}
	q := &Queue{
		capacity:  capacity,
		highWater: int(float64(capacity) * DefaultHighWaterFraction),
		buf:       make([]model.DeviceDataMessage, 0, capacity),
	}
	q.cond = sync.NewCond(&q.mu)
	return q
}

// SendDeviceData enqueues one batch envelope for device_id, producer_id,
// with the given priority. Returns false when the message was dropped due
// to backpressure (§4.7). Never blocks the caller.
func (q *Queue) SendDeviceData(deviceID, tenantID string, values []model.TimestampedValue, producerID string, priority model.Priority, protocol model.Protocol) bool {
	q.mu.Lock()
	defer q.mu.Unlock()

	q.stats.TotalReceived++
	metrics.QueueReceivedTotal.Inc()

	if q.closed {
		q.stats.TotalDropped++
		metrics.QueueDroppedTotal.Inc()
		return false
	}

	if len(q.buf) >= q.highWater {
		q.stats.TotalDropped++
		metrics.QueueDroppedTotal.Inc()
		return false
	}

	msg := model.DeviceDataMessage{
		DeviceID:          deviceID,
		TenantID:          tenantID,
		Protocol:          protocol,
		Priority:          priority,
		Values:            values,
		ProducerID:        producerID,
		EnvelopeTimestamp: time.Now().UTC(),
	}
	q.buf = append(q.buf, msg)
	metrics.QueueDepth.Set(float64(len(q.buf)))
	q.cond.Signal()
	return true
}

// GetBatch dequeues up to maxBatchSize messages, blocking up to timeout
// waiting for at least one message to arrive. Returns an empty (nil) batch
// on timeout with nothing available; never blocks indefinitely.
func (q *Queue) GetBatch(maxBatchSize int, timeout time.Duration) []model.DeviceDataMessage {
	if maxBatchSize <= 0 {
		maxBatchSize = 1
	}

	deadline := time.Now().Add(timeout)

	q.mu.Lock()
	defer q.mu.Unlock()

	for len(q.buf) == 0 && !q.closed {
		remaining := time.Until(deadline)
		if remaining <= 0 {
			return nil
		}
		q.waitWithTimeout(remaining)
	}

	if len(q.buf) == 0 {
		return nil
	}

	n := maxBatchSize
	if n > len(q.buf) {
		n = len(q.buf)
	}

	batch := make([]model.DeviceDataMessage, n)
	copy(batch, q.buf[:n])
	q.buf = q.buf[n:]

	q.stats.TotalDelivered += uint64(n)
	metrics.QueueDeliveredTotal.Add(float64(n))
	metrics.QueueDepth.Set(float64(len(q.buf)))

	return batch
}

// waitWithTimeout blocks on the condition variable for at most d, waking
// early if another goroutine signals arrival of data. sync.Cond has no
// native timed wait, so a one-shot timer performs a spurious Broadcast
// after d; the caller's loop re-checks the deadline once woken.
func (q *Queue) waitWithTimeout(d time.Duration) {
	timer := time.AfterFunc(d, func() {
		q.mu.Lock()
		q.cond.Broadcast()
		q.mu.Unlock()
	})
	defer timer.Stop()
	q.cond.Wait()
}

// Stats returns a snapshot of the queue's running counters.
func (q *Queue) Stats() Stats {
	q.mu.Lock()
	defer q.mu.Unlock()
	return q.stats
}

// Len returns the current number of buffered messages.
func (q *Queue) Len() int {
	q.mu.Lock()
	defer q.mu.Unlock()
	return len(q.buf)
}

// Close signals the queue is shutting down; blocked GetBatch callers wake
// and return whatever remains, then nil once drained.
func (q *Queue) Close() {
	q.mu.Lock()
	defer q.mu.Unlock()
	q.closed = true
	q.cond.Broadcast()
}
