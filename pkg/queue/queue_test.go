package queue

import (
	"testing"
	"time"

	"github.com/cuemby/telemetry-collector/pkg/model"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestBackpressureDropsAboveHighWater(t *testing.T) {
	q := New(1000)

	accepted := 0
	for i := 0; i < 1200; i++ {
		ok := q.SendDeviceData("dev-1", "tenant-1", []model.TimestampedValue{{PointID: "p1"}}, "worker-1", model.PriorityNormal, model.ProtocolModbusTCP)
		if ok {
			accepted++
		}
	}

	stats := q.Stats()
	assert.GreaterOrEqual(t, stats.TotalDropped, uint64(200))
	assert.LessOrEqual(t, accepted, 900)

	// Queue remains responsive to GetBatch once a consumer drains it.
	batch := q.GetBatch(10000, time.Second)
	require.NotEmpty(t, batch)
	assert.Less(t, q.Len(), 900)
}

func TestGetBatchTimesOutWhenEmpty(t *testing.T) {
	q := New(10)
	start := time.Now()
	batch := q.GetBatch(10, 50*time.Millisecond)
	assert.Nil(t, batch)
	assert.GreaterOrEqual(t, time.Since(start), 50*time.Millisecond)
}

func TestConservationLaw(t *testing.T) {
	q := New(1000)
	for i := 0; i < 500; i++ {
		q.SendDeviceData("dev-1", "tenant-1", nil, "worker-1", model.PriorityNormal, model.ProtocolModbusTCP)
	}

	var delivered uint64
	for {
		batch := q.GetBatch(50, 10*time.Millisecond)
		if len(batch) == 0 {
			break
		}
		delivered += uint64(len(batch))
	}

	stats := q.Stats()
	assert.Equal(t, stats.TotalReceived, delivered+stats.TotalDropped+uint64(q.Len()))
}

func TestWithinDeviceOrderingPreserved(t *testing.T) {
	q := New(100)
	for i := 0; i < 5; i++ {
		q.SendDeviceData("dev-1", "tenant-1", []model.TimestampedValue{{PointID: string(rune('a' + i))}}, "worker-1", model.PriorityNormal, model.ProtocolModbusTCP)
	}
	batch := q.GetBatch(10, time.Second)
	require.Len(t, batch, 5)
	for i, msg := range batch {
		assert.Equal(t, string(rune('a'+i)), msg.Values[0].PointID)
	}
}
