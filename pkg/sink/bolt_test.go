package sink

import (
	"path/filepath"
	"testing"
	"time"

	"github.com/cuemby/telemetry-collector/pkg/model"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func newTestBoltStore(t *testing.T) *BoltStore {
	t.Helper()
	path := filepath.Join(t.TempDir(), "test.db")
	s, err := NewBoltStore(path)
	require.NoError(t, err)
	t.Cleanup(func() { s.Close() })
	return s
}

func TestSaveAndGetCurrentValue(t *testing.T) {
	s := newTestBoltStore(t)
	now := time.Unix(1000, 0)

	err := s.SaveCurrentValue(model.TimestampedValue{
		PointID: "dp1", TenantID: "t1", Value: model.DoubleValue(21.5),
		Quality: model.QualityGood, SourceTimestamp: now,
	})
	require.NoError(t, err)

	cv, ok, err := s.GetCurrentValue("t1", "dp1")
	require.NoError(t, err)
	require.True(t, ok)
	assert.Equal(t, 21.5, cv.Value.AsFloat64())

	_, ok, err = s.GetCurrentValue("t1", "unknown")
	require.NoError(t, err)
	assert.False(t, ok)
}

func TestSaveOccurrenceAndLoadActive(t *testing.T) {
	s := newTestBoltStore(t)

	require.NoError(t, s.SaveOccurrence(model.AlarmOccurrence{ID: 1, TenantID: "t1", State: model.StateActive}))
	require.NoError(t, s.SaveOccurrence(model.AlarmOccurrence{ID: 2, TenantID: "t1", State: model.StateCleared}))
	require.NoError(t, s.SaveOccurrence(model.AlarmOccurrence{ID: 3, TenantID: "t2", State: model.StateActive}))

	active, err := s.LoadActiveOccurrences("t1")
	require.NoError(t, err)
	require.Len(t, active, 1)
	assert.Equal(t, int64(1), active[0].ID)

	highest, err := s.HighestOccurrenceID()
	require.NoError(t, err)
	assert.Equal(t, int64(3), highest)
}

func TestAppendAndQueryTimeSeries(t *testing.T) {
	s := newTestBoltStore(t)
	base := time.Unix(1000, 0)

	for i := 0; i < 5; i++ {
		err := s.AppendTimeSeries(model.TimestampedValue{
			PointID: "dp1", TenantID: "t1",
			Value:           model.DoubleValue(float64(i)),
			Quality:         model.QualityGood,
			SourceTimestamp: base.Add(time.Duration(i) * time.Minute),
		})
		require.NoError(t, err)
	}
	require.NoError(t, s.AppendTimeSeries(model.TimestampedValue{
		PointID: "dp2", TenantID: "t1",
		Value: model.DoubleValue(99), Quality: model.QualityGood, SourceTimestamp: base,
	}))

	readings, err := s.QueryTimeSeries("t1", "dp1", base, base.Add(4*time.Minute))
	require.NoError(t, err)
	require.Len(t, readings, 5)
	for i, r := range readings {
		assert.Equal(t, float64(i), r.Value.AsFloat64())
	}

	narrow, err := s.QueryTimeSeries("t1", "dp1", base.Add(1*time.Minute), base.Add(2*time.Minute))
	require.NoError(t, err)
	require.Len(t, narrow, 2)
	assert.Equal(t, 1.0, narrow[0].Value.AsFloat64())
	assert.Equal(t, 2.0, narrow[1].Value.AsFloat64())
}

func TestDurableBufferEnqueueAndFlush(t *testing.T) {
	s := newTestBoltStore(t)

	require.NoError(t, s.Enqueue("value_changed", []byte("a")))
	require.NoError(t, s.Enqueue("value_changed", []byte("b")))

	n, err := s.Len()
	require.NoError(t, err)
	assert.Equal(t, 2, n)

	var replayed []string
	drained, err := s.Flush(func(kind string, payload []byte) error {
		replayed = append(replayed, string(payload))
		return nil
	})
	require.NoError(t, err)
	assert.Equal(t, 2, drained)
	assert.Equal(t, []string{"a", "b"}, replayed)

	n, err = s.Len()
	require.NoError(t, err)
	assert.Equal(t, 0, n)
}
