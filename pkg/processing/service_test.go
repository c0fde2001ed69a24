package processing

import (
	"context"
	"sync"
	"testing"
	"time"

	"github.com/cuemby/telemetry-collector/pkg/alarm"
	"github.com/cuemby/telemetry-collector/pkg/model"
	"github.com/cuemby/telemetry-collector/pkg/queue"
	"github.com/cuemby/telemetry-collector/pkg/vpoint"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type fakeCurrentStore struct {
	mu     sync.Mutex
	values map[string]model.TimestampedValue
}

func newFakeCurrentStore() *fakeCurrentStore {
	return &fakeCurrentStore{values: make(map[string]model.TimestampedValue)}
}

func (s *fakeCurrentStore) SaveCurrentValue(tv model.TimestampedValue) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.values[tv.TenantID+"|"+tv.PointID] = tv
	return nil
}

func (s *fakeCurrentStore) GetCurrentValue(tenantID, pointID string) (model.CurrentValue, bool, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	tv, ok := s.values[tenantID+"|"+pointID]
	if !ok {
		return model.CurrentValue{}, false, nil
	}
	return model.CurrentValue{Value: tv.Value, Quality: tv.Quality}, true, nil
}

type fakeTSStore struct {
	mu   sync.Mutex
	rows []model.TimestampedValue
}

func (s *fakeTSStore) AppendTimeSeries(tv model.TimestampedValue) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.rows = append(s.rows, tv)
	return nil
}

type fakePubSub struct {
	mu     sync.Mutex
	events []model.ValueChangedEvent
}

func (p *fakePubSub) PublishValueChanged(evt model.ValueChangedEvent) error {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.events = append(p.events, evt)
	return nil
}

func (p *fakePubSub) PublishAlarmEvent(channel string, evt model.AlarmEvent) error { return nil }

func TestServiceProcessesBatchThroughFullPipeline(t *testing.T) {
	q := queue.New(100)
	vp := vpoint.New()
	require.NoError(t, vp.Register(model.VirtualPoint{
		ID: "vpSum", TenantID: "t1", Formula: "dp1 + dp2", DataType: model.ScalarDouble,
		Inputs: []model.VPInput{
			{Name: "dp1", Kind: model.InputDataPoint, RefID: "dp1"},
			{Name: "dp2", Kind: model.InputDataPoint, RefID: "dp2"},
		},
	}))

	rules := alarm.NewRuleCache()
	ae := alarm.New(rules, nil, nil, nil, 0)

	currentStore := newFakeCurrentStore()
	tsStore := &fakeTSStore{}
	pubsub := &fakePubSub{}

	svc := New(Config{Workers: 1, BatchSize: 10, BatchTimeout: 50 * time.Millisecond}, q, vp, ae, currentStore, tsStore, pubsub, nil)

	now := time.Now()
	q.SendDeviceData("dev1", "t1", []model.TimestampedValue{
		{PointID: "dp1", TenantID: "t1", Value: model.DoubleValue(4), Quality: model.QualityGood, SourceTimestamp: now, ChangeFlags: model.ChangeFlags{ValueChanged: true}},
		{PointID: "dp2", TenantID: "t1", Value: model.DoubleValue(6), Quality: model.QualityGood, SourceTimestamp: now, ChangeFlags: model.ChangeFlags{ValueChanged: true}},
	}, "producer1", model.PriorityNormal, model.ProtocolModbusTCP)

	ctx, cancel := context.WithTimeout(context.Background(), 300*time.Millisecond)
	defer cancel()
	svc.Run(ctx)

	cv, ok, err := currentStore.GetCurrentValue("t1", "vpSum")
	require.NoError(t, err)
	require.True(t, ok)
	assert.Equal(t, 10.0, cv.Value.AsFloat64())

	tsStore.mu.Lock()
	assert.GreaterOrEqual(t, len(tsStore.rows), 3, "dp1, dp2, and the derived vpSum should all be time-series-appended")
	tsStore.mu.Unlock()

	pubsub.mu.Lock()
	assert.GreaterOrEqual(t, len(pubsub.events), 3)
	pubsub.mu.Unlock()
}
