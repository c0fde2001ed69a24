package alarm

import (
	"context"
	"testing"
	"time"

	"github.com/cuemby/telemetry-collector/pkg/model"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type fakeStore struct {
	saved  map[int64]model.AlarmOccurrence
	active []model.AlarmOccurrence
}

func newFakeStore() *fakeStore { return &fakeStore{saved: make(map[int64]model.AlarmOccurrence)} }

func (s *fakeStore) SaveOccurrence(occ model.AlarmOccurrence) error {
	s.saved[occ.ID] = occ
	return nil
}

func (s *fakeStore) LoadActiveOccurrences(tenantID string) ([]model.AlarmOccurrence, error) {
	var out []model.AlarmOccurrence
	for _, occ := range s.active {
		if occ.TenantID == tenantID {
			out = append(out, occ)
		}
	}
	return out, nil
}

type fakePublisher struct {
	events []model.AlarmEvent
}

func (p *fakePublisher) PublishAlarmEvent(channel string, evt model.AlarmEvent) error {
	p.events = append(p.events, evt)
	return nil
}

func newTestEngine(rule model.AlarmRule) (*Engine, *fakeStore, *fakePublisher) {
	rules := NewRuleCache()
	rules.ReloadRule(rule)
	store := newFakeStore()
	pub := &fakePublisher{}
	return New(rules, store, pub, nil, 0), store, pub
}

func TestEngineFiresAndClearsAnalogRule(t *testing.T) {
	rule := model.AlarmRule{
		ID: "r1", TenantID: "t1", Name: "overtemp",
		TargetType: model.TargetDataPoint, TargetID: "dp1",
		Type:     model.RuleAnalog,
		Analog:   model.AnalogParams{H: f(80), Deadband: 2},
		Severity: model.SeverityHigh,
		Enabled:  true,
	}
	e, store, pub := newTestEngine(rule)

	now := time.Unix(1000, 0)
	e.EvaluateValue(model.TimestampedValue{PointID: "dp1", TenantID: "t1", Value: model.DoubleValue(85), SourceTimestamp: now}, "src", "loc")
	require.Len(t, pub.events, 1)
	assert.Equal(t, "active", pub.events[0].State)
	assert.Len(t, store.saved, 1)

	e.EvaluateValue(model.TimestampedValue{PointID: "dp1", TenantID: "t1", Value: model.DoubleValue(77), SourceTimestamp: now.Add(time.Second)}, "src", "loc")
	require.Len(t, pub.events, 2)
	assert.Equal(t, "cleared", pub.events[1].State)
}

func TestEngineAcknowledgeThenClear(t *testing.T) {
	rule := model.AlarmRule{
		ID: "r2", TenantID: "t1", Name: "digital-fault",
		TargetType: model.TargetDataPoint, TargetID: "dp2",
		Type:     model.RuleDigital,
		Digital:  model.DigitalParams{Trigger: model.DigitalOnTrue},
		Severity: model.SeverityMedium,
		Enabled:  true,
	}
	e, _, _ := newTestEngine(rule)

	now := time.Unix(1000, 0)
	e.EvaluateValue(model.TimestampedValue{PointID: "dp2", TenantID: "t1", Value: model.BoolValue(true), SourceTimestamp: now}, "src", "loc")

	require.NoError(t, e.Acknowledge("r2", "dp2", "operator1", "investigating"))
	require.NoError(t, e.Clear("r2", "dp2", "resolved"))

	// A second clear on an already-cleared occurrence has nothing to act on.
	err := e.Clear("r2", "dp2", "resolved again")
	assert.Error(t, err)
}

func TestEngineLatchedRuleDoesNotAutoClear(t *testing.T) {
	rule := model.AlarmRule{
		ID: "r3", TenantID: "t1", Name: "latched",
		TargetType: model.TargetDataPoint, TargetID: "dp3",
		Type:     model.RuleAnalog,
		Analog:   model.AnalogParams{H: f(80), Deadband: 2},
		Severity: model.SeverityHigh,
		Latched:  true,
		Enabled:  true,
	}
	e, _, pub := newTestEngine(rule)

	now := time.Unix(1000, 0)
	e.EvaluateValue(model.TimestampedValue{PointID: "dp3", TenantID: "t1", Value: model.DoubleValue(85), SourceTimestamp: now}, "src", "loc")
	e.EvaluateValue(model.TimestampedValue{PointID: "dp3", TenantID: "t1", Value: model.DoubleValue(50), SourceTimestamp: now.Add(time.Second)}, "src", "loc")

	require.Len(t, pub.events, 1, "latched rule must not auto-publish a clear")
	require.NoError(t, e.Acknowledge("r3", "dp3", "op", ""))
	require.NoError(t, e.Clear("r3", "dp3", "ack'd and reset"))
}

func TestRecoveryRepublishesActiveOccurrencesOnce(t *testing.T) {
	rules := NewRuleCache()
	store := newFakeStore()
	clearedTime := time.Unix(500, 0)
	store.active = []model.AlarmOccurrence{
		{ID: 1, RuleID: "r1", TenantID: "t1", State: model.StateActive, Severity: model.SeverityHigh},
		{ID: 2, RuleID: "r1", TenantID: "t1", State: model.StateActive, Severity: model.SeverityHigh},
		{ID: 3, RuleID: "r1", TenantID: "t1", State: model.StateAcknowledged, Severity: model.SeverityMedium, AcknowledgedTime: &clearedTime},
	}
	pub := &fakePublisher{}
	rec := NewRecovery(store, pub, rules)

	var last RecoveryProgress
	err := rec.Run(context.Background(), "t1", "src", "loc", func(p RecoveryProgress) { last = p })
	require.NoError(t, err)
	assert.Equal(t, 3, last.Total)
	assert.Equal(t, 3, last.Published)
	assert.True(t, last.Done)
	assert.Len(t, pub.events, 3)

	// Running again against the same Recovery instance must not re-publish
	// already-seen occurrence ids.
	var last2 RecoveryProgress
	err = rec.Run(context.Background(), "t1", "src", "loc", func(p RecoveryProgress) { last2 = p })
	require.NoError(t, err)
	assert.Equal(t, 0, last2.Published)
	assert.Equal(t, 3, last2.Skipped)
}
