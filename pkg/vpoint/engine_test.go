package vpoint

import (
	"testing"
	"time"

	"github.com/cuemby/telemetry-collector/pkg/model"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type fakeCurrentValues struct {
	values map[string]model.CurrentValue
}

func (f *fakeCurrentValues) Get(tenantID, pointID string) (model.CurrentValue, bool) {
	v, ok := f.values[pointID]
	return v, ok
}

func TestSumOfTwoDataPoints(t *testing.T) {
	e := New()
	vp := model.VirtualPoint{
		ID:       "vp10",
		TenantID: "t1",
		Formula:  "dp1 + dp2",
		DataType: model.ScalarDouble,
		Inputs: []model.VPInput{
			{Name: "dp1", Kind: model.InputDataPoint, RefID: "dp1"},
			{Name: "dp2", Kind: model.InputDataPoint, RefID: "dp2"},
		},
	}
	require.NoError(t, e.Register(vp))

	now := time.Unix(1000, 0)
	batch := []model.TimestampedValue{
		{PointID: "dp1", TenantID: "t1", Value: model.DoubleValue(60), Quality: model.QualityGood, SourceTimestamp: now},
		{PointID: "dp2", TenantID: "t1", Value: model.DoubleValue(45), Quality: model.QualityGood, SourceTimestamp: now},
	}

	cv := &fakeCurrentValues{values: map[string]model.CurrentValue{}}
	produced := e.EvaluateBatch("t1", batch, cv, now)
	require.Len(t, produced, 1)
	assert.Equal(t, "vp10", produced[0].PointID)
	assert.Equal(t, 105.0, produced[0].Value.AsFloat64())
}

func TestCycleRejected(t *testing.T) {
	e := New()
	require.NoError(t, e.Register(model.VirtualPoint{
		ID: "vpA", Formula: "vpB + 1", DataType: model.ScalarDouble,
		Inputs: []model.VPInput{{Name: "vpB", Kind: model.InputVirtualPoint, RefID: "vpB"}},
	}))

	err := e.Register(model.VirtualPoint{
		ID: "vpB", Formula: "vpA + 1", DataType: model.ScalarDouble,
		Inputs: []model.VPInput{{Name: "vpA", Kind: model.InputVirtualPoint, RefID: "vpA"}},
	})
	assert.Error(t, err)
}

func TestPureEvaluationIsDeterministic(t *testing.T) {
	e := New()
	require.NoError(t, e.Register(model.VirtualPoint{
		ID: "vp1", Formula: "dp1 * 2", DataType: model.ScalarDouble,
		Inputs: []model.VPInput{{Name: "dp1", Kind: model.InputDataPoint, RefID: "dp1"}},
	}))

	now := time.Unix(2000, 0)
	batch := []model.TimestampedValue{{PointID: "dp1", TenantID: "", Value: model.DoubleValue(21), Quality: model.QualityGood, SourceTimestamp: now}}
	cv := &fakeCurrentValues{values: map[string]model.CurrentValue{}}

	p1 := e.EvaluateBatch("", batch, cv, now)
	p2 := e.EvaluateBatch("", batch, cv, now)
	require.Len(t, p1, 1)
	require.Len(t, p2, 1)
	assert.Equal(t, p1[0].Value.AsFloat64(), p2[0].Value.AsFloat64())
}

func TestMissingInputReadsFromCurrentValuesStore(t *testing.T) {
	e := New()
	require.NoError(t, e.Register(model.VirtualPoint{
		ID: "vp1", Formula: "dp1 + dp2", DataType: model.ScalarDouble,
		Inputs: []model.VPInput{
			{Name: "dp1", Kind: model.InputDataPoint, RefID: "dp1"},
			{Name: "dp2", Kind: model.InputDataPoint, RefID: "dp2"},
		},
	}))

	now := time.Unix(3000, 0)
	batch := []model.TimestampedValue{{PointID: "dp1", Value: model.DoubleValue(10), Quality: model.QualityGood, SourceTimestamp: now}}
	cv := &fakeCurrentValues{values: map[string]model.CurrentValue{
		"dp2": {Value: model.DoubleValue(5), Quality: model.QualityGood},
	}}

	produced := e.EvaluateBatch("", batch, cv, now)
	require.Len(t, produced, 1)
	assert.Equal(t, 15.0, produced[0].Value.AsFloat64())
}

func TestUnboundVariableRejectedAtRegistration(t *testing.T) {
	e := New()
	err := e.Register(model.VirtualPoint{
		ID: "vp1", Formula: "dp1 + dp_unbound", DataType: model.ScalarDouble,
		Inputs: []model.VPInput{{Name: "dp1", Kind: model.InputDataPoint, RefID: "dp1"}},
	})
	assert.Error(t, err)
}
