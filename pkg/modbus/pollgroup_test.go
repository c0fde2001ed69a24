package modbus

import (
	"testing"
	"time"

	"github.com/cuemby/telemetry-collector/pkg/model"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestPollGroupDueIsForwardOnly(t *testing.T) {
	g := PollGroup{PollInterval: 100 * time.Millisecond}
	now := time.Now()
	assert.True(t, g.Due(now), "never-polled group is always due")

	g.MarkPolled(now)
	assert.False(t, g.Due(now.Add(10*time.Millisecond)))
	assert.True(t, g.Due(now.Add(200*time.Millisecond)))
}

func TestDecodeRegistersAppliesScalingAndBinding(t *testing.T) {
	g := PollGroup{
		Bindings: []Binding{
			{PointID: "temp", TenantID: "t1", Offset: 0, DataType: model.ScalarDouble, Scaling: model.Scaling{Factor: 0.1}, Words: 1},
			{PointID: "flags", TenantID: "t1", Offset: 1, DataType: model.ScalarInt64, Words: 1},
		},
	}
	now := time.Now()
	values := g.DecodeRegisters([]uint16{250, 7}, "t1", now, model.QualityGood)

	require.Len(t, values, 2)
	assert.Equal(t, 25.0, values[0].Value.AsFloat64())
	assert.Equal(t, model.QualityGood, values[0].Quality)
	assert.Equal(t, int64(7), values[1].Value.AsInt64())
}

func TestDecodeRegistersSkipsOutOfRangeBindings(t *testing.T) {
	g := PollGroup{
		Bindings: []Binding{
			{PointID: "oob", TenantID: "t1", Offset: 5, DataType: model.ScalarDouble, Words: 1},
		},
	}
	values := g.DecodeRegisters([]uint16{1, 2}, "t1", time.Now(), model.QualityGood)
	assert.Empty(t, values)
}

func TestDecodeBitsMapsLSBFirst(t *testing.T) {
	g := PollGroup{
		Bindings: []Binding{
			{PointID: "coil0", Offset: 0},
			{PointID: "coil1", Offset: 1},
		},
	}
	values := g.DecodeBits([]bool{true, false}, "t1", time.Now(), model.QualityGood)
	require.Len(t, values, 2)
	assert.True(t, values[0].Value.AsBool())
	assert.False(t, values[1].Value.AsBool())
}
