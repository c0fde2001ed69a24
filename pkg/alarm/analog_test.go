package alarm

import (
	"testing"
	"time"

	"github.com/cuemby/telemetry-collector/pkg/model"
	"github.com/stretchr/testify/assert"
)

func f(v float64) *float64 { return &v }

// TestAnalogHighThresholdWithDeadband mirrors the high-threshold hysteresis
// scenario: H=80, deadband=2. The occurrence fires at 85, stays active
// through 81 (81 > 80-2), and clears at 77 (77 <= 78).
func TestAnalogHighThresholdWithDeadband(t *testing.T) {
	params := model.AnalogParams{H: f(80), Deadband: 2}
	state := &AnalogState{}
	base := time.Unix(0, 0)

	o1 := EvaluateAnalog(params, state, 50, base)
	assert.Equal(t, "", o1.Transition)

	o2 := EvaluateAnalog(params, state, 85, base.Add(time.Second))
	assert.Equal(t, "fire", o2.Transition)
	assert.Equal(t, "H", o2.Label)
	assert.Equal(t, 80.0, o2.ThresholdValue)

	o3 := EvaluateAnalog(params, state, 81, base.Add(2*time.Second))
	assert.Equal(t, "", o3.Transition, "81 should not clear: above 80-2 deadband gate")

	o4 := EvaluateAnalog(params, state, 77, base.Add(3*time.Second))
	assert.Equal(t, "clear", o4.Transition)
	assert.Equal(t, 77.0, o4.TriggerValue)
}

func TestAnalogEscalatesFromHToHH(t *testing.T) {
	params := model.AnalogParams{H: f(80), HH: f(95), Deadband: 2}
	state := &AnalogState{}
	base := time.Unix(0, 0)

	o1 := EvaluateAnalog(params, state, 85, base)
	assert.Equal(t, "fire", o1.Transition)
	assert.Equal(t, "H", o1.Label)

	o2 := EvaluateAnalog(params, state, 97, base.Add(time.Second))
	assert.Equal(t, "escalate", o2.Transition)
	assert.Equal(t, "HH", o2.Label)
}

func TestAnalogLowSideMirrorsHighSide(t *testing.T) {
	params := model.AnalogParams{L: f(10), LL: f(0), Deadband: 1}
	state := &AnalogState{}
	base := time.Unix(0, 0)

	o1 := EvaluateAnalog(params, state, 5, base)
	assert.Equal(t, "fire", o1.Transition)
	assert.Equal(t, "L", o1.Label)

	o2 := EvaluateAnalog(params, state, 9, base.Add(time.Second))
	assert.Equal(t, "", o2.Transition, "9 should not clear: below 10+1 deadband gate")

	o3 := EvaluateAnalog(params, state, 12, base.Add(2*time.Second))
	assert.Equal(t, "clear", o3.Transition)
}

func TestAnalogRateOfChangeFiresAndClears(t *testing.T) {
	roc := 5.0
	params := model.AnalogParams{RateOfChange: &roc}
	state := &AnalogState{}
	base := time.Unix(0, 0)

	EvaluateAnalog(params, state, 0, base)
	o := EvaluateAnalog(params, state, 20, base.Add(time.Second))
	assert.Equal(t, "fire", o.Transition)
	assert.Equal(t, "ROC", o.Label)

	o2 := EvaluateAnalog(params, state, 20.1, base.Add(2*time.Second))
	assert.Equal(t, "clear", o2.Transition)
}
