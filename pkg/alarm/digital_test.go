package alarm

import (
	"testing"

	"github.com/cuemby/telemetry-collector/pkg/model"
	"github.com/stretchr/testify/assert"
)

// TestDigitalOnRisingFiresOnceAndClearsOnFalse mirrors the on_rising
// scenario: false, false, true, true, false. One occurrence opens at the
// transition to true and clears at the next false; the repeated true in
// between produces no event.
func TestDigitalOnRisingFiresOnceAndClearsOnFalse(t *testing.T) {
	state := &DigitalState{}
	samples := []bool{false, false, true, true, false}
	var transitions []string
	for _, s := range samples {
		out := EvaluateDigital(model.DigitalOnRising, state, s)
		transitions = append(transitions, out.Transition)
	}
	assert.Equal(t, []string{"", "", "fire", "", "clear"}, transitions)
}

func TestDigitalOnFallingMirrorsOnRising(t *testing.T) {
	state := &DigitalState{}
	samples := []bool{true, true, false, false, true}
	var transitions []string
	for _, s := range samples {
		out := EvaluateDigital(model.DigitalOnFalling, state, s)
		transitions = append(transitions, out.Transition)
	}
	assert.Equal(t, []string{"", "", "fire", "", "clear"}, transitions)
}

func TestDigitalOnChangePulsesEveryEdge(t *testing.T) {
	state := &DigitalState{}
	samples := []bool{false, true, true, false}
	var transitions []string
	for _, s := range samples {
		out := EvaluateDigital(model.DigitalOnChange, state, s)
		transitions = append(transitions, out.Transition)
	}
	assert.Equal(t, []string{"", "pulse", "", "pulse"}, transitions)
}

func TestDigitalOnTrueLatchesUntilFalse(t *testing.T) {
	state := &DigitalState{}
	assert.Equal(t, "fire", EvaluateDigital(model.DigitalOnTrue, state, true).Transition)
	assert.Equal(t, "", EvaluateDigital(model.DigitalOnTrue, state, true).Transition)
	assert.Equal(t, "clear", EvaluateDigital(model.DigitalOnTrue, state, false).Transition)
}
