package alarm

import "github.com/cuemby/telemetry-collector/pkg/model"

// DigitalState is the per-(rule,target) memory a digital evaluation needs
// across samples: the previous raw value (for edge detection) and whether
// an occurrence is currently active.
type DigitalState struct {
	HasPrev   bool
	PrevValue bool
	Active    bool
}

// DigitalOutcome mirrors AnalogOutcome's shape for the digital case. Pulse
// is used for on_change, which fires and clears atomically on each edge
// rather than latching.
type DigitalOutcome struct {
	Transition string // "", "fire", "clear", "pulse"
	Value      bool
}

// EvaluateDigital applies §4.10's digital trigger semantics.
func EvaluateDigital(trigger model.DigitalTrigger, state *DigitalState, s bool) DigitalOutcome {
	var out DigitalOutcome

	switch trigger {
	case model.DigitalOnTrue:
		if s && !state.Active {
			state.Active = true
			out = DigitalOutcome{Transition: "fire", Value: s}
		} else if !s && state.Active {
			state.Active = false
			out = DigitalOutcome{Transition: "clear", Value: s}
		}

	case model.DigitalOnFalse:
		if !s && !state.Active {
			state.Active = true
			out = DigitalOutcome{Transition: "fire", Value: s}
		} else if s && state.Active {
			state.Active = false
			out = DigitalOutcome{Transition: "clear", Value: s}
		}

	case model.DigitalOnChange:
		if state.HasPrev && s != state.PrevValue {
			out = DigitalOutcome{Transition: "pulse", Value: s}
		}

	case model.DigitalOnRising:
		if state.HasPrev && !state.PrevValue && s && !state.Active {
			state.Active = true
			out = DigitalOutcome{Transition: "fire", Value: s}
		} else if state.Active && !s {
			state.Active = false
			out = DigitalOutcome{Transition: "clear", Value: s}
		}

	case model.DigitalOnFalling:
		if state.HasPrev && state.PrevValue && !s && !state.Active {
			state.Active = true
			out = DigitalOutcome{Transition: "fire", Value: s}
		} else if state.Active && s {
			state.Active = false
			out = DigitalOutcome{Transition: "clear", Value: s}
		}
	}

	state.HasPrev = true
	state.PrevValue = s
	return out
}
