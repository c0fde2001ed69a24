package alarm

import (
	"math"
	"time"

	"github.com/cuemby/telemetry-collector/pkg/model"
)

// analogSide identifies which direction of an analog rule's threshold band
// an active occurrence is currently engaged on.
type analogSide int

const (
	sideNone analogSide = iota
	sideHigh
	sideLow
)

// AnalogState is the per-(rule,target) memory an analog evaluation needs
// across samples: the engaged threshold (for hysteresis), the engaged
// label (for escalation), and the previous sample (for rate-of-change).
type AnalogState struct {
	Active          bool
	Side            analogSide
	EngagedLabel    string
	EngagedValue    float64
	HasPrevSample    bool
	PrevValue       float64
	PrevTime        time.Time
	RocActive       bool
}

// AnalogOutcome describes what, if anything, changed as a result of
// evaluating one sample against an analog rule.
type AnalogOutcome struct {
	Transition     string // "", "fire", "clear", "escalate"
	Label          string // "HH", "H", "L", "LL", or "ROC"
	TriggerValue   float64
	ThresholdValue float64
}

func severityRank(label string) int {
	switch label {
	case "LL", "HH":
		return 2
	case "L", "H":
		return 1
	default:
		return 0
	}
}

// EvaluateAnalog applies §4.10's analog rule semantics: four optional
// thresholds (HH/H/L/LL), a deadband that gates the return to normal
// (invariant: "a value must cross back by at least deadband before the
// alarm clears"), and an independent rate-of-change check evaluated in
// units per second.
func EvaluateAnalog(p model.AnalogParams, state *AnalogState, v float64, ts time.Time) AnalogOutcome {
	var out AnalogOutcome

	if p.RateOfChange != nil && state.HasPrevSample {
		dt := ts.Sub(state.PrevTime).Seconds()
		if dt > 0 {
			roc := math.Abs(v-state.PrevValue) / dt
			if roc > *p.RateOfChange && !state.RocActive {
				state.RocActive = true
				out = AnalogOutcome{Transition: "fire", Label: "ROC", TriggerValue: roc, ThresholdValue: *p.RateOfChange}
			} else if roc <= *p.RateOfChange && state.RocActive {
				state.RocActive = false
				if out.Transition == "" {
					out = AnalogOutcome{Transition: "clear", Label: "ROC", TriggerValue: roc, ThresholdValue: *p.RateOfChange}
				}
			}
		}
	}

	newLabel, newThreshold, newSide := candidateLevel(p, v)

	switch {
	case state.Active:
		// The return to normal is gated on the least severe threshold
		// configured on the engaged side, so an escalated HH occurrence
		// only clears once v retreats past H's deadband gate.
		gateThreshold := state.EngagedValue
		if state.Side == sideHigh && p.H != nil {
			gateThreshold = *p.H
		} else if state.Side == sideLow && p.L != nil {
			gateThreshold = *p.L
		}
		clearGate, cleared := clearCondition(state.Side, gateThreshold, p.Deadband, v)
		_ = clearGate
		if cleared {
			state.Active = false
			state.Side = sideNone
			prevLabel := state.EngagedLabel
			state.EngagedLabel = ""
			if out.Transition == "" {
				out = AnalogOutcome{Transition: "clear", Label: prevLabel, TriggerValue: v, ThresholdValue: clearGate}
			}
		} else if newSide == state.Side && severityRank(newLabel) > severityRank(state.EngagedLabel) {
			state.EngagedLabel = newLabel
			state.EngagedValue = newThreshold
			if out.Transition == "" {
				out = AnalogOutcome{Transition: "escalate", Label: newLabel, TriggerValue: v, ThresholdValue: newThreshold}
			}
		}
	case newSide != sideNone:
		state.Active = true
		state.Side = newSide
		state.EngagedLabel = newLabel
		state.EngagedValue = newThreshold
		if out.Transition == "" {
			out = AnalogOutcome{Transition: "fire", Label: newLabel, TriggerValue: v, ThresholdValue: newThreshold}
		}
	}

	state.HasPrevSample = true
	state.PrevValue = v
	state.PrevTime = ts

	return out
}

func candidateLevel(p model.AnalogParams, v float64) (label string, threshold float64, side analogSide) {
	if p.HH != nil && v >= *p.HH {
		return "HH", *p.HH, sideHigh
	}
	if p.H != nil && v >= *p.H {
		return "H", *p.H, sideHigh
	}
	if p.LL != nil && v <= *p.LL {
		return "LL", *p.LL, sideLow
	}
	if p.L != nil && v <= *p.L {
		return "L", *p.L, sideLow
	}
	return "", 0, sideNone
}

func clearCondition(side analogSide, engagedThreshold, deadband, v float64) (gate float64, cleared bool) {
	switch side {
	case sideHigh:
		gate = engagedThreshold - deadband
		return gate, v <= gate
	case sideLow:
		gate = engagedThreshold + deadband
		return gate, v >= gate
	default:
		return 0, false
	}
}
