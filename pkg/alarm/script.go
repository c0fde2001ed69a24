package alarm

import (
	"fmt"
	"time"

	"github.com/cuemby/telemetry-collector/internal/sandbox"
)

// ScriptState tracks whether a scripted rule's condition was true on the
// last evaluation, so the engine can latch an occurrence open between
// samples the same way the analog and digital evaluators do.
type ScriptState struct {
	Active bool
}

// ScriptOutcome is the script evaluator's result. Message, when non-empty,
// overrides the rule's static message template (§4.6's message_script).
type ScriptOutcome struct {
	Transition string // "", "fire", "clear"
	Message    string
}

// EvaluateScript runs condition against vars and drives ScriptState the
// same way a digital on_true trigger would: becomes active the first time
// the condition evaluates true, clears the first time it evaluates false.
// A script runtime error never panics the engine; it surfaces as an error
// so the caller can mark the occurrence's data quality bad instead.
func EvaluateScript(condition, message *sandbox.Program, state *ScriptState, vars map[string]any, now time.Time) (ScriptOutcome, error) {
	raw, err := condition.Run(vars, now)
	if err != nil {
		return ScriptOutcome{}, fmt.Errorf("alarm: script condition: %w", err)
	}

	triggered, err := asBool(raw)
	if err != nil {
		return ScriptOutcome{}, fmt.Errorf("alarm: script condition result: %w", err)
	}

	var out ScriptOutcome
	switch {
	case triggered && !state.Active:
		state.Active = true
		out.Transition = "fire"
	case !triggered && state.Active:
		state.Active = false
		out.Transition = "clear"
	}

	if out.Transition == "fire" && message != nil {
		if rawMsg, err := message.Run(vars, now); err == nil {
			if s, ok := rawMsg.(string); ok {
				out.Message = s
			}
		}
	}

	return out, nil
}

func asBool(raw any) (bool, error) {
	switch v := raw.(type) {
	case bool:
		return v, nil
	case map[string]any:
		if t, ok := v["triggered"].(bool); ok {
			return t, nil
		}
		return false, fmt.Errorf("script result map missing boolean \"triggered\" field")
	default:
		return false, fmt.Errorf("script condition must return bool, got %T", raw)
	}
}
