package alarm

import (
	"fmt"
	"sync"
	"sync/atomic"
	"time"

	"github.com/cuemby/telemetry-collector/internal/errs"
	"github.com/cuemby/telemetry-collector/internal/metrics"
	"github.com/cuemby/telemetry-collector/internal/sandbox"
	"github.com/cuemby/telemetry-collector/internal/telemetry/log"
	"github.com/cuemby/telemetry-collector/pkg/model"
	"github.com/rs/zerolog"
)

// Store is the durable-persistence contract the engine needs for
// occurrences: create on fire, update on every subsequent transition. The
// concrete implementation lives in pkg/sink.
type Store interface {
	SaveOccurrence(occ model.AlarmOccurrence) error
	LoadActiveOccurrences(tenantID string) ([]model.AlarmOccurrence, error)
}

// Publisher is the outbound pub/sub contract (§6: alarm_event, alarm_cleared).
type Publisher interface {
	PublishAlarmEvent(channel string, evt model.AlarmEvent) error
}

// compiledScript holds a rule's condition/message programs once compiled,
// keyed by rule id so they only compile once (§4.10).
type compiledScript struct {
	condition *sandbox.Program
	message   *sandbox.Program
}

// targetState is the per-target evaluator memory: one of analog/digital/
// script state, selected by the owning rule's type.
type targetState struct {
	analog  *AnalogState
	digital *DigitalState
	script  *ScriptState

	occurrence *model.AlarmOccurrence
}

// Stats are the Alarm Engine's running counters, also mirrored into
// Prometheus via internal/metrics.
type Stats struct {
	Evaluations uint64
	Fires       uint64
	Clears      uint64
	Escalations uint64
	Suppressed  uint64
	ScriptErrors uint64
}

// Engine is the Alarm Engine (§4.10): evaluates rules against incoming
// timestamped values and virtual-point outputs, and manages the resulting
// occurrence lifecycle.
type Engine struct {
	mu sync.Mutex

	rules   *RuleCache
	scripts map[string]compiledScript // rule id -> compiled scripts
	states  map[string]*targetState   // rule id + "|" + target id -> state

	store     Store
	publisher Publisher
	gates     GateReader

	nextOccID atomic.Int64

	statsMu sync.Mutex
	stats   Stats

	logger zerolog.Logger
}

// New builds an Engine. occIDSeed is the starting occurrence id (normally
// the highest id loaded from the store at startup, so ids never reuse
// across a restart).
func New(rules *RuleCache, store Store, publisher Publisher, gates GateReader, occIDSeed int64) *Engine {
	e := &Engine{
		rules:     rules,
		scripts:   make(map[string]compiledScript),
		states:    make(map[string]*targetState),
		store:     store,
		publisher: publisher,
		gates:     gates,
		logger:    log.WithComponent("alarm"),
	}
	e.nextOccID.Store(occIDSeed)
	return e
}

func stateKey(ruleID, targetID string) string {
	return ruleID + "|" + targetID
}

// compileRule lazily compiles a script rule's condition/message programs.
func (e *Engine) compileRule(rule *model.AlarmRule) (compiledScript, error) {
	if cs, ok := e.scripts[rule.ID]; ok {
		return cs, nil
	}

	sampleVars := map[string]any{}
	cond, err := sandbox.Compile(rule.Script.ConditionScript, sampleVars)
	if err != nil {
		return compiledScript{}, fmt.Errorf("alarm: compiling condition for rule %s: %w", rule.ID, err)
	}

	var msg *sandbox.Program
	if rule.Script.MessageScript != "" {
		msg, err = sandbox.Compile(rule.Script.MessageScript, sampleVars)
		if err != nil {
			return compiledScript{}, fmt.Errorf("alarm: compiling message for rule %s: %w", rule.ID, err)
		}
	}

	cs := compiledScript{condition: cond, message: msg}
	e.scripts[rule.ID] = cs
	return cs, nil
}

// EvaluateValue evaluates every rule bound to tv's target against the new
// sample, driving the occurrence lifecycle and publishing any resulting
// alarm_event/alarm_cleared messages (§4.8 stage 2, §4.10).
func (e *Engine) EvaluateValue(tv model.TimestampedValue, sourceName, location string) {
	e.mu.Lock()
	defer e.mu.Unlock()

	targetTypes := []model.TargetType{model.TargetDataPoint, model.TargetVirtualPoint}
	for _, tt := range targetTypes {
		key := TargetKey{TenantID: tv.TenantID, TargetType: tt, TargetID: tv.PointID}
		for _, rule := range e.rules.RulesFor(key) {
			if !rule.Enabled {
				continue
			}
			e.evaluateRule(rule, tv, sourceName, location)
		}
	}
}

func (e *Engine) evaluateRule(rule *model.AlarmRule, tv model.TimestampedValue, sourceName, location string) {
	e.bumpEvaluations()

	ts := stateKey(rule.ID, rule.TargetID)
	st, ok := e.states[ts]
	if !ok {
		st = &targetState{}
		e.states[ts] = st
	}

	activeRuleIDs := e.activeRuleIDsForTenant(rule.TenantID)
	if IsSuppressed(rule.Suppression, rule.TenantID, tv.SourceTimestamp, e.gates, activeRuleIDs) {
		e.bumpSuppressed()
		return
	}

	switch rule.Type {
	case model.RuleAnalog:
		if st.analog == nil {
			st.analog = &AnalogState{}
		}
		out := EvaluateAnalog(rule.Analog, st.analog, tv.Value.AsFloat64(), tv.SourceTimestamp)
		e.applyOutcome(rule, st, out.Transition, out.Label, out.TriggerValue, out.ThresholdValue, sourceName, location)

	case model.RuleDigital:
		if st.digital == nil {
			st.digital = &DigitalState{}
		}
		out := EvaluateDigital(rule.Digital.Trigger, st.digital, tv.Value.AsBool())
		switch out.Transition {
		case "pulse":
			e.applyOutcome(rule, st, "fire", string(rule.Digital.Trigger), boolToFloat(out.Value), 0, sourceName, location)
			e.applyOutcome(rule, st, "clear", string(rule.Digital.Trigger), boolToFloat(out.Value), 0, sourceName, location)
		default:
			e.applyOutcome(rule, st, out.Transition, string(rule.Digital.Trigger), boolToFloat(out.Value), 0, sourceName, location)
		}

	case model.RuleScript:
		if st.script == nil {
			st.script = &ScriptState{}
		}
		cs, err := e.compileRule(rule)
		if err != nil {
			e.logger.Error().Str("rule_id", rule.ID).Err(err).Msg("script rule compile failed")
			e.bumpScriptErrors()
			return
		}
		vars := map[string]any{"value": tv.Value.Any(), "point_id": tv.PointID}
		out, err := EvaluateScript(cs.condition, cs.message, st.script, vars, tv.SourceTimestamp)
		if err != nil {
			e.logger.Warn().Str("rule_id", rule.ID).Err(err).Msg("script rule evaluation error")
			e.bumpScriptErrors()
			metrics.ScriptErrorsTotal.Inc()
			return
		}
		msg := out.Message
		e.applyOutcomeMsg(rule, st, out.Transition, "script", tv.Value.AsFloat64(), 0, msg, sourceName, location)
	}
}

func boolToFloat(b bool) float64 {
	if b {
		return 1
	}
	return 0
}

func (e *Engine) applyOutcome(rule *model.AlarmRule, st *targetState, transition, label string, triggerValue, thresholdValue float64, sourceName, location string) {
	e.applyOutcomeMsg(rule, st, transition, label, triggerValue, thresholdValue, "", sourceName, location)
}

// applyOutcomeMsg drives the occurrence state machine for one evaluated
// transition and persists/publishes the result. Latched rules never
// auto-clear: a "clear" transition from the evaluator is recorded but the
// occurrence stays active until an operator acknowledges it, per §4.10's
// latching invariant.
func (e *Engine) applyOutcomeMsg(rule *model.AlarmRule, st *targetState, transition, label string, triggerValue, thresholdValue float64, message, sourceName, location string) {
	switch transition {
	case "fire":
		e.bumpFires()
		metrics.AlarmOccurrencesTotal.WithLabelValues(rule.Severity.String()).Inc()
		occ := model.AlarmOccurrence{
			ID:                 e.nextOccID.Add(1),
			RuleID:             rule.ID,
			TenantID:           rule.TenantID,
			OccurrenceTime:     time.Now(),
			TriggerValue:       triggerValue,
			TriggeredCondition: label,
			Message:            resolveMessage(rule, message, triggerValue, label),
			Severity:           rule.Severity,
			State:              model.StateActive,
		}
		st.occurrence = &occ
		e.persistAndPublish(rule, occ, thresholdValue, sourceName, location, model.ChannelAlarmEvent)

	case "escalate":
		if st.occurrence == nil || model.IsTerminal(st.occurrence.State) {
			return
		}
		e.bumpEscalations()
		st.occurrence.TriggerValue = triggerValue
		st.occurrence.TriggeredCondition = label
		st.occurrence.Message = resolveMessage(rule, message, triggerValue, label)
		e.persistAndPublish(rule, *st.occurrence, thresholdValue, sourceName, location, model.ChannelAlarmEvent)

	case "clear":
		if st.occurrence == nil || model.IsTerminal(st.occurrence.State) {
			return
		}
		if rule.Latched {
			// Latched and not yet acknowledged: the occurrence stays active,
			// the return to normal is recorded but not published.
			return
		}
		if !model.CanTransition(st.occurrence.State, model.StateCleared) {
			return
		}
		e.bumpClears()
		now := time.Now()
		st.occurrence.State = model.StateCleared
		st.occurrence.ClearedTime = &now
		st.occurrence.ClearedValue = triggerValue
		e.persistAndPublish(rule, *st.occurrence, thresholdValue, sourceName, location, model.ChannelAlarmCleared)
		st.occurrence = nil
	}
}

func resolveMessage(rule *model.AlarmRule, scriptMessage string, triggerValue float64, label string) string {
	if scriptMessage != "" {
		return scriptMessage
	}
	if rule.MessageTemplate != "" {
		return rule.MessageTemplate
	}
	return fmt.Sprintf("%s %s: value=%.3f", rule.Name, label, triggerValue)
}

func (e *Engine) persistAndPublish(rule *model.AlarmRule, occ model.AlarmOccurrence, threshold float64, sourceName, location, channel string) {
	if e.store != nil {
		if err := e.store.SaveOccurrence(occ); err != nil {
			e.logger.Error().Str("rule_id", rule.ID).Int64("occurrence_id", occ.ID).Err(err).Msg("failed to persist alarm occurrence")
			metrics.StoreErrorsTotal.WithLabelValues("alarm").Inc()
		}
	}
	if e.publisher != nil {
		evt := model.NewAlarmEvent(*rule, occ, threshold, sourceName, location)
		if err := e.publisher.PublishAlarmEvent(channel, evt); err != nil {
			e.logger.Error().Str("rule_id", rule.ID).Int64("occurrence_id", occ.ID).Err(err).Msg("failed to publish alarm event")
		}
	}
}

// activeRuleIDsForTenant collects the set of rule ids with a currently
// active occurrence, for rule-to-rule suppression lookups.
func (e *Engine) activeRuleIDsForTenant(tenantID string) map[string]bool {
	active := make(map[string]bool)
	for _, st := range e.states {
		if st.occurrence != nil && st.occurrence.TenantID == tenantID && st.occurrence.State == model.StateActive {
			active[st.occurrence.RuleID] = true
		}
	}
	return active
}

// Acknowledge transitions an active occurrence to acknowledged. Returns
// errs.ErrMissingTarget-wrapped error if no such occurrence is tracked, or a
// plain error if the transition is illegal.
func (e *Engine) Acknowledge(ruleID, targetID, user, comment string) error {
	e.mu.Lock()
	defer e.mu.Unlock()

	st, ok := e.states[stateKey(ruleID, targetID)]
	if !ok || st.occurrence == nil {
		return fmt.Errorf("alarm: no tracked occurrence for rule %s target %s: %w", ruleID, targetID, errs.ErrMissingTarget)
	}
	if !model.CanTransition(st.occurrence.State, model.StateAcknowledged) {
		return fmt.Errorf("alarm: cannot acknowledge occurrence in state %s", st.occurrence.State)
	}
	now := time.Now()
	st.occurrence.State = model.StateAcknowledged
	st.occurrence.AcknowledgedTime = &now
	st.occurrence.AcknowledgedUser = user
	st.occurrence.AcknowledgedComment = comment

	if e.store != nil {
		return e.store.SaveOccurrence(*st.occurrence)
	}
	return nil
}

// Clear force-clears a tracked occurrence (operator action, §6).
func (e *Engine) Clear(ruleID, targetID, comment string) error {
	e.mu.Lock()
	defer e.mu.Unlock()

	st, ok := e.states[stateKey(ruleID, targetID)]
	if !ok || st.occurrence == nil {
		return fmt.Errorf("alarm: no tracked occurrence for rule %s target %s: %w", ruleID, targetID, errs.ErrMissingTarget)
	}
	if !model.CanTransition(st.occurrence.State, model.StateCleared) {
		return fmt.Errorf("alarm: cannot clear occurrence in state %s", st.occurrence.State)
	}
	now := time.Now()
	st.occurrence.State = model.StateCleared
	st.occurrence.ClearedTime = &now
	st.occurrence.ClearedComment = comment

	if e.store != nil {
		err := e.store.SaveOccurrence(*st.occurrence)
		st.occurrence = nil
		return err
	}
	st.occurrence = nil
	return nil
}

// Suppress transitions a tracked occurrence to suppressed (operator
// action). A matching suppression policy does not call it: evaluateRule
// skips that sample and leaves the tracked occurrence's state unchanged.
func (e *Engine) Suppress(ruleID, targetID string) error {
	e.mu.Lock()
	defer e.mu.Unlock()

	st, ok := e.states[stateKey(ruleID, targetID)]
	if !ok || st.occurrence == nil {
		return fmt.Errorf("alarm: no tracked occurrence for rule %s target %s: %w", ruleID, targetID, errs.ErrMissingTarget)
	}
	if !model.CanTransition(st.occurrence.State, model.StateSuppressed) {
		return fmt.Errorf("alarm: cannot suppress occurrence in state %s", st.occurrence.State)
	}
	st.occurrence.State = model.StateSuppressed
	if e.store != nil {
		return e.store.SaveOccurrence(*st.occurrence)
	}
	return nil
}

// Snapshot returns the Engine's running counters.
func (e *Engine) Snapshot() Stats {
	e.statsMu.Lock()
	defer e.statsMu.Unlock()
	return e.stats
}

func (e *Engine) bumpEvaluations() { e.statsMu.Lock(); e.stats.Evaluations++; e.statsMu.Unlock(); metrics.AlarmEvaluationsTotal.Inc() }
func (e *Engine) bumpFires()       { e.statsMu.Lock(); e.stats.Fires++; e.statsMu.Unlock() }
func (e *Engine) bumpClears()      { e.statsMu.Lock(); e.stats.Clears++; e.statsMu.Unlock() }
func (e *Engine) bumpEscalations() { e.statsMu.Lock(); e.stats.Escalations++; e.statsMu.Unlock() }
func (e *Engine) bumpSuppressed()  { e.statsMu.Lock(); e.stats.Suppressed++; e.statsMu.Unlock() }
func (e *Engine) bumpScriptErrors() {
	e.statsMu.Lock()
	e.stats.ScriptErrors++
	e.statsMu.Unlock()
	metrics.AlarmErrorsTotal.Inc()
}
