package model

import "time"

const (
	ChannelValueChanged = "value_changed"
	ChannelAlarmEvent   = "alarm_event"
	ChannelAlarmCleared = "alarm_cleared"
)

// ValueChangedEvent is the value_changed wire payload.
type ValueChangedEvent struct {
	PointID   string    `json:"point_id"`
	TenantID  string    `json:"tenant_id"`
	Value     Value     `json:"value"`
	Quality   string    `json:"quality"`
	TSSource  time.Time `json:"ts_source"`
	TSReceived time.Time `json:"ts_received"`
}

// AlarmEvent is the alarm_event / alarm_cleared wire payload.
type AlarmEvent struct {
	OccurrenceID      int64     `json:"occurrence_id"`
	RuleID            string    `json:"rule_id"`
	TenantID          string    `json:"tenant_id"`
	DeviceID          string    `json:"device_id"`
	PointID           string    `json:"point_id"`
	Severity          string    `json:"severity"`
	State             string    `json:"state"`
	AlarmType         string    `json:"alarm_type"`
	Message           string    `json:"message"`
	TriggerValue      float64   `json:"trigger_value"`
	ThresholdValue    float64   `json:"threshold_value"`
	TriggerCondition  string    `json:"trigger_condition"`
	OccurrenceTime    time.Time `json:"occurrence_time"`
	SourceName        string    `json:"source_name"`
	Location          string    `json:"location"`
}

// NewAlarmEvent builds the wire event from a rule/occurrence pair.
func NewAlarmEvent(rule AlarmRule, occ AlarmOccurrence, threshold float64, sourceName, location string) AlarmEvent {
	return AlarmEvent{
		OccurrenceID:     occ.ID,
		RuleID:           rule.ID,
		TenantID:         occ.TenantID,
		DeviceID:         deviceIDFromTarget(rule),
		PointID:          pointIDFromTarget(rule),
		Severity:         occ.Severity.String(),
		State:            string(occ.State),
		AlarmType:        string(rule.Type),
		Message:          occ.Message,
		TriggerValue:     occ.TriggerValue,
		ThresholdValue:   threshold,
		TriggerCondition: occ.TriggeredCondition,
		OccurrenceTime:   occ.OccurrenceTime,
		SourceName:       sourceName,
		Location:         location,
	}
}

func deviceIDFromTarget(rule AlarmRule) string {
	if rule.TargetType == TargetDevice {
		return rule.TargetID
	}
	return ""
}

func pointIDFromTarget(rule AlarmRule) string {
	switch rule.TargetType {
	case TargetDataPoint, TargetVirtualPoint:
		return rule.TargetID
	default:
		return ""
	}
}
