package model

import "time"

// ChangeFlags records which aspects of a reading changed relative to the
// point's previous current value, used to drive on_change virtual-point and
// alarm evaluation.
type ChangeFlags struct {
	ValueChanged   bool
	QualityChanged bool
}

// TimestampedValue is the internal message carried through the pipeline.
type TimestampedValue struct {
	PointID  string
	TenantID string

	Value   Value
	Quality QualityCode

	SourceTimestamp   time.Time
	ReceivedTimestamp time.Time

	ChangeFlags ChangeFlags
}

// Protocol identifies which worker family produced a DeviceDataMessage.
type Protocol string

const (
	ProtocolModbusTCP Protocol = "modbus_tcp"
	ProtocolModbusRTU Protocol = "modbus_rtu"
	ProtocolBACnet    Protocol = "bacnet"
	ProtocolMQTT      Protocol = "mqtt"
	ProtocolVirtual   Protocol = "virtual"
)

// Priority is the advisory priority attached to a DeviceDataMessage.
type Priority int

const (
	PriorityLow    Priority = 0
	PriorityNormal Priority = 1
	PriorityHigh   Priority = 2
)

// DeviceDataMessage is a batch envelope produced by a single Worker poll or
// notification cycle.
type DeviceDataMessage struct {
	DeviceID string
	TenantID string
	Protocol Protocol
	Priority Priority

	Values []TimestampedValue

	ProducerID        string
	EnvelopeTimestamp time.Time
}
