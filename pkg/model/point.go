package model

import "time"

// AccessMode controls whether a point may be written.
type AccessMode string

const (
	AccessReadOnly  AccessMode = "R"
	AccessWriteOnly AccessMode = "W"
	AccessReadWrite AccessMode = "RW"
)

// QualityCode is the data-quality tag carried alongside every value.
type QualityCode string

const (
	QualityGood         QualityCode = "good"
	QualityUncertain    QualityCode = "uncertain"
	QualityBadTimeout    QualityCode = "bad_timeout"
	QualityBadDecode     QualityCode = "bad_decode"
	QualityBadOutOfRange QualityCode = "bad_out_of_range"
	QualityBadScript     QualityCode = "bad_script_error"
	QualityBadNoConn     QualityCode = "bad_not_connected"
)

// IsBad reports whether the quality should be treated as untrustworthy for
// alarm and virtual-point evaluation purposes.
func (q QualityCode) IsBad() bool {
	switch q {
	case QualityGood, QualityUncertain:
		return false
	default:
		return true
	}
}

// Scaling applies a linear transform: physical = raw*factor + offset.
type Scaling struct {
	Factor float64
	Offset float64
}

func (s Scaling) Apply(raw float64) float64 {
	factor := s.Factor
	if factor == 0 {
		factor = 1
	}
	return raw*factor + s.Offset
}

// Point is a named scalar belonging to a device.
type Point struct {
	ID       string
	DeviceID string
	TenantID string

	// Protocol-specific address. For Modbus: register/coil address plus
	// slave id (carried on the owning worker's address table, not here,
	// since a Point is protocol-agnostic at the model layer); for BACnet:
	// object type/instance; for MQTT: json_path. Kept as an opaque string
	// understood by the owning worker.
	Address string

	DataType ScalarType
	Unit     string
	Scaling  Scaling

	Min, Max    *float64
	PollInterval time.Duration
	Access       AccessMode
}

// CurrentValue is the live (value, quality, counters) tuple for a DataPoint.
type CurrentValue struct {
	Value       Value
	Quality     QualityCode
	ValueTS     time.Time
	QualityTS   time.Time
	ReadCount   uint64
	WriteCount  uint64
	ErrorCount  uint64
}

// DataPoint pairs a Point's static definition with its current value.
type DataPoint struct {
	Point
	Current CurrentValue
}

// InRange reports whether a physical value falls within the point's
// configured [Min,Max]; each bound is checked only when it is set.
func (p Point) InRange(physical float64) bool {
	if p.Min != nil && physical < *p.Min {
		return false
	}
	if p.Max != nil && physical > *p.Max {
		return false
	}
	return true
}
