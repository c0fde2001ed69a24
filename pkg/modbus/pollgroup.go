package modbus

import (
	"time"

	"github.com/cuemby/telemetry-collector/internal/config"
	"github.com/cuemby/telemetry-collector/pkg/model"
)

// RegisterKind distinguishes the four Modbus data tables.
type RegisterKind int

const (
	KindCoil RegisterKind = iota
	KindDiscreteInput
	KindHoldingRegister
	KindInputRegister
)

func registerKindForFunction(fc FunctionCode) RegisterKind {
	switch fc {
	case FuncReadCoils:
		return KindCoil
	case FuncReadDiscreteInputs:
		return KindDiscreteInput
	case FuncReadInputRegisters:
		return KindInputRegister
	default:
		return KindHoldingRegister
	}
}

// Binding maps one offset within a poll group's register range to a
// collector point id and its scalar decoding (§4.3: "each poll group maps
// a contiguous register range onto one or more data points").
type Binding struct {
	PointID  string
	TenantID string
	Offset   int // offset from the poll group's StartAddress, in registers
	DataType model.ScalarType
	Scaling  model.Scaling
	// Words is how many consecutive 16-bit registers this binding
	// consumes. 1 for a plain register, 2 for a 32-bit integer built
	// from two registers (big-endian word order; see decodeWords). Two
	// words are never read as an IEEE-754 float.
	Words int
}

// PollGroup is a contiguous range of coils/registers polled together at
// one interval and fanned out into TimestampedValues via its Bindings.
type PollGroup struct {
	Name           string
	FunctionCode   FunctionCode
	StartAddress   uint16
	Count          uint16
	PollInterval   time.Duration
	Bindings       []Binding

	lastPoll time.Time
}

// BuildPollGroups translates a device's YAML poll-group config into the
// poll-time representation. It fills in only the register-range shape;
// BindPoints then attaches each group's per-point bindings from the same
// config (tests build Bindings directly).
func BuildPollGroups(dev config.DeviceConfig) []PollGroup {
	groups := make([]PollGroup, 0, len(dev.PollGroups))
	for _, g := range dev.PollGroups {
		interval := dev.PollInterval()
		if g.PollIntervalMS > 0 {
			interval = time.Duration(g.PollIntervalMS) * time.Millisecond
		}
		groups = append(groups, PollGroup{
			Name:         g.Name,
			FunctionCode: FunctionCode(g.FunctionCode),
			StartAddress: uint16(g.StartAddress),
			Count:        uint16(g.Count),
			PollInterval: interval,
		})
	}
	return groups
}

// BindPoints fills in each built PollGroup's Bindings from the device's
// YAML binding config, matching groups by name. Unknown data types default
// to ScalarDouble and Words defaults to 1 (a single 16-bit register).
func BindPoints(groups []PollGroup, dev config.DeviceConfig) {
	byName := make(map[string]int, len(groups))
	for i, g := range groups {
		byName[g.Name] = i
	}
	for _, gc := range dev.PollGroups {
		idx, ok := byName[gc.Name]
		if !ok {
			continue
		}
		bindings := make([]Binding, 0, len(gc.Bindings))
		for _, bc := range gc.Bindings {
			words := bc.Words
			if words <= 0 {
				words = 1
			}
			bindings = append(bindings, Binding{
				PointID:  bc.PointID,
				TenantID: dev.TenantID,
				Offset:   bc.Offset,
				DataType: model.ScalarType(bc.DataType),
				Scaling:  model.Scaling{Factor: bc.Factor, Offset: bc.ScaleOffset},
				Words:    words,
			})
		}
		groups[idx].Bindings = bindings
	}
}

// Due reports whether the group's poll interval has elapsed since its
// last poll. The forward-only interval slip rule (§4.3): a group that
// falls behind schedule (because the bus was busy) is never polled more
// than once per tick to catch up, it simply polls now and resets its
// clock from now, rather than computing a backlog of missed polls.
func (g *PollGroup) Due(now time.Time) bool {
	return g.lastPoll.IsZero() || now.Sub(g.lastPoll) >= g.PollInterval
}

// MarkPolled resets the group's schedule from now (forward-only slip).
func (g *PollGroup) MarkPolled(now time.Time) {
	g.lastPoll = now
}

// DecodeRegisters turns a poll response's raw register words into
// TimestampedValues per the group's Bindings.
func (g *PollGroup) DecodeRegisters(regs []uint16, tenantID string, now time.Time, quality model.QualityCode) []model.TimestampedValue {
	out := make([]model.TimestampedValue, 0, len(g.Bindings))
	for _, b := range g.Bindings {
		if b.Offset < 0 || b.Offset >= len(regs) {
			continue
		}
		words := b.Words
		if words <= 0 {
			words = 1
		}
		if b.Offset+words > len(regs) {
			continue
		}

		raw := decodeWords(regs[b.Offset:b.Offset+words], b.DataType)
		physical := b.Scaling.Apply(raw)
		val, err := model.ValueFromAny(b.DataType, physical)
		q := quality
		if err != nil {
			val = model.DoubleValue(0)
			q = model.QualityBadDecode
		}

		out = append(out, model.TimestampedValue{
			PointID: b.PointID, TenantID: tenantID,
			Value: val, Quality: q,
			SourceTimestamp: now, ReceivedTimestamp: now,
		})
	}
	return out
}

// DecodeBits turns a poll response's raw coil/discrete-input bits into
// TimestampedValues per the group's Bindings.
func (g *PollGroup) DecodeBits(bits []bool, tenantID string, now time.Time, quality model.QualityCode) []model.TimestampedValue {
	out := make([]model.TimestampedValue, 0, len(g.Bindings))
	for _, b := range g.Bindings {
		if b.Offset < 0 || b.Offset >= len(bits) {
			continue
		}
		out = append(out, model.TimestampedValue{
			PointID: b.PointID, TenantID: tenantID,
			Value: model.BoolValue(bits[b.Offset]), Quality: quality,
			SourceTimestamp: now, ReceivedTimestamp: now,
		})
	}
	return out
}

// decodeWords interprets one or two big-endian 16-bit registers as the
// requested scalar type. A single word is a plain integer; two words
// compose a 32-bit integer (register[0] high word, per common Modbus
// float/int32 convention).
func decodeWords(words []uint16, dataType model.ScalarType) float64 {
	if len(words) == 1 {
		return float64(words[0])
	}
	combined := uint32(words[0])<<16 | uint32(words[1])
	if dataType == model.ScalarDouble {
		return float64(combined)
	}
	return float64(int32(combined))
}
