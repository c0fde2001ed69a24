// Package errs holds the collector's error taxonomy (§7 of the spec):
// sentinel and tagged errors checked with errors.Is/errors.As, one per
// category of ordinary (non-invariant-violation) failure.
package errs

import (
	"errors"
	"fmt"
)

// Transport errors.
var (
	ErrConnectFailed = errors.New("errs: connect failed")
	ErrReadTimeout   = errors.New("errs: read timeout")
	ErrWriteTimeout  = errors.New("errs: write timeout")
	ErrFraming       = errors.New("errs: framing or CRC error")
)

// Data errors.
var (
	ErrDecodeFailure = errors.New("errs: decode failure")
	ErrQualityBad    = errors.New("errs: quality bad")
	ErrOutOfRange    = errors.New("errs: value out of range")
)

// Rule errors.
var (
	ErrInvalidRule      = errors.New("errs: invalid rule")
	ErrMissingTarget    = errors.New("errs: missing target")
	ErrScriptError      = errors.New("errs: script evaluation error")
	ErrDependencyCycle  = errors.New("errs: dependency cycle")
)

// Infrastructure errors.
var (
	ErrCacheUnavailable  = errors.New("errs: cache unavailable")
	ErrStoreUnavailable  = errors.New("errs: store unavailable")
	ErrPubSubUnavailable = errors.New("errs: pubsub unavailable")
	ErrQueueOverflow     = errors.New("errs: queue overflow")
)

// Policy errors.
var (
	ErrUnauthorisedWrite = errors.New("errs: unauthorised write")
	ErrRateLimited       = errors.New("errs: rate limited")
)

// Worker-manager errors.
var (
	ErrNotConnected  = errors.New("errs: worker not connected")
	ErrUnknownDevice = errors.New("errs: unknown device")
)

// ModbusExceptionKind taxonomises Modbus exception-code responses (§4.3).
type ModbusExceptionKind string

const (
	ModbusIllegalFunction ModbusExceptionKind = "illegal_function"
	ModbusIllegalAddress  ModbusExceptionKind = "illegal_address"
	ModbusIllegalValue    ModbusExceptionKind = "illegal_value"
	ModbusSlaveBusy       ModbusExceptionKind = "slave_busy"
	ModbusSlaveFailure    ModbusExceptionKind = "slave_failure"
	ModbusTimeout         ModbusExceptionKind = "timeout"
	ModbusFrameError      ModbusExceptionKind = "frame_error"
)

// ModbusError reports a Modbus-layer failure with enough context for the
// caller (§7 "user-visible failure behaviour": slave id, address, kind).
type ModbusError struct {
	SlaveID int
	Address uint16
	Kind    ModbusExceptionKind
	Err     error
}

func (e *ModbusError) Error() string {
	return fmt.Sprintf("modbus: slave=%d addr=%d kind=%s: %v", e.SlaveID, e.Address, e.Kind, e.Err)
}

func (e *ModbusError) Unwrap() error { return e.Err }

// ModbusExceptionKindFromCode maps a Modbus exception code byte to a kind.
func ModbusExceptionKindFromCode(code byte) ModbusExceptionKind {
	switch code {
	case 0x01:
		return ModbusIllegalFunction
	case 0x02:
		return ModbusIllegalAddress
	case 0x03:
		return ModbusIllegalValue
	case 0x06:
		return ModbusSlaveBusy
	case 0x04:
		return ModbusSlaveFailure
	default:
		return ModbusFrameError
	}
}

// WriteRejected is returned to callers of WriteDataPoint et al. when a
// device rejects a write.
type WriteRejected struct {
	DeviceID string
	PointID  string
	SlaveID  int
	Address  uint16
	Kind     ModbusExceptionKind
}

func (e *WriteRejected) Error() string {
	return fmt.Sprintf("write rejected: device=%s point=%s slave=%d addr=%d kind=%s",
		e.DeviceID, e.PointID, e.SlaveID, e.Address, e.Kind)
}
