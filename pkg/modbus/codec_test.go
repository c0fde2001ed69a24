package modbus

import (
	"errors"
	"testing"

	"github.com/cuemby/telemetry-collector/internal/errs"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestBuildReadRequestEncodesAddressAndQuantity(t *testing.T) {
	pdu := BuildReadRequest(FuncReadHoldingRegisters, 0x0010, 4)
	assert.Equal(t, []byte{0x03, 0x00, 0x10, 0x00, 0x04}, pdu)
}

func TestParseReadRegistersResponseDecodesWords(t *testing.T) {
	resp := []byte{0x03, 0x04, 0x00, 0x2A, 0x01, 0x00}
	regs, err := ParseReadRegistersResponse(resp)
	require.NoError(t, err)
	assert.Equal(t, []uint16{42, 256}, regs)
}

func TestParseReadRegistersResponseRejectsException(t *testing.T) {
	resp := []byte{0x83, 0x02}
	_, err := ParseReadRegistersResponse(resp)
	require.Error(t, err)

	var modbusErr *errs.ModbusError
	require.True(t, errors.As(err, &modbusErr))
	assert.Equal(t, errs.ModbusIllegalAddress, modbusErr.Kind)
}

func TestParseReadBitsResponseDecodesLSBFirst(t *testing.T) {
	// bit pattern 0b00000101 -> bit0=1, bit1=0, bit2=1
	resp := []byte{0x01, 0x01, 0x05}
	bits, err := ParseReadBitsResponse(resp, 3)
	require.NoError(t, err)
	assert.Equal(t, []bool{true, false, true}, bits)
}

func TestCRC16RoundTrips(t *testing.T) {
	frame := []byte{0x01, 0x03, 0x00, 0x00, 0x00, 0x01}
	framed := AppendCRC(append([]byte(nil), frame...))
	assert.True(t, VerifyCRC(framed))

	framed[len(framed)-1] ^= 0xFF
	assert.False(t, VerifyCRC(framed))
}
