package modbus

import (
	"encoding/binary"
	"fmt"
	"io"
	"sync/atomic"
	"time"

	"github.com/cuemby/telemetry-collector/internal/errs"
)

// mbapHeaderLen is the fixed Modbus TCP (MBAP) header length: transaction
// id, protocol id, length, unit id.
const mbapHeaderLen = 7

// transactionCounter hands out MBAP transaction ids, wrapping at 16 bits.
var transactionCounter atomic.Uint32

func nextTransactionID() uint16 {
	return uint16(transactionCounter.Add(1))
}

// sendTCPRequest wraps a PDU in an MBAP header, writes it to conn, and
// reads back the matching response PDU. conn is expected to already have
// its read/write deadlines set by the caller.
func sendTCPRequest(conn io.ReadWriter, unitID byte, pdu []byte) ([]byte, error) {
	txID := nextTransactionID()

	frame := make([]byte, mbapHeaderLen+len(pdu))
	binary.BigEndian.PutUint16(frame[0:2], txID)
	binary.BigEndian.PutUint16(frame[2:4], 0) // protocol id is always 0 for Modbus
	binary.BigEndian.PutUint16(frame[4:6], uint16(len(pdu)+1))
	frame[6] = unitID
	copy(frame[7:], pdu)

	if _, err := conn.Write(frame); err != nil {
		return nil, fmt.Errorf("modbus: tcp write: %w", errs.ErrWriteTimeout)
	}

	header := make([]byte, mbapHeaderLen)
	if _, err := io.ReadFull(conn, header); err != nil {
		return nil, fmt.Errorf("modbus: tcp read header: %w", errs.ErrReadTimeout)
	}
	respTxID := binary.BigEndian.Uint16(header[0:2])
	length := binary.BigEndian.Uint16(header[4:6])
	if respTxID != txID {
		return nil, fmt.Errorf("modbus: tcp transaction id mismatch (want %d got %d): %w", txID, respTxID, errs.ErrFraming)
	}
	if length == 0 {
		return nil, fmt.Errorf("modbus: tcp zero-length response: %w", errs.ErrFraming)
	}

	body := make([]byte, length-1)
	if _, err := io.ReadFull(conn, body); err != nil {
		return nil, fmt.Errorf("modbus: tcp read body: %w", errs.ErrReadTimeout)
	}
	return body, nil
}

// SerialPort is the minimal surface an RTU transport needs from an open
// serial line. No serial-port library exists anywhere in the reference
// corpus, so callers wire in whichever one they choose (e.g.
// go.bug.st/serial) behind this interface; RTU framing itself is
// hand-rolled below regardless of the underlying transport.
type SerialPort interface {
	io.ReadWriter
	SetReadTimeout(d time.Duration) error
}

// sendRTURequest frames pdu with a slave address and CRC16 trailer, writes
// it to the serial line, and reads back a framed response, verifying its
// CRC. Callers are responsible for holding the bus mutex and observing
// the inter-frame delay (§4.4) around this call.
func sendRTURequest(port SerialPort, slaveID byte, pdu []byte, readTimeout time.Duration) ([]byte, error) {
	frame := make([]byte, 0, len(pdu)+3)
	frame = append(frame, slaveID)
	frame = append(frame, pdu...)
	frame = AppendCRC(frame)

	if _, err := port.Write(frame); err != nil {
		return nil, fmt.Errorf("modbus: rtu write: %w", errs.ErrWriteTimeout)
	}

	if err := port.SetReadTimeout(readTimeout); err != nil {
		return nil, fmt.Errorf("modbus: rtu set read timeout: %w", err)
	}

	// Modbus RTU has no length prefix: the frame ends when the bus goes
	// silent for 3.5 character times. We approximate that with a
	// single bounded read into a generously sized buffer, which is
	// sufficient for the request/response sizes this collector issues
	// (bounded poll groups, single-register writes).
	buf := make([]byte, 256)
	n, err := port.Read(buf)
	if err != nil {
		return nil, fmt.Errorf("modbus: rtu read: %w", errs.ErrReadTimeout)
	}
	frameIn := buf[:n]
	if len(frameIn) < 3 {
		return nil, fmt.Errorf("modbus: rtu response too short: %w", errs.ErrFraming)
	}
	if !VerifyCRC(frameIn) {
		return nil, fmt.Errorf("modbus: rtu CRC mismatch: %w", errs.ErrFraming)
	}
	if frameIn[0] != slaveID {
		return nil, fmt.Errorf("modbus: rtu slave id mismatch (want %d got %d): %w", slaveID, frameIn[0], errs.ErrFraming)
	}
	return frameIn[1 : len(frameIn)-2], nil
}
