package modbus

import (
	"fmt"
	"time"

	"go.bug.st/serial"
)

// goSerialPort adapts go.bug.st/serial.Port to the SerialPort interface
// transport.go's RTU framing needs, the library transport.go's own doc
// comment names as the expected choice for callers wiring in a real line.
type goSerialPort struct {
	port serial.Port
}

// OpenSerialPort opens device at baud 8N1, the framing every RTU slave in
// this collector's field population uses.
func OpenSerialPort(device string, baud int) (*goSerialPort, error) {
	mode := &serial.Mode{
		BaudRate: baud,
		Parity:   serial.NoParity,
		DataBits: 8,
		StopBits: serial.OneStopBit,
	}
	port, err := serial.Open(device, mode)
	if err != nil {
		return nil, fmt.Errorf("modbus: opening serial port %s: %w", device, err)
	}
	return &goSerialPort{port: port}, nil
}

func (p *goSerialPort) Read(b []byte) (int, error)  { return p.port.Read(b) }
func (p *goSerialPort) Write(b []byte) (int, error) { return p.port.Write(b) }

func (p *goSerialPort) SetReadTimeout(d time.Duration) error {
	return p.port.SetReadTimeout(d)
}

func (p *goSerialPort) Close() error { return p.port.Close() }
