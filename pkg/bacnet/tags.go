package bacnet

import (
	"fmt"
	"math"

	"github.com/cuemby/telemetry-collector/internal/errs"
)

// Application tag numbers this worker needs to encode/decode (BACnet
// clause 20.2.1).
const (
	booleanApplicationTag    byte = 1
	unsignedApplicationTag   byte = 2
	realApplicationTag       byte = 4
	enumeratedApplicationTag byte = 9
	objectIDApplicationTag   byte = 12
)

const (
	tagClassApplication = 0
	tagClassContext     = 1
)

// appendContextUnsigned appends a context-tagged unsigned integer in its
// minimal-length encoding.
func appendContextUnsigned(buf []byte, tagNum byte, value uint32) []byte {
	enc := minimalUnsignedBytes(value)
	buf = append(buf, contextTagByte(tagNum, len(enc)))
	return append(buf, enc...)
}

func appendContextBoolean(buf []byte, tagNum byte, value bool) []byte {
	v := byte(0)
	if value {
		v = 1
	}
	buf = append(buf, contextTagByte(tagNum, 1))
	return append(buf, v)
}

func appendContextObjectID(buf []byte, tagNum byte, obj ObjectID) []byte {
	raw := obj.encode()
	enc := []byte{byte(raw >> 24), byte(raw >> 16), byte(raw >> 8), byte(raw)}
	buf = append(buf, contextTagByte(tagNum, 4))
	return append(buf, enc...)
}

// contextTagByte builds a context tag header. Callers here never need more
// than 4 octets of value (unsigned/object-id/boolean), so the length is
// always encoded directly in the tag's LVT field.
func contextTagByte(tagNum byte, length int) byte {
	return (tagNum << 4) | 0x08 | byte(length)
}

func minimalUnsignedBytes(v uint32) []byte {
	switch {
	case v <= 0xFF:
		return []byte{byte(v)}
	case v <= 0xFFFF:
		return []byte{byte(v >> 8), byte(v)}
	case v <= 0xFFFFFF:
		return []byte{byte(v >> 16), byte(v >> 8), byte(v)}
	default:
		return []byte{byte(v >> 24), byte(v >> 16), byte(v >> 8), byte(v)}
	}
}

// tagReader walks a BACnet tag-encoded byte stream linearly.
type tagReader struct {
	buf []byte
	pos int
}

func (r *tagReader) remaining() []byte { return r.buf[r.pos:] }

// peekTag decodes the tag header at the current position without
// consuming it: tag number, class (application=0/context=1), and the
// declared length/value/type (LVT) field.
func (r *tagReader) peekTag() (tagNum byte, class int, lvt int, err error) {
	if r.pos >= len(r.buf) {
		return 0, 0, 0, fmt.Errorf("bacnet: truncated tag: %w", errs.ErrDecodeFailure)
	}
	b := r.buf[r.pos]
	tagNum = b >> 4
	class = int((b >> 3) & 0x01)
	lvt = int(b & 0x07)
	return tagNum, class, lvt, nil
}

func (r *tagReader) readContextUnsigned(expectTag byte) (uint32, error) {
	tagNum, class, lvt, err := r.peekTag()
	if err != nil {
		return 0, err
	}
	if class != tagClassContext || tagNum != expectTag {
		return 0, fmt.Errorf("bacnet: expected context tag %d, got %d (class=%d): %w", expectTag, tagNum, class, errs.ErrDecodeFailure)
	}
	r.pos++
	if r.pos+lvt > len(r.buf) {
		return 0, fmt.Errorf("bacnet: truncated context value: %w", errs.ErrDecodeFailure)
	}
	v := bytesToUint32(r.buf[r.pos : r.pos+lvt])
	r.pos += lvt
	return v, nil
}

func (r *tagReader) readApplicationUnsigned(expectTag byte) (uint64, error) {
	tagNum, class, lvt, err := r.peekTag()
	if err != nil {
		return 0, err
	}
	if class != tagClassApplication || (expectTag != 0 && tagNum != expectTag) {
		return 0, fmt.Errorf("bacnet: expected application tag %d, got %d (class=%d): %w", expectTag, tagNum, class, errs.ErrDecodeFailure)
	}
	r.pos++
	if r.pos+lvt > len(r.buf) {
		return 0, fmt.Errorf("bacnet: truncated application value: %w", errs.ErrDecodeFailure)
	}
	v := uint64(bytesToUint32(r.buf[r.pos : r.pos+lvt]))
	r.pos += lvt
	return v, nil
}

func (r *tagReader) readApplicationBoolean() (bool, error) {
	tagNum, class, lvt, err := r.peekTag()
	if err != nil {
		return false, err
	}
	if class != tagClassApplication || tagNum != booleanApplicationTag {
		return false, fmt.Errorf("bacnet: expected boolean application tag: %w", errs.ErrDecodeFailure)
	}
	r.pos++
	return lvt != 0, nil
}

func (r *tagReader) readApplicationReal() (float32, error) {
	tagNum, class, lvt, err := r.peekTag()
	if err != nil {
		return 0, err
	}
	if class != tagClassApplication || tagNum != realApplicationTag || lvt != 4 {
		return 0, fmt.Errorf("bacnet: expected 4-byte real application tag: %w", errs.ErrDecodeFailure)
	}
	r.pos++
	if r.pos+4 > len(r.buf) {
		return 0, fmt.Errorf("bacnet: truncated real value: %w", errs.ErrDecodeFailure)
	}
	bits := bytesToUint32(r.buf[r.pos : r.pos+4])
	r.pos += 4
	return math.Float32frombits(bits), nil
}

// expectOpeningTag consumes an opening tag (LVT==6) for the given context
// tag number.
func (r *tagReader) expectOpeningTag(tagNum byte) error {
	if r.pos >= len(r.buf) {
		return fmt.Errorf("bacnet: truncated opening tag: %w", errs.ErrDecodeFailure)
	}
	b := r.buf[r.pos]
	if b>>4 != tagNum || (b&0x07) != 6 {
		return fmt.Errorf("bacnet: expected opening tag %d: %w", tagNum, errs.ErrDecodeFailure)
	}
	r.pos++
	return nil
}

func (r *tagReader) atClosingTag(tagNum byte) bool {
	if r.pos >= len(r.buf) {
		return false
	}
	b := r.buf[r.pos]
	return b>>4 == tagNum && (b&0x07) == 7
}

func (r *tagReader) skipClosingTag(tagNum byte) {
	if r.atClosingTag(tagNum) {
		r.pos++
	}
}

func bytesToUint32(b []byte) uint32 {
	var v uint32
	for _, x := range b {
		v = v<<8 | uint32(x)
	}
	return v
}
