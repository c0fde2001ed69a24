// Package bacnet implements the BACnet/IP worker (§4.5): Who-Is/I-Am
// discovery, object enumeration, and COV subscribe/renew over UDP.
//
// No BACnet library exists anywhere in the reference corpus (checked);
// the BVLC/NPDU/APDU framing and BACnet tag encoding below are hand-rolled
// binary codecs over net.PacketConn, the same spirit as pkg/modbus's
// hand-rolled Modbus codec and the teacher's own hand-rolled wire framing.
package bacnet

import (
	"encoding/binary"
	"fmt"

	"github.com/cuemby/telemetry-collector/internal/errs"
)

// BVLC function codes (Annex J).
const (
	bvlcTypeBIP               byte = 0x81
	bvlcOriginalUnicastNPDU   byte = 0x0A
	bvlcOriginalBroadcastNPDU byte = 0x0B
)

// ObjectType is a BACnet object type enumeration value.
type ObjectType uint16

const (
	ObjectAnalogInput   ObjectType = 0
	ObjectAnalogOutput  ObjectType = 1
	ObjectAnalogValue   ObjectType = 2
	ObjectBinaryInput   ObjectType = 3
	ObjectBinaryOutput  ObjectType = 4
	ObjectBinaryValue   ObjectType = 5
	ObjectDevice        ObjectType = 8
	ObjectMultiStateInput  ObjectType = 13
	ObjectMultiStateOutput ObjectType = 14
	ObjectMultiStateValue  ObjectType = 19
)

// PropertyIdentifier is a BACnet property enumeration value.
type PropertyIdentifier uint32

const (
	PropObjectList   PropertyIdentifier = 76
	PropPresentValue PropertyIdentifier = 85
)

// ObjectID packs a BACnet object identifier (10-bit type, 22-bit instance).
type ObjectID struct {
	Type     ObjectType
	Instance uint32
}

func (o ObjectID) encode() uint32 {
	return uint32(o.Type)<<22 | (o.Instance & 0x3FFFFF)
}

func decodeObjectID(raw uint32) ObjectID {
	return ObjectID{Type: ObjectType(raw >> 22), Instance: raw & 0x3FFFFF}
}

// unconfirmed/confirmed service choices used by this worker.
const (
	serviceWhoIs             byte = 8
	serviceIAm               byte = 0
	serviceCOVNotification   byte = 2
	serviceReadProperty      byte = 12
	serviceSubscribeCOV      byte = 5
)

// pduType nibbles, shifted into the high nibble of the first APDU byte.
const (
	pduConfirmedRequest   byte = 0x00
	pduUnconfirmedRequest byte = 0x10
	pduSimpleAck          byte = 0x20
	pduComplexAck         byte = 0x30
)

func wrapBVLC(function byte, npdu []byte) []byte {
	frame := make([]byte, 4+len(npdu))
	frame[0] = bvlcTypeBIP
	frame[1] = function
	binary.BigEndian.PutUint16(frame[2:4], uint16(len(frame)))
	copy(frame[4:], npdu)
	return frame
}

func wrapNPDU(apdu []byte) []byte {
	npdu := make([]byte, 2+len(apdu))
	npdu[0] = 0x01 // protocol version
	npdu[1] = 0x00 // control: no dest/src, no auth, expecting-reply irrelevant for unconfirmed
	copy(npdu[2:], apdu)
	return npdu
}

// BuildWhoIs encodes a global (unrestricted range) Who-Is broadcast.
func BuildWhoIs() []byte {
	apdu := []byte{pduUnconfirmedRequest, serviceWhoIs}
	return wrapBVLC(bvlcOriginalBroadcastNPDU, wrapNPDU(apdu))
}

// IAm is a parsed I-Am response.
type IAm struct {
	Device        ObjectID
	MaxAPDULength uint32
	Segmentation  uint32
	VendorID      uint32
}

// ParseIAm parses the APDU portion (after BVLC+NPDU stripping) of an I-Am.
func ParseIAm(apdu []byte) (IAm, error) {
	if len(apdu) < 2 || apdu[0] != pduUnconfirmedRequest || apdu[1] != serviceIAm {
		return IAm{}, fmt.Errorf("bacnet: not an I-Am APDU: %w", errs.ErrDecodeFailure)
	}
	r := &tagReader{buf: apdu[2:]}

	objRaw, err := r.readApplicationUnsigned(objectIDApplicationTag)
	if err != nil {
		return IAm{}, err
	}
	maxAPDU, err := r.readApplicationUnsigned(unsignedApplicationTag)
	if err != nil {
		return IAm{}, err
	}
	seg, err := r.readApplicationUnsigned(enumeratedApplicationTag)
	if err != nil {
		return IAm{}, err
	}
	vendor, err := r.readApplicationUnsigned(unsignedApplicationTag)
	if err != nil {
		return IAm{}, err
	}

	return IAm{
		Device:        decodeObjectID(uint32(objRaw)),
		MaxAPDULength: uint32(maxAPDU),
		Segmentation:  uint32(seg),
		VendorID:      uint32(vendor),
	}, nil
}

// BuildReadProperty encodes a confirmed ReadProperty request.
func BuildReadProperty(invokeID byte, obj ObjectID, prop PropertyIdentifier) []byte {
	apdu := []byte{pduConfirmedRequest, 0x05 /* max-segs=0,max-resp=5(1476 octets) */, invokeID, serviceReadProperty}
	apdu = appendContextObjectID(apdu, 0, obj)
	apdu = appendContextUnsigned(apdu, 1, uint32(prop))
	return wrapBVLC(bvlcOriginalUnicastNPDU, wrapNPDU(apdu))
}

// ReadPropertyAck is the decoded value portion of a ReadProperty ComplexAck
// for Present_Value (the only property this worker polls by value).
type ReadPropertyAck struct {
	Object   ObjectID
	Property PropertyIdentifier
	Raw      float64
	IsBool   bool
	BoolVal  bool
}

// ParseReadPropertyAck parses a ComplexAck APDU into its Present_Value.
// It handles the application-tagged real, unsigned, boolean, and
// enumerated encodings, which cover AI/AO/AV/MI/MO/MV (real or enumerated)
// and BI/BO/BV (boolean) present-values.
func ParseReadPropertyAck(apdu []byte) (ReadPropertyAck, error) {
	if len(apdu) < 3 || apdu[0] != pduComplexAck || apdu[2] != serviceReadProperty {
		return ReadPropertyAck{}, fmt.Errorf("bacnet: not a ReadProperty ack: %w", errs.ErrDecodeFailure)
	}
	r := &tagReader{buf: apdu[3:]}

	objRaw, err := r.readContextUnsigned(0)
	if err != nil {
		return ReadPropertyAck{}, err
	}
	propRaw, err := r.readContextUnsigned(1)
	if err != nil {
		return ReadPropertyAck{}, err
	}
	if err := r.expectOpeningTag(3); err != nil {
		return ReadPropertyAck{}, err
	}

	ack := ReadPropertyAck{Object: decodeObjectID(uint32(objRaw)), Property: PropertyIdentifier(propRaw)}
	tagNum, class, length, err := r.peekTag()
	if err != nil {
		return ReadPropertyAck{}, err
	}
	if class != tagClassApplication {
		return ReadPropertyAck{}, fmt.Errorf("bacnet: present-value is not application-tagged: %w", errs.ErrDecodeFailure)
	}
	switch tagNum {
	case booleanApplicationTag:
		v, err := r.readApplicationBoolean()
		if err != nil {
			return ReadPropertyAck{}, err
		}
		ack.IsBool, ack.BoolVal = true, v
	case realApplicationTag:
		v, err := r.readApplicationReal()
		if err != nil {
			return ReadPropertyAck{}, err
		}
		ack.Raw = float64(v)
	default:
		v, err := r.readApplicationUnsigned(tagNum)
		if err != nil {
			return ReadPropertyAck{}, err
		}
		ack.Raw = float64(v)
	}
	_ = length
	return ack, nil
}

// BuildSubscribeCOV encodes a confirmed SubscribeCOV request.
func BuildSubscribeCOV(invokeID byte, processID uint32, obj ObjectID, confirmedNotifications bool, lifetimeSeconds uint32) []byte {
	apdu := []byte{pduConfirmedRequest, 0x05, invokeID, serviceSubscribeCOV}
	apdu = appendContextUnsigned(apdu, 0, processID)
	apdu = appendContextObjectID(apdu, 1, obj)
	apdu = appendContextBoolean(apdu, 2, confirmedNotifications)
	apdu = appendContextUnsigned(apdu, 3, lifetimeSeconds)
	return wrapBVLC(bvlcOriginalUnicastNPDU, wrapNPDU(apdu))
}

// COVNotification is a parsed unconfirmed COV notification.
type COVNotification struct {
	Object  ObjectID
	Present ReadPropertyAck
}

// ParseCOVNotification parses an unconfirmed COV-Notification APDU,
// extracting only the Present_Value property-value pair out of its
// property-values list (the notification also carries Time_Remaining,
// which this collector doesn't use).
func ParseCOVNotification(apdu []byte) (COVNotification, error) {
	if len(apdu) < 2 || apdu[0] != pduUnconfirmedRequest || apdu[1] != serviceCOVNotification {
		return COVNotification{}, fmt.Errorf("bacnet: not a COV notification: %w", errs.ErrDecodeFailure)
	}
	r := &tagReader{buf: apdu[2:]}

	if _, err := r.readContextUnsigned(0); err != nil { // subscriber process id
		return COVNotification{}, err
	}
	objRaw, err := r.readContextUnsigned(1)
	if err != nil {
		return COVNotification{}, err
	}
	if _, err := r.readContextUnsigned(2); err != nil { // initiating device id
		return COVNotification{}, err
	}
	if err := r.expectOpeningTag(3); err != nil { // list-of-values open tag
		return COVNotification{}, err
	}

	notif := COVNotification{Object: decodeObjectID(uint32(objRaw))}
	for {
		if r.atClosingTag(3) {
			r.skipClosingTag(3)
			break
		}
		propID, err := r.readContextUnsigned(0)
		if err != nil {
			return COVNotification{}, err
		}
		if err := r.expectOpeningTag(2); err != nil {
			return COVNotification{}, err
		}
		tagNum, class, _, err := r.peekTag()
		if err != nil {
			return COVNotification{}, err
		}
		var ack ReadPropertyAck
		if class == tagClassApplication {
			switch tagNum {
			case booleanApplicationTag:
				v, err := r.readApplicationBoolean()
				if err != nil {
					return COVNotification{}, err
				}
				ack = ReadPropertyAck{IsBool: true, BoolVal: v}
			case realApplicationTag:
				v, err := r.readApplicationReal()
				if err != nil {
					return COVNotification{}, err
				}
				ack = ReadPropertyAck{Raw: float64(v)}
			default:
				v, err := r.readApplicationUnsigned(tagNum)
				if err != nil {
					return COVNotification{}, err
				}
				ack = ReadPropertyAck{Raw: float64(v)}
			}
		}
		r.skipClosingTag(2)
		if PropertyIdentifier(propID) == PropPresentValue {
			notif.Present = ack
		}
		if r.atClosingTag(4) { // optional status-flags may follow; skip leniently
			r.skipClosingTag(4)
		}
	}
	return notif, nil
}
