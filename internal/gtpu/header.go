// Package gtpu encodes and decodes the mandatory GTP-U header (3GPP TS 29.281),
// including deliberately malformed variants used for fault injection.
package gtpu

import (
	"fmt"
)

// Port is the registered GTP-U UDP port.
const Port = 2152

// HeaderLen is the size of the mandatory header: flags, type, length, TEID.
const HeaderLen = 8

// optionalLen is the size of the sequence/N-PDU/next-extension block present
// when any of the E, S or PN flags is set.
const optionalLen = 4

// Version is the only GTP version this harness speaks on the user plane.
const Version = 1

// Message types.
const (
	MsgTypeEchoRequest                     uint8 = 1
	MsgTypeEchoResponse                    uint8 = 2
	MsgTypeErrorIndication                 uint8 = 26
	MsgTypeSupportedExtensionHeadersNotify uint8 = 31
	MsgTypeEndMarker                       uint8 = 254
	MsgTypeTPDU                            uint8 = 255
)

// Flag bits of the first octet.
const (
	versionShift = 5
	FlagPT       = 0x10
	FlagE        = 0x04
	FlagS        = 0x02
	FlagPN       = 0x01
)

// flagsValid is version 1, protocol type GTP, no optional fields.
const flagsValid = Version<<versionShift | FlagPT

// Header is the decoded mandatory header.
type Header struct {
	Flags  uint8
	Type   uint8
	Length uint16
	TEID   uint32
}

// Version returns the three version bits.
func (h Header) Version() uint8 {
	return h.Flags >> versionShift
}

// HasOptional reports whether the 4-byte optional block follows the header.
func (h Header) HasOptional() bool {
	return h.Flags&(FlagE|FlagS|FlagPN) != 0
}

func (h Header) String() string {
	return fmt.Sprintf("GTPv%d %s teid=0x%08x len=%d", h.Version(), MessageTypeName(h.Type), h.TEID, h.Length)
}

// acceptedType returns whether msgType is valid for the given flag variant.
// Echo, Error Indication and Supported Extension Headers Notification
// require the S flag; only End Marker and G-PDU may be sent without it.
func acceptedType(flags, msgType uint8) bool {
	switch msgType {
	case MsgTypeTPDU, MsgTypeEndMarker:
		return true
	default:
		return requiresSequence(msgType) && flags&FlagS != 0
	}
}

func requiresSequence(msgType uint8) bool {
	switch msgType {
	case MsgTypeEchoRequest, MsgTypeEchoResponse, MsgTypeErrorIndication, MsgTypeSupportedExtensionHeadersNotify:
		return true
	default:
		return false
	}
}

// KnownMessageType reports whether msgType is one of the GTP-U message types
// this package can encode. Zero is accepted as shorthand for G-PDU.
func KnownMessageType(msgType uint8) bool {
	return msgType == 0 || msgType == MsgTypeTPDU || msgType == MsgTypeEndMarker || requiresSequence(msgType)
}

// MessageTypeName returns a human-readable name for a GTP-U message type.
func MessageTypeName(msgType uint8) string {
	switch msgType {
	case MsgTypeEchoRequest:
		return "EchoRequest"
	case MsgTypeEchoResponse:
		return "EchoResponse"
	case MsgTypeErrorIndication:
		return "ErrorIndication"
	case MsgTypeSupportedExtensionHeadersNotify:
		return "SupportedExtensionHeadersNotification"
	case MsgTypeEndMarker:
		return "EndMarker"
	case MsgTypeTPDU:
		return "G-PDU"
	default:
		return fmt.Sprintf("Unknown(%d)", msgType)
	}
}
