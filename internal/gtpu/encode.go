package gtpu

import (
	"encoding/binary"

	"gtpu-harness/pkg/types"
)

// truncatedLen is how many header bytes a Truncated packet carries.
const truncatedLen = 4

// lengthOverrun is added to the real payload length in LengthMismatch mode.
const lengthOverrun = 0xFF

// wrongMessageType is not acceptable for a header without the S flag.
const wrongMessageType uint8 = 0

// Encode returns the GTP-U header bytes for the given mode. payloadLen is the
// number of bytes the caller will append after the header. A zero msgType
// selects G-PDU. Types that require a sequence number get the S flag and a
// zeroed sequence/N-PDU block, counted in the length field.
func Encode(teid uint32, msgType uint8, payloadLen int, mode types.HeaderMode) []byte {
	if msgType == 0 {
		msgType = MsgTypeTPDU
	}
	h := Header{
		Flags:  flagsValid,
		Type:   msgType,
		Length: clampLength(payloadLen),
		TEID:   teid,
	}

	switch mode {
	case types.HeaderTruncated:
		return h.marshal()[:truncatedLen]
	case types.HeaderWrongVersion:
		h.Flags &^= 0x07 << versionShift
	case types.HeaderLengthMismatch:
		h.Length = clampLength(payloadLen + lengthOverrun)
	case types.HeaderWrongMessageType:
		h.Type = wrongMessageType
	case types.HeaderEmptyPayload:
		h.Type = MsgTypeTPDU
		h.Length = 0
	}

	if !requiresSequence(h.Type) {
		return h.marshal()
	}
	h.Flags |= FlagS
	h.Length = clampLength(int(h.Length) + optionalLen)
	return append(h.marshal(), make([]byte, optionalLen)...)
}

// EncodedLen returns how many header bytes Encode emits for msgType and mode.
func EncodedLen(msgType uint8, mode types.HeaderMode) int {
	return len(Encode(0, msgType, 0, mode))
}

// Marshal encodes a header as-is. It never adds optional fields.
func (h Header) Marshal() []byte {
	return h.marshal()
}

func (h Header) marshal() []byte {
	b := make([]byte, HeaderLen)
	b[0] = h.Flags
	b[1] = h.Type
	binary.BigEndian.PutUint16(b[2:4], h.Length)
	binary.BigEndian.PutUint32(b[4:8], h.TEID)
	return b
}

func clampLength(n int) uint16 {
	switch {
	case n < 0:
		return 0
	case n > 0xFFFF:
		return 0xFFFF
	default:
		return uint16(n)
	}
}
