package gtpu

import (
	"encoding/binary"
	"errors"
	"fmt"

	"gtpu-harness/pkg/types"
)

// FailureKind classifies why a header did not decode.
type FailureKind int

const (
	FailureNone FailureKind = iota
	FailureTooShort
	FailureVersionMismatch
	FailureExtensionHeader
	FailureLengthMismatch
	FailureUnsupportedMessageType
	FailureEmptyPayload
)

func (k FailureKind) String() string {
	switch k {
	case FailureNone:
		return "none"
	case FailureTooShort:
		return "too_short"
	case FailureVersionMismatch:
		return "version_mismatch"
	case FailureExtensionHeader:
		return "extension_header"
	case FailureLengthMismatch:
		return "length_mismatch"
	case FailureUnsupportedMessageType:
		return "unsupported_message_type"
	case FailureEmptyPayload:
		return "empty_payload"
	default:
		return fmt.Sprintf("FailureKind(%d)", int(k))
	}
}

var (
	ErrTooShort               = errors.New("gtpu: header too short")
	ErrVersionMismatch        = errors.New("gtpu: version mismatch")
	ErrExtensionHeader        = errors.New("gtpu: extension headers not supported")
	ErrLengthMismatch         = errors.New("gtpu: length field mismatch")
	ErrUnsupportedMessageType = errors.New("gtpu: unsupported message type")
	ErrEmptyPayload           = errors.New("gtpu: empty G-PDU payload")
)

var kindErrors = map[FailureKind]error{
	FailureTooShort:               ErrTooShort,
	FailureVersionMismatch:        ErrVersionMismatch,
	FailureExtensionHeader:        ErrExtensionHeader,
	FailureLengthMismatch:         ErrLengthMismatch,
	FailureUnsupportedMessageType: ErrUnsupportedMessageType,
	FailureEmptyPayload:           ErrEmptyPayload,
}

// DecodeError is returned by Decode. It unwraps to one of the Err* sentinels.
type DecodeError struct {
	Kind   FailureKind
	Detail string
}

func (e *DecodeError) Error() string {
	return fmt.Sprintf("%v: %s", kindErrors[e.Kind], e.Detail)
}

func (e *DecodeError) Unwrap() error {
	return kindErrors[e.Kind]
}

func fail(kind FailureKind, format string, args ...interface{}) error {
	return &DecodeError{Kind: kind, Detail: fmt.Sprintf(format, args...)}
}

// KindOf extracts the failure class from an error returned by Decode.
func KindOf(err error) FailureKind {
	var de *DecodeError
	if errors.As(err, &de) {
		return de.Kind
	}
	return FailureNone
}

// Decode parses a GTP-U header from b and returns it together with the bytes
// following the header (and its optional block, if present).
func Decode(b []byte) (Header, []byte, error) {
	if len(b) < HeaderLen {
		return Header{}, nil, fail(FailureTooShort, "got %d bytes, need %d", len(b), HeaderLen)
	}

	h := Header{
		Flags:  b[0],
		Type:   b[1],
		Length: binary.BigEndian.Uint16(b[2:4]),
		TEID:   binary.BigEndian.Uint32(b[4:8]),
	}

	if v := h.Version(); v != Version {
		return h, nil, fail(FailureVersionMismatch, "version %d", v)
	}
	if h.Flags&FlagE != 0 {
		return h, nil, fail(FailureExtensionHeader, "E flag set")
	}

	following := len(b) - HeaderLen
	if int(h.Length) != following {
		return h, nil, fail(FailureLengthMismatch, "declared %d, %d bytes follow", h.Length, following)
	}

	offset := HeaderLen
	if h.HasOptional() {
		if following < optionalLen {
			return h, nil, fail(FailureTooShort, "optional block truncated")
		}
		offset += optionalLen
	}

	if !acceptedType(h.Flags, h.Type) {
		return h, nil, fail(FailureUnsupportedMessageType, "type %d with flags 0x%02x", h.Type, h.Flags)
	}
	if h.Type == MsgTypeTPDU && len(b) == offset {
		return h, nil, fail(FailureEmptyPayload, "teid 0x%08x", h.TEID)
	}

	return h, b[offset:], nil
}

// PeekTEID returns the TEID field of a possibly malformed header.
func PeekTEID(b []byte) (uint32, bool) {
	if len(b) < HeaderLen {
		return 0, false
	}
	return binary.BigEndian.Uint32(b[4:8]), true
}

// ExpectedFailure is the decode class a packet encoded with mode must produce.
func ExpectedFailure(mode types.HeaderMode) FailureKind {
	switch mode {
	case types.HeaderTruncated:
		return FailureTooShort
	case types.HeaderWrongVersion:
		return FailureVersionMismatch
	case types.HeaderLengthMismatch:
		return FailureLengthMismatch
	case types.HeaderWrongMessageType:
		return FailureUnsupportedMessageType
	case types.HeaderEmptyPayload:
		return FailureEmptyPayload
	default:
		return FailureNone
	}
}

// Verify checks that b, a full GTP-U datagram built for mode, decodes to the
// failure class that mode is supposed to trigger.
func Verify(b []byte, mode types.HeaderMode) error {
	_, _, err := Decode(b)
	want := ExpectedFailure(mode)
	if got := KindOf(err); got != want {
		if err == nil {
			return fmt.Errorf("self-check for %s: decoded cleanly, want %s", mode, want)
		}
		return fmt.Errorf("self-check for %s: got %s, want %s: %w", mode, got, want, err)
	}
	return nil
}
