package pfcp

import (
	"fmt"

	"github.com/wmnsk/go-pfcp/ie"
	"github.com/wmnsk/go-pfcp/message"
)

// Decode parses raw bytes into a PFCP message.
func Decode(data []byte) (message.Message, error) {
	msg, err := message.Parse(data)
	if err != nil {
		return nil, fmt.Errorf("failed to parse PFCP message: %w", err)
	}
	return msg, nil
}

// MessageTypeName returns a human-readable name for the PFCP message types
// the usage oracle exchanges.
func MessageTypeName(msgType uint8) string {
	switch msgType {
	case message.MsgTypeHeartbeatRequest:
		return "HeartbeatRequest"
	case message.MsgTypeHeartbeatResponse:
		return "HeartbeatResponse"
	case message.MsgTypeSessionModificationRequest:
		return "SessionModificationRequest"
	case message.MsgTypeSessionModificationResponse:
		return "SessionModificationResponse"
	case message.MsgTypeSessionReportRequest:
		return "SessionReportRequest"
	default:
		return fmt.Sprintf("Unknown(%d)", msgType)
	}
}

// ExtractCause returns the value of the first Cause IE in ies.
func ExtractCause(ies []*ie.IE) (uint8, error) {
	for _, i := range ies {
		if i == nil || i.Type != ie.Cause {
			continue
		}
		cause, err := i.Cause()
		if err != nil {
			return 0, err
		}
		return cause, nil
	}
	return 0, fmt.Errorf("no Cause IE found")
}
