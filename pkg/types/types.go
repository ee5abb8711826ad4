package types

import (
	"fmt"
	"net"
	"strings"
	"time"
)

// HeaderMode selects how the GTP-U header of a synthetic packet is encoded.
// Every mode other than HeaderValid breaks exactly one structural rule.
type HeaderMode int

const (
	HeaderValid HeaderMode = iota
	HeaderTruncated
	HeaderWrongVersion
	HeaderLengthMismatch
	HeaderWrongMessageType
	HeaderEmptyPayload
)

var headerModeNames = map[HeaderMode]string{
	HeaderValid:            "valid",
	HeaderTruncated:        "truncated",
	HeaderWrongVersion:     "wrong_version",
	HeaderLengthMismatch:   "length_mismatch",
	HeaderWrongMessageType: "wrong_message_type",
	HeaderEmptyPayload:     "empty_payload",
}

// AllCorruptionModes lists every mode that produces a malformed header.
var AllCorruptionModes = []HeaderMode{
	HeaderTruncated,
	HeaderWrongVersion,
	HeaderLengthMismatch,
	HeaderWrongMessageType,
	HeaderEmptyPayload,
}

func (m HeaderMode) String() string {
	if name, ok := headerModeNames[m]; ok {
		return name
	}
	return fmt.Sprintf("HeaderMode(%d)", int(m))
}

// ParseHeaderMode converts a configuration string into a HeaderMode.
func ParseHeaderMode(s string) (HeaderMode, error) {
	s = strings.ToLower(strings.TrimSpace(s))
	if s == "" {
		return HeaderValid, nil
	}
	for mode, name := range headerModeNames {
		if name == s {
			return mode, nil
		}
	}
	return HeaderValid, fmt.Errorf("unknown header mode %q", s)
}

// PacketSpec declares a single synthetic packet. One instance per packet sent.
type PacketSpec struct {
	OuterSrc         net.IP
	OuterDst         net.IP
	Port             uint16
	TEID             uint32
	HeaderMode       HeaderMode
	InnerSrc         net.IP
	InnerDst         net.IP
	InnerPayloadSize int
	MessageType      uint8
	TotalSize        int    // when > 0, InnerPayloadSize is derived from it
	Seq              uint16 // inner ICMP echo sequence number
}

// CapturedEvent is a downlink packet observed from the endpoint.
type CapturedEvent struct {
	TEID       uint32
	SrcAddr    net.IP
	DstAddr    net.IP
	ObservedAt time.Time
	Length     int
	Malformed  bool
	Failure    string // decode failure class when Malformed
}

// SessionSnapshot is a point-in-time read of the endpoint's session counters.
type SessionSnapshot struct {
	SessionID       string
	UEAddr          net.IP
	TEIDUplink      uint32
	TEIDDownlink    uint32
	GNBAddr         net.IP
	PacketsUplink   uint64
	PacketsDownlink uint64
	BytesUplink     uint64
	BytesDownlink   uint64
}

// SnapshotDelta holds counter differences between two snapshots of one session.
// Values are signed because counters may reset between reads.
type SnapshotDelta struct {
	UplinkPackets   int64
	DownlinkPackets int64
	UplinkBytes     int64
	DownlinkBytes   int64
}

// Expectation is what a scenario asserts about the endpoint's behavior.
type Expectation int

const (
	ExpectNoForwarding Expectation = iota
	ExpectForwarded
	ExpectInconclusiveAllowed
)

func (e Expectation) String() string {
	switch e {
	case ExpectNoForwarding:
		return "no_forwarding"
	case ExpectForwarded:
		return "forwarded"
	case ExpectInconclusiveAllowed:
		return "inconclusive_allowed"
	default:
		return fmt.Sprintf("Expectation(%d)", int(e))
	}
}

// ParseExpectation converts a configuration string into an Expectation.
func ParseExpectation(s string) (Expectation, error) {
	switch strings.ToLower(strings.TrimSpace(s)) {
	case "no_forwarding", "drop", "":
		return ExpectNoForwarding, nil
	case "forwarded", "forward":
		return ExpectForwarded, nil
	case "inconclusive_allowed", "inconclusive":
		return ExpectInconclusiveAllowed, nil
	default:
		return ExpectNoForwarding, fmt.Errorf("unknown expectation %q", s)
	}
}

// Verdict is the outcome of one scenario run.
type Verdict int

const (
	VerdictInconclusive Verdict = iota
	VerdictPass
	VerdictFail
)

func (v Verdict) String() string {
	switch v {
	case VerdictPass:
		return "PASS"
	case VerdictFail:
		return "FAIL"
	default:
		return "INCONCLUSIVE"
	}
}

// SentPacket records one transmission attempt.
type SentPacket struct {
	Index int
	TEID  uint32
	Mode  HeaderMode
	Size  int
	Error string
}

// ScenarioResult is built once per scenario run and not modified afterwards.
type ScenarioResult struct {
	Name           string
	Expectation    Expectation
	SentCount      int
	Sent           []SentPacket
	UplinkDelta    int64
	DownlinkDelta  int64
	DeltaKnown     bool
	CapturedEvents []CapturedEvent
	Verdict        Verdict
	Reasons        []string
	StartedAt      time.Time
	Duration       time.Duration
}
