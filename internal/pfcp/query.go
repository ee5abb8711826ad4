package pfcp

import (
	"errors"
	"fmt"
	"sync"
	"time"

	"github.com/wmnsk/go-pfcp/ie"
	"github.com/wmnsk/go-pfcp/message"
)

// ErrSessionNotFound is returned when the UPF answers a usage query with
// "Session context not found".
var ErrSessionNotFound = errors.New("session context not found")

// SequenceCounter hands out PFCP sequence numbers.
type SequenceCounter struct {
	current uint32
	mu      sync.Mutex
}

// Next returns the next sequence number (24-bit, wraps at 0xFFFFFF).
func (s *SequenceCounter) Next() uint32 {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.current++
	if s.current > 0xFFFFFF {
		s.current = 1
	}
	return s.current
}

// Usage is the volume measurement of one URR.
type Usage struct {
	URRID           uint32
	UplinkBytes     uint64
	DownlinkBytes   uint64
	UplinkPackets   uint64
	DownlinkPackets uint64
	HasPackets      bool
}

// NewUsageQuery builds a Session Modification Request that asks the UPF for
// an immediate usage report on urrID of the session identified by seid.
func NewUsageQuery(seid uint64, urrID uint32, seq uint32) *message.SessionModificationRequest {
	return message.NewSessionModificationRequest(0, 0, seid, seq, 0,
		ie.NewQueryURR(ie.NewURRID(urrID)),
	)
}

// NewHeartbeat builds a Heartbeat Request carrying the recovery timestamp.
func NewHeartbeat(seq uint32, recovery time.Time) *message.HeartbeatRequest {
	return message.NewHeartbeatRequest(seq, ie.NewRecoveryTimeStamp(recovery), nil)
}

// UsageFromResponse extracts the usage report for urrID from a Session
// Modification Response.
func UsageFromResponse(resp *message.SessionModificationResponse, urrID uint32) (Usage, error) {
	cause, err := ExtractCause([]*ie.IE{resp.Cause})
	if err != nil {
		return Usage{}, fmt.Errorf("%s: %w", resp.MessageTypeName(), err)
	}
	switch cause {
	case ie.CauseRequestAccepted:
	case ie.CauseSessionContextNotFound:
		return Usage{}, ErrSessionNotFound
	default:
		return Usage{}, fmt.Errorf("usage query rejected with cause %d", cause)
	}

	for _, ur := range resp.UsageReport {
		if ur == nil {
			continue
		}
		idIE, err := ur.FindByType(ie.URRID)
		if err != nil {
			return Usage{}, fmt.Errorf("usage report without URR ID: %w", err)
		}
		id, err := idIE.URRID()
		if err != nil {
			return Usage{}, fmt.Errorf("failed to parse URR ID: %w", err)
		}
		if id != urrID {
			continue
		}
		return parseVolume(ur, id)
	}
	return Usage{}, fmt.Errorf("no usage report for URR %d", urrID)
}

func parseVolume(ur *ie.IE, urrID uint32) (Usage, error) {
	vmIE, err := ur.FindByType(ie.VolumeMeasurement)
	if err != nil {
		return Usage{}, fmt.Errorf("usage report for URR %d has no volume measurement: %w", urrID, err)
	}
	vm, err := vmIE.VolumeMeasurement()
	if err != nil {
		return Usage{}, fmt.Errorf("failed to parse volume measurement: %w", err)
	}

	u := Usage{URRID: urrID}
	if vm.HasULVOL() {
		u.UplinkBytes = vm.UplinkVolume
	}
	if vm.HasDLVOL() {
		u.DownlinkBytes = vm.DownlinkVolume
	}
	if vm.HasULNOP() {
		u.UplinkPackets = vm.UplinkNumberOfPackets
		u.HasPackets = true
	}
	if vm.HasDLNOP() {
		u.DownlinkPackets = vm.DownlinkNumberOfPackets
		u.HasPackets = true
	}
	return u, nil
}
