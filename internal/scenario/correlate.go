package scenario

import (
	"fmt"

	"gtpu-harness/pkg/types"
)

// Evidence is everything a scenario observed. Delta is nil when the session
// counters could not be read.
type Evidence struct {
	Expect    types.Expectation
	SentCount int
	Packets   []types.SentPacket
	Delta     *types.SnapshotDelta
	Events    []types.CapturedEvent
}

// Correlate derives the verdict for one scenario run. The returned reasons
// explain every non-Pass outcome and every malformed downlink packet.
func Correlate(ev Evidence) (types.Verdict, []string) {
	var reasons []string
	for _, e := range ev.Events {
		if e.Malformed {
			reasons = append(reasons, fmt.Sprintf("malformed downlink from %s (TEID 0x%08x): %s", e.SrcAddr, e.TEID, e.Failure))
		}
	}

	if ev.Expect == types.ExpectInconclusiveAllowed {
		for _, p := range ev.Packets {
			if p.Error != "" {
				reasons = append(reasons, fmt.Sprintf("packet %d: %d bytes, not sent", p.Index, p.Size))
				continue
			}
			reasons = append(reasons, fmt.Sprintf("packet %d: %d bytes", p.Index, p.Size))
		}
		return types.VerdictInconclusive, reasons
	}

	if ev.SentCount == 0 {
		return types.VerdictInconclusive, append(reasons, "no packets sent")
	}

	switch ev.Expect {
	case types.ExpectNoForwarding:
		if ev.Delta == nil {
			if len(ev.Events) == 0 {
				return types.VerdictPass, reasons
			}
			return types.VerdictInconclusive, append(reasons,
				fmt.Sprintf("session counters unavailable and %d downlink packets observed", len(ev.Events)))
		}
		if ev.Delta.UplinkPackets > 0 {
			return types.VerdictFail, append(reasons,
				fmt.Sprintf("unexpected forwarding: uplink counter advanced by %d", ev.Delta.UplinkPackets))
		}
		return types.VerdictPass, reasons

	case types.ExpectForwarded:
		if ev.Delta == nil {
			return types.VerdictInconclusive, append(reasons, "session counters unavailable")
		}
		if ev.Delta.UplinkPackets < int64(ev.SentCount) {
			return types.VerdictFail, append(reasons,
				fmt.Sprintf("uplink under-count: %d of %d packets counted", ev.Delta.UplinkPackets, ev.SentCount))
		}
		if len(ev.Events) == 0 && ev.Delta.DownlinkPackets == 0 {
			return types.VerdictFail, append(reasons, "no downlink observed")
		}
		return types.VerdictPass, reasons
	}

	return types.VerdictInconclusive, append(reasons, fmt.Sprintf("unknown expectation %s", ev.Expect))
}
