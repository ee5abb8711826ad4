package pcap

import (
	"fmt"
	"sort"

	"github.com/google/gopacket"
	"github.com/google/gopacket/layers"
	"github.com/google/gopacket/pcap"
	log "github.com/sirupsen/logrus"

	"gtpu-harness/internal/gtpu"
)

// Summary describes the GTP-U content of a pcap file.
type Summary struct {
	TotalPackets int
	GTPUPackets  int
	TEIDs        map[uint32]int
	Malformed    map[string]int
}

// SortedTEIDs returns the TEIDs seen, ascending.
func (s *Summary) SortedTEIDs() []uint32 {
	teids := make([]uint32, 0, len(s.TEIDs))
	for teid := range s.TEIDs {
		teids = append(teids, teid)
	}
	sort.Slice(teids, func(i, j int) bool { return teids[i] < teids[j] })
	return teids
}

// Inspect reads a pcap file and tallies GTP-U packets on port by TEID and by
// decode failure.
func Inspect(filename string, port uint16) (*Summary, error) {
	handle, err := pcap.OpenOffline(filename)
	if err != nil {
		return nil, fmt.Errorf("failed to open pcap file %s: %w", filename, err)
	}
	defer handle.Close()

	linkType := handle.LinkType()
	log.WithField("link_type", linkType.String()).Debug("PCAP link type detected")

	packetSource := gopacket.NewPacketSource(handle, linkType)
	packetSource.DecodeOptions.Lazy = true
	packetSource.DecodeOptions.NoCopy = true

	summary := &Summary{
		TEIDs:     make(map[uint32]int),
		Malformed: make(map[string]int),
	}

	for packet := range packetSource.Packets() {
		summary.TotalPackets++

		// Works for both Ethernet and Linux cooked captures
		udp, ok := packet.Layer(layers.LayerTypeUDP).(*layers.UDP)
		if !ok {
			continue
		}
		if uint16(udp.DstPort) != port && uint16(udp.SrcPort) != port {
			continue
		}
		summary.GTPUPackets++

		h, _, err := gtpu.Decode(udp.Payload)
		if err != nil {
			summary.Malformed[gtpu.KindOf(err).String()]++
			continue
		}
		summary.TEIDs[h.TEID]++
	}

	log.WithFields(log.Fields{
		"total_packets": summary.TotalPackets,
		"gtpu_packets":  summary.GTPUPackets,
		"teids":         len(summary.TEIDs),
	}).Info("PCAP inspection complete")

	return summary, nil
}
