// Package pcap provides the capture sources the observer reads from: a live
// libpcap handle and offline replay of a pcap file.
package pcap

import (
	"errors"
	"fmt"
	"io"
	"net"
	"os"
	"sync"
	"time"

	"github.com/google/gopacket"
	"github.com/google/gopacket/pcap"
	"github.com/google/gopacket/pcapgo"
	log "github.com/sirupsen/logrus"
)

const liveReadTimeout = 100 * time.Millisecond

// Source is a running capture.
type Source struct {
	packets <-chan gopacket.Packet
	close   func()
	once    sync.Once
}

// Packets returns the captured packets in arrival order.
func (s *Source) Packets() <-chan gopacket.Packet {
	return s.packets
}

// Close releases the capture handle. It is safe to call more than once.
func (s *Source) Close() {
	s.once.Do(s.close)
}

// BPFFilter returns the kernel filter for downlink GTP-U from srcAddr.
func BPFFilter(srcAddr net.IP, dstPort uint16) string {
	filter := fmt.Sprintf("udp and dst port %d", dstPort)
	if srcAddr != nil {
		filter += fmt.Sprintf(" and src host %s", srcAddr)
	}
	return filter
}

// OpenLive starts capturing on iface with a BPF filter for srcAddr/dstPort.
func OpenLive(iface string, snaplen int, promisc bool, srcAddr net.IP, dstPort uint16) (*Source, error) {
	handle, err := makeHandle(iface, snaplen, promisc)
	if err != nil {
		return nil, fmt.Errorf("failed to open %s: %w", iface, err)
	}

	filter := BPFFilter(srcAddr, dstPort)
	if err := handle.SetBPFFilter(filter); err != nil {
		handle.Close()
		return nil, fmt.Errorf("failed to set BPF filter %q: %w", filter, err)
	}

	log.WithFields(log.Fields{
		"iface":     iface,
		"filter":    filter,
		"link_type": handle.LinkType().String(),
	}).Debug("Live capture started")

	packetSource := gopacket.NewPacketSource(handle, handle.LinkType())
	return &Source{packets: packetSource.Packets(), close: handle.Close}, nil
}

func makeHandle(iface string, snaplen int, promisc bool) (*pcap.Handle, error) {
	inactive, err := pcap.NewInactiveHandle(iface)
	if err != nil {
		return nil, fmt.Errorf("could not create: %w", err)
	}
	defer inactive.CleanUp()

	if err := inactive.SetSnapLen(snaplen); err != nil {
		return nil, fmt.Errorf("could not set snap length: %w", err)
	}
	if err := inactive.SetPromisc(promisc); err != nil {
		return nil, fmt.Errorf("could not set promisc mode: %w", err)
	}
	if err := inactive.SetTimeout(liveReadTimeout); err != nil {
		return nil, fmt.Errorf("could not set timeout: %w", err)
	}
	if err := inactive.SetImmediateMode(true); err != nil {
		return nil, fmt.Errorf("could not set immediate mode: %w", err)
	}
	return inactive.Activate()
}

// OpenFile replays a pcap file as if it were being captured. The channel is
// closed at end of file.
func OpenFile(filename string) (*Source, error) {
	f, err := os.Open(filename)
	if err != nil {
		return nil, fmt.Errorf("failed to open pcap file %s: %w", filename, err)
	}
	r, err := pcapgo.NewReader(f)
	if err != nil {
		f.Close()
		return nil, fmt.Errorf("failed to read pcap header of %s: %w", filename, err)
	}

	packets := make(chan gopacket.Packet, 64)
	done := make(chan struct{})
	finished := make(chan struct{})

	go func() {
		defer close(finished)
		defer close(packets)
		replay(r, packets, done)
	}()

	return &Source{
		packets: packets,
		close: func() {
			close(done)
			<-finished
			f.Close()
		},
	}, nil
}

func replay(r *pcapgo.Reader, packets chan<- gopacket.Packet, done <-chan struct{}) {
	linkType := r.LinkType()
	count := 0
	for {
		data, ci, err := r.ReadPacketData()
		if err != nil {
			if !errors.Is(err, io.EOF) {
				log.WithError(err).WithField("packets", count).Warn("PCAP replay stopped early")
			}
			return
		}

		p := gopacket.NewPacket(data, linkType, gopacket.Default)
		p.Metadata().CaptureInfo = ci
		count++

		select {
		case packets <- p:
		case <-done:
			return
		}
	}
}
