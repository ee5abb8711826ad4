package network

import (
	"fmt"
	"net"
	"os"
	"sync"
	"time"

	"github.com/google/gopacket"
	"github.com/google/gopacket/layers"
	"github.com/google/gopacket/pcapgo"
	"golang.org/x/net/ipv4"

	"gtpu-harness/internal/packet"
)

// Sink kinds accepted by NewSink.
const (
	SinkUDP  = "udp"
	SinkRaw  = "raw"
	SinkPcap = "pcap"

	// SinkDiscard builds nothing on the wire; used for dry runs.
	SinkDiscard = "discard"
)

const pcapSnaplen = 65536

// Sink is a fire-and-forget packet transport.
type Sink interface {
	Send(p *packet.Packet) error
	Close() error
}

// SinkConfig selects and parameterizes a Sink.
type SinkConfig struct {
	Kind       string
	LocalAddr  string
	LocalPort  int
	RemoteAddr string
	RemotePort int
	PcapFile   string
}

// NewSink opens the transport described by cfg.
func NewSink(cfg SinkConfig) (Sink, error) {
	switch cfg.Kind {
	case SinkUDP, "":
		client, err := NewUDPClient(cfg.LocalAddr, cfg.LocalPort, cfg.RemoteAddr, cfg.RemotePort)
		if err != nil {
			return nil, err
		}
		return NewUDPSink(client), nil
	case SinkRaw:
		return NewRawSink(cfg.LocalAddr)
	case SinkPcap:
		return NewPcapSink(cfg.PcapFile)
	case SinkDiscard:
		return DiscardSink{}, nil
	default:
		return nil, fmt.Errorf("unknown transport %q", cfg.Kind)
	}
}

// UDPSink sends the GTP-U datagram over a regular UDP socket; the kernel
// supplies the outer IPv4 and UDP headers.
type UDPSink struct {
	client *UDPClient
}

// NewUDPSink wraps an existing client.
func NewUDPSink(client *UDPClient) *UDPSink {
	return &UDPSink{client: client}
}

func (s *UDPSink) Send(p *packet.Packet) error {
	return s.client.Send(p.Payload)
}

func (s *UDPSink) Close() error {
	return s.client.Close()
}

// RawSink writes the complete crafted IPv4 frame through a raw socket, so the
// outer addresses in the PacketSpec are honored. Requires CAP_NET_RAW.
type RawSink struct {
	conn net.PacketConn
	raw  *ipv4.RawConn
	mu   sync.Mutex
}

// NewRawSink opens an ip4:udp raw socket bound to localAddr.
func NewRawSink(localAddr string) (*RawSink, error) {
	if localAddr == "" {
		localAddr = "0.0.0.0"
	}
	conn, err := net.ListenPacket("ip4:udp", localAddr)
	if err != nil {
		return nil, fmt.Errorf("failed to open raw socket on %s: %w", localAddr, err)
	}
	raw, err := ipv4.NewRawConn(conn)
	if err != nil {
		conn.Close()
		return nil, fmt.Errorf("failed to create raw conn: %w", err)
	}
	return &RawSink{conn: conn, raw: raw}, nil
}

func (s *RawSink) Send(p *packet.Packet) error {
	h, err := ipv4.ParseHeader(p.Frame)
	if err != nil {
		return fmt.Errorf("failed to parse outer header: %w", err)
	}

	s.mu.Lock()
	defer s.mu.Unlock()
	if err := s.raw.WriteTo(h, p.Frame[h.Len:], nil); err != nil {
		return fmt.Errorf("failed to send raw frame to %s: %w", h.Dst, err)
	}
	return nil
}

func (s *RawSink) Close() error {
	return s.raw.Close()
}

// PcapSink writes frames to a pcap file instead of the network.
type PcapSink struct {
	f  *os.File
	w  *pcapgo.Writer
	mu sync.Mutex
}

// NewPcapSink creates filename and writes an IPv4 link-type pcap header to it.
func NewPcapSink(filename string) (*PcapSink, error) {
	if filename == "" {
		return nil, fmt.Errorf("pcap transport requires an output file")
	}
	f, err := os.Create(filename)
	if err != nil {
		return nil, fmt.Errorf("failed to create pcap file %s: %w", filename, err)
	}
	w := pcapgo.NewWriter(f)
	if err := w.WriteFileHeader(pcapSnaplen, layers.LinkTypeIPv4); err != nil {
		f.Close()
		return nil, fmt.Errorf("failed to write pcap header: %w", err)
	}
	return &PcapSink{f: f, w: w}, nil
}

func (s *PcapSink) Send(p *packet.Packet) error {
	ci := gopacket.CaptureInfo{
		Timestamp:     time.Now(),
		CaptureLength: len(p.Frame),
		Length:        len(p.Frame),
	}

	s.mu.Lock()
	defer s.mu.Unlock()
	if err := s.w.WritePacket(ci, p.Frame); err != nil {
		return fmt.Errorf("failed to write packet to pcap: %w", err)
	}
	return nil
}

func (s *PcapSink) Close() error {
	return s.f.Close()
}

// DiscardSink accepts and drops every packet.
type DiscardSink struct{}

func (DiscardSink) Send(*packet.Packet) error { return nil }

func (DiscardSink) Close() error { return nil }
