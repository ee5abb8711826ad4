// Package packet builds complete synthetic GTP-U packets from a PacketSpec.
package packet

import (
	"bytes"
	"fmt"
	"net"

	"github.com/google/gopacket"
	"github.com/google/gopacket/layers"

	"gtpu-harness/internal/gtpu"
	"gtpu-harness/pkg/types"
)

// Fixed header sizes of the packets this factory produces.
const (
	IPv4HeaderLen = 20
	UDPHeaderLen  = 8
	ICMPHeaderLen = 8

	// Overhead is everything in a full packet except the filler:
	// outer IPv4 + UDP + GTP-U + inner IPv4 + ICMP.
	Overhead = IPv4HeaderLen + UDPHeaderLen + gtpu.HeaderLen + IPv4HeaderLen + ICMPHeaderLen
)

const (
	defaultTTL    = 64
	echoID        = 0x4754 // "GT"
	fillerByte    = 'X'
	unspecifiedV4 = "0.0.0.0"
)

// Packet is a materialized PacketSpec.
type Packet struct {
	Spec types.PacketSpec

	// Frame is the complete outer IPv4 datagram.
	Frame []byte

	// Payload is the outer UDP payload: GTP-U header plus inner packet.
	Payload []byte
}

// Size returns the total on-wire IPv4 size of the packet.
func (p *Packet) Size() int {
	return len(p.Frame)
}

// FillerLen returns the filler size needed for a packet of exactly total bytes,
// or zero if total is below the fixed overhead.
func FillerLen(total int) int {
	if total <= Overhead {
		return 0
	}
	return total - Overhead
}

// Build materializes spec. It has no side effects.
func Build(spec types.PacketSpec) (*Packet, error) {
	if spec.TotalSize > 0 {
		spec.InnerPayloadSize = FillerLen(spec.TotalSize)
		if carriesInner(spec.HeaderMode) {
			extra := gtpu.EncodedLen(spec.MessageType, spec.HeaderMode) - gtpu.HeaderLen
			spec.InnerPayloadSize = max(spec.InnerPayloadSize-extra, 0)
		}
	}
	if spec.InnerPayloadSize < 0 {
		return nil, fmt.Errorf("negative inner payload size %d", spec.InnerPayloadSize)
	}
	if spec.Port == 0 {
		spec.Port = gtpu.Port
	}

	var inner []byte
	if carriesInner(spec.HeaderMode) {
		var err error
		inner, err = buildInner(spec)
		if err != nil {
			return nil, err
		}
	}

	hdr := gtpu.Encode(spec.TEID, spec.MessageType, len(inner), spec.HeaderMode)
	payload := make([]byte, 0, len(hdr)+len(inner))
	payload = append(payload, hdr...)
	payload = append(payload, inner...)

	frame, err := buildOuter(spec, payload)
	if err != nil {
		return nil, err
	}

	return &Packet{Spec: spec, Frame: frame, Payload: payload}, nil
}

// carriesInner reports whether an inner packet follows the header for mode.
func carriesInner(mode types.HeaderMode) bool {
	return mode != types.HeaderTruncated && mode != types.HeaderEmptyPayload
}

func buildInner(spec types.PacketSpec) ([]byte, error) {
	src, dst, err := ipv4Pair(spec.InnerSrc, spec.InnerDst)
	if err != nil {
		return nil, fmt.Errorf("inner header: %w", err)
	}

	ip := &layers.IPv4{
		Version:  4,
		TTL:      defaultTTL,
		Protocol: layers.IPProtocolICMPv4,
		SrcIP:    src,
		DstIP:    dst,
	}
	icmp := &layers.ICMPv4{
		TypeCode: layers.CreateICMPv4TypeCode(layers.ICMPv4TypeEchoRequest, 0),
		Id:       echoID,
		Seq:      spec.Seq,
	}
	filler := gopacket.Payload(bytes.Repeat([]byte{fillerByte}, spec.InnerPayloadSize))

	buf := gopacket.NewSerializeBuffer()
	opts := gopacket.SerializeOptions{FixLengths: true, ComputeChecksums: true}
	if err := gopacket.SerializeLayers(buf, opts, ip, icmp, filler); err != nil {
		return nil, fmt.Errorf("failed to serialize inner packet: %w", err)
	}
	return buf.Bytes(), nil
}

func buildOuter(spec types.PacketSpec, payload []byte) ([]byte, error) {
	src, dst, err := ipv4Pair(spec.OuterSrc, spec.OuterDst)
	if err != nil {
		return nil, fmt.Errorf("outer header: %w", err)
	}

	ip := &layers.IPv4{
		Version:  4,
		TTL:      defaultTTL,
		Protocol: layers.IPProtocolUDP,
		SrcIP:    src,
		DstIP:    dst,
	}
	udp := &layers.UDP{
		SrcPort: layers.UDPPort(spec.Port),
		DstPort: layers.UDPPort(spec.Port),
	}
	if err := udp.SetNetworkLayerForChecksum(ip); err != nil {
		return nil, fmt.Errorf("failed to set checksum layer: %w", err)
	}

	buf := gopacket.NewSerializeBuffer()
	opts := gopacket.SerializeOptions{FixLengths: true, ComputeChecksums: true}
	if err := gopacket.SerializeLayers(buf, opts, ip, udp, gopacket.Payload(payload)); err != nil {
		return nil, fmt.Errorf("failed to serialize outer packet: %w", err)
	}
	return buf.Bytes(), nil
}

// ipv4Pair normalizes src and dst to 4-byte form. A nil address becomes 0.0.0.0.
func ipv4Pair(src, dst net.IP) (net.IP, net.IP, error) {
	s, err := toV4(src)
	if err != nil {
		return nil, nil, err
	}
	d, err := toV4(dst)
	if err != nil {
		return nil, nil, err
	}
	return s, d, nil
}

func toV4(ip net.IP) (net.IP, error) {
	if ip == nil {
		return net.ParseIP(unspecifiedV4).To4(), nil
	}
	v4 := ip.To4()
	if v4 == nil {
		return nil, fmt.Errorf("only IPv4 addresses are supported, got %s", ip)
	}
	return v4, nil
}
