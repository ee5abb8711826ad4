package packet

import (
	"net"
	"testing"

	"github.com/google/gopacket"
	"github.com/google/gopacket/layers"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"gtpu-harness/internal/gtpu"
	"gtpu-harness/pkg/types"
)

func validSpec() types.PacketSpec {
	return types.PacketSpec{
		OuterSrc: net.ParseIP("192.168.56.1"),
		OuterDst: net.ParseIP("192.168.56.103"),
		TEID:     0x1e,
		InnerSrc: net.ParseIP("10.60.0.8"),
		InnerDst: net.ParseIP("8.8.8.8"),
		Seq:      3,
	}
}

func TestFillerLen_ClampsToZero(t *testing.T) {
	assert.Equal(t, 0, FillerLen(0))
	assert.Equal(t, 0, FillerLen(Overhead))
	assert.Equal(t, 0, FillerLen(Overhead-10))
	assert.Equal(t, 1, FillerLen(Overhead+1))
	assert.Equal(t, 1400-64, FillerLen(1400))
}

func TestBuild_SizeTargeting(t *testing.T) {
	for _, size := range []int{1400, 1500, 2000, 4000, 8000} {
		spec := validSpec()
		spec.TotalSize = size

		p, err := Build(spec)
		require.NoError(t, err)
		assert.Equal(t, size, p.Size(), "target %d", size)
	}
}

func TestBuild_SizeTargetingWithSequenceBlock(t *testing.T) {
	spec := validSpec()
	spec.MessageType = gtpu.MsgTypeEchoRequest
	spec.TotalSize = 1400

	p, err := Build(spec)
	require.NoError(t, err)
	assert.Equal(t, 1400, p.Size())
	require.NoError(t, gtpu.Verify(p.Payload, types.HeaderValid))
}

func TestBuild_BelowOverheadProducesMinimumPacket(t *testing.T) {
	spec := validSpec()
	spec.TotalSize = 10

	p, err := Build(spec)
	require.NoError(t, err)
	assert.Equal(t, Overhead, p.Size())
}

func TestBuild_LayersDecode(t *testing.T) {
	spec := validSpec()
	spec.InnerPayloadSize = 32

	p, err := Build(spec)
	require.NoError(t, err)

	pkt := gopacket.NewPacket(p.Frame, layers.LayerTypeIPv4, gopacket.Default)
	ip, ok := pkt.Layer(layers.LayerTypeIPv4).(*layers.IPv4)
	require.True(t, ok)
	assert.Equal(t, "192.168.56.103", ip.DstIP.String())

	udp, ok := pkt.Layer(layers.LayerTypeUDP).(*layers.UDP)
	require.True(t, ok)
	assert.Equal(t, layers.UDPPort(gtpu.Port), udp.DstPort)
	assert.Equal(t, layers.UDPPort(gtpu.Port), udp.SrcPort)

	h, inner, err := gtpu.Decode(p.Payload)
	require.NoError(t, err)
	assert.Equal(t, uint32(0x1e), h.TEID)

	innerPkt := gopacket.NewPacket(inner, layers.LayerTypeIPv4, gopacket.Default)
	innerIP, ok := innerPkt.Layer(layers.LayerTypeIPv4).(*layers.IPv4)
	require.True(t, ok)
	assert.Equal(t, "10.60.0.8", innerIP.SrcIP.String())
	icmp, ok := innerPkt.Layer(layers.LayerTypeICMPv4).(*layers.ICMPv4)
	require.True(t, ok)
	assert.Equal(t, uint16(3), icmp.Seq)
	assert.Len(t, icmp.Payload, 32)
}

func TestBuild_CorruptionModesPassSelfCheck(t *testing.T) {
	for _, mode := range append([]types.HeaderMode{types.HeaderValid}, types.AllCorruptionModes...) {
		spec := validSpec()
		spec.HeaderMode = mode

		p, err := Build(spec)
		require.NoError(t, err, mode.String())
		assert.NoError(t, gtpu.Verify(p.Payload, mode), mode.String())
	}
}

func TestBuild_HeaderOnlyModes(t *testing.T) {
	spec := validSpec()
	spec.HeaderMode = types.HeaderTruncated
	p, err := Build(spec)
	require.NoError(t, err)
	assert.Len(t, p.Payload, 4)

	spec.HeaderMode = types.HeaderEmptyPayload
	p, err = Build(spec)
	require.NoError(t, err)
	assert.Len(t, p.Payload, gtpu.HeaderLen)
}

func TestBuild_RejectsIPv6(t *testing.T) {
	spec := validSpec()
	spec.InnerSrc = net.ParseIP("2001:db8::1")
	_, err := Build(spec)
	assert.Error(t, err)
}

func TestBuild_NilOuterAddresses(t *testing.T) {
	spec := validSpec()
	spec.OuterSrc = nil
	p, err := Build(spec)
	require.NoError(t, err)
	assert.NotEmpty(t, p.Frame)
}
