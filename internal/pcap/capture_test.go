package pcap

import (
	"net"
	"path/filepath"
	"testing"
	"time"

	"github.com/google/gopacket/layers"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"gtpu-harness/internal/gtpu"
	"gtpu-harness/internal/network"
	"gtpu-harness/internal/packet"
	"gtpu-harness/pkg/types"
)

func writeCapture(t *testing.T, specs ...types.PacketSpec) string {
	t.Helper()
	path := filepath.Join(t.TempDir(), "capture.pcap")
	sink, err := network.NewPcapSink(path)
	require.NoError(t, err)
	for _, spec := range specs {
		p, err := packet.Build(spec)
		require.NoError(t, err)
		require.NoError(t, sink.Send(p))
	}
	require.NoError(t, sink.Close())
	return path
}

func gtpuSpec(teid uint32, mode types.HeaderMode) types.PacketSpec {
	return types.PacketSpec{
		OuterSrc:   net.ParseIP("192.168.56.103"),
		OuterDst:   net.ParseIP("192.168.56.1"),
		TEID:       teid,
		HeaderMode: mode,
		InnerSrc:   net.ParseIP("8.8.8.8"),
		InnerDst:   net.ParseIP("10.60.0.1"),
	}
}

func TestBPFFilter(t *testing.T) {
	assert.Equal(t, "udp and dst port 2152 and src host 192.168.56.103",
		BPFFilter(net.ParseIP("192.168.56.103"), gtpu.Port))
	assert.Equal(t, "udp and dst port 2152", BPFFilter(nil, gtpu.Port))
}

func TestOpenFile_ReplaysInOrder(t *testing.T) {
	path := writeCapture(t,
		gtpuSpec(1, types.HeaderValid),
		gtpuSpec(2, types.HeaderValid),
		gtpuSpec(3, types.HeaderTruncated),
	)

	src, err := OpenFile(path)
	require.NoError(t, err)
	defer src.Close()

	var teids []uint32
	for p := range src.Packets() {
		udp, ok := p.Layer(layers.LayerTypeUDP).(*layers.UDP)
		require.True(t, ok)
		teid, _ := gtpu.PeekTEID(udp.Payload)
		teids = append(teids, teid)
		assert.False(t, p.Metadata().Timestamp.IsZero())
	}
	assert.Equal(t, []uint32{1, 2, 0}, teids)
}

func TestOpenFile_CloseBeforeEOF(t *testing.T) {
	specs := make([]types.PacketSpec, 200)
	for i := range specs {
		specs[i] = gtpuSpec(uint32(i), types.HeaderValid)
	}
	src, err := OpenFile(writeCapture(t, specs...))
	require.NoError(t, err)

	<-src.Packets()
	done := make(chan struct{})
	go func() {
		src.Close()
		src.Close()
		close(done)
	}()

	select {
	case <-done:
	case <-time.After(time.Second):
		t.Fatal("Close did not return")
	}
}

func TestOpenFile_Missing(t *testing.T) {
	_, err := OpenFile(filepath.Join(t.TempDir(), "nope.pcap"))
	assert.Error(t, err)
}

func TestInspect_CountsTEIDsAndFailures(t *testing.T) {
	path := writeCapture(t,
		gtpuSpec(0x1e, types.HeaderValid),
		gtpuSpec(0x1e, types.HeaderValid),
		gtpuSpec(0xDEADBEEF, types.HeaderValid),
		gtpuSpec(0x1e, types.HeaderWrongVersion),
		gtpuSpec(0x1e, types.HeaderEmptyPayload),
	)

	summary, err := Inspect(path, gtpu.Port)
	require.NoError(t, err)

	assert.Equal(t, 5, summary.TotalPackets)
	assert.Equal(t, 5, summary.GTPUPackets)
	assert.Equal(t, map[uint32]int{0x1e: 2, 0xDEADBEEF: 1}, summary.TEIDs)
	assert.Equal(t, []uint32{0x1e, 0xDEADBEEF}, summary.SortedTEIDs())
	assert.Equal(t, 1, summary.Malformed[gtpu.FailureVersionMismatch.String()])
	assert.Equal(t, 1, summary.Malformed[gtpu.FailureEmptyPayload.String()])
}

func TestInspect_OtherPortIgnored(t *testing.T) {
	spec := gtpuSpec(1, types.HeaderValid)
	spec.Port = 4000
	summary, err := Inspect(writeCapture(t, spec), gtpu.Port)
	require.NoError(t, err)
	assert.Equal(t, 1, summary.TotalPackets)
	assert.Zero(t, summary.GTPUPackets)
}
