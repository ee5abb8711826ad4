package oracle

import (
	"context"
	"net"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"github.com/wmnsk/go-pfcp/ie"
	"github.com/wmnsk/go-pfcp/message"

	"gtpu-harness/internal/config"
	"gtpu-harness/internal/pfcp"
)

// fakeN4 answers usage queries for one SEID and heartbeats.
type fakeN4 struct {
	conn    *net.UDPConn
	seid    uint64
	silent  bool
	mu      sync.Mutex
	queries int
	ul, dl  uint64
}

func startFakeN4(t *testing.T, seid uint64) *fakeN4 {
	t.Helper()
	conn, err := net.ListenUDP("udp", &net.UDPAddr{IP: net.IPv4(127, 0, 0, 1)})
	require.NoError(t, err)

	f := &fakeN4{conn: conn, seid: seid, ul: 10, dl: 4}
	t.Cleanup(func() { conn.Close() })
	go f.serve()
	return f
}

func (f *fakeN4) port() int {
	return f.conn.LocalAddr().(*net.UDPAddr).Port
}

func (f *fakeN4) serve() {
	buf := make([]byte, 65535)
	for {
		n, addr, err := f.conn.ReadFromUDP(buf)
		if err != nil {
			return
		}
		msg, err := message.Parse(buf[:n])
		if err != nil {
			continue
		}

		f.mu.Lock()
		silent := f.silent
		var resp message.Message
		switch req := msg.(type) {
		case *message.HeartbeatRequest:
			resp = message.NewHeartbeatResponse(req.Sequence(), ie.NewRecoveryTimeStamp(time.Now()))
		case *message.SessionModificationRequest:
			f.queries++
			if req.SEID() != f.seid {
				resp = message.NewSessionModificationResponse(0, 0, 0, req.Sequence(), 0,
					ie.NewCause(ie.CauseSessionContextNotFound))
				break
			}
			resp = message.NewSessionModificationResponse(0, 0, req.SEID(), req.Sequence(), 0,
				ie.NewCause(ie.CauseRequestAccepted),
				ie.NewUsageReportWithinSessionModificationResponse(
					ie.NewURRID(1),
					ie.NewVolumeMeasurement(0x3f, (f.ul+f.dl)*100, f.ul*100, f.dl*100, f.ul+f.dl, f.ul, f.dl),
				),
			)
			f.ul += 5
		}
		f.mu.Unlock()

		if resp == nil || silent {
			continue
		}
		data, err := pfcp.Encode(resp)
		if err != nil {
			continue
		}
		f.conn.WriteToUDP(data, addr)
	}
}

func newPFCPOracle(t *testing.T, f *fakeN4, timeout time.Duration) *PFCPOracle {
	t.Helper()
	o, err := NewPFCPOracle(context.Background(), config.PFCPOracleConfig{
		Address:      "127.0.0.1",
		Port:         f.port(),
		LocalAddress: "127.0.0.1",
		Sessions: []config.PFCPSessionConfig{
			{UEAddress: "10.60.0.1", SEID: 0x10, URRID: 1, TEIDUplink: 0x1e, TEIDDownlink: 0x1f},
			{UEAddress: "10.60.0.2", SEID: 0x20, URRID: 1},
		},
	}, timeout)
	require.NoError(t, err)
	t.Cleanup(func() { o.Close() })
	return o
}

func TestPFCPOracle_SnapshotAndDelta(t *testing.T) {
	f := startFakeN4(t, 0x10)
	o := newPFCPOracle(t, f, time.Second)
	ue := net.ParseIP("10.60.0.1")

	before, err := o.Snapshot(context.Background(), ue)
	require.NoError(t, err)
	assert.Equal(t, uint64(10), before.PacketsUplink)
	assert.Equal(t, uint64(4), before.PacketsDownlink)
	assert.Equal(t, uint32(0x1e), before.TEIDUplink)
	assert.Equal(t, "0x10", before.SessionID)

	after, err := o.Snapshot(context.Background(), ue)
	require.NoError(t, err)

	d, err := Delta(before, after)
	require.NoError(t, err)
	assert.Equal(t, int64(5), d.UplinkPackets)
	assert.Equal(t, int64(0), d.DownlinkPackets)
}

func TestPFCPOracle_UnconfiguredUE(t *testing.T) {
	f := startFakeN4(t, 0x10)
	o := newPFCPOracle(t, f, time.Second)

	_, err := o.Snapshot(context.Background(), net.ParseIP("10.60.0.77"))
	assert.ErrorIs(t, err, ErrNotFound)
}

func TestPFCPOracle_SessionContextNotFound(t *testing.T) {
	f := startFakeN4(t, 0x10)
	o := newPFCPOracle(t, f, time.Second)

	_, err := o.Snapshot(context.Background(), net.ParseIP("10.60.0.2"))
	assert.ErrorIs(t, err, ErrNotFound)
}

func TestPFCPOracle_List(t *testing.T) {
	f := startFakeN4(t, 0x10)
	o := newPFCPOracle(t, f, time.Second)

	sessions, err := o.List(context.Background())
	require.NoError(t, err)
	require.Len(t, sessions, 1)
	assert.Equal(t, "10.60.0.1", sessions[0].UEAddr.String())
}

func TestPFCPOracle_Ping(t *testing.T) {
	f := startFakeN4(t, 0x10)
	o := newPFCPOracle(t, f, time.Second)

	assert.NoError(t, o.Ping(context.Background()))
}

func TestPFCPOracle_TimeoutIsUnreachable(t *testing.T) {
	f := startFakeN4(t, 0x10)
	f.mu.Lock()
	f.silent = true
	f.mu.Unlock()
	o := newPFCPOracle(t, f, 100*time.Millisecond)

	_, err := o.Snapshot(context.Background(), net.ParseIP("10.60.0.1"))
	assert.ErrorIs(t, err, ErrUnreachable)

	// No retransmission with max_retries 0.
	f.mu.Lock()
	defer f.mu.Unlock()
	assert.Equal(t, 1, f.queries)
}
