package scenario

import (
	"context"
	"net"
	"sync"
	"testing"
	"time"

	"github.com/google/gopacket"
	"github.com/google/gopacket/layers"

	"gtpu-harness/internal/config"
	"gtpu-harness/internal/gtpu"
	"gtpu-harness/internal/observer"
	"gtpu-harness/internal/oracle"
	"gtpu-harness/internal/packet"
	"gtpu-harness/pkg/types"
)

var (
	upfAddr = net.ParseIP("192.168.56.103").To4()
	gnbAddr = net.ParseIP("192.168.56.1").To4()
	ueAddr  = net.ParseIP("10.60.0.8").To4()
)

const (
	sessionTEID  uint32 = 0x1e
	downlinkTEID uint32 = 0x1f
)

// fakeUPF is a Sink, an observer.Opener and an oracle at once. It counts
// uplink packets that match its one session and, when forwarding, answers
// each with a downlink packet on the current capture source.
type fakeUPF struct {
	mu sync.Mutex

	// forward answers matching packets with downlink traffic.
	forward bool
	// leaky counts every packet regardless of TEID or inner source.
	leaky bool

	sendErr error

	ul, dl uint64
	src    *observer.ChanSource
	sent   []*packet.Packet
}

func (u *fakeUPF) Send(p *packet.Packet) error {
	u.mu.Lock()
	defer u.mu.Unlock()

	if u.sendErr != nil {
		return u.sendErr
	}
	u.sent = append(u.sent, p)

	h, inner, err := gtpu.Decode(p.Payload)
	if !u.leaky {
		if err != nil || h.TEID != sessionTEID {
			return nil
		}
		innerPkt := gopacket.NewPacket(inner, layers.LayerTypeIPv4, gopacket.Default)
		ip, ok := innerPkt.Layer(layers.LayerTypeIPv4).(*layers.IPv4)
		if !ok || !ip.SrcIP.Equal(ueAddr) {
			return nil
		}
	}
	u.ul++

	if u.forward && u.src != nil {
		reply, err := packet.Build(types.PacketSpec{
			OuterSrc: upfAddr,
			OuterDst: gnbAddr,
			TEID:     downlinkTEID,
			InnerSrc: net.ParseIP("8.8.8.8"),
			InnerDst: ueAddr,
		})
		if err != nil {
			return err
		}
		u.dl++
		u.src.Push(gopacket.NewPacket(reply.Frame, layers.LayerTypeIPv4, gopacket.Default))
	}
	return nil
}

func (u *fakeUPF) Close() error { return nil }

func (u *fakeUPF) Open(_ context.Context, _ observer.Filter) (observer.Source, error) {
	u.mu.Lock()
	defer u.mu.Unlock()
	u.src = observer.NewChanSource(64)
	return u.src, nil
}

func (u *fakeUPF) snapshot() types.SessionSnapshot {
	return types.SessionSnapshot{
		SessionID:       "1",
		UEAddr:          ueAddr,
		TEIDUplink:      sessionTEID,
		TEIDDownlink:    downlinkTEID,
		GNBAddr:         gnbAddr,
		PacketsUplink:   u.ul,
		PacketsDownlink: u.dl,
	}
}

func (u *fakeUPF) Snapshot(_ context.Context, ue net.IP) (types.SessionSnapshot, error) {
	u.mu.Lock()
	defer u.mu.Unlock()
	if !ue.Equal(ueAddr) {
		return types.SessionSnapshot{}, oracle.ErrNotFound
	}
	return u.snapshot(), nil
}

func (u *fakeUPF) List(_ context.Context) ([]types.SessionSnapshot, error) {
	u.mu.Lock()
	defer u.mu.Unlock()
	return []types.SessionSnapshot{u.snapshot()}, nil
}

func (u *fakeUPF) Ping(_ context.Context) error { return nil }

func testConfig() *config.Config {
	return &config.Config{
		UPF:   config.UPFConfig{Address: upfAddr.String(), Port: gtpu.Port},
		Local: config.LocalConfig{Address: gnbAddr.String(), Port: gtpu.Port},
		Session: config.SessionConfig{
			InvalidTEID:      0xDEADBEEF,
			TEIDStrategy:     "sequential",
			TEIDStart:        0xDEADBEEF,
			UEPool:           "10.60.0.0/24",
			WrongUEAddresses: []string{"10.60.0.200", "10.99.99.99", "192.168.1.100"},
			InnerDst:         "8.8.8.8",
		},
		Timing: config.TimingConfig{PacketIntervalMs: 1, ObserveTimeoutMs: 100},
		Scenarios: config.ScenariosConfig{
			Sizes: []int{1400, 1500, 2000, 4000, 8000},
			Count: 5,
		},
	}
}

func testOptions() Options {
	return Options{UPFAddr: upfAddr, Port: gtpu.Port, ObserveTimeout: 100 * time.Millisecond}
}

func scenarioNamed(t *testing.T, upf *fakeUPF, name string) Scenario {
	t.Helper()
	sess, err := ResolveSession(context.Background(), testConfig().Session, upf)
	if err != nil {
		t.Fatalf("resolve session: %v", err)
	}
	cat, err := NewCatalog(testConfig(), sess)
	if err != nil {
		t.Fatalf("catalog: %v", err)
	}
	picked, err := cat.Select([]string{name})
	if err != nil || len(picked) != 1 {
		t.Fatalf("select %s: %v", name, err)
	}
	return picked[0]
}
