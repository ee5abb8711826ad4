// Mock UPF for end-to-end runs of the GTP-U harness.
// Serves GTP-U on N3, answers PFCP usage queries on N4, and exposes its
// sessions over HTTP the way the harness's session oracle expects.
// Packets for a known TEID whose inner source is the session's UE address are
// counted; ICMP echo requests are answered with a downlink G-PDU. Everything
// else is dropped.
//
// Usage:
//
//	go run test/mockupf/main.go [--n3 127.0.0.1:2152] [--n4 127.0.0.1:8805] [--api 127.0.0.1:9090]
package main

import (
	"encoding/json"
	"errors"
	"flag"
	"fmt"
	"log"
	"net"
	"net/http"
	"os"
	"os/signal"
	"sync"
	"syscall"
	"time"

	"github.com/google/gopacket"
	"github.com/google/gopacket/layers"
	gtpmsg "github.com/wmnsk/go-gtp/gtpv1/message"
	"github.com/wmnsk/go-pfcp/ie"
	"github.com/wmnsk/go-pfcp/message"

	"gtpu-harness/internal/gtpu"
	"gtpu-harness/internal/pfcp"
)

type session struct {
	seid         uint64
	ue           net.IP
	teidUplink   uint32
	teidDownlink uint32
	gnb          net.IP

	packetsUL, packetsDL uint64
	bytesUL, bytesDL     uint64
}

type mockUPF struct {
	n3, n4     *net.UDPConn
	recoveryTS time.Time

	mu       sync.Mutex
	sessions map[uint32]*session // uplink TEID → session
	bySEID   map[uint64]*session

	stats struct {
		received  int
		dropped   int
		malformed int
		replied   int
		queries   int
	}
}

func newMockUPF(count int, firstTEID uint32) *mockUPF {
	u := &mockUPF{
		recoveryTS: time.Now(),
		sessions:   make(map[uint32]*session),
		bySEID:     make(map[uint64]*session),
	}
	for i := 0; i < count; i++ {
		s := &session{
			seid:         uint64(i + 1),
			ue:           net.IPv4(10, 60, 0, byte(i+1)).To4(),
			teidUplink:   firstTEID + uint32(2*i),
			teidDownlink: firstTEID + uint32(2*i) + 1,
		}
		u.sessions[s.teidUplink] = s
		u.bySEID[s.seid] = s
	}
	return u
}

func (u *mockUPF) serveN3() error {
	buf := make([]byte, 65535)
	for {
		n, remoteAddr, err := u.n3.ReadFromUDP(buf)
		if err != nil {
			if errors.Is(err, net.ErrClosed) {
				return nil
			}
			log.Printf("N3 read error: %v", err)
			continue
		}

		reply, err := u.handleUplink(buf[:n], remoteAddr)
		if err != nil {
			log.Printf("N3 drop from %s: %v", remoteAddr, err)
			continue
		}
		if reply == nil {
			continue
		}
		if _, err := u.n3.WriteToUDP(reply, &net.UDPAddr{IP: remoteAddr.IP, Port: gtpu.Port}); err != nil {
			log.Printf("N3 write error: %v", err)
			continue
		}
		u.mu.Lock()
		u.stats.replied++
		u.mu.Unlock()
	}
}

func (u *mockUPF) handleUplink(data []byte, from *net.UDPAddr) ([]byte, error) {
	u.mu.Lock()
	defer u.mu.Unlock()
	u.stats.received++

	h, inner, err := gtpu.Decode(data)
	if err != nil {
		u.stats.malformed++
		return nil, err
	}
	s, ok := u.sessions[h.TEID]
	if !ok {
		u.stats.dropped++
		return nil, fmt.Errorf("no PDR for TEID 0x%08x", h.TEID)
	}

	pkt := gopacket.NewPacket(inner, layers.LayerTypeIPv4, gopacket.Default)
	ip, ok := pkt.Layer(layers.LayerTypeIPv4).(*layers.IPv4)
	if !ok || !ip.SrcIP.Equal(s.ue) {
		u.stats.dropped++
		return nil, fmt.Errorf("inner source does not belong to TEID 0x%08x", h.TEID)
	}

	s.packetsUL++
	s.bytesUL += uint64(len(inner))
	s.gnb = from.IP

	icmp, ok := pkt.Layer(layers.LayerTypeICMPv4).(*layers.ICMPv4)
	if !ok || icmp.TypeCode.Type() != layers.ICMPv4TypeEchoRequest {
		return nil, nil
	}

	echo, err := echoReply(ip, icmp)
	if err != nil {
		return nil, err
	}
	reply, err := gtpmsg.NewTPDU(s.teidDownlink, echo).Marshal()
	if err != nil {
		return nil, fmt.Errorf("marshal downlink G-PDU: %w", err)
	}
	s.packetsDL++
	s.bytesDL += uint64(len(echo))
	return reply, nil
}

func echoReply(req *layers.IPv4, icmp *layers.ICMPv4) ([]byte, error) {
	ip := &layers.IPv4{
		Version:  4,
		TTL:      64,
		Protocol: layers.IPProtocolICMPv4,
		SrcIP:    req.DstIP,
		DstIP:    req.SrcIP,
	}
	reply := &layers.ICMPv4{
		TypeCode: layers.CreateICMPv4TypeCode(layers.ICMPv4TypeEchoReply, 0),
		Id:       icmp.Id,
		Seq:      icmp.Seq,
	}
	buf := gopacket.NewSerializeBuffer()
	opts := gopacket.SerializeOptions{FixLengths: true, ComputeChecksums: true}
	if err := gopacket.SerializeLayers(buf, opts, ip, reply, gopacket.Payload(icmp.Payload)); err != nil {
		return nil, fmt.Errorf("serialize echo reply: %w", err)
	}
	return buf.Bytes(), nil
}

func (u *mockUPF) serveN4() error {
	buf := make([]byte, 65535)
	for {
		n, remoteAddr, err := u.n4.ReadFromUDP(buf)
		if err != nil {
			if errors.Is(err, net.ErrClosed) {
				return nil
			}
			log.Printf("N4 read error: %v", err)
			continue
		}

		resp, err := u.handleN4(buf[:n])
		if err != nil {
			log.Printf("N4 handle error: %v", err)
			continue
		}
		data, err := pfcp.Encode(resp)
		if err != nil {
			log.Printf("N4 encode error: %v", err)
			continue
		}
		if _, err := u.n4.WriteToUDP(data, remoteAddr); err != nil {
			log.Printf("N4 write error: %v", err)
		}
	}
}

func (u *mockUPF) handleN4(data []byte) (message.Message, error) {
	msg, err := pfcp.Decode(data)
	if err != nil {
		return nil, err
	}

	switch req := msg.(type) {
	case *message.HeartbeatRequest:
		log.Printf("← HeartbeatRequest seq=%d", req.Sequence())
		return message.NewHeartbeatResponse(req.Sequence(), ie.NewRecoveryTimeStamp(u.recoveryTS)), nil

	case *message.SessionModificationRequest:
		return u.handleUsageQuery(req), nil

	default:
		return nil, fmt.Errorf("unhandled message type: %s", pfcp.MessageTypeName(msg.MessageType()))
	}
}

func (u *mockUPF) handleUsageQuery(req *message.SessionModificationRequest) message.Message {
	seq := req.Sequence()

	u.mu.Lock()
	defer u.mu.Unlock()
	u.stats.queries++

	s, ok := u.bySEID[req.SEID()]
	if !ok {
		log.Printf("← SessionModificationRequest seq=%d seid=%d: unknown session", seq, req.SEID())
		return message.NewSessionModificationResponse(0, 0, 0, seq, 0,
			ie.NewCause(ie.CauseSessionContextNotFound))
	}

	var urrID uint32 = 1
	if len(req.QueryURR) > 0 {
		if id, err := req.QueryURR[0].URRID(); err == nil {
			urrID = id
		}
	}

	log.Printf("← SessionModificationRequest seq=%d seid=%d urr=%d", seq, s.seid, urrID)
	return message.NewSessionModificationResponse(0, 0, s.seid, seq, 0,
		ie.NewCause(ie.CauseRequestAccepted),
		ie.NewUsageReportWithinSessionModificationResponse(
			ie.NewURRID(urrID),
			ie.NewVolumeMeasurement(0x3f,
				s.bytesUL+s.bytesDL, s.bytesUL, s.bytesDL,
				s.packetsUL+s.packetsDL, s.packetsUL, s.packetsDL),
		),
	)
}

type sessionJSON struct {
	SEID      string   `json:"seid"`
	UEIP      string   `json:"ue_ip"`
	TEIDs     []string `json:"teids"`
	PacketsUL uint64   `json:"packets_ul"`
	PacketsDL uint64   `json:"packets_dl"`
	BytesUL   uint64   `json:"bytes_ul"`
	BytesDL   uint64   `json:"bytes_dl"`
	GNBIP     string   `json:"gnb_ip,omitempty"`
}

func (u *mockUPF) handleSessions(w http.ResponseWriter, _ *http.Request) {
	u.mu.Lock()
	out := struct {
		Total    int           `json:"total"`
		Sessions []sessionJSON `json:"sessions"`
	}{}
	for seid := uint64(1); seid <= uint64(len(u.bySEID)); seid++ {
		s := u.bySEID[seid]
		sj := sessionJSON{
			SEID:      fmt.Sprintf("0x%x", s.seid),
			UEIP:      s.ue.String(),
			TEIDs:     []string{fmt.Sprintf("0x%x", s.teidUplink), fmt.Sprintf("0x%x", s.teidDownlink)},
			PacketsUL: s.packetsUL,
			PacketsDL: s.packetsDL,
			BytesUL:   s.bytesUL,
			BytesDL:   s.bytesDL,
		}
		if s.gnb != nil {
			sj.GNBIP = s.gnb.String()
		}
		out.Sessions = append(out.Sessions, sj)
	}
	out.Total = len(out.Sessions)
	u.mu.Unlock()

	w.Header().Set("Content-Type", "application/json")
	_ = json.NewEncoder(w).Encode(out)
}

func (u *mockUPF) printStats() {
	u.mu.Lock()
	defer u.mu.Unlock()
	log.Printf("Stats: received=%d dropped=%d malformed=%d replied=%d queries=%d sessions=%d",
		u.stats.received, u.stats.dropped, u.stats.malformed, u.stats.replied, u.stats.queries, len(u.sessions))
}

func listenUDP(addr string) (*net.UDPConn, error) {
	udpAddr, err := net.ResolveUDPAddr("udp", addr)
	if err != nil {
		return nil, fmt.Errorf("resolve addr %s: %w", addr, err)
	}
	conn, err := net.ListenUDP("udp", udpAddr)
	if err != nil {
		return nil, fmt.Errorf("listen %s: %w", addr, err)
	}
	return conn, nil
}

func main() {
	n3Addr := flag.String("n3", "127.0.0.1:2152", "GTP-U address to listen on")
	n4Addr := flag.String("n4", "127.0.0.1:8805", "PFCP address to listen on")
	apiAddr := flag.String("api", "127.0.0.1:9090", "HTTP sessions API address")
	count := flag.Int("sessions", 1, "Number of sessions (UE 10.60.0.1 upward)")
	firstTEID := flag.Uint("teid", 0x1a, "Uplink TEID of the first session")
	flag.Parse()

	upf := newMockUPF(*count, uint32(*firstTEID))

	var err error
	if upf.n3, err = listenUDP(*n3Addr); err != nil {
		log.Fatalf("Mock UPF error: %v", err)
	}
	if upf.n4, err = listenUDP(*n4Addr); err != nil {
		log.Fatalf("Mock UPF error: %v", err)
	}

	mux := http.NewServeMux()
	mux.HandleFunc("/api/v1/sessions", upf.handleSessions)
	mux.HandleFunc("/api/v1/health", func(w http.ResponseWriter, _ *http.Request) {
		w.WriteHeader(http.StatusOK)
	})
	api := &http.Server{Addr: *apiAddr, Handler: mux, ReadHeaderTimeout: 5 * time.Second}

	// Handle graceful shutdown
	sigCh := make(chan os.Signal, 1)
	signal.Notify(sigCh, syscall.SIGINT, syscall.SIGTERM)

	go func() {
		<-sigCh
		log.Println("Shutting down...")
		upf.printStats()
		upf.n3.Close()
		upf.n4.Close()
		api.Close()
	}()

	go func() {
		if err := api.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			log.Fatalf("API error: %v", err)
		}
	}()
	go func() {
		if err := upf.serveN4(); err != nil {
			log.Fatalf("N4 error: %v", err)
		}
	}()

	log.Printf("Mock UPF: N3 %s, N4 %s, API %s, %d sessions", *n3Addr, *n4Addr, *apiAddr, *count)
	if err := upf.serveN3(); err != nil {
		log.Fatalf("Mock UPF error: %v", err)
	}
}
