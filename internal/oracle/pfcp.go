package oracle

import (
	"context"
	"errors"
	"fmt"
	"net"
	"time"

	log "github.com/sirupsen/logrus"
	"github.com/wmnsk/go-pfcp/message"

	"gtpu-harness/internal/config"
	"gtpu-harness/internal/network"
	"gtpu-harness/internal/pfcp"
	"gtpu-harness/pkg/types"
)

// PFCPOracle reads usage counters over N4 by sending Session Modification
// Requests with a Query URR IE for sessions listed in configuration.
type PFCPOracle struct {
	client   *network.UDPClient
	receiver *network.Receiver
	tracker  *network.TransactionTracker
	seq      pfcp.SequenceCounter
	sessions map[string]config.PFCPSessionConfig
	recovery time.Time
	cancel   context.CancelFunc
	log      *log.Entry
}

// NewPFCPOracle binds a UDP socket toward the UPF's PFCP endpoint and starts
// the response handler. Close releases it.
func NewPFCPOracle(ctx context.Context, cfg config.PFCPOracleConfig, timeout time.Duration) (*PFCPOracle, error) {
	client, err := network.NewUDPClient(cfg.LocalAddress, 0, cfg.Address, cfg.Port)
	if err != nil {
		return nil, fmt.Errorf("failed to create PFCP client: %w", err)
	}

	sessions := make(map[string]config.PFCPSessionConfig, len(cfg.Sessions))
	for _, s := range cfg.Sessions {
		ue := net.ParseIP(s.UEAddress)
		if ue == nil {
			client.Close()
			return nil, fmt.Errorf("invalid PFCP session UE address %q", s.UEAddress)
		}
		sessions[ue.String()] = s
	}

	ctx, cancel := context.WithCancel(ctx)
	o := &PFCPOracle{
		client:   client,
		receiver: network.NewReceiver(client.Conn()),
		tracker:  network.NewTransactionTracker(client, timeout, cfg.MaxRetries),
		sessions: sessions,
		recovery: time.Now(),
		cancel:   cancel,
		log: log.WithFields(log.Fields{
			"oracle": "pfcp",
			"upf":    client.RemoteAddr().String(),
		}),
	}

	o.receiver.Start(ctx)
	o.tracker.StartTimeoutMonitor(ctx)
	go o.handleResponses()

	return o, nil
}

// Snapshot queries the URR configured for ueAddr.
func (o *PFCPOracle) Snapshot(ctx context.Context, ueAddr net.IP) (types.SessionSnapshot, error) {
	sess, ok := o.sessions[ueAddr.String()]
	if !ok {
		return types.SessionSnapshot{}, fmt.Errorf("%w: no PFCP session configured for UE %s", ErrNotFound, ueAddr)
	}

	seq := o.seq.Next()
	result, err := o.exchange(ctx, seq, pfcp.NewUsageQuery(sess.SEID, sess.URRID, seq))
	if err != nil {
		return types.SessionSnapshot{}, err
	}

	resp, ok := result.Message.(*message.SessionModificationResponse)
	if !ok {
		return types.SessionSnapshot{}, unreachable("unexpected %s in reply to usage query", pfcp.MessageTypeName(result.Message.MessageType()))
	}

	usage, err := pfcp.UsageFromResponse(resp, sess.URRID)
	if errors.Is(err, pfcp.ErrSessionNotFound) {
		return types.SessionSnapshot{}, fmt.Errorf("%w: SEID 0x%x", ErrNotFound, sess.SEID)
	}
	if err != nil {
		return types.SessionSnapshot{}, unreachable("%v", err)
	}
	if !usage.HasPackets {
		return types.SessionSnapshot{}, unreachable("URR %d reports no packet counts", sess.URRID)
	}

	o.log.WithFields(log.Fields{
		"seid":          sess.SEID,
		"urr_id":        sess.URRID,
		"packets_ul":    usage.UplinkPackets,
		"packets_dl":    usage.DownlinkPackets,
		"response_time": result.ResponseTime.Round(time.Microsecond),
	}).Debug("Usage report received")

	return types.SessionSnapshot{
		SessionID:       fmt.Sprintf("0x%x", sess.SEID),
		UEAddr:          ueAddr,
		TEIDUplink:      sess.TEIDUplink,
		TEIDDownlink:    sess.TEIDDownlink,
		GNBAddr:         net.ParseIP(sess.GNBAddress),
		PacketsUplink:   usage.UplinkPackets,
		PacketsDownlink: usage.DownlinkPackets,
		BytesUplink:     usage.UplinkBytes,
		BytesDownlink:   usage.DownlinkBytes,
	}, nil
}

// List returns a snapshot of every configured session that answers.
func (o *PFCPOracle) List(ctx context.Context) ([]types.SessionSnapshot, error) {
	out := make([]types.SessionSnapshot, 0, len(o.sessions))
	for _, s := range o.sessions {
		snap, err := o.Snapshot(ctx, net.ParseIP(s.UEAddress))
		if errors.Is(err, ErrNotFound) {
			continue
		}
		if err != nil {
			return nil, err
		}
		out = append(out, snap)
	}
	return out, nil
}

// Ping sends a Heartbeat Request and waits for the response.
func (o *PFCPOracle) Ping(ctx context.Context) error {
	seq := o.seq.Next()
	result, err := o.exchange(ctx, seq, pfcp.NewHeartbeat(seq, o.recovery))
	if err != nil {
		return err
	}
	if result.Message.MessageType() != message.MsgTypeHeartbeatResponse {
		return unreachable("unexpected %s in reply to heartbeat", pfcp.MessageTypeName(result.Message.MessageType()))
	}
	return nil
}

// Close stops the response handler and closes the socket.
func (o *PFCPOracle) Close() error {
	o.cancel()
	o.tracker.CancelAll()
	return o.client.Close()
}

func (o *PFCPOracle) exchange(ctx context.Context, seq uint32, msg message.Message) (network.TransactionResult, error) {
	data, err := pfcp.Encode(msg)
	if err != nil {
		return network.TransactionResult{}, unreachable("%v", err)
	}

	resultCh := o.tracker.Track(seq, data)
	if err := o.client.Send(data); err != nil {
		return network.TransactionResult{}, unreachable("%v", err)
	}

	select {
	case <-ctx.Done():
		return network.TransactionResult{}, unreachable("%s seq=%d: %v", pfcp.MessageTypeName(msg.MessageType()), seq, ctx.Err())
	case result := <-resultCh:
		if result.Error != nil {
			return result, unreachable("%s seq=%d: %v", pfcp.MessageTypeName(msg.MessageType()), seq, result.Error)
		}
		return result, nil
	}
}

func (o *PFCPOracle) handleResponses() {
	for received := range o.receiver.Messages() {
		o.tracker.Resolve(received.Message.Sequence(), received.Message, received.Data)
	}
}
