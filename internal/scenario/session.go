package scenario

import (
	"context"
	"errors"
	"fmt"
	"net"

	log "github.com/sirupsen/logrus"

	"gtpu-harness/internal/config"
	"gtpu-harness/internal/oracle"
	"gtpu-harness/internal/session"
	"gtpu-harness/pkg/types"
)

// ErrNoSession means no session could be resolved for the scenarios.
var ErrNoSession = errors.New("no session to exercise")

// Session is the resolved identity the scenarios are built around.
type Session struct {
	UEAddr net.IP
	TEID   uint32

	// InvalidTEID has never been issued by the UPF.
	InvalidTEID uint32

	// WrongUEAddrs are inner source addresses bound to no session.
	WrongUEAddrs []net.IP
}

// ResolveSession fills in the UE address and uplink TEID the configuration
// leaves empty from the oracle's session list, then picks a never-issued TEID
// and unbound UE addresses. orc may be nil when both are configured.
func ResolveSession(ctx context.Context, cfg config.SessionConfig, orc oracle.Oracle) (Session, error) {
	var sess Session
	if cfg.UEAddress != "" {
		sess.UEAddr = net.ParseIP(cfg.UEAddress).To4()
	}
	sess.TEID = cfg.TEID

	var known []types.SessionSnapshot
	if lister, ok := orc.(oracle.Lister); ok {
		list, err := lister.List(ctx)
		if err != nil {
			if sess.UEAddr == nil || sess.TEID == 0 {
				return Session{}, fmt.Errorf("failed to list sessions: %w", err)
			}
			log.WithError(err).Warn("Session list unavailable, using configured session only")
		}
		known = list
	}

	if sess.UEAddr == nil || sess.TEID == 0 {
		found := false
		for _, s := range known {
			if sess.UEAddr != nil && !s.UEAddr.Equal(sess.UEAddr) {
				continue
			}
			if sess.UEAddr == nil {
				sess.UEAddr = s.UEAddr.To4()
			}
			if sess.TEID == 0 {
				sess.TEID = s.TEIDUplink
			}
			found = true
			break
		}
		if !found || sess.UEAddr == nil || sess.TEID == 0 {
			return Session{}, fmt.Errorf("%w: configure session.ue_address and session.teid or start a session on the UPF", ErrNoSession)
		}
	}

	issuedTEIDs := []uint32{sess.TEID}
	boundAddrs := []net.IP{sess.UEAddr}
	for _, s := range known {
		issuedTEIDs = append(issuedTEIDs, s.TEIDUplink, s.TEIDDownlink)
		boundAddrs = append(boundAddrs, s.UEAddr)
	}

	invalid, err := pickInvalidTEID(cfg, issuedTEIDs)
	if err != nil {
		return Session{}, err
	}
	sess.InvalidTEID = invalid

	wrong, err := pickWrongUEAddrs(cfg, boundAddrs)
	if err != nil {
		return Session{}, err
	}
	sess.WrongUEAddrs = wrong

	log.WithFields(log.Fields{
		"ue":           sess.UEAddr,
		"teid":         fmt.Sprintf("0x%08x", sess.TEID),
		"invalid_teid": fmt.Sprintf("0x%08x", sess.InvalidTEID),
		"known":        len(known),
	}).Info("Session resolved")

	return sess, nil
}

func pickInvalidTEID(cfg config.SessionConfig, issued []uint32) (uint32, error) {
	issuedSet := make(map[uint32]bool, len(issued))
	for _, t := range issued {
		issuedSet[t] = true
	}
	if cfg.InvalidTEID != 0 && !issuedSet[cfg.InvalidTEID] {
		return cfg.InvalidTEID, nil
	}
	if cfg.InvalidTEID != 0 {
		log.WithField("teid", fmt.Sprintf("0x%08x", cfg.InvalidTEID)).Warn("Configured invalid TEID is issued by the UPF, allocating another")
	}

	alloc := session.NewTEIDAllocator(cfg.TEIDStrategy, cfg.TEIDStart)
	alloc.Exclude(issued...)
	teid, err := alloc.Allocate()
	if err != nil {
		return 0, fmt.Errorf("failed to pick unissued TEID: %w", err)
	}
	return teid, nil
}

func pickWrongUEAddrs(cfg config.SessionConfig, bound []net.IP) ([]net.IP, error) {
	isBound := func(ip net.IP) bool {
		for _, b := range bound {
			if b.Equal(ip) {
				return true
			}
		}
		return false
	}

	var addrs []net.IP
	for _, a := range cfg.WrongUEAddresses {
		ip := net.ParseIP(a).To4()
		if ip == nil || isBound(ip) {
			continue
		}
		addrs = append(addrs, ip)
	}
	if len(addrs) > 0 {
		return addrs, nil
	}

	pool, err := session.NewUEAddrPool(cfg.UEPool)
	if err != nil {
		return nil, err
	}
	pool.Exclude(bound...)
	ip, err := pool.Allocate()
	if err != nil {
		return nil, fmt.Errorf("failed to pick unbound UE address: %w", err)
	}
	return []net.IP{ip}, nil
}
