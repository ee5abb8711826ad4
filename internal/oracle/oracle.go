// Package oracle reads per-session forwarding counters from the UPF through
// an out-of-band query interface.
package oracle

import (
	"context"
	"errors"
	"fmt"
	"net"
	"time"

	"gtpu-harness/internal/config"
	"gtpu-harness/pkg/types"
)

var (
	// ErrNotFound means no session is bound to the requested UE address.
	ErrNotFound = errors.New("session not found")
	// ErrUnreachable covers timeouts, transport failures, malformed replies and
	// non-success statuses from the query interface.
	ErrUnreachable = errors.New("session oracle unreachable")
	// ErrSnapshotMismatch means two snapshots describe different sessions.
	ErrSnapshotMismatch = errors.New("snapshots belong to different sessions")
)

// Oracle reads session counters. Calls are synchronous and bounded by the
// backend's timeout; nothing is retried.
type Oracle interface {
	Snapshot(ctx context.Context, ueAddr net.IP) (types.SessionSnapshot, error)
	Ping(ctx context.Context) error
}

// Lister is implemented by backends that can enumerate every session.
type Lister interface {
	List(ctx context.Context) ([]types.SessionSnapshot, error)
}

// Delta returns after minus before for each counter.
func Delta(before, after types.SessionSnapshot) (types.SnapshotDelta, error) {
	if !before.UEAddr.Equal(after.UEAddr) {
		return types.SnapshotDelta{}, fmt.Errorf("%w: %s vs %s", ErrSnapshotMismatch, before.UEAddr, after.UEAddr)
	}
	return types.SnapshotDelta{
		UplinkPackets:   int64(after.PacketsUplink) - int64(before.PacketsUplink),
		DownlinkPackets: int64(after.PacketsDownlink) - int64(before.PacketsDownlink),
		UplinkBytes:     int64(after.BytesUplink) - int64(before.BytesUplink),
		DownlinkBytes:   int64(after.BytesDownlink) - int64(before.BytesDownlink),
	}, nil
}

// New builds the backend selected by cfg.Type. It returns nil, nil for "none".
func New(ctx context.Context, cfg config.OracleConfig) (Oracle, error) {
	timeout := time.Duration(cfg.TimeoutMs) * time.Millisecond
	switch cfg.Type {
	case "http", "":
		return NewHTTPOracle(cfg.URL, timeout), nil
	case "pfcp":
		return NewPFCPOracle(ctx, cfg.PFCP, timeout)
	case "none":
		return nil, nil
	default:
		return nil, fmt.Errorf("unknown oracle type %q", cfg.Type)
	}
}

// Close releases backend resources when the backend holds any.
func Close(o Oracle) error {
	if c, ok := o.(interface{ Close() error }); ok {
		return c.Close()
	}
	return nil
}

func unreachable(format string, args ...any) error {
	return fmt.Errorf("%w: %s", ErrUnreachable, fmt.Sprintf(format, args...))
}
