package oracle

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net"
	"net/http"
	"strconv"
	"strings"
	"time"

	log "github.com/sirupsen/logrus"

	"gtpu-harness/pkg/types"
)

const (
	sessionsPath = "/api/v1/sessions"
	healthPath   = "/api/v1/health"
	maxBodyBytes = 4 << 20
)

// HTTPOracle queries the UPF monitoring API.
type HTTPOracle struct {
	baseURL string
	timeout time.Duration
	client  *http.Client
	log     *log.Entry
}

type sessionsResponse struct {
	Total    int           `json:"total"`
	Sessions []sessionJSON `json:"sessions"`
}

type sessionJSON struct {
	SEID      string   `json:"seid"`
	UEIP      string   `json:"ue_ip"`
	TEIDs     []string `json:"teids"`
	PacketsUL uint64   `json:"packets_ul"`
	PacketsDL uint64   `json:"packets_dl"`
	BytesUL   uint64   `json:"bytes_ul"`
	BytesDL   uint64   `json:"bytes_dl"`
	GNBIP     string   `json:"gnb_ip"`
}

// NewHTTPOracle creates an oracle for the API rooted at baseURL.
func NewHTTPOracle(baseURL string, timeout time.Duration) *HTTPOracle {
	return &HTTPOracle{
		baseURL: strings.TrimRight(baseURL, "/"),
		timeout: timeout,
		client:  &http.Client{},
		log:     log.WithFields(log.Fields{"oracle": "http", "url": baseURL}),
	}
}

// Snapshot returns the counters of the session bound to ueAddr.
func (o *HTTPOracle) Snapshot(ctx context.Context, ueAddr net.IP) (types.SessionSnapshot, error) {
	sessions, err := o.List(ctx)
	if err != nil {
		return types.SessionSnapshot{}, err
	}
	for _, s := range sessions {
		if s.UEAddr.Equal(ueAddr) {
			return s, nil
		}
	}
	return types.SessionSnapshot{}, fmt.Errorf("%w: UE %s", ErrNotFound, ueAddr)
}

// List returns every session the API reports.
func (o *HTTPOracle) List(ctx context.Context) ([]types.SessionSnapshot, error) {
	body, err := o.get(ctx, sessionsPath)
	if err != nil {
		return nil, err
	}

	var resp sessionsResponse
	if err := json.Unmarshal(body, &resp); err != nil {
		return nil, unreachable("decoding %s: %v", sessionsPath, err)
	}

	out := make([]types.SessionSnapshot, 0, len(resp.Sessions))
	for _, s := range resp.Sessions {
		snap, err := s.snapshot()
		if err != nil {
			o.log.WithError(err).WithField("seid", s.SEID).Warn("Skipping unparsable session")
			continue
		}
		out = append(out, snap)
	}
	o.log.WithFields(log.Fields{"total": resp.Total, "parsed": len(out)}).Debug("Listed sessions")
	return out, nil
}

// Ping checks that the API answers its health endpoint.
func (o *HTTPOracle) Ping(ctx context.Context) error {
	_, err := o.get(ctx, healthPath)
	return err
}

func (o *HTTPOracle) get(ctx context.Context, path string) ([]byte, error) {
	ctx, cancel := context.WithTimeout(ctx, o.timeout)
	defer cancel()

	req, err := http.NewRequestWithContext(ctx, http.MethodGet, o.baseURL+path, nil)
	if err != nil {
		return nil, unreachable("building request for %s: %v", path, err)
	}

	resp, err := o.client.Do(req)
	if err != nil {
		return nil, unreachable("GET %s: %v", path, err)
	}
	defer resp.Body.Close()

	if resp.StatusCode < 200 || resp.StatusCode > 299 {
		return nil, unreachable("GET %s: status %d", path, resp.StatusCode)
	}

	body, err := io.ReadAll(io.LimitReader(resp.Body, maxBodyBytes))
	if err != nil {
		return nil, unreachable("reading %s: %v", path, err)
	}
	return body, nil
}

func (s sessionJSON) snapshot() (types.SessionSnapshot, error) {
	ue := net.ParseIP(s.UEIP)
	if ue == nil {
		return types.SessionSnapshot{}, fmt.Errorf("invalid ue_ip %q", s.UEIP)
	}

	snap := types.SessionSnapshot{
		SessionID:       s.SEID,
		UEAddr:          ue,
		GNBAddr:         net.ParseIP(s.GNBIP),
		PacketsUplink:   s.PacketsUL,
		PacketsDownlink: s.PacketsDL,
		BytesUplink:     s.BytesUL,
		BytesDownlink:   s.BytesDL,
	}

	if len(s.TEIDs) > 0 {
		teid, err := parseTEID(s.TEIDs[0])
		if err != nil {
			return types.SessionSnapshot{}, err
		}
		snap.TEIDUplink = teid
	}
	if len(s.TEIDs) > 1 {
		teid, err := parseTEID(s.TEIDs[1])
		if err != nil {
			return types.SessionSnapshot{}, err
		}
		snap.TEIDDownlink = teid
	}
	return snap, nil
}

// parseTEID reads a hexadecimal TEID with or without the 0x prefix.
func parseTEID(s string) (uint32, error) {
	h := strings.TrimSpace(s)
	if len(h) > 2 && (h[:2] == "0x" || h[:2] == "0X") {
		h = h[2:]
	}
	v, err := strconv.ParseUint(h, 16, 32)
	if err != nil {
		return 0, fmt.Errorf("invalid TEID %q: %w", s, err)
	}
	return uint32(v), nil
}
