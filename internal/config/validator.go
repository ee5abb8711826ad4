package config

import (
	"fmt"
	"net"
	"os"
	"strings"

	"gtpu-harness/internal/gtpu"
	"gtpu-harness/pkg/types"
)

// Validate checks that the configuration is valid.
func (c *Config) Validate() error {
	var errs []string

	// UPF address must be a valid IPv4 address
	if !isIPv4(c.UPF.Address) {
		errs = append(errs, fmt.Sprintf("upf.address must be a valid IPv4 address, got %q", c.UPF.Address))
	}
	if c.UPF.Port <= 0 || c.UPF.Port > 65535 {
		errs = append(errs, fmt.Sprintf("upf.port must be between 1 and 65535, got %d", c.UPF.Port))
	}

	// Local address may be empty (wildcard)
	if c.Local.Address != "" && !isIPv4(c.Local.Address) {
		errs = append(errs, fmt.Sprintf("local.address must be a valid IPv4 address, got %q", c.Local.Address))
	}
	if c.Local.Port < 0 || c.Local.Port > 65535 {
		errs = append(errs, fmt.Sprintf("local.port must be between 0 and 65535, got %d", c.Local.Port))
	}

	switch c.Transport.Kind {
	case "udp", "raw":
	case "pcap":
		if c.Transport.PcapFile == "" {
			errs = append(errs, "transport.pcap_file must be specified for the pcap transport")
		}
	default:
		errs = append(errs, fmt.Sprintf("transport.kind must be one of udp/raw/pcap, got %q", c.Transport.Kind))
	}

	switch c.Capture.Mode {
	case "live":
		if c.Capture.Interface == "" {
			errs = append(errs, "capture.interface must be specified for live capture")
		}
	case "file":
		if c.Capture.File == "" {
			errs = append(errs, "capture.file must be specified for file capture")
		} else if _, err := os.Stat(c.Capture.File); os.IsNotExist(err) {
			errs = append(errs, fmt.Sprintf("capture file not found: %s", c.Capture.File))
		}
	case "none":
	default:
		errs = append(errs, fmt.Sprintf("capture.mode must be one of live/file/none, got %q", c.Capture.Mode))
	}

	errs = append(errs, c.validateOracle()...)
	errs = append(errs, c.validateSession()...)

	if c.Timing.PacketIntervalMs < 0 {
		errs = append(errs, "timing.packet_interval_ms must be >= 0")
	}
	if c.Timing.ObserveTimeoutMs <= 0 {
		errs = append(errs, "timing.observe_timeout_ms must be > 0")
	}
	if c.Timing.SettleMs < 0 {
		errs = append(errs, "timing.settle_ms must be >= 0")
	}

	errs = append(errs, c.validateScenarios()...)

	// Log level must be valid
	validLevels := map[string]bool{"debug": true, "info": true, "warn": true, "error": true}
	if !validLevels[c.Logging.Level] {
		errs = append(errs, fmt.Sprintf("logging.level must be one of debug/info/warn/error, got %q", c.Logging.Level))
	}

	if len(errs) > 0 {
		return fmt.Errorf("configuration errors:\n  - %s", strings.Join(errs, "\n  - "))
	}
	return nil
}

func (c *Config) validateOracle() []string {
	var errs []string

	if c.Oracle.TimeoutMs <= 0 {
		errs = append(errs, "oracle.timeout_ms must be > 0")
	}

	switch c.Oracle.Type {
	case "http":
		if !strings.HasPrefix(c.Oracle.URL, "http://") && !strings.HasPrefix(c.Oracle.URL, "https://") {
			errs = append(errs, fmt.Sprintf("oracle.url must be an http(s) URL, got %q", c.Oracle.URL))
		}
	case "pfcp":
		p := c.Oracle.PFCP
		if !isIPv4(p.Address) {
			errs = append(errs, fmt.Sprintf("oracle.pfcp.address must be a valid IPv4 address, got %q", p.Address))
		}
		if p.Port <= 0 || p.Port > 65535 {
			errs = append(errs, fmt.Sprintf("oracle.pfcp.port must be between 1 and 65535, got %d", p.Port))
		}
		if p.MaxRetries < 0 {
			errs = append(errs, "oracle.pfcp.max_retries must be >= 0")
		}
		if len(p.Sessions) == 0 {
			errs = append(errs, "oracle.pfcp.sessions must list at least one session")
		}
		for i, s := range p.Sessions {
			if !isIPv4(s.UEAddress) {
				errs = append(errs, fmt.Sprintf("oracle.pfcp.sessions[%d].ue_address must be a valid IPv4 address, got %q", i, s.UEAddress))
			}
			if s.SEID == 0 {
				errs = append(errs, fmt.Sprintf("oracle.pfcp.sessions[%d].seid must be > 0", i))
			}
		}
	case "none":
	default:
		errs = append(errs, fmt.Sprintf("oracle.type must be one of http/pfcp/none, got %q", c.Oracle.Type))
	}
	return errs
}

func (c *Config) validateSession() []string {
	var errs []string
	s := c.Session

	if s.UEAddress != "" && !isIPv4(s.UEAddress) {
		errs = append(errs, fmt.Sprintf("session.ue_address must be a valid IPv4 address, got %q", s.UEAddress))
	}
	if c.Oracle.Type == "none" && (s.UEAddress == "" || s.TEID == 0) {
		errs = append(errs, "session.ue_address and session.teid are required when oracle.type is none")
	}
	if s.TEIDStrategy != "sequential" && s.TEIDStrategy != "random" {
		errs = append(errs, fmt.Sprintf("session.teid_strategy must be 'sequential' or 'random', got %q", s.TEIDStrategy))
	}
	if s.UEPool == "" {
		errs = append(errs, "session.ue_pool must be specified")
	} else if _, _, err := net.ParseCIDR(s.UEPool); err != nil {
		errs = append(errs, fmt.Sprintf("invalid UE pool CIDR %q: %v", s.UEPool, err))
	}
	for i, a := range s.WrongUEAddresses {
		if !isIPv4(a) {
			errs = append(errs, fmt.Sprintf("session.wrong_ue_addresses[%d] must be a valid IPv4 address, got %q", i, a))
		}
	}
	if !isIPv4(s.InnerDst) {
		errs = append(errs, fmt.Sprintf("session.inner_dst must be a valid IPv4 address, got %q", s.InnerDst))
	}
	return errs
}

func (c *Config) validateScenarios() []string {
	var errs []string

	if c.Scenarios.Count <= 0 {
		errs = append(errs, "scenarios.count must be > 0")
	}
	for i, size := range c.Scenarios.Sizes {
		if size <= 0 {
			errs = append(errs, fmt.Sprintf("scenarios.sizes[%d] must be > 0, got %d", i, size))
		}
	}

	seen := make(map[string]bool)
	for i, cs := range c.Scenarios.Custom {
		prefix := fmt.Sprintf("scenarios.custom[%d]", i)
		if cs.Name == "" {
			errs = append(errs, prefix+".name must be specified")
		} else if seen[cs.Name] {
			errs = append(errs, fmt.Sprintf("%s.name %q is duplicated", prefix, cs.Name))
		}
		seen[cs.Name] = true

		if _, err := types.ParseExpectation(cs.Expect); err != nil {
			errs = append(errs, fmt.Sprintf("%s.expect: %v", prefix, err))
		}
		if _, err := types.ParseHeaderMode(cs.Mode); err != nil {
			errs = append(errs, fmt.Sprintf("%s.mode: %v", prefix, err))
		}
		if !gtpu.KnownMessageType(cs.MessageType) {
			errs = append(errs, fmt.Sprintf("%s.message_type %d is not a GTP-U message type", prefix, cs.MessageType))
		}
		if cs.Count < 0 {
			errs = append(errs, prefix+".count must be >= 0")
		}
		if cs.IntervalMs < 0 {
			errs = append(errs, prefix+".interval_ms must be >= 0")
		}
		if cs.InnerSrc != "" && !isIPv4(cs.InnerSrc) {
			errs = append(errs, fmt.Sprintf("%s.inner_src must be a valid IPv4 address, got %q", prefix, cs.InnerSrc))
		}
		if cs.InnerDst != "" && !isIPv4(cs.InnerDst) {
			errs = append(errs, fmt.Sprintf("%s.inner_dst must be a valid IPv4 address, got %q", prefix, cs.InnerDst))
		}
	}
	return errs
}

func isIPv4(s string) bool {
	ip := net.ParseIP(s)
	return ip != nil && ip.To4() != nil
}
