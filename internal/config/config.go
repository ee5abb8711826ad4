package config

import (
	"fmt"
	"strings"

	"github.com/spf13/viper"
)

// Config holds all configuration for the GTP-U harness.
type Config struct {
	UPF       UPFConfig       `yaml:"upf"       mapstructure:"upf"`
	Local     LocalConfig     `yaml:"local"     mapstructure:"local"`
	Transport TransportConfig `yaml:"transport" mapstructure:"transport"`
	Capture   CaptureConfig   `yaml:"capture"   mapstructure:"capture"`
	Oracle    OracleConfig    `yaml:"oracle"    mapstructure:"oracle"`
	Session   SessionConfig   `yaml:"session"   mapstructure:"session"`
	Timing    TimingConfig    `yaml:"timing"    mapstructure:"timing"`
	Scenarios ScenariosConfig `yaml:"scenarios" mapstructure:"scenarios"`
	Logging   LoggingConfig   `yaml:"logging"   mapstructure:"logging"`
	Stats     StatsConfig     `yaml:"stats"     mapstructure:"stats"`
	Metrics   MetricsConfig   `yaml:"metrics"   mapstructure:"metrics"`
}

// UPFConfig is the N3 endpoint under test.
type UPFConfig struct {
	Address string `yaml:"address" mapstructure:"address"`
	Port    int    `yaml:"port"    mapstructure:"port"`
}

// LocalConfig is the emulated gNB side.
type LocalConfig struct {
	Address string `yaml:"address" mapstructure:"address"`
	Port    int    `yaml:"port"    mapstructure:"port"`
}

type TransportConfig struct {
	Kind     string `yaml:"kind"      mapstructure:"kind"`
	PcapFile string `yaml:"pcap_file" mapstructure:"pcap_file"`
}

type CaptureConfig struct {
	Mode        string `yaml:"mode"        mapstructure:"mode"`
	Interface   string `yaml:"interface"   mapstructure:"interface"`
	File        string `yaml:"file"        mapstructure:"file"`
	Snaplen     int    `yaml:"snaplen"     mapstructure:"snaplen"`
	Promiscuous bool   `yaml:"promiscuous" mapstructure:"promiscuous"`
}

type OracleConfig struct {
	Type      string           `yaml:"type"       mapstructure:"type"`
	URL       string           `yaml:"url"        mapstructure:"url"`
	TimeoutMs int              `yaml:"timeout_ms" mapstructure:"timeout_ms"`
	PFCP      PFCPOracleConfig `yaml:"pfcp"       mapstructure:"pfcp"`
}

// PFCPOracleConfig configures usage queries over N4. SEIDs are not
// discoverable through PFCP, so each queried session is listed explicitly.
type PFCPOracleConfig struct {
	Address      string              `yaml:"address"       mapstructure:"address"`
	Port         int                 `yaml:"port"          mapstructure:"port"`
	LocalAddress string              `yaml:"local_address" mapstructure:"local_address"`
	MaxRetries   int                 `yaml:"max_retries"   mapstructure:"max_retries"`
	Sessions     []PFCPSessionConfig `yaml:"sessions"      mapstructure:"sessions"`
}

type PFCPSessionConfig struct {
	UEAddress    string `yaml:"ue_address"    mapstructure:"ue_address"`
	SEID         uint64 `yaml:"seid"          mapstructure:"seid"`
	URRID        uint32 `yaml:"urr_id"        mapstructure:"urr_id"`
	TEIDUplink   uint32 `yaml:"teid_uplink"   mapstructure:"teid_uplink"`
	TEIDDownlink uint32 `yaml:"teid_downlink" mapstructure:"teid_downlink"`
	GNBAddress   string `yaml:"gnb_address"   mapstructure:"gnb_address"`
}

// SessionConfig identifies the session the scenarios exercise. A zero TEID or
// an empty UE address is resolved through the oracle.
type SessionConfig struct {
	UEAddress        string   `yaml:"ue_address"         mapstructure:"ue_address"`
	TEID             uint32   `yaml:"teid"               mapstructure:"teid"`
	InvalidTEID      uint32   `yaml:"invalid_teid"       mapstructure:"invalid_teid"`
	TEIDStrategy     string   `yaml:"teid_strategy"      mapstructure:"teid_strategy"`
	TEIDStart        uint32   `yaml:"teid_start"         mapstructure:"teid_start"`
	UEPool           string   `yaml:"ue_pool"            mapstructure:"ue_pool"`
	WrongUEAddresses []string `yaml:"wrong_ue_addresses" mapstructure:"wrong_ue_addresses"`
	InnerDst         string   `yaml:"inner_dst"          mapstructure:"inner_dst"`
}

type TimingConfig struct {
	PacketIntervalMs int `yaml:"packet_interval_ms" mapstructure:"packet_interval_ms"`
	ObserveTimeoutMs int `yaml:"observe_timeout_ms" mapstructure:"observe_timeout_ms"`
	SettleMs         int `yaml:"settle_ms"          mapstructure:"settle_ms"`
}

type ScenariosConfig struct {
	Enabled []string         `yaml:"enabled" mapstructure:"enabled"`
	Sizes   []int            `yaml:"sizes"   mapstructure:"sizes"`
	Count   int              `yaml:"count"   mapstructure:"count"`
	Custom  []CustomScenario `yaml:"custom"  mapstructure:"custom"`
}

// CustomScenario declares a scenario in configuration. Empty TEIDs means the
// session's uplink TEID; empty Sizes means a single packet size of
// PayloadSize.
type CustomScenario struct {
	Name        string   `yaml:"name"         mapstructure:"name"`
	Description string   `yaml:"description"  mapstructure:"description"`
	Expect      string   `yaml:"expect"       mapstructure:"expect"`
	Mode        string   `yaml:"mode"         mapstructure:"mode"`
	TEIDs       []uint32 `yaml:"teids"        mapstructure:"teids"`
	InnerSrc    string   `yaml:"inner_src"    mapstructure:"inner_src"`
	InnerDst    string   `yaml:"inner_dst"    mapstructure:"inner_dst"`
	Count       int      `yaml:"count"        mapstructure:"count"`
	IntervalMs  int      `yaml:"interval_ms"  mapstructure:"interval_ms"`
	Sizes       []int    `yaml:"sizes"        mapstructure:"sizes"`
	PayloadSize int      `yaml:"payload_size" mapstructure:"payload_size"`
	MessageType uint8    `yaml:"message_type" mapstructure:"message_type"`
}

type LoggingConfig struct {
	Level   string `yaml:"level"   mapstructure:"level"`
	File    string `yaml:"file"    mapstructure:"file"`
	Console bool   `yaml:"console" mapstructure:"console"`
}

type StatsConfig struct {
	Enabled    bool   `yaml:"enabled"     mapstructure:"enabled"`
	ExportFile string `yaml:"export_file" mapstructure:"export_file"`
}

type MetricsConfig struct {
	Addr string `yaml:"addr" mapstructure:"addr"`
}

// SetDefaults configures default values for the configuration.
func SetDefaults(v *viper.Viper) {
	v.SetDefault("upf.port", 2152)
	v.SetDefault("local.port", 2152)
	v.SetDefault("transport.kind", "udp")
	v.SetDefault("capture.mode", "live")
	v.SetDefault("capture.snaplen", 65536)
	v.SetDefault("capture.promiscuous", false)
	v.SetDefault("oracle.type", "http")
	v.SetDefault("oracle.timeout_ms", 2000)
	v.SetDefault("oracle.pfcp.port", 8805)
	v.SetDefault("oracle.pfcp.max_retries", 0)
	v.SetDefault("session.invalid_teid", 0xDEADBEEF)
	v.SetDefault("session.teid_strategy", "sequential")
	v.SetDefault("session.teid_start", 0xDEADBEEF)
	v.SetDefault("session.ue_pool", "10.60.0.0/24")
	v.SetDefault("session.wrong_ue_addresses", []string{"10.60.0.200", "10.99.99.99", "192.168.1.100"})
	v.SetDefault("session.inner_dst", "8.8.8.8")
	v.SetDefault("timing.packet_interval_ms", 200)
	v.SetDefault("timing.observe_timeout_ms", 3000)
	v.SetDefault("timing.settle_ms", 500)
	v.SetDefault("scenarios.sizes", []int{1400, 1500, 2000, 4000, 8000})
	v.SetDefault("scenarios.count", 5)
	v.SetDefault("logging.level", "info")
	v.SetDefault("logging.console", true)
	v.SetDefault("stats.enabled", true)
}

// Load reads configuration from a YAML file and returns a Config.
func Load(configFile string) (*Config, error) {
	v := viper.New()
	SetDefaults(v)

	if configFile != "" {
		v.SetConfigFile(configFile)
		if err := v.ReadInConfig(); err != nil {
			return nil, fmt.Errorf("failed to read config file %s: %w", configFile, err)
		}
	}

	return LoadWithViper(v)
}

// LoadWithViper reads configuration using an existing viper instance (for CLI flag binding).
func LoadWithViper(v *viper.Viper) (*Config, error) {
	var cfg Config
	if err := v.Unmarshal(&cfg); err != nil {
		return nil, fmt.Errorf("failed to unmarshal config: %w", err)
	}
	return &cfg, nil
}

// Summary returns a human-readable summary of the configuration.
func (c *Config) Summary() string {
	var sb strings.Builder
	sb.WriteString("Configuration:\n")
	sb.WriteString(fmt.Sprintf("  UPF (N3):      %s:%d\n", c.UPF.Address, c.UPF.Port))
	sb.WriteString(fmt.Sprintf("  Local (gNB):   %s:%d\n", c.Local.Address, c.Local.Port))
	sb.WriteString(fmt.Sprintf("  Transport:     %s\n", c.Transport.Kind))
	sb.WriteString(fmt.Sprintf("  Capture:       %s %s%s\n", c.Capture.Mode, c.Capture.Interface, c.Capture.File))
	sb.WriteString(fmt.Sprintf("  Oracle:        %s (timeout %dms)\n", c.Oracle.Type, c.Oracle.TimeoutMs))
	sb.WriteString(fmt.Sprintf("  UE Address:    %s\n", displayOr(c.Session.UEAddress, "from oracle")))
	if c.Session.TEID != 0 {
		sb.WriteString(fmt.Sprintf("  TEID:          0x%08x\n", c.Session.TEID))
	} else {
		sb.WriteString("  TEID:          from oracle\n")
	}
	sb.WriteString(fmt.Sprintf("  Pkt Interval:  %dms\n", c.Timing.PacketIntervalMs))
	sb.WriteString(fmt.Sprintf("  Observe:       %dms\n", c.Timing.ObserveTimeoutMs))
	sb.WriteString(fmt.Sprintf("  Sizes:         %v\n", c.Scenarios.Sizes))
	return sb.String()
}

func displayOr(s, fallback string) string {
	if s == "" {
		return fallback
	}
	return s
}
