package main

import (
	"context"
	"errors"
	"fmt"
	"net"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	log "github.com/sirupsen/logrus"
	"github.com/spf13/cobra"
	"github.com/spf13/viper"

	"gtpu-harness/internal/config"
	"gtpu-harness/internal/injector"
	"gtpu-harness/internal/network"
	"gtpu-harness/internal/observer"
	"gtpu-harness/internal/oracle"
	"gtpu-harness/internal/pcap"
	"gtpu-harness/internal/scenario"
	"gtpu-harness/internal/session"
	"gtpu-harness/internal/stats"
	"gtpu-harness/pkg/types"
)

var (
	version     = "1.0.0"
	cfgFile     string
	dryRun      bool
	listOnly    bool
	inspectFile string
)

// flagBindings maps CLI overrides to configuration keys.
var flagBindings = map[string]string{
	"upf-ip":          "upf.address",
	"upf-port":        "upf.port",
	"local-ip":        "local.address",
	"local-port":      "local.port",
	"transport":       "transport.kind",
	"pcap-out":        "transport.pcap_file",
	"capture":         "capture.mode",
	"iface":           "capture.interface",
	"capture-file":    "capture.file",
	"oracle":          "oracle.type",
	"oracle-url":      "oracle.url",
	"ue-ip":           "session.ue_address",
	"teid":            "session.teid",
	"scenarios":       "scenarios.enabled",
	"count":           "scenarios.count",
	"interval":        "timing.packet_interval_ms",
	"observe-timeout": "timing.observe_timeout_ms",
	"log-level":       "logging.level",
	"export":          "stats.export_file",
	"metrics-addr":    "metrics.addr",
}

func main() {
	rootCmd := &cobra.Command{
		Use:   "gtpu-harness",
		Short: "GTP-U UPF conformance harness - inject crafted N3 traffic and judge the UPF",
		Long: `A Go-based tool that acts as a gNB on N3, sending valid and deliberately
broken GTP-U packets to a UPF, watching what comes back, and reading the
session's counters to decide whether each packet was forwarded or dropped.`,
		Version:      version,
		SilenceUsage: true,
		RunE:         run,
	}

	// Configuration file
	rootCmd.Flags().StringVar(&cfgFile, "config", "", "Configuration file path (default: config.yaml)")

	// CLI overrides
	rootCmd.Flags().String("upf-ip", "", "UPF N3 IPv4 address")
	rootCmd.Flags().Int("upf-port", 0, "UPF GTP-U port")
	rootCmd.Flags().String("local-ip", "", "Local (gNB) IPv4 address")
	rootCmd.Flags().Int("local-port", 0, "Local GTP-U port")
	rootCmd.Flags().String("transport", "", "Packet transport (udp|raw|pcap)")
	rootCmd.Flags().String("pcap-out", "", "Output file for the pcap transport")
	rootCmd.Flags().String("capture", "", "Downlink capture mode (live|file|none)")
	rootCmd.Flags().String("iface", "", "Interface for live capture")
	rootCmd.Flags().String("capture-file", "", "Pcap file replayed as downlink capture")
	rootCmd.Flags().String("oracle", "", "Session oracle (http|pfcp|none)")
	rootCmd.Flags().String("oracle-url", "", "Base URL of the HTTP session oracle")
	rootCmd.Flags().String("ue-ip", "", "UE address of the exercised session")
	rootCmd.Flags().Uint32("teid", 0, "Uplink TEID of the exercised session")
	rootCmd.Flags().StringSlice("scenarios", nil, "Scenarios to run (default: all); a trailing * matches by prefix")
	rootCmd.Flags().Int("count", 0, "Packets per repeated scenario")
	rootCmd.Flags().Int("interval", -1, "Delay between packets in ms")
	rootCmd.Flags().Int("observe-timeout", 0, "Capture time after the last packet in ms")
	rootCmd.Flags().String("log-level", "", "Log level (debug|info|warn|error)")
	rootCmd.Flags().String("export", "", "Write results as JSON to this file")
	rootCmd.Flags().String("metrics-addr", "", "Serve Prometheus metrics on this address during the run")
	rootCmd.Flags().BoolVar(&dryRun, "dry-run", false, "Build and self-check every packet without sending")
	rootCmd.Flags().BoolVar(&listOnly, "list", false, "List scenarios and exit")
	rootCmd.Flags().StringVar(&inspectFile, "inspect", "", "Show GTP-U statistics of a pcap file and exit")

	if err := rootCmd.Execute(); err != nil {
		os.Exit(1)
	}
}

func run(cmd *cobra.Command, args []string) error {
	// Load configuration
	v := viper.New()
	config.SetDefaults(v)

	// Load config file
	if cfgFile != "" {
		v.SetConfigFile(cfgFile)
	} else {
		v.SetConfigName("config")
		v.SetConfigType("yaml")
		v.AddConfigPath(".")
	}

	if err := v.ReadInConfig(); err != nil {
		if cfgFile != "" {
			return fmt.Errorf("failed to read config file: %w", err)
		}
		// Config file not found is OK if using CLI flags
		log.Debug("No config file found, using defaults and CLI flags")
	}

	// Bind CLI flags (override config file values)
	for flag, key := range flagBindings {
		if err := v.BindPFlag(key, cmd.Flags().Lookup(flag)); err != nil {
			return fmt.Errorf("failed to bind flag %s: %w", flag, err)
		}
	}

	cfg, err := config.LoadWithViper(v)
	if err != nil {
		return fmt.Errorf("failed to load config: %w", err)
	}

	// Setup logging
	setupLogging(cfg)

	fmt.Printf("GTP-U Harness v%s\n", version)
	fmt.Println("==============================")

	if inspectFile != "" {
		return showInspect(inspectFile, uint16(cfg.UPF.Port))
	}

	if listOnly {
		return listScenarios(cfg)
	}

	if dryRun {
		if err := prepareDryRun(cfg); err != nil {
			return err
		}
	} else if err := cfg.Validate(); err != nil {
		return err
	}

	fmt.Print(cfg.Summary())
	fmt.Println()

	// Setup context with signal handling
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	sigCh := make(chan os.Signal, 1)
	signal.Notify(sigCh, syscall.SIGINT, syscall.SIGTERM)
	defer signal.Stop(sigCh)
	go func() {
		select {
		case sig := <-sigCh:
			log.WithField("signal", sig).Info("Received shutdown signal")
			cancel()
		case <-ctx.Done():
		}
	}()

	// Metrics endpoint
	var metrics *stats.Metrics
	if cfg.Metrics.Addr != "" {
		reg := prometheus.NewRegistry()
		metrics = stats.NewMetrics(reg)
		srv := serveMetrics(cfg.Metrics.Addr, reg)
		defer func() {
			shutdownCtx, shutdownCancel := context.WithTimeout(context.Background(), 5*time.Second)
			defer shutdownCancel()
			_ = srv.Shutdown(shutdownCtx)
		}()
	}

	// Session oracle
	orc, err := oracle.New(ctx, cfg.Oracle)
	if err != nil {
		return fmt.Errorf("failed to create session oracle: %w", err)
	}
	if orc != nil {
		defer oracle.Close(orc)
		if err := orc.Ping(ctx); err != nil {
			log.WithError(err).Warn("Session oracle not responding, verdicts may be inconclusive")
		}
	}

	sess, err := scenario.ResolveSession(ctx, cfg.Session, orc)
	if err != nil {
		return err
	}

	catalog, err := scenario.NewCatalog(cfg, sess)
	if err != nil {
		return err
	}
	selected, err := catalog.Select(cfg.Scenarios.Enabled)
	if err != nil {
		return err
	}

	// Packet transport
	sink, err := network.NewSink(network.SinkConfig{
		Kind:       cfg.Transport.Kind,
		LocalAddr:  cfg.Local.Address,
		LocalPort:  cfg.Local.Port,
		RemoteAddr: cfg.UPF.Address,
		RemotePort: cfg.UPF.Port,
		PcapFile:   cfg.Transport.PcapFile,
	})
	if err != nil {
		return fmt.Errorf("failed to open transport: %w", err)
	}
	defer sink.Close()

	collector := stats.NewCollector(metrics)
	reporter := stats.NewReporter(collector, cfg.Stats.ExportFile)

	runner := scenario.NewRunner(scenario.Options{
		UPFAddr:        net.ParseIP(cfg.UPF.Address),
		Port:           uint16(cfg.UPF.Port),
		ObserveTimeout: time.Duration(cfg.Timing.ObserveTimeoutMs) * time.Millisecond,
		Settle:         time.Duration(cfg.Timing.SettleMs) * time.Millisecond,
	}, injector.New(sink), captureOpener(cfg.Capture), orc, collector)

	fmt.Printf("Running %d scenarios against %s...\n", len(selected), cfg.UPF.Address)
	results, runErr := runner.RunAll(ctx, selected)
	switch {
	case runErr == nil:
	case ctx.Err() != nil:
		log.Info("Run interrupted by shutdown")
	default:
		log.WithError(runErr).Error("Run aborted")
	}

	// Print final results
	if cfg.Stats.Enabled {
		reporter.PrintFinalReport()
	}
	if err := reporter.ExportJSON(); err != nil {
		log.WithError(err).Warn("Failed to export results")
	}

	if errors.Is(runErr, scenario.ErrEndpointUnroutable) {
		return runErr
	}

	failed := 0
	for _, r := range results {
		if r.Verdict == types.VerdictFail {
			failed++
		}
	}
	if failed > 0 {
		return fmt.Errorf("%d of %d scenarios failed", failed, len(results))
	}
	return nil
}

// prepareDryRun swaps every network-facing component for a local one so each
// scenario's packets are only built and self-checked.
func prepareDryRun(cfg *config.Config) error {
	cfg.Transport.Kind = network.SinkDiscard
	cfg.Capture.Mode = "none"
	cfg.Oracle.Type = "none"
	cfg.Timing.PacketIntervalMs = 0
	cfg.Timing.SettleMs = 0
	cfg.Stats.Enabled = true

	if cfg.UPF.Address == "" {
		cfg.UPF.Address = "127.0.0.1"
	}
	if cfg.Session.TEID == 0 {
		cfg.Session.TEID = 1
	}
	if cfg.Session.UEAddress == "" {
		pool, err := session.NewUEAddrPool(cfg.Session.UEPool)
		if err != nil {
			return err
		}
		ue, err := pool.Allocate()
		if err != nil {
			return err
		}
		cfg.Session.UEAddress = ue.String()
	}

	fmt.Println("Dry-run mode: packets are built and self-checked, nothing is sent")
	return nil
}

func captureOpener(cfg config.CaptureConfig) observer.Opener {
	switch cfg.Mode {
	case "live":
		return observer.OpenerFunc(func(_ context.Context, f observer.Filter) (observer.Source, error) {
			return pcap.OpenLive(cfg.Interface, cfg.Snaplen, cfg.Promiscuous, f.SrcAddr, f.DstPort)
		})
	case "file":
		return observer.OpenerFunc(func(_ context.Context, _ observer.Filter) (observer.Source, error) {
			return pcap.OpenFile(cfg.File)
		})
	default:
		return nil
	}
}

func serveMetrics(addr string, reg *prometheus.Registry) *http.Server {
	mux := http.NewServeMux()
	mux.Handle("/metrics", promhttp.HandlerFor(reg, promhttp.HandlerOpts{}))
	srv := &http.Server{Addr: addr, Handler: mux, ReadHeaderTimeout: 5 * time.Second}

	go func() {
		if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			log.WithError(err).Error("Metrics server failed")
		}
	}()
	log.WithField("addr", addr).Info("Serving metrics")
	return srv
}

func listScenarios(cfg *config.Config) error {
	sess := scenario.Session{
		UEAddr:      net.ParseIP(cfg.Session.UEAddress),
		TEID:        cfg.Session.TEID,
		InvalidTEID: cfg.Session.InvalidTEID,
	}
	for _, a := range cfg.Session.WrongUEAddresses {
		sess.WrongUEAddrs = append(sess.WrongUEAddrs, net.ParseIP(a))
	}

	catalog, err := scenario.NewCatalog(cfg, sess)
	if err != nil {
		return err
	}

	fmt.Println("Scenarios:")
	for _, sc := range catalog.All() {
		fmt.Printf("  %-30s %-20s %3d pkts  %s\n", sc.Name, sc.Expect, sc.PacketCount(), sc.Description)
	}
	return nil
}

func showInspect(filename string, port uint16) error {
	summary, err := pcap.Inspect(filename, port)
	if err != nil {
		return err
	}

	fmt.Println("PCAP GTP-U Statistics:")
	fmt.Printf("  %-40s %d\n", "Packets:", summary.TotalPackets)
	fmt.Printf("  %-40s %d\n", "GTP-U packets:", summary.GTPUPackets)
	for _, teid := range summary.SortedTEIDs() {
		fmt.Printf("  %-40s %d\n", fmt.Sprintf("TEID 0x%08x:", teid), summary.TEIDs[teid])
	}
	for failure, count := range summary.Malformed {
		fmt.Printf("  %-40s %d\n", "Malformed ("+failure+"):", count)
	}
	return nil
}

func setupLogging(cfg *config.Config) {
	level, err := log.ParseLevel(cfg.Logging.Level)
	if err != nil {
		level = log.InfoLevel
	}
	log.SetLevel(level)
	log.SetFormatter(&log.TextFormatter{
		FullTimestamp:   true,
		TimestampFormat: "2006-01-02 15:04:05.000",
	})

	if cfg.Logging.File != "" {
		f, err := os.OpenFile(cfg.Logging.File, os.O_CREATE|os.O_WRONLY|os.O_APPEND, 0644)
		if err != nil {
			log.WithError(err).Warn("Failed to open log file, using console only")
		} else {
			log.SetOutput(f)
		}
	}
}
