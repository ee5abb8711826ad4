package stats

import (
	"encoding/json"
	"fmt"
	"os"
	"strings"
	"time"

	log "github.com/sirupsen/logrus"

	"gtpu-harness/pkg/types"
)

// Reporter outputs run results to console and/or file.
type Reporter struct {
	collector  *Collector
	exportFile string
}

// NewReporter creates a new reporter. An empty exportFile disables ExportJSON.
func NewReporter(collector *Collector, exportFile string) *Reporter {
	return &Reporter{
		collector:  collector,
		exportFile: exportFile,
	}
}

// PrintFinalReport prints the run summary.
func (r *Reporter) PrintFinalReport() {
	r.collector.Finish()
	fmt.Println(r.FormatReport())
}

type packetJSON struct {
	Index int    `json:"index"`
	TEID  string `json:"teid"`
	Mode  string `json:"mode"`
	Size  int    `json:"size"`
	Error string `json:"error,omitempty"`
}

type eventJSON struct {
	TEID       string    `json:"teid"`
	Src        string    `json:"src"`
	Dst        string    `json:"dst"`
	ObservedAt time.Time `json:"observed_at"`
	Length     int       `json:"length"`
	Malformed  bool      `json:"malformed,omitempty"`
	Failure    string    `json:"failure,omitempty"`
}

type resultJSON struct {
	Name          string       `json:"name"`
	Expectation   string       `json:"expectation"`
	Verdict       string       `json:"verdict"`
	SentCount     int          `json:"sent_count"`
	Packets       []packetJSON `json:"packets"`
	UplinkDelta   *int64       `json:"uplink_delta"`
	DownlinkDelta *int64       `json:"downlink_delta"`
	Captured      []eventJSON  `json:"captured"`
	Reasons       []string     `json:"reasons"`
	StartedAt     time.Time    `json:"started_at"`
	DurationMs    float64      `json:"duration_ms"`
}

func toResultJSON(r types.ScenarioResult) resultJSON {
	out := resultJSON{
		Name:        r.Name,
		Expectation: r.Expectation.String(),
		Verdict:     r.Verdict.String(),
		SentCount:   r.SentCount,
		Packets:     make([]packetJSON, 0, len(r.Sent)),
		Captured:    make([]eventJSON, 0, len(r.CapturedEvents)),
		Reasons:     append([]string{}, r.Reasons...),
		StartedAt:   r.StartedAt,
		DurationMs:  float64(r.Duration) / float64(time.Millisecond),
	}
	if r.DeltaKnown {
		ul, dl := r.UplinkDelta, r.DownlinkDelta
		out.UplinkDelta = &ul
		out.DownlinkDelta = &dl
	}
	for _, p := range r.Sent {
		out.Packets = append(out.Packets, packetJSON{
			Index: p.Index,
			TEID:  fmt.Sprintf("0x%08x", p.TEID),
			Mode:  p.Mode.String(),
			Size:  p.Size,
			Error: p.Error,
		})
	}
	for _, ev := range r.CapturedEvents {
		out.Captured = append(out.Captured, eventJSON{
			TEID:       fmt.Sprintf("0x%08x", ev.TEID),
			Src:        ev.SrcAddr.String(),
			Dst:        ev.DstAddr.String(),
			ObservedAt: ev.ObservedAt,
			Length:     ev.Length,
			Malformed:  ev.Malformed,
			Failure:    ev.Failure,
		})
	}
	return out
}

// MarshalResults encodes the collected results and totals as indented JSON.
func (r *Reporter) MarshalResults() ([]byte, error) {
	snap := r.collector.Snapshot()
	min, avg, max, p99 := snap.QueryTimeStats()

	results := make([]resultJSON, 0, len(snap.Results))
	for _, res := range snap.Results {
		results = append(results, toResultJSON(res))
	}

	verdicts := make(map[string]uint64, len(snap.Verdicts))
	for v, n := range snap.Verdicts {
		verdicts[v.String()] = n
	}

	export := map[string]interface{}{
		"start_time":   snap.StartTime.Format(time.RFC3339),
		"end_time":     snap.EndTime.Format(time.RFC3339),
		"duration_sec": snap.Duration().Seconds(),
		"verdicts":     verdicts,
		"packets": map[string]interface{}{
			"sent":               snap.PacketsSent,
			"send_failures":      snap.SendFailures,
			"captured":           snap.CapturedEvents,
			"captured_malformed": snap.MalformedEvents,
		},
		"oracle": map[string]interface{}{
			"queries":  snap.OracleQueries,
			"failures": snap.OracleFailures,
			"query_times_ms": map[string]interface{}{
				"min": float64(min) / float64(time.Millisecond),
				"avg": float64(avg) / float64(time.Millisecond),
				"max": float64(max) / float64(time.Millisecond),
				"p99": float64(p99) / float64(time.Millisecond),
			},
		},
		"scenarios": results,
	}

	data, err := json.MarshalIndent(export, "", "  ")
	if err != nil {
		return nil, fmt.Errorf("failed to marshal results JSON: %w", err)
	}
	return data, nil
}

// ExportJSON writes the results to the configured export file.
func (r *Reporter) ExportJSON() error {
	if r.exportFile == "" {
		return nil
	}

	data, err := r.MarshalResults()
	if err != nil {
		return err
	}

	if err := os.WriteFile(r.exportFile, data, 0644); err != nil {
		return fmt.Errorf("failed to write results file %s: %w", r.exportFile, err)
	}

	log.WithField("file", r.exportFile).Info("Results exported to JSON")
	return nil
}

// FormatReport generates a formatted summary of every scenario.
func (r *Reporter) FormatReport() string {
	snap := r.collector.Snapshot()
	elapsed := snap.Duration()

	var sb strings.Builder
	sb.WriteString(fmt.Sprintf("\n=== GTP-U Harness Results (elapsed: %s) ===\n", elapsed.Round(time.Millisecond)))

	for _, res := range snap.Results {
		sb.WriteString(fmt.Sprintf("  %-28s %-13s expect=%-20s sent=%-3d ul=%-4s dl=%-4s captured=%d\n",
			res.Name, res.Verdict, res.Expectation, res.SentCount,
			deltaString(res.DeltaKnown, res.UplinkDelta),
			deltaString(res.DeltaKnown, res.DownlinkDelta),
			len(res.CapturedEvents)))
		for _, reason := range res.Reasons {
			sb.WriteString(fmt.Sprintf("      - %s\n", reason))
		}
	}

	sb.WriteString("Verdicts:\n")
	sb.WriteString(fmt.Sprintf("  PASS: %d  |  FAIL: %d  |  INCONCLUSIVE: %d\n",
		snap.Verdicts[types.VerdictPass], snap.Verdicts[types.VerdictFail], snap.Verdicts[types.VerdictInconclusive]))

	sb.WriteString("Packets:\n")
	sb.WriteString(fmt.Sprintf("  Sent: %d  |  Send failures: %d  |  Downlink: %d  |  Malformed downlink: %d\n",
		snap.PacketsSent, snap.SendFailures, snap.CapturedEvents, snap.MalformedEvents))

	if len(snap.QueryTimes) > 0 {
		min, avg, max, p99 := snap.QueryTimeStats()
		sb.WriteString("Oracle:\n")
		sb.WriteString(fmt.Sprintf("  Queries: %d  |  Failures: %d\n", snap.OracleQueries, snap.OracleFailures))
		sb.WriteString(fmt.Sprintf("  Min: %s  |  Avg: %s  |  Max: %s  |  P99: %s\n",
			min.Round(time.Microsecond), avg.Round(time.Microsecond),
			max.Round(time.Microsecond), p99.Round(time.Microsecond)))
	}

	sb.WriteString("================================================\n")
	return sb.String()
}

func deltaString(known bool, d int64) string {
	if !known {
		return "n/a"
	}
	return fmt.Sprintf("%d", d)
}
