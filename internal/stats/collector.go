package stats

import (
	"errors"
	"sort"
	"strconv"
	"sync"
	"time"

	"gtpu-harness/internal/oracle"
	"gtpu-harness/pkg/types"
)

// Collector aggregates the results of a run.
type Collector struct {
	StartTime time.Time
	EndTime   time.Time

	Results  []types.ScenarioResult
	Verdicts map[types.Verdict]uint64

	PacketsSent     uint64
	SendFailures    uint64
	CapturedEvents  uint64
	MalformedEvents uint64

	OracleQueries  uint64
	OracleFailures uint64
	QueryTimes     []time.Duration

	metrics *Metrics
	mu      sync.Mutex
}

// NewCollector creates a collector. metrics may be nil.
func NewCollector(metrics *Metrics) *Collector {
	return &Collector{
		StartTime: time.Now(),
		Verdicts:  make(map[types.Verdict]uint64),
		metrics:   metrics,
	}
}

// RecordResult adds a finished scenario.
func (c *Collector) RecordResult(r types.ScenarioResult) {
	var failures, malformed uint64
	for _, p := range r.Sent {
		if p.Error != "" {
			failures++
		}
	}
	for _, ev := range r.CapturedEvents {
		if ev.Malformed {
			malformed++
		}
	}
	captured := uint64(len(r.CapturedEvents))

	c.mu.Lock()
	c.Results = append(c.Results, r)
	c.Verdicts[r.Verdict]++
	c.PacketsSent += uint64(r.SentCount)
	c.SendFailures += failures
	c.CapturedEvents += captured
	c.MalformedEvents += malformed
	c.mu.Unlock()

	if c.metrics == nil {
		return
	}
	c.metrics.PacketsSent.WithLabelValues(r.Name).Add(float64(r.SentCount))
	c.metrics.SendFailures.WithLabelValues(r.Name).Add(float64(failures))
	c.metrics.CapturedEvents.WithLabelValues(r.Name, strconv.FormatBool(false)).Add(float64(captured - malformed))
	c.metrics.CapturedEvents.WithLabelValues(r.Name, strconv.FormatBool(true)).Add(float64(malformed))
	c.metrics.Verdicts.WithLabelValues(r.Name, r.Verdict.String()).Inc()
}

// RecordOracleQuery records one snapshot or ping and its outcome.
func (c *Collector) RecordOracleQuery(d time.Duration, err error) {
	result := "ok"
	switch {
	case err == nil:
	case errors.Is(err, oracle.ErrNotFound):
		result = "not_found"
	default:
		result = "unreachable"
	}

	c.mu.Lock()
	c.OracleQueries++
	if err != nil {
		c.OracleFailures++
	}
	c.QueryTimes = append(c.QueryTimes, d)
	c.mu.Unlock()

	if c.metrics != nil {
		c.metrics.observeOracle(d, result)
	}
}

// Finish marks the end of the collection period.
func (c *Collector) Finish() {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.EndTime = time.Now()
}

// Duration returns the elapsed time.
func (c *Collector) Duration() time.Duration {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.EndTime.IsZero() {
		return time.Since(c.StartTime)
	}
	return c.EndTime.Sub(c.StartTime)
}

// QueryTimeStats returns min, avg, max, and p99 oracle query times.
func (c *Collector) QueryTimeStats() (min, avg, max, p99 time.Duration) {
	c.mu.Lock()
	defer c.mu.Unlock()

	if len(c.QueryTimes) == 0 {
		return 0, 0, 0, 0
	}

	sorted := make([]time.Duration, len(c.QueryTimes))
	copy(sorted, c.QueryTimes)
	sort.Slice(sorted, func(i, j int) bool { return sorted[i] < sorted[j] })

	min = sorted[0]
	max = sorted[len(sorted)-1]

	var total time.Duration
	for _, d := range sorted {
		total += d
	}
	avg = total / time.Duration(len(sorted))

	p99Idx := int(float64(len(sorted)) * 0.99)
	if p99Idx >= len(sorted) {
		p99Idx = len(sorted) - 1
	}
	p99 = sorted[p99Idx]

	return
}

// Snapshot returns a copy of the current statistics (thread-safe).
func (c *Collector) Snapshot() *Collector {
	c.mu.Lock()
	defer c.mu.Unlock()

	snap := &Collector{
		StartTime:       c.StartTime,
		EndTime:         c.EndTime,
		Results:         make([]types.ScenarioResult, len(c.Results)),
		Verdicts:        make(map[types.Verdict]uint64, len(c.Verdicts)),
		PacketsSent:     c.PacketsSent,
		SendFailures:    c.SendFailures,
		CapturedEvents:  c.CapturedEvents,
		MalformedEvents: c.MalformedEvents,
		OracleQueries:   c.OracleQueries,
		OracleFailures:  c.OracleFailures,
		QueryTimes:      make([]time.Duration, len(c.QueryTimes)),
	}
	copy(snap.Results, c.Results)
	copy(snap.QueryTimes, c.QueryTimes)
	for k, v := range c.Verdicts {
		snap.Verdicts[k] = v
	}

	return snap
}
