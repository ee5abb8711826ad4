package scenario

import (
	"context"
	"errors"
	"fmt"
	"net"
	"syscall"
	"time"

	log "github.com/sirupsen/logrus"
	"golang.org/x/sync/errgroup"

	"gtpu-harness/internal/injector"
	"gtpu-harness/internal/observer"
	"gtpu-harness/internal/oracle"
	"gtpu-harness/internal/stats"
	"gtpu-harness/pkg/types"
)

// ErrEndpointUnroutable aborts a batch when no packet of a scenario could be
// routed toward the UPF.
var ErrEndpointUnroutable = errors.New("endpoint unroutable")

// Options are the fixed parameters of every scenario run.
type Options struct {
	// UPFAddr and Port select downlink packets from the UPF.
	UPFAddr net.IP
	Port    uint16

	// ObserveTimeout is how long capture continues after the last packet.
	ObserveTimeout time.Duration

	// Settle is the pause before the after-snapshot when nothing is captured.
	Settle time.Duration
}

// Runner executes scenarios one at a time.
type Runner struct {
	opts      Options
	injector  *injector.Injector
	opener    observer.Opener
	oracle    oracle.Oracle
	collector *stats.Collector
	log       *log.Entry
}

// NewRunner creates a runner. opener, orc and collector may each be nil: a nil
// opener disables capture and a nil orc leaves the counters unavailable.
func NewRunner(opts Options, inj *injector.Injector, opener observer.Opener, orc oracle.Oracle, collector *stats.Collector) *Runner {
	return &Runner{
		opts:      opts,
		injector:  inj,
		opener:    opener,
		oracle:    orc,
		collector: collector,
		log:       log.WithField("upf", opts.UPFAddr),
	}
}

// RunAll runs the scenarios in order. It stops early when ctx is cancelled or
// a scenario proves the UPF unroutable, returning the results so far.
func (r *Runner) RunAll(ctx context.Context, scenarios []Scenario) ([]types.ScenarioResult, error) {
	results := make([]types.ScenarioResult, 0, len(scenarios))
	for _, sc := range scenarios {
		if err := ctx.Err(); err != nil {
			return results, err
		}

		res, report := r.run(ctx, sc)
		results = append(results, res)

		if unroutable(report) {
			r.log.WithField("scenario", sc.Name).Error("Every packet failed as unroutable, aborting run")
			return results, fmt.Errorf("%w: scenario %s: %v", ErrEndpointUnroutable, sc.Name, report.Failures[0])
		}
	}
	return results, ctx.Err()
}

// Run executes a single scenario.
func (r *Runner) Run(ctx context.Context, sc Scenario) types.ScenarioResult {
	res, _ := r.run(ctx, sc)
	return res
}

func (r *Runner) run(ctx context.Context, sc Scenario) (types.ScenarioResult, injector.Report) {
	entry := r.log.WithFields(log.Fields{
		"scenario": sc.Name,
		"expect":   sc.Expect.String(),
		"packets":  sc.PacketCount(),
	})
	entry.Info("Running scenario")

	res := types.ScenarioResult{
		Name:        sc.Name,
		Expectation: sc.Expect,
		StartedAt:   time.Now(),
	}

	before, haveBefore := r.snapshot(ctx, sc, &res, "before")

	var obs *observer.Observer
	if r.opener != nil {
		obs = observer.New(r.opener)
		filter := observer.Filter{SrcAddr: r.opts.UPFAddr, DstPort: r.opts.Port}
		if err := obs.Start(ctx, filter, sc.Span()+r.opts.ObserveTimeout); err != nil {
			res.Reasons = append(res.Reasons, fmt.Sprintf("capture unavailable: %v", err))
			entry.WithError(err).Warn("Capture unavailable")
			obs = nil
		} else {
			defer obs.Stop()
		}
	}

	var report injector.Report
	g, gctx := errgroup.WithContext(ctx)
	g.Go(func() error {
		report = r.injector.Inject(gctx, sc.Packets, sc.Interval, sc.Repeat)
		return nil
	})
	if obs != nil {
		g.Go(obs.Wait)
	}
	if err := g.Wait(); err != nil {
		res.Reasons = append(res.Reasons, fmt.Sprintf("capture failed: %v", err))
	}

	res.SentCount = report.Sent
	res.Sent = report.Packets
	for _, f := range report.Failures {
		res.Reasons = append(res.Reasons, f.Error())
	}

	if obs != nil {
		events, err := obs.Drain()
		if err != nil {
			res.Reasons = append(res.Reasons, fmt.Sprintf("capture failed: %v", err))
		}
		res.CapturedEvents = events
	} else if r.opts.Settle > 0 {
		select {
		case <-ctx.Done():
		case <-time.After(r.opts.Settle):
		}
	}

	var delta *types.SnapshotDelta
	if haveBefore {
		if after, ok := r.snapshot(ctx, sc, &res, "after"); ok {
			d, err := oracle.Delta(before, after)
			if err != nil {
				res.Reasons = append(res.Reasons, err.Error())
				res.Verdict = types.VerdictFail
				r.finish(entry, &res)
				return res, report
			}
			delta = &d
			res.UplinkDelta = d.UplinkPackets
			res.DownlinkDelta = d.DownlinkPackets
			res.DeltaKnown = true
		}
	}

	verdict, reasons := Correlate(Evidence{
		Expect:    sc.Expect,
		SentCount: report.Sent,
		Packets:   report.Packets,
		Delta:     delta,
		Events:    res.CapturedEvents,
	})
	res.Verdict = verdict
	res.Reasons = append(res.Reasons, reasons...)

	r.finish(entry, &res)
	return res, report
}

// snapshot reads the scenario's session counters. Errors become reasons
// unless the scenario tolerates a missing session.
func (r *Runner) snapshot(ctx context.Context, sc Scenario, res *types.ScenarioResult, phase string) (types.SessionSnapshot, bool) {
	if r.oracle == nil || sc.UEAddr == nil {
		return types.SessionSnapshot{}, false
	}

	start := time.Now()
	snap, err := r.oracle.Snapshot(ctx, sc.UEAddr)
	if r.collector != nil {
		r.collector.RecordOracleQuery(time.Since(start), err)
	}
	if err != nil {
		if sc.AllowMissingSession && errors.Is(err, oracle.ErrNotFound) {
			r.log.WithField("scenario", sc.Name).Debug("Session not found, counters unavailable")
			return types.SessionSnapshot{}, false
		}
		res.Reasons = append(res.Reasons, fmt.Sprintf("%s snapshot: %v", phase, err))
		return types.SessionSnapshot{}, false
	}
	return snap, true
}

func (r *Runner) finish(entry *log.Entry, res *types.ScenarioResult) {
	res.Duration = time.Since(res.StartedAt)
	if r.collector != nil {
		r.collector.RecordResult(*res)
	}

	fields := log.Fields{
		"verdict":  res.Verdict.String(),
		"sent":     res.SentCount,
		"captured": len(res.CapturedEvents),
	}
	if res.DeltaKnown {
		fields["ul_delta"] = res.UplinkDelta
		fields["dl_delta"] = res.DownlinkDelta
	}
	entry.WithFields(fields).Info("Scenario finished")
}

// unroutable reports whether every attempted packet failed with a routing
// error from the network stack.
func unroutable(report injector.Report) bool {
	if report.Sent > 0 || len(report.Failures) == 0 {
		return false
	}
	for _, err := range report.Failures {
		if !errors.Is(err, syscall.ENETUNREACH) && !errors.Is(err, syscall.EHOSTUNREACH) {
			return false
		}
	}
	return true
}
