// Package injector transmits materialized GTP-U packets toward the UPF.
package injector

import (
	"context"
	"fmt"
	"time"

	log "github.com/sirupsen/logrus"

	"gtpu-harness/internal/gtpu"
	"gtpu-harness/internal/network"
	"gtpu-harness/internal/packet"
	"gtpu-harness/pkg/types"
)

// SendError records a packet the transport refused.
type SendError struct {
	Index int
	TEID  uint32
	Err   error
}

func (e *SendError) Error() string {
	return fmt.Sprintf("packet %d (TEID 0x%08x): send failed: %v", e.Index, e.TEID, e.Err)
}

func (e *SendError) Unwrap() error { return e.Err }

// SelfCheckError records a packet whose encoded header did not decode the way
// its header mode requires. Such packets are never sent.
type SelfCheckError struct {
	Index int
	TEID  uint32
	Err   error
}

func (e *SelfCheckError) Error() string {
	return fmt.Sprintf("packet %d (TEID 0x%08x): %v", e.Index, e.TEID, e.Err)
}

func (e *SelfCheckError) Unwrap() error { return e.Err }

// Report summarizes one Inject call.
type Report struct {
	Sent     int
	Packets  []types.SentPacket
	Failures []error
}

// Injector sends packets through a Sink in order with fixed pacing.
type Injector struct {
	sink network.Sink
	log  *log.Entry
}

// New creates an injector over sink.
func New(sink network.Sink) *Injector {
	return &Injector{sink: sink, log: log.WithField("component", "injector")}
}

// Inject materializes each spec and sends it repeat times, sleeping delay
// between consecutive packets. Failures are recorded and skipped. A cancelled
// ctx stops the sequence; the report covers what was attempted.
func (i *Injector) Inject(ctx context.Context, specs []types.PacketSpec, delay time.Duration, repeat int) Report {
	if repeat < 1 {
		repeat = 1
	}

	var report Report
	index := 0
	total := len(specs) * repeat

	for _, spec := range specs {
		p, buildErr := packet.Build(spec)
		if buildErr == nil {
			buildErr = gtpu.Verify(p.Payload, spec.HeaderMode)
		}

		for r := 0; r < repeat; r++ {
			if ctx.Err() != nil {
				i.log.WithField("attempted", index).Info("Injection cancelled")
				return report
			}

			record := types.SentPacket{Index: index, TEID: spec.TEID, Mode: spec.HeaderMode}
			if p != nil {
				record.Size = p.Size()
			}

			if buildErr != nil {
				err := &SelfCheckError{Index: index, TEID: spec.TEID, Err: buildErr}
				record.Error = err.Error()
				report.Failures = append(report.Failures, err)
				i.log.WithError(buildErr).WithField("index", index).Warn("Packet failed self-check, not sent")
			} else if err := i.sink.Send(p); err != nil {
				sendErr := &SendError{Index: index, TEID: spec.TEID, Err: err}
				record.Error = sendErr.Error()
				report.Failures = append(report.Failures, sendErr)
				i.log.WithError(err).WithField("index", index).Warn("Send failed")
			} else {
				report.Sent++
				i.log.WithFields(log.Fields{
					"index": index,
					"teid":  fmt.Sprintf("0x%08x", spec.TEID),
					"mode":  spec.HeaderMode.String(),
					"size":  record.Size,
				}).Debug("Packet sent")
			}
			report.Packets = append(report.Packets, record)
			index++

			// Apply inter-packet delay
			if delay > 0 && index < total {
				select {
				case <-ctx.Done():
					return report
				case <-time.After(delay):
				}
			}
		}
	}

	return report
}
