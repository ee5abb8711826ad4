// Package observer passively captures downlink GTP-U traffic from the UPF
// while a scenario injects uplink packets.
package observer

import (
	"context"
	"errors"
	"net"
	"sync"
	"time"

	"github.com/google/gopacket"
	"github.com/google/gopacket/layers"
	log "github.com/sirupsen/logrus"
	"gopkg.in/tomb.v2"

	"gtpu-harness/internal/gtpu"
	"gtpu-harness/pkg/types"
)

var (
	ErrNotStarted     = errors.New("observer not started")
	ErrAlreadyStarted = errors.New("observer already started")
	ErrAlreadyDrained = errors.New("observer already drained")
)

// State is the observer lifecycle stage.
type State int

const (
	Idle State = iota
	Listening
	Stopped
)

func (s State) String() string {
	switch s {
	case Idle:
		return "idle"
	case Listening:
		return "listening"
	case Stopped:
		return "stopped"
	default:
		return "unknown"
	}
}

// Filter selects the packets that become events. Zero fields match anything.
type Filter struct {
	SrcAddr net.IP
	DstPort uint16
}

// Matches reports whether an outer IPv4/UDP pair passes the filter.
func (f Filter) Matches(ip *layers.IPv4, udp *layers.UDP) bool {
	if f.SrcAddr != nil && !ip.SrcIP.Equal(f.SrcAddr) {
		return false
	}
	if f.DstPort != 0 && uint16(udp.DstPort) != f.DstPort {
		return false
	}
	return true
}

// Source delivers captured packets. Close releases the underlying handle and
// must be safe to call once the capture loop is done with it.
type Source interface {
	Packets() <-chan gopacket.Packet
	Close()
}

// Opener acquires a capture source for a filter.
type Opener interface {
	Open(ctx context.Context, f Filter) (Source, error)
}

// OpenerFunc adapts a function to Opener.
type OpenerFunc func(ctx context.Context, f Filter) (Source, error)

func (fn OpenerFunc) Open(ctx context.Context, f Filter) (Source, error) {
	return fn(ctx, f)
}

// Observer runs one capture. It is single-use: Start, then Stop or wait for
// the deadline, then Drain.
type Observer struct {
	opener Opener

	mu      sync.Mutex
	state   State
	t       *tomb.Tomb
	events  []types.CapturedEvent
	drained bool

	// opening is set while Start waits on the opener; stopEarly records a
	// Stop that arrived in that window.
	opening   bool
	stopEarly bool

	log *log.Entry
}

// New creates an idle observer.
func New(opener Opener) *Observer {
	return &Observer{
		opener: opener,
		log:    log.WithField("component", "observer"),
	}
}

// State returns the current lifecycle stage.
func (o *Observer) State() State {
	o.mu.Lock()
	defer o.mu.Unlock()
	return o.state
}

// Start acquires the capture source and begins collecting matching packets
// until deadline elapses, Stop is called or ctx is cancelled. The opener runs
// without holding the observer lock.
func (o *Observer) Start(ctx context.Context, filter Filter, deadline time.Duration) error {
	o.mu.Lock()
	if o.state != Idle || o.opening {
		o.mu.Unlock()
		return ErrAlreadyStarted
	}
	o.opening = true
	o.mu.Unlock()

	src, err := o.opener.Open(ctx, filter)

	o.mu.Lock()
	defer o.mu.Unlock()
	o.opening = false
	if err != nil {
		o.stopEarly = false
		return err
	}

	o.log.WithFields(log.Fields{
		"src":      filter.SrcAddr,
		"dst_port": filter.DstPort,
		"deadline": deadline,
	}).Debug("Starting capture")

	o.state = Listening
	o.t = &tomb.Tomb{}
	o.t.Go(func() error {
		return o.loop(ctx, src, filter, deadline)
	})
	if o.stopEarly {
		o.t.Kill(nil)
	}
	return nil
}

func (o *Observer) loop(ctx context.Context, src Source, filter Filter, deadline time.Duration) error {
	defer func() {
		src.Close()
		o.mu.Lock()
		o.state = Stopped
		o.mu.Unlock()
	}()

	timer := time.NewTimer(deadline)
	defer timer.Stop()

	packets := src.Packets()
	for {
		select {
		case p, ok := <-packets:
			if !ok {
				return nil
			}
			o.handle(p, filter)
		case <-timer.C:
			o.drainBuffered(packets, filter)
			return nil
		case <-o.t.Dying():
			o.drainBuffered(packets, filter)
			return nil
		case <-ctx.Done():
			discardBuffered(packets)
			return nil
		}
	}
}

// discardBuffered empties the source channel without recording, so a
// producer blocked on a full channel can observe Close.
func discardBuffered(packets <-chan gopacket.Packet) {
	for {
		select {
		case _, ok := <-packets:
			if !ok {
				return
			}
		default:
			return
		}
	}
}

// drainBuffered consumes packets the source already holds without waiting
// for new ones.
func (o *Observer) drainBuffered(packets <-chan gopacket.Packet, filter Filter) {
	for {
		select {
		case p, ok := <-packets:
			if !ok {
				return
			}
			o.handle(p, filter)
		default:
			return
		}
	}
}

func (o *Observer) handle(p gopacket.Packet, filter Filter) {
	ip, ok := p.Layer(layers.LayerTypeIPv4).(*layers.IPv4)
	if !ok {
		return
	}
	udp, ok := p.Layer(layers.LayerTypeUDP).(*layers.UDP)
	if !ok {
		return
	}
	if !filter.Matches(ip, udp) {
		return
	}

	ev := types.CapturedEvent{
		SrcAddr:    ip.SrcIP,
		DstAddr:    ip.DstIP,
		ObservedAt: p.Metadata().Timestamp,
		Length:     len(udp.Payload),
	}
	if ev.ObservedAt.IsZero() {
		ev.ObservedAt = time.Now()
	}

	h, _, err := gtpu.Decode(udp.Payload)
	if err != nil {
		ev.Malformed = true
		ev.Failure = gtpu.KindOf(err).String()
		ev.TEID, _ = gtpu.PeekTEID(udp.Payload)
		o.log.WithError(err).WithField("src", ip.SrcIP).Debug("Malformed downlink packet")
	} else {
		ev.TEID = h.TEID
	}

	o.mu.Lock()
	o.events = append(o.events, ev)
	o.mu.Unlock()
}

// Stop ends the capture and waits for the loop to exit. It is idempotent and
// safe from any goroutine; no event is recorded after it returns. A Stop that
// races an in-flight Start ends the capture as soon as it begins.
func (o *Observer) Stop() error {
	o.mu.Lock()
	t := o.t
	if t == nil && o.opening {
		o.stopEarly = true
	}
	o.mu.Unlock()

	if t == nil {
		return nil
	}
	t.Kill(nil)
	return t.Wait()
}

// Wait blocks until the capture loop has exited.
func (o *Observer) Wait() error {
	o.mu.Lock()
	t := o.t
	o.mu.Unlock()

	if t == nil {
		return ErrNotStarted
	}
	return t.Wait()
}

// Drain waits for the capture loop to exit and hands over the recorded
// events in arrival order. It succeeds exactly once.
func (o *Observer) Drain() ([]types.CapturedEvent, error) {
	o.mu.Lock()
	if o.t == nil {
		o.mu.Unlock()
		return nil, ErrNotStarted
	}
	if o.drained {
		o.mu.Unlock()
		return nil, ErrAlreadyDrained
	}
	o.drained = true
	t := o.t
	o.mu.Unlock()

	err := t.Wait()

	o.mu.Lock()
	defer o.mu.Unlock()
	events := o.events
	o.events = nil
	o.state = Stopped
	return events, err
}
