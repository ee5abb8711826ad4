// Package scenario builds the test catalog and runs each scenario against the
// UPF: inject, observe, query counters, correlate.
package scenario

import (
	"fmt"
	"net"
	"sort"
	"strings"
	"time"

	"gtpu-harness/internal/config"
	"gtpu-harness/pkg/types"
)

// Scenario is a named packet sequence with an expected UPF behavior.
type Scenario struct {
	Name        string
	Description string
	Expect      types.Expectation
	Packets     []types.PacketSpec
	Interval    time.Duration
	Repeat      int

	// UEAddr selects the session whose counters bracket the run. nil skips
	// the oracle.
	UEAddr net.IP

	// AllowMissingSession treats a NotFound snapshot as unavailable counters
	// instead of an error.
	AllowMissingSession bool
}

// PacketCount is the number of packets the scenario transmits.
func (s Scenario) PacketCount() int {
	repeat := s.Repeat
	if repeat < 1 {
		repeat = 1
	}
	return len(s.Packets) * repeat
}

// Span is the time the injector needs for the whole sequence.
func (s Scenario) Span() time.Duration {
	n := s.PacketCount()
	if n < 2 {
		return 0
	}
	return time.Duration(n-1) * s.Interval
}

var invalidTEIDs = []uint32{0x00000000, 0xFFFFFFFF, 0x12345678, 0xCAFEBABE, 0xBAADF00D}

const invalidTEIDInterval = 300 * time.Millisecond

// Catalog is the ordered set of scenarios available for a run.
type Catalog struct {
	scenarios []Scenario
	byName    map[string]int
}

// NewCatalog builds the built-in scenarios for sess followed by the custom
// scenarios from cfg.
func NewCatalog(cfg *config.Config, sess Session) (*Catalog, error) {
	b := builder{
		outerSrc: net.ParseIP(cfg.Local.Address),
		outerDst: net.ParseIP(cfg.UPF.Address),
		port:     uint16(cfg.UPF.Port),
		innerDst: net.ParseIP(cfg.Session.InnerDst),
		interval: time.Duration(cfg.Timing.PacketIntervalMs) * time.Millisecond,
		count:    cfg.Scenarios.Count,
		sess:     sess,
	}

	c := &Catalog{byName: make(map[string]int)}
	for _, sc := range b.builtins(cfg.Scenarios.Sizes) {
		c.add(sc)
	}
	for _, cs := range cfg.Scenarios.Custom {
		sc, err := b.custom(cs)
		if err != nil {
			return nil, fmt.Errorf("custom scenario %q: %w", cs.Name, err)
		}
		if _, exists := c.byName[sc.Name]; exists {
			return nil, fmt.Errorf("custom scenario %q shadows a built-in scenario", sc.Name)
		}
		c.add(sc)
	}
	return c, nil
}

func (c *Catalog) add(sc Scenario) {
	c.byName[sc.Name] = len(c.scenarios)
	c.scenarios = append(c.scenarios, sc)
}

// All returns every scenario in catalog order.
func (c *Catalog) All() []Scenario {
	out := make([]Scenario, len(c.scenarios))
	copy(out, c.scenarios)
	return out
}

// Names returns the scenario names in catalog order.
func (c *Catalog) Names() []string {
	names := make([]string, len(c.scenarios))
	for i, sc := range c.scenarios {
		names[i] = sc.Name
	}
	return names
}

// Select returns the named scenarios in catalog order. An empty list selects
// everything. A trailing "*" matches by prefix, so "malformed_*" selects every
// corruption mode.
func (c *Catalog) Select(names []string) ([]Scenario, error) {
	if len(names) == 0 {
		return c.All(), nil
	}

	picked := make(map[int]bool)
	var unknown []string
	for _, name := range names {
		if prefix, ok := strings.CutSuffix(name, "*"); ok {
			matched := false
			for i, sc := range c.scenarios {
				if strings.HasPrefix(sc.Name, prefix) {
					picked[i] = true
					matched = true
				}
			}
			if !matched {
				unknown = append(unknown, name)
			}
			continue
		}
		i, ok := c.byName[name]
		if !ok {
			unknown = append(unknown, name)
			continue
		}
		picked[i] = true
	}
	if len(unknown) > 0 {
		return nil, fmt.Errorf("unknown scenarios: %s", strings.Join(unknown, ", "))
	}

	idx := make([]int, 0, len(picked))
	for i := range picked {
		idx = append(idx, i)
	}
	sort.Ints(idx)

	out := make([]Scenario, 0, len(idx))
	for _, i := range idx {
		out = append(out, c.scenarios[i])
	}
	return out, nil
}

type builder struct {
	outerSrc net.IP
	outerDst net.IP
	port     uint16
	innerDst net.IP
	interval time.Duration
	count    int
	sess     Session
}

func (b builder) spec(teid uint32, innerSrc net.IP) types.PacketSpec {
	return types.PacketSpec{
		OuterSrc: b.outerSrc,
		OuterDst: b.outerDst,
		Port:     b.port,
		TEID:     teid,
		InnerSrc: innerSrc,
		InnerDst: b.innerDst,
	}
}

func (b builder) builtins(sizes []int) []Scenario {
	ue := b.sess.UEAddr
	var out []Scenario

	out = append(out, Scenario{
		Name:                "no_pdr_match",
		Description:         fmt.Sprintf("TEID 0x%08x matches no PDR; the UPF must drop", b.sess.InvalidTEID),
		Expect:              types.ExpectNoForwarding,
		Packets:             []types.PacketSpec{b.spec(b.sess.InvalidTEID, ue)},
		Interval:            b.interval,
		Repeat:              b.count,
		UEAddr:              ue,
		AllowMissingSession: true,
	})

	invalid := make([]types.PacketSpec, 0, len(invalidTEIDs))
	for _, teid := range invalidTEIDs {
		if teid == b.sess.TEID {
			continue
		}
		invalid = append(invalid, b.spec(teid, ue))
	}
	out = append(out, Scenario{
		Name:                "invalid_teid",
		Description:         "reserved and arbitrary TEIDs; the UPF must drop every one",
		Expect:              types.ExpectNoForwarding,
		Packets:             invalid,
		Interval:            invalidTEIDInterval,
		Repeat:              1,
		UEAddr:              ue,
		AllowMissingSession: true,
	})

	wrong := make([]types.PacketSpec, 0, len(b.sess.WrongUEAddrs))
	for _, addr := range b.sess.WrongUEAddrs {
		wrong = append(wrong, b.spec(b.sess.TEID, addr))
	}
	out = append(out, Scenario{
		Name:                "wrong_ue_ip",
		Description:         "valid TEID carrying an inner source bound to no session; the UPF must drop",
		Expect:              types.ExpectNoForwarding,
		Packets:             wrong,
		Interval:            b.interval,
		Repeat:              1,
		UEAddr:              ue,
		AllowMissingSession: true,
	})

	for _, mode := range types.AllCorruptionModes {
		spec := b.spec(b.sess.TEID, ue)
		spec.HeaderMode = mode
		out = append(out, Scenario{
			Name:                "malformed_" + mode.String(),
			Description:         fmt.Sprintf("valid TEID with a %s header; the UPF must drop", mode),
			Expect:              types.ExpectNoForwarding,
			Packets:             []types.PacketSpec{spec},
			Interval:            b.interval,
			Repeat:              b.count,
			UEAddr:              ue,
			AllowMissingSession: true,
		})
	}

	oversized := make([]types.PacketSpec, 0, len(sizes))
	for i, size := range sizes {
		spec := b.spec(b.sess.TEID, ue)
		spec.TotalSize = size
		spec.Seq = uint16(i)
		oversized = append(oversized, spec)
	}
	out = append(out, Scenario{
		Name:        "mtu_exceeded",
		Description: "escalating outer sizes around the path MTU; fragmentation handling is reported, not judged",
		Expect:      types.ExpectInconclusiveAllowed,
		Packets:     oversized,
		Interval:    b.interval,
		Repeat:      1,
		UEAddr:      ue,
	})

	echo := make([]types.PacketSpec, 0, b.count)
	for i := 0; i < b.count; i++ {
		spec := b.spec(b.sess.TEID, ue)
		spec.Seq = uint16(i)
		echo = append(echo, spec)
	}
	out = append(out, Scenario{
		Name:        "valid_traffic",
		Description: "echo requests on the session's TEID; the UPF must forward and answer",
		Expect:      types.ExpectForwarded,
		Packets:     echo,
		Interval:    b.interval,
		Repeat:      1,
		UEAddr:      ue,
	})

	return out
}

func (b builder) custom(cs config.CustomScenario) (Scenario, error) {
	expect, err := types.ParseExpectation(cs.Expect)
	if err != nil {
		return Scenario{}, err
	}
	mode, err := types.ParseHeaderMode(cs.Mode)
	if err != nil {
		return Scenario{}, err
	}

	innerSrc := b.sess.UEAddr
	if cs.InnerSrc != "" {
		innerSrc = net.ParseIP(cs.InnerSrc)
	}
	innerDst := b.innerDst
	if cs.InnerDst != "" {
		innerDst = net.ParseIP(cs.InnerDst)
	}
	teids := cs.TEIDs
	if len(teids) == 0 {
		teids = []uint32{b.sess.TEID}
	}
	sizes := cs.Sizes
	if len(sizes) == 0 {
		sizes = []int{0}
	}
	interval := b.interval
	if cs.IntervalMs > 0 {
		interval = time.Duration(cs.IntervalMs) * time.Millisecond
	}
	repeat := cs.Count
	if repeat == 0 {
		repeat = 1
	}

	var specs []types.PacketSpec
	for _, teid := range teids {
		for _, size := range sizes {
			spec := b.spec(teid, innerSrc)
			spec.InnerDst = innerDst
			spec.HeaderMode = mode
			spec.MessageType = cs.MessageType
			spec.TotalSize = size
			spec.InnerPayloadSize = cs.PayloadSize
			spec.Seq = uint16(len(specs))
			specs = append(specs, spec)
		}
	}

	desc := cs.Description
	if desc == "" {
		desc = fmt.Sprintf("custom: %d packets, expect %s", len(specs)*repeat, expect)
	}

	return Scenario{
		Name:                cs.Name,
		Description:         desc,
		Expect:              expect,
		Packets:             specs,
		Interval:            interval,
		Repeat:              repeat,
		UEAddr:              b.sess.UEAddr,
		AllowMissingSession: expect != types.ExpectForwarded,
	}, nil
}
