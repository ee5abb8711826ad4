package scenario

import (
	"context"
	"errors"
	"net"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"gtpu-harness/internal/config"
	"gtpu-harness/pkg/types"
)

func testSession() Session {
	return Session{
		UEAddr:       ueAddr,
		TEID:         sessionTEID,
		InvalidTEID:  0xDEADBEEF,
		WrongUEAddrs: []net.IP{net.ParseIP("10.60.0.200"), net.ParseIP("10.99.99.99")},
	}
}

func TestCatalog_BuiltinOrder(t *testing.T) {
	cat, err := NewCatalog(testConfig(), testSession())
	require.NoError(t, err)

	assert.Equal(t, []string{
		"no_pdr_match",
		"invalid_teid",
		"wrong_ue_ip",
		"malformed_truncated",
		"malformed_wrong_version",
		"malformed_length_mismatch",
		"malformed_wrong_message_type",
		"malformed_empty_payload",
		"mtu_exceeded",
		"valid_traffic",
	}, cat.Names())
}

func TestCatalog_BuiltinPackets(t *testing.T) {
	cat, err := NewCatalog(testConfig(), testSession())
	require.NoError(t, err)

	byName := make(map[string]Scenario)
	for _, sc := range cat.All() {
		byName[sc.Name] = sc
		for _, p := range sc.Packets {
			assert.Equal(t, upfAddr.String(), p.OuterDst.String(), sc.Name)
			assert.Equal(t, gnbAddr.String(), p.OuterSrc.String(), sc.Name)
		}
	}

	noMatch := byName["no_pdr_match"]
	assert.Equal(t, 5, noMatch.PacketCount())
	assert.Equal(t, uint32(0xDEADBEEF), noMatch.Packets[0].TEID)
	assert.Equal(t, time.Millisecond, noMatch.Interval)

	invalid := byName["invalid_teid"]
	require.Len(t, invalid.Packets, 5)
	assert.Equal(t, uint32(0), invalid.Packets[0].TEID)
	assert.Equal(t, uint32(0xFFFFFFFF), invalid.Packets[1].TEID)
	assert.Equal(t, 300*time.Millisecond, invalid.Interval)

	wrong := byName["wrong_ue_ip"]
	require.Len(t, wrong.Packets, 2)
	assert.Equal(t, sessionTEID, wrong.Packets[0].TEID)
	assert.Equal(t, "10.60.0.200", wrong.Packets[0].InnerSrc.String())

	malformed := byName["malformed_length_mismatch"]
	assert.Equal(t, types.HeaderLengthMismatch, malformed.Packets[0].HeaderMode)
	assert.Equal(t, types.ExpectNoForwarding, malformed.Expect)

	mtu := byName["mtu_exceeded"]
	assert.Equal(t, types.ExpectInconclusiveAllowed, mtu.Expect)
	require.Len(t, mtu.Packets, 5)
	assert.Equal(t, 8000, mtu.Packets[4].TotalSize)

	valid := byName["valid_traffic"]
	assert.Equal(t, types.ExpectForwarded, valid.Expect)
	require.Len(t, valid.Packets, 5)
	for i, p := range valid.Packets {
		assert.Equal(t, uint16(i), p.Seq)
		assert.Equal(t, "8.8.8.8", p.InnerDst.String())
	}
	assert.False(t, valid.AllowMissingSession)
}

func TestCatalog_InvalidTEIDsSkipSessionTEID(t *testing.T) {
	sess := testSession()
	sess.TEID = 0x12345678

	cat, err := NewCatalog(testConfig(), sess)
	require.NoError(t, err)
	picked, err := cat.Select([]string{"invalid_teid"})
	require.NoError(t, err)

	for _, p := range picked[0].Packets {
		assert.NotEqual(t, uint32(0x12345678), p.TEID)
	}
	assert.Len(t, picked[0].Packets, 4)
}

func TestCatalog_Select(t *testing.T) {
	cat, err := NewCatalog(testConfig(), testSession())
	require.NoError(t, err)

	picked, err := cat.Select([]string{"valid_traffic", "malformed_*", "no_pdr_match"})
	require.NoError(t, err)
	names := make([]string, len(picked))
	for i, sc := range picked {
		names[i] = sc.Name
	}
	assert.Equal(t, "no_pdr_match", names[0])
	assert.Equal(t, "valid_traffic", names[len(names)-1])
	assert.Len(t, names, 7)

	all, err := cat.Select(nil)
	require.NoError(t, err)
	assert.Len(t, all, 10)

	_, err = cat.Select([]string{"nope", "bogus_*"})
	require.Error(t, err)
	assert.Contains(t, err.Error(), "nope")
	assert.Contains(t, err.Error(), "bogus_*")
}

func TestCatalog_CustomScenario(t *testing.T) {
	cfg := testConfig()
	cfg.Scenarios.Custom = []config.CustomScenario{{
		Name:        "echo_burst",
		Expect:      "forward",
		TEIDs:       []uint32{0x1e, 0x20},
		Sizes:       []int{200, 300},
		Count:       2,
		IntervalMs:  10,
		MessageType: 255,
	}}

	cat, err := NewCatalog(cfg, testSession())
	require.NoError(t, err)
	picked, err := cat.Select([]string{"echo_burst"})
	require.NoError(t, err)

	sc := picked[0]
	assert.Equal(t, types.ExpectForwarded, sc.Expect)
	assert.Equal(t, 10*time.Millisecond, sc.Interval)
	assert.Equal(t, 8, sc.PacketCount())
	assert.Equal(t, 70*time.Millisecond, sc.Span())
	require.Len(t, sc.Packets, 4)
	assert.Equal(t, uint32(0x20), sc.Packets[2].TEID)
	assert.Equal(t, 300, sc.Packets[3].TotalSize)
	assert.Equal(t, ueAddr.String(), sc.Packets[0].InnerSrc.String())
	assert.False(t, sc.AllowMissingSession)
}

func TestCatalog_CustomShadowingBuiltin(t *testing.T) {
	cfg := testConfig()
	cfg.Scenarios.Custom = []config.CustomScenario{{Name: "valid_traffic"}}

	_, err := NewCatalog(cfg, testSession())
	assert.Error(t, err)
}

func TestResolveSession_FromOracle(t *testing.T) {
	upf := &fakeUPF{}
	cfg := testConfig().Session
	cfg.InvalidTEID = downlinkTEID
	cfg.TEIDStart = sessionTEID
	cfg.WrongUEAddresses = []string{ueAddr.String(), "10.99.99.99"}

	sess, err := ResolveSession(context.Background(), cfg, upf)
	require.NoError(t, err)

	assert.Equal(t, ueAddr.String(), sess.UEAddr.String())
	assert.Equal(t, sessionTEID, sess.TEID)
	// 0x1e and 0x1f are issued, so allocation moves past both.
	assert.Equal(t, uint32(0x20), sess.InvalidTEID)
	require.Len(t, sess.WrongUEAddrs, 1)
	assert.Equal(t, "10.99.99.99", sess.WrongUEAddrs[0].String())
}

func TestResolveSession_PoolFallback(t *testing.T) {
	cfg := testConfig().Session
	cfg.UEAddress = "10.60.0.1"
	cfg.TEID = 0x10
	cfg.WrongUEAddresses = nil

	sess, err := ResolveSession(context.Background(), cfg, nil)
	require.NoError(t, err)

	assert.Equal(t, uint32(0xDEADBEEF), sess.InvalidTEID)
	require.Len(t, sess.WrongUEAddrs, 1)
	assert.Equal(t, "10.60.0.2", sess.WrongUEAddrs[0].String())
}

func TestResolveSession_NothingToResolve(t *testing.T) {
	_, err := ResolveSession(context.Background(), testConfig().Session, nil)
	assert.True(t, errors.Is(err, ErrNoSession))
}
