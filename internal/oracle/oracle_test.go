package oracle

import (
	"net"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"gtpu-harness/pkg/types"
)

func TestDelta_CountersDifference(t *testing.T) {
	before := types.SessionSnapshot{UEAddr: net.ParseIP("10.60.0.1"), PacketsUplink: 10, PacketsDownlink: 3, BytesUplink: 1000}
	after := types.SessionSnapshot{UEAddr: net.ParseIP("10.60.0.1"), PacketsUplink: 15, PacketsDownlink: 8, BytesUplink: 1500}

	d, err := Delta(before, after)
	require.NoError(t, err)
	assert.Equal(t, types.SnapshotDelta{UplinkPackets: 5, DownlinkPackets: 5, UplinkBytes: 500}, d)
}

func TestDelta_CounterResetGoesNegative(t *testing.T) {
	before := types.SessionSnapshot{UEAddr: net.ParseIP("10.60.0.1"), PacketsUplink: 10}
	after := types.SessionSnapshot{UEAddr: net.ParseIP("10.60.0.1"), PacketsUplink: 2}

	d, err := Delta(before, after)
	require.NoError(t, err)
	assert.Equal(t, int64(-8), d.UplinkPackets)
}

func TestDelta_Mismatch(t *testing.T) {
	before := types.SessionSnapshot{UEAddr: net.ParseIP("10.60.0.1")}
	after := types.SessionSnapshot{UEAddr: net.ParseIP("10.60.0.2")}

	_, err := Delta(before, after)
	assert.ErrorIs(t, err, ErrSnapshotMismatch)
}
