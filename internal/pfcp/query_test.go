package pfcp

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"github.com/wmnsk/go-pfcp/ie"
	"github.com/wmnsk/go-pfcp/message"
)

func modificationResponse(t *testing.T, cause uint8, reports ...*ie.IE) *message.SessionModificationResponse {
	t.Helper()
	ies := append([]*ie.IE{ie.NewCause(cause)}, reports...)
	resp := message.NewSessionModificationResponse(0, 0, 0x1001, 7, 0, ies...)

	data, err := Encode(resp)
	require.NoError(t, err)
	msg, err := Decode(data)
	require.NoError(t, err)

	parsed, ok := msg.(*message.SessionModificationResponse)
	require.True(t, ok, "decoded %T", msg)
	return parsed
}

func TestSequenceCounter_Wraps(t *testing.T) {
	c := &SequenceCounter{current: 0xFFFFFE}
	assert.Equal(t, uint32(0xFFFFFF), c.Next())
	assert.Equal(t, uint32(1), c.Next())
}

func TestNewUsageQuery_RoundTrip(t *testing.T) {
	data, err := Encode(NewUsageQuery(0xABCD, 3, 42))
	require.NoError(t, err)

	msg, err := Decode(data)
	require.NoError(t, err)
	req, ok := msg.(*message.SessionModificationRequest)
	require.True(t, ok)
	assert.Equal(t, uint64(0xABCD), req.SEID())
	assert.Equal(t, uint32(42), req.Sequence())
	require.Len(t, req.QueryURR, 1)

	idIE, err := req.QueryURR[0].FindByType(ie.URRID)
	require.NoError(t, err)
	id, err := idIE.URRID()
	require.NoError(t, err)
	assert.Equal(t, uint32(3), id)
}

func TestNewHeartbeat_RoundTrip(t *testing.T) {
	data, err := Encode(NewHeartbeat(9, time.Now()))
	require.NoError(t, err)

	msg, err := Decode(data)
	require.NoError(t, err)
	assert.Equal(t, uint8(message.MsgTypeHeartbeatRequest), msg.MessageType())
	assert.Equal(t, "HeartbeatRequest", MessageTypeName(msg.MessageType()))
}

func TestUsageFromResponse_Volumes(t *testing.T) {
	resp := modificationResponse(t, ie.CauseRequestAccepted,
		ie.NewUsageReportWithinSessionModificationResponse(
			ie.NewURRID(2),
			ie.NewVolumeMeasurement(0x3f, 3000, 1000, 2000, 30, 10, 20),
		),
	)

	u, err := UsageFromResponse(resp, 2)
	require.NoError(t, err)
	assert.Equal(t, Usage{
		URRID:           2,
		UplinkBytes:     1000,
		DownlinkBytes:   2000,
		UplinkPackets:   10,
		DownlinkPackets: 20,
		HasPackets:      true,
	}, u)
}

func TestUsageFromResponse_VolumeOnly(t *testing.T) {
	resp := modificationResponse(t, ie.CauseRequestAccepted,
		ie.NewUsageReportWithinSessionModificationResponse(
			ie.NewURRID(1),
			ie.NewVolumeMeasurement(0x07, 300, 100, 200, 0, 0, 0),
		),
	)

	u, err := UsageFromResponse(resp, 1)
	require.NoError(t, err)
	assert.False(t, u.HasPackets)
	assert.Equal(t, uint64(100), u.UplinkBytes)
}

func TestUsageFromResponse_SessionNotFound(t *testing.T) {
	resp := modificationResponse(t, ie.CauseSessionContextNotFound)
	_, err := UsageFromResponse(resp, 1)
	assert.ErrorIs(t, err, ErrSessionNotFound)
}

func TestUsageFromResponse_MissingURR(t *testing.T) {
	resp := modificationResponse(t, ie.CauseRequestAccepted,
		ie.NewUsageReportWithinSessionModificationResponse(
			ie.NewURRID(5),
			ie.NewVolumeMeasurement(0x07, 3, 1, 2, 0, 0, 0),
		),
	)
	_, err := UsageFromResponse(resp, 1)
	assert.Error(t, err)
}

func TestExtractCause(t *testing.T) {
	cause, err := ExtractCause([]*ie.IE{ie.NewRecoveryTimeStamp(time.Now()), ie.NewCause(ie.CauseRequestRejected)})
	require.NoError(t, err)
	assert.Equal(t, uint8(ie.CauseRequestRejected), cause)

	_, err = ExtractCause(nil)
	assert.Error(t, err)
}
