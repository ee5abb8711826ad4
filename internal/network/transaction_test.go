package network

import (
	"context"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"github.com/wmnsk/go-pfcp/ie"
	"github.com/wmnsk/go-pfcp/message"
)

type countingSender struct {
	mu    sync.Mutex
	sends int
}

func (s *countingSender) Send([]byte) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.sends++
	return nil
}

func (s *countingSender) count() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.sends
}

func TestTransactionTracker_Resolve(t *testing.T) {
	tracker := NewTransactionTracker(&countingSender{}, time.Second, 0)
	resultCh := tracker.Track(7, []byte{1})
	assert.Equal(t, 1, tracker.PendingCount())

	msg := message.NewHeartbeatResponse(7, ie.NewRecoveryTimeStamp(time.Now()))
	tracker.Resolve(7, msg, []byte{2})

	result := <-resultCh
	require.NoError(t, result.Error)
	assert.Equal(t, uint32(7), result.SeqNum)
	assert.Equal(t, msg, result.Message)
	assert.Zero(t, tracker.PendingCount())
}

func TestTransactionTracker_UnknownResponseIgnored(t *testing.T) {
	tracker := NewTransactionTracker(&countingSender{}, time.Second, 0)
	tracker.Resolve(99, nil, nil)
	assert.Zero(t, tracker.PendingCount())
}

func TestTransactionTracker_TimeoutWithoutRetries(t *testing.T) {
	sender := &countingSender{}
	tracker := NewTransactionTracker(sender, 50*time.Millisecond, 0)
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	tracker.StartTimeoutMonitor(ctx)

	result := <-tracker.Track(1, []byte{1})
	assert.ErrorIs(t, result.Error, ErrTransactionTimeout)
	assert.Zero(t, sender.count())
}

func TestTransactionTracker_Retransmits(t *testing.T) {
	sender := &countingSender{}
	tracker := NewTransactionTracker(sender, 30*time.Millisecond, 2)
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	tracker.StartTimeoutMonitor(ctx)

	result := <-tracker.Track(1, []byte{1})
	assert.ErrorIs(t, result.Error, ErrTransactionTimeout)
	assert.Equal(t, 2, sender.count())
}

func TestTransactionTracker_CancelAll(t *testing.T) {
	tracker := NewTransactionTracker(&countingSender{}, time.Second, 0)
	a := tracker.Track(1, nil)
	b := tracker.Track(2, nil)

	tracker.CancelAll()

	assert.ErrorIs(t, (<-a).Error, ErrTransactionCancelled)
	assert.ErrorIs(t, (<-b).Error, ErrTransactionCancelled)
	assert.Zero(t, tracker.PendingCount())
}
