package network

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"time"

	log "github.com/sirupsen/logrus"
	"github.com/wmnsk/go-pfcp/message"
)

// ErrTransactionTimeout is delivered when no response arrives in time.
var ErrTransactionTimeout = errors.New("transaction timed out")

// ErrTransactionCancelled is delivered for transactions dropped by CancelAll.
var ErrTransactionCancelled = errors.New("transaction cancelled")

// TransactionResult holds the outcome of a request/response exchange.
type TransactionResult struct {
	SeqNum       uint32
	Message      message.Message
	Response     []byte
	ResponseTime time.Duration
	Error        error
}

// Datagrams is what the tracker retransmits through.
type Datagrams interface {
	Send(data []byte) error
}

type pendingTransaction struct {
	seqNum      uint32
	requestData []byte
	sentAt      time.Time
	firstSentAt time.Time
	retryCount  int
	resultCh    chan TransactionResult
}

// TransactionTracker matches responses to outstanding requests by sequence
// number and fails them after the timeout. With maxRetries 0 a request is
// never retransmitted.
type TransactionTracker struct {
	pending    map[uint32]*pendingTransaction
	mu         sync.Mutex
	timeout    time.Duration
	maxRetries int
	sender     Datagrams
}

// NewTransactionTracker creates a tracker.
func NewTransactionTracker(sender Datagrams, timeout time.Duration, maxRetries int) *TransactionTracker {
	return &TransactionTracker{
		pending:    make(map[uint32]*pendingTransaction),
		timeout:    timeout,
		maxRetries: maxRetries,
		sender:     sender,
	}
}

// Track registers a request and returns a channel that receives exactly one result.
func (t *TransactionTracker) Track(seqNum uint32, requestData []byte) <-chan TransactionResult {
	t.mu.Lock()
	defer t.mu.Unlock()

	now := time.Now()
	resultCh := make(chan TransactionResult, 1)
	t.pending[seqNum] = &pendingTransaction{
		seqNum:      seqNum,
		requestData: requestData,
		sentAt:      now,
		firstSentAt: now,
		resultCh:    resultCh,
	}
	return resultCh
}

// Resolve completes the pending transaction with the given sequence number.
func (t *TransactionTracker) Resolve(seqNum uint32, msg message.Message, responseData []byte) {
	t.mu.Lock()
	tx, exists := t.pending[seqNum]
	if !exists {
		t.mu.Unlock()
		log.WithField("seq_num", seqNum).Debug("Response for unknown transaction")
		return
	}
	delete(t.pending, seqNum)
	t.mu.Unlock()

	tx.resultCh <- TransactionResult{
		SeqNum:       seqNum,
		Message:      msg,
		Response:     responseData,
		ResponseTime: time.Since(tx.firstSentAt),
	}
}

// StartTimeoutMonitor checks pending transactions until ctx is done.
func (t *TransactionTracker) StartTimeoutMonitor(ctx context.Context) {
	go func() {
		ticker := time.NewTicker(t.timeout / 10)
		defer ticker.Stop()

		for {
			select {
			case <-ctx.Done():
				return
			case <-ticker.C:
				t.checkTimeouts()
			}
		}
	}()
}

func (t *TransactionTracker) checkTimeouts() {
	t.mu.Lock()
	var timedOut []*pendingTransaction
	now := time.Now()
	for _, tx := range t.pending {
		if now.Sub(tx.sentAt) > t.timeout {
			timedOut = append(timedOut, tx)
		}
	}
	t.mu.Unlock()

	for _, tx := range timedOut {
		t.handleTimeout(tx)
	}
}

func (t *TransactionTracker) handleTimeout(tx *pendingTransaction) {
	t.mu.Lock()
	// May have been resolved between check and handle.
	if _, exists := t.pending[tx.seqNum]; !exists {
		t.mu.Unlock()
		return
	}

	if tx.retryCount < t.maxRetries {
		tx.retryCount++
		tx.sentAt = time.Now()
		t.mu.Unlock()

		log.WithFields(log.Fields{
			"seq_num": tx.seqNum,
			"attempt": tx.retryCount,
			"max":     t.maxRetries,
		}).Warn("Transaction timeout, retransmitting")

		if err := t.sender.Send(tx.requestData); err != nil {
			log.WithError(err).WithField("seq_num", tx.seqNum).Error("Retransmission failed")
		}
		return
	}

	delete(t.pending, tx.seqNum)
	t.mu.Unlock()

	tx.resultCh <- TransactionResult{
		SeqNum: tx.seqNum,
		Error:  fmt.Errorf("%w after %d retries", ErrTransactionTimeout, t.maxRetries),
	}
}

// PendingCount returns the number of pending transactions.
func (t *TransactionTracker) PendingCount() int {
	t.mu.Lock()
	defer t.mu.Unlock()
	return len(t.pending)
}

// CancelAll fails every pending transaction.
func (t *TransactionTracker) CancelAll() {
	t.mu.Lock()
	defer t.mu.Unlock()

	for seqNum, tx := range t.pending {
		tx.resultCh <- TransactionResult{SeqNum: seqNum, Error: ErrTransactionCancelled}
		delete(t.pending, seqNum)
	}
}
