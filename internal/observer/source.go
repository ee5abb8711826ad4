package observer

import (
	"context"
	"sync"

	"github.com/google/gopacket"
)

// ChanSource is an in-memory Source. Packets pushed before Close are
// delivered in order.
type ChanSource struct {
	ch     chan gopacket.Packet
	done   chan struct{}
	once   sync.Once
	mu     sync.Mutex
	closed bool
}

// NewChanSource creates a source buffering up to size packets.
func NewChanSource(size int) *ChanSource {
	return &ChanSource{
		ch:   make(chan gopacket.Packet, size),
		done: make(chan struct{}),
	}
}

func (s *ChanSource) Packets() <-chan gopacket.Packet {
	return s.ch
}

// Push queues p. It blocks while the buffer is full and returns false once
// the source has been closed.
func (s *ChanSource) Push(p gopacket.Packet) bool {
	select {
	case <-s.done:
		return false
	default:
	}
	select {
	case s.ch <- p:
		return true
	case <-s.done:
		return false
	}
}

func (s *ChanSource) Close() {
	s.once.Do(func() {
		s.mu.Lock()
		s.closed = true
		s.mu.Unlock()
		close(s.done)
	})
}

// Closed reports whether Close has been called.
func (s *ChanSource) Closed() bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.closed
}

// Static returns an Opener that always hands out src.
func Static(src Source) Opener {
	return OpenerFunc(func(_ context.Context, _ Filter) (Source, error) {
		return src, nil
	})
}
