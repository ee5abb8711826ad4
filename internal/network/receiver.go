package network

import (
	"context"
	"errors"
	"net"

	log "github.com/sirupsen/logrus"
	"github.com/wmnsk/go-pfcp/message"
)

// ReceivedMessage is a PFCP message read from the UPF's N4 endpoint.
type ReceivedMessage struct {
	Message message.Message
	Data    []byte
	From    *net.UDPAddr
}

// Receiver reads PFCP responses from the socket the oracle sends on.
type Receiver struct {
	conn    *net.UDPConn
	msgChan chan ReceivedMessage
}

// NewReceiver creates a receiver over the same UDP connection as the client.
func NewReceiver(conn *net.UDPConn) *Receiver {
	return &Receiver{
		conn:    conn,
		msgChan: make(chan ReceivedMessage, 64),
	}
}

// Start begins reading in a goroutine. It ends when ctx is cancelled or the
// connection is closed.
func (r *Receiver) Start(ctx context.Context) {
	go r.listen(ctx)
}

// Messages returns the channel of received messages.
func (r *Receiver) Messages() <-chan ReceivedMessage {
	return r.msgChan
}

func (r *Receiver) listen(ctx context.Context) {
	defer close(r.msgChan)

	buf := make([]byte, 65535)
	for {
		n, addr, err := r.conn.ReadFromUDP(buf)
		if err != nil {
			if ctx.Err() != nil || isClosed(err) {
				return
			}
			log.WithError(err).Warn("Error reading PFCP response")
			continue
		}

		data := make([]byte, n)
		copy(data, buf[:n])

		msg, err := message.Parse(data)
		if err != nil {
			log.WithError(err).WithField("from", addr).Warn("Failed to parse PFCP response")
			continue
		}

		select {
		case r.msgChan <- ReceivedMessage{Message: msg, Data: data, From: addr}:
		case <-ctx.Done():
			return
		}
	}
}

func isClosed(err error) bool {
	return errors.Is(err, net.ErrClosed)
}
