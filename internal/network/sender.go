package network

import (
	"fmt"
	"net"
	"sync"
)

// UDPClient is a bound UDP socket aimed at a single peer on the UPF.
// It carries GTP-U toward N3 and PFCP toward N4.
type UDPClient struct {
	conn   *net.UDPConn
	remote *net.UDPAddr
	mu     sync.Mutex
}

// NewUDPClient binds localAddr:localPort and targets remoteAddr:remotePort.
// An empty localAddr binds the wildcard address; port 0 picks an ephemeral port.
func NewUDPClient(localAddr string, localPort int, remoteAddr string, remotePort int) (*UDPClient, error) {
	remoteIP := net.ParseIP(remoteAddr)
	if remoteIP == nil {
		return nil, fmt.Errorf("invalid remote address %q", remoteAddr)
	}

	local := &net.UDPAddr{Port: localPort}
	if localAddr != "" {
		local.IP = net.ParseIP(localAddr)
		if local.IP == nil {
			return nil, fmt.Errorf("invalid local address %q", localAddr)
		}
	}

	conn, err := net.ListenUDP("udp", local)
	if err != nil {
		return nil, fmt.Errorf("failed to bind UDP to %s: %w", local, err)
	}

	return &UDPClient{
		conn:   conn,
		remote: &net.UDPAddr{IP: remoteIP, Port: remotePort},
	}, nil
}

// Send transmits one datagram to the remote peer. No response is awaited.
func (c *UDPClient) Send(data []byte) error {
	c.mu.Lock()
	defer c.mu.Unlock()

	if _, err := c.conn.WriteToUDP(data, c.remote); err != nil {
		return fmt.Errorf("failed to send to %s: %w", c.remote, err)
	}
	return nil
}

// Conn returns the underlying UDP connection (for the receiver to read from).
func (c *UDPClient) Conn() *net.UDPConn {
	return c.conn
}

// Close closes the UDP connection.
func (c *UDPClient) Close() error {
	return c.conn.Close()
}

// LocalAddr returns the local address the client is bound to.
func (c *UDPClient) LocalAddr() net.Addr {
	return c.conn.LocalAddr()
}

// RemoteAddr returns the peer the client sends to.
func (c *UDPClient) RemoteAddr() *net.UDPAddr {
	return c.remote
}
