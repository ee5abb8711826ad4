package session

import (
	"fmt"
	"net"
	"sync"
)

// UEAddrPool hands out IPv4 addresses from a CIDR range that are not bound to
// any session on the UPF. Bound addresses are registered with Exclude.
type UEAddrPool struct {
	cidr      *net.IPNet
	nextIP    net.IP
	allocated map[string]bool
	mu        sync.Mutex
}

// NewUEAddrPool creates a pool from a CIDR string (e.g., "10.60.0.0/24").
func NewUEAddrPool(cidr string) (*UEAddrPool, error) {
	_, ipnet, err := net.ParseCIDR(cidr)
	if err != nil {
		return nil, fmt.Errorf("invalid CIDR %q: %w", cidr, err)
	}
	if ipnet.IP.To4() == nil {
		return nil, fmt.Errorf("UE pool %q is not IPv4", cidr)
	}
	ipnet.IP = ipnet.IP.To4()

	// Start from first usable address (network address + 1)
	firstIP := make(net.IP, len(ipnet.IP))
	copy(firstIP, ipnet.IP)
	incrementIP(firstIP)

	return &UEAddrPool{
		cidr:      ipnet,
		nextIP:    firstIP,
		allocated: make(map[string]bool),
	}, nil
}

// Contains reports whether ip falls inside the pool's range.
func (p *UEAddrPool) Contains(ip net.IP) bool {
	return p.cidr.Contains(ip)
}

// Exclude marks addresses as bound so they are never allocated.
func (p *UEAddrPool) Exclude(ips ...net.IP) {
	p.mu.Lock()
	defer p.mu.Unlock()
	for _, ip := range ips {
		if ip != nil {
			p.allocated[ip.String()] = true
		}
	}
}

// Allocate returns the next free address from the pool. The network and
// broadcast addresses are never returned.
func (p *UEAddrPool) Allocate() (net.IP, error) {
	p.mu.Lock()
	defer p.mu.Unlock()

	ones, bits := p.cidr.Mask.Size()
	usable := (1 << (bits - ones)) - 2
	if usable < 1 {
		return nil, fmt.Errorf("UE pool %s has no usable addresses", p.cidr)
	}

	for checked := 0; checked < usable; checked++ {
		if !p.usable(p.nextIP) {
			p.rewind()
		}
		candidate := make(net.IP, len(p.nextIP))
		copy(candidate, p.nextIP)
		incrementIP(p.nextIP)

		if !p.allocated[candidate.String()] {
			p.allocated[candidate.String()] = true
			return candidate, nil
		}
	}
	return nil, fmt.Errorf("UE pool exhausted (all %d addresses in use)", usable)
}

// Release frees a previously allocated address back to the pool.
func (p *UEAddrPool) Release(ip net.IP) {
	p.mu.Lock()
	defer p.mu.Unlock()
	delete(p.allocated, ip.String())
}

// AllocatedCount returns the number of allocated and excluded addresses.
func (p *UEAddrPool) AllocatedCount() int {
	p.mu.Lock()
	defer p.mu.Unlock()
	return len(p.allocated)
}

// Available returns the approximate number of available addresses.
func (p *UEAddrPool) Available() int {
	p.mu.Lock()
	defer p.mu.Unlock()
	ones, bits := p.cidr.Mask.Size()
	avail := (1 << (bits - ones)) - len(p.allocated) - 2 // subtract network and broadcast
	if avail < 0 {
		return 0
	}
	return avail
}

// usable excludes addresses outside the range and the broadcast address.
func (p *UEAddrPool) usable(ip net.IP) bool {
	if !p.cidr.Contains(ip) {
		return false
	}
	next := make(net.IP, len(ip))
	copy(next, ip)
	incrementIP(next)
	return p.cidr.Contains(next)
}

func (p *UEAddrPool) rewind() {
	copy(p.nextIP, p.cidr.IP)
	incrementIP(p.nextIP)
}

func incrementIP(ip net.IP) {
	for i := len(ip) - 1; i >= 0; i-- {
		ip[i]++
		if ip[i] > 0 {
			break
		}
	}
}
