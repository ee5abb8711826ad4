package session

import (
	"net"
	"sync"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestUEAddrPool_InvalidCIDR(t *testing.T) {
	_, err := NewUEAddrPool("invalid")
	assert.Error(t, err)

	_, err = NewUEAddrPool("2001:db8::/64")
	assert.Error(t, err)
}

func TestUEAddrPool_Allocate_Sequential(t *testing.T) {
	pool, err := NewUEAddrPool("10.60.0.0/24")
	require.NoError(t, err)

	for _, want := range []string{"10.60.0.1", "10.60.0.2", "10.60.0.3"} {
		ip, err := pool.Allocate()
		require.NoError(t, err)
		assert.Equal(t, want, ip.String())
	}
}

func TestUEAddrPool_SkipsBoundAddresses(t *testing.T) {
	pool, err := NewUEAddrPool("10.60.0.0/24")
	require.NoError(t, err)
	pool.Exclude(net.ParseIP("10.60.0.1"), net.ParseIP("10.60.0.2"), nil)

	ip, err := pool.Allocate()
	require.NoError(t, err)
	assert.Equal(t, "10.60.0.3", ip.String())
}

func TestUEAddrPool_Exhaustion(t *testing.T) {
	// /30 has two usable addresses: .1 and .2
	pool, err := NewUEAddrPool("10.60.0.0/30")
	require.NoError(t, err)

	ip1, err := pool.Allocate()
	require.NoError(t, err)
	assert.Equal(t, "10.60.0.1", ip1.String())

	ip2, err := pool.Allocate()
	require.NoError(t, err)
	assert.Equal(t, "10.60.0.2", ip2.String())

	_, err = pool.Allocate()
	assert.ErrorContains(t, err, "exhausted")
}

func TestUEAddrPool_Release_AllowsReallocation(t *testing.T) {
	pool, err := NewUEAddrPool("10.60.0.0/30")
	require.NoError(t, err)

	_, err = pool.Allocate()
	require.NoError(t, err)
	ip2, err := pool.Allocate()
	require.NoError(t, err)
	_, err = pool.Allocate()
	require.Error(t, err)

	pool.Release(ip2)

	ip3, err := pool.Allocate()
	require.NoError(t, err)
	assert.Equal(t, ip2.String(), ip3.String())
}

func TestUEAddrPool_Available_Count(t *testing.T) {
	pool, err := NewUEAddrPool("10.60.0.0/24")
	require.NoError(t, err)

	// /24 = 256 total, minus network and broadcast = 254
	assert.Equal(t, 254, pool.Available())

	_, err = pool.Allocate()
	require.NoError(t, err)
	assert.Equal(t, 253, pool.Available())
}

func TestUEAddrPool_Contains(t *testing.T) {
	pool, err := NewUEAddrPool("10.60.0.0/24")
	require.NoError(t, err)
	assert.True(t, pool.Contains(net.ParseIP("10.60.0.200")))
	assert.False(t, pool.Contains(net.ParseIP("10.99.99.99")))
}

func TestUEAddrPool_ConcurrentAccess(t *testing.T) {
	pool, err := NewUEAddrPool("10.60.0.0/16")
	require.NoError(t, err)

	var wg sync.WaitGroup
	results := make(chan string, 1000)

	for i := 0; i < 1000; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			ip, err := pool.Allocate()
			assert.NoError(t, err)
			results <- ip.String()
		}()
	}

	wg.Wait()
	close(results)

	seen := make(map[string]bool)
	for ipStr := range results {
		assert.False(t, seen[ipStr], "duplicate IP allocated: %s", ipStr)
		seen[ipStr] = true
	}
	assert.Equal(t, 1000, len(seen))
}

func TestUEAddrPool_Release_UnknownIP(t *testing.T) {
	pool, err := NewUEAddrPool("10.60.0.0/24")
	require.NoError(t, err)

	pool.Release(net.ParseIP("10.60.0.99"))
	assert.Equal(t, 0, pool.AllocatedCount())
}
