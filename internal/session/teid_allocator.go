package session

import (
	"fmt"
	"math/rand"
	"sync"
)

// TEIDAllocator hands out TEIDs the UPF has never issued. TEIDs reported by
// the oracle are registered with Exclude before allocation.
type TEIDAllocator struct {
	strategy  string
	nextTEID  uint32
	usedTEIDs map[uint32]bool
	mu        sync.Mutex
}

// NewTEIDAllocator creates a TEID allocator with the given strategy and start value.
func NewTEIDAllocator(strategy string, startTEID uint32) *TEIDAllocator {
	if startTEID == 0 {
		startTEID = 1 // TEID 0 is reserved for signalling
	}
	return &TEIDAllocator{
		strategy:  strategy,
		nextTEID:  startTEID,
		usedTEIDs: make(map[uint32]bool),
	}
}

// Exclude marks TEIDs as issued so they are never allocated.
func (a *TEIDAllocator) Exclude(teids ...uint32) {
	a.mu.Lock()
	defer a.mu.Unlock()
	for _, teid := range teids {
		a.usedTEIDs[teid] = true
	}
}

// Allocate returns a TEID that is neither excluded nor already allocated.
func (a *TEIDAllocator) Allocate() (uint32, error) {
	a.mu.Lock()
	defer a.mu.Unlock()

	switch a.strategy {
	case "sequential":
		for i := 0; i < 1000000; i++ {
			if a.nextTEID == 0 {
				a.nextTEID = 1
			}
			teid := a.nextTEID
			a.nextTEID++
			if !a.usedTEIDs[teid] {
				a.usedTEIDs[teid] = true
				return teid, nil
			}
		}
		return 0, fmt.Errorf("failed to allocate sequential TEID: too many collisions")
	case "random":
		for attempts := 0; attempts < 10000; attempts++ {
			teid := rand.Uint32()
			if teid == 0 || a.usedTEIDs[teid] {
				continue
			}
			a.usedTEIDs[teid] = true
			return teid, nil
		}
		return 0, fmt.Errorf("failed to allocate random TEID after 10000 attempts")
	default:
		return 0, fmt.Errorf("unknown TEID strategy: %s", a.strategy)
	}
}

// Release frees a previously allocated TEID for reuse.
func (a *TEIDAllocator) Release(teid uint32) {
	a.mu.Lock()
	defer a.mu.Unlock()
	delete(a.usedTEIDs, teid)
}

// AllocatedCount returns the number of allocated and excluded TEIDs.
func (a *TEIDAllocator) AllocatedCount() int {
	a.mu.Lock()
	defer a.mu.Unlock()
	return len(a.usedTEIDs)
}
