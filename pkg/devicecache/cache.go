// Package devicecache implements the fixed-size per-device slot cache
// described in spec §4.6: LRU eviction among unpinned clean slots,
// write-back before reuse of a dirty slot, and CacheExhausted when
// every slot is pinned.
package devicecache

import (
	"fmt"
	"sync"
)

// Status is the state of one cache slot.
type Status int

const (
	Clean Status = iota
	Dirty
	Pinned
)

// Slot is one fixed-size cache line. Buf stands in for the device
// pointer — an accelerator backend would instead hold a handle into
// device memory, but the coherence and eviction logic above it is
// identical either way.
type Slot struct {
	Status  Status
	LastUse uint64
	Tile    int // tile index this slot backs; valid only if Backed
	Backed  bool
	Buf     []byte
}

// Transport moves bytes between host and device memory. The baseline
// design is synchronous byte copies; a real accelerator backend
// supplies PCIe/NVLink transfers with the same signature.
type Transport func(dst, src []byte)

// Cache is one device's fixed-size slot table.
type Cache struct {
	mu        sync.Mutex
	cond      *sync.Cond
	slots     []Slot
	lineSize  int
	clock     uint64
	toDevice  Transport
	toHost    Transport
	deviceTag string
}

// New builds a cache with n slots of lineSize bytes each. toDevice
// copies host→device bytes, toHost copies device→host bytes.
func New(deviceTag string, n, lineSize int, toDevice, toHost Transport) *Cache {
	c := &Cache{
		slots:     make([]Slot, n),
		lineSize:  lineSize,
		toDevice:  toDevice,
		toHost:    toHost,
		deviceTag: deviceTag,
	}
	for i := range c.slots {
		c.slots[i].Buf = make([]byte, lineSize)
	}
	c.cond = sync.NewCond(&c.mu)
	return c
}

// Lookup returns the slot index already backing tile, if any.
func (c *Cache) Lookup(tile int) (int, bool) {
	c.mu.Lock()
	defer c.mu.Unlock()
	for i := range c.slots {
		if c.slots[i].Backed && c.slots[i].Tile == tile {
			return i, true
		}
	}
	return 0, false
}

// Fetch returns a slot holding tile, copying host→device into an
// evicted or already-backing slot as needed. hostBuf is the tile's
// current host-resident bytes, the source of a fresh copy-in. Fetch
// never writes a slot back: if the eviction candidate is dirty it
// returns an error, and the caller must WriteBack that slot and retry.
func (c *Cache) Fetch(tile int, hostBuf []byte) (int, error) {
	c.mu.Lock()
	defer c.mu.Unlock()

	for i := range c.slots {
		if c.slots[i].Backed && c.slots[i].Tile == tile {
			c.touchLocked(i)
			return i, nil
		}
	}

	idx, err := c.evictLocked()
	if err != nil {
		return 0, err
	}

	c.slots[idx].Backed = true
	c.slots[idx].Tile = tile
	c.slots[idx].Status = Clean
	c.toDevice(c.slots[idx].Buf, hostBuf)
	c.touchLocked(idx)
	return idx, nil
}

// evictLocked finds a reclaimable slot (empty, or unpinned and
// clean/dirty after write-back) using strict LRU among candidates.
// Caller holds c.mu.
func (c *Cache) evictLocked() (int, error) {
	for i := range c.slots {
		if !c.slots[i].Backed {
			return i, nil
		}
	}

	best, ok := c.lruUnpinnedLocked()
	if !ok {
		return 0, fmt.Errorf("devicecache[%s]: %w", c.deviceTag, ErrCacheExhausted)
	}
	if c.slots[best].Status == Dirty {
		return 0, fmt.Errorf("devicecache[%s]: slot %d is dirty, call WriteBack before eviction", c.deviceTag, best)
	}
	c.slots[best].Backed = false
	return best, nil
}

// lruUnpinnedLocked returns the least-recently-used slot that isn't
// pinned, among slots currently backing a tile. Caller holds c.mu.
func (c *Cache) lruUnpinnedLocked() (int, bool) {
	best := -1
	for i := range c.slots {
		if c.slots[i].Status == Pinned || !c.slots[i].Backed {
			continue
		}
		if best == -1 || c.slots[i].LastUse < c.slots[best].LastUse {
			best = i
		}
	}
	return best, best != -1
}

// PeekEvictionCandidate reports the slot that the next call to Fetch
// would try to reclaim if every slot is already backed, without
// mutating any state. A caller that sees dirty=true can WriteBack
// that slot and retry Fetch instead of giving up (spec §4.6's
// dirty-must-write-back-before-evict contract).
func (c *Cache) PeekEvictionCandidate() (slot, tileIdx int, dirty, found bool) {
	c.mu.Lock()
	defer c.mu.Unlock()
	best, ok := c.lruUnpinnedLocked()
	if !ok {
		return 0, 0, false, false
	}
	return best, c.slots[best].Tile, c.slots[best].Status == Dirty, true
}

// WriteBack copies device→host for slot and marks it clean. hostBuf
// is the destination tile's host-resident bytes.
func (c *Cache) WriteBack(slot int, hostBuf []byte) error {
	c.mu.Lock()
	defer c.mu.Unlock()
	if slot < 0 || slot >= len(c.slots) {
		return fmt.Errorf("devicecache[%s]: slot %d out of range", c.deviceTag, slot)
	}
	if !c.slots[slot].Backed {
		return fmt.Errorf("devicecache[%s]: slot %d is not backed", c.deviceTag, slot)
	}
	c.toHost(hostBuf, c.slots[slot].Buf)
	c.slots[slot].Status = Clean
	return nil
}

// MarkDirty flags slot as holding a value not yet written back.
func (c *Cache) MarkDirty(slot int) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.slots[slot].Status = Dirty
}

// Touch refreshes slot's LRU timestamp.
func (c *Cache) Touch(slot int) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.touchLocked(slot)
}

func (c *Cache) touchLocked(slot int) {
	c.clock++
	c.slots[slot].LastUse = c.clock
}

// Pin prevents slot from being evicted until Unpin is called.
func (c *Cache) Pin(slot int) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.slots[slot].Status = Pinned
}

// Unpin marks slot clean again, making it eligible for eviction.
// Callers that dirtied the slot should call MarkDirty after Unpin.
func (c *Cache) Unpin(slot int) {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.slots[slot].Status == Pinned {
		c.slots[slot].Status = Clean
	}
	c.cond.Broadcast()
}

// WaitForFreeSlot blocks until at least one slot is unpinned, for a
// worker that hit CacheExhausted and chooses to retry rather than
// fail the task outright (spec §4.8: "waits on the owning device's
// cache condition until a slot frees").
func (c *Cache) WaitForFreeSlot() {
	c.mu.Lock()
	defer c.mu.Unlock()
	for c.allPinnedLocked() {
		c.cond.Wait()
	}
}

func (c *Cache) allPinnedLocked() bool {
	for i := range c.slots {
		if c.slots[i].Status != Pinned {
			return false
		}
	}
	return true
}

// Len returns the slot count, mostly for tests.
func (c *Cache) Len() int { return len(c.slots) }

// SlotBuf returns the backing buffer for slot, the bytes a kernel
// reads or writes once the materialiser has staged a tile into it.
func (c *Cache) SlotBuf(slot int) []byte {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.slots[slot].Buf
}

// Snapshot returns a point-in-time copy of every slot's metadata, for
// callers that need to scan the cache (e.g. a final flush) without
// holding c.mu across a WriteBack call.
func (c *Cache) Snapshot() []Slot {
	c.mu.Lock()
	defer c.mu.Unlock()
	out := make([]Slot, len(c.slots))
	copy(out, c.slots)
	return out
}
