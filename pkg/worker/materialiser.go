package worker

import (
	"fmt"

	"github.com/khryptorgraphics/tilerun/internal/metrics"
	"github.com/khryptorgraphics/tilerun/pkg/coherence"
	"github.com/khryptorgraphics/tilerun/pkg/devicecache"
	"github.com/khryptorgraphics/tilerun/pkg/tile"
)

// Materialiser implements materialise_on (spec §4.1/§4.5 step 2-3):
// given a tile and a target device, it guarantees a valid copy of the
// tile exists there and returns the bytes a kernel should read or
// write through. Transfers are host-mediated — a device-resident tile
// needed by another device is first written back to the host buffer,
// then staged into the target device's cache — matching the
// single-hop staging cj_Device_materialise_on performs via ptr_h
// rather than a direct device-to-device path.
type Materialiser struct {
	caches  map[int]*devicecache.Cache
	bases   map[int]*tile.BaseMatrix
	metrics *metrics.Metrics
}

// NewMaterialiser builds an empty materialiser; call Register for
// every non-host device before use.
func NewMaterialiser(m *metrics.Metrics) *Materialiser {
	return &Materialiser{
		caches:  make(map[int]*devicecache.Cache),
		bases:   make(map[int]*tile.BaseMatrix),
		metrics: m,
	}
}

// Register associates a device id with the cache that backs it.
func (mt *Materialiser) Register(device int, c *devicecache.Cache) {
	mt.caches[device] = c
}

// WaitForFreeSlot blocks until device's cache has an unpinned slot, for
// a worker that hit ErrCacheExhausted and should retry rather than
// fail the task (spec §4.8/§7: cache exhaustion is recoverable). A no-op
// if device has no registered cache.
func (mt *Materialiser) WaitForFreeSlot(device int) {
	if c, ok := mt.caches[device]; ok {
		c.WaitForFreeSlot()
	}
}

// Stage returns the buffer holding tile idx of base, valid for
// reading, resident on device (coherence.Host included). slot is -1
// when device is the host (no cache line backs a host buffer).
func (mt *Materialiser) Stage(base *tile.BaseMatrix, idx int, device int) (buf []byte, slot int, err error) {
	dir := base.Coherent
	t := base.TileByIndex(idx)
	deviceTag := fmt.Sprintf("device%d", device)

	if device == coherence.Host {
		if err := mt.ensureHostCopy(base, idx); err != nil {
			return nil, -1, err
		}
		return t.Host, -1, nil
	}

	if s, ok := dir.LatestOn(idx, device); ok {
		c := mt.caches[device]
		if cur, backed := c.Lookup(idx); backed && cur == s {
			if mt.metrics != nil {
				mt.metrics.CacheHit(deviceTag)
			}
			c.Touch(s)
			return c.SlotBuf(s), s, nil
		}
	}
	if mt.metrics != nil {
		mt.metrics.CacheMiss(deviceTag)
	}

	if err := mt.ensureHostCopy(base, idx); err != nil {
		return nil, -1, err
	}

	c, ok := mt.caches[device]
	if !ok {
		return nil, -1, fmt.Errorf("materialiser: no cache registered for device %d", device)
	}
	mt.bases[device] = base

	s, err := c.Fetch(idx, t.Host)
	if err != nil {
		if recovered := mt.writeBackEvictionCandidate(c, device); !recovered {
			return nil, -1, fmt.Errorf("materialiser: stage tile %s on device %d: %w", t.ID, device, err)
		}
		s, err = c.Fetch(idx, t.Host)
		if err != nil {
			return nil, -1, fmt.Errorf("materialiser: stage tile %s on device %d after write-back: %w", t.ID, device, err)
		}
	}
	dir.Prepend(idx, coherence.Location{Device: device, Slot: s})
	return c.SlotBuf(s), s, nil
}

// writeBackEvictionCandidate looks at the slot Fetch would have
// reclaimed and, if it is dirty, writes it back to the host copy of
// whatever tile it was holding and updates that tile's coherence
// entry accordingly, so a retried Fetch can reclaim it cleanly (spec
// §4.6: "dirty slots must be written back before eviction").
func (mt *Materialiser) writeBackEvictionCandidate(c *devicecache.Cache, device int) bool {
	slot, victimIdx, dirty, found := c.PeekEvictionCandidate()
	if !found || !dirty {
		return false
	}
	victimBase := mt.bases[device]
	if victimBase == nil {
		return false
	}
	victimHost := victimBase.TileByIndex(victimIdx).Host
	if err := c.WriteBack(slot, victimHost); err != nil {
		return false
	}
	victimBase.Coherent.Prepend(victimIdx, coherence.Location{Device: coherence.Host})
	return true
}

// ensureHostCopy writes back the tile's authoritative device copy to
// host memory if the host does not already hold a valid replica.
func (mt *Materialiser) ensureHostCopy(base *tile.BaseMatrix, idx int) error {
	dir := base.Coherent
	if dir.HasHostCopy(idx) {
		return nil
	}
	head := dir.Head(idx)
	c, ok := mt.caches[head.Device]
	if !ok {
		return fmt.Errorf("materialiser: tile %s has no host copy and head device %d has no cache", base.TileByIndex(idx).ID, head.Device)
	}
	t := base.TileByIndex(idx)
	if err := c.WriteBack(head.Slot, t.Host); err != nil {
		return fmt.Errorf("materialiser: write back tile %s from device %d: %w", t.ID, head.Device, err)
	}
	dir.Prepend(idx, coherence.Location{Device: coherence.Host})
	return nil
}

// FlushAll writes back every dirty, backed slot across every
// registered device cache to its tile's host buffer, making the host
// copy authoritative. Called once at session Term so diagnostics and
// any post-session inspection see up-to-date host data (spec S5:
// "final values on host match a reference sequential execution").
func (mt *Materialiser) FlushAll() error {
	for device, c := range mt.caches {
		base := mt.bases[device]
		for slot, s := range c.Snapshot() {
			if !s.Backed || s.Status != devicecache.Dirty {
				continue
			}
			if base == nil {
				return fmt.Errorf("materialiser: device %d holds dirty data with no known base matrix to flush to", device)
			}
			host := base.TileByIndex(s.Tile).Host
			if err := c.WriteBack(slot, host); err != nil {
				return fmt.Errorf("materialiser: flush device %d tile %d: %w", device, s.Tile, err)
			}
			base.Coherent.Prepend(s.Tile, coherence.Location{Device: coherence.Host})
		}
	}
	return nil
}

// Commit records that tile idx was just written on device, making
// that device's copy the sole authoritative one (spec §4.5 step 4).
func (mt *Materialiser) Commit(base *tile.BaseMatrix, idx int, device int, slot int) {
	if device != coherence.Host {
		mt.caches[device].MarkDirty(slot)
	}
	base.Coherent.MarkWrittenBy(idx, device)
}
