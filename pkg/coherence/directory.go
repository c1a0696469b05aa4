// Package coherence implements the tile coherence directory (spec
// §4.1): per-tile, ordered-by-recency lists of locations, with the
// head always authoritative. It is deliberately independent of the
// tile package's types — it is addressed purely by integer tile
// index — so that tile.BaseMatrix can embed a Directory without an
// import cycle (Design Notes §9: the directory is a component of the
// base matrix, not of the tile view).
package coherence

import "sync"

// Host is the reserved device id for the host copy.
const Host = -1

// Location names one resident copy of a tile.
type Location struct {
	Device int
	Slot   int // meaningful only when Device != Host
}

type entry struct {
	mu        sync.Mutex
	locations []Location
}

// Directory tracks, for every tile of one base matrix, the ordered
// list of locations holding a valid copy.
type Directory struct {
	entries []entry
}

// New builds a directory for a matrix with the given number of tiles,
// all of which start out resident only on the host.
func New(numTiles int) *Directory {
	d := &Directory{entries: make([]entry, numTiles)}
	for i := range d.entries {
		d.entries[i].locations = []Location{{Device: Host}}
	}
	return d
}

func (d *Directory) lock(tile int) *entry {
	return &d.entries[tile]
}

// LatestOn returns the slot holding tile on device, and whether a
// copy exists there at all.
func (d *Directory) LatestOn(tile, device int) (int, bool) {
	e := d.lock(tile)
	e.mu.Lock()
	defer e.mu.Unlock()
	for _, loc := range e.locations {
		if loc.Device == device {
			return loc.Slot, true
		}
	}
	return 0, false
}

// Head returns the current authoritative location for tile.
func (d *Directory) Head(tile int) Location {
	e := d.lock(tile)
	e.mu.Lock()
	defer e.mu.Unlock()
	return e.locations[0]
}

// HasHostCopy reports whether the host already holds a valid replica.
func (d *Directory) HasHostCopy(tile int) bool {
	e := d.lock(tile)
	e.mu.Lock()
	defer e.mu.Unlock()
	for _, loc := range e.locations {
		if loc.Device == Host {
			return true
		}
	}
	return false
}

// Prepend adds a new authoritative-equal replica at loc, ahead of the
// existing locations. Used once a device has just received a fresh
// copy of the tile (materialise_on) or the host has just been written
// back to.
func (d *Directory) Prepend(tile int, loc Location) {
	e := d.lock(tile)
	e.mu.Lock()
	defer e.mu.Unlock()
	filtered := e.locations[:0:0]
	for _, l := range e.locations {
		if l != loc {
			filtered = append(filtered, l)
		}
	}
	e.locations = append([]Location{loc}, filtered...)
}

// MarkWrittenBy collapses tile's location list to the single entry
// naming device, keeping the slot already recorded for device's copy:
// every other device's cached copy is now stale.
func (d *Directory) MarkWrittenBy(tile, device int) {
	e := d.lock(tile)
	e.mu.Lock()
	defer e.mu.Unlock()
	loc := Location{Device: device}
	for _, l := range e.locations {
		if l.Device == device {
			loc = l
			break
		}
	}
	e.locations = []Location{loc}
}

// Locations returns a snapshot of tile's location list, head first.
func (d *Directory) Locations(tile int) []Location {
	e := d.lock(tile)
	e.mu.Lock()
	defer e.mu.Unlock()
	out := make([]Location, len(e.locations))
	copy(out, e.locations)
	return out
}
