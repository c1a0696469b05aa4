// Package tile defines the tiled-matrix data model: a fixed-size
// square tile, the base matrix that owns a row-major grid of tiles
// plus their coherence directory, and the non-owning view used as a
// task argument.
package tile

import "fmt"

// ElementType is the scalar type stored in a tile.
type ElementType int

const (
	Float32 ElementType = iota
	Float64
)

// Size returns the size in bytes of one element.
func (e ElementType) Size() int {
	switch e {
	case Float32:
		return 4
	default:
		return 8
	}
}

func (e ElementType) String() string {
	switch e {
	case Float32:
		return "f32"
	default:
		return "f64"
	}
}

// ID identifies a tile within its base matrix by row/column index.
type ID struct {
	Base int
	Row  int
	Col  int
}

func (id ID) String() string {
	return fmt.Sprintf("T[%d](%d,%d)", id.Base, id.Row, id.Col)
}

// Tile is one B×B sub-block of a base matrix. Host is the host-resident
// backing buffer; it is always allocated, even while the authoritative
// copy lives on a device, so write-back always has a destination
// (resolves the "ptr_h" open question from the source, see SPEC_FULL.md).
type Tile struct {
	ID   ID
	Side int
	Elem ElementType
	Host []byte
}

func newTile(id ID, side int, elem ElementType) *Tile {
	return &Tile{
		ID:   id,
		Side: side,
		Elem: elem,
		Host: make([]byte, side*side*elem.Size()),
	}
}

// AccessMode is the declared intent of a task argument against a tile.
type AccessMode int

const (
	Read AccessMode = iota
	Write
	ReadWrite
)

func (m AccessMode) String() string {
	switch m {
	case Read:
		return "R"
	case Write:
		return "W"
	default:
		return "RW"
	}
}

// Reads reports whether the mode observes the tile's current value.
func (m AccessMode) Reads() bool { return m == Read || m == ReadWrite }

// Writes reports whether the mode produces a new value for the tile.
func (m AccessMode) Writes() bool { return m == Write || m == ReadWrite }
