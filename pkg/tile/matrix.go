package tile

import (
	"fmt"

	"github.com/khryptorgraphics/tilerun/pkg/coherence"
)

// BaseMatrix owns a row-major grid of tiles and their coherence
// directory (Design Notes §9: the directory belongs to the base
// matrix, not to any one view of it).
type BaseMatrix struct {
	id       int
	rows     int
	cols     int
	side     int
	elem     ElementType
	tiles    []*Tile
	Coherent *coherence.Directory
}

// NewBaseMatrix allocates a rows×cols grid of side×side tiles with
// the given element type, id uniquely identifying this matrix among
// all matrices touched in one session.
func NewBaseMatrix(id, rows, cols, side int, elem ElementType) *BaseMatrix {
	m := &BaseMatrix{
		id:    id,
		rows:  rows,
		cols:  cols,
		side:  side,
		elem:  elem,
		tiles: make([]*Tile, rows*cols),
	}
	for r := 0; r < rows; r++ {
		for c := 0; c < cols; c++ {
			m.tiles[r*cols+c] = newTile(ID{Base: id, Row: r, Col: c}, side, elem)
		}
	}
	m.Coherent = coherence.New(rows * cols)
	return m
}

// ID returns this matrix's identifier.
func (m *BaseMatrix) ID() int { return m.id }

// Rows and Cols return the tile-grid extent.
func (m *BaseMatrix) Rows() int { return m.rows }
func (m *BaseMatrix) Cols() int { return m.cols }

// Index converts a (row, col) tile coordinate into the flat tile
// index used by the coherence directory and device caches.
func (m *BaseMatrix) Index(row, col int) int { return row*m.cols + col }

// Tile returns the tile at (row, col).
func (m *BaseMatrix) Tile(row, col int) (*Tile, error) {
	if row < 0 || row >= m.rows || col < 0 || col >= m.cols {
		return nil, fmt.Errorf("tile: (%d,%d) out of range for %dx%d matrix", row, col, m.rows, m.cols)
	}
	return m.tiles[m.Index(row, col)], nil
}

// TileByIndex returns the tile at the flat index produced by Index.
func (m *BaseMatrix) TileByIndex(idx int) *Tile { return m.tiles[idx] }
