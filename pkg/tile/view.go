package tile

import "fmt"

// View is the non-owning reference to one or more tiles of a
// BaseMatrix used as a task argument (spec §3, "Matrix reference").
// RowSpan/ColSpan are measured in whole tiles; nearly every algorithm
// in practice passes single-tile views (RowSpan=ColSpan=1), but the
// dependency analyser treats every covered tile identically regardless
// of span.
type View struct {
	Base     *BaseMatrix
	RowTile  int
	ColTile  int
	RowSpan  int
	ColSpan  int
	Mode     AccessMode
}

// Single builds a View over exactly one tile.
func Single(base *BaseMatrix, row, col int, mode AccessMode) View {
	return View{Base: base, RowTile: row, ColTile: col, RowSpan: 1, ColSpan: 1, Mode: mode}
}

// Validate checks that the view's tile range is in bounds and
// non-degenerate, rejecting a malformed argument before any graph
// mutation (spec §7, API misuse).
func (v View) Validate() error {
	if v.Base == nil {
		return fmt.Errorf("tile view: uninitialised base matrix reference")
	}
	if v.RowSpan <= 0 || v.ColSpan <= 0 {
		return fmt.Errorf("tile view: non-positive span (%d,%d)", v.RowSpan, v.ColSpan)
	}
	if v.RowTile < 0 || v.ColTile < 0 ||
		v.RowTile+v.RowSpan > v.Base.Rows() || v.ColTile+v.ColSpan > v.Base.Cols() {
		return fmt.Errorf("tile view: range rows[%d:%d) cols[%d:%d) out of bounds for %dx%d matrix",
			v.RowTile, v.RowTile+v.RowSpan, v.ColTile, v.ColTile+v.ColSpan, v.Base.Rows(), v.Base.Cols())
	}
	return nil
}

// TileIndices returns the flat tile indices covered by the view, in
// row-major order.
func (v View) TileIndices() []int {
	out := make([]int, 0, v.RowSpan*v.ColSpan)
	for r := v.RowTile; r < v.RowTile+v.RowSpan; r++ {
		for c := v.ColTile; c < v.ColTile+v.ColSpan; c++ {
			out = append(out, v.Base.Index(r, c))
		}
	}
	return out
}
