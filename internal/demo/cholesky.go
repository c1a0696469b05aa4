// Package demo drives the blocked-Cholesky scenario used to exercise
// the full runtime end to end (spec §8 S4/S5): POTRF on the leading
// diagonal tile, TRSM to solve the panel below it, SYRK to update the
// trailing submatrix, repeated for every diagonal block. The kernels
// here are synthetic stand-ins for real BLAS/LAPACK routines — they
// operate on a single representative scalar per tile rather than
// performing genuine dense linear algebra, matching the "kernels are
// external collaborators" boundary drawn by pkg/kernel.
package demo

import (
	"encoding/binary"
	"fmt"
	"math"

	"github.com/khryptorgraphics/tilerun/pkg/graph"
	"github.com/khryptorgraphics/tilerun/pkg/kernel"
	"github.com/khryptorgraphics/tilerun/pkg/session"
	"github.com/khryptorgraphics/tilerun/pkg/tile"
)

func getScalar(buf []byte) float64 {
	return math.Float64frombits(binary.LittleEndian.Uint64(buf[:8]))
}

func setScalar(buf []byte, v float64) {
	binary.LittleEndian.PutUint64(buf[:8], math.Float64bits(v))
}

// SeedDiagonalDominant fills every tile's representative scalar so
// POTRF never takes the square root of a negative number: diagonal
// tiles get a large value, off-diagonal tiles a small one.
func SeedDiagonalDominant(base *tile.BaseMatrix) {
	for r := 0; r < base.Rows(); r++ {
		for c := 0; c < base.Cols(); c++ {
			t, _ := base.Tile(r, c)
			if r == c {
				setScalar(t.Host, float64(8+r))
			} else {
				setScalar(t.Host, float64(1+r+c)/10)
			}
		}
	}
}

var potrfKernel = kernel.Func{IDValue: "potrf", Fn: func(d kernel.Descriptor) error {
	buf := d.ArgBuffers()[0].Buf
	v := getScalar(buf)
	if v <= 0 {
		return fmt.Errorf("potrf: non-positive pivot %f", v)
	}
	setScalar(buf, math.Sqrt(v))
	return nil
}}

var trsmKernel = kernel.Func{IDValue: "trsm", Fn: func(d kernel.Descriptor) error {
	diag := getScalar(d.ArgBuffers()[0].Buf)
	panelBuf := d.ArgBuffers()[1].Buf
	setScalar(panelBuf, getScalar(panelBuf)/diag)
	return nil
}}

var syrkKernel = kernel.Func{IDValue: "syrk", Fn: func(d kernel.Descriptor) error {
	a := getScalar(d.ArgBuffers()[0].Buf)
	b := getScalar(d.ArgBuffers()[1].Buf)
	targetBuf := d.ArgBuffers()[2].Buf
	setScalar(targetBuf, getScalar(targetBuf)-a*b)
	return nil
}}

// BuildCholesky submits the full right-looking blocked Cholesky task
// sequence over an n×n tile grid of base (spec S4) and returns every
// task it submitted, in submission order, so a caller can wait on the
// last one to know the whole sequence has drained. It must be called
// while the controller is Recording; the caller is responsible for
// QueueEnd to release the batch.
func BuildCholesky(c *session.Controller, base *tile.BaseMatrix) ([]*graph.Task, error) {
	n := base.Rows()
	var tasks []*graph.Task

	submit := func(kernelID string, k kernel.Kernel, views []tile.View) error {
		t, err := c.Submit(kernelID, k, views)
		if err != nil {
			return err
		}
		tasks = append(tasks, t)
		return nil
	}

	for k := 0; k < n; k++ {
		if err := submit("potrf", potrfKernel, []tile.View{
			tile.Single(base, k, k, tile.ReadWrite),
		}); err != nil {
			return nil, fmt.Errorf("potrf(%d,%d): %w", k, k, err)
		}

		for i := k + 1; i < n; i++ {
			if err := submit("trsm", trsmKernel, []tile.View{
				tile.Single(base, k, k, tile.Read),
				tile.Single(base, i, k, tile.ReadWrite),
			}); err != nil {
				return nil, fmt.Errorf("trsm(%d,%d): %w", i, k, err)
			}
		}

		for i := k + 1; i < n; i++ {
			for j := k + 1; j <= i; j++ {
				if err := submit("syrk", syrkKernel, []tile.View{
					tile.Single(base, i, k, tile.Read),
					tile.Single(base, j, k, tile.Read),
					tile.Single(base, i, j, tile.ReadWrite),
				}); err != nil {
					return nil, fmt.Errorf("syrk(%d,%d): %w", i, j, err)
				}
			}
		}
	}
	return tasks, nil
}
