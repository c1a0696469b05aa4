package demo

import (
	"bytes"
	"context"
	"math"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/khryptorgraphics/tilerun/internal/config"
	"github.com/khryptorgraphics/tilerun/pkg/coherence"
	"github.com/khryptorgraphics/tilerun/pkg/costmodel"
	"github.com/khryptorgraphics/tilerun/pkg/graph"
	"github.com/khryptorgraphics/tilerun/pkg/kernel"
	"github.com/khryptorgraphics/tilerun/pkg/session"
	"github.com/khryptorgraphics/tilerun/pkg/tile"
)

func allDone(t *testing.T, tasks []*graph.Task) bool {
	t.Helper()
	for _, tk := range tasks {
		if tk.Status() != graph.Done {
			return false
		}
	}
	return true
}

func TestBlockedCholeskyOnFourByFourTileMatrix(t *testing.T) {
	cfg := config.Default()
	cfg.Runtime.WorkerCount = 1
	cfg.Runtime.TileSide = 4
	cfg.Cache.SlotsPerDevice = 4

	byteCopy := func(dst, src []byte) { copy(dst, src) }
	c, err := session.New(cfg, []session.DeviceSpec{
		{ID: 1, Kind: costmodel.DeviceKind("gpu"), HostLink: "host-gpu0", ToDevice: byteCopy, ToHost: byteCopy},
	})
	require.NoError(t, err)
	c.Init(context.Background())

	base := tile.NewBaseMatrix(0, 4, 4, 4, tile.Float64)
	SeedDiagonalDominant(base)

	tasks, err := BuildCholesky(c, base)
	require.NoError(t, err)
	c.QueueEnd()

	require.Eventually(t, func() bool { return allDone(t, tasks) }, 3*time.Second, time.Millisecond)

	var out bytes.Buffer
	require.NoError(t, c.Term(&out))
	assert.Contains(t, out.String(), "digraph tilerun")

	for _, task := range tasks {
		assert.Equal(t, graph.Done, task.Status())
	}

	diag, _ := base.Tile(0, 0)
	assert.False(t, math.IsNaN(getScalar(diag.Host)))
}

func TestCachePressureWithTwoSlotsThreeTiles(t *testing.T) {
	cfg := config.Default()
	cfg.Runtime.WorkerCount = 1
	cfg.Runtime.TileSide = 4
	cfg.Cache.SlotsPerDevice = 2

	byteCopy := func(dst, src []byte) { copy(dst, src) }
	c, err := session.New(cfg, []session.DeviceSpec{
		{ID: 1, Kind: costmodel.DeviceKind("gpu"), HostLink: "host-gpu0", ToDevice: byteCopy, ToHost: byteCopy},
	})
	require.NoError(t, err)
	c.Init(context.Background())

	base := tile.NewBaseMatrix(0, 1, 3, 4, tile.Float64)
	for col := 0; col < 3; col++ {
		tl, _ := base.Tile(0, col)
		setScalar(tl.Host, float64(col+1))
	}

	bump := kernel.Func{IDValue: "bump", Fn: func(d kernel.Descriptor) error {
		buf := d.ArgBuffers()[0].Buf
		setScalar(buf, getScalar(buf)+1)
		return nil
	}}

	var tasks []*graph.Task
	for round := 0; round < 2; round++ {
		for col := 0; col < 3; col++ {
			task, err := c.Submit("bump", bump, []tile.View{tile.Single(base, 0, col, tile.ReadWrite)})
			require.NoError(t, err)
			tasks = append(tasks, task)
		}
	}
	c.QueueEnd()

	require.Eventually(t, func() bool { return allDone(t, tasks) }, 3*time.Second, time.Millisecond)
	require.NoError(t, c.Term(nil))

	for col := 0; col < 3; col++ {
		tl, _ := base.Tile(0, col)
		assert.Equal(t, float64(col+1)+2, getScalar(tl.Host), "cache pressure must not lose a write")
		loc := base.Coherent.Head(base.Index(0, col))
		assert.Equal(t, coherence.Host, loc.Device, "each round writes back to host before the next task re-fetches it")
	}
}
