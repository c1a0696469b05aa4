package graph

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/khryptorgraphics/tilerun/pkg/kernel"
	"github.com/khryptorgraphics/tilerun/pkg/tile"
)

func noop(kernel.Descriptor) error { return nil }

func newBase(t *testing.T) *tile.BaseMatrix {
	t.Helper()
	return tile.NewBaseMatrix(0, 2, 2, 4, tile.Float64)
}

func arg(b *tile.BaseMatrix, row, col int, mode tile.AccessMode) Arg {
	return Arg{View: tile.Single(b, row, col, mode)}
}

func TestRAWEdgesFromOneWriterToEachReader(t *testing.T) {
	g := New()
	b := newBase(t)
	k := kernel.Func{IDValue: "k", Fn: noop}

	t1, err := g.Submit("k", k, []Arg{arg(b, 0, 0, tile.Write)})
	require.NoError(t, err)
	t2, err := g.Submit("k", k, []Arg{arg(b, 0, 0, tile.Read)})
	require.NoError(t, err)
	t3, err := g.Submit("k", k, []Arg{arg(b, 0, 0, tile.Read)})
	require.NoError(t, err)

	assert.Equal(t, NotReady, t1.Status(), "recording leaves even zero-dep tasks NotReady until queue_end")
	assert.Equal(t, NotReady, t2.Status())
	assert.Equal(t, NotReady, t3.Status())
	assert.Equal(t, int64(1), t2.PendingDeps())
	assert.Equal(t, int64(1), t3.PendingDeps())

	ready := g.DrainReady()
	assert.ElementsMatch(t, []TaskID{t1.ID}, idsOf(ready))
	assert.Equal(t, Queued, t1.Status())

	readyAfter := g.CompleteTask(t1)
	assert.ElementsMatch(t, []TaskID{t2.ID, t3.ID}, idsOf(readyAfter))
	assert.Equal(t, Queued, t2.Status())
	assert.Equal(t, Queued, t3.Status())
}

func TestFanOutFanIn(t *testing.T) {
	g := New()
	b := newBase(t)
	k := kernel.Func{IDValue: "k", Fn: noop}

	writer, err := g.Submit("k", k, []Arg{arg(b, 0, 0, tile.Write)})
	require.NoError(t, err)

	r1, err := g.Submit("k", k, []Arg{arg(b, 0, 0, tile.Read)})
	require.NoError(t, err)
	r2, err := g.Submit("k", k, []Arg{arg(b, 0, 0, tile.Read)})
	require.NoError(t, err)

	join, err := g.Submit("k", k, []Arg{arg(b, 0, 0, tile.Write)})
	require.NoError(t, err)

	assert.Equal(t, int64(1), r1.PendingDeps())
	assert.Equal(t, int64(1), r2.PendingDeps())
	assert.Equal(t, int64(2), join.PendingDeps(), "join waits on both readers (WAR)")

	drained := g.DrainReady()
	assert.ElementsMatch(t, []TaskID{writer.ID}, idsOf(drained))

	ready := g.CompleteTask(writer)
	assert.ElementsMatch(t, []TaskID{r1.ID, r2.ID}, idsOf(ready))

	ready = g.CompleteTask(r1)
	assert.Empty(t, ready)
	ready = g.CompleteTask(r2)
	assert.ElementsMatch(t, []TaskID{join.ID}, idsOf(ready))
}

func TestWARHazardBlocksOverwrite(t *testing.T) {
	g := New()
	b := newBase(t)
	k := kernel.Func{IDValue: "k", Fn: noop}

	_, err := g.Submit("k", k, []Arg{arg(b, 1, 1, tile.Write)})
	require.NoError(t, err)
	reader, err := g.Submit("k", k, []Arg{arg(b, 1, 1, tile.Read)})
	require.NoError(t, err)
	overwriter, err := g.Submit("k", k, []Arg{arg(b, 1, 1, tile.Write)})
	require.NoError(t, err)

	assert.Equal(t, int64(1), overwriter.PendingDeps(), "overwrite must wait for the reader (anti-dependency)")
	assert.Contains(t, overwriter.Predecessors(), reader.ID)
}

func TestFailurePropagatesToSuccessorsWithoutEnqueueing(t *testing.T) {
	g := New()
	b := newBase(t)
	k := kernel.Func{IDValue: "k", Fn: noop}

	t1, err := g.Submit("k", k, []Arg{arg(b, 0, 0, tile.Write)})
	require.NoError(t, err)
	t2, err := g.Submit("k", k, []Arg{arg(b, 0, 0, tile.Read)})
	require.NoError(t, err)
	t3, err := g.Submit("k", k, []Arg{arg(b, 0, 0, tile.Read)})
	require.NoError(t, err)

	failed := g.FailTask(t1, assertErr)
	assert.ElementsMatch(t, []TaskID{t2.ID, t3.ID}, idsOf(failed))
	assert.Equal(t, Failed, t2.Status())
	assert.Equal(t, Failed, t3.Status())
	assert.Error(t, t2.FailErr())
}

var assertErr = errFixture{}

type errFixture struct{}

func (errFixture) Error() string { return "kernel failure" }

func idsOf(tasks []*Task) []TaskID {
	out := make([]TaskID, len(tasks))
	for i, t := range tasks {
		out[i] = t.ID
	}
	return out
}
