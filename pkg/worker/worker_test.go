package worker

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/rs/zerolog"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/khryptorgraphics/tilerun/pkg/coherence"
	"github.com/khryptorgraphics/tilerun/pkg/costmodel"
	"github.com/khryptorgraphics/tilerun/pkg/devicecache"
	"github.com/khryptorgraphics/tilerun/pkg/graph"
	"github.com/khryptorgraphics/tilerun/pkg/kernel"
	"github.com/khryptorgraphics/tilerun/pkg/scheduler"
	"github.com/khryptorgraphics/tilerun/pkg/tile"
)

type zeroTuner struct{}

func (zeroTuner) ComputeSeconds(string, tile.ElementType, costmodel.DeviceKind, int64) time.Duration {
	return 0
}
func (zeroTuner) TransferSeconds(string, int64) time.Duration { return 0 }

func byteCopy(dst, src []byte) { copy(dst, src) }

func newHarness(t *testing.T) (*graph.Graph, *scheduler.Scheduler, *Materialiser) {
	t.Helper()
	model := costmodel.New(zeroTuner{})
	infos := []costmodel.WorkerInfo{
		{}, // coordinator, unused
		{DeviceID: coherence.Host, Kind: "cpu", HostLink: "host"},
		{DeviceID: 1, Kind: "gpu", HostLink: "host-gpu1"},
	}
	sched := scheduler.New(model, infos, nil)
	mat := NewMaterialiser(nil)
	mat.Register(1, devicecache.New("gpu1", 2, 32, byteCopy, byteCopy))
	return graph.New(), sched, mat
}

func TestWorkerRunsWriteThenReadOnHost(t *testing.T) {
	g, sched, mat := newHarness(t)
	base := tile.NewBaseMatrix(0, 1, 1, 4, tile.Float64)

	write := kernel.Func{IDValue: "fill", Fn: func(d kernel.Descriptor) error {
		buf := d.ArgBuffers()[0].Buf
		buf[0] = 42
		return nil
	}}
	var seen byte
	read := kernel.Func{IDValue: "check", Fn: func(d kernel.Descriptor) error {
		seen = d.ArgBuffers()[0].Buf[0]
		return nil
	}}

	t1, err := g.Submit("fill", write, []graph.Arg{{View: tile.Single(base, 0, 0, tile.Write)}})
	require.NoError(t, err)
	t2, err := g.Submit("check", read, []graph.Arg{{View: tile.Single(base, 0, 0, tile.Read)}})
	require.NoError(t, err)

	sched.Enqueue(t1)

	w := New(1, costmodel.WorkerInfo{DeviceID: coherence.Host}, mat, sched, g, nil, zerolog.Nop())
	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan struct{})
	go func() {
		w.Run(ctx)
		close(done)
	}()

	require.Eventually(t, func() bool { return t1.Status() == graph.Done }, time.Second, time.Millisecond)
	require.Eventually(t, func() bool { return t2.Status() == graph.Done }, time.Second, time.Millisecond)
	assert.Equal(t, byte(42), seen)

	cancel()
	sched.Stop()
	<-done
}

func TestWorkerStagesOntoDeviceCacheAndCommitsThere(t *testing.T) {
	g, sched, mat := newHarness(t)
	base := tile.NewBaseMatrix(0, 1, 1, 4, tile.Float64)

	gpuKernel := kernel.Func{IDValue: "scale", Fn: func(d kernel.Descriptor) error {
		buf := d.ArgBuffers()[0].Buf
		buf[0] = 7
		return nil
	}}
	t1, err := g.Submit("scale", gpuKernel, []graph.Arg{{View: tile.Single(base, 0, 0, tile.Write)}})
	require.NoError(t, err)
	sched.Enqueue(t1)

	w := New(1, costmodel.WorkerInfo{DeviceID: 1}, mat, sched, g, nil, zerolog.Nop())
	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan struct{})
	go func() {
		w.Run(ctx)
		close(done)
	}()

	require.Eventually(t, func() bool { return t1.Status() == graph.Done }, time.Second, time.Millisecond)

	loc := base.Coherent.Head(0)
	assert.Equal(t, 1, loc.Device, "tile should now be authoritative on device 1")

	cancel()
	sched.Stop()
	<-done
}

func TestSingleWriterManyReadersConcurrentDrain(t *testing.T) {
	const numReaders = 4

	model := costmodel.New(zeroTuner{})
	infos := []costmodel.WorkerInfo{{}} // coordinator, unused
	for i := 0; i < numReaders+1; i++ {
		infos = append(infos, costmodel.WorkerInfo{DeviceID: coherence.Host, Kind: "cpu", HostLink: "host"})
	}
	sched := scheduler.New(model, infos, nil)
	mat := NewMaterialiser(nil)
	g := graph.New()
	base := tile.NewBaseMatrix(0, 1, 1, 4, tile.Float64)

	write := kernel.Func{IDValue: "fill", Fn: func(d kernel.Descriptor) error {
		d.ArgBuffers()[0].Buf[0] = 99
		return nil
	}}
	writeTask, err := g.Submit("fill", write, []graph.Arg{{View: tile.Single(base, 0, 0, tile.Write)}})
	require.NoError(t, err)

	seen := make([]byte, numReaders)
	readTasks := make([]*graph.Task, numReaders)
	for i := 0; i < numReaders; i++ {
		i := i
		read := kernel.Func{IDValue: "check", Fn: func(d kernel.Descriptor) error {
			seen[i] = d.ArgBuffers()[0].Buf[0]
			return nil
		}}
		rt, err := g.Submit("check", read, []graph.Arg{{View: tile.Single(base, 0, 0, tile.Read)}})
		require.NoError(t, err)
		readTasks[i] = rt
		assert.Empty(t, rt.Successors(), "a reader must not gain a WAR edge to another reader")
	}

	sched.Enqueue(writeTask)

	ctx, cancel := context.WithCancel(context.Background())
	workers := make([]*Worker, numReaders+1)
	done := make(chan struct{}, len(workers))
	for i := range workers {
		w := New(i+1, costmodel.WorkerInfo{DeviceID: coherence.Host}, mat, sched, g, nil, zerolog.Nop())
		workers[i] = w
		go func() {
			w.Run(ctx)
			done <- struct{}{}
		}()
	}

	require.Eventually(t, func() bool { return writeTask.Status() == graph.Done }, time.Second, time.Millisecond)
	for _, rt := range readTasks {
		rt := rt
		require.Eventually(t, func() bool { return rt.Status() == graph.Done }, time.Second, time.Millisecond)
	}
	for _, b := range seen {
		assert.Equal(t, byte(99), b, "every reader must observe the writer's value")
	}

	loc := base.Coherent.Head(0)
	assert.Equal(t, coherence.Host, loc.Device, "host-only run leaves the host copy the sole authoritative location")
	assert.Len(t, base.Coherent.Locations(0), 1, "after drain exactly one authoritative location remains")

	cancel()
	sched.Stop()
	for range workers {
		<-done
	}
}

func TestWorkerFailurePropagatesWithoutEnqueueingSuccessor(t *testing.T) {
	g, sched, mat := newHarness(t)
	base := tile.NewBaseMatrix(0, 1, 1, 4, tile.Float64)

	boom := errors.New("kernel blew up")
	failing := kernel.Func{IDValue: "bad", Fn: func(kernel.Descriptor) error { return boom }}
	ran := false
	downstream := kernel.Func{IDValue: "never", Fn: func(kernel.Descriptor) error { ran = true; return nil }}

	t1, err := g.Submit("bad", failing, []graph.Arg{{View: tile.Single(base, 0, 0, tile.Write)}})
	require.NoError(t, err)
	t2, err := g.Submit("never", downstream, []graph.Arg{{View: tile.Single(base, 0, 0, tile.Read)}})
	require.NoError(t, err)

	sched.Enqueue(t1)

	w := New(1, costmodel.WorkerInfo{DeviceID: coherence.Host}, mat, sched, g, nil, zerolog.Nop())
	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan struct{})
	go func() {
		w.Run(ctx)
		close(done)
	}()

	require.Eventually(t, func() bool { return t1.Status() == graph.Failed }, time.Second, time.Millisecond)
	require.Eventually(t, func() bool { return t2.Status() == graph.Failed }, time.Second, time.Millisecond)
	assert.False(t, ran, "a task downstream of a failed predecessor must never execute")
	assert.ErrorContains(t, t2.FailErr(), "kernel blew up")

	cancel()
	sched.Stop()
	<-done
}
