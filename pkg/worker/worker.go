// Package worker implements the compute worker loop (spec §4.5): pop
// a ready task, stage its operands onto the local device, invoke the
// kernel, commit written tiles back into the coherence directory, and
// unblock whatever that completion makes ready.
package worker

import (
	"context"
	"errors"
	"fmt"

	"github.com/rs/zerolog"

	"github.com/khryptorgraphics/tilerun/internal/metrics"
	"github.com/khryptorgraphics/tilerun/internal/rterrors"
	"github.com/khryptorgraphics/tilerun/pkg/costmodel"
	"github.com/khryptorgraphics/tilerun/pkg/devicecache"
	"github.com/khryptorgraphics/tilerun/pkg/graph"
	"github.com/khryptorgraphics/tilerun/pkg/kernel"
	"github.com/khryptorgraphics/tilerun/pkg/scheduler"
	"github.com/khryptorgraphics/tilerun/pkg/tile"
)

const component = "worker"

// staged is one operand resolved onto this worker's device, kept so
// the post-execution commit step knows what to write back.
type staged struct {
	base   *tile.BaseMatrix
	idx    int
	device int
	slot   int
}

// Worker runs the pop-stage-execute-commit loop for one scheduler slot.
type Worker struct {
	ID      int
	Info    costmodel.WorkerInfo
	mat     *Materialiser
	sched   *scheduler.Scheduler
	graph   *graph.Graph
	metrics *metrics.Metrics
	log     zerolog.Logger
}

// New builds a worker bound to scheduler slot id, backed by mat for
// operand staging.
func New(id int, info costmodel.WorkerInfo, mat *Materialiser, sched *scheduler.Scheduler, g *graph.Graph, m *metrics.Metrics, log zerolog.Logger) *Worker {
	return &Worker{
		ID:      id,
		Info:    info,
		mat:     mat,
		sched:   sched,
		graph:   g,
		metrics: m,
		log:     log.With().Int("worker", id).Logger(),
	}
}

// Run pops and executes tasks until the scheduler is stopped. Intended
// to be launched as one goroutine per worker (spec §1: workers run
// concurrently, one ready-task loop each).
func (w *Worker) Run(ctx context.Context) {
	for {
		select {
		case <-ctx.Done():
			return
		default:
		}

		task, ok := w.sched.Pop(w.ID)
		if !ok {
			return
		}

		if err := w.execute(task); err != nil {
			wrapped := rterrors.New(component, rterrors.KindKernelFailure,
				fmt.Sprintf("task %d kernel %s", task.ID, task.KernelID()), err)
			w.log.Error().Err(wrapped).Int64("task", int64(task.ID)).Msg("task failed")
			w.graph.FailTask(task, wrapped)
			if w.metrics != nil {
				w.metrics.TaskFailed()
			}
			continue
		}

		ready := w.graph.CompleteTask(task)
		if w.metrics != nil {
			w.metrics.TaskCompleted()
		}
		for _, r := range ready {
			w.sched.Enqueue(r)
		}
	}
}

// execute stages every argument, runs the kernel, and commits written
// tiles (spec §4.5 steps 2-4). A panic during these steps is recovered
// and returned as an error, so the task is failed like any other.
func (w *Worker) execute(task *graph.Task) (err error) {
	defer func() {
		if r := recover(); r != nil {
			err = fmt.Errorf("panic while executing task: %v", r)
		}
	}()
	task.Start()

	var bufs []kernel.ArgBuffer
	var writes []staged

	for _, a := range task.Args {
		for _, idx := range a.View.TileIndices() {
			buf, slot, err := w.stageWithRetry(a.View.Base, idx)
			if err != nil {
				return fmt.Errorf("stage tile index %d: %w", idx, err)
			}
			bufs = append(bufs, kernel.ArgBuffer{Buf: buf, Writable: a.View.Mode.Writes()})
			if a.View.Mode.Writes() {
				writes = append(writes, staged{idx: idx, device: w.Info.DeviceID, slot: slot, base: a.View.Base})
			}
		}
	}

	task.SetBoundArgs(bufs)

	if err := task.Kernel.Execute(task); err != nil {
		return err
	}

	for _, s := range writes {
		w.mat.Commit(s.base, s.idx, s.device, s.slot)
	}
	return nil
}

// stageWithRetry stages tile idx of base onto the worker's device. A
// full device cache is recoverable, not a task failure (spec §4.8:
// "waits on the owning device's cache condition until a slot frees";
// spec §7 keeps resource exhaustion separate from kernel failure) —
// so it waits for a slot to free and retries rather than propagating
// devicecache.ErrCacheExhausted up to the task's failure path.
func (w *Worker) stageWithRetry(base *tile.BaseMatrix, idx int) ([]byte, int, error) {
	for {
		buf, slot, err := w.mat.Stage(base, idx, w.Info.DeviceID)
		if err == nil {
			return buf, slot, nil
		}
		if !errors.Is(err, devicecache.ErrCacheExhausted) {
			return nil, -1, err
		}
		w.mat.WaitForFreeSlot(w.Info.DeviceID)
	}
}
