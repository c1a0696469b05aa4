// Package costmodel estimates a task's running cost and a worker's
// expected completion time, the inputs the scheduler (spec §5) ranks
// workers by. The coefficients themselves come from an Autotuner,
// kept as an external dependency so a constant-coefficient table
// (pkg/autotune) and a learned/measured implementation are
// interchangeable (spec §4.4, grounded on cj_Worker_estimate_cost's
// separation of "estimate" from "coefficient source").
package costmodel

import (
	"time"

	"github.com/khryptorgraphics/tilerun/pkg/graph"
	"github.com/khryptorgraphics/tilerun/pkg/tile"
)

// DeviceKind classifies a worker's compute device for coefficient
// lookup (spec glossary: "heterogeneous" workers differ in kind).
type DeviceKind string

// Autotuner supplies the coefficients the cost model multiplies
// against task size: per-kernel compute throughput for each element
// type and device kind, and per-link transfer bandwidth for staging
// operands that aren't already resident where a task is about to run.
type Autotuner interface {
	// ComputeSeconds estimates how long kernelID takes to run bytes of
	// elemType operand data on a device of the given kind. The
	// coefficient is keyed by (kernel id, element type, device kind) —
	// spec §4.3, grounded on cj_Lapack.c distinguishing spotrf_/dpotrf_
	// (single vs. double precision) with different cost coefficients —
	// not just bytes, since precision changes throughput independent
	// of tile size.
	ComputeSeconds(kernelID string, elemType tile.ElementType, deviceKind DeviceKind, bytes int64) time.Duration
	// TransferSeconds estimates how long it takes to move bytes across
	// the named link (e.g. "host-gpu0", grounded on cj_Link bandwidth
	// tables).
	TransferSeconds(link string, bytes int64) time.Duration
}

// WorkerInfo is the subset of worker state the cost model needs: its
// device identity/kind, the link it uses to reach the host, and the
// coherence-directory device id used to check operand residency.
type WorkerInfo struct {
	DeviceID   int
	Kind       DeviceKind
	HostLink   string
}

// Model estimates task and queue costs from an Autotuner.
type Model struct {
	Tuner Autotuner
}

// New builds a cost model backed by tuner.
func New(tuner Autotuner) *Model {
	return &Model{Tuner: tuner}
}

// EstimateTask returns the wall-clock cost of running t on w: transfer
// time for every operand not already resident on w's device, plus
// compute time for the kernel itself (spec §4.4 / §5's "expected
// finish time" inputs). Each argument's base matrix owns its own
// coherence directory, so residency is checked per-argument rather
// than against one directory passed in for the whole task.
func (m *Model) EstimateTask(t *graph.Task, w WorkerInfo) time.Duration {
	var total time.Duration
	var computeBytes int64
	var elemType tile.ElementType
	haveElem := false

	for _, a := range t.Args {
		base := a.View.Base
		for _, idx := range a.View.TileIndices() {
			tl := base.TileByIndex(idx)
			tileBytes := int64(tl.Side) * int64(tl.Side) * int64(tl.Elem.Size())
			computeBytes += tileBytes
			if !haveElem {
				elemType = tl.Elem
				haveElem = true
			}

			if _, ok := base.Coherent.LatestOn(idx, w.DeviceID); !ok {
				total += m.Tuner.TransferSeconds(w.HostLink, tileBytes)
			}
		}
	}

	total += m.Tuner.ComputeSeconds(t.KernelID(), elemType, w.Kind, computeBytes)
	return total
}

// ExpectedFinish returns the time at which w would finish t if
// assigned now, given w is currently busy until currentLoad (spec
// §5's per-worker expected_finish accumulator).
func (m *Model) ExpectedFinish(t *graph.Task, w WorkerInfo, currentLoad time.Duration) time.Duration {
	return currentLoad + m.EstimateTask(t, w)
}
