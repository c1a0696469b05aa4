// Package graph implements the task and dependency graph (spec §3,
// §4.2): tasks as vertices, RAW/WAR edges with forward and reverse
// adjacency for O(1) successor enumeration, and the dependency
// analyser that derives edges from each task's declared tile
// arguments.
package graph

import (
	"sync"
	"sync/atomic"
	"time"

	"github.com/khryptorgraphics/tilerun/pkg/kernel"
	"github.com/khryptorgraphics/tilerun/pkg/tile"
)

// TaskID totally orders task birth; ids are assigned in ascending
// order, which is what makes the dependency graph acyclic by
// construction (every edge goes from a lower id to a higher id).
type TaskID int64

// Status is a task's position in the NotReady → Queued → Running →
// Done (or Failed) lifecycle (spec §3).
type Status int

const (
	NotReady Status = iota
	Queued
	Running
	Done
	Failed
)

func (s Status) String() string {
	switch s {
	case NotReady:
		return "NotReady"
	case Queued:
		return "Queued"
	case Running:
		return "Running"
	case Done:
		return "Done"
	case Failed:
		return "Failed"
	default:
		return "Unknown"
	}
}

// EdgeKind names why an edge was added. Only RAW and WAR edges are
// ever produced by the analyser described in spec §4.2 — see
// DESIGN.md for why a pure-write task with no intervening reader is
// not linked to the prior writer (faithfully reproduced from the
// source's algorithm, not a gap introduced here).
type EdgeKind int

const (
	RAW EdgeKind = iota
	WAR
)

func (k EdgeKind) String() string {
	if k == RAW {
		return "RAW"
	}
	return "WAR"
}

// Arg is one declared task argument: a tile-granular view plus the
// access mode it was declared with.
type Arg struct {
	View tile.View
}

// Task is one vertex of the dependency graph.
type Task struct {
	ID       TaskID
	Kernel   kernel.Kernel
	Args     []Arg

	mu             sync.Mutex
	kernelID       string
	status         Status
	pendingDeps    int64
	predecessors   []TaskID
	successors     []TaskID
	assignedWorker int
	failErr        error

	Cost time.Duration

	bound []kernel.ArgBuffer
}

func newTask(id TaskID, kernelID string, k kernel.Kernel, args []Arg) *Task {
	return &Task{
		ID:       id,
		kernelID: kernelID,
		Kernel:   k,
		Args:     args,
		status:   NotReady,
	}
}

// Status returns the task's current lifecycle status.
func (t *Task) Status() Status {
	t.mu.Lock()
	defer t.mu.Unlock()
	return t.status
}

// Start transitions a Queued task to Running; called by a worker
// immediately before it invokes the kernel.
func (t *Task) Start() {
	t.setStatus(Running)
}

func (t *Task) setStatus(s Status) {
	t.mu.Lock()
	t.status = s
	t.mu.Unlock()
}

// PendingDeps returns the current count of not-yet-Done predecessors.
func (t *Task) PendingDeps() int64 {
	return atomic.LoadInt64(&t.pendingDeps)
}

// Predecessors and Successors return snapshots of the adjacency
// lists, safe to call concurrently with graph mutation.
func (t *Task) Predecessors() []TaskID {
	t.mu.Lock()
	defer t.mu.Unlock()
	out := make([]TaskID, len(t.predecessors))
	copy(out, t.predecessors)
	return out
}

func (t *Task) Successors() []TaskID {
	t.mu.Lock()
	defer t.mu.Unlock()
	out := make([]TaskID, len(t.successors))
	copy(out, t.successors)
	return out
}

// AssignedWorker returns the worker id that ran (or will run) this task.
func (t *Task) AssignedWorker() int {
	t.mu.Lock()
	defer t.mu.Unlock()
	return t.assignedWorker
}

// SetAssignedWorker records which worker a task was dispatched to.
func (t *Task) SetAssignedWorker(w int) {
	t.mu.Lock()
	t.assignedWorker = w
	t.mu.Unlock()
}

// FailErr returns the error that caused this task to be marked
// Failed, if any.
func (t *Task) FailErr() error {
	t.mu.Lock()
	defer t.mu.Unlock()
	return t.failErr
}

// SetBoundArgs records the resolved operand buffers the worker staged
// for this task's arguments, in declaration order (spec §4.5 step 2).
func (t *Task) SetBoundArgs(bufs []kernel.ArgBuffer) {
	t.mu.Lock()
	t.bound = bufs
	t.mu.Unlock()
}

// KernelID implements kernel.Descriptor.
func (t *Task) KernelID() string { return t.kernelID }

// ArgBuffers implements kernel.Descriptor.
func (t *Task) ArgBuffers() []kernel.ArgBuffer {
	t.mu.Lock()
	defer t.mu.Unlock()
	return t.bound
}
