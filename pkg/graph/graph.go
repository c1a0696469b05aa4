package graph

import (
	"fmt"
	"sync"
	"sync/atomic"

	"github.com/khryptorgraphics/tilerun/internal/rterrors"
	"github.com/khryptorgraphics/tilerun/pkg/kernel"
)

const component = "graph"

// edge is one recorded dependency, kept only for introspection and
// DOT export; scheduling walks Task.predecessors/successors directly.
type edge struct {
	From TaskID
	To   TaskID
	Kind EdgeKind
}

// Graph is the task-graph builder described in spec §3-§4: a set of
// tasks connected by RAW/WAR edges derived from their tile arguments.
// A single mutex serialises graph mutation (Design Notes §9: task
// submission is expected to be dominated by kernel execution time,
// not graph-building time, so a coarse lock is the right tradeoff
// over finer-grained per-tile locking).
type Graph struct {
	mu       sync.Mutex
	nextID   int64
	vertices map[TaskID]*Task
	edges    []edge
	tracker  *tileTracker
}

// New creates an empty graph.
func New() *Graph {
	return &Graph{
		vertices: make(map[TaskID]*Task),
		tracker:  newTileTracker(),
	}
}

// Task looks up a task by id.
func (g *Graph) Task(id TaskID) (*Task, bool) {
	g.mu.Lock()
	defer g.mu.Unlock()
	t, ok := g.vertices[id]
	return t, ok
}

// Len returns the number of tasks ever submitted to this graph.
func (g *Graph) Len() int {
	g.mu.Lock()
	defer g.mu.Unlock()
	return len(g.vertices)
}

// Submit creates a new task for kernelID/k over args, runs the
// dependency analyser against every tile the arguments cover, and
// returns the new task. Submission order determines id order, and id
// order is what guarantees the resulting graph is acyclic: every edge
// added below connects an existing (lower-id) task to the task being
// created now.
func (g *Graph) Submit(kernelID string, k kernel.Kernel, args []Arg) (*Task, error) {
	for i, a := range args {
		if err := a.View.Validate(); err != nil {
			return nil, rterrors.New(component, rterrors.KindAPIMisuse,
				"Submit", fmt.Errorf("argument %d: %w", i, err))
		}
	}

	g.mu.Lock()
	defer g.mu.Unlock()

	id := TaskID(atomic.AddInt64(&g.nextID, 1) - 1)
	t := newTask(id, kernelID, k, args)

	for _, a := range args {
		for _, idx := range a.View.TileIndices() {
			g.analyseOne(tileKey{Base: a.View.Base.ID(), Tile: idx}, a.View.Mode, t)
		}
	}

	g.vertices[id] = t
	return t, nil
}

// MarkReadyIfZeroDeps transitions t from NotReady to Queued if it has
// no pending dependencies, returning whether it did. Used by the
// session controller when a task is submitted while already Draining
// (spec §4.7: submissions mid-drain should not wait for the next
// queue_end to be scheduled).
func (g *Graph) MarkReadyIfZeroDeps(t *Task) bool {
	t.mu.Lock()
	defer t.mu.Unlock()
	if t.status == NotReady && t.pendingDeps == 0 {
		t.status = Queued
		return true
	}
	return false
}

// DrainReady walks every task and transitions any NotReady task whose
// pending-dep count is already zero to Queued, returning the set that
// became ready. This is the session controller's queue_end step (spec
// §4.7): during recording a zero-dependency task is deliberately left
// NotReady so nothing escapes to a worker until the batch is closed.
func (g *Graph) DrainReady() []*Task {
	g.mu.Lock()
	defer g.mu.Unlock()

	var ready []*Task
	for _, t := range g.vertices {
		t.mu.Lock()
		if t.status == NotReady && t.pendingDeps == 0 {
			t.status = Queued
			ready = append(ready, t)
		}
		t.mu.Unlock()
	}
	return ready
}

// analyseOne applies the dependency-analysis step (spec §4.2) for one
// tile touched by task t, grounded on cj_Task_dependency_analysis's
// two-phase read-then-write handling of set_r/set_w.
func (g *Graph) analyseOne(key tileKey, mode AccessModeLike, t *Task) {
	st := g.tracker.stateFor(key)
	st.mu.Lock()
	defer st.mu.Unlock()

	if mode.Reads() {
		if st.hasW && st.writer != t.ID {
			g.addEdge(st.writer, t, RAW)
		}
		st.readers = append(st.readers, t.ID)
	}

	if mode.Writes() {
		for _, r := range st.readers {
			if r != t.ID {
				g.addEdge(r, t, WAR)
			}
		}
		st.readers = st.readers[:0]
		st.writer = t.ID
		st.hasW = true
	}
}

// addEdge links an existing predecessor task to the newly created
// successor, locking predecessor before successor (ids increase
// monotonically, so this order is consistent across all callers and
// cannot deadlock).
func (g *Graph) addEdge(from TaskID, to *Task, kind EdgeKind) {
	pred := g.vertices[from]

	pred.mu.Lock()
	predDone := pred.status == Done
	pred.successors = append(pred.successors, to.ID)
	pred.mu.Unlock()

	to.mu.Lock()
	to.predecessors = append(to.predecessors, from)
	if !predDone {
		to.pendingDeps++
	}
	to.mu.Unlock()

	g.edges = append(g.edges, edge{From: from, To: to.ID, Kind: kind})
}

// CompleteTask marks t Done, decrements every successor's pending-dep
// counter, and returns the successors that became ready as a result
// (spec §4.5 step 5, the "unblock" half of completion). A successor
// whose pending count would go negative is a bug in the graph builder
// and is treated as fatal (spec §7, invariant violation).
func (g *Graph) CompleteTask(t *Task) []*Task {
	t.setStatus(Done)

	var ready []*Task
	for _, sid := range t.Successors() {
		g.mu.Lock()
		s, ok := g.vertices[sid]
		g.mu.Unlock()
		if !ok {
			continue
		}
		remaining := atomic.AddInt64(&s.pendingDeps, -1)
		if remaining < 0 {
			rterrors.Fatal(component, "CompleteTask",
				fmt.Errorf("task %d: pending-dep count went negative", s.ID))
		}
		if remaining == 0 {
			s.setStatus(Queued)
			ready = append(ready, s)
		}
	}
	return ready
}

// FailTask marks t Failed and transitively fails every task reachable
// from it that has not already finished, without enqueueing any of
// them (spec §6, failure propagation).
func (g *Graph) FailTask(t *Task, cause error) []*Task {
	t.mu.Lock()
	t.status = Failed
	t.failErr = cause
	t.mu.Unlock()

	var failed []*Task
	queue := t.Successors()
	seen := map[TaskID]bool{t.ID: true}
	for len(queue) > 0 {
		id := queue[0]
		queue = queue[1:]
		if seen[id] {
			continue
		}
		seen[id] = true

		g.mu.Lock()
		s, ok := g.vertices[id]
		g.mu.Unlock()
		if !ok {
			continue
		}

		s.mu.Lock()
		already := s.status == Done || s.status == Failed
		if !already {
			s.status = Failed
			s.failErr = fmt.Errorf("predecessor task %d failed: %w", t.ID, cause)
		}
		succ := append([]TaskID(nil), s.successors...)
		s.mu.Unlock()

		if !already {
			failed = append(failed, s)
		}
		queue = append(queue, succ...)
	}
	return failed
}

// AccessModeLike is the minimal view of a tile access mode the
// analyser needs; pkg/tile.AccessMode satisfies it directly.
type AccessModeLike interface {
	Reads() bool
	Writes() bool
}
