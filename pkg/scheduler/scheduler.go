// Package scheduler assigns ready tasks to workers. Worker 0 is
// reserved for session coordination and is never assigned a task
// (spec §5, grounded on the source's worker-0-submits convention);
// workers 1..N-1 are the compute pool.
//
// Each compute worker owns a FIFO queue guarded by its own mutex and
// condition variable rather than the teacher's buffered channel,
// because the push onto a queue and the matching update of that
// worker's expected-finish accumulator must happen under one lock — a
// channel send can't be made consistent with a separate piece of
// shared state without the same lock anyway, so the explicit
// mutex+cond says directly what is being protected. The choice of
// worker reads each queue's accumulator under that queue's lock, one
// queue at a time, so concurrent Enqueue calls may each choose from
// values the other is about to change.
package scheduler

import (
	"strconv"
	"sync"
	"time"

	"github.com/khryptorgraphics/tilerun/internal/metrics"
	"github.com/khryptorgraphics/tilerun/pkg/costmodel"
	"github.com/khryptorgraphics/tilerun/pkg/graph"
)

// workerQueue is one compute worker's pending-task FIFO.
type workerQueue struct {
	mu       sync.Mutex
	cond     *sync.Cond
	tasks    []*graph.Task
	closed   bool
	expected time.Duration
}

func newWorkerQueue() *workerQueue {
	q := &workerQueue{}
	q.cond = sync.NewCond(&q.mu)
	return q
}

func (q *workerQueue) push(t *graph.Task, cost time.Duration) {
	q.mu.Lock()
	q.tasks = append(q.tasks, t)
	q.expected += cost
	q.cond.Signal()
	q.mu.Unlock()
}

// pop blocks until a task is available or the queue is closed.
func (q *workerQueue) pop() (*graph.Task, bool) {
	q.mu.Lock()
	defer q.mu.Unlock()
	for len(q.tasks) == 0 && !q.closed {
		q.cond.Wait()
	}
	if len(q.tasks) == 0 {
		return nil, false
	}
	t := q.tasks[0]
	q.tasks = q.tasks[1:]
	return t, true
}

func (q *workerQueue) close() {
	q.mu.Lock()
	q.closed = true
	q.cond.Broadcast()
	q.mu.Unlock()
}

func (q *workerQueue) depth() int {
	q.mu.Lock()
	defer q.mu.Unlock()
	return len(q.tasks)
}

// Scheduler ranks and assigns ready tasks to compute workers by
// expected finish time (spec §5: "assign to the worker with the
// lowest expected_finish[w] + estimated_cost(task, w)", lowest worker
// id breaking ties).
type Scheduler struct {
	model   *costmodel.Model
	infos   []costmodel.WorkerInfo // index 0 unused (coordinator)
	queues  []*workerQueue          // index 0 unused (coordinator)
	metrics *metrics.Metrics
}

// New builds a scheduler for workerCount workers (including worker 0,
// the coordinator) using model to estimate cost and infos to describe
// each compute worker's device. len(infos) must equal workerCount;
// infos[0] is ignored.
func New(model *costmodel.Model, infos []costmodel.WorkerInfo, m *metrics.Metrics) *Scheduler {
	s := &Scheduler{
		model:   model,
		infos:   infos,
		queues:  make([]*workerQueue, len(infos)),
		metrics: m,
	}
	for i := 1; i < len(infos); i++ {
		s.queues[i] = newWorkerQueue()
	}
	return s
}

// Enqueue assigns t to the compute worker expected to finish it
// earliest and pushes it onto that worker's queue. Returns the chosen
// worker id.
func (s *Scheduler) Enqueue(t *graph.Task) int {
	best := -1
	var bestFinish time.Duration
	var bestCost time.Duration

	for w := 1; w < len(s.queues); w++ {
		cost := s.model.EstimateTask(t, s.infos[w])
		s.queues[w].mu.Lock()
		finish := s.queues[w].expected + cost
		s.queues[w].mu.Unlock()

		if best == -1 || finish < bestFinish {
			best = w
			bestFinish = finish
			bestCost = cost
		}
	}

	s.queues[best].push(t, bestCost)
	t.SetAssignedWorker(best)
	if s.metrics != nil {
		s.metrics.TaskScheduled()
		s.metrics.SetQueueDepth(strconv.Itoa(best), s.queues[best].depth())
	}
	return best
}

// Pop blocks worker id until a task is ready for it, or the scheduler
// has been stopped.
func (s *Scheduler) Pop(worker int) (*graph.Task, bool) {
	t, ok := s.queues[worker].pop()
	if ok && s.metrics != nil {
		s.metrics.SetQueueDepth(strconv.Itoa(worker), s.queues[worker].depth())
	}
	return t, ok
}

// Stop releases every blocked Pop call; call once no more tasks will
// ever be enqueued (spec §4.7's drain-then-join sequence).
func (s *Scheduler) Stop() {
	for w := 1; w < len(s.queues); w++ {
		s.queues[w].close()
	}
}

// QueueDepth reports worker's current backlog, for metrics/tests.
func (s *Scheduler) QueueDepth(worker int) int {
	return s.queues[worker].depth()
}
