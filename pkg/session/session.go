// Package session implements the session controller (spec §4.7): the
// single constructed runtime value an embedding application talks to.
// It owns the task graph, the scheduler, and the worker pool, and
// drives the Recording ↔ Draining state machine that batches task
// submission before exposing work to workers.
package session

import (
	"context"
	"fmt"
	"io"
	"sync"

	"github.com/rs/zerolog"
	"golang.org/x/sync/errgroup"

	"github.com/khryptorgraphics/tilerun/internal/config"
	"github.com/khryptorgraphics/tilerun/internal/logging"
	"github.com/khryptorgraphics/tilerun/internal/metrics"
	"github.com/khryptorgraphics/tilerun/internal/rterrors"
	"github.com/khryptorgraphics/tilerun/pkg/autotune"
	"github.com/khryptorgraphics/tilerun/pkg/coherence"
	"github.com/khryptorgraphics/tilerun/pkg/costmodel"
	"github.com/khryptorgraphics/tilerun/pkg/devicecache"
	"github.com/khryptorgraphics/tilerun/pkg/graph"
	"github.com/khryptorgraphics/tilerun/pkg/kernel"
	"github.com/khryptorgraphics/tilerun/pkg/scheduler"
	"github.com/khryptorgraphics/tilerun/pkg/tile"
	"github.com/khryptorgraphics/tilerun/pkg/worker"
)

const component = "session"

// State is the controller's position in the Recording ↔ Draining
// state machine.
type State int

const (
	// Recording accepts submissions; zero-dependency tasks are built
	// into the graph but deliberately left NotReady.
	Recording State = iota
	// Draining has handed every ready task to the scheduler and waits
	// for workers to finish them.
	Draining
)

func (s State) String() string {
	if s == Recording {
		return "Recording"
	}
	return "Draining"
}

// DeviceSpec describes one non-host compute device to provision a
// worker and device cache for.
type DeviceSpec struct {
	ID        int
	Kind      costmodel.DeviceKind
	HostLink  string
	ToDevice  devicecache.Transport
	ToHost    devicecache.Transport
}

// Controller is the runtime's single constructed value (Design Notes
// §9: no package-level singleton — every entry point hangs off this).
type Controller struct {
	mu    sync.Mutex
	state State

	graph   *graph.Graph
	sched   *scheduler.Scheduler
	mat     *worker.Materialiser
	workers []*worker.Worker
	metrics *metrics.Metrics
	log     zerolog.Logger

	ctx    context.Context
	cancel context.CancelFunc
	group  *errgroup.Group
}

// New is init(): it builds the cost model, autotuner, device caches,
// scheduler, and worker pool: cfg.Runtime.WorkerCount compute workers
// plus worker 0, reserved as coordinator. The first WorkerCount entries
// of devices each get a compute worker and a device cache; entries
// beyond that are ignored, and the remaining compute workers run on
// the host.
func New(cfg *config.Config, devices []DeviceSpec) (*Controller, error) {
	if err := cfg.Validate(); err != nil {
		return nil, rterrors.New(component, rterrors.KindAPIMisuse, "New", err)
	}

	log := logging.New(logging.Config{
		Level:       cfg.Logging.Level,
		Format:      logging.Format(cfg.Logging.Format),
		ServiceName: "tilerun",
	})

	var m *metrics.Metrics
	if cfg.Metrics.Enabled {
		m = metrics.New()
	}

	tuner := autotune.New(cfg.Autotune)
	model := costmodel.New(tuner)

	workerCount := cfg.Runtime.WorkerCount + 1 // +1 for the reserved coordinator slot
	infos := make([]costmodel.WorkerInfo, workerCount)
	infos[0] = costmodel.WorkerInfo{DeviceID: coherence.Host, Kind: "coordinator"}

	lineSize := cfg.Runtime.TileSide * cfg.Runtime.TileSide * tile.Float64.Size()

	mat := worker.NewMaterialiser(m)
	for i, d := range devices {
		if i+1 >= workerCount {
			break
		}
		infos[i+1] = costmodel.WorkerInfo{DeviceID: d.ID, Kind: d.Kind, HostLink: d.HostLink}
		mat.Register(d.ID, devicecache.New(fmt.Sprintf("device%d", d.ID), cfg.Cache.SlotsPerDevice, lineSize, d.ToDevice, d.ToHost))
	}
	for i := len(devices) + 1; i < workerCount; i++ {
		infos[i] = costmodel.WorkerInfo{DeviceID: coherence.Host, Kind: "cpu", HostLink: "host"}
	}

	g := graph.New()
	sched := scheduler.New(model, infos, m)

	c := &Controller{
		state:   Recording,
		graph:   g,
		sched:   sched,
		mat:     mat,
		metrics: m,
		log:     log,
	}

	for w := 1; w < workerCount; w++ {
		c.workers = append(c.workers, worker.New(w, infos[w], mat, sched, g, m, log))
	}

	return c, nil
}

// Init starts the worker pool (spec §6: init(worker_count)).
func (c *Controller) Init(ctx context.Context) {
	c.ctx, c.cancel = context.WithCancel(ctx)
	group, gctx := errgroup.WithContext(c.ctx)
	c.group = group
	for _, w := range c.workers {
		w := w
		group.Go(func() error {
			w.Run(gctx)
			return nil
		})
	}
}

// Submit creates a task, runs dependency analysis, and — per §4.7 —
// leaves it NotReady if the controller is currently Recording, even
// if it has no predecessors.
func (c *Controller) Submit(kernelID string, k kernel.Kernel, args []tile.View) (*graph.Task, error) {
	gargs := make([]graph.Arg, len(args))
	for i, v := range args {
		gargs[i] = graph.Arg{View: v}
	}
	t, err := c.graph.Submit(kernelID, k, gargs)
	if err != nil {
		return nil, err
	}

	c.mu.Lock()
	state := c.state
	c.mu.Unlock()
	if state == Draining && c.graph.MarkReadyIfZeroDeps(t) {
		c.enqueueReady([]*graph.Task{t})
	}
	return t, nil
}

// QueueBegin reopens the recording phase. A no-op if already
// Recording (spec §8: "queue_begin after queue_end with no
// intermediate submissions is a no-op").
func (c *Controller) QueueBegin() {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.state = Recording
}

// QueueEnd closes the current batch: every NotReady task whose
// pending-dep count is already zero is handed to the scheduler, and
// the controller moves to Draining.
func (c *Controller) QueueEnd() {
	c.mu.Lock()
	c.state = Draining
	c.mu.Unlock()

	ready := c.graph.DrainReady()
	c.enqueueReady(ready)
}

func (c *Controller) enqueueReady(ready []*graph.Task) {
	for _, t := range ready {
		c.sched.Enqueue(t)
	}
}

// Term is term(): stop accepting new work, wait for every worker to
// drain its queue, join the worker goroutines, and write the final
// graph to w in DOT form.
func (c *Controller) Term(w io.Writer) error {
	c.sched.Stop()
	var waitErr error
	if c.group != nil {
		waitErr = c.group.Wait()
	}
	if c.cancel != nil {
		c.cancel()
	}
	if waitErr != nil {
		return rterrors.New(component, rterrors.KindInvariant, "Term", waitErr)
	}
	if err := c.mat.FlushAll(); err != nil {
		return rterrors.New(component, rterrors.KindInvariant, "Term", err)
	}
	if w != nil {
		return c.graph.WriteDOT(w)
	}
	return nil
}

// State reports the controller's current lifecycle state, mostly for
// tests and diagnostics.
func (c *Controller) State() State {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.state
}

// Graph exposes the underlying task graph for introspection.
func (c *Controller) Graph() *graph.Graph { return c.graph }
