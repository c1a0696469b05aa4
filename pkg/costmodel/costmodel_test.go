package costmodel

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/khryptorgraphics/tilerun/pkg/coherence"
	"github.com/khryptorgraphics/tilerun/pkg/graph"
	"github.com/khryptorgraphics/tilerun/pkg/kernel"
	"github.com/khryptorgraphics/tilerun/pkg/tile"
)

type fakeTuner struct {
	compute  time.Duration
	transfer time.Duration
}

func (f fakeTuner) ComputeSeconds(string, tile.ElementType, DeviceKind, int64) time.Duration {
	return f.compute
}
func (f fakeTuner) TransferSeconds(string, int64) time.Duration { return f.transfer }

func TestEstimateTaskAddsTransferOnlyWhenNotResident(t *testing.T) {
	base := tile.NewBaseMatrix(0, 1, 1, 4, tile.Float64)
	k := kernel.Func{IDValue: "gemm", Fn: func(kernel.Descriptor) error { return nil }}
	g := graph.New()
	task, err := g.Submit("gemm", k, []graph.Arg{{View: tile.Single(base, 0, 0, tile.Read)}})
	require.NoError(t, err)

	m := New(fakeTuner{compute: 5 * time.Millisecond, transfer: 2 * time.Millisecond})

	// Not resident on device 1 yet: pays transfer + compute.
	cost := m.EstimateTask(task, WorkerInfo{DeviceID: 1, Kind: "gpu", HostLink: "host-gpu1"})
	assert.Equal(t, 7*time.Millisecond, cost)

	// Resident on the host (tile.NewBaseMatrix starts every tile there).
	cost = m.EstimateTask(task, WorkerInfo{DeviceID: coherence.Host, Kind: "cpu", HostLink: "host-host"})
	assert.Equal(t, 5*time.Millisecond, cost)
}
