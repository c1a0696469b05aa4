// Package autotune provides the default costmodel.Autotuner: a static
// coefficient table loaded from configuration rather than measured at
// runtime (spec §4.4's "autotuner is an externally supplied
// constant-coefficient map", Open Question resolved in SPEC_FULL.md).
package autotune

import (
	"fmt"
	"time"

	"github.com/khryptorgraphics/tilerun/internal/config"
	"github.com/khryptorgraphics/tilerun/pkg/costmodel"
	"github.com/khryptorgraphics/tilerun/pkg/tile"
)

// StaticAutotuner answers cost-model queries from a fixed table of
// per-(kernel,device-kind) throughput and per-link bandwidth
// coefficients, both expressed in bytes/second.
type StaticAutotuner struct {
	computeBytesPerSecond map[string]float64
	linkBytesPerSecond    map[string]float64
	fallbackCompute       float64
}

// New builds a StaticAutotuner from cfg. Compute coefficients are
// keyed "kernelID@elemType@deviceKind" (spec §4.3: the coefficient
// varies by element type as well as kernel and device kind — e.g.
// spotrf_ vs dpotrf_ single/double precision throughput differ);
// entries missing an element-type/device-kind-specific coefficient
// fall back to a generic per-kernel default tried under just the
// kernel id, then to 1 GB/s.
func New(cfg config.AutotuneConfig) *StaticAutotuner {
	return &StaticAutotuner{
		computeBytesPerSecond: cfg.ComputeSeconds,
		linkBytesPerSecond:    cfg.LinkBandwidth,
		fallbackCompute:       1e9,
	}
}

func computeKey(kernelID string, elemType tile.ElementType, kind costmodel.DeviceKind) string {
	return fmt.Sprintf("%s@%s@%s", kernelID, elemType, kind)
}

// ComputeSeconds implements costmodel.Autotuner.
func (a *StaticAutotuner) ComputeSeconds(kernelID string, elemType tile.ElementType, kind costmodel.DeviceKind, bytes int64) time.Duration {
	rate, ok := a.computeBytesPerSecond[computeKey(kernelID, elemType, kind)]
	if !ok {
		rate, ok = a.computeBytesPerSecond[kernelID]
	}
	if !ok || rate <= 0 {
		rate = a.fallbackCompute
	}
	return durationFor(bytes, rate)
}

// TransferSeconds implements costmodel.Autotuner.
func (a *StaticAutotuner) TransferSeconds(link string, bytes int64) time.Duration {
	rate, ok := a.linkBytesPerSecond[link]
	if !ok || rate <= 0 {
		rate = a.fallbackCompute
	}
	return durationFor(bytes, rate)
}

func durationFor(bytes int64, bytesPerSecond float64) time.Duration {
	if bytes <= 0 {
		return 0
	}
	seconds := float64(bytes) / bytesPerSecond
	return time.Duration(seconds * float64(time.Second))
}
