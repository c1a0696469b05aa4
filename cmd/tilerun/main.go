// Command tilerun drives the blocked-Cholesky demo end to end: build a
// diagonally dominant tile matrix, submit the full task graph, drain
// it through the worker pool, and emit the resulting task graph as
// Graphviz DOT.
package main

import (
	"context"
	"fmt"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/spf13/cobra"

	"github.com/khryptorgraphics/tilerun/internal/config"
	"github.com/khryptorgraphics/tilerun/internal/demo"
	"github.com/khryptorgraphics/tilerun/pkg/costmodel"
	"github.com/khryptorgraphics/tilerun/pkg/graph"
	"github.com/khryptorgraphics/tilerun/pkg/session"
	"github.com/khryptorgraphics/tilerun/pkg/tile"
)

var (
	cfgFile string
	version = "dev"
)

func main() {
	rootCmd := &cobra.Command{
		Use:     "tilerun",
		Short:   "Tiled-matrix task-parallel runtime",
		Version: version,
	}
	rootCmd.PersistentFlags().StringVar(&cfgFile, "config", "", "config file (YAML)")
	rootCmd.AddCommand(runCmd())

	if err := rootCmd.Execute(); err != nil {
		fmt.Fprintln(os.Stderr, err)
		os.Exit(1)
	}
}

func runCmd() *cobra.Command {
	var (
		tiles   int
		gpus    int
		dotPath string
	)
	cmd := &cobra.Command{
		Use:   "run",
		Short: "Run the blocked-Cholesky demo over an n×n tile grid",
		RunE: func(cmd *cobra.Command, args []string) error {
			return runDemo(cfgFile, tiles, gpus, dotPath)
		},
	}
	cmd.Flags().IntVar(&tiles, "tiles", 4, "tile grid side length")
	cmd.Flags().IntVar(&gpus, "gpus", 1, "number of simulated GPU devices")
	cmd.Flags().StringVar(&dotPath, "dot", "", "write the final task graph as DOT to this path (default stdout)")
	return cmd
}

func runDemo(cfgPath string, tiles, gpus int, dotPath string) error {
	cfg, err := config.Load(cfgPath)
	if err != nil {
		return fmt.Errorf("load config: %w", err)
	}

	devices := make([]session.DeviceSpec, gpus)
	byteCopy := func(dst, src []byte) { copy(dst, src) }
	for i := 0; i < gpus; i++ {
		devices[i] = session.DeviceSpec{
			ID:       i + 1,
			Kind:     costmodel.DeviceKind("gpu"),
			HostLink: fmt.Sprintf("host-gpu%d", i),
			ToDevice: byteCopy,
			ToHost:   byteCopy,
		}
	}

	ctrl, err := session.New(cfg, devices)
	if err != nil {
		return fmt.Errorf("new session: %w", err)
	}

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	sigCh := make(chan os.Signal, 1)
	signal.Notify(sigCh, syscall.SIGINT, syscall.SIGTERM)
	go func() {
		<-sigCh
		cancel()
	}()

	ctrl.Init(ctx)

	base := tile.NewBaseMatrix(0, tiles, tiles, cfg.Runtime.TileSide, tile.Float64)
	demo.SeedDiagonalDominant(base)

	tasks, err := demo.BuildCholesky(ctrl, base)
	if err != nil {
		return fmt.Errorf("build cholesky graph: %w", err)
	}
	ctrl.QueueEnd()

	for {
		done := true
		for _, t := range tasks {
			if t.Status() != graph.Done {
				done = false
				break
			}
		}
		if done {
			break
		}
		select {
		case <-ctx.Done():
			return ctx.Err()
		case <-time.After(cfg.Runtime.PollInterval):
		}
	}

	var out *os.File
	if dotPath == "" {
		out = os.Stdout
	} else {
		out, err = os.Create(dotPath)
		if err != nil {
			return fmt.Errorf("create dot file: %w", err)
		}
		defer out.Close()
	}

	return ctrl.Term(out)
}
